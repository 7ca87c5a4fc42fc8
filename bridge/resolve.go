package bridge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrLibraryNotFound is returned when no search directory holds the library file.
var ErrLibraryNotFound = errors.New("native library not found")

// ErrUnsupportedPlatform is returned by the dynamic loader on platforms
// without dlopen support.
var ErrUnsupportedPlatform = errors.New("native library loading not supported on this platform")

// LibraryPathEnv lists extra directories (path-list separated) to search.
const LibraryPathEnv = "TVSERVER_LIBRARY_PATH"

// FileName returns the platform file name for a logical library name.
func FileName(name string) string {
	return fileNameFor(runtime.GOOS, name)
}

func fileNameFor(goos, name string) string {
	switch goos {
	case "darwin", "ios":
		return "lib" + name + ".dylib"
	case "windows":
		return name + ".dll"
	default:
		return "lib" + name + ".so"
	}
}

// SearchDirs returns the directories the dynamic loader checks, in order:
// extra, TVSERVER_LIBRARY_PATH, the platform library path variable and the
// directory holding the running executable.
func SearchDirs(extra []string) []string {
	var dirs []string
	dirs = append(dirs, extra...)
	dirs = append(dirs, filepath.SplitList(os.Getenv(LibraryPathEnv))...)
	switch runtime.GOOS {
	case "darwin":
		dirs = append(dirs, filepath.SplitList(os.Getenv("DYLD_LIBRARY_PATH"))...)
	default:
		dirs = append(dirs, filepath.SplitList(os.Getenv("LD_LIBRARY_PATH"))...)
	}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}

	seen := make(map[string]bool, len(dirs))
	out := dirs[:0]
	for _, d := range dirs {
		d = strings.TrimSpace(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// Resolve finds the library file for name in dirs. A name that already
// points at an existing file is returned unchanged.
func Resolve(name string, dirs []string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			return name, nil
		}
		return "", fmt.Errorf("%w: %s", ErrLibraryNotFound, name)
	}

	fileName := FileName(name)
	for _, dir := range dirs {
		candidate := filepath.Join(dir, fileName)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s (searched: %s)", ErrLibraryNotFound, fileName, strings.Join(dirs, string(os.PathListSeparator)))
}
