//go:build darwin || freebsd || linux

package bridge

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// DynamicLoader resolves the library file explicitly and opens it with dlopen.
type DynamicLoader struct {
	dirs []string
}

// NewDynamicLoader creates a loader searching extraDirs before the default
// search directories.
func NewDynamicLoader(extraDirs []string) *DynamicLoader {
	return &DynamicLoader{dirs: SearchDirs(extraDirs)}
}

// Load opens the library and binds StartSymbol.
func (l *DynamicLoader) Load(name string) (Library, error) {
	path, err := Resolve(name, l.dirs)
	if err != nil {
		return nil, err
	}

	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("dlopen %s: %w", path, err)
	}

	sym, err := purego.Dlsym(handle, StartSymbol)
	if err != nil {
		purego.Dlclose(handle)
		return nil, fmt.Errorf("dlsym %s in %s: %w", StartSymbol, path, err)
	}

	lib := &dynamicLibrary{path: path, handle: handle}
	purego.RegisterFunc(&lib.start, sym)
	return lib, nil
}

type dynamicLibrary struct {
	path   string
	handle uintptr
	start  func(cacheDir string)
}

func (d *dynamicLibrary) StartServer(cacheDir string) {
	d.start(cacheDir)
}
