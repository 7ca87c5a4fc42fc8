//go:build !(darwin || freebsd || linux)

package bridge

// DynamicLoader reports ErrUnsupportedPlatform on this platform.
type DynamicLoader struct {
	dirs []string
}

// NewDynamicLoader creates a loader that always fails on this platform.
func NewDynamicLoader(extraDirs []string) *DynamicLoader {
	return &DynamicLoader{dirs: SearchDirs(extraDirs)}
}

// Load always fails with ErrUnsupportedPlatform.
func (l *DynamicLoader) Load(name string) (Library, error) {
	return nil, ErrUnsupportedPlatform
}
