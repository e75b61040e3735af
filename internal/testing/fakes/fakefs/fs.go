// Package fakefs provides an in-memory FileSystem implementation for testing.
package fakefs

import (
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/acolita/ptyexec/internal/ports"
)

// FS is an in-memory filesystem for testing.
type FS struct {
	mu      sync.RWMutex
	files   map[string]fakeFile
	dirs    map[string]bool
	homeDir string
	env     map[string]string
}

type fakeFile struct {
	data []byte
	mode fs.FileMode
}

// New creates a new in-memory filesystem.
func New() *FS {
	return &FS{
		files:   make(map[string]fakeFile),
		dirs:    map[string]bool{"/": true},
		homeDir: "/home/test",
		env:     make(map[string]string),
	}
}

// ReadFile reads the named file and returns its contents.
func (f *FS) ReadFile(name string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	name = filepath.Clean(name)
	file, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), file.data...), nil
}

// WriteFile writes data to the named file. The parent directory must exist,
// as with os.WriteFile.
func (f *FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	if !f.dirs[filepath.Dir(name)] {
		return &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	f.files[name] = fakeFile{data: append([]byte(nil), data...), mode: perm}
	return nil
}

// MkdirAll creates a directory and all parent directories.
func (f *FS) MkdirAll(path string, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for p := filepath.Clean(path); !f.dirs[p]; p = filepath.Dir(p) {
		f.dirs[p] = true
	}
	return nil
}

// UserHomeDir returns the configured home directory.
func (f *FS) UserHomeDir() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.homeDir, nil
}

// Getenv returns the value set with SetEnv.
func (f *FS) Getenv(key string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.env[key]
}

// AddFile stores a file, creating its parent directories.
func (f *FS) AddFile(name string, data []byte, perm fs.FileMode) {
	f.MkdirAll(filepath.Dir(name), 0o755)
	f.WriteFile(name, data, perm)
}

// SetHomeDir sets the directory returned by UserHomeDir.
func (f *FS) SetHomeDir(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.homeDir = dir
}

// SetEnv sets an environment variable.
func (f *FS) SetEnv(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.env[key] = value
}

// Mode returns the permissions a file was written with.
func (f *FS) Mode(name string) (fs.FileMode, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	file, ok := f.files[filepath.Clean(name)]
	return file.mode, ok
}

// Exists reports whether a file or directory exists.
func (f *FS) Exists(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	name = filepath.Clean(name)
	_, ok := f.files[name]
	return ok || f.dirs[name]
}

var _ ports.FileSystem = (*FS)(nil)
