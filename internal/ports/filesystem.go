package ports

import "io/fs"

// FileSystem is the slice of the local filesystem and process environment
// that configuration loading needs.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm fs.FileMode) error
	MkdirAll(path string, perm fs.FileMode) error
	UserHomeDir() (string, error)
	Getenv(key string) string
}
