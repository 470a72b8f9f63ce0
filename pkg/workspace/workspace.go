package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

const rootDirName = ".messagecat"

// DefaultDir is ~/.messagecat, or the working directory if there is no home.
func DefaultDir() string {
	base, err := os.UserHomeDir()
	if err != nil {
		return rootDirName
	}
	return filepath.Join(base, rootDirName)
}

// EnsureDir creates dir (or the default directory when empty) and returns it.
func EnsureDir(dir string) (string, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("unable to create state dir: %w", err)
	}
	return dir, nil
}
