package system

import (
	"os"
	"path/filepath"
)

// FindFileInProjectRoot walks up from the working directory until it finds
// a directory containing filename.
func FindFileInProjectRoot(filename string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return findUpwards(dir, filename)
}

func findUpwards(dir, filename string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, filename)); err == nil {
			return dir, nil
		}
		parentDir := filepath.Dir(dir)
		if parentDir == dir { // reached the filesystem root
			break
		}
		dir = parentDir
	}
	return "", os.ErrNotExist
}
