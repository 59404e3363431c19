//go:build !windows

package store

import (
	"os"

	"github.com/google/renameio/v2"
)

// atomicWriteFile writes data to path atomically via a temp-file-then-rename
// in the same directory, so a crash mid-write never leaves a torn JSON file.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
