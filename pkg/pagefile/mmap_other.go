//go:build !unix

package pagefile

import (
	"io"
	"os"
)

// mapFile loads the whole file into memory where mmap is unavailable
func mapFile(file *os.File, size int64) ([]byte, func() error, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(file, data); err != nil {
		return nil, nil, err
	}
	return data, func() error { return nil }, nil
}
