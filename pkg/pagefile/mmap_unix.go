//go:build unix

package pagefile

import (
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps size bytes of file read-only
func mapFile(file *os.File, size int64) ([]byte, func() error, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return unix.Munmap(data) }, nil
}
