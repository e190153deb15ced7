//go:build unix && !tinygo

package shmem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Map maps size bytes of the file at path into memory with MAP_SHARED, so
// that two processes mapping the same file see one region. The file is
// created and grown as needed; existing contents are preserved.
func Map(path string, size int) (*Region, error) {
	if size <= 0 {
		return nil, ErrRegionTooSmall
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open shared region %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat shared region %s: %w", path, err)
	}
	if st.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, fmt.Errorf("failed to size shared region %s: %w", path, err)
		}
	}

	buf, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to map shared region %s: %w", path, err)
	}

	return &Region{
		buf:   buf,
		unmap: func() error { return unix.Munmap(buf) },
	}, nil
}
