//go:build !unix || tinygo

package shmem

// Map is unavailable without mmap; use New or FromWords instead
func Map(path string, size int) (*Region, error) {
	return nil, ErrMapUnsupported
}
