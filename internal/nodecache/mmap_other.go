//go:build !unix

package nodecache

import "fmt"

// MmapCache is unavailable on this platform; use the file backend.
type MmapCache struct {
	*FileCache
}

// Open reports that memory-mapped caches are not supported here.
func Open(path string, opts ...Option) (*MmapCache, error) {
	return nil, fmt.Errorf("%w: mmap backend not supported on this platform", ErrInvalidOption)
}
