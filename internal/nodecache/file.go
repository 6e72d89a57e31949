package nodecache

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// FileCache is a node cache using positional reads and writes on a sparse
// file. It needs no address space for the cache, at the cost of one system
// call per record.
type FileCache struct {
	path     string
	width    int
	readOnly bool
	f        *os.File
}

// OpenFile opens or creates a file-backed cache at path.
func OpenFile(path string, opts ...Option) (*FileCache, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	flag := os.O_RDWR | os.O_CREATE
	if o.readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrCacheIO, path, err)
	}
	return &FileCache{path: path, width: o.width, readOnly: o.readOnly, f: f}, nil
}

// RecordWidth returns the record width in bytes.
func (c *FileCache) RecordWidth() int { return c.width }

// Accessor returns a new accessor.
func (c *FileCache) Accessor() Accessor {
	return &fileAccessor{c: c, buf: make([]byte, c.width)}
}

// Advise passes a to the kernel for the whole file.
func (c *FileCache) Advise(a Advice) error {
	if err := fadvise(c.f, a); err != nil {
		return fmt.Errorf("%w: fadvise %s: %v", ErrAdviceUnsupported, a, err)
	}
	return nil
}

// Sync flushes the file to disk.
func (c *FileCache) Sync() error {
	if c.readOnly {
		return nil
	}
	if err := c.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %v", ErrCacheIO, c.path, err)
	}
	return nil
}

// Reset truncates the file to zero length.
func (c *FileCache) Reset() error {
	if c.readOnly {
		return ErrReadOnly
	}
	if err := c.f.Truncate(0); err != nil {
		return fmt.Errorf("%w: truncate %s: %v", ErrCacheIO, c.path, err)
	}
	return nil
}

// Close closes the file.
func (c *FileCache) Close() error {
	if err := c.f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrCacheIO, c.path, err)
	}
	return nil
}

type fileAccessor struct {
	c   *FileCache
	buf []byte
	err error
}

func (a *fileAccessor) Set(id int64, coord Coordinate) error {
	if a.c.readOnly {
		return ErrReadOnly
	}
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeID, id)
	}
	off, ok := recordOffset(id, a.c.width)
	if !ok {
		return fmt.Errorf("%w: node id %d out of addressable range", ErrCacheIO, id)
	}
	encodeRecord(a.buf, coord)
	if _, err := a.c.f.WriteAt(a.buf, off); err != nil {
		return fmt.Errorf("%w: write node %d: %v", ErrCacheIO, id, err)
	}
	return nil
}

func (a *fileAccessor) Get(id int64) Coordinate {
	c, _ := a.Lookup(id)
	return c
}

func (a *fileAccessor) Lookup(id int64) (Coordinate, bool) {
	if a.err != nil {
		return Sentinel, false
	}
	off, ok := recordOffset(id, a.c.width)
	if !ok {
		return Sentinel, false
	}
	n, err := a.c.f.ReadAt(a.buf, off)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Past the end of the file, or a record cut short by it.
			return Sentinel, false
		}
		a.err = fmt.Errorf("%w: read node %d: %v", ErrCacheIO, id, err)
		return Sentinel, false
	}
	return decodeRecord(a.buf[:n])
}

func (a *fileAccessor) Err() error {
	return a.err
}
