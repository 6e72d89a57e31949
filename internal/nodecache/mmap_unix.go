//go:build unix

package nodecache

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MmapCache is a node cache backed by a memory-mapped sparse file.
//
// The file is divided into pages of pageBytes. A page is mapped the first
// time any accessor touches it; writing to a page beyond the end of the
// file first extends the file with Truncate, which allocates no blocks.
// Accessors keep their own page table and only take mu on a miss.
type MmapCache struct {
	path           string
	width          int
	pageBytes      int64
	recordsPerPage int64
	readOnly       bool
	strictAdvice   bool

	mu      sync.Mutex
	f       *os.File
	size    int64    // file size in bytes
	pages   [][]byte // mapped pages by index, nil if unmapped
	retired [][]byte // superseded short mappings, unmapped on Close
	advice  Advice
	closed  bool
}

// Open opens or creates a memory-mapped cache at path.
func Open(path string, opts ...Option) (*MmapCache, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	osPage := int64(os.Getpagesize())
	records := o.pageSize / int64(o.width)
	records -= records % osPage
	if records < osPage {
		records = osPage
	}

	flag := os.O_RDWR | os.O_CREATE
	if o.readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrCacheIO, path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrCacheIO, path, err)
	}

	return &MmapCache{
		path:           path,
		width:          o.width,
		pageBytes:      records * int64(o.width),
		recordsPerPage: records,
		readOnly:       o.readOnly,
		strictAdvice:   o.strictAdvice,
		f:              f,
		size:           st.Size(),
		advice:         AdviceNormal,
	}, nil
}

// RecordWidth returns the record width in bytes.
func (c *MmapCache) RecordWidth() int { return c.width }

// PageBytes returns the size of one mapped page.
func (c *MmapCache) PageBytes() int64 { return c.pageBytes }

// Size returns the current size of the backing file.
func (c *MmapCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Accessor returns a new accessor.
func (c *MmapCache) Accessor() Accessor {
	return &mmapAccessor{c: c}
}

// mapPage returns page idx, mapping it if needed. With grow set the file
// is extended to cover the whole page; otherwise a page past the end of
// the file returns nil, and a page partially past it is mapped up to the
// end of the file only.
func (c *MmapCache) mapPage(idx int64, grow bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: cache closed", ErrCacheIO)
	}
	if idx < int64(len(c.pages)) && c.pages[idx] != nil {
		if !grow || int64(len(c.pages[idx])) == c.pageBytes {
			return c.pages[idx], nil
		}
	}

	start := idx * c.pageBytes
	end := start + c.pageBytes
	if end > c.size {
		if !grow {
			if start >= c.size {
				return nil, nil
			}
			end = c.size
		} else {
			if err := c.f.Truncate(end); err != nil {
				return nil, fmt.Errorf("%w: grow %s to %d bytes: %v", ErrCacheIO, c.path, end, err)
			}
			c.size = end
		}
	}

	prot := unix.PROT_READ
	if !c.readOnly {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(c.f.Fd()), start, int(end-start), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap page %d of %s: %v", ErrCacheIO, idx, c.path, err)
	}
	if err := madvise(data, madviseFlag(c.advice)); err != nil && c.strictAdvice {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("%w: madvise %s on page %d: %v", ErrAdviceUnsupported, c.advice, idx, err)
	}

	for int64(len(c.pages)) <= idx {
		c.pages = append(c.pages, nil)
	}
	if old := c.pages[idx]; old != nil {
		// A short read-mapping superseded by a full one. Accessors may
		// still hold the old slice, so it stays mapped until Close.
		c.retired = append(c.retired, old)
	}
	c.pages[idx] = data
	return data, nil
}

// Advise applies a to every mapped page and to pages mapped later.
func (c *MmapCache) Advise(a Advice) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advice = a
	for idx, p := range c.pages {
		if p == nil {
			continue
		}
		if err := madvise(p, madviseFlag(a)); err != nil {
			return fmt.Errorf("%w: madvise %s on page %d: %v", ErrAdviceUnsupported, a, idx, err)
		}
	}
	return nil
}

// Sync flushes every mapped page to the file.
func (c *MmapCache) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readOnly {
		return nil
	}
	for idx, p := range c.pages {
		if p == nil {
			continue
		}
		if err := unix.Msync(p, unix.MS_SYNC); err != nil {
			return fmt.Errorf("%w: msync page %d of %s: %v", ErrCacheIO, idx, c.path, err)
		}
	}
	return nil
}

// Reset unmaps every page and truncates the file to zero length.
func (c *MmapCache) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: cache closed", ErrCacheIO)
	}
	if c.readOnly {
		return ErrReadOnly
	}
	if err := c.unmapAll(); err != nil {
		return err
	}
	if err := c.f.Truncate(0); err != nil {
		return fmt.Errorf("%w: truncate %s: %v", ErrCacheIO, c.path, err)
	}
	c.size = 0
	return nil
}

func (c *MmapCache) unmapAll() error {
	var firstErr error
	for _, p := range append(c.pages, c.retired...) {
		if p == nil {
			continue
		}
		if err := unix.Munmap(p); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: munmap: %v", ErrCacheIO, err)
		}
	}
	c.pages = nil
	c.retired = nil
	return firstErr
}

// Close unmaps every page and closes the file. Accessors must not be used
// afterwards.
func (c *MmapCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	firstErr := c.unmapAll()
	if err := c.f.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: close %s: %v", ErrCacheIO, c.path, err)
	}
	return firstErr
}

// madvise is swapped out in tests to simulate a kernel rejecting a hint.
var madvise = unix.Madvise

func madviseFlag(a Advice) int {
	switch a {
	case AdviceSequential:
		return unix.MADV_SEQUENTIAL
	case AdviceRandom:
		return unix.MADV_RANDOM
	case AdviceWillNeed:
		return unix.MADV_WILLNEED
	case AdviceDontNeed:
		return unix.MADV_DONTNEED
	default:
		return unix.MADV_NORMAL
	}
}

type mmapAccessor struct {
	c     *MmapCache
	pages [][]byte
	err   error
}

// page returns the local copy of page idx, refreshing it from the cache on
// a miss or when a write needs a full page.
func (a *mmapAccessor) page(idx int64, write bool) ([]byte, error) {
	if idx < int64(len(a.pages)) {
		if p := a.pages[idx]; p != nil && (!write || int64(len(p)) == a.c.pageBytes) {
			return p, nil
		}
	}
	p, err := a.c.mapPage(idx, write)
	if err != nil || p == nil {
		return nil, err
	}
	for int64(len(a.pages)) <= idx {
		a.pages = append(a.pages, nil)
	}
	a.pages[idx] = p
	return p, nil
}

func (a *mmapAccessor) locate(id int64) (idx, off int64, ok bool) {
	if _, ok := recordOffset(id, a.c.width); !ok {
		return 0, 0, false
	}
	idx = id / a.c.recordsPerPage
	off = (id % a.c.recordsPerPage) * int64(a.c.width)
	return idx, off, true
}

func (a *mmapAccessor) Set(id int64, coord Coordinate) error {
	if a.c.readOnly {
		return ErrReadOnly
	}
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeID, id)
	}
	idx, off, ok := a.locate(id)
	if !ok {
		return fmt.Errorf("%w: node id %d out of addressable range", ErrCacheIO, id)
	}
	p, err := a.page(idx, true)
	if err != nil {
		return err
	}
	encodeRecord(p[off:off+int64(a.c.width)], coord)
	return nil
}

func (a *mmapAccessor) Get(id int64) Coordinate {
	c, _ := a.Lookup(id)
	return c
}

func (a *mmapAccessor) Lookup(id int64) (Coordinate, bool) {
	if a.err != nil {
		return Sentinel, false
	}
	idx, off, ok := a.locate(id)
	if !ok {
		return Sentinel, false
	}
	p, err := a.page(idx, false)
	if err != nil {
		a.err = err
		return Sentinel, false
	}
	end := off + int64(a.c.width)
	if p != nil && end > int64(len(p)) && int64(len(p)) < a.c.pageBytes {
		// Short mapping of the last page; the file may have grown since.
		a.pages[idx] = nil
		if p, err = a.page(idx, false); err != nil {
			a.err = err
			return Sentinel, false
		}
	}
	if p == nil || end > int64(len(p)) {
		return Sentinel, false
	}
	return decodeRecord(p[off:end])
}

func (a *mmapAccessor) Err() error {
	return a.err
}
