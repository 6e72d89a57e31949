// Package nodecache provides a dense, file-backed node location cache for
// planet-sized OSM extracts.
//
// The cache is an array of fixed-width records addressed by node id: the
// record of node id lives at byte offset id*width. The backing file grows
// sparsely to the highest written id, so unused ranges take no disk space.
// Records that were never written read back as Sentinel.
//
// Backends:
//   - MmapCache: the file is memory-mapped in large pages, mapped lazily
//   - FileCache: positional reads and writes on the file
//
// Both hand out Accessors. An Accessor is a cheap per-goroutine view; any
// number of them can be used concurrently without locking as long as
// concurrent writers target different ids.
package nodecache

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrCacheIO wraps every failure of the backing store.
	ErrCacheIO = errors.New("node cache I/O failure")

	// ErrAdviceUnsupported is returned when the platform rejects an access
	// pattern hint.
	ErrAdviceUnsupported = errors.New("access advice unsupported")

	// ErrInvalidOption is returned for bad widths, page sizes or backends.
	ErrInvalidOption = errors.New("invalid node cache option")

	// ErrNegativeID is returned when writing a negative node id.
	ErrNegativeID = errors.New("negative node id")

	// ErrReadOnly is returned by Set on a cache opened read-only.
	ErrReadOnly = errors.New("node cache is read-only")
)

// Store is a node location cache backend.
type Store interface {
	// Accessor returns a new view onto the cache for use by one goroutine.
	Accessor() Accessor
	// Advise hints the expected access pattern to the storage layer.
	Advise(a Advice) error
	// Sync flushes written records to the backing file.
	Sync() error
	// Reset discards every record, leaving an empty file. Accessors created
	// before Reset must not be used afterwards.
	Reset() error
	// RecordWidth returns the size of one record in bytes.
	RecordWidth() int
	Close() error
}

// Accessor reads and writes records. It is not safe for concurrent use;
// create one per goroutine.
type Accessor interface {
	// Set writes the coordinate of id.
	Set(id int64, c Coordinate) error
	// Get returns the coordinate of id, or Sentinel if it was never written.
	Get(id int64) Coordinate
	// Lookup returns the coordinate of id and whether it was written.
	Lookup(id int64) (Coordinate, bool)
	// Err returns the first read error seen by Get or Lookup. Reads after an
	// error return Sentinel.
	Err() error
}

// Backend names accepted by OpenStore.
const (
	BackendMmap = "mmap"
	BackendFile = "file"
)

// DefaultPageSize is the mmap page size: the unit in which the file is
// grown and mapped.
const DefaultPageSize = 1 << 30

type options struct {
	width        int
	pageSize     int64
	readOnly     bool
	strictAdvice bool
}

// Option configures Open, OpenFile and OpenStore.
type Option func(*options)

// WithRecordWidth sets the record width (Width8 or Width12).
func WithRecordWidth(width int) Option {
	return func(o *options) { o.width = width }
}

// WithPageSize sets the mmap page size in bytes. It is rounded down to a
// whole number of OS pages of records.
func WithPageSize(size int64) Option {
	return func(o *options) { o.pageSize = size }
}

// WithReadOnly opens the cache for reading only. The file is never grown.
func WithReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// WithStrictAdvice makes a rejected access hint on a lazily mapped page an
// error of the access that mapped it, instead of being ignored.
func WithStrictAdvice() Option {
	return func(o *options) { o.strictAdvice = true }
}

func buildOptions(opts []Option) (options, error) {
	o := options{width: Width8, pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(&o)
	}
	if err := checkWidth(o.width); err != nil {
		return o, err
	}
	if o.pageSize <= 0 {
		return o, fmt.Errorf("%w: page size must be positive, got %d", ErrInvalidOption, o.pageSize)
	}
	return o, nil
}

// OpenStore opens a cache with the named backend.
func OpenStore(backend, path string, opts ...Option) (Store, error) {
	switch backend {
	case BackendMmap:
		return Open(path, opts...)
	case BackendFile:
		return OpenFile(path, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidOption, backend)
	}
}

// recordOffset returns the byte offset of id, or false if it cannot be
// addressed.
func recordOffset(id int64, width int) (int64, bool) {
	if id < 0 || id > math.MaxInt64/int64(width)-1 {
		return 0, false
	}
	return id * int64(width), true
}

// Advice is an access pattern hint.
type Advice int

const (
	AdviceNormal Advice = iota
	AdviceSequential
	AdviceRandom
	AdviceWillNeed
	AdviceDontNeed
)

func (a Advice) String() string {
	switch a {
	case AdviceNormal:
		return "normal"
	case AdviceSequential:
		return "sequential"
	case AdviceRandom:
		return "random"
	case AdviceWillNeed:
		return "willneed"
	case AdviceDontNeed:
		return "dontneed"
	default:
		return fmt.Sprintf("advice(%d)", int(a))
	}
}

// ParseAdvice parses an advice name as printed by Advice.String.
func ParseAdvice(s string) (Advice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return AdviceNormal, nil
	case "sequential", "seq":
		return AdviceSequential, nil
	case "random":
		return AdviceRandom, nil
	case "willneed", "will-need":
		return AdviceWillNeed, nil
	case "dontneed", "dont-need":
		return AdviceDontNeed, nil
	default:
		return 0, fmt.Errorf("%w: unknown advice %q", ErrInvalidOption, s)
	}
}

// ParseAdviceList parses every name in names.
func ParseAdviceList(names []string) ([]Advice, error) {
	out := make([]Advice, 0, len(names))
	for _, n := range names {
		a, err := ParseAdvice(n)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ApplyAdvice passes each hint to the store in order. Rejected hints are
// logged and skipped unless strict is set, in which case the first one is
// returned as an error.
func ApplyAdvice(s Store, advice []Advice, strict bool, log zerolog.Logger) error {
	for _, a := range advice {
		log.Info().Stringer("advice", a).Msg("advising node cache")
		if err := s.Advise(a); err != nil {
			if strict {
				return fmt.Errorf("advise %s: %w", a, err)
			}
			log.Warn().Err(err).Stringer("advice", a).Msg("advice ignored")
		}
	}
	return nil
}
