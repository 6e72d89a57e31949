package osmpbf

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt is wrapped by every error caused by malformed container
	// bytes. A corrupt container is never partially trusted.
	ErrCorrupt = errors.New("corrupt container")

	// ErrUnsupportedCompression is returned for blobs using a compression
	// scheme this package cannot decode (lz4, bzip2).
	ErrUnsupportedCompression = errors.New("unsupported blob compression")

	// ErrUnsupportedFeature is returned when a header block requires a
	// feature this package cannot honor.
	ErrUnsupportedFeature = errors.New("unsupported required feature")
)

func corruptf(offset int64, format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrCorrupt, offset, fmt.Sprintf(format, args...))
}
