package nodecache

import (
	"encoding/binary"
	"fmt"
)

// Supported record widths.
const (
	// Width8 stores lat and lon as little-endian int32. (0,0) doubles as
	// the unresolved sentinel.
	Width8 = 8
	// Width12 appends a uint32 flags word whose low bit marks the record
	// as written, so (0,0) can be resolved unambiguously.
	Width12 = 12
)

const flagValid uint32 = 1

func checkWidth(width int) error {
	if width <= 0 {
		return fmt.Errorf("%w: record width must be positive, got %d", ErrInvalidOption, width)
	}
	if width != Width8 && width != Width12 {
		return fmt.Errorf("%w: unsupported record width %d", ErrInvalidOption, width)
	}
	return nil
}

// encodeRecord writes c into buf, which is exactly one record long.
func encodeRecord(buf []byte, c Coordinate) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(c.Lat))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(c.Lon))
	if len(buf) == Width12 {
		binary.LittleEndian.PutUint32(buf[8:12], flagValid)
	}
}

// decodeRecord reads one record and reports whether it holds a written
// coordinate.
func decodeRecord(buf []byte) (Coordinate, bool) {
	c := Coordinate{
		Lat: int32(binary.LittleEndian.Uint32(buf[0:4])),
		Lon: int32(binary.LittleEndian.Uint32(buf[4:8])),
	}
	if len(buf) == Width12 {
		return c, binary.LittleEndian.Uint32(buf[8:12])&flagValid != 0
	}
	return c, c != Sentinel
}
