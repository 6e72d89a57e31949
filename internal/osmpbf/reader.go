package osmpbf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// BlobHeader field numbers.
const (
	headerType     = 1
	headerDataSize = 3
)

// Reader streams blobs from a PBF container. It is not safe for concurrent
// use; hand the returned blobs to workers instead.
type Reader struct {
	rs     io.ReadSeeker
	br     *bufio.Reader
	closer io.Closer
	offset int64
}

// Open opens the container at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}
	r := NewReader(f)
	r.closer = f
	return r, nil
}

// NewReader reads blobs from rs starting at its current position, which
// must be offset 0 or a blob boundary reached through Seek.
func NewReader(rs io.ReadSeeker) *Reader {
	return &Reader{
		rs: rs,
		br: bufio.NewReaderSize(rs, 1<<20),
	}
}

// Offset returns the absolute offset of the next blob.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Seek positions the reader at an absolute blob offset previously
// reported by Blob.Offset.
func (r *Reader) Seek(offset int64) error {
	if offset < 0 {
		return fmt.Errorf("seek to negative offset %d", offset)
	}
	if _, err := r.rs.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to offset %d: %w", offset, err)
	}
	r.br.Reset(r.rs)
	r.offset = offset
	return nil
}

// Next returns the next blob, or io.EOF after the last one.
func (r *Reader) Next() (*Blob, error) {
	start := r.offset

	var lenBuf [4]byte
	n, err := io.ReadFull(r.br, lenBuf[:])
	if err == io.EOF && n == 0 {
		return nil, io.EOF
	}
	if err != nil {
		return nil, r.readErr(start, "blob header length", err)
	}
	headerLen := binary.BigEndian.Uint32(lenBuf[:])
	if headerLen == 0 || headerLen > MaxHeaderSize {
		return nil, corruptf(start, "blob header length %d out of range", headerLen)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r.br, header); err != nil {
		return nil, r.readErr(start, "blob header", err)
	}

	var (
		typ      string
		dataSize int64 = -1
	)
	err = eachField(header, func(f field) error {
		switch f.number {
		case headerType:
			typ = string(f.bytes)
		case headerDataSize:
			dataSize = int64(int32(f.num))
		}
		return nil
	})
	if err != nil {
		return nil, corruptf(start, "blob header: %v", err)
	}
	if typ == "" {
		return nil, corruptf(start, "blob header has no type")
	}
	if dataSize < 0 || dataSize > MaxBlobSize {
		return nil, corruptf(start, "blob size %d out of range", dataSize)
	}

	data := make([]byte, dataSize)
	if _, err := io.ReadFull(r.br, data); err != nil {
		return nil, r.readErr(start, "blob data", err)
	}

	r.offset = start + 4 + int64(headerLen) + dataSize
	return &Blob{Offset: start, Type: typ, data: data}, nil
}

func (r *Reader) readErr(offset int64, what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return corruptf(offset, "truncated %s", what)
	}
	return fmt.Errorf("read %s at offset %d: %w", what, offset, err)
}

// Close closes the underlying file when the reader was created by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
