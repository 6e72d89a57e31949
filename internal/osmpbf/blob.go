package osmpbf

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz/lzma"
)

// Blob types defined by the PBF format.
const (
	TypeHeader = "OSMHeader"
	TypeData   = "OSMData"
)

// Size limits from the PBF format definition.
const (
	MaxHeaderSize = 64 * 1024
	MaxBlobSize   = 32 * 1024 * 1024
)

// Compression identifies how a blob payload is stored.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZlib
	CompressionLZMA
	CompressionBzip2
	CompressionLZ4
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZlib:
		return "zlib"
	case CompressionLZMA:
		return "lzma"
	case CompressionBzip2:
		return "bzip2"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", int(c))
	}
}

// Blob field numbers.
const (
	blobRaw       = 1
	blobRawSize   = 2
	blobZlibData  = 3
	blobLZMAData  = 4
	blobBzip2Data = 5
	blobLZ4Data   = 6
	blobZstdData  = 7
)

// Blob is one independently decodable unit of the container, still
// compressed. Decoding is left to the caller so it can happen on any
// goroutine.
type Blob struct {
	Offset int64  // absolute byte offset of the blob's length prefix
	Type   string // TypeHeader, TypeData, or an unknown type to ignore
	data   []byte // serialized Blob message
}

// Payload returns the decompressed blob contents.
func (b *Blob) Payload() ([]byte, error) {
	var (
		raw         []byte
		rawSize     int64 = -1
		compressed  []byte
		compression = CompressionNone
		seen        bool
	)
	err := eachField(b.data, func(f field) error {
		switch f.number {
		case blobRaw:
			raw, seen = f.bytes, true
		case blobRawSize:
			rawSize = int64(int32(f.num))
		case blobZlibData:
			compressed, compression, seen = f.bytes, CompressionZlib, true
		case blobLZMAData:
			compressed, compression, seen = f.bytes, CompressionLZMA, true
		case blobBzip2Data:
			compressed, compression, seen = f.bytes, CompressionBzip2, true
		case blobLZ4Data:
			compressed, compression, seen = f.bytes, CompressionLZ4, true
		case blobZstdData:
			compressed, compression, seen = f.bytes, CompressionZstd, true
		}
		return nil
	})
	if err != nil {
		return nil, corruptf(b.Offset, "blob: %v", err)
	}
	if !seen {
		return nil, corruptf(b.Offset, "blob has no data")
	}
	if compression == CompressionNone {
		return raw, nil
	}
	if rawSize < 0 || rawSize > MaxBlobSize {
		return nil, corruptf(b.Offset, "blob raw size %d out of range", rawSize)
	}

	out, err := decompress(compression, compressed, int(rawSize))
	if err != nil {
		if err == ErrUnsupportedCompression {
			return nil, fmt.Errorf("%w: %s at offset %d", err, compression, b.Offset)
		}
		return nil, corruptf(b.Offset, "%s: %v", compression, err)
	}
	return out, nil
}

var (
	zstdOnce    sync.Once
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// sharedZstd returns a process-wide decoder. DecodeAll is safe for
// concurrent use.
func sharedZstd() (*zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zstdDecoder, zstdErr
}

func decompress(c Compression, data []byte, rawSize int) ([]byte, error) {
	switch c {
	case CompressionZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return readExactly(zr, rawSize)
	case CompressionLZMA:
		lr, err := lzma.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return readExactly(lr, rawSize)
	case CompressionZstd:
		dec, err := sharedZstd()
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		out, err := dec.DecodeAll(data, make([]byte, 0, rawSize))
		if err != nil {
			return nil, err
		}
		if len(out) != rawSize {
			return nil, fmt.Errorf("decompressed %d bytes, header says %d", len(out), rawSize)
		}
		return out, nil
	default:
		return nil, ErrUnsupportedCompression
	}
}

// readExactly reads rawSize bytes and checks that the stream ends there.
func readExactly(r io.Reader, rawSize int) ([]byte, error) {
	out := make([]byte, rawSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("decompressed fewer than %d bytes: %w", rawSize, err)
	}
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n > 0 {
		return nil, fmt.Errorf("decompressed more than %d bytes", rawSize)
	}
	return out, nil
}
