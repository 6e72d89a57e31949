package osmpbf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz/lzma"
	"google.golang.org/protobuf/encoding/protowire"
)

// BlockBuilder describes the entities of one data blob to write. Each
// non-empty entity list becomes its own primitive group.
type BlockBuilder struct {
	Nodes      []Node // written as plain Node messages
	DenseNodes []Node // written as one DenseNodes message
	Ways       []Way
	Relations  []int64
}

// Writer writes a PBF container. Coordinates are written with the default
// granularity of 100 nanodegrees; finer precision is truncated.
type Writer struct {
	w           io.Writer
	offset      int64
	compression Compression
	zstdEnc     *zstd.Encoder
}

// NewWriter returns a writer compressing blobs with c.
func NewWriter(w io.Writer, c Compression) (*Writer, error) {
	wr := &Writer{w: w, compression: c}
	switch c {
	case CompressionNone, CompressionZlib, CompressionLZMA:
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		wr.zstdEnc = enc
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, c)
	}
	return wr, nil
}

// Offset returns the offset the next blob will be written at.
func (w *Writer) Offset() int64 {
	return w.offset
}

// WriteHeader writes an OSMHeader blob and returns its offset.
func (w *Writer) WriteHeader(h *Header) (int64, error) {
	return w.WriteBlob(TypeHeader, encodeHeader(h))
}

// WriteBlock writes an OSMData blob and returns its offset.
func (w *Writer) WriteBlock(b *BlockBuilder) (int64, error) {
	return w.WriteBlob(TypeData, encodePrimitiveBlock(b))
}

// WriteBlob compresses payload and writes it as a blob of the given type.
func (w *Writer) WriteBlob(typ string, payload []byte) (int64, error) {
	blob, err := w.encodeBlob(payload)
	if err != nil {
		return 0, err
	}

	var header []byte
	header = appendBytesField(header, headerType, []byte(typ))
	header = appendVarintField(header, headerDataSize, uint64(len(blob)))

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(header)))

	start := w.offset
	for _, part := range [][]byte{lenBuf[:], header, blob} {
		n, err := w.w.Write(part)
		w.offset += int64(n)
		if err != nil {
			return start, fmt.Errorf("write blob at offset %d: %w", start, err)
		}
	}
	return start, nil
}

// Close releases compression resources. It does not close the underlying
// writer.
func (w *Writer) Close() error {
	if w.zstdEnc != nil {
		return w.zstdEnc.Close()
	}
	return nil
}

func (w *Writer) encodeBlob(payload []byte) ([]byte, error) {
	if w.compression == CompressionNone {
		return appendBytesField(nil, blobRaw, payload), nil
	}

	var (
		data  []byte
		field protowire.Number = blobZlibData
	)
	switch w.compression {
	case CompressionZlib:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		data = buf.Bytes()
	case CompressionLZMA:
		var buf bytes.Buffer
		lw, err := lzma.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("lzma compress: %w", err)
		}
		if _, err := lw.Write(payload); err != nil {
			return nil, fmt.Errorf("lzma compress: %w", err)
		}
		if err := lw.Close(); err != nil {
			return nil, fmt.Errorf("lzma compress: %w", err)
		}
		data, field = buf.Bytes(), blobLZMAData
	case CompressionZstd:
		data, field = w.zstdEnc.EncodeAll(payload, nil), blobZstdData
	}

	b := appendVarintField(nil, blobRawSize, uint64(len(payload)))
	return appendBytesField(b, field, data), nil
}

func encodePrimitiveBlock(bb *BlockBuilder) []byte {
	var b []byte
	// String table with the mandatory empty first entry.
	b = appendBytesField(b, blockStringTable, appendBytesField(nil, 1, nil))

	if len(bb.Nodes) > 0 {
		var g []byte
		for _, n := range bb.Nodes {
			var nb []byte
			nb = appendSint64Field(nb, nodeID, n.ID)
			nb = appendSint64Field(nb, nodeLat, n.Lat/defaultGranularity)
			nb = appendSint64Field(nb, nodeLon, n.Lon/defaultGranularity)
			g = appendBytesField(g, groupNodes, nb)
		}
		b = appendBytesField(b, blockGroup, g)
	}

	if len(bb.DenseNodes) > 0 {
		ids := make([]int64, len(bb.DenseNodes))
		lats := make([]int64, len(bb.DenseNodes))
		lons := make([]int64, len(bb.DenseNodes))
		for i, n := range bb.DenseNodes {
			ids[i] = n.ID
			lats[i] = n.Lat / defaultGranularity
			lons[i] = n.Lon / defaultGranularity
		}
		var d []byte
		d = appendPackedSint64(d, denseID, ids, true)
		d = appendPackedSint64(d, denseLat, lats, true)
		d = appendPackedSint64(d, denseLon, lons, true)
		b = appendBytesField(b, blockGroup, appendBytesField(nil, groupDense, d))
	}

	if len(bb.Ways) > 0 {
		var g []byte
		for _, w := range bb.Ways {
			var wb []byte
			wb = appendVarintField(wb, wayID, uint64(w.ID))
			wb = appendPackedSint64(wb, wayRefs, w.Refs, true)
			g = appendBytesField(g, groupWays, wb)
		}
		b = appendBytesField(b, blockGroup, g)
	}

	if len(bb.Relations) > 0 {
		var g []byte
		for _, id := range bb.Relations {
			g = appendBytesField(g, groupRelations, appendVarintField(nil, 1, uint64(id)))
		}
		b = appendBytesField(b, blockGroup, g)
	}
	return b
}
