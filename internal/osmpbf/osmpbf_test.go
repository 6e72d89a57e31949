package osmpbf

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func testBlock() *BlockBuilder {
	return &BlockBuilder{
		Nodes: []Node{
			{ID: 1, Lat: 1_000_000_000, Lon: 2_000_000_000},
			{ID: 7, Lat: -45_500_000_000, Lon: 170_250_000_000},
		},
		DenseNodes: []Node{
			{ID: 10, Lat: 51_500_000_000, Lon: -100_000_000},
			{ID: 12, Lat: 51_500_000_100, Lon: -100_000_100},
			{ID: 11, Lat: -89_999_999_900, Lon: 179_999_999_900},
		},
		Ways: []Way{
			{ID: 100, Refs: []int64{1, 10, 12, 11}},
			{ID: 101, Refs: nil},
			{ID: 102, Refs: []int64{12, 7, 1}},
		},
		Relations: []int64{500},
	}
}

func writeContainer(t *testing.T, c Compression, blocks ...*BlockBuilder) ([]byte, []int64) {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, c)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.WriteHeader(&Header{
		RequiredFeatures: []string{"OsmSchema-V0.6", "DenseNodes"},
		WritingProgram:   "osmresolve-test",
		BBox:             &HeaderBBox{Left: -1, Right: 1, Top: 1, Bottom: -1},
	})
	require.NoError(t, err)

	var offsets []int64
	for _, b := range blocks {
		off, err := w.WriteBlock(b)
		require.NoError(t, err)
		offsets = append(offsets, off)
	}
	require.Equal(t, int64(buf.Len()), w.Offset())
	return buf.Bytes(), offsets
}

func TestRoundTripCompressions(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZlib, CompressionZstd, CompressionLZMA} {
		t.Run(c.String(), func(t *testing.T) {
			data, offsets := writeContainer(t, c, testBlock())
			r := NewReader(bytes.NewReader(data))

			hb, err := r.Next()
			require.NoError(t, err)
			require.Equal(t, TypeHeader, hb.Type)
			require.Equal(t, int64(0), hb.Offset)
			block, err := hb.Decode()
			require.NoError(t, err)
			require.Nil(t, block, "header blob decodes to no block")

			h, err := hb.DecodeHeader()
			require.NoError(t, err)
			require.Equal(t, "osmresolve-test", h.WritingProgram)
			require.Equal(t, &HeaderBBox{Left: -1, Right: 1, Top: 1, Bottom: -1}, h.BBox)

			db, err := r.Next()
			require.NoError(t, err)
			require.Equal(t, offsets[0], db.Offset)
			block, err = db.Decode()
			require.NoError(t, err)
			require.NotNil(t, block)
			require.Equal(t, offsets[0], block.Offset)
			require.True(t, block.HasNonPoint())

			nodes := slices.Collect(block.Nodes())
			want := append(slices.Clone(testBlock().Nodes), testBlock().DenseNodes...)
			require.Equal(t, want, nodes)

			var ways []Way
			for w := range block.Ways() {
				ways = append(ways, *w)
			}
			require.Len(t, ways, 3)
			require.Equal(t, []int64{1, 10, 12, 11}, ways[0].Refs)
			require.Empty(t, ways[1].Refs)
			require.Equal(t, []int64{12, 7, 1}, ways[2].Refs)

			relations := 0
			for i := range block.Groups {
				relations += block.Groups[i].Relations
			}
			require.Equal(t, 1, relations)

			_, err = r.Next()
			require.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestNodesIsRestartable(t *testing.T) {
	data, _ := writeContainer(t, CompressionNone, testBlock())
	r := NewReader(bytes.NewReader(data))
	_, err := r.Next()
	require.NoError(t, err)
	b, err := r.Next()
	require.NoError(t, err)
	block, err := b.Decode()
	require.NoError(t, err)

	first := slices.Collect(block.Nodes())
	second := slices.Collect(block.Nodes())
	require.Equal(t, first, second)

	// Early break stops the sequence.
	count := 0
	for range block.Nodes() {
		count++
		if count == 2 {
			break
		}
	}
	require.Equal(t, 2, count)
	require.Equal(t, 5, block.Groups[0].NodeCount()+block.Groups[1].NodeCount())
}

func TestPointOnlyBlock(t *testing.T) {
	data, _ := writeContainer(t, CompressionZlib, &BlockBuilder{
		DenseNodes: []Node{{ID: 1, Lat: 100, Lon: 200}},
	})
	r := NewReader(bytes.NewReader(data))
	_, err := r.Next()
	require.NoError(t, err)
	b, err := r.Next()
	require.NoError(t, err)
	block, err := b.Decode()
	require.NoError(t, err)
	require.False(t, block.HasNonPoint())
}

func TestSeek(t *testing.T) {
	blocks := []*BlockBuilder{
		{DenseNodes: []Node{{ID: 1}}},
		{DenseNodes: []Node{{ID: 2}}},
		{Ways: []Way{{ID: 3, Refs: []int64{1, 2}}}},
	}
	data, offsets := writeContainer(t, CompressionZstd, blocks...)

	path := filepath.Join(t.TempDir(), "seek.osm.pbf")
	require.NoError(t, os.WriteFile(path, data, 0644))
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Seek(offsets[2]))
	require.Equal(t, offsets[2], r.Offset())
	b, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, offsets[2], b.Offset)
	block, err := b.Decode()
	require.NoError(t, err)
	require.True(t, block.HasNonPoint())

	// Seeking backwards resets buffered state.
	require.NoError(t, r.Seek(offsets[0]))
	b, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, offsets[0], b.Offset)
	require.Equal(t, offsets[1], r.Offset())

	require.Error(t, r.Seek(-1))
}

func TestTruncatedContainer(t *testing.T) {
	data, offsets := writeContainer(t, CompressionZlib, testBlock(), testBlock())
	truncated := data[:offsets[1]+10]

	r := NewReader(bytes.NewReader(truncated))
	for {
		_, err := r.Next()
		if err == nil {
			continue
		}
		require.ErrorIs(t, err, ErrCorrupt)
		require.Contains(t, err.Error(), "offset")
		return
	}
}

func TestOversizedHeader(t *testing.T) {
	data := []byte{0x00, 0x10, 0x00, 0x01} // header length > 64 KiB
	_, err := NewReader(bytes.NewReader(data)).Next()
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestGarbagePayload(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, CompressionNone)
	require.NoError(t, err)
	_, err = w.WriteBlob(TypeData, []byte{0xff, 0xff, 0xff})
	require.NoError(t, err)

	b, err := NewReader(bytes.NewReader(buf.Bytes())).Next()
	require.NoError(t, err)
	_, err = b.Decode()
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestCompressedSizeMismatch(t *testing.T) {
	var blob []byte
	blob = appendVarintField(blob, blobRawSize, 1000)
	blob = appendBytesField(blob, blobZlibData, []byte("not zlib"))
	_, err := (&Blob{Type: TypeData, Offset: 42, data: blob}).Decode()
	require.ErrorIs(t, err, ErrCorrupt)
	require.Contains(t, err.Error(), "offset 42")
}

func TestUnsupportedCompression(t *testing.T) {
	var blob []byte
	blob = appendVarintField(blob, blobRawSize, 3)
	blob = appendBytesField(blob, blobLZ4Data, []byte{1, 2, 3})
	_, err := (&Blob{Type: TypeData, data: blob}).Decode()
	require.ErrorIs(t, err, ErrUnsupportedCompression)
	require.False(t, errors.Is(err, ErrCorrupt))

	_, err = NewWriter(io.Discard, CompressionLZ4)
	require.ErrorIs(t, err, ErrUnsupportedCompression)
}

func TestUnsupportedFeature(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, CompressionNone)
	require.NoError(t, err)
	_, err = w.WriteHeader(&Header{RequiredFeatures: []string{"OsmSchema-V0.6", "Sort.Type_then_ID", "LocationsOnWays"}})
	require.NoError(t, err)

	b, err := NewReader(bytes.NewReader(buf.Bytes())).Next()
	require.NoError(t, err)
	_, err = b.DecodeHeader()
	require.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestUnknownBlobTypeIsSkipped(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, CompressionNone)
	require.NoError(t, err)
	_, err = w.WriteBlob("OSMIndex", []byte("whatever"))
	require.NoError(t, err)

	b, err := NewReader(bytes.NewReader(buf.Bytes())).Next()
	require.NoError(t, err)
	block, err := b.Decode()
	require.NoError(t, err)
	require.Nil(t, block)
}

func TestWayMaxRef(t *testing.T) {
	w := Way{Refs: []int64{5, 9, 2}}
	m, ok := w.MaxRef()
	require.True(t, ok)
	require.Equal(t, int64(9), m)

	_, ok = (&Way{}).MaxRef()
	require.False(t, ok)
}

func TestCustomGranularity(t *testing.T) {
	// Hand-built block: granularity 1000, lat offset 5, one dense node.
	var d []byte
	d = appendPackedSint64(d, denseID, []int64{3}, true)
	d = appendPackedSint64(d, denseLat, []int64{7}, true)
	d = appendPackedSint64(d, denseLon, []int64{-2}, true)
	var pb []byte
	pb = appendBytesField(pb, blockGroup, appendBytesField(nil, groupDense, d))
	pb = appendVarintField(pb, blockGranularity, 1000)
	pb = appendVarintField(pb, blockLatOffset, 5)

	block, err := decodePrimitiveBlock(pb)
	require.NoError(t, err)
	nodes := slices.Collect(block.Nodes())
	require.Equal(t, []Node{{ID: 3, Lat: 7005, Lon: -2000}}, nodes)
}
