package osmpbf

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// HeaderBlock field numbers.
const (
	hdrBBox             = 1
	hdrRequiredFeatures = 4
	hdrOptionalFeatures = 5
	hdrWritingProgram   = 16
	hdrSource           = 17

	bboxLeft   = 1
	bboxRight  = 2
	bboxTop    = 3
	bboxBottom = 4
)

// Features this package can decode.
var supportedFeatures = map[string]bool{
	"OsmSchema-V0.6":        true,
	"DenseNodes":            true,
	"HistoricalInformation": true,
}

// HeaderBBox is the optional bounding box of a container, in nanodegrees.
type HeaderBBox struct {
	Left, Right, Top, Bottom int64
}

// Header is the decoded OSMHeader blob.
type Header struct {
	BBox             *HeaderBBox
	RequiredFeatures []string
	OptionalFeatures []string
	WritingProgram   string
	Source           string
}

// DecodeHeader decodes an OSMHeader blob and checks its required features.
func (b *Blob) DecodeHeader() (*Header, error) {
	if b.Type != TypeHeader {
		return nil, fmt.Errorf("blob at offset %d is %q, not %s", b.Offset, b.Type, TypeHeader)
	}
	payload, err := b.Payload()
	if err != nil {
		return nil, err
	}

	h := &Header{}
	err = eachField(payload, func(f field) error {
		switch f.number {
		case hdrBBox:
			bbox, err := decodeHeaderBBox(f.bytes)
			if err != nil {
				return err
			}
			h.BBox = bbox
		case hdrRequiredFeatures:
			h.RequiredFeatures = append(h.RequiredFeatures, string(f.bytes))
		case hdrOptionalFeatures:
			h.OptionalFeatures = append(h.OptionalFeatures, string(f.bytes))
		case hdrWritingProgram:
			h.WritingProgram = string(f.bytes)
		case hdrSource:
			h.Source = string(f.bytes)
		}
		return nil
	})
	if err != nil {
		return nil, corruptf(b.Offset, "header block: %v", err)
	}

	for _, feat := range h.RequiredFeatures {
		if !supportedFeatures[feat] {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFeature, feat)
		}
	}
	return h, nil
}

func decodeHeaderBBox(data []byte) (*HeaderBBox, error) {
	bbox := &HeaderBBox{}
	err := eachField(data, func(f field) error {
		v := protowire.DecodeZigZag(f.num)
		switch f.number {
		case bboxLeft:
			bbox.Left = v
		case bboxRight:
			bbox.Right = v
		case bboxTop:
			bbox.Top = v
		case bboxBottom:
			bbox.Bottom = v
		}
		return nil
	})
	return bbox, err
}

func encodeHeader(h *Header) []byte {
	var b []byte
	if h.BBox != nil {
		var bb []byte
		bb = appendSint64Field(bb, bboxLeft, h.BBox.Left)
		bb = appendSint64Field(bb, bboxRight, h.BBox.Right)
		bb = appendSint64Field(bb, bboxTop, h.BBox.Top)
		bb = appendSint64Field(bb, bboxBottom, h.BBox.Bottom)
		b = appendBytesField(b, hdrBBox, bb)
	}
	for _, feat := range h.RequiredFeatures {
		b = appendBytesField(b, hdrRequiredFeatures, []byte(feat))
	}
	for _, feat := range h.OptionalFeatures {
		b = appendBytesField(b, hdrOptionalFeatures, []byte(feat))
	}
	if h.WritingProgram != "" {
		b = appendBytesField(b, hdrWritingProgram, []byte(h.WritingProgram))
	}
	if h.Source != "" {
		b = appendBytesField(b, hdrSource, []byte(h.Source))
	}
	return b
}
