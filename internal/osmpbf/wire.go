package osmpbf

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var errWire = errors.New("malformed protobuf")

// field is one decoded protobuf field. For varint and fixed fields the
// value is in num; for length-delimited fields it is in bytes.
type field struct {
	number protowire.Number
	typ    protowire.Type
	num    uint64
	bytes  []byte
}

// eachField walks the top-level fields of a protobuf message, calling fn
// for every field. Groups and unknown types are skipped.
func eachField(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %v", errWire, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{number: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.num, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.num = uint64(v)
		case protowire.Fixed64Type:
			f.num, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", errWire, num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", errWire, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// appendSint64s appends the values of a repeated sint64 field, packed or
// not. When delta is set the values are running sums of the encoded ones.
func appendSint64s(dst []int64, f field, delta bool) ([]int64, error) {
	var last int64
	if delta && len(dst) > 0 {
		last = dst[len(dst)-1]
	}
	add := func(raw uint64) {
		v := protowire.DecodeZigZag(raw)
		if delta {
			last += v
			v = last
		}
		dst = append(dst, v)
	}

	switch f.typ {
	case protowire.VarintType:
		add(f.num)
		return dst, nil
	case protowire.BytesType:
		b := f.bytes
		for len(b) > 0 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return dst, fmt.Errorf("%w: packed field %d: %v", errWire, f.number, protowire.ParseError(n))
			}
			add(v)
			b = b[n:]
		}
		return dst, nil
	default:
		return dst, fmt.Errorf("%w: field %d has wire type %d", errWire, f.number, f.typ)
	}
}

func appendPackedSint64(b []byte, num protowire.Number, values []int64, delta bool) []byte {
	if len(values) == 0 {
		return b
	}
	var packed []byte
	var last int64
	for _, v := range values {
		enc := v
		if delta {
			enc = v - last
			last = v
		}
		packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(enc))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint64Field(b []byte, num protowire.Number, v int64) []byte {
	return appendVarintField(b, num, protowire.EncodeZigZag(v))
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}
