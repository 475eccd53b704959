package decode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Zera is a compact tagged binary encoding: one type byte followed by a
// little-endian body. Strings, arrays and maps carry a uint32 count; map
// keys are length-prefixed UTF-8 strings. There is no Go implementation to
// import, so the reader lives here.

const (
	zeraNull   = 0x00
	zeraFalse  = 0x01
	zeraTrue   = 0x02
	zeraInt    = 0x03 // int64
	zeraFloat  = 0x04 // float64 bits
	zeraString = 0x05 // u32 length + bytes
	zeraArray  = 0x06 // u32 count + values
	zeraMap    = 0x07 // u32 count + (string key, value) pairs
)

func zeraMapDecode(payload []byte) (map[string]any, error) {
	v, rest, err := zeraValue(payload)
	if err != nil {
		return nil, fmt.Errorf("zera: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("zera: %d trailing bytes", len(rest))
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("zera: %w: root is %T", ErrNotMap, v)
	}
	return m, nil
}

func zeraValue(b []byte) (any, []byte, error) {
	if len(b) == 0 {
		return nil, nil, fmt.Errorf("truncated value")
	}
	tag, b := b[0], b[1:]
	switch tag {
	case zeraNull:
		return nil, b, nil
	case zeraFalse:
		return false, b, nil
	case zeraTrue:
		return true, b, nil
	case zeraInt:
		if len(b) < 8 {
			return nil, nil, fmt.Errorf("truncated integer")
		}
		return int64(binary.LittleEndian.Uint64(b)), b[8:], nil
	case zeraFloat:
		if len(b) < 8 {
			return nil, nil, fmt.Errorf("truncated float")
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), b[8:], nil
	case zeraString:
		s, rest, err := zeraString32(b)
		if err != nil {
			return nil, nil, err
		}
		return s, rest, nil
	case zeraArray:
		n, rest, err := zeraCount(b)
		if err != nil {
			return nil, nil, err
		}
		out := make([]any, 0, n)
		for i := uint32(0); i < n; i++ {
			var v any
			v, rest, err = zeraValue(rest)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, v)
		}
		return out, rest, nil
	case zeraMap:
		n, rest, err := zeraCount(b)
		if err != nil {
			return nil, nil, err
		}
		out := make(map[string]any, n)
		for i := uint32(0); i < n; i++ {
			var key string
			key, rest, err = zeraString32(rest)
			if err != nil {
				return nil, nil, err
			}
			var v any
			v, rest, err = zeraValue(rest)
			if err != nil {
				return nil, nil, err
			}
			out[key] = v
		}
		return out, rest, nil
	default:
		return nil, nil, fmt.Errorf("unknown tag 0x%02x", tag)
	}
}

func zeraCount(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("truncated count")
	}
	return binary.LittleEndian.Uint32(b), b[4:], nil
}

func zeraString32(b []byte) (string, []byte, error) {
	n, rest, err := zeraCount(b)
	if err != nil {
		return "", nil, err
	}
	if uint32(len(rest)) < n {
		return "", nil, fmt.Errorf("truncated string")
	}
	return string(rest[:n]), rest[n:], nil
}
