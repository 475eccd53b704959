package decode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Read-only FlexBuffers parser. FlexBuffers is the schemaless companion
// format of FlatBuffers; no maintained Go decoder exists, so the subset
// needed here (scalars, strings, vectors, maps) is implemented directly.
//
// All scalars are little-endian. The buffer is read from the tail: the
// last byte is the root byte width W, the byte before it the packed root
// type, and the W bytes before that hold the root value (inline scalar or
// backward offset). A packed type is (type << 2) | widthCode, where the
// width code gives the byte width of the data the value points at.

const (
	flexNull          = 0
	flexInt           = 1
	flexUInt          = 2
	flexFloat         = 3
	flexKey           = 4
	flexString        = 5
	flexIndirectInt   = 6
	flexIndirectUInt  = 7
	flexIndirectFloat = 8
	flexMapType       = 9
	flexVector        = 10
	flexVectorInt     = 11
	flexVectorUInt    = 12
	flexVectorFloat   = 13
	flexVectorKey     = 14
	flexBlob          = 25
	flexBool          = 26
	flexVectorBool    = 36
)

func flexMap(payload []byte) (map[string]any, error) {
	if len(payload) < 3 {
		return nil, fmt.Errorf("flexbuffers: buffer too short (%d bytes)", len(payload))
	}
	rootWidth := int(payload[len(payload)-1])
	switch rootWidth {
	case 1, 2, 4, 8:
	default:
		return nil, fmt.Errorf("flexbuffers: invalid root width %d", rootWidth)
	}
	packed := payload[len(payload)-2]
	rootPos := len(payload) - 2 - rootWidth
	if rootPos < 0 {
		return nil, fmt.Errorf("flexbuffers: truncated root value")
	}
	root, err := flexValue(payload, rootPos, rootWidth, packed)
	if err != nil {
		return nil, fmt.Errorf("flexbuffers: %w", err)
	}
	m, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("flexbuffers: %w: root is %T", ErrNotMap, root)
	}
	return m, nil
}

func flexValue(buf []byte, pos, parentWidth int, packed byte) (any, error) {
	typ := int(packed >> 2)
	childWidth := 1 << (packed & 3)

	switch typ {
	case flexNull:
		return nil, nil
	case flexBool:
		u, err := flexUint(buf, pos, parentWidth)
		if err != nil {
			return nil, err
		}
		return u != 0, nil
	case flexInt:
		return flexSint(buf, pos, parentWidth)
	case flexUInt:
		return flexUint(buf, pos, parentWidth)
	case flexFloat:
		return flexFloatAt(buf, pos, parentWidth)
	case flexIndirectInt:
		target, err := flexTarget(buf, pos, parentWidth)
		if err != nil {
			return nil, err
		}
		return flexSint(buf, target, childWidth)
	case flexIndirectUInt:
		target, err := flexTarget(buf, pos, parentWidth)
		if err != nil {
			return nil, err
		}
		return flexUint(buf, target, childWidth)
	case flexIndirectFloat:
		target, err := flexTarget(buf, pos, parentWidth)
		if err != nil {
			return nil, err
		}
		return flexFloatAt(buf, target, childWidth)
	case flexKey:
		target, err := flexTarget(buf, pos, parentWidth)
		if err != nil {
			return nil, err
		}
		return flexCString(buf, target)
	case flexString:
		target, err := flexTarget(buf, pos, parentWidth)
		if err != nil {
			return nil, err
		}
		return flexSizedString(buf, target, childWidth)
	case flexBlob:
		target, err := flexTarget(buf, pos, parentWidth)
		if err != nil {
			return nil, err
		}
		n, err := flexUint(buf, target-childWidth, childWidth)
		if err != nil {
			return nil, err
		}
		if target+int(n) > len(buf) {
			return nil, fmt.Errorf("blob out of bounds at %d", target)
		}
		return append([]byte(nil), buf[target:target+int(n)]...), nil
	case flexMapType:
		target, err := flexTarget(buf, pos, parentWidth)
		if err != nil {
			return nil, err
		}
		return flexDecodeMap(buf, target, childWidth)
	case flexVector:
		target, err := flexTarget(buf, pos, parentWidth)
		if err != nil {
			return nil, err
		}
		return flexUntypedVector(buf, target, childWidth)
	case flexVectorInt, flexVectorUInt, flexVectorFloat, flexVectorBool, flexVectorKey:
		target, err := flexTarget(buf, pos, parentWidth)
		if err != nil {
			return nil, err
		}
		return flexTypedVector(buf, target, childWidth, typ)
	default:
		return nil, fmt.Errorf("unsupported value type %d", typ)
	}
}

func flexDecodeMap(buf []byte, start, width int) (map[string]any, error) {
	n64, err := flexUint(buf, start-width, width)
	if err != nil {
		return nil, err
	}
	n := int(n64)

	// The keys vector location and its element width sit just below the
	// values vector's length field.
	keysOffPos := start - 3*width
	keysOff, err := flexUint(buf, keysOffPos, width)
	if err != nil {
		return nil, err
	}
	keysStart := keysOffPos - int(keysOff)
	keysWidth64, err := flexUint(buf, start-2*width, width)
	if err != nil {
		return nil, err
	}
	keysWidth := int(keysWidth64)
	switch keysWidth {
	case 1, 2, 4, 8:
	default:
		return nil, fmt.Errorf("invalid map key width %d", keysWidth)
	}

	typesStart := start + n*width
	if typesStart+n > len(buf) {
		return nil, fmt.Errorf("map out of bounds at %d", start)
	}

	out := make(map[string]any, n)
	for i := 0; i < n; i++ {
		keyPos := keysStart + i*keysWidth
		keyOff, err := flexUint(buf, keyPos, keysWidth)
		if err != nil {
			return nil, err
		}
		key, err := flexCString(buf, keyPos-int(keyOff))
		if err != nil {
			return nil, err
		}
		val, err := flexValue(buf, start+i*width, width, buf[typesStart+i])
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}

func flexUntypedVector(buf []byte, start, width int) ([]any, error) {
	n64, err := flexUint(buf, start-width, width)
	if err != nil {
		return nil, err
	}
	n := int(n64)
	typesStart := start + n*width
	if typesStart+n > len(buf) {
		return nil, fmt.Errorf("vector out of bounds at %d", start)
	}
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v, err := flexValue(buf, start+i*width, width, buf[typesStart+i])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func flexTypedVector(buf []byte, start, width, vecType int) ([]any, error) {
	n64, err := flexUint(buf, start-width, width)
	if err != nil {
		return nil, err
	}
	n := int(n64)
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		pos := start + i*width
		var v any
		switch vecType {
		case flexVectorInt:
			v, err = flexSint(buf, pos, width)
		case flexVectorUInt:
			v, err = flexUint(buf, pos, width)
		case flexVectorFloat:
			v, err = flexFloatAt(buf, pos, width)
		case flexVectorBool:
			var u uint64
			u, err = flexUint(buf, pos, width)
			v = u != 0
		case flexVectorKey:
			var off uint64
			off, err = flexUint(buf, pos, width)
			if err == nil {
				v, err = flexCString(buf, pos-int(off))
			}
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func flexTarget(buf []byte, pos, width int) (int, error) {
	off, err := flexUint(buf, pos, width)
	if err != nil {
		return 0, err
	}
	target := pos - int(off)
	if target < 0 || target > len(buf) {
		return 0, fmt.Errorf("offset out of bounds at %d", pos)
	}
	return target, nil
}

func flexUint(buf []byte, pos, width int) (uint64, error) {
	if pos < 0 || pos+width > len(buf) {
		return 0, fmt.Errorf("read of %d bytes out of bounds at %d", width, pos)
	}
	switch width {
	case 1:
		return uint64(buf[pos]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf[pos:])), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf[pos:])), nil
	case 8:
		return binary.LittleEndian.Uint64(buf[pos:]), nil
	default:
		return 0, fmt.Errorf("invalid scalar width %d", width)
	}
}

func flexSint(buf []byte, pos, width int) (int64, error) {
	u, err := flexUint(buf, pos, width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return int64(int8(u)), nil
	case 2:
		return int64(int16(u)), nil
	case 4:
		return int64(int32(u)), nil
	default:
		return int64(u), nil
	}
}

func flexFloatAt(buf []byte, pos, width int) (float64, error) {
	u, err := flexUint(buf, pos, width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 4:
		return float64(math.Float32frombits(uint32(u))), nil
	case 8:
		return math.Float64frombits(u), nil
	default:
		return 0, fmt.Errorf("invalid float width %d", width)
	}
}

func flexCString(buf []byte, pos int) (string, error) {
	if pos < 0 || pos >= len(buf) {
		return "", fmt.Errorf("key out of bounds at %d", pos)
	}
	end := pos
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	if end == len(buf) {
		return "", fmt.Errorf("unterminated key at %d", pos)
	}
	return string(buf[pos:end]), nil
}

func flexSizedString(buf []byte, target, width int) (string, error) {
	n, err := flexUint(buf, target-width, width)
	if err != nil {
		return "", err
	}
	if target+int(n) > len(buf) {
		return "", fmt.Errorf("string out of bounds at %d", target)
	}
	return string(buf[target : target+int(n)]), nil
}
