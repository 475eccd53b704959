// Package decodetest builds FlexBuffers and Zera payloads for tests. The
// two formats have no importable Go encoder, and production code only ever
// reads them, so the writers live here.
package decodetest

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Zera encodes a value in the Zera tagged binary format. Supported kinds:
// nil, bool, int, int64, float64, string, []any, map[string]any. Panics on
// anything else; this is a test helper.
func Zera(v any) []byte {
	return zeraAppend(nil, v)
}

func zeraAppend(b []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(b, 0x00)
	case bool:
		if x {
			return append(b, 0x02)
		}
		return append(b, 0x01)
	case int:
		return zeraAppend(b, int64(x))
	case int64:
		b = append(b, 0x03)
		return binary.LittleEndian.AppendUint64(b, uint64(x))
	case float64:
		b = append(b, 0x04)
		return binary.LittleEndian.AppendUint64(b, math.Float64bits(x))
	case string:
		b = append(b, 0x05)
		b = binary.LittleEndian.AppendUint32(b, uint32(len(x)))
		return append(b, x...)
	case []any:
		b = append(b, 0x06)
		b = binary.LittleEndian.AppendUint32(b, uint32(len(x)))
		for _, e := range x {
			b = zeraAppend(b, e)
		}
		return b
	case map[string]any:
		b = append(b, 0x07)
		b = binary.LittleEndian.AppendUint32(b, uint32(len(x)))
		for _, k := range sortedKeys(x) {
			b = binary.LittleEndian.AppendUint32(b, uint32(len(k)))
			b = append(b, k...)
			b = zeraAppend(b, x[k])
		}
		return b
	default:
		panic(fmt.Sprintf("decodetest: unsupported zera value %T", v))
	}
}

// FlexMap encodes a flat map as a FlexBuffers buffer with 1-byte widths.
// Supported values: bool, int and int64 (int8 range), float64, string,
// []int64 (int8 range), []string. Every backward offset must fit in one
// byte, so the whole map must stay small; panics if a value or an offset
// does not fit.
func FlexMap(m map[string]any) []byte {
	const (
		typeInt           = 1
		typeFloatIndirect = 8
		typeMap           = 9
		typeVectorInt     = 11
		typeVectorKey     = 14
		typeString        = 5
		typeBool          = 26
	)

	keys := sortedKeys(m)
	var buf []byte

	// Key cstrings, then the keys vector (length byte + offsets).
	keyPos := make([]int, len(keys))
	for i, k := range keys {
		keyPos[i] = len(buf)
		buf = append(buf, k...)
		buf = append(buf, 0)
	}
	buf = append(buf, byte(len(keys)))
	keysVecStart := len(buf)
	for i := range keys {
		buf = append(buf, backOffset(len(buf), keyPos[i]))
	}

	// Out-of-line value payloads.
	type slot struct {
		packed  byte
		inline  byte
		dataPos int // -1 for inline values
	}
	slots := make([]slot, len(keys))
	for i, k := range keys {
		switch v := m[k].(type) {
		case bool:
			var b byte
			if v {
				b = 1
			}
			slots[i] = slot{packed: typeBool << 2, inline: b, dataPos: -1}
		case int:
			slots[i] = slot{packed: typeInt << 2, inline: inlineInt8(int64(v)), dataPos: -1}
		case int64:
			slots[i] = slot{packed: typeInt << 2, inline: inlineInt8(v), dataPos: -1}
		case float64:
			pos := len(buf)
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
			slots[i] = slot{packed: typeFloatIndirect<<2 | 3, dataPos: pos}
		case string:
			buf = append(buf, byte(len(v)))
			pos := len(buf)
			buf = append(buf, v...)
			buf = append(buf, 0)
			slots[i] = slot{packed: typeString << 2, dataPos: pos}
		case []int64:
			buf = append(buf, byte(len(v)))
			pos := len(buf)
			for _, e := range v {
				buf = append(buf, inlineInt8(e))
			}
			slots[i] = slot{packed: typeVectorInt << 2, dataPos: pos}
		case []string:
			elemPos := make([]int, len(v))
			for j, s := range v {
				elemPos[j] = len(buf)
				buf = append(buf, s...)
				buf = append(buf, 0)
			}
			buf = append(buf, byte(len(v)))
			pos := len(buf)
			for j := range v {
				buf = append(buf, backOffset(len(buf), elemPos[j]))
			}
			slots[i] = slot{packed: typeVectorKey << 2, dataPos: pos}
		default:
			panic(fmt.Sprintf("decodetest: unsupported flexbuffers value %T", v))
		}
	}

	// Map meta: keys vector offset, keys width, length, then the value
	// slots and their packed types.
	buf = append(buf, backOffset(len(buf), keysVecStart))
	buf = append(buf, 1)
	buf = append(buf, byte(len(keys)))
	valuesStart := len(buf)
	for _, s := range slots {
		if s.dataPos < 0 {
			buf = append(buf, s.inline)
		} else {
			buf = append(buf, backOffset(len(buf), s.dataPos))
		}
	}
	for _, s := range slots {
		buf = append(buf, s.packed)
	}

	// Root: offset to the values vector, packed type, root width.
	buf = append(buf, backOffset(len(buf), valuesStart))
	buf = append(buf, typeMap<<2)
	buf = append(buf, 1)
	return buf
}

func backOffset(from, to int) byte {
	d := from - to
	if d < 0 || d > 255 {
		panic(fmt.Sprintf("decodetest: offset %d does not fit in one byte", d))
	}
	return byte(d)
}

func inlineInt8(v int64) byte {
	if v < math.MinInt8 || v > math.MaxInt8 {
		panic(fmt.Sprintf("decodetest: int %d does not fit inline", v))
	}
	return byte(int8(v))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
