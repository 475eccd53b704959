// Package decode turns binary record payloads into generic string-keyed
// maps. Four encodings are supported: MessagePack, CBOR, FlexBuffers and
// Zera. All decoders share one contract: the root of the payload must be a
// map with string keys. Values surface as Go nil, bool, signed or unsigned
// integers (int64/uint64, except MessagePack, which keeps the encoded
// width), float64 (MessagePack may also yield float32), string, []byte,
// []any or nested map[string]any.
package decode

import (
	"errors"
	"fmt"

	"github.com/natsift/natsift/internal/config"
)

// ErrNotMap is returned when a payload decodes successfully but its root
// is not a string-keyed map.
var ErrNotMap = errors.New("payload root is not a map")

// Map decodes a payload under the given format. The error distinguishes
// undecodable bytes from a well-formed payload with a non-map root
// (ErrNotMap); callers treating both as "no match" can ignore the
// distinction.
func Map(format config.Format, payload []byte) (map[string]any, error) {
	switch format {
	case config.FormatMsgPack:
		return msgpackMap(payload)
	case config.FormatCBOR:
		return cborMap(payload)
	case config.FormatFlexBuffers:
		return flexMap(payload)
	case config.FormatZera:
		return zeraMapDecode(payload)
	default:
		return nil, fmt.Errorf("unknown format %v", format)
	}
}
