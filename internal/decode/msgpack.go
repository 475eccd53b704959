package decode

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

func msgpackMap(payload []byte) (map[string]any, error) {
	var root any
	if err := msgpack.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("msgpack: %w", err)
	}
	switch m := root.(type) {
	case map[string]any:
		return m, nil
	case map[any]any:
		// Maps with non-string keys decode this way; the map is accepted
		// only if every key is a string, and any other key fails the root
		// contract for the whole payload.
		out := make(map[string]any, len(m))
		for k, v := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("msgpack: %w: non-string key %T", ErrNotMap, k)
			}
			out[ks] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("msgpack: %w: root is %T", ErrNotMap, root)
	}
}
