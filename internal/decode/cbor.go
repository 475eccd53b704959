package decode

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// cborDecMode decodes maps into map[string]any so that non-string keys
// fail loudly instead of surfacing as map[any]any.
var cborDecMode, _ = cbor.DecOptions{
	DefaultMapType: reflect.TypeOf(map[string]any(nil)),
}.DecMode()

func cborMap(payload []byte) (map[string]any, error) {
	var root any
	if err := cborDecMode.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("cbor: %w", err)
	}
	m, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cbor: %w: root is %T", ErrNotMap, root)
	}
	return m, nil
}
