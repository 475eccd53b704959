package matcher

import (
	"github.com/natsift/natsift/internal/config"
)

// Schema is the indexed, immutable view of the declared attributes.
// Built once at startup; lookups are safe from any goroutine.
type Schema struct {
	defs  []config.AttributeDef
	types map[string]config.AttributeType
}

// NewSchema indexes the ordered attribute definitions.
func NewSchema(defs []config.AttributeDef) *Schema {
	s := &Schema{
		defs:  append([]config.AttributeDef(nil), defs...),
		types: make(map[string]config.AttributeType, len(defs)),
	}
	for _, d := range defs {
		s.types[d.Name] = d.Type
	}
	return s
}

// Lookup returns the declared type of an attribute.
func (s *Schema) Lookup(name string) (config.AttributeType, bool) {
	t, ok := s.types[name]
	return t, ok
}

// Defs returns the ordered attribute definitions.
func (s *Schema) Defs() []config.AttributeDef {
	return s.defs
}

// Len returns the number of declared attributes.
func (s *Schema) Len() int {
	return len(s.defs)
}
