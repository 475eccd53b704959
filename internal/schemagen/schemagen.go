// Package schemagen infers an attribute schema from a sample binary
// payload and renders it as the `attributes:` YAML block the sidecar
// config expects. It shares the payload decoders with the matching path
// but is otherwise independent of it.
package schemagen

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/natsift/natsift/internal/config"
	"github.com/natsift/natsift/internal/decode"
)

// Infer decodes the sample payload and derives one attribute per root
// field. Fields whose type cannot be determined default to string and are
// reported through warn.
func Infer(payload []byte, format config.Format, warn func(field string)) ([]config.AttributeDef, error) {
	fields, err := decode.Map(format, payload)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]config.AttributeDef, 0, len(names))
	for _, name := range names {
		defs = append(defs, config.AttributeDef{
			Name: name,
			Type: inferType(fields[name], name, warn),
		})
	}
	return defs, nil
}

func inferType(value any, field string, warn func(field string)) config.AttributeType {
	switch v := value.(type) {
	case bool:
		return config.TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return config.TypeInteger
	case float32, float64:
		return config.TypeFloat
	case string:
		return config.TypeString
	case []any:
		if len(v) > 0 {
			switch v[0].(type) {
			case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
				return config.TypeIntegerList
			}
		}
		return config.TypeStringList
	case []int64:
		return config.TypeIntegerList
	case []string:
		return config.TypeStringList
	default:
		// Null or an unrecognized shape; string is the safe fallback.
		if warn != nil {
			warn(field)
		}
		return config.TypeString
	}
}

// WriteYAML renders the attribute block in config-file form.
func WriteYAML(w io.Writer, defs []config.AttributeDef) error {
	if _, err := fmt.Fprintln(w, "attributes:"); err != nil {
		return err
	}
	for _, d := range defs {
		if _, err := fmt.Fprintf(w, "  - name: %s\n    type: %s\n", d.Name, d.Type); err != nil {
			return err
		}
	}
	return nil
}

// FromFile reads a sample payload from disk, infers its schema and writes
// the YAML block to w. Warnings go to stderr.
func FromFile(path string, format config.Format, w io.Writer) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sample: %w", err)
	}
	defs, err := Infer(payload, format, func(field string) {
		fmt.Fprintf(os.Stderr, "warning: field %q is null/unknown, defaulting to string\n", field)
	})
	if err != nil {
		return err
	}
	return WriteYAML(w, defs)
}
