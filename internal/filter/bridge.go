package filter

import (
	"log/slog"

	"github.com/natsift/natsift/internal/config"
	"github.com/natsift/natsift/internal/decode"
	"github.com/natsift/natsift/internal/matcher"
)

// DecodeAndMatch decodes a binary payload under the given format, projects
// its fields through the schema into a typed event, and returns the ids of
// the subscriptions the event satisfies. ok is false when the payload
// could not be decoded to a map or the search itself failed; that is
// distinct from a successful match with zero results.
//
// Keys the schema does not declare are dropped. A declared key whose value
// has the wrong shape is marked undefined rather than failing the message:
// the expression engine can then distinguish "present but unusable" from
// "absent".
func DecodeAndMatch(tree *matcher.Tree, schema *matcher.Schema, format config.Format, payload []byte, log *slog.Logger) ([]uint64, bool) {
	fields, err := decode.Map(format, payload)
	if err != nil {
		log.Debug("payload decode failed", "format", format.String(), "error", err)
		return nil, false
	}

	builder := matcher.NewEventBuilder()
	for key, value := range fields {
		attrType, known := schema.Lookup(key)
		if !known {
			continue
		}
		populateField(builder, key, attrType, value, log)
	}

	ids, err := tree.Search(builder.Build())
	if err != nil {
		log.Warn("expression search failed", "error", err)
		return nil, false
	}
	return ids, true
}

func populateField(b *matcher.EventBuilder, key string, attrType config.AttributeType, value any, log *slog.Logger) {
	switch attrType {
	case config.TypeBoolean:
		if v, ok := value.(bool); ok {
			b.SetBoolean(key, v)
		} else {
			b.SetUndefined(key)
		}
	case config.TypeInteger:
		if v, ok := asInt64(value); ok {
			b.SetInteger(key, v)
		} else {
			b.SetUndefined(key)
		}
	case config.TypeFloat:
		if v, ok := asFloat64(value); ok {
			b.SetFloat(key, v)
		} else if v, ok := asInt64(value); ok {
			b.SetFloat(key, float64(v))
		} else {
			b.SetUndefined(key)
		}
	case config.TypeString:
		if v, ok := value.(string); ok {
			b.SetString(key, v)
		} else {
			b.SetUndefined(key)
		}
	case config.TypeStringList:
		elems, ok := asList(value)
		if !ok {
			b.SetUndefined(key)
			return
		}
		list := make([]string, 0, len(elems))
		for _, e := range elems {
			// Non-string elements are skipped, not undefined.
			if s, ok := e.(string); ok {
				list = append(list, s)
			}
		}
		b.SetStringList(key, list)
	case config.TypeIntegerList:
		elems, ok := asList(value)
		if !ok {
			b.SetUndefined(key)
			return
		}
		list := make([]int64, 0, len(elems))
		for _, e := range elems {
			if n, ok := asInt64(e); ok {
				list = append(list, n)
			}
		}
		b.SetIntegerList(key, list)
	default:
		log.Debug("field has unknown attribute type", "key", key, "type", attrType)
		b.SetUndefined(key)
	}
}

// asInt64 accepts every signed and unsigned integer width the decoders
// produce. Unsigned values above MaxInt64 wrap, matching a plain cast.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch f := v.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	default:
		return 0, false
	}
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []int64:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}
