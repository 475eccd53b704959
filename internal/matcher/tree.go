// Package matcher compiles boolean attribute expressions into an immutable
// index and evaluates typed events against it. Expressions are CEL; every
// schema attribute is declared as a typed top-level CEL variable, so bad
// references and type mismatches are rejected at subscribe time rather
// than at match time.
package matcher

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/natsift/natsift/internal/config"
)

// ErrInvalidExpression is returned when an expression fails to compile
// against the schema, or does not evaluate to a boolean.
var ErrInvalidExpression = errors.New("invalid expression")

type entry struct {
	id      uint64
	program cel.Program
}

// TreeBuilder accepts (id, expression) insertions and seals them into a
// Tree. Not safe for concurrent use; the built Tree is.
type TreeBuilder struct {
	env     *cel.Env
	entries []entry
}

// NewTreeBuilder creates a builder whose CEL environment declares one
// typed variable per schema attribute.
func NewTreeBuilder(schema *Schema) (*TreeBuilder, error) {
	opts := make([]cel.EnvOption, 0, schema.Len())
	for _, d := range schema.Defs() {
		opts = append(opts, cel.Variable(d.Name, celType(d.Type)))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create expression environment: %w", err)
	}
	return &TreeBuilder{env: env}, nil
}

func celType(t config.AttributeType) *cel.Type {
	switch t {
	case config.TypeBoolean:
		return cel.BoolType
	case config.TypeInteger:
		return cel.IntType
	case config.TypeFloat:
		return cel.DoubleType
	case config.TypeString:
		return cel.StringType
	case config.TypeStringList:
		return cel.ListType(cel.StringType)
	case config.TypeIntegerList:
		return cel.ListType(cel.IntType)
	default:
		return cel.DynType
	}
}

// Insert compiles the expression and records it under the given id.
// A compile failure or a non-boolean expression yields
// ErrInvalidExpression.
func (b *TreeBuilder) Insert(id uint64, expression string) error {
	ast, issues := b.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpression, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return fmt.Errorf("%w: expression is not boolean (got %s)", ErrInvalidExpression, ast.OutputType())
	}
	prg, err := b.env.Program(ast)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	b.entries = append(b.entries, entry{id: id, program: prg})
	return nil
}

// Build seals the inserted expressions into an immutable Tree. The builder
// must not be reused afterwards.
func (b *TreeBuilder) Build() *Tree {
	entries := b.entries
	b.entries = nil
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	return &Tree{entries: entries}
}

// Tree is a sealed set of compiled expressions. Read-only; safe for
// concurrent Search calls.
type Tree struct {
	entries []entry
}

// Search evaluates the event against every expression and returns the ids
// of those it satisfies, in ascending order. A per-expression evaluation
// error (absent or undefined attribute, type clash at runtime) means that
// expression does not match; it never fails the whole search.
func (t *Tree) Search(ev *Event) (ids []uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			ids = nil
			err = fmt.Errorf("expression search panicked: %v", r)
		}
	}()

	bindings := ev.bindings()
	for _, e := range t.entries {
		out, _, evalErr := e.program.Eval(bindings)
		if evalErr != nil {
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			ids = append(ids, e.id)
		}
	}
	return ids, nil
}

// Len returns the number of indexed expressions.
func (t *Tree) Len() int {
	return len(t.entries)
}
