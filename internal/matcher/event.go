package matcher

// Event is a typed attribute vector evaluated against the Tree. Attributes
// set through the builder bind to their CEL variables; attributes marked
// undefined bind to null; attributes never set stay absent, which keeps
// "present but ill-typed" distinct from "not present at all". A predicate
// on an absent or undefined attribute errors (or yields null), so an
// expression whose result depends on it does not match; CEL's || and &&
// still decide from their other operand when that is enough.
type Event struct {
	values map[string]any
}

func (e *Event) bindings() map[string]any {
	return e.values
}

// Len returns the number of bound attributes, undefined markers included.
func (e *Event) Len() int {
	return len(e.values)
}

// EventBuilder populates an Event one attribute at a time.
type EventBuilder struct {
	values map[string]any
}

// NewEventBuilder returns an empty builder.
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{values: make(map[string]any)}
}

// SetBoolean binds a boolean attribute.
func (b *EventBuilder) SetBoolean(name string, v bool) {
	b.values[name] = v
}

// SetInteger binds an integer attribute.
func (b *EventBuilder) SetInteger(name string, v int64) {
	b.values[name] = v
}

// SetFloat binds a float attribute.
func (b *EventBuilder) SetFloat(name string, v float64) {
	b.values[name] = v
}

// SetString binds a string attribute.
func (b *EventBuilder) SetString(name string, v string) {
	b.values[name] = v
}

// SetStringList binds a string-list attribute.
func (b *EventBuilder) SetStringList(name string, v []string) {
	b.values[name] = v
}

// SetIntegerList binds an integer-list attribute.
func (b *EventBuilder) SetIntegerList(name string, v []int64) {
	b.values[name] = v
}

// SetUndefined marks an attribute as present but unusable.
func (b *EventBuilder) SetUndefined(name string) {
	b.values[name] = nil
}

// Build seals the event. The builder must not be reused afterwards.
func (b *EventBuilder) Build() *Event {
	ev := &Event{values: b.values}
	b.values = nil
	return ev
}
