package flow

import (
	"context"
	"reflect"
	"slices"
)

// Context holds the state accumulated across a unit of work. The flow stores every non-nil
// operation result with Put; Put is never called with nil.
type Context interface {
	Put(value any)
}

var _ Context = &TransactionContext{}

// TransactionContext is the default Context. Values are keyed by their dynamic type, so the last
// value put for a given type wins. The full sequence of puts is kept as well.
//
// TransactionContext is owned by a single flow and is not safe for concurrent use.
type TransactionContext struct {
	ambient context.Context
	values  map[reflect.Type]any
	history []any
}

// NewTransactionContext creates an empty context bound to the ambient ctx.
func NewTransactionContext(ctx context.Context) *TransactionContext {
	if ctx == nil {
		ctx = context.Background()
	}

	return &TransactionContext{
		ambient: ctx,
		values:  make(map[reflect.Type]any),
	}
}

// Put stores value under its dynamic type.
func (c *TransactionContext) Put(value any) {
	c.values[reflect.TypeOf(value)] = value
	c.history = append(c.history, value)
}

// Len returns the number of distinct keys stored.
func (c *TransactionContext) Len() int {
	return len(c.values)
}

// Values returns every value put so far, in insertion order, including values that were later
// replaced by a value of the same type.
func (c *TransactionContext) Values() []any {
	return slices.Clone(c.history)
}

// Ambient returns the context.Context operations should use for I/O.
func (c *TransactionContext) Ambient() context.Context {
	return c.ambient
}

// Bind replaces the ambient context.Context and returns the previous one.
func (c *TransactionContext) Bind(ctx context.Context) context.Context {
	prev := c.ambient
	c.ambient = ctx

	return prev
}

// Get returns the value stored for type T. T must be the exact dynamic type the value was put with.
func Get[T any](c *TransactionContext) (T, bool) {
	v, ok := c.values[reflect.TypeFor[T]()]
	if !ok {
		var zero T
		return zero, false
	}

	return v.(T), true
}
