package flow

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Intent marks when an operation expects to run relative to a datastore transaction. The flow does
// not look at it; it is consumed by the session wiring that opens and commits transactions.
type Intent int

const (
	// IntentNonTransactional operations run with no transaction at all.
	IntentNonTransactional Intent = iota + 1
	// IntentTransactional operations run inside a transaction.
	IntentTransactional
	// IntentPreTransactional operations run before the transaction opens.
	IntentPreTransactional
)

func (i Intent) String() string {
	switch i {
	case IntentNonTransactional:
		return "non-transactional"
	case IntentTransactional:
		return "transactional"
	case IntentPreTransactional:
		return "pre-transactional"
	default:
		return fmt.Sprintf("Intent(%d)", int(i))
	}
}

// MarshalText implements encoding.TextMarshaler so reports serialize the intent by name.
func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText parses an intent name written by MarshalText.
func (i *Intent) UnmarshalText(text []byte) error {
	for _, candidate := range []Intent{IntentNonTransactional, IntentTransactional, IntentPreTransactional} {
		if candidate.String() == string(text) {
			*i = candidate
			return nil
		}
	}

	return fmt.Errorf("unknown intent %q", text)
}

// Operation is a unit of work run against the context C. Apply returns the value to store in the
// context, or None when there is nothing to store.
type Operation[C Context] interface {
	Intent() Intent
	Apply(c C) (Option[any], error)
}

// NonTransactional adapts fn into an operation that runs with no transaction.
func NonTransactional[C Context, T any](fn func(c C) (Option[T], error)) Operation[C] {
	return &funcOperation[C, T]{intent: IntentNonTransactional, fn: fn}
}

// Transactional adapts fn into an operation that runs inside a transaction.
func Transactional[C Context, T any](fn func(c C) (Option[T], error)) Operation[C] {
	return &funcOperation[C, T]{intent: IntentTransactional, fn: fn}
}

// PreTransactional adapts fn into an operation that runs before the transaction opens.
func PreTransactional[C Context, T any](fn func(c C) (Option[T], error)) Operation[C] {
	return &funcOperation[C, T]{intent: IntentPreTransactional, fn: fn}
}

type funcOperation[C Context, T any] struct {
	intent Intent
	fn     func(c C) (Option[T], error)
}

func (o *funcOperation[C, T]) Intent() Intent {
	return o.intent
}

func (o *funcOperation[C, T]) Apply(c C) (Option[any], error) {
	out, err := o.fn(c)
	if err != nil {
		return None[any](), err
	}

	v, ok := out.Get()
	if !ok {
		return None[any](), nil
	}

	return Some[any](v), nil
}

func (o *funcOperation[C, T]) isNil() bool {
	return o == nil || o.fn == nil
}

// Definition is the metadata of an operation: ID, version and description. It is recorded in step
// reports when the operation carries one, see WithDefinition.
type Definition struct {
	ID          string          `json:"id" yaml:"id"`
	Version     *semver.Version `json:"version" yaml:"version"`
	Description string          `json:"description" yaml:"description"`
}

// Defined is implemented by operations that carry a Definition.
type Defined interface {
	Def() Definition
}

// WithDefinition attaches def to op. A nil op is returned as is so the flow still rejects it.
func WithDefinition[C Context](def Definition, op Operation[C]) Operation[C] {
	if IsNilOperation(op) {
		return op
	}

	return &definedOperation[C]{Operation: op, def: def}
}

type definedOperation[C Context] struct {
	Operation[C]
	def Definition
}

func (o *definedOperation[C]) Def() Definition {
	return o.def
}

// IsNilOperation reports whether op is unusable: a nil interface, a nil pointer implementation, or
// an operation built from a nil func.
func IsNilOperation[C Context](op Operation[C]) bool {
	if op == nil {
		return true
	}
	if n, ok := op.(interface{ isNil() bool }); ok {
		return n.isNil()
	}

	return isNil(op)
}
