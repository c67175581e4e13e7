package flow

import "reflect"

// Option is the result of an operation: either a value to store in the context, or nothing.
type Option[T any] struct {
	value   T
	present bool
}

// Some returns an Option holding v. A nil pointer, map, slice, func, chan or interface counts as
// absent.
func Some[T any](v T) Option[T] {
	return Option[T]{value: v, present: !isNil(v)}
}

// None returns an empty Option.
func None[T any]() Option[T] {
	return Option[T]{}
}

// Get returns the held value and whether there is one.
func (o Option[T]) Get() (T, bool) {
	return o.value, o.present
}

// IsPresent reports whether the Option holds a value.
func (o Option[T]) IsPresent() bool {
	return o.present
}

func isNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface, reflect.UnsafePointer:
		return rv.IsNil()
	default:
		return false
	}
}
