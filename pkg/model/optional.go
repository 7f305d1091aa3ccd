package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Optional holds a value together with whether it was explicitly set.
//
// The zero value is unset. Unset fields are dropped from JSON payloads by the
// omitzero tag and never take part in comparisons against remote state, while
// a field set to "", 0 or false does.
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// None returns an unset Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is set.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether a value was provided.
func (o Optional[T]) IsSet() bool {
	return o.set
}

// IsZero reports whether the Optional is unset. It backs the omitzero tag.
func (o Optional[T]) IsZero() bool {
	return !o.set
}

// OrElse returns the value when set, or fallback otherwise.
func (o Optional[T]) OrElse(fallback T) T {
	if o.set {
		return o.value
	}
	return fallback
}

func (o Optional[T]) anyValue() (any, bool) {
	return o.value, o.set
}

// String implements fmt.Stringer.
func (o Optional[T]) String() string {
	if !o.set {
		return "<unset>"
	}
	return fmt.Sprintf("%v", o.value)
}

// MarshalJSON implements json.Marshaler.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON implements json.Unmarshaler. A JSON null leaves the Optional unset.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Optional[T]{}
		return nil
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Optional[T]{value: v, set: true}
	return nil
}
