package model

import (
	"bytes"
	"encoding/json"
)

// Optional is a JSON field that records whether it was present in the
// decoded document. The zero value is absent.
type Optional[T any] struct {
	Value T
	Set   bool
	Null  bool
}

// Some returns a present, non-null Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// Present reports whether the field appeared with a non-null value.
func (o Optional[T]) Present() bool {
	return o.Set && !o.Null
}

// UnmarshalJSON implements json.Unmarshaler. It is only invoked for keys
// present in the input, which is what marks the field as set.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Null = true
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}
