// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package vartype provides an optional value wrapper that remembers whether it was ever set.
package vartype

// Variable holds a value of type T and tracks whether it has been set. The zero value is an
// unset Variable.
type Variable[T any] struct {
	value T
	isset bool
}

// NewVariable returns a Variable that is set to value.
func NewVariable[T any](value T) Variable[T] {
	return Variable[T]{
		isset: true,
		value: value,
	}
}

// Value returns the stored value, or the zero value of T if unset.
func (v Variable[T]) Value() T {
	return v.value
}

// Set stores val and marks the Variable as set.
func (v *Variable[T]) Set(val T) {
	v.value = val
	v.isset = true
}

// IsSet reports whether the Variable holds a value.
func (v Variable[T]) IsSet() bool {
	return v.isset
}
