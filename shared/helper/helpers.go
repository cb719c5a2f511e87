// Package helper holds small generic helpers shared across packages.
package helper

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrUnexpectedType reports a value that does not have the requested type.
var ErrUnexpectedType = errors.New("unexpected type")

// GetTypedValueOf calls getFn and asserts its result to T.
// Errors from getFn are returned as they are; a nil result yields T's zero value.
func GetTypedValueOf[T any](getFn func() (any, error)) (T, error) {
	var zero T

	res, err := getFn()
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}

	val, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %v", ErrUnexpectedType, res, reflect.TypeFor[T]())
	}
	return val, nil
}
