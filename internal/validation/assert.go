// Package validation provides helpers for defensive programming and contract enforcement.
package validation

import (
	"fmt"
	"reflect"
)

// AssertNotNil panics if the provided pointer is nil.
// It is intended for use in constructors and configuration phases where
// dependencies are mandatory (Fail Fast principle).
//
// Usage:
//
//	validation.AssertNotNil(db, "database pool")
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

// AssertImplemented panics if an interface dependency is nil, including a typed nil pointer
// stored in the interface.
//
// Usage:
//
//	validation.AssertImplemented(repo, "record store")
func AssertImplemented(dep any, name string) {
	if IsNil(dep) {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

// IsNil reports whether v is nil or an interface holding a nil pointer, map, slice,
// func or channel.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Note: We use panic here because this is for PROGRAMMER ERROR (misconfiguration),
// not for runtime errors (like "network down").
