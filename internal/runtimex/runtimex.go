// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: github.com/bassosimone/runtimex (as used by the nop package)
//
// runtimex is a tiny personal-utility style package: it is not a
// fetchable third-party module, so its idiom (panic-on-programmer-error
// assertions) is reimplemented here rather than imported.

// Package runtimex provides assertion helpers for invariants that must
// hold by construction. Violations indicate a programming error in this
// module, not a runtime condition callers should handle.
package runtimex

import "fmt"

// Assert panics with msg if cond is false.
func Assert(cond bool, msg string) {
	if !cond {
		panic("runtimex: assertion failed: " + msg)
	}
}

// PanicOnError panics if err is non-nil.
func PanicOnError(err error, msg string) {
	if err != nil {
		panic(fmt.Sprintf("runtimex: %s: %s", msg, err.Error()))
	}
}

// PanicOnError1 panics if err is non-nil, otherwise returns value.
func PanicOnError1[T any](value T, err error) T {
	PanicOnError(err, "unexpected error")
	return value
}
