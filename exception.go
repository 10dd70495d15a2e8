// Copyright 2019 Roger Chapman and the v8go contributors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package jsvm

import "fmt"

// Error is a non-exception API failure: a Status plus a human-readable
// message. It is the Go-side mirror of LastErrorInfo for callers who
// prefer idiomatic `error` handling over reading Env.LastError().
type Error struct {
	Status  Status
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("jsvm: %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("jsvm: %s", e.Status)
}

// JSError describes an exception thrown by running JavaScript as a Go
// `error`. No API in this package returns one: a failing call reports
// PENDING_EXCEPTION and GetAndClearLastException hands back the thrown
// value as a *Value.
type JSError struct {
	Message    string
	Location   string
	StackTrace string
	Value      *Value // the thrown value itself; may be any JS value, not just Error
}

func (e *JSError) Error() string {
	if e.Message == "" {
		return "jsvm: JavaScript exception"
	}
	return e.Message
}

// Throw schedules value to be thrown as a JS exception when control
// returns to JavaScript. It returns OK; the *next* API call's Preamble
// is what turns this into StatusPendingException (spec.md §4.5 "Throw
// family").
func (env *Env) Throw(value *Value) Status {
	env.pendingThrow = value
	return env.lastErr.set(StatusOK)
}

// ThrowError is a convenience wrapper constructing `new Error(msg)` (with
// an optional `code` property) and throwing it.
func (env *Env) ThrowError(code, msg string) Status {
	v := env.newErrorValue(code, msg, "Error")
	return env.Throw(v)
}

// ThrowTypeError / ThrowRangeError mirror ThrowError for the matching
// native error constructors.
func (env *Env) ThrowTypeError(code, msg string) Status {
	return env.Throw(env.newErrorValue(code, msg, "TypeError"))
}

func (env *Env) ThrowRangeError(code, msg string) Status {
	return env.Throw(env.newErrorValue(code, msg, "RangeError"))
}

// GetAndClearLastException drains the stored exception, or else a throw
// scheduled by Throw that no call has delivered yet. Calling it when no
// exception is pending returns Undefined, not an error.
func (env *Env) GetAndClearLastException() *Value {
	v := env.lastException
	env.lastException = nil
	if v == nil {
		v = env.pendingThrow
		env.pendingThrow = nil
	}
	if v == nil {
		return env.Undefined()
	}
	return v
}

// IsExceptionPending reports whether the Preamble will reject the next
// call with StatusPendingException.
func (env *Env) IsExceptionPending() bool {
	return env.lastException != nil || env.pendingThrow != nil
}

// cJSVMError is the cgo-visible shape of a thrown exception, declared
// here (rather than importing "C" into this file) so exception.go stays
// readable as the pure-Go half of the exception plane; script.go and
// the other cgo call sites hand it in as plain fields.
type cJSVMError struct {
	Msg, Location, Stack string
}

// newJSErrorValueFields builds the *Value this package stores as
// lastException from the fields of a cshim JSVMError. The thrown value
// itself is represented as an Object Value carrying the message, per
// spec.md S2 ("exception... whose message property reads \"x\"");
// location and stack are not kept on it.
func newJSErrorValueFields(env *Env, f cJSVMError) *Value {
	v := &Value{env: env, kind: KindObject}
	v.privateSet(nativeErrorBrandKey, "Error")
	v.privateSet(errorMessageKey, f.Msg)
	return v
}
