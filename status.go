// Copyright 2019 Roger Chapman and the v8go contributors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package jsvm

import "fmt"

// Status is the closed set of result codes every JSVM API call returns.
// It deliberately is not a Go `error`: the ABI this package exposes is a
// C function returning an integer code, and a status.go caller on the C
// side has no way to unwrap a Go error value. The `error` values this
// package hands back are *Error (exception.go), from the VM/Env
// constructors.
type Status int

const (
	StatusOK Status = iota
	StatusInvalidArg
	StatusObjectExpected
	StatusStringExpected
	StatusNameExpected
	StatusFunctionExpected
	StatusNumberExpected
	StatusBooleanExpected
	StatusArrayExpected
	StatusGenericFailure
	StatusPendingException
	StatusCancelled
	StatusEscapeCalledTwice
	StatusHandleScopeMismatch
	StatusCallbackScopeMismatch
	StatusQueueFull
	StatusClosing
	StatusBigintExpected
	StatusDateExpected
	StatusArraybufferExpected
	StatusDetachableArraybufferExpected
	StatusWouldDeadlock
	StatusNoExternalBuffersAllowed
	StatusCannotRunJS

	statusCount // sentinel; keep last
)

// statusMessages is indexed by Status. Its length is checked against
// statusCount at init time so a forgotten entry fails loudly instead of
// silently returning an empty message.
var statusMessages = [...]string{
	StatusOK:                            "ok",
	StatusInvalidArg:                    "invalid argument",
	StatusObjectExpected:                "object expected",
	StatusStringExpected:                "string expected",
	StatusNameExpected:                  "name expected",
	StatusFunctionExpected:              "function expected",
	StatusNumberExpected:                "number expected",
	StatusBooleanExpected:               "boolean expected",
	StatusArrayExpected:                 "array expected",
	StatusGenericFailure:                "generic failure",
	StatusPendingException:              "a pending JavaScript exception exists",
	StatusCancelled:                     "async work cancelled",
	StatusEscapeCalledTwice:             "escape called twice",
	StatusHandleScopeMismatch:           "handle scope mismatch",
	StatusCallbackScopeMismatch:         "callback scope mismatch",
	StatusQueueFull:                     "queue full",
	StatusClosing:                       "jsvm is closing",
	StatusBigintExpected:                "bigint expected",
	StatusDateExpected:                  "date expected",
	StatusArraybufferExpected:           "arraybuffer expected",
	StatusDetachableArraybufferExpected: "detachable arraybuffer expected",
	StatusWouldDeadlock:                 "would deadlock",
	StatusNoExternalBuffersAllowed:      "no external buffers allowed",
	StatusCannotRunJS:                   "cannot run js",
}

func init() {
	if len(statusMessages) != int(statusCount) {
		panic(fmt.Sprintf("jsvm: statusMessages has %d entries, want %d", len(statusMessages), statusCount))
	}
}

func (s Status) String() string {
	if int(s) < 0 || int(s) >= len(statusMessages) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusMessages[s]
}

// LastErrorInfo is the per-Env record readable immediately after any API
// call, including while a pending exception exists.
type LastErrorInfo struct {
	ErrorCode      Status
	EngineErrorCode uint32
	EngineReserved  uintptr
	ErrorMessage    string
}

// lastError lives on Env. OK clears it; anything else sets it before the
// call returns. It is overwritten, never appended to, by the next call.
type lastError struct {
	info        LastErrorInfo
	messageSet  bool
}

func (le *lastError) set(status Status) Status {
	le.info.ErrorCode = status
	le.info.EngineErrorCode = 0
	le.info.EngineReserved = 0
	le.info.ErrorMessage = ""
	le.messageSet = false
	return status
}

func (le *lastError) setEngine(status Status, engineCode uint32) Status {
	le.set(status)
	le.info.EngineErrorCode = engineCode
	return status
}

func (le *lastError) clear() {
	le.set(StatusOK)
}

// Get fills in ErrorMessage lazily from the constant message table, so a
// host that never asks for last-error text never pays for formatting it.
func (le *lastError) Get() LastErrorInfo {
	if !le.messageSet {
		le.info.ErrorMessage = le.info.ErrorCode.String()
		le.messageSet = true
	}
	return le.info
}
