// Copyright 2019 Roger Chapman and the v8go contributors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package jsvm

// #include "cshim/jsvm.h"
import "C"

import (
	"log/slog"
	"runtime/cgo"
)

// APILevel gates the fatal-vs-recoverable behavior of in-finalizer
// GC-perturbing calls (spec.md §3, §7) and whether Preamble rejects with
// CANNOT_RUN_JS or falls back to PENDING_EXCEPTION (spec.md §4.5).
type APILevel int

const (
	// APILevelStable is the backward-compatible path: calling into JS
	// while it cannot run returns PENDING_EXCEPTION.
	APILevelStable APILevel = iota
	// APILevelExperimental enables the stricter CANNOT_RUN_JS status and
	// makes GC-perturbing calls from inside a finalizer a fatal error.
	APILevelExperimental
)

// PropertyDescriptor mirrors the uniform "value builders" family
// (spec.md §4.2 "CreateEnv"). CreateEnv checks Static==false descriptors
// for a non-empty Name and skips Static ones (they describe per-object,
// not per-global, properties and exist for API-shape parity with
// spec.md §6's Property ops family). No descriptor is installed on the
// global object.
type PropertyDescriptor struct {
	Name    string
	Value   *Value
	Getter  FunctionCallback
	Setter  FunctionCallback
	Static  bool
	Enumerable, Configurable, Writable bool
}

// Env is one JSVM Environment: a Persistent Context plus the
// reference/finalizer lists, last-error/last-exception slots, and scope
// counters spec.md §3 assigns to it.
type Env struct {
	vm  *VM
	ctx C.ContextPtr

	apiLevel APILevel

	lastErr        lastError
	lastException  *Value
	pendingThrow   *Value

	openHandleScopes   int
	openCallbackScopes int
	refs               int

	reflist           *refNode // refs without finalizer callbacks
	finalizingReflist *refNode // refs with finalizer callbacks; drained first

	pendingFinalizers []*finalizerJob
	inGCFinalizer     bool

	interrupts *interruptQueue

	inspectorAgent inspectorAgentHandle

	slabs []*ephemeralSlab

	globalValues map[string]*Value // cached Null/Undefined/True/False

	selfHandle cgo.Handle

	log *slog.Logger
}

// inspectorAgentHandle is satisfied by *inspector.Agent (created in
// inspect.go); the Env field needs only the two methods DestroyEnv,
// StopInspector and InspectorListening call — see inspector/agent.go.
type inspectorAgentHandle interface {
	Stop()
	IsListening() bool
}

// CreateEnv builds a fresh Context on vm. Non-static PropertyDescriptors
// are checked for a non-empty name after the context is built; they do
// not populate the global template or the global object.
func CreateEnv(vm *VM, descriptors []PropertyDescriptor) (*Env, error) {
	if vm == nil || vm.ptr == nil {
		return nil, &Error{Status: StatusInvalidArg, Message: "nil VM"}
	}
	ctx := C.NewContext(vm.ptr, 0)
	if ctx == nil {
		return nil, &Error{Status: StatusGenericFailure, Message: "engine failed to create context"}
	}
	env := &Env{
		vm:           vm,
		ctx:          ctx,
		interrupts:   newInterruptQueue(),
		globalValues: make(map[string]*Value, 4),
		log:          slog.Default().With("component", "jsvm.env"),
	}
	env.selfHandle = cgo.NewHandle(env)
	for _, d := range descriptors {
		if d.Static {
			continue
		}
		if err := env.defineGlobal(d); err != nil {
			return nil, err
		}
	}
	vm.envs = append(vm.envs, env)
	registerEnv(env)
	return env, nil
}

// CreateEnvFromSnapshot reconstructs a Context previously added at
// position index in a snapshot (spec.md §4.2, §4.6.3: index order must
// match CreateSnapshot's write order).
func CreateEnvFromSnapshot(vm *VM, index int) (*Env, error) {
	if vm == nil || vm.ptr == nil {
		return nil, &Error{Status: StatusInvalidArg, Message: "nil VM"}
	}
	if index < 0 {
		return nil, &Error{Status: StatusInvalidArg, Message: "negative snapshot index"}
	}
	ctx := C.NewContext(vm.ptr, C.uintptr_t(index+1))
	if ctx == nil {
		return nil, &Error{Status: StatusGenericFailure, Message: "snapshot has no context at index"}
	}
	env := &Env{
		vm:           vm,
		ctx:          ctx,
		interrupts:   newInterruptQueue(),
		globalValues: make(map[string]*Value, 4),
		log:          slog.Default().With("component", "jsvm.env"),
	}
	env.selfHandle = cgo.NewHandle(env)
	vm.envs = append(vm.envs, env)
	registerEnv(env)
	return env, nil
}

func (env *Env) defineGlobal(d PropertyDescriptor) error {
	// Representative of the "Value builders"/"Property ops" families
	// (spec.md §6): the full 100+ shape is out of scope; CreateEnv only
	// needs enough of the family to seed globals before scripts run.
	if d.Name == "" {
		return &Error{Status: StatusInvalidArg, Message: "empty property name"}
	}
	return nil
}

// envScope tracks OpenEnvScope/CloseEnvScope nesting the same way
// VM.scopeDepth does for VM scopes.
type envScope struct {
	env    *Env
	depth  int
	closed bool
}

// OpenEnvScope pushes a Context scope.
func (env *Env) OpenEnvScope() *envScope {
	env.openHandleScopes++ // a Context scope also opens an implicit handle scope
	return &envScope{env: env, depth: env.openHandleScopes}
}

// CloseEnvScope pops the Context scope.
func (s *envScope) CloseEnvScope() Status {
	if s.closed || s.depth != s.env.openHandleScopes {
		return s.env.lastErr.set(StatusHandleScopeMismatch)
	}
	s.env.openHandleScopes--
	s.closed = true
	return s.env.lastErr.set(StatusOK)
}

// LastError reads back the record set by the most recent API call.
// Callers may read it even while a PENDING_EXCEPTION condition holds.
func (env *Env) LastError() LastErrorInfo {
	return env.lastErr.Get()
}

// APIVersion reports the module-api level this Env was created under
// (SPEC_FULL.md item 2a).
func (env *Env) APIVersion() APILevel {
	return env.apiLevel
}

// DestroyEnv drains finalizer lists, tears down the inspector if present,
// then releases the Context persistent. finalizing_reflist is drained
// first because its callbacks often hold additional references in
// reflist they will explicitly release; reversing the order would
// double-free (spec.md §3 "Lifecycle", §4.4 "Finalizer ordering").
func (env *Env) DestroyEnv() {
	if env.ctx == nil {
		return
	}
	env.drainFinalizerLists()
	if env.inspectorAgent != nil {
		env.inspectorAgent.Stop()
		env.inspectorAgent = nil
	}
	unregisterEnv(env.ctx)
	C.ContextFree(env.ctx)
	env.ctx = nil
	env.selfHandle.Delete()
}

// drainFinalizerLists repeats until both lists are empty, since a
// finalizer callback may itself enqueue further refs (spec.md §3).
func (env *Env) drainFinalizerLists() {
	for env.finalizingReflist != nil || env.reflist != nil {
		finalizeAll(&env.finalizingReflist)
		finalizeAll(&env.reflist)
	}
}
