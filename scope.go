// Copyright 2019 Roger Chapman and the v8go contributors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package jsvm

// #include "cshim/jsvm.h"
import "C"

// HandleScope roots engine Local handles opened against an Env. Scopes
// must close in strictly LIFO order (spec.md §4.3); Env.open_handle_scopes
// tracks depth so a mismatched close is detected rather than corrupting
// the stack silently.
type HandleScope struct {
	env   *Env
	ptr   C.HandleScopePtr
	depth int
	slab  *ephemeralSlab
	closed bool
}

// OpenHandleScope pushes a new HandleScope on env.
func (env *Env) OpenHandleScope() *HandleScope {
	env.openHandleScopes++
	hs := &HandleScope{
		env:   env,
		ptr:   C.OpenHandleScope(env.vm.ptr),
		depth: env.openHandleScopes,
	}
	hs.slab = env.pushSlab(hs.depth)
	return hs
}

// Close pops hs. Returns StatusHandleScopeMismatch if hs is not the
// top-of-stack scope — a programmer error the implementation may also
// choose to treat as fatal (spec.md §7).
func (hs *HandleScope) Close() Status {
	if hs.closed {
		return hs.env.lastErr.set(StatusHandleScopeMismatch)
	}
	if hs.depth != hs.env.openHandleScopes {
		return hs.env.lastErr.set(StatusHandleScopeMismatch)
	}
	hs.env.popSlab(hs.depth)
	C.CloseHandleScope(hs.ptr)
	hs.env.openHandleScopes--
	hs.closed = true
	hs.env.lastErr.clear()
	return StatusOK
}

// EscapableHandleScope additionally owns one escape slot: exactly one
// Escape call may promote a value to the enclosing scope before Close.
type EscapableHandleScope struct {
	env      *Env
	ptr      C.EscapableHandleScopePtr
	depth    int
	slab     *ephemeralSlab
	escaped  bool
	closed   bool
}

// OpenEscapableHandleScope pushes a new EscapableHandleScope on env.
func (env *Env) OpenEscapableHandleScope() *EscapableHandleScope {
	env.openHandleScopes++
	es := &EscapableHandleScope{
		env:   env,
		ptr:   C.OpenEscapableHandleScope(env.vm.ptr),
		depth: env.openHandleScopes,
	}
	es.slab = env.pushSlab(es.depth)
	return es
}

// Escape promotes v so it survives Close into the enclosing scope. A
// second call on the same scope returns StatusEscapeCalledTwice without
// promoting v (spec.md §4.3, testable property #7).
func (es *EscapableHandleScope) Escape(v *Value) (*Value, Status) {
	if es.escaped {
		return nil, es.env.lastErr.set(StatusEscapeCalledTwice)
	}
	es.escaped = true
	escaped := C.EscapableHandleScopeEscape(es.ptr, v.ref)
	es.env.lastErr.clear()
	return &Value{ref: escaped, env: es.env, kind: v.kind, str: v.str, num: v.num, boolean: v.boolean, private: v.private}, StatusOK
}

// Close pops es, same LIFO discipline as HandleScope.Close.
func (es *EscapableHandleScope) Close() Status {
	if es.closed {
		return es.env.lastErr.set(StatusHandleScopeMismatch)
	}
	if es.depth != es.env.openHandleScopes {
		return es.env.lastErr.set(StatusHandleScopeMismatch)
	}
	es.env.popSlab(es.depth)
	C.CloseEscapableHandleScope(es.ptr)
	es.env.openHandleScopes--
	es.closed = true
	es.env.lastErr.clear()
	return StatusOK
}

// ephemeralSlab backs the "framework owns the buffer" read operations
// (e.g. string/typed-array accessors): rather than forcing hosts to free
// every read result, each handle-scope depth owns a slab of entries freed
// when that scope closes (spec.md §4.3 "Ephemeral data slabs").
type ephemeralSlab struct {
	depth   int
	entries [][]byte
}

func (env *Env) pushSlab(depth int) *ephemeralSlab {
	s := &ephemeralSlab{depth: depth}
	env.slabs = append(env.slabs, s)
	return s
}

func (env *Env) popSlab(depth int) {
	// Free from the top; a slab allocated outside any scope (depth 0)
	// is never popped here and lives for the process (spec.md §4.3).
	for i := len(env.slabs) - 1; i >= 0; i-- {
		if env.slabs[i].depth == depth {
			env.slabs[i].entries = nil
			env.slabs = append(env.slabs[:i], env.slabs[i+1:]...)
			return
		}
	}
}

// allocEphemeral records buf against the innermost open scope, or process
// lifetime if none is open.
func (env *Env) allocEphemeral(buf []byte) []byte {
	if len(env.slabs) == 0 {
		return buf
	}
	top := env.slabs[len(env.slabs)-1]
	top.entries = append(top.entries, buf)
	return buf
}
