// Copyright 2019 Roger Chapman and the v8go contributors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package jsvm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHelloWorld runs spec scenario S1: Init -> CreateVM -> OpenVMScope ->
// CreateEnv -> OpenEnvScope -> OpenHandleScope -> CreateStringUtf8("1+2") ->
// CompileScript -> RunScript -> GetValueInt32 == 3.
func TestHelloWorld(t *testing.T) {
	require.NoError(t, Init(InitOptions{}))

	vm, err := CreateVM(CreateVMOptions{})
	require.NoError(t, err)
	defer vm.DestroyVM()

	vm.OpenVMScope()
	defer vm.CloseVMScope()

	env, err := CreateEnv(vm, nil)
	require.NoError(t, err)

	envScope := env.OpenEnvScope()
	defer envScope.CloseEnvScope()

	hs := env.OpenHandleScope()
	defer hs.Close()

	script, status := env.CompileScript("1+2", nil, false)
	require.Equal(t, StatusOK, status)

	result, status := env.RunScript(script)
	require.Equal(t, StatusOK, status)

	got, status := env.GetValueInt32(result)
	require.Equal(t, StatusOK, status)
	require.Equal(t, int32(3), got)
}

// TestExceptionPropagation runs spec scenario S2.
func TestExceptionPropagation(t *testing.T) {
	require.NoError(t, Init(InitOptions{}))
	vm, err := CreateVM(CreateVMOptions{})
	require.NoError(t, err)
	defer vm.DestroyVM()

	vm.OpenVMScope()
	defer vm.CloseVMScope()
	env, err := CreateEnv(vm, nil)
	require.NoError(t, err)
	envScope := env.OpenEnvScope()
	defer envScope.CloseEnvScope()
	hs := env.OpenHandleScope()
	defer hs.Close()

	script, status := env.CompileScript(`throw new Error("x")`, nil, false)
	require.Equal(t, StatusOK, status)

	_, status = env.RunScript(script)
	require.Equal(t, StatusPendingException, status)

	exc := env.GetAndClearLastException()
	require.True(t, env.IsError(exc))
	msg, ok := env.GetErrorMessage(exc)
	require.True(t, ok)
	require.Equal(t, "x", msg)

	require.False(t, env.IsExceptionPending())
}

// TestWrapLifecycle runs spec scenario S3: wrap an object, unwrap it back,
// then drop the reference and observe the finalizer exactly once.
func TestWrapLifecycle(t *testing.T) {
	require.NoError(t, Init(InitOptions{}))
	vm, err := CreateVM(CreateVMOptions{})
	require.NoError(t, err)
	defer vm.DestroyVM()

	vm.OpenVMScope()
	defer vm.CloseVMScope()
	env, err := CreateEnv(vm, nil)
	require.NoError(t, err)
	envScope := env.OpenEnvScope()
	defer envScope.CloseEnvScope()

	obj := env.CreateObject()
	nativePointer := uintptr(0xDEADBEEF)

	calls := 0
	var calledWith uintptr
	status := env.Wrap(obj, nativePointer, func(_ *Env, data, _ any) {
		calls++
		calledWith = data.(uintptr)
	}, nil, nil)
	require.Equal(t, StatusOK, status)

	got, status := env.Unwrap(obj)
	require.Equal(t, StatusOK, status)
	require.Equal(t, nativePointer, got)

	// Drop all refs and force GC: the weak callback fires (called
	// directly here, since the engine binding has no weak callback into
	// Go), then DrainPendingFinalizers runs the queued host finalizer at
	// the next safe point.
	ref, ok := env.unwrapRef(obj)
	require.True(t, ok)
	ref.weakCallback()
	env.DrainPendingFinalizers()

	require.Equal(t, 1, calls)
	require.Equal(t, nativePointer, calledWith)

	// DestroyEnv must not re-invoke the finalizer.
	env.DestroyEnv()
	require.Equal(t, 1, calls)
}

// TestReferenceStrengthening runs spec scenario S4.
func TestReferenceStrengthening(t *testing.T) {
	require.NoError(t, Init(InitOptions{}))
	vm, err := CreateVM(CreateVMOptions{})
	require.NoError(t, err)
	defer vm.DestroyVM()

	vm.OpenVMScope()
	defer vm.CloseVMScope()
	env, err := CreateEnv(vm, nil)
	require.NoError(t, err)
	envScope := env.OpenEnvScope()
	defer envScope.CloseEnvScope()

	obj := env.CreateObject()

	// Weak: initialRefcount 0, forced "GC" (weakCallback) clears value.
	weakRef, status := env.CreateReference(obj, 0)
	require.Equal(t, StatusOK, status)
	weakRef.weakCallback()
	require.Nil(t, weakRef.GetReferenceValue())

	// Strong: initialRefcount 1 survives a forced GC; after Unref->0 the
	// next forced GC clears it.
	obj2 := env.CreateObject()
	strongRef, status := env.CreateReference(obj2, 1)
	require.Equal(t, StatusOK, status)
	require.False(t, strongRef.waitingForCallback)
	require.NotNil(t, strongRef.GetReferenceValue())

	count, status := strongRef.Unref()
	require.Equal(t, StatusOK, status)
	require.Equal(t, 0, count)
	require.True(t, strongRef.waitingForCallback)

	strongRef.weakCallback()
	require.Nil(t, strongRef.GetReferenceValue())
}

// TestCodeCacheRoundTrip runs spec scenario S5: compile, create a code
// cache, then consume it in a fresh Env.
func TestCodeCacheRoundTrip(t *testing.T) {
	require.NoError(t, Init(InitOptions{}))
	vm, err := CreateVM(CreateVMOptions{})
	require.NoError(t, err)
	defer vm.DestroyVM()

	vm.OpenVMScope()
	defer vm.CloseVMScope()

	env1, err := CreateEnv(vm, nil)
	require.NoError(t, err)
	scope1 := env1.OpenEnvScope()
	hs1 := env1.OpenHandleScope()

	script1, status := env1.CompileScript("(()=>42)()", nil, false)
	require.Equal(t, StatusOK, status)
	cache, status := env1.CreateCodeCache(script1)
	require.Equal(t, StatusOK, status)
	require.NotEmpty(t, cache.Bytes)

	hs1.Close()
	scope1.CloseEnvScope()

	env2, err := CreateEnv(vm, nil)
	require.NoError(t, err)
	scope2 := env2.OpenEnvScope()
	defer scope2.CloseEnvScope()
	hs2 := env2.OpenHandleScope()
	defer hs2.Close()

	script2, status := env2.CompileScript("(()=>42)()", cache, false)
	require.Equal(t, StatusOK, status)
	require.False(t, cache.Rejected)

	result, status := env2.RunScript(script2)
	require.Equal(t, StatusOK, status)
	got, status := env2.GetValueInt32(result)
	require.Equal(t, StatusOK, status)
	require.Equal(t, int32(42), got)
}

// TestTypeTagMismatch runs spec scenario S6.
func TestTypeTagMismatch(t *testing.T) {
	require.NoError(t, Init(InitOptions{}))
	vm, err := CreateVM(CreateVMOptions{})
	require.NoError(t, err)
	defer vm.DestroyVM()

	vm.OpenVMScope()
	defer vm.CloseVMScope()
	env, err := CreateEnv(vm, nil)
	require.NoError(t, err)
	envScope := env.OpenEnvScope()
	defer envScope.CloseEnvScope()

	obj := env.CreateObject()
	status := env.TypeTag(obj, TypeTagNative{Lower: 1, Upper: 2})
	require.Equal(t, StatusOK, status)

	require.False(t, env.CheckObjectTypeTag(obj, TypeTagNative{Lower: 1, Upper: 3}))
	require.True(t, env.CheckObjectTypeTag(obj, TypeTagNative{Lower: 1, Upper: 2}))
}

// TestHostFunctionRoundTrip exercises the Execution family end to end:
// a host function is bound with CreateFunction, called directly from Go
// via CallFunction, then invoked by running JS that calls it, and
// finally invoked as a constructor via NewInstance.
func TestHostFunctionRoundTrip(t *testing.T) {
	require.NoError(t, Init(InitOptions{}))
	vm, err := CreateVM(CreateVMOptions{})
	require.NoError(t, err)
	defer vm.DestroyVM()

	vm.OpenVMScope()
	defer vm.CloseVMScope()
	env, err := CreateEnv(vm, nil)
	require.NoError(t, err)
	envScope := env.OpenEnvScope()
	defer envScope.CloseEnvScope()
	hs := env.OpenHandleScope()
	defer hs.Close()

	var gotArgs int
	add := func(info *CallbackInfo) *Value {
		gotArgs = len(info.Args)
		a, _ := info.Env.GetValueInt32(info.Args[0])
		b, _ := info.Env.GetValueInt32(info.Args[1])
		return info.Env.CreateNumber(float64(a + b))
	}

	fn, status := env.CreateFunction(add, nil)
	require.Equal(t, StatusOK, status)
	require.Equal(t, KindFunction, fn.Kind())

	result, status := env.CallFunction(fn, nil, []*Value{env.CreateNumber(2), env.CreateNumber(3)})
	require.Equal(t, StatusOK, status)
	require.Equal(t, 2, gotArgs)
	got, status := env.GetValueInt32(result)
	require.Equal(t, StatusOK, status)
	require.Equal(t, int32(5), got)

	script, status := env.CompileScript("(h) => h(10, 20)", nil, false)
	require.Equal(t, StatusOK, status)
	caller, status := env.RunScript(script)
	require.Equal(t, StatusOK, status)
	viaJS, status := env.CallFunction(caller, nil, []*Value{fn})
	require.Equal(t, StatusOK, status)
	got, status = env.GetValueInt32(viaJS)
	require.Equal(t, StatusOK, status)
	require.Equal(t, int32(30), got)

	var sawNewTarget bool
	ctor := func(info *CallbackInfo) *Value {
		sawNewTarget = info.NewTarget != nil
		return nil
	}
	ctorFn, status := env.CreateFunction(ctor, nil)
	require.Equal(t, StatusOK, status)
	instance, status := env.NewInstance(ctorFn, nil)
	require.Equal(t, StatusOK, status)
	require.Equal(t, KindObject, instance.Kind())
	require.True(t, sawNewTarget)
}

// TestHostFunctionThrows confirms a host callback's ThrowError crosses
// back into the engine as a real, catchable exception (the
// cExceptionFor/goFunctionCallback path), rather than only being
// observable from Go.
func TestHostFunctionThrows(t *testing.T) {
	require.NoError(t, Init(InitOptions{}))
	vm, err := CreateVM(CreateVMOptions{})
	require.NoError(t, err)
	defer vm.DestroyVM()

	vm.OpenVMScope()
	defer vm.CloseVMScope()
	env, err := CreateEnv(vm, nil)
	require.NoError(t, err)
	envScope := env.OpenEnvScope()
	defer envScope.CloseEnvScope()
	hs := env.OpenHandleScope()
	defer hs.Close()

	boom := func(info *CallbackInfo) *Value {
		info.Env.ThrowError("", "boom")
		return nil
	}
	fn, status := env.CreateFunction(boom, nil)
	require.Equal(t, StatusOK, status)

	script, status := env.CompileScript(`(h) => { try { h(); return "caught" } catch (e) { return e.message } }`, nil, false)
	require.Equal(t, StatusOK, status)
	caller, status := env.RunScript(script)
	require.Equal(t, StatusOK, status)

	result, status := env.CallFunction(caller, nil, []*Value{fn})
	require.Equal(t, StatusOK, status)
	msg, status := env.GetValueStringUtf8(result)
	require.Equal(t, StatusOK, status)
	require.Equal(t, "boom", msg)
}
