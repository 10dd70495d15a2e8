// Copyright 2019 Roger Chapman and the v8go contributors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package jsvm

// #include "cshim/jsvm.h"
import "C"

import (
	"log/slog"
	"unsafe"
)

// WasmModule is a compiled WebAssembly module.
type WasmModule struct {
	ptr C.WasmModulePtr
	vm  *VM
}

// CompileWasmModule compiles bytes, either fresh or cache-assisted if
// cacheBytes is non-nil. outCacheRejected tells the host whether the
// cache was invalidated and a normal compile happened instead.
func (vm *VM) CompileWasmModule(bytes, cacheBytes []byte) (*WasmModule, bool, Status) {
	if len(bytes) == 0 {
		return nil, false, StatusInvalidArg
	}
	var cacheBytesPtr *C.uint8_t
	var cacheLen C.int
	if len(cacheBytes) > 0 {
		cacheBytesPtr = (*C.uint8_t)(unsafe.Pointer(&cacheBytes[0]))
		cacheLen = C.int(len(cacheBytes))
	}
	var rejected C.int
	ptr := C.CompileWasmModule(vm.ptr, (*C.uint8_t)(unsafe.Pointer(&bytes[0])), C.int(len(bytes)),
		cacheBytesPtr, cacheLen, &rejected)
	if ptr == nil {
		return nil, false, StatusGenericFailure
	}
	return &WasmModule{ptr: ptr, vm: vm}, rejected == 1, StatusOK
}

// WasmOptLevel is the compile tier requested for a single function.
type WasmOptLevel int

const (
	WasmOptBaseline WasmOptLevel = iota
	WasmOptHigh
)

// CompileWasmFunction asks the engine to compile module's code; the
// engine call covers the whole module, and index and level do not select
// a function or a tier on the engine side (see cshim/jsvm.cc). It returns
// StatusGenericFailure if the compiled module has no code.
// BASELINE is promoted to HIGH to work around a known engine bug
// (spec.md §4.6.4); this implementation makes that promotion explicit
// and logs it once per call rather than silently, per the Open Question
// in spec.md §9 ("a principled rewrite should choose either behavior
// deterministically and document it" — DESIGN.md records this choice).
func (m *WasmModule) CompileWasmFunction(index int, level WasmOptLevel) Status {
	if level == WasmOptBaseline {
		slog.Default().Debug("jsvm: promoting wasm BASELINE compile to HIGH", "functionIndex", index)
		level = WasmOptHigh
	}
	if C.CompileWasmFunction(m.ptr, C.int(index), C.int(level)) == 0 {
		return StatusGenericFailure
	}
	return StatusOK
}

// CreateWasmCache serializes module. Ownership transfers to the caller,
// who MUST release it via ReleaseCache(CacheTypeWasm).
func (m *WasmModule) CreateWasmCache() (*CachedData, Status) {
	cd := C.CreateWasmCache(m.ptr)
	if cd.data == nil {
		return nil, StatusGenericFailure
	}
	return &CachedData{Bytes: C.GoBytes(unsafe.Pointer(cd.data), cd.length), raw: cd}, StatusOK
}
