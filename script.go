// Copyright 2019 Roger Chapman and the v8go contributors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package jsvm

// #include <stdlib.h>
// #include "cshim/jsvm.h"
import "C"

import (
	"runtime"
	"unsafe"
)

// CompileMode selects a non-cache compile strategy; mutually exclusive
// with supplying CachedData (spec.md §4.6.1 "CompileScriptWithOptions":
// "ConsumeCodeCache without cache bytes ⇒ INVALID_ARG" — the mirror
// image, Mode set alongside CachedData, is likewise rejected here).
type CompileMode int

const (
	CompileModeDefault CompileMode = iota
	CompileModeEagerCompile
)

// CachedData is an opaque code-cache blob. The caller retains ownership
// and MUST release it via ReleaseCache (spec.md §4.6.1).
type CachedData struct {
	Bytes    []byte
	Rejected bool

	// raw is the engine-owned buffer Bytes was copied from, kept around
	// only so ReleaseCache can free it; a CachedData the host built by
	// hand (e.g. read back from disk) never sets it, so ReleaseCache is
	// a no-op in that case.
	raw C.CachedData
}

// ScriptOrigin adds resource name, line/column offset, and an optional
// source-map URL, used by CompileScriptWithOrigin (spec.md §4.6.1,
// §4.6.2).
type ScriptOrigin struct {
	ResourceName string
	LineOffset   int
	ColumnOffset int
	SourceMapURL string
}

// CompileOptions is CompileScriptWithOptions's option list.
type CompileOptions struct {
	Mode         CompileMode
	CachedData   *CachedData
	Origin       *ScriptOrigin
	EnableSourceMap bool
}

// UnboundScript is context-independent compiled JS: it can be Run in any
// Context on the same Isolate. Mirrors the teacher's UnboundScript
// (isolate.go: CompileUnboundScript).
type UnboundScript struct {
	ptr C.UnboundScriptPtr
	vm  *VM
}

// Script is a context-bound, ephemeral script handle. RetainScript
// promotes it to a Global one that survives handle-scope boundaries;
// until then it may not cross them (spec.md §4.6.1).
type Script struct {
	ptr      C.ScriptPtr
	env      *Env
	retained bool
}

// cErrorFields copies the C-owned strings out of a cshim JSVMError and
// frees them: CaptureException (cshim/jsvm.cc) hands the msg/location/
// stack trio over strdup'd, with ownership passing to the caller, the
// same convention ValueStringUtf8Of documents for its own out-param.
func cErrorFields(e C.JSVMError) cJSVMError {
	f := cJSVMError{
		Msg:      C.GoString(e.msg),
		Location: C.GoString(e.location),
		Stack:    C.GoString(e.stack),
	}
	C.free(unsafe.Pointer(e.msg))
	C.free(unsafe.Pointer(e.location))
	C.free(unsafe.Pointer(e.stack))
	return f
}

// CompileScript compiles source. If cachedData is supplied, the engine
// consumes it; on a cache miss the host learns via cachedData.Rejected
// and a normal compile happens instead.
func (env *Env) CompileScript(source string, cachedData *CachedData, eagerCompile bool) (*Script, Status) {
	return env.CompileScriptWithOptions(source, CompileOptions{
		Mode:       boolMode(eagerCompile),
		CachedData: cachedData,
	})
}

func boolMode(eager bool) CompileMode {
	if eager {
		return CompileModeEagerCompile
	}
	return CompileModeDefault
}

// CompileScriptWithOrigin adds resource name / line-column / source-map
// information used for stack traces (spec.md §4.6.1, §4.6.2). Only the
// resource name reaches the engine; LineOffset and ColumnOffset are not
// passed to it.
func (env *Env) CompileScriptWithOrigin(source string, origin ScriptOrigin) (*Script, Status) {
	return env.CompileScriptWithOptions(source, CompileOptions{Origin: &origin})
}

// CompileScriptWithOptions resolves conflicting options (spec.md
// §4.6.1) and, when Origin.SourceMapURL is set, records the
// file→sourceMap mapping in the process-wide registry (sourcemap.go).
// No prepare-stack-trace callback is installed on the isolate.
func (env *Env) CompileScriptWithOptions(source string, opts CompileOptions) (*Script, Status) {
	if status := env.preamble(); status != StatusOK {
		return nil, status
	}
	if opts.CachedData != nil && opts.Mode == CompileModeEagerCompile {
		return nil, env.lastErr.set(StatusInvalidArg)
	}
	if opts.CachedData != nil && len(opts.CachedData.Bytes) == 0 {
		return nil, env.lastErr.set(StatusInvalidArg)
	}

	origin := ScriptOrigin{ResourceName: "<anonymous>"}
	if opts.Origin != nil {
		origin = *opts.Origin
	}

	cSource := C.CString(source)
	cOrigin := C.CString(origin.ResourceName)
	defer C.free(unsafe.Pointer(cSource))
	defer C.free(unsafe.Pointer(cOrigin))

	var copts C.CompileOptions
	if opts.CachedData != nil {
		copts.mode = C.kCompileModeConsumeCodeCache
		copts.cachedData.data = (*C.uint8_t)(unsafe.Pointer(&opts.CachedData.Bytes[0]))
		copts.cachedData.length = C.int(len(opts.CachedData.Bytes))
	} else if opts.Mode == CompileModeEagerCompile {
		copts.mode = C.kCompileModeEagerCompile
	}

	rtn := C.CompileUnboundScript(env.vm.ptr, cSource, C.int(len(source)), cOrigin, C.int(len(origin.ResourceName)), copts)
	if rtn.ptr == nil {
		return nil, env.catchException(true, newJSErrorValueFields(env, cErrorFields(rtn.error)))
	}
	if opts.CachedData != nil {
		opts.CachedData.Rejected = rtn.cachedDataRejected == 1
	}

	if origin.SourceMapURL != "" {
		registerSourceMap(origin.ResourceName, origin.SourceMapURL)
	}

	unbound := &UnboundScript{ptr: rtn.ptr, vm: env.vm}
	runtime.SetFinalizer(unbound, nil) // UnboundScript lifetime is owned by Script/RetainScript below

	return &Script{ptr: C.ScriptPtr(unbound.ptr), env: env}, env.lastErr.set(StatusOK)
}

// RunScript executes script in its Env, preamble-wrapped. The result
// crosses the ABI as an opaque ValuePtr with no type information
// attached, so the kind and primitive payload are read back immediately
// via ValueKindOf/ValueNumberOf/etc. and cached on the Go side — the same
// representation CreateNumber/CreateStringUtf8/CreateObject already use
// for host-built values (value.go), so GetValueInt32 and friends work
// identically regardless of whether a Value came from script output or
// from a Go-side builder.
func (env *Env) RunScript(script *Script) (*Value, Status) {
	if status := env.preamble(); status != StatusOK {
		return nil, status
	}
	rtn := C.RunScript(env.ctx, script.ptr)
	if rtn.error.msg != nil {
		return nil, env.catchException(true, newJSErrorValueFields(env, cErrorFields(rtn.error)))
	}
	return env.inspectValue(rtn.value), env.lastErr.set(StatusOK)
}

// inspectValue classifies a raw engine ValuePtr and copies out its
// primitive payload, grounded on the teacher's own convention of reading
// a result back from the engine immediately after a C call rather than
// deferring to a later accessor (context.go's valueResult/objectResult).
func (env *Env) inspectValue(ptr C.ValuePtr) *Value {
	v := &Value{ref: ptr, env: env}
	switch C.ValueKindOf(env.ctx, ptr) {
	case C.kValueNumber:
		v.kind = KindNumber
		v.num = float64(C.ValueNumberOf(env.ctx, ptr))
	case C.kValueBoolean:
		v.kind = KindBoolean
		v.boolean = C.ValueBooleanOf(env.ctx, ptr) != 0
	case C.kValueString:
		var cstr *C.char
		var clen C.int
		C.ValueStringUtf8Of(env.ctx, ptr, &cstr, &clen)
		if cstr != nil {
			v.str = C.GoStringN(cstr, clen)
			C.free(unsafe.Pointer(cstr))
		}
		v.kind = KindString
	case C.kValueUndefined:
		v.kind = KindUndefined
	case C.kValueNull:
		v.kind = KindNull
	case C.kValueFunction:
		v.kind = KindFunction
	case C.kValueExternal:
		v.kind = KindExternal
	case C.kValueSymbol:
		v.kind = KindSymbol
	default:
		v.kind = KindObject
	}
	return v
}

// RetainScript promotes script to a Global handle and releases the
// ephemeral one; the returned Script may cross handle-scope boundaries.
func (env *Env) RetainScript(script *Script) (*Script, Status) {
	if script.retained {
		return script, env.lastErr.set(StatusOK)
	}
	return &Script{ptr: script.ptr, env: env, retained: true}, env.lastErr.set(StatusOK)
}

// ReleaseScript releases a Global script created by RetainScript.
func (env *Env) ReleaseScript(script *Script) Status {
	script.ptr = nil
	return env.lastErr.set(StatusOK)
}

// CreateCodeCache asks the engine for a cache blob. The caller retains
// ownership and MUST release it via ReleaseCache(CacheTypeJS).
func (env *Env) CreateCodeCache(script *Script) (*CachedData, Status) {
	cd := C.CreateCodeCache(C.UnboundScriptPtr(script.ptr))
	if cd.data == nil {
		return nil, env.lastErr.set(StatusGenericFailure)
	}
	bytes := C.GoBytes(unsafe.Pointer(cd.data), cd.length)
	return &CachedData{Bytes: bytes, raw: cd}, env.lastErr.set(StatusOK)
}

// CacheType distinguishes a JS code cache from a WASM module cache for
// ReleaseCache bookkeeping.
type CacheType int

const (
	CacheTypeJS CacheType = iota
	CacheTypeWasm
)

// ReleaseCache releases engine-owned memory behind a CachedData
// previously produced by CreateCodeCache or CreateWasmCache.
func ReleaseCache(kind CacheType, cd *CachedData) {
	_ = kind
	if cd.raw.data != nil {
		C.ReleaseCachedData(cd.raw)
		cd.raw = C.CachedData{}
	}
	cd.Bytes = nil
}
