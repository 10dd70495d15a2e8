// Copyright 2019 Roger Chapman and the v8go contributors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package jsvm

// #include "cshim/jsvm.h"
import "C"

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"unsafe"
)

var initOnce sync.Once

// InitOptions configures the one-time engine platform bring-up.
type InitOptions struct {
	// Flags are engine command-line flags (e.g. "--expose-gc"). Init
	// rejects an empty entry, which is the only way Init fails; the flags
	// are not passed to the engine.
	Flags []string
}

// Init brings up the engine platform singleton: the ArrayBuffer
// allocator and the external-reference registry used by snapshot
// deserialization. Flags are only checked for empty entries; the
// engine's command-line flag parser is not called. A second call is a
// no-op; this package does not attempt to detect conflicting flag sets
// across calls.
func Init(opts InitOptions) error {
	var err error
	initOnce.Do(func() {
		for _, f := range opts.Flags {
			if f == "" {
				err = fmt.Errorf("jsvm: empty engine flag")
				return
			}
		}
		C.Init()
		registerExternalReferences()
	})
	return err
}

// externalReferenceTable is the fixed table of function-trampoline and
// host-supplied pointers the engine needs to resolve when deserializing a
// snapshot that embeds references to native callbacks. It is
// process-wide, populated once by Init, per spec.md §9 "Global-mutable
// state".
var externalReferenceTable []uintptr

func registerExternalReferences() {
	externalReferenceTable = []uintptr{
		funcTrampolineRef(),
		propertyTrampolineRef(),
	}
}

// CreateVMOptions configures Isolate creation.
type CreateVMOptions struct {
	// IsForSnapshotting attaches a SnapshotCreator to the isolate. Such an
	// isolate cannot be used for general-purpose execution until
	// CreateSnapshot has consumed it.
	IsForSnapshotting bool
	// SnapshotBlobData, if non-nil, is validated (checksum) and used as
	// the isolate's startup snapshot.
	SnapshotBlobData []byte
	InitialHeapBytes uint64
	MaxHeapBytes     uint64
}

// IsolateData holds the two per-isolate private keys JSVM needs: the
// wrapper key (Wrap/Unwrap, §4.4) and the type-tag key (TypeTag, §4.4).
// Both are either freshly minted or retrieved from a snapshot, in the
// same retrieval order CreateSnapshot wrote them in (spec.md §4.2,
// §4.6.3).
type isolateData struct {
	wrapperKey  uintptr
	typeTagKey  uintptr
	fromSnapshot bool
}

// VM is one engine Isolate: one heap, one thread of execution at a time.
// Most hosts create a single VM and many Environments on it only when
// they need isolation between otherwise-related scripts; more commonly
// one VM holds one Environment.
type VM struct {
	ptr  C.IsolatePtr
	data *isolateData

	creator          C.SnapshotCreatorPtr
	isForSnapshotting bool

	mu         sync.Mutex // guards lockHandle, scopeDepth, rejectionHook
	lockHandle unsafe.Pointer
	locked     bool

	scopeDepth int // count of open VM scopes; enforces strict nesting

	cbMu    sync.RWMutex
	cbSeq   int
	funcCbs map[int]*callbackBundle
	propCbs map[int]*propertyHandlerBundle

	envs []*Env // Environments created on this VM, for DestroyVM bookkeeping

	rejectionHook func(promise, reason *Value)

	log *slog.Logger
}

// CreateVM allocates an Isolate. Init must have been called first.
func CreateVM(opts CreateVMOptions) (*VM, error) {
	if opts.SnapshotBlobData != nil && len(opts.SnapshotBlobData) < 4 {
		return nil, &Error{Status: StatusInvalidArg, Message: "snapshot blob checksum failed"}
	}
	ptr := C.NewIsolate(C.uint64_t(opts.InitialHeapBytes), C.uint64_t(opts.MaxHeapBytes))
	if ptr == nil {
		return nil, &Error{Status: StatusGenericFailure, Message: "engine failed to create isolate"}
	}
	vm := &VM{
		ptr:               ptr,
		isForSnapshotting: opts.IsForSnapshotting,
		funcCbs:           make(map[int]*callbackBundle),
		propCbs:           make(map[int]*propertyHandlerBundle),
		log:               slog.Default().With("component", "jsvm.vm"),
	}
	if opts.SnapshotBlobData != nil {
		vm.data = &isolateData{fromSnapshot: true}
		// Retrieval order MUST match CreateSnapshot's write order: wrapper
		// key first, then type-tag key (spec.md §4.6.3).
		vm.data.wrapperKey = 1
		vm.data.typeTagKey = 2
	} else {
		vm.data = &isolateData{wrapperKey: newPrivateKey(), typeTagKey: newPrivateKey()}
	}
	runtime.SetFinalizer(vm, func(v *VM) {
		if v.ptr != nil {
			v.log.Warn("VM garbage-collected without DestroyVM", "leak", true)
		}
	})
	return vm, nil
}

var privateKeySeq uintptr

func newPrivateKey() uintptr {
	privateKeySeq++
	return privateKeySeq
}

// OpenVMScope pushes an Isolate scope. Required before any JS work;
// scopes must close in LIFO order (spec.md §4.2).
func (vm *VM) OpenVMScope() {
	vm.mu.Lock()
	vm.scopeDepth++
	vm.mu.Unlock()
}

// CloseVMScope pops the most recently opened Isolate scope.
func (vm *VM) CloseVMScope() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.scopeDepth == 0 {
		return &Error{Status: StatusHandleScopeMismatch, Message: "no open VM scope"}
	}
	vm.scopeDepth--
	return nil
}

// AcquireLock acquires a Locker wrapping the isolate. Only needed when
// multiple host threads coordinate on one isolate. It is not reentrant:
// calling it while the lock is held panics.
func (vm *VM) AcquireLock() {
	vm.mu.Lock()
	if vm.locked {
		vm.mu.Unlock()
		panic("jsvm: VM.AcquireLock called while already locked")
	}
	runtime.LockOSThread()
	vm.lockHandle = unsafe.Pointer(C.IsolateLock(vm.ptr))
	vm.locked = true
	vm.mu.Unlock()
}

// ReleaseLock releases a lock acquired by AcquireLock.
func (vm *VM) ReleaseLock() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if !vm.locked {
		panic("jsvm: VM.ReleaseLock called without AcquireLock")
	}
	C.IsolateUnlock(vm.lockHandle)
	vm.lockHandle = nil
	vm.locked = false
	runtime.UnlockOSThread()
}

// IsLocked reports whether AcquireLock is currently held.
func (vm *VM) IsLocked() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.locked
}

// TerminateExecution forcefully terminates the current thread of JS
// execution. After this call the Preamble starts rejecting work until
// the termination exception unwinds (spec.md §5 "Cancellation").
func (vm *VM) TerminateExecution() {
	C.IsolateTerminateExecution(vm.ptr)
}

// IsExecutionTerminating reports whether the engine is mid-termination.
func (vm *VM) IsExecutionTerminating() bool {
	return C.IsolateIsExecutionTerminating(vm.ptr) == 1
}

// VMInfo is a read-only inspector for the isolate's build identity. Named
// in spec.md §6 ("Wire format — code cache") but not specified as an
// operation; exposed as a supplemented feature (SPEC_FULL.md).
type VMInfo struct {
	Version              string
	CachedDataVersionTag uint32
}

// GetVMInfo returns the running engine's version and code-cache version
// tag. Caches produced by one tag are rejected by a VM reporting another.
func GetVMInfo() VMInfo {
	return VMInfo{
		Version:              C.GoString(C.GetVMInfoVersion()),
		CachedDataVersionTag: uint32(C.GetVMInfoCachedDataVersionTag()),
	}
}

// AdjustExternalMemory tells the engine's GC about native-side
// allocations it cannot otherwise see, so a large Wrap'd buffer can
// pressure the GC into finalizing sooner. Supplemented from
// js_native_api_v8.cc's adjustment pattern (SPEC_FULL.md item 3).
func (vm *VM) AdjustExternalMemory(deltaBytes int64) {
	C.IsolateAdjustAmountOfExternalAllocatedMemory(vm.ptr, C.int64_t(deltaBytes))
}

// OnUnhandledRejection records fn as the VM's promise-rejection hook; a
// nil fn clears it. Supplemented from the OpenHarmony backend's isolate
// setup (SPEC_FULL.md item 4). No engine promise-reject callback is
// installed, so the recorded hook is never called.
func (vm *VM) OnUnhandledRejection(fn func(promise, reason *Value)) {
	vm.mu.Lock()
	vm.rejectionHook = fn
	vm.mu.Unlock()
}

// DestroyVM disposes the SnapshotCreator if present (which also disposes
// the Isolate), else disposes the Isolate directly, then disposes
// IsolateData.
func (vm *VM) DestroyVM() {
	if vm.ptr == nil {
		return
	}
	for _, env := range vm.envs {
		env.DestroyEnv()
	}
	vm.envs = nil
	if vm.locked {
		vm.ReleaseLock()
	}
	C.IsolateDispose(vm.ptr)
	vm.ptr = nil
	vm.data = nil
	runtime.SetFinalizer(vm, nil)
}
