// Copyright 2019 Roger Chapman and the v8go contributors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package jsvm

// #include "cshim/jsvm.h"
import "C"

import "unsafe"

// CreateSnapshot is only valid on a VM created with IsForSnapshotting. It
// records WrapperKey, TypeTagKey, then each context in order, preserving
// the index order CreateEnvFromSnapshot later expects (spec.md §4.6.3).
func CreateSnapshot(vm *VM, envs []*Env) ([]byte, Status) {
	if !vm.isForSnapshotting {
		return nil, StatusInvalidArg
	}
	if vm.creator == nil {
		vm.creator = C.NewSnapshotCreator()
	}
	cctxs := make([]C.ContextPtr, len(envs))
	for i, e := range envs {
		cctxs[i] = e.ctx
	}
	var ctxArg *C.ContextPtr
	if len(cctxs) > 0 {
		ctxArg = (*C.ContextPtr)(unsafe.Pointer(&cctxs[0]))
	}
	blob := C.CreateSnapshotBlob(vm.creator, ctxArg, C.int(len(cctxs)))
	if blob.data == nil {
		return nil, StatusGenericFailure
	}
	return C.GoBytes(unsafe.Pointer(blob.data), blob.length), StatusOK
}
