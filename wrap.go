// Copyright 2019 Roger Chapman and the v8go contributors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package jsvm

// Wrap stores a newly created Reference with initial refcount 0 in
// object's Go-side private slot under the isolate's WrapperKey (see
// Value.private; no engine-side property or External is created). If
// outRef is non-nil, ownership is
// Userland and finalizer is required; else ownership is Runtime
// (self-deleting). Wrapping an already-wrapped object fails with
// StatusInvalidArg (spec.md §3 invariant, §4.4).
func (env *Env) Wrap(object *Value, nativePointer any, finalizer Finalizer, hint any, outRef **Reference) Status {
	if object == nil || object.Kind() != KindObject {
		return env.lastErr.set(StatusObjectExpected)
	}
	if _, already := object.privateGet(env.vm.data.wrapperKey); already {
		return env.lastErr.set(StatusInvalidArg)
	}
	if outRef != nil && finalizer == nil {
		return env.lastErr.set(StatusInvalidArg)
	}
	ref, status := env.CreateReference(object, 0)
	if status != StatusOK {
		return status
	}
	ref.finalizeData = nativePointer
	ref.finalizeHint = hint
	if finalizer != nil {
		ref.finalizer = finalizer
		ref.node.unlink(&env.reflist)
		ref.node.link(&env.finalizingReflist)
	}
	if outRef != nil {
		ref.ownership = OwnershipUserland
		*outRef = ref
	} else {
		ref.ownership = OwnershipRuntime
	}
	object.privateSet(env.vm.data.wrapperKey, ref)
	env.lastErr.clear()
	return StatusOK
}

// Unwrap returns the native pointer bound by Wrap, or StatusInvalidArg if
// object was never wrapped.
func (env *Env) Unwrap(object *Value) (any, Status) {
	ref, ok := env.unwrapRef(object)
	if !ok {
		return nil, env.lastErr.set(StatusInvalidArg)
	}
	env.lastErr.clear()
	return ref.finalizeData, StatusOK
}

// RemoveWrap deletes the private property and, for Userland-owned refs,
// resets the finalizer to empty so a later explicit DeleteReference will
// not double-finalize (spec.md §4.4).
func (env *Env) RemoveWrap(object *Value) (any, Status) {
	ref, ok := env.unwrapRef(object)
	if !ok {
		return nil, env.lastErr.set(StatusInvalidArg)
	}
	object.privateDelete(env.vm.data.wrapperKey)
	data := ref.finalizeData
	if ref.ownership == OwnershipUserland {
		ref.finalizer = nil
		ref.node.unlink(&env.finalizingReflist)
		ref.node.link(&env.reflist)
	}
	env.lastErr.clear()
	return data, StatusOK
}

func (env *Env) unwrapRef(object *Value) (*Reference, bool) {
	if object == nil || object.Kind() != KindObject {
		return nil, false
	}
	v, ok := object.privateGet(env.vm.data.wrapperKey)
	if !ok {
		return nil, false
	}
	ref, ok := v.(*Reference)
	return ref, ok
}

// TypeTagNative is the 128-bit identifier TypeTag stores on an object,
// represented as two 64-bit words.
type TypeTagNative struct {
	Lower, Upper uint64
}

// TypeTag stores tag, as a TypeTagNative value, in object's Go-side
// private slot under the isolate's TypeTagKey. Re-tagging an
// already-tagged object fails with StatusInvalidArg.
func (env *Env) TypeTag(object *Value, tag TypeTagNative) Status {
	if object == nil || object.Kind() != KindObject {
		return env.lastErr.set(StatusObjectExpected)
	}
	if _, already := object.privateGet(env.vm.data.typeTagKey); already {
		return env.lastErr.set(StatusInvalidArg)
	}
	object.privateSet(env.vm.data.typeTagKey, tag)
	return env.lastErr.set(StatusOK)
}

// CheckObjectTypeTag compares all 128 bits of the stored tag against tag,
// word by word; an object with no tag reports false.
func (env *Env) CheckObjectTypeTag(object *Value, tag TypeTagNative) bool {
	if object == nil || object.Kind() != KindObject {
		return false
	}
	v, ok := object.privateGet(env.vm.data.typeTagKey)
	if !ok {
		return false
	}
	stored, ok := v.(TypeTagNative)
	if !ok {
		return false
	}
	return stored.Lower == tag.Lower && stored.Upper == tag.Upper
}
