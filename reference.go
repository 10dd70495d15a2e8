// Copyright 2019 Roger Chapman and the v8go contributors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package jsvm

// #include "cshim/jsvm.h"
import "C"

// Ownership distinguishes a Reference the runtime deletes itself once
// finalized (Runtime) from one the host must explicitly delete
// (Userland). Only Wrap with an outRef argument produces a Userland ref
// (spec.md §4.4).
type Ownership int

const (
	OwnershipRuntime Ownership = iota
	OwnershipUserland
)

// refNode is the intrusive doubly-linked list node every Reference
// participates in. Ported from v8impl::RefTracker
// (original js_native_api_v8.h, Link/Unlink/FinalizeAll) as an explicit
// prev/next pair rather than relying on Go's GC to trace the list: Go's
// GC would otherwise keep every node in a list reachable through any one
// live node, defeating the whole point of a weak reference graph.
type refNode struct {
	prev, next *refNode
	owner      *Reference
}

func (n *refNode) link(head **refNode) {
	n.prev = nil
	n.next = *head
	if n.next != nil {
		n.next.prev = n
	}
	*head = n
}

func (n *refNode) unlink(head **refNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else if *head == n {
		*head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	n.prev, n.next = nil, nil
}

// finalizerJob is what InvokeFinalizerFromGC queues: the engine's weak
// callback cannot run JS or arbitrary host code directly (spec.md §4.4
// step 3), so it hands off to this job, drained later at a safe point
// with in_gc_finalizer set.
type finalizerJob struct {
	ref      *Reference
	callback func(env *Env, data, hint any)
	data     any
	hint     any
}

// Finalizer is the host closure attached to a Reference, an AddFinalizer
// call, or a Wrap call.
type Finalizer func(env *Env, data, hint any)

// Reference is one node of C4's reference/finalizer graph: a refcounted,
// optionally-finalized, optionally-weak binding to a Value. Per the
// DESIGN NOTES in spec.md §9, this single struct plays the role the
// original's three-level TrackedFinalizer←RefBase←Reference hierarchy
// played, trading inheritance for plain fields.
type Reference struct {
	env  *Env
	node refNode

	value      *Value
	canBeWeak  bool // true iff the underlying value is Object or Symbol

	refcount  int
	ownership Ownership

	finalizer     Finalizer
	finalizeData  any
	finalizeHint  any

	deletedByUser     bool
	waitingForCallback bool

	cref C.ReferencePtr
}

// CreateReference creates a Reference to value with the given initial
// refcount. A refcount of 0 makes it weak immediately (if value can be
// weak); any positive refcount keeps it strong until Unref drops it to 0.
func (env *Env) CreateReference(value *Value, initialRefcount int) (*Reference, Status) {
	if value == nil {
		return nil, env.lastErr.set(StatusInvalidArg)
	}
	ref := &Reference{
		env:       env,
		value:     value,
		canBeWeak: value.Kind() == KindObject || value.Kind() == KindSymbol,
		refcount:  initialRefcount,
		ownership: OwnershipUserland,
	}
	ref.node.owner = ref
	ref.cref = C.ReferenceNew(env.ctx, value.ref, C.int(initialRefcount), 0)
	env.linkReference(ref)
	if initialRefcount == 0 && ref.canBeWeak {
		ref.arm()
	}
	env.refs++
	env.lastErr.clear()
	return ref, StatusOK
}

func (env *Env) linkReference(ref *Reference) {
	if ref.finalizer != nil {
		ref.node.link(&env.finalizingReflist)
	} else {
		ref.node.link(&env.reflist)
	}
}

// Ref increments refcount, returning the new value. Transition 0→1
// clears the weak bit: the reference becomes strong and the engine GC
// will not collect the referent (spec.md §4.4, invariant §3).
func (ref *Reference) Ref() (int, Status) {
	if ref.deletedByUser {
		return 0, ref.env.lastErr.set(StatusGenericFailure)
	}
	ref.refcount++
	if ref.refcount == 1 {
		ref.disarm()
	}
	ref.env.lastErr.clear()
	return ref.refcount, StatusOK
}

// Unref decrements refcount, clamped at zero. Transition 1→0 re-arms the
// weak callback. Unreffing an already-weak-and-cleared reference, or one
// already at zero, is a no-op returning 0 (spec.md §4.4).
func (ref *Reference) Unref() (int, Status) {
	ref.env.lastErr.clear()
	if ref.refcount == 0 {
		return 0, StatusOK
	}
	ref.refcount--
	if ref.refcount == 0 && ref.canBeWeak {
		ref.arm()
	}
	return ref.refcount, StatusOK
}

// RefCount returns the current refcount without mutating it.
func (ref *Reference) RefCount() int { return ref.refcount }

// arm re-enables the weak callback: the persistent no longer pins the
// object for GC purposes.
func (ref *Reference) arm() {
	ref.waitingForCallback = true
	if ref.cref != nil {
		C.ReferenceUnref(ref.cref)
	}
}

// disarm clears the weak bit: refcount > 0 means strong, never weak
// (spec.md §3 invariant).
func (ref *Reference) disarm() {
	ref.waitingForCallback = false
	if ref.cref != nil {
		C.ReferenceRef(ref.cref)
	}
}

// weakCallback is the GC-side half of the weak protocol: it clears the
// referent and waitingForCallback, and does NOT run JS or the host
// finalizer inline (spec.md §4.4 steps 1-2) — the finalizer is instead
// routed through invokeFinalizerFromGC. The engine does not call it: the
// cshim makes the engine persistent weak without a callback into Go, so
// the only callers are direct ones.
func (ref *Reference) weakCallback() {
	ref.value = nil
	ref.waitingForCallback = false
	ref.env.invokeFinalizerFromGC(ref)
	if ref.deletedByUser {
		ref.free()
	}
}

// invokeFinalizerFromGC sets in_gc_finalizer for the callback scope and
// invokes the host closure — never inline from the weak callback itself,
// only at the next safe point the drain loop reaches (spec.md §4.4 step
// 3, §5 "Finalizers").
func (env *Env) invokeFinalizerFromGC(ref *Reference) {
	if ref.finalizer == nil {
		if ref.ownership == OwnershipRuntime {
			ref.free()
		}
		return
	}
	env.pendingFinalizers = append(env.pendingFinalizers, &finalizerJob{
		ref:      ref,
		callback: ref.finalizer,
		data:     ref.finalizeData,
		hint:     ref.finalizeHint,
	})
}

// DrainPendingFinalizers runs queued finalizer jobs at a safe point
// (an interrupt or a scope close), never from within a GC weak callback
// (spec.md §4.4 step 3, §5 "Ordering guarantees": oldest-first).
func (env *Env) DrainPendingFinalizers() {
	if env.inGCFinalizer {
		return // re-entrant call during an in-flight drain; let the outer loop finish
	}
	env.inGCFinalizer = true
	defer func() { env.inGCFinalizer = false }()
	for len(env.pendingFinalizers) > 0 {
		job := env.pendingFinalizers[0]
		env.pendingFinalizers = env.pendingFinalizers[1:]
		job.callback(env, job.data, job.hint)
		if job.ref.ownership == OwnershipRuntime {
			job.ref.free()
		}
	}
}

// InGCFinalizer reports whether a finalizer is currently running. While
// true, calling core APIs that could cause GC state changes is a fatal
// programmer error when module-api level is EXPERIMENTAL (spec.md §3,
// §7); non-EXPERIMENTAL hosts may call PostFinalizer instead.
func (env *Env) InGCFinalizer() bool { return env.inGCFinalizer }

// PostFinalizer re-schedules gc-unsafe work to the next safe point
// instead of treating the call as fatal, when module-api level is not
// EXPERIMENTAL (SPEC_FULL.md item 1, grounded on js_native_api_v8.cc's
// two-phase Finalizer construction).
func (env *Env) PostFinalizer(fn func()) Status {
	if env.apiLevel == APILevelExperimental && env.inGCFinalizer {
		panic("jsvm: GC-perturbing API called from inside a finalizer (EXPERIMENTAL module-api)")
	}
	env.interrupts.post(fn)
	env.lastErr.clear()
	return StatusOK
}

// DeleteReference is Userland-only. If the weak callback is still
// pending, marks deletedByUser so the weak callback's own check frees it
// later; else frees immediately (spec.md §4.4).
func (ref *Reference) DeleteReference() Status {
	if ref.ownership != OwnershipUserland {
		return ref.env.lastErr.set(StatusGenericFailure)
	}
	ref.env.lastErr.clear()
	if ref.waitingForCallback {
		ref.deletedByUser = true
		return StatusOK
	}
	ref.free()
	return StatusOK
}

func (ref *Reference) free() {
	if ref.finalizer != nil {
		ref.node.unlink(&ref.env.finalizingReflist)
	} else {
		ref.node.unlink(&ref.env.reflist)
	}
	if ref.cref != nil {
		C.ReferenceFree(ref.cref)
		ref.cref = nil
	}
	ref.env.refs--
}

// GetReferenceValue returns the referent, or nil if the engine has
// already weakly cleared it (spec.md S4).
func (ref *Reference) GetReferenceValue() *Value {
	if ref.value == nil {
		return nil
	}
	return ref.value
}

// AddFinalizer attaches finalizer to v without a native-pointer payload
// (spec.md §4.4 "AddFinalizer").
func (env *Env) AddFinalizer(v *Value, data, hint any, finalizer Finalizer) (*Reference, Status) {
	ref, status := env.CreateReference(v, 0)
	if status != StatusOK {
		return nil, status
	}
	ref.finalizer = finalizer
	ref.finalizeData = data
	ref.finalizeHint = hint
	ref.ownership = OwnershipRuntime
	ref.node.unlink(&env.reflist)
	ref.node.link(&env.finalizingReflist)
	return ref, StatusOK
}

// finalizeAll pops and finalizes every node in *head, in list order
// (oldest-first), matching v8impl::RefTracker::FinalizeAll. A callback
// may enqueue further refs onto the very list being drained, so the
// caller (DestroyEnv) loops until both lists are empty.
func finalizeAll(head **refNode) {
	for *head != nil {
		// link() pushes at the head, so the oldest node is the tail.
		n := *head
		for n.next != nil {
			n = n.next
		}
		ref := n.owner
		n.unlink(head)
		if ref.finalizer != nil {
			ref.finalizer(ref.env, ref.finalizeData, ref.finalizeHint)
		}
		if ref.cref != nil {
			C.ReferenceFree(ref.cref)
			ref.cref = nil
		}
	}
}
