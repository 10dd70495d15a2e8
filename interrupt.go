// Copyright 2019 Roger Chapman and the v8go contributors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package jsvm

import "sync"

// interruptQueue is the one cross-thread-shared mutable structure in
// this package (spec.md §5 "Shared resources"): work posted from any
// thread (the inspector I/O thread, PostFinalizer) drains on the JS
// thread at the next safe point. Protected by a mutex; no condition
// variable is needed here because draining happens synchronously inside
// RunAndClearInterrupts, not via a blocking wait (the inspector's one
// blocking wait is Agent.WaitForConnect, see inspector/agent.go).
type interruptQueue struct {
	mu    sync.Mutex
	items []func()
}

func newInterruptQueue() *interruptQueue {
	return &interruptQueue{}
}

func (q *interruptQueue) post(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
}

// PostInterrupt lets a cross-thread actor (the inspector I/O thread) post
// work onto this Env's interrupt queue without touching engine state
// (spec.md §5 "Inspector concurrency"). Satisfies inspector.Interrupter.
func (env *Env) PostInterrupt(fn func()) {
	env.interrupts.post(fn)
}

// RunAndClearInterrupts drains the interrupt queue and any pending GC
// finalizers, in that order. PostInterrupt does not request an engine
// interrupt, so the engine never calls this; it runs only when the host
// calls it on the JS thread.
func (env *Env) RunAndClearInterrupts() {
	env.interrupts.mu.Lock()
	items := env.interrupts.items
	env.interrupts.items = nil
	env.interrupts.mu.Unlock()

	for _, fn := range items {
		fn()
	}
	env.DrainPendingFinalizers()
}
