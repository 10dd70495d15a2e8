// Copyright (c) 2024 Huawei Device Co., Ltd. Adapted for the Go facade.
// Use of this source code is governed by the license in the repository
// root LICENSE file.

// Package inspector implements §4.6.5/§5's in-process WebSocket debugger
// transport and cross-thread message pump, grounded on
// src/js_native_api_v8_inspector.h's Agent class (Start/Stop/IsListening/
// WaitForConnect/WaitForDisconnect/GetWsUrl/StartIoThread), adapted from
// Node's ExclusiveAccess<HostPort>/ParentInspectorHandle machinery into
// a single mutex-guarded struct, since this façade has no worker-thread
// hierarchy to parent to.
//
// It is a separate package (rather than living in the root jsvm package)
// because it is the one genuinely separate concurrency domain this core
// has: the I/O thread never touches engine state directly, communicating
// only through the Interrupter it is given by NewAgent.
package inspector

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
)

// Interrupter lets the Agent post work onto the JS thread without
// touching engine state itself (spec.md §5 "Inspector concurrency": "It
// communicates exclusively via the post-interrupt queue"). Satisfied by
// *jsvm.Env.
type Interrupter interface {
	RunAndClearInterrupts()
	PostInterrupt(fn func())
}

// Agent is one inspector session's control surface: Start spawns the I/O
// thread (if enabled), Stop tears it down. Mirrors
// js_native_api_v8_inspector.h's Agent class.
type Agent struct {
	mu sync.Mutex

	interrupter Interrupter
	log         *slog.Logger

	path           string
	uuid           string
	host           string
	port           int
	isMain         bool
	waitForConnect bool

	io *ioThread

	waitCond      *sync.Cond
	frontendReady bool
}

// NewAgent constructs an Agent bound to interrupter. Nothing is started
// until Start is called (mirrors the Agent(Environment*) constructor,
// which only records parent_env_).
func NewAgent(interrupter Interrupter) *Agent {
	a := &Agent{interrupter: interrupter, log: slog.Default().With("component", "jsvm.inspector")}
	a.waitCond = sync.NewCond(&a.mu)
	return a
}

// Start picks a port, creates the I/O thread, and if waitForConnect is
// true blocks the caller until the frontend issues
// Runtime.runIfWaitingForDebugger (spec.md §4.6.5). It returns an error
// if the agent is already started. No context is registered with an
// engine inspector; inbound messages go to channel.dispatch.
func (a *Agent) Start(path, host string, port int, isMain, waitForConnect bool) error {
	a.mu.Lock()
	if a.io != nil {
		a.mu.Unlock()
		return fmt.Errorf("jsvm/inspector: agent already started")
	}
	a.path = path
	a.uuid = newSessionUUID()
	a.host = host
	a.port = port
	a.isMain = isMain
	a.waitForConnect = waitForConnect
	a.mu.Unlock()

	resolvedPort, err := selectPort(host, port)
	if err != nil {
		return fmt.Errorf("jsvm/inspector: selecting port: %w", err)
	}

	io, err := startIOThread(a, host, resolvedPort, a.path, a.uuid)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.port = resolvedPort
	a.io = io
	a.mu.Unlock()

	a.log.Info("inspector listening", "url", a.GetWsURL())

	if waitForConnect {
		a.WaitForConnect()
	}
	return nil
}

// Stop asks the I/O thread to stop accepting connections.
func (a *Agent) Stop() {
	a.mu.Lock()
	io := a.io
	a.io = nil
	a.mu.Unlock()
	if io != nil {
		io.close()
	}
}

// IsListening reports whether the I/O thread is running.
func (a *Agent) IsListening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.io != nil
}

// IsStarted is an alias kept for parity with Agent::IsActive in the
// original backend (SPEC_FULL.md item 5).
func (a *Agent) IsStarted() bool { return a.IsListening() }

// IsWaitingForConnect reports whether Start is still blocked waiting for
// a frontend (SPEC_FULL.md item 5).
func (a *Agent) IsWaitingForConnect() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.waitForConnect && !a.frontendReady
}

// WaitForConnect blocks until the debugger issues
// Runtime.runIfWaitingForDebugger (signaled by notifyFrontendReady).
func (a *Agent) WaitForConnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for !a.frontendReady {
		a.waitCond.Wait()
	}
}

// notifyFrontendReady is called by channel dispatch when it sees
// Runtime.runIfWaitingForDebugger.
func (a *Agent) notifyFrontendReady() {
	a.mu.Lock()
	a.frontendReady = true
	a.waitCond.Broadcast()
	a.mu.Unlock()
}

// WaitForDisconnect blocks until all sessions marked preventShutdown are
// gone.
func (a *Agent) WaitForDisconnect() {
	a.mu.Lock()
	io := a.io
	a.mu.Unlock()
	if io != nil {
		io.waitForDisconnect()
	}
}

// GetWsURL returns the ws://host:port/<uuid> frontend address.
func (a *Agent) GetWsURL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fmt.Sprintf("ws://%s:%d/%s", a.host, a.port, a.uuid)
}

// newSessionUUID generates a per-agent-start UUID v4 using a
// cryptographic RNG, formatted as RFC-4122 (spec.md §6 "Inspector
// protocol").
func newSessionUUID() string {
	return uuid.New().String()
}

// selectPort scans [9229, 9999] with a short-lived bind probe when port
// is zero or the engine default, 9229 (spec.md §4.6.5 "Port selection").
func selectPort(host string, port int) (int, error) {
	if port != 0 && port != 9229 {
		return port, nil
	}
	for p := 9229; p <= 9999; p++ {
		addr := fmt.Sprintf("%s:%d", host, p)
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return p, nil
		}
	}
	return 0, fmt.Errorf("no free port in [9229, 9999]")
}
