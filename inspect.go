// Copyright 2019 Roger Chapman and the v8go contributors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package jsvm

import "github.com/openharmony-sig/jsvm/inspector"

// StartInspector creates the Inspector Agent for this Env, registers it
// as this Env's inspector, and spawns the background I/O thread
// (spec.md §4.6.5 "Start(path, hostPort, isMain, waitForConnect)"). host
// and port are split out of hostPort here since the Go transport needs
// them separately for net.Listen; an empty host binds to 127.0.0.1, and
// a zero port lets the agent scan [9229, 9999] for a free port.
func (env *Env) StartInspector(path, host string, port int, isMain, waitForConnect bool) error {
	if env.inspectorAgent != nil {
		return &Error{Status: StatusGenericFailure, Message: "inspector already started for this Env"}
	}
	if host == "" {
		host = "127.0.0.1"
	}
	agent := inspector.NewAgent(env)
	if err := agent.Start(path, host, port, isMain, waitForConnect); err != nil {
		return &Error{Status: StatusGenericFailure, Message: err.Error()}
	}
	env.inspectorAgent = agent
	return nil
}

// StopInspector tears down this Env's inspector agent, if any
// (spec.md §4.6.5 "Cancellation": "Inspector I/O has an explicit Stop").
func (env *Env) StopInspector() {
	if env.inspectorAgent == nil {
		return
	}
	env.inspectorAgent.Stop()
	env.inspectorAgent = nil
}

// InspectorListening reports whether this Env currently has a live
// inspector I/O thread.
func (env *Env) InspectorListening() bool {
	return env.inspectorAgent != nil && env.inspectorAgent.IsListening()
}
