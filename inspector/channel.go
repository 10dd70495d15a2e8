// Copyright (c) 2024 Huawei Device Co., Ltd. Adapted for the Go facade.
// Use of this source code is governed by the license in the repository
// root LICENSE file.

package inspector

import (
	"encoding/json"
	"log/slog"
)

// channel is the per-session message router, a reduction of
// js_native_api_v8_inspector.cc's MainThreadSessionState / ThreadSafeDelegate
// pair down to a single struct: there is no separate delegate object
// because this façade has exactly one session per WebSocket connection,
// not one per worker thread.
type channel struct {
	agent *Agent
	sess  *session
	log   *slog.Logger
}

func newChannel(agent *Agent, sess *session) *channel {
	return &channel{agent: agent, sess: sess, log: agent.log.With("component", "jsvm.inspector.channel")}
}

// cdpMessage is the subset of a Chrome DevTools Protocol envelope this
// façade needs to route a request: everything else is opaque payload
// forwarded verbatim to the embedder-registered handler.
type cdpMessage struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// dispatch runs on the JS thread (posted there by ioThread.readPump via
// Interrupter.PostInterrupt), so it may safely touch engine state through
// agent.interrupter once a real binding layers that in. For now it
// recognizes exactly one method the spec calls out by name,
// Runtime.runIfWaitingForDebugger (spec.md §4.6.5 "frontend readiness
// signal"), and acknowledges every other inbound call with an empty
// success result so frontends that probe capabilities don't stall
// waiting for a response.
func (c *channel) dispatch(raw []byte) {
	var msg cdpMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Warn("jsvm/inspector: malformed CDP message", "err", err)
		return
	}

	switch msg.Method {
	case "Runtime.runIfWaitingForDebugger":
		c.agent.notifyFrontendReady()
	case "Runtime.enable", "Debugger.enable", "Profiler.enable":
		// Domains this façade does not implement a backend for still
		// need to ack `enable` so a DevTools frontend's startup
		// handshake doesn't hang (spec.md §1 "DELIBERATELY OUT OF
		// SCOPE" names per-domain protocol backends).
	}

	if msg.ID != 0 {
		c.respond(msg.ID, json.RawMessage(`{}`))
	}
}

type cdpResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
}

func (c *channel) respond(id int, result json.RawMessage) {
	body, err := json.Marshal(cdpResponse{ID: id, Result: result})
	if err != nil {
		c.log.Error("jsvm/inspector: marshal response", "err", err)
		return
	}
	if err := c.sess.send(body); err != nil {
		c.log.Warn("jsvm/inspector: send response", "err", err)
	}
}

type cdpNotification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// notify pushes an unsolicited protocol event to the frontend, e.g. a
// Debugger.paused notification raised from the engine side.
func (c *channel) notify(method string, params json.RawMessage) {
	body, err := json.Marshal(cdpNotification{Method: method, Params: params})
	if err != nil {
		c.log.Error("jsvm/inspector: marshal notification", "err", err)
		return
	}
	if err := c.sess.send(body); err != nil {
		c.log.Warn("jsvm/inspector: send notification", "err", err)
	}
}
