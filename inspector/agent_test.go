// Copyright (c) 2024 Huawei Device Co., Ltd. Adapted for the Go facade.
// Use of this source code is governed by the license in the repository
// root LICENSE file.

package inspector

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeInterrupter runs posted work inline, standing in for the JS thread:
// this package never touches engine state itself (see the Interrupter
// doc comment on agent.go), so a synchronous stub is enough to exercise
// the I/O thread's message pump.
type fakeInterrupter struct{}

func (fakeInterrupter) RunAndClearInterrupts() {}
func (fakeInterrupter) PostInterrupt(fn func()) {
	fn()
}

func TestAgentStartStop(t *testing.T) {
	a := NewAgent(fakeInterrupter{})
	require.False(t, a.IsListening())

	err := a.Start("/main", "127.0.0.1", 0, true, false)
	require.NoError(t, err)
	require.True(t, a.IsListening())

	url := a.GetWsURL()
	require.True(t, strings.HasPrefix(url, "ws://127.0.0.1:"))

	a.Stop()
	require.False(t, a.IsListening())
}

// TestAgentFrontendHandshake drives a real WebSocket client through the
// readiness handshake: Runtime.runIfWaitingForDebugger unblocks
// WaitForConnect, and a request with an id gets an empty-success ack
// (spec.md §4.6.5 "frontend readiness signal").
func TestAgentFrontendHandshake(t *testing.T) {
	a := NewAgent(fakeInterrupter{})
	defer a.Stop()

	// Start(waitForConnect=true) blocks until the frontend sends
	// Runtime.runIfWaitingForDebugger, so it has to run off the test
	// goroutine: the dial and the write below are what unblocks it.
	startErr := make(chan error, 1)
	go func() { startErr <- a.Start("/main", "127.0.0.1", 0, true, true) }()

	var wsURL string
	require.Eventually(t, func() bool {
		wsURL = a.GetWsURL()
		return a.IsListening()
	}, 2*time.Second, 10*time.Millisecond, "agent never started listening")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"method":"Runtime.runIfWaitingForDebugger"}`)))

	select {
	case err := <-startErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not unblock after runIfWaitingForDebugger")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, body, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"id":1,"result":{}}`, string(body))
}

func TestSelectPortHonorsExplicitPort(t *testing.T) {
	p, err := selectPort("127.0.0.1", 9331)
	require.NoError(t, err)
	require.Equal(t, 9331, p)
}

func TestSelectPortScansWhenZero(t *testing.T) {
	p, err := selectPort("127.0.0.1", 0)
	require.NoError(t, err)
	require.True(t, p >= 9229 && p <= 9999)
}
