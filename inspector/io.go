// Copyright (c) 2024 Huawei Device Co., Ltd. Adapted for the Go facade.
// Use of this source code is governed by the license in the repository
// root LICENSE file.

package inspector

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ioThread is the background WebSocket server spawned by Agent.Start.
// Its read/write-pump shape is grounded on
// other_examples/020d358a_vango-go-vango__pkg-server-session.go.go
// (gorilla/websocket Upgrade + goroutine pump pair).
type ioThread struct {
	agent *Agent
	srv   *http.Server

	mu       sync.Mutex
	sessions map[*session]struct{}

	upgrader websocket.Upgrader
}

type session struct {
	conn            *websocket.Conn
	preventShutdown bool
	channel         *channel
	closed          chan struct{}
}

func startIOThread(agent *Agent, host string, port int, path, uuid string) (*ioThread, error) {
	io := &ioThread{
		agent:    agent,
		sessions: make(map[*session]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/"+uuid, io.handleUpgrade)
	mux.HandleFunc("/json/version", io.handleVersion)

	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("jsvm/inspector: bind %s: %w", addr, err)
	}

	io.srv = &http.Server{Handler: mux}
	go func() {
		if err := io.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Default().Error("jsvm/inspector: server error", "err", err)
		}
	}()
	return io, nil
}

func (io *ioThread) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"Browser":"jsvm","Protocol-Version":"1.3"}`)
}

func (io *ioThread) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := io.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Default().Warn("jsvm/inspector: upgrade failed", "err", err)
		return
	}
	sess := &session{conn: conn, closed: make(chan struct{})}
	sess.channel = newChannel(io.agent, sess)

	io.mu.Lock()
	io.sessions[sess] = struct{}{}
	io.mu.Unlock()

	slog.Default().Info("jsvm/inspector: frontend connected")

	go io.readPump(sess)
}

// readPump preserves FIFO order for inbound frontend messages by posting
// each one, in order, onto the JS thread's interrupt queue (spec.md §5
// "Inspector requests queued on the I/O thread preserve FIFO order on
// the JS side").
func (io *ioThread) readPump(sess *session) {
	defer func() {
		sess.conn.Close()
		close(sess.closed)
		io.mu.Lock()
		delete(io.sessions, sess)
		io.mu.Unlock()
		slog.Default().Info("jsvm/inspector: frontend disconnected")
	}()
	for {
		_, msg, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		payload := append([]byte(nil), msg...)
		io.agent.interrupter.PostInterrupt(func() {
			sess.channel.dispatch(payload)
		})
	}
}

func (s *session) send(data []byte) error {
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (io *ioThread) close() {
	if io.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = io.srv.Shutdown(ctx)
	}
	io.mu.Lock()
	sessions := make([]*session, 0, len(io.sessions))
	for s := range io.sessions {
		sessions = append(sessions, s)
	}
	io.mu.Unlock()
	for _, s := range sessions {
		s.conn.Close()
	}
}

// waitForDisconnect blocks until every session marked preventShutdown has
// closed (spec.md §4.6.5 "Connection shutdown").
func (io *ioThread) waitForDisconnect() {
	for {
		io.mu.Lock()
		var pending []*session
		for s := range io.sessions {
			if s.preventShutdown {
				pending = append(pending, s)
			}
		}
		io.mu.Unlock()
		if len(pending) == 0 {
			return
		}
		for _, s := range pending {
			<-s.closed
		}
	}
}
