// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/car_tracker/internal/gps"
	"github.com/relabs-tech/car_tracker/internal/logger"
)

// LocalNetworkConfig configures the short-range network feed.
type LocalNetworkConfig struct {
	ListenAddr     string `json:"listen_addr"`
	WriteTimeoutMS int    `json:"write_timeout_ms"`
}

func (c *LocalNetworkConfig) SetDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.WriteTimeoutMS == 0 {
		c.WriteTimeoutMS = 2000
	}
}

// LocalNetwork pushes every fix to websocket clients on /ws and serves the
// latest one on /api/fix.
type LocalNetwork struct {
	cfg      LocalNetworkConfig
	log      logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	last    gps.Fix
	have    bool

	srv *http.Server
	ln  net.Listener
}

func NewLocalNetwork(cfg LocalNetworkConfig, log logger.Logger) *LocalNetwork {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	return &LocalNetwork{
		cfg:     cfg,
		log:     log,
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (n *LocalNetwork) Name() string { return string(KindLocalNetwork) }

// Setup binds the listen address and starts serving.
func (n *LocalNetwork) Setup(context.Context) error {
	ln, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("local network: listen %s: %w", n.cfg.ListenAddr, err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", n.handleWS)
	mux.HandleFunc("/api/fix", n.handleFix)
	n.ln = ln
	n.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := n.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Errorf("server: %v", err)
		}
	}()
	n.log.Infof("serving fixes on %s", ln.Addr())
	return nil
}

// Addr returns the bound address once Setup succeeded.
func (n *LocalNetwork) Addr() string {
	if n.ln == nil {
		return ""
	}
	return n.ln.Addr().String()
}

// Send records f as the latest fix and pushes it to every connected client.
// Clients that cannot keep up are dropped.
func (n *LocalNetwork) Send(_ context.Context, f gps.Fix) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("local network: marshal: %w", err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last, n.have = f, true
	for conn := range n.clients {
		if err := n.write(conn, payload); err != nil {
			n.log.Warnf("dropping client %s: %v", conn.RemoteAddr(), err)
			n.removeLocked(conn)
		}
	}
	return nil
}

func (n *LocalNetwork) write(conn *websocket.Conn, payload []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(time.Duration(n.cfg.WriteTimeoutMS) * time.Millisecond)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (n *LocalNetwork) removeLocked(conn *websocket.Conn) {
	delete(n.clients, conn)
	_ = conn.Close()
}

func (n *LocalNetwork) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.Warnf("websocket upgrade: %v", err)
		return
	}
	n.mu.Lock()
	n.clients[conn] = struct{}{}
	n.mu.Unlock()
	n.log.Debugf("client %s connected", conn.RemoteAddr())

	// Clients never send anything; reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			n.mu.Lock()
			if _, ok := n.clients[conn]; ok {
				n.removeLocked(conn)
			}
			n.mu.Unlock()
			return
		}
	}
}

func (n *LocalNetwork) handleFix(w http.ResponseWriter, _ *http.Request) {
	n.mu.Lock()
	f, have := n.last, n.have
	n.mu.Unlock()
	if !have {
		http.Error(w, "no fix yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(f); err != nil {
		n.log.Warnf("json encode error: %v", err)
	}
}

// Close stops the server and disconnects every client.
func (n *LocalNetwork) Close() error {
	if n.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := n.srv.Shutdown(ctx)
	n.mu.Lock()
	for conn := range n.clients {
		n.removeLocked(conn)
	}
	n.mu.Unlock()
	return err
}
