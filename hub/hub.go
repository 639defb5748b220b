// Package hub manages every live real-time connection to the marketplace:
// negotiating agents and passive viewers. Connections arrive unidentified
// and must identify within a deadline or be evicted with a policy-violation
// close. Index mutations are serialized behind one lock; the network sends
// of a broadcast fan out in parallel with per-send isolation.
package hub

import (
	"sync"
	"time"

	"github.com/CodeUnit7/Isiziba/logging"
)

// DefaultIdentifyTimeout is how long an unidentified connection may linger.
const DefaultIdentifyTimeout = 30 * time.Second

// PolicyViolationCode is the close code sent to evicted ghost connections.
const PolicyViolationCode = 1008

// Conn is one live bidirectional connection. Implementations must make
// WriteJSON safe for concurrent use.
type Conn interface {
	// WriteJSON sends one JSON-encoded message.
	WriteJSON(v any) error
	// Close terminates the connection with a close code and reason.
	Close(code int, reason string) error
	// RemoteAddr describes the peer for logging.
	RemoteAddr() string
}

// connState tracks a connection's identification lifecycle. A connection is
// Unidentified until an identify message lands, then either an agent or a
// viewer until disconnect.
type connState struct {
	agentID string
	viewer  bool
	timer   *time.Timer
}

func (s *connState) identified() bool { return s.agentID != "" || s.viewer }

// Options configures the Hub.
type Options struct {
	// IdentifyTimeout bounds the Unidentified state.
	IdentifyTimeout time.Duration

	// Logger receives structured hub events. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Hub is the process-scoped connection registry. Create one at startup,
// inject it into components, tear it down at shutdown.
type Hub struct {
	opts Options

	mu     sync.Mutex
	conns  map[Conn]*connState
	agents map[string]Conn

	broadcastFailures int
}

// New creates an empty Hub.
func New(optFns ...func(o *Options)) *Hub {
	opts := Options{IdentifyTimeout: DefaultIdentifyTimeout, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Hub{
		opts:   opts,
		conns:  make(map[Conn]*connState),
		agents: make(map[string]Conn),
	}
}

// Register adds a fresh connection in the Unidentified state and arms its
// eviction timer.
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	state := &connState{}
	state.timer = time.AfterFunc(h.opts.IdentifyTimeout, func() { h.evict(c) })
	h.conns[c] = state
	total := len(h.conns)
	h.mu.Unlock()

	h.opts.Logger.Info("connection opened", "remote", c.RemoteAddr(), "total", total)
}

// evict closes a connection that never identified. Runs from the timer
// goroutine; identification may race it, so the identified check happens
// under the lock.
func (h *Hub) evict(c Conn) {
	h.mu.Lock()
	state, ok := h.conns[c]
	if !ok || state.identified() {
		h.mu.Unlock()
		return
	}
	h.removeLocked(c, state)
	h.mu.Unlock()

	h.opts.Logger.Warn("evicting unidentified connection", "remote", c.RemoteAddr())
	if err := c.Close(PolicyViolationCode, "identification timeout"); err != nil {
		h.opts.Logger.Warn("close failed for evicted connection", "remote", c.RemoteAddr(), "error", err)
	}
}

// IdentifyAgent binds a verified agent identity to the connection and cancels
// the eviction timer. Callers must have re-verified the claimed id and
// credential against the registry first.
func (h *Hub) IdentifyAgent(agentID string, c Conn) {
	h.mu.Lock()
	state, ok := h.conns[c]
	if !ok {
		// Timer fired (or disconnect ran) before identification landed.
		h.mu.Unlock()
		return
	}
	state.agentID = agentID
	state.timer.Stop()
	h.agents[agentID] = c
	h.mu.Unlock()

	h.opts.Logger.Info("connection identified", "agent_id", agentID, "remote", c.RemoteAddr())
}

// IdentifyViewer marks the connection as a passive observer and cancels the
// eviction timer.
func (h *Hub) IdentifyViewer(c Conn) {
	h.mu.Lock()
	state, ok := h.conns[c]
	if !ok {
		h.mu.Unlock()
		return
	}
	state.viewer = true
	state.timer.Stop()
	h.mu.Unlock()

	h.opts.Logger.Info("viewer registered", "remote", c.RemoteAddr())
}

// Disconnect removes the connection from every index. Safe to call multiple
// times and from either the read loop or the eviction timer.
func (h *Hub) Disconnect(c Conn) {
	h.mu.Lock()
	state, ok := h.conns[c]
	if !ok {
		h.mu.Unlock()
		return
	}
	h.removeLocked(c, state)
	remaining := len(h.conns)
	h.mu.Unlock()

	h.opts.Logger.Info("connection closed", "remote", c.RemoteAddr(), "remaining", remaining)
}

// removeLocked deletes a connection from all maps. Caller holds the lock.
func (h *Hub) removeLocked(c Conn, state *connState) {
	state.timer.Stop()
	delete(h.conns, c)
	if state.agentID != "" {
		// Only unmap when this conn still owns the agent entry; a
		// reconnect may have replaced it.
		if cur, ok := h.agents[state.agentID]; ok && cur == c {
			delete(h.agents, state.agentID)
		}
	}
}

// Broadcast fans the message out to every active connection concurrently and
// waits for the batch. Individual send failures are logged and counted,
// never aborting the batch. Returns the number of successful sends.
func (h *Hub) Broadcast(msg any) int {
	h.mu.Lock()
	targets := make([]Conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	var sentMu sync.Mutex
	sent, failed := 0, 0
	for _, c := range targets {
		wg.Add(1)
		go func(c Conn) {
			defer wg.Done()
			if err := c.WriteJSON(msg); err != nil {
				h.opts.Logger.Warn("broadcast send failed", "remote", c.RemoteAddr(), "error", err)
				sentMu.Lock()
				failed++
				sentMu.Unlock()
				return
			}
			sentMu.Lock()
			sent++
			sentMu.Unlock()
		}(c)
	}
	wg.Wait()

	h.mu.Lock()
	h.broadcastFailures += failed
	h.mu.Unlock()
	if sent > 0 {
		h.opts.Logger.Debug("broadcast delivered", "sent", sent, "failed", failed)
	}
	return sent
}

// SendToAgent delivers a message to one connected agent. A missing mapping
// is a silent no-op: the agent may simply be offline, which is not an error
// for the caller. Returns whether a send was attempted and succeeded.
func (h *Hub) SendToAgent(agentID string, msg any) bool {
	h.mu.Lock()
	c, ok := h.agents[agentID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	if err := c.WriteJSON(msg); err != nil {
		h.opts.Logger.Warn("targeted send failed", "agent_id", agentID, "error", err)
		return false
	}
	h.opts.Logger.Debug("targeted message sent", "agent_id", agentID)
	return true
}

// Stats reports live connection counts for diagnostics.
type Stats struct {
	Active  int      `json:"active_count"`
	Agents  int      `json:"agent_mapped_count"`
	Viewers int      `json:"viewer_count"`
	Clients []string `json:"clients"`
}

// Stats snapshots the hub's connection indexes.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Stats{Active: len(h.conns), Agents: len(h.agents)}
	for c, state := range h.conns {
		if state.viewer {
			st.Viewers++
		}
		st.Clients = append(st.Clients, c.RemoteAddr())
	}
	return st
}

// Shutdown closes every connection. Used at process teardown.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	targets := make([]Conn, 0, len(h.conns))
	for c, state := range h.conns {
		state.timer.Stop()
		targets = append(targets, c)
	}
	h.conns = make(map[Conn]*connState)
	h.agents = make(map[string]Conn)
	h.mu.Unlock()

	for _, c := range targets {
		_ = c.Close(1001, "server shutting down")
	}
}
