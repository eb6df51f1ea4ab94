package ble

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrNotConnected is returned by operations that require a live link.
var ErrNotConnected = errors.New("ble: not connected")

// ConnState is the connection manager's lifecycle state.
type ConnState string

const (
	StateDisconnected ConnState = "Disconnected"
	StateConnecting   ConnState = "Connecting"
	StateConnected    ConnState = "Connected"
)

// ConnectAuthorizer reports whether the process currently holds the
// permissions needed for outbound GATT operations.
type ConnectAuthorizer interface {
	CanConnect() bool
}

// ConnectionManager owns the single active GATT connection. At most one
// connection (or connection attempt) exists at a time; a Connect call while
// one is in flight is rejected immediately.
type ConnectionManager struct {
	adapter Adapter
	auth    ConnectAuthorizer

	// onStateChange, if set, is told when a peer's link comes up or goes
	// down, so the device registry can refresh its Connected flags.
	onStateChange func(addr string, connected bool)

	mu    sync.Mutex
	state ConnState
	addr  string
	conn  Connection
	// gen counts connection attempts. Platform callbacks carry the
	// generation they belong to; callbacks from a superseded attempt are
	// ignored, so a disconnect requested mid-connect always wins.
	gen uint64
}

// NewConnectionManager creates a manager in the Disconnected state.
func NewConnectionManager(adapter Adapter, auth ConnectAuthorizer) *ConnectionManager {
	return &ConnectionManager{
		adapter: adapter,
		auth:    auth,
		state:   StateDisconnected,
	}
}

// SetStateListener registers a callback for per-address link state changes.
// Must be called before the first Connect.
func (m *ConnectionManager) SetStateListener(fn func(addr string, connected bool)) {
	m.onStateChange = fn
}

// State returns the current lifecycle state.
func (m *ConnectionManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PeerAddress returns the address of the connected or connecting peer, empty
// when disconnected.
func (m *ConnectionManager) PeerAddress() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// Connect establishes a link to the peer at addr, blocking until a
// definitive outcome. Returns false without any state change when the
// address is empty, authorization is missing, or another attempt is already
// in flight.
func (m *ConnectionManager) Connect(ctx context.Context, addr string) bool {
	if addr == "" {
		return false
	}
	if !m.adapter.ValidAddress(addr) {
		slog.Warn("[CONN] connect rejected, malformed address", "addr", addr)
		return false
	}
	if m.auth != nil && !m.auth.CanConnect() {
		slog.Warn("[CONN] connect rejected, missing permissions", "addr", addr)
		return false
	}
	if err := m.adapter.Enable(); err != nil {
		slog.Warn("[CONN] adapter unavailable", "addr", addr, "error", err)
		return false
	}

	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		slog.Warn("[CONN] connect rejected, attempt already in flight", "addr", addr, "state", m.state)
		return false
	}
	m.state = StateConnecting
	m.addr = addr
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	conn, err := m.adapter.Connect(ctx, addr)
	if err == nil && conn != nil {
		// Register before publishing Connected: a drop delivered between
		// the platform connect returning and this registration reaches
		// handleRemoteDisconnect instead of being lost, and its gen bump
		// below makes this attempt release the dead handle.
		conn.OnDisconnect(func() { m.handleRemoteDisconnect(gen) })
	}

	m.mu.Lock()
	if m.gen != gen {
		// Disconnect, reset, or an early drop superseded this attempt
		// while the platform call was in flight; release the handle if one
		// arrived late.
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Disconnect()
		}
		return false
	}
	if err != nil {
		m.state = StateDisconnected
		m.addr = ""
		m.mu.Unlock()
		slog.Warn("[CONN] connect failed", "addr", addr, "error", err)
		return false
	}
	m.conn = conn
	m.state = StateConnected
	m.mu.Unlock()

	m.notify(addr, true)
	slog.Info("[CONN] connected", "addr", addr)
	return true
}

// Disconnect releases the active connection, if any. Idempotent, callable
// from any state, and always leaves the manager Disconnected; underlying
// errors are swallowed.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	addr := m.addr
	wasConnected := m.state == StateConnected
	m.conn = nil
	m.addr = ""
	m.state = StateDisconnected
	m.gen++
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			slog.Debug("[CONN] disconnect", "error", err)
		}
	}
	if wasConnected {
		m.notify(addr, false)
	}
}

// Service resolves a GATT service on the connected peer. Fails fast when not
// Connected.
func (m *ConnectionManager) Service(serviceUUID string) (Service, error) {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return nil, ErrNotConnected
	}
	if m.auth != nil && !m.auth.CanConnect() {
		return nil, ErrNotConnected
	}
	return conn.Service(serviceUUID)
}

// WriteCharacteristic performs a single characteristic write. Returns false
// when not Connected, when authorization is missing, or when the underlying
// write is rejected; never panics.
func (m *ConnectionManager) WriteCharacteristic(char Characteristic, payload []byte) bool {
	m.mu.Lock()
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || char == nil {
		return false
	}
	if m.auth != nil && !m.auth.CanConnect() {
		return false
	}
	if err := char.Write(payload); err != nil {
		slog.Warn("[CONN] characteristic write failed", "error", err)
		return false
	}
	return true
}

// handleRemoteDisconnect processes a platform disconnect callback. Stale
// callbacks from a superseded attempt are no-ops.
func (m *ConnectionManager) handleRemoteDisconnect(gen uint64) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	addr := m.addr
	wasConnected := m.state == StateConnected
	m.conn = nil
	m.addr = ""
	m.state = StateDisconnected
	// Bump so a Connect still publishing this attempt sees it superseded
	// and releases the dead handle instead of reporting Connected.
	m.gen++
	m.mu.Unlock()

	slog.Info("[CONN] peer disconnected", "addr", addr)
	if wasConnected {
		m.notify(addr, false)
	}
}

func (m *ConnectionManager) notify(addr string, connected bool) {
	if m.onStateChange != nil && addr != "" {
		m.onStateChange(addr, connected)
	}
}
