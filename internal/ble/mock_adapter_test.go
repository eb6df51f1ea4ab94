package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// mockCharacteristic records writes and optionally fails them.
type mockCharacteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *mockCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// mockService resolves the pairing characteristic.
type mockService struct {
	pairingChar *mockCharacteristic
	missingChar bool
}

func (s *mockService) Characteristic(charUUID string) (Characteristic, error) {
	if s.missingChar || charUUID != PairingCharacteristicUUID {
		return nil, fmt.Errorf("mock: characteristic %s not found", charUUID)
	}
	return s.pairingChar, nil
}

// mockConnection simulates a BLE connection.
type mockConnection struct {
	mu           sync.Mutex
	service      *mockService
	noService    bool
	disconnectCb func()
	disconnected bool
	// dropOnRegister fires the disconnect callback as soon as it is
	// registered, as a link that died before registration would.
	dropOnRegister bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		service: &mockService{pairingChar: &mockCharacteristic{}},
	}
}

func (c *mockConnection) Service(serviceUUID string) (Service, error) {
	if c.noService || serviceUUID != PairingServiceUUID {
		return nil, fmt.Errorf("mock: service %s not found", serviceUUID)
	}
	return c.service, nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	fire := c.dropOnRegister
	c.mu.Unlock()
	if fire {
		cb()
	}
}

// SimulateDisconnect triggers the registered disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// mockAdapter simulates the BLE hardware adapter. Scan deliveries are driven
// explicitly by tests via EmitAdvertisement.
type mockAdapter struct {
	mu         sync.Mutex
	enableErr  error
	enables    int
	badAddrs   map[string]bool
	scanErr    error
	connectErr error
	scanning   bool
	onResult   func(Advertisement)
	scanDone   chan error
	connection *mockConnection // most recent connection for assertions
	// connectGate, when set, blocks Connect until closed so tests can
	// interleave a Disconnect with an in-flight attempt.
	connectGate chan struct{}
	// dropNextOnRegister hands out a connection that is already dead by
	// the time its disconnect callback is registered.
	dropNextOnRegister bool
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{}
}

func (a *mockAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enableErr != nil {
		return a.enableErr
	}
	a.enables++
	return nil
}

func (a *mockAdapter) ValidAddress(addr string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.badAddrs[addr]
}

func (a *mockAdapter) Scan(onResult func(Advertisement)) error {
	a.mu.Lock()
	if a.scanErr != nil {
		err := a.scanErr
		a.mu.Unlock()
		return err
	}
	a.scanning = true
	a.onResult = onResult
	a.scanDone = make(chan error, 1)
	done := a.scanDone
	a.mu.Unlock()
	return <-done
}

func (a *mockAdapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scanning {
		a.scanning = false
		a.scanDone <- nil
	}
	return nil
}

// EmitAdvertisement delivers one scan result to the active scan callback.
func (a *mockAdapter) EmitAdvertisement(adv Advertisement) {
	a.mu.Lock()
	cb := a.onResult
	a.mu.Unlock()
	if cb != nil {
		cb(adv)
	}
}

// FailScan makes the in-progress scan return an error, as a radio failure
// would.
func (a *mockAdapter) FailScan(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scanning {
		a.scanning = false
		a.scanDone <- err
	}
}

func (a *mockAdapter) Connect(ctx context.Context, addr string) (Connection, error) {
	a.mu.Lock()
	gate := a.connectGate
	err := a.connectErr
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	conn := newMockConnection()
	a.mu.Lock()
	conn.dropOnRegister = a.dropNextOnRegister
	a.connection = conn
	a.mu.Unlock()
	return conn, nil
}

func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection
}

// allowAll satisfies the authorizer interfaces for tests.
type allowAll struct{}

func (allowAll) CanConnect() bool { return true }
func (allowAll) CanScan() bool    { return true }

// denyAll refuses every permission.
type denyAll struct{}

func (denyAll) CanConnect() bool { return false }
func (denyAll) CanScan() bool    { return false }

var errMockConnect = errors.New("mock: connect refused")

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
