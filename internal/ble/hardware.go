package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// errNotEnabled is returned by radio operations attempted before Enable.
var errNotEnabled = errors.New("ble: adapter not enabled")

// HardwareAdapter wraps tinygo-org/bluetooth. Device addresses are MAC
// strings; they are normalized to the platform's canonical rendering before
// being used as map keys, so callers may pass any case.
type HardwareAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects enabled, connections, and advertising.
	mu          sync.Mutex
	enabled     bool
	connections map[string]*hardwareConnection // keyed by canonical address
	advertising bool
}

// NewHardwareAdapter creates a BLE adapter backed by the platform default.
// Enable must be called before any other operation.
func NewHardwareAdapter() *HardwareAdapter {
	return &HardwareAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*hardwareConnection),
	}
}

func (a *HardwareAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	// Adapter-level connect handler: tinygo/bluetooth fires this with
	// connected=false when a peripheral drops, which is how disconnect
	// callbacks reach the connection manager.
	a.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := dev.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok {
			conn.markDropped()
		}
	})

	a.enabled = true
	return nil
}

func (a *HardwareAdapter) isEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// ValidAddress reports whether addr parses as a device MAC address.
func (a *HardwareAdapter) ValidAddress(addr string) bool {
	_, err := bluetooth.ParseMAC(addr)
	return err == nil
}

// canonicalAddress normalizes addr to the rendering the platform uses in
// its own callbacks, so map lookups keyed by address always agree.
func canonicalAddress(addr string) (string, error) {
	mac, err := bluetooth.ParseMAC(addr)
	if err != nil {
		return "", fmt.Errorf("ble: invalid address %q: %w", addr, err)
	}
	return mac.String(), nil
}

func (a *HardwareAdapter) Scan(onResult func(Advertisement)) error {
	if !a.isEnabled() {
		return errNotEnabled
	}
	return a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		onResult(Advertisement{
			Address: result.Address.String(),
			Name:    result.LocalName(),
			RSSI:    int(result.RSSI),
		})
	})
}

func (a *HardwareAdapter) StopScan() error {
	if !a.isEnabled() {
		return errNotEnabled
	}
	return a.adapter.StopScan()
}

func (a *HardwareAdapter) Connect(ctx context.Context, addr string) (Connection, error) {
	key, err := canonicalAddress(addr)
	if err != nil {
		return nil, err
	}
	if !a.isEnabled() {
		return nil, errNotEnabled
	}
	var target bluetooth.Address
	target.Set(key)

	dev, err := awaitConnect(ctx,
		func() (bluetooth.Device, error) {
			return a.adapter.Connect(target, bluetooth.ConnectionParams{})
		},
		func(d bluetooth.Device) { _ = d.Disconnect() },
	)
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", addr, err)
	}

	conn := &hardwareConnection{device: &dev}
	a.mu.Lock()
	a.connections[key] = conn
	a.mu.Unlock()
	return conn, nil
}

// awaitConnect runs the blocking platform dial on its own goroutine so ctx
// cancellation unblocks the caller. When the dial succeeds after the caller
// has already given up, the orphaned handle is passed to release instead of
// being leaked.
func awaitConnect(ctx context.Context, dial func() (bluetooth.Device, error), release func(bluetooth.Device)) (bluetooth.Device, error) {
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := dial()
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if result := <-ch; result.err == nil {
				release(result.device)
			}
		}()
		return bluetooth.Device{}, ctx.Err()
	case result := <-ch:
		return result.device, result.err
	}
}

// StartPairingService registers the NearFind pairing service and advertises
// it, making this device a valid pairing target.
func (a *HardwareAdapter) StartPairingService(localName string, onWrite func(payload []byte)) error {
	if !a.isEnabled() {
		return errNotEnabled
	}
	svcUUID, err := bluetooth.ParseUUID(PairingServiceUUID)
	if err != nil {
		return fmt.Errorf("ble: parse pairing service UUID: %w", err)
	}
	pairUUID, err := bluetooth.ParseUUID(PairingCharacteristicUUID)
	if err != nil {
		return fmt.Errorf("ble: parse pairing characteristic UUID: %w", err)
	}
	userUUID, err := bluetooth.ParseUUID(UserDataCharacteristicUUID)
	if err != nil {
		return fmt.Errorf("ble: parse user data characteristic UUID: %w", err)
	}

	err = a.adapter.AddService(&bluetooth.Service{
		UUID: svcUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				UUID:  pairUUID,
				Flags: bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					// Payloads are single unfragmented writes; long-write
					// continuations are not part of the protocol.
					if offset != 0 {
						return
					}
					onWrite(value)
				},
			},
			{
				UUID:  userUUID,
				Flags: bluetooth.CharacteristicReadPermission,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ble: register pairing service: %w", err)
	}

	adv := a.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    localName,
		ServiceUUIDs: []bluetooth.UUID{svcUUID},
	}); err != nil {
		return fmt.Errorf("ble: configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("ble: start advertising: %w", err)
	}

	a.mu.Lock()
	a.advertising = true
	a.mu.Unlock()
	return nil
}

func (a *HardwareAdapter) StopAdvertising() error {
	a.mu.Lock()
	wasAdvertising := a.advertising
	a.advertising = false
	a.mu.Unlock()
	if !wasAdvertising {
		return nil
	}
	return a.adapter.DefaultAdvertisement().Stop()
}

// Compile-time checks that HardwareAdapter implements both radio roles.
var (
	_ Adapter    = (*HardwareAdapter)(nil)
	_ Peripheral = (*HardwareAdapter)(nil)
)

type hardwareConnection struct {
	device *bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
	dropped      bool
}

// markDropped records a platform-reported drop. When the disconnect
// callback is already registered it fires immediately; otherwise
// OnDisconnect fires it on registration, so a drop landing in the
// registration window is never lost.
func (c *hardwareConnection) markDropped() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.dropped = true
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *hardwareConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	fire := c.dropped
	c.mu.Unlock()
	if fire && cb != nil {
		cb()
	}
}

func (c *hardwareConnection) Service(serviceUUID string) (Service, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{uuid})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}
	return &hardwareService{service: &svcs[0]}, nil
}

func (c *hardwareConnection) Disconnect() error {
	return c.device.Disconnect()
}

type hardwareService struct {
	service *bluetooth.DeviceService
}

func (s *hardwareService) Characteristic(charUUID string) (Characteristic, error) {
	uuid, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}
	chars, err := s.service.DiscoverCharacteristics([]bluetooth.UUID{uuid})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}
	return &hardwareCharacteristic{char: &chars[0]}, nil
}

type hardwareCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *hardwareCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}
