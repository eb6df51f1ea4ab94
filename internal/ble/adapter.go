// Package ble provides the Bluetooth Low Energy layer for NearFind: the
// hardware adapter abstraction used for scanning and GATT connections, and
// the connection manager that owns the single active link to a peer.
package ble

import "context"

// NearFind GATT UUIDs. Both peers must agree on these.
const (
	// PairingServiceUUID identifies the pairing service advertised by a
	// device willing to receive pairing requests.
	PairingServiceUUID = "00002000-0000-1000-8000-00805f9b34fb"
	// PairingCharacteristicUUID is the writable characteristic that
	// receives the identity payload.
	PairingCharacteristicUUID = "00002001-0000-1000-8000-00805f9b34fb"
	// UserDataCharacteristicUUID is declared on the pairing service for a
	// future identity-read path; the write path does not use it.
	UserDataCharacteristicUUID = "00002002-0000-1000-8000-00805f9b34fb"
)

// Advertisement is a single raw scan observation of a peripheral.
type Advertisement struct {
	Address string
	Name    string
	RSSI    int
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic with the platform's default
	// (acknowledged) write type.
	Write(data []byte) error
}

// Service represents a discovered GATT service on a connected peer.
type Service interface {
	// Characteristic finds a characteristic by UUID within this service.
	Characteristic(charUUID string) (Characteristic, error)
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// Service finds a service by UUID on the connected peer.
	Service(serviceUUID string) (Service, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter. Idempotent; every other operation
	// requires a successful Enable first.
	Enable() error
	// ValidAddress reports whether addr is a well-formed device address
	// for this platform.
	ValidAddress(addr string) bool
	// Scan streams advertisements to onResult until StopScan is called or
	// the radio reports a failure. It blocks for the duration of the scan.
	// No service filter is applied; every advertising device is reported.
	Scan(onResult func(Advertisement)) error
	// StopScan ends an in-progress Scan.
	StopScan() error
	// Connect establishes a connection to the device with the given
	// address, blocking until a definitive outcome or ctx cancellation.
	Connect(ctx context.Context, addr string) (Connection, error)
}

// Peripheral is the GATT server role: advertise the pairing service and
// accept inbound pairing writes.
type Peripheral interface {
	// Enable powers on the BLE adapter. Idempotent.
	Enable() error
	// StartPairingService registers the pairing service, begins
	// advertising under localName, and delivers every complete write to
	// the pairing characteristic to onWrite.
	StartPairingService(localName string, onWrite func(payload []byte)) error
	// StopAdvertising ends advertising. Safe to call when not advertising.
	StopAdvertising() error
}
