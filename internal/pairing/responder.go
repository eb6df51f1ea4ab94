package pairing

import (
	"log/slog"
	"sync"

	"github.com/nearfind/nearfind/internal/ble"
)

// Processor consumes inbound identity payloads; implemented by Coordinator.
type Processor interface {
	ProcessPairingRequest(payload []byte) error
}

// Responder is the receive side of the pairing protocol: it advertises the
// pairing service in the peripheral role and hands every inbound write on
// the pairing characteristic to the processor.
type Responder struct {
	peripheral ble.Peripheral
	processor  Processor
	auth       Authorizer

	mu      sync.Mutex
	running bool
}

// NewResponder creates a stopped responder.
func NewResponder(peripheral ble.Peripheral, processor Processor, auth Authorizer) *Responder {
	return &Responder{
		peripheral: peripheral,
		processor:  processor,
		auth:       auth,
	}
}

// Start registers the pairing service and begins advertising under
// localName. Returns false when authorization is missing or the radio
// refuses; a Start while running is a no-op returning true. The whole
// check-and-register runs under the lock so concurrent Starts cannot
// register the service twice.
func (r *Responder) Start(localName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return true
	}

	if r.auth != nil && !r.auth.CanConnect() {
		slog.Warn("[PAIR] responder rejected, missing permissions")
		return false
	}
	if err := r.peripheral.Enable(); err != nil {
		slog.Warn("[PAIR] adapter unavailable", "error", err)
		return false
	}

	err := r.peripheral.StartPairingService(localName, func(payload []byte) {
		if err := r.processor.ProcessPairingRequest(payload); err != nil {
			// Malformed inbound payloads are dropped, never fatal.
			slog.Warn("[PAIR] inbound pairing request dropped", "error", err)
		}
	})
	if err != nil {
		slog.Warn("[PAIR] responder failed to start", "error", err)
		return false
	}

	r.running = true
	slog.Info("[PAIR] responder advertising", "name", localName)
	return true
}

// Running reports whether the responder is advertising.
func (r *Responder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Stop ends advertising. Idempotent.
func (r *Responder) Stop() {
	r.mu.Lock()
	wasRunning := r.running
	r.running = false
	r.mu.Unlock()
	if !wasRunning {
		return
	}
	if err := r.peripheral.StopAdvertising(); err != nil {
		slog.Debug("[PAIR] stop advertising", "error", err)
	}
}
