// Package scan owns the radio scan lifecycle. The engine starts and stops
// the underlying BLE scan, resolves paired-device identities for each
// advertisement, and feeds observations into the device registry.
package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nearfind/nearfind/internal/ble"
	"github.com/nearfind/nearfind/internal/device"
	"github.com/nearfind/nearfind/internal/registry"
)

// unknownDeviceName stands in for peripherals that advertise no local name.
const unknownDeviceName = "Unknown Device"

// PairedLookup answers whether an address belongs to a paired device and
// resolves any identity stored for it.
type PairedLookup interface {
	IsPaired(addr string) bool
	IdentityFor(addr string) (device.UserData, bool)
}

// ScanAuthorizer reports whether the process may start or stop radio scans.
type ScanAuthorizer interface {
	CanScan() bool
}

// Options configures the engine's duty cycle.
type Options struct {
	ScanOn     time.Duration // active scan window per cycle
	ScanOff    time.Duration // pause between scan windows
	StaleAfter time.Duration // registry entries unseen this long are pruned; 0 disables
	MaxSession time.Duration // hard cap on one Run session; 0 disables
}

// DefaultOptions returns the duty cycle used by the scan service.
func DefaultOptions() Options {
	return Options{
		ScanOn:     10 * time.Second,
		ScanOff:    5 * time.Second,
		StaleAfter: 0,
		MaxSession: 10 * time.Minute,
	}
}

// Engine drives the BLE scan. It is either idle or scanning; Start and Stop
// move between the two and are both safe to call at any time.
type Engine struct {
	adapter ble.Adapter
	reg     *registry.Registry
	paired  PairedLookup
	auth    ScanAuthorizer
	opts    Options

	mu       sync.Mutex
	scanning bool
	// gen counts scan sessions so a finished scan goroutine from a prior
	// session cannot flip the state of a newer one.
	gen  uint64
	subs map[chan bool]struct{}
}

// New creates an idle engine.
func New(adapter ble.Adapter, reg *registry.Registry, paired PairedLookup, auth ScanAuthorizer, opts Options) *Engine {
	if opts.ScanOn <= 0 {
		opts.ScanOn = 10 * time.Second
	}
	if opts.ScanOff <= 0 {
		opts.ScanOff = 5 * time.Second
	}
	return &Engine{
		adapter: adapter,
		reg:     reg,
		paired:  paired,
		auth:    auth,
		opts:    opts,
		subs:    make(map[chan bool]struct{}),
	}
}

// Scanning reports whether a scan is active.
func (e *Engine) Scanning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scanning
}

// SubscribeState returns a coalesced stream of scanning-state changes,
// seeded with the current state.
func (e *Engine) SubscribeState() chan bool {
	ch := make(chan bool, 1)
	e.mu.Lock()
	e.subs[ch] = struct{}{}
	ch <- e.scanning
	e.mu.Unlock()
	return ch
}

// UnsubscribeState removes a state stream and closes it.
func (e *Engine) UnsubscribeState(ch chan bool) {
	e.mu.Lock()
	_, ok := e.subs[ch]
	delete(e.subs, ch)
	e.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Start begins scanning. Returns false when the radio cannot be enabled or
// scan authorization is missing; a Start while already scanning is a no-op
// returning true. Authorization failures never propagate as panics.
func (e *Engine) Start() bool {
	e.mu.Lock()
	if e.scanning {
		e.mu.Unlock()
		return true
	}
	e.mu.Unlock()

	if e.auth != nil && !e.auth.CanScan() {
		slog.Warn("[SCAN] start rejected, missing permissions")
		e.setScanning(false)
		return false
	}
	if err := e.adapter.Enable(); err != nil {
		slog.Warn("[SCAN] radio unavailable", "error", err)
		e.setScanning(false)
		return false
	}

	e.mu.Lock()
	if e.scanning {
		// Lost the race with a concurrent Start; that one owns the scan.
		e.mu.Unlock()
		return true
	}
	e.scanning = true
	e.gen++
	gen := e.gen
	e.publishLocked(true)
	e.mu.Unlock()

	go func() {
		// Blocks until StopScan or a radio failure. Results that arrive
		// after Stop are still forwarded to the registry, which accepts
		// them; stop does not guarantee a quiescent registry.
		err := e.adapter.Scan(e.onAdvertisement)
		if err != nil {
			slog.Warn("[SCAN] scan failed", "error", err)
		}
		e.endScan(gen)
	}()

	slog.Info("[SCAN] scanning started")
	return true
}

// Stop ends the scan. Idempotent; callable before the first Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	wasScanning := e.scanning
	e.scanning = false
	if wasScanning {
		e.publishLocked(false)
	}
	e.mu.Unlock()

	if !wasScanning {
		return
	}
	if err := e.adapter.StopScan(); err != nil {
		slog.Debug("[SCAN] stop scan", "error", err)
	}
	slog.Info("[SCAN] scanning stopped")
}

// Run drives the repeating duty cycle: scan for ScanOn, pause for ScanOff,
// until ctx is cancelled or MaxSession elapses. Stale registry entries are
// pruned during the off phase. The radio is released on every exit path.
func (e *Engine) Run(ctx context.Context) {
	if e.opts.MaxSession > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.MaxSession)
		defer cancel()
	}
	defer e.Stop()

	for {
		e.Start()
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.opts.ScanOn):
		}
		e.Stop()

		if e.opts.StaleAfter > 0 {
			if n := e.reg.Prune(e.opts.StaleAfter); n > 0 {
				slog.Debug("[SCAN] pruned stale devices", "count", n)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.opts.ScanOff):
		}
	}
}

// onAdvertisement handles one raw scan result. It may be invoked from the
// radio's internal callback context at any time, including briefly after
// Stop returns.
func (e *Engine) onAdvertisement(adv ble.Advertisement) {
	name := adv.Name
	if name == "" {
		name = unknownDeviceName
	}

	paired := e.paired != nil && e.paired.IsPaired(adv.Address)
	var identity *device.UserData
	if paired {
		if id, ok := e.paired.IdentityFor(adv.Address); ok {
			identity = &id
		} else {
			// Paired but no stored identity yet; show a best-effort one
			// built from the advertisement.
			identity = &device.UserData{UserID: adv.Address, Name: name}
		}
	}

	e.reg.Observe(adv.Address, adv.RSSI, name, paired, identity)
}

func (e *Engine) setScanning(v bool) {
	e.mu.Lock()
	if e.scanning != v {
		e.scanning = v
		e.publishLocked(v)
	}
	e.mu.Unlock()
}

// endScan marks the session identified by gen as over. A stale goroutine
// from a superseded session is a no-op.
func (e *Engine) endScan(gen uint64) {
	e.mu.Lock()
	if e.gen == gen && e.scanning {
		e.scanning = false
		e.publishLocked(false)
	}
	e.mu.Unlock()
}

// publishLocked pushes the state to subscribers without blocking; a pending
// undelivered value is replaced.
func (e *Engine) publishLocked(v bool) {
	for ch := range e.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}
