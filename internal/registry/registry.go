// Package registry maintains the live map of nearby devices built from raw
// scan events. It is the single shared-mutable-state component of the
// discovery pipeline: many scan callbacks write into it concurrently while
// UI and pairing consumers read snapshots or follow the change stream.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/nearfind/nearfind/internal/device"
	"github.com/nearfind/nearfind/internal/distance"
)

// Subscription is a coalesced change stream over the registry. Each value on
// Updates is a full snapshot; intermediate states may be skipped but the
// latest state is always eventually delivered.
type Subscription struct {
	ch chan []device.NearbyDevice
}

// Updates returns the channel carrying registry snapshots. The channel is
// closed by Unsubscribe.
func (s *Subscription) Updates() <-chan []device.NearbyDevice {
	return s.ch
}

// Registry is a mutex-guarded device map with last-write-wins semantics per
// address. Writes for the same address are applied in arrival order; no
// ordering holds across addresses.
type Registry struct {
	est   *distance.Estimator
	clock func() int64

	mu      sync.Mutex
	devices map[string]device.NearbyDevice
	subs    map[*Subscription]struct{}
}

// New creates an empty registry that computes distances with est.
func New(est *distance.Estimator) *Registry {
	return &Registry{
		est:     est,
		clock:   device.NowMillis,
		devices: make(map[string]device.NearbyDevice),
		subs:    make(map[*Subscription]struct{}),
	}
}

// Observe upserts the record for one scanned address. Distance is recomputed
// from the fresh RSSI sample, LastSeen is stamped with the current time, and
// the Connected flag of any prior record is preserved. Safe for concurrent
// use from any number of scan callbacks.
func (r *Registry) Observe(addr string, rssi int, name string, paired bool, identity *device.UserData) {
	r.mu.Lock()
	now := r.clock()
	if prev, ok := r.devices[addr]; ok {
		// LastSeen must strictly increase per address even when the
		// wall clock has not advanced between two observations.
		if now <= prev.LastSeen {
			now = prev.LastSeen + 1
		}
	}
	rec := device.NearbyDevice{
		ID:       addr,
		Name:     name,
		RSSI:     rssi,
		Distance: r.est.Estimate(rssi),
		LastSeen: now,
		Paired:   paired,
		Identity: identity,
	}
	if prev, ok := r.devices[addr]; ok {
		rec.Connected = prev.Connected
	}
	r.devices[addr] = rec
	r.publishLocked()
	r.mu.Unlock()
}

// SetConnected overrides the Connected flag for an address, driven by the
// connection lifecycle. Unknown addresses are ignored.
func (r *Registry) SetConnected(addr string, connected bool) {
	r.mu.Lock()
	if rec, ok := r.devices[addr]; ok && rec.Connected != connected {
		rec.Connected = connected
		r.devices[addr] = rec
		r.publishLocked()
	}
	r.mu.Unlock()
}

// Get returns the record for addr, if present.
func (r *Registry) Get(addr string) (device.NearbyDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.devices[addr]
	return rec, ok
}

// Snapshot returns a consistent point-in-time copy of all records, sorted by
// address for stable iteration.
func (r *Registry) Snapshot() []device.NearbyDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Len returns the number of tracked devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Clear empties the registry. The empty state is visible to Snapshot and Get
// immediately and to subscribers eventually.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.devices = make(map[string]device.NearbyDevice)
	r.publishLocked()
	r.mu.Unlock()
}

// Prune removes entries not observed within the given window and returns how
// many were dropped. A zero or negative window prunes nothing.
func (r *Registry) Prune(olderThan time.Duration) int {
	if olderThan <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.clock() - olderThan.Milliseconds()
	n := 0
	for addr, rec := range r.devices {
		if rec.LastSeen < cutoff {
			delete(r.devices, addr)
			n++
		}
	}
	if n > 0 {
		r.publishLocked()
	}
	return n
}

// Subscribe registers a change-stream consumer. The subscription starts with
// the current snapshot already pending so new consumers see state without
// waiting for the next write.
func (r *Registry) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan []device.NearbyDevice, 1)}
	r.mu.Lock()
	r.subs[sub] = struct{}{}
	sub.ch <- r.snapshotLocked()
	r.mu.Unlock()
	return sub
}

// Unsubscribe removes the consumer and closes its channel.
func (r *Registry) Unsubscribe(sub *Subscription) {
	r.mu.Lock()
	_, ok := r.subs[sub]
	delete(r.subs, sub)
	r.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

func (r *Registry) snapshotLocked() []device.NearbyDevice {
	out := make([]device.NearbyDevice, 0, len(r.devices))
	for _, rec := range r.devices {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// publishLocked pushes the current snapshot to every subscriber without
// blocking: a pending undelivered snapshot is replaced by the newer one.
func (r *Registry) publishLocked() {
	if len(r.subs) == 0 {
		return
	}
	snap := r.snapshotLocked()
	for sub := range r.subs {
		select {
		case sub.ch <- snap:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
}
