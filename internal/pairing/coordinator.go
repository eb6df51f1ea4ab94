package pairing

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nearfind/nearfind/internal/ble"
	"github.com/nearfind/nearfind/internal/device"
)

// errNoUser is returned by ProcessPairingRequest when no profile exists yet.
var errNoUser = errors.New("pairing: no registered user")

// Phase is the coordinator's state-machine position.
type Phase string

const (
	PhaseIdle           Phase = "Idle"
	PhaseConnecting     Phase = "Connecting"
	PhaseSendingRequest Phase = "SendingRequest"
	PhaseSuccess        Phase = "Success"
	PhaseError          Phase = "Error"
)

// State is the observable pairing state. Err carries the user-facing message
// when Phase is PhaseError.
type State struct {
	Phase Phase
	Err   string
}

// Link is the connection surface the coordinator drives; implemented by
// ble.ConnectionManager.
type Link interface {
	Connect(ctx context.Context, addr string) bool
	Disconnect()
	Service(serviceUUID string) (ble.Service, error)
	WriteCharacteristic(char ble.Characteristic, payload []byte) bool
}

// UserSource resolves the local user profile.
type UserSource interface {
	CurrentUser() (device.User, bool)
}

// RequestSink persists pairing requests.
type RequestSink interface {
	CreateOutbound(receiverID, receiverName string) (device.PairingRequest, error)
	CreateInbound(requesterID, requesterName string) (device.PairingRequest, error)
}

// Authorizer reports whether outbound GATT operations are permitted.
type Authorizer interface {
	CanConnect() bool
}

// Coordinator drives the pairing protocol:
// Idle → Connecting → SendingRequest → Success | Error. Error and Success
// are terminal until Reset. One attempt runs at a time; the steps of an
// attempt are strictly sequential.
type Coordinator struct {
	link     Link
	users    UserSource
	requests RequestSink
	auth     Authorizer

	mu    sync.Mutex
	state State
	subs  map[chan State]struct{}
}

// NewCoordinator creates a coordinator in the Idle state.
func NewCoordinator(link Link, users UserSource, requests RequestSink, auth Authorizer) *Coordinator {
	return &Coordinator{
		link:     link,
		users:    users,
		requests: requests,
		auth:     auth,
		state:    State{Phase: PhaseIdle},
		subs:     make(map[chan State]struct{}),
	}
}

// State returns the current pairing state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubscribeState returns a coalesced stream of state changes, seeded with
// the current state.
func (c *Coordinator) SubscribeState() chan State {
	ch := make(chan State, 1)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	ch <- c.state
	c.mu.Unlock()
	return ch
}

// UnsubscribeState removes a state stream and closes it.
func (c *Coordinator) UnsubscribeState(ch chan State) {
	c.mu.Lock()
	_, ok := c.subs[ch]
	delete(c.subs, ch)
	c.mu.Unlock()
	if ok {
		close(ch)
	}
}

// SendPairingRequest runs one full outbound pairing attempt against the
// target device. It blocks until the attempt reaches Success or Error. A
// call while an attempt is in progress, or before Reset after a finished
// one, is a no-op.
func (c *Coordinator) SendPairingRequest(ctx context.Context, target device.NearbyDevice) {
	if c.auth != nil && !c.auth.CanConnect() {
		c.fail("missing bluetooth permissions")
		return
	}

	if !c.transition(PhaseIdle, PhaseConnecting) {
		slog.Warn("[PAIR] attempt rejected, coordinator not idle", "state", c.State().Phase)
		return
	}

	if !c.link.Connect(ctx, target.ID) {
		c.fail("could not connect to device")
		return
	}

	c.transition(PhaseConnecting, PhaseSendingRequest)

	user, ok := c.users.CurrentUser()
	if !ok {
		c.failAndDisconnect("no registered user")
		return
	}

	payload, err := EncodeIdentity(device.UserData{
		UserID:         user.ID,
		Name:           user.FullName(),
		IsProfessional: user.IsProfessional,
	})
	if err != nil {
		slog.Warn("[PAIR] payload rejected", "error", err)
		c.failAndDisconnect("pairing payload too large")
		return
	}

	svc, err := c.link.Service(ble.PairingServiceUUID)
	if err != nil {
		c.failAndDisconnect("device does not support pairing")
		return
	}

	char, err := svc.Characteristic(ble.PairingCharacteristicUUID)
	if err != nil {
		c.failAndDisconnect("device is missing the pairing characteristic")
		return
	}

	if !c.link.WriteCharacteristic(char, payload) {
		c.failAndDisconnect("could not send pairing request")
		return
	}

	// Only a confirmed write records a request. The receiver is the known
	// peer identity when we have one, otherwise the raw device id.
	receiverID, receiverName := target.ID, target.Name
	if target.Identity != nil {
		receiverID, receiverName = target.Identity.UserID, target.Identity.Name
	}
	if _, err := c.requests.CreateOutbound(receiverID, receiverName); err != nil {
		slog.Error("[PAIR] failed to record pairing request", "error", err)
		c.failAndDisconnect("could not record pairing request")
		return
	}

	c.setState(State{Phase: PhaseSuccess})
	slog.Info("[PAIR] pairing request sent", "receiver", receiverID)
	c.link.Disconnect()
}

// Reset returns the coordinator to Idle from a terminal state. Calling it
// mid-attempt (Connecting or SendingRequest) is a deterministic no-op.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state.Phase {
	case PhaseSuccess, PhaseError, PhaseIdle:
		c.setStateLocked(State{Phase: PhaseIdle})
	}
}

// ProcessPairingRequest handles an inbound identity payload received while
// this device acts as the pairing target. The decoded requester is persisted
// with the local user as receiver.
func (c *Coordinator) ProcessPairingRequest(payload []byte) error {
	identity, err := DecodeIdentity(payload)
	if err != nil {
		return err
	}
	if _, ok := c.users.CurrentUser(); !ok {
		return errNoUser
	}
	if _, err := c.requests.CreateInbound(identity.UserID, identity.Name); err != nil {
		return err
	}
	slog.Info("[PAIR] pairing request received", "requester", identity.UserID, "name", identity.Name)
	return nil
}

// transition moves from → to atomically; returns false if the current phase
// is not from.
func (c *Coordinator) transition(from, to Phase) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase != from {
		return false
	}
	c.setStateLocked(State{Phase: to})
	return true
}

func (c *Coordinator) fail(msg string) {
	c.setState(State{Phase: PhaseError, Err: msg})
	slog.Warn("[PAIR] pairing failed", "reason", msg)
}

func (c *Coordinator) failAndDisconnect(msg string) {
	c.fail(msg)
	c.link.Disconnect()
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
}

// setStateLocked updates the state and fans it out to subscribers without
// blocking; a pending undelivered state is replaced by the newer one.
func (c *Coordinator) setStateLocked(s State) {
	c.state = s
	for ch := range c.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}
