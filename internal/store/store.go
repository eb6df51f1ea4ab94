// Package store persists the local user profile, the paired-device set, and
// pairing requests. The core components consume the interfaces defined here;
// SQLiteStore is the on-disk implementation.
package store

import "github.com/nearfind/nearfind/internal/device"

// UserStore holds the local user profile.
type UserStore interface {
	// CurrentUser returns the registered profile, if one exists.
	CurrentUser() (device.User, bool)
	// RegisterUser creates the profile with a derived stable id.
	// Registering twice is an error; the profile is created once.
	RegisterUser(firstName, lastName string, professional bool) (device.User, error)
}

// PairedDeviceStore tracks which radio addresses are paired and any known
// identity per address.
type PairedDeviceStore interface {
	PairedDeviceIDs() []string
	IsPaired(addr string) bool
	AddPairedDevice(addr string) error
	RemovePairedDevice(addr string) error
	// SaveIdentity records a peer identity learned for a paired address.
	SaveIdentity(addr string, identity device.UserData) error
	// IdentityFor returns the stored identity for an address, if any.
	IdentityFor(addr string) (device.UserData, bool)
}

// PairingRequestStore persists pairing requests on both sides of the
// protocol.
type PairingRequestStore interface {
	PairingRequests() ([]device.PairingRequest, error)
	// CreateOutbound records a request sent by the local user.
	CreateOutbound(receiverID, receiverName string) (device.PairingRequest, error)
	// CreateInbound records a request received from a remote requester,
	// with the local user as receiver.
	CreateInbound(requesterID, requesterName string) (device.PairingRequest, error)
	// UpdateStatus moves a pending request to ACCEPTED or REJECTED.
	// A request transitions out of PENDING exactly once.
	UpdateStatus(requestID string, status device.RequestStatus) error
	// Changes signals after every mutation; notifications are coalesced.
	Changes() <-chan struct{}
}

// Authorizer answers whether the process holds the runtime permissions for
// the two privileged operation classes. Scan and connect are distinct
// permission sets on the platforms this models.
type Authorizer interface {
	CanScan() bool
	CanConnect() bool
}

// StaticAuthorizer is a fixed-answer Authorizer, used for composition roots
// without a runtime permission model and for tests.
type StaticAuthorizer struct {
	Scan    bool
	Connect bool
}

func (a StaticAuthorizer) CanScan() bool    { return a.Scan }
func (a StaticAuthorizer) CanConnect() bool { return a.Connect }
