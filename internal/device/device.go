// Package device holds the shared data model: discovered peers, user
// identity, and pairing requests exchanged between two NearFind devices.
package device

import "time"

// NearbyDevice is a peer discovered during a BLE scan, keyed by its stable
// radio address. A record is replaced wholesale on every new observation of
// the same address; ID never changes once created.
type NearbyDevice struct {
	ID        string
	Name      string
	RSSI      int
	Distance  float64
	LastSeen  int64 // wall-clock milliseconds
	Connected bool
	Paired    bool
	Identity  *UserData // known peer identity, only for paired devices
}

// UserData is the identity payload exchanged during pairing. It is the exact
// set of fields that goes over the wire.
type UserData struct {
	UserID         string `json:"userId"`
	Name           string `json:"name"`
	IsProfessional bool   `json:"isProfessional"`
}

// User is the local profile, created once at onboarding.
type User struct {
	ID             string
	FirstName      string
	LastName       string
	IsProfessional bool
	IsVerified     bool
}

// FullName returns the display name used in pairing payloads.
func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// RequestStatus is the lifecycle state of a PairingRequest. A request leaves
// Pending exactly once and never reverts.
type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusAccepted RequestStatus = "ACCEPTED"
	StatusRejected RequestStatus = "REJECTED"
)

// PairingRequest is a proposal for two users to link. Created on the
// requester side after a confirmed characteristic write, or on the receiver
// side when an inbound identity payload arrives.
type PairingRequest struct {
	ID            string
	RequesterID   string
	RequesterName string
	ReceiverID    string
	Status        RequestStatus
	Timestamp     int64 // creation time, wall-clock milliseconds
}

// NowMillis returns the current wall-clock time in milliseconds, the unit
// used for LastSeen and request timestamps.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
