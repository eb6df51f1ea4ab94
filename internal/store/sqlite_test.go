package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/nearfind/nearfind/internal/device"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterUser(t *testing.T) {
	s := newTestStore(t)

	if _, ok := s.CurrentUser(); ok {
		t.Fatal("CurrentUser() found a user in an empty store")
	}

	u, err := s.RegisterUser("Ada", "Lovelace", true)
	if err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}
	if len(u.ID) != 16 {
		t.Errorf("user id length = %d, want 16", len(u.ID))
	}
	if u.FullName() != "Ada Lovelace" {
		t.Errorf("FullName() = %q, want %q", u.FullName(), "Ada Lovelace")
	}

	got, ok := s.CurrentUser()
	if !ok {
		t.Fatal("CurrentUser() not found after registration")
	}
	if got != u {
		t.Errorf("CurrentUser() = %+v, want %+v", got, u)
	}
}

func TestRegisterUserTwice(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.RegisterUser("Ada", "Lovelace", false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RegisterUser("Grace", "Hopper", false); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("second RegisterUser() error = %v, want ErrAlreadyRegistered", err)
	}
}

func TestUserIDsAreUnique(t *testing.T) {
	// Same name must still derive distinct ids (random component).
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id := deriveUserID("Ada", "Lovelace")
		if seen[id] {
			t.Fatalf("duplicate derived id %q", id)
		}
		seen[id] = true
	}
}

func TestPairedDevices(t *testing.T) {
	s := newTestStore(t)
	const addr = "AA:BB:CC:DD:EE:FF"

	if s.IsPaired(addr) {
		t.Error("IsPaired() = true for unknown address")
	}
	if err := s.AddPairedDevice(addr); err != nil {
		t.Fatalf("AddPairedDevice() error = %v", err)
	}
	if err := s.AddPairedDevice(addr); err != nil {
		t.Errorf("AddPairedDevice() twice error = %v, want idempotent nil", err)
	}
	if !s.IsPaired(addr) {
		t.Error("IsPaired() = false after add")
	}
	if ids := s.PairedDeviceIDs(); len(ids) != 1 || ids[0] != addr {
		t.Errorf("PairedDeviceIDs() = %v, want [%s]", ids, addr)
	}

	if err := s.RemovePairedDevice(addr); err != nil {
		t.Fatalf("RemovePairedDevice() error = %v", err)
	}
	if s.IsPaired(addr) {
		t.Error("IsPaired() = true after remove")
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	s := newTestStore(t)
	const addr = "AA:BB:CC:DD:EE:FF"

	if _, ok := s.IdentityFor(addr); ok {
		t.Error("IdentityFor() found identity for unknown address")
	}

	want := device.UserData{UserID: "u-1", Name: "Ada Lovelace", IsProfessional: true}
	if err := s.SaveIdentity(addr, want); err != nil {
		t.Fatalf("SaveIdentity() error = %v", err)
	}
	got, ok := s.IdentityFor(addr)
	if !ok {
		t.Fatal("IdentityFor() not found after save")
	}
	if got != want {
		t.Errorf("IdentityFor() = %+v, want %+v", got, want)
	}

	// SaveIdentity also marks the address as paired.
	if !s.IsPaired(addr) {
		t.Error("IsPaired() = false after SaveIdentity")
	}
}

func TestPairingRequestLifecycle(t *testing.T) {
	s := newTestStore(t)
	u, _ := s.RegisterUser("Ada", "Lovelace", false)

	out, err := s.CreateOutbound("peer-id", "Peer Name")
	if err != nil {
		t.Fatalf("CreateOutbound() error = %v", err)
	}
	if out.RequesterID != u.ID || out.ReceiverID != "peer-id" {
		t.Errorf("outbound request = %+v, want requester %s receiver peer-id", out, u.ID)
	}
	if out.Status != device.StatusPending {
		t.Errorf("Status = %v, want PENDING", out.Status)
	}

	in, err := s.CreateInbound("peer-id", "Peer Name")
	if err != nil {
		t.Fatalf("CreateInbound() error = %v", err)
	}
	if in.RequesterID != "peer-id" || in.ReceiverID != u.ID {
		t.Errorf("inbound request = %+v, want requester peer-id receiver %s", in, u.ID)
	}

	if err := s.UpdateStatus(in.ID, device.StatusAccepted); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	// A request leaves PENDING exactly once.
	if err := s.UpdateStatus(in.ID, device.StatusRejected); !errors.Is(err, ErrNotPending) {
		t.Errorf("second UpdateStatus() error = %v, want ErrNotPending", err)
	}

	reqs, err := s.PairingRequests()
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 2 {
		t.Fatalf("PairingRequests() length = %d, want 2", len(reqs))
	}
}

func TestUpdateStatusRejectsPending(t *testing.T) {
	s := newTestStore(t)
	s.RegisterUser("Ada", "Lovelace", false)
	r, _ := s.CreateOutbound("peer", "Peer")

	if err := s.UpdateStatus(r.ID, device.StatusPending); err == nil {
		t.Error("UpdateStatus(PENDING) should be rejected")
	}
}

func TestCreateRequestWithoutUser(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateOutbound("peer", "Peer"); err == nil {
		t.Error("CreateOutbound() without a registered user should fail")
	}
	if _, err := s.CreateInbound("peer", "Peer"); err == nil {
		t.Error("CreateInbound() without a registered user should fail")
	}
}

func TestChangesNotification(t *testing.T) {
	s := newTestStore(t)
	s.RegisterUser("Ada", "Lovelace", false)

	s.CreateOutbound("peer", "Peer")
	select {
	case <-s.Changes():
	default:
		t.Error("no change notification after CreateOutbound")
	}

	// Notifications coalesce; several writes leave at most one pending.
	s.CreateOutbound("peer2", "Peer2")
	s.CreateOutbound("peer3", "Peer3")
	<-s.Changes()
	select {
	case <-s.Changes():
		t.Error("change notifications not coalesced")
	default:
	}
}

func TestOpenOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nearfind.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", path, err)
	}
	defer s.Close()

	if _, err := s.RegisterUser("Ada", "Lovelace", false); err != nil {
		t.Fatalf("RegisterUser() on disk error = %v", err)
	}
}
