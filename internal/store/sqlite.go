package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nearfind/nearfind/internal/device"
)

// ErrAlreadyRegistered is returned when a profile already exists.
var ErrAlreadyRegistered = errors.New("store: user already registered")

// ErrNotPending is returned when updating a request that already left the
// PENDING state.
var ErrNotPending = errors.New("store: pairing request is not pending")

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS user (
  id              TEXT PRIMARY KEY,
  first_name      TEXT NOT NULL,
  last_name       TEXT NOT NULL,
  is_professional INTEGER NOT NULL DEFAULT 0,
  is_verified     INTEGER NOT NULL DEFAULT 0
);
`,
	`
CREATE TABLE IF NOT EXISTS paired_devices (
  address         TEXT PRIMARY KEY,
  user_id         TEXT,
  user_name       TEXT,
  is_professional INTEGER
);
`,
	`
CREATE TABLE IF NOT EXISTS pairing_requests (
  id             TEXT PRIMARY KEY,
  requester_id   TEXT NOT NULL,
  requester_name TEXT NOT NULL,
  receiver_id    TEXT NOT NULL,
  status         TEXT NOT NULL CHECK(status IN ('PENDING','ACCEPTED','REJECTED')) DEFAULT 'PENDING',
  created_at     INTEGER NOT NULL
);
`,
}

// SQLiteStore implements UserStore, PairedDeviceStore, and
// PairingRequestStore over a single SQLite database.
type SQLiteStore struct {
	db      *sql.DB
	changes chan struct{}
}

// Open creates or opens the database at path. Use ":memory:" for an
// ephemeral store.
func Open(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY between concurrent goroutines.
	db.SetMaxOpenConns(1)

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: migrate: %w", err)
		}
	}
	return &SQLiteStore{db: db, changes: make(chan struct{}, 1)}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Changes implements PairingRequestStore.
func (s *SQLiteStore) Changes() <-chan struct{} {
	return s.changes
}

func (s *SQLiteStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// deriveUserID produces the stable pseudo-random profile id:
// hex(SHA-256(first+last+random uuid)) truncated to 16 characters.
func deriveUserID(firstName, lastName string) string {
	raw := firstName + lastName + uuid.NewString()
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}

func (s *SQLiteStore) CurrentUser() (device.User, bool) {
	var u device.User
	err := s.db.QueryRow(
		`SELECT id, first_name, last_name, is_professional, is_verified FROM user LIMIT 1`,
	).Scan(&u.ID, &u.FirstName, &u.LastName, &u.IsProfessional, &u.IsVerified)
	if err != nil {
		return device.User{}, false
	}
	return u, true
}

func (s *SQLiteStore) RegisterUser(firstName, lastName string, professional bool) (device.User, error) {
	if firstName == "" {
		return device.User{}, errors.New("store: first name is required")
	}
	if _, ok := s.CurrentUser(); ok {
		return device.User{}, ErrAlreadyRegistered
	}

	u := device.User{
		ID:             deriveUserID(firstName, lastName),
		FirstName:      firstName,
		LastName:       lastName,
		IsProfessional: professional,
	}
	_, err := s.db.Exec(
		`INSERT INTO user (id, first_name, last_name, is_professional, is_verified) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.FirstName, u.LastName, u.IsProfessional, u.IsVerified,
	)
	if err != nil {
		return device.User{}, fmt.Errorf("store: register user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) PairedDeviceIDs() []string {
	rows, err := s.db.Query(`SELECT address FROM paired_devices`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var addr string
		if rows.Scan(&addr) == nil {
			ids = append(ids, addr)
		}
	}
	return ids
}

func (s *SQLiteStore) IsPaired(addr string) bool {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM paired_devices WHERE address = ?`, addr).Scan(&one)
	return err == nil
}

func (s *SQLiteStore) AddPairedDevice(addr string) error {
	if addr == "" {
		return errors.New("store: address is required")
	}
	_, err := s.db.Exec(
		`INSERT INTO paired_devices (address) VALUES (?) ON CONFLICT(address) DO NOTHING`, addr,
	)
	if err != nil {
		return fmt.Errorf("store: add paired device %q: %w", addr, err)
	}
	s.notify()
	return nil
}

func (s *SQLiteStore) RemovePairedDevice(addr string) error {
	_, err := s.db.Exec(`DELETE FROM paired_devices WHERE address = ?`, addr)
	if err != nil {
		return fmt.Errorf("store: remove paired device %q: %w", addr, err)
	}
	s.notify()
	return nil
}

func (s *SQLiteStore) SaveIdentity(addr string, identity device.UserData) error {
	_, err := s.db.Exec(
		`INSERT INTO paired_devices (address, user_id, user_name, is_professional)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET user_id = excluded.user_id,
		   user_name = excluded.user_name, is_professional = excluded.is_professional`,
		addr, identity.UserID, identity.Name, identity.IsProfessional,
	)
	if err != nil {
		return fmt.Errorf("store: save identity for %q: %w", addr, err)
	}
	s.notify()
	return nil
}

func (s *SQLiteStore) IdentityFor(addr string) (device.UserData, bool) {
	var (
		id   sql.NullString
		name sql.NullString
		prof sql.NullBool
	)
	err := s.db.QueryRow(
		`SELECT user_id, user_name, is_professional FROM paired_devices WHERE address = ?`, addr,
	).Scan(&id, &name, &prof)
	if err != nil || !id.Valid {
		return device.UserData{}, false
	}
	return device.UserData{
		UserID:         id.String,
		Name:           name.String,
		IsProfessional: prof.Valid && prof.Bool,
	}, true
}

func (s *SQLiteStore) PairingRequests() ([]device.PairingRequest, error) {
	rows, err := s.db.Query(
		`SELECT id, requester_id, requester_name, receiver_id, status, created_at
		 FROM pairing_requests ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list pairing requests: %w", err)
	}
	defer rows.Close()

	var out []device.PairingRequest
	for rows.Next() {
		var r device.PairingRequest
		if err := rows.Scan(&r.ID, &r.RequesterID, &r.RequesterName, &r.ReceiverID, &r.Status, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan pairing request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateOutbound(receiverID, receiverName string) (device.PairingRequest, error) {
	u, ok := s.CurrentUser()
	if !ok {
		return device.PairingRequest{}, errors.New("store: no registered user")
	}
	return s.insertRequest(u.ID, u.FullName(), receiverID)
}

func (s *SQLiteStore) CreateInbound(requesterID, requesterName string) (device.PairingRequest, error) {
	u, ok := s.CurrentUser()
	if !ok {
		return device.PairingRequest{}, errors.New("store: no registered user")
	}
	return s.insertRequest(requesterID, requesterName, u.ID)
}

func (s *SQLiteStore) insertRequest(requesterID, requesterName, receiverID string) (device.PairingRequest, error) {
	r := device.PairingRequest{
		ID:            uuid.NewString(),
		RequesterID:   requesterID,
		RequesterName: requesterName,
		ReceiverID:    receiverID,
		Status:        device.StatusPending,
		Timestamp:     device.NowMillis(),
	}
	_, err := s.db.Exec(
		`INSERT INTO pairing_requests (id, requester_id, requester_name, receiver_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.RequesterID, r.RequesterName, r.ReceiverID, r.Status, r.Timestamp,
	)
	if err != nil {
		return device.PairingRequest{}, fmt.Errorf("store: insert pairing request: %w", err)
	}
	s.notify()
	return r, nil
}

func (s *SQLiteStore) UpdateStatus(requestID string, status device.RequestStatus) error {
	if status != device.StatusAccepted && status != device.StatusRejected {
		return fmt.Errorf("store: invalid target status %q", status)
	}
	res, err := s.db.Exec(
		`UPDATE pairing_requests SET status = ? WHERE id = ? AND status = ?`,
		status, requestID, device.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("store: update request %q: %w", requestID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotPending
	}
	s.notify()
	return nil
}

// Compile-time checks against the collaborator interfaces.
var (
	_ UserStore           = (*SQLiteStore)(nil)
	_ PairedDeviceStore   = (*SQLiteStore)(nil)
	_ PairingRequestStore = (*SQLiteStore)(nil)
)
