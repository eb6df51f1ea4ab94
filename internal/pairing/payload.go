// Package pairing implements the identity-exchange protocol between two
// NearFind devices: the coordinator that drives an outbound pairing request
// over a GATT characteristic, the wire payload codec, and the responder that
// accepts inbound requests in the peripheral role.
package pairing

import (
	"encoding/json"
	"fmt"

	"github.com/nearfind/nearfind/internal/device"
)

// MaxPayloadBytes caps the encoded identity payload at the ATT maximum
// attribute length. The payload is written in a single unfragmented write;
// there is no chunking protocol.
const MaxPayloadBytes = 512

// EncodeIdentity serializes an identity payload to its UTF-8 JSON wire form:
// a flat object with exactly the fields userId, name, and isProfessional.
func EncodeIdentity(d device.UserData) ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("pairing: encode identity: %w", err)
	}
	if len(b) > MaxPayloadBytes {
		return nil, fmt.Errorf("pairing: identity payload is %d bytes, limit %d", len(b), MaxPayloadBytes)
	}
	return b, nil
}

// DecodeIdentity parses an inbound identity payload. Malformed JSON or a
// payload missing the user id or name is rejected.
func DecodeIdentity(b []byte) (device.UserData, error) {
	if len(b) == 0 {
		return device.UserData{}, fmt.Errorf("pairing: empty identity payload")
	}
	if len(b) > MaxPayloadBytes {
		return device.UserData{}, fmt.Errorf("pairing: identity payload is %d bytes, limit %d", len(b), MaxPayloadBytes)
	}
	var d device.UserData
	if err := json.Unmarshal(b, &d); err != nil {
		return device.UserData{}, fmt.Errorf("pairing: decode identity: %w", err)
	}
	if d.UserID == "" {
		return device.UserData{}, fmt.Errorf("pairing: identity payload has no userId")
	}
	if d.Name == "" {
		return device.UserData{}, fmt.Errorf("pairing: identity payload has no name")
	}
	return d, nil
}
