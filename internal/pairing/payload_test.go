package pairing

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nearfind/nearfind/internal/device"
)

func TestEncodeIdentityWireFields(t *testing.T) {
	b, err := EncodeIdentity(device.UserData{UserID: "u-1", Name: "Ada Lovelace", IsProfessional: true})
	if err != nil {
		t.Fatalf("EncodeIdentity() error = %v", err)
	}

	// The wire form is a flat object with exactly these three fields.
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if len(raw) != 3 {
		t.Errorf("payload has %d fields, want 3: %s", len(raw), b)
	}
	if raw["userId"] != "u-1" {
		t.Errorf("userId = %v, want u-1", raw["userId"])
	}
	if raw["name"] != "Ada Lovelace" {
		t.Errorf("name = %v, want Ada Lovelace", raw["name"])
	}
	if raw["isProfessional"] != true {
		t.Errorf("isProfessional = %v, want true", raw["isProfessional"])
	}
}

func TestDecodeIdentity(t *testing.T) {
	d, err := DecodeIdentity([]byte(`{"userId":"u-1","name":"Ada","isProfessional":false}`))
	if err != nil {
		t.Fatalf("DecodeIdentity() error = %v", err)
	}
	if d.UserID != "u-1" || d.Name != "Ada" || d.IsProfessional {
		t.Errorf("DecodeIdentity() = %+v", d)
	}
}

func TestDecodeIdentityRejectsBadPayloads(t *testing.T) {
	bad := [][]byte{
		nil,
		[]byte(""),
		[]byte("not json"),
		[]byte(`{}`),
		[]byte(`{"name":"Ada"}`),
		[]byte(`{"userId":"u-1"}`),
		[]byte(`{"userId":"","name":"Ada"}`),
	}
	for _, b := range bad {
		if _, err := DecodeIdentity(b); err == nil {
			t.Errorf("DecodeIdentity(%q) accepted, want error", b)
		}
	}
}

func TestEncodeIdentityEnforcesSizeLimit(t *testing.T) {
	_, err := EncodeIdentity(device.UserData{
		UserID: "u-1",
		Name:   strings.Repeat("x", MaxPayloadBytes),
	})
	if err == nil {
		t.Error("EncodeIdentity() accepted an oversize payload")
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	want := device.UserData{UserID: "u-1", Name: "Ada Lovelace", IsProfessional: true}
	b, err := EncodeIdentity(want)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeIdentity(b)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}
