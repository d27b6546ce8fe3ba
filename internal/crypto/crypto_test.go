package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSignAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	body := []byte(`{"days":7}`)
	nonce, err := NewNonce()
	if err != nil {
		t.Fatal(err)
	}
	if len(nonce) != 2*NonceSize {
		t.Fatalf("nonce length = %d", len(nonce))
	}

	sig := SignRequest(priv, body, nonce, 1700000000000)
	if err := VerifySignature(pub, SignaturePayload(body, nonce, 1700000000000), sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	tampered := []struct {
		name string
		body []byte
		ts   int64
		sig  string
	}{
		{"body changed", []byte(`{"days":8}`), 1700000000000, sig},
		{"timestamp changed", body, 1700000000001, sig},
		{"not base64", body, 1700000000000, "!!"},
	}
	for _, tt := range tampered {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(pub, SignaturePayload(tt.body, nonce, tt.ts), tt.sig)
			if !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("err = %v, want ErrInvalidSignature", err)
			}
		})
	}
}

func TestSignaturePayloadFormat(t *testing.T) {
	got := string(SignaturePayload(nil, "abc", 42))
	// sha256 of the empty body
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855|abc|42"
	if got != want {
		t.Fatalf("payload = %q, want %q", got, want)
	}
}

func TestKeyValidation(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)

	if _, err := ValidatePublicKey(base64.StdEncoding.EncodeToString(pub)); err != nil {
		t.Fatalf("valid public key rejected: %v", err)
	}
	if _, err := ValidatePublicKey(base64.StdEncoding.EncodeToString(pub[:16])); !errors.Is(err, ErrInvalidPublicKey) {
		t.Fatalf("short key err = %v", err)
	}
	if _, err := ValidatePublicKey("%%"); !errors.Is(err, ErrInvalidPublicKey) {
		t.Fatalf("bad base64 err = %v", err)
	}
	if _, err := ParsePrivateKey(base64.StdEncoding.EncodeToString(priv)); err != nil {
		t.Fatalf("valid private key rejected: %v", err)
	}
	if _, err := ParsePrivateKey(base64.StdEncoding.EncodeToString(pub)); !errors.Is(err, ErrInvalidPrivateKey) {
		t.Fatalf("public key accepted as private: %v", err)
	}
}

func TestNewRecordIDOrdered(t *testing.T) {
	a, b := NewRecordID(), NewRecordID()
	ua, err := uuid.Parse(a)
	if err != nil {
		t.Fatal(err)
	}
	if ua.Version() != 7 {
		t.Fatalf("version = %d, want 7", ua.Version())
	}
	if a >= b {
		t.Fatalf("ids not increasing: %s then %s", a, b)
	}
}

func TestCheckTimestamp(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	window := 30 * time.Second
	tests := []struct {
		name string
		ts   int64
		ok   bool
	}{
		{"now", now.UnixMilli(), true},
		{"recent", now.Add(-29 * time.Second).UnixMilli(), true},
		{"edge of window", now.Add(-window).UnixMilli(), false},
		{"stale", now.Add(-time.Minute).UnixMilli(), false},
		{"future", now.Add(time.Second).UnixMilli(), false},
	}
	for _, tt := range tests {
		err := CheckTimestamp(tt.ts, now, window)
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, ErrSignatureExpired) {
			t.Errorf("%s: err = %v, want ErrSignatureExpired", tt.name, err)
		}
	}
}

func TestCheckNonce(t *testing.T) {
	nonce, err := NewNonce()
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckNonce(nonce); err != nil {
		t.Fatalf("generated nonce rejected: %v", err)
	}
	if err := CheckNonce("abc123"); !errors.Is(err, ErrInvalidNonce) {
		t.Fatalf("short nonce err = %v, want ErrInvalidNonce", err)
	}
}
