package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidPublicKey  = errors.New("invalid Ed25519 public key")
	ErrInvalidPrivateKey = errors.New("invalid Ed25519 private key")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrSignatureExpired  = errors.New("signature timestamp expired")
	ErrInvalidNonce      = errors.New("invalid or reused nonce")
)

// NonceSize is the number of random bytes in a generated nonce. Hex encoded
// it is 24 characters, the minimum the admin API accepts.
const NonceSize = 12

// CheckTimestamp accepts a millisecond timestamp no later than now and no
// older than window. Future timestamps are rejected.
func CheckTimestamp(tsMs int64, now time.Time, window time.Duration) error {
	n := now.UnixMilli()
	if tsMs > n || tsMs <= n-window.Milliseconds() {
		return fmt.Errorf("%w: %d outside %s window", ErrSignatureExpired, tsMs, window)
	}
	return nil
}

// CheckNonce rejects nonces shorter than a hex encoded NonceSize.
func CheckNonce(nonce string) error {
	if len(nonce) < 2*NonceSize {
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidNonce, 2*NonceSize)
	}
	return nil
}

// ValidatePublicKey checks if a base64-encoded string is a valid Ed25519 public key.
func ValidatePublicKey(pubkeyB64 string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPublicKey)
	}

	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(decoded))
	}

	return ed25519.PublicKey(decoded), nil
}

// ParsePrivateKey decodes a base64 Ed25519 private key.
func ParsePrivateKey(privB64 string) (ed25519.PrivateKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(privB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPrivateKey)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPrivateKey, ed25519.PrivateKeySize, len(decoded))
	}
	return ed25519.PrivateKey(decoded), nil
}

// VerifySignature verifies a signed message.
func VerifySignature(pubkey ed25519.PublicKey, signedData []byte, signatureB64 string) error {
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: invalid base64 encoding", ErrInvalidSignature)
	}

	if !ed25519.Verify(pubkey, signedData, signature) {
		return ErrInvalidSignature
	}

	return nil
}

// BodyHash returns the hex SHA-256 of a request body.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// SignaturePayload creates the canonical data to sign.
// Format: sha256hex(body)|nonce|timestampMs
func SignaturePayload(body []byte, nonce string, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", BodyHash(body), nonce, timestamp))
}

// SignRequest signs a request body and returns the base64 signature.
func SignRequest(priv ed25519.PrivateKey, body []byte, nonce string, timestamp int64) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, SignaturePayload(body, nonce, timestamp)))
}

// NewNonce returns a random hex nonce.
func NewNonce() (string, error) {
	b := make([]byte, NonceSize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
