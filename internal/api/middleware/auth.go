package middleware

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mcnoble1/Medisphere-sub001/internal/crypto"
)

type contextKey string

// OperatorContextKey holds the authenticated operator name.
const OperatorContextKey contextKey = "operator"

// Admin request headers.
const (
	HeaderOperator  = "X-Indexer-Operator"
	HeaderNonce     = "X-Indexer-Nonce"
	HeaderTimestamp = "X-Indexer-Timestamp"
	HeaderSignature = "X-Indexer-Signature"
)

// NonceGuard remembers nonces that were already accepted.
type NonceGuard interface {
	IsNonceUsed(ctx context.Context, operatorID, nonce string) bool
	MarkNonceUsed(ctx context.Context, operatorID, nonce string, ttl time.Duration)
}

// AuthMiddleware verifies operator signatures on admin endpoints.
type AuthMiddleware struct {
	pubkey ed25519.PublicKey
	nonces NonceGuard
	window time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware. A nil pubkey rejects
// every request; a nil nonce guard disables replay detection.
func NewAuthMiddleware(pubkey ed25519.PublicKey, nonces NonceGuard, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		pubkey: pubkey,
		nonces: nonces,
		window: 30 * time.Second, // Tight window to minimize replay attack surface
		now:    time.Now,
		logger: logger,
	}
}

// RequireOperator middleware verifies Ed25519 signatures on requests.
func (m *AuthMiddleware) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.pubkey == nil {
			jsonError(w, http.StatusForbidden, "admin API disabled")
			return
		}

		operator := r.Header.Get(HeaderOperator)
		nonce := r.Header.Get(HeaderNonce)
		timestamp := r.Header.Get(HeaderTimestamp)
		signature := r.Header.Get(HeaderSignature)

		if operator == "" || nonce == "" || timestamp == "" || signature == "" {
			jsonError(w, http.StatusUnauthorized, "missing auth headers")
			return
		}
		if len(operator) > 64 {
			jsonError(w, http.StatusUnauthorized, "operator name too long")
			return
		}

		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid timestamp format")
			return
		}
		if err := crypto.CheckTimestamp(ts, m.now(), m.window); err != nil {
			m.reject(w, r, operator, err, "timestamp expired or too far in future")
			return
		}
		if err := crypto.CheckNonce(nonce); err != nil {
			m.reject(w, r, operator, err, "nonce must be at least 24 characters")
			return
		}
		if m.nonces != nil && m.nonces.IsNonceUsed(r.Context(), operator, nonce) {
			m.reject(w, r, operator, fmt.Errorf("%w: replayed", crypto.ErrInvalidNonce), "nonce already used")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(body)) // Reset for handler

		if err := crypto.VerifySignature(m.pubkey, crypto.SignaturePayload(body, nonce, ts), signature); err != nil {
			m.reject(w, r, operator, err, "invalid signature")
			return
		}

		if m.nonces != nil {
			m.nonces.MarkNonceUsed(r.Context(), operator, nonce, 3*time.Minute)
		}

		ctx := context.WithValue(r.Context(), OperatorContextKey, operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// reject logs a security event and answers 401.
func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, operator string, err error, message string) {
	m.logger.Warn().
		Err(err).
		Str("type", "security").
		Str("event", "rejected_admin_request").
		Str("operator", operator).
		Str("ip", RealIP(r)).
		Msg("rejected admin request")
	jsonError(w, http.StatusUnauthorized, message)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetOperatorFromContext returns the authenticated operator name.
func GetOperatorFromContext(ctx context.Context) string {
	operator, _ := ctx.Value(OperatorContextKey).(string)
	return operator
}
