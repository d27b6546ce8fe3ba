package indexer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/Mcnoble1/Medisphere-sub001/internal/crypto"
)

func TestSignedRequestVerifies(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)

	var verifyErr error
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts, _ := strconv.ParseInt(r.Header.Get("X-Indexer-Timestamp"), 10, 64)
		payload := crypto.SignaturePayload(nil, r.Header.Get("X-Indexer-Nonce"), ts)
		verifyErr = crypto.VerifySignature(pub, payload, r.Header.Get("X-Indexer-Signature"))
		if r.Header.Get("X-Indexer-Operator") != "ops" || r.URL.Query().Get("days") != "7" {
			verifyErr = errors.New("unexpected request " + r.URL.String())
		}
		w.Write([]byte(`{"days":7,"inserted":4}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.Operator = "ops"
	c.PrivateKey = priv

	n, err := c.BackfillStats(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if verifyErr != nil {
		t.Fatalf("server rejected request: %v", verifyErr)
	}
	if n != 4 {
		t.Fatalf("inserted = %d, want 4", n)
	}
}

func TestAdminNeedsCredentials(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	c.Operator, c.PrivateKey = "", nil
	if err := c.TriggerSync(context.Background()); err == nil {
		t.Fatal("expected a credentials error")
	}
}

func TestErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"record not found"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Record(context.Background(), "1.0")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "record not found" {
		t.Fatalf("err = %v", err)
	}
}
