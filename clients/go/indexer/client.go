// Package indexer provides a client for the Medisphere indexer operator API.
package indexer

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/Mcnoble1/Medisphere-sub001/internal/crypto"
	"github.com/Mcnoble1/Medisphere-sub001/internal/engine"
	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
)

// Client is an indexer API client. Admin calls need Operator and
// PrivateKey.
type Client struct {
	BaseURL    string
	Operator   string
	PrivateKey ed25519.PrivateKey
	HTTPClient *http.Client
}

// NewClient creates a new client. Operator credentials are read from
// INDEXER_OPERATOR and INDEXER_PRIVATE_KEY when set.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	c := &Client{
		BaseURL:    baseURL,
		Operator:   os.Getenv("INDEXER_OPERATOR"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	if key := os.Getenv("INDEXER_PRIVATE_KEY"); key != "" {
		if priv, err := crypto.ParsePrivateKey(key); err == nil {
			c.PrivateKey = priv
		}
	}
	return c
}

// Error is a non-2xx API response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("indexer error %d: %s", e.StatusCode, e.Message)
}

// signRequest creates authentication headers for a request.
func (c *Client) signRequest(h http.Header, body []byte) error {
	if c.PrivateKey == nil || c.Operator == "" {
		return fmt.Errorf("operator credentials not configured")
	}
	nonce, err := crypto.NewNonce()
	if err != nil {
		return err
	}
	ts := time.Now().UnixMilli()

	h.Set("X-Indexer-Operator", c.Operator)
	h.Set("X-Indexer-Nonce", nonce)
	h.Set("X-Indexer-Timestamp", strconv.FormatInt(ts, 10))
	h.Set("X-Indexer-Signature", crypto.SignRequest(c.PrivateKey, body, nonce, ts))
	return nil
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, signed bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		if err := c.signRequest(req.Header, body); err != nil {
			return err
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &Error{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the per-topic indexing state.
func (c *Client) Status(ctx context.Context) (*engine.Status, error) {
	var resp engine.Status
	if err := c.doRequest(ctx, http.MethodGet, "/status", nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats returns today's snapshot.
func (c *Client) Stats(ctx context.Context) (*models.StatsSnapshot, error) {
	var resp models.StatsSnapshot
	if err := c.doRequest(ctx, http.MethodGet, "/stats", nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HistoryResponse is the response from the stats history endpoint.
type HistoryResponse struct {
	Days      int                    `json:"days"`
	Snapshots []models.StatsSnapshot `json:"snapshots"`
}

// History returns the snapshots of the last days, newest first.
func (c *Client) History(ctx context.Context, days int) (*HistoryResponse, error) {
	q := url.Values{}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	var resp HistoryResponse
	if err := c.doRequest(ctx, http.MethodGet, "/stats/history?"+q.Encode(), nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Record looks up an indexed record by message id.
func (c *Client) Record(ctx context.Context, messageID string) (*models.IndexedRecord, error) {
	var resp models.IndexedRecord
	if err := c.doRequest(ctx, http.MethodGet, "/records/"+url.PathEscape(messageID), nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TriggerSync asks the server to backfill every topic.
func (c *Client) TriggerSync(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodPost, "/admin/sync", nil, true, nil)
}

// RecalculateStats recomputes today's snapshot on the server.
func (c *Client) RecalculateStats(ctx context.Context) (*models.StatsSnapshot, error) {
	var resp models.StatsSnapshot
	if err := c.doRequest(ctx, http.MethodPost, "/admin/stats/recalculate", nil, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BackfillStats fills in missing snapshots and returns how many were written.
func (c *Client) BackfillStats(ctx context.Context, days int) (int, error) {
	var resp struct {
		Inserted int `json:"inserted"`
	}
	path := "/admin/stats/backfill?days=" + strconv.Itoa(days)
	if err := c.doRequest(ctx, http.MethodPost, path, nil, true, &resp); err != nil {
		return 0, err
	}
	return resp.Inserted, nil
}
