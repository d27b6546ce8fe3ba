// Package mirror is a client for the ledger mirror node REST API.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mcnoble1/Medisphere-sub001/internal/clock"
	"github.com/Mcnoble1/Medisphere-sub001/internal/content"
	"github.com/Mcnoble1/Medisphere-sub001/internal/metrics"
	"github.com/Mcnoble1/Medisphere-sub001/internal/models"
)

const (
	// DefaultPageLimit is the largest page the mirror node serves.
	DefaultPageLimit = 100
	// DefaultPageDelay is the pause between backfill pages.
	DefaultPageDelay = 100 * time.Millisecond
)

// Order is the sort direction of a page.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// APIError is returned for non-2xx mirror responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mirror error %d: %s", e.StatusCode, e.Message)
}

// Page is one page of topic messages.
type Page struct {
	Messages []models.LogMessage
	HasMore  bool
}

// Client reads topic messages from the mirror node.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	PageLimit  int
	PageDelay  time.Duration
	// Clock drives the poll sleep and the page delay.
	Clock clock.Clock

	logger zerolog.Logger
}

// NewClient creates a mirror client.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		PageLimit:  DefaultPageLimit,
		PageDelay:  DefaultPageDelay,
		Clock:      clock.Real(),
		logger:     logger.With().Str("component", "mirror").Logger(),
	}
}

type messagesResponse struct {
	Messages []models.LogMessage `json:"messages"`
	Links    struct {
		Next *string `json:"next"`
	} `json:"links"`
}

// FetchPage returns up to limit messages with a sequence number greater
// than afterSequence.
func (c *Client) FetchPage(ctx context.Context, topicID string, afterSequence int64, limit int, order Order) (*Page, error) {
	q := url.Values{}
	q.Set("sequencenumber", "gt:"+strconv.FormatInt(afterSequence, 10))
	return c.fetch(ctx, topicID, q, limit, order)
}

// FetchPageAfterTimestamp returns up to limit messages with a consensus
// timestamp greater than ts.
func (c *Client) FetchPageAfterTimestamp(ctx context.Context, topicID, ts string, limit int, order Order) (*Page, error) {
	q := url.Values{}
	q.Set("timestamp", "gt:"+ts)
	return c.fetch(ctx, topicID, q, limit, order)
}

func (c *Client) fetch(ctx context.Context, topicID string, q url.Values, limit int, order Order) (*Page, error) {
	if limit <= 0 || limit > DefaultPageLimit {
		limit = DefaultPageLimit
	}
	if order == "" {
		order = OrderAsc
	}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("order", string(order))

	u := fmt.Sprintf("%s/api/v1/topics/%s/messages?%s", c.BaseURL, url.PathEscape(topicID), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	page, err := c.do(req, topicID)
	metrics.MirrorFetchDuration.WithLabelValues(topicID).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MirrorFetchErrors.WithLabelValues(topicID).Inc()
		return nil, err
	}
	return page, nil
}

func (c *Client) do(req *http.Request, topicID string) (*Page, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		var errResp struct {
			Status struct {
				Messages []struct {
					Message string `json:"message"`
				} `json:"messages"`
			} `json:"_status"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &errResp) == nil && len(errResp.Status.Messages) > 0 {
			msg = errResp.Status.Messages[0].Message
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	var out messagesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode messages response: %w", err)
	}
	for i := range out.Messages {
		if out.Messages[i].TopicID == "" {
			out.Messages[i].TopicID = topicID
		}
	}
	return &Page{
		Messages: out.Messages,
		HasMore:  out.Links.Next != nil && *out.Links.Next != "",
	}, nil
}

func (c *Client) clock() clock.Clock {
	if c.Clock == nil {
		return clock.Real()
	}
	return c.Clock
}

// Decode parses a message payload. It returns nil for malformed payloads.
func (c *Client) Decode(payload string) *content.Content {
	return content.Decode(payload)
}

// ParseTimestamp converts a consensus timestamp ("seconds.nanos") into a
// time at second precision. The fractional part is validated but dropped.
func ParseTimestamp(ts string) (time.Time, error) {
	secs, frac, _ := strings.Cut(strings.TrimSpace(ts), ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil || sec < 0 {
		return time.Time{}, fmt.Errorf("invalid consensus timestamp %q", ts)
	}
	for _, r := range frac {
		if r < '0' || r > '9' {
			return time.Time{}, fmt.Errorf("invalid consensus timestamp %q", ts)
		}
	}
	return time.Unix(sec, 0).UTC(), nil
}

// BatchFunc handles one page of messages during a drain.
type BatchFunc func(ctx context.Context, batch []models.LogMessage) error

// Drain reads every page after fromSequence in order. The next page is only
// requested once onBatch has returned. It stops at the first empty page or
// when the mirror reports no further pages. Fetch and handler errors are
// returned as is.
func (c *Client) Drain(ctx context.Context, topicID string, fromSequence int64, onBatch BatchFunc) error {
	cursor := fromSequence
	for {
		page, err := c.FetchPage(ctx, topicID, cursor, c.PageLimit, OrderAsc)
		if err != nil {
			return fmt.Errorf("fetch %s after %d: %w", topicID, cursor, err)
		}
		if len(page.Messages) == 0 {
			return nil
		}
		if err := onBatch(ctx, page.Messages); err != nil {
			return err
		}
		cursor = page.Messages[len(page.Messages)-1].SequenceNumber
		if !page.HasMore {
			return nil
		}
		if c.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock().After(c.PageDelay):
			}
		}
	}
}

// MessageFunc handles one message during a poll.
type MessageFunc func(ctx context.Context, msg models.LogMessage) error

// Poll starts a background loop that fetches new messages every interval
// and hands them to onMessage one at a time. Fetch errors are logged and
// retried after twice the interval; handler errors are logged and the loop
// moves on. The loop runs until the subscription is stopped or ctx ends.
func (c *Client) Poll(ctx context.Context, topicID string, fromSequence int64, onMessage MessageFunc, interval time.Duration) *Subscription {
	s := newSubscription(topicID, fromSequence)
	go c.pollLoop(ctx, s, onMessage, interval)
	return s
}

func (c *Client) pollLoop(ctx context.Context, s *Subscription, onMessage MessageFunc, interval time.Duration) {
	defer close(s.done)
	log := c.logger.With().Str("topic", s.topicID).Logger()

	for s.Running() {
		page, err := c.FetchPage(ctx, s.topicID, s.Cursor(), c.PageLimit, OrderAsc)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Int64("after", s.Cursor()).Msg("poll fetch failed")
			if !s.sleep(ctx, c.clock(), 2*interval) {
				return
			}
			continue
		}
		for _, msg := range page.Messages {
			if err := onMessage(ctx, msg); err != nil {
				log.Error().Err(err).
					Int64("sequence", msg.SequenceNumber).
					Str("message_id", msg.MessageID()).
					Msg("message handler failed")
			}
			s.advance(msg.SequenceNumber)
		}
		if !s.sleep(ctx, c.clock(), interval) {
			return
		}
	}
}
