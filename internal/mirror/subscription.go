package mirror

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mcnoble1/Medisphere-sub001/internal/clock"
)

// Subscription is the stop handle of a poll loop. Stopping is cooperative:
// an in-flight fetch and the messages it returned are still processed, the
// next iteration is not started.
type Subscription struct {
	topicID  string
	cursor   atomic.Int64
	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newSubscription(topicID string, from int64) *Subscription {
	s := &Subscription{
		topicID: topicID,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.cursor.Store(from)
	s.running.Store(true)
	return s
}

// Cursor returns the in-memory position of the loop.
func (s *Subscription) Cursor() int64 { return s.cursor.Load() }

// Running reports whether Stop has not been called yet.
func (s *Subscription) Running() bool { return s.running.Load() }

// Stop flips the running flag and wakes a sleeping loop. It does not wait.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.stop)
	})
}

// Done is closed once the loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Exited reports whether the loop has returned, either after Stop or because
// its context ended.
func (s *Subscription) Exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscription) advance(seq int64) {
	if seq > s.cursor.Load() {
		s.cursor.Store(seq)
	}
}

// sleep waits for d on clk and reports whether the loop should continue.
func (s *Subscription) sleep(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	select {
	case <-clk.After(d):
		return s.Running()
	case <-s.stop:
		return false
	case <-ctx.Done():
		return false
	}
}
