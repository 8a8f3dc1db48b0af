package chaos

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pendingDelayed = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "chaos_pending_delayed_responses",
	Help: "Requests currently held open by timeout chaos",
})

// DelayedResponse describes one request that is held open before its
// response is written.
type DelayedResponse struct {
	ID          uint64
	Path        string
	Delay       time.Duration
	ScheduledAt time.Time
}

// Due is the earliest time the response may be written.
func (d DelayedResponse) Due() time.Time {
	return d.ScheduledAt.Add(d.Delay)
}

// Scheduler runs delayed responses on the goroutine serving the request, so
// the response is bound to the request's lifetime instead of a detached timer.
type Scheduler struct {
	// CancelOnDisconnect drops the response when the request context ends.
	// When false the response always fires after the full delay.
	CancelOnDisconnect bool

	nextID  atomic.Uint64
	pending atomic.Int64
	now     func() time.Time
}

// NewScheduler creates a scheduler with the given cancellation policy.
func NewScheduler(cancelOnDisconnect bool) *Scheduler {
	return &Scheduler{CancelOnDisconnect: cancelOnDisconnect, now: time.Now}
}

// NewTask stamps a delayed response for path.
func (s *Scheduler) NewTask(path string, delay time.Duration) DelayedResponse {
	return DelayedResponse{
		ID:          s.nextID.Add(1),
		Path:        path,
		Delay:       delay,
		ScheduledAt: s.now(),
	}
}

// Pending returns the number of delayed responses not yet fired.
func (s *Scheduler) Pending() int64 {
	return s.pending.Load()
}

// Run blocks until task is due and then calls fire. Under the cancel policy
// an ended ctx returns ctx.Err() without calling fire.
func (s *Scheduler) Run(ctx context.Context, task DelayedResponse, fire func()) error {
	s.pending.Add(1)
	pendingDelayed.Inc()
	defer func() {
		s.pending.Add(-1)
		pendingDelayed.Dec()
	}()

	wait := task.Due().Sub(s.now())
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		var done <-chan struct{}
		if s.CancelOnDisconnect {
			done = ctx.Done()
		}
		select {
		case <-timer.C:
		case <-done:
			return ctx.Err()
		}
	}

	fire()
	return nil
}
