package chaos

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/0xReLogic/chaos-backend/internal/logging"
)

const (
	// DefaultTimeoutDelay is how long timeout chaos holds a request open.
	// Load balancers in front typically give up after 1-2s.
	DefaultTimeoutDelay = 15 * time.Second

	ErrorBody   = "Simulated 500 Internal Server Error (Chaos Mode)"
	TimeoutBody = "Timeout finished."
)

var injectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chaos_injected_total",
	Help: "Requests answered by chaos instead of their route handler",
}, []string{"mode"})

// Action tells the middleware whether to dispatch to the route.
type Action int

const (
	Continue Action = iota
	Respond
)

// Verdict is the outcome of the pre-dispatch hook.
type Verdict struct {
	Action Action
	Mode   Mode
	Status int
	Body   string
	// Delay holds the response open before it is written.
	Delay time.Duration
}

// Injector decides, per request, whether chaos answers instead of the route.
type Injector struct {
	state     *State
	scheduler *Scheduler
	delay     time.Duration
}

// NewInjector builds an injector over state. A non-positive delay falls back
// to DefaultTimeoutDelay.
func NewInjector(state *State, scheduler *Scheduler, delay time.Duration) *Injector {
	if delay <= 0 {
		delay = DefaultTimeoutDelay
	}
	if scheduler == nil {
		scheduler = NewScheduler(false)
	}
	return &Injector{state: state, scheduler: scheduler, delay: delay}
}

// Scheduler exposes the scheduler used for delayed responses.
func (in *Injector) Scheduler() *Scheduler {
	return in.scheduler
}

// Evaluate reads the current mode once and returns the verdict for it.
func (in *Injector) Evaluate(_ *http.Request) Verdict {
	switch m := in.state.Mode(); m {
	case ModeError:
		return Verdict{Action: Respond, Mode: m, Status: http.StatusInternalServerError, Body: ErrorBody}
	case ModeTimeout:
		return Verdict{Action: Respond, Mode: m, Status: http.StatusOK, Body: TimeoutBody, Delay: in.delay}
	default:
		return Verdict{Action: Continue, Mode: ModeNone}
	}
}

// Middleware applies Evaluate before next. next is only invoked on Continue.
func (in *Injector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := in.Evaluate(r)
		if v.Action == Continue {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		logging.LogChaosInjected(ctx, v.Mode.String(), r.URL.Path, v.Delay)
		injectedTotal.WithLabelValues(v.Mode.String()).Inc()
		trace.SpanFromContext(ctx).AddEvent("chaos_injected", trace.WithAttributes(
			attribute.String("chaos.mode", v.Mode.String()),
			attribute.Int64("chaos.delay_ms", v.Delay.Milliseconds()),
		))

		if v.Delay <= 0 {
			writeText(w, v.Status, v.Body)
			return
		}

		task := in.scheduler.NewTask(r.URL.Path, v.Delay)
		err := in.scheduler.Run(ctx, task, func() { writeText(w, v.Status, v.Body) })
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logging.LogDelayedResponseDropped(ctx, task.ID, task.Path, err)
		}
	})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
