package chaos

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/0xReLogic/chaos-backend/internal/logging"
)

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(zap.NewNop()) })
	return logs
}

func TestEvaluate(t *testing.T) {
	state := NewState()
	in := NewInjector(state, nil, 15*time.Second)
	req := httptest.NewRequest(http.MethodGet, "/version", nil)

	if v := in.Evaluate(req); v.Action != Continue {
		t.Fatalf("mode none: expected Continue, got %+v", v)
	}

	_, _ = state.Start(ModeError)
	v := in.Evaluate(req)
	if v.Action != Respond || v.Status != http.StatusInternalServerError || v.Body != ErrorBody || v.Delay != 0 {
		t.Fatalf("mode error: unexpected verdict %+v", v)
	}

	_, _ = state.Start(ModeTimeout)
	v = in.Evaluate(req)
	if v.Action != Respond || v.Status != http.StatusOK || v.Body != TimeoutBody || v.Delay != 15*time.Second {
		t.Fatalf("mode timeout: unexpected verdict %+v", v)
	}
}

func TestNewInjectorDefaultDelay(t *testing.T) {
	state := NewState()
	_, _ = state.Start(ModeTimeout)
	in := NewInjector(state, nil, 0)
	if v := in.Evaluate(nil); v.Delay != DefaultTimeoutDelay {
		t.Fatalf("delay = %s, want %s", v.Delay, DefaultTimeoutDelay)
	}
	if in.Scheduler() == nil {
		t.Fatal("expected a default scheduler")
	}
}

func TestMiddlewarePassesThrough(t *testing.T) {
	in := NewInjector(NewState(), nil, time.Second)
	called := false
	h := in.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	if !called {
		t.Fatal("next handler was not called")
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMiddlewareErrorShortCircuits(t *testing.T) {
	logs := observeLogs(t)
	state := NewState()
	_, _ = state.Start(ModeError)
	in := NewInjector(state, nil, time.Second)

	h := in.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler must not run while chaos is active")
	}))

	before := promtest.ToFloat64(injectedTotal.WithLabelValues("error"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if rec.Body.String() != ErrorBody {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if got := promtest.ToFloat64(injectedTotal.WithLabelValues("error")); got != before+1 {
		t.Fatalf("chaos_injected_total{mode=error} = %v, want %v", got, before+1)
	}

	entries := logs.FilterMessage("chaos_injected").All()
	if len(entries) != 1 {
		t.Fatalf("expected one chaos_injected log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["mode"] != "error" || fields["path"] != "/version" {
		t.Fatalf("unexpected log fields %v", fields)
	}
}

func TestMiddlewareTimeoutHoldsRequest(t *testing.T) {
	observeLogs(t)
	state := NewState()
	_, _ = state.Start(ModeTimeout)
	delay := 80 * time.Millisecond
	in := NewInjector(state, NewScheduler(false), delay)

	h := in.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler must not run while chaos is active")
	}))

	start := time.Now()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	if elapsed := time.Since(start); elapsed < delay {
		t.Fatalf("responded after %s, want at least %s", elapsed, delay)
	}
	if rec.Code != http.StatusOK || rec.Body.String() != TimeoutBody {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestMiddlewareTimeoutDroppedOnDisconnect(t *testing.T) {
	logs := observeLogs(t)
	state := NewState()
	_, _ = state.Start(ModeTimeout)
	in := NewInjector(state, NewScheduler(true), time.Second)

	h := in.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	ctx, cancel := contextWithCancelAfter(req, 20*time.Millisecond)
	defer cancel()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(ctx))

	if rec.Body.Len() != 0 {
		t.Fatalf("expected no body after cancellation, got %q", rec.Body.String())
	}
	if logs.FilterMessage("chaos_delayed_response_dropped").Len() != 1 {
		t.Fatal("expected the dropped response to be logged")
	}
}

func contextWithCancelAfter(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	time.AfterFunc(d, cancel)
	return ctx, cancel
}
