package chaos

import (
	"errors"
	"sync"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewStateStartsInNone(t *testing.T) {
	s := NewState()
	if s.Mode() != ModeNone {
		t.Fatalf("Expected initial mode none, got %s", s.Mode())
	}
	if s.Active() {
		t.Fatal("New state should not be active")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"error", ModeError, false},
		{"timeout", ModeTimeout, false},
		{"none", ModeNone, true},
		{"", ModeNone, true},
		{"banana", ModeNone, true},
		{"ERROR", ModeNone, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidMode) {
			t.Errorf("ParseMode(%q) error = %v, want ErrInvalidMode", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestStateTransitions(t *testing.T) {
	s := NewState()

	prev, err := s.Start(ModeError)
	if err != nil || prev != ModeNone || s.Mode() != ModeError {
		t.Fatalf("start(error): prev=%s err=%v mode=%s", prev, err, s.Mode())
	}

	prev, err = s.Start(ModeTimeout)
	if err != nil || prev != ModeError || s.Mode() != ModeTimeout {
		t.Fatalf("start(timeout): prev=%s err=%v mode=%s", prev, err, s.Mode())
	}

	prev, err = s.Start(ModeNone)
	if !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("start(none) should be rejected, got %v", err)
	}
	if prev != ModeTimeout || s.Mode() != ModeTimeout {
		t.Fatalf("rejected start changed state: prev=%s mode=%s", prev, s.Mode())
	}

	if _, err := s.Start(Mode(42)); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("start(42) should be rejected, got %v", err)
	}
	if s.Mode() != ModeTimeout {
		t.Fatalf("rejected start changed state to %s", s.Mode())
	}

	if prev := s.Stop(); prev != ModeTimeout {
		t.Fatalf("stop returned prev=%s, want timeout", prev)
	}
	if s.Mode() != ModeNone {
		t.Fatalf("after stop mode=%s", s.Mode())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := NewState()
	for i := 0; i < 3; i++ {
		if prev := s.Stop(); prev != ModeNone {
			t.Fatalf("stop #%d returned prev=%s", i, prev)
		}
		if s.Mode() != ModeNone {
			t.Fatalf("stop #%d left mode=%s", i, s.Mode())
		}
	}
}

func TestStateConcurrentAccess(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = s.Start(ModeError)
			} else {
				s.Stop()
			}
		}(i)
		go func() {
			defer wg.Done()
			switch m := s.Mode(); m {
			case ModeNone, ModeError, ModeTimeout:
			default:
				t.Errorf("observed undefined mode %d", m)
			}
		}()
	}
	wg.Wait()
}

func TestStateGauge(t *testing.T) {
	s := NewState()
	_, _ = s.Start(ModeTimeout)

	if got := promtest.ToFloat64(modeGauge.WithLabelValues("timeout")); got != 1 {
		t.Errorf("timeout gauge = %v, want 1", got)
	}
	if got := promtest.ToFloat64(modeGauge.WithLabelValues("none")); got != 0 {
		t.Errorf("none gauge = %v, want 0", got)
	}

	before := promtest.ToFloat64(modeTransitions.WithLabelValues("none"))
	s.Stop()
	if got := promtest.ToFloat64(modeTransitions.WithLabelValues("none")); got != before+1 {
		t.Errorf("transitions{to=none} = %v, want %v", got, before+1)
	}
}

func TestModeString(t *testing.T) {
	if ModeNone.String() != "none" || ModeError.String() != "error" || ModeTimeout.String() != "timeout" {
		t.Fatal("unexpected mode names")
	}
	if Mode(9).String() != "unknown" {
		t.Fatalf("Mode(9) = %s", Mode(9))
	}
}
