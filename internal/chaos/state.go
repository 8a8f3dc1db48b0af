package chaos

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mode is the fault-injection mode currently applied to functional routes.
type Mode int32

const (
	ModeNone Mode = iota
	ModeError
	ModeTimeout
)

// ErrInvalidMode is returned when a start request names anything other than
// "error" or "timeout".
var ErrInvalidMode = errors.New("invalid chaos mode")

var allModes = []Mode{ModeNone, ModeError, ModeTimeout}

var (
	modeGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chaos_mode",
		Help: "Current chaos mode (1 for the active mode, 0 otherwise)",
	}, []string{"mode"})
	modeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chaos_mode_transitions_total",
		Help: "Chaos mode transitions applied by start/stop",
	}, []string{"to"})
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeError:
		return "error"
	case ModeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ParseMode accepts the values a caller may pass to start chaos.
// "none" is not startable; use State.Stop instead.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "error":
		return ModeError, nil
	case "timeout":
		return ModeTimeout, nil
	default:
		return ModeNone, ErrInvalidMode
	}
}

// State holds the process-wide chaos mode. It is safe for concurrent use;
// the last writer wins.
type State struct {
	mode atomic.Int32
}

// NewState returns a State in ModeNone.
func NewState() *State {
	s := &State{}
	s.publish(ModeNone)
	return s
}

// Mode returns the current mode.
func (s *State) Mode() Mode {
	return Mode(s.mode.Load())
}

// Active reports whether any fault is being injected.
func (s *State) Active() bool {
	return s.Mode() != ModeNone
}

// Start switches to m and returns the previous mode. Only ModeError and
// ModeTimeout are accepted; anything else leaves the state untouched.
func (s *State) Start(m Mode) (Mode, error) {
	if m != ModeError && m != ModeTimeout {
		return s.Mode(), ErrInvalidMode
	}
	prev := Mode(s.mode.Swap(int32(m)))
	s.publish(m)
	modeTransitions.WithLabelValues(m.String()).Inc()
	return prev, nil
}

// Stop resets the mode to ModeNone from any state.
func (s *State) Stop() Mode {
	prev := Mode(s.mode.Swap(int32(ModeNone)))
	s.publish(ModeNone)
	modeTransitions.WithLabelValues(ModeNone.String()).Inc()
	return prev
}

func (s *State) publish(current Mode) {
	for _, m := range allModes {
		v := 0.0
		if m == current {
			v = 1.0
		}
		modeGauge.WithLabelValues(m.String()).Set(v)
	}
}
