package facefinder

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Phase names a timed section of the pipeline.
type Phase int

const (
	PhaseDetection Phase = iota
	PhaseRegression
	PhaseEyeRegression
	PhaseACF
	PhaseBlob
	PhaseRenderScene
	numPhases
)

var phaseNames = [numPhases]string{
	"detection",
	"regression",
	"eyeRegression",
	"acf",
	"blob",
	"renderScene",
}

func (p Phase) String() string {
	if p >= 0 && p < numPhases {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ParsePhase returns the phase with the given String form.
func ParsePhase(s string) (Phase, bool) {
	for i, name := range phaseNames {
		if name == s {
			return Phase(i), true
		}
	}
	return 0, false
}

// TimerInfo holds the most recent duration of each phase and mirrors every
// sample to an optional per-phase sink.
type TimerInfo struct {
	mu        sync.Mutex
	durations [numPhases]time.Duration
	sinks     [numPhases]func(time.Duration)
}

func newTimerInfo(sinks map[Phase]func(time.Duration)) *TimerInfo {
	t := &TimerInfo{}
	for p, fn := range sinks {
		if p >= 0 && p < numPhases {
			t.sinks[p] = fn
		}
	}
	return t
}

// Record stores d for phase and forwards it to the sink outside the lock.
func (t *TimerInfo) Record(p Phase, d time.Duration) {
	t.mu.Lock()
	t.durations[p] = d
	sink := t.sinks[p]
	t.mu.Unlock()

	if sink != nil {
		sink(d)
	}
}

// Since records the time elapsed since start.
func (t *TimerInfo) Since(p Phase, start time.Time) {
	t.Record(p, time.Since(start))
}

// Get returns the last duration recorded for p.
func (t *TimerInfo) Get(p Phase) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.durations[p]
}

// Snapshot returns all phases keyed by name.
func (t *TimerInfo) Snapshot() map[string]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]time.Duration, numPhases)
	for i, d := range t.durations {
		out[phaseNames[i]] = d
	}
	return out
}

func (t *TimerInfo) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	for i, d := range t.durations {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%s", phaseNames[i], d)
	}
	return b.String()
}
