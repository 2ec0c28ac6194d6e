package web

import (
	"sync"
	"time"

	"github.com/meko-christian/imap2smtp/internal/forwarder"
)

// Tracker remembers the most recent cycle report. It is registered as a
// forwarder.Observer and read by the HTTP handlers.
type Tracker struct {
	mu       sync.RWMutex
	started  time.Time
	runID    string
	cycles   uint64
	failures uint64
	last     *forwarder.Report
}

// NewTracker returns an empty tracker for the process identified by runID.
func NewTracker(runID string, started time.Time) *Tracker {
	return &Tracker{runID: runID, started: started}
}

// CycleFinished records r as the latest cycle. It implements forwarder.Observer.
func (t *Tracker) CycleFinished(r forwarder.Report) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cycles++
	if !r.OK() {
		t.failures++
	}
	t.last = &r
}

type cycleStatus struct {
	Cycle     uint64    `json:"cycle"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Duration  float64   `json:"duration_seconds"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Forwarded int       `json:"forward_success"`
	Failed    int       `json:"forward_failure"`
	Skipped   int       `json:"skipped"`
}

type status struct {
	RunID     string       `json:"run_id"`
	Started   time.Time    `json:"started"`
	Cycles    uint64       `json:"cycles"`
	Failures  uint64       `json:"failed_cycles"`
	LastCycle *cycleStatus `json:"last_cycle,omitempty"`
}

func (t *Tracker) snapshot() status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := status{
		RunID:    t.runID,
		Started:  t.started,
		Cycles:   t.cycles,
		Failures: t.failures,
	}
	if t.last == nil {
		return s
	}

	r := t.last
	s.LastCycle = &cycleStatus{
		Cycle:     r.Cycle,
		Started:   r.Started,
		Finished:  r.Finished,
		Duration:  r.Finished.Sub(r.Started).Seconds(),
		OK:        r.OK(),
		Forwarded: r.Stats.Forwarded,
		Failed:    r.Stats.Failed,
		Skipped:   r.Stats.Skipped,
	}
	if r.Err != nil {
		s.LastCycle.Error = r.Err.Error()
	}
	return s
}

// healthy is false only when the last cycle failed.
func (t *Tracker) healthy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last == nil || t.last.OK()
}
