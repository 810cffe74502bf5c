// Package eta estimates remaining transfer time from a cumulative byte
// counter. The estimator keeps a short history of per-second throughput and
// averages it, which smooths out chunk-level jitter without lagging far
// behind real speed changes.
package eta

import (
	"fmt"
	"math"
	"time"
)

// historySeconds is the number of per-second throughput samples kept.
const historySeconds = 5

// KeepTotal passed to PrepareForNewTransfer leaves the payload length as is.
const KeepTotal int64 = -1

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Estimator tracks throughput for a single transfer. It is a plain state
// machine with no locking of its own; callers mutate it from one goroutine,
// which in this module is the event apply loop.
type Estimator struct {
	totalLen         int64
	totalTransferred int64

	transferredThisSec int64
	history            []int64 // most recent sample first
	secondsElapsed     int

	lastSec      time.Time
	hasAnchor    bool
	timeProvider TimeProvider
}

// New creates an estimator for a payload of totalLen bytes. A zero length is
// valid; the estimate is "Unknown" until throughput history accumulates.
func New(totalLen int64) *Estimator {
	return &Estimator{
		totalLen:     totalLen,
		history:      make([]int64, 0, historySeconds),
		timeProvider: DefaultTimeProvider{},
	}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (e *Estimator) SetTimeProvider(tp TimeProvider) {
	e.timeProvider = tp
}

// TotalLen returns the payload length the estimator was configured with.
func (e *Estimator) TotalLen() int64 { return e.totalLen }

// TotalTransferred returns the cumulative byte count from the last StepWith.
func (e *Estimator) TotalTransferred() int64 { return e.totalTransferred }

// SecondsElapsed returns how many full seconds of transfer were observed.
func (e *Estimator) SecondsElapsed() int { return e.secondsElapsed }

// StepWith records a new value of the engine's cumulative transferred-bytes
// counter. The counter is monotonic; the delta since the previous call is
// attributed to the current second. The first call only anchors the second
// boundary. Later calls that find a full second elapsed push the current
// bucket into the history, evicting the oldest of the five samples.
func (e *Estimator) StepWith(totalTransferred int64) {
	delta := totalTransferred - e.totalTransferred
	if delta < 0 {
		// The engine never moves the counter backwards; a stale event after
		// a reset is ignored rather than poisoning the history.
		return
	}
	e.transferredThisSec += delta
	e.totalTransferred = totalTransferred

	now := e.timeProvider.Now()
	if !e.hasAnchor {
		e.lastSec = now
		e.hasAnchor = true
		return
	}

	if now.Sub(e.lastSec) >= time.Second {
		e.secondsElapsed++
		e.lastSec = now

		if len(e.history) == historySeconds {
			e.history = e.history[:historySeconds-1]
		}
		e.history = append([]int64{e.transferredThisSec}, e.history...)
		e.transferredThisSec = 0
	}
}

// PrepareForNewTransfer clears all throughput state so the estimator can be
// reused for the next transfer attempt. Pass KeepTotal to retain the current
// payload length, or a non-negative value to replace it.
func (e *Estimator) PrepareForNewTransfer(totalLen int64) {
	if totalLen >= 0 {
		e.totalLen = totalLen
	}
	e.totalTransferred = 0
	e.transferredThisSec = 0
	e.history = e.history[:0]
	e.secondsElapsed = 0
	e.hasAnchor = false
	e.lastSec = time.Time{}
}

// Speed returns the average of the recorded per-second samples in bytes per
// second, or 0 when no history exists yet.
func (e *Estimator) Speed() float64 {
	if len(e.history) == 0 {
		return 0
	}
	var sum float64
	for _, v := range e.history {
		sum += float64(v)
	}
	return sum / float64(len(e.history))
}

// EtaSeconds returns the estimated remaining time in seconds. A zero speed
// yields +Inf, which is a defined outcome rendered as "Unknown".
func (e *Estimator) EtaSeconds() float64 {
	remaining := float64(e.totalLen) - float64(e.totalTransferred)
	return remaining / e.Speed()
}

// String renders the current estimate for display: "Unknown" while no speed
// is known, hours and minutes above 6000 seconds, minutes and seconds above
// 100 seconds, and plain seconds below that.
func (e *Estimator) String() string {
	return FormatSeconds(e.EtaSeconds())
}

// FormatSeconds renders a remaining-time value the way the estimator does.
func FormatSeconds(sec float64) string {
	if math.IsInf(sec, 0) || math.IsNaN(sec) {
		return "Unknown"
	}

	s := int64(sec)
	if s < 0 {
		// A counter that ran past a stale payload length reads as finished.
		s = 0
	}
	switch {
	case s > 6000:
		h := s / 3600
		m := (s % 3600) / 60
		return fmt.Sprintf("%d %s %d %s", h, plural(h, "hour"), m, plural(m, "minute"))
	case s > 100:
		m := s / 60
		r := s % 60
		return fmt.Sprintf("%d %s %d %s", m, plural(m, "minute"), r, plural(r, "second"))
	default:
		return fmt.Sprintf("%d %s", s, plural(s, "second"))
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
