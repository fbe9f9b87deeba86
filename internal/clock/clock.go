// Package clock provides the monotonic time source and identifier
// generators shared across the coordination core. Components take a
// Clock rather than calling time.Now() directly so that scheduler and
// monitor tests can drive time deterministically.
package clock

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock access. The production implementation
// wraps time.Now; tests substitute a Manual clock.
type Clock interface {
	Now() time.Time
}

// System is the production Clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Manual is a Clock a test can advance explicitly. Zero value starts at
// the Unix epoch; call Set or Advance before first use if that matters.
type Manual struct {
	now atomic.Int64 // unix nanos
}

// NewManual returns a Manual clock set to t.
func NewManual(t time.Time) *Manual {
	m := &Manual{}
	m.Set(t)
	return m
}

func (m *Manual) Now() time.Time {
	return time.Unix(0, m.now.Load()).UTC()
}

func (m *Manual) Set(t time.Time) {
	m.now.Store(t.UnixNano())
}

func (m *Manual) Advance(d time.Duration) {
	m.now.Add(int64(d))
}

// NewMissionID returns a fresh random mission identifier.
func NewMissionID() string {
	return uuid.NewString()
}

// NewSubscriberID returns a fresh random subscriber handle.
func NewSubscriberID() string {
	return uuid.NewString()
}

// Sequence is a monotonically increasing counter, used for the
// broadcaster's update_id. Safe for concurrent use.
type Sequence struct {
	n atomic.Uint64
}

// Next returns the next value in the sequence, starting at 1 so that 0
// can mean "no snapshot yet observed" on the subscriber side.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}
