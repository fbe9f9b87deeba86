// Package mission owns mission lifecycle and admission: the Registry
// enforces per-vehicle exclusivity and serializes concurrent schedule
// calls through a coarse admission lock around a pure deconfliction
// check, per §4.4.
package mission

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brunoga/deep"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/skylane/fleetcore/internal/clock"
	"github.com/skylane/fleetcore/internal/corelog"
	"github.com/skylane/fleetcore/internal/deconflict"
	"github.com/skylane/fleetcore/internal/fleet"
	"github.com/skylane/fleetcore/internal/geo"
	"github.com/skylane/fleetcore/internal/trajectory"
)

// State is a Mission's lifecycle state, per §3.
type State int

const (
	StateScheduled State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "SCHEDULED"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ErrNotFound is returned by Get/Cancel for an unknown mission id.
var ErrNotFound = errors.New("mission: not found")

// ErrMaxDronesExceeded is returned when admitting a mission would put
// more distinct vehicles under active missions than max_drones allows.
var ErrMaxDronesExceeded = errors.New("mission: fleet size limit exceeded")

// FailureReason tags why a mission ended in FAILED.
type FailureReason string

const (
	ReasonLateConflict FailureReason = "LATE_CONFLICT"
	ReasonDriverError  FailureReason = "DRIVER_ERROR"
	ReasonWatchdog     FailureReason = "WATCHDOG_EXPIRED"
)

// Mission is an admitted plan bound to a vehicle and time window.
type Mission struct {
	ID            string
	Vehicle       fleet.VehicleID
	Plan          geo.Plan
	Start         time.Time
	End           time.Time
	State         State
	FailureReason FailureReason
	Conflicts     []deconflict.Conflict
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (m Mission) toScheduled() deconflict.ScheduledMission {
	return deconflict.ScheduledMission{
		MissionID: m.ID,
		Vehicle:   m.Vehicle,
		Plan:      m.Plan,
		Start:     m.Start,
		End:       m.End,
	}
}

// Candidate is what a caller submits to Schedule.
type Candidate struct {
	Vehicle fleet.VehicleID
	Plan    geo.Plan
	Start   time.Time
	End     time.Time
}

// ScheduleResult is returned by Schedule: either an admitted mission id,
// or the conflicts that caused rejection.
type ScheduleResult struct {
	Accepted  bool
	MissionID string
	Conflicts []deconflict.Conflict
}

// terminalCacheSize bounds the LRU of terminal missions kept in memory
// for lookup by Get; a terminal mission evicted from it is no longer
// found by Get (the registry does not read from persistence).
const terminalCacheSize = 512

// Registry owns mission records: admission, lifecycle transitions, and
// lookup. Admissions are serialized by an admission lock; cancellation
// and lifecycle transitions take only mu, and reads do not block on
// the admission lock.
type Registry struct {
	lock *admissionLock
	lg   *corelog.Logger

	mu       sync.RWMutex
	active   map[string]*Mission // SCHEDULED or RUNNING
	terminal *lru.Cache[string, *Mission]
}

// New builds an empty Registry.
func New(lg *corelog.Logger) *Registry {
	cache, err := lru.New[string, *Mission](terminalCacheSize)
	if err != nil {
		// Only fails for a non-positive size, which terminalCacheSize
		// never is; a panic here would indicate a coding error, not a
		// runtime condition callers should handle.
		panic(err)
	}
	return &Registry{
		lock:     newAdmissionLock(lg),
		lg:       lg,
		active:   make(map[string]*Mission),
		terminal: cache,
	}
}

// snapshot returns a deep copy of every active mission as a
// deconflict.ScheduledMission, so the pure engine never observes
// concurrent mutation of registry-owned state.
func (r *Registry) snapshot() []deconflict.ScheduledMission {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]deconflict.ScheduledMission, 0, len(r.active))
	for _, m := range r.active {
		out = append(out, deep.MustCopy(m.toScheduled()))
	}
	return out
}

// vehicleCount returns the number of distinct vehicles with an active
// mission, used to enforce max_drones.
func (r *Registry) vehicleCount(excludingVehicle fleet.VehicleID, includingNew bool) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[fleet.VehicleID]struct{}, len(r.active)+1)
	for _, m := range r.active {
		seen[m.Vehicle] = struct{}{}
	}
	if includingNew {
		seen[excludingVehicle] = struct{}{}
	}
	return len(seen)
}

// Schedule runs the full admission sequence from §4.4: acquire the
// admission lock, evaluate the candidate against the current registry
// snapshot plus live telemetry, and on success insert a new SCHEDULED
// mission.
func (r *Registry) Schedule(engine *deconflict.Engine, candidate Candidate, live map[fleet.VehicleID]trajectory.Sample, now time.Time, maxDrones int) (ScheduleResult, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	scheduled := r.snapshot()
	result, err := engine.Check(deconflict.Candidate{
		Vehicle: candidate.Vehicle,
		Plan:    candidate.Plan,
		Start:   candidate.Start,
		End:     candidate.End,
	}, scheduled, live, now)
	if err != nil {
		return ScheduleResult{}, err
	}
	if !result.Safe {
		return ScheduleResult{Accepted: false, Conflicts: result.Conflicts}, nil
	}

	if r.vehicleCount(candidate.Vehicle, true) > maxDrones {
		return ScheduleResult{}, ErrMaxDronesExceeded
	}

	id := clock.NewMissionID()
	m := &Mission{
		ID:        id,
		Vehicle:   candidate.Vehicle,
		Plan:      candidate.Plan,
		Start:     candidate.Start,
		End:       candidate.End,
		State:     StateScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.active[id] = m
	r.mu.Unlock()

	r.lg.Infof("mission %s scheduled for vehicle %s over [%s, %s]", id, candidate.Vehicle, candidate.Start, candidate.End)
	return ScheduleResult{Accepted: true, MissionID: id}, nil
}

// Get returns a mission by id, checking active missions then the
// terminal cache.
func (r *Registry) Get(id string) (Mission, error) {
	r.mu.RLock()
	if m, ok := r.active[id]; ok {
		r.mu.RUnlock()
		return *m, nil
	}
	r.mu.RUnlock()

	if m, ok := r.terminal.Get(id); ok {
		return *m, nil
	}
	return Mission{}, ErrNotFound
}

// ListActive returns every mission in {SCHEDULED, RUNNING}.
func (r *Registry) ListActive() []Mission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Mission, 0, len(r.active))
	for _, m := range r.active {
		out = append(out, *m)
	}
	return out
}

// Cancel transitions a mission to CANCELLED if it is non-terminal; a
// terminal mission's Cancel call is a no-op returning its current
// state, per §8's idempotence property.
func (r *Registry) Cancel(id string, now time.Time) (Mission, error) {
	r.mu.Lock()
	m, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		if term, ok := r.terminal.Get(id); ok {
			return *term, nil
		}
		return Mission{}, ErrNotFound
	}
	if m.State.terminal() {
		cur := *m
		r.mu.Unlock()
		return cur, nil
	}

	m.State = StateCancelled
	m.UpdatedAt = now
	cur := *m
	delete(r.active, id)
	r.mu.Unlock()

	r.terminal.Add(id, &cur)
	r.lg.Infof("mission %s cancelled", id)
	return cur, nil
}

// transition moves a mission between states, retiring it to the
// terminal cache once it reaches a terminal state. Called only by the
// Dispatcher, which owns all non-cancellation transitions.
func (r *Registry) transition(id string, next State, reason FailureReason, conflicts []deconflict.Conflict, now time.Time) (Mission, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.active[id]
	if !ok {
		return Mission{}, false
	}
	m.State = next
	m.FailureReason = reason
	m.Conflicts = conflicts
	m.UpdatedAt = now
	cur := *m

	if next.terminal() {
		delete(r.active, id)
		r.terminal.Add(id, &cur)
	}
	return cur, true
}
