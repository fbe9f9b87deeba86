// Package persistence defines the narrow key-value/time-series sink
// consumed by the rest of the core (§6), classifies failures as
// transient or permanent (§7), and provides an in-memory default plus
// an S3-backed archival backend for data older than the trajectory
// store's retention window.
package persistence

import (
	"context"
	"time"

	"github.com/skylane/fleetcore/internal/deconflict"
	"github.com/skylane/fleetcore/internal/fleet"
	"github.com/skylane/fleetcore/internal/geo"
)

// MissionRecord is the durable form of a mission, independent of the
// in-memory mission.Mission type to avoid a persistence->mission import
// cycle (the mission package converts to/from this shape).
type MissionRecord struct {
	ID            string
	Vehicle       fleet.VehicleID
	Plan          geo.Plan
	Start         time.Time
	End           time.Time
	State         string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TrajectoryRecord is one archived telemetry sample.
type TrajectoryRecord struct {
	Vehicle   fleet.VehicleID
	Timestamp time.Time
	Lat       float64
	Lon       float64
	Alt       float64
	Vx        float64
	Vy        float64
	Vz        float64
}

// ConflictRecord is one archived conflict event.
type ConflictRecord struct {
	Timestamp time.Time
	Conflict  deconflict.Conflict
}

// MissionFilter narrows ListMissions; a zero value matches everything.
type MissionFilter struct {
	Vehicle fleet.VehicleID
	State   string
}

// ErrorClass distinguishes a transient failure (worth retrying once)
// from a permanent one (the op should be abandoned), per §7.
type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassPermanent
)

func (c ErrorClass) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "transient"
}

// Error wraps a persistence failure with its classification and the
// operation that produced it, so callers can apply §7's policy
// (authoritative-with-retry for mission writes, best-effort-with-retry
// for trajectory/conflict appends) without inspecting backend-specific
// error types.
type Error struct {
	Op    string
	Class ErrorClass
	Err   error
}

func (e *Error) Error() string {
	return "persistence: " + e.Op + " (" + e.Class.String() + "): " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Store is the narrow interface the core consumes (§6). Implementations
// must be safe for concurrent use.
type Store interface {
	PutMission(ctx context.Context, m MissionRecord) error
	GetMission(ctx context.Context, id string) (MissionRecord, error)
	ListMissions(ctx context.Context, filter MissionFilter) ([]MissionRecord, error)

	AppendTrajectory(ctx context.Context, s TrajectoryRecord) error
	RangeTrajectory(ctx context.Context, vehicle fleet.VehicleID, from, to time.Time) ([]TrajectoryRecord, error)

	AppendConflictEvent(ctx context.Context, c ConflictRecord) error
	RangeConflicts(ctx context.Context, from, to time.Time) ([]ConflictRecord, error)
}

// ErrMissionNotFound is returned by GetMission when no record exists
// for the given id.
var ErrMissionNotFound = &Error{Op: "get_mission", Class: ClassPermanent, Err: errNotFound{}}

type errNotFound struct{}

func (errNotFound) Error() string { return "mission record not found" }
