// Package deconflict implements the spatio-temporal conflict checker: it
// decides whether a candidate mission plan is safe given the currently
// scheduled/running missions and current live telemetry, per §4.3.
package deconflict

import (
	"errors"
	"fmt"
	"time"

	"github.com/skylane/fleetcore/internal/fleet"
	"github.com/skylane/fleetcore/internal/geo"
	"github.com/skylane/fleetcore/internal/trajectory"
)

// Sentinel errors for candidate validation failures. These are returned
// instead of a Result because they indicate the request itself cannot be
// evaluated, as distinct from a request that was evaluated and found
// unsafe.
var (
	ErrInvalidPlan  = errors.New("deconflict: empty or single-waypoint plan")
	ErrInvalidWindow = errors.New("deconflict: end time not after start time")
	ErrInvalidSpeed = errors.New("deconflict: cruise speed exceeds configured maximum")
)

// Kind classifies how a Conflict was detected.
type Kind int

const (
	KindPlanned Kind = iota
	KindLive
	KindMixed
	KindExclusivity
	KindAltitude
)

func (k Kind) String() string {
	switch k {
	case KindPlanned:
		return "PLANNED"
	case KindLive:
		return "LIVE"
	case KindMixed:
		return "MIXED"
	case KindExclusivity:
		return "EXCLUSIVITY"
	case KindAltitude:
		return "ALTITUDE"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Severity classifies how serious a spatial conflict is.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityAdvisory
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityAdvisory:
		return "ADVISORY"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "NONE"
	}
}

func severityFor(minDistance, buffer float64) Severity {
	switch {
	case minDistance <= buffer/2:
		return SeverityCritical
	case minDistance <= buffer:
		return SeverityWarning
	default:
		return SeverityNone
	}
}

// Conflict is one detected spatio-temporal or administrative conflict
// between two vehicles (or a single-vehicle advisory, for ALTITUDE).
type Conflict struct {
	Kind        Kind
	VehicleA    fleet.VehicleID
	VehicleB    fleet.VehicleID // zero value for single-vehicle advisories
	Start       time.Time
	End         time.Time
	MinDistance float64
	Severity    Severity
	Detail      string
}

// Candidate is the plan under evaluation.
type Candidate struct {
	Vehicle fleet.VehicleID
	Plan    geo.Plan
	Start   time.Time
	End     time.Time
}

// ScheduledMission is the minimal view of an existing mission the engine
// needs: it is built by the mission registry from its own records so
// this package never depends on the mission package (avoiding a
// registry <-> engine import cycle).
type ScheduledMission struct {
	MissionID string
	Vehicle   fleet.VehicleID
	Plan      geo.Plan
	Start     time.Time
	End       time.Time
}

// Config holds the tunables named in §6's configuration table that bear
// on deconfliction.
type Config struct {
	SafetyBufferM      float64
	ResolutionS        float64
	ProjectionHorizonS float64
	MaxCruiseSpeedMps  float64
	AltitudeFloorM     float64
	StalenessS         float64
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		SafetyBufferM:      10.0,
		ResolutionS:        0.5,
		ProjectionHorizonS: 30.0,
		MaxCruiseSpeedMps:  20.0,
		AltitudeFloorM:     2.0,
		StalenessS:         2.0,
	}
}

// Result is the outcome of Check: either safe with no conflicts, or
// unsafe with the full list of conflicts found (spatial and
// administrative alike).
type Result struct {
	Safe      bool
	Conflicts []Conflict
}

// Engine is the pure deconfliction evaluator: it holds configuration
// only, no registry or live state, so Check is a pure function of its
// arguments and safe to call concurrently.
type Engine struct {
	cfg Config
}

// New builds an Engine with the given configuration.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Check runs the full §4.3 algorithm: it validates the candidate, scans
// scheduled/running missions for PLANNED conflicts, scans unscheduled
// vehicles with recent live telemetry for MIXED conflicts, checks
// vehicle-exclusivity, and flags sub-floor altitudes as advisories.
//
// now is the evaluation time, used to judge live-sample staleness for
// the MIXED-conflict scan; the dispatcher's second pass and the initial
// admission check both pass their own "now".
func (e *Engine) Check(candidate Candidate, scheduled []ScheduledMission, live map[fleet.VehicleID]trajectory.Sample, now time.Time) (Result, error) {
	if len(candidate.Plan) < 2 {
		return Result{}, ErrInvalidPlan
	}
	if !candidate.End.After(candidate.Start) {
		return Result{}, ErrInvalidWindow
	}

	segment, err := geo.NewSegment(candidate.Plan, candidate.Start, candidate.End)
	if err != nil {
		return Result{}, fmt.Errorf("deconflict: %w", err)
	}
	if segment.CruiseSpeed() > e.cfg.MaxCruiseSpeedMps {
		return Result{}, ErrInvalidSpeed
	}

	var conflicts []Conflict

	for _, wp := range candidate.Plan {
		if wp.Alt < e.cfg.AltitudeFloorM {
			conflicts = append(conflicts, Conflict{
				Kind:     KindAltitude,
				VehicleA: candidate.Vehicle,
				Start:    candidate.Start,
				End:      candidate.End,
				Severity: SeverityAdvisory,
				Detail:   "waypoint altitude below configured floor",
			})
			break
		}
	}

	for _, other := range scheduled {
		if other.Vehicle == candidate.Vehicle {
			if other.Start.Before(candidate.End) && candidate.Start.Before(other.End) {
				conflicts = append(conflicts, Conflict{
					Kind:     KindExclusivity,
					VehicleA: candidate.Vehicle,
					Start:    maxTime(candidate.Start, other.Start),
					End:      minTime(candidate.End, other.End),
					Severity: SeverityCritical,
					Detail:   fmt.Sprintf("vehicle already committed to mission %s over overlapping window", other.MissionID),
				})
			}
			continue
		}
		if !other.Start.Before(candidate.End) || !candidate.Start.Before(other.End) {
			continue
		}

		otherSegment, err := geo.NewSegment(other.Plan, other.Start, other.End)
		if err != nil {
			continue
		}
		found := e.scanPair(segment, otherSegment, candidate.Vehicle, other.Vehicle, KindPlanned,
			maxTime(candidate.Start, other.Start), minTime(candidate.End, other.End))
		conflicts = append(conflicts, found...)
	}

	for vehicle, sample := range live {
		if vehicleHasMission(vehicle, scheduled) {
			continue
		}
		age := now.Sub(sample.Timestamp)
		if age < 0 {
			age = 0
		}
		if age.Seconds() > e.cfg.StalenessS {
			continue
		}

		horizonEnd := sample.Timestamp.Add(time.Duration(e.cfg.ProjectionHorizonS * float64(time.Second)))
		windowEnd := minTime(candidate.End, horizonEnd)
		if !windowEnd.After(candidate.Start) {
			continue
		}
		projected := projectedSegment{sample: sample}
		found := e.scanPair(segment, projected, candidate.Vehicle, vehicle, KindMixed, candidate.Start, windowEnd)
		conflicts = append(conflicts, found...)
	}

	return Result{Safe: len(conflicts) == 0, Conflicts: conflicts}, nil
}

func vehicleHasMission(vehicle fleet.VehicleID, scheduled []ScheduledMission) bool {
	for _, m := range scheduled {
		if m.Vehicle == vehicle {
			return true
		}
	}
	return false
}

// positioner is anything that yields a 3D position at a time, letting
// scanPair treat a candidate/scheduled segment and a constant-velocity
// live projection identically.
type positioner interface {
	At(t time.Time) geo.Point
}

type projectedSegment struct {
	sample trajectory.Sample
}

func (p projectedSegment) At(t time.Time) geo.Point {
	dt := t.Sub(p.sample.Timestamp).Seconds()
	return geo.ProjectConstantVelocity(geo.Point{Lat: p.sample.Lat, Lon: p.sample.Lon, Alt: p.sample.Alt}, p.sample.Vx, p.sample.Vy, p.sample.Vz, dt)
}

// scanPair samples distance between two positioners over [from, to] at
// the configured resolution, plus the window boundaries, and emits one
// Conflict per contiguous sub-interval where distance drops below the
// safety buffer, with boundaries refined by bisection to 0.1*Δ.
func (e *Engine) scanPair(a, b positioner, vehicleA, vehicleB fleet.VehicleID, kind Kind, from, to time.Time) []Conflict {
	if !to.After(from) {
		to = from
	}
	times := sampleTimes(from, to, e.cfg.ResolutionS)
	dist := func(t time.Time) float64 {
		return geo.Distance(a.At(t), b.At(t))
	}

	distances := make([]float64, len(times))
	minDist := dist(times[0])
	distances[0] = minDist
	for i := 1; i < len(times); i++ {
		d := dist(times[i])
		distances[i] = d
		if d < minDist {
			minDist = d
		}
	}

	buffer := e.cfg.SafetyBufferM
	precision := time.Duration(0.1 * e.cfg.ResolutionS * float64(time.Second))
	if precision <= 0 {
		precision = 10 * time.Millisecond
	}

	var conflicts []Conflict
	i := 0
	for i < len(times) {
		if distances[i] >= buffer {
			i++
			continue
		}
		// Found the start of an unsafe run; find its extent.
		start := times[i]
		if i > 0 {
			start = bisectCrossing(times[i-1], distances[i-1], times[i], distances[i], buffer, precision, dist)
		}
		runMin := distances[i]
		j := i
		for j+1 < len(times) && distances[j+1] < buffer {
			j++
			if distances[j] < runMin {
				runMin = distances[j]
			}
		}
		end := times[j]
		if j+1 < len(times) {
			end = bisectCrossing(times[j], distances[j], times[j+1], distances[j+1], buffer, precision, dist)
		}

		conflicts = append(conflicts, Conflict{
			Kind:        kind,
			VehicleA:    vehicleA,
			VehicleB:    vehicleB,
			Start:       start,
			End:         end,
			MinDistance: runMin,
			Severity:    severityFor(runMin, buffer),
		})
		i = j + 1
	}
	return conflicts
}

// sampleTimes builds {from, from+Δ, ..., to} ∪ {from, to}, per §4.3's T
// construction; it always includes both endpoints even when to-from < Δ
// (the "ε < Δ" boundary case in §8).
func sampleTimes(from, to time.Time, resolutionS float64) []time.Time {
	if resolutionS <= 0 {
		resolutionS = 0.5
	}
	step := time.Duration(resolutionS * float64(time.Second))
	times := []time.Time{from}
	for t := from.Add(step); t.Before(to); t = t.Add(step) {
		times = append(times, t)
	}
	if to.After(from) {
		times = append(times, to)
	}
	return times
}

// bisectCrossing refines the boundary between a safe sample (distance >=
// buffer) and an unsafe sample (distance < buffer) to within precision,
// per §4.3's "bisection to precision 0.1*Δ".
func bisectCrossing(tSafe time.Time, dSafe float64, tUnsafe time.Time, dUnsafe float64, buffer float64, precision time.Duration, dist func(time.Time) float64) time.Time {
	lo, hi := tSafe, tUnsafe
	loSafe := dSafe >= buffer
	for hi.Sub(lo) > precision {
		mid := lo.Add(hi.Sub(lo) / 2)
		d := dist(mid)
		if (d >= buffer) == loSafe {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
