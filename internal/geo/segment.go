package geo

import (
	"errors"
	"time"
)

var (
	// ErrEmptyPlan is returned when a plan has fewer than two waypoints
	// and therefore describes no path to fly.
	ErrEmptyPlan = errors.New("geo: plan has fewer than two waypoints")
	// ErrInvalidWindow is returned when a segment's end time does not
	// strictly follow its start time.
	ErrInvalidWindow = errors.New("geo: end_time must be after start_time")
)

// Waypoint is a single lat/lon/alt point in a Plan.
type Waypoint struct {
	Lat float64
	Lon float64
	Alt float64
}

func (w Waypoint) point() Point { return Point{Lat: w.Lat, Lon: w.Lon, Alt: w.Alt} }

// Plan is an ordered sequence of waypoints describing a path, with no
// time binding yet.
type Plan []Waypoint

// Length returns the total 3D path length of the plan in meters, summed
// leg by leg.
func (p Plan) Length() float64 {
	var total float64
	for i := 1; i < len(p); i++ {
		total += Distance(p[i-1].point(), p[i].point())
	}
	return total
}

// Segment is a time-parameterized piecewise-linear path: a Plan bound to
// a [Start, End] time window, walked at a constant cruise speed computed
// as Length/duration (equal-speed-per-leg, per §4.1 / §13.3).
type Segment struct {
	Plan  Plan
	Start time.Time
	End   time.Time

	length      float64
	legLengths  []float64
	cruiseSpeed float64
}

// NewSegment builds a Segment, validating that the plan is non-trivial
// and the window is well-formed. The cruise speed is derived, not
// supplied, satisfying "cruise_speed = L / (t_end - t_start)" in §4.1;
// callers that need to validate an explicitly requested cruise speed
// against a configured maximum should do so before constructing the
// segment (see deconflict.Engine.Check).
func NewSegment(plan Plan, start, end time.Time) (*Segment, error) {
	if len(plan) < 2 {
		return nil, ErrEmptyPlan
	}
	if !end.After(start) {
		return nil, ErrInvalidWindow
	}

	legs := make([]float64, len(plan)-1)
	var total float64
	for i := 1; i < len(plan); i++ {
		d := Distance(plan[i-1].point(), plan[i].point())
		legs[i-1] = d
		total += d
	}

	dur := end.Sub(start).Seconds()
	speed := 0.0
	if dur > 0 {
		speed = total / dur
	}

	return &Segment{
		Plan:        plan,
		Start:       start,
		End:         end,
		length:      total,
		legLengths:  legs,
		cruiseSpeed: speed,
	}, nil
}

// Length returns the segment's total path length in meters.
func (s *Segment) Length() float64 { return s.length }

// CruiseSpeed returns the derived constant speed (meters/second) that
// covers Length over [Start, End].
func (s *Segment) CruiseSpeed() float64 { return s.cruiseSpeed }

// At returns the position along the segment at time t. Times outside
// [Start, End] clamp to the nearest endpoint, per §4.1.
func (s *Segment) At(t time.Time) Point {
	if !t.After(s.Start) {
		return s.Plan[0].point()
	}
	if !t.Before(s.End) {
		return s.Plan[len(s.Plan)-1].point()
	}

	elapsed := t.Sub(s.Start).Seconds()
	target := s.cruiseSpeed * elapsed

	var consumed float64
	for i, legLen := range s.legLengths {
		if consumed+legLen >= target || i == len(s.legLengths)-1 {
			remaining := target - consumed
			u := 0.0
			if legLen > 0 {
				u = remaining / legLen
			}
			if u < 0 {
				u = 0
			}
			if u > 1 {
				u = 1
			}
			return Lerp(s.Plan[i].point(), s.Plan[i+1].point(), u)
		}
		consumed += legLen
	}
	return s.Plan[len(s.Plan)-1].point()
}

// Overlaps reports whether the segment's time window overlaps [from, to).
func (s *Segment) Overlaps(from, to time.Time) bool {
	return s.Start.Before(to) && from.Before(s.End)
}
