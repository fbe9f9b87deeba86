package deconflict

import (
	"testing"
	"time"

	"github.com/skylane/fleetcore/internal/fleet"
	"github.com/skylane/fleetcore/internal/geo"
	"github.com/skylane/fleetcore/internal/trajectory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(seconds int) time.Time { return epoch.Add(time.Duration(seconds) * time.Second) }

func plan(points ...[3]float64) geo.Plan {
	p := make(geo.Plan, len(points))
	for i, pt := range points {
		p[i] = geo.Waypoint{Lat: pt[0], Lon: pt[1], Alt: pt[2]}
	}
	return p
}

func TestCheckRejectsEmptyPlan(t *testing.T) {
	e := New(DefaultConfig())
	_, err := e.Check(Candidate{Vehicle: "d1", Plan: plan([3]float64{0, 0, 10}), Start: at(0), End: at(10)}, nil, nil, at(0))
	require.ErrorIs(t, err, ErrInvalidPlan)
}

func TestCheckRejectsBadWindow(t *testing.T) {
	e := New(DefaultConfig())
	c := Candidate{
		Vehicle: "d1",
		Plan:    plan([3]float64{0, 0, 10}, [3]float64{0, 0.001, 10}),
		Start:   at(10),
		End:     at(10),
	}
	_, err := e.Check(c, nil, nil, at(0))
	require.ErrorIs(t, err, ErrInvalidWindow)
}

func TestCheckRejectsExcessiveSpeed(t *testing.T) {
	e := New(DefaultConfig())
	c := Candidate{
		Vehicle: "d1",
		Plan:    plan([3]float64{0, 0, 10}, [3]float64{0, 1.0, 10}), // ~111km over 1s
		Start:   at(0),
		End:     at(1),
	}
	_, err := e.Check(c, nil, nil, at(0))
	require.ErrorIs(t, err, ErrInvalidSpeed)
}

// S1 — head-on rejection.
func TestCheckHeadOnRejection(t *testing.T) {
	e := New(DefaultConfig())

	d1 := ScheduledMission{
		MissionID: "m1",
		Vehicle:   "d1",
		Plan:      plan([3]float64{0, 0, 10}, [3]float64{0, 0.001, 10}),
		Start:     at(10),
		End:       at(70),
	}
	candidate := Candidate{
		Vehicle: "d2",
		Plan:    plan([3]float64{0, 0.001, 10}, [3]float64{0, 0, 10}),
		Start:   at(10),
		End:     at(70),
	}

	result, err := e.Check(candidate, []ScheduledMission{d1}, nil, at(0))
	require.NoError(t, err)
	require.False(t, result.Safe)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, KindPlanned, result.Conflicts[0].Kind)
	assert.InDelta(t, 0, result.Conflicts[0].MinDistance, 1.0)
	assert.Equal(t, SeverityCritical, result.Conflicts[0].Severity)
}

// S2 — safe parallel.
func TestCheckSafeParallel(t *testing.T) {
	e := New(DefaultConfig())

	d1 := ScheduledMission{
		MissionID: "m1",
		Vehicle:   "d1",
		Plan:      plan([3]float64{0, 0, 10}, [3]float64{0, 0.005, 10}),
		Start:     at(0),
		End:       at(60),
	}
	candidate := Candidate{
		Vehicle: "d2",
		Plan:    plan([3]float64{0.001, 0, 10}, [3]float64{0.001, 0.005, 10}),
		Start:   at(0),
		End:     at(60),
	}

	result, err := e.Check(candidate, []ScheduledMission{d1}, nil, at(0))
	require.NoError(t, err)
	assert.True(t, result.Safe)
	assert.Empty(t, result.Conflicts)
}

// S3 — vehicle-exclusivity.
func TestCheckVehicleExclusivity(t *testing.T) {
	e := New(DefaultConfig())

	existing := ScheduledMission{
		MissionID: "m1",
		Vehicle:   "d1",
		Plan:      plan([3]float64{0, 0, 10}, [3]float64{0, 0.001, 10}),
		Start:     at(0),
		End:       at(60),
	}
	candidate := Candidate{
		Vehicle: "d1",
		Plan:    plan([3]float64{0, 0, 10}, [3]float64{0, 0.001, 10}),
		Start:   at(30),
		End:     at(90),
	}

	result, err := e.Check(candidate, []ScheduledMission{existing}, nil, at(0))
	require.NoError(t, err)
	require.False(t, result.Safe)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, KindExclusivity, result.Conflicts[0].Kind)
}

func TestCheckJustOutsideBufferIsNotConflict(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SafetyBufferM = 10.0
	e := New(cfg)

	// ~111320 m/degree of latitude; hold D1 about 15m north of D2's
	// track, safely outside the 10m buffer under strict inequality.
	const metersPerDegreeLatApprox = 111320.0
	offsetLat := 15.0 / metersPerDegreeLatApprox

	d1 := ScheduledMission{
		MissionID: "m1",
		Vehicle:   "d1",
		Plan:      plan([3]float64{offsetLat, 0, 10}, [3]float64{offsetLat, 0.0001, 10}),
		Start:     at(0),
		End:       at(60),
	}
	candidate := Candidate{
		Vehicle: "d2",
		Plan:    plan([3]float64{0, 0, 10}, [3]float64{0, 0.0001, 10}),
		Start:   at(0),
		End:     at(60),
	}

	result, err := e.Check(candidate, []ScheduledMission{d1}, nil, at(0))
	require.NoError(t, err)
	assert.True(t, result.Safe)
}

// S8 — tangential touch at exactly the safety buffer is not a conflict
// (§8: "distance exactly B: not a conflict", strict inequality d < B).
// The two plans share lat/lon throughout and differ only in altitude by
// exactly SafetyBufferM, so geo.Distance reduces to the vertical term
// with no equirectangular-projection rounding to worry about.
func TestCheckDistanceExactlyAtBufferIsNotConflict(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SafetyBufferM = 10.0
	e := New(cfg)

	d1 := ScheduledMission{
		MissionID: "m1",
		Vehicle:   "d1",
		Plan:      plan([3]float64{0, 0, 10 + cfg.SafetyBufferM}, [3]float64{0, 0.0001, 10 + cfg.SafetyBufferM}),
		Start:     at(0),
		End:       at(60),
	}
	candidate := Candidate{
		Vehicle: "d2",
		Plan:    plan([3]float64{0, 0, 10}, [3]float64{0, 0.0001, 10}),
		Start:   at(0),
		End:     at(60),
	}

	result, err := e.Check(candidate, []ScheduledMission{d1}, nil, at(0))
	require.NoError(t, err)
	assert.True(t, result.Safe)
	assert.Empty(t, result.Conflicts)
}

func TestCheckBoundaryWindowShorterThanResolutionStillSamplesEndpoints(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResolutionS = 0.5
	e := New(cfg)

	d1 := ScheduledMission{
		MissionID: "m1",
		Vehicle:   "d1",
		Plan:      plan([3]float64{0, 0, 10}, [3]float64{0, 0.001, 10}),
		Start:     at(0),
		End:       at(10),
	}
	candidate := Candidate{
		Vehicle: "d2",
		Plan:    plan([3]float64{0, 0, 10}, [3]float64{0, 0.00001, 10}),
		Start:   at(0),
		End:     at(0).Add(100 * time.Millisecond), // ε < Δ
	}

	result, err := e.Check(candidate, []ScheduledMission{d1}, nil, at(0))
	require.NoError(t, err)
	// Endpoints still sampled: at t=0 both vehicles start from the same
	// waypoint, well within the buffer.
	require.False(t, result.Safe)
	require.NotEmpty(t, result.Conflicts)
}

func TestCheckMixedConflictFromLiveProjection(t *testing.T) {
	e := New(DefaultConfig())

	// D2 sits stationary exactly where D1's straight-line path will be
	// at the midpoint of its window, guaranteeing a close approach.
	live := map[fleet.VehicleID]trajectory.Sample{
		"d2": {
			Timestamp: at(0),
			Lat:       0, Lon: 0.0005, Alt: 10,
			Vx: 0, Vy: 0, Vz: 0,
		},
	}
	candidate := Candidate{
		Vehicle: "d1",
		Plan:    plan([3]float64{0, 0, 10}, [3]float64{0, 0.001, 10}),
		Start:   at(0),
		End:     at(20),
	}

	result, err := e.Check(candidate, nil, live, at(0))
	require.NoError(t, err)
	require.False(t, result.Safe)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, KindMixed, result.Conflicts[0].Kind)
}

func TestCheckExcludesStaleLiveSamples(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StalenessS = 2.0
	e := New(cfg)

	live := map[fleet.VehicleID]trajectory.Sample{
		"d2": {
			Timestamp: at(-10), // far stale relative to evaluation time
			Lat:       0, Lon: 0.0005, Alt: 10,
		},
	}
	candidate := Candidate{
		Vehicle: "d1",
		Plan:    plan([3]float64{0, 0, 10}, [3]float64{0, 0.001, 10}),
		Start:   at(0),
		End:     at(20),
	}

	result, err := e.Check(candidate, nil, live, at(0))
	require.NoError(t, err)
	assert.True(t, result.Safe)
}

func TestCheckAltitudeFloorAdvisory(t *testing.T) {
	e := New(DefaultConfig())
	candidate := Candidate{
		Vehicle: "d1",
		Plan:    plan([3]float64{0, 0, 1}, [3]float64{0, 0.001, 1}),
		Start:   at(0),
		End:     at(10),
	}

	result, err := e.Check(candidate, nil, nil, at(0))
	require.NoError(t, err)
	require.False(t, result.Safe)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, KindAltitude, result.Conflicts[0].Kind)
	assert.Equal(t, SeverityAdvisory, result.Conflicts[0].Severity)
}
