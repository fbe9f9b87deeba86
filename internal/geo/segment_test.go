package geo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNewSegmentRejectsShortPlan(t *testing.T) {
	_, err := NewSegment(Plan{{Lat: 0, Lon: 0}}, mustTime("2026-01-01T00:00:00Z"), mustTime("2026-01-01T00:01:00Z"))
	require.ErrorIs(t, err, ErrEmptyPlan)
}

func TestNewSegmentRejectsBadWindow(t *testing.T) {
	plan := Plan{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.001}}
	_, err := NewSegment(plan, mustTime("2026-01-01T00:01:00Z"), mustTime("2026-01-01T00:00:00Z"))
	require.ErrorIs(t, err, ErrInvalidWindow)
}

func TestSegmentAtClampsToEndpoints(t *testing.T) {
	plan := Plan{{Lat: 0, Lon: 0, Alt: 10}, {Lat: 0, Lon: 0.001, Alt: 10}}
	start := mustTime("2026-01-01T00:00:00Z")
	end := mustTime("2026-01-01T00:01:00Z")
	seg, err := NewSegment(plan, start, end)
	require.NoError(t, err)

	before := seg.At(start.Add(-time.Hour))
	assert.Equal(t, plan[0].point(), before)

	after := seg.At(end.Add(time.Hour))
	assert.Equal(t, plan[1].point(), after)
}

func TestSegmentAtMidpointEqualSpeedPerLeg(t *testing.T) {
	// Three equally-spaced waypoints on a line: with equal-speed-per-leg
	// and two equal-length legs, the halfway point in time is the
	// middle waypoint exactly.
	plan := Plan{
		{Lat: 0, Lon: 0, Alt: 0},
		{Lat: 0, Lon: 0.001, Alt: 0},
		{Lat: 0, Lon: 0.002, Alt: 0},
	}
	start := mustTime("2026-01-01T00:00:00Z")
	end := mustTime("2026-01-01T00:02:00Z")
	seg, err := NewSegment(plan, start, end)
	require.NoError(t, err)

	mid := seg.At(start.Add(time.Minute))
	assert.InDelta(t, plan[1].Lon, mid.Lon, 1e-9)
}

func TestSegmentOverlaps(t *testing.T) {
	plan := Plan{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.001}}
	start := mustTime("2026-01-01T00:00:10Z")
	end := mustTime("2026-01-01T00:01:10Z")
	seg, err := NewSegment(plan, start, end)
	require.NoError(t, err)

	assert.True(t, seg.Overlaps(mustTime("2026-01-01T00:00:00Z"), mustTime("2026-01-01T00:00:20Z")))
	assert.False(t, seg.Overlaps(mustTime("2026-01-01T00:01:10Z"), mustTime("2026-01-01T00:02:00Z")))
}
