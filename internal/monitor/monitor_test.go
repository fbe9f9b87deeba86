package monitor

import (
	"testing"
	"time"

	"github.com/skylane/fleetcore/internal/alert"
	"github.com/skylane/fleetcore/internal/fleet"
	"github.com/skylane/fleetcore/internal/trajectory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	alerts []alert.Alert
}

func (r *recordingSink) Publish(a alert.Alert) {
	r.alerts = append(r.alerts, a)
}

func epoch() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func at(seconds float64) time.Time {
	return epoch().Add(time.Duration(seconds * float64(time.Second)))
}

func push(t *testing.T, store *trajectory.Store, vehicle fleet.VehicleID, ts time.Time, lat, lon float64) {
	t.Helper()
	store.Append(vehicle, fleet.TrajectorySample{
		Vehicle:   vehicle,
		Timestamp: ts,
		Lat:       lat,
		Lon:       lon,
		Alt:       50,
	})
}

func testConfig() Config {
	return Config{
		SafetyBufferM:  10.0,
		StalenessS:     2.0,
		DedupReminderS: 5.0,
		DedupClearS:    3.0,
		Tick:           500 * time.Millisecond,
	}
}

// metersPerDegreeLonApprox is a coarse approximation good enough to place
// two vehicles roughly 8m or 30m apart near the equator for test fixtures.
const metersPerDegreeLonApprox = 111320.0

func TestMonitorEdgeTriggeredAlertCycle(t *testing.T) {
	store := trajectory.NewStore(time.Hour, 100*time.Millisecond)
	sink := &recordingSink{}
	m := New(store, sink, nil, testConfig())

	closeLon := 8.0 / metersPerDegreeLonApprox
	farLon := 30.0 / metersPerDegreeLonApprox

	// Close together for ticks t=0.0..7.0 inclusive (0.5s cadence).
	for sec := 0.0; sec <= 7.0; sec += 0.5 {
		ts := at(sec)
		push(t, store, "d1", ts, 0, 0)
		push(t, store, "d2", ts, 0, closeLon)
		m.Tick(ts)
	}

	// Far apart from t=7.5 onward.
	for sec := 7.5; sec <= 12.0; sec += 0.5 {
		ts := at(sec)
		push(t, store, "d1", ts, 0, 0)
		push(t, store, "d2", ts, 0, farLon)
		m.Tick(ts)
	}

	var initial, reminder, cleared []alert.Alert
	for _, a := range sink.alerts {
		switch a.Event {
		case alert.EventInitial:
			initial = append(initial, a)
		case alert.EventReminder:
			reminder = append(reminder, a)
		case alert.EventCleared:
			cleared = append(cleared, a)
		}
	}

	require.Len(t, initial, 1)
	assert.True(t, initial[0].Timestamp.Equal(at(0)))

	require.Len(t, reminder, 1)
	assert.True(t, reminder[0].Timestamp.Equal(at(5)))

	require.Len(t, cleared, 1)
	assert.True(t, cleared[0].Timestamp.Equal(at(10)))
}

func TestMonitorIgnoresStaleSamples(t *testing.T) {
	store := trajectory.NewStore(time.Hour, 100*time.Millisecond)
	sink := &recordingSink{}
	m := New(store, sink, nil, testConfig())

	closeLon := 8.0 / metersPerDegreeLonApprox
	push(t, store, "d1", at(0), 0, 0)
	push(t, store, "d2", at(0), 0, closeLon)

	// Tick well past the staleness bound (2s default here): no conflict.
	m.Tick(at(10))

	assert.Empty(t, sink.alerts)
	assert.Empty(t, m.CurrentConflicts())
}

func TestMonitorCurrentConflictsReflectsLastTick(t *testing.T) {
	store := trajectory.NewStore(time.Hour, 100*time.Millisecond)
	sink := &recordingSink{}
	m := New(store, sink, nil, testConfig())

	closeLon := 8.0 / metersPerDegreeLonApprox
	push(t, store, "d1", at(0), 0, 0)
	push(t, store, "d2", at(0), 0, closeLon)
	m.Tick(at(0))

	conflicts := m.CurrentConflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, fleet.VehicleID("d1"), conflicts[0].VehicleA)
	assert.Equal(t, fleet.VehicleID("d2"), conflicts[0].VehicleB)
}

// TestMonitorNoConflictWhenDistanceExactlyAtBuffer checks the §8
// tangential-touch boundary: a distance exactly equal to SafetyBufferM
// is safe (strict inequality d < buffer). Both vehicles share lat/lon
// and differ only in altitude by exactly the buffer, so the distance is
// exact with no equirectangular-projection rounding.
func TestMonitorNoConflictWhenDistanceExactlyAtBuffer(t *testing.T) {
	store := trajectory.NewStore(time.Hour, 100*time.Millisecond)
	sink := &recordingSink{}
	cfg := testConfig()
	m := New(store, sink, nil, cfg)

	store.Append("d1", fleet.TrajectorySample{Vehicle: "d1", Timestamp: at(0), Lat: 0, Lon: 0, Alt: 50})
	store.Append("d2", fleet.TrajectorySample{Vehicle: "d2", Timestamp: at(0), Lat: 0, Lon: 0, Alt: 50 + cfg.SafetyBufferM})
	m.Tick(at(0))

	assert.Empty(t, sink.alerts)
	assert.Empty(t, m.CurrentConflicts())
}

func TestMonitorNoConflictWhenDistanceExceedsBuffer(t *testing.T) {
	store := trajectory.NewStore(time.Hour, 100*time.Millisecond)
	sink := &recordingSink{}
	m := New(store, sink, nil, testConfig())

	farLon := 30.0 / metersPerDegreeLonApprox
	push(t, store, "d1", at(0), 0, 0)
	push(t, store, "d2", at(0), 0, farLon)
	m.Tick(at(0))

	assert.Empty(t, sink.alerts)
	assert.Empty(t, m.CurrentConflicts())
}
