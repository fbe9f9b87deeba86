package core

import (
	"context"
	"testing"
	"time"

	"github.com/skylane/fleetcore/internal/config"
	"github.com/skylane/fleetcore/internal/corelog"
	"github.com/skylane/fleetcore/internal/fleet"
	"github.com/skylane/fleetcore/internal/geo"
	"github.com/skylane/fleetcore/internal/mission"
	"github.com/skylane/fleetcore/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *corelog.Logger {
	return corelog.New(false, "error", "")
}

func newTestCore(t *testing.T) *Core {
	t.Helper()
	snapshot := config.NewSnapshot(config.Defaults())
	sim := fleet.NewSimulator(1, map[fleet.VehicleID]fleet.VehicleState{
		"d1": {Lat: 0, Lon: 0, Alt: 0},
	}, 100*time.Millisecond)
	return New(snapshot, nil, sim, persistence.NewMemoryStore(), testLogger())
}

func testPlan() geo.Plan {
	return geo.Plan{
		{Lat: 0, Lon: 0, Alt: 50},
		{Lat: 0.001, Lon: 0.001, Alt: 50},
	}
}

func TestScheduleMissionPersistsAcceptedMission(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	result, err := c.ScheduleMission(ctx, mission.Candidate{
		Vehicle: "d1",
		Plan:    testPlan(),
		Start:   time.Now().Add(time.Minute),
		End:     time.Now().Add(2 * time.Minute),
	})
	require.NoError(t, err)
	require.True(t, result.Accepted)

	rec, err := c.Store.GetMission(ctx, result.MissionID)
	require.NoError(t, err)
	assert.Equal(t, "SCHEDULED", rec.State)
}

func TestCancelMissionPersistsCancelledState(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	now := time.Now()
	result, err := c.ScheduleMission(ctx, mission.Candidate{
		Vehicle: "d1",
		Plan:    testPlan(),
		Start:   now,
		End:     now.Add(time.Minute),
	})
	require.NoError(t, err)
	require.True(t, result.Accepted)

	m, err := c.CancelMission(ctx, result.MissionID)
	require.NoError(t, err)
	assert.Equal(t, mission.StateCancelled, m.State)

	rec, err := c.Store.GetMission(ctx, result.MissionID)
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", rec.State)
}

func TestCancelUnknownMissionPropagatesNotFound(t *testing.T) {
	c := newTestCore(t)
	_, err := c.CancelMission(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, mission.ErrNotFound)
}

func TestRunShutsDownGracefullyOnContextCancel(t *testing.T) {
	c := newTestCore(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Let everything start, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not shut down within deadline")
	}
}
