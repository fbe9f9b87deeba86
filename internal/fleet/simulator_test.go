package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatorStatusUnknownVehicle(t *testing.T) {
	sim := NewSimulator(1, nil, 10*time.Millisecond)
	_, err := sim.Status(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrVehicleUnknown)
}

func TestSimulatorCommandArmThenMove(t *testing.T) {
	sim := NewSimulator(1, map[VehicleID]VehicleState{
		"d1": {Lat: 0, Lon: 0, Alt: 0},
	}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ack, err := sim.Command(ctx, "d1", Command{Kind: CmdArm})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)

	sim.SetVelocity("d1", 1, 1, 0)

	go sim.Run(ctx)
	telem := sim.Telemetry(ctx)

	select {
	case sample := <-telem:
		assert.Equal(t, VehicleID("d1"), sample.Vehicle)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for telemetry sample")
	}
}

func TestSimulatorEmergencyStopIdempotent(t *testing.T) {
	sim := NewSimulator(1, map[VehicleID]VehicleState{
		"d1": {Vx: 3, Vy: 4},
		"d2": {Vx: -1},
	}, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, sim.EmergencyStopAll(ctx))
	first, err := sim.StatusAll(ctx)
	require.NoError(t, err)

	require.NoError(t, sim.EmergencyStopAll(ctx))
	second, err := sim.StatusAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	for _, st := range second {
		assert.Zero(t, st.Vx)
		assert.Zero(t, st.Vy)
		assert.Zero(t, st.Vz)
	}
}

func TestSimulatorCommandUnknownVehicle(t *testing.T) {
	sim := NewSimulator(1, nil, time.Second)
	_, err := sim.Command(context.Background(), "nope", Command{Kind: CmdArm})
	require.Error(t, err)
	var derr *DriverError
	require.ErrorAs(t, err, &derr)
}
