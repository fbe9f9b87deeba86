package trajectory

import (
	"testing"
	"time"

	"github.com/skylane/fleetcore/internal/fleet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAt(vehicle fleet.VehicleID, t time.Time, lat float64) fleet.TrajectorySample {
	return fleet.TrajectorySample{Vehicle: vehicle, Timestamp: t, Lat: lat}
}

func TestStoreLatestUnknownVehicle(t *testing.T) {
	s := NewStore(time.Hour, 0)
	_, ok := s.Latest("ghost")
	assert.False(t, ok)
}

func TestStoreAppendAndLatest(t *testing.T) {
	s := NewStore(time.Hour, 0)
	base := time.Now().UTC()

	s.Append("d1", sampleAt("d1", base, 1.0))
	s.Append("d1", sampleAt("d1", base.Add(time.Second), 2.0))

	latest, ok := s.Latest("d1")
	require.True(t, ok)
	assert.Equal(t, 2.0, latest.Lat)
}

func TestStoreAppendDropsStaleBeyondSlack(t *testing.T) {
	s := NewStore(time.Hour, 100*time.Millisecond)
	base := time.Now().UTC()

	s.Append("d1", sampleAt("d1", base, 1.0))
	s.Append("d1", sampleAt("d1", base.Add(-time.Second), 99.0))

	latest, ok := s.Latest("d1")
	require.True(t, ok)
	assert.Equal(t, 1.0, latest.Lat, "stale sample outside slack must be dropped")
}

func TestStoreAppendAcceptsWithinSlack(t *testing.T) {
	s := NewStore(time.Hour, 100*time.Millisecond)
	base := time.Now().UTC()

	s.Append("d1", sampleAt("d1", base, 1.0))
	s.Append("d1", sampleAt("d1", base.Add(-50*time.Millisecond), 2.0))

	got := s.Slice("d1", base.Add(-time.Minute), base.Add(time.Minute))
	require.Len(t, got, 2)
}

func TestStoreAppendOutOfOrderWithinSlackStaysSorted(t *testing.T) {
	s := NewStore(time.Hour, 100*time.Millisecond)
	base := time.Now().UTC()

	s.Append("d1", sampleAt("d1", base, 100.0))
	s.Append("d1", sampleAt("d1", base.Add(-50*time.Millisecond), 99.0))

	got := s.Slice("d1", base.Add(-60*time.Millisecond), base.Add(-40*time.Millisecond))
	require.Len(t, got, 1, "binary search over samples must see the backward sample in sorted position")
	assert.Equal(t, 99.0, got[0].Lat)
}

func TestStoreSliceRange(t *testing.T) {
	s := NewStore(time.Hour, 0)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		s.Append("d1", sampleAt("d1", base.Add(time.Duration(i)*time.Second), float64(i)))
	}

	got := s.Slice("d1", base.Add(time.Second), base.Add(3*time.Second))
	require.Len(t, got, 3)
	assert.Equal(t, 1.0, got[0].Lat)
	assert.Equal(t, 3.0, got[2].Lat)
}

func TestStoreLatestAllIsConsistentSnapshot(t *testing.T) {
	s := NewStore(time.Hour, 0)
	base := time.Now().UTC()

	s.Append("d1", sampleAt("d1", base, 1.0))
	s.Append("d2", sampleAt("d2", base, 2.0))

	all := s.LatestAll()
	require.Len(t, all, 2)
	assert.Equal(t, 1.0, all["d1"].Lat)
	assert.Equal(t, 2.0, all["d2"].Lat)

	// Mutating the returned map must not affect the store.
	delete(all, "d1")
	_, ok := s.Latest("d1")
	assert.True(t, ok)
}

func TestStorePruneRemovesOldSamples(t *testing.T) {
	s := NewStore(time.Second, 0)
	base := time.Now().UTC()

	s.Append("d1", sampleAt("d1", base.Add(-10*time.Second), 1.0))
	s.Append("d1", sampleAt("d1", base, 2.0))

	s.Prune(base)

	got := s.Slice("d1", base.Add(-time.Minute), base.Add(time.Minute))
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].Lat)
}

func TestStoreVehiclesTracksSeenIDs(t *testing.T) {
	s := NewStore(time.Hour, 0)
	s.Append("d1", sampleAt("d1", time.Now().UTC(), 0))
	s.Append("d2", sampleAt("d2", time.Now().UTC(), 0))

	vs := s.Vehicles()
	assert.Len(t, vs, 2)
}
