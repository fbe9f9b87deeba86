// Package trajectory implements the append-only per-vehicle telemetry
// buffer described in §4.2: single-writer-per-vehicle, multi-reader,
// retention-windowed, with a point-in-time consistent latest_all()
// snapshot across vehicles.
package trajectory

import (
	"sort"
	"sync"
	"time"

	"github.com/skylane/fleetcore/internal/fleet"
)

// Sample is a recorded telemetry observation. It is the trajectory
// store's own copy; the fleet package's TrajectorySample is converted
// into this on Append so the store never aliases driver-owned memory.
type Sample struct {
	Timestamp time.Time
	Lat       float64
	Lon       float64
	Alt       float64
	Vx        float64
	Vy        float64
	Vz        float64
}

func fromFleet(s fleet.TrajectorySample) Sample {
	return Sample{
		Timestamp: s.Timestamp,
		Lat:       s.Lat,
		Lon:       s.Lon,
		Alt:       s.Alt,
		Vx:        s.Vx,
		Vy:        s.Vy,
		Vz:        s.Vz,
	}
}

// defaultSlack is how far out of order (relative to the newest sample)
// an incoming sample may be before it is silently dropped, tolerating
// ordinary clock jitter per §4.2.
const defaultSlack = 100 * time.Millisecond

// perVehicle holds one vehicle's ordered sample buffer. Samples are kept
// in a plain slice (sorted by Timestamp, append-only except for Prune),
// which is adequate at fleet scale (tens of vehicles, a retention
// window in the thousands of samples) and keeps slice(t_from,t_to)
// O(log n + k) via binary search.
type perVehicle struct {
	mu      sync.RWMutex
	samples []Sample
}

// Store is the trajectory store: single-writer-per-vehicle, multi-
// reader, with a cross-vehicle consistent LatestAll snapshot.
type Store struct {
	retention time.Duration
	slack     time.Duration

	// mu guards the vehicles map itself (adding a new vehicle's buffer);
	// it is not held during per-vehicle sample access.
	mu       sync.RWMutex
	vehicles map[fleet.VehicleID]*perVehicle

	// latestMu/latest implement the "consistent within a tick"
	// latest_all() snapshot: Append updates latest under latestMu so
	// LatestAll always returns a coherent cross-vehicle view without
	// having to lock every per-vehicle buffer at once.
	latestMu sync.RWMutex
	latest   map[fleet.VehicleID]Sample
}

// NewStore builds a Store with the given retention window and
// out-of-order slack. A zero slack uses the §4.2 default of 100ms.
func NewStore(retention time.Duration, slack time.Duration) *Store {
	if slack <= 0 {
		slack = defaultSlack
	}
	return &Store{
		retention: retention,
		slack:     slack,
		vehicles:  make(map[fleet.VehicleID]*perVehicle),
		latest:    make(map[fleet.VehicleID]Sample),
	}
}

func (s *Store) vehicleBuffer(id fleet.VehicleID) *perVehicle {
	s.mu.RLock()
	pv, ok := s.vehicles[id]
	s.mu.RUnlock()
	if ok {
		return pv
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pv, ok := s.vehicles[id]; ok {
		return pv
	}
	pv = &perVehicle{}
	s.vehicles[id] = pv
	return pv
}

// Append records a sample for vehicle, enforcing the non-decreasing
// timestamp invariant. A sample older than the newest recorded sample
// by more than the configured slack is silently dropped (clock jitter
// tolerance); anything else is accepted, including exact ties, so a
// momentary backward nudge within slack does not stall ingestion. A
// within-slack backward sample is inserted in sorted position rather
// than appended at the tail, keeping samples ordered by Timestamp as
// Slice and Prune require for their binary searches.
func (s *Store) Append(vehicle fleet.VehicleID, raw fleet.TrajectorySample) {
	sample := fromFleet(raw)
	pv := s.vehicleBuffer(vehicle)

	pv.mu.Lock()
	n := len(pv.samples)
	if n > 0 {
		newest := pv.samples[n-1].Timestamp
		if sample.Timestamp.Before(newest.Add(-s.slack)) {
			pv.mu.Unlock()
			return
		}
	}
	if n == 0 || !sample.Timestamp.Before(pv.samples[n-1].Timestamp) {
		pv.samples = append(pv.samples, sample)
	} else {
		idx := sort.Search(n, func(i int) bool {
			return !pv.samples[i].Timestamp.Before(sample.Timestamp)
		})
		pv.samples = append(pv.samples, Sample{})
		copy(pv.samples[idx+1:], pv.samples[idx:])
		pv.samples[idx] = sample
	}
	pv.mu.Unlock()

	s.latestMu.Lock()
	if cur, ok := s.latest[vehicle]; !ok || sample.Timestamp.After(cur.Timestamp) {
		s.latest[vehicle] = sample
	}
	s.latestMu.Unlock()
}

// Latest returns the most recent sample for vehicle, if any.
func (s *Store) Latest(vehicle fleet.VehicleID) (Sample, bool) {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	sample, ok := s.latest[vehicle]
	return sample, ok
}

// LatestAll returns a point-in-time consistent snapshot of the most
// recent sample per vehicle.
func (s *Store) LatestAll() map[fleet.VehicleID]Sample {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	out := make(map[fleet.VehicleID]Sample, len(s.latest))
	for id, sample := range s.latest {
		out[id] = sample
	}
	return out
}

// Slice returns the ordered samples for vehicle within [from, to].
func (s *Store) Slice(vehicle fleet.VehicleID, from, to time.Time) []Sample {
	s.mu.RLock()
	pv, ok := s.vehicles[vehicle]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	pv.mu.RLock()
	defer pv.mu.RUnlock()

	lo := sort.Search(len(pv.samples), func(i int) bool {
		return !pv.samples[i].Timestamp.Before(from)
	})
	hi := sort.Search(len(pv.samples), func(i int) bool {
		return pv.samples[i].Timestamp.After(to)
	})
	if lo >= hi {
		return nil
	}
	out := make([]Sample, hi-lo)
	copy(out, pv.samples[lo:hi])
	return out
}

// Prune removes samples older than the retention window relative to
// now. It is the only path that removes samples from the store.
func (s *Store) Prune(now time.Time) {
	if s.retention <= 0 {
		return
	}
	cutoff := now.Add(-s.retention)

	s.mu.RLock()
	buffers := make([]*perVehicle, 0, len(s.vehicles))
	for _, pv := range s.vehicles {
		buffers = append(buffers, pv)
	}
	s.mu.RUnlock()

	for _, pv := range buffers {
		pv.mu.Lock()
		idx := sort.Search(len(pv.samples), func(i int) bool {
			return !pv.samples[i].Timestamp.Before(cutoff)
		})
		if idx > 0 {
			pv.samples = append([]Sample(nil), pv.samples[idx:]...)
		}
		pv.mu.Unlock()
	}
}

// Vehicles returns the set of vehicle IDs the store has ever seen a
// sample for.
func (s *Store) Vehicles() []fleet.VehicleID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]fleet.VehicleID, 0, len(s.vehicles))
	for id := range s.vehicles {
		out = append(out, id)
	}
	return out
}
