package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/skylane/fleetcore/internal/fleet"
)

// MemoryStore is the default Store: an in-memory, process-lifetime
// implementation. It never fails (no I/O to fail on) and is the store
// used when no archival backend is configured, per the §13.1 decision
// that an unconfigured archive yields empty results, not errors.
type MemoryStore struct {
	mu sync.RWMutex

	missions     map[string]MissionRecord
	trajectories map[fleet.VehicleID][]TrajectoryRecord
	conflicts    []ConflictRecord
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		missions:     make(map[string]MissionRecord),
		trajectories: make(map[fleet.VehicleID][]TrajectoryRecord),
	}
}

func (s *MemoryStore) PutMission(ctx context.Context, m MissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missions[m.ID] = m
	return nil
}

func (s *MemoryStore) GetMission(ctx context.Context, id string) (MissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.missions[id]
	if !ok {
		return MissionRecord{}, ErrMissionNotFound
	}
	return m, nil
}

func (s *MemoryStore) ListMissions(ctx context.Context, filter MissionFilter) ([]MissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]MissionRecord, 0, len(s.missions))
	for _, m := range s.missions {
		if filter.Vehicle != "" && m.Vehicle != filter.Vehicle {
			continue
		}
		if filter.State != "" && m.State != filter.State {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AppendTrajectory(ctx context.Context, rec TrajectoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trajectories[rec.Vehicle] = append(s.trajectories[rec.Vehicle], rec)
	return nil
}

func (s *MemoryStore) RangeTrajectory(ctx context.Context, vehicle fleet.VehicleID, from, to time.Time) ([]TrajectoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.trajectories[vehicle]
	lo := sort.Search(len(all), func(i int) bool { return !all[i].Timestamp.Before(from) })
	hi := sort.Search(len(all), func(i int) bool { return all[i].Timestamp.After(to) })
	if lo >= hi {
		return nil, nil
	}
	out := make([]TrajectoryRecord, hi-lo)
	copy(out, all[lo:hi])
	return out, nil
}

func (s *MemoryStore) AppendConflictEvent(ctx context.Context, c ConflictRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = append(s.conflicts, c)
	return nil
}

func (s *MemoryStore) RangeConflicts(ctx context.Context, from, to time.Time) ([]ConflictRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ConflictRecord
	for _, c := range s.conflicts {
		if c.Timestamp.Before(from) || c.Timestamp.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
