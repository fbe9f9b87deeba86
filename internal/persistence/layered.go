package persistence

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/skylane/fleetcore/internal/alert"
	"github.com/skylane/fleetcore/internal/fleet"
)

// LayeredStore implements the §13.1 decision: the hot store (normally
// MemoryStore, which keeps every record for the life of the process)
// is authoritative and always written first; an optional archive
// receives every write best-effort. GetMission consults the archive
// only when the hot store misses; ListMissions and the range queries
// always merge in the archive's results, the hot store winning on
// duplicates. A nil archive means "not configured":
// range/list queries then simply return whatever the hot store has,
// never an error, per the decision that an absent archive yields empty
// results rather than failures.
type LayeredStore struct {
	hot     Store
	archive Store
	metrics *alert.Metrics
}

// NewLayeredStore builds a LayeredStore. archive may be nil.
func NewLayeredStore(hot Store, archive Store, metrics *alert.Metrics) *LayeredStore {
	return &LayeredStore{hot: hot, archive: archive, metrics: metrics}
}

func (s *LayeredStore) recordArchiveError(op string, err error) {
	if err == nil || s.metrics == nil {
		return
	}
	class := ClassTransient.String()
	var perr *Error
	if errors.As(err, &perr) {
		class = perr.Class.String()
	}
	s.metrics.PersistenceErrors.WithLabelValues(op, class).Inc()
}

func (s *LayeredStore) PutMission(ctx context.Context, m MissionRecord) error {
	if err := s.hot.PutMission(ctx, m); err != nil {
		return err
	}
	if s.archive != nil {
		if err := s.archive.PutMission(ctx, m); err != nil {
			s.recordArchiveError("put_mission", err)
		}
	}
	return nil
}

func (s *LayeredStore) GetMission(ctx context.Context, id string) (MissionRecord, error) {
	m, err := s.hot.GetMission(ctx, id)
	if err == nil {
		return m, nil
	}
	if s.archive == nil {
		return MissionRecord{}, err
	}
	m, aerr := s.archive.GetMission(ctx, id)
	if aerr != nil {
		s.recordArchiveError("get_mission", aerr)
		return MissionRecord{}, err
	}
	return m, nil
}

func (s *LayeredStore) ListMissions(ctx context.Context, filter MissionFilter) ([]MissionRecord, error) {
	hot, err := s.hot.ListMissions(ctx, filter)
	if err != nil {
		return nil, err
	}
	if s.archive == nil {
		return hot, nil
	}
	archived, aerr := s.archive.ListMissions(ctx, filter)
	if aerr != nil {
		s.recordArchiveError("list_missions", aerr)
		return hot, nil
	}
	return mergeMissions(hot, archived), nil
}

func mergeMissions(hot, archived []MissionRecord) []MissionRecord {
	seen := make(map[string]bool, len(hot))
	out := make([]MissionRecord, 0, len(hot)+len(archived))
	for _, m := range hot {
		seen[m.ID] = true
		out = append(out, m)
	}
	for _, m := range archived {
		if !seen[m.ID] {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *LayeredStore) AppendTrajectory(ctx context.Context, rec TrajectoryRecord) error {
	if err := s.hot.AppendTrajectory(ctx, rec); err != nil {
		return err
	}
	if s.archive != nil {
		if err := s.archive.AppendTrajectory(ctx, rec); err != nil {
			s.recordArchiveError("append_trajectory", err)
		}
	}
	return nil
}

func (s *LayeredStore) RangeTrajectory(ctx context.Context, vehicle fleet.VehicleID, from, to time.Time) ([]TrajectoryRecord, error) {
	hot, err := s.hot.RangeTrajectory(ctx, vehicle, from, to)
	if err != nil {
		return nil, err
	}
	if s.archive == nil {
		return hot, nil
	}
	archived, aerr := s.archive.RangeTrajectory(ctx, vehicle, from, to)
	if aerr != nil {
		s.recordArchiveError("range_trajectory", aerr)
		return hot, nil
	}
	return mergeTrajectory(hot, archived), nil
}

func mergeTrajectory(hot, archived []TrajectoryRecord) []TrajectoryRecord {
	seen := make(map[int64]bool, len(hot))
	out := make([]TrajectoryRecord, 0, len(hot)+len(archived))
	for _, r := range hot {
		seen[r.Timestamp.UnixNano()] = true
		out = append(out, r)
	}
	for _, r := range archived {
		if !seen[r.Timestamp.UnixNano()] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (s *LayeredStore) AppendConflictEvent(ctx context.Context, c ConflictRecord) error {
	if err := s.hot.AppendConflictEvent(ctx, c); err != nil {
		return err
	}
	if s.archive != nil {
		if err := s.archive.AppendConflictEvent(ctx, c); err != nil {
			s.recordArchiveError("append_conflict_event", err)
		}
	}
	return nil
}

func (s *LayeredStore) RangeConflicts(ctx context.Context, from, to time.Time) ([]ConflictRecord, error) {
	hot, err := s.hot.RangeConflicts(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if s.archive == nil {
		return hot, nil
	}
	archived, aerr := s.archive.RangeConflicts(ctx, from, to)
	if aerr != nil {
		s.recordArchiveError("range_conflicts", aerr)
		return hot, nil
	}
	return mergeConflicts(hot, archived), nil
}

func mergeConflicts(hot, archived []ConflictRecord) []ConflictRecord {
	seen := make(map[int64]bool, len(hot))
	out := make([]ConflictRecord, 0, len(hot)+len(archived))
	for _, c := range hot {
		seen[c.Timestamp.UnixNano()] = true
		out = append(out, c)
	}
	for _, c := range archived {
		if !seen[c.Timestamp.UnixNano()] {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

var _ Store = (*LayeredStore)(nil)
