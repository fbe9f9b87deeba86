package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Simulator is a deterministic in-memory Driver used for tests and
// local development. It implements the exact Driver interface the core
// consumes from the real vehicle abstraction, per the "simulator vs.
// real driver" design note: the live monitor and scheduler cannot tell
// the difference.
type Simulator struct {
	mu       sync.Mutex
	states   map[VehicleID]VehicleState
	tick     time.Duration
	telem    chan TrajectorySample
	rng      *pcg32
	stopped  bool
	stopOnce sync.Once
}

// NewSimulator builds a Simulator seeded with the given vehicles at the
// given starting positions. tick controls how often Run advances each
// vehicle and emits a telemetry sample.
func NewSimulator(seed uint64, initial map[VehicleID]VehicleState, tick time.Duration) *Simulator {
	states := make(map[VehicleID]VehicleState, len(initial))
	for id, st := range initial {
		st.ID = id
		states[id] = st
	}
	return &Simulator{
		states: states,
		tick:   tick,
		telem:  make(chan TrajectorySample, 256),
		rng:    newPCG32(seed),
	}
}

func (s *Simulator) Inventory() []VehicleID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]VehicleID, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	return ids
}

func (s *Simulator) Status(_ context.Context, vehicle VehicleID) (VehicleState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[vehicle]
	if !ok {
		return VehicleState{}, ErrVehicleUnknown
	}
	return st, nil
}

func (s *Simulator) StatusAll(_ context.Context) (map[VehicleID]VehicleState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[VehicleID]VehicleState, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}
	return out, nil
}

func (s *Simulator) Command(_ context.Context, vehicle VehicleID, cmd Command) (Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[vehicle]
	if !ok {
		return Ack{}, &DriverError{Vehicle: vehicle, Command: cmd.Kind, Err: ErrVehicleUnknown}
	}

	switch cmd.Kind {
	case CmdArm:
		st.Armed = true
		st.Mode = "armed"
	case CmdDisarm:
		st.Armed = false
		st.Mode = "disarmed"
		st.Vx, st.Vy, st.Vz = 0, 0, 0
	case CmdTakeoff:
		st.Mode = "climbing"
		st.Vz = 2.0
		st.Alt = cmd.TakeoffAlt
	case CmdLand:
		st.Mode = "landing"
		st.Vz = -1.0
	case CmdRTL:
		st.Mode = "rtl"
	case CmdGoto:
		st.Mode = "enroute"
		st.Lat, st.Lon, st.Alt = cmd.Lat, cmd.Lon, cmd.Alt
	case CmdStop:
		st.Vx, st.Vy, st.Vz = 0, 0, 0
		st.Mode = "hover"
	default:
		return Ack{}, &DriverError{Vehicle: vehicle, Command: cmd.Kind, Err: fmt.Errorf("unhandled command kind")}
	}
	s.states[vehicle] = st

	return Ack{Accepted: true}, nil
}

// EmergencyStopAll commands every vehicle to stop; idempotent, since
// repeated calls just re-zero velocities and re-set the same mode.
func (s *Simulator) EmergencyStopAll(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]VehicleID, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if _, err := s.Command(ctx, id, Command{Kind: CmdStop}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) Telemetry(ctx context.Context) <-chan TrajectorySample {
	out := make(chan TrajectorySample, 256)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case sample, ok := <-s.telem:
				if !ok {
					return
				}
				select {
				case out <- sample:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Run advances the simulation at the configured tick interval, applying
// each vehicle's current velocity to its position and emitting a
// telemetry sample, until ctx is cancelled. Small deterministic jitter
// is applied to keep samples from being perfectly collinear, which
// would make tests of the distance sampling logic degenerate.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopOnce.Do(func() { close(s.telem) })
			return
		case <-ticker.C:
			s.step()
		}
	}
}

func (s *Simulator) step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	dt := s.tick.Seconds()
	now := time.Now().UTC()

	for id, st := range s.states {
		if st.Armed {
			jitter := s.rng.signedUnit() * 1e-7
			st.Lat += (st.Vy/111320.0)*dt + jitter
			st.Lon += (st.Vx / 111320.0) * dt
			st.Alt += st.Vz * dt
		}
		st.AsOf = now
		s.states[id] = st

		sample := TrajectorySample{
			Vehicle:   id,
			Timestamp: now,
			Lat:       st.Lat,
			Lon:       st.Lon,
			Alt:       st.Alt,
			Vx:        st.Vx,
			Vy:        st.Vy,
			Vz:        st.Vz,
		}
		select {
		case s.telem <- sample:
		default:
			// Best-effort: a full buffer means no one's draining fast
			// enough; drop rather than block the simulation step.
		}
	}
}

// SetVelocity lets tests drive a vehicle's velocity directly, useful for
// constructing live-conflict and late-conflict scenarios.
func (s *Simulator) SetVelocity(vehicle VehicleID, vx, vy, vz float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[vehicle]
	st.Vx, st.Vy, st.Vz = vx, vy, vz
	s.states[vehicle] = st
}

// SetPosition lets tests place a vehicle directly.
func (s *Simulator) SetPosition(vehicle VehicleID, lat, lon, alt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[vehicle]
	st.Lat, st.Lon, st.Alt = lat, lon, alt
	st.AsOf = time.Now().UTC()
	s.states[vehicle] = st
}
