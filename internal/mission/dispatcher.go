package mission

import (
	"context"
	"time"

	"github.com/skylane/fleetcore/internal/clock"
	"github.com/skylane/fleetcore/internal/corelog"
	"github.com/skylane/fleetcore/internal/deconflict"
	"github.com/skylane/fleetcore/internal/fleet"
	"github.com/skylane/fleetcore/internal/trajectory"
)

// watchdogDefault bounds how long the Dispatcher waits for a driver
// command sequence to complete before treating the mission as failed.
const watchdogDefault = 15 * time.Second

// Dispatcher is the single-task lifecycle driver from §4.4: it polls for
// SCHEDULED missions whose start_time has passed, re-validates each, and
// drives the vehicle through the fleet Driver.
type Dispatcher struct {
	registry       *Registry
	engine         *deconflict.Engine
	driver         fleet.Driver
	trajectories   *trajectory.Store
	clock          clock.Clock
	lg             *corelog.Logger
	commandTimeout time.Duration
	pollInterval   time.Duration
}

// NewDispatcher builds a Dispatcher wired to its collaborators.
func NewDispatcher(registry *Registry, engine *deconflict.Engine, driver fleet.Driver, trajectories *trajectory.Store, clk clock.Clock, lg *corelog.Logger, commandTimeout time.Duration) *Dispatcher {
	if commandTimeout <= 0 {
		commandTimeout = watchdogDefault
	}
	return &Dispatcher{
		registry:       registry,
		engine:         engine,
		driver:         driver,
		trajectories:   trajectories,
		clock:          clk,
		lg:             lg,
		commandTimeout: commandTimeout,
		pollInterval:   100 * time.Millisecond,
	}
}

// Run polls for the earliest due SCHEDULED mission and dispatches it,
// until ctx is cancelled. A short poll interval stands in for a
// precise single-timer wake (re-armed on every schedule/cancel) since
// the registry does not currently expose a change-notification
// channel; the poll interval is well under the scheduling granularity
// the spec cares about (sub-second mission starts are not a realistic
// UAV workload).
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dispatchDue(ctx)
		}
	}
}

// excludeMission filters a mission's own record out of a registry
// snapshot, so the dispatcher's second-pass check never compares a
// mission against itself.
func excludeMission(scheduled []deconflict.ScheduledMission, id string) []deconflict.ScheduledMission {
	out := scheduled[:0]
	for _, s := range scheduled {
		if s.MissionID != id {
			out = append(out, s)
		}
	}
	return out
}

func (d *Dispatcher) dispatchDue(ctx context.Context) {
	now := d.clock.Now()
	for _, m := range d.registry.ListActive() {
		if m.State != StateScheduled || m.Start.After(now) {
			continue
		}
		d.dispatch(ctx, m)
	}
}

// dispatch runs the second deconfliction pass and, if still safe,
// drives the vehicle; otherwise fails the mission with LATE_CONFLICT.
func (d *Dispatcher) dispatch(ctx context.Context, m Mission) {
	now := d.clock.Now()
	live := d.trajectories.LatestAll()

	scheduled := excludeMission(d.registry.snapshot(), m.ID)
	result, err := d.engine.Check(deconflict.Candidate{
		Vehicle: m.Vehicle,
		Plan:    m.Plan,
		Start:   m.Start,
		End:     m.End,
	}, scheduled, live, now)

	// A mixed/live-only re-check: an already-admitted mission cannot
	// conflict with itself or with other missions it was already
	// cleared against, so only live-telemetry-derived conflicts are
	// actionable here. Filter to MIXED/LIVE kinds.
	var liveConflicts []deconflict.Conflict
	if err == nil {
		for _, c := range result.Conflicts {
			if c.Kind == deconflict.KindMixed || c.Kind == deconflict.KindLive {
				liveConflicts = append(liveConflicts, c)
			}
		}
	}

	if err != nil || len(liveConflicts) > 0 {
		d.registry.transition(m.ID, StateFailed, ReasonLateConflict, liveConflicts, now)
		d.lg.Warnf("mission %s failed at dispatch: late conflict for vehicle %s", m.ID, m.Vehicle)
		return
	}

	d.registry.transition(m.ID, StateRunning, "", nil, now)
	d.lg.Infof("mission %s running for vehicle %s", m.ID, m.Vehicle)

	go d.fly(ctx, m)
}

// fly issues the arm -> takeoff -> goto-per-waypoint command sequence
// and watches for completion, driver error, or watchdog expiry.
func (d *Dispatcher) fly(ctx context.Context, m Mission) {
	cmdCtx, cancel := context.WithTimeout(ctx, d.commandTimeout)
	defer cancel()

	if _, err := d.driver.Command(cmdCtx, m.Vehicle, fleet.Command{Kind: fleet.CmdArm}); err != nil {
		d.fail(m, err)
		return
	}
	if len(m.Plan) > 0 {
		first := m.Plan[0]
		if _, err := d.driver.Command(cmdCtx, m.Vehicle, fleet.Command{Kind: fleet.CmdTakeoff, TakeoffAlt: first.Alt}); err != nil {
			d.fail(m, err)
			return
		}
	}
	for _, wp := range m.Plan {
		if _, err := d.driver.Command(cmdCtx, m.Vehicle, fleet.Command{Kind: fleet.CmdGoto, Lat: wp.Lat, Lon: wp.Lon, Alt: wp.Alt}); err != nil {
			d.fail(m, err)
			return
		}
		select {
		case <-cmdCtx.Done():
			d.watchdogExpire(m)
			return
		default:
		}
	}

	d.registry.transition(m.ID, StateCompleted, "", nil, d.clock.Now())
	d.lg.Infof("mission %s completed for vehicle %s", m.ID, m.Vehicle)
}

func (d *Dispatcher) fail(m Mission, err error) {
	d.registry.transition(m.ID, StateFailed, ReasonDriverError, nil, d.clock.Now())
	d.lg.Errorf("mission %s failed for vehicle %s: driver error: %v", m.ID, m.Vehicle, err)
}

func (d *Dispatcher) watchdogExpire(m Mission) {
	d.registry.transition(m.ID, StateFailed, ReasonWatchdog, nil, d.clock.Now())
	d.lg.Errorf("mission %s failed for vehicle %s: watchdog expired", m.ID, m.Vehicle)
}

// CancelRunning signals a stop command for a cancelled RUNNING mission.
// The registry has already transitioned the mission to CANCELLED by
// the time this is called; this just issues the driver-side stop.
func (d *Dispatcher) CancelRunning(ctx context.Context, vehicle fleet.VehicleID) {
	cmdCtx, cancel := context.WithTimeout(ctx, d.commandTimeout)
	defer cancel()
	if _, err := d.driver.Command(cmdCtx, vehicle, fleet.Command{Kind: fleet.CmdStop}); err != nil {
		d.lg.Errorf("stop command failed for vehicle %s during cancellation: %v", vehicle, err)
	}
}
