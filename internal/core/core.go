// Package core is the composition root: it wires the trajectory store,
// fleet driver, deconfliction engine, mission registry/dispatcher, live
// monitor, broadcaster, alert sink, and persistence layer together and
// supervises their long-lived tasks.
package core

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skylane/fleetcore/internal/alert"
	"github.com/skylane/fleetcore/internal/broadcast"
	"github.com/skylane/fleetcore/internal/clock"
	"github.com/skylane/fleetcore/internal/config"
	"github.com/skylane/fleetcore/internal/corelog"
	"github.com/skylane/fleetcore/internal/deconflict"
	"github.com/skylane/fleetcore/internal/fleet"
	"github.com/skylane/fleetcore/internal/mission"
	"github.com/skylane/fleetcore/internal/monitor"
	"github.com/skylane/fleetcore/internal/persistence"
	"github.com/skylane/fleetcore/internal/trajectory"
)

// driverMonitorSource composes the fleet driver's StatusAll with the
// live monitor's CurrentConflicts into the broadcast.Source the
// Broadcaster consumes, without either package depending on the other.
type driverMonitorSource struct {
	driver  fleet.Driver
	monitor *monitor.Monitor
}

func (s driverMonitorSource) StatusAll(ctx context.Context) (map[fleet.VehicleID]fleet.VehicleState, error) {
	return s.driver.StatusAll(ctx)
}

func (s driverMonitorSource) CurrentConflicts() []deconflict.Conflict {
	return s.monitor.CurrentConflicts()
}

// Core owns every long-lived component of the coordination service.
type Core struct {
	cfg     *config.Snapshot
	watcher *config.Watcher
	lg      *corelog.Logger
	clock   clock.Clock

	Driver       fleet.Driver
	Trajectories *trajectory.Store
	Engine       *deconflict.Engine
	Missions     *mission.Registry
	Dispatcher   *mission.Dispatcher
	Monitor      *monitor.Monitor
	Broadcaster  *broadcast.Broadcaster
	AlertSink    *alert.Fanout
	Metrics      *alert.Metrics
	Store        persistence.Store
}

// New builds a Core from a config snapshot, a fleet driver, and a
// persistence store. watcher may be nil if config hot-reload is not
// wired (e.g. no config file path given).
func New(cfgSnapshot *config.Snapshot, watcher *config.Watcher, driver fleet.Driver, store persistence.Store, lg *corelog.Logger) *Core {
	cfg := cfgSnapshot.Get()
	clk := clock.System{}

	metrics := alert.NewMetrics()
	sink := alert.NewFanout(256, metrics)

	trajectories := trajectory.NewStore(
		time.Duration(cfg.TrajectoryRetentionS)*time.Second,
		time.Duration(cfg.TrajectorySlackMs)*time.Millisecond,
	)

	engine := deconflict.New(deconflict.Config{
		SafetyBufferM:      cfg.SafetyBufferM,
		ResolutionS:        cfg.DeconflictResolutionS,
		ProjectionHorizonS: cfg.ProjectionHorizonS,
		MaxCruiseSpeedMps:  cfg.MaxCruiseSpeedMps,
		AltitudeFloorM:     cfg.AltitudeFloorM,
		StalenessS:         cfg.LiveStalenessS,
	})

	missions := mission.New(lg)
	dispatcher := mission.NewDispatcher(missions, engine, driver, trajectories, clk, lg,
		time.Duration(cfg.DriverCommandTimeoutS)*time.Second)

	mon := monitor.New(trajectories, sink, clk, monitor.Config{
		SafetyBufferM:  cfg.SafetyBufferM,
		StalenessS:     cfg.LiveStalenessS,
		DedupReminderS: cfg.DedupReminderS,
		DedupClearS:    cfg.DedupClearS,
		Tick:           cfg.TickInterval(),
	})

	bc := broadcast.New(driverMonitorSource{driver: driver, monitor: mon}, clk, lg, metrics)

	return &Core{
		cfg:          cfgSnapshot,
		watcher:      watcher,
		lg:           lg,
		clock:        clk,
		Driver:       driver,
		Trajectories: trajectories,
		Engine:       engine,
		Missions:     missions,
		Dispatcher:   dispatcher,
		Monitor:      mon,
		Broadcaster:  bc,
		AlertSink:    sink,
		Metrics:      metrics,
		Store:        store,
	}
}

// Run starts every supervised task and blocks until ctx is cancelled,
// then drives graceful shutdown within the configured deadline. The
// returned error is nil on a clean shutdown.
func (c *Core) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { c.ingestTelemetry(gctx); return nil })
	g.Go(func() error { c.Dispatcher.Run(gctx); return nil })
	g.Go(func() error { c.Monitor.Run(gctx); return nil })
	g.Go(func() error { c.Broadcaster.Run(gctx, c.cfg.Get().TickInterval()); return nil })
	g.Go(func() error { c.drainAlerts(gctx); return nil })

	if c.watcher != nil {
		errs := make(chan error, 1)
		g.Go(func() error { return c.watcher.Run(gctx, errs) })
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case err := <-errs:
					c.lg.Warnf("config watcher: %v", err)
				}
			}
		})
	}

	err := g.Wait()
	c.shutdown()
	return err
}

// ingestTelemetry feeds the driver's telemetry tap into the trajectory
// store and, best-effort, into persistence.
func (c *Core) ingestTelemetry(ctx context.Context) {
	for sample := range c.Driver.Telemetry(ctx) {
		c.Trajectories.Append(sample.Vehicle, sample)
		if err := c.Store.AppendTrajectory(ctx, persistence.TrajectoryRecord{
			Vehicle:   sample.Vehicle,
			Timestamp: sample.Timestamp,
			Lat:       sample.Lat,
			Lon:       sample.Lon,
			Alt:       sample.Alt,
			Vx:        sample.Vx,
			Vy:        sample.Vy,
			Vz:        sample.Vz,
		}); err != nil {
			c.lg.Warnf("persist trajectory sample for %s: %v", sample.Vehicle, err)
		}
	}
}

// drainAlerts logs every alert posted by the live monitor or dispatcher
// and persists every alert except CLEARED ones.
func (c *Core) drainAlerts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-c.AlertSink.Alerts():
			if !ok {
				return
			}
			c.Metrics.AlertsPublished.WithLabelValues(a.Event.String()).Inc()
			if a.Event != alert.EventCleared {
				if err := c.Store.AppendConflictEvent(ctx, persistence.ConflictRecord{Timestamp: a.Timestamp, Conflict: a.Conflict}); err != nil {
					c.lg.Warnf("persist conflict event: %v", err)
				}
			}
			c.lg.Infof("alert %s: %s <-> %s", a.Event, a.VehicleA, a.VehicleB)
		}
	}
}

// shutdown cancels every SCHEDULED mission, stops every RUNNING
// vehicle, and issues a fleet-wide emergency stop, all within
// shutdown_deadline_s, per §5.
func (c *Core) shutdown() {
	deadline := time.Duration(c.cfg.Get().ShutdownDeadlineS * float64(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	now := c.clock.Now()
	for _, m := range c.Missions.ListActive() {
		if m.State == mission.StateRunning {
			c.Dispatcher.CancelRunning(ctx, m.Vehicle)
		}
		if _, err := c.Missions.Cancel(m.ID, now); err != nil {
			c.lg.Warnf("shutdown: cancel mission %s: %v", m.ID, err)
		}
	}

	if err := c.Driver.EmergencyStopAll(ctx); err != nil {
		c.lg.Errorf("shutdown: emergency stop all failed: %v", err)
	}
}

// ScheduleMission runs admission for candidate and, on success,
// persists the new mission record.
func (c *Core) ScheduleMission(ctx context.Context, candidate mission.Candidate) (mission.ScheduleResult, error) {
	cfg := c.cfg.Get()
	now := c.clock.Now()
	live := c.Trajectories.LatestAll()

	result, err := c.Missions.Schedule(c.Engine, candidate, live, now, cfg.MaxDrones)
	if err != nil {
		return result, err
	}
	if !result.Accepted {
		c.Metrics.MissionsRejected.WithLabelValues("conflict").Inc()
		return result, nil
	}

	m, getErr := c.Missions.Get(result.MissionID)
	if getErr == nil {
		if err := c.Store.PutMission(ctx, toRecord(m)); err != nil {
			c.lg.Warnf("persist mission %s: %v", m.ID, err)
		}
	}
	return result, nil
}

// CancelMission cancels an active mission, stopping its vehicle if it
// was already running.
func (c *Core) CancelMission(ctx context.Context, id string) (mission.Mission, error) {
	before, err := c.Missions.Get(id)
	wasRunning := err == nil && before.State == mission.StateRunning

	m, err := c.Missions.Cancel(id, c.clock.Now())
	if err != nil {
		return mission.Mission{}, err
	}
	if wasRunning {
		c.Dispatcher.CancelRunning(ctx, m.Vehicle)
	}
	if err := c.Store.PutMission(ctx, toRecord(m)); err != nil {
		c.lg.Warnf("persist cancelled mission %s: %v", m.ID, err)
	}
	return m, nil
}

func toRecord(m mission.Mission) persistence.MissionRecord {
	return persistence.MissionRecord{
		ID:            m.ID,
		Vehicle:       m.Vehicle,
		Plan:          m.Plan,
		Start:         m.Start,
		End:           m.End,
		State:         m.State.String(),
		FailureReason: string(m.FailureReason),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
