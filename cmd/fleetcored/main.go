// Command fleetcored runs the UAV fleet coordination and deconfliction
// service: it wires a fleet driver, persistence store, and the core
// composition root together, then serves the HTTP/WebSocket surface
// from §6 until signalled to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skylane/fleetcore/api"
	"github.com/skylane/fleetcore/internal/config"
	"github.com/skylane/fleetcore/internal/core"
	"github.com/skylane/fleetcore/internal/corelog"
	"github.com/skylane/fleetcore/internal/fleet"
	"github.com/skylane/fleetcore/internal/persistence"
)

const (
	exitOK             = 0
	exitStartupFailure = 1
	exitConfigInvalid  = 2
)

var (
	configPath    = flag.String("config", "", "path to the fleetcored YAML config file")
	listenAddr    = flag.String("addr", ":8080", "HTTP/WebSocket listen address")
	logLevel      = flag.String("loglevel", "info", "logging level: debug, info, warn, error")
	logDir        = flag.String("logdir", "", "log file directory")
	serverMode    = flag.Bool("server", true, "run in server logging mode (rotating JSON log files)")
	archiveBucket = flag.String("archive-bucket", "", "S3 bucket for durable archival storage; empty disables the archive tier")
	archivePrefix = flag.String("archive-prefix", "fleetcore", "S3 key prefix for archived records")
	simSeed       = flag.Uint64("sim-seed", 1, "deterministic seed for the built-in fleet simulator")
	simVehicles   = flag.Int("sim-vehicles", 3, "number of vehicles to seed in the built-in fleet simulator")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	lg := corelog.New(*serverMode, *logLevel, *logDir)
	lg.Infof("fleetcored starting")

	var snapshot *config.Snapshot
	var watcher *config.Watcher
	if *configPath != "" {
		w, snap, err := config.NewWatcher(*configPath)
		if err != nil {
			lg.Errorf("invalid configuration: %v", err)
			return exitConfigInvalid
		}
		watcher, snapshot = w, snap
	} else {
		snapshot = config.NewSnapshot(config.Defaults())
	}

	driver := buildSimulator(*simSeed, *simVehicles)

	store, err := buildStore(lg)
	if err != nil {
		lg.Errorf("persistence setup failed: %v", err)
		return exitStartupFailure
	}

	c := core.New(snapshot, watcher, driver, store, lg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	simRunner, isSimulator := driver.(*fleet.Simulator)
	if isSimulator {
		go simRunner.Run(ctx)
	}

	server := api.NewServer(c, lg)
	httpServer := &http.Server{Addr: *listenAddr, Handler: server.Router()}

	errCh := make(chan error, 1)
	go func() {
		lg.Infof("listening on %s", *listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	coreErr := make(chan error, 1)
	go func() { coreErr <- c.Run(ctx) }()

	select {
	case err := <-errCh:
		lg.Errorf("http server failed: %v", err)
		cancel()
		<-coreErr
		return exitStartupFailure
	case err := <-coreErr:
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if httpErr := httpServer.Shutdown(shutdownCtx); httpErr != nil {
			lg.Warnf("http server shutdown: %v", httpErr)
		}
		if err != nil {
			lg.Errorf("core run failed: %v", err)
			return exitStartupFailure
		}
		lg.Infof("fleetcored stopped cleanly")
		return exitOK
	}
}

// buildSimulator seeds a deterministic Simulator with n vehicles spaced
// along a diagonal line, standing in for a real autopilot-speaking driver until
// one is wired.
func buildSimulator(seed uint64, n int) fleet.Driver {
	initial := make(map[fleet.VehicleID]fleet.VehicleState, n)
	for i := 0; i < n; i++ {
		id := fleet.VehicleID(fmt.Sprintf("drone-%02d", i+1))
		initial[id] = fleet.VehicleState{
			ID:  id,
			Lat: 37.7749 + 0.001*float64(i),
			Lon: -122.4194 + 0.001*float64(i),
			Alt: 0,
		}
	}
	return fleet.NewSimulator(seed, initial, 200*time.Millisecond)
}

// buildStore constructs the hot in-memory store, layered over an S3
// archive when -archive-bucket is set.
func buildStore(lg *corelog.Logger) (persistence.Store, error) {
	hot := persistence.NewMemoryStore()
	if *archiveBucket == "" {
		return hot, nil
	}

	archive, err := persistence.NewS3Archive(context.Background(), *archiveBucket, *archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("archive setup: %w", err)
	}
	lg.Infof("archiving to s3://%s/%s", *archiveBucket, *archivePrefix)
	return persistence.NewLayeredStore(hot, archive, nil), nil
}
