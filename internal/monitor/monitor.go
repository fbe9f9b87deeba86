// Package monitor implements the live conflict monitor from §4.5: a
// periodic pairwise proximity scan over current telemetry, with
// edge-triggered, de-duplicated alerts.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/skylane/fleetcore/internal/alert"
	"github.com/skylane/fleetcore/internal/clock"
	"github.com/skylane/fleetcore/internal/deconflict"
	"github.com/skylane/fleetcore/internal/fleet"
	"github.com/skylane/fleetcore/internal/geo"
	"github.com/skylane/fleetcore/internal/trajectory"
)

// Config holds the tunables the monitor needs from §6.
type Config struct {
	SafetyBufferM  float64
	StalenessS     float64
	DedupReminderS float64
	DedupClearS    float64
	Tick           time.Duration
}

type pairKey struct {
	A fleet.VehicleID
	B fleet.VehicleID
}

func normalizedPair(a, b fleet.VehicleID) pairKey {
	if a <= b {
		return pairKey{A: a, B: b}
	}
	return pairKey{A: b, B: a}
}

type pairState struct {
	inConflict bool
	firstSeen  time.Time
	lastAlert  time.Time
	lastSeen   time.Time
}

// Monitor is the live conflict monitor.
type Monitor struct {
	store *trajectory.Store
	sink  alert.Sink
	clk   clock.Clock
	cfg   Config

	mu      sync.Mutex
	dedup   map[pairKey]*pairState
	current []deconflict.Conflict
}

// New builds a Monitor over store, posting edge-triggered alerts to sink.
func New(store *trajectory.Store, sink alert.Sink, clk clock.Clock, cfg Config) *Monitor {
	return &Monitor{
		store: store,
		sink:  sink,
		clk:   clk,
		cfg:   cfg,
		dedup: make(map[pairKey]*pairState),
	}
}

// Run ticks the monitor at cfg.Tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.cfg.Tick
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(m.clk.Now())
		}
	}
}

// Tick runs one scan at the given time. It is exported so tests can
// drive it deterministically.
func (m *Monitor) Tick(now time.Time) {
	snapshot := m.store.LatestAll()

	ids := make([]fleet.VehicleID, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	inConflictNow := make(map[pairKey]deconflict.Conflict)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := ids[i], ids[j]
			sa, sb := snapshot[a], snapshot[b]
			if now.Sub(sa.Timestamp).Seconds() > m.cfg.StalenessS || now.Sub(sb.Timestamp).Seconds() > m.cfg.StalenessS {
				continue
			}
			dist := geo.Distance(geo.Point{Lat: sa.Lat, Lon: sa.Lon, Alt: sa.Alt}, geo.Point{Lat: sb.Lat, Lon: sb.Lon, Alt: sb.Alt})
			if dist >= m.cfg.SafetyBufferM {
				continue
			}
			key := normalizedPair(a, b)
			inConflictNow[key] = deconflict.Conflict{
				Kind:        deconflict.KindLive,
				VehicleA:    key.A,
				VehicleB:    key.B,
				Start:       now,
				End:         now,
				MinDistance: dist,
				Severity:    severityFor(dist, m.cfg.SafetyBufferM),
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := make([]deconflict.Conflict, 0, len(inConflictNow))
	for key, conflict := range inConflictNow {
		state, ok := m.dedup[key]
		if !ok {
			state = &pairState{}
			m.dedup[key] = state
		}
		state.lastSeen = now

		if !state.inConflict {
			state.inConflict = true
			state.firstSeen = now
			state.lastAlert = now
			m.sink.Publish(alert.Alert{Event: alert.EventInitial, Conflict: conflict, VehicleA: key.A, VehicleB: key.B, Timestamp: now})
		} else if now.Sub(state.lastAlert).Seconds() >= m.cfg.DedupReminderS {
			state.lastAlert = now
			m.sink.Publish(alert.Alert{Event: alert.EventReminder, Conflict: conflict, VehicleA: key.A, VehicleB: key.B, Timestamp: now})
		}
		current = append(current, conflict)
	}

	for key, state := range m.dedup {
		if _, stillClose := inConflictNow[key]; stillClose {
			continue
		}
		if state.inConflict && now.Sub(state.lastSeen).Seconds() >= m.cfg.DedupClearS {
			state.inConflict = false
			m.sink.Publish(alert.Alert{Event: alert.EventCleared, VehicleA: key.A, VehicleB: key.B, Timestamp: now})
			delete(m.dedup, key)
		}
	}

	m.current = current
}

// CurrentConflicts returns the conflicts found on the most recent tick,
// consumed by the broadcaster without re-running the scan.
func (m *Monitor) CurrentConflicts() []deconflict.Conflict {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]deconflict.Conflict, len(m.current))
	copy(out, m.current)
	return out
}

func severityFor(minDistance, buffer float64) deconflict.Severity {
	switch {
	case minDistance <= buffer/2:
		return deconflict.SeverityCritical
	case minDistance <= buffer:
		return deconflict.SeverityWarning
	default:
		return deconflict.SeverityNone
	}
}
