// Package broadcast implements the fixed-rate snapshot composer and
// fan-out described in §4.6: a single periodic task composes one
// Snapshot per tick and hands it to every subscriber through a bounded,
// coalescing channel that never blocks the composer.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skylane/fleetcore/internal/alert"
	"github.com/skylane/fleetcore/internal/clock"
	"github.com/skylane/fleetcore/internal/deconflict"
	"github.com/skylane/fleetcore/internal/fleet"
)

// Snapshot is the fleet-wide state broadcast to every subscriber once
// per tick, per §4.6.
type Snapshot struct {
	ServerTimestamp time.Time
	Vehicles        map[fleet.VehicleID]fleet.VehicleState
	Conflicts       []deconflict.Conflict
	UpdateID        uint64
}

// Source supplies the data a Broadcaster composes into a Snapshot. The
// production wiring is the fleet Driver (for vehicle states) and the
// live monitor (for current conflicts); kept as a narrow interface so
// tests can substitute fakes.
type Source interface {
	StatusAll(ctx context.Context) (map[fleet.VehicleID]fleet.VehicleState, error)
	CurrentConflicts() []deconflict.Conflict
}

type subscriber struct {
	ch chan Snapshot
}

// Broadcaster composes Snapshots at a fixed rate and fans them out to
// subscribers through size-1 coalescing channels: a subscriber that
// falls behind only ever sees the newest snapshot, never a backlog.
type Broadcaster struct {
	source  Source
	clk     clock.Clock
	lg      alertLogger
	metrics *alert.Metrics
	seq     clock.Sequence

	mu   sync.Mutex
	subs map[string]*subscriber
	last atomic.Pointer[Snapshot]
}

// alertLogger is the minimal logging capability the broadcaster needs;
// kept unexported and narrow so the package does not force a dependency
// on corelog's concrete type in tests.
type alertLogger interface {
	Errorf(format string, args ...interface{})
}

// New builds a Broadcaster drawing from source, using clk for
// timestamps and metrics for the coalescing counter.
func New(source Source, clk clock.Clock, lg alertLogger, metrics *alert.Metrics) *Broadcaster {
	return &Broadcaster{
		source:  source,
		clk:     clk,
		lg:      lg,
		metrics: metrics,
		subs:    make(map[string]*subscriber),
	}
}

// Run composes and fans out one Snapshot per interval until ctx is
// cancelled.
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration) {
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
			b.tick(ctx)
		}
	}
}

func (b *Broadcaster) tick(ctx context.Context) {
	vehicles, err := b.source.StatusAll(ctx)
	if err != nil {
		if b.lg != nil {
			b.lg.Errorf("broadcast: StatusAll failed: %v", err)
		}
		vehicles = map[fleet.VehicleID]fleet.VehicleState{}
	}

	snap := Snapshot{
		ServerTimestamp: b.clk.Now(),
		Vehicles:        vehicles,
		Conflicts:       b.source.CurrentConflicts(),
		UpdateID:        b.seq.Next(),
	}
	b.last.Store(&snap)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		deliver(sub.ch, snap, b.metrics)
	}
}

// deliver performs a coalescing send: if the subscriber's single-slot
// buffer is already occupied by a stale snapshot, it is drained and
// replaced, never blocking the composer.
func deliver(ch chan Snapshot, snap Snapshot, metrics *alert.Metrics) {
	select {
	case ch <- snap:
		return
	default:
	}

	select {
	case <-ch:
		if metrics != nil {
			metrics.BroadcastCoalesced.Inc()
		}
	default:
	}

	select {
	case ch <- snap:
	default:
	}
}

// Subscribe registers a new subscriber and returns its id and the
// channel it should drain. Unsubscribe must be called when the
// subscriber disconnects.
func (b *Broadcaster) Subscribe() (string, <-chan Snapshot) {
	id := clock.NewSubscriberID()
	sub := &subscriber{ch: make(chan Snapshot, 1)}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	return id, sub.ch
}

// Unsubscribe removes a subscriber, closing its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// LastSnapshot serves the most recently composed snapshot on demand,
// without re-running the monitor or driver poll, per §4.6.
func (b *Broadcaster) LastSnapshot() (Snapshot, bool) {
	p := b.last.Load()
	if p == nil {
		return Snapshot{}, false
	}
	return *p, true
}
