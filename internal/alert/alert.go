// Package alert defines the alert channel the live monitor and mission
// dispatcher post edge-triggered events to, and the health counters
// that back §7's Overload error kind.
package alert

import (
	"strconv"
	"sync"
	"time"

	"github.com/skylane/fleetcore/internal/deconflict"
	"github.com/skylane/fleetcore/internal/fleet"
)

// EventType distinguishes the phase of a de-duplicated alert, per the
// live monitor's initial/reminder/clear cycle (§4.5).
type EventType int

const (
	EventInitial EventType = iota
	EventReminder
	EventCleared
)

func (e EventType) String() string {
	switch e {
	case EventInitial:
		return "INITIAL"
	case EventReminder:
		return "REMINDER"
	case EventCleared:
		return "CLEARED"
	default:
		return "UNKNOWN"
	}
}

// Alert is one edge-triggered notification posted to the alert channel.
type Alert struct {
	Event     EventType
	Conflict  deconflict.Conflict
	VehicleA  fleet.VehicleID
	VehicleB  fleet.VehicleID
	Timestamp time.Time
	Detail    string
}

// Sink is the capability the live monitor and dispatcher consume to
// post alerts; a minimal interface per §9's "capability interfaces"
// design note.
type Sink interface {
	Publish(a Alert)
}

// ChannelSink is the default Sink: a bounded, non-blocking fan-out to a
// single consumer channel. A full channel means no one is draining fast
// enough; the alert is dropped and counted, never blocking the poster
// (mirrors the broadcaster's never-block discipline from §5).
type ChannelSink struct {
	ch      chan Alert
	metrics *Metrics
}

// NewChannelSink builds a ChannelSink with the given buffer size.
func NewChannelSink(buffer int, metrics *Metrics) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelSink{ch: make(chan Alert, buffer), metrics: metrics}
}

// Publish implements Sink.
func (s *ChannelSink) Publish(a Alert) {
	select {
	case s.ch <- a:
	default:
		if s.metrics != nil {
			s.metrics.AlertsDropped.Inc()
		}
	}
}

// Alerts returns the channel of posted alerts for the primary internal
// consumer (persistence and metrics) to drain.
func (s *ChannelSink) Alerts() <-chan Alert {
	return s.ch
}

// Fanout wraps a ChannelSink for the primary internal drain and adds
// dynamically registered subscriber channels, one per connected
// WebSocket client, so that each consumer gets its own independent
// never-block/drop-and-count delivery instead of racing to drain a
// single shared channel.
type Fanout struct {
	*ChannelSink
	mu     sync.Mutex
	subs   map[string]chan Alert
	nextID uint64
}

// NewFanout builds a Fanout whose primary channel has the given buffer
// size; per-subscriber channels share the same buffer size.
func NewFanout(buffer int, metrics *Metrics) *Fanout {
	return &Fanout{
		ChannelSink: NewChannelSink(buffer, metrics),
		subs:        make(map[string]chan Alert),
	}
}

// Publish implements Sink: it delivers to the primary channel and to
// every registered subscriber, each independently non-blocking.
func (f *Fanout) Publish(a Alert) {
	f.ChannelSink.Publish(a)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- a:
		default:
			if f.metrics != nil {
				f.metrics.AlertsDropped.Inc()
			}
		}
	}
}

// Subscribe registers a new subscriber channel and returns its id.
func (f *Fanout) Subscribe() (string, <-chan Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := strconv.FormatUint(f.nextID, 10)
	ch := make(chan Alert, cap(f.ch))
	f.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (f *Fanout) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}
