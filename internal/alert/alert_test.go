package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSinkDeliversWithinBuffer(t *testing.T) {
	sink := NewChannelSink(2, NewMetrics())
	sink.Publish(Alert{Event: EventInitial, Timestamp: time.Now()})
	sink.Publish(Alert{Event: EventReminder, Timestamp: time.Now()})

	select {
	case a := <-sink.Alerts():
		assert.Equal(t, EventInitial, a.Event)
	default:
		t.Fatal("expected buffered alert")
	}
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	metrics := NewMetrics()
	sink := NewChannelSink(1, metrics)
	sink.Publish(Alert{Event: EventInitial})
	sink.Publish(Alert{Event: EventReminder}) // buffer full, dropped

	require.Len(t, sink.ch, 1)
	assert.Equal(t, float64(1), CounterValue(metrics.AlertsDropped))
}
