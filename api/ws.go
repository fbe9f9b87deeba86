package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skylane/fleetcore/internal/alert"
	"github.com/skylane/fleetcore/internal/broadcast"
	"github.com/skylane/fleetcore/internal/core"
	"github.com/skylane/fleetcore/internal/corelog"
	"github.com/skylane/fleetcore/internal/fleet"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 30 * time.Second
	wsPingPeriod = (wsPongWait * 8) / 10
	wsMaxMessage = 8192

	serverVersion = "1.0"
)

var upgrader = websocket.Upgrader{EnableCompression: false}

// hub upgrades incoming connections and drives one reader and one
// writer goroutine per socket, fed by the broadcaster's coalescing
// subscription and the alert sink's edge-triggered events.
type hub struct {
	core *core.Core
	lg   *corelog.Logger
}

func newHub(c *core.Core, lg *corelog.Logger) *hub {
	return &hub{core: c, lg: lg}
}

type wsEnvelope struct {
	Type string `json:"type"`
}

type connectedEvent struct {
	wsEnvelope
	ServerTime time.Time `json:"server_time"`
	Version    string    `json:"version"`
}

type droneUpdateEvent struct {
	wsEnvelope
	Timestamp time.Time     `json:"timestamp"`
	Drones    []droneDTO    `json:"drones"`
	Conflicts []conflictDTO `json:"conflicts"`
	UpdateID  uint64        `json:"update_id"`
}

type conflictAlertEvent struct {
	wsEnvelope
	Conflict conflictDTO `json:"conflict"`
}

type controlResponseEvent struct {
	wsEnvelope
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Detail    string `json:"detail,omitempty"`
}

type historicalTrajectoryEvent struct {
	wsEnvelope
	DroneID fleet.VehicleID       `json:"drone_id"`
	Samples []trajectorySampleDTO `json:"samples"`
}

type requestUpdateMessage struct {
	wsEnvelope
}

type requestHistoricalPlaybackMessage struct {
	wsEnvelope
	DroneID   fleet.VehicleID `json:"drone_id"`
	StartTime *time.Time      `json:"start_time,omitempty"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
}

type controlDroneMessage struct {
	wsEnvelope
	RequestID string          `json:"request_id"`
	DroneID   fleet.VehicleID `json:"drone_id"`
	Command   string          `json:"command"`
	Lat       float64         `json:"lat,omitempty"`
	Lon       float64         `json:"lon,omitempty"`
	Alt       float64         `json:"alt,omitempty"`
}

func (h *hub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.lg.Warnf("websocket upgrade: %v", err)
		return
	}
	h.serve(conn)
}

func (h *hub) serve(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan any, 16)

	defer func() {
		cancel()
		_ = conn.Close()
	}()

	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	select {
	case out <- connectedEvent{wsEnvelope: wsEnvelope{Type: "connected"}, ServerTime: time.Now().UTC(), Version: serverVersion}:
	default:
	}

	go h.writePump(ctx, conn, out)
	go h.broadcastPump(ctx, out)
	go h.alertPump(ctx, out)

	h.readPump(ctx, cancel, conn, out)
}

// readPump processes subscriber-to-server requests until the
// connection closes or ctx is cancelled.
func (h *hub) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out chan<- any) {
	defer cancel()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		switch env.Type {
		case "request_update":
			h.handleRequestUpdate(out)
		case "request_historical_playback":
			var msg requestHistoricalPlaybackMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			h.handleHistoricalPlayback(ctx, msg, out)
		case "control_drone":
			var msg controlDroneMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			h.handleControlDrone(ctx, msg, out)
		}
	}
}

func (h *hub) handleRequestUpdate(out chan<- any) {
	snap, ok := h.core.Broadcaster.LastSnapshot()
	if !ok {
		return
	}
	sendEvent(out, snapshotToEvent(snap))
}

func (h *hub) handleHistoricalPlayback(ctx context.Context, msg requestHistoricalPlaybackMessage, out chan<- any) {
	from := time.Time{}
	to := time.Now().UTC()
	if msg.StartTime != nil {
		from = *msg.StartTime
	}
	if msg.EndTime != nil {
		to = *msg.EndTime
	}
	records, err := h.core.Store.RangeTrajectory(ctx, msg.DroneID, from, to)
	if err != nil {
		h.lg.Warnf("historical playback for %s: %v", msg.DroneID, err)
		return
	}
	sendEvent(out, historicalTrajectoryEvent{
		wsEnvelope: wsEnvelope{Type: "historical_trajectory"},
		DroneID:    msg.DroneID,
		Samples:    samplesFromRecords(records),
	})
}

func (h *hub) handleControlDrone(ctx context.Context, msg controlDroneMessage, out chan<- any) {
	cmd, err := parseCommand(controlRequest{Command: msg.Command, Lat: msg.Lat, Lon: msg.Lon, Alt: msg.Alt})
	if err != nil {
		sendEvent(out, controlResponseEvent{
			wsEnvelope: wsEnvelope{Type: "control_response"},
			RequestID:  msg.RequestID,
			Success:    false,
			Detail:     err.Error(),
		})
		return
	}

	ack, err := h.core.Driver.Command(ctx, msg.DroneID, cmd)
	resp := controlResponseEvent{wsEnvelope: wsEnvelope{Type: "control_response"}, RequestID: msg.RequestID}
	if err != nil {
		resp.Success = false
		resp.Detail = err.Error()
	} else {
		resp.Success = ack.Accepted
		resp.Detail = ack.Detail
	}
	sendEvent(out, resp)
}

// broadcastPump relays composed snapshots from the fleet-wide
// broadcaster to this connection's outbound queue at whatever rate
// the broadcaster ticks.
func (h *hub) broadcastPump(ctx context.Context, out chan<- any) {
	id, ch := h.core.Broadcaster.Subscribe()
	defer h.core.Broadcaster.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			sendEvent(out, snapshotToEvent(snap))
		}
	}
}

// alertPump relays edge-triggered conflict alerts to this connection
// via its own Fanout subscription, independent of the primary drain
// core.Core.Run uses for persistence and metrics.
func (h *hub) alertPump(ctx context.Context, out chan<- any) {
	id, sub := h.core.AlertSink.Subscribe()
	defer h.core.AlertSink.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-sub:
			if !ok {
				return
			}
			if a.Event == alert.EventCleared {
				continue
			}
			sendEvent(out, conflictAlertEvent{
				wsEnvelope: wsEnvelope{Type: "conflict_alert"},
				Conflict:   conflictFromDomain(a.Conflict),
			})
		}
	}
}

func snapshotToEvent(snap broadcast.Snapshot) droneUpdateEvent {
	drones := make([]droneDTO, 0, len(snap.Vehicles))
	for _, st := range snap.Vehicles {
		drones = append(drones, droneFromState(st))
	}
	return droneUpdateEvent{
		wsEnvelope: wsEnvelope{Type: "drone_update"},
		Timestamp:  snap.ServerTimestamp,
		Drones:     drones,
		Conflicts:  conflictsFromDomain(snap.Conflicts),
		UpdateID:   snap.UpdateID,
	}
}

func sendEvent(out chan<- any, evt any) {
	select {
	case out <- evt:
	default:
	}
}

func (h *hub) writePump(ctx context.Context, conn *websocket.Conn, out <-chan any) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
