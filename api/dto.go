// Package api implements the public HTTP surface and WebSocket event
// channel from §6: JSON over HTTP for commands and history, a
// message-framed JSON stream for live state.
package api

import (
	"time"

	"github.com/skylane/fleetcore/internal/deconflict"
	"github.com/skylane/fleetcore/internal/fleet"
	"github.com/skylane/fleetcore/internal/geo"
	"github.com/skylane/fleetcore/internal/mission"
	"github.com/skylane/fleetcore/internal/persistence"
	"github.com/skylane/fleetcore/internal/trajectory"
)

// envelope is the {success, ...} shape every HTTP response shares.
type envelope struct {
	Success bool `json:"success"`
}

type droneDTO struct {
	ID      fleet.VehicleID `json:"id"`
	Lat     float64         `json:"lat"`
	Lon     float64         `json:"lon"`
	Alt     float64         `json:"alt_m_agl"`
	Vx      float64         `json:"vx_mps"`
	Vy      float64         `json:"vy_mps"`
	Vz      float64         `json:"vz_mps"`
	Battery float64         `json:"battery_frac"`
	Armed   bool            `json:"armed"`
	Mode    string          `json:"flight_mode"`
	AsOf    time.Time       `json:"as_of"`
}

func droneFromState(s fleet.VehicleState) droneDTO {
	return droneDTO{
		ID: s.ID, Lat: s.Lat, Lon: s.Lon, Alt: s.Alt,
		Vx: s.Vx, Vy: s.Vy, Vz: s.Vz,
		Battery: s.Battery, Armed: s.Armed, Mode: s.Mode, AsOf: s.AsOf,
	}
}

type dronesResponse struct {
	envelope
	Drones []droneDTO `json:"drones"`
}

type waypointDTO struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

func waypointsFromPlan(p geo.Plan) []waypointDTO {
	out := make([]waypointDTO, len(p))
	for i, w := range p {
		out[i] = waypointDTO{Lat: w.Lat, Lon: w.Lon, Alt: w.Alt}
	}
	return out
}

func planFromWaypoints(ws []waypointDTO) geo.Plan {
	out := make(geo.Plan, len(ws))
	for i, w := range ws {
		out[i] = geo.Waypoint{Lat: w.Lat, Lon: w.Lon, Alt: w.Alt}
	}
	return out
}

type conflictDTO struct {
	Kind        string          `json:"kind"`
	VehicleA    fleet.VehicleID `json:"vehicle_a"`
	VehicleB    fleet.VehicleID `json:"vehicle_b,omitempty"`
	Start       time.Time       `json:"start_time"`
	End         time.Time       `json:"end_time"`
	MinDistance float64         `json:"min_distance_m"`
	Severity    string          `json:"severity"`
	Detail      string          `json:"detail,omitempty"`
}

func conflictFromDomain(c deconflict.Conflict) conflictDTO {
	return conflictDTO{
		Kind: c.Kind.String(), VehicleA: c.VehicleA, VehicleB: c.VehicleB,
		Start: c.Start, End: c.End, MinDistance: c.MinDistance,
		Severity: c.Severity.String(), Detail: c.Detail,
	}
}

func conflictsFromDomain(cs []deconflict.Conflict) []conflictDTO {
	out := make([]conflictDTO, len(cs))
	for i, c := range cs {
		out[i] = conflictFromDomain(c)
	}
	return out
}

type missionDTO struct {
	ID            string          `json:"mission_id"`
	DroneID       fleet.VehicleID `json:"drone_id"`
	Waypoints     []waypointDTO   `json:"waypoints"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	State         string          `json:"state"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func missionFromDomain(m mission.Mission) missionDTO {
	return missionDTO{
		ID:            m.ID,
		DroneID:       m.Vehicle,
		Waypoints:     waypointsFromPlan(m.Plan),
		StartTime:     m.Start,
		EndTime:       m.End,
		State:         m.State.String(),
		FailureReason: string(m.FailureReason),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

type missionsResponse struct {
	envelope
	Missions []missionDTO `json:"missions"`
}

type scheduleRequest struct {
	DroneID   fleet.VehicleID `json:"drone_id"`
	Waypoints []waypointDTO   `json:"waypoints"`
	StartTime *time.Time      `json:"start_time,omitempty"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
}

type scheduleAcceptedResponse struct {
	envelope
	MissionID string `json:"mission_id"`
}

type scheduleRejectedResponse struct {
	envelope
	Conflicts []conflictDTO `json:"conflicts"`
}

type controlRequest struct {
	Command string  `json:"command"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
	Alt     float64 `json:"alt,omitempty"`
}

type controlResponse struct {
	envelope
	Ack string `json:"ack,omitempty"`
}

type trajectorySampleDTO struct {
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Alt       float64   `json:"alt_m_agl"`
	Vx        float64   `json:"vx_mps"`
	Vy        float64   `json:"vy_mps"`
	Vz        float64   `json:"vz_mps"`
}

func sampleFromTrajectory(s trajectory.Sample) trajectorySampleDTO {
	return trajectorySampleDTO{
		Timestamp: s.Timestamp, Lat: s.Lat, Lon: s.Lon, Alt: s.Alt,
		Vx: s.Vx, Vy: s.Vy, Vz: s.Vz,
	}
}

func samplesFromTrajectory(ss []trajectory.Sample) []trajectorySampleDTO {
	out := make([]trajectorySampleDTO, len(ss))
	for i, s := range ss {
		out[i] = sampleFromTrajectory(s)
	}
	return out
}

func sampleFromRecord(r persistence.TrajectoryRecord) trajectorySampleDTO {
	return trajectorySampleDTO{
		Timestamp: r.Timestamp, Lat: r.Lat, Lon: r.Lon, Alt: r.Alt,
		Vx: r.Vx, Vy: r.Vy, Vz: r.Vz,
	}
}

func samplesFromRecords(rs []persistence.TrajectoryRecord) []trajectorySampleDTO {
	out := make([]trajectorySampleDTO, len(rs))
	for i, r := range rs {
		out[i] = sampleFromRecord(r)
	}
	return out
}

type trajectoryResponse struct {
	envelope
	DroneID fleet.VehicleID       `json:"drone_id"`
	Samples []trajectorySampleDTO `json:"samples"`
}

type statisticsResponse struct {
	envelope
	WindowS        float64 `json:"window_s"`
	DroneCount     int     `json:"drone_count"`
	ActiveMissions int     `json:"active_missions"`
	ConflictCount  int     `json:"conflict_count"`
	AlertsDropped  float64 `json:"alerts_dropped"`

	UptimeS       float64 `json:"process_uptime_s"`
	CPUPercent    float64 `json:"process_cpu_percent"`
	MemoryRSSMB   float64 `json:"process_memory_rss_mb"`
	NumGoroutines int     `json:"process_goroutines"`
}

type conflictHistoryResponse struct {
	envelope
	Conflicts []conflictEventDTO `json:"conflicts"`
}

type conflictEventDTO struct {
	Timestamp time.Time   `json:"timestamp"`
	Conflict  conflictDTO `json:"conflict"`
}

type futureTrajectoriesResponse struct {
	envelope
	Segments []plannedSegmentDTO `json:"segments"`
}

type plannedSegmentDTO struct {
	DroneID   fleet.VehicleID `json:"drone_id"`
	MissionID string          `json:"mission_id"`
	Waypoints []waypointDTO   `json:"waypoints"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
}

type errorResponse struct {
	envelope
	Error string `json:"error"`
}
