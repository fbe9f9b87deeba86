package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/skylane/fleetcore/internal/alert"
	"github.com/skylane/fleetcore/internal/core"
	"github.com/skylane/fleetcore/internal/corelog"
	"github.com/skylane/fleetcore/internal/fleet"
	"github.com/skylane/fleetcore/internal/mission"
)

// Server is the public HTTP surface and WebSocket event channel from
// §6, routed with gorilla/mux.
type Server struct {
	core      *core.Core
	lg        *corelog.Logger
	hub       *hub
	startTime time.Time
}

// NewServer builds a Server over core.
func NewServer(c *core.Core, lg *corelog.Logger) *Server {
	return &Server{core: c, lg: lg, hub: newHub(c, lg), startTime: time.Now()}
}

// Router builds the gorilla/mux router serving every route in §6's
// HTTP table plus the WebSocket upgrade endpoint and the Prometheus
// metrics endpoint.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/drones", s.handleDrones).Methods(http.MethodGet)
	r.HandleFunc("/api/missions", s.handleMissions).Methods(http.MethodGet)
	r.HandleFunc("/api/schedule", s.handleSchedule).Methods(http.MethodPost)
	r.HandleFunc("/api/control/{drone_id}", s.handleControl).Methods(http.MethodPost)
	r.HandleFunc("/api/emergency", s.handleEmergency).Methods(http.MethodPost)
	r.HandleFunc("/api/trajectory/{drone_id}", s.handleTrajectory).Methods(http.MethodGet)
	r.HandleFunc("/api/history/trajectory/{drone_id}", s.handleHistoryTrajectory).Methods(http.MethodGet)
	r.HandleFunc("/api/history/statistics", s.handleHistoryStatistics).Methods(http.MethodGet)
	r.HandleFunc("/api/history/conflicts", s.handleHistoryConflicts).Methods(http.MethodGet)
	r.HandleFunc("/api/future/trajectories", s.handleFutureTrajectories).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.handleUpgrade)
	r.Handle("/metrics", s.core.Metrics.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{envelope: envelope{Success: false}, Error: err.Error()})
}

func (s *Server) handleDrones(w http.ResponseWriter, r *http.Request) {
	states, err := s.core.Driver.StatusAll(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	drones := make([]droneDTO, 0, len(states))
	for _, st := range states {
		drones = append(drones, droneFromState(st))
	}
	writeJSON(w, http.StatusOK, dronesResponse{envelope: envelope{Success: true}, Drones: drones})
}

func (s *Server) handleMissions(w http.ResponseWriter, r *http.Request) {
	active := s.core.Missions.ListActive()
	out := make([]missionDTO, len(active))
	for i, m := range active {
		out[i] = missionFromDomain(m)
	}
	writeJSON(w, http.StatusOK, missionsResponse{envelope: envelope{Success: true}, Missions: out})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.DroneID == "" || len(req.Waypoints) < 2 {
		writeError(w, http.StatusBadRequest, errInvalidScheduleRequest)
		return
	}

	now := time.Now().UTC()
	start := now
	if req.StartTime != nil {
		start = *req.StartTime
	}
	end := start.Add(5 * time.Minute)
	if req.EndTime != nil {
		end = *req.EndTime
	}

	result, err := s.core.ScheduleMission(r.Context(), mission.Candidate{
		Vehicle: req.DroneID,
		Plan:    planFromWaypoints(req.Waypoints),
		Start:   start,
		End:     end,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !result.Accepted {
		writeJSON(w, http.StatusConflict, scheduleRejectedResponse{
			envelope:  envelope{Success: false},
			Conflicts: conflictsFromDomain(result.Conflicts),
		})
		return
	}
	writeJSON(w, http.StatusOK, scheduleAcceptedResponse{
		envelope:  envelope{Success: true},
		MissionID: result.MissionID,
	})
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	vehicle := fleet.VehicleID(mux.Vars(r)["drone_id"])

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cmd, err := parseCommand(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ack, err := s.core.Driver.Command(r.Context(), vehicle, cmd)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{envelope: envelope{Success: true}, Ack: ack.Detail})
}

func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request) {
	if err := s.core.Driver.EmergencyStopAll(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

func (s *Server) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	vehicle := fleet.VehicleID(mux.Vars(r)["drone_id"])
	samples := s.core.Trajectories.Slice(vehicle, time.Time{}, time.Now().UTC())
	writeJSON(w, http.StatusOK, trajectoryResponse{
		envelope: envelope{Success: true},
		DroneID:  vehicle,
		Samples:  samplesFromTrajectory(samples),
	})
}

func (s *Server) handleHistoryTrajectory(w http.ResponseWriter, r *http.Request) {
	vehicle := fleet.VehicleID(mux.Vars(r)["drone_id"])
	from, to, err := parseTimeRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	records, err := s.core.Store.RangeTrajectory(r.Context(), vehicle, from, to)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, trajectoryResponse{
		envelope: envelope{Success: true},
		DroneID:  vehicle,
		Samples:  samplesFromRecords(records),
	})
}

func (s *Server) handleHistoryStatistics(w http.ResponseWriter, r *http.Request) {
	windowS := 60.0
	if raw := r.URL.Query().Get("window"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			windowS = v
		}
	}
	snap, _ := s.core.Broadcaster.LastSnapshot()
	proc := s.collectProcessStats()
	writeJSON(w, http.StatusOK, statisticsResponse{
		envelope:       envelope{Success: true},
		WindowS:        windowS,
		DroneCount:     len(snap.Vehicles),
		ActiveMissions: len(s.core.Missions.ListActive()),
		ConflictCount:  len(snap.Conflicts),
		AlertsDropped:  alert.CounterValue(s.core.Metrics.AlertsDropped),
		UptimeS:        proc.UptimeS,
		CPUPercent:     proc.CPUPercent,
		MemoryRSSMB:    proc.MemoryRSSMB,
		NumGoroutines:  proc.NumGoroutines,
	})
}

func (s *Server) handleHistoryConflicts(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseTimeRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	records, err := s.core.Store.RangeConflicts(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	out := make([]conflictEventDTO, len(records))
	for i, rec := range records {
		out[i] = conflictEventDTO{Timestamp: rec.Timestamp, Conflict: conflictFromDomain(rec.Conflict)}
	}
	writeJSON(w, http.StatusOK, conflictHistoryResponse{envelope: envelope{Success: true}, Conflicts: out})
}

func (s *Server) handleFutureTrajectories(w http.ResponseWriter, r *http.Request) {
	_, _, err := parseTimeRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	active := s.core.Missions.ListActive()
	segments := make([]plannedSegmentDTO, 0, len(active))
	for _, m := range active {
		if m.State != mission.StateScheduled && m.State != mission.StateRunning {
			continue
		}
		segments = append(segments, plannedSegmentDTO{
			DroneID:   m.Vehicle,
			MissionID: m.ID,
			Waypoints: waypointsFromPlan(m.Plan),
			StartTime: m.Start,
			EndTime:   m.End,
		})
	}
	writeJSON(w, http.StatusOK, futureTrajectoriesResponse{envelope: envelope{Success: true}, Segments: segments})
}

func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from := time.Time{}
	to := time.Now().UTC()
	if raw := q.Get("start_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if raw := q.Get("end_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	return from, to, nil
}

func parseCommand(req controlRequest) (fleet.Command, error) {
	switch req.Command {
	case "ARM":
		return fleet.Command{Kind: fleet.CmdArm}, nil
	case "DISARM":
		return fleet.Command{Kind: fleet.CmdDisarm}, nil
	case "TAKEOFF":
		return fleet.Command{Kind: fleet.CmdTakeoff, TakeoffAlt: req.Alt}, nil
	case "LAND":
		return fleet.Command{Kind: fleet.CmdLand}, nil
	case "RTL":
		return fleet.Command{Kind: fleet.CmdRTL}, nil
	case "GOTO":
		return fleet.Command{Kind: fleet.CmdGoto, Lat: req.Lat, Lon: req.Lon, Alt: req.Alt}, nil
	case "STOP":
		return fleet.Command{Kind: fleet.CmdStop}, nil
	default:
		return fleet.Command{}, errUnknownCommand
	}
}

var (
	errInvalidScheduleRequest = schedError("drone_id and at least two waypoints are required")
	errUnknownCommand         = schedError("unknown command")
)

type schedError string

func (e schedError) Error() string { return string(e) }
