package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/chargelog/chargelog/pkg/log"
	"github.com/chargelog/chargelog/pkg/metrics"
	"github.com/chargelog/chargelog/pkg/tariff"
	"github.com/chargelog/chargelog/pkg/types"
)

// StateRes is the response type for GetState.
type StateRes struct {
	Connected   bool                `json:"connected"`
	LastUpdated *time.Time          `json:"lastUpdated,omitempty"`
	LowTariff   *bool               `json:"lowTariff,omitempty"`
	State       *types.TrackerState `json:"state,omitempty"`
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	installID := s.getInstallID(r)

	inst, err := s.getInstall(ctx, installID)
	if err != nil {
		if errors.Is(err, errNotConfigured) {
			writeJSONError(w, "installation not configured", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get installation", slog.Any("error", err))
		writeJSONError(w, "failed to load installation", http.StatusInternalServerError)
		return
	}

	resp := StateRes{Connected: inst.coord.Connected()}
	if st, ok := inst.coord.Snapshot(); ok {
		resp.State = &st
		updated := inst.coord.LastUpdated()
		resp.LastUpdated = &updated
	}
	// the derived low-tariff indicator, when a tariff source is configured
	if state, ok := s.states.State(tariff.LowTariffStateID(installID)); ok {
		low := state == "on"
		resp.LowTariff = &low
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, resp)
}

func (s *Server) handleListCars(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	installID := s.getInstallID(r)

	inst, err := s.getInstall(ctx, installID)
	if err != nil {
		if errors.Is(err, errNotConfigured) {
			writeJSONError(w, "installation not configured", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get installation", slog.Any("error", err))
		writeJSONError(w, "failed to load installation", http.StatusInternalServerError)
		return
	}

	cars, err := inst.client.Cars(ctx)
	metrics.ObserveTrackerRequest("cars", err)
	if err != nil {
		code, msg := mapTrackerError(err)
		log.Ctx(ctx).WarnContext(ctx, "failed to list cars", slog.Any("error", err))
		writeJSONError(w, msg, code)
		return
	}
	writeJSON(w, cars)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	installID := s.getInstallID(r)

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, "invalid start time", http.StatusBadRequest)
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, "invalid end time", http.StatusBadRequest)
			return
		}
		end = t
	}
	if !start.Before(end) {
		writeJSONError(w, "start must be before end", http.StatusBadRequest)
		return
	}

	recs, err := s.storage.GetSessionLogHistory(ctx, installID, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get session history", slog.Any("error", err))
		writeJSONError(w, "failed to get session history", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []types.SessionLogRecord{}
	}
	writeJSON(w, recs)
}

// handleSetEntityState accepts a pushed entity state, the channel an
// external system uses to feed the entity tariff source (for example a
// binary sensor mirroring the grid operator's ripple control signal).
func (s *Server) handleSetEntityState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, "state id required", http.StatusBadRequest)
		return
	}

	var req struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.State == "" {
		writeJSONError(w, "state required", http.StatusBadRequest)
		return
	}

	s.states.Set(id, req.State)
	log.Ctx(ctx).DebugContext(ctx, "entity state pushed",
		slog.String("id", id), slog.String("state", req.State))
	w.WriteHeader(http.StatusOK)
}
