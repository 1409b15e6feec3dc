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
	"github.com/chargelog/chargelog/pkg/tracker"
	"github.com/chargelog/chargelog/pkg/types"
)

// sessionReq is the request body for both session endpoints. RateType is kept
// raw so an invalid value can be rejected before any auto-detection runs.
type sessionReq struct {
	InstallID string `json:"installID"`

	EnergyKWH float64    `json:"energyKWH"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	CarID     *int64     `json:"carID,omitempty"`

	RateType      string   `json:"rateType,omitempty"`
	PricePerKWH   *float64 `json:"pricePerKWH,omitempty"`
	VATPercentage *float64 `json:"vatPercentage,omitempty"`

	Location     string `json:"location,omitempty"`
	ExternalID   string `json:"externalID,omitempty"`
	Provider     string `json:"provider,omitempty"`
	EnergySource string `json:"energySource,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

func (s *Server) handleLogSession(w http.ResponseWriter, r *http.Request) {
	s.logSession(w, r, false)
}

func (s *Server) handleLogSessionSimple(w http.ResponseWriter, r *http.Request) {
	s.logSession(w, r, true)
}

func (s *Server) logSession(w http.ResponseWriter, r *http.Request, simple bool) {
	ctx := r.Context()
	installID := s.getInstallID(r)

	var req sessionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode session request", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.EnergyKWH <= 0 {
		writeJSONError(w, "energyKWH must be positive", http.StatusBadRequest)
		return
	}

	// an explicit rate type must be HIGH or LOW; anything else is rejected
	// before auto-detection runs
	var explicit *types.RateType
	if req.RateType != "" {
		rt, err := types.ParseRateType(req.RateType)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		explicit = &rt
	}

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

	now := time.Now()
	rate := tariff.ResolveRateType(ctx, explicit, inst.settings, s.states, now)

	payload := tracker.SessionPayload{
		EnergyKWH:    req.EnergyKWH,
		CarID:        req.CarID,
		Location:     req.Location,
		ExternalID:   req.ExternalID,
		EnergySource: req.EnergySource,
	}
	if req.StartTime != nil {
		payload.StartTime = req.StartTime.Format(time.RFC3339)
	}
	if req.EndTime != nil {
		payload.EndTime = req.EndTime.Format(time.RFC3339)
	}
	if payload.CarID == nil && inst.settings.CarID != 0 {
		carID := inst.settings.CarID
		payload.CarID = &carID
	}
	if rate != nil {
		payload.RateType = string(*rate)
	}

	var price, vat *float64
	if simple {
		// the simple endpoint lets the tracker price the session itself
		session, err := inst.client.LogSessionSimple(ctx, payload)
		s.finishLogSession(w, r, inst, req, rate, explicit, nil, nil, session, err)
		return
	}

	price, vat = tariff.ResolvePrice(req.PricePerKWH, req.VATPercentage, inst.settings.Prices, rate)
	payload.Provider = req.Provider
	payload.Notes = req.Notes
	payload.PricePerKWH = price
	payload.VATPercentage = vat

	session, err := inst.client.LogSession(ctx, payload)
	s.finishLogSession(w, r, inst, req, rate, explicit, price, vat, session, err)
}

func (s *Server) finishLogSession(w http.ResponseWriter, r *http.Request, inst *install, req sessionReq, rate, explicit *types.RateType, price, vat *float64, session *types.Session, err error) {
	ctx := r.Context()
	metrics.ObserveTrackerRequest("logSession", err)
	if err != nil {
		code, msg := mapTrackerError(err)
		metrics.SessionLogFailuresTotal.WithLabelValues(errorKind(err)).Inc()
		log.Ctx(ctx).WarnContext(ctx, "failed to log session",
			slog.Float64("energyKWH", req.EnergyKWH), slog.Any("error", err))
		writeJSONError(w, msg, code)
		return
	}

	resolution := rateResolution(explicit, rate, inst.settings.TariffSource)
	rec := types.SessionLogRecord{
		Time:           time.Now().UTC(),
		EnergyKWH:      req.EnergyKWH,
		RateType:       rate,
		PricePerKWH:    price,
		VATPercentage:  vat,
		RateResolution: resolution,
		ExternalID:     req.ExternalID,
	}
	if session != nil {
		rec.SessionID = session.ID
		rec.CarID = session.CarID
	}
	// journal failures don't fail the request; the session already made it to
	// the tracker
	if err := s.storage.InsertSessionLog(ctx, inst.id, rec); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to journal session", slog.Any("error", err))
	}

	rateLabel := "none"
	if rate != nil {
		rateLabel = string(*rate)
	}
	metrics.SessionsLoggedTotal.WithLabelValues(rateLabel, resolution).Inc()

	// the new session should show up in the cached state promptly
	inst.coord.RequestRefresh()

	log.Ctx(ctx).InfoContext(ctx, "session logged",
		slog.Float64("energyKWH", req.EnergyKWH),
		slog.String("rateType", rateLabel),
		slog.String("resolution", resolution))
	writeJSON(w, session)
}

// rateResolution reports where the rate type attached to a session came
// from, for the journal and metrics.
func rateResolution(explicit, resolved *types.RateType, source types.TariffSource) string {
	if explicit != nil {
		return "explicit"
	}
	if resolved == nil {
		return "none"
	}
	return string(source)
}

func errorKind(err error) string {
	switch err.(type) {
	case *tracker.AuthError:
		return "auth"
	case *tracker.RateLimitError:
		return "rateLimit"
	case *tracker.ServerError:
		return "server"
	case *tracker.APIError:
		return "validation"
	default:
		return "transport"
	}
}
