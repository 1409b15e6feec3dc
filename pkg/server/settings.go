package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/chargelog/chargelog/pkg/log"
	"github.com/chargelog/chargelog/pkg/tracker"
	"github.com/chargelog/chargelog/pkg/types"
)

type settingsWithVersion struct {
	types.Settings
	version int
}

func (s *Server) getSettingsWithMigration(ctx context.Context, installID string) (settingsWithVersion, error) {
	settings, version, err := s.storage.GetSettings(ctx, installID)
	if err != nil {
		return settingsWithVersion{}, err
	}
	sv := settingsWithVersion{
		Settings: settings,
		version:  version,
	}

	// Check for migration
	if version > 0 && version < types.CurrentSettingsVersion {
		log.Ctx(ctx).InfoContext(ctx, "migrating settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
		newSettings, changed, err := types.MigrateSettings(settings, version)
		if err != nil {
			// Log error but return settings as is (best effort)
			log.Ctx(ctx).ErrorContext(ctx, "failed to migrate settings", slog.Int("currentVersion", version), slog.Any("error", err))
		} else if changed {
			sv.Settings = newSettings
			sv.version = types.CurrentSettingsVersion
			if err := s.storage.SetSettings(ctx, installID, newSettings, types.CurrentSettingsVersion); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to save migrated settings", slog.Any("error", err))
				// Return migrated settings even if save failed, so current request works with new defaults
			} else {
				log.Ctx(ctx).InfoContext(ctx, "saved migrated settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
			}
		}
	}

	return sv, nil
}

// SettingsRes is the response type for GetSettings. The API key never leaves
// the server; callers only learn whether one is stored.
type SettingsRes struct {
	types.Settings
	HasAPIKey bool `json:"hasAPIKey"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	installID := s.getInstallID(r)
	sv, err := s.getSettingsWithMigration(ctx, installID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	resp := SettingsRes{
		Settings:  sv.Settings,
		HasAPIKey: sv.APIKey != "",
	}
	resp.APIKey = ""

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, resp)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	installID := s.getInstallID(r)

	var req struct {
		types.Settings
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	newSettings := req.Settings

	// Get existing settings to preserve the API key when the request omits it
	existing, _, err := s.storage.GetSettings(ctx, installID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	keyChanged := newSettings.APIKey != "" && newSettings.APIKey != existing.APIKey
	if newSettings.APIKey == "" {
		newSettings.APIKey = existing.APIKey
	}

	if err := newSettings.Validate(); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// a new key is verified against the tracker before we commit to it
	if keyChanged {
		ok, err := s.newClient(newSettings.APIKey).ValidateKey(ctx)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to validate api key", slog.Any("error", err))
			writeJSONError(w, fmt.Sprintf("failed to reach tracker: %v", err), http.StatusBadGateway)
			return
		}
		if !ok {
			writeJSONError(w, "api key rejected by tracker", http.StatusBadRequest)
			return
		}
	}

	if err := s.storage.SetSettings(ctx, installID, newSettings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}

	// restart the installation machinery with the new settings
	s.startInstall(ctx, installID, settingsWithVersion{
		Settings: newSettings,
		version:  types.CurrentSettingsVersion,
	})

	log.Ctx(ctx).InfoContext(ctx, "settings updated", slog.String("installID", installID))
	w.WriteHeader(http.StatusOK)
}

// mapTrackerError translates a tracker client error into an HTTP status and
// message for the caller.
func mapTrackerError(err error) (int, string) {
	switch e := err.(type) {
	case *tracker.AuthError:
		return http.StatusBadGateway, "tracker authentication failed"
	case *tracker.RateLimitError:
		return http.StatusTooManyRequests, e.Error()
	case *tracker.ServerError:
		return http.StatusBadGateway, "tracker server error"
	case *tracker.APIError:
		return http.StatusBadRequest, e.Message
	default:
		return http.StatusBadGateway, "tracker unreachable"
	}
}
