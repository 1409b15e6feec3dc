package server

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/chargelog/chargelog/pkg/log"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		if !s.bypassAuth {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, "missing authorization", http.StatusUnauthorized)
				return
			}
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
				writeJSONError(w, "invalid auth header", http.StatusBadRequest)
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if !s.authenticateToken(ctx, token) {
				log.Ctx(ctx).WarnContext(ctx, "unauthenticated request")
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		// extract installID, from the query or the body
		installID := r.URL.Query().Get("installID")
		if installID == "" && r.Method != http.MethodGet {
			// read body to find installID
			var bodyBytes []byte
			if r.Body != nil {
				// Limit body size to 1MB to prevent DoS
				r.Body = http.MaxBytesReader(w, r.Body, 1048576)
				var err error
				bodyBytes, err = io.ReadAll(r.Body)
				if err != nil {
					log.Ctx(ctx).ErrorContext(ctx, "failed to read request body", slog.Any("error", err))
					// since we failed to read, don't return JSON error
					http.Error(w, "invalid request", http.StatusBadRequest)
					return
				}
				// restore body for next handler
				r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			}

			// try to unmarshal just the installID
			if len(bodyBytes) > 0 {
				var justInstallID struct {
					InstallID string `json:"installID"`
				}
				if err := json.Unmarshal(bodyBytes, &justInstallID); err != nil {
					log.Ctx(ctx).ErrorContext(ctx, "failed to unmarshal request body", slog.Any("error", err))
					// since we failed to read, don't return JSON error
					http.Error(w, "invalid request", http.StatusBadRequest)
					return
				}
				installID = justInstallID.InstallID
			}
		}

		if installID == "" {
			if s.singleInstall {
				installID = SingleInstallID
			} else {
				log.Ctx(ctx).WarnContext(ctx, "installID required")
				writeJSONError(w, "installID required", http.StatusBadRequest)
				return
			}
		}

		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("authInstallID", installID)))
		ctx = context.WithValue(ctx, installIDContextKey, installID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticateToken accepts either one of the configured static bearer
// tokens or, when an OIDC audience is configured, a valid Google ID token.
func (s *Server) authenticateToken(ctx context.Context, token string) bool {
	for _, t := range s.apiTokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(t)) == 1 {
			return true
		}
	}
	if s.oidcVerifier != nil {
		idToken, err := s.oidcVerifier(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "id token validation failed", slog.Any("error", err))
			return false
		}
		log.Ctx(ctx).DebugContext(ctx, "id token validated", slog.String("subject", idToken.Subject))
		return true
	}
	return false
}
