// Package server exposes the chargelog HTTP API: logging charging sessions
// with tariff and price auto-detection, reading the cached tracker state, and
// managing per-installation settings.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chargelog/chargelog/pkg/log"
	"github.com/chargelog/chargelog/pkg/states"
	"github.com/chargelog/chargelog/pkg/storage"
	"github.com/chargelog/chargelog/pkg/tracker"
	"github.com/chargelog/chargelog/pkg/types"
)

type contextKey string

const installIDContextKey contextKey = "installID"

// SingleInstallID is the installation ID used when running in single-install
// mode without explicit IDs.
const SingleInstallID = "default"

// tokenVerifier is a function that validates an OIDC ID token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// trackerClient is the slice of the tracker cloud API the server uses. The
// real implementation is *tracker.Client.
type trackerClient interface {
	Cars(ctx context.Context) ([]types.Car, error)
	State(ctx context.Context) (types.TrackerState, error)
	LogSession(ctx context.Context, p tracker.SessionPayload) (*types.Session, error)
	LogSessionSimple(ctx context.Context, p tracker.SessionPayload) (*types.Session, error)
	ValidateKey(ctx context.Context) (bool, error)
}

// Server handles the HTTP API and the per-installation machinery: one
// tracker client, coordinator, and tariff monitor per installation.
type Server struct {
	storage  storage.Database
	states   *states.Store
	installs *installRegistry

	listenAddr string
	httpServer *http.Server

	apiTokens      []string
	oidcAudience   string
	oidcVerifier   tokenVerifier
	bypassAuth     bool
	singleInstall  bool
	trackerBaseURL string
	serverName     string

	// newClient builds the tracker client for an installation. Tests swap
	// this out.
	newClient func(apiKey string) trackerClient
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(db storage.Database) *Server {
	srv := &Server{
		storage:    db,
		states:     states.NewStore(),
		installs:   newInstallRegistry(),
		serverName: "chargelog",
	}
	srv.newClient = func(apiKey string) trackerClient {
		return tracker.New(apiKey, srv.trackerBaseURL)
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	apiTokens := lflag.String("api-tokens", "", "comma-delimited list of bearer tokens allowed to call the API")
	oidcAudience := lflag.String("oidc-audience", "", "audience/client ID to validate Google ID tokens against")
	trackerBaseURL := lflag.String("tracker-base-url", "", "Override the tracker API base URL")
	singleInstall := lflag.Bool("single-install", false, "Enable single-install mode (installID defaults to \"default\")")
	bypassAuth := lflag.Bool("bypass-auth", false, "Disable API authentication (development only)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *apiTokens != "" {
			srv.apiTokens = strings.Split(*apiTokens, ",")
			for i, t := range srv.apiTokens {
				srv.apiTokens[i] = strings.TrimSpace(t)
			}
		}
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.oidcVerifier = provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify
			srv.oidcAudience = *oidcAudience
		}
		srv.trackerBaseURL = *trackerBaseURL
		srv.singleInstall = *singleInstall
		srv.bypassAuth = *bypassAuth

		if len(srv.apiTokens) == 0 && srv.oidcVerifier == nil && !srv.bypassAuth {
			log.Ctx(context.Background()).Error("no api-tokens or oidc-audience configured; refusing to serve unauthenticated (use -bypass-auth for development)")
			os.Exit(1)
		}
	})

	return srv
}

// States returns the server's state store, which carries the entity states
// the tariff resolver reads and the derived states it publishes.
func (s *Server) States() *states.Store {
	return s.states
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/sessions", s.handleLogSession)
	apiMux.HandleFunc("POST /api/sessions/simple", s.handleLogSessionSimple)
	apiMux.HandleFunc("GET /api/state", s.handleGetState)
	apiMux.HandleFunc("GET /api/cars", s.handleListCars)
	apiMux.HandleFunc("GET /api/settings", s.handleGetSettings)
	apiMux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	apiMux.HandleFunc("GET /api/history/sessions", s.handleSessionHistory)
	apiMux.HandleFunc("POST /api/states/{id}", s.handleSetEntityState)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

func (s *Server) getInstallID(r *http.Request) string {
	if installID, ok := r.Context().Value(installIDContextKey).(string); ok {
		return installID
	}
	// we want to have a stack trace when this happens
	panic("no installID in context")
}

// Run starts the HTTP server and blocks until the context is canceled or an
// error occurs. It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.LoadInstallations(ctx); err != nil {
		return fmt.Errorf("failed to load installations: %w", err)
	}
	defer s.StopInstallations()

	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
