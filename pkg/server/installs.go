package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chargelog/chargelog/pkg/coordinator"
	"github.com/chargelog/chargelog/pkg/log"
	"github.com/chargelog/chargelog/pkg/metrics"
	"github.com/chargelog/chargelog/pkg/tariff"
	"github.com/chargelog/chargelog/pkg/types"
)

var errNotConfigured = errors.New("installation not configured")

// install is the running machinery for one installation: the tracker client,
// the coordinator polling it, and the monitor tracking the low-tariff state.
type install struct {
	id       string
	settings types.Settings
	version  int
	client   trackerClient
	coord    *coordinator.Coordinator
	monitor  *tariff.Monitor
}

func (i *install) stop() {
	i.coord.Stop()
	i.monitor.Stop()
}

type installRegistry struct {
	mu sync.Mutex
	m  map[string]*install
}

func newInstallRegistry() *installRegistry {
	return &installRegistry{m: make(map[string]*install)}
}

func (r *installRegistry) get(id string) (*install, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.m[id]
	return inst, ok
}

// swap stores inst under its ID and returns the previous entry, if any.
func (r *installRegistry) swap(inst *install) *install {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.m[inst.id]
	r.m[inst.id] = inst
	metrics.InstallationsActive.Set(float64(len(r.m)))
	return old
}

func (r *installRegistry) all() []*install {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*install, 0, len(r.m))
	for _, inst := range r.m {
		out = append(out, inst)
	}
	return out
}

// LoadInstallations starts the machinery for every installation with saved
// settings. A single broken installation is skipped, not fatal.
func (s *Server) LoadInstallations(ctx context.Context) error {
	ids, err := s.storage.ListInstallations(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := s.getInstall(ctx, id); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping installation",
				slog.String("installID", id), slog.Any("error", err))
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "installations loaded", slog.Int("count", len(ids)))
	return nil
}

// StopInstallations stops every running installation.
func (s *Server) StopInstallations() {
	for _, inst := range s.installs.all() {
		inst.stop()
	}
}

// getInstall returns the running installation, starting it from stored
// settings on first use. Returns errNotConfigured when no settings have ever
// been saved.
func (s *Server) getInstall(ctx context.Context, installID string) (*install, error) {
	if inst, ok := s.installs.get(installID); ok {
		return inst, nil
	}

	sv, err := s.getSettingsWithMigration(ctx, installID)
	if err != nil {
		return nil, err
	}
	if sv.version == 0 && sv.APIKey == "" {
		return nil, errNotConfigured
	}
	return s.startInstall(ctx, installID, sv), nil
}

// startInstall spins up the machinery for the settings and registers it,
// stopping any previous machinery for the same installation.
func (s *Server) startInstall(ctx context.Context, installID string, sv settingsWithVersion) *install {
	interval := time.Duration(sv.UpdateIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = types.DefaultUpdateIntervalSeconds * time.Second
	}

	client := s.newClient(sv.APIKey)
	inst := &install{
		id:       installID,
		settings: sv.Settings,
		version:  sv.version,
		client:   client,
		coord:    coordinator.New(installID, client, s.states, interval),
		monitor:  tariff.NewMonitor(installID, sv.Settings, s.states),
	}

	// detach from the request so the background loops outlive it
	bgCtx := log.With(context.Background(), log.Ctx(ctx).With(slog.String("installID", installID)))
	inst.coord.Start(bgCtx)
	inst.monitor.Start(bgCtx)

	if old := s.installs.swap(inst); old != nil {
		old.stop()
	}
	log.Ctx(ctx).InfoContext(ctx, "installation started",
		slog.String("installID", installID),
		slog.String("tariffSource", string(sv.TariffSource)),
		slog.Duration("interval", interval))
	return inst
}
