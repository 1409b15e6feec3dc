package tariff

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chargelog/chargelog/pkg/log"
	"github.com/chargelog/chargelog/pkg/states"
	"github.com/chargelog/chargelog/pkg/types"
)

// LowTariffStateID is the state identifier a Monitor publishes the current
// low-tariff indicator under for the given installation.
func LowTariffStateID(installID string) string {
	return fmt.Sprintf("chargelog.%s.low_tariff", installID)
}

// Monitor keeps a published "on"/"off" low-tariff state current for one
// installation. With a schedule source it re-evaluates the windows at the top
// of every minute; with an entity source it follows the tracked entity's
// state changes. With no tariff source it publishes nothing.
type Monitor struct {
	installID string
	settings  types.Settings
	store     *states.Store

	mu      sync.Mutex
	cron    *cron.Cron
	unsub   func()
	started bool
}

// NewMonitor returns an unstarted Monitor for the installation.
func NewMonitor(installID string, settings types.Settings, store *states.Store) *Monitor {
	return &Monitor{
		installID: installID,
		settings:  settings,
		store:     store,
	}
}

// Start publishes the current indicator immediately and begins tracking.
// Starting an already-started Monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	switch m.settings.TariffSource {
	case types.TariffSourceSchedule:
		m.publishSchedule(ctx)
		c := cron.New()
		// top of every minute, so boundary crossings show up promptly
		_, err := c.AddFunc("* * * * *", func() {
			m.publishSchedule(ctx)
		})
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to schedule tariff tick",
				slog.Any("error", err))
			return
		}
		c.Start()
		m.cron = c
	case types.TariffSourceEntity:
		if m.settings.TariffEntity == "" {
			return
		}
		if state, ok := m.store.State(m.settings.TariffEntity); ok {
			m.publishEntity(ctx, state)
		}
		m.unsub = m.store.Subscribe(m.settings.TariffEntity, func(state string) {
			m.publishEntity(ctx, state)
		})
	}
}

// Stop halts tracking. The last published state is left in place.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
	m.started = false
}

func (m *Monitor) publishSchedule(ctx context.Context) {
	m.publish(ctx, IsLowTariff(ctx, m.settings.Schedule, time.Now()))
}

func (m *Monitor) publishEntity(ctx context.Context, state string) {
	m.publish(ctx, IsLowState(state))
}

func (m *Monitor) publish(ctx context.Context, low bool) {
	state := "off"
	if low {
		state = "on"
	}
	id := LowTariffStateID(m.installID)
	if prev, ok := m.store.State(id); ok && prev == state {
		return
	}
	m.store.Set(id, state)
	log.Ctx(ctx).DebugContext(ctx, "low tariff state changed",
		slog.String("installID", m.installID), slog.String("state", state))
}
