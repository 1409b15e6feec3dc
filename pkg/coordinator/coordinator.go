// Package coordinator keeps a cached snapshot of the tracker cloud state for
// one installation, refreshing it on an interval and on demand after a
// session is logged.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/chargelog/chargelog/pkg/log"
	"github.com/chargelog/chargelog/pkg/metrics"
	"github.com/chargelog/chargelog/pkg/states"
	"github.com/chargelog/chargelog/pkg/types"
)

// StateFetcher is the slice of the tracker client the coordinator needs.
type StateFetcher interface {
	State(ctx context.Context) (types.TrackerState, error)
}

// Coordinator polls the tracker for one installation and caches the result.
// A snapshot is always available once the first refresh succeeds; consumers
// never hit the tracker directly.
type Coordinator struct {
	installID string
	fetcher   StateFetcher
	store     *states.Store
	interval  time.Duration

	mu        sync.RWMutex
	state     types.TrackerState
	hasState  bool
	connected bool
	lastErr   error
	updatedAt time.Time

	refreshCh chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
}

// New returns an unstarted Coordinator. interval must be positive.
func New(installID string, fetcher StateFetcher, store *states.Store, interval time.Duration) *Coordinator {
	return &Coordinator{
		installID: installID,
		fetcher:   fetcher,
		store:     store,
		interval:  interval,
		refreshCh: make(chan struct{}, 1),
	}
}

// ConnectedStateID is the state identifier the coordinator publishes its
// tracker reachability under.
func ConnectedStateID(installID string) string {
	return fmt.Sprintf("chargelog.%s.connected", installID)
}

// DerivedStateID is the state identifier a derived statistic is published
// under for the installation.
func DerivedStateID(installID, name string) string {
	return fmt.Sprintf("chargelog.%s.%s", installID, name)
}

// Start refreshes once synchronously and then begins the background loop.
// The first refresh failing is not fatal; the loop keeps retrying on the
// regular interval.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.refresh(ctx)
	go c.loop(loopCtx)
}

// Stop cancels the background loop and waits for it to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RequestRefresh schedules an immediate refresh. Non-blocking; a refresh
// already pending absorbs the request.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Snapshot returns the cached state and whether a refresh has ever
// succeeded.
func (c *Coordinator) Snapshot() (types.TrackerState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.hasState
}

// Connected reports whether the most recent refresh succeeded.
func (c *Coordinator) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// LastUpdated returns when the cached state was last refreshed successfully.
func (c *Coordinator) LastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

func (c *Coordinator) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refresh(ctx)
		case <-c.refreshCh:
			c.refresh(ctx)
			// the on-demand refresh resets the cadence
			ticker.Reset(c.interval)
		}
	}
}

func (c *Coordinator) refresh(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	st, err := c.fetcher.State(reqCtx)
	metrics.ObserveTrackerRequest("state", err)

	c.mu.Lock()
	if err != nil {
		wasConnected := c.connected
		c.connected = false
		c.lastErr = err
		c.mu.Unlock()
		metrics.RefreshesTotal.WithLabelValues("error").Inc()
		if wasConnected {
			log.Ctx(ctx).WarnContext(ctx, "tracker refresh failed",
				slog.String("installID", c.installID), slog.Any("error", err))
		}
		c.store.Set(ConnectedStateID(c.installID), "off")
		return
	}
	c.state = st
	c.hasState = true
	c.connected = true
	c.lastErr = nil
	c.updatedAt = time.Now()
	c.mu.Unlock()

	metrics.RefreshesTotal.WithLabelValues("ok").Inc()
	c.store.Set(ConnectedStateID(c.installID), "on")
	c.publishDerived(st)
	log.Ctx(ctx).DebugContext(ctx, "tracker state refreshed",
		slog.String("installID", c.installID), slog.Int("cars", len(st.Cars)))
}

// publishDerived pushes the statistic states external readers consume, so
// they stay current without hitting the HTTP API.
func (c *Coordinator) publishDerived(st types.TrackerState) {
	set := func(name, value string) {
		c.store.Set(DerivedStateID(c.installID, name), value)
	}
	if m := st.CurrentMonth; m != nil {
		set("month_energy_kwh", formatFloat(m.EnergyKWH))
		set("month_cost", formatFloat(m.TotalCostWithVAT))
		set("month_sessions", strconv.Itoa(m.SessionCount))
		set("month_avg_cost_per_kwh", formatFloat(m.AverageCostPerKWH))
	}
	if y := st.CurrentYear; y != nil {
		set("year_energy_kwh", formatFloat(y.EnergyKWH))
		set("year_cost", formatFloat(y.TotalCostWithVAT))
		set("year_sessions", strconv.Itoa(y.SessionCount))
	}
	if s := st.LastSession; s != nil {
		set("last_session_energy_kwh", formatFloat(s.EnergyKWH))
		if s.TotalCostWithVAT != nil {
			set("last_session_cost", formatFloat(*s.TotalCostWithVAT))
		}
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
