// Package tariff implements the dual-rate electricity tariff logic: deciding
// whether the LOW tariff is currently active from a window schedule, and
// resolving the rate type and price to attach to a logged charging session.
package tariff

import (
	"context"
	"log/slog"
	"time"

	"github.com/chargelog/chargelog/pkg/log"
	"github.com/chargelog/chargelog/pkg/types"
)

// IsLowTariff reports whether the given instant falls in the LOW tariff period
// under the schedule. It is a pure function of the schedule and the instant.
func IsLowTariff(ctx context.Context, sched types.TariffSchedule, now time.Time) bool {
	// weekends short-circuit the window logic entirely when enabled
	if sched.WeekendAlwaysLow {
		if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return true
		}
	}

	cur := secondOfDay(now)
	inWindow := false
	for _, w := range sched.Windows {
		if !w.Configured() {
			continue
		}
		if timeInWindow(ctx, cur, w) {
			inWindow = true
			break
		}
	}

	// WindowTypeHigh means the windows define the HIGH periods, so being
	// outside every window is LOW.
	if sched.WindowType == types.WindowTypeHigh {
		return !inWindow
	}
	return inWindow
}

// timeInWindow checks whether the time-of-day (seconds since midnight) is
// inside the window, inclusive at both boundaries. A window whose start is
// after its end wraps past midnight (e.g. 22:00-06:00). A window that fails to
// parse never matches; the failure stays local to that window so one bad
// window doesn't poison the rest of the schedule.
func timeInWindow(ctx context.Context, cur int, w types.TariffWindow) bool {
	start, err := parseClock(w.Start)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid tariff window start",
			slog.String("start", w.Start), slog.Any("error", err))
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid tariff window end",
			slog.String("end", w.End), slog.Any("error", err))
		return false
	}

	if start <= end {
		return start <= cur && cur <= end
	}
	return cur >= start || cur <= end
}

// parseClock parses an "HH:MM" time-of-day into seconds since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*3600 + t.Minute()*60, nil
}

func secondOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}
