package types

import (
	"fmt"
	"strings"
)

// RateType is the pricing tier in effect for electricity consumption at a
// given moment, for dual-rate metering plans.
type RateType string

const (
	RateTypeHigh RateType = "HIGH"
	RateTypeLow  RateType = "LOW"
)

// ParseRateType normalizes a caller-supplied rate type. Input is accepted
// case-insensitively and normalized to upper case.
func ParseRateType(s string) (RateType, error) {
	switch RateType(strings.ToUpper(s)) {
	case RateTypeHigh:
		return RateTypeHigh, nil
	case RateTypeLow:
		return RateTypeLow, nil
	default:
		return "", fmt.Errorf("invalid rate type: %q", s)
	}
}

// TariffSource selects how the current rate type is determined for an
// installation. Exactly one is active; changing it replaces the settings
// wholesale and reloads the installation.
type TariffSource string

const (
	TariffSourceNone     TariffSource = "none"
	TariffSourceSchedule TariffSource = "schedule"
	TariffSourceEntity   TariffSource = "entity"
)

// WindowType is the polarity of the configured schedule windows: whether time
// spent inside them counts as the LOW or the HIGH tariff period.
type WindowType string

const (
	WindowTypeLow  WindowType = "low"
	WindowTypeHigh WindowType = "high"
)

// MaxTariffWindows is the number of schedule windows an installation may
// configure.
const MaxTariffWindows = 4

// TariffWindow is a single time-of-day interval, both ends as "HH:MM" strings.
// A window with only one end set is invalid configuration.
type TariffWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Configured reports whether the window has both ends set.
func (w TariffWindow) Configured() bool {
	return w.Start != "" && w.End != ""
}

// TariffSchedule is the schedule-sourced tariff configuration.
type TariffSchedule struct {
	Windows []TariffWindow `json:"windows"`

	// WindowType determines how the windows are interpreted: "low" means the
	// windows define the LOW tariff periods, "high" means they define the HIGH
	// periods and everything outside them is LOW.
	WindowType WindowType `json:"windowType"`

	// WeekendAlwaysLow forces Saturday and Sunday to LOW regardless of windows.
	WeekendAlwaysLow bool `json:"weekendAlwaysLow"`
}

// Validate checks the schedule for partial windows and window count.
func (s TariffSchedule) Validate() error {
	if len(s.Windows) > MaxTariffWindows {
		return fmt.Errorf("at most %d tariff windows allowed, got %d", MaxTariffWindows, len(s.Windows))
	}
	for i, w := range s.Windows {
		if (w.Start == "") != (w.End == "") {
			return fmt.Errorf("tariff window %d is partial: start=%q end=%q", i+1, w.Start, w.End)
		}
	}
	switch s.WindowType {
	case WindowTypeLow, WindowTypeHigh, "":
	default:
		return fmt.Errorf("invalid window type: %q", s.WindowType)
	}
	return nil
}

// PriceConfig holds the per-installation default prices used when a logged
// session doesn't carry explicit ones. Prices are per kWh without VAT.
type PriceConfig struct {
	UsePrices     bool    `json:"usePrices"`
	PriceHigh     float64 `json:"priceHigh"`
	PriceLow      float64 `json:"priceLow"`
	VATPercentage float64 `json:"vatPercentage"`
}
