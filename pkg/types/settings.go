package types

import (
	"fmt"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 3

// DefaultUpdateIntervalSeconds is how often the coordinator polls the tracker
// cloud API when the installation doesn't configure an interval.
const DefaultUpdateIntervalSeconds = 300

// DefaultVATPercentage is the VAT rate applied when prices are enabled without
// an explicit VAT configuration.
const DefaultVATPercentage = 21.0

// Settings is the per-installation configuration stored in the database. It is
// loaded once when the installation starts and replaced wholesale on
// reconfiguration, which reloads the installation.
type Settings struct {
	// APIKey authenticates against the tracker cloud API.
	APIKey string `json:"apiKey"`

	// CarID and CarName identify the vehicle this installation tracks.
	CarID   int64  `json:"carID"`
	CarName string `json:"carName"`

	// UpdateIntervalSeconds is the coordinator poll interval.
	UpdateIntervalSeconds int `json:"updateIntervalSeconds"`

	// Tariff configuration. TariffEntity is only consulted when TariffSource
	// is "entity"; Schedule only when it is "schedule".
	TariffSource TariffSource   `json:"tariffSource"`
	TariffEntity string         `json:"tariffEntity,omitempty"`
	Schedule     TariffSchedule `json:"schedule"`

	// Default prices attached to sessions logged without explicit ones.
	Prices PriceConfig `json:"prices"`
}

// Validate checks the settings for the invariants the resolver and evaluator
// rely on.
func (s Settings) Validate() error {
	if s.APIKey == "" {
		return fmt.Errorf("apiKey is required")
	}
	switch s.TariffSource {
	case TariffSourceNone, TariffSourceEntity, "":
	case TariffSourceSchedule:
		if len(s.Schedule.Windows) == 0 || !s.Schedule.Windows[0].Configured() {
			return fmt.Errorf("schedule tariff source requires at least the first window")
		}
	default:
		return fmt.Errorf("invalid tariff source: %q", s.TariffSource)
	}
	if s.TariffSource == TariffSourceEntity && s.TariffEntity == "" {
		return fmt.Errorf("entity tariff source requires tariffEntity")
	}
	if err := s.Schedule.Validate(); err != nil {
		return err
	}
	if s.Prices.PriceHigh < 0 || s.Prices.PriceLow < 0 || s.Prices.VATPercentage < 0 {
		return fmt.Errorf("prices cannot be negative")
	}
	return nil
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made,
// and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	// Loop through versions to apply migrations sequentially
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial defaults
			if s.UpdateIntervalSeconds == 0 {
				s.UpdateIntervalSeconds = DefaultUpdateIntervalSeconds
				migrated = true
			}
			if s.TariffSource == "" {
				s.TariffSource = TariffSourceNone
				migrated = true
			}
		case 2:
			// version 2: window type became explicit
			if s.Schedule.WindowType == "" {
				s.Schedule.WindowType = WindowTypeLow
				migrated = true
			}
		case 3:
			// version 3: default VAT for installations that enabled prices
			// before VAT was configurable
			if s.Prices.UsePrices && s.Prices.VATPercentage == 0 {
				s.Prices.VATPercentage = DefaultVATPercentage
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
