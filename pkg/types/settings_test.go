package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateSettings(t *testing.T) {
	t.Run("v1: initial defaults", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{}, 0)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, DefaultUpdateIntervalSeconds, s.UpdateIntervalSeconds)
		assert.Equal(t, TariffSourceNone, s.TariffSource)
		// window type default comes from v2
		assert.Equal(t, WindowTypeLow, s.Schedule.WindowType)
	})

	t.Run("v1 to v2: window type default", func(t *testing.T) {
		old := Settings{
			TariffSource: TariffSourceSchedule,
			Schedule: TariffSchedule{
				Windows: []TariffWindow{{Start: "22:00", End: "06:00"}},
			},
		}
		s, changed, err := MigrateSettings(old, 1)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, WindowTypeLow, s.Schedule.WindowType)
		// configured windows untouched
		assert.Equal(t, old.Schedule.Windows, s.Schedule.Windows)
	})

	t.Run("v2 to v3: default VAT when prices enabled", func(t *testing.T) {
		old := Settings{
			Prices: PriceConfig{UsePrices: true, PriceHigh: 5.0},
		}
		s, changed, err := MigrateSettings(old, 2)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, DefaultVATPercentage, s.Prices.VATPercentage)
	})

	t.Run("v2 to v3: no VAT default when prices disabled", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{}, 2)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, 0.0, s.Prices.VATPercentage)
	})

	t.Run("no change: current version", func(t *testing.T) {
		current := Settings{
			UpdateIntervalSeconds: 600,
			TariffSource:          TariffSourceEntity,
			TariffEntity:          "binary_sensor.hdo",
		}
		s, changed, err := MigrateSettings(current, CurrentSettingsVersion)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, current, s)
	})

	t.Run("unknown future version errors", func(t *testing.T) {
		_, _, err := MigrateSettings(Settings{}, -1)
		assert.Error(t, err)
	})
}

func TestSettingsValidate(t *testing.T) {
	base := Settings{
		APIKey:       "key",
		CarID:        1,
		TariffSource: TariffSourceNone,
	}

	t.Run("valid none source", func(t *testing.T) {
		assert.NoError(t, base.Validate())
	})

	t.Run("missing api key", func(t *testing.T) {
		s := base
		s.APIKey = ""
		assert.Error(t, s.Validate())
	})

	t.Run("schedule requires first window", func(t *testing.T) {
		s := base
		s.TariffSource = TariffSourceSchedule
		assert.Error(t, s.Validate())

		s.Schedule.Windows = []TariffWindow{{Start: "22:00", End: "06:00"}}
		assert.NoError(t, s.Validate())
	})

	t.Run("partial window invalid", func(t *testing.T) {
		s := base
		s.Schedule.Windows = []TariffWindow{
			{Start: "22:00", End: "06:00"},
			{Start: "12:00"},
		}
		assert.Error(t, s.Validate())
	})

	t.Run("entity requires entity id", func(t *testing.T) {
		s := base
		s.TariffSource = TariffSourceEntity
		assert.Error(t, s.Validate())

		s.TariffEntity = "binary_sensor.hdo"
		assert.NoError(t, s.Validate())
	})

	t.Run("negative price invalid", func(t *testing.T) {
		s := base
		s.Prices.PriceLow = -1
		assert.Error(t, s.Validate())
	})

	t.Run("too many windows invalid", func(t *testing.T) {
		s := base
		s.Schedule.Windows = make([]TariffWindow, MaxTariffWindows+1)
		for i := range s.Schedule.Windows {
			s.Schedule.Windows[i] = TariffWindow{Start: "01:00", End: "02:00"}
		}
		assert.Error(t, s.Validate())
	})
}

func TestParseRateType(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want RateType
	}{
		{"HIGH", RateTypeHigh},
		{"high", RateTypeHigh},
		{"Low", RateTypeLow},
		{"LOW", RateTypeLow},
	} {
		got, err := ParseRateType(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}

	_, err := ParseRateType("medium")
	assert.Error(t, err)
	_, err = ParseRateType("")
	assert.Error(t, err)
}
