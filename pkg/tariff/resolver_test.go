package tariff

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chargelog/chargelog/pkg/states"
	"github.com/chargelog/chargelog/pkg/types"
)

func ratePtr(rt types.RateType) *types.RateType { return &rt }

func floatPtr(f float64) *float64 { return &f }

func scheduleSettings() types.Settings {
	return types.Settings{
		TariffSource: types.TariffSourceSchedule,
		Schedule: types.TariffSchedule{
			Windows:    []types.TariffWindow{{Start: "22:00", End: "06:00"}},
			WindowType: types.WindowTypeLow,
		},
	}
}

func TestResolveRateTypeExplicitWins(t *testing.T) {
	ctx := context.Background()
	// explicit beats a schedule that would say HIGH at noon
	got := ResolveRateType(ctx, ratePtr(types.RateTypeLow), scheduleSettings(), nil, monday(12, 0))
	require.NotNil(t, got)
	assert.Equal(t, types.RateTypeLow, *got)
}

func TestResolveRateTypeNone(t *testing.T) {
	ctx := context.Background()
	settings := types.Settings{TariffSource: types.TariffSourceNone}

	assert.Nil(t, ResolveRateType(ctx, nil, settings, nil, monday(12, 0)))
}

func TestResolveRateTypeSchedule(t *testing.T) {
	ctx := context.Background()
	settings := scheduleSettings()

	got := ResolveRateType(ctx, nil, settings, nil, monday(23, 0))
	require.NotNil(t, got)
	assert.Equal(t, types.RateTypeLow, *got)

	got = ResolveRateType(ctx, nil, settings, nil, monday(12, 0))
	require.NotNil(t, got)
	assert.Equal(t, types.RateTypeHigh, *got)
}

func TestResolveRateTypeEntity(t *testing.T) {
	ctx := context.Background()
	settings := types.Settings{
		TariffSource: types.TariffSourceEntity,
		TariffEntity: "binary_sensor.low_tariff",
	}

	tests := []struct {
		state string
		want  types.RateType
	}{
		{"on", types.RateTypeLow},
		{"true", types.RateTypeLow},
		{"1", types.RateTypeLow},
		{"yes", types.RateTypeLow},
		{"LOW", types.RateTypeLow},
		{"Low", types.RateTypeLow},
		{"off", types.RateTypeHigh},
		{"false", types.RateTypeHigh},
		{"unavailable", types.RateTypeHigh},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			store := states.NewStore()
			store.Set("binary_sensor.low_tariff", tt.state)
			got := ResolveRateType(ctx, nil, settings, store, monday(12, 0))
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestResolveRateTypeEntityMissing(t *testing.T) {
	ctx := context.Background()
	settings := types.Settings{
		TariffSource: types.TariffSourceEntity,
		TariffEntity: "binary_sensor.low_tariff",
	}

	assert.Nil(t, ResolveRateType(ctx, nil, settings, states.NewStore(), monday(12, 0)))
	assert.Nil(t, ResolveRateType(ctx, nil, settings, nil, monday(12, 0)))

	settings.TariffEntity = ""
	assert.Nil(t, ResolveRateType(ctx, nil, settings, states.NewStore(), monday(12, 0)))
}

func TestResolvePriceAutomatic(t *testing.T) {
	prices := types.PriceConfig{
		UsePrices:     true,
		PriceHigh:     5.00,
		PriceLow:      3.50,
		VATPercentage: 21.0,
	}

	price, vat := ResolvePrice(nil, nil, prices, ratePtr(types.RateTypeLow))
	require.NotNil(t, price)
	require.NotNil(t, vat)
	assert.Equal(t, 3.50, *price)
	assert.Equal(t, 21.0, *vat)

	price, vat = ResolvePrice(nil, nil, prices, ratePtr(types.RateTypeHigh))
	require.NotNil(t, price)
	assert.Equal(t, 5.00, *price)
	assert.Equal(t, 21.0, *vat)

	// unknown rate falls back to the HIGH price
	price, vat = ResolvePrice(nil, nil, prices, nil)
	require.NotNil(t, price)
	assert.Equal(t, 5.00, *price)
	assert.Equal(t, 21.0, *vat)
}

func TestResolvePriceExplicitWins(t *testing.T) {
	prices := types.PriceConfig{UsePrices: true, PriceHigh: 5.00, PriceLow: 3.50, VATPercentage: 21.0}

	price, vat := ResolvePrice(floatPtr(2.25), floatPtr(9.0), prices, ratePtr(types.RateTypeLow))
	require.NotNil(t, price)
	require.NotNil(t, vat)
	assert.Equal(t, 2.25, *price)
	assert.Equal(t, 9.0, *vat)
}

func TestResolvePriceIndependentFallback(t *testing.T) {
	prices := types.PriceConfig{UsePrices: true, PriceHigh: 5.00, PriceLow: 3.50, VATPercentage: 21.0}

	// explicit price, automatic VAT
	price, vat := ResolvePrice(floatPtr(2.25), nil, prices, ratePtr(types.RateTypeLow))
	require.NotNil(t, price)
	require.NotNil(t, vat)
	assert.Equal(t, 2.25, *price)
	assert.Equal(t, 21.0, *vat)

	// automatic price, explicit VAT
	price, vat = ResolvePrice(nil, floatPtr(9.0), prices, ratePtr(types.RateTypeLow))
	require.NotNil(t, price)
	require.NotNil(t, vat)
	assert.Equal(t, 3.50, *price)
	assert.Equal(t, 9.0, *vat)
}

func TestResolvePriceDisabled(t *testing.T) {
	prices := types.PriceConfig{UsePrices: false, PriceHigh: 5.00, PriceLow: 3.50, VATPercentage: 21.0}

	price, vat := ResolvePrice(nil, nil, prices, ratePtr(types.RateTypeLow))
	assert.Nil(t, price)
	assert.Nil(t, vat)

	// explicit values still pass through when automatic pricing is off
	price, vat = ResolvePrice(floatPtr(2.25), nil, prices, nil)
	require.NotNil(t, price)
	assert.Equal(t, 2.25, *price)
	assert.Nil(t, vat)
}

func TestResolvePriceNonPositive(t *testing.T) {
	prices := types.PriceConfig{UsePrices: true, PriceHigh: 5.00, PriceLow: 0, VATPercentage: 21.0}

	price, vat := ResolvePrice(nil, nil, prices, ratePtr(types.RateTypeLow))
	assert.Nil(t, price)
	assert.Nil(t, vat)
}
