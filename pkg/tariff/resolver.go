package tariff

import (
	"context"
	"strings"
	"time"

	"github.com/chargelog/chargelog/pkg/states"
	"github.com/chargelog/chargelog/pkg/types"
)

// lowStates are the entity state values that count as LOW tariff, compared
// case-insensitively. Anything else (including an unknown value) is HIGH.
var lowStates = map[string]bool{
	"on":   true,
	"true": true,
	"1":    true,
	"low":  true,
	"yes":  true,
}

// IsLowState reports whether an entity state value means the LOW tariff is
// active.
func IsLowState(state string) bool {
	return lowStates[strings.ToLower(strings.TrimSpace(state))]
}

// ResolveRateType determines the rate type for a session. An explicit rate
// always wins. Otherwise the settings' tariff source decides: "schedule"
// evaluates the configured windows at now, "entity" classifies the tracked
// entity's current state, and "none" resolves to nil. A nil result means the
// session is logged without a rate type.
func ResolveRateType(ctx context.Context, explicit *types.RateType, settings types.Settings, lookup states.Lookup, now time.Time) *types.RateType {
	if explicit != nil {
		rt := *explicit
		return &rt
	}

	switch settings.TariffSource {
	case types.TariffSourceSchedule:
		rt := types.RateTypeHigh
		if IsLowTariff(ctx, settings.Schedule, now) {
			rt = types.RateTypeLow
		}
		return &rt
	case types.TariffSourceEntity:
		if settings.TariffEntity == "" || lookup == nil {
			return nil
		}
		state, ok := lookup.State(settings.TariffEntity)
		if !ok {
			return nil
		}
		rt := types.RateTypeHigh
		if IsLowState(state) {
			rt = types.RateTypeLow
		}
		return &rt
	}
	return nil
}

// ResolvePrice determines the price per kWh and VAT percentage for a session.
// Explicit values always win, and each field falls back to the automatic
// value independently. Automatic pricing requires UsePrices; the price is
// picked by rate type, defaulting to the HIGH price when the rate is unknown.
// A missing or non-positive automatic price disables the automatic pair
// entirely so a session is never priced at zero by accident.
func ResolvePrice(explicitPrice, explicitVAT *float64, prices types.PriceConfig, rate *types.RateType) (*float64, *float64) {
	if explicitPrice != nil && explicitVAT != nil {
		return explicitPrice, explicitVAT
	}

	autoPrice, autoVAT := autoPriceVAT(prices, rate)

	price := explicitPrice
	if price == nil {
		price = autoPrice
	}
	vat := explicitVAT
	if vat == nil {
		vat = autoVAT
	}
	return price, vat
}

func autoPriceVAT(prices types.PriceConfig, rate *types.RateType) (*float64, *float64) {
	if !prices.UsePrices {
		return nil, nil
	}
	price := prices.PriceHigh
	if rate != nil && *rate == types.RateTypeLow {
		price = prices.PriceLow
	}
	if price <= 0 {
		return nil, nil
	}
	vat := prices.VATPercentage
	return &price, &vat
}
