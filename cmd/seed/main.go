// Command seed fills the firestore emulator with a configured installation
// and a month of journaled sessions so the API has realistic data to serve
// during development.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/chargelog/chargelog/pkg/log"
	"github.com/chargelog/chargelog/pkg/server"
	"github.com/chargelog/chargelog/pkg/storage"
	"github.com/chargelog/chargelog/pkg/types"
)

func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	settings := types.Settings{
		APIKey:                "seed-api-key",
		CarID:                 1,
		CarName:               "Enyaq iV 80",
		UpdateIntervalSeconds: types.DefaultUpdateIntervalSeconds,
		TariffSource:          types.TariffSourceSchedule,
		Schedule: types.TariffSchedule{
			// Czech dual-rate plan: low tariff overnight and mid-day
			Windows: []types.TariffWindow{
				{Start: "22:00", End: "06:00"},
				{Start: "13:00", End: "15:00"},
			},
			WindowType:       types.WindowTypeLow,
			WeekendAlwaysLow: true,
		},
		Prices: types.PriceConfig{
			UsePrices:     true,
			PriceHigh:     6.50,
			PriceLow:      2.80,
			VATPercentage: types.DefaultVATPercentage,
		},
	}
	if err := s.SetSettings(ctx, server.SingleInstallID, settings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed settings", "error", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// roughly one overnight charge every other day for the last 30 days
	now := time.Now().UTC()
	for d := 30; d >= 0; d -= 2 {
		ts := now.AddDate(0, 0, -d).Truncate(24 * time.Hour).Add(23 * time.Hour)
		energy := 8.0 + rng.Float64()*30.0

		rate := types.RateTypeLow
		price := settings.Prices.PriceLow
		resolution := "schedule"
		if rng.Float64() < 0.2 {
			// occasional daytime top-up at the high rate
			ts = ts.Add(-12 * time.Hour)
			rate = types.RateTypeHigh
			price = settings.Prices.PriceHigh
		}
		if rng.Float64() < 0.1 {
			resolution = "explicit"
		}
		vat := settings.Prices.VATPercentage

		rec := types.SessionLogRecord{
			Time:           ts,
			CarID:          settings.CarID,
			EnergyKWH:      energy,
			RateType:       &rate,
			PricePerKWH:    &price,
			VATPercentage:  &vat,
			RateResolution: resolution,
			SessionID:      int64(1000 + d),
		}
		if err := s.InsertSessionLog(ctx, server.SingleInstallID, rec); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed session", "error", err)
			os.Exit(1)
		}

		fmt.Printf("Seeded session at %s: %.1f kWh @ %s (%.2f/kWh)\n",
			ts.Format(time.RFC3339), energy, rate, price)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully")
}
