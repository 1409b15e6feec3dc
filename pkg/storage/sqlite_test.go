package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chargelog/chargelog/pkg/types"
)

func newTestDB(t *testing.T) *SQLiteProvider {
	t.Helper()
	db, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	// fresh installation has no settings yet
	settings, version, err := db.GetSettings(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 0, version)
	assert.Empty(t, settings.APIKey)

	want := types.Settings{
		APIKey:       "test-key",
		TariffSource: types.TariffSourceSchedule,
		Schedule: types.TariffSchedule{
			Windows:    []types.TariffWindow{{Start: "22:00", End: "06:00"}},
			WindowType: types.WindowTypeLow,
		},
		Prices: types.PriceConfig{UsePrices: true, PriceHigh: 5, PriceLow: 3.5, VATPercentage: 21},
	}
	require.NoError(t, db.SetSettings(ctx, "abc", want, types.CurrentSettingsVersion))

	settings, version, err = db.GetSettings(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, types.CurrentSettingsVersion, version)
	assert.Equal(t, want, settings)

	// updating overwrites in place
	want.APIKey = "rotated"
	require.NoError(t, db.SetSettings(ctx, "abc", want, types.CurrentSettingsVersion))
	settings, _, err = db.GetSettings(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "rotated", settings.APIKey)
}

func TestSQLiteListInstallations(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	ids, err := db.ListInstallations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, db.SetSettings(ctx, "b", types.Settings{APIKey: "k"}, 1))
	require.NoError(t, db.SetSettings(ctx, "a", types.Settings{APIKey: "k"}, 1))

	ids, err = db.ListInstallations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestSQLiteSessionLog(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rate := types.RateTypeLow
	price := 3.5
	for i := 0; i < 3; i++ {
		require.NoError(t, db.InsertSessionLog(ctx, "abc", types.SessionLogRecord{
			Time:           base.Add(time.Duration(i) * time.Hour),
			CarID:          1,
			EnergyKWH:      10.5,
			RateType:       &rate,
			PricePerKWH:    &price,
			RateResolution: "schedule",
		}))
	}
	// a record for another installation must not leak into the query
	require.NoError(t, db.InsertSessionLog(ctx, "other", types.SessionLogRecord{
		Time: base, EnergyKWH: 1,
	}))

	recs, err := db.GetSessionLogHistory(ctx, "abc", base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 10.5, recs[0].EnergyKWH)
	require.NotNil(t, recs[0].RateType)
	assert.Equal(t, types.RateTypeLow, *recs[0].RateType)
	assert.Equal(t, "schedule", recs[0].RateResolution)
	assert.True(t, recs[0].Time.Before(recs[1].Time))
}

func TestSQLiteEmptyInstallID(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, _, err := db.GetSettings(ctx, "")
	assert.Error(t, err)
	assert.Error(t, db.SetSettings(ctx, "", types.Settings{}, 1))
	assert.Error(t, db.InsertSessionLog(ctx, "", types.SessionLogRecord{Time: time.Now()}))
}
