package server

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/chargelog/chargelog/pkg/states"
	"github.com/chargelog/chargelog/pkg/storage/storagemock"
	"github.com/chargelog/chargelog/pkg/tracker"
	"github.com/chargelog/chargelog/pkg/types"
)

// mockStorage is the shared storage mock.
type mockStorage = storagemock.MockDatabase

type mockTracker struct {
	mock.Mock
}

func (m *mockTracker) Cars(ctx context.Context) ([]types.Car, error) {
	args := m.Called(ctx)
	if cars, ok := args.Get(0).([]types.Car); ok {
		return cars, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTracker) State(ctx context.Context) (types.TrackerState, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.TrackerState), args.Error(1)
}

func (m *mockTracker) LogSession(ctx context.Context, p tracker.SessionPayload) (*types.Session, error) {
	args := m.Called(ctx, p)
	if s, ok := args.Get(0).(*types.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTracker) LogSessionSimple(ctx context.Context, p tracker.SessionPayload) (*types.Session, error) {
	args := m.Called(ctx, p)
	if s, ok := args.Get(0).(*types.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTracker) ValidateKey(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

// newTestServer builds a Server in single-install mode with auth bypassed,
// wired to the given mocks.
func newTestServer(db *mockStorage, client *mockTracker) *Server {
	srv := &Server{
		storage:       db,
		states:        states.NewStore(),
		installs:      newInstallRegistry(),
		bypassAuth:    true,
		singleInstall: true,
	}
	srv.newClient = func(apiKey string) trackerClient { return client }
	return srv
}

// configuredSettings is a fully configured installation with an entity
// tariff source and prices enabled. Tests control the tariff by pushing the
// entity state into the server's state store.
func configuredSettings() types.Settings {
	return types.Settings{
		APIKey:                "test-key",
		CarID:                 5,
		UpdateIntervalSeconds: 300,
		TariffSource:          types.TariffSourceEntity,
		TariffEntity:          "binary_sensor.low_tariff",
		Prices: types.PriceConfig{
			UsePrices:     true,
			PriceHigh:     5.00,
			PriceLow:      3.50,
			VATPercentage: 21.0,
		},
	}
}
