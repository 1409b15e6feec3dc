package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/chargelog/chargelog/pkg/storage"
	"github.com/chargelog/chargelog/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context, installID string) (types.Settings, int, error) {
	args := m.Called(ctx, installID)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, installID string, settings types.Settings, version int) error {
	args := m.Called(ctx, installID, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) ListInstallations(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) InsertSessionLog(ctx context.Context, installID string, rec types.SessionLogRecord) error {
	args := m.Called(ctx, installID, rec)
	return args.Error(0)
}

func (m *MockDatabase) GetSessionLogHistory(ctx context.Context, installID string, start, end time.Time) ([]types.SessionLogRecord, error) {
	args := m.Called(ctx, installID, start, end)
	if recs, ok := args.Get(0).([]types.SessionLogRecord); ok {
		return recs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
