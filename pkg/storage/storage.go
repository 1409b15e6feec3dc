package storage

import (
	"context"
	"errors"
	"time"

	"github.com/chargelog/chargelog/pkg/types"
)

var ErrInstallationNotFound = errors.New("installation not found")

// Database defines the interface for persisting per-installation settings and
// the local journal of forwarded sessions.
type Database interface {
	// Settings
	GetSettings(ctx context.Context, installID string) (types.Settings, int, error)
	SetSettings(ctx context.Context, installID string, settings types.Settings, version int) error
	ListInstallations(ctx context.Context) ([]string, error)

	// Session journal
	InsertSessionLog(ctx context.Context, installID string, rec types.SessionLogRecord) error
	GetSessionLogHistory(ctx context.Context, installID string, start, end time.Time) ([]types.SessionLogRecord, error)

	// Lifecycle
	Close() error
}
