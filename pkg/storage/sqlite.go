package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/levenlabs/go-lflag"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chargelog/chargelog/pkg/types"
)

// SQLiteProvider implements the Database interface on a local SQLite file,
// for single-node deployments that don't want a cloud dependency.
type SQLiteProvider struct {
	db   *gorm.DB
	path string
}

type settingsRow struct {
	InstallID string    `gorm:"primaryKey;column:install_id"`
	JSON      string    `gorm:"column:json"`
	Version   int       `gorm:"column:version"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (settingsRow) TableName() string { return "settings" }

type sessionLogRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	InstallID string    `gorm:"column:install_id;index:idx_session_log_install_time"`
	Time      time.Time `gorm:"column:time;index:idx_session_log_install_time"`
	JSON      string    `gorm:"column:json"`
}

func (sessionLogRow) TableName() string { return "session_log" }

// configuredSQLite sets up the SQLite provider.
// It registers flags for configuration.
func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "chargelog.db", "Path to the SQLite database file")

	s := &SQLiteProvider{}

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// NewSQLite opens a SQLite database at the given path. Used directly by
// tests with ":memory:".
func NewSQLite(path string) (*SQLiteProvider, error) {
	s := &SQLiteProvider{path: path}
	if err := s.Init(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Init opens the database and runs migrations.
// This must be called before using the provider methods.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to open sqlite database %s: %w", s.path, err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&settingsRow{}, &sessionLogRow{}); err != nil {
		return fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	s.db = db
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteProvider) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetSettings retrieves the installation configuration. A missing row returns
// empty settings and version 0 so callers can detect a fresh installation.
func (s *SQLiteProvider) GetSettings(ctx context.Context, installID string) (types.Settings, int, error) {
	if installID == "" {
		return types.Settings{}, 0, fmt.Errorf("installID cannot be empty")
	}
	var row settingsRow
	res := s.db.WithContext(ctx).First(&row, "install_id = ?", installID)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings: %w", res.Error)
	}

	var settings types.Settings
	if err := json.Unmarshal([]byte(row.JSON), &settings); err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return settings, row.Version, nil
}

// SetSettings saves the installation configuration as a JSON string, matching
// the firestore layout.
func (s *SQLiteProvider) SetSettings(ctx context.Context, installID string, settings types.Settings, version int) error {
	if installID == "" {
		return fmt.Errorf("installID cannot be empty")
	}
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	row := settingsRow{
		InstallID: installID,
		JSON:      string(jsonBytes),
		Version:   version,
		UpdatedAt: time.Now(),
	}
	res := s.db.WithContext(ctx).Save(&row)
	if res.Error != nil {
		return fmt.Errorf("failed to save settings: %w", res.Error)
	}
	return nil
}

// ListInstallations returns the IDs of every installation with saved
// settings.
func (s *SQLiteProvider) ListInstallations(ctx context.Context) ([]string, error) {
	var ids []string
	res := s.db.WithContext(ctx).Model(&settingsRow{}).Order("install_id").Pluck("install_id", &ids)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to list installations: %w", res.Error)
	}
	return ids, nil
}

// InsertSessionLog adds a journal record.
func (s *SQLiteProvider) InsertSessionLog(ctx context.Context, installID string, rec types.SessionLogRecord) error {
	if installID == "" {
		return fmt.Errorf("installID cannot be empty")
	}
	jsonBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session log record: %w", err)
	}
	row := sessionLogRow{
		InstallID: installID,
		Time:      rec.Time.UTC(),
		JSON:      string(jsonBytes),
	}
	res := s.db.WithContext(ctx).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("failed to insert session log record: %w", res.Error)
	}
	return nil
}

// GetSessionLogHistory retrieves journal records within the specified time
// range, oldest first.
func (s *SQLiteProvider) GetSessionLogHistory(ctx context.Context, installID string, start, end time.Time) ([]types.SessionLogRecord, error) {
	var rows []sessionLogRow
	res := s.db.WithContext(ctx).
		Where("install_id = ? AND time >= ? AND time < ?", installID, start.UTC(), end.UTC()).
		Order("time asc").
		Find(&rows)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to query session log: %w", res.Error)
	}

	var recs []types.SessionLogRecord
	for _, row := range rows {
		var r types.SessionLogRecord
		if err := json.Unmarshal([]byte(row.JSON), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session log record (id=%d): %w", row.ID, err)
		}
		recs = append(recs, r)
	}
	return recs, nil
}
