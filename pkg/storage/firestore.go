package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chargelog/chargelog/pkg/log"
	"github.com/chargelog/chargelog/pkg/types"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Settings live under "installations/<id>/config/settings" and the
// session journal under "installations/<id>/session_log".
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(installID, name string) (*firestore.CollectionRef, error) {
	if installID == "" {
		return nil, fmt.Errorf("installID cannot be empty")
	}
	return f.client.Collection("installations").Doc(installID).Collection(name), nil
}

// GetSettings retrieves the installation configuration from the
// "config/settings" document. A missing document returns empty settings and
// version 0 so callers can detect a fresh installation.
func (f *FirestoreProvider) GetSettings(ctx context.Context, installID string) (types.Settings, int, error) {
	coll, err := f.getCollection(installID, "config")
	if err != nil {
		return types.Settings{}, 0, err
	}
	doc, err := coll.Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "settings doc missing json", slog.String("installID", installID))
		return types.Settings{}, 0, fmt.Errorf("settings document missing 'json' field: %w", err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "settings doc json not string", slog.String("installID", installID))
		return types.Settings{}, 0, fmt.Errorf("settings 'json' field is not a string")
	}

	var s types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal settings json", slog.String("installID", installID), slog.Any("err", err))
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return s, version, nil
}

// SetSettings saves the installation configuration to the "config/settings"
// document. It stores the settings as a JSON string for portability and
// stamps the installation doc so ListInstallations can find it.
func (f *FirestoreProvider) SetSettings(ctx context.Context, installID string, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	coll, err := f.getCollection(installID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	// documents with only subcollections don't show up in collection listings
	_, err = f.client.Collection("installations").Doc(installID).Set(ctx, map[string]interface{}{
		"updatedAt": time.Now(),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to stamp installation: %w", err)
	}
	return nil
}

// ListInstallations returns the IDs of every installation with saved
// settings.
func (f *FirestoreProvider) ListInstallations(ctx context.Context) ([]string, error) {
	iter := f.client.Collection("installations").Documents(ctx)
	defer iter.Stop()

	var ids []string
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating installations: %w", err)
		}
		ids = append(ids, doc.Ref.ID)
	}
	return ids, nil
}

// InsertSessionLog adds a journal record to the "session_log" collection as a
// JSON blob. The document ID is the RFC3339 timestamp for efficient range
// queries.
func (f *FirestoreProvider) InsertSessionLog(ctx context.Context, installID string, rec types.SessionLogRecord) error {
	jsonBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session log record: %w", err)
	}

	coll, err := f.getCollection(installID, "session_log")
	if err != nil {
		return err
	}
	// Use RFC3339Nano as document ID for lexicographic ordering; nanoseconds
	// keep two sessions in the same second from colliding.
	docID := rec.Time.UTC().Format(time.RFC3339Nano)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": rec.Time,
	})
	if err != nil {
		return fmt.Errorf("failed to insert session log record: %w", err)
	}
	return nil
}

// GetSessionLogHistory retrieves journal records within the specified time
// range. Uses document ID range queries for efficient filtering without
// reading all documents.
func (f *FirestoreProvider) GetSessionLogHistory(ctx context.Context, installID string, start, end time.Time) ([]types.SessionLogRecord, error) {
	startDocID := start.UTC().Format(time.RFC3339Nano)
	endDocID := end.UTC().Format(time.RFC3339Nano)

	coll, err := f.getCollection(installID, "session_log")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var recs []types.SessionLogRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating session log: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "session log doc missing json", slog.String("docID", doc.Ref.ID), slog.String("installID", installID), slog.Any("err", err))
			return nil, fmt.Errorf("session log document %s missing 'json' field: %w", doc.Ref.ID, err)
		}

		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "session log doc json not string", slog.String("docID", doc.Ref.ID), slog.String("installID", installID))
			return nil, fmt.Errorf("session log document %s 'json' field is not string", doc.Ref.ID)
		}

		var r types.SessionLogRecord
		if err := json.Unmarshal([]byte(jsonStr), &r); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal session log record", slog.String("docID", doc.Ref.ID), slog.String("installID", installID), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal session log record (id=%s): %w", doc.Ref.ID, err)
		}
		recs = append(recs, r)
	}
	return recs, nil
}
