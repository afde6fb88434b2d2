package modelstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Entry describes one prepared model.
type Entry struct {
	ModelID       string        `json:"model_id"`
	ArtifactDir   string        `json:"artifact_dir"`
	Device        string        `json:"device"`
	Labels        []string      `json:"labels"`
	LoadDuration  time.Duration `json:"load_duration"`
	LoadCount     int           `json:"load_count"`
	FirstLoadedAt time.Time     `json:"first_loaded_at"`
	LoadedAt      time.Time     `json:"loaded_at"`
}

// Store persists Entries in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	// Fixed width so timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Open creates or opens the manifest at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("manifest path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create manifest dir: %w", err)
	}
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordLoad upserts entry and bumps its load count.
func (s *Store) RecordLoad(ctx context.Context, entry Entry) error {
	entry.ModelID = strings.TrimSpace(entry.ModelID)
	if entry.ModelID == "" {
		return errors.New("record load: model id is empty")
	}
	if entry.LoadedAt.IsZero() {
		entry.LoadedAt = time.Now().UTC()
	}
	labels := entry.Labels
	if labels == nil {
		labels = []string{}
	}
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	loadedAt := entry.LoadedAt.UTC().Format(timeLayout)

	const query = `INSERT INTO models (model_id, artifact_dir, device, labels_json, load_count, last_load_ms, first_loaded_at, last_loaded_at)
VALUES (?, ?, ?, ?, 1, ?, ?, ?)
ON CONFLICT(model_id) DO UPDATE SET
    artifact_dir = excluded.artifact_dir,
    device = excluded.device,
    labels_json = excluded.labels_json,
    load_count = models.load_count + 1,
    last_load_ms = excluded.last_load_ms,
    last_loaded_at = excluded.last_loaded_at`
	return s.execWithRetry(ctx, query,
		entry.ModelID, entry.ArtifactDir, entry.Device, string(labelsJSON),
		entry.LoadDuration.Milliseconds(), loadedAt, loadedAt,
	)
}

// Get returns the entry for modelID, or nil when it has never been loaded.
func (s *Store) Get(ctx context.Context, modelID string) (*Entry, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), selectColumns+" WHERE model_id = ?", strings.TrimSpace(modelID))
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns every entry, most recently loaded first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), selectColumns+" ORDER BY last_loaded_at DESC, model_id")
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Remove deletes the entry for modelID. Missing entries are not an error.
func (s *Store) Remove(ctx context.Context, modelID string) error {
	return s.execWithRetry(ctx, "DELETE FROM models WHERE model_id = ?", strings.TrimSpace(modelID))
}

const selectColumns = `SELECT model_id, artifact_dir, device, labels_json, load_count, last_load_ms, first_loaded_at, last_loaded_at FROM models`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry      Entry
		labelsJSON string
		loadMillis int64
		firstAt    string
		lastAt     string
	)
	if err := row.Scan(&entry.ModelID, &entry.ArtifactDir, &entry.Device, &labelsJSON,
		&entry.LoadCount, &loadMillis, &firstAt, &lastAt); err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(labelsJSON), &entry.Labels); err != nil {
		return Entry{}, fmt.Errorf("decode labels for %s: %w", entry.ModelID, err)
	}
	entry.LoadDuration = time.Duration(loadMillis) * time.Millisecond
	entry.FirstLoadedAt = parseTime(firstAt)
	entry.LoadedAt = parseTime(lastAt)
	return entry, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// execWithRetry retries statements that hit SQLITE_BUSY, which happens when a
// CLI run and the web server record loads at the same moment.
func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := range busyRetryAttempts {
		_, lastErr = s.db.ExecContext(ctx, query, args...)
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}
