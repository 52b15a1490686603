// Package kvstore keeps explore form data under opaque keys, the way the
// exploration surface needs it: a fresh key per page load, updates in place
// while the user edits, and lookups when a permalink is opened.
package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vanderheijden86/vizexplore/pkg/history"
	"github.com/vanderheijden86/vizexplore/pkg/querydef"
)

// ErrNotFound is returned for unknown keys.
var ErrNotFound = errors.New("form data not found")

// Entry is one stored form data record.
type Entry struct {
	Key        string
	FormData   map[string]any
	Datasource querydef.Datasource
	ChartID    int64
	TabID      string
	UpdatedAt  time.Time
}

// Store is a SQLite-backed form data store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS form_data (
	key             TEXT PRIMARY KEY,
	form_data       TEXT NOT NULL,
	datasource_id   INTEGER NOT NULL DEFAULT 0,
	datasource_type TEXT NOT NULL DEFAULT '',
	chart_id        INTEGER NOT NULL DEFAULT 0,
	tab_id          TEXT NOT NULL DEFAULT '',
	updated_at      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS charts (
	id         INTEGER PRIMARY KEY,
	form_data  TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Open opens (and creates) the store at path. An empty path opens an
// in-memory store.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open form data store: %w", err)
	}
	if path == "" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating form data schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores req under a fresh key.
func (s *Store) Put(ctx context.Context, req history.PutRequest) (string, error) {
	payload, err := json.Marshal(req.FormData)
	if err != nil {
		return "", fmt.Errorf("encoding form data: %w", err)
	}
	key := uuid.Must(uuid.NewV7()).String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO form_data (key, form_data, datasource_id, datasource_type, chart_id, tab_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key, string(payload), req.Datasource.ID, req.Datasource.Type, req.ChartID, req.TabID, s.now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("storing form data: %w", err)
	}
	return key, nil
}

// Update overwrites the entry at key.
func (s *Store) Update(ctx context.Context, key string, req history.PutRequest) error {
	payload, err := json.Marshal(req.FormData)
	if err != nil {
		return fmt.Errorf("encoding form data: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE form_data
		SET form_data = ?, datasource_id = ?, datasource_type = ?, chart_id = ?, tab_id = ?, updated_at = ?
		WHERE key = ?`,
		string(payload), req.Datasource.ID, req.Datasource.Type, req.ChartID, req.TabID, s.now().UnixMilli(), key)
	if err != nil {
		return fmt.Errorf("updating form data: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// Get returns the entry at key.
func (s *Store) Get(ctx context.Context, key string) (Entry, error) {
	var (
		payload string
		updated int64
		e       = Entry{Key: key}
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT form_data, datasource_id, datasource_type, chart_id, tab_id, updated_at
		FROM form_data WHERE key = ?`, key).
		Scan(&payload, &e.Datasource.ID, &e.Datasource.Type, &e.ChartID, &e.TabID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("reading form data: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &e.FormData); err != nil {
		return Entry{}, fmt.Errorf("decoding form data: %w", err)
	}
	e.UpdatedAt = time.UnixMilli(updated)
	return e, nil
}

// SaveChart stores formData as chart id and returns the chart's explore URL.
func (s *Store) SaveChart(ctx context.Context, chartID int64, formData map[string]any) (string, error) {
	if chartID <= 0 {
		return "", fmt.Errorf("invalid chart id %d", chartID)
	}
	payload, err := json.Marshal(formData)
	if err != nil {
		return "", fmt.Errorf("encoding chart: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO charts (id, form_data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET form_data = excluded.form_data, updated_at = excluded.updated_at`,
		chartID, string(payload), s.now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("saving chart %d: %w", chartID, err)
	}
	return ChartURL(chartID), nil
}

// Chart returns the saved form data of a chart.
func (s *Store) Chart(ctx context.Context, chartID int64) (map[string]any, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT form_data FROM charts WHERE id = ?`, chartID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chart %d", ErrNotFound, chartID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading chart %d: %w", chartID, err)
	}
	var fd map[string]any
	if err := json.Unmarshal([]byte(payload), &fd); err != nil {
		return nil, fmt.Errorf("decoding chart %d: %w", chartID, err)
	}
	return fd, nil
}

// ChartURL is the explore URL of a saved chart.
func ChartURL(chartID int64) string {
	return fmt.Sprintf("/explore/?%s=%d", querydef.ParamSliceID, chartID)
}
