package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/sprite/internal/model"
	"github.com/nao1215/sprite/internal/stats"
)

// FileName is the database file created inside the database directory.
const FileName = "sprite.db"

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02 15:04:05.000000000"

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("crawl run not found")

// ItemDB stores items and crawl runs.
type ItemDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures ItemDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the database in dbDir.
// With CreateIfNotExists false a missing database is an error and
// nothing is created.
func Open(dbDir string, opts Options) (*ItemDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	idb := &ItemDB{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close() //nolint:errcheck // already returning the pragma error
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := idb.createTables(); err != nil {
		_ = db.Close() //nolint:errcheck // already returning the schema error
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return idb, nil
}

// Path returns the database file path.
func (idb *ItemDB) Path() string {
	return idb.dbPath
}

// Close closes the database connection.
func (idb *ItemDB) Close() error {
	return idb.db.Close()
}

func (idb *ItemDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS crawl_runs (
		id TEXT PRIMARY KEY,
		spider TEXT NOT NULL,
		started DATETIME NOT NULL,
		finished DATETIME,
		summary TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_spider ON crawl_runs(spider);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON crawl_runs(started);

	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		spider TEXT NOT NULL,
		url TEXT,
		data TEXT NOT NULL,
		created DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_items_run ON items(run_id);
	CREATE INDEX IF NOT EXISTS idx_items_url ON items(url);
	`
	_, err := idb.db.ExecContext(context.Background(), schema)
	return err
}

// ItemRecord is a stored item.
type ItemRecord struct {
	ID      int64
	RunID   string
	Spider  string
	URL     string
	Item    model.Item
	Created time.Time
}

// InsertItem stores item for a run.
func (idb *ItemDB) InsertItem(ctx context.Context, runID, spider, url string, item model.Item) (int64, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize item: %w", err)
	}

	result, err := idb.db.ExecContext(ctx,
		`INSERT INTO items (run_id, spider, url, data) VALUES (?, ?, ?, ?)`,
		runID, spider, url, string(data),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert item: %w", err)
	}
	return result.LastInsertId()
}

// CountItems returns the number of items stored for a run. An empty
// runID counts every item.
func (idb *ItemDB) CountItems(ctx context.Context, runID string) (int, error) {
	query := `SELECT COUNT(*) FROM items`
	args := make([]any, 0, 1)
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}

	var n int
	if err := idb.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

// ListItems returns the items of a run in insertion order. limit <= 0
// returns all of them.
func (idb *ItemDB) ListItems(ctx context.Context, runID string, limit int) ([]ItemRecord, error) {
	query := `
	SELECT id, run_id, spider, url, data, created
	FROM items
	WHERE run_id = ?
	ORDER BY id
	`
	args := []any{runID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := idb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var records []ItemRecord
	for rows.Next() {
		var (
			rec     ItemRecord
			url     sql.NullString
			data    string
			created string
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Spider, &url, &data, &created); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		rec.URL = url.String
		rec.Created = parseTimestamp(created)
		if err := json.Unmarshal([]byte(data), &rec.Item); err != nil {
			return nil, fmt.Errorf("failed to parse item %d: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Run is a stored crawl run.
type Run struct {
	ID       string
	Spider   string
	Started  time.Time
	Finished time.Time

	// Summary is nil until the run is finished.
	Summary *stats.Summary
}

// StartRun records the start of a crawl and returns its id.
func (idb *ItemDB) StartRun(ctx context.Context, spider string) (string, error) {
	id := uuid.NewString()
	_, err := idb.db.ExecContext(ctx,
		`INSERT INTO crawl_runs (id, spider, started) VALUES (?, ?, ?)`,
		id, spider, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return id, nil
}

// FinishRun stores the summary of a run.
func (idb *ItemDB) FinishRun(ctx context.Context, runID string, summary stats.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to serialize summary: %w", err)
	}
	finished := summary.Finished
	if finished.IsZero() {
		finished = time.Now()
	}

	result, err := idb.db.ExecContext(ctx,
		`UPDATE crawl_runs SET finished = ?, summary = ? WHERE id = ?`,
		finished.UTC().Format(timeLayout), string(data), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// ListRuns returns runs newest first. An empty spider lists every
// spider; limit <= 0 means no limit.
func (idb *ItemDB) ListRuns(ctx context.Context, spider string, limit int) ([]Run, error) {
	query := `SELECT id, spider, started, finished, summary FROM crawl_runs WHERE 1=1`
	args := make([]any, 0, 2)
	if spider != "" {
		query += " AND spider = ?"
		args = append(args, spider)
	}
	query += " ORDER BY started DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := idb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun returns a run by id, or ErrRunNotFound.
func (idb *ItemDB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := idb.db.QueryRowContext(ctx,
		`SELECT id, spider, started, finished, summary FROM crawl_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run      Run
		started  string
		finished sql.NullString
		summary  sql.NullString
	)
	if err := s.Scan(&run.ID, &run.Spider, &started, &finished, &summary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.Started = parseTimestamp(started)
	if finished.Valid {
		run.Finished = parseTimestamp(finished.String)
	}
	if summary.Valid && summary.String != "" {
		var s stats.Summary
		if err := json.Unmarshal([]byte(summary.String), &s); err != nil {
			return nil, fmt.Errorf("failed to parse summary of run %s: %w", run.ID, err)
		}
		run.Summary = &s
	}
	return &run, nil
}

// timestampFormats are the formats SQLite may return, most specific
// first.
var timestampFormats = []string{
	timeLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
}

// parseTimestamp tries each of timestampFormats and returns the zero
// time when none matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
