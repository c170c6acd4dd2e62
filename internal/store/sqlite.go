package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteLineageStore implements LineageStore using SQLite for persistence.
// It exports spots and links to JSONL on Sync().
type SQLiteLineageStore struct {
	mu        sync.RWMutex
	db        *sql.DB
	dir       string
	dbPath    string
	spotsFile string
	linksFile string
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteLineageStore creates a SQLiteLineageStore rooted at root.
// It creates the database at .cellsim/cellsim.db and imports existing JSONL
// exports into an empty database.
func NewSQLiteLineageStore(root string) (*SQLiteLineageStore, error) {
	dir := LocalCellsimPath(root)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .cellsim directory: %w", err)
	}

	dbPath := filepath.Join(dir, "cellsim.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer

	ctx := context.Background()
	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteLineageStore{
		db:        db,
		dir:       dir,
		dbPath:    dbPath,
		spotsFile: filepath.Join(dir, "spots.jsonl"),
		linksFile: filepath.Join(dir, "links.jsonl"),
	}

	if err := s.autoImport(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to auto-import JSONL: %w", err)
	}

	return s, nil
}

// Dir returns the .cellsim directory the store lives in.
func (s *SQLiteLineageStore) Dir() string { return s.dir }

// autoImport restores an empty database from the JSONL exports, if present.
func (s *SQLiteLineageStore) autoImport(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spots`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count spots: %w", err)
	}
	if count > 0 {
		return nil
	}

	if _, err := os.Stat(s.spotsFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat spots.jsonl: %w", err)
	}

	if err := s.ImportSpotsFromJSONL(ctx, s.spotsFile); err != nil {
		return fmt.Errorf("failed to import spots: %w", err)
	}
	if err := s.ImportLinksFromJSONL(ctx, s.linksFile); err != nil {
		return fmt.Errorf("failed to import links: %w", err)
	}
	return nil
}

// AddSpot adds a spot to the store.
func (s *SQLiteLineageStore) AddSpot(ctx context.Context, spot Spot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertSpot(ctx, s.db, spot)
}

func insertSpot(ctx context.Context, q queryer, spot Spot) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO spots (time, x, y, z, radius, label)
		VALUES (?, ?, ?, ?, ?, ?)
	`, spot.Time, spot.X, spot.Y, spot.Z, spot.Radius, spot.Label)
	if err != nil {
		return 0, fmt.Errorf("failed to insert spot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get spot id: %w", err)
	}
	return id, nil
}

// AddLink connects two existing spots.
func (s *SQLiteLineageStore) AddLink(ctx context.Context, source, target int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertLink(ctx, s.db, source, target)
}

func insertLink(ctx context.Context, q queryer, source, target int64) error {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM spots WHERE id IN (?, ?)`, source, target).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to check link endpoints: %w", err)
	}
	if (source == target && n < 1) || (source != target && n < 2) {
		return fmt.Errorf("link %d->%d: %w", source, target, ErrSpotNotFound)
	}

	if _, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO links (source, target) VALUES (?, ?)`, source, target); err != nil {
		return fmt.Errorf("failed to insert link: %w", err)
	}
	return nil
}

// GetSpot retrieves a spot by ID. Returns nil if not found.
func (s *SQLiteLineageStore) GetSpot(ctx context.Context, id int64) (*Spot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, time, x, y, z, radius, label FROM spots WHERE id = ?`, id)
	spot, err := scanSpot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get spot %d: %w", id, err)
	}
	return &spot, nil
}

// SpotsAt returns the spots of timepoint t.
func (s *SQLiteLineageStore) SpotsAt(ctx context.Context, t int) ([]Spot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.querySpots(ctx,
		`SELECT id, time, x, y, z, radius, label FROM spots WHERE time = ? ORDER BY id`, t)
}

// AllSpots returns every spot in ascending ID order.
func (s *SQLiteLineageStore) AllSpots(ctx context.Context) ([]Spot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.querySpots(ctx, `SELECT id, time, x, y, z, radius, label FROM spots ORDER BY id`)
}

func (s *SQLiteLineageStore) querySpots(ctx context.Context, query string, args ...any) ([]Spot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query spots: %w", err)
	}
	defer rows.Close()

	var spots []Spot
	for rows.Next() {
		spot, err := scanSpot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan spot: %w", err)
		}
		spots = append(spots, spot)
	}
	return spots, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSpot(row scanner) (Spot, error) {
	var spot Spot
	err := row.Scan(&spot.ID, &spot.Time, &spot.X, &spot.Y, &spot.Z, &spot.Radius, &spot.Label)
	return spot, err
}

// Links returns the links touching id.
func (s *SQLiteLineageStore) Links(ctx context.Context, id int64, direction Direction) ([]Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var query string
	var args []any

	switch direction {
	case DirectionOutbound:
		query = `SELECT source, target FROM links WHERE source = ?`
		args = append(args, id)
	case DirectionInbound:
		query = `SELECT source, target FROM links WHERE target = ?`
		args = append(args, id)
	case DirectionBoth:
		query = `SELECT source, target FROM links WHERE source = ? OR target = ?`
		args = append(args, id, id)
	default:
		return nil, fmt.Errorf("unknown direction %q", direction)
	}

	return s.queryLinks(ctx, query+" ORDER BY source, target", args...)
}

// AllLinks returns every link.
func (s *SQLiteLineageStore) AllLinks(ctx context.Context) ([]Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLinks(ctx, `SELECT source, target FROM links ORDER BY source, target`)
}

func (s *SQLiteLineageStore) queryLinks(ctx context.Context, query string, args ...any) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.Source, &l.Target); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// TimeRange returns the first and last stored timepoint.
func (s *SQLiteLineageStore) TimeRange(ctx context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var from, to sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(time), MAX(time) FROM spots`).Scan(&from, &to); err != nil {
		return 0, 0, fmt.Errorf("failed to query time range: %w", err)
	}
	if !from.Valid {
		return 0, 0, ErrEmpty
	}
	return int(from.Int64), int(to.Int64), nil
}

// AddRun inserts or replaces a run record.
func (s *SQLiteLineageStore) AddRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, started_at, seed, from_time, to_time, params)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.UTC().Format(time.RFC3339Nano), strconv.FormatUint(run.Seed, 10),
		run.From, run.To, nullString(run.Params))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// Runs returns all runs ordered by start time.
func (s *SQLiteLineageStore) Runs(ctx context.Context) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, seed, from_time, to_time, params FROM runs ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt, seed string
		var params sql.NullString
		if err := rows.Scan(&r.ID, &startedAt, &seed, &r.From, &r.To, &params); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("run %s: bad started_at: %w", r.ID, err)
		}
		if r.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
			return nil, fmt.Errorf("run %s: bad seed: %w", r.ID, err)
		}
		r.Params = params.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Begin starts a transaction. The store is locked until the returned batch
// is committed or rolled back.
func (s *SQLiteLineageStore) Begin(ctx context.Context) (Batch, error) {
	s.mu.Lock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteBatch{store: s, tx: tx}, nil
}

type sqliteBatch struct {
	store *SQLiteLineageStore
	tx    *sql.Tx
	done  bool
}

func (b *sqliteBatch) AddSpot(ctx context.Context, spot Spot) (int64, error) {
	return insertSpot(ctx, b.tx, spot)
}

func (b *sqliteBatch) AddLink(ctx context.Context, source, target int64) error {
	return insertLink(ctx, b.tx, source, target)
}

func (b *sqliteBatch) Commit() error {
	if b.done {
		return sql.ErrTxDone
	}
	b.done = true
	defer b.store.mu.Unlock()
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit timepoint: %w", err)
	}
	return nil
}

func (b *sqliteBatch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true
	defer b.store.mu.Unlock()
	return b.tx.Rollback()
}

// Sync exports all spots and links to JSONL.
func (s *SQLiteLineageStore) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.exportSpotsToJSONL(ctx); err != nil {
		return fmt.Errorf("failed to export spots: %w", err)
	}
	if err := s.exportLinksToJSONL(ctx); err != nil {
		return fmt.Errorf("failed to export links: %w", err)
	}
	return nil
}

// Close syncs and closes the store.
func (s *SQLiteLineageStore) Close() error {
	if err := s.Sync(context.Background()); err != nil {
		// Log but don't fail on sync error during close
		fmt.Fprintf(os.Stderr, "warning: failed to sync during close: %v\n", err)
	}
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
