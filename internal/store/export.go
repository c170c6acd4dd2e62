package store

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ImportSpotsFromJSONL imports spots from a JSONL file, keeping their IDs.
// A missing file imports nothing.
func (s *SQLiteLineageStore) ImportSpotsFromJSONL(ctx context.Context, path string) error {
	return readJSONL(path, func(spot Spot) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO spots (id, time, x, y, z, radius, label) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			spot.ID, spot.Time, spot.X, spot.Y, spot.Z, spot.Radius, spot.Label)
		if err != nil {
			return fmt.Errorf("failed to import spot %d: %w", spot.ID, err)
		}
		return nil
	})
}

// ImportLinksFromJSONL imports links from a JSONL file. Links whose
// endpoints are missing are logged and skipped.
func (s *SQLiteLineageStore) ImportLinksFromJSONL(ctx context.Context, path string) error {
	return readJSONL(path, func(l Link) error {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO links (source, target) VALUES (?, ?)`, l.Source, l.Target); err != nil {
			slog.Warn("skipping link", "source", l.Source, "target", l.Target, "error", err)
		}
		return nil
	})
}

// readJSONL decodes one T per non-empty line and passes it to fn. Lines
// that do not decode are logged and skipped.
func readJSONL[T any](path string, fn func(T) error) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			slog.Warn("skipping malformed JSONL line", "file", filepath.Base(path), "line", line, "error", err)
			continue
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (s *SQLiteLineageStore) exportSpotsToJSONL(ctx context.Context) error {
	return s.writeJSONL(ctx, s.spotsFile,
		`SELECT id, time, x, y, z, radius, label FROM spots ORDER BY id`,
		func(rows *sql.Rows) (any, error) { return scanSpot(rows) })
}

func (s *SQLiteLineageStore) exportLinksToJSONL(ctx context.Context) error {
	return s.writeJSONL(ctx, s.linksFile,
		`SELECT source, target FROM links ORDER BY source, target`,
		func(rows *sql.Rows) (any, error) {
			var l Link
			err := rows.Scan(&l.Source, &l.Target)
			return l, err
		})
}

// writeJSONL replaces path with one JSON line per row of query. The file
// is written next to path and renamed into place.
func (s *SQLiteLineageStore) writeJSONL(ctx context.Context, path, query string, scan func(*sql.Rows) (any, error)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", filepath.Base(path), err)
	}
	defer rows.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return fmt.Errorf("failed to scan %s row: %w", filepath.Base(path), err)
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
