// Package backup writes lineage stores to portable archive files and
// restores them into any other store.
package backup

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nvandessel/cellsim/internal/store"
)

// Archive is the payload of a backup file.
type Archive struct {
	Version   int          `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	Spots     []store.Spot `json:"spots"`
	Links     []store.Link `json:"links"`
	Runs      []store.Run  `json:"runs,omitempty"`
}

// DefaultBackupDir returns the default backup directory (~/.cellsim/backups/).
func DefaultBackupDir() (string, error) {
	dir, err := store.GlobalCellsimPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "backups"), nil
}

// GenerateBackupPath returns a timestamped archive name in dir.
func GenerateBackupPath(dir string) string {
	ts := time.Now().Format("20060102-150405")
	return filepath.Join(dir, fmt.Sprintf("%s%s%s", filePrefix, ts, fileExt))
}

// Snapshot reads the whole lineage and run history of ls.
func Snapshot(ctx context.Context, ls store.LineageStore) (*Archive, error) {
	spots, err := ls.AllSpots(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read spots: %w", err)
	}
	links, err := ls.AllLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read links: %w", err)
	}
	runs, err := ls.Runs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return &Archive{
		Version:   FormatVersion,
		CreatedAt: time.Now().UTC(),
		Spots:     spots,
		Links:     links,
		Runs:      runs,
	}, nil
}

// Backup snapshots ls and writes it to path.
func Backup(ctx context.Context, ls store.LineageStore, path string, metadata map[string]string) (*Header, error) {
	a, err := Snapshot(ctx, ls)
	if err != nil {
		return nil, err
	}
	return Write(path, a, metadata)
}

// RestoreResult contains statistics about the restore operation.
type RestoreResult struct {
	SpotsRestored int `json:"spots_restored"`
	LinksRestored int `json:"links_restored"`
	RunsRestored  int `json:"runs_restored"`
}

// Restore reads the archive at path into ls. Spots get new IDs in ls and
// links are rewritten to match, so an archive can be restored into a store
// that already holds other lineages. Stores that support batches receive
// the whole lineage in one batch.
func Restore(ctx context.Context, ls store.LineageStore, path string) (*RestoreResult, error) {
	a, err := Read(path)
	if err != nil {
		return nil, err
	}
	return RestoreArchive(ctx, ls, a)
}

// RestoreArchive is Restore for an archive already in memory.
func RestoreArchive(ctx context.Context, ls store.LineageStore, a *Archive) (*RestoreResult, error) {
	var w store.SpotWriter = ls
	var batch store.Batch
	if b, ok := ls.(store.Batcher); ok {
		var err error
		if batch, err = b.Begin(ctx); err != nil {
			return nil, fmt.Errorf("failed to begin batch: %w", err)
		}
		w = batch
	}
	fail := func(err error) (*RestoreResult, error) {
		if batch != nil {
			_ = batch.Rollback()
		}
		return nil, err
	}

	result := &RestoreResult{}
	ids := make(map[int64]int64, len(a.Spots))
	for _, sp := range a.Spots {
		id, err := w.AddSpot(ctx, sp)
		if err != nil {
			return fail(fmt.Errorf("failed to restore spot %d: %w", sp.ID, err))
		}
		ids[sp.ID] = id
		result.SpotsRestored++
	}

	for _, l := range a.Links {
		src, okSrc := ids[l.Source]
		tgt, okTgt := ids[l.Target]
		if !okSrc || !okTgt {
			return fail(fmt.Errorf("link %d -> %d: %w", l.Source, l.Target, store.ErrSpotNotFound))
		}
		if err := w.AddLink(ctx, src, tgt); err != nil {
			return fail(fmt.Errorf("failed to restore link %d -> %d: %w", l.Source, l.Target, err))
		}
		result.LinksRestored++
	}

	if batch != nil {
		if err := batch.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit restore: %w", err)
		}
	}

	for _, r := range a.Runs {
		if err := ls.AddRun(ctx, r); err != nil {
			return nil, fmt.Errorf("failed to restore run %s: %w", r.ID, err)
		}
		result.RunsRestored++
	}
	return result, nil
}
