package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// InMemoryLineageStore implements LineageStore for testing and dry runs.
type InMemoryLineageStore struct {
	mu     sync.RWMutex
	spots  map[int64]Spot
	links  []Link
	runs   map[string]Run
	nextID int64
}

// NewInMemoryLineageStore creates a new in-memory store.
func NewInMemoryLineageStore() *InMemoryLineageStore {
	return &InMemoryLineageStore{
		spots: make(map[int64]Spot),
		links: make([]Link, 0),
		runs:  make(map[string]Run),
	}
}

// AddSpot adds a spot to the store.
func (s *InMemoryLineageStore) AddSpot(ctx context.Context, spot Spot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addSpotLocked(spot), nil
}

func (s *InMemoryLineageStore) addSpotLocked(spot Spot) int64 {
	s.nextID++
	spot.ID = s.nextID
	s.spots[spot.ID] = spot
	return spot.ID
}

// AddLink connects two existing spots.
func (s *InMemoryLineageStore) AddLink(ctx context.Context, source, target int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLinkLocked(source, target)
}

func (s *InMemoryLineageStore) addLinkLocked(source, target int64) error {
	if _, ok := s.spots[source]; !ok {
		return fmt.Errorf("link %d->%d: source: %w", source, target, ErrSpotNotFound)
	}
	if _, ok := s.spots[target]; !ok {
		return fmt.Errorf("link %d->%d: target: %w", source, target, ErrSpotNotFound)
	}
	s.links = append(s.links, Link{Source: source, Target: target})
	return nil
}

// GetSpot retrieves a spot by ID. Returns nil if not found.
func (s *InMemoryLineageStore) GetSpot(ctx context.Context, id int64) (*Spot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spot, ok := s.spots[id]
	if !ok {
		return nil, nil
	}
	return &spot, nil
}

// SpotsAt returns the spots of timepoint t.
func (s *InMemoryLineageStore) SpotsAt(ctx context.Context, t int) ([]Spot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Spot
	for _, spot := range s.spots {
		if spot.Time == t {
			out = append(out, spot)
		}
	}
	sortSpots(out)
	return out, nil
}

// Links returns the links touching id.
func (s *InMemoryLineageStore) Links(ctx context.Context, id int64, direction Direction) ([]Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Link
	for _, l := range s.links {
		switch direction {
		case DirectionOutbound:
			if l.Source == id {
				out = append(out, l)
			}
		case DirectionInbound:
			if l.Target == id {
				out = append(out, l)
			}
		case DirectionBoth:
			if l.Source == id || l.Target == id {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

// AllSpots returns every spot in ascending ID order.
func (s *InMemoryLineageStore) AllSpots(ctx context.Context) ([]Spot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Spot, 0, len(s.spots))
	for _, spot := range s.spots {
		out = append(out, spot)
	}
	sortSpots(out)
	return out, nil
}

// AllLinks returns every link ordered by source, then target.
func (s *InMemoryLineageStore) AllLinks(ctx context.Context) ([]Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.links)
	sortLinks(out)
	return out, nil
}

// TimeRange returns the first and last stored timepoint.
func (s *InMemoryLineageStore) TimeRange(ctx context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.spots) == 0 {
		return 0, 0, ErrEmpty
	}
	first := true
	var from, to int
	for _, spot := range s.spots {
		if first || spot.Time < from {
			from = spot.Time
		}
		if first || spot.Time > to {
			to = spot.Time
		}
		first = false
	}
	return from, to, nil
}

// AddRun inserts or replaces a run record.
func (s *InMemoryLineageStore) AddRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// Runs returns all runs ordered by start time.
func (s *InMemoryLineageStore) Runs(ctx context.Context) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sortRuns(out)
	return out, nil
}

// Begin starts a batch. Writes are applied under the store lock on Commit.
func (s *InMemoryLineageStore) Begin(ctx context.Context) (Batch, error) {
	return &memoryBatch{store: s}, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryLineageStore) Close() error {
	return nil
}

// memoryBatch reserves IDs up front so callers can link spots created in
// the same batch.
type memoryBatch struct {
	store *InMemoryLineageStore
	spots []Spot
	links []Link
}

func (b *memoryBatch) AddSpot(ctx context.Context, spot Spot) (int64, error) {
	b.store.mu.Lock()
	b.store.nextID++
	spot.ID = b.store.nextID
	b.store.mu.Unlock()

	b.spots = append(b.spots, spot)
	return spot.ID, nil
}

func (b *memoryBatch) AddLink(ctx context.Context, source, target int64) error {
	b.links = append(b.links, Link{Source: source, Target: target})
	return nil
}

func (b *memoryBatch) Commit() error {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[int64]bool, len(b.spots))
	for _, spot := range b.spots {
		pending[spot.ID] = true
	}
	exists := func(id int64) bool {
		_, ok := s.spots[id]
		return ok || pending[id]
	}
	for _, l := range b.links {
		if !exists(l.Source) || !exists(l.Target) {
			return fmt.Errorf("link %d->%d: %w", l.Source, l.Target, ErrSpotNotFound)
		}
	}

	for _, spot := range b.spots {
		s.spots[spot.ID] = spot
	}
	s.links = append(s.links, b.links...)
	b.spots, b.links = nil, nil
	return nil
}

func (b *memoryBatch) Rollback() error {
	b.spots, b.links = nil, nil
	return nil
}

func sortSpots(spots []Spot) {
	slices.SortFunc(spots, func(a, b Spot) int { return cmp.Compare(a.ID, b.ID) })
}

func sortRuns(runs []Run) {
	slices.SortFunc(runs, func(a, b Run) int { return a.StartedAt.Compare(b.StartedAt) })
}

func sortLinks(links []Link) {
	slices.SortFunc(links, func(a, b Link) int {
		if c := cmp.Compare(a.Source, b.Source); c != 0 {
			return c
		}
		return cmp.Compare(a.Target, b.Target)
	})
}
