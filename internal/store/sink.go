package store

import (
	"context"

	"github.com/nvandessel/cellsim/internal/naming"
	"github.com/nvandessel/cellsim/internal/simulation"
)

// NewSink adapts ls to the simulator's sink interface. If ls supports
// batches the returned sink is a simulation.TxSink and every pushed
// timepoint is written atomically.
func NewSink(ls LineageStore) simulation.Sink {
	if b, ok := ls.(Batcher); ok {
		return &txSink{sink: sink{w: ls}, b: b}
	}
	return &sink{w: ls}
}

type sink struct {
	w SpotWriter
}

func (s *sink) CreateNode(ctx context.Context, n simulation.Node) (simulation.Handle, error) {
	id, err := s.w.AddSpot(ctx, Spot{
		Time:   n.Time,
		X:      n.Position.X,
		Y:      n.Position.Y,
		Z:      n.Position.Z,
		Radius: n.Radius,
		Label:  n.Label,
	})
	return simulation.Handle(id), err
}

func (s *sink) Connect(ctx context.Context, from, to simulation.Handle) error {
	return s.w.AddLink(ctx, int64(from), int64(to))
}

type txSink struct {
	sink
	b Batcher
}

func (s *txSink) Begin(ctx context.Context) (simulation.SinkTx, error) {
	batch, err := s.b.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &batchSink{sink: sink{w: batch}, batch: batch}, nil
}

type batchSink struct {
	sink
	batch Batch
}

func (s *batchSink) Commit() error   { return s.batch.Commit() }
func (s *batchSink) Rollback() error { return s.batch.Rollback() }

// SeedsAt returns simulation seeds continuing the lineage from the spots of
// timepoint t, skipping spots with the given labels (such as the centre
// lineage). Status hints are stripped from the stored labels.
func SeedsAt(ctx context.Context, ls LineageStore, t int, skipLabels ...string) ([]simulation.Seed, error) {
	spots, err := ls.SpotsAt(ctx, t)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(skipLabels))
	for _, l := range skipLabels {
		skip[l] = true
	}

	seeds := make([]simulation.Seed, 0, len(spots))
	for _, sp := range spots {
		if skip[sp.Label] {
			continue
		}
		seeds = append(seeds, simulation.Seed{
			Label:    naming.BaseLabel(sp.Label),
			Position: simulation.Vec3{X: sp.X, Y: sp.Y, Z: sp.Z},
			Radius:   sp.Radius,
			Handle:   simulation.Handle(sp.ID),
		})
	}
	return seeds, nil
}
