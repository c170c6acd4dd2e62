package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/cellsim/internal/naming"
	"github.com/nvandessel/cellsim/internal/simulation"
)

func sinkTestConfig() simulation.Config {
	cfg := simulation.DefaultConfig()
	cfg.Seed = 11
	cfg.MeanLifespanBeforeDivision = 4
	cfg.MaxLifespan = 40
	return cfg
}

func TestNewSink_TransactionalWhenBatched(t *testing.T) {
	_, ok := NewSink(NewInMemoryLineageStore()).(simulation.TxSink)
	assert.True(t, ok, "in-memory store supports batches")

	var plain struct{ LineageStore }
	_, ok = NewSink(plain).(simulation.TxSink)
	assert.False(t, ok, "stores without batches get a plain sink")
}

func TestRunIntoStores(t *testing.T) {
	stores := map[string]func(t *testing.T) LineageStore{
		"memory": func(t *testing.T) LineageStore { return NewInMemoryLineageStore() },
		"sqlite": func(t *testing.T) LineageStore {
			s := newTestSQLiteStore(t, t.TempDir())
			t.Cleanup(func() { s.Close() })
			return s
		},
		"redis": func(t *testing.T) LineageStore {
			s, _ := newTestRedisStore(t, "")
			return s
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ls := newStore(t)
			ctx := context.Background()

			sim, err := simulation.New(sinkTestConfig())
			require.NoError(t, err)
			summary, err := simulation.Run(ctx, sim, NewSink(ls), simulation.RunOptions{
				InitialCells:  3,
				Timepoints:    12,
				CenterLineage: true,
			})
			require.NoError(t, err)
			assert.Equal(t, 13, summary.Pushed)
			assert.Positive(t, summary.Divisions)

			issues, err := ValidateLineage(ctx, ls)
			require.NoError(t, err)
			assert.Empty(t, issues)

			from, to, err := ls.TimeRange(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, from)
			assert.Equal(t, 12, to)

			last, err := ls.SpotsAt(ctx, 12)
			require.NoError(t, err)
			// one centre node on top of the population
			assert.Len(t, last, sim.Len()+1)
		})
	}
}

func TestSeedsAtResumesLineage(t *testing.T) {
	ls := NewInMemoryLineageStore()
	ctx := context.Background()
	sink := NewSink(ls)

	first, err := simulation.New(sinkTestConfig())
	require.NoError(t, err)
	_, err = simulation.Run(ctx, first, sink, simulation.RunOptions{
		InitialCells:  2,
		Timepoints:    6,
		CenterLineage: true,
	})
	require.NoError(t, err)

	seeds, err := SeedsAt(ctx, ls, 6, simulation.CentreLabel)
	require.NoError(t, err)
	require.Len(t, seeds, first.Len())
	for _, s := range seeds {
		assert.NotEqual(t, simulation.CentreLabel, s.Label)
		assert.Equal(t, naming.BaseLabel(s.Label), s.Label)
		assert.NotZero(t, s.Handle)
	}

	cfg := sinkTestConfig()
	cfg.Seed = 99
	second, err := simulation.New(cfg)
	require.NoError(t, err)
	require.NoError(t, second.Resume(6, seeds))

	summary, err := simulation.Run(ctx, second, sink, simulation.RunOptions{Timepoints: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Pushed, "resumed timepoint is not pushed twice")

	issues, err := ValidateLineage(ctx, ls)
	require.NoError(t, err)
	assert.Empty(t, issues)

	at6, err := ls.SpotsAt(ctx, 6)
	require.NoError(t, err)
	assert.Len(t, at6, len(seeds)+1)

	_, to, err := ls.TimeRange(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, to)
}

func TestSeedsAtStripsStatusHints(t *testing.T) {
	ls := NewInMemoryLineageStore()
	ctx := context.Background()
	mustAddSpot(t, ls, Spot{Time: 3, X: 1, Radius: 2, Label: "B_1a"})
	mustAddSpot(t, ls, Spot{Time: 3, X: 5, Radius: 2, Label: "2_W"})

	seeds, err := SeedsAt(ctx, ls, 3)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "1a", seeds[0].Label)
	assert.Equal(t, "2", seeds[1].Label)
	assert.Equal(t, simulation.Handle(1), seeds[0].Handle)
	assert.Equal(t, simulation.Vec3{X: 5}, seeds[1].Position)
}
