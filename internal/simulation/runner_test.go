package simulation

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushSnapshotLinksConsecutiveTimepoints(t *testing.T) {
	sim := newTestSim(t, nil)
	require.NoError(t, sim.Populate(2))
	sink := &recordingSink{}
	ctx := context.Background()

	require.NoError(t, sim.PushSnapshot(ctx, sink))
	assert.Len(t, sink.nodes, 2)
	assert.Empty(t, sink.links)

	stepN(t, sim, 1)
	require.NoError(t, sim.PushSnapshot(ctx, sink))

	assert.Len(t, sink.nodesAt(1), 2)
	assert.Equal(t, []link{{1, 3}, {2, 4}}, sink.links)
	for _, l := range sink.links {
		assert.Equal(t, sink.node(l.From).Time+1, sink.node(l.To).Time)
	}
}

func TestPushSnapshotLinksDaughtersToMother(t *testing.T) {
	sim := newTestSim(t, func(c *Config) {
		c.MeanLifespanBeforeDivision = 1
		c.MaxDensityForDivision = 10
	})
	require.NoError(t, sim.Populate(1))
	sink := &recordingSink{}
	ctx := context.Background()

	require.NoError(t, sim.PushSnapshot(ctx, sink))
	stepN(t, sim, 1)
	require.NoError(t, sim.PushSnapshot(ctx, sink))
	stepN(t, sim, 1)
	require.Equal(t, 2, sim.Len())
	require.NoError(t, sim.PushSnapshot(ctx, sink))

	// mother: node 1 at t=0, node 2 at t=1; daughters: nodes 3 and 4 at t=2
	assert.Equal(t, []link{{1, 2}, {2, 3}, {2, 4}}, sink.links)
	assert.Equal(t, "1a", sink.node(3).Label)
	assert.Equal(t, "1b", sink.node(4).Label)
}

func TestPushSnapshotFailureLeavesHandlesForRetry(t *testing.T) {
	sim := newTestSim(t, nil)
	require.NoError(t, sim.Populate(2))
	ctx := context.Background()

	first := &recordingSink{}
	require.NoError(t, sim.PushSnapshot(ctx, first))
	stepN(t, sim, 1)

	broken := &recordingSink{failOn: 2}
	err := sim.PushSnapshot(ctx, broken)
	require.Error(t, err)
	assert.Same(t, errSinkDown, err)
	for _, a := range sim.Agents() {
		assert.Equal(t, Handle(a.ID()), a.Handle(), "handle must not change after a failed push")
	}

	require.NoError(t, sim.PushSnapshot(ctx, first))
	assert.Equal(t, []link{{1, 3}, {2, 4}}, first.links)
}

func TestPushSnapshotUsesTransactions(t *testing.T) {
	sim := newTestSim(t, nil)
	require.NoError(t, sim.Populate(3))
	ctx := context.Background()

	sink := &txSink{}
	sink.failOn = 2
	require.ErrorIs(t, sim.PushSnapshot(ctx, sink), errSinkDown)
	assert.Equal(t, 1, sink.rollbacks)
	assert.Empty(t, sink.nodes)

	require.NoError(t, sim.PushSnapshot(ctx, sink))
	assert.Equal(t, 1, sink.commits)
	assert.Len(t, sink.nodes, 3)
}

func TestRunKeepEvery(t *testing.T) {
	sim := newTestSim(t, nil)
	sink := &recordingSink{}
	var seen []int

	summary, err := Run(context.Background(), sim, sink, RunOptions{
		InitialCells: 2,
		Timepoints:   12,
		KeepEvery:    5,
		OnTimepoint:  func(r StepResult) { seen = append(seen, r.Time) },
	})
	require.NoError(t, err)

	assert.Equal(t, 0, summary.From)
	assert.Equal(t, 12, summary.To)
	assert.Equal(t, 12, summary.Timepoints)
	assert.Equal(t, 4, summary.Pushed)
	assert.Equal(t, 2, summary.Population)
	assert.False(t, summary.StoppedEarly)
	assert.Len(t, seen, 12)

	var times []int
	for _, n := range sink.nodes {
		if len(times) == 0 || times[len(times)-1] != n.Time {
			times = append(times, n.Time)
		}
	}
	assert.Equal(t, []int{0, 5, 10, 12}, times)
}

func TestRunCentreLineage(t *testing.T) {
	sim := newTestSim(t, nil)
	sink := &recordingSink{}

	_, err := Run(context.Background(), sim, sink, RunOptions{
		InitialCells:  2,
		Timepoints:    4,
		CenterLineage: true,
	})
	require.NoError(t, err)

	var centre []Handle
	for i, n := range sink.nodes {
		if n.Label == CentreLabel {
			centre = append(centre, Handle(i+1))
		}
	}
	require.Len(t, centre, 5)
	// the initial seeds sit at x=0 and x=6
	assert.Equal(t, Vec3{X: 3}, sink.node(centre[0]).Position)

	centreLinks := 0
	for _, l := range sink.links {
		if sink.node(l.From).Label == CentreLabel {
			centreLinks++
		}
	}
	assert.Equal(t, 4, centreLinks)
}

func TestRunStopsBetweenTimepoints(t *testing.T) {
	sim := newTestSim(t, nil)
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())

	summary, err := Run(ctx, sim, sink, RunOptions{
		InitialCells: 1,
		Timepoints:   100,
		OnTimepoint: func(r StepResult) {
			if r.Time == 3 {
				cancel()
			}
		},
	})
	require.NoError(t, err)

	assert.True(t, summary.StoppedEarly)
	assert.Equal(t, 3, summary.To)
	assert.Len(t, sink.nodesAt(3), 1)
}

func TestRunWithoutSink(t *testing.T) {
	sim := newTestSim(t, nil)
	summary, err := Run(context.Background(), sim, nil, RunOptions{InitialCells: 3, Timepoints: 5})
	require.NoError(t, err)
	assert.Zero(t, summary.Pushed)
	assert.Equal(t, 5, summary.To)
}

func TestTrackReport(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig(func(c *Config) {
		c.CollectTracks = true
		c.MeanLifespanBeforeDivision = 3
		c.MaxDensityForDivision = 10
	})
	sim, err := New(cfg, WithTrackReport(NewTrackReport(&buf)))
	require.NoError(t, err)
	require.NoError(t, sim.Populate(1))

	stepN(t, sim, 6)
	require.NoError(t, sim.Close())

	out := buf.String()
	require.True(t, strings.HasPrefix(out, trackHeader))

	tracks := strings.Split(strings.TrimSuffix(strings.TrimPrefix(out, trackHeader), "\n\n\n"), "\n\n\n")
	require.Len(t, tracks, 3, "mother plus two daughters")

	mother := strings.Split(tracks[0], "\n")
	// seed row at t=0, t=1..3, then the dividing step at t=4
	require.Len(t, mother, 5)
	for _, row := range mother {
		assert.Len(t, strings.Split(row, "\t"), 7, row)
	}
	assert.True(t, strings.HasSuffix(mother[0], "\t1\t0\t1"), mother[0])

	last := strings.Split(mother[4], "\t")
	prev := strings.Split(mother[3], "\t")
	assert.Equal(t, "4", last[0])
	assert.Equal(t, prev[1:4], last[1:4], "a dividing mother does not move")
	assert.Contains(t, tracks[1], "\t2\t1\t1a")
}

func TestTrackReportRecordsDeathTimepoint(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig(func(c *Config) {
		c.CollectTracks = true
		c.MaxLifespan = 2
	})
	sim, err := New(cfg, WithTrackReport(NewTrackReport(&buf)))
	require.NoError(t, err)
	require.NoError(t, sim.Populate(1))

	res := stepN(t, sim, 3)
	require.Equal(t, 1, res[2].Deaths)
	require.NoError(t, sim.Close())

	body := strings.TrimSuffix(strings.TrimPrefix(buf.String(), trackHeader), "\n\n\n")
	rows := strings.Split(body, "\n")
	require.Len(t, rows, 4, "t=0..2 alive plus the row of the step it dies in")

	last := strings.Split(rows[3], "\t")
	prev := strings.Split(rows[2], "\t")
	assert.Equal(t, "3", last[0])
	assert.Equal(t, prev[1:4], last[1:4])
}
