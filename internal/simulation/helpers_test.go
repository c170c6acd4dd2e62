package simulation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var errSinkDown = errors.New("sink down")

type link struct {
	From, To Handle
}

// recordingSink keeps every node and link in memory. failOn makes the
// n-th CreateNode call (1-based, counted over the sink's lifetime) fail.
type recordingSink struct {
	mu     sync.Mutex
	nodes  []Node
	links  []link
	calls  int
	failOn int
}

func (r *recordingSink) CreateNode(_ context.Context, n Node) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failOn > 0 && r.calls == r.failOn {
		return NoHandle, errSinkDown
	}
	r.nodes = append(r.nodes, n)
	return Handle(len(r.nodes)), nil
}

func (r *recordingSink) Connect(_ context.Context, from, to Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links = append(r.links, link{from, to})
	return nil
}

func (r *recordingSink) node(h Handle) Node {
	return r.nodes[h-1]
}

func (r *recordingSink) nodesAt(t int) []Node {
	var out []Node
	for _, n := range r.nodes {
		if n.Time == t {
			out = append(out, n)
		}
	}
	return out
}

// txSink buffers writes until Commit.
type txSink struct {
	recordingSink
	rollbacks int
	commits   int
}

func (s *txSink) Begin(context.Context) (SinkTx, error) {
	return &bufferedTx{parent: s, base: len(s.nodes)}, nil
}

type bufferedTx struct {
	parent *txSink
	base   int
	nodes  []Node
	links  []link
}

func (tx *bufferedTx) CreateNode(_ context.Context, n Node) (Handle, error) {
	tx.parent.calls++
	if tx.parent.failOn > 0 && tx.parent.calls == tx.parent.failOn {
		return NoHandle, errSinkDown
	}
	tx.nodes = append(tx.nodes, n)
	return Handle(tx.base + len(tx.nodes)), nil
}

func (tx *bufferedTx) Connect(_ context.Context, from, to Handle) error {
	tx.links = append(tx.links, link{from, to})
	return nil
}

func (tx *bufferedTx) Commit() error {
	tx.parent.nodes = append(tx.parent.nodes, tx.nodes...)
	tx.parent.links = append(tx.parent.links, tx.links...)
	tx.parent.commits++
	return nil
}

func (tx *bufferedTx) Rollback() error {
	tx.parent.rollbacks++
	return nil
}

// testConfig returns a seeded config with division and death pushed far
// out, so tests only enable the lifecycle they exercise.
func testConfig(mutate func(*Config)) Config {
	cfg := DefaultConfig()
	cfg.Seed = 42
	cfg.MeanLifespanBeforeDivision = 1e6
	cfg.LifespanStdDevFactor = 0
	cfg.MaxLifespan = 1 << 30
	if mutate != nil {
		mutate(&cfg)
	}
	return cfg
}

func newTestSim(t *testing.T, mutate func(*Config)) *Simulator {
	t.Helper()
	sim, err := New(testConfig(mutate))
	require.NoError(t, err)
	return sim
}

func stepN(t *testing.T, sim *Simulator, n int) []StepResult {
	t.Helper()
	out := make([]StepResult, 0, n)
	for i := 0; i < n; i++ {
		res, err := sim.Step(context.Background())
		require.NoError(t, err)
		out = append(out, res)
	}
	return out
}

func assertNoCollision(t *testing.T, sim *Simulator, minDist float64) {
	t.Helper()
	agents := sim.Agents()
	for i := range agents {
		for j := i + 1; j < len(agents); j++ {
			d := agents[i].Position().Sub(agents[j].Position()).Norm()
			if d < minDist {
				t.Errorf("t=%d: agents %d and %d are %.4f apart, want >= %.4f",
					sim.Time(), agents[i].ID(), agents[j].ID(), d, minDist)
			}
		}
	}
}
