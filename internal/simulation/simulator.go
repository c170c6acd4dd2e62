package simulation

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/cellsim/internal/naming"
)

// TraceRecorder receives structured per-agent decision events.
// *logging.TraceLogger satisfies it.
type TraceRecorder interface {
	Log(event map[string]any)
}

// StepResult summarises one committed timepoint.
type StepResult struct {
	Time        int           `json:"time"`
	Agents      int           `json:"agents"`
	Births      int           `json:"births"`
	Deaths      int           `json:"deaths"`
	Divisions   int           `json:"divisions"`
	Blocked     int           `json:"blocked"`
	WantsDivide int           `json:"wants_divide"`
	Duration    time.Duration `json:"duration"`
}

// Seed describes an agent to restart a lineage from.
type Seed struct {
	Label    string
	Position Vec3
	Radius   float64
	Handle   Handle
}

// Simulator owns a Population and drives it one timepoint at a time.
type Simulator struct {
	cfg       Config
	pop       *Population
	rng       *rand.Rand
	log       *slog.Logger
	trace     TraceRecorder
	tracks    *TrackReport
	rootCount int

	sinkMu     sync.Mutex
	lastPushed int
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTrace records every agent decision to r.
func WithTrace(r TraceRecorder) Option {
	return func(s *Simulator) { s.trace = r }
}

// WithTrackReport writes retired agents' tracks to r. Only used when
// Config.CollectTracks is set.
func WithTrackReport(r *TrackReport) Option {
	return func(s *Simulator) { s.tracks = r }
}

// New validates cfg and returns an empty simulator at timepoint 0.
func New(cfg Config, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	s := &Simulator{
		cfg: cfg,
		pop: newPopulation(),
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		log: slog.New(slog.DiscardHandler),

		lastPushed: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the simulator's configuration.
func (s *Simulator) Config() Config { return s.cfg }

// Population exposes the registry and staging operations.
func (s *Simulator) Population() *Population { return s.pop }

// Time returns the last committed timepoint.
func (s *Simulator) Time() int { return s.pop.clock }

// Len returns the number of registered agents.
func (s *Simulator) Len() int { return s.pop.Len() }

// Agent returns the registered agent with id.
func (s *Simulator) Agent(id ID) (*Agent, bool) { return s.pop.Get(id) }

// Agents returns the registered agents in ascending ID order.
func (s *Simulator) Agents() []*Agent { return s.pop.sorted() }

// newAgent draws the lifecycle thresholds and a private random source.
// It must only be called outside the compute phase.
func (s *Simulator) newAgent(id, parent ID, label string, pos Vec3, radius float64, born int) *Agent {
	cfg := &s.cfg
	sigma := cfg.LifespanStdDevFactor * cfg.MeanLifespanBeforeDivision
	untilDivision := int(s.rng.NormFloat64()*sigma + cfg.MeanLifespanBeforeDivision)
	if untilDivision < 1 {
		untilDivision = 1
	}

	a := &Agent{
		cfg:               cfg,
		id:                id,
		parentID:          parent,
		baseLabel:         label,
		birthTime:         born,
		divisionThreshold: born + untilDivision,
		deathDeadline:     born + cfg.MaxLifespan,
		time:              born,
		current:           pos,
		staged:            pos,
		radius:            radius,
		rng:               rand.New(rand.NewPCG(s.rng.Uint64(), s.rng.Uint64())),
	}
	if parent == NoParent && cfg.CollectTracks {
		a.recordTrack()
	}
	if cfg.Verbose {
		s.log.Debug("new agent",
			"id", id, "label", label, "parent", parent,
			"x", pos.X, "y", pos.Y, "z", pos.Z, "time", born,
			"divide_after", a.divisionThreshold, "die_after", a.deathDeadline)
	}
	return a
}

// SpawnRoot creates a root agent at pos and stages its birth.
func (s *Simulator) SpawnRoot(pos Vec3, t int) (*Agent, error) {
	s.rootCount++
	a := s.newAgent(s.pop.AllocateID(), NoParent, strconv.Itoa(s.rootCount), pos, s.cfg.InitialRadius, t)
	if err := s.pop.StageBirth(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Populate seeds n root agents along the x axis at the current timepoint and commits them.
func (s *Simulator) Populate(n int) error {
	spacing := math.Max(3, 2*s.cfg.MinDistanceToNeighbor)
	positions := make([]Vec3, n)
	for i := range positions {
		positions[i] = Vec3{X: float64(i) * spacing}
	}
	return s.PopulateAt(positions)
}

// PopulateAt seeds one root agent per position and commits them.
func (s *Simulator) PopulateAt(positions []Vec3) error {
	for _, p := range positions {
		if _, err := s.SpawnRoot(p, s.pop.clock); err != nil {
			return err
		}
	}
	s.pop.commit()
	s.log.Info("population seeded", "agents", s.pop.Len(), "time", s.pop.clock)
	return nil
}

// Resume seeds an empty simulator with agents continuing an existing
// lineage at timepoint t. Each seed's handle links its first new node.
func (s *Simulator) Resume(t int, seeds []Seed) error {
	if s.pop.Len() > 0 {
		return &InvariantError{Op: "resume", Detail: "population already seeded"}
	}
	s.pop.clock = t
	stored := true
	for _, seed := range seeds {
		stored = stored && seed.Handle != NoHandle
		s.rootCount++
		label := seed.Label
		if label == "" {
			label = strconv.Itoa(s.rootCount)
		}
		radius := seed.Radius
		if radius <= 0 {
			radius = s.cfg.InitialRadius
		}
		a := s.newAgent(s.pop.AllocateID(), NoParent, label, seed.Position, radius, t)
		a.handle = seed.Handle
		if err := s.pop.StageBirth(a); err != nil {
			return err
		}
	}
	s.pop.commit()
	if len(seeds) > 0 && stored {
		s.lastPushed = t
	}
	s.log.Info("population resumed", "agents", s.pop.Len(), "time", t)
	return nil
}

// Step advances the population by one timepoint and commits the result.
// ctx is only checked before the step starts; a started step always
// commits. Apart from ctx.Err() the only error is an *InvariantError, after
// which the simulator must not be used further.
func (s *Simulator) Step(ctx context.Context) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	start := time.Now()
	s.pop.resetStaging()
	till := s.pop.clock + 1

	agents := s.pop.sorted()
	outcomes := make([]stepOutcome, len(agents))
	s.compute(agents, outcomes, till)

	res := StepResult{Time: till}
	retiring := make(map[ID]bool)
	for i, a := range agents {
		out := outcomes[i]
		s.traceDecision(a, out)
		if out.stepped {
			switch a.status {
			case naming.StatusBlocked:
				res.Blocked++
			case naming.StatusWantsDivide, naming.StatusBlockedWantsDivide:
				res.WantsDivide++
			}
		}

		switch out.decision {
		case decideDie:
			if err := s.pop.StageDeath(a.id); err != nil {
				return res, err
			}
			retiring[a.id] = true
		case decideDivide:
			d1, d2 := s.divide(a)
			if err := s.pop.StageBirth(d1); err != nil {
				return res, err
			}
			if err := s.pop.StageBirth(d2); err != nil {
				return res, err
			}
			if err := s.pop.StageDeath(a.id); err != nil {
				return res, err
			}
			retiring[a.id] = true
			res.Divisions++
		}
	}

	for _, a := range agents {
		if retiring[a.id] {
			a.progressRetire()
		} else {
			a.progressFinish()
		}
	}

	born, retired := s.pop.commit()
	s.pop.clock = till

	if s.tracks != nil && s.cfg.CollectTracks {
		for _, a := range retired {
			if err := s.tracks.Write(a.track); err != nil {
				s.log.Warn("track report write failed", "id", a.id, "error", err)
			}
		}
	}

	res.Births = len(born)
	res.Deaths = len(retired)
	res.Agents = s.pop.Len()
	res.Duration = time.Since(start)
	s.log.Debug("timepoint committed",
		"time", res.Time, "agents", res.Agents, "births", res.Births,
		"deaths", res.Deaths, "blocked", res.Blocked)
	return res, nil
}

// compute runs the per-agent step for every agent. Agents only read the
// committed registry and write their own staged state, so chunks may run in
// parallel; Wait is the barrier before anything is applied.
func (s *Simulator) compute(agents []*Agent, outcomes []stepOutcome, till int) {
	step := func(i int) {
		a := agents[i]
		outcomes[i] = a.progress(till, func() []Vec3 {
			return s.pop.NeighborsWithin(a, s.cfg.LookAroundDistance)
		})
	}

	workers := s.cfg.Workers
	if workers <= 1 || len(agents) < 2 {
		for i := range agents {
			step(i)
		}
		return
	}

	chunk := (len(agents) + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < len(agents); lo += chunk {
		hi := min(lo+chunk, len(agents))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				step(i)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Simulator) traceDecision(a *Agent, out stepOutcome) {
	if !out.stepped {
		return
	}
	if s.cfg.Verbose {
		s.log.Debug("agent stepped",
			"id", a.id, "label", a.Label(),
			"x", a.staged.X, "y", a.staged.Y, "z", a.staged.Z,
			"attempts", out.attempts, "neighbors", out.neighbors,
			"status", a.status.String(), "decision", out.decision.String())
	}
	if s.trace != nil {
		s.trace.Log(map[string]any{
			"event":     "agent_step",
			"agent_id":  int64(a.id),
			"label":     a.baseLabel,
			"time":      a.time,
			"moved":     a.moved,
			"attempts":  out.attempts,
			"neighbors": out.neighbors,
			"status":    a.status.String(),
			"decision":  out.decision.String(),
		})
	}
}

// PushSnapshot writes every registered agent to sink as a node of the
// current timepoint and links it from the agent's previous node. The sink
// is held exclusively for the whole timepoint. Handles are stored back only
// after every write succeeded, so a failed push can simply be retried.
func (s *Simulator) PushSnapshot(ctx context.Context, sink Sink) error {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()

	target := sink
	var tx SinkTx
	if ts, ok := sink.(TxSink); ok {
		var err error
		tx, err = ts.Begin(ctx)
		if err != nil {
			return err
		}
		target = tx
	}

	agents := s.pop.sorted()
	handles := make([]Handle, len(agents))
	for i, a := range agents {
		h, err := target.CreateNode(ctx, a.node(s.pop.clock))
		if err != nil {
			rollback(tx)
			return err
		}
		if a.handle != NoHandle {
			if err := target.Connect(ctx, a.handle, h); err != nil {
				rollback(tx)
				return err
			}
		}
		handles[i] = h
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	for i, a := range agents {
		a.handle = handles[i]
	}
	s.lastPushed = s.pop.clock
	return nil
}

// LastPushed returns the last timepoint written to a sink, or -1. A
// population resumed from stored nodes counts as pushed at its timepoint.
func (s *Simulator) LastPushed() int {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	return s.lastPushed
}

func rollback(tx SinkTx) {
	if tx != nil {
		_ = tx.Rollback()
	}
}

// Close flushes the tracks of all surviving agents to the track report.
func (s *Simulator) Close() error {
	if s.tracks == nil || !s.cfg.CollectTracks {
		return nil
	}
	for _, a := range s.pop.sorted() {
		if err := s.tracks.Write(a.track); err != nil {
			return err
		}
	}
	return s.tracks.Flush()
}
