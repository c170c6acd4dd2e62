package simulation

import (
	"context"
	"fmt"
	"time"
)

// CentreLabel is the label of the nodes of the centre lineage.
const CentreLabel = "centre"

// RunOptions controls Run.
type RunOptions struct {
	// InitialCells is the number of root agents seeded when the simulator is empty.
	InitialCells int
	// Timepoints is the number of steps to simulate.
	Timepoints int
	// KeepEvery pushes only every n-th timepoint; 0 or 1 pushes all of them.
	// The last simulated timepoint is always pushed.
	KeepEvery int
	// CenterLineage adds a chain of nodes at the geometric centre of each pushed timepoint.
	CenterLineage bool
	// OnTimepoint, when non-nil, is called after every committed step.
	OnTimepoint func(StepResult)
}

// RunSummary describes a finished run.
type RunSummary struct {
	From         int           `json:"from"`
	To           int           `json:"to"`
	Timepoints   int           `json:"timepoints"`
	Births       int           `json:"births"`
	Deaths       int           `json:"deaths"`
	Divisions    int           `json:"divisions"`
	Population   int           `json:"population"`
	Pushed       int           `json:"pushed"`
	StoppedEarly bool          `json:"stopped_early"`
	Duration     time.Duration `json:"duration"`
}

// Run seeds sim if it is empty, pushes the initial state unless it is
// already stored, and then steps and pushes until opts.Timepoints steps are
// done. Cancelling ctx stops the run between two timepoints; the timepoint
// in progress is always committed and pushed. A nil sink runs without
// pushing.
func Run(ctx context.Context, sim *Simulator, sink Sink, opts RunOptions) (RunSummary, error) {
	start := time.Now()
	keep := max(opts.KeepEvery, 1)

	if sim.Len() == 0 {
		if err := sim.Populate(opts.InitialCells); err != nil {
			return RunSummary{}, fmt.Errorf("populate: %w", err)
		}
	}

	summary := RunSummary{From: sim.Time()}
	// Steps and sink writes outlive a stop request so the last timepoint is complete.
	workCtx := context.WithoutCancel(ctx)
	var centres []Node

	push := func() error {
		if sink == nil || sim.LastPushed() == sim.Time() {
			return nil
		}
		if err := sim.PushSnapshot(workCtx, sink); err != nil {
			return fmt.Errorf("push timepoint %d: %w", sim.Time(), err)
		}
		summary.Pushed++
		if opts.CenterLineage && sim.Len() > 0 {
			centres = append(centres, Node{
				Time:     sim.Time(),
				Position: centreOf(sim.Agents()),
				Radius:   sim.Config().InitialRadius,
				Label:    CentreLabel,
			})
		}
		return nil
	}

	if err := push(); err != nil {
		return summary, err
	}

	for i := 0; i < opts.Timepoints; i++ {
		if ctx.Err() != nil {
			summary.StoppedEarly = true
			break
		}

		res, err := sim.Step(workCtx)
		if err != nil {
			return summary, fmt.Errorf("step to timepoint %d: %w", sim.Time()+1, err)
		}
		summary.Timepoints++
		summary.Births += res.Births
		summary.Deaths += res.Deaths
		summary.Divisions += res.Divisions

		if (res.Time-summary.From)%keep == 0 || i == opts.Timepoints-1 {
			if err := push(); err != nil {
				return summary, err
			}
		}
		if opts.OnTimepoint != nil {
			opts.OnTimepoint(res)
		}
	}

	if summary.StoppedEarly {
		if err := push(); err != nil {
			return summary, err
		}
	}

	if sink != nil && len(centres) > 0 {
		if err := pushCentreLineage(workCtx, sink, centres); err != nil {
			return summary, fmt.Errorf("centre lineage: %w", err)
		}
	}

	summary.To = sim.Time()
	summary.Population = sim.Len()
	summary.Duration = time.Since(start)
	return summary, nil
}

func centreOf(agents []*Agent) Vec3 {
	var sum Vec3
	for _, a := range agents {
		sum = sum.Add(a.current)
	}
	return sum.Scale(1 / float64(len(agents)))
}

func pushCentreLineage(ctx context.Context, sink Sink, centres []Node) error {
	var prev Handle
	for i, c := range centres {
		h, err := sink.CreateNode(ctx, c)
		if err != nil {
			return err
		}
		if i > 0 {
			if err := sink.Connect(ctx, prev, h); err != nil {
				return err
			}
		}
		prev = h
	}
	return nil
}
