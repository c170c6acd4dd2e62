// Package simulation generates synthetic cell lineages: agents that move
// stochastically while avoiding their neighbours, divide when old enough and
// not crowded, and die after a fixed lifespan.
//
// Every step is computed against the registry as it was committed at the end
// of the previous timepoint. Agents only write their own staged fields while
// stepping; births and deaths are collected in staging lists and merged in a
// single commit. Because of this split the compute phase may run on several
// goroutines (Config.Workers) without changing the result.
//
// Snapshots are pushed to a Sink, which receives one node per agent and
// timepoint plus a link from the agent's previous node (or its mother's last
// node right after a division).
//
// Usage:
//
//	sim, err := simulation.New(simulation.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	summary, err := simulation.Run(ctx, sim, sink, simulation.RunOptions{
//	    InitialCells: 2,
//	    Timepoints:   100,
//	})
package simulation
