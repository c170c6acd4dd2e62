package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/nvandessel/cellsim/internal/simulation"
	"github.com/nvandessel/cellsim/internal/store"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// runReport is the JSON form of a finished run.
type runReport struct {
	RunID     string                `json:"run_id"`
	Seed      uint64                `json:"seed"`
	Sink      string                `json:"sink"`
	Namespace string                `json:"namespace,omitempty"`
	Summary   simulation.RunSummary `json:"summary"`
}

func printRunSummary(w io.Writer, r runReport) {
	if r.Summary.StoppedEarly {
		yellow.Fprintf(w, "Stopped at timepoint %d (requested stop)\n", r.Summary.To)
	} else {
		green.Fprintf(w, "✓ Simulated timepoints %d..%d\n", r.Summary.From, r.Summary.To)
	}
	fmt.Fprintf(w, "  Run:         %s\n", r.RunID)
	fmt.Fprintf(w, "  Seed:        %d\n", r.Seed)
	fmt.Fprintf(w, "  Sink:        %s\n", r.Sink)
	if r.Namespace != "" {
		cyan.Fprintf(w, "  Namespace:   %s\n", r.Namespace)
	}
	fmt.Fprintf(w, "  Population:  %d\n", r.Summary.Population)
	fmt.Fprintf(w, "  Births:      %d\n", r.Summary.Births)
	fmt.Fprintf(w, "  Deaths:      %d\n", r.Summary.Deaths)
	fmt.Fprintf(w, "  Divisions:   %d\n", r.Summary.Divisions)
	fmt.Fprintf(w, "  Pushed:      %d timepoints\n", r.Summary.Pushed)
	fmt.Fprintf(w, "  Duration:    %s\n", r.Summary.Duration.Round(time.Millisecond))
}

func printValidation(w io.Writer, issues []store.ValidationError) {
	if len(issues) == 0 {
		green.Fprintln(w, "✓ Lineage is valid - no issues found.")
		return
	}
	red.Fprintf(w, "✗ Found %d lineage issue(s):\n\n", len(issues))
	for i, ve := range issues {
		fmt.Fprintf(w, "%d. %s\n", i+1, ve)
	}
}

func printRuns(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		cyan.Fprintf(w, "%s", r.ID)
		fmt.Fprintf(w, "  %s  seed=%d  t=%d..%d\n", r.StartedAt.Local().Format(time.DateTime), r.Seed, r.From, r.To)
	}
}
