package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nvandessel/cellsim/internal/config"
	"github.com/nvandessel/cellsim/internal/logging"
	"github.com/nvandessel/cellsim/internal/metrics"
	"github.com/nvandessel/cellsim/internal/simulation"
	"github.com/nvandessel/cellsim/internal/store"
	"github.com/nvandessel/cellsim/internal/visualization"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation and record its lineage",
		Long: `Seed a population, simulate it and write every kept timepoint to the
lineage store. Ctrl+C stops the run after the timepoint in progress.

Examples:
  cellsim run --cells 4 --timepoints 200
  cellsim run --sink redis --redis-addr localhost:6379 --workers 8
  cellsim run --resume --timepoints 50      # continue the stored lineage
  cellsim run --tracks tracks.tsv --centre --2d
  cellsim run --metrics-addr :9090          # serve /metrics and /graph.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return runSimulation(cmd, cfg)
		},
	}

	cmd.Flags().Int("cells", 0, "Initial number of cells (default from config)")
	cmd.Flags().Int("timepoints", 0, "Number of timepoints to simulate (default from config)")
	cmd.Flags().Int("workers", 0, "Goroutines for the compute phase (default from config)")
	cmd.Flags().Uint64("seed", 0, "Random seed; 0 picks one")
	cmd.Flags().Int("keep-every", 0, "Store only every n-th timepoint (default from config)")
	cmd.Flags().Bool("centre", false, "Add the centre lineage")
	cmd.Flags().Bool("2d", false, "Keep all cells in the z = 0 plane")
	cmd.Flags().Bool("verbose", false, "Log every agent decision")
	cmd.Flags().Bool("resume", false, "Continue from the last stored timepoint")
	cmd.Flags().String("tracks", "", "Write a TSV track report to this file")
	cmd.Flags().String("out", "", "Directory for trace.jsonl (default <root>/.cellsim)")
	cmd.Flags().String("metrics-addr", "", "Serve /metrics and the lineage graph on this address")
	addSinkFlags(cmd)

	return cmd
}

// applyRunFlags copies explicitly set flags into cfg.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("cells") {
		cfg.Run.Cells, _ = f.GetInt("cells")
	}
	if f.Changed("timepoints") {
		cfg.Run.Timepoints, _ = f.GetInt("timepoints")
	}
	if f.Changed("workers") {
		cfg.Simulation.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("seed") {
		cfg.Simulation.Seed, _ = f.GetUint64("seed")
	}
	if f.Changed("keep-every") {
		cfg.Run.KeepEvery, _ = f.GetInt("keep-every")
	}
	if f.Changed("centre") {
		cfg.Run.Centre, _ = f.GetBool("centre")
	}
	if f.Changed("2d") {
		cfg.Simulation.Do2DOnly, _ = f.GetBool("2d")
	}
	if f.Changed("verbose") {
		cfg.Simulation.Verbose, _ = f.GetBool("verbose")
	}
	if f.Changed("tracks") {
		cfg.Run.Tracks, _ = f.GetString("tracks")
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = f.GetString("metrics-addr")
	}
	applySinkFlags(cmd, cfg)
}

func runSimulation(cmd *cobra.Command, cfg *config.Config) error {
	root, _ := cmd.Flags().GetString("root")
	jsonOut, _ := cmd.Flags().GetBool("json")
	resume, _ := cmd.Flags().GetBool("resume")
	outDir, _ := cmd.Flags().GetString("out")
	if outDir == "" {
		outDir = store.LocalCellsimPath(root)
	}

	simCfg, err := cfg.SimConfig()
	if err != nil {
		return err
	}
	if simCfg.Seed == 0 {
		simCfg.Seed = rand.Uint64()
	}

	logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
	simLogger := logging.NewSimulationLogger(cfg.Logging.Level, simCfg.Verbose, cmd.ErrOrStderr())

	// Stop between timepoints on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)
	defer stopSignals(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("stop requested, finishing current timepoint")
			cancel()
		case <-ctx.Done():
		}
	}()

	ls, err := openStore(ctx, cfg, root)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer ls.Close()

	namespace := ""
	if rs, ok := ls.(*store.RedisLineageStore); ok {
		namespace = rs.Namespace()
	}

	opts := []simulation.Option{simulation.WithLogger(simLogger)}
	trace := logging.NewTraceLogger(outDir, cfg.Logging.Level)
	if trace != nil {
		defer trace.Close()
		opts = append(opts, simulation.WithTrace(trace))
	}
	if cfg.Run.Tracks != "" {
		f, err := os.Create(cfg.Run.Tracks)
		if err != nil {
			return fmt.Errorf("failed to create track report: %w", err)
		}
		defer f.Close()
		opts = append(opts, simulation.WithTrackReport(simulation.NewTrackReport(f)))
	}

	sim, err := simulation.New(simCfg, opts...)
	if err != nil {
		return err
	}

	if resume {
		if err := resumeFromStore(ctx, sim, ls, logger); err != nil {
			return err
		}
	}

	collector := metrics.NewCollector()
	collector.SetPopulation(sim.Time(), sim.Len())
	if cfg.Metrics.Addr != "" {
		srv := visualization.NewServer(ls, collector.Handler(), cfg.Metrics.Addr)
		srvCtx, stopSrv := context.WithCancel(context.WithoutCancel(ctx))
		defer stopSrv()
		go func() {
			if err := srv.ListenAndServe(srvCtx); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	params, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode run parameters: %w", err)
	}
	run := store.Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Seed:      simCfg.Seed,
		From:      sim.Time(),
		To:        sim.Time(),
		Params:    string(params),
	}
	if err := ls.AddRun(ctx, run); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	logger.Info("run started", "run", run.ID, "seed", run.Seed, "sink", cfg.Sink.Type, "namespace", namespace)

	summary, runErr := simulation.Run(ctx, sim, store.NewSink(ls), simulation.RunOptions{
		InitialCells:  cfg.Run.Cells,
		Timepoints:    cfg.Run.Timepoints,
		KeepEvery:     cfg.Run.KeepEvery,
		CenterLineage: cfg.Run.Centre,
		OnTimepoint: func(res simulation.StepResult) {
			collector.Observe(res)
			logger.Debug("timepoint committed", "time", res.Time, "agents", res.Agents,
				"births", res.Births, "deaths", res.Deaths, "blocked", res.Blocked)
		},
	})
	if closeErr := sim.Close(); closeErr != nil {
		logger.Warn("failed to write track report", "error", closeErr)
	}
	if runErr != nil {
		var inv *simulation.InvariantError
		if !errors.As(runErr, &inv) {
			collector.PushFailed()
		}
		return fmt.Errorf("run failed at timepoint %d: %w", sim.Time(), runErr)
	}

	// Record the final range even when the caller has stopped us.
	run.To = summary.To
	if err := ls.AddRun(context.WithoutCancel(ctx), run); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	report := runReport{
		RunID:     run.ID,
		Seed:      run.Seed,
		Sink:      cfg.Sink.Type,
		Namespace: namespace,
		Summary:   summary,
	}
	if jsonOut {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(report)
	}
	printRunSummary(cmd.OutOrStdout(), report)
	if trace != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "  Trace:       %s (%d events)\n",
			filepath.Join(outDir, logging.TraceFileName), trace.Events())
	}
	return nil
}

// resumeFromStore seeds sim from the last stored timepoint. An empty store
// starts a fresh lineage.
func resumeFromStore(ctx context.Context, sim *simulation.Simulator, ls store.LineageStore, logger *slog.Logger) error {
	_, last, err := ls.TimeRange(ctx)
	if errors.Is(err, store.ErrEmpty) {
		logger.Info("nothing stored yet, starting a new lineage")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read stored time range: %w", err)
	}

	seeds, err := store.SeedsAt(ctx, ls, last, simulation.CentreLabel)
	if err != nil {
		return fmt.Errorf("failed to load timepoint %d: %w", last, err)
	}
	if len(seeds) == 0 {
		return fmt.Errorf("timepoint %d has no cells to resume from", last)
	}
	return sim.Resume(last, seeds)
}
