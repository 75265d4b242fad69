package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gridrun/gridrun/internal/aggregate"
	"github.com/gridrun/gridrun/internal/config"
	"github.com/gridrun/gridrun/internal/execx"
	"github.com/gridrun/gridrun/internal/invoke"
	"github.com/gridrun/gridrun/internal/matrix"
	"github.com/gridrun/gridrun/internal/mode"
	"github.com/gridrun/gridrun/internal/prepare"
)

// Orchestrator drives the matrix → prepare → invoke → aggregate pipeline.
type Orchestrator struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates an Orchestrator with the given config and logger.
func New(cfg *config.Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{cfg: cfg, logger: logger}
}

// Options control a single matrix pass.
type Options struct {
	// Modes forces the given invocation modes per cell, in order. When
	// empty the marker decides: present selects one integration pass,
	// absent one unit pass, matching the pipeline's original behavior.
	Modes         []mode.Mode
	MarkerPresent bool
	// Parallel overrides options.max_parallel from the config when > 0.
	Parallel int
	DryRun   bool
	// OnResult, when set, is called for every recorded result, in
	// completion order.
	OnResult func(aggregate.Result)
}

// Run executes one full matrix pass and returns the aggregate outcome.
// An error is returned only for configuration problems found before any
// cell has started; per-cell failures land in the outcome instead.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (aggregate.Outcome, error) {
	cells, err := matrix.Enumerate(o.cfg.Matrix.OS, o.cfg.Matrix.VersionStrings())
	if err != nil {
		return aggregate.Outcome{}, err
	}

	modes := opts.Modes
	if len(modes) == 0 {
		if opts.MarkerPresent {
			modes = []mode.Mode{mode.Integration}
		} else {
			modes = []mode.Mode{mode.Unit}
		}
	}

	parallel := o.cfg.Options.MaxParallel
	if opts.Parallel > 0 {
		parallel = opts.Parallel
	}
	if parallel > len(cells) {
		parallel = len(cells)
	}
	if parallel < 1 {
		parallel = 1
	}

	expected := len(cells) * len(modes)
	o.logger.Info("starting matrix run",
		"cells", len(cells), "modes", len(modes), "parallel", parallel, "dry_run", opts.DryRun)

	collector := aggregate.NewCollector()
	record := func(r aggregate.Result) {
		collector.Record(r)
		if opts.OnResult != nil {
			opts.OnResult(r)
		}
	}

	cellCh := make(chan matrix.Cell, len(cells))
	for _, cell := range cells {
		cellCh <- cell
	}
	close(cellCh)

	var wg sync.WaitGroup
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cell := range cellCh {
				o.runCell(ctx, cell, modes, opts, record)
			}
		}()
	}
	wg.Wait()

	outcome := collector.Finalize(expected)
	o.logger.Info("matrix run finished",
		"passed", outcome.Passed, "failed", len(outcome.Failed),
		"aborted", outcome.Aborted, "success", outcome.OverallSuccess,
		"duration", outcome.Duration)
	return outcome, nil
}

// runCell prepares one cell and runs every requested mode inside it, in
// order. Preparation failure is terminal for the whole cell; cancellation
// records the remaining invocations as aborted rather than dropping them.
func (o *Orchestrator) runCell(ctx context.Context, cell matrix.Cell, modes []mode.Mode, opts Options, record func(aggregate.Result)) {
	log := o.logger.With("cell", cell.String())

	if ctx.Err() != nil {
		for _, m := range modes {
			record(abortedResult(cell, m, ctx.Err()))
		}
		return
	}

	var prepared *prepare.Prepared
	if opts.DryRun {
		prepared = &prepare.Prepared{Cell: cell, Dir: o.cfg.Options.WorkDir}
	} else {
		log.Info("preparing environment")
		var err error
		prepared, err = prepare.Prepare(ctx, cell, prepare.Opts{
			Upgrade:      o.cfg.Commands.Upgrade,
			Requirements: o.cfg.Commands.Requirements,
			WorkDir:      o.cfg.Options.WorkDir,
			Timeout:      o.cfg.Options.PrepareTimeoutDuration(),
		})
		if err != nil {
			// A run cut short by cancellation is not a broken environment.
			if ctx.Err() != nil && errors.Is(err, execx.ErrAborted) {
				log.Info("preparation aborted", "error", err)
				for _, m := range modes {
					r := abortedResult(cell, m, err)
					r.Stage = "prepare"
					record(r)
				}
				return
			}
			log.Error("preparation failed", "error", err)
			for _, m := range modes {
				record(prepFailedResult(cell, m, err))
			}
			return
		}
	}

	for _, m := range modes {
		if ctx.Err() != nil {
			record(abortedResult(cell, m, ctx.Err()))
			continue
		}

		runCfg := mode.Select(m == mode.Integration, cell.Version)
		result := invoke.Run(ctx, o.logger, invoke.Opts{
			Prepared:   prepared,
			Config:     runCfg,
			Install:    o.cfg.Commands.Install,
			Test:       o.cfg.Commands.Test,
			ProfileEnv: o.cfg.ProfileEnv,
			Timeout:    o.cfg.Options.InvokeTimeoutDuration(),
			DryRun:     opts.DryRun,
		})
		record(result)
	}
}

func prepFailedResult(cell matrix.Cell, m mode.Mode, err error) aggregate.Result {
	return aggregate.Result{
		Cell:     cell,
		Config:   mode.Select(m == mode.Integration, cell.Version),
		State:    aggregate.StatePrepFailed,
		Stage:    "prepare",
		ExitCode: 1,
		Err:      err,
	}
}

func abortedResult(cell matrix.Cell, m mode.Mode, err error) aggregate.Result {
	return aggregate.Result{
		Cell:     cell,
		Config:   mode.Select(m == mode.Integration, cell.Version),
		State:    aggregate.StateAborted,
		Stage:    "test",
		ExitCode: aggregate.ExitAborted,
		Err:      err,
	}
}
