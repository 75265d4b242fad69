package invoke

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gridrun/gridrun/internal/aggregate"
	"github.com/gridrun/gridrun/internal/execx"
	"github.com/gridrun/gridrun/internal/mode"
	"github.com/gridrun/gridrun/internal/prepare"
)

// Opts configures a single test invocation inside a prepared environment.
// Install and Test are command templates.
type Opts struct {
	Prepared   *prepare.Prepared
	Config     mode.RunConfig
	Install    string
	Test       string
	ProfileEnv string
	Timeout    time.Duration
	DryRun     bool
}

// Run executes one invocation and always returns a terminal result.
//
// Unit mode runs the test command under the version-specific profile.
// Integration mode installs the project into the environment first: the
// integration suite must observe an installed package, not a checkout, so
// the install step is a hard precondition of the test step. A non-zero exit
// from either step is a recorded failure; only a process that never reaches
// an exit status becomes an aborted result.
func Run(ctx context.Context, logger *slog.Logger, opts Opts) aggregate.Result {
	cell := opts.Prepared.Cell
	log := logger.With("cell", cell.String(), "mode", opts.Config.Mode, "tag", opts.Config.Tag)
	start := time.Now()

	result := aggregate.Result{
		Cell:   cell,
		Config: opts.Config,
		Stage:  "test",
	}

	data := execx.Data{
		OS:      cell.OS,
		Version: cell.Version,
		Tag:     opts.Config.Tag,
		Mode:    string(opts.Config.Mode),
	}

	if opts.Config.Mode == mode.Integration && opts.Install != "" {
		if done := runStep(ctx, log, opts, data, "install", opts.Install, nil, &result); done {
			result.Duration = time.Since(start)
			return result
		}
	}

	env := map[string]string{opts.ProfileEnv: opts.Config.Tag}
	runStep(ctx, log, opts, data, "test", opts.Test, env, &result)
	result.Duration = time.Since(start)

	if result.State == aggregate.StateCompleted {
		log.Info("invocation completed", "exit_code", result.ExitCode, "duration", result.Duration)
	}
	return result
}

// runStep executes one step and fills result in place. It returns true when
// the invocation is finished: the step failed, aborted, or was a dry run.
func runStep(ctx context.Context, log *slog.Logger, opts Opts, data execx.Data, stage, tmpl string, env map[string]string, result *aggregate.Result) bool {
	command, err := execx.Render(tmpl, data)
	if err != nil {
		result.State = aggregate.StateAborted
		result.Stage = stage
		result.ExitCode = aggregate.ExitAborted
		result.Err = err
		log.Error("rendering command failed", "stage", stage, "error", err)
		return true
	}

	if opts.DryRun {
		result.State = aggregate.StateCompleted
		log.Info("dry-run: would execute", "stage", stage, "command", command)
		return false
	}

	log.Info("executing", "stage", stage, "command", command)
	execResult, err := execx.Run(ctx, execx.Opts{
		Command: command,
		Dir:     opts.Prepared.Dir,
		Env:     env,
		Timeout: opts.Timeout,
	})
	result.Stderr = execResult.Stderr

	if err != nil {
		if errors.Is(err, execx.ErrAborted) {
			result.State = aggregate.StateAborted
			result.Stage = stage
			result.ExitCode = aggregate.ExitAborted
			result.Err = err
			log.Error("invocation aborted", "stage", stage, "error", err)
			return true
		}
		result.State = aggregate.StateAborted
		result.Stage = stage
		result.ExitCode = aggregate.ExitAborted
		result.Err = err
		log.Error("invocation failed to run", "stage", stage, "error", err)
		return true
	}

	result.State = aggregate.StateCompleted
	result.ExitCode = execResult.ExitCode
	if execResult.ExitCode != 0 {
		result.Stage = stage
		log.Warn("step failed", "stage", stage, "exit_code", execResult.ExitCode)
		return true
	}
	return false
}
