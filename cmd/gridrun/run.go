package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gridrun/gridrun/internal/aggregate"
	"github.com/gridrun/gridrun/internal/config"
	"github.com/gridrun/gridrun/internal/mode"
	"github.com/gridrun/gridrun/internal/notify"
	"github.com/gridrun/gridrun/internal/orchestrator"
	"github.com/gridrun/gridrun/internal/report"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the test matrix once",
	Long: "Runs every matrix cell once and exits non-zero unless all invocations pass. " +
		"The mode marker variable selects integration mode when present; --modes forces " +
		"specific modes. Use --dry-run to render commands without executing anything.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("loading env file: %w", err)
			}
		}

		cfg, err := config.Resolve(cfgFile)
		if err != nil {
			return err
		}

		opts, err := matrixOptsFromFlags(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		outcome, err := executeMatrix(ctx, cfg, logger, opts)
		if err != nil {
			return err
		}

		if !outcome.OverallSuccess {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "render commands without executing them")
	runCmd.Flags().Bool("verbose", false, "show stderr and errors per invocation")
	runCmd.Flags().String("modes", "", "force invocation modes per cell (comma-separated: unit,integration)")
	runCmd.Flags().Int("parallel", 0, "maximum concurrent cells (overrides config)")
	runCmd.Flags().String("report", "", "write a JSON report to this path")
	runCmd.Flags().String("env-file", "", "load environment variables from this dotenv file first")
	rootCmd.AddCommand(runCmd)
}

type matrixOpts struct {
	modes    []mode.Mode
	parallel int
	dryRun   bool
	verbose  bool
	report   string
}

func matrixOptsFromFlags(cmd *cobra.Command) (matrixOpts, error) {
	var opts matrixOpts
	opts.dryRun, _ = cmd.Flags().GetBool("dry-run")
	opts.verbose, _ = cmd.Flags().GetBool("verbose")
	opts.parallel, _ = cmd.Flags().GetInt("parallel")
	opts.report, _ = cmd.Flags().GetString("report")

	if modesFlag, _ := cmd.Flags().GetString("modes"); modesFlag != "" {
		modes, err := mode.Parse(modesFlag)
		if err != nil {
			return opts, err
		}
		opts.modes = modes
	}
	return opts, nil
}

// executeMatrix runs one full matrix pass: orchestrate, report, and notify.
// Shared by run, watch, and start.
func executeMatrix(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts matrixOpts) (aggregate.Outcome, error) {
	reporter := report.New(os.Stdout, opts.verbose)

	_, markerPresent := os.LookupEnv(cfg.Marker)

	o := orchestrator.New(cfg, logger)
	outcome, err := o.Run(ctx, orchestrator.Options{
		Modes:         opts.modes,
		MarkerPresent: markerPresent,
		Parallel:      opts.parallel,
		DryRun:        opts.dryRun,
		OnResult:      reporter.Invocation,
	})
	if err != nil {
		return outcome, err
	}

	reporter.Suite(outcome)

	reportPath := opts.report
	if reportPath == "" {
		reportPath = cfg.Options.Report
	}
	if reportPath != "" {
		if err := report.WriteJSON(reportPath, outcome); err != nil {
			logger.Error("writing report failed", "path", reportPath, "error", err)
		}
	}

	sendNotifications(cfg, logger, outcome, opts.dryRun)
	return outcome, nil
}

// sendNotifications delivers the suite outcome to every configured target.
// Delivery problems are logged and never change the exit status.
func sendNotifications(cfg *config.Config, logger *slog.Logger, outcome aggregate.Outcome, dryRun bool) {
	refs := notifyRefs(cfg, logger)
	if len(refs) == 0 {
		return
	}

	data := notify.BuildTemplateData(outcome)
	targets, err := notify.ResolveTargets(refs, mapServiceDefs(cfg.Services), cfg.Template, data)
	if err != nil {
		logger.Error("resolving notification targets failed", "error", err)
		return
	}

	for _, t := range targets {
		if dryRun {
			if err := notify.Validate(t); err != nil {
				logger.Error("notify validation failed (dry-run)", "service", t.ServiceName, "error", err)
				continue
			}
			logger.Info("would notify (dry-run)", "service", t.ServiceName, "message", t.Message)
			continue
		}

		if err := notify.Send(t); err != nil {
			logger.Error("notify failed", "service", t.ServiceName, "error", err)
			continue
		}
		logger.Info("notification sent", "service", t.ServiceName)
	}
}

// notifyRefs maps configured notify targets to resolvable refs. A target is
// usable when it carries its own template or the suite default exists;
// unusable targets are skipped with a warning, not silently.
func notifyRefs(cfg *config.Config, logger *slog.Logger) []notify.Ref {
	refs := make([]notify.Ref, 0, len(cfg.Notify))
	for _, t := range cfg.Notify {
		if t.Template == "" && cfg.Template == "" {
			logger.Warn("skipping notify target without a template", "service", t.Service)
			continue
		}
		refs = append(refs, notify.Ref{
			ServiceName: t.Service,
			Template:    t.Template,
			Params:      t.Params,
		})
	}
	return refs
}

func mapServiceDefs(services map[string]config.Service) map[string]notify.ServiceDef {
	defs := make(map[string]notify.ServiceDef, len(services))
	for name, svc := range services {
		defs[name] = notify.ServiceDef{
			URL:    svc.URL,
			Params: svc.Params,
		}
	}
	return defs
}
