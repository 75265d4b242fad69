package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/gridrun/gridrun/internal/config"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the test matrix on the configured cron schedule",
	Long: "Runs the matrix whenever the schedule expression from the config fires, " +
		"until interrupted. Each pass reports and notifies independently.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		cfg, err := config.Resolve(cfgFile)
		if err != nil {
			return err
		}
		if cfg.Schedule == "" {
			return fmt.Errorf("no schedule configured: set a cron expression under 'schedule'")
		}

		opts, err := matrixOptsFromFlags(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := cron.New()
		_, err = c.AddFunc(cfg.Schedule, func() {
			if _, err := executeMatrix(ctx, cfg, logger, opts); err != nil {
				logger.Error("scheduled run failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
		}

		logger.Info("scheduler started", "schedule", cfg.Schedule)
		c.Start()
		<-ctx.Done()

		// Let an in-flight pass finish recording before exiting.
		<-c.Stop().Done()
		logger.Info("scheduler stopped")
		return nil
	},
}

func init() {
	startCmd.Flags().Bool("dry-run", false, "render commands without executing them")
	startCmd.Flags().Bool("verbose", false, "show stderr and errors per invocation")
	startCmd.Flags().String("modes", "", "force invocation modes per cell (comma-separated: unit,integration)")
	startCmd.Flags().Int("parallel", 0, "maximum concurrent cells (overrides config)")
	startCmd.Flags().String("report", "", "write a JSON report to this path")
	rootCmd.AddCommand(startCmd)
}
