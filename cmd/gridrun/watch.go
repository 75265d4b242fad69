package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/gridrun/gridrun/internal/config"
)

// debounce window for bursts of filesystem events (editor saves, checkouts).
const watchSettle = 500 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch [paths...]",
	Short: "Re-run the test matrix when watched paths change",
	Long: "Runs the matrix once, then re-runs it whenever a watched path changes. " +
		"Paths come from the watch list in the config, or from arguments.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		cfg, err := config.Resolve(cfgFile)
		if err != nil {
			return err
		}

		paths := cfg.Watch
		if len(args) > 0 {
			paths = args
		}
		if len(paths) == 0 {
			return fmt.Errorf("nothing to watch: set watch paths in the config or pass them as arguments")
		}

		opts, err := matrixOptsFromFlags(cmd)
		if err != nil {
			return err
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("creating watcher: %w", err)
		}
		defer watcher.Close()

		for _, p := range paths {
			if err := watcher.Add(p); err != nil {
				return fmt.Errorf("watching %s: %w", p, err)
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if _, err := executeMatrix(ctx, cfg, logger, opts); err != nil {
			return err
		}

		var settle *time.Timer
		settleCh := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				logger.Debug("change detected", "path", event.Name, "op", event.Op.String())
				if settle != nil {
					settle.Stop()
				}
				settle = time.AfterFunc(watchSettle, func() {
					select {
					case settleCh <- struct{}{}:
					default:
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Error("watch error", "error", err)
			case <-settleCh:
				logger.Info("re-running matrix")
				if _, err := executeMatrix(ctx, cfg, logger, opts); err != nil {
					return err
				}
			}
		}
	},
}

func init() {
	watchCmd.Flags().Bool("dry-run", false, "render commands without executing them")
	watchCmd.Flags().Bool("verbose", false, "show stderr and errors per invocation")
	watchCmd.Flags().String("modes", "", "force invocation modes per cell (comma-separated: unit,integration)")
	watchCmd.Flags().Int("parallel", 0, "maximum concurrent cells (overrides config)")
	watchCmd.Flags().String("report", "", "write a JSON report to this path")
	rootCmd.AddCommand(watchCmd)
}
