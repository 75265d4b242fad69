package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridrun/gridrun/internal/config"
	"github.com/gridrun/gridrun/internal/matrix"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the gridrun configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Resolve(cfgFile)
		if err != nil {
			return err
		}

		cells, err := matrix.Enumerate(cfg.Matrix.OS, cfg.Matrix.VersionStrings())
		if err != nil {
			return err
		}

		fmt.Printf("✓ Config valid: %d cells (%d OS × %d versions)\n",
			len(cells), len(cfg.Matrix.OS), len(cfg.Matrix.Versions))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
