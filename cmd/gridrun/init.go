package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const starterConfig = `matrix:
  os: [ubuntu-latest, macos-latest]
  versions: ["3.6", "3.7", "3.8"]

marker: RUN_INTEGRATION
profile_env: TOXENV

commands:
  upgrade: "python -m pip install --upgrade pip"
  requirements: "pip install -r requirements.txt"
  install: "pip install ."
  test: "tox"

options:
  max_parallel: 4
  invoke_timeout: 30m
`

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter gridrun configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "gridrun.yaml"
		if len(args) == 1 {
			path = args[0]
		}

		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("refusing to overwrite existing %s", path)
		}

		if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		fmt.Printf("✓ Wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
