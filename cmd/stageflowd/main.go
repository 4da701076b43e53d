// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// stageflowd runs a staged event engine described by a YAML file and exposes
// an admin API for inspection and event injection.
//
// Usage:
//
//	stageflowd run --config stageflow.yaml
//	stageflowd validate --config stageflow.yaml
//	stageflowd version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuGH/stageflow/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stageflowd",
		Short:         "Staged event-driven engine daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to config file (YAML); defaults to $"+config.EnvConfigPath)

	root.AddCommand(newRunCmd(), newValidateCmd(), newVersionCmd())
	return root
}

// configPath resolves --config, falling back to the environment.
func configPath(cmd *cobra.Command) (string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", err
	}
	if path == "" {
		path = config.ParseString(config.EnvConfigPath, "")
	}
	if path == "" {
		return "", fmt.Errorf("no config file: pass --config or set %s", config.EnvConfigPath)
	}
	return path, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
