// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuGH/stageflow/internal/config"
	"github.com/ManuGH/stageflow/internal/handlers"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a config file without starting the engine",
		Long:  "Parse the config strictly, apply environment overrides and defaults, and check that every stage names a known handler.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configPath(cmd)
			if err != nil {
				return err
			}
			if err := validateFile(path); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
			return nil
		},
	}
}

func validateFile(path string) error {
	cfg, err := config.NewLoader(path).Load()
	if err != nil {
		return err
	}
	reg := handlers.Builtin()
	for _, s := range cfg.Stages {
		if _, err := reg.New(s.Handler); err != nil {
			return fmt.Errorf("stage %q: %w", s.Name, err)
		}
	}
	return nil
}
