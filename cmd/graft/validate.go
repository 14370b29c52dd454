// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/grafthost/graft/internal/config"
	"github.com/grafthost/graft/internal/extension"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dir...]",
		Short: "Validate extension manifests without starting the host",
		Long: `Validates every extension manifest under the given directories, or
under the configured extensions directory when none are given.
Exits with code 0 on success, non-zero on failure.

Useful in CI pipelines to catch manifest errors early:
  graft validate ./plugins`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args)
		},
	}
}

func runValidate(cmd *cobra.Command, dirs []string) error {
	if len(dirs) == 0 {
		cfg, err := config.Load(configFile, nil)
		if err != nil {
			return err
		}
		dirs = []string{cfg.Data.ExtensionsDir}
	}

	total := 0
	var failures []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", dir, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			manifestPath := filepath.Join(dir, entry.Name(), extension.ManifestFile)
			total++
			if err := validateManifest(manifestPath); err != nil {
				failures = append(failures, fmt.Sprintf("  %s: %v", manifestPath, err))
			}
		}
	}

	if len(failures) > 0 {
		for _, f := range failures {
			cmd.PrintErrln(f)
		}
		return fmt.Errorf("validation failed: %d of %d manifests invalid", len(failures), total)
	}

	cmd.Printf("all %d manifests valid\n", total)
	return nil
}

func validateManifest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := extension.ValidateSchema(data); err != nil {
		return fmt.Errorf("%s", extension.FormatSchemaError(err))
	}
	_, err = extension.ParseManifest(data)
	return err
}
