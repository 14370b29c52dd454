// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the graft CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graft",
		Short: "Graft - an in-process extension host",
		Long: `Graft embeds an extension runtime into a host application: it waits
for the host to come up, joins its update loop, resolves the extension
runtime and gives extensions a typed event bus and auto-persisted state.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewValidateCmd())

	return cmd
}
