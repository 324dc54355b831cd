// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

/*
Package pepc is the external CLI layer: a thin cobra dispatcher over
internal/pstates and the engines underneath it. Argument parsing, help
text, and subcommand dispatch sit outside the core's tested surface by
design; everything this package does eventually calls into a package
that carries its own tests.
*/
package pepc

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"pepc/internal/telemetry"
)

var (
	flagDebug       bool
	flagMetricsAddr string
)

// counters is the process-wide telemetry sink every engine newLocalHost
// builds is wired to. It stays nil (and therefore a no-op) unless
// --metrics-addr asks for it, the same opt-in model the teacher's
// Prometheus exporter uses.
var counters *telemetry.Counters

var rootCmd = &cobra.Command{
	Use:   "pepc",
	Short: "pepc inspects and controls Intel CPU power-management settings",
	Long: `pepc inspects and controls Intel CPU power-management settings:
frequency limits, governors, turbo, energy performance preference/bias,
and related P-state properties, over MSRs, sysfs, and ACPI CPPC.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if flagDebug {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		if flagMetricsAddr != "" {
			counters = telemetry.NewCounters()
			counters.Start(flagMetricsAddr)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return counters.Stop()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "",
		`serve MSR/TPMI I/O counters as Prometheus metrics on this address (e.g. ":9100"), off by default`)
	rootCmd.AddCommand(pstateCmd)
}

// Execute runs the pepc CLI. It is the sole entry point main calls.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
