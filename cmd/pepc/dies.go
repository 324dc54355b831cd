// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package pepc

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"pepc/internal/noncompdies"
)

var diesCmd = &cobra.Command{
	Use:   "dies",
	Short: "list non-compute dies (UFS-only dies with no CPUs)",
	Args:  cobra.NoArgs,
	RunE:  runDies,
}

func init() {
	rootCmd.AddCommand(diesCmd)
}

func runDies(cmd *cobra.Command, args []string) error {
	host, err := newLocalHost()
	if err != nil {
		return err
	}
	eng, err := host.tpmiEngine(true)
	if err != nil {
		return err
	}

	byPkg, err := noncompdies.Discover(eng)
	if err != nil {
		return err
	}

	pkgs := make([]int, 0, len(byPkg))
	for pkg := range byPkg {
		pkgs = append(pkgs, pkg)
	}
	sort.Ints(pkgs)

	for _, pkg := range pkgs {
		for _, die := range byPkg[pkg] {
			fmt.Printf("package %d die %d: %s\n", die.Package, die.Die, die.Title)
		}
	}
	return nil
}
