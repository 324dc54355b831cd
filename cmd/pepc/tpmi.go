// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package pepc

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var tpmiCmd = &cobra.Command{
	Use:   "tpmi",
	Short: "read and write raw TPMI registers",
}

var tpmiReadCmd = &cobra.Command{
	Use:   "read <feature> <addr> <instance> <register> [bitfield]",
	Short: "read a TPMI register or bit field",
	Args:  cobra.RangeArgs(4, 5),
	RunE:  runTPMIRead,
}

var tpmiWriteCmd = &cobra.Command{
	Use:   "write <feature> <addr> <instance> <register> <value> [bitfield]",
	Short: "write a TPMI register or bit field",
	Args:  cobra.RangeArgs(5, 6),
	RunE:  runTPMIWrite,
}

var flagTPMICluster int

func init() {
	tpmiCmd.PersistentFlags().IntVar(&flagTPMICluster, "cluster", 0, "UFS cluster number (ufs feature only)")
	tpmiCmd.AddCommand(tpmiReadCmd, tpmiWriteCmd)
	rootCmd.AddCommand(tpmiCmd)
}

func runTPMIRead(cmd *cobra.Command, args []string) error {
	host, err := newLocalHost()
	if err != nil {
		return err
	}
	eng, err := host.tpmiEngine(true)
	if err != nil {
		return err
	}

	instance, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("bad instance %q: %w", args[2], err)
	}
	bfname := ""
	if len(args) == 5 {
		bfname = args[4]
	}

	val, err := eng.ReadRegister(args[0], args[1], instance, flagTPMICluster, args[3], bfname)
	if err != nil {
		return err
	}
	fmt.Printf("%#x\n", val)
	return nil
}

func runTPMIWrite(cmd *cobra.Command, args []string) error {
	if err := ensureElevated(); err != nil {
		return err
	}

	host, err := newLocalHost()
	if err != nil {
		return err
	}
	eng, err := host.tpmiEngine(false)
	if err != nil {
		return err
	}

	instance, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("bad instance %q: %w", args[2], err)
	}
	value, err := strconv.ParseUint(args[4], 0, 64)
	if err != nil {
		return fmt.Errorf("bad value %q: %w", args[4], err)
	}
	bfname := ""
	if len(args) == 6 {
		bfname = args[5]
	}

	if err := eng.WriteRegister(args[0], args[1], instance, flagTPMICluster, args[3], bfname, value); err != nil {
		return err
	}
	fmt.Printf("wrote %#x\n", value)
	return nil
}
