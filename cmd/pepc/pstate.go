// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package pepc

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"pepc/internal/pstates"
)

var (
	flagCPUs  string
	flagMName string
)

var pstateCmd = &cobra.Command{
	Use:   "pstate",
	Short: "inspect and control P-state (CPU frequency, governor, EPP/EPB) properties",
}

var pstateInfoCmd = &cobra.Command{
	Use:   "info [property]",
	Short: "describe known P-state properties, or one property in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPStateInfo,
}

var pstateGetCmd = &cobra.Command{
	Use:   "get <property>",
	Short: "read a P-state property for the selected CPUs",
	Args:  cobra.ExactArgs(1),
	RunE:  runPStateGet,
}

var pstateSetCmd = &cobra.Command{
	Use:   "set <property> <value>",
	Short: "write a P-state property for the selected CPUs",
	Args:  cobra.ExactArgs(2),
	RunE:  runPStateSet,
}

func init() {
	pstateCmd.PersistentFlags().StringVar(&flagCPUs, "cpus", "all", `CPUs to target ("all", "0,2", "0-3,8")`)
	pstateCmd.PersistentFlags().StringVar(&flagMName, "mname", "", "comma-separated mechanism preference (sysfs,msr,cppc)")
	pstateCmd.AddCommand(pstateInfoCmd, pstateGetCmd, pstateSetCmd)
}

func mechanismPreference() []pstates.Mechanism {
	if flagMName == "" {
		return nil
	}
	var out []pstates.Mechanism
	for _, m := range strings.Split(flagMName, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, pstates.Mechanism(m))
		}
	}
	return out
}

func runPStateInfo(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		prop, ok := pstates.LookupProperty(args[0])
		if !ok {
			return fmt.Errorf("unknown property %q", args[0])
		}
		printProperty(prop)
		return nil
	}

	names := pstates.PropertyNames()
	sort.Strings(names)
	for _, name := range names {
		prop, _ := pstates.LookupProperty(name)
		fmt.Printf("%-20s %s\n", prop.Name, prop.Unit)
	}
	return nil
}

func printProperty(prop pstates.Property) {
	fmt.Printf("%s\n", prop.Name)
	fmt.Printf("  unit:      %s\n", prop.Unit)
	fmt.Printf("  scope:     %s\n", prop.SName)
	fmt.Printf("  writable:  %v\n", prop.Writable)
	mnames := make([]string, len(prop.Mnames))
	for i, m := range prop.Mnames {
		mnames[i] = string(m)
	}
	fmt.Printf("  mechanisms: %s\n", strings.Join(mnames, ", "))
	if len(prop.SpecialVals) > 0 {
		fmt.Println("  special values:")
		for val, desc := range prop.SpecialVals {
			fmt.Printf("    %s: %s\n", val, desc)
		}
	}
	if len(prop.SubProps) > 0 {
		fmt.Printf("  sub-properties: %s\n", strings.Join(prop.SubProps, ", "))
	}
}

func runPStateGet(cmd *cobra.Command, args []string) error {
	host, err := newLocalHost()
	if err != nil {
		return err
	}
	cpus, err := parseCPUList(flagCPUs, host.topology.CPUs())
	if err != nil {
		return err
	}

	vs, err := host.pstates.GetPropCPUs(args[0], cpus, mechanismPreference())
	if err != nil {
		return err
	}
	for _, v := range vs {
		if v.CPU < 0 {
			fmt.Printf("%s: %v (via %s)\n", args[0], v.Value, v.Mechanism)
			continue
		}
		fmt.Printf("CPU %d: %s = %v (via %s)\n", v.CPU, args[0], v.Value, v.Mechanism)
	}
	return nil
}

func runPStateSet(cmd *cobra.Command, args []string) error {
	if err := ensureElevated(); err != nil {
		return err
	}

	host, err := newLocalHost()
	if err != nil {
		return err
	}
	cpus, err := parseCPUList(flagCPUs, host.topology.CPUs())
	if err != nil {
		return err
	}

	val, err := convertSetValue(args[0], args[1])
	if err != nil {
		return err
	}
	if err := host.pstates.SetPropCPUs(args[0], val, cpus); err != nil {
		return err
	}
	fmt.Printf("%s set to %q for %d CPU(s)\n", args[0], args[1], len(cpus))
	return nil
}

// convertSetValue turns the raw command-line argument into the Go type
// PStates.SetPropCPUs expects for name: a frequency in Hz (accepting a
// "3.5GHz"-style suffix for convenience), a bool for the on/off turbo
// switch, an int64 for the numeric EPB scale, or the string verbatim
// for everything else (governor, EPP policy name, intel_pstate mode).
func convertSetValue(name, raw string) (any, error) {
	prop, ok := pstates.LookupProperty(name)
	if !ok {
		return nil, fmt.Errorf("unknown property %q", name)
	}
	switch {
	case prop.Unit == "Hz":
		return parseFreqHz(raw)
	case prop.Unit == "on/off":
		return parseOnOff(raw)
	case name == "epb":
		return strconv.ParseInt(raw, 10, 64)
	default:
		return raw, nil
	}
}

func parseOnOff(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "true", "1", "enable", "enabled":
		return true, nil
	case "off", "false", "0", "disable", "disabled":
		return false, nil
	default:
		return false, fmt.Errorf("not an on/off value: %q", raw)
	}
}

// parseFreqHz parses a plain Hz integer or a value with a k/M/G suffix
// (case-insensitive, optional trailing "Hz"), e.g. "3500000000",
// "3.5GHz", "800MHz".
func parseFreqHz(raw string) (uint64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "Hz")
	s = strings.TrimSuffix(s, "hz")

	multiplier := float64(1)
	switch {
	case strings.HasSuffix(s, "G"), strings.HasSuffix(s, "g"):
		multiplier = 1e9
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		multiplier = 1e6
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "K"), strings.HasSuffix(s, "k"):
		multiplier = 1e3
		s = s[:len(s)-1]
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("not a frequency: %q", raw)
	}
	return uint64(f * multiplier), nil
}
