// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package cpufreq

import (
	"fmt"

	"pepc/internal/sysfsio"
)

// CppcSysfs wraps /sys/devices/system/cpu/cpu<N>/acpi_cppc/*. CPPC
// publishes two families of values: MHz frequencies and dimensionless
// "perf" levels on the same 0-highest_perf scale HWP uses.
type CppcSysfs struct {
	io *sysfsio.SysfsIO
}

// NewCppcSysfs builds a CppcSysfs over io.
func NewCppcSysfs(io *sysfsio.SysfsIO) *CppcSysfs { return &CppcSysfs{io: io} }

func cppcDir(cpu int) string {
	return fmt.Sprintf("/sys/devices/system/cpu/cpu%d/acpi_cppc", cpu)
}

func (c *CppcSysfs) freqMHz(path string) (uint64, error) {
	v, err := c.io.ReadInt(path)
	if err != nil {
		return 0, err
	}
	return hzFromMHz(v), nil
}

// GetLowestFreq returns lowest_freq in Hz.
func (c *CppcSysfs) GetLowestFreq(cpu int) (uint64, error) {
	return c.freqMHz(cppcDir(cpu) + "/lowest_freq")
}

// GetHighestFreq returns highest_freq in Hz.
func (c *CppcSysfs) GetHighestFreq(cpu int) (uint64, error) {
	return c.freqMHz(cppcDir(cpu) + "/highest_freq")
}

// GetNominalFreq returns nominal_freq in Hz; this is CPPC's
// equivalent of the base/guaranteed frequency.
func (c *CppcSysfs) GetNominalFreq(cpu int) (uint64, error) {
	return c.freqMHz(cppcDir(cpu) + "/nominal_freq")
}

// GetLowestPerf returns lowest_perf, a dimensionless performance level.
func (c *CppcSysfs) GetLowestPerf(cpu int) (int64, error) {
	return c.io.ReadInt(cppcDir(cpu) + "/lowest_perf")
}

// GetLowestNonlinearPerf returns lowest_nonlinear_perf, the lowest
// level at which performance still scales roughly linearly with
// frequency.
func (c *CppcSysfs) GetLowestNonlinearPerf(cpu int) (int64, error) {
	return c.io.ReadInt(cppcDir(cpu) + "/lowest_nonlinear_perf")
}

// GetNominalPerf returns nominal_perf.
func (c *CppcSysfs) GetNominalPerf(cpu int) (int64, error) {
	return c.io.ReadInt(cppcDir(cpu) + "/nominal_perf")
}

// GetHighestPerf returns highest_perf.
func (c *CppcSysfs) GetHighestPerf(cpu int) (int64, error) {
	return c.io.ReadInt(cppcDir(cpu) + "/highest_perf")
}

// PerfToFreq converts a CPPC performance level to Hz using the
// nominal_perf/nominal_freq ratio CPPC establishes for the CPU,
// matching how the kernel itself derives frequency from perf when a
// platform exposes CPPC but not a direct *_freq node.
func (c *CppcSysfs) PerfToFreq(cpu int, perf int64) (uint64, error) {
	nominalPerf, err := c.GetNominalPerf(cpu)
	if err != nil {
		return 0, err
	}
	nominalFreq, err := c.GetNominalFreq(cpu)
	if nominalPerf == 0 {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(perf) * nominalFreq / uint64(nominalPerf), nil
}
