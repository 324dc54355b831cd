// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

/*
Package cpufreq implements the multi-mechanism CPU frequency control
layer: sysfs "cpufreq"/intel_pstate (CpuFreqSysfs), ACPI CPPC sysfs
(CppcSysfs), and MSR_HWP_REQUEST-based control (HwpMsr), including
hybrid performance-level <-> hertz conversion.

All frequencies this package's public API accepts or returns are Hz;
kHz/MHz conversion happens only at the sysfs/CPPC string boundary.
*/
package cpufreq

// Driver normalizes the kernel's "scaling_driver" sysfs value.
type Driver string

const (
	DriverIntelPstate Driver = "intel_pstate"
	DriverAcpiCpufreq Driver = "acpi-cpufreq"
	DriverOther       Driver = "other"
)

// PstateMode is intel_pstate's operating mode.
type PstateMode string

const (
	PstateModeActive  PstateMode = "active"
	PstateModePassive PstateMode = "passive"
	PstateModeOff     PstateMode = "off"
)

const (
	hzPerKHz = 1000
	hzPerMHz = 1_000_000
)

func hzFromKHz(khz int64) uint64 { return uint64(khz) * hzPerKHz }
func khzFromHz(hz uint64) int64  { return int64(hz / hzPerKHz) }
func hzFromMHz(mhz int64) uint64 { return uint64(mhz) * hzPerMHz }
func mhzFromHz(hz uint64) int64  { return int64(hz / hzPerMHz) }

// ceilDiv divides a by b, rounding up, for the hybrid P-core
// freq->perf conversion (MSR_HWP_REQUEST field must never undershoot
// a requested frequency).
func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
