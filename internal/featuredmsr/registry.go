// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package featuredmsr

import (
	"pepc/internal/cpuinfo"
	"pepc/internal/msr"
)

// Register addresses for the concrete MSRs this package ships feature
// tables for.
const (
	MsrHWPRequest          = 0x774
	MsrHWPRequestPkg       = 0x772
	MsrHWPCapabilities     = 0x771
	MsrPlatformInfo        = 0xCE
	MsrTurboRatioLimit     = 0x1AD
	MsrTurboRatioLimit1    = 0x1AE
	MsrRaplPowerUnit       = 0x606
	MsrPkgCstConfigControl = 0xE2
	MsrEnergyPerfBias      = 0x1B0
	MsrPMEnable            = 0x770
)

// PMEnableFeatures describes MSR_PM_ENABLE (0x770): the single bit
// that switches a CPU into hardware-managed P-states.
func PMEnableFeatures() []Descriptor {
	return []Descriptor{
		{
			Name: "hwp", Help: "Hardware Power Management is enabled; the platform autonomously scales CPU frequency.",
			Type: TypeBool, Bits: msr.Bits{Msb: 0, Lsb: 0}, Writable: true, CPUFlags: []string{"hwp"},
			Vals: map[string]uint64{"on": 1, "off": 0},
		},
	}
}

// HWPRequestFeatures describes MSR_HWP_REQUEST (0x774): the per-CPU
// HWP performance range and EPP, plus the bits that say whether each
// field is actually controlled by this MSR or overridden elsewhere
// (package-scope request, BIOS lock).
func HWPRequestFeatures() []Descriptor {
	hwp := []string{"hwp"}
	return []Descriptor{
		{
			Name: "min_perf", Help: "Minimum performance the CPU requests from HWP.",
			Type: TypeInt, Bits: msr.Bits{Msb: 7, Lsb: 0}, Writable: true, CPUFlags: hwp,
		},
		{
			Name: "max_perf", Help: "Maximum performance the CPU requests from HWP.",
			Type: TypeInt, Bits: msr.Bits{Msb: 15, Lsb: 8}, Writable: true, CPUFlags: hwp,
		},
		{
			Name: "epp", Help: "Energy Performance Preference hint for HWP.",
			Type: TypeInt, Bits: msr.Bits{Msb: 31, Lsb: 24}, Writable: true, CPUFlags: hwp,
		},
		{
			Name: "pkg_control", Help: "HWP is controlled by MSR_HWP_REQUEST_PKG instead of this MSR.",
			Type: TypeBool, Bits: msr.Bits{Msb: 42, Lsb: 42}, Writable: true, CPUFlags: hwp,
			Vals: map[string]uint64{"on": 1, "off": 0},
		},
		{
			Name: "epp_valid", Help: "EPP is controlled by this MSR, not MSR_HWP_REQUEST_PKG.",
			Type: TypeBool, Bits: msr.Bits{Msb: 60, Lsb: 60}, Writable: true, CPUFlags: hwp,
			Vals: map[string]uint64{"on": 1, "off": 0},
		},
		{
			Name: "max_valid", Help: "Maximum performance is controlled by this MSR, not MSR_HWP_REQUEST_PKG.",
			Type: TypeBool, Bits: msr.Bits{Msb: 62, Lsb: 62}, Writable: true, CPUFlags: hwp,
			Vals: map[string]uint64{"on": 1, "off": 0},
		},
		{
			Name: "min_valid", Help: "Minimum performance is controlled by this MSR, not MSR_HWP_REQUEST_PKG.",
			Type: TypeBool, Bits: msr.Bits{Msb: 63, Lsb: 63}, Writable: true, CPUFlags: hwp,
			Vals: map[string]uint64{"on": 1, "off": 0},
		},
	}
}

// HWPRequestPkgFeatures describes MSR_HWP_REQUEST_PKG (0x772), the
// package-scope counterpart of MSR_HWP_REQUEST.
func HWPRequestPkgFeatures() []Descriptor {
	pkgReq := []string{"hwp", "hwp_pkg_req"}
	return []Descriptor{
		{
			Name: "min_perf", Help: "Package-scope minimum performance HWP request.",
			Type: TypeInt, Bits: msr.Bits{Msb: 7, Lsb: 0}, Writable: true,
			CPUFlags: pkgReq, SName: cpuinfo.ScopePackage, IOSName: cpuinfo.ScopePackage,
		},
		{
			Name: "max_perf", Help: "Package-scope maximum performance HWP request.",
			Type: TypeInt, Bits: msr.Bits{Msb: 15, Lsb: 8}, Writable: true,
			CPUFlags: pkgReq, SName: cpuinfo.ScopePackage, IOSName: cpuinfo.ScopePackage,
		},
		{
			Name: "epp", Help: "Package-scope Energy Performance Preference HWP request.",
			Type: TypeInt, Bits: msr.Bits{Msb: 31, Lsb: 24}, Writable: true,
			CPUFlags: []string{"hwp", "hwp_epp", "hwp_pkg_req"},
			SName:    cpuinfo.ScopePackage, IOSName: cpuinfo.ScopePackage,
		},
	}
}

// HWPCapabilitiesFeatures describes MSR_HWP_CAPABILITIES (0x771), the
// read-only performance levels HWP reports as available.
func HWPCapabilitiesFeatures() []Descriptor {
	hwp := []string{"hwp"}
	return []Descriptor{
		{Name: "highest", Help: "Highest performance HWP can deliver.",
			Type: TypeInt, Bits: msr.Bits{Msb: 7, Lsb: 0}, CPUFlags: hwp},
		{Name: "guaranteed", Help: "Guaranteed sustained performance.",
			Type: TypeInt, Bits: msr.Bits{Msb: 15, Lsb: 8}, CPUFlags: hwp},
		{Name: "most_efficient", Help: "Most energy-efficient performance point.",
			Type: TypeInt, Bits: msr.Bits{Msb: 23, Lsb: 16}, CPUFlags: hwp},
		{Name: "lowest", Help: "Lowest performance HWP can deliver.",
			Type: TypeInt, Bits: msr.Bits{Msb: 31, Lsb: 24}, CPUFlags: hwp},
	}
}

// PlatformInfoFeatures describes MSR_PLATFORM_INFO (0xCE): the
// non-turbo, efficiency, and minimum operating ratios baked into the
// platform.
func PlatformInfoFeatures() []Descriptor {
	return []Descriptor{
		{Name: "max_non_turbo_ratio", Help: "Maximum non-turbo (base) frequency ratio.",
			Type: TypeInt, Bits: msr.Bits{Msb: 15, Lsb: 8}},
		{Name: "max_eff_ratio", Help: "Maximum efficiency frequency ratio.",
			Type: TypeInt, Bits: msr.Bits{Msb: 47, Lsb: 40}},
		{Name: "min_oper_ratio", Help: "Minimum operating frequency ratio.",
			Type: TypeInt, Bits: msr.Bits{Msb: 55, Lsb: 48}},
	}
}

// TurboRatioLimitFeatures describes MSR_TURBO_RATIO_LIMIT (0x1AD):
// the single-core turbo ratio.
func TurboRatioLimitFeatures() []Descriptor {
	return []Descriptor{
		{Name: "max_1c_turbo_ratio", Help: "Maximum 1-core turbo ratio.",
			Type: TypeInt, Bits: msr.Bits{Msb: 7, Lsb: 0}},
	}
}

// TurboRatioLimit1Features describes MSR_TURBO_RATIO_LIMIT1 (0x1AE,
// aka MSR_TURBO_GROUP_CORECNT): the all-group-0-cores turbo ratio.
func TurboRatioLimit1Features() []Descriptor {
	return []Descriptor{
		{Name: "max_g0_turbo_ratio", Help: "Maximum turbo ratio with all group-0 cores active.",
			Type: TypeInt, Bits: msr.Bits{Msb: 7, Lsb: 0}},
	}
}

// RaplPowerUnitFeatures describes MSR_RAPL_POWER_UNIT (0x606): the
// scaling factors for RAPL power, energy, and time readings, all
// package-scope and read-only. The raw field values are ratios of two
// (energy_units is 2^-val Joules per unit on every platform except
// Silvermont, handled by a read hook), translated by a read hook into
// the float units callers actually want rather than exposed as the
// raw 4-bit codes.
func RaplPowerUnitFeatures() []Descriptor {
	return []Descriptor{
		{
			Name: "power_units", Help: "Scaling factor for translating RAPL power readings to watts.",
			Type: TypeFloat, Bits: msr.Bits{Msb: 3, Lsb: 0},
			SName: cpuinfo.ScopePackage, IOSName: cpuinfo.ScopePackage,
		},
		{
			Name: "energy_units", Help: "Scaling factor for translating RAPL energy readings to joules.",
			Type: TypeFloat, Bits: msr.Bits{Msb: 12, Lsb: 8},
			SName: cpuinfo.ScopePackage, IOSName: cpuinfo.ScopePackage,
		},
		{
			Name: "time_units", Help: "Scaling factor for translating RAPL time readings to seconds.",
			Type: TypeFloat, Bits: msr.Bits{Msb: 19, Lsb: 16},
			SName: cpuinfo.ScopePackage, IOSName: cpuinfo.ScopePackage,
		},
	}
}

// PkgCstConfigCtlFeatures describes MSR_PKG_CST_CONFIG_CONTROL (0xE2):
// the package C-state limit and the C1 demotion controls, plus the
// BIOS lock bit that can freeze the limit read-only.
//
// pkg_cstate_limit's raw encoding-to-name mapping is platform
// specific (client parts use one table, Haswell-family parts another,
// server parts a third); rather than baking a single static Vals
// table that would be wrong on most platforms, the caller is expected
// to install a read/write hook carrying the right table for the
// detected platform. Without a hook installed the feature reads back
// as a decimal integer string and is written as a raw integer; a
// string value is rejected on write, since there are no enumerated
// values to match it against.
func PkgCstConfigCtlFeatures() []Descriptor {
	return []Descriptor{
		{
			Name: "pkg_cstate_limit", Help: "Deepest package C-state the platform is allowed to enter.",
			Type: TypeStr, Bits: msr.Bits{Msb: 3, Lsb: 0}, Writable: true,
		},
		{
			Name: "pkg_cstate_limit_lock", Help: "Whether the package C-state limit bits are BIOS-locked.",
			Type: TypeBool, Bits: msr.Bits{Msb: 15, Lsb: 15}, Writable: false,
			Vals: map[string]uint64{"on": 1, "off": 0},
		},
		{
			Name: "c1_demotion", Help: "Allow the CPU to demote C6/C7 requests to C1.",
			Type: TypeBool, Bits: msr.Bits{Msb: 26, Lsb: 26}, Writable: true,
			Vals: map[string]uint64{"on": 1, "off": 0},
		},
		{
			Name: "c1_undemotion", Help: "Allow the CPU to un-demote previously demoted C1 requests back to C6/C7.",
			Type: TypeBool, Bits: msr.Bits{Msb: 28, Lsb: 28}, Writable: true,
			Vals: map[string]uint64{"on": 1, "off": 0},
		},
	}
}

// EnergyPerfBiasFeatures describes MSR_ENERGY_PERF_BIAS (0x1B0): the
// legacy energy/performance hint predating HWP's EPP.
func EnergyPerfBiasFeatures() []Descriptor {
	return []Descriptor{
		{Name: "epb", Help: "Energy Performance Bias hint, 0 (performance) to 15 (energy saving).",
			Type: TypeInt, Bits: msr.Bits{Msb: 3, Lsb: 0}, Writable: true, CPUFlags: []string{"epb"}},
	}
}
