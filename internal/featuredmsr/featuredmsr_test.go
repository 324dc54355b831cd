// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package featuredmsr

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"pepc/internal/cpuinfo"
	"pepc/internal/executor"
	"pepc/internal/msr"
)

func hwpTopology(t *testing.T) *cpuinfo.Topology {
	t.Helper()
	descriptors := []cpuinfo.CPUDescriptor{
		{CPU: 0, Core: 0, Package: 0, Flags: []string{"hwp", "hwp_epp", "hwp_pkg_req", "epb"}},
		{CPU: 1, Core: 1, Package: 0, Flags: []string{"hwp", "hwp_epp", "hwp_pkg_req", "epb"}},
	}
	topo, err := cpuinfo.NewTopology(cpuinfo.VFM{Vendor: cpuinfo.VendorIntel, Family: 6, Model: 151}, 1, descriptors)
	require.NoError(t, err)
	return topo
}

func itoaTest(v int) string {
	if v == 0 {
		return "0"
	}
	s := ""
	for v > 0 {
		s = string(rune('0'+v%10)) + s
		v /= 10
	}
	return s
}

func seedReg(ex *executor.Emulated, cpu int, addr uint32, value uint64) {
	var buf [4096]byte
	binary.LittleEndian.PutUint64(buf[addr:], value)
	ex.Seed("/dev/cpu/"+itoaTest(cpu)+"/msr", buf[:])
}

func TestHWPRequestReadWriteRoundTrip(t *testing.T) {
	topo := hwpTopology(t)
	ex := executor.NewEmulated("")
	seedReg(ex, 0, MsrHWPRequest, 0)
	seedReg(ex, 1, MsrHWPRequest, 0)

	engine := msr.NewMsrEngine(topo, ex, true)
	fm, err := New("HWP_REQUEST", MsrHWPRequest, HWPRequestFeatures(), engine, topo)
	require.NoError(t, err)

	require.NoError(t, fm.WriteFeature("max_perf", int64(0xFF), []int{0, 1}))
	vs, err := fm.ReadFeature("max_perf", []int{0, 1})
	require.NoError(t, err)
	require.Equal(t, int64(0xFF), vs[0].Value)
	require.Equal(t, int64(0xFF), vs[1].Value)
}

func TestHWPRequestPkgControlIsBoolean(t *testing.T) {
	topo := hwpTopology(t)
	ex := executor.NewEmulated("")
	seedReg(ex, 0, MsrHWPRequest, 0)

	engine := msr.NewMsrEngine(topo, ex, true)
	fm, err := New("HWP_REQUEST", MsrHWPRequest, HWPRequestFeatures(), engine, topo)
	require.NoError(t, err)

	require.NoError(t, fm.EnableFeature("pkg_control", true, []int{0}))
	vs, err := fm.IsFeatureEnabled("pkg_control", []int{0})
	require.NoError(t, err)
	require.Equal(t, true, vs[0].Value)
}

func TestValidateFeatureSupportedRejectsMissingFlag(t *testing.T) {
	descriptors := []cpuinfo.CPUDescriptor{
		{CPU: 0, Core: 0, Package: 0, Flags: []string{"hwp"}},
		{CPU: 1, Core: 1, Package: 0},
	}
	topo, err := cpuinfo.NewTopology(cpuinfo.VFM{Vendor: cpuinfo.VendorIntel, Family: 6, Model: 151}, 1, descriptors)
	require.NoError(t, err)

	ex := executor.NewEmulated("")
	seedReg(ex, 0, MsrHWPRequest, 0)
	seedReg(ex, 1, MsrHWPRequest, 0)
	engine := msr.NewMsrEngine(topo, ex, true)
	fm, err := New("HWP_REQUEST", MsrHWPRequest, HWPRequestFeatures(), engine, topo)
	require.NoError(t, err)

	err = fm.ValidateFeatureSupported("min_perf", []int{0, 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not supported on CPUs 1")
}

func TestWriteFeatureRejectsReadOnly(t *testing.T) {
	topo := hwpTopology(t)
	ex := executor.NewEmulated("")
	seedReg(ex, 0, MsrPlatformInfo, 0)

	engine := msr.NewMsrEngine(topo, ex, true)
	fm, err := New("PLATFORM_INFO", MsrPlatformInfo, PlatformInfoFeatures(), engine, topo)
	require.NoError(t, err)

	err = fm.WriteFeature("max_non_turbo_ratio", int64(30), []int{0})
	require.Error(t, err)
}

func TestPlatformInfoRatios(t *testing.T) {
	topo := hwpTopology(t)
	ex := executor.NewEmulated("")
	var raw uint64
	raw = msr.SetBits(raw, msr.Bits{Msb: 15, Lsb: 8}, 30)
	raw = msr.SetBits(raw, msr.Bits{Msb: 47, Lsb: 40}, 20)
	raw = msr.SetBits(raw, msr.Bits{Msb: 55, Lsb: 48}, 8)
	seedReg(ex, 0, MsrPlatformInfo, raw)

	engine := msr.NewMsrEngine(topo, ex, true)
	fm, err := New("PLATFORM_INFO", MsrPlatformInfo, PlatformInfoFeatures(), engine, topo)
	require.NoError(t, err)

	v, err := fm.ReadCPUFeature("max_non_turbo_ratio", 0)
	require.NoError(t, err)
	require.Equal(t, int64(30), v)

	v, err = fm.ReadCPUFeature("max_eff_ratio", 0)
	require.NoError(t, err)
	require.Equal(t, int64(20), v)

	v, err = fm.ReadCPUFeature("min_oper_ratio", 0)
	require.NoError(t, err)
	require.Equal(t, int64(8), v)
}

func TestRaplPowerUnitHooksTranslateRawCodes(t *testing.T) {
	topo := hwpTopology(t)
	ex := executor.NewEmulated("")
	var raw uint64
	raw = msr.SetBits(raw, msr.Bits{Msb: 3, Lsb: 0}, 3)   // power_units: 1/8 W per unit
	raw = msr.SetBits(raw, msr.Bits{Msb: 12, Lsb: 8}, 16) // energy_units: 1/65536 J per unit
	raw = msr.SetBits(raw, msr.Bits{Msb: 19, Lsb: 16}, 10)
	seedReg(ex, 0, MsrRaplPowerUnit, raw)

	engine := msr.NewMsrEngine(topo, ex, true)
	fm, err := New("RAPL_POWER_UNIT", MsrRaplPowerUnit, RaplPowerUnitFeatures(), engine, topo)
	require.NoError(t, err)
	InstallRaplPowerUnitHooks(fm, topo)

	v, err := fm.ReadCPUFeature("power_units", 0)
	require.NoError(t, err)
	require.InDelta(t, 0.125, v.(float64), 1e-9)

	v, err = fm.ReadCPUFeature("energy_units", 0)
	require.NoError(t, err)
	require.InDelta(t, 1.0/65536.0, v.(float64), 1e-12)
}

func TestRaplPowerUnitHookUsesSilvermontEncoding(t *testing.T) {
	descriptors := []cpuinfo.CPUDescriptor{{CPU: 0, Core: 0, Package: 0}}
	topo, err := cpuinfo.NewTopology(cpuinfo.VFM{Vendor: cpuinfo.VendorIntel, Family: 6, Model: cpuinfo.ModelAtomSilvermont}, 1, descriptors)
	require.NoError(t, err)

	ex := executor.NewEmulated("")
	var raw uint64
	raw = msr.SetBits(raw, msr.Bits{Msb: 12, Lsb: 8}, 10)
	seedReg(ex, 0, MsrRaplPowerUnit, raw)

	engine := msr.NewMsrEngine(topo, ex, true)
	fm, err := New("RAPL_POWER_UNIT", MsrRaplPowerUnit, RaplPowerUnitFeatures(), engine, topo)
	require.NoError(t, err)
	InstallRaplPowerUnitHooks(fm, topo)

	v, err := fm.ReadCPUFeature("energy_units", 0)
	require.NoError(t, err)
	require.InDelta(t, 1024.0/1000000.0, v.(float64), 1e-9)
}

func TestRangifyCPUs(t *testing.T) {
	require.Equal(t, "0-3,5,7-8", RangifyCPUs([]int{0, 1, 2, 3, 5, 7, 8}))
	require.Equal(t, "4", RangifyCPUs([]int{4}))
	require.Equal(t, "", RangifyCPUs(nil))
}

func TestEnergyPerfBiasRoundTrip(t *testing.T) {
	topo := hwpTopology(t)
	ex := executor.NewEmulated("")
	seedReg(ex, 0, MsrEnergyPerfBias, 0)

	engine := msr.NewMsrEngine(topo, ex, true)
	fm, err := New("ENERGY_PERF_BIAS", MsrEnergyPerfBias, EnergyPerfBiasFeatures(), engine, topo)
	require.NoError(t, err)

	require.NoError(t, fm.WriteFeature("epb", int64(6), []int{0}))
	v, err := fm.ReadCPUFeature("epb", 0)
	require.NoError(t, err)
	require.Equal(t, int64(6), v)
}

func TestPkgCstConfigCtlLockIsReadOnly(t *testing.T) {
	topo := hwpTopology(t)
	ex := executor.NewEmulated("")
	raw := msr.SetBits(0, msr.Bits{Msb: 15, Lsb: 15}, 1)
	seedReg(ex, 0, MsrPkgCstConfigControl, raw)

	engine := msr.NewMsrEngine(topo, ex, true)
	fm, err := New("PKG_CST_CONFIG_CONTROL", MsrPkgCstConfigControl, PkgCstConfigCtlFeatures(), engine, topo)
	require.NoError(t, err)

	vs, err := fm.IsFeatureEnabled("pkg_cstate_limit_lock", []int{0})
	require.NoError(t, err)
	require.Equal(t, true, vs[0].Value)

	err = fm.EnableFeature("pkg_cstate_limit_lock", false, []int{0})
	require.Error(t, err)
}
