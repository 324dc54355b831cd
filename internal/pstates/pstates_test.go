// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package pstates

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"pepc/internal/cpufreq"
	"pepc/internal/cpuinfo"
	"pepc/internal/executor"
	"pepc/internal/featuredmsr"
	"pepc/internal/msr"
	"pepc/internal/pepcerr"
	"pepc/internal/sysfsio"
)

func singleCPUTopology(t *testing.T) *cpuinfo.Topology {
	t.Helper()
	descriptors := []cpuinfo.CPUDescriptor{{CPU: 0, Core: 0, Package: 0, Die: 0, Flags: []string{"hwp", "hwp_epp", "hwp_pkg_req"}}}
	topo, err := cpuinfo.NewTopology(cpuinfo.VFM{Vendor: cpuinfo.VendorIntel, Family: 6, Model: 151}, 1, descriptors)
	require.NoError(t, err)
	return topo
}

func TestReorderPutsPreferredMechanismFirst(t *testing.T) {
	declared := []Mechanism{MechanismSysfs, MechanismMSR}
	out := reorder(declared, []Mechanism{MechanismMSR})
	require.Equal(t, []Mechanism{MechanismMSR, MechanismSysfs}, out)
}

func TestReorderIgnoresUndeclaredPreference(t *testing.T) {
	declared := []Mechanism{MechanismSysfs}
	out := reorder(declared, []Mechanism{MechanismCPPC, MechanismSysfs})
	require.Equal(t, []Mechanism{MechanismSysfs}, out)
}

func TestGetPropCPUsUnknownPropertyIsBadValue(t *testing.T) {
	ex := executor.NewEmulated("")
	p := New(cpufreq.NewCpuFreqSysfs(sysfsio.New(ex)), nil, nil, singleCPUTopology(t))

	_, err := p.GetPropCPUs("not_a_real_property", []int{0}, nil)
	require.Error(t, err)
	require.True(t, pepcerr.Is(err, pepcerr.KindBadValue))
}

func TestSetPropCPUsRejectsReadOnlyProperty(t *testing.T) {
	ex := executor.NewEmulated("")
	p := New(cpufreq.NewCpuFreqSysfs(sysfsio.New(ex)), nil, nil, singleCPUTopology(t))

	err := p.SetPropCPUs("governors", "performance", []int{0})
	require.Error(t, err)
	require.True(t, pepcerr.Is(err, pepcerr.KindPermissionDenied))
}

// TestGetPropCPUsSkipsNilMSREngine checks that preferring msr on
// "min_freq" with no msr engine present still falls through to sysfs
// rather than erroring.
func TestGetPropCPUsSkipsNilMSREngine(t *testing.T) {
	ex := executor.NewEmulated("")
	ex.Seed("/sys/devices/system/cpu/cpu0/cpufreq/scaling_min_freq", []byte("800000\n"))
	p := New(cpufreq.NewCpuFreqSysfs(sysfsio.New(ex)), nil, nil, singleCPUTopology(t))

	vs, err := p.GetPropCPUs("min_freq", []int{0}, []Mechanism{MechanismMSR})
	require.NoError(t, err)
	require.Len(t, vs, 1)
	require.Equal(t, MechanismSysfs, vs[0].Mechanism)
	require.Equal(t, uint64(800_000_000), vs[0].Value)
}

func TestGetPropCPUsMinOperFreqWithNoMSREngineIsNotSupported(t *testing.T) {
	ex := executor.NewEmulated("")
	p := New(cpufreq.NewCpuFreqSysfs(sysfsio.New(ex)), nil, nil, singleCPUTopology(t))

	_, err := p.GetPropCPUs("min_oper_freq", []int{0}, nil)
	require.Error(t, err)
	require.True(t, pepcerr.Is(err, pepcerr.KindNotSupported))
}

func TestGetPropCPUsTurboIsPackageScoped(t *testing.T) {
	ex := executor.NewEmulated("")
	ex.Seed("/sys/devices/system/cpu/cpu0/cpufreq/scaling_driver", []byte("intel_pstate\n"))
	ex.Seed("/sys/devices/system/cpu/intel_pstate/no_turbo", []byte("0\n"))
	p := New(cpufreq.NewCpuFreqSysfs(sysfsio.New(ex)), nil, nil, singleCPUTopology(t))

	vs, err := p.GetPropCPUs("turbo", []int{0}, nil)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	require.Equal(t, -1, vs[0].CPU)
	require.Equal(t, true, vs[0].Value)
}

func TestSetPropCPUsRefusesIntelPstateOffWhileHWPEnabled(t *testing.T) {
	topo := singleCPUTopology(t)
	ex := executor.NewEmulated("")

	var buf [4096]byte
	binary.LittleEndian.PutUint64(buf[featuredmsr.MsrPMEnable:], 1)
	cap := uint64(8)<<24 | uint64(15)<<16 | uint64(20)<<8 | uint64(35)
	binary.LittleEndian.PutUint64(buf[featuredmsr.MsrHWPCapabilities:], cap)
	ex.Seed("/dev/cpu/0/msr", buf[:])

	me := msr.NewMsrEngine(topo, ex, true)
	hwp, err := cpufreq.NewHwpMsr(me, topo)
	require.NoError(t, err)

	p := New(cpufreq.NewCpuFreqSysfs(sysfsio.New(ex)), hwp, nil, topo)

	err = p.SetPropCPUs("intel_pstate_mode", "off", []int{0})
	require.Error(t, err)
	require.True(t, pepcerr.Is(err, pepcerr.KindNotSupported))
}

func TestEnrichFreqAddsTurboOffHint(t *testing.T) {
	ex := executor.NewEmulated("")
	ex.Seed("/sys/devices/system/cpu/cpu0/cpufreq/scaling_driver", []byte("intel_pstate\n"))
	ex.Seed("/sys/devices/system/cpu/intel_pstate/no_turbo", []byte("1\n")) // turbo off
	ex.Seed("/sys/devices/system/cpu/cpu0/cpufreq/base_frequency", []byte("2000000\n"))
	ex.Seed("/sys/devices/system/cpu/cpu0/cpufreq/scaling_available_frequencies", []byte("1000000 1500000 2000000\n"))
	p := New(cpufreq.NewCpuFreqSysfs(sysfsio.New(ex)), nil, nil, singleCPUTopology(t))

	cause := pepcerr.New(pepcerr.KindVerifyFailed, "requested frequency was not applied")
	err := p.enrich("max_freq", uint64(2_500_000_000), []int{0}, cause)
	require.Error(t, err)
	require.True(t, pepcerr.Is(err, pepcerr.KindVerifyFailed))
	require.Contains(t, err.Error(), "turbo is disabled")
	require.Contains(t, err.Error(), "2000000000 Hz")
	require.Contains(t, err.Error(), "driver-accepted frequencies")
}

func TestEnrichFreqPassesThroughWhenNoRuleApplies(t *testing.T) {
	ex := executor.NewEmulated("")
	p := New(cpufreq.NewCpuFreqSysfs(sysfsio.New(ex)), nil, nil, singleCPUTopology(t))

	cause := pepcerr.New(pepcerr.KindVerifyFailed, "requested frequency was not applied")
	err := p.enrich("max_freq", uint64(2_500_000_000), []int{0}, cause)
	require.Equal(t, cause, err)
}

func TestEnrichEPPExplainsPerformanceGovernorLock(t *testing.T) {
	ex := executor.NewEmulated("")
	ex.Seed("/sys/devices/system/cpu/cpu0/cpufreq/scaling_driver", []byte("intel_pstate\n"))
	ex.Seed("/sys/devices/system/cpu/intel_pstate/status", []byte("active\n"))
	ex.Seed("/sys/devices/system/cpu/cpu0/cpufreq/scaling_governor", []byte("performance\n"))
	p := New(cpufreq.NewCpuFreqSysfs(sysfsio.New(ex)), nil, nil, singleCPUTopology(t))

	cause := pepcerr.New(pepcerr.KindVerifyFailed, "requested EPP was not applied")
	err := p.enrich("epp", "balance_performance", []int{0}, cause)
	require.Error(t, err)
	require.Contains(t, err.Error(), "performance governor pins EPP to 0")
}

func TestEnrichEPPPassesThroughUnderOtherGovernors(t *testing.T) {
	ex := executor.NewEmulated("")
	ex.Seed("/sys/devices/system/cpu/cpu0/cpufreq/scaling_driver", []byte("intel_pstate\n"))
	ex.Seed("/sys/devices/system/cpu/intel_pstate/status", []byte("active\n"))
	ex.Seed("/sys/devices/system/cpu/cpu0/cpufreq/scaling_governor", []byte("powersave\n"))
	p := New(cpufreq.NewCpuFreqSysfs(sysfsio.New(ex)), nil, nil, singleCPUTopology(t))

	cause := pepcerr.New(pepcerr.KindVerifyFailed, "requested EPP was not applied")
	err := p.enrich("epp", "balance_performance", []int{0}, cause)
	require.Equal(t, cause, err)
}

func TestEnrichEPPPassesThroughWhenRequestingMaxPerf(t *testing.T) {
	ex := executor.NewEmulated("")
	ex.Seed("/sys/devices/system/cpu/cpu0/cpufreq/scaling_driver", []byte("intel_pstate\n"))
	ex.Seed("/sys/devices/system/cpu/intel_pstate/status", []byte("active\n"))
	ex.Seed("/sys/devices/system/cpu/cpu0/cpufreq/scaling_governor", []byte("performance\n"))
	p := New(cpufreq.NewCpuFreqSysfs(sysfsio.New(ex)), nil, nil, singleCPUTopology(t))

	cause := pepcerr.New(pepcerr.KindVerifyFailed, "requested EPP was not applied")
	require.Equal(t, cause, p.enrich("epp", "performance", []int{0}, cause))
	require.Equal(t, cause, p.enrich("epp", int64(0), []int{0}, cause))
}
