// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package cpufreq

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"pepc/internal/cpuinfo"
	"pepc/internal/executor"
	"pepc/internal/featuredmsr"
	"pepc/internal/msr"
	"pepc/internal/sysfsio"
)

func nehalemTopology(t *testing.T) *cpuinfo.Topology {
	t.Helper()
	descriptors := []cpuinfo.CPUDescriptor{
		{CPU: 0, Core: 0, Package: 0, Flags: []string{"hwp", "hwp_epp", "hwp_pkg_req"}},
	}
	topo, err := cpuinfo.NewTopology(cpuinfo.VFM{Vendor: cpuinfo.VendorIntel, Family: 6, Model: 151}, 1, descriptors)
	require.NoError(t, err)
	return topo
}

// seedHWPEnabledWithCapabilities seeds MSR_PM_ENABLE.hwp=on and
// MSR_HWP_CAPABILITIES {lowest:8, most_efficient:15, guaranteed:20,
// highest:35}, matching spec scenario 6 at the default 100 MHz bus
// clock: min_oper_freq=800 MHz, max_turbo_freq=3.5 GHz.
func seedHWPEnabledWithCapabilities(ex *executor.Emulated) {
	var buf [4096]byte
	binary.LittleEndian.PutUint64(buf[featuredmsr.MsrPMEnable:], 1)
	cap := uint64(8)<<24 | uint64(15)<<16 | uint64(20)<<8 | uint64(35)
	binary.LittleEndian.PutUint64(buf[featuredmsr.MsrHWPCapabilities:], cap)
	ex.Seed("/dev/cpu/0/msr", buf[:])
}

func TestReadBusClockHzDefaultsTo100MHz(t *testing.T) {
	topo := nehalemTopology(t)
	ex := executor.NewEmulated("")
	me := msr.NewMsrEngine(topo, ex, true)

	hz, err := ReadBusClockHz(me, topo.VFM(), 0)
	require.NoError(t, err)
	require.Equal(t, uint64(100_000_000), hz)
}

func TestReadBusClockHzCore2Table(t *testing.T) {
	vfm := cpuinfo.VFM{Vendor: cpuinfo.VendorIntel, Family: 6, Model: 0x0F}
	descriptors := []cpuinfo.CPUDescriptor{{CPU: 0, Core: 0, Package: 0}}
	topo, err := cpuinfo.NewTopology(vfm, 1, descriptors)
	require.NoError(t, err)

	ex := executor.NewEmulated("")
	var buf [4096]byte
	binary.LittleEndian.PutUint64(buf[MsrFsbFreq:], 0b010) // 200.00 MHz code
	ex.Seed("/dev/cpu/0/msr", buf[:])

	me := msr.NewMsrEngine(topo, ex, true)
	hz, err := ReadBusClockHz(me, vfm, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(200_000_000), hz)
}

func TestCpuFreqSysfsMinMaxRoundTrip(t *testing.T) {
	ex := executor.NewEmulated("")
	ex.Seed("/sys/devices/system/cpu/cpu0/cpufreq/scaling_min_freq", []byte("800000\n"))
	ex.Seed("/sys/devices/system/cpu/cpu0/cpufreq/scaling_max_freq", []byte("3500000\n"))

	s := NewCpuFreqSysfs(sysfsio.New(ex))
	minHz, err := s.GetMinFreq(0)
	require.NoError(t, err)
	require.Equal(t, uint64(800_000_000), minHz)

	require.NoError(t, s.SetMaxFreq(0, 3_000_000_000))
	maxHz, err := s.GetMaxFreq(0)
	require.NoError(t, err)
	require.Equal(t, uint64(3_000_000_000), maxHz)
}

func TestCpuFreqSysfsDriverNormalizesIntelCpufreq(t *testing.T) {
	ex := executor.NewEmulated("")
	ex.Seed("/sys/devices/system/cpu/cpu0/cpufreq/scaling_driver", []byte("intel_cpufreq\n"))

	s := NewCpuFreqSysfs(sysfsio.New(ex))
	driver, err := s.GetDriver(0)
	require.NoError(t, err)
	require.Equal(t, DriverIntelPstate, driver)
}

func TestCppcPerfToFreq(t *testing.T) {
	ex := executor.NewEmulated("")
	ex.Seed("/sys/devices/system/cpu/cpu0/acpi_cppc/nominal_perf", []byte("200\n"))
	ex.Seed("/sys/devices/system/cpu/cpu0/acpi_cppc/nominal_freq", []byte("2000\n")) // MHz

	c := NewCppcSysfs(sysfsio.New(ex))
	hz, err := c.PerfToFreq(0, 100)
	require.NoError(t, err)
	// 100 perf * (2000 MHz / 200 perf) = 1000 MHz = 1e9 Hz.
	require.Equal(t, uint64(1_000_000_000), hz)
}

func TestHwpMsrMinMaxFreqRoundTrip(t *testing.T) {
	topo := nehalemTopology(t)
	ex := executor.NewEmulated("")
	seedHWPEnabledWithCapabilities(ex)
	me := msr.NewMsrEngine(topo, ex, true)

	h, err := NewHwpMsr(me, topo)
	require.NoError(t, err)

	require.NoError(t, h.SetMaxFreq(2_400_000_000, []int{0}))
	vs, err := h.GetMaxFreq([]int{0})
	require.NoError(t, err)
	require.Equal(t, uint64(2_400_000_000), vs[0].Hz)
}

func TestHwpMsrSetMinAboveMaxFailsBadOrder(t *testing.T) {
	topo := nehalemTopology(t)
	ex := executor.NewEmulated("")
	seedHWPEnabledWithCapabilities(ex)
	me := msr.NewMsrEngine(topo, ex, true)

	h, err := NewHwpMsr(me, topo)
	require.NoError(t, err)
	require.NoError(t, h.SetMaxFreq(2_000_000_000, []int{0}))

	err = h.SetMinFreq(2_500_000_000, []int{0})
	require.Error(t, err)
}

func TestHwpMsrIsHWPEnabledDefaultsFalse(t *testing.T) {
	topo := nehalemTopology(t)
	ex := executor.NewEmulated("")
	me := msr.NewMsrEngine(topo, ex, true)

	h, err := NewHwpMsr(me, topo)
	require.NoError(t, err)

	enabled, err := h.IsHWPEnabled(0)
	require.NoError(t, err)
	require.False(t, enabled)
}

// TestHwpMsrPkgControlOverridesThenSetMaxFreqDisablesIt seeds
// MSR_HWP_REQUEST with pkg_control on and max_valid off, so per spec
// §4.G MSR_HWP_REQUEST_PKG's max_perf governs: GetMaxFreq must read the
// package-scope value rather than erroring or reading the CPU-scope
// one. It then calls SetMaxFreq, which must disable package control by
// setting max_valid (not a field named after "max_perf") before
// writing the new value, and checks the CPU-scope MSR governs
// afterwards.
func TestHwpMsrPkgControlOverridesThenSetMaxFreqDisablesIt(t *testing.T) {
	topo := nehalemTopology(t)
	ex := executor.NewEmulated("")

	var buf [4096]byte
	binary.LittleEndian.PutUint64(buf[featuredmsr.MsrPMEnable:], 1)
	cap := uint64(8)<<24 | uint64(15)<<16 | uint64(20)<<8 | uint64(35)
	binary.LittleEndian.PutUint64(buf[featuredmsr.MsrHWPCapabilities:], cap)
	// MSR_HWP_REQUEST_PKG.max_perf = 99, a sentinel distinct from any
	// CPU-scope value this test writes.
	binary.LittleEndian.PutUint64(buf[featuredmsr.MsrHWPRequestPkg:], uint64(99)<<8)
	// MSR_HWP_REQUEST: min_perf=10, max_perf=20, pkg_control on (bit
	// 42), every "_valid" bit off, so the package-scope request governs.
	reqVal := uint64(10) | uint64(20)<<8 | uint64(1)<<42
	binary.LittleEndian.PutUint64(buf[featuredmsr.MsrHWPRequest:], reqVal)
	ex.Seed("/dev/cpu/0/msr", buf[:])

	me := msr.NewMsrEngine(topo, ex, true)
	h, err := NewHwpMsr(me, topo)
	require.NoError(t, err)

	vs, err := h.GetMaxFreq([]int{0})
	require.NoError(t, err)
	require.Equal(t, uint64(9_900_000_000), vs[0].Hz, "pkg_control set and max_valid clear must fall back to MSR_HWP_REQUEST_PKG")

	require.NoError(t, h.SetMaxFreq(2_400_000_000, []int{0}))

	vs, err = h.GetMaxFreq([]int{0})
	require.NoError(t, err)
	require.Equal(t, uint64(2_400_000_000), vs[0].Hz, "SetMaxFreq must disable package control so the CPU-scope MSR governs")
}
