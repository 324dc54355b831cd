// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package cpufreq

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pepc/internal/pepcerr"
	"pepc/internal/sysfsio"
)

// CpuFreqSysfs wraps /sys/devices/system/cpu/cpu<N>/cpufreq/* and the
// adjacent driver-global nodes (intel_pstate/, cpufreq/).
type CpuFreqSysfs struct {
	io *sysfsio.SysfsIO
}

// NewCpuFreqSysfs builds a CpuFreqSysfs over io.
func NewCpuFreqSysfs(io *sysfsio.SysfsIO) *CpuFreqSysfs { return &CpuFreqSysfs{io: io} }

func cpuDir(cpu int) string { return fmt.Sprintf("/sys/devices/system/cpu/cpu%d/cpufreq", cpu) }

func (s *CpuFreqSysfs) freqKHz(path string) (uint64, error) {
	v, err := s.io.ReadInt(path)
	if err != nil {
		return 0, err
	}
	return hzFromKHz(v), nil
}

// GetMinFreq returns scaling_min_freq in Hz.
func (s *CpuFreqSysfs) GetMinFreq(cpu int) (uint64, error) {
	return s.freqKHz(cpuDir(cpu) + "/scaling_min_freq")
}

// SetMinFreq writes scaling_min_freq, converting Hz to kHz.
func (s *CpuFreqSysfs) SetMinFreq(cpu int, hz uint64) error {
	return s.io.WriteInt(cpuDir(cpu)+"/scaling_min_freq", khzFromHz(hz))
}

// GetMaxFreq returns scaling_max_freq in Hz.
func (s *CpuFreqSysfs) GetMaxFreq(cpu int) (uint64, error) {
	return s.freqKHz(cpuDir(cpu) + "/scaling_max_freq")
}

// SetMaxFreq writes scaling_max_freq.
func (s *CpuFreqSysfs) SetMaxFreq(cpu int, hz uint64) error {
	return s.io.WriteInt(cpuDir(cpu)+"/scaling_max_freq", khzFromHz(hz))
}

// GetCurFreq returns scaling_cur_freq in Hz.
func (s *CpuFreqSysfs) GetCurFreq(cpu int) (uint64, error) {
	return s.freqKHz(cpuDir(cpu) + "/scaling_cur_freq")
}

// GetMinFreqLimit returns cpuinfo_min_freq (the hardware floor) in Hz.
func (s *CpuFreqSysfs) GetMinFreqLimit(cpu int) (uint64, error) {
	return s.freqKHz(cpuDir(cpu) + "/cpuinfo_min_freq")
}

// GetMaxFreqLimit returns cpuinfo_max_freq (the hardware ceiling) in Hz.
func (s *CpuFreqSysfs) GetMaxFreqLimit(cpu int) (uint64, error) {
	return s.freqKHz(cpuDir(cpu) + "/cpuinfo_max_freq")
}

// GetAvailableFrequencies returns scaling_available_frequencies, in
// Hz, for drivers that publish a discrete list (acpi-cpufreq and
// similar; intel_pstate/passive usually does not).
func (s *CpuFreqSysfs) GetAvailableFrequencies(cpu int) ([]uint64, error) {
	raw, err := s.io.Read(cpuDir(cpu) + "/scaling_available_frequencies")
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(raw)
	out := make([]uint64, 0, len(fields))
	for _, f := range fields {
		khz, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, pepcerr.New(pepcerr.KindBadValue, "bad frequency %q in scaling_available_frequencies", f)
		}
		out = append(out, hzFromKHz(khz))
	}
	return out, nil
}

// GetBaseFreq returns the base frequency: the intel_pstate
// "base_frequency" attribute if present, else the "bios_limit"
// fallback.
func (s *CpuFreqSysfs) GetBaseFreq(cpu int) (uint64, error) {
	if hz, err := s.freqKHz(cpuDir(cpu) + "/base_frequency"); err == nil {
		return hz, nil
	}
	return s.freqKHz(cpuDir(cpu) + "/bios_limit")
}

// GetDriver returns scaling_driver, normalizing "intel_cpufreq" (the
// name intel_pstate uses in passive mode) to "intel_pstate" so callers
// don't need to know about the alias.
func (s *CpuFreqSysfs) GetDriver(cpu int) (Driver, error) {
	raw, err := s.io.Read(cpuDir(cpu) + "/scaling_driver")
	if err != nil {
		return "", err
	}
	switch raw {
	case "intel_pstate", "intel_cpufreq":
		return DriverIntelPstate, nil
	case "acpi-cpufreq":
		return DriverAcpiCpufreq, nil
	default:
		return DriverOther, nil
	}
}

// GetIntelPstateMode returns intel_pstate/status.
func (s *CpuFreqSysfs) GetIntelPstateMode() (PstateMode, error) {
	raw, err := s.io.Read("/sys/devices/system/cpu/intel_pstate/status")
	if err != nil {
		return "", err
	}
	return PstateMode(raw), nil
}

// SetIntelPstateMode writes intel_pstate/status.
func (s *CpuFreqSysfs) SetIntelPstateMode(mode PstateMode) error {
	return s.io.Write("/sys/devices/system/cpu/intel_pstate/status", string(mode))
}

// GetTurbo reports whether turbo/boost is enabled. The control node
// differs by driver: intel_pstate inverts the sense (no_turbo=1 means
// turbo disabled), acpi-cpufreq/cpufreq core expose a direct boost
// flag.
func (s *CpuFreqSysfs) GetTurbo(driver Driver) (bool, error) {
	if driver == DriverIntelPstate {
		v, err := s.io.ReadInt("/sys/devices/system/cpu/intel_pstate/no_turbo")
		if err != nil {
			return false, err
		}
		return v == 0, nil
	}
	v, err := s.io.ReadInt("/sys/devices/system/cpu/cpufreq/boost")
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// SetTurbo enables or disables turbo/boost, at the node the driver
// uses.
func (s *CpuFreqSysfs) SetTurbo(driver Driver, enabled bool) error {
	if driver == DriverIntelPstate {
		v := int64(1)
		if enabled {
			v = 0
		}
		return s.io.WriteInt("/sys/devices/system/cpu/intel_pstate/no_turbo", v)
	}
	v := int64(0)
	if enabled {
		v = 1
	}
	return s.io.WriteInt("/sys/devices/system/cpu/cpufreq/boost", v)
}

// GetGovernor returns scaling_governor for cpu.
func (s *CpuFreqSysfs) GetGovernor(cpu int) (string, error) {
	return s.io.Read(cpuDir(cpu) + "/scaling_governor")
}

// GetAvailableGovernors returns scaling_available_governors for cpu.
func (s *CpuFreqSysfs) GetAvailableGovernors(cpu int) ([]string, error) {
	raw, err := s.io.Read(cpuDir(cpu) + "/scaling_available_governors")
	if err != nil {
		return nil, err
	}
	return strings.Fields(raw), nil
}

// SetGovernor writes scaling_governor, verifying the kernel accepted
// it (some governors silently fall back when unsupported in a given
// driver mode).
func (s *CpuFreqSysfs) SetGovernor(cpu int, governor string) error {
	path := cpuDir(cpu) + "/scaling_governor"
	if err := s.io.Write(path, governor); err != nil {
		return err
	}
	actual, err := s.io.Read(path)
	if err != nil {
		return err
	}
	if actual != governor {
		return pepcerr.NewVerifyFailed(cpu, 0, 0,
			"CPU %d: requested governor %q, kernel kept %q", cpu, governor, actual)
	}
	return nil
}

// GetEPP returns energy_performance_preference for cpu.
func (s *CpuFreqSysfs) GetEPP(cpu int) (string, error) {
	return s.io.Read(fmt.Sprintf("/sys/devices/system/cpu/cpu%d/cpufreq/energy_performance_preference", cpu))
}

// SetEPP writes energy_performance_preference and reads it back once,
// returning VerifyFailed (with the path attached) if the kernel kept a
// different value, which it does silently under the performance
// governor. There is no retry.
func (s *CpuFreqSysfs) SetEPP(cpu int, val string) error {
	path := fmt.Sprintf("/sys/devices/system/cpu/cpu%d/cpufreq/energy_performance_preference", cpu)
	if err := s.io.Write(path, val); err != nil {
		return err
	}
	actual, err := s.io.Read(path)
	if err != nil {
		return err
	}
	if actual != val {
		vf := pepcerr.NewVerifyFailed(cpu, 0, 0,
			"CPU %d: requested EPP %q, kernel kept %q", cpu, val, actual)
		vf.Path = path
		return vf
	}
	return nil
}

// GetAvailableEPPs returns energy_performance_available_preferences.
func (s *CpuFreqSysfs) GetAvailableEPPs(cpu int) ([]string, error) {
	raw, err := s.io.Read(fmt.Sprintf("/sys/devices/system/cpu/cpu%d/cpufreq/energy_performance_available_preferences", cpu))
	if err != nil {
		return nil, err
	}
	return strings.Fields(raw), nil
}

// GetEPB returns power/energy_perf_bias for cpu, 0-15.
func (s *CpuFreqSysfs) GetEPB(cpu int) (int64, error) {
	return s.io.ReadInt(fmt.Sprintf("/sys/devices/system/cpu/cpu%d/power/energy_perf_bias", cpu))
}

// SetEPB writes power/energy_perf_bias.
func (s *CpuFreqSysfs) SetEPB(cpu int, val int64) error {
	return s.io.WriteInt(fmt.Sprintf("/sys/devices/system/cpu/cpu%d/power/energy_perf_bias", cpu), val)
}

// GetPMQoSResumeLatencyUs returns power/pm_qos_resume_latency_us.
func (s *CpuFreqSysfs) GetPMQoSResumeLatencyUs(cpu int) (string, error) {
	return s.io.Read(fmt.Sprintf("/sys/devices/system/cpu/cpu%d/power/pm_qos_resume_latency_us", cpu))
}

// SetPMQoSResumeLatencyUs writes power/pm_qos_resume_latency_us
// ("n/a" means "no constraint").
func (s *CpuFreqSysfs) SetPMQoSResumeLatencyUs(cpu int, val string) error {
	return s.io.Write(fmt.Sprintf("/sys/devices/system/cpu/cpu%d/power/pm_qos_resume_latency_us", cpu), val)
}

// UncoreFreqPath builds the intel_uncore_frequency sysfs path for the
// given package/die and attribute ("min", "max", "initial_min",
// "initial_max"); the "_freq_khz" suffix of the node name is appended
// here.
func UncoreFreqPath(pkg, die int, attr string) string {
	return fmt.Sprintf("/sys/devices/system/cpu/intel_uncore_frequency/package_%02d_die_%02d/%s_freq_khz", pkg, die, attr)
}

// GetUncoreFreq reads an intel_uncore_frequency node, in Hz.
func (s *CpuFreqSysfs) GetUncoreFreq(pkg, die int, attr string) (uint64, error) {
	return s.freqKHz(UncoreFreqPath(pkg, die, attr))
}

// SetUncoreFreq writes an intel_uncore_frequency node (min_freq or
// max_freq only; the initial_* nodes are read-only), with a verify
// retry since the uncore driver can reject an out-of-range value by
// silently clamping instead of erroring.
func (s *CpuFreqSysfs) SetUncoreFreq(pkg, die int, attr string, hz uint64) error {
	path := UncoreFreqPath(pkg, die, attr)
	return s.io.WriteVerifyInt(path, khzFromHz(hz), 3, 20*time.Millisecond)
}

// hybridEcoreBugAdvisoryLogged tracks whether the pre-6.5 hybrid
// E-core sysfs-frequency advisory has already fired once per process,
// matching the source's one-time-warning behavior.
var hybridEcoreBugAdvisoryLogged bool

// HybridEcoreBugAdvisory reports the one-line warning text for the
// documented pre-6.5-kernel bug where sysfs reports wrong frequencies
// on a hybrid system with every E-core offline, or "" if the advisory
// does not apply or has already fired once.
func HybridEcoreBugAdvisory(hybrid, hasPCoreECoreSplitVisible, anyOffline bool, kernelMajor, kernelMinor int) string {
	if !hybrid || hasPCoreECoreSplitVisible || anyOffline {
		return ""
	}
	if kernelMajor > 6 || (kernelMajor == 6 && kernelMinor >= 5) {
		return ""
	}
	if hybridEcoreBugAdvisoryLogged {
		return ""
	}
	hybridEcoreBugAdvisoryLogged = true
	return "this hybrid system has every E-core offline on a kernel older than 6.5; " +
		"cpufreq sysfs frequency values may be wrong until an E-core is brought back online"
}
