// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package pstates

import (
	"pepc/internal/cpufreq"
	"pepc/internal/pepcerr"
)

// setOne writes val for cpus via mechanism m.
func (p *PStates) setOne(name string, m Mechanism, val any, cpus []int) error {
	switch name {
	case "min_freq":
		return p.setFreq(m, cpus, val, p.sysfs.SetMinFreq, p.msr.SetMinFreq)
	case "max_freq":
		return p.setFreq(m, cpus, val, p.sysfs.SetMaxFreq, p.msr.SetMaxFreq)
	case "governor":
		return p.setString(m, cpus, val, p.sysfs.SetGovernor)
	case "intel_pstate_mode":
		if m != MechanismSysfs {
			return pepcerr.NotSupported
		}
		mode := asPstateMode(val)
		if mode == cpufreq.PstateModeOff && p.msr != nil {
			if hwp, err := p.msr.IsHWPEnabled(cpus[0]); err == nil && hwp {
				return pepcerr.New(pepcerr.KindNotSupported,
					"cannot set intel_pstate mode to %q while hardware P-states (HWP) are enabled", mode)
			}
		}
		return p.sysfs.SetIntelPstateMode(mode)
	case "turbo":
		if m != MechanismSysfs {
			return pepcerr.NotSupported
		}
		driver, err := p.sysfs.GetDriver(cpus[0])
		if err != nil {
			return err
		}
		return p.sysfs.SetTurbo(driver, asBool(val))
	case "epp":
		return p.setEPP(m, cpus, val)
	case "epb":
		if m != MechanismSysfs {
			return pepcerr.NotSupported
		}
		return p.setEachCPU(cpus, func(cpu int) error { return p.sysfs.SetEPB(cpu, asInt64(val)) })
	case "uncore_min_freq":
		return p.setUncoreFreq(cpus, "min", val)
	case "uncore_max_freq":
		return p.setUncoreFreq(cpus, "max", val)
	default:
		return pepcerr.New(pepcerr.KindPermissionDenied, "property %q is read-only or unknown", name)
	}
}

func (p *PStates) setEachCPU(cpus []int, fn func(int) error) error {
	for _, cpu := range cpus {
		if err := fn(cpu); err != nil {
			return err
		}
	}
	return nil
}

func (p *PStates) setFreq(m Mechanism, cpus []int, val any,
	sysfsFn func(int, uint64) error, msrFn func(uint64, []int) error,
) error {
	hz := asUint64(val)
	switch m {
	case MechanismSysfs:
		if sysfsFn == nil {
			return pepcerr.NotSupported
		}
		return p.setEachCPU(cpus, func(cpu int) error { return sysfsFn(cpu, hz) })
	case MechanismMSR:
		if msrFn == nil || p.msr == nil {
			return pepcerr.NotSupported
		}
		return msrFn(hz, cpus)
	default:
		return pepcerr.NotSupported
	}
}

func (p *PStates) setString(m Mechanism, cpus []int, val any, sysfsFn func(int, string) error) error {
	if m != MechanismSysfs {
		return pepcerr.NotSupported
	}
	s := asString(val)
	return p.setEachCPU(cpus, func(cpu int) error { return sysfsFn(cpu, s) })
}

func (p *PStates) setEPP(m Mechanism, cpus []int, val any) error {
	switch m {
	case MechanismSysfs:
		s := asString(val)
		return p.setEachCPU(cpus, func(cpu int) error { return p.sysfs.SetEPP(cpu, s) })
	case MechanismMSR:
		if p.msr == nil {
			return pepcerr.NotSupported
		}
		i := asInt64(val)
		return p.setEachCPU(cpus, func(cpu int) error { return p.msr.SetEPP(cpu, i) })
	default:
		return pepcerr.NotSupported
	}
}

func (p *PStates) setUncoreFreq(cpus []int, attr string, val any) error {
	hz := asUint64(val)
	seen := make(map[[2]int]bool)
	for _, cpu := range cpus {
		pkg, err := p.ci.CPUPackage(cpu)
		if err != nil {
			return err
		}
		die, err := p.ci.CPUDie(cpu)
		if err != nil {
			return err
		}
		key := [2]int{pkg, die}
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := p.sysfs.SetUncoreFreq(pkg, die, attr, hz); err != nil {
			return err
		}
	}
	return nil
}

func asUint64(v any) uint64 {
	switch x := v.(type) {
	case uint64:
		return x
	case int64:
		return uint64(x)
	case int:
		return uint64(x)
	default:
		return 0
	}
}

func asInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case uint64:
		return int64(x)
	default:
		return 0
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asPstateMode(v any) cpufreq.PstateMode {
	return cpufreq.PstateMode(asString(v))
}
