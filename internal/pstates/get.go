// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package pstates

import (
	"pepc/internal/cpufreq"
	"pepc/internal/pepcerr"
)

// getOne resolves name for cpus through mechanism m, tagging each
// result with the mechanism that served it.
func (p *PStates) getOne(name string, m Mechanism, cpus []int) ([]PropertyValue, error) {
	switch name {
	case "min_freq":
		return p.getFreq(m, cpus, cpuGetter(p.sysfs.GetMinFreq), wrapCPUValues(p.msr.GetMinFreq), nil)
	case "max_freq":
		return p.getFreq(m, cpus, cpuGetter(p.sysfs.GetMaxFreq), wrapCPUValues(p.msr.GetMaxFreq), nil)
	case "base_freq":
		return p.getFreq(m, cpus, cpuGetter(p.sysfs.GetBaseFreq), wrapCPUValues(p.msr.GetBaseFreq), p.cppc.GetNominalFreq)
	case "min_oper_freq":
		return p.getFreq(m, cpus, nil, wrapCPUValues(p.msr.GetMinOperFreq), nil)
	case "max_eff_freq":
		return p.getFreq(m, cpus, nil, wrapCPUValues(p.msr.GetMaxEffFreq), nil)
	case "max_turbo_freq":
		return p.getFreq(m, cpus, nil, wrapCPUValues(p.msr.GetMaxTurboFreq), nil)
	case "min_freq_limit":
		return p.getFreq(m, cpus, cpuGetter(p.sysfs.GetMinFreqLimit), nil, nil)
	case "max_freq_limit":
		return p.getFreq(m, cpus, cpuGetter(p.sysfs.GetMaxFreqLimit), nil, nil)
	case "governor":
		return p.getString(m, cpus, p.sysfs.GetGovernor)
	case "governors":
		return p.getStringList(m, cpus, p.sysfs.GetAvailableGovernors)
	case "driver":
		out := make([]PropertyValue, 0, len(cpus))
		for _, cpu := range cpus {
			d, err := p.sysfs.GetDriver(cpu)
			if err != nil {
				return nil, err
			}
			out = append(out, PropertyValue{CPU: cpu, Value: string(d), Mechanism: MechanismSysfs})
		}
		return out, nil
	case "frequencies":
		return p.getFreqList(m, cpus, p.sysfs.GetAvailableFrequencies)
	case "intel_pstate_mode":
		mode, err := p.sysfs.GetIntelPstateMode()
		if err != nil {
			return nil, err
		}
		return globalValue(string(mode), MechanismSysfs), nil
	case "turbo":
		driver, err := p.sysfs.GetDriver(cpus[0])
		if err != nil {
			return nil, err
		}
		on, err := p.sysfs.GetTurbo(driver)
		if err != nil {
			return nil, err
		}
		return globalValue(on, MechanismSysfs), nil
	case "epp":
		return p.getEPP(m, cpus)
	case "epb":
		return p.getEPB(m, cpus)
	case "uncore_min_freq":
		return p.getUncoreFreq(cpus, "min")
	case "uncore_max_freq":
		return p.getUncoreFreq(cpus, "max")
	default:
		return nil, pepcerr.New(pepcerr.KindNotSupported, "property %q has no mechanism %q", name, m)
	}
}

func globalValue(v any, m Mechanism) []PropertyValue {
	return []PropertyValue{{CPU: -1, Value: v, Mechanism: m}}
}

func cpuGetter(f func(int) (uint64, error)) func([]int) ([]PropertyValue, error) {
	return func(cpus []int) ([]PropertyValue, error) {
		out := make([]PropertyValue, 0, len(cpus))
		for _, cpu := range cpus {
			v, err := f(cpu)
			if err != nil {
				return nil, err
			}
			out = append(out, PropertyValue{CPU: cpu, Value: v})
		}
		return out, nil
	}
}

func wrapCPUValues(f func([]int) ([]cpufreq.CPUValue, error)) func([]int) ([]PropertyValue, error) {
	return func(cpus []int) ([]PropertyValue, error) {
		vs, err := f(cpus)
		if err != nil {
			return nil, err
		}
		out := make([]PropertyValue, len(vs))
		for i, v := range vs {
			out[i] = PropertyValue{CPU: v.CPU, Value: v.Hz}
		}
		return out, nil
	}
}

// getFreq dispatches to whichever of sysfsFn/msrFn/cppcPerCPU is
// non-nil for the requested mechanism m, tagging the mechanism on the
// returned values.
func (p *PStates) getFreq(m Mechanism, cpus []int,
	sysfsFn func([]int) ([]PropertyValue, error),
	msrFn func([]int) ([]PropertyValue, error),
	cppcFn func(int) (uint64, error),
) ([]PropertyValue, error) {
	var vs []PropertyValue
	var err error
	switch m {
	case MechanismSysfs:
		if sysfsFn == nil {
			return nil, pepcerr.NotSupported
		}
		vs, err = sysfsFn(cpus)
	case MechanismMSR:
		if msrFn == nil {
			return nil, pepcerr.NotSupported
		}
		vs, err = msrFn(cpus)
	case MechanismCPPC:
		if cppcFn == nil {
			return nil, pepcerr.NotSupported
		}
		vs, err = cpuGetter(cppcFn)(cpus)
	default:
		return nil, pepcerr.NotSupported
	}
	if err != nil {
		return nil, err
	}
	for i := range vs {
		vs[i].Mechanism = m
	}
	return vs, nil
}

func (p *PStates) getFreqList(m Mechanism, cpus []int, sysfsFn func(int) ([]uint64, error)) ([]PropertyValue, error) {
	if m != MechanismSysfs {
		return nil, pepcerr.NotSupported
	}
	out := make([]PropertyValue, 0, len(cpus))
	for _, cpu := range cpus {
		v, err := sysfsFn(cpu)
		if err != nil {
			return nil, err
		}
		out = append(out, PropertyValue{CPU: cpu, Value: v, Mechanism: m})
	}
	return out, nil
}

func (p *PStates) getString(m Mechanism, cpus []int, sysfsFn func(int) (string, error)) ([]PropertyValue, error) {
	if m != MechanismSysfs {
		return nil, pepcerr.NotSupported
	}
	out := make([]PropertyValue, 0, len(cpus))
	for _, cpu := range cpus {
		v, err := sysfsFn(cpu)
		if err != nil {
			return nil, err
		}
		out = append(out, PropertyValue{CPU: cpu, Value: v, Mechanism: m})
	}
	return out, nil
}

func (p *PStates) getStringList(m Mechanism, cpus []int, sysfsFn func(int) ([]string, error)) ([]PropertyValue, error) {
	if m != MechanismSysfs {
		return nil, pepcerr.NotSupported
	}
	out := make([]PropertyValue, 0, len(cpus))
	for _, cpu := range cpus {
		v, err := sysfsFn(cpu)
		if err != nil {
			return nil, err
		}
		out = append(out, PropertyValue{CPU: cpu, Value: v, Mechanism: m})
	}
	return out, nil
}

func (p *PStates) getEPP(m Mechanism, cpus []int) ([]PropertyValue, error) {
	switch m {
	case MechanismSysfs:
		return p.getString(m, cpus, p.sysfs.GetEPP)
	case MechanismMSR:
		if p.msr == nil {
			return nil, pepcerr.NotSupported
		}
		out := make([]PropertyValue, 0, len(cpus))
		for _, cpu := range cpus {
			v, err := p.msr.GetEPP(cpu)
			if err != nil {
				return nil, err
			}
			out = append(out, PropertyValue{CPU: cpu, Value: v, Mechanism: m})
		}
		return out, nil
	default:
		return nil, pepcerr.NotSupported
	}
}

func (p *PStates) getEPB(m Mechanism, cpus []int) ([]PropertyValue, error) {
	if m != MechanismSysfs {
		return nil, pepcerr.NotSupported
	}
	out := make([]PropertyValue, 0, len(cpus))
	for _, cpu := range cpus {
		v, err := p.sysfs.GetEPB(cpu)
		if err != nil {
			return nil, err
		}
		out = append(out, PropertyValue{CPU: cpu, Value: v, Mechanism: m})
	}
	return out, nil
}

func (p *PStates) getUncoreFreq(cpus []int, attr string) ([]PropertyValue, error) {
	out := make([]PropertyValue, 0, len(cpus))
	for _, cpu := range cpus {
		pkg, err := p.ci.CPUPackage(cpu)
		if err != nil {
			return nil, err
		}
		die, err := p.ci.CPUDie(cpu)
		if err != nil {
			return nil, err
		}
		v, err := p.sysfs.GetUncoreFreq(pkg, die, attr)
		if err != nil {
			return nil, err
		}
		out = append(out, PropertyValue{CPU: cpu, Value: v, Mechanism: MechanismSysfs})
	}
	return out, nil
}
