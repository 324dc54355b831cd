// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

/*
Package pstates is the property-to-mechanism orchestrator: callers ask
for a named property ("min_freq", "epp", "governor", ...) across a set
of CPUs, and PStates resolves it against the mechanisms that can serve
it (sysfs, msr, cppc), falling through on NotSupported the way the
underlying hardware capabilities dictate. It owns no hardware state of
its own; CpuFreqSysfs, HwpMsr, and CppcSysfs do the actual I/O.
*/
package pstates

import (
	"pepc/internal/cpufreq"
	"pepc/internal/cpuinfo"
	"pepc/internal/pepcerr"
)

// Mechanism identifies which underlying engine can serve a property.
type Mechanism string

const (
	MechanismSysfs Mechanism = "sysfs"
	MechanismMSR   Mechanism = "msr"
	MechanismCPPC  Mechanism = "cppc"
	MechanismDoc   Mechanism = "doc"
)

// Property is one entry in the declarative property dictionary: what
// it is, its unit, the scope its value is defined at, which
// mechanisms can serve it and in what preference order, and whether
// it can be written.
type Property struct {
	Name        string
	Unit        string
	SName       cpuinfo.Scope
	Mnames      []Mechanism
	Writable    bool
	SpecialVals map[string]string
	SubProps    []string
}

// PropertyValue pairs a CPU with a resolved value plus the mechanism
// that actually served it, so callers (and error enrichment) can
// explain which path was used. CPU is -1 for a package/global-scope
// property that has no single owning CPU (e.g. "turbo").
type PropertyValue struct {
	CPU       int
	Value     any
	Mechanism Mechanism
}

// properties is the static dictionary every PStates instance shares;
// construction only computes per-platform applicability, not the
// table's shape.
var properties = map[string]Property{
	"min_freq":     {Name: "min_freq", Unit: "Hz", SName: cpuinfo.ScopeCPU, Mnames: []Mechanism{MechanismSysfs, MechanismMSR}, Writable: true},
	"max_freq":     {Name: "max_freq", Unit: "Hz", SName: cpuinfo.ScopeCPU, Mnames: []Mechanism{MechanismSysfs, MechanismMSR}, Writable: true},
	"base_freq":    {Name: "base_freq", Unit: "Hz", SName: cpuinfo.ScopeCPU, Mnames: []Mechanism{MechanismSysfs, MechanismCPPC, MechanismMSR}, Writable: false},
	"min_oper_freq": {Name: "min_oper_freq", Unit: "Hz", SName: cpuinfo.ScopeCPU, Mnames: []Mechanism{MechanismMSR}, Writable: false},
	"max_eff_freq":  {Name: "max_eff_freq", Unit: "Hz", SName: cpuinfo.ScopeCPU, Mnames: []Mechanism{MechanismMSR}, Writable: false},
	"max_turbo_freq": {Name: "max_turbo_freq", Unit: "Hz", SName: cpuinfo.ScopeCPU, Mnames: []Mechanism{MechanismMSR}, Writable: false},
	"min_freq_limit": {Name: "min_freq_limit", Unit: "Hz", SName: cpuinfo.ScopeCPU, Mnames: []Mechanism{MechanismSysfs}, Writable: false},
	"max_freq_limit": {Name: "max_freq_limit", Unit: "Hz", SName: cpuinfo.ScopeCPU, Mnames: []Mechanism{MechanismSysfs}, Writable: false},
	"frequencies":  {Name: "frequencies", Unit: "Hz", SName: cpuinfo.ScopeCPU, Mnames: []Mechanism{MechanismSysfs}, Writable: false},
	"governor":     {Name: "governor", Unit: "", SName: cpuinfo.ScopeCPU, Mnames: []Mechanism{MechanismSysfs}, Writable: true},
	"governors":    {Name: "governors", Unit: "", SName: cpuinfo.ScopeCPU, Mnames: []Mechanism{MechanismSysfs}, Writable: false},
	"driver":       {Name: "driver", Unit: "", SName: cpuinfo.ScopeCPU, Mnames: []Mechanism{MechanismSysfs}, Writable: false},
	"intel_pstate_mode": {Name: "intel_pstate_mode", Unit: "", SName: cpuinfo.ScopePackage, Mnames: []Mechanism{MechanismSysfs}, Writable: true, SpecialVals: map[string]string{"off": "disables hardware P-state management entirely"}},
	"turbo":        {Name: "turbo", Unit: "on/off", SName: cpuinfo.ScopePackage, Mnames: []Mechanism{MechanismSysfs}, Writable: true},
	"epp":          {Name: "epp", Unit: "", SName: cpuinfo.ScopeCPU, Mnames: []Mechanism{MechanismSysfs, MechanismMSR}, Writable: true, SubProps: []string{"epp_policy", "epp_policies"}},
	"epb":          {Name: "epb", Unit: "", SName: cpuinfo.ScopeCPU, Mnames: []Mechanism{MechanismSysfs, MechanismMSR}, Writable: true},
	"uncore_min_freq": {Name: "uncore_min_freq", Unit: "Hz", SName: cpuinfo.ScopeDie, Mnames: []Mechanism{MechanismSysfs}, Writable: true},
	"uncore_max_freq": {Name: "uncore_max_freq", Unit: "Hz", SName: cpuinfo.ScopeDie, Mnames: []Mechanism{MechanismSysfs}, Writable: true},
}

// LookupProperty looks up the static dictionary entry for name.
func LookupProperty(name string) (Property, bool) {
	p, ok := properties[name]
	return p, ok
}

// PropertyNames returns every known property name, for help text and
// validation.
func PropertyNames() []string {
	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	return names
}

// PStates resolves named properties against whichever mechanism is
// available on the current platform, in each property's declared
// preference order.
type PStates struct {
	sysfs *cpufreq.CpuFreqSysfs
	msr   *cpufreq.HwpMsr
	cppc  *cpufreq.CppcSysfs
	ci    cpuinfo.CpuInfo
}

// New builds a PStates orchestrator. msr or cppc may be nil on a
// platform that lacks HWP or CPPC respectively; sysfs is required,
// since most property dictionary entries list it, and for most of
// those it is the only mechanism.
func New(sysfs *cpufreq.CpuFreqSysfs, msr *cpufreq.HwpMsr, cppc *cpufreq.CppcSysfs, ci cpuinfo.CpuInfo) *PStates {
	return &PStates{sysfs: sysfs, msr: msr, cppc: cppc, ci: ci}
}

// tryMechanisms walks mnames in order, calling fn for each; it returns
// the first successful result, skipping mechanisms that report
// NotSupported or TryAnotherMechanism and that are unavailable
// (nil engine) on this platform.
func (p *PStates) tryMechanisms(mnames []Mechanism, fn func(Mechanism) ([]PropertyValue, error)) ([]PropertyValue, error) {
	var lastErr error
	for _, m := range mnames {
		if m == MechanismMSR && p.msr == nil {
			continue
		}
		if m == MechanismCPPC && p.cppc == nil {
			continue
		}
		vs, err := fn(m)
		if err == nil {
			return vs, nil
		}
		if pepcerr.Is(err, pepcerr.KindNotSupported) || pepcerr.Is(err, pepcerr.KindTryAnotherMechanism) {
			lastErr = err
			continue
		}
		return nil, err
	}
	if lastErr == nil {
		lastErr = pepcerr.New(pepcerr.KindNotSupported, "no available mechanism could serve this property")
	}
	return nil, lastErr
}

// GetPropCPUs resolves name for every CPU in cpus, trying mechanisms
// in the property's declared order (or mnamesPreference, if non-empty,
// which reorders but does not add to the declared set).
func (p *PStates) GetPropCPUs(name string, cpus []int, mnamesPreference []Mechanism) ([]PropertyValue, error) {
	prop, ok := properties[name]
	if !ok {
		return nil, pepcerr.New(pepcerr.KindBadValue, "unknown property %q", name)
	}
	order := prop.Mnames
	if len(mnamesPreference) > 0 {
		order = reorder(prop.Mnames, mnamesPreference)
	}
	return p.tryMechanisms(order, func(m Mechanism) ([]PropertyValue, error) {
		return p.getOne(name, m, cpus)
	})
}

// reorder returns declared filtered to the mechanisms named in
// preference, in preference's order, followed by any remaining
// declared mechanisms preference didn't mention.
func reorder(declared, preference []Mechanism) []Mechanism {
	declaredSet := make(map[Mechanism]bool, len(declared))
	for _, m := range declared {
		declaredSet[m] = true
	}
	seen := make(map[Mechanism]bool, len(preference))
	out := make([]Mechanism, 0, len(declared))
	for _, m := range preference {
		if declaredSet[m] && !seen[m] {
			out = append(out, m)
			seen[m] = true
		}
	}
	for _, m := range declared {
		if !seen[m] {
			out = append(out, m)
			seen[m] = true
		}
	}
	return out
}

// SetPropCPUs writes val for every CPU in cpus, via the first
// mechanism in the property's declared order that accepts the write.
func (p *PStates) SetPropCPUs(name string, val any, cpus []int) error {
	prop, ok := properties[name]
	if !ok {
		return pepcerr.New(pepcerr.KindBadValue, "unknown property %q", name)
	}
	if !prop.Writable {
		return pepcerr.New(pepcerr.KindPermissionDenied, "property %q is read-only", name)
	}
	_, err := p.tryMechanisms(prop.Mnames, func(m Mechanism) ([]PropertyValue, error) {
		if serr := p.setOne(name, m, val, cpus); serr != nil {
			return nil, serr
		}
		return []PropertyValue{}, nil
	})
	if err != nil {
		return p.enrich(name, val, cpus, err)
	}
	return nil
}
