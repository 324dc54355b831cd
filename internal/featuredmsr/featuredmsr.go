// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

/*
Package featuredmsr turns declarative per-register feature tables into
a uniform get/set API over internal/msr: bit-field extraction,
enumerated-value translation, supported-CPU masks, and per-platform
read/write hooks for registers whose value spans more than one field.
*/
package featuredmsr

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"pepc/internal/cpuinfo"
	"pepc/internal/msr"
	"pepc/internal/pepcerr"
)

// FeatureType is the declared value type of a feature.
type FeatureType int

const (
	TypeInt FeatureType = iota
	TypeFloat
	TypeBool
	TypeStr
)

// Value is a feature's runtime value: int64, float64, bool, or string
// depending on the feature's declared Type.
type Value any

// CPUValue pairs a CPU with a feature Value read from or written to it.
type CPUValue struct {
	CPU   int
	Value Value
}

// Descriptor is the immutable, static part of a feature: everything
// known at compile time, before any per-instance "supported" mask is
// computed.
type Descriptor struct {
	Name     string
	Help     string
	Type     FeatureType
	Bits     msr.Bits
	Vals     map[string]uint64 // user symbol -> raw bits, empty if not enumerated
	Writable bool
	CPUFlags []string
	VFMs     []cpuinfo.VFM // empty means "no VFM restriction"
	SName    cpuinfo.Scope
	IOSName  cpuinfo.Scope
}

// feature is a Descriptor plus the per-instance computed tables: the
// inverse of Vals, a case-folded lookup table, and the supported mask.
type feature struct {
	Descriptor
	rvals      map[uint64]string
	valsNocase map[string]uint64
	supported  map[int]bool
}

// ReadHook overrides the default single-bit-field read for a feature
// whose value must be computed from more than one register (e.g. RAPL
// energy units, which differ on Silvermont).
type ReadHook func(fm *FeaturedMsr, cpus []int) ([]CPUValue, error)

// WriteHook overrides the default single-bit-field write.
type WriteHook func(fm *FeaturedMsr, val Value, cpus []int) error

// FeaturedMsr is one MSR's feature table (e.g. MSR_HWP_REQUEST,
// MSR_PLATFORM_INFO) bound to an MsrEngine and a CpuInfo. Each
// instance owns a deep copy of its feature table so per-instance
// "supported" masks never leak across instances sharing a Descriptor
// set.
type FeaturedMsr struct {
	RegName string
	RegAddr uint32

	msrEngine *msr.MsrEngine
	cpuinfo   cpuinfo.CpuInfo
	features  map[string]*feature
	readHook  map[string]ReadHook
	writeHook map[string]WriteHook
}

var caseFold = cases.Fold()

// New builds a FeaturedMsr for regName/regAddr from descriptors,
// computing the per-CPU supported mask for each one against ci. On a
// Cascade Lake-AP system (more than one die per package despite a
// Skylake-X VFM), every descriptor whose functional scope is
// cpuinfo.ScopePackage is remapped to cpuinfo.ScopeDie: CLX-AP's
// per-die hardware (RAPL, package C-state limit, HWP_REQUEST_PKG)
// actually lives below the package, one instance per die.
func New(regName string, regAddr uint32, descriptors []Descriptor, me *msr.MsrEngine, ci cpuinfo.CpuInfo) (*FeaturedMsr, error) {
	fm := &FeaturedMsr{
		RegName:   regName,
		RegAddr:   regAddr,
		msrEngine: me,
		cpuinfo:   ci,
		features:  make(map[string]*feature, len(descriptors)),
		readHook:  make(map[string]ReadHook),
		writeHook: make(map[string]WriteHook),
	}

	remapPkgToDie := false
	if topo, ok := ci.(*cpuinfo.Topology); ok {
		remapPkgToDie = cpuinfo.IsCascadeLakeAP(topo)
	}

	for _, d := range descriptors {
		if err := d.Bits.Validate(); err != nil {
			return nil, err
		}
		if remapPkgToDie {
			if d.SName == cpuinfo.ScopePackage {
				d.SName = cpuinfo.ScopeDie
			}
			if d.IOSName == cpuinfo.ScopePackage {
				d.IOSName = cpuinfo.ScopeDie
			}
		}
		f := &feature{Descriptor: d, rvals: make(map[uint64]string), valsNocase: make(map[string]uint64)}
		for sym, raw := range d.Vals {
			if !msr.FitsWidth(raw, d.Bits) {
				return nil, pepcerr.New(pepcerr.KindBadValue,
					"feature %q: value %q (%#x) does not fit in %d-bit field", d.Name, sym, raw, d.Bits.Width())
			}
			f.rvals[raw] = sym
			f.valsNocase[caseFold.String(sym)] = raw
		}
		supported, err := computeSupported(d, ci)
		if err != nil {
			return nil, err
		}
		f.supported = supported
		fm.features[d.Name] = f
	}
	return fm, nil
}

// SetReadHook installs a platform read hook for fname.
func (fm *FeaturedMsr) SetReadHook(fname string, hook ReadHook) { fm.readHook[fname] = hook }

// SetWriteHook installs a platform write hook for fname.
func (fm *FeaturedMsr) SetWriteHook(fname string, hook WriteHook) { fm.writeHook[fname] = hook }

func computeSupported(d Descriptor, ci cpuinfo.CpuInfo) (map[int]bool, error) {
	out := make(map[int]bool, len(ci.CPUs()))
	for _, cpu := range ci.CPUs() {
		ok := true
		if len(d.VFMs) > 0 {
			ok = false
			for _, want := range d.VFMs {
				if want == ci.VFM() {
					ok = true
					break
				}
			}
		}
		if ok && len(d.CPUFlags) > 0 {
			flags, err := ci.CPUFlags(cpu)
			if err != nil {
				return nil, err
			}
			for _, want := range d.CPUFlags {
				if !flags.Contains(want) {
					ok = false
					break
				}
			}
		}
		out[cpu] = ok
	}
	return out, nil
}

func (fm *FeaturedMsr) checkFname(fname string) (*feature, error) {
	f, ok := fm.features[fname]
	if !ok {
		return nil, pepcerr.New(pepcerr.KindBadValue, "unknown feature %q, known features are: %s",
			fname, strings.Join(fm.featureNames(), ", "))
	}
	return f, nil
}

func (fm *FeaturedMsr) featureNames() []string {
	names := make([]string, 0, len(fm.features))
	for name := range fm.features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MsrBitsStr renders e.g. "MSR_PLATFORM_INFO 0xce bits 55:48".
func (fm *FeaturedMsr) MsrBitsStr(fname string) (string, error) {
	f, err := fm.checkFname(fname)
	if err != nil {
		return "", err
	}
	if f.Bits.Msb == f.Bits.Lsb {
		return fmt.Sprintf("%s %#x bit %d", fm.RegName, fm.RegAddr, f.Bits.Lsb), nil
	}
	return fmt.Sprintf("%s %#x bits %d:%d", fm.RegName, fm.RegAddr, f.Bits.Msb, f.Bits.Lsb), nil
}

// ValidateFeatureSupported raises NotSupported, with a human CPU-range
// message, if any CPU in cpus lacks support for fname.
func (fm *FeaturedMsr) ValidateFeatureSupported(fname string, cpus []int) error {
	f, err := fm.checkFname(fname)
	if err != nil {
		return err
	}
	var supportedCPUs, unsupportedCPUs []int
	for _, cpu := range cpus {
		if f.supported[cpu] {
			supportedCPUs = append(supportedCPUs, cpu)
		} else {
			unsupportedCPUs = append(unsupportedCPUs, cpu)
		}
	}
	if len(unsupportedCPUs) == 0 {
		return nil
	}
	if len(supportedCPUs) == 0 {
		return pepcerr.New(pepcerr.KindNotSupported, "%s is not supported", f.Name)
	}
	return pepcerr.New(pepcerr.KindNotSupported,
		"%s is not supported on CPUs %s, only supported on CPUs %s",
		f.Name, RangifyCPUs(unsupportedCPUs), RangifyCPUs(supportedCPUs))
}

// IsFeatureSupported reports whether every CPU in cpus supports fname.
func (fm *FeaturedMsr) IsFeatureSupported(fname string, cpus []int) (bool, error) {
	err := fm.ValidateFeatureSupported(fname, cpus)
	if err == nil {
		return true, nil
	}
	if pepcerr.Is(err, pepcerr.KindNotSupported) {
		return false, nil
	}
	return false, err
}

func (fm *FeaturedMsr) normalizeFeatureValue(f *feature, val Value) (uint64, error) {
	if len(f.Vals) == 0 {
		switch v := val.(type) {
		case uint64:
			return v, nil
		case int64:
			return uint64(v), nil
		case int:
			return uint64(v), nil
		default:
			return 0, pepcerr.New(pepcerr.KindBadValue, "feature %q has no enumerated values, got %T", f.Name, val)
		}
	}

	var valStr string
	if f.Type == TypeBool {
		switch v := val.(type) {
		case bool:
			if v {
				valStr = "on"
			} else {
				valStr = "off"
			}
		default:
			valStr = fmt.Sprintf("%v", val)
		}
	} else {
		valStr = fmt.Sprintf("%v", val)
	}

	if raw, ok := f.Vals[valStr]; ok {
		return raw, nil
	}
	if raw, ok := f.valsNocase[caseFold.String(valStr)]; ok {
		return raw, nil
	}

	syms := make([]string, 0, len(f.Vals))
	for sym := range f.Vals {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return 0, pepcerr.New(pepcerr.KindBadValue,
		"bad value %q for feature %q, use one of: %s", valStr, f.Name, strings.Join(syms, ", "))
}

func (fm *FeaturedMsr) rawToValue(f *feature, raw uint64) Value {
	if len(f.rvals) > 0 {
		if sym, ok := f.rvals[raw]; ok {
			return sym
		}
	}
	switch f.Type {
	case TypeBool:
		return raw != 0
	case TypeFloat:
		return float64(raw)
	case TypeStr:
		return fmt.Sprintf("%d", raw)
	default:
		return int64(raw)
	}
}

// ReadFeature reads fname for each CPU in cpus.
func (fm *FeaturedMsr) ReadFeature(fname string, cpus []int) ([]CPUValue, error) {
	f, err := fm.checkFname(fname)
	if err != nil {
		return nil, err
	}
	if err := fm.ValidateFeatureSupported(fname, cpus); err != nil {
		return nil, err
	}
	if hook, ok := fm.readHook[fname]; ok {
		return hook(fm, cpus)
	}
	vs, err := fm.msrEngine.ReadBits(fm.RegAddr, f.Bits, cpus, f.IOSName)
	if err != nil {
		return nil, err
	}
	out := make([]CPUValue, len(vs))
	for i, v := range vs {
		out[i] = CPUValue{CPU: v.CPU, Value: fm.rawToValue(f, v.Value)}
	}
	return out, nil
}

// ReadCPUFeature is the single-CPU convenience form of ReadFeature.
func (fm *FeaturedMsr) ReadCPUFeature(fname string, cpu int) (Value, error) {
	vs, err := fm.ReadFeature(fname, []int{cpu})
	if err != nil {
		return nil, err
	}
	return vs[0].Value, nil
}

// WriteFeature writes val to fname for each CPU in cpus.
func (fm *FeaturedMsr) WriteFeature(fname string, val Value, cpus []int) error {
	f, err := fm.checkFname(fname)
	if err != nil {
		return err
	}
	if err := fm.ValidateFeatureSupported(fname, cpus); err != nil {
		return err
	}
	if !f.Writable {
		return pepcerr.New(pepcerr.KindPermissionDenied, "feature %q is read-only", f.Name)
	}
	raw, err := fm.normalizeFeatureValue(f, val)
	if err != nil {
		return err
	}
	if hook, ok := fm.writeHook[fname]; ok {
		return hook(fm, val, cpus)
	}
	return fm.msrEngine.WriteBits(fm.RegAddr, f.Bits, raw, cpus, f.IOSName, false)
}

// WriteCPUFeature is the single-CPU convenience form of WriteFeature.
func (fm *FeaturedMsr) WriteCPUFeature(fname string, val Value, cpu int) error {
	return fm.WriteFeature(fname, val, []int{cpu})
}

// IsFeatureEnabled reports, for a bool-typed feature, whether it reads
// as "on"/"enabled" for each CPU in cpus.
func (fm *FeaturedMsr) IsFeatureEnabled(fname string, cpus []int) ([]CPUValue, error) {
	f, err := fm.checkFname(fname)
	if err != nil {
		return nil, err
	}
	if f.Type != TypeBool {
		return nil, pepcerr.New(pepcerr.KindBadValue, "feature %q is not boolean", f.Name)
	}
	vs, err := fm.ReadFeature(fname, cpus)
	if err != nil {
		return nil, err
	}
	out := make([]CPUValue, len(vs))
	for i, v := range vs {
		sym, _ := v.Value.(string)
		out[i] = CPUValue{CPU: v.CPU, Value: sym == "on" || sym == "enabled"}
	}
	return out, nil
}

// EnableFeature enables or disables a bool-typed feature. on accepts
// bool, "on"/"off", or "enable"/"disable" (case-insensitive).
func (fm *FeaturedMsr) EnableFeature(fname string, on Value, cpus []int) error {
	f, err := fm.checkFname(fname)
	if err != nil {
		return err
	}
	if f.Type != TypeBool {
		return pepcerr.New(pepcerr.KindBadValue, "feature %q is not boolean", f.Name)
	}

	var val string
	switch v := on.(type) {
	case bool:
		if v {
			val = "on"
		} else {
			val = "off"
		}
	case string:
		switch caseFold.String(v) {
		case "on", "enable":
			val = "on"
		case "off", "disable":
			val = "off"
		default:
			return pepcerr.New(pepcerr.KindBadValue,
				"bad value %q for boolean feature %q, use true/false, on/off, enable/disable", v, f.Name)
		}
	default:
		return pepcerr.New(pepcerr.KindBadValue, "bad value %v for boolean feature %q", on, f.Name)
	}

	return fm.WriteFeature(fname, val, cpus)
}

// RangifyCPUs renders a sorted CPU list as compact ranges, e.g.
// "0-3,5,7-8", the way validation error messages cite CPU sets.
func RangifyCPUs(cpus []int) string {
	if len(cpus) == 0 {
		return ""
	}
	sorted := append([]int(nil), cpus...)
	sort.Ints(sorted)

	var parts []string
	start := sorted[0]
	prev := sorted[0]
	flush := func(end int) {
		if start == end {
			parts = append(parts, fmt.Sprintf("%d", start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, end))
		}
	}
	for _, cpu := range sorted[1:] {
		if cpu == prev+1 {
			prev = cpu
			continue
		}
		flush(prev)
		start, prev = cpu, cpu
	}
	flush(prev)
	return strings.Join(parts, ",")
}
