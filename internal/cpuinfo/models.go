// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package cpuinfo

// Model numbers referenced by the frequency-controller platform hooks.
// Family is always 6 except where noted; these mirror the subset of
// the teacher's internal/cpus family/model table this module's
// platform hooks need (Cascade Lake-AP scope remap, Diamond Rapids
// dummy-package heuristic, hybrid performance-level conversion
// constants for Meteor Lake / Lunar Lake / Alder Lake / Raptor Lake).
const (
	ModelSkylakeX    = 85
	ModelCascadeLake = 85 // same model as Skylake-X; disambiguated by stepping 5-7.
	ModelAlderLake   = 151
	ModelAlderLakeL  = 154
	ModelRaptorLake  = 183
	ModelRaptorLakeP = 186
	ModelMeteorLake  = 170
	ModelLunarLake   = 189
	// ModelAtomSilvermont is the public Intel family-6 model number for
	// Silvermont Atom, the one platform with a non-power-of-two RAPL
	// energy-unit encoding.
	ModelAtomSilvermont = 55
)

// DiamondRapidsX is the Diamond Rapids VFM, family 19. It is the only
// platform the dummy-package heuristic in internal/tpmi special-cases.
var DiamondRapidsX = VFM{Vendor: VendorIntel, Family: 19, Model: 1}

// HybridPerfToFreqFactor returns the platform-dependent divisor used
// to convert a hybrid P-core's abstract MSR_HWP_REQUEST performance
// level into Hz (freq = perf * factor), and whether vfm is one of the
// platforms that needs this conversion at all (non-hybrid and
// hybrid E-core/LP-E-core paths use ratio*bus_clock instead).
func HybridPerfToFreqFactor(vfm VFM) (uint64, bool) {
	if vfm.Vendor != VendorIntel {
		return 0, false
	}
	switch vfm.Model {
	case ModelMeteorLake:
		return 80_000_000, true
	case ModelLunarLake:
		return 86_957_000, true
	case ModelAlderLake, ModelAlderLakeL, ModelRaptorLake, ModelRaptorLakeP:
		return 78_741_000, true
	default:
		return 0, false
	}
}

// IsAtomSilvermont reports whether vfm is the Silvermont Atom VFM.
func IsAtomSilvermont(vfm VFM) bool {
	return vfm.Vendor == VendorIntel && vfm.Family == 6 && vfm.Model == ModelAtomSilvermont
}

// IsSkylakeXFamily reports whether vfm matches the Skylake-X/Cascade
// Lake model (family 6, model 85) regardless of stepping. Used to
// detect Cascade Lake-AP (Skylake-X model, more than one die per
// package) for the MSR scope remap in internal/featuredmsr.
func IsSkylakeXFamily(vfm VFM) bool {
	return vfm.Vendor == VendorIntel && vfm.Family == 6 && vfm.Model == ModelSkylakeX
}

// DiesPerPackage returns the number of distinct dies present in
// package pkg, used to detect Cascade Lake-AP (more than one die per
// package on an otherwise Skylake-X VFM).
func (t *Topology) DiesPerPackage(pkg int) int {
	seen := make(map[int]struct{})
	for _, d := range t.byCPU {
		if d.Package != pkg {
			continue
		}
		seen[d.Die] = struct{}{}
	}
	return len(seen)
}

// IsCascadeLakeAP reports whether t looks like a Cascade Lake-AP
// system: a Skylake-X-family VFM with more than one die in at least
// one package.
func IsCascadeLakeAP(t *Topology) bool {
	if !IsSkylakeXFamily(t.VFM()) {
		return false
	}
	for _, pkg := range t.Packages() {
		if t.DiesPerPackage(pkg) > 1 {
			return true
		}
	}
	return false
}
