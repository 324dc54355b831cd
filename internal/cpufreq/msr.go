// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package cpufreq

import (
	"pepc/internal/cpuinfo"
	"pepc/internal/featuredmsr"
	"pepc/internal/msr"
	"pepc/internal/pepcerr"
)

// HwpMsr binds every MSR_HWP_* and related register this package
// needs for MSR-based frequency control: MSR_PM_ENABLE (is HWP on at
// all), MSR_HWP_REQUEST/_PKG (the read/write path), MSR_HWP_CAPABILITIES
// and its non-HWP fallbacks MSR_PLATFORM_INFO/MSR_TURBO_RATIO_LIMIT{,1}.
type HwpMsr struct {
	me  *msr.MsrEngine
	ci  cpuinfo.CpuInfo
	vfm cpuinfo.VFM

	pmEnable  *featuredmsr.FeaturedMsr
	hwpReq    *featuredmsr.FeaturedMsr
	hwpReqPkg *featuredmsr.FeaturedMsr
	hwpCap    *featuredmsr.FeaturedMsr
	platInfo  *featuredmsr.FeaturedMsr
	trl       *featuredmsr.FeaturedMsr
	trl1      *featuredmsr.FeaturedMsr

	perfToFreqFactor uint64
	hybrid           bool
	pcoreCPUs        map[int]bool
}

// NewHwpMsr builds an HwpMsr over me/ci, classifying hybrid P-cores and
// resolving the platform's perf->Hz conversion factor if it needs one.
func NewHwpMsr(me *msr.MsrEngine, ci cpuinfo.CpuInfo) (*HwpMsr, error) {
	h := &HwpMsr{me: me, ci: ci, vfm: ci.VFM(), pcoreCPUs: make(map[int]bool)}

	var err error
	if h.pmEnable, err = featuredmsr.New("MSR_PM_ENABLE", featuredmsr.MsrPMEnable, featuredmsr.PMEnableFeatures(), me, ci); err != nil {
		return nil, err
	}
	if h.hwpReq, err = featuredmsr.New("MSR_HWP_REQUEST", featuredmsr.MsrHWPRequest, featuredmsr.HWPRequestFeatures(), me, ci); err != nil {
		return nil, err
	}
	if h.hwpReqPkg, err = featuredmsr.New("MSR_HWP_REQUEST_PKG", featuredmsr.MsrHWPRequestPkg, featuredmsr.HWPRequestPkgFeatures(), me, ci); err != nil {
		return nil, err
	}
	if h.hwpCap, err = featuredmsr.New("MSR_HWP_CAPABILITIES", featuredmsr.MsrHWPCapabilities, featuredmsr.HWPCapabilitiesFeatures(), me, ci); err != nil {
		return nil, err
	}
	if h.platInfo, err = featuredmsr.New("MSR_PLATFORM_INFO", featuredmsr.MsrPlatformInfo, featuredmsr.PlatformInfoFeatures(), me, ci); err != nil {
		return nil, err
	}
	if h.trl, err = featuredmsr.New("MSR_TURBO_RATIO_LIMIT", featuredmsr.MsrTurboRatioLimit, featuredmsr.TurboRatioLimitFeatures(), me, ci); err != nil {
		return nil, err
	}
	if h.trl1, err = featuredmsr.New("MSR_TURBO_RATIO_LIMIT1", featuredmsr.MsrTurboRatioLimit1, featuredmsr.TurboRatioLimit1Features(), me, ci); err != nil {
		return nil, err
	}

	h.hybrid = ci.Hybrid()
	if h.hybrid {
		for _, cpu := range ci.CPUs() {
			class, err := ci.CPUClass(cpu)
			if err != nil {
				return nil, err
			}
			if class == cpuinfo.ClassPCore {
				h.pcoreCPUs[cpu] = true
			}
		}
		if factor, ok := cpuinfo.HybridPerfToFreqFactor(h.vfm); ok {
			h.perfToFreqFactor = factor
		}
	}

	return h, nil
}

// IsHWPEnabled reports whether hardware-managed P-states are active
// on cpu (MSR_PM_ENABLE.hwp).
func (h *HwpMsr) IsHWPEnabled(cpu int) (bool, error) {
	vs, err := h.pmEnable.IsFeatureEnabled("hwp", []int{cpu})
	if err != nil {
		if pepcerr.Is(err, pepcerr.KindNotSupported) {
			return false, nil
		}
		return false, err
	}
	return vs[0].Value.(bool), nil
}

// perfToFreq converts an MSR_HWP_REQUEST performance-level value to Hz
// for cpu, given its bus clock: ratio units everywhere except hybrid
// P-cores, which use the platform's abstract perf-level factor and
// round down to the nearest bus-clock multiple.
func (h *HwpMsr) perfToFreq(cpu int, perf, bclk uint64) uint64 {
	if h.hybrid && h.pcoreCPUs[cpu] && h.perfToFreqFactor > 0 {
		freq := perf * h.perfToFreqFactor
		return (freq / bclk) * bclk
	}
	return perf * bclk
}

// freqToPerf is perfToFreq's inverse, used when writing a requested
// frequency back into MSR_HWP_REQUEST: ceiling-divide on hybrid
// P-cores (never undershoot what was asked for), floor-divide
// (integer division) elsewhere.
func (h *HwpMsr) freqToPerf(cpu int, freq, bclk uint64) uint64 {
	if h.hybrid && h.pcoreCPUs[cpu] && h.perfToFreqFactor > 0 {
		return ceilDiv(freq, h.perfToFreqFactor)
	}
	return freq / bclk
}

func (h *HwpMsr) busClock(cpu int) (uint64, error) {
	return ReadBusClockHz(h.me, h.vfm, cpu)
}

// readFreqFeature reads "<ftype>_perf" from MSR_HWP_REQUEST (or
// MSR_HWP_REQUEST_PKG when package control and the field's own
// "valid" bit say the package-scope value governs) and converts to Hz.
func (h *HwpMsr) readFreqFeature(ftype string, cpus []int) ([]CPUValue, error) {
	fname := ftype + "_perf"
	validName := ftype + "_valid"
	out := make([]CPUValue, 0, len(cpus))
	for _, cpu := range cpus {
		bclk, err := h.busClock(cpu)
		if err != nil {
			return nil, err
		}

		usePkg := false
		if pkgCtl, err := h.hwpReq.IsFeatureEnabled("pkg_control", []int{cpu}); err == nil && pkgCtl[0].Value.(bool) {
			if validBit, err := h.hwpReq.IsFeatureEnabled(validName, []int{cpu}); err == nil && !validBit[0].Value.(bool) {
				usePkg = true
			}
		}

		var perf int64
		if usePkg {
			v, err := h.hwpReqPkg.ReadCPUFeature(fname, cpu)
			if err != nil {
				return nil, err
			}
			perf = v.(int64)
		} else {
			v, err := h.hwpReq.ReadCPUFeature(fname, cpu)
			if err != nil {
				return nil, err
			}
			perf = v.(int64)
		}

		out = append(out, CPUValue{CPU: cpu, Hz: h.perfToFreq(cpu, uint64(perf), bclk)})
	}
	return out, nil
}

// CPUValue pairs a CPU with an Hz-denominated frequency.
type CPUValue struct {
	CPU int
	Hz  uint64
}

// GetMinFreq returns MSR_HWP_REQUEST's current minimum performance,
// converted to Hz, for every CPU in cpus.
func (h *HwpMsr) GetMinFreq(cpus []int) ([]CPUValue, error) { return h.readFreqFeature("min", cpus) }

// GetMaxFreq is GetMinFreq's maximum-performance counterpart.
func (h *HwpMsr) GetMaxFreq(cpus []int) ([]CPUValue, error) { return h.readFreqFeature("max", cpus) }

func (h *HwpMsr) platInfoFreq(fname string, cpus []int) ([]CPUValue, error) {
	out := make([]CPUValue, 0, len(cpus))
	for _, cpu := range cpus {
		bclk, err := h.busClock(cpu)
		if err != nil {
			return nil, err
		}
		v, err := h.platInfo.ReadCPUFeature(fname, cpu)
		if err != nil {
			return nil, err
		}
		out = append(out, CPUValue{CPU: cpu, Hz: uint64(v.(int64)) * bclk})
	}
	return out, nil
}

func (h *HwpMsr) hwpCapFreq(fname string, cpus []int) ([]CPUValue, error) {
	out := make([]CPUValue, 0, len(cpus))
	for _, cpu := range cpus {
		bclk, err := h.busClock(cpu)
		if err != nil {
			return nil, err
		}
		v, err := h.hwpCap.ReadCPUFeature(fname, cpu)
		if err != nil {
			return nil, err
		}
		out = append(out, CPUValue{CPU: cpu, Hz: h.perfToFreq(cpu, uint64(v.(int64)), bclk)})
	}
	return out, nil
}

// GetBaseFreq returns the base (non-turbo guaranteed) frequency: from
// MSR_HWP_CAPABILITIES.guaranteed when HWP is enabled, else
// MSR_PLATFORM_INFO.max_non_turbo_ratio.
func (h *HwpMsr) GetBaseFreq(cpus []int) ([]CPUValue, error) {
	if hwp, err := h.IsHWPEnabled(cpus[0]); err == nil && hwp {
		if vs, err := h.hwpCapFreq("guaranteed", cpus); err == nil {
			return vs, nil
		}
	}
	return h.platInfoFreq("max_non_turbo_ratio", cpus)
}

// GetMinOperFreq returns the lowest frequency the platform can
// operate at: HWP.lowest when enabled, else PlatformInfo.min_oper_ratio.
func (h *HwpMsr) GetMinOperFreq(cpus []int) ([]CPUValue, error) {
	if hwp, err := h.IsHWPEnabled(cpus[0]); err == nil && hwp {
		if vs, err := h.hwpCapFreq("lowest", cpus); err == nil {
			return vs, nil
		}
	}
	return h.platInfoFreq("min_oper_ratio", cpus)
}

// GetMaxEffFreq returns the most energy-efficient operating
// frequency: HWP.most_efficient when enabled, else
// PlatformInfo.max_eff_ratio.
func (h *HwpMsr) GetMaxEffFreq(cpus []int) ([]CPUValue, error) {
	if hwp, err := h.IsHWPEnabled(cpus[0]); err == nil && hwp {
		if vs, err := h.hwpCapFreq("most_efficient", cpus); err == nil {
			return vs, nil
		}
	}
	return h.platInfoFreq("max_eff_ratio", cpus)
}

// GetMaxTurboFreq returns the maximum turbo frequency a CPU can reach:
// HWP.highest when enabled; otherwise MSR_TURBO_RATIO_LIMIT's 1-core
// ratio, falling back to MSR_TURBO_RATIO_LIMIT1's all-group-0-core
// ratio if the first feature isn't supported.
func (h *HwpMsr) GetMaxTurboFreq(cpus []int) ([]CPUValue, error) {
	if hwp, err := h.IsHWPEnabled(cpus[0]); err == nil && hwp {
		if vs, err := h.hwpCapFreq("highest", cpus); err == nil {
			return vs, nil
		}
	}
	out := make([]CPUValue, 0, len(cpus))
	for _, cpu := range cpus {
		bclk, err := h.busClock(cpu)
		if err != nil {
			return nil, err
		}
		v, err := h.trl.ReadCPUFeature("max_1c_turbo_ratio", cpu)
		if err != nil {
			if !pepcerr.Is(err, pepcerr.KindNotSupported) {
				return nil, err
			}
			v, err = h.trl1.ReadCPUFeature("max_g0_turbo_ratio", cpu)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, CPUValue{CPU: cpu, Hz: uint64(v.(int64)) * bclk})
	}
	return out, nil
}

// validateFreq enforces spec §4.G's set-frequency checks: the value
// must fall within [min_oper_freq, max_turbo_freq], and (for min) must
// not exceed the currently configured max (or, for max, undershoot the
// currently configured min).
func (h *HwpMsr) validateFreq(freq uint64, ftype string, cpus []int) error {
	minLimit, err := h.GetMinOperFreq(cpus)
	if err != nil {
		return err
	}
	maxLimit, err := h.GetMaxTurboFreq(cpus)
	if err != nil {
		return err
	}
	for i, cpu := range cpus {
		if freq < minLimit[i].Hz || freq > maxLimit[i].Hz {
			return pepcerr.New(pepcerr.KindOutOfRange,
				"%s CPU %d frequency %d Hz is out of range [%d, %d] Hz",
				ftype, cpu, freq, minLimit[i].Hz, maxLimit[i].Hz)
		}
	}
	if ftype == "min" {
		curMax, err := h.readFreqFeature("max", cpus)
		if err != nil {
			return err
		}
		for i, v := range curMax {
			if freq > v.Hz {
				return pepcerr.New(pepcerr.KindBadOrder,
					"min CPU %d frequency %d Hz is greater than the currently configured max frequency of %d Hz",
					cpus[i], freq, v.Hz)
			}
		}
	} else {
		curMin, err := h.readFreqFeature("min", cpus)
		if err != nil {
			return err
		}
		for i, v := range curMin {
			if freq < v.Hz {
				return pepcerr.New(pepcerr.KindBadOrder,
					"max CPU %d frequency %d Hz is less than the currently configured min frequency of %d Hz",
					cpus[i], freq, v.Hz)
			}
		}
	}
	return nil
}

func (h *HwpMsr) setFreq(freq uint64, ftype string, cpus []int) error {
	fname := ftype + "_perf"

	var pkgControlCPUs []int
	if enabled, err := h.hwpReq.IsFeatureEnabled("pkg_control", cpus); err == nil {
		for i, v := range enabled {
			if v.Value.(bool) {
				pkgControlCPUs = append(pkgControlCPUs, cpus[i])
			}
		}
	}
	if len(pkgControlCPUs) > 0 {
		if err := h.hwpReq.WriteFeature(ftype+"_valid", "on", pkgControlCPUs); err != nil {
			return err
		}
	}

	if err := h.validateFreq(freq, ftype, cpus); err != nil {
		return err
	}

	byPerf := make(map[uint64][]int)
	for _, cpu := range cpus {
		bclk, err := h.busClock(cpu)
		if err != nil {
			return err
		}
		perf := h.freqToPerf(cpu, freq, bclk)
		byPerf[perf] = append(byPerf[perf], cpu)
	}
	for perf, perfCPUs := range byPerf {
		if err := h.hwpReq.WriteFeature(fname, int64(perf), perfCPUs); err != nil {
			return err
		}
	}
	return nil
}

// SetMinFreq sets MSR_HWP_REQUEST's minimum performance field, after
// disabling package control and validating the requested value.
func (h *HwpMsr) SetMinFreq(freq uint64, cpus []int) error { return h.setFreq(freq, "min", cpus) }

// SetMaxFreq is SetMinFreq's maximum-performance counterpart.
func (h *HwpMsr) SetMaxFreq(freq uint64, cpus []int) error { return h.setFreq(freq, "max", cpus) }

// EPP methods delegate straight to MSR_HWP_REQUEST.epp; EPP is the
// property SPEC_FULL.md's "SUPPLEMENTED FEATURES" section adds.
func (h *HwpMsr) GetEPP(cpu int) (int64, error) {
	v, err := h.hwpReq.ReadCPUFeature("epp", cpu)
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (h *HwpMsr) SetEPP(cpu int, epp int64) error {
	return h.hwpReq.WriteCPUFeature("epp", epp, cpu)
}
