// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package pstates

import (
	"fmt"
	"strings"

	"github.com/casbin/govaluate"

	"pepc/internal/pepcerr"
)

// enrich intercepts a failed SetPropCPUs call once, attaching a hint a
// plain VerifyFailed/OutOfRange message would not carry: the driver's
// accepted frequency list, a base-frequency note when turbo is off, or
// an explanation of why EPP writes are rejected under the performance
// governor. If no rule applies it returns the original error
// unchanged.
func (p *PStates) enrich(name string, val any, cpus []int, cause error) error {
	switch name {
	case "min_freq", "max_freq":
		return p.enrichFreq(name, val, cpus, cause)
	case "epp":
		return p.enrichEPP(val, cpus, cause)
	default:
		return cause
	}
}

func (p *PStates) enrichFreq(name string, val any, cpus []int, cause error) error {
	cpu := cpus[0]
	hint := ""

	if freqs, ferr := p.sysfs.GetAvailableFrequencies(cpu); ferr == nil && len(freqs) > 0 {
		strs := make([]string, len(freqs))
		for i, f := range freqs {
			strs[i] = fmt.Sprintf("%d", f)
		}
		hint += fmt.Sprintf("; driver-accepted frequencies are: %s", strings.Join(strs, ", "))
	}

	driver, derr := p.sysfs.GetDriver(cpu)
	if derr == nil {
		turboOn, terr := p.sysfs.GetTurbo(driver)
		baseFreq, berr := p.sysfs.GetBaseFreq(cpu)
		if terr == nil && berr == nil {
			requested := asUint64(val)
			expr, _ := govaluate.NewEvaluableExpression("!turbo_on && requested > base_freq")
			if expr != nil {
				result, eerr := expr.Evaluate(map[string]any{
					"turbo_on":  turboOn,
					"requested": float64(requested),
					"base_freq": float64(baseFreq),
				})
				if eerr == nil {
					if exceeds, ok := result.(bool); ok && exceeds {
						hint += fmt.Sprintf("; turbo is disabled and the base frequency is %d Hz", baseFreq)
					}
				}
			}
		}
	}

	if hint == "" {
		return cause
	}
	return pepcerr.Wrap(cause, pepcerr.KindVerifyFailed, "%s", strings.TrimPrefix(hint, "; ")+" (original error follows)")
}

// enrichEPP explains a failed EPP write only when the attempted value
// would actually conflict with the performance governor's lock: a
// request for "performance" (or its numeric equivalent, 0) is exactly
// what the locked EPP already reads as, so it would not have failed
// for this reason.
func (p *PStates) enrichEPP(val any, cpus []int, cause error) error {
	if requestsMaxPerf(val) {
		return cause
	}

	cpu := cpus[0]
	driver, derr := p.sysfs.GetDriver(cpu)
	mode, merr := p.sysfs.GetIntelPstateMode()
	governor, gerr := p.sysfs.GetGovernor(cpu)
	if derr != nil || merr != nil || gerr != nil {
		return cause
	}

	expr, eerr := govaluate.NewEvaluableExpression(
		`driver == "intel_pstate" && mode == "active" && governor == "performance"`)
	if eerr != nil {
		return cause
	}
	result, eerr := expr.Evaluate(map[string]any{
		"driver":   string(driver),
		"mode":     string(mode),
		"governor": governor,
	})
	if eerr != nil {
		return cause
	}
	if matches, ok := result.(bool); ok && matches {
		return pepcerr.Wrap(cause, pepcerr.KindVerifyFailed,
			"the performance governor pins EPP to 0 (maximum performance); "+
				"it cannot be changed while intel_pstate is active and the governor is performance")
	}
	return cause
}

// requestsMaxPerf reports whether val asks for EPP's maximum-performance
// value: the "performance" policy name over sysfs, or 0 over the MSR.
func requestsMaxPerf(val any) bool {
	switch v := val.(type) {
	case string:
		return strings.EqualFold(v, "performance")
	case int64:
		return v == 0
	case int:
		return v == 0
	case uint64:
		return v == 0
	default:
		return false
	}
}
