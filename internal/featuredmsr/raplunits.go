// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package featuredmsr

import (
	"math"

	"pepc/internal/cpuinfo"
)

// InstallRaplPowerUnitHooks wires the read hooks that translate the
// raw 4-bit RAPL_POWER_UNIT codes into the float scaling factors
// callers actually want. power_units and time_units are 2^-raw on
// every platform; energy_units is 2^-raw Joules per unit everywhere
// except Silvermont, where the hardware instead encodes it as
// 2^raw / 1e6.
func InstallRaplPowerUnitHooks(fm *FeaturedMsr, ci cpuinfo.CpuInfo) {
	fm.SetReadHook("power_units", raplUnitsHook(fm, "power_units", ci))
	fm.SetReadHook("time_units", raplUnitsHook(fm, "time_units", ci))
	fm.SetReadHook("energy_units", raplUnitsHook(fm, "energy_units", ci))
}

func raplUnitsHook(fm *FeaturedMsr, fname string, ci cpuinfo.CpuInfo) ReadHook {
	return func(_ *FeaturedMsr, cpus []int) ([]CPUValue, error) {
		f := fm.features[fname]
		vs, err := fm.msrEngine.ReadBits(fm.RegAddr, f.Bits, cpus, f.IOSName)
		if err != nil {
			return nil, err
		}
		out := make([]CPUValue, len(vs))
		for i, v := range vs {
			raw := float64(v.Value)
			var unit float64
			if fname == "energy_units" && cpuinfo.IsAtomSilvermont(ci.VFM()) {
				unit = math.Pow(2, raw) / 1000000
			} else {
				unit = 1 / math.Pow(2, raw)
			}
			out[i] = CPUValue{CPU: v.CPU, Value: unit}
		}
		return out, nil
	}
}
