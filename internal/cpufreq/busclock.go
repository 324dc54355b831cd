// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package cpufreq

import (
	"pepc/internal/cpuinfo"
	"pepc/internal/msr"
	"pepc/internal/pepcerr"
)

// MsrFsbFreq is MSR_FSB_FREQ (0xCD), which reports the bus clock
// speed on platforms old enough to still encode it as a small lookup
// code rather than deriving it from MSR_PLATFORM_INFO.
const MsrFsbFreq = 0xCD

// fsbCode is one (MHz, raw-code) pair a platform's MSR_FSB_FREQ uses.
type fsbCode struct {
	mhz  float64
	code uint64
}

// fsbTable is a platform family's full code->MHz table plus the bit
// range the code occupies.
type fsbTable struct {
	codes []fsbCode
	bits  msr.Bits
}

var core2FsbCodes = fsbTable{
	bits: msr.Bits{Msb: 2, Lsb: 0},
	codes: []fsbCode{
		{100.00, 0b101}, {133.33, 0b001}, {166.67, 0b011}, {200.00, 0b010},
		{266.67, 0b000}, {333.33, 0b100}, {400.00, 0b110},
	},
}

var oldAtomFsbCodes = fsbTable{
	bits: msr.Bits{Msb: 2, Lsb: 0},
	codes: []fsbCode{
		{83.00, 0b111}, {100.00, 0b101}, {133.33, 0b001}, {166.67, 0b011},
	},
}

var silvermontFsbCodes = fsbTable{
	bits: msr.Bits{Msb: 2, Lsb: 0},
	codes: []fsbCode{
		{80.0, 0b100}, {83.3, 0b000}, {100.0, 0b001}, {133.3, 0b010}, {116.7, 0b011},
	},
}

var airmontFsbCodes = fsbTable{
	bits: msr.Bits{Msb: 3, Lsb: 0},
	codes: []fsbCode{
		{83.3, 0b0000}, {100.0, 0b0001}, {133.3, 0b0010}, {116.7, 0b0011}, {80.0, 0b0100},
		{93.3, 0b0101}, {90.0, 0b0110}, {88.9, 0b0111}, {87.5, 0b1000},
	},
}

// Known family-6 models carrying each FSB code table. Model numbers
// per the public Intel family/model list, mirroring
// original_source/pepclibs/msr/FSBFreq.py's CPU_GROUPS membership.
var fsbModelTables = map[int]*fsbTable{
	0x0F: &core2FsbCodes, // Core 2 (Merom) and kin
	0x16: &oldAtomFsbCodes,
	0x1C: &oldAtomFsbCodes, // Bonnell
	0x26: &oldAtomFsbCodes, // Bonnell MID
	0x27: &oldAtomFsbCodes, // Saltwell MID
	0x35: &oldAtomFsbCodes, // Saltwell tablet
	0x36: &oldAtomFsbCodes, // Saltwell
	0x37: &silvermontFsbCodes, // Silvermont
	0x4A: &silvermontFsbCodes, // Silvermont MID
	0x5A: &silvermontFsbCodes, // Silvermont MID1
	0x4C: &airmontFsbCodes,    // Airmont
}

// silvermontAirmontModules are the model numbers whose MSR_FSB_FREQ is
// module-scope rather than core-scope.
var silvermontAirmontModules = map[int]bool{
	0x37: true, 0x4A: true, 0x5A: true, 0x4C: true,
}

func fsbTableFor(vfm cpuinfo.VFM) (*fsbTable, bool) {
	if vfm.Vendor != cpuinfo.VendorIntel || vfm.Family != 6 {
		return nil, false
	}
	t, ok := fsbModelTables[vfm.Model]
	return t, ok
}

// BusClockScope reports the scope MSR_FSB_FREQ's encoding is valid at
// for vfm: module on Silvermont/Airmont, core elsewhere.
func BusClockScope(vfm cpuinfo.VFM) cpuinfo.Scope {
	if silvermontAirmontModules[vfm.Model] && vfm.Vendor == cpuinfo.VendorIntel && vfm.Family == 6 {
		return cpuinfo.ScopeModule
	}
	return cpuinfo.ScopeCore
}

// defaultIntelBusClockHz is used when MSR_FSB_FREQ is not supported on
// an Intel platform (every CPU family since Nehalem derives bus clock
// implicitly as 100 MHz).
const defaultIntelBusClockHz = 100_000_000

// ReadBusClockHz returns cpu's bus clock in Hz: decoded from
// MSR_FSB_FREQ on the platforms that support it, 100 MHz for any other
// Intel platform.
func ReadBusClockHz(me *msr.MsrEngine, vfm cpuinfo.VFM, cpu int) (uint64, error) {
	table, ok := fsbTableFor(vfm)
	if !ok {
		if vfm.Vendor != cpuinfo.VendorIntel {
			return 0, pepcerr.New(pepcerr.KindNotSupported, "bus clock is only supported on Intel platforms")
		}
		return defaultIntelBusClockHz, nil
	}
	scope := BusClockScope(vfm)
	raw, err := me.ReadBits(MsrFsbFreq, table.bits, []int{cpu}, scope)
	if err != nil {
		return 0, err
	}
	for _, c := range table.codes {
		if c.code == raw[0].Value {
			return uint64(c.mhz * hzPerMHz), nil
		}
	}
	return 0, pepcerr.New(pepcerr.KindBadValue, "CPU %d: unrecognized MSR_FSB_FREQ code %#x", cpu, raw[0].Value)
}
