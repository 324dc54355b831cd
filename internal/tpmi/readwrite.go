package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"sort"
	"strconv"
	"strings"

	"pepc/internal/executor"
	"pepc/internal/pepcerr"
	"pepc/internal/tpmispec"
)

// readRegisterRaw reads the full value of regname (or, if bfname is
// non-empty, just that bit field) at instance in the mem_dump at path,
// with no cluster adjustment. 64-bit registers are assembled from two
// consecutive 32-bit words.
func (e *Engine) readRegisterRaw(spec *tpmispec.SpecFile, entry *addrEntry, path string, instance int, regname, bfname string) (uint64, error) {
	reg, err := lookupRegister(spec, regname)
	if err != nil {
		return 0, err
	}
	return e.readAtOffset(spec, entry, path, instance, reg.Offset, reg.Width, reg, bfname)
}

// readAtOffset reads a register whose actual mem_dump offset is
// already known (post cluster-adjustment if any), assembling a 64-bit
// value from two words when width is 64.
func (e *Engine) readAtOffset(spec *tpmispec.SpecFile, entry *addrEntry, path string, instance int, offset uint32, width int, reg *tpmispec.Register, bfname string) (uint64, error) {
	pos, err := validateInstanceOffset(spec.Name, entry.Mdmap, instance, offset)
	if err != nil {
		return 0, err
	}
	lo, err := readValueAt(e.exec, path, pos)
	if err != nil {
		return 0, err
	}
	value := uint64(lo)
	if width > 32 {
		hiPos, err := validateInstanceOffset(spec.Name, entry.Mdmap, instance, offset+4)
		if err != nil {
			return 0, err
		}
		hi, err := readValueAt(e.exec, path, hiPos)
		if err != nil {
			return 0, err
		}
		value |= uint64(hi) << 32
	}

	if bfname == "" || reg == nil {
		return value, nil
	}
	field, ok := reg.Fields[bfname]
	if !ok {
		return 0, pepcerr.New(pepcerr.KindNotFound, "TPMI register %q of feature %q has no bit field %q", reg.Name, spec.Name, bfname)
	}
	return (value & field.Bitmask) >> field.Bitshift, nil
}

func lookupRegister(spec *tpmispec.SpecFile, regname string) (*tpmispec.Register, error) {
	reg, ok := spec.Registers[regname]
	if !ok {
		return nil, pepcerr.New(pepcerr.KindNotFound, "TPMI feature %q has no register %q", spec.Name, regname)
	}
	return reg, nil
}

// validateInstanceOffset checks that instance is live in mdmap and
// that offset is one the feature's mem_dump actually listed.
func validateInstanceOffset(fname string, mdmap map[int]map[uint32]int64, instance int, offset uint32) (int64, error) {
	offsets, ok := mdmap[instance]
	if !ok || len(offsets) == 0 {
		return 0, pepcerr.New(pepcerr.KindNotFound,
			"TPMI feature %q has no live instance %d, available instances: %s", fname, instance, rangifyInstances(mdmap))
	}
	if offset%4 != 0 {
		return 0, pepcerr.New(pepcerr.KindBadValue, "bad TPMI offset %#x for feature %q: must be a multiple of 4", offset, fname)
	}
	pos, ok := offsets[offset]
	if !ok {
		return 0, pepcerr.New(pepcerr.KindNotFound, "TPMI feature %q instance %d has no register at offset %#x", fname, instance, offset)
	}
	return pos, nil
}

// rangifyInstances renders the live instance numbers in mdmap as a
// compact comma-and-dash range string, e.g. "0-2,4".
func rangifyInstances(mdmap map[int]map[uint32]int64) string {
	instances := make([]int, 0, len(mdmap))
	for instance, offsets := range mdmap {
		if len(offsets) > 0 {
			instances = append(instances, instance)
		}
	}
	sort.Ints(instances)
	if len(instances) == 0 {
		return "none"
	}
	var parts []string
	start := instances[0]
	prev := instances[0]
	flush := func(end int) {
		if start == end {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, strconv.Itoa(start)+"-"+strconv.Itoa(end))
		}
	}
	for _, n := range instances[1:] {
		if n == prev+1 {
			prev = n
			continue
		}
		flush(prev)
		start, prev = n, n
	}
	flush(prev)
	return strings.Join(parts, ",")
}

// ReadRegister reads register regname of feature fname at addr and
// instance, optionally extracting bfname's bit field. cluster must be
// 0 for every feature except "ufs", where it selects the register
// block whose offset the UFS cluster map supplies.
func (e *Engine) ReadRegister(fname, addr string, instance, cluster int, regname, bfname string) (uint64, error) {
	e.counters.TPMIRead(fname)
	spec, err := e.loadSpec(fname)
	if err != nil {
		return 0, err
	}
	mdmap, err := e.ensureMdmap(fname, addr)
	if err != nil {
		return 0, err
	}
	entry := e.fmaps[fname][addr]
	path := e.featurePath(addr, spec.FeatureID) + "/mem_dump"

	if cluster == 0 {
		return e.readRegisterRaw(spec, entry, path, instance, regname, bfname)
	}
	if fname != "ufs" {
		return 0, pepcerr.New(pepcerr.KindBadValue, "feature %q has no clusters, only 'ufs' does", fname)
	}
	coffset, err := e.clusterOffset(addr, instance, cluster, mdmap)
	if err != nil {
		return 0, err
	}
	reg, err := lookupRegister(spec, regname)
	if err != nil {
		return 0, err
	}
	shifted := adjustUFSOffset(reg.Offset, coffset)
	return e.readAtOffset(spec, entry, path, instance, shifted, reg.Width, reg, bfname)
}

// adjustUFSOffset translates a UFS register's spec-relative offset
// into its actual mem_dump offset inside cluster coffset's register
// block, correcting for the common 16-byte UFS instance header.
func adjustUFSOffset(specOffset, coffset uint32) uint32 {
	return specOffset + coffset - ufsHeaderSize
}

// WriteRegister writes value to register regname (or its bfname bit
// field) of feature fname at addr/instance/cluster. Width-64 registers
// are written as two sequential 32-bit words through mem_write, not
// atomically, matching the underlying kernel interface.
func (e *Engine) WriteRegister(fname, addr string, instance, cluster int, regname, bfname string, value uint64) error {
	e.counters.TPMIWrite(fname)
	if e.readOnly {
		return pepcerr.New(pepcerr.KindPermissionDenied, "TPMI engine was opened read-only, cannot write %q", regname)
	}
	spec, err := e.loadSpec(fname)
	if err != nil {
		return err
	}
	reg, err := lookupRegister(spec, regname)
	if err != nil {
		return err
	}

	var field *tpmispec.Field
	if bfname != "" {
		var ok bool
		field, ok = reg.Fields[bfname]
		if !ok {
			return pepcerr.New(pepcerr.KindNotFound, "TPMI register %q of feature %q has no bit field %q", regname, fname, bfname)
		}
		if field.Readonly {
			return pepcerr.New(pepcerr.KindPermissionDenied, "TPMI bit field %q of register %q is read-only", bfname, regname)
		}
		maxVal := (uint64(1) << uint(field.Msb-field.Lsb+1)) - 1
		if value > maxVal {
			return pepcerr.New(pepcerr.KindBadValue, "value %#x does not fit in bit field %q (%d bits)", value, bfname, field.Msb-field.Lsb+1)
		}
	} else {
		if reg.Readonly {
			return pepcerr.New(pepcerr.KindPermissionDenied, "TPMI register %q is read-only", regname)
		}
		maxVal := uint64(1)<<uint(reg.Width) - 1
		if value > maxVal {
			return pepcerr.New(pepcerr.KindBadValue, "value %#x does not fit in a %d-bit register", value, reg.Width)
		}
	}

	mdmap, err := e.ensureMdmap(fname, addr)
	if err != nil {
		return err
	}
	entry := e.fmaps[fname][addr]

	offset := reg.Offset
	if cluster != 0 {
		if fname != "ufs" {
			return pepcerr.New(pepcerr.KindBadValue, "feature %q has no clusters, only 'ufs' does", fname)
		}
		coffset, err := e.clusterOffset(addr, instance, cluster, mdmap)
		if err != nil {
			return err
		}
		offset = adjustUFSOffset(offset, coffset)
	}
	if _, err := validateInstanceOffset(spec.Name, entry.Mdmap, instance, offset); err != nil {
		return err
	}

	writeValue := value
	if field != nil {
		path := e.featurePath(addr, spec.FeatureID) + "/mem_dump"
		current, err := e.readAtOffset(spec, entry, path, instance, offset, reg.Width, nil, "")
		if err != nil {
			return err
		}
		current &^= field.Bitmask
		writeValue = current | (value << field.Bitshift)
	}

	return e.writeMemWords(addr, spec.FeatureID, instance, offset, reg.Width, writeValue)
}

// writeMemWords performs the 32-bit-word write loop mem_write expects:
// one textual "<instance>,<offset>,<value>" write per 32-bit word,
// seeking back to 0 between writes.
func (e *Engine) writeMemWords(addr string, fid uint8, instance int, offset uint32, width int, value uint64) error {
	path := e.featurePath(addr, fid) + "/mem_write"
	f, err := e.exec.Open(path, executor.ReadWrite)
	if err != nil {
		return pepcerr.Wrap(err, pepcerr.KindIoError, "failed to open %q", path)
	}
	defer f.Close()

	for width > 0 {
		word := value & 0xffffffff
		line := strconv.Itoa(instance) + "," + "0x" + strconv.FormatUint(uint64(offset), 16) + "," + "0x" + strconv.FormatUint(word, 16)
		if _, err := f.Seek(0, 0); err != nil {
			return pepcerr.Wrap(err, pepcerr.KindIoError, "failed to seek %q", path)
		}
		if _, err := f.Write([]byte(line)); err != nil {
			return pepcerr.Wrap(err, pepcerr.KindIoError, "failed to write %q to %q", line, path)
		}
		width -= 32
		offset += 4
		value >>= 32
	}
	return nil
}
