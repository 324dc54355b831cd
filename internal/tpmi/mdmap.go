package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"pepc/internal/executor"
	"pepc/internal/pepcerr"
	"pepc/internal/tpmispec"
)

// instanceHeaderRegexp matches a mem_dump instance header line, e.g.
// "TPMI Instance:0 offset:0x10000".
var instanceHeaderRegexp = regexp.MustCompile(`^TPMI Instance:(\d+) offset:(0x[0-9a-fA-F]+)`)

// dataLineRegexp matches a mem_dump data line: a leading offset, in
// either " 40:" or "[40]" form, followed by up to four space-separated
// 32-bit hex words.
var dataLineRegexp = regexp.MustCompile(`^[ \[]([0-9a-fA-F]+)[:\]] (.*)$`)

// buildMdmap streams feature's mem_dump file and records, for every
// live instance and register offset it lists, the byte position within
// the file where that register's 8 hex-digit value starts. Later reads
// reopen the file and seek straight to that position instead of
// reparsing the whole dump.
func (e *Engine) buildMdmap(addr string, fid uint8) (map[int]map[uint32]int64, error) {
	path := e.featurePath(addr, fid) + "/mem_dump"
	data, err := e.exec.Read(path)
	if err != nil {
		return nil, pepcerr.Wrap(err, pepcerr.KindIoError, "failed to read TPMI mem_dump %q", path)
	}

	mdmap := make(map[int]map[uint32]int64)
	var curInstance int
	var haveInstance bool
	var pos int64

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		lineLen := int64(len(line)) + 1

		if m := instanceHeaderRegexp.FindStringSubmatch(line); m != nil {
			n, convErr := strconv.Atoi(m[1])
			if convErr != nil {
				return nil, pepcerr.New(pepcerr.KindBadValue, "bad TPMI instance number in %q: %q", path, line)
			}
			curInstance = n
			haveInstance = true
			if _, ok := mdmap[curInstance]; !ok {
				mdmap[curInstance] = make(map[uint32]int64)
			}
			pos += lineLen
			continue
		}

		if m := dataLineRegexp.FindStringSubmatch(line); m != nil && haveInstance {
			offsetHex := m[1]
			offs64, convErr := strconv.ParseUint(offsetHex, 16, 32)
			if convErr != nil {
				return nil, pepcerr.New(pepcerr.KindBadValue, "bad TPMI offset in %q: %q", path, line)
			}
			offs := uint32(offs64)

			// Position of the first value token: the line up to and
			// including the "<offset>: " (or "[offset] ") prefix.
			prefixLen := int64(strings.Index(line, m[1])) + int64(len(m[1])) + 2
			valuePos := pos + prefixLen

			fields := strings.Fields(m[2])
			for range fields {
				mdmap[curInstance][offs] = valuePos
				offs += 4
				valuePos += 9 // 8 hex chars plus one separating space
			}
			pos += lineLen
			continue
		}

		pos += lineLen
	}
	if err := scanner.Err(); err != nil {
		return nil, pepcerr.Wrap(err, pepcerr.KindIoError, "failed to parse TPMI mem_dump %q", path)
	}

	return mdmap, nil
}

// dropDeadInstances clears the offset map of every instance whose
// INTERFACE_VERSION field reads 0xFF, and validates that every
// remaining instance reports the same, supported major/minor version.
// A spec with no INTERFACE_VERSION field anywhere is a hard error: the
// source treats this as an unconditional inconsistency, not a
// best-effort skip.
func dropDeadInstances(ex executor.Executor, path string, spec *tpmispec.SpecFile, mdmap map[int]map[uint32]int64) error {
	regname, field, ok := findInterfaceVersionField(spec)
	if !ok {
		return pepcerr.New(pepcerr.KindIoError, "TPMI feature %q has no 'INTERFACE_VERSION' field, cannot validate instances", spec.Name)
	}
	reg := spec.Registers[regname]

	var haveVersion bool
	var major, minor int

	for instance, offsets := range mdmap {
		filePos, ok := offsets[reg.Offset]
		if !ok {
			continue
		}
		raw, err := readValueAt(ex, path, filePos)
		if err != nil {
			return err
		}
		version := (raw & field.Bitmask) >> field.Bitshift
		if version == 0xFF {
			mdmap[instance] = map[uint32]int64{}
			continue
		}
		vmajor := int((version >> 5) & 0b111)
		vminor := int(version & 0b11111)
		if vmajor != 0 || vminor > 3 {
			return pepcerr.New(pepcerr.KindNotSupported,
				"unsupported TPMI feature %q interface version %d.%d at instance %d", spec.Name, vmajor, vminor, instance)
		}
		if haveVersion && (vmajor != major || vminor != minor) {
			return pepcerr.New(pepcerr.KindIoError,
				"inconsistent TPMI feature %q interface versions: instance %d reports %d.%d, an earlier instance reported %d.%d",
				spec.Name, instance, vmajor, vminor, major, minor)
		}
		major, minor = vmajor, vminor
		haveVersion = true
	}
	return nil
}

func findInterfaceVersionField(spec *tpmispec.SpecFile) (string, *tpmispec.Field, bool) {
	for regname, reg := range spec.Registers {
		if field, ok := reg.Fields["INTERFACE_VERSION"]; ok {
			return regname, field, true
		}
	}
	return "", nil, false
}

// readValueAt reopens path, seeks to pos, and parses 8 hex characters
// as a register value.
func readValueAt(ex executor.Executor, path string, pos int64) (uint64, error) {
	f, err := ex.Open(path, executor.ReadOnly)
	if err != nil {
		return 0, pepcerr.Wrap(err, pepcerr.KindIoError, "failed to open %q", path)
	}
	defer f.Close()

	buf := make([]byte, 8)
	n, err := f.ReadAt(buf, pos)
	if n < 8 {
		return 0, pepcerr.Wrap(err, pepcerr.KindIoError, "failed to read TPMI value from %q at offset %d", path, pos)
	}
	v, convErr := strconv.ParseUint(string(buf), 16, 32)
	if convErr != nil {
		return 0, pepcerr.New(pepcerr.KindBadValue, "bad TPMI value %q at offset %d in %q", string(buf), pos, path)
	}
	return v, nil
}
