/*
Package tpmi implements the Topology Aware Register and PM Capsule
Interface: discovering TPMI-capable PCI devices through debugfs,
mapping their register spaces from mem_dump, and reading/writing
registers (including UFS's per-cluster register blocks) through
mem_write.
*/
package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"pepc/internal/cpuinfo"
	"pepc/internal/executor"
	"pepc/internal/pepcerr"
	"pepc/internal/telemetry"
	"pepc/internal/tpmispec"
)

// ufsHeaderSize is the byte size of UFS's common per-instance header,
// subtracted when translating a spec-relative UFS register offset into
// a cluster's actual mem_dump offset.
const ufsHeaderSize = 16

// addrDirRegexp matches a TPMI PCI device directory under debugfs,
// e.g. "tpmi-0000:00:03.1".
var addrDirRegexp = regexp.MustCompile(`^tpmi-([0-9a-f]{4}:[0-9a-f]{2}:[0-9a-f]{2}\.[0-9a-f])$`)

// featureDirRegexp matches a feature subdirectory under a PCI device
// directory, e.g. "tpmi-id-02".
var featureDirRegexp = regexp.MustCompile(`^tpmi-id-([0-9a-f]+)$`)

// addrEntry is one PCI address's state for one feature: which package
// it belongs to, and its lazily-built instance/offset map.
type addrEntry struct {
	Package int
	Mdmap   map[int]map[uint32]int64
}

// Engine discovers and talks to TPMI-capable devices on one host. It is
// built once per CpuInfo/Executor pair and cached for the process
// lifetime, mirroring MsrEngine's construction-time cost model.
type Engine struct {
	exec       executor.Executor
	debugfsMnt string
	vfm        cpuinfo.VFM
	readOnly   bool
	counters   *telemetry.Counters

	sdicts    map[string]tpmispec.SDict
	specs     map[string]*tpmispec.SpecFile
	fid2fname map[uint8]string

	fmaps     map[string]map[string]*addrEntry
	pkg2addrs map[int][]string
	unknown   []uint8

	cmaps map[string]map[int]map[int]uint32
}

// NewEngine builds an Engine: it resolves vfm against specDirs to find
// the platform's TPMI spec files, scans debugfs for TPMI PCI devices
// and their supported features, and eagerly maps "tpmi_info" (every
// other feature's mdmap is built lazily on first access).
func NewEngine(ex executor.Executor, debugfsMnt string, specDirs []string, vfm cpuinfo.VFM, readOnly bool) (*Engine, error) {
	specDir, err := tpmispec.FindSpecDir(specDirs, vfm)
	if err != nil {
		return nil, err
	}
	sdicts, err := tpmispec.ScanDir(specDir)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		exec:       ex,
		debugfsMnt: debugfsMnt,
		vfm:        vfm,
		readOnly:   readOnly,
		sdicts:     sdicts,
		specs:      make(map[string]*tpmispec.SpecFile),
		fid2fname:  make(map[uint8]string),
		fmaps:      make(map[string]map[string]*addrEntry),
		pkg2addrs:  make(map[int][]string),
		cmaps:      make(map[string]map[int]map[int]uint32),
	}
	for fname, sdict := range sdicts {
		e.fid2fname[sdict.FeatureID] = fname
	}

	if err := e.buildFmaps(); err != nil {
		return nil, err
	}
	return e, nil
}

// SetCounters wires an optional telemetry sink; nil disables counting.
func (e *Engine) SetCounters(c *telemetry.Counters) {
	e.counters = c
}

// KnownFeatures returns the feature names this engine's spec directory
// and debugfs tree both agree exist, sorted alphabetically.
func (e *Engine) KnownFeatures() []string {
	names := make([]string, 0, len(e.fmaps))
	for fname := range e.fmaps {
		names = append(names, fname)
	}
	sort.Strings(names)
	return names
}

// UnknownFeatureIDs returns the feature IDs debugfs exposed that no
// spec file in the resolved spec directory describes, sorted.
func (e *Engine) UnknownFeatureIDs() []uint8 {
	out := append([]uint8(nil), e.unknown...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) loadSpec(fname string) (*tpmispec.SpecFile, error) {
	if spec, ok := e.specs[fname]; ok {
		return spec, nil
	}
	sdict, ok := e.sdicts[fname]
	if !ok {
		return nil, pepcerr.New(pepcerr.KindNotSupported, "unknown TPMI feature %q", fname)
	}
	spec, err := tpmispec.Load(sdict.Path)
	if err != nil {
		return nil, err
	}
	e.specs[fname] = spec
	return spec, nil
}

func (e *Engine) featurePath(addr string, fid uint8) string {
	return fmt.Sprintf("%s/tpmi-%s/tpmi-id-%02x", strings.TrimRight(e.debugfsMnt, "/"), addr, fid)
}

func fidFromFname(sdicts map[string]tpmispec.SDict, fname string) (uint8, bool) {
	sdict, ok := sdicts[fname]
	return sdict.FeatureID, ok
}
