package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"sort"
	"strconv"

	"pepc/internal/cpuinfo"
	"pepc/internal/pepcerr"
)

const featureInfoName = "tpmi_info"

// buildFmaps scans debugfs for TPMI PCI devices and the feature IDs
// they expose, maps every recognized ID to its spec feature name,
// and resolves each address's package either from the mandatory
// "tpmi_info" feature or, if that feature itself is entirely absent,
// the package heuristic.
func (e *Engine) buildFmaps() error {
	entries, err := e.exec.ReadDir(e.debugfsMnt)
	if err != nil {
		return pepcerr.Wrap(err, pepcerr.KindNotSupported, "failed to list TPMI debugfs directory %q", e.debugfsMnt)
	}

	fname2addrs := make(map[string][]string)
	seenUnknown := make(map[uint8]bool)

	for _, entry := range entries {
		m := addrDirRegexp.FindStringSubmatch(entry.Name)
		if m == nil {
			continue
		}
		addr := m[1]

		fentries, err := e.exec.ReadDir(e.debugfsMnt + "/" + entry.Name)
		if err != nil {
			return pepcerr.Wrap(err, pepcerr.KindIoError, "failed to list TPMI device directory %q", entry.Name)
		}
		for _, fentry := range fentries {
			fm := featureDirRegexp.FindStringSubmatch(fentry.Name)
			if fm == nil {
				continue
			}
			fid64, convErr := strconv.ParseUint(fm[1], 16, 8)
			if convErr != nil {
				continue
			}
			fid := uint8(fid64)
			fname, ok := e.fid2fname[fid]
			if !ok {
				seenUnknown[fid] = true
				continue
			}
			fname2addrs[fname] = append(fname2addrs[fname], addr)
		}
	}

	if len(fname2addrs) == 0 {
		return pepcerr.New(pepcerr.KindNotSupported, "no supported TPMI features found in %q", e.debugfsMnt)
	}
	for fid := range seenUnknown {
		e.unknown = append(e.unknown, fid)
	}

	infoAddrs, haveInfo := fname2addrs[featureInfoName]
	if !haveInfo {
		return e.buildFmapsWithDummyPackages(fname2addrs)
	}
	sort.Strings(infoAddrs)

	pkgByAddr := make(map[string]int, len(infoAddrs))
	infoEntries := make(map[string]*addrEntry, len(infoAddrs))
	infoSpec, err := e.loadSpec(featureInfoName)
	if err != nil {
		return err
	}
	infoFid, _ := fidFromFname(e.sdicts, featureInfoName)

	for _, addr := range infoAddrs {
		mdmap, err := e.buildMdmap(addr, infoFid)
		if err != nil {
			return err
		}
		if err := dropDeadInstances(e.exec, e.featurePath(addr, infoFid)+"/mem_dump", infoSpec, mdmap); err != nil {
			return err
		}
		entry := &addrEntry{Mdmap: mdmap}
		instance, ok := firstLiveInstance(mdmap)
		if !ok {
			return pepcerr.New(pepcerr.KindIoError, "TPMI feature %q has no live instance at address %q", featureInfoName, addr)
		}
		pkg, err := e.readRegisterRaw(infoSpec, entry, e.featurePath(addr, infoFid)+"/mem_dump", instance, "TPMI_BUS_INFO", "PACKAGE_ID")
		if err != nil {
			return err
		}
		entry.Package = int(pkg)
		pkgByAddr[addr] = int(pkg)
		infoEntries[addr] = entry
	}

	e.fmaps = map[string]map[string]*addrEntry{featureInfoName: infoEntries}
	for fname, addrs := range fname2addrs {
		if fname == featureInfoName {
			continue
		}
		m := make(map[string]*addrEntry, len(addrs))
		for _, addr := range addrs {
			pkg, ok := pkgByAddr[addr]
			if !ok {
				return pepcerr.New(pepcerr.KindIoError, "address %q exposes TPMI feature %q but not %q, cannot determine its package",
					addr, fname, featureInfoName)
			}
			m[addr] = &addrEntry{Package: pkg}
		}
		e.fmaps[fname] = m
	}
	e.rebuildPkg2Addrs()
	return nil
}

// buildFmapsWithDummyPackages handles the captured-dump case where
// "tpmi_info" was not captured: every address is assigned to a dummy
// package index instead of reading TPMI_BUS_INFO. Diamond Rapids packs
// two PCI addresses per package; every other platform assigns one
// address per package.
func (e *Engine) buildFmapsWithDummyPackages(fname2addrs map[string][]string) error {
	addrSet := make(map[string]bool)
	for _, addrs := range fname2addrs {
		for _, addr := range addrs {
			addrSet[addr] = true
		}
	}
	allAddrs := make([]string, 0, len(addrSet))
	for addr := range addrSet {
		allAddrs = append(allAddrs, addr)
	}
	sort.Strings(allAddrs)

	perPackage := 1
	if e.vfm == cpuinfo.DiamondRapidsX {
		perPackage = 2
	}
	pkgByAddr := make(map[string]int, len(allAddrs))
	for i, addr := range allAddrs {
		pkgByAddr[addr] = i / perPackage
	}

	e.fmaps = make(map[string]map[string]*addrEntry, len(fname2addrs))
	for fname, addrs := range fname2addrs {
		m := make(map[string]*addrEntry, len(addrs))
		for _, addr := range addrs {
			m[addr] = &addrEntry{Package: pkgByAddr[addr]}
		}
		e.fmaps[fname] = m
	}
	e.rebuildPkg2Addrs()
	return nil
}

func (e *Engine) rebuildPkg2Addrs() {
	e.pkg2addrs = make(map[int][]string)
	seen := make(map[string]bool)
	for _, addrs := range e.fmaps {
		for addr, entry := range addrs {
			if seen[addr] {
				continue
			}
			seen[addr] = true
			e.pkg2addrs[entry.Package] = append(e.pkg2addrs[entry.Package], addr)
		}
	}
	for pkg := range e.pkg2addrs {
		sort.Strings(e.pkg2addrs[pkg])
	}
}

func firstLiveInstance(mdmap map[int]map[uint32]int64) (int, bool) {
	instances := make([]int, 0, len(mdmap))
	for instance, offsets := range mdmap {
		if len(offsets) > 0 {
			instances = append(instances, instance)
		}
	}
	if len(instances) == 0 {
		return 0, false
	}
	sort.Ints(instances)
	return instances[0], true
}

// ensureMdmap lazily builds and caches fname/addr's instance map on
// first access, mirroring the source's _get_mdmap.
func (e *Engine) ensureMdmap(fname, addr string) (map[int]map[uint32]int64, error) {
	entries, ok := e.fmaps[fname]
	if !ok {
		return nil, pepcerr.New(pepcerr.KindNotSupported, "unsupported TPMI feature %q", fname)
	}
	entry, ok := entries[addr]
	if !ok {
		return nil, pepcerr.New(pepcerr.KindNotFound, "TPMI feature %q has no device at address %q", fname, addr)
	}
	if entry.Mdmap != nil {
		return entry.Mdmap, nil
	}
	spec, err := e.loadSpec(fname)
	if err != nil {
		return nil, err
	}
	fid, _ := fidFromFname(e.sdicts, fname)
	mdmap, err := e.buildMdmap(addr, fid)
	if err != nil {
		return nil, err
	}
	if err := dropDeadInstances(e.exec, e.featurePath(addr, fid)+"/mem_dump", spec, mdmap); err != nil {
		return nil, err
	}
	entry.Mdmap = mdmap
	return mdmap, nil
}
