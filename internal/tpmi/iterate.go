package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"sort"

	"pepc/internal/pepcerr"
)

// Location identifies one live instance of a feature: its package, PCI
// address, and TPMI instance number.
type Location struct {
	Package  int
	Addr     string
	Instance int
}

// ClusterLocation extends Location with a UFS cluster number, 0 for
// every non-UFS feature.
type ClusterLocation struct {
	Location
	Cluster int
}

func intSet(vals []int) map[int]bool {
	if vals == nil {
		return nil
	}
	m := make(map[int]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}

func strSet(vals []string) map[string]bool {
	if vals == nil {
		return nil
	}
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}

// IterFeature yields every live (package, address, instance) location
// of fname, restricted to addrs/packages/instances when non-nil, in
// sorted order. An address that exposes no live instances of fname is
// silently skipped, matching the source's tolerance for a feature that
// is present but happens to have zero instances on one device.
func (e *Engine) IterFeature(fname string, addrs []string, packages []int, instances []int) ([]Location, error) {
	entries, ok := e.fmaps[fname]
	if !ok {
		return nil, pepcerr.New(pepcerr.KindNotSupported, "unsupported TPMI feature %q", fname)
	}

	wantAddrs := addrs
	if wantAddrs == nil {
		wantAddrs = make([]string, 0, len(entries))
		for addr := range entries {
			wantAddrs = append(wantAddrs, addr)
		}
	}
	sort.Strings(wantAddrs)

	wantPackages := packages
	if wantPackages == nil {
		wantPackages = make([]int, 0, len(e.pkg2addrs))
		for pkg := range e.pkg2addrs {
			wantPackages = append(wantPackages, pkg)
		}
		sort.Ints(wantPackages)
	}
	pkgSet := intSet(wantPackages)
	instanceSet := intSet(instances)

	var out []Location
	for _, addr := range wantAddrs {
		entry, ok := entries[addr]
		if !ok {
			continue
		}
		if !pkgSet[entry.Package] {
			continue
		}
		mdmap, err := e.ensureMdmap(fname, addr)
		if err != nil {
			if pepcerr.Is(err, pepcerr.KindNotFound) {
				continue
			}
			return nil, err
		}

		live := make([]int, 0, len(mdmap))
		for instance, offsets := range mdmap {
			if len(offsets) == 0 {
				continue
			}
			if instanceSet != nil && !instanceSet[instance] {
				continue
			}
			live = append(live, instance)
		}
		sort.Ints(live)
		for _, instance := range live {
			out = append(out, Location{Package: entry.Package, Addr: addr, Instance: instance})
		}
	}
	return out, nil
}

// IterUFSFeature yields every live (package, address, instance,
// cluster) location of the "ufs" feature, restricted to clusters when
// non-nil.
func (e *Engine) IterUFSFeature(addrs []string, packages []int, instances []int, clusters []int) ([]ClusterLocation, error) {
	locs, err := e.IterFeature(ufsFeatureName, addrs, packages, instances)
	if err != nil {
		return nil, err
	}
	clusterSet := intSet(clusters)

	var out []ClusterLocation
	for _, loc := range locs {
		entry := e.fmaps[ufsFeatureName][loc.Addr]
		cmap, err := e.clusterMap(loc.Addr, loc.Instance, entry.Mdmap)
		if err != nil {
			return nil, err
		}
		available := make([]int, 0, len(cmap))
		for cluster := range cmap {
			available = append(available, cluster)
		}
		sort.Ints(available)
		for _, cluster := range available {
			if clusterSet != nil && !clusterSet[cluster] {
				continue
			}
			out = append(out, ClusterLocation{Location: loc, Cluster: cluster})
		}
	}
	return out, nil
}

// IterFeatureCluster yields (package, address, instance, cluster)
// locations for any feature: it dispatches to IterUFSFeature for
// "ufs", and otherwise requires clusters to be nil or {0}, since only
// UFS exposes more than one register block per instance.
func (e *Engine) IterFeatureCluster(fname string, addrs []string, packages []int, instances []int, clusters []int) ([]ClusterLocation, error) {
	if fname == ufsFeatureName {
		return e.IterUFSFeature(addrs, packages, instances, clusters)
	}
	for _, cluster := range clusters {
		if cluster != 0 {
			return nil, pepcerr.New(pepcerr.KindBadValue, "feature %q has no clusters, only 'ufs' does", fname)
		}
	}
	locs, err := e.IterFeature(fname, addrs, packages, instances)
	if err != nil {
		return nil, err
	}
	out := make([]ClusterLocation, len(locs))
	for i, loc := range locs {
		out[i] = ClusterLocation{Location: loc, Cluster: 0}
	}
	return out, nil
}
