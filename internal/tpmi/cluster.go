package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"sort"

	"pepc/internal/pepcerr"
)

const ufsFeatureName = "ufs"

// clusterOffset returns the mem_dump offset (in UFS_HEADER units, i.e.
// spec-relative, pre ufsHeaderSize adjustment caller applies) of
// cluster's register block at addr/instance, building and caching the
// instance's cluster map on first access.
func (e *Engine) clusterOffset(addr string, instance, cluster int, mdmap map[int]map[uint32]int64) (uint32, error) {
	cmap, err := e.clusterMap(addr, instance, mdmap)
	if err != nil {
		return 0, err
	}
	offset, ok := cmap[cluster]
	if !ok {
		clusters := make([]int, 0, len(cmap))
		for c := range cmap {
			clusters = append(clusters, c)
		}
		sort.Ints(clusters)
		return 0, pepcerr.New(pepcerr.KindNotFound, "UFS instance %d at address %q has no cluster %d, available clusters: %v", instance, addr, cluster, clusters)
	}
	return offset, nil
}

// clusterMap reads UFS_HEADER.LOCAL_FABRIC_CLUSTER_ID_MASK (a per-bit
// cluster presence mask) and UFS_FABRIC_CLUSTER_OFFSET (eight packed
// 8-bit fabric offsets, one per cluster, each counted in 8-byte units)
// to build the cluster→byte-offset map for instance.
func (e *Engine) clusterMap(addr string, instance int, mdmap map[int]map[uint32]int64) (map[int]uint32, error) {
	if byInstance, ok := e.cmaps[addr]; ok {
		if cmap, ok := byInstance[instance]; ok {
			return cmap, nil
		}
	} else {
		e.cmaps[addr] = make(map[int]map[int]uint32)
	}

	spec, err := e.loadSpec(ufsFeatureName)
	if err != nil {
		return nil, err
	}
	entry := e.fmaps[ufsFeatureName][addr]
	path := e.featurePath(addr, spec.FeatureID) + "/mem_dump"

	mask, err := e.readRegisterRaw(spec, entry, path, instance, "UFS_HEADER", "LOCAL_FABRIC_CLUSTER_ID_MASK")
	if err != nil {
		return nil, err
	}
	offsets, err := e.readRegisterRaw(spec, entry, path, instance, "UFS_FABRIC_CLUSTER_OFFSET", "FABRIC_CLUSTER_OFFSET")
	if err != nil {
		return nil, err
	}

	cmap := make(map[int]uint32)
	for cluster := 0; cluster < 8; cluster++ {
		if mask&(1<<uint(cluster)) == 0 {
			continue
		}
		offsetIndex := (offsets >> uint(cluster*8)) & 0xFF
		byteOffset := uint32(offsetIndex) * 8
		if byteOffset%4 != 0 {
			return nil, pepcerr.New(pepcerr.KindBadValue, "bad UFS fabric cluster %d offset %#x at address %q: not a multiple of 4", cluster, byteOffset, addr)
		}
		if _, ok := mdmap[instance][byteOffset]; !ok {
			return nil, pepcerr.New(pepcerr.KindIoError, "UFS fabric cluster %d offset %#x at address %q instance %d was not found in mem_dump", cluster, byteOffset, addr, instance)
		}
		cmap[cluster] = byteOffset
	}

	e.cmaps[addr][instance] = cmap
	return cmap, nil
}
