// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package cpuinfo

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func twoPackageTopology(t *testing.T) *Topology {
	t.Helper()
	var descriptors []CPUDescriptor
	for pkg := 0; pkg < 2; pkg++ {
		for die := 0; die < 1; die++ {
			for core := 0; core < 4; core++ {
				for thread := 0; thread < 2; thread++ {
					cpu := pkg*16 + core*2 + thread
					descriptors = append(descriptors, CPUDescriptor{
						CPU:     cpu,
						Core:    core,
						Module:  core / 2,
						Die:     die,
						Node:    0,
						Package: pkg,
						Flags:   []string{"hwp", "msr"},
						Class:   ClassStandard,
					})
				}
			}
		}
	}
	topo, err := NewTopology(VFM{Vendor: VendorIntel, Family: 6, Model: ModelSkylakeX}, 5, descriptors)
	require.NoError(t, err)
	return topo
}

func TestGetCPUSiblingsPackageScope(t *testing.T) {
	topo := twoPackageTopology(t)

	siblings, err := topo.GetCPUSiblings(0, ScopePackage)
	require.NoError(t, err)
	sort.Ints(siblings)
	require.Len(t, siblings, 8)
	for _, cpu := range siblings {
		require.Less(t, cpu, 16)
	}

	siblings, err = topo.GetCPUSiblings(16, ScopePackage)
	require.NoError(t, err)
	for _, cpu := range siblings {
		require.GreaterOrEqual(t, cpu, 16)
	}
}

func TestGetCPUSiblingsCoreScope(t *testing.T) {
	topo := twoPackageTopology(t)

	// CPUs 0 and 1 are the two threads of core 0, package 0.
	siblings, err := topo.GetCPUSiblings(0, ScopeCore)
	require.NoError(t, err)
	sort.Ints(siblings)
	require.Equal(t, []int{0, 1}, siblings)
}

func TestGetCPUSiblingsUnknownCPU(t *testing.T) {
	topo := twoPackageTopology(t)
	_, err := topo.GetCPUSiblings(999, ScopePackage)
	require.Error(t, err)
}

func TestScopeOrdering(t *testing.T) {
	require.True(t, ScopePackage.Wider(ScopeCPU))
	require.False(t, ScopeCPU.Wider(ScopePackage))
	require.True(t, ScopeDie.Wider(ScopeDie))
}

func TestIsCascadeLakeAP(t *testing.T) {
	topo := twoPackageTopology(t)
	// Single die per package in the fixture: not Cascade Lake-AP.
	require.False(t, IsCascadeLakeAP(topo))

	var descriptors []CPUDescriptor
	for die := 0; die < 2; die++ {
		for core := 0; core < 2; core++ {
			cpu := die*2 + core
			descriptors = append(descriptors, CPUDescriptor{
				CPU: cpu, Core: core, Die: die, Package: 0, Class: ClassStandard,
			})
		}
	}
	clxap, err := NewTopology(VFM{Vendor: VendorIntel, Family: 6, Model: ModelSkylakeX}, 6, descriptors)
	require.NoError(t, err)
	require.True(t, IsCascadeLakeAP(clxap))
}

func TestCPUFlags(t *testing.T) {
	topo := twoPackageTopology(t)
	flags, err := topo.CPUFlags(0)
	require.NoError(t, err)
	require.True(t, flags.Contains("hwp"))
}

func TestHybridDetection(t *testing.T) {
	descriptors := []CPUDescriptor{
		{CPU: 0, Package: 0, Class: ClassPCore},
		{CPU: 1, Package: 0, Class: ClassECore},
	}
	topo, err := NewTopology(VFM{Vendor: VendorIntel, Family: 6, Model: ModelAlderLake}, 1, descriptors)
	require.NoError(t, err)
	require.True(t, topo.Hybrid())
}
