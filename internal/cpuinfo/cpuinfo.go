// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

/*
Package cpuinfo is the minimal concrete CpuInfo realization the core
engines borrow for topology, VFM identification, and per-CPU flags.

CpuInfo is conceptually an external collaborator: the engines in this
module only ever consume the interface below, never a concrete type.
Topology is provided so the engines are runnable and testable without
a full topology-enumeration subsystem, restricted to the Intel-only
platforms this module otherwise targets.
*/
package cpuinfo

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
)

// Scope is the CPU scope enum, smallest to largest, with a total
// order: CPU < Core < Module < Die < Node < Package.
type Scope int

const (
	ScopeCPU Scope = iota
	ScopeCore
	ScopeModule
	ScopeDie
	ScopeNode
	ScopePackage
)

func (s Scope) String() string {
	switch s {
	case ScopeCPU:
		return "CPU"
	case ScopeCore:
		return "core"
	case ScopeModule:
		return "module"
	case ScopeDie:
		return "die"
	case ScopeNode:
		return "node"
	case ScopePackage:
		return "package"
	default:
		return "unknown scope"
	}
}

// Wider reports whether s covers at least as many CPUs as other, i.e.
// whether s sits at or above other in the total order.
func (s Scope) Wider(other Scope) bool { return s >= other }

// VFM is the (vendor, family, model) triple platforms are pattern
// matched on.
type VFM struct {
	Vendor string
	Family int
	Model  int
}

func (v VFM) String() string {
	return fmt.Sprintf("%s family %d model %#x", v.Vendor, v.Family, v.Model)
}

const VendorIntel = "GenuineIntel"

// CPUClass distinguishes hybrid-CPU core types. Standard means the
// platform has no P-core/E-core split.
type CPUClass int

const (
	ClassStandard CPUClass = iota
	ClassPCore
	ClassECore
	ClassLPECore
)

func (c CPUClass) String() string {
	switch c {
	case ClassPCore:
		return "pcore"
	case ClassECore:
		return "ecore"
	case ClassLPECore:
		return "lpecore"
	default:
		return "standard"
	}
}

// CpuInfo is the topology contract every core engine borrows: package,
// core, module, die and node lists; CPU-to-sibling mapping at any
// scope; VFM; per-CPU /proc/cpuinfo flags; hybrid classification.
type CpuInfo interface {
	VFM() VFM
	Stepping() int
	CPUs() []int
	Packages() []int
	// GetCPUSiblings returns every CPU, including cpu itself, that
	// shares scope with cpu. O(1) amortized: the implementation
	// precomputes the grouping at construction time.
	GetCPUSiblings(cpu int, scope Scope) ([]int, error)
	CPUFlags(cpu int) (mapset.Set[string], error)
	CPUClass(cpu int) (CPUClass, error)
	// Hybrid reports whether the platform exposes more than one
	// CPUClass.
	Hybrid() bool
	// CPUPackage and CPUDie return cpu's package and die number, for
	// callers that address per-die hardware (e.g. uncore frequency).
	CPUPackage(cpu int) (int, error)
	CPUDie(cpu int) (int, error)
}

// CPUDescriptor is one logical CPU's position in the topology.
type CPUDescriptor struct {
	CPU     int
	Core    int
	Module  int
	Die     int
	Node    int
	Package int
	Flags   []string
	Class   CPUClass
}

// Topology is a static, precomputed CpuInfo built from a flat list of
// CPUDescriptor. It never re-derives anything at query time beyond map
// lookups, matching the "O(1) amortized via precomputed tables"
// requirement for GetCPUSiblings.
type Topology struct {
	vfm      VFM
	stepping int
	cpus     []int
	packages []int
	byCPU    map[int]CPUDescriptor
	flags    map[int]mapset.Set[string]
	// groupKey[scope][cpu] identifies which sibling group cpu belongs
	// to at scope; siblings[scope][groupKey] lists the group's CPUs.
	groupKey map[Scope]map[int]int64
	siblings map[Scope]map[int64][]int
	hybrid   bool
}

// NewTopology builds a Topology from descriptors. Descriptors need not
// be sorted; CPUs() and Packages() are returned sorted ascending.
func NewTopology(vfm VFM, stepping int, descriptors []CPUDescriptor) (*Topology, error) {
	if len(descriptors) == 0 {
		return nil, errors.New("cpuinfo: empty topology")
	}

	t := &Topology{
		vfm:      vfm,
		stepping: stepping,
		byCPU:    make(map[int]CPUDescriptor, len(descriptors)),
		flags:    make(map[int]mapset.Set[string], len(descriptors)),
		groupKey: make(map[Scope]map[int]int64),
		siblings: make(map[Scope]map[int64][]int),
	}

	packageSet := mapset.NewSet[int]()
	classSet := mapset.NewSet[CPUClass]()
	for _, d := range descriptors {
		if _, dup := t.byCPU[d.CPU]; dup {
			return nil, errors.Errorf("cpuinfo: duplicate CPU %d in topology", d.CPU)
		}
		t.byCPU[d.CPU] = d
		t.cpus = append(t.cpus, d.CPU)
		t.flags[d.CPU] = mapset.NewSet(d.Flags...)
		packageSet.Add(d.Package)
		classSet.Add(d.Class)
	}
	t.packages = packageSet.ToSlice()
	sort.Ints(t.packages)
	sort.Ints(t.cpus)
	t.hybrid = classSet.Cardinality() > 1

	for _, scope := range []Scope{ScopeCPU, ScopeCore, ScopeModule, ScopeDie, ScopeNode, ScopePackage} {
		keys := make(map[int]int64, len(descriptors))
		groups := make(map[int64][]int)
		for _, d := range descriptors {
			key := scopeKey(scope, d)
			keys[d.CPU] = key
			groups[key] = append(groups[key], d.CPU)
		}
		for key := range groups {
			sort.Ints(groups[key])
		}
		t.groupKey[scope] = keys
		t.siblings[scope] = groups
	}

	return t, nil
}

// scopeKey packs the scope-defining coordinates of d into a single
// comparable key. Coordinates not covered by scope are folded in from
// wider scopes so that, e.g., two modules in different packages never
// collide.
func scopeKey(scope Scope, d CPUDescriptor) int64 {
	switch scope {
	case ScopeCPU:
		return int64(d.CPU)
	case ScopeCore:
		return pack(d.Package, d.Node, d.Die, d.Module, d.Core)
	case ScopeModule:
		return pack(d.Package, d.Node, d.Die, d.Module, 0)
	case ScopeDie:
		return pack(d.Package, d.Node, d.Die, 0, 0)
	case ScopeNode:
		return pack(d.Package, d.Node, 0, 0, 0)
	case ScopePackage:
		return pack(d.Package, 0, 0, 0, 0)
	default:
		return int64(d.CPU)
	}
}

func pack(a, b, c, d, e int) int64 {
	return (int64(a) << 48) | (int64(b&0xFFFF) << 32) | (int64(c&0xFFFF) << 16) |
		(int64(d&0xFF) << 8) | int64(e&0xFF)
}

func (t *Topology) VFM() VFM       { return t.vfm }
func (t *Topology) Stepping() int  { return t.stepping }
func (t *Topology) Hybrid() bool   { return t.hybrid }
func (t *Topology) CPUs() []int    { return append([]int(nil), t.cpus...) }
func (t *Topology) Packages() []int { return append([]int(nil), t.packages...) }

func (t *Topology) GetCPUSiblings(cpu int, scope Scope) ([]int, error) {
	groups, ok := t.siblings[scope]
	if !ok {
		return nil, errors.Errorf("cpuinfo: unknown scope %v", scope)
	}
	key, ok := t.groupKey[scope][cpu]
	if !ok {
		return nil, errors.Errorf("cpuinfo: CPU %d not in topology", cpu)
	}
	return append([]int(nil), groups[key]...), nil
}

func (t *Topology) CPUFlags(cpu int) (mapset.Set[string], error) {
	flags, ok := t.flags[cpu]
	if !ok {
		return nil, errors.Errorf("cpuinfo: CPU %d not in topology", cpu)
	}
	return flags.Clone(), nil
}

func (t *Topology) CPUClass(cpu int) (CPUClass, error) {
	d, ok := t.byCPU[cpu]
	if !ok {
		return ClassStandard, errors.Errorf("cpuinfo: CPU %d not in topology", cpu)
	}
	return d.Class, nil
}

func (t *Topology) CPUPackage(cpu int) (int, error) {
	d, ok := t.byCPU[cpu]
	if !ok {
		return 0, errors.Errorf("cpuinfo: CPU %d not in topology", cpu)
	}
	return d.Package, nil
}

func (t *Topology) CPUDie(cpu int) (int, error) {
	d, ok := t.byCPU[cpu]
	if !ok {
		return 0, errors.Errorf("cpuinfo: CPU %d not in topology", cpu)
	}
	return d.Die, nil
}
