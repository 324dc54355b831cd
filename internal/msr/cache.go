// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package msr

import (
	"sync"

	"pepc/internal/cpuinfo"
)

type cacheKey struct {
	addr uint32
	cpu  int
}

// PerCpuCache is a scope-aware write-through cache of (register
// address, CPU) -> raw 64-bit value. Inserting a value at a given
// scope fans it out to every sibling CPU at that scope; removing does
// the reverse. The disable switch turns every operation into a no-op
// and forces reads through to hardware.
type PerCpuCache struct {
	mu      sync.Mutex
	cpuinfo cpuinfo.CpuInfo
	enabled bool
	data    map[cacheKey]uint64
}

// NewPerCpuCache creates a cache that resolves sibling sets through ci.
func NewPerCpuCache(ci cpuinfo.CpuInfo, enabled bool) *PerCpuCache {
	return &PerCpuCache{cpuinfo: ci, enabled: enabled, data: make(map[cacheKey]uint64)}
}

func (c *PerCpuCache) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *PerCpuCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.data = make(map[cacheKey]uint64)
	}
}

// Add inserts value for cpu at scope, and for every sibling of cpu at
// that scope.
func (c *PerCpuCache) Add(addr uint32, cpu int, value uint64, scope cpuinfo.Scope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return nil
	}
	siblings, err := c.cpuinfo.GetCPUSiblings(cpu, scope)
	if err != nil {
		return err
	}
	for _, sibling := range siblings {
		c.data[cacheKey{addr: addr, cpu: sibling}] = value
	}
	return nil
}

// Remove invalidates addr for cpu and every sibling of cpu at scope.
func (c *PerCpuCache) Remove(addr uint32, cpu int, scope cpuinfo.Scope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return nil
	}
	siblings, err := c.cpuinfo.GetCPUSiblings(cpu, scope)
	if err != nil {
		return err
	}
	for _, sibling := range siblings {
		delete(c.data, cacheKey{addr: addr, cpu: sibling})
	}
	return nil
}

// IsCached reports whether addr is cached for cpu.
func (c *PerCpuCache) IsCached(addr uint32, cpu int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return false
	}
	_, ok := c.data[cacheKey{addr: addr, cpu: cpu}]
	return ok
}

// Get returns the cached value for (addr, cpu), if any.
func (c *PerCpuCache) Get(addr uint32, cpu int) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return 0, false
	}
	v, ok := c.data[cacheKey{addr: addr, cpu: cpu}]
	return v, ok
}
