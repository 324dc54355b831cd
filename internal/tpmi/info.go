package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"sort"

	"pepc/internal/tpmispec"
)

// Fdict returns the fully loaded spec for fname, loading it from disk
// on first request and caching it afterward.
func (e *Engine) Fdict(fname string) (*tpmispec.SpecFile, error) {
	return e.loadSpec(fname)
}

// Sdict returns the partially scanned spec summary for fname (name,
// description, feature ID) without loading its register table.
func (e *Engine) Sdict(fname string) (tpmispec.SDict, bool) {
	sdict, ok := e.sdicts[fname]
	return sdict, ok
}

// Addrs returns the PCI addresses fname is present at, sorted.
func (e *Engine) Addrs(fname string) []string {
	entries, ok := e.fmaps[fname]
	if !ok {
		return nil
	}
	addrs := make([]string, 0, len(entries))
	for addr := range entries {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Package returns the package number fname/addr belongs to.
func (e *Engine) Package(fname, addr string) (int, bool) {
	entries, ok := e.fmaps[fname]
	if !ok {
		return 0, false
	}
	entry, ok := entries[addr]
	if !ok {
		return 0, false
	}
	return entry.Package, true
}
