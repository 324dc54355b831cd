// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package cpuinfo

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"pepc/internal/executor"
)

// FromProcCpuinfo builds a Topology for a local Intel host by parsing
// /proc/cpuinfo through ex. It is the Local-executor counterpart to
// the descriptor lists tests build by hand: one stanza per logical
// CPU, separated by a blank line, each holding "key\t: value" pairs.
//
// Only "processor", "physical id", "core id" and "flags" are read per
// CPU. No die number is read, so every CPU is treated as die 0 (and
// module 0, node 0), which is correct for every
// non-multi-die-per-package platform and only loses die-level
// granularity (uncore-frequency scoping) on the few that have one.
// Hybrid P-core/E-core classification needs a second source
// (/sys/devices/cpu_core, cpu_atom) this loader does not read, so
// every CPU comes back ClassStandard.
func FromProcCpuinfo(ex executor.Executor) (*Topology, error) {
	raw, err := ex.Read("/proc/cpuinfo")
	if err != nil {
		return nil, errors.Wrap(err, "cpuinfo: failed to read /proc/cpuinfo")
	}

	var descriptors []CPUDescriptor
	var vendor string
	var family, model, stepping int

	for _, stanza := range strings.Split(string(raw), "\n\n") {
		fields := make(map[string]string)
		for _, line := range strings.Split(stanza, "\n") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) != 2 {
				continue
			}
			fields[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
		cpuStr, ok := fields["processor"]
		if !ok {
			continue
		}
		cpu, err := strconv.Atoi(cpuStr)
		if err != nil {
			return nil, errors.Wrapf(err, "cpuinfo: bad processor number %q", cpuStr)
		}

		d := CPUDescriptor{CPU: cpu, Class: ClassStandard}
		if v, ok := fields["physical id"]; ok {
			d.Package, _ = strconv.Atoi(v)
		}
		if v, ok := fields["core id"]; ok {
			d.Core, _ = strconv.Atoi(v)
		}
		if v, ok := fields["flags"]; ok {
			d.Flags = strings.Fields(v)
		}
		descriptors = append(descriptors, d)

		if vendor == "" {
			vendor = fields["vendor_id"]
			family, _ = strconv.Atoi(fields["cpu family"])
			model, _ = strconv.Atoi(fields["model"])
			stepping, _ = strconv.Atoi(fields["stepping"])
		}
	}

	if len(descriptors) == 0 {
		return nil, errors.New("cpuinfo: /proc/cpuinfo has no processor stanzas")
	}
	return NewTopology(VFM{Vendor: vendor, Family: family, Model: model}, stepping, descriptors)
}
