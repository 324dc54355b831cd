// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package pepc

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// parseCPUList expands a "--cpus" argument ("all", "0,2,4", "0-3",
// "0-3,8,10-11") against the CPUs a topology actually reports, the
// way the teacher's flag layer expands comma/range target lists.
func parseCPUList(spec string, all []int) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "all" {
		return all, nil
	}

	valid := make(map[int]bool, len(all))
	for _, c := range all {
		valid[c] = true
	}

	seen := make(map[int]bool)
	var out []int
	add := func(cpu int) error {
		if !valid[cpu] {
			return errors.Errorf("CPU %d does not exist on this host", cpu)
		}
		if !seen[cpu] {
			seen[cpu] = true
			out = append(out, cpu)
		}
		return nil
	}

	for _, field := range strings.Split(spec, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if dash := strings.IndexByte(field, '-'); dash > 0 {
			lo, err := strconv.Atoi(field[:dash])
			if err != nil {
				return nil, errors.Wrapf(err, "bad CPU range %q", field)
			}
			hi, err := strconv.Atoi(field[dash+1:])
			if err != nil {
				return nil, errors.Wrapf(err, "bad CPU range %q", field)
			}
			if hi < lo {
				return nil, errors.Errorf("bad CPU range %q: end before start", field)
			}
			for cpu := lo; cpu <= hi; cpu++ {
				if err := add(cpu); err != nil {
					return nil, err
				}
			}
			continue
		}
		cpu, err := strconv.Atoi(field)
		if err != nil {
			return nil, errors.Wrapf(err, "bad CPU number %q", field)
		}
		if err := add(cpu); err != nil {
			return nil, err
		}
	}

	sort.Ints(out)
	return out, nil
}
