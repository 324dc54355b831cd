// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

/*
Package noncompdies discovers UFS-only (non-compute) dies: dies that
have uncore frequency scaling hardware but no CPUs, invisible to the
Linux topology subsystem and only discoverable through TPMI's UFS
feature.
*/
package noncompdies

import (
	"sort"
	"strings"

	"pepc/internal/tpmi"
)

const ufsFeature = "ufs"

// agentTypes lists every agent type a UFS cluster can report, in the
// fixed order titles are built from.
var agentTypes = []string{"core", "cache", "io", "memory"}

// Die describes one non-compute die.
type Die struct {
	Package    int
	Die        int
	AgentTypes map[string]bool
	// Title is a human label built from AgentTypes, e.g. "Cache and I/O".
	Title string
}

// Discover iterates every live UFS instance/cluster on eng and returns
// every die whose UFS_STATUS.AGENT_TYPE_CORE bit is clear (a die with
// CPUs is a compute die and is skipped), keyed by package number.
func Discover(eng *tpmi.Engine) (map[int][]Die, error) {
	locs, err := eng.IterFeatureCluster(ufsFeature, nil, nil, nil, nil)
	if err != nil {
		return nil, err
	}

	out := make(map[int][]Die)
	for _, loc := range locs {
		isCore, err := eng.ReadRegister(ufsFeature, loc.Addr, loc.Instance, loc.Cluster, "UFS_STATUS", "AGENT_TYPE_CORE")
		if err != nil {
			return nil, err
		}
		if isCore != 0 {
			continue
		}

		die := loc.Instance + loc.Cluster
		present := make(map[string]bool, len(agentTypes))
		for _, at := range agentTypes {
			v, err := eng.ReadRegister(ufsFeature, loc.Addr, loc.Instance, loc.Cluster, "UFS_STATUS", "AGENT_TYPE_"+strings.ToUpper(at))
			if err != nil {
				return nil, err
			}
			if v != 0 {
				present[at] = true
			}
		}

		out[loc.Package] = append(out[loc.Package], Die{
			Package:    loc.Package,
			Die:        die,
			AgentTypes: present,
			Title:      title(present),
		})
	}

	for pkg := range out {
		sort.Slice(out[pkg], func(i, j int) bool { return out[pkg][i].Die < out[pkg][j].Die })
	}
	return out, nil
}

// title renders present as "x", "x and y", or "x, y, and z", first
// letter capitalized and "io" spelled "I/O".
func title(present map[string]bool) string {
	var agents []string
	for _, at := range agentTypes {
		if !present[at] {
			continue
		}
		if at == "io" {
			agents = append(agents, "I/O")
		} else {
			agents = append(agents, at)
		}
	}
	if len(agents) == 0 {
		return ""
	}

	var joined string
	switch len(agents) {
	case 1:
		joined = agents[0]
	case 2:
		joined = agents[0] + " and " + agents[1]
	default:
		joined = strings.Join(agents[:len(agents)-1], ", ") + ", and " + agents[len(agents)-1]
	}
	return strings.ToUpper(joined[:1]) + joined[1:]
}

// DieSets renders Discover's result as package -> set-of-die-numbers,
// for callers that only need membership, not the agent-type detail.
func DieSets(dies map[int][]Die) map[int]map[int]bool {
	out := make(map[int]map[int]bool, len(dies))
	for pkg, list := range dies {
		set := make(map[int]bool, len(list))
		for _, d := range list {
			set[d.Die] = true
		}
		out[pkg] = set
	}
	return out
}
