// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package pepc

import (
	"log/slog"
	"os"

	"pepc/internal/cpufreq"
	"pepc/internal/cpuinfo"
	"pepc/internal/executor"
	"pepc/internal/msr"
	"pepc/internal/pstates"
	"pepc/internal/sysfsio"
	"pepc/internal/tpmi"
)

// defaultTpmiSpecDir is where a packaged install drops its TPMI spec
// files, mirroring the Python tool's "share/pepc/tpmi" data directory.
const defaultTpmiSpecDir = "/usr/share/pepc/tpmi"

// tpmiSpecsEnvVar names the environment variable that extends the TPMI
// spec search path with an additional directory.
const tpmiSpecsEnvVar = "PEPC_TPMI_DATA_PATH"

// debugfsMount is the conventional mount point TPMI devices appear under.
const debugfsMount = "/sys/kernel/debug"

// localHost bundles the engines a pstate subcommand needs against the
// machine pepc is running on.
type localHost struct {
	ex       executor.Executor
	topology *cpuinfo.Topology
	pstates  *pstates.PStates
}

// newLocalHost wires the local Executor against a topology read from
// /proc/cpuinfo and every frequency-control mechanism this platform
// exposes, the way cmd.initializeApplication builds one Target per
// run in the teacher.
func newLocalHost() (*localHost, error) {
	ex := executor.NewLocal("")
	topo, err := cpuinfo.FromProcCpuinfo(ex)
	if err != nil {
		return nil, err
	}

	sysfs := cpufreq.NewCpuFreqSysfs(sysfsio.New(ex))
	cppc := cpufreq.NewCppcSysfs(sysfsio.New(ex))

	var hwp *cpufreq.HwpMsr
	me := msr.NewMsrEngine(topo, ex, true)
	me.SetCounters(counters)
	hwp, err = cpufreq.NewHwpMsr(me, topo)
	if err != nil {
		slog.Warn("HWP MSR mechanism unavailable, falling back to sysfs/CPPC only", slog.String("error", err.Error()))
		hwp = nil
	}

	return &localHost{
		ex:       ex,
		topology: topo,
		pstates:  pstates.New(sysfs, hwp, cppc, topo),
	}, nil
}

// tpmiEngine builds a TPMI engine against this host, searching
// defaultTpmiSpecDir and, if set, tpmiSpecsEnvVar's directory for spec
// files matching the host's VFM. readOnly governs whether the caller
// intends only to read registers.
func (h *localHost) tpmiEngine(readOnly bool) (*tpmi.Engine, error) {
	specDirs := []string{defaultTpmiSpecDir}
	if extra := os.Getenv(tpmiSpecsEnvVar); extra != "" {
		specDirs = append([]string{extra}, specDirs...)
	}
	eng, err := tpmi.NewEngine(h.ex, debugfsMount, specDirs, h.topology.VFM(), readOnly)
	if err != nil {
		return nil, err
	}
	eng.SetCounters(counters)
	return eng, nil
}
