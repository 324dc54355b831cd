package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"pepc/internal/cpuinfo"
	"pepc/internal/executor"
	"pepc/internal/tpmispec"
)

// The fixture below has no relationship to any real platform's TPMI
// register layout: no such data ships in this repository, only the
// textual mem_dump/mem_write protocol and the spec file format. It
// reproduces the shape of a two-socket host exposing tpmi_info, rapl
// and ufs, plus one feature ID debugfs exposes but no spec describes,
// with values chosen so the test can recompute what it expects by
// applying the same bit-packing the fields declare rather than by
// transcribing hex by hand.

const addr1 = "0000:00:02.1"
const addr2 = "0001:00:02.1"

const tpmiInfoYAML = `name: tpmi_info
desc: TPMI bus information
feature_id: 0
registers:
  TPMI_BUS_INFO:
    offset: 0
    width: 32
    fields:
      INTERFACE_VERSION:
        bits: "7:0"
        readonly: true
        desc: Interface version.
      PACKAGE_ID:
        bits: "15:8"
        readonly: true
        desc: Package this device belongs to.
`

const raplYAML = `name: rapl
desc: Running average power limit
feature_id: 3
registers:
  RAPL_HEADER:
    offset: 0
    width: 32
    fields:
      INTERFACE_VERSION:
        bits: "7:0"
        readonly: true
        desc: Interface version.
  SOCKET_RAPL_ENERGY_STATUS:
    offset: 8
    width: 64
    fields:
      ENERGY:
        bits: "31:0"
        readonly: true
        desc: Accumulated socket energy.
`

const ufsYAML = `name: ufs
desc: Uncore frequency scaling
feature_id: 2
registers:
  UFS_HEADER:
    offset: 0
    width: 64
    fields:
      INTERFACE_VERSION:
        bits: "7:0"
        readonly: true
        desc: Interface version.
      LOCAL_FABRIC_CLUSTER_ID_MASK:
        bits: "15:8"
        readonly: true
        desc: Bitmask of clusters present at this instance.
  UFS_FABRIC_CLUSTER_OFFSET:
    offset: 8
    width: 64
    fields:
      FABRIC_CLUSTER_OFFSET:
        bits: "63:0"
        readonly: true
        desc: Packed per-cluster offset table, one byte per cluster.
  UFS_STATUS:
    offset: 16
    width: 64
    fields:
      AGENT_TYPE_IO:
        bits: "0:0"
        readonly: true
        desc: Whether this agent is I/O.
      AGENT_TYPE_CORE:
        bits: "1:1"
        readonly: true
        desc: Whether this agent is core.
      CURRENT_RATIO:
        bits: "21:14"
        readonly: true
        desc: Current uncore ratio.
  UFS_CONTROL:
    offset: 24
    width: 32
    fields:
      MAX_RATIO:
        bits: "7:0"
        readonly: false
        desc: Maximum requested ratio.
`

func tpmiInfoWord(pkg uint32) uint32   { return pkg << 8 }
func ufsHeaderWord(mask uint32) uint32 { return mask << 8 }
func fabricOffsetWord(idx0, idx1 uint32) uint32 {
	return idx0 | idx1<<8
}
func ufsStatusWord(ratio, io, core uint32) uint32 {
	return io | core<<1 | ratio<<14
}

func dumpLine(offset uint32, words ...uint32) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = fmt.Sprintf("%08x", w)
	}
	return fmt.Sprintf(" %x: %s\n", offset, strings.Join(parts, " "))
}

func instanceHeader(instance int, offset uint32) string {
	return fmt.Sprintf("TPMI Instance:%d offset:%#x\n", instance, offset)
}

const clusterIdx0 = 2 // byte offset 16
const clusterIdx1 = 4 // byte offset 32

func writeSpecTree(t *testing.T, vfm cpuinfo.VFM) string {
	t.Helper()
	root := t.TempDir()
	platform := filepath.Join(root, "platform")
	require.NoError(t, os.MkdirAll(platform, 0o755))

	index := fmt.Sprintf("version: \"1.0\"\nvfms:\n  %d:\n    subdir: platform\n    platform_name: TESTPLATFORM\n", tpmispec.VfmKey(vfm))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.yml"), []byte(index), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(platform, "tpmi_info.yml"), []byte(tpmiInfoYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(platform, "rapl.yml"), []byte(raplYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(platform, "ufs.yml"), []byte(ufsYAML), 0o644))
	return root
}

// buildFixture lays out an emulated debugfs tree with two TPMI PCI
// devices and returns the executor plus the test VFM.
func buildFixture(t *testing.T) (*executor.Emulated, cpuinfo.VFM) {
	t.Helper()
	base := t.TempDir()
	vfm := cpuinfo.VFM{Vendor: cpuinfo.VendorIntel, Family: 6, Model: 0xAA}

	mkFeatureDir := func(addr string, fid uint8) string {
		dir := filepath.Join(base, "tpmi-"+addr, fmt.Sprintf("tpmi-id-%02x", fid))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "mem_dump"), nil, 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "mem_write"), nil, 0o644))
		return dir
	}

	mkFeatureDir(addr1, 0x00)
	mkFeatureDir(addr1, 0x02)
	mkFeatureDir(addr1, 0x03)
	mkFeatureDir(addr1, 0xFE)
	mkFeatureDir(addr2, 0x00)
	mkFeatureDir(addr2, 0x02)

	ex := executor.NewEmulated(base)

	ex.Seed("/tpmi-"+addr1+"/tpmi-id-00/mem_dump", []byte(
		instanceHeader(0, 0x10000)+dumpLine(0, tpmiInfoWord(0)),
	))
	ex.Seed("/tpmi-"+addr2+"/tpmi-id-00/mem_dump", []byte(
		instanceHeader(0, 0x10000)+dumpLine(0, tpmiInfoWord(1)),
	))

	ex.Seed("/tpmi-"+addr1+"/tpmi-id-03/mem_dump", []byte(
		instanceHeader(0, 0x20000)+dumpLine(0, 0, 0, 0x9abcdef0, 0x12345678),
	))

	ex.Seed("/tpmi-"+addr1+"/tpmi-id-02/mem_dump", []byte(
		instanceHeader(0, 0x30000)+
			dumpLine(0, ufsHeaderWord(1), 0, fabricOffsetWord(clusterIdx0, clusterIdx1), 0)+
			dumpLine(0x10, ufsStatusWord(16, 1, 0), 0, 0x00000077)+
			instanceHeader(2, 0x30100)+
			dumpLine(0, ufsHeaderWord(3), 0, fabricOffsetWord(clusterIdx0, clusterIdx1), 0)+
			dumpLine(0x10, ufsStatusWord(32, 1, 0), 0, 0x00000055)+
			dumpLine(0x20, ufsStatusWord(8, 0, 1), 0, 0x00000066),
	))
	ex.Seed("/tpmi-"+addr2+"/tpmi-id-02/mem_dump", []byte(
		instanceHeader(2, 0x30100)+
			dumpLine(0, ufsHeaderWord(3), 0, fabricOffsetWord(clusterIdx0, clusterIdx1), 0)+
			dumpLine(0x10, ufsStatusWord(48, 1, 1), 0, 0x00000011)+
			dumpLine(0x20, ufsStatusWord(4, 0, 0), 0, 0x00000022),
	))

	return ex, vfm
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ex, vfm := buildFixture(t)
	specRoot := writeSpecTree(t, vfm)
	eng, err := NewEngine(ex, "", []string{specRoot}, vfm, false)
	require.NoError(t, err)
	return eng
}

func TestNewEngineDiscoversFeaturesAndPackages(t *testing.T) {
	eng := newTestEngine(t)
	require.Equal(t, []string{"rapl", "tpmi_info", "ufs"}, eng.KnownFeatures())
	require.Equal(t, []uint8{0xFE}, eng.UnknownFeatureIDs())

	pkg1, ok := eng.Package("ufs", addr1)
	require.True(t, ok)
	require.Equal(t, 0, pkg1)
	pkg2, ok := eng.Package("ufs", addr2)
	require.True(t, ok)
	require.Equal(t, 1, pkg2)
}

func TestReadRegisterTpmiInfoPackageID(t *testing.T) {
	eng := newTestEngine(t)
	v, err := eng.ReadRegister("tpmi_info", addr1, 0, 0, "TPMI_BUS_INFO", "PACKAGE_ID")
	require.NoError(t, err)
	require.Equal(t, uint64(0), v)

	v, err = eng.ReadRegister("tpmi_info", addr2, 0, 0, "TPMI_BUS_INFO", "PACKAGE_ID")
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)
}

func TestReadRegisterRapl64Bit(t *testing.T) {
	eng := newTestEngine(t)
	v, err := eng.ReadRegister("rapl", addr1, 0, 0, "SOCKET_RAPL_ENERGY_STATUS", "")
	require.NoError(t, err)
	require.Equal(t, uint64(0x9abcdef0)|uint64(0x12345678)<<32, v)

	energy, err := eng.ReadRegister("rapl", addr1, 0, 0, "SOCKET_RAPL_ENERGY_STATUS", "ENERGY")
	require.NoError(t, err)
	require.Equal(t, uint64(0x9abcdef0), energy)
}

func TestReadUFSClusterRegisters(t *testing.T) {
	eng := newTestEngine(t)

	ratio, err := eng.ReadRegister("ufs", addr1, 2, 0, "UFS_STATUS", "CURRENT_RATIO")
	require.NoError(t, err)
	require.Equal(t, uint64(32), ratio)

	ratio, err = eng.ReadRegister("ufs", addr1, 2, 1, "UFS_STATUS", "CURRENT_RATIO")
	require.NoError(t, err)
	require.Equal(t, uint64(8), ratio)

	io, err := eng.ReadRegister("ufs", addr1, 2, 1, "UFS_STATUS", "AGENT_TYPE_IO")
	require.NoError(t, err)
	require.Equal(t, uint64(0), io)
	core, err := eng.ReadRegister("ufs", addr1, 2, 1, "UFS_STATUS", "AGENT_TYPE_CORE")
	require.NoError(t, err)
	require.Equal(t, uint64(1), core)

	ratio, err = eng.ReadRegister("ufs", addr1, 0, 0, "UFS_STATUS", "CURRENT_RATIO")
	require.NoError(t, err)
	require.Equal(t, uint64(16), ratio)

	_, err = eng.ReadRegister("ufs", addr1, 0, 1, "UFS_STATUS", "CURRENT_RATIO")
	require.Error(t, err)
}

func TestWriteUFSControlRoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	err := eng.WriteRegister("ufs", addr1, 2, 0, "UFS_CONTROL", "MAX_RATIO", 0x30)
	require.NoError(t, err)

	data, err := eng.exec.Read("/tpmi-" + addr1 + "/tpmi-id-02/mem_write")
	require.NoError(t, err)
	require.Equal(t, "2,0x18,0x30", string(data))
}

func TestWriteRejectsReadOnlyRegister(t *testing.T) {
	eng := newTestEngine(t)
	err := eng.WriteRegister("ufs", addr1, 2, 0, "UFS_STATUS", "CURRENT_RATIO", 5)
	require.Error(t, err)
}

func TestWriteRejectsOutOfRangeValue(t *testing.T) {
	eng := newTestEngine(t)
	err := eng.WriteRegister("ufs", addr1, 2, 0, "UFS_CONTROL", "MAX_RATIO", 0x1FF)
	require.Error(t, err)
}

func TestIterFeatureListsEveryLiveInstance(t *testing.T) {
	eng := newTestEngine(t)
	locs, err := eng.IterFeature("ufs", nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, locs, 3)
	require.Equal(t, Location{Package: 0, Addr: addr1, Instance: 0}, locs[0])
	require.Equal(t, Location{Package: 0, Addr: addr1, Instance: 2}, locs[1])
	require.Equal(t, Location{Package: 1, Addr: addr2, Instance: 2}, locs[2])
}

func TestIterFeatureClusterCoversUFSClusters(t *testing.T) {
	eng := newTestEngine(t)
	locs, err := eng.IterFeatureCluster("ufs", []string{addr1}, nil, []int{2}, nil)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	require.Equal(t, 0, locs[0].Cluster)
	require.Equal(t, 1, locs[1].Cluster)
}

func TestIterFeatureClusterRejectsNonzeroOnNonUFS(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.IterFeatureCluster("rapl", nil, nil, nil, []int{1})
	require.Error(t, err)
}

func TestReadOnlyEngineRejectsWrite(t *testing.T) {
	ex, vfm := buildFixture(t)
	specRoot := writeSpecTree(t, vfm)
	eng, err := NewEngine(ex, "", []string{specRoot}, vfm, true)
	require.NoError(t, err)

	err = eng.WriteRegister("ufs", addr1, 2, 0, "UFS_CONTROL", "MAX_RATIO", 1)
	require.Error(t, err)
}
