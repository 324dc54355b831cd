// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package msr

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"pepc/internal/cpuinfo"
	"pepc/internal/executor"
)

func packageTopology(t *testing.T) *cpuinfo.Topology {
	t.Helper()
	descriptors := []cpuinfo.CPUDescriptor{
		{CPU: 0, Core: 0, Package: 0},
		{CPU: 1, Core: 1, Package: 0},
		{CPU: 2, Core: 0, Package: 1},
	}
	topo, err := cpuinfo.NewTopology(cpuinfo.VFM{Vendor: cpuinfo.VendorIntel, Family: 6, Model: 85}, 1, descriptors)
	require.NoError(t, err)
	return topo
}

func seedMsr(ex *executor.Emulated, cpu int, value uint64) {
	var buf [4096]byte
	binary.LittleEndian.PutUint64(buf[0x1A0:], value)
	ex.Seed("/dev/cpu/"+itoaTest(cpu)+"/msr", buf[:])
}

func itoaTest(v int) string {
	if v == 0 {
		return "0"
	}
	s := ""
	for v > 0 {
		s = string(rune('0'+v%10)) + s
		v /= 10
	}
	return s
}

func TestReadCachesSiblingsAtPackageScope(t *testing.T) {
	topo := packageTopology(t)
	ex := executor.NewEmulated("")
	seedMsr(ex, 0, 0x42)
	seedMsr(ex, 1, 0x99) // should never be read: package-scope fan-out covers it from CPU 0.

	engine := NewMsrEngine(topo, ex, true)
	vs, err := engine.Read(0x1A0, []int{0, 1}, cpuinfo.ScopePackage)
	require.NoError(t, err)
	require.Equal(t, uint64(0x42), vs[0].Value)
	require.Equal(t, uint64(0x42), vs[1].Value, "CPU 1 should have been served from the package-scope cache fanout")
}

func TestWriteSkipsWhenCacheAlreadyMatches(t *testing.T) {
	topo := packageTopology(t)
	ex := executor.NewEmulated("")
	seedMsr(ex, 0, 0x1)

	engine := NewMsrEngine(topo, ex, true)
	require.NoError(t, engine.Write(0x1A0, 0x1, []int{0}, cpuinfo.ScopeCPU, false))

	// Corrupt hardware out-of-band; since the cache already agrees with the
	// requested value, Write must not touch hardware again.
	seedMsr(ex, 0, 0xDEAD)
	require.NoError(t, engine.Write(0x1A0, 0x1, []int{0}, cpuinfo.ScopeCPU, false))

	v, err := engine.readHardware(0, 0x1A0)
	require.NoError(t, err)
	require.Equal(t, uint64(0xDEAD), v, "hardware should be untouched by the second, redundant write")
}

func TestWriteVerifySucceedsOnEmulatedBackend(t *testing.T) {
	topo := packageTopology(t)
	ex := executor.NewEmulated("")
	seedMsr(ex, 0, 0)

	engine := NewMsrEngine(topo, ex, true)
	require.NoError(t, engine.Write(0x1A0, 0x7, []int{0}, cpuinfo.ScopeCPU, true))

	v, err := engine.ReadCPU(0x1A0, 0, cpuinfo.ScopeCPU)
	require.NoError(t, err)
	require.Equal(t, uint64(0x7), v)
}

func TestReadBitsAndWriteBits(t *testing.T) {
	topo := packageTopology(t)
	ex := executor.NewEmulated("")
	seedMsr(ex, 0, 0)

	engine := NewMsrEngine(topo, ex, true)
	bits := Bits{Msb: 15, Lsb: 8}
	require.NoError(t, engine.WriteBits(0x1A0, bits, 0xAB, []int{0}, cpuinfo.ScopeCPU, false))

	vs, err := engine.ReadBits(0x1A0, bits, []int{0}, cpuinfo.ScopeCPU)
	require.NoError(t, err)
	require.Equal(t, uint64(0xAB), vs[0].Value)
}

func TestWriteBitsRejectsOversizedValue(t *testing.T) {
	topo := packageTopology(t)
	ex := executor.NewEmulated("")
	seedMsr(ex, 0, 0)
	engine := NewMsrEngine(topo, ex, true)

	err := engine.WriteBits(0x1A0, Bits{Msb: 3, Lsb: 0}, 0x10, []int{0}, cpuinfo.ScopeCPU, false)
	require.Error(t, err)
}

func TestTransactionFlushAndCommit(t *testing.T) {
	topo := packageTopology(t)
	ex := executor.NewEmulated("")
	seedMsr(ex, 0, 0)
	seedMsr(ex, 2, 0)

	engine := NewMsrEngine(topo, ex, true)
	require.NoError(t, engine.StartTransaction())
	require.NoError(t, engine.Write(0x1A0, 0x5, []int{0}, cpuinfo.ScopeCPU, true))
	require.NoError(t, engine.Write(0x1A0, 0x6, []int{2}, cpuinfo.ScopeCPU, true))

	// Hardware is untouched until flush/commit.
	v, err := engine.readHardware(0, 0x1A0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), v)

	require.NoError(t, engine.CommitTransaction())

	v, err = engine.readHardware(0, 0x1A0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x5), v)
	v, err = engine.readHardware(2, 0x1A0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x6), v)
}

func TestCommitTransactionWithoutStartFails(t *testing.T) {
	topo := packageTopology(t)
	ex := executor.NewEmulated("")
	engine := NewMsrEngine(topo, ex, true)
	err := engine.CommitTransaction()
	require.Error(t, err)
}

func TestFlushTransactionEmptyBufferIsNoOp(t *testing.T) {
	topo := packageTopology(t)
	ex := executor.NewEmulated("")
	engine := NewMsrEngine(topo, ex, true)
	require.NoError(t, engine.StartTransaction())
	performed, err := engine.FlushTransaction()
	require.NoError(t, err)
	require.False(t, performed)
}

func TestEnqueueRejectsInconsistentRewrite(t *testing.T) {
	topo := packageTopology(t)
	ex := executor.NewEmulated("")
	engine := NewMsrEngine(topo, ex, true)
	require.NoError(t, engine.StartTransaction())
	require.NoError(t, engine.Write(0x1A0, 0x1, []int{0}, cpuinfo.ScopeCPU, true))
	err := engine.Write(0x1A0, 0x2, []int{0}, cpuinfo.ScopeCPU, false)
	require.Error(t, err)
}
