// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

/*
Package msr implements the cached, scope-aware MSR access engine: raw
64-bit reads/writes over /dev/cpu/<n>/msr, transaction batching with
read-back verification, and the pure bit-field helpers featured MSRs
build on.
*/
package msr

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"pepc/internal/cpuinfo"
	"pepc/internal/executor"
	"pepc/internal/pepcerr"
	"pepc/internal/telemetry"
)

// CPUValue pairs a CPU with the value read from or written to it.
type CPUValue struct {
	CPU   int
	Value uint64
}

// MsrEngine is the single owner of a cache and a transaction buffer
// over one Executor. It borrows a CpuInfo for scope resolution. It has
// no Close method: its own state goes away with the engine, and it
// never closes the CpuInfo or the Executor, both of which may be
// shared.
type MsrEngine struct {
	cpuinfo  cpuinfo.CpuInfo
	exec     executor.Executor
	cache    *PerCpuCache
	counters *telemetry.Counters

	inTransaction bool
	tbuf          map[tbufKey]pendingWrite
}

// NewMsrEngine creates an engine. enableCache controls whether the
// write-through cache (and therefore transactions) is active.
func NewMsrEngine(ci cpuinfo.CpuInfo, ex executor.Executor, enableCache bool) *MsrEngine {
	return &MsrEngine{
		cpuinfo: ci,
		exec:    ex,
		cache:   NewPerCpuCache(ci, enableCache),
		tbuf:    make(map[tbufKey]pendingWrite),
	}
}

// SetCounters wires an optional telemetry sink; nil disables counting.
func (e *MsrEngine) SetCounters(c *telemetry.Counters) {
	e.counters = c
}

func msrPath(cpu int) string {
	return fmt.Sprintf("/dev/cpu/%d/msr", cpu)
}

func (e *MsrEngine) readHardware(cpu int, addr uint32) (uint64, error) {
	e.counters.MSRRead(fmt.Sprintf("%#x", addr))
	f, err := e.exec.Open(msrPath(cpu), executor.ReadOnly)
	if err != nil {
		return 0, pepcerr.WithHostMsg(
			pepcerr.Wrap(err, pepcerr.KindIoError, "failed to open MSR device for CPU %d", cpu),
			e.exec.HostMsg())
	}
	defer f.Close()

	var buf [8]byte
	if _, err := f.ReadAt(buf[:], int64(addr)); err != nil {
		return 0, pepcerr.WithHostMsg(
			pepcerr.Wrap(err, pepcerr.KindIoError, "failed to read MSR %#x on CPU %d", addr, cpu),
			e.exec.HostMsg())
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (e *MsrEngine) writeHardware(cpu int, addr uint32, value uint64) error {
	e.counters.MSRWrite(fmt.Sprintf("%#x", addr))
	f, err := e.exec.Open(msrPath(cpu), executor.ReadWrite)
	if err != nil {
		return pepcerr.WithHostMsg(
			pepcerr.Wrap(err, pepcerr.KindIoError, "failed to open MSR device for CPU %d", cpu),
			e.exec.HostMsg())
	}
	defer f.Close()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	if _, err := f.WriteAt(buf[:], int64(addr)); err != nil {
		return pepcerr.WithHostMsg(
			pepcerr.Wrap(err, pepcerr.KindIoError, "failed to write MSR %#x on CPU %d", addr, cpu),
			e.exec.HostMsg())
	}
	return nil
}

// Read returns the value of addr for every CPU in cpus, in the order
// given. Siblings at iosname scope are read from hardware at most
// once: after the first CPU of a group is read, the cache already
// holds the value for the rest of the group.
func (e *MsrEngine) Read(addr uint32, cpus []int, iosname cpuinfo.Scope) ([]CPUValue, error) {
	out := make([]CPUValue, 0, len(cpus))
	for _, cpu := range cpus {
		if v, ok := e.cache.Get(addr, cpu); ok {
			out = append(out, CPUValue{CPU: cpu, Value: v})
			continue
		}
		v, err := e.readHardware(cpu, addr)
		if err != nil {
			return nil, err
		}
		if err := e.cache.Add(addr, cpu, v, iosname); err != nil {
			return nil, err
		}
		out = append(out, CPUValue{CPU: cpu, Value: v})
	}
	return out, nil
}

// ReadCPU is the single-CPU convenience form of Read.
func (e *MsrEngine) ReadCPU(addr uint32, cpu int, iosname cpuinfo.Scope) (uint64, error) {
	vs, err := e.Read(addr, []int{cpu}, iosname)
	if err != nil {
		return 0, err
	}
	return vs[0].Value, nil
}

// Write sets addr to value for every CPU in cpus. A CPU whose cached
// value already equals value is skipped. Inside a transaction, writes
// are diverted to the transaction buffer instead of touching
// hardware, though the cache is still updated immediately.
func (e *MsrEngine) Write(addr uint32, value uint64, cpus []int, iosname cpuinfo.Scope, verify bool) error {
	for _, cpu := range cpus {
		if v, ok := e.cache.Get(addr, cpu); ok && v == value {
			continue
		}
		if e.inTransaction {
			if err := e.enqueue(cpu, addr, value, iosname, verify); err != nil {
				return err
			}
			if err := e.cache.Add(addr, cpu, value, iosname); err != nil {
				return err
			}
			continue
		}
		if err := e.writeHardware(cpu, addr, value); err != nil {
			return err
		}
		if err := e.cache.Add(addr, cpu, value, iosname); err != nil {
			return err
		}
		if verify {
			if err := e.verifyOne(cpu, addr, value, iosname); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteCPU is the single-CPU convenience form of Write.
func (e *MsrEngine) WriteCPU(addr uint32, value uint64, cpu int, iosname cpuinfo.Scope, verify bool) error {
	return e.Write(addr, value, []int{cpu}, iosname, verify)
}

// ReadBits reads addr for cpus and extracts bits from each value.
func (e *MsrEngine) ReadBits(addr uint32, bits Bits, cpus []int, iosname cpuinfo.Scope) ([]CPUValue, error) {
	vs, err := e.Read(addr, cpus, iosname)
	if err != nil {
		return nil, err
	}
	out := make([]CPUValue, len(vs))
	for i, v := range vs {
		out[i] = CPUValue{CPU: v.CPU, Value: GetBits(v.Value, bits)}
	}
	return out, nil
}

// WriteBits patches bits of addr to value for each CPU in cpus,
// preserving the other bits of the current register value.
func (e *MsrEngine) WriteBits(addr uint32, bits Bits, value uint64, cpus []int, iosname cpuinfo.Scope, verify bool) error {
	if err := bits.Validate(); err != nil {
		return pepcerr.Wrap(err, pepcerr.KindBadValue, "invalid bit range")
	}
	if !FitsWidth(value, bits) {
		return pepcerr.New(pepcerr.KindBadValue,
			"value %#x does not fit in %d-bit field %d:%d", value, bits.Width(), bits.Msb, bits.Lsb)
	}
	for _, cpu := range cpus {
		cur, err := e.ReadCPU(addr, cpu, iosname)
		if err != nil {
			return err
		}
		newVal := SetBits(cur, bits, value)
		if err := e.Write(addr, newVal, []int{cpu}, iosname, verify); err != nil {
			return err
		}
	}
	return nil
}

func (e *MsrEngine) verifyOne(cpu int, addr uint32, expected uint64, iosname cpuinfo.Scope) error {
	if err := e.cache.Remove(addr, cpu, iosname); err != nil {
		return err
	}
	actual, err := e.readHardware(cpu, addr)
	if err != nil {
		return err
	}
	if err := e.cache.Add(addr, cpu, actual, iosname); err != nil {
		return err
	}
	if actual != expected {
		e.counters.MSRVerifyFailure(fmt.Sprintf("%#x", addr))
		return pepcerr.NewVerifyFailed(cpu, expected, actual,
			"MSR %#x verification failed on CPU %d: wrote %#x, read back %#x", addr, cpu, expected, actual)
	}
	return nil
}

var errNotInTransaction = errors.New("msr: not in a transaction")

func (e *MsrEngine) log() *slog.Logger { return slog.Default().With("component", "msr") }
