// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package msr

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"

	"pepc/internal/cpuinfo"
	"pepc/internal/pepcerr"
)

type tbufKey struct {
	cpu  int
	addr uint32
}

type pendingWrite struct {
	value   uint64
	verify  bool
	iosname cpuinfo.Scope
}

// StartTransaction opens a transaction: subsequent writes are buffered
// and flushed together. Requires the cache to be enabled; if it is
// not, this is a no-op that logs a debug note, matching the source's
// behavior of silently accepting transaction calls on a cacheless
// engine.
func (e *MsrEngine) StartTransaction() error {
	if !e.cache.Enabled() {
		e.log().Debug("cache disabled, transaction APIs are no-ops")
		return nil
	}
	if e.inTransaction {
		return pepcerr.New(pepcerr.KindBadOrder, "a transaction is already open")
	}
	e.inTransaction = true
	e.tbuf = make(map[tbufKey]pendingWrite)
	return nil
}

// enqueue adds a pending write, rejecting an inconsistent re-write of
// the same (cpu, addr) key (different verify/iosname), which would
// indicate a bug in the caller.
func (e *MsrEngine) enqueue(cpu int, addr uint32, value uint64, iosname cpuinfo.Scope, verify bool) error {
	key := tbufKey{cpu: cpu, addr: addr}
	if existing, ok := e.tbuf[key]; ok {
		if existing.verify != verify || existing.iosname != iosname {
			return pepcerr.New(pepcerr.KindBadOrder,
				"inconsistent queued write for CPU %d MSR %#x: verify/iosname mismatch", cpu, addr)
		}
	}
	e.tbuf[key] = pendingWrite{value: value, verify: verify, iosname: iosname}
	return nil
}

type verifyGroup struct {
	value   uint64
	addr    uint32
	cpus    []int
	iosname cpuinfo.Scope
}

// FlushTransaction writes every buffered (cpu, addr) pair to hardware
// and verifies the result, without closing the transaction. It
// returns false if caching or the transaction is disabled, or the
// buffer is empty.
func (e *MsrEngine) FlushTransaction() (bool, error) {
	if !e.cache.Enabled() || !e.inTransaction || len(e.tbuf) == 0 {
		return false, nil
	}

	keys := make([]tbufKey, 0, len(e.tbuf))
	for k := range e.tbuf {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].cpu != keys[j].cpu {
			return keys[i].cpu < keys[j].cpu
		}
		return keys[i].addr < keys[j].addr
	})

	if e.exec.IsRemote() {
		if err := e.flushRemote(keys); err != nil {
			return false, err
		}
	} else {
		for _, k := range keys {
			pw := e.tbuf[k]
			if err := e.writeHardware(k.cpu, k.addr, pw.value); err != nil {
				return false, err
			}
		}
	}

	groups := make(map[[2]uint64]*verifyGroup)
	for _, k := range keys {
		pw := e.tbuf[k]
		if !pw.verify {
			continue
		}
		gk := [2]uint64{pw.value, uint64(k.addr)}
		g, ok := groups[gk]
		if !ok {
			g = &verifyGroup{value: pw.value, addr: k.addr, iosname: pw.iosname}
			groups[gk] = g
		}
		g.cpus = append(g.cpus, k.cpu)
	}

	e.tbuf = make(map[tbufKey]pendingWrite)

	for _, g := range groups {
		for _, cpu := range g.cpus {
			if err := e.verifyOne(cpu, g.addr, g.value, g.iosname); err != nil {
				return false, err
			}
		}
	}

	return true, nil
}

// flushRemote performs every buffered write in a single remote
// execution, the only legal batching for a remote Executor. It
// generates a short shell script that rewrites each MSR device file
// at its byte offset; a real SSH-backed Executor would run it in one
// round trip instead of one per write.
func (e *MsrEngine) flushRemote(keys []tbufKey) error {
	script := "set -e\n"
	for _, k := range keys {
		pw := e.tbuf[k]
		script += writeMsrShellLine(k.cpu, k.addr, pw.value)
	}
	res, err := e.exec.Run([]string{"sh", "-c", script})
	if err != nil {
		return pepcerr.WithHostMsg(
			pepcerr.Wrap(err, pepcerr.KindIoError, "remote transaction flush failed"), e.exec.HostMsg())
	}
	if res.ExitCode != 0 {
		return pepcerr.New(pepcerr.KindIoError,
			"remote transaction flush failed: %s", res.Stderr)
	}
	return nil
}

func writeMsrShellLine(cpu int, addr uint32, value uint64) string {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], value)
	escaped := ""
	for _, b := range le {
		escaped += fmt.Sprintf("\\x%02x", b)
	}
	return "printf '" + escaped + "' | dd of=" + msrPath(cpu) +
		" bs=1 seek=" + strconv.Itoa(int(addr)) + " conv=notrunc 2>/dev/null\n"
}

// CommitTransaction flushes every pending write and closes the
// transaction. It is an error to call it outside a transaction.
func (e *MsrEngine) CommitTransaction() error {
	if !e.cache.Enabled() {
		e.log().Debug("cache disabled, transaction APIs are no-ops")
		return nil
	}
	if !e.inTransaction {
		return errNotInTransaction
	}
	if _, err := e.FlushTransaction(); err != nil {
		return err
	}
	e.inTransaction = false
	return nil
}
