// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

/*
Package sysfsio is a thin, cached, typed wrapper over Executor.Read and
Executor.Write for sysfs nodes: plain-text reads, integer reads/writes,
and a write-then-verify-with-retry helper for nodes the kernel may
normalize or reject silently.
*/
package sysfsio

import (
	"strconv"
	"strings"
	"time"

	"pepc/internal/executor"
	"pepc/internal/pepcerr"
)

// SysfsIO caches path -> content so repeated reads of the same sysfs
// node (e.g. scaling_governor queried for every CPU of a package) do
// not re-open the file. Every write invalidates the path before
// re-populating on the next read-back.
type SysfsIO struct {
	exec  executor.Executor
	cache map[string]string
}

// New builds a SysfsIO over ex.
func New(ex executor.Executor) *SysfsIO {
	return &SysfsIO{exec: ex, cache: make(map[string]string)}
}

// Read returns the trimmed text content of path.
func (s *SysfsIO) Read(path string) (string, error) {
	if v, ok := s.cache[path]; ok {
		return v, nil
	}
	data, err := s.exec.Read(path)
	if err != nil {
		return "", pepcerr.WithHostMsg(
			pepcerr.Wrap(err, pepcerr.KindIoError, "failed to read %q", path), s.exec.HostMsg())
	}
	v := strings.TrimSpace(string(data))
	s.cache[path] = v
	return v, nil
}

// ReadInt reads path and parses it as a base-10 integer.
func (s *SysfsIO) ReadInt(path string) (int64, error) {
	v, err := s.Read(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, pepcerr.New(pepcerr.KindBadValue, "%q does not contain an integer, got %q", path, v)
	}
	return n, nil
}

// Write replaces the contents of path with data, invalidating the
// cached value for path first.
func (s *SysfsIO) Write(path string, data string) error {
	delete(s.cache, path)
	if err := s.exec.Write(path, []byte(data)); err != nil {
		return pepcerr.WithHostMsg(
			pepcerr.Wrap(err, pepcerr.KindIoError, "failed to write %q", path), s.exec.HostMsg())
	}
	return nil
}

// WriteInt writes v, base-10, to path.
func (s *SysfsIO) WriteInt(path string, v int64) error {
	return s.Write(path, strconv.FormatInt(v, 10))
}

// WriteVerifyInt writes v to path, then reads it back, retrying up to
// retries times (sleeping sleep between attempts) if the kernel hasn't
// caught up yet. It raises VerifyFailed if the value still doesn't
// match after all retries.
func (s *SysfsIO) WriteVerifyInt(path string, v int64, retries int, sleep time.Duration) error {
	if err := s.WriteInt(path, v); err != nil {
		return err
	}
	var actual int64
	var err error
	for attempt := 0; ; attempt++ {
		delete(s.cache, path)
		actual, err = s.ReadInt(path)
		if err != nil {
			return err
		}
		if actual == v {
			return nil
		}
		if attempt >= retries {
			break
		}
		time.Sleep(sleep)
	}
	vf := pepcerr.NewVerifyFailed(-1, uint64(v), uint64(actual),
		"write to %q did not take effect: wrote %d, read back %d", path, v, actual)
	vf.Path = path
	return vf
}
