package executor

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"os"
	"os/exec"
	"sort"

	"github.com/pkg/errors"
)

// Local is an Executor backed directly by this machine's filesystem and
// process table. It is the default for a host running pepc against its
// own MSRs/debugfs.
type Local struct {
	host string
}

// NewLocal creates a Local executor. host is used only to build HostMsg.
func NewLocal(host string) *Local {
	if host == "" {
		host, _ = os.Hostname()
	}
	return &Local{host: host}
}

func (l *Local) osMode(mode OpenMode) int {
	switch mode {
	case ReadOnly:
		return os.O_RDONLY
	case WriteOnly:
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case ReadWrite:
		return os.O_RDWR
	default:
		return os.O_RDONLY
	}
}

func (l *Local) Open(path string, mode OpenMode) (File, error) {
	f, err := os.OpenFile(path, l.osMode(mode), 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	return f, nil
}

func (l *Local) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %q", path)
	}
	return data, nil
}

func (l *Local) Write(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %q", path)
	}
	return nil
}

func (l *Local) ReadDir(path string) ([]DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %q", path)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, DirEntry{
			Name:  e.Name(),
			Path:  path + "/" + e.Name(),
			Mode:  uint32(info.Mode()),
			Ctime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (l *Local) Run(cmd []string) (CommandResult, error) {
	if len(cmd) == 0 {
		return CommandResult{}, errors.New("empty command")
	}
	c := exec.Command(cmd[0], cmd[1:]...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, errors.Wrapf(err, "failed to run %v", cmd)
	}
	return res, nil
}

func (l *Local) IsRemote() bool { return false }

func (l *Local) HostMsg() string {
	return " on host '" + l.host + "'"
}
