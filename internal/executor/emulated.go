package executor

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Emulated is an Executor that substitutes captured dumps for real
// sysfs/debugfs/MSR I/O. Tests root it at a directory that mirrors the
// real filesystem layout (e.g. a captured debugfs-dump tree standing in
// for /sys/kernel/debug) and/or seed individual paths directly via Seed.
//
// The core requires no emulation-specific behavior: Emulated is the
// single substitution point for Executor, and IsRemote/HostMsg are the
// only signals the core consults.
type Emulated struct {
	mu      sync.RWMutex
	baseDir string
	files   map[string][]byte
	host    string
}

// NewEmulated creates an Emulated executor rooted at baseDir (may be ""
// to rely solely on Seed).
func NewEmulated(baseDir string) *Emulated {
	return &Emulated{baseDir: baseDir, files: make(map[string][]byte), host: "emulated"}
}

// Seed installs (or overwrites) the in-memory content for path, taking
// precedence over anything found under baseDir.
func (e *Emulated) Seed(path string, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[path] = data
}

func (e *Emulated) resolve(path string) string {
	if e.baseDir == "" {
		return ""
	}
	return filepath.Join(e.baseDir, strings.TrimPrefix(path, "/"))
}

func (e *Emulated) Read(path string) ([]byte, error) {
	e.mu.RLock()
	if data, ok := e.files[path]; ok {
		cp := make([]byte, len(data))
		copy(cp, data)
		e.mu.RUnlock()
		return cp, nil
	}
	e.mu.RUnlock()

	real := e.resolve(path)
	if real == "" {
		return nil, pathNotFound(path)
	}
	data, err := os.ReadFile(real)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read emulated %q", path)
	}
	return data, nil
}

func (e *Emulated) Write(path string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	e.files[path] = cp
	return nil
}

// emulatedFile is the File handle Open returns: a seekable view over an
// in-memory byte slice that writes back to the Emulated store on Write.
type emulatedFile struct {
	e    *Emulated
	path string
	buf  *bytes.Reader
	data []byte
	pos  int64
}

func (f *emulatedFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	return n, nil
}

func (f *emulatedFile) WriteAt(p []byte, off int64) (int, error) {
	need := off + int64(len(p))
	if need > int64(len(f.data)) {
		grown := make([]byte, need)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:], p)
	f.e.Seed(f.path, f.data)
	return len(p), nil
}

func (f *emulatedFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.pos = offset
	case io.SeekCurrent:
		f.pos += offset
	case io.SeekEnd:
		f.pos = int64(len(f.data)) + offset
	}
	return f.pos, nil
}

func (f *emulatedFile) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *emulatedFile) Write(p []byte) (int, error) {
	n, err := f.WriteAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *emulatedFile) Close() error { return nil }

func (e *Emulated) Open(path string, mode OpenMode) (File, error) {
	data, err := e.Read(path)
	if err != nil {
		if mode == WriteOnly {
			data = nil
		} else {
			return nil, err
		}
	}
	return &emulatedFile{e: e, path: path, data: data}, nil
}

func (e *Emulated) ReadDir(path string) ([]DirEntry, error) {
	real := e.resolve(path)
	if real == "" {
		return nil, pathNotFound(path)
	}
	entries, err := os.ReadDir(real)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list emulated %q", path)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, en := range entries {
		info, err := en.Info()
		if err != nil {
			continue
		}
		out = append(out, DirEntry{
			Name:  en.Name(),
			Path:  filepath.Join(path, en.Name()),
			Mode:  uint32(info.Mode()),
			Ctime: info.ModTime(),
		})
	}
	return out, nil
}

// Run is a no-op success for emulated runs: no real command execution
// ever happens against captured dumps.
func (e *Emulated) Run(cmd []string) (CommandResult, error) {
	return CommandResult{ExitCode: 0}, nil
}

func (e *Emulated) IsRemote() bool { return false }

func (e *Emulated) HostMsg() string {
	return " on emulated host '" + e.host + "'"
}

func pathNotFound(path string) error {
	return errors.Errorf("emulated path %q not found", path)
}
