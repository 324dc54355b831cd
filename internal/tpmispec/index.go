// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package tpmispec

import (
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"pepc/internal/cpuinfo"
	"pepc/internal/pepcerr"
)

// IndexVFMEntry is one platform's entry in index.yml: which
// subdirectory its spec files live in and its human-readable name.
type IndexVFMEntry struct {
	Subdir       string `yaml:"subdir"`
	PlatformName string `yaml:"platform_name"`
}

type indexYAML struct {
	Version string                `yaml:"version"`
	VFMs    map[int]IndexVFMEntry `yaml:"vfms"`
}

// Index is a parsed index.yml: the supported format version and the
// VFM-to-subdirectory map, keyed by the packed integer VfmKey.
type Index struct {
	Version string
	VFMs    map[int]IndexVFMEntry
}

const indexFormatVersion = "1.0"

// LoadIndex parses path/index.yml, rejecting an unsupported format
// version.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pepcerr.Wrap(err, pepcerr.KindIoError, "failed to read index file %q", path)
	}
	var doc indexYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, pepcerr.Wrap(err, pepcerr.KindBadValue, "bad index file %q", path)
	}
	if doc.Version != indexFormatVersion {
		return nil, pepcerr.New(pepcerr.KindBadValue,
			"unsupported index format version %q in %q: only version %q is supported",
			doc.Version, path, indexFormatVersion)
	}
	return &Index{Version: doc.Version, VFMs: doc.VFMs}, nil
}

// VfmKey packs family and model into the single integer index.yml
// keys its "vfms" map by (family in the high 16 bits, model in the
// low 16 bits). Vendor is not encoded: every platform this package
// targets is GenuineIntel.
func VfmKey(vfm cpuinfo.VFM) int {
	return vfm.Family<<16 | vfm.Model
}

// Resolve picks the index entry whose key matches vfm, failing with
// NotFound and a list of the available platforms otherwise.
func (idx *Index) Resolve(vfm cpuinfo.VFM) (IndexVFMEntry, error) {
	if entry, ok := idx.VFMs[VfmKey(vfm)]; ok {
		return entry, nil
	}
	names := make([]string, 0, len(idx.VFMs))
	for _, entry := range idx.VFMs {
		names = append(names, entry.PlatformName)
	}
	sort.Strings(names)
	return IndexVFMEntry{}, pepcerr.New(pepcerr.KindNotFound,
		"no TPMI spec files for %s, available platforms: %s", vfm, strings.Join(names, ", "))
}
