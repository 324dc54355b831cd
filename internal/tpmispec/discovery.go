// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package tpmispec

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pepc/internal/cpuinfo"
	"pepc/internal/pepcerr"
)

const maxNonYAMLFiles = 8

// FindSpecDir searches specDirs in order for one containing an
// index.yml that resolves vfm, returning the concrete subdirectory
// holding that platform's spec files. specDirs lacking an index.yml
// are silently skipped, matching the source's tolerance for
// PEPC_TPMI_DATA_PATH pointing somewhere irrelevant.
func FindSpecDir(specDirs []string, vfm cpuinfo.VFM) (string, error) {
	var lastErr error
	for _, dir := range specDirs {
		idxPath := filepath.Join(dir, "index.yml")
		if _, err := os.Stat(idxPath); err != nil {
			continue
		}
		idx, err := LoadIndex(idxPath)
		if err != nil {
			return "", err
		}
		entry, err := idx.Resolve(vfm)
		if err != nil {
			lastErr = err
			continue
		}
		return filepath.Join(dir, entry.Subdir), nil
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", pepcerr.New(pepcerr.KindNotFound, "no TPMI spec directory found for %s among: %s", vfm, strings.Join(specDirs, ", "))
}

// ScanDir partially loads every *.yml/*.yaml spec file directly under
// dir, returning a feature-name to SDict map. More than
// maxNonYAMLFiles unrelated files in dir is treated as a sign the
// directory is not actually a spec directory.
func ScanDir(dir string) (map[string]SDict, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, pepcerr.Wrap(err, pepcerr.KindIoError, "failed to list spec directory %q", dir)
	}

	sdicts := make(map[string]SDict)
	nonYAML := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yml") && !strings.HasSuffix(name, ".yaml") {
			nonYAML++
			if nonYAML > maxNonYAMLFiles {
				return nil, pepcerr.New(pepcerr.KindBadValue,
					"spec directory %q has too many non-YAML files, does not look like a spec directory", dir)
			}
			continue
		}
		sdict, err := ScanSpecFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		sdicts[sdict.Name] = sdict
	}
	return sdicts, nil
}

// SortedFeatureNames returns the feature names in sdicts sorted
// alphabetically, used for deterministic error messages and listings.
func SortedFeatureNames(sdicts map[string]SDict) []string {
	names := make([]string, 0, len(sdicts))
	for name := range sdicts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
