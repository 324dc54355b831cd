// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

/*
Package tpmispec loads TPMI spec files: one YAML document per
(platform, feature) describing a feature's registers and bit fields,
plus the index.yml that maps a VFM to its spec subdirectory.
*/
package tpmispec

import "pepc/internal/pepcerr"

// maxSpecFileBytes bounds how large a spec file is allowed to be
// before loading it, guarding against a corrupt or hostile file
// forcing the whole thing into memory.
const maxSpecFileBytes = 4 << 30 // 4 GiB

// Field is one bit field of a Register, as declared in the spec file
// plus the shift/mask the loader synthesizes from its bit range.
type Field struct {
	Name     string
	Bits     string // raw "msb:lsb" as written in the spec file
	Msb      int
	Lsb      int
	Readonly bool
	Desc     string
	Bitshift uint
	Bitmask  uint64
}

// Register is one named TPMI register: its byte offset in the
// instance's memory window, its width, and its bit fields. Readonly
// is true only if every field is readonly.
type Register struct {
	Name     string
	Offset   uint32
	Width    int // 32 or 64
	Fields   map[string]*Field
	Readonly bool
}

// SpecFile is one fully loaded (platform, feature) spec document.
type SpecFile struct {
	Name      string
	Desc      string
	FeatureID uint8
	Registers map[string]*Register
	Path      string
}

// SDict is the partial scan result for a spec file: just enough to
// know the feature's name, description, and ID without loading its
// full register table.
type SDict struct {
	Name      string
	Desc      string
	FeatureID uint8
	Path      string
}

var (
	ErrMissingFeatureID = pepcerr.New(pepcerr.KindBadValue, "spec file: 'feature_id' key was not found")
)
