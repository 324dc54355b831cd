// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package tpmispec

import (
	"os"
	"strconv"
	"strings"
	"unicode"

	"gopkg.in/yaml.v2"

	"pepc/internal/pepcerr"
)

// sdictKeys is the mandatory leading key order every spec file must
// follow: name, then desc, then feature_id.
var sdictKeys = []string{"name", "desc", "feature_id"}

func statSpecFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return pepcerr.Wrap(err, pepcerr.KindIoError, "failed to access spec file %q", path)
	}
	if info.Size() > maxSpecFileBytes {
		return pepcerr.New(pepcerr.KindBadValue, "too large spec file %q, maximum allowed size is 4 GiB", path)
	}
	if !info.Mode().IsRegular() {
		return pepcerr.New(pepcerr.KindBadValue, "%q is not a regular file", path)
	}
	return nil
}

// ScanSpecFile partially loads specpath: just its leading name/desc/
// feature_id keys, in that exact order, with no repeats. This lets
// discovery build the fname→sdict index without decoding every
// register table up front.
func ScanSpecFile(specpath string) (SDict, error) {
	if err := statSpecFile(specpath); err != nil {
		return SDict{}, err
	}

	data, err := os.ReadFile(specpath)
	if err != nil {
		return SDict{}, pepcerr.Wrap(err, pepcerr.KindIoError, "failed to read spec file %q", specpath)
	}

	var doc yaml.MapSlice
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return SDict{}, pepcerr.Wrap(err, pepcerr.KindBadValue, "bad spec file %q", specpath)
	}
	if len(doc) < len(sdictKeys) {
		return SDict{}, pepcerr.New(pepcerr.KindBadValue, "bad spec file %q: missing keys %s",
			specpath, strings.Join(sdictKeys, ", "))
	}

	sdict := SDict{Path: specpath}
	for i, want := range sdictKeys {
		item := doc[i]
		key, ok := item.Key.(string)
		if !ok || key != want {
			return SDict{}, pepcerr.New(pepcerr.KindBadValue,
				"bad spec file %q format: the first %d keys must be %s, got key %q instead",
				specpath, len(sdictKeys), strings.Join(sdictKeys, ", "), item.Key)
		}
		switch want {
		case "name":
			sdict.Name, ok = item.Value.(string)
		case "desc":
			sdict.Desc, ok = item.Value.(string)
		case "feature_id":
			var n int
			n, ok = toInt(item.Value)
			sdict.FeatureID = uint8(n)
		}
		if !ok {
			return SDict{}, pepcerr.New(pepcerr.KindBadValue,
				"bad spec file %q: bad value for key %q", specpath, want)
		}
	}
	return sdict, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

type specYAML struct {
	Name      string                       `yaml:"name"`
	Desc      string                       `yaml:"desc"`
	FeatureID int                          `yaml:"feature_id"`
	Registers map[string]registerYAML      `yaml:"registers"`
}

type registerYAML struct {
	Offset uint32                `yaml:"offset"`
	Width  int                   `yaml:"width"`
	Fields map[string]fieldYAML `yaml:"fields"`
}

type fieldYAML struct {
	Bits     string `yaml:"bits"`
	Readonly bool   `yaml:"readonly"`
	Desc     string `yaml:"desc"`
}

// Load fully parses specpath into a SpecFile: the whole register and
// bit-field table, synthesizing bitshift/bitmask for every field and
// the all-fields-readonly flag for every register.
func Load(specpath string) (*SpecFile, error) {
	if err := statSpecFile(specpath); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(specpath)
	if err != nil {
		return nil, pepcerr.Wrap(err, pepcerr.KindIoError, "failed to read spec file %q", specpath)
	}

	var doc specYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, pepcerr.Wrap(err, pepcerr.KindBadValue, "bad spec file %q", specpath)
	}
	if doc.Registers == nil {
		return nil, pepcerr.New(pepcerr.KindBadValue, "bad spec file %q: the 'registers' top-level key was not found", specpath)
	}

	spec := &SpecFile{
		Name:      doc.Name,
		Desc:      doc.Desc,
		FeatureID: uint8(doc.FeatureID),
		Registers: make(map[string]*Register, len(doc.Registers)),
		Path:      specpath,
	}

	for regname, rdoc := range doc.Registers {
		if !isUpper(regname) {
			return nil, pepcerr.New(pepcerr.KindBadValue,
				"bad TPMI register name %q in %q: should include only upper case characters", regname, specpath)
		}
		if rdoc.Offset%4 != 0 {
			return nil, pepcerr.New(pepcerr.KindBadValue,
				"bad offset %#x in TPMI register %q: must be a multiple of 4 bytes", rdoc.Offset, regname)
		}
		if rdoc.Width != 32 && rdoc.Width != 64 {
			return nil, pepcerr.New(pepcerr.KindBadValue,
				"bad width %d in TPMI register %q: must be either 32 or 64", rdoc.Width, regname)
		}

		reg := &Register{Name: regname, Offset: rdoc.Offset, Width: rdoc.Width, Fields: make(map[string]*Field, len(rdoc.Fields))}
		allReadonly := true
		for bfname, fdoc := range rdoc.Fields {
			if !isUpper(bfname) {
				return nil, pepcerr.New(pepcerr.KindBadValue,
					"bad bit field name %q for TPMI register %q: should include only upper case characters", bfname, regname)
			}
			if strings.Contains(fdoc.Desc, "\n") {
				return nil, pepcerr.New(pepcerr.KindBadValue,
					"bad description of bit field %q of TPMI register %q: includes a newline character", bfname, regname)
			}
			msb, lsb, err := parseBits(fdoc.Bits)
			if err != nil {
				return nil, pepcerr.Wrap(err, pepcerr.KindBadValue,
					"bad 'bits' value %q in bit field %q of register %q", fdoc.Bits, bfname, regname)
			}
			field := &Field{
				Name: bfname, Bits: fdoc.Bits, Msb: msb, Lsb: lsb, Readonly: fdoc.Readonly, Desc: fdoc.Desc,
				Bitshift: uint(lsb),
				Bitmask:  ((uint64(1) << uint(msb+1)) - 1) ^ ((uint64(1) << uint(lsb)) - 1),
			}
			reg.Fields[bfname] = field
			allReadonly = allReadonly && fdoc.Readonly
		}
		reg.Readonly = allReadonly
		spec.Registers[regname] = reg
	}

	return spec, nil
}

func isUpper(s string) bool {
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
	}
	return true
}

func parseBits(s string) (msb, lsb int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, pepcerr.New(pepcerr.KindBadValue, "should have the '<high-bit>:<low-bit>' format")
	}
	msb, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	lsb, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0, pepcerr.New(pepcerr.KindBadValue, "bit positions must be integers")
	}
	if msb < lsb {
		return 0, 0, pepcerr.New(pepcerr.KindBadValue, "high bit %d is smaller than low bit %d", msb, lsb)
	}
	return msb, lsb, nil
}
