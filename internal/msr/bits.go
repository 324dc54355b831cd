// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package msr

import "github.com/pkg/errors"

// Bits is an inclusive bit range, always Msb >= Lsb, used to address a
// field within a 64-bit register.
type Bits struct {
	Msb uint
	Lsb uint
}

// Width returns the number of bits the range covers.
func (b Bits) Width() uint { return b.Msb - b.Lsb + 1 }

// Validate reports an error if b is not a well-formed inclusive range
// within a 64-bit register.
func (b Bits) Validate() error {
	if b.Lsb > b.Msb {
		return errors.Errorf("msr: bad bit range %d:%d, lsb must not exceed msb", b.Msb, b.Lsb)
	}
	if b.Msb > 63 {
		return errors.Errorf("msr: bad bit range %d:%d, msb must be < 64", b.Msb, b.Lsb)
	}
	return nil
}

func mask(b Bits) uint64 {
	return ((uint64(1) << (b.Msb + 1)) - 1) ^ ((uint64(1) << b.Lsb) - 1)
}

// GetBits extracts the field addressed by bits from value.
func GetBits(value uint64, bits Bits) uint64 {
	width := bits.Width()
	var widthMask uint64
	if width >= 64 {
		widthMask = ^uint64(0)
	} else {
		widthMask = (uint64(1) << width) - 1
	}
	return (value >> bits.Lsb) & widthMask
}

// SetBits returns value with the field addressed by bits replaced by
// newVal's low bits.Width() bits.
func SetBits(value uint64, bits Bits, newVal uint64) uint64 {
	m := mask(bits)
	return (value &^ m) | ((newVal << bits.Lsb) & m)
}

// FitsWidth reports whether newVal is representable in bits.Width()
// bits, so callers can reject an oversized value before issuing any
// I/O.
func FitsWidth(newVal uint64, bits Bits) bool {
	width := bits.Width()
	if width >= 64 {
		return true
	}
	return newVal < (uint64(1) << width)
}
