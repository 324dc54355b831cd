// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package msr

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetSetBitsRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		lsb := uint(rng.Intn(64))
		msb := lsb + uint(rng.Intn(int(64-lsb)))
		bits := Bits{Msb: msb, Lsb: lsb}
		width := bits.Width()

		var v uint64
		if width >= 64 {
			v = rng.Uint64()
		} else {
			v = rng.Uint64() % (uint64(1) << width)
		}
		value := rng.Uint64()

		got := GetBits(SetBits(value, bits, v), bits)
		require.Equal(t, v, got, "bits=%+v value=%#x v=%#x", bits, value, v)
	}
}

func TestSetBitsLeavesOtherBitsAlone(t *testing.T) {
	bits := Bits{Msb: 15, Lsb: 8}
	value := uint64(0xFFFFFFFFFFFFFFFF)
	got := SetBits(value, bits, 0)
	require.Equal(t, uint64(0xFFFFFFFFFFFF00FF), got)
}

func TestFitsWidth(t *testing.T) {
	bits := Bits{Msb: 3, Lsb: 0}
	require.True(t, FitsWidth(15, bits))
	require.False(t, FitsWidth(16, bits))
}

func TestBitsValidate(t *testing.T) {
	require.NoError(t, Bits{Msb: 5, Lsb: 0}.Validate())
	require.Error(t, Bits{Msb: 0, Lsb: 5}.Validate())
	require.Error(t, Bits{Msb: 64, Lsb: 0}.Validate())
}
