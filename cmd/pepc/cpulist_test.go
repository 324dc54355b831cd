// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package pepc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCPUListAll(t *testing.T) {
	out, err := parseCPUList("all", []int{0, 1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3}, out)
}

func TestParseCPUListRangesAndSingles(t *testing.T) {
	out, err := parseCPUList("0-2,5", []int{0, 1, 2, 3, 4, 5})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 5}, out)
}

func TestParseCPUListDedupsAndSorts(t *testing.T) {
	out, err := parseCPUList("3,0-2,2", []int{0, 1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3}, out)
}

func TestParseCPUListRejectsUnknownCPU(t *testing.T) {
	_, err := parseCPUList("9", []int{0, 1, 2})
	require.Error(t, err)
}

func TestParseFreqHzPlain(t *testing.T) {
	hz, err := parseFreqHz("3000000000")
	require.NoError(t, err)
	require.Equal(t, uint64(3_000_000_000), hz)
}

func TestParseFreqHzGHzSuffix(t *testing.T) {
	hz, err := parseFreqHz("3.5GHz")
	require.NoError(t, err)
	require.Equal(t, uint64(3_500_000_000), hz)
}

func TestParseFreqHzMHzSuffix(t *testing.T) {
	hz, err := parseFreqHz("800MHz")
	require.NoError(t, err)
	require.Equal(t, uint64(800_000_000), hz)
}

func TestParseOnOffVariants(t *testing.T) {
	on, err := parseOnOff("on")
	require.NoError(t, err)
	require.True(t, on)

	off, err := parseOnOff("disabled")
	require.NoError(t, err)
	require.False(t, off)

	_, err = parseOnOff("sideways")
	require.Error(t, err)
}

func TestConvertSetValueDispatchesByPropertyUnit(t *testing.T) {
	v, err := convertSetValue("max_freq", "2.4GHz")
	require.NoError(t, err)
	require.Equal(t, uint64(2_400_000_000), v)

	v, err = convertSetValue("turbo", "off")
	require.NoError(t, err)
	require.Equal(t, false, v)

	v, err = convertSetValue("governor", "performance")
	require.NoError(t, err)
	require.Equal(t, "performance", v)

	v, err = convertSetValue("epb", "6")
	require.NoError(t, err)
	require.Equal(t, int64(6), v)
}
