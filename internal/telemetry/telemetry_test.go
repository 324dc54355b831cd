// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilCountersAreNoOps(t *testing.T) {
	var c *Counters
	require.NotPanics(t, func() {
		c.MSRRead("0x770")
		c.MSRWrite("0x770")
		c.MSRVerifyFailure("0x770")
		c.TPMIRead("ufs")
		c.TPMIWrite("ufs")
		c.Start(":0")
		require.NoError(t, c.Stop())
	})
}

func TestCountersIncrementByLabel(t *testing.T) {
	c := NewCounters()
	c.MSRRead("0x770")
	c.MSRRead("0x770")
	c.MSRWrite("0x771")
	c.MSRVerifyFailure("0x771")
	c.TPMIRead("ufs")
	c.TPMIWrite("rapl")

	require.Equal(t, float64(2), testutil.ToFloat64(c.msrReads.WithLabelValues("0x770")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.msrWrites.WithLabelValues("0x771")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.msrVerifyFailures.WithLabelValues("0x771")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.tpmiReads.WithLabelValues("ufs")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.tpmiWrites.WithLabelValues("rapl")))
}

func TestStopWithoutStartIsNoOp(t *testing.T) {
	c := NewCounters()
	require.NoError(t, c.Stop())
}
