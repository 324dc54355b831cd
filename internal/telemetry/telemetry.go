// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

/*
Package telemetry exposes optional Prometheus counters for MSR and
TPMI I/O volume: reads, writes, and verification failures. It is off
by default; callers opt in with Start, mirroring cmd/metrics's
Prometheus exporter, which is likewise only started when a
command-line flag asks for it.
*/
package telemetry

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "pepc_"

// Counters is the set of counters the core's engines increment as
// they do I/O. A nil *Counters is valid everywhere it is accepted and
// every method becomes a no-op, so callers who never enable telemetry
// pay no cost beyond a nil check.
type Counters struct {
	msrReads          *prometheus.CounterVec
	msrWrites         *prometheus.CounterVec
	msrVerifyFailures *prometheus.CounterVec
	tpmiReads         *prometheus.CounterVec
	tpmiWrites        *prometheus.CounterVec

	mu       sync.Mutex
	server   *http.Server
	registry *prometheus.Registry
}

// NewCounters builds a Counters instance with its own private
// registry, so multiple instances (e.g. in tests) never collide on
// prometheus's global default registry.
func NewCounters() *Counters {
	reg := prometheus.NewRegistry()
	c := &Counters{
		registry: reg,
		msrReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "msr_reads_total", Help: "MSR hardware reads issued.",
		}, []string{"addr"}),
		msrWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "msr_writes_total", Help: "MSR hardware writes issued.",
		}, []string{"addr"}),
		msrVerifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "msr_verify_failures_total", Help: "MSR write-then-read verification mismatches.",
		}, []string{"addr"}),
		tpmiReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "tpmi_reads_total", Help: "TPMI register reads issued.",
		}, []string{"feature"}),
		tpmiWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "tpmi_writes_total", Help: "TPMI register writes issued.",
		}, []string{"feature"}),
	}
	reg.MustRegister(c.msrReads, c.msrWrites, c.msrVerifyFailures, c.tpmiReads, c.tpmiWrites)
	return c
}

func (c *Counters) MSRRead(addr string)          { inc(c, func() { c.msrReads.WithLabelValues(addr).Inc() }) }
func (c *Counters) MSRWrite(addr string)         { inc(c, func() { c.msrWrites.WithLabelValues(addr).Inc() }) }
func (c *Counters) MSRVerifyFailure(addr string) { inc(c, func() { c.msrVerifyFailures.WithLabelValues(addr).Inc() }) }
func (c *Counters) TPMIRead(feature string)      { inc(c, func() { c.tpmiReads.WithLabelValues(feature).Inc() }) }
func (c *Counters) TPMIWrite(feature string)     { inc(c, func() { c.tpmiWrites.WithLabelValues(feature).Inc() }) }

func inc(c *Counters, f func()) {
	if c == nil {
		return
	}
	f()
}

// Start serves /metrics on listenAddr until Stop is called.
func (c *Counters) Start(listenAddr string) {
	if c == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	c.mu.Lock()
	c.server = &http.Server{Addr: listenAddr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
	srv := c.server
	c.mu.Unlock()
	slog.Info("starting pepc telemetry server", slog.String("address", listenAddr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("telemetry server stopped", slog.String("error", err.Error()))
		}
	}()
}

// Stop shuts down the telemetry HTTP server, if one was started.
func (c *Counters) Stop() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	srv := c.server
	c.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}
