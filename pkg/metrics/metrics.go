// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics provides Prometheus instrumentation for the TCG storage
// engine: session lifecycle counters, method retry counters, session pool
// utilization, and fault-injection counters. cmd/tcgdiskstat gathers its own
// ad hoc const metrics straight from a discovery snapshot; this package is
// for long-running callers (pool workers, eval tooling) that want the same
// client_golang instrumentation wired into a reusable, registerable
// collector instead of a one-shot text dump.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles the metrics this package exposes. The zero value is not
// usable; construct with New.
type Collector struct {
	SessionsOpened   *prometheus.CounterVec
	SessionsClosed   *prometheus.CounterVec
	SessionsFailed   *prometheus.CounterVec
	MethodRetries    *prometheus.CounterVec
	MethodTimeouts   prometheus.Counter
	PoolIdle         prometheus.Gauge
	PoolInUse        prometheus.Gauge
	FaultInjections  *prometheus.CounterVec
}

// New creates a Collector and registers its metrics with reg. Passing nil
// uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		SessionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcg_storage_sessions_opened_total",
			Help: "Number of sessions successfully opened, by security provider.",
		}, []string{"sp"}),
		SessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcg_storage_sessions_closed_total",
			Help: "Number of sessions closed, by security provider.",
		}, []string{"sp"}),
		SessionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcg_storage_sessions_failed_total",
			Help: "Number of session open attempts that failed, by security provider.",
		}, []string{"sp"}),
		MethodRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcg_storage_method_retries_total",
			Help: "Number of method invocations retried, by reason (e.g. sp_busy).",
		}, []string{"reason"}),
		MethodTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcg_storage_method_timeouts_total",
			Help: "Number of method invocations that timed out waiting for a response.",
		}),
		PoolIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tcg_storage_sessionpool_idle_sessions",
			Help: "Number of sessions currently idle in a session pool.",
		}),
		PoolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tcg_storage_sessionpool_inuse_sessions",
			Help: "Number of sessions currently checked out of a session pool.",
		}),
		FaultInjections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcg_storage_fault_injections_total",
			Help: "Number of fault-injection actions applied, by fault point.",
		}, []string{"point"}),
	}
	reg.MustRegister(
		c.SessionsOpened, c.SessionsClosed, c.SessionsFailed,
		c.MethodRetries, c.MethodTimeouts,
		c.PoolIdle, c.PoolInUse,
		c.FaultInjections,
	)
	return c
}
