// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines the gateway's Prometheus collectors. All
// collectors register on the default registry at init and are served
// by the ops listener's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Publication metrics
	PublicationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_publications_total",
			Help: "Publish requests by platform and terminal status",
		},
		[]string{"platform", "status"}, // status: "published" or "failed"
	)

	// Adapter metrics
	AdapterInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_adapter_invocations_total",
			Help: "Adapter subprocess invocations",
		},
		[]string{"platform", "method", "outcome"}, // outcome: "ok", "error" or "timeout"
	)

	AdapterInvocationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "herald_adapter_invocation_seconds",
			Help:    "Adapter subprocess wall time",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	RegistryRescansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_registry_rescans_total",
			Help: "Adapter registry rebuilds triggered by bundle changes",
		},
	)

	// Collaborator metrics
	VaultRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_vault_requests_total",
			Help: "Vault RPC calls by operation and outcome",
		},
		[]string{"op", "outcome"}, // outcome: "ok" or "error"
	)
)
