// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes Prometheus counters for the search and streaming
// pipeline. Registration is on the default registry; the metrics endpoint
// is only served when enabled in config.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	SearchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamsel_searches_total",
		Help: "Aggregated searches issued.",
	})

	IndexerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamsel_indexer_errors_total",
		Help: "Indexer search failures by indexer.",
	}, []string{"indexer"})

	SessionsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamsel_sessions_opened_total",
		Help: "Torrent sessions opened.",
	})

	SessionsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamsel_sessions_failed_total",
		Help: "Torrent sessions that failed before becoming ready.",
	})

	RacesWonTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamsel_races_won_total",
		Help: "Candidate races that produced a streaming winner.",
	})

	RacesExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamsel_races_exhausted_total",
		Help: "Candidate races where no session became ready.",
	})
)

// Serve starts a metrics HTTP listener. It runs until the server errors and
// is intended to be launched on its own goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}
