// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package doctor runs environment checks so a misconfigured setup fails
// loudly before a search does.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/streamsel/streamsel/internal/models"
	"github.com/streamsel/streamsel/internal/services/torznab"
)

// CheckResult is one named check outcome.
type CheckResult struct {
	Name   string
	OK     bool
	Detail string
}

// CapsProber probes an indexer's advertised capabilities.
type CapsProber interface {
	FetchCaps(ctx context.Context, ix models.Indexer) (*torznab.Caps, error)
}

// PlayerChecker verifies the player binary resolves.
type PlayerChecker interface {
	Available() error
	Command() string
}

// Doctor aggregates checks over the configured environment.
type Doctor struct {
	prober   CapsProber
	player   PlayerChecker
	indexers []models.Indexer
	tempDir  string
	tmdbPing func(ctx context.Context) error
}

func New(prober CapsProber, player PlayerChecker, indexers []models.Indexer, tempDir string, tmdbPing func(ctx context.Context) error) *Doctor {
	return &Doctor{
		prober:   prober,
		player:   player,
		indexers: indexers,
		tempDir:  tempDir,
		tmdbPing: tmdbPing,
	}
}

// Run executes every check and returns the results in a stable order.
// A failing check never aborts the rest.
func (d *Doctor) Run(ctx context.Context) []CheckResult {
	var results []CheckResult

	for _, ix := range d.indexers {
		results = append(results, d.checkIndexer(ctx, ix))
	}
	results = append(results, d.checkMetadata(ctx))
	results = append(results, d.checkPlayer())
	results = append(results, d.checkTempDir())

	return results
}

// Healthy reports whether every result passed.
func Healthy(results []CheckResult) bool {
	for _, r := range results {
		if !r.OK {
			return false
		}
	}
	return true
}

func (d *Doctor) checkIndexer(ctx context.Context, ix models.Indexer) CheckResult {
	name := fmt.Sprintf("indexer %s", ix.Name)

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	caps, err := d.prober.FetchCaps(probeCtx, ix)
	if err != nil {
		return CheckResult{Name: name, Detail: err.Error()}
	}
	if len(caps.SupportedParams) == 0 {
		return CheckResult{Name: name, OK: true, Detail: "reachable, no advertised search params"}
	}
	return CheckResult{
		Name:   name,
		OK:     true,
		Detail: "supports " + strings.Join(caps.SupportedParams, ","),
	}
}

func (d *Doctor) checkMetadata(ctx context.Context) CheckResult {
	const name = "tmdb"
	if d.tmdbPing == nil {
		return CheckResult{Name: name, OK: true, Detail: "not configured, enrichment disabled"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := d.tmdbPing(pingCtx); err != nil {
		return CheckResult{Name: name, Detail: err.Error()}
	}
	return CheckResult{Name: name, OK: true, Detail: "reachable"}
}

func (d *Doctor) checkPlayer() CheckResult {
	name := fmt.Sprintf("player %s", d.player.Command())
	if err := d.player.Available(); err != nil {
		return CheckResult{Name: name, Detail: err.Error()}
	}
	return CheckResult{Name: name, OK: true, Detail: "found on PATH"}
}

func (d *Doctor) checkTempDir() CheckResult {
	const name = "temp dir"
	if d.tempDir == "" {
		return CheckResult{Name: name, Detail: "not configured"}
	}
	if err := os.MkdirAll(d.tempDir, 0o755); err != nil {
		return CheckResult{Name: name, Detail: err.Error()}
	}

	probe := filepath.Join(d.tempDir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckResult{Name: name, Detail: err.Error()}
	}
	_ = os.Remove(probe)

	return CheckResult{Name: name, OK: true, Detail: d.tempDir}
}
