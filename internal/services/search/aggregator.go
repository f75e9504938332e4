// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/streamsel/streamsel/internal/metrics"
	"github.com/streamsel/streamsel/internal/models"
	"github.com/streamsel/streamsel/internal/services/metadata"
	"github.com/streamsel/streamsel/internal/services/torznab"
)

// ErrNoResults means every indexer either failed or returned nothing.
var ErrNoResults = errors.New("no results from any indexer")

// Searcher is the per-indexer query surface, satisfied by the torznab client.
type Searcher interface {
	Search(ctx context.Context, ix models.Indexer, q models.SearchQuery, limit int) ([]models.ReleaseCandidate, error)
}

// Enricher resolves a query to canonical metadata. Lookup is best effort:
// a nil match with nil error is a valid outcome.
type Enricher interface {
	Lookup(ctx context.Context, q models.SearchQuery) (*metadata.Match, error)
}

// CapsProber probes an indexer's advertised capabilities so queries only
// carry parameters the indexer understands.
type CapsProber interface {
	FetchCaps(ctx context.Context, ix models.Indexer) (*torznab.Caps, error)
}

// Result is a completed aggregated search: ranked candidates, per-indexer
// warnings for partial failures, and the metadata match when one was found.
type Result struct {
	Candidates []models.ReleaseCandidate
	Warnings   []string
	Match      *metadata.Match
}

// Aggregator fans a query out to every configured indexer, merges duplicate
// releases, and ranks what is left.
type Aggregator struct {
	searcher Searcher
	prober   CapsProber
	enricher Enricher
	indexers []models.Indexer
	limit    int
	timeout  time.Duration

	capsOnce sync.Once
}

// NewAggregator wires the search fan-out. prober may be nil, in which case
// indexers keep their baseline parameter set.
func NewAggregator(searcher Searcher, prober CapsProber, enricher Enricher, indexers []models.Indexer, limit int, timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Aggregator{
		searcher: searcher,
		prober:   prober,
		enricher: enricher,
		indexers: indexers,
		limit:    limit,
		timeout:  timeout,
	}
}

// probeCaps fills each indexer's supported parameters, once per aggregator
// lifetime. Probe failures leave the indexer on its baseline assumption.
func (a *Aggregator) probeCaps(ctx context.Context) {
	a.capsOnce.Do(func() {
		if a.prober == nil {
			return
		}
		var g errgroup.Group
		for i := range a.indexers {
			ix := &a.indexers[i]
			g.Go(func() error {
				probeCtx, cancel := context.WithTimeout(ctx, a.timeout)
				defer cancel()
				caps, err := a.prober.FetchCaps(probeCtx, *ix)
				if err != nil {
					log.Debug().Err(err).Str("indexer", ix.Name).Msg("caps probe failed, keeping baseline parameters")
					return nil
				}
				ix.SupportedParams = caps.SupportedParams
				return nil
			})
		}
		_ = g.Wait()
	})
}

type indexerResult struct {
	indexer string
	cands   []models.ReleaseCandidate
	err     error
}

// Search queries all indexers concurrently and blocks until every one has
// settled. Individual indexer failures become warnings; only a total failure
// returns ErrNoResults.
func (a *Aggregator) Search(ctx context.Context, q models.SearchQuery) (*Result, error) {
	if len(a.indexers) == 0 {
		return nil, errors.New("no indexers configured")
	}

	metrics.SearchesTotal.Inc()

	a.probeCaps(ctx)

	// Metadata lookup runs alongside the indexer fan-out; it never blocks
	// candidates from being returned, and it gets the same timeout as an
	// indexer so a slow enricher cannot outlast the fan-out.
	matchCh := make(chan *metadata.Match, 1)
	go func() {
		lookupCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		match, err := a.enricher.Lookup(lookupCtx, q)
		if err != nil {
			log.Warn().Err(err).Str("term", q.Term).Msg("metadata lookup failed, continuing without enrichment")
		}
		matchCh <- match
	}()

	results := make(chan indexerResult, len(a.indexers))
	var g errgroup.Group
	for _, ix := range a.indexers {
		ix := ix
		g.Go(func() error {
			searchCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			cands, err := a.searcher.Search(searchCtx, ix, q, a.limit)
			results <- indexerResult{indexer: ix.Name, cands: cands, err: err}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	var all []models.ReleaseCandidate
	var warnings []string
	for res := range results {
		if res.err != nil {
			metrics.IndexerErrorsTotal.WithLabelValues(res.indexer).Inc()
			log.Warn().Err(res.err).Str("indexer", res.indexer).Msg("indexer search failed")
			warnings = append(warnings, res.err.Error())
			continue
		}
		all = append(all, res.cands...)
	}

	match := <-matchCh

	if len(all) == 0 {
		return nil, errors.Wrapf(ErrNoResults, "%q", q.Term)
	}

	merged := models.MergeCandidates(all)
	if match != nil {
		for i := range merged {
			merged[i].MatchConfidence = metadata.Confidence(match, merged[i].Title)
		}
	}
	models.SortRanked(merged)

	log.Info().
		Str("term", q.Term).
		Int("raw", len(all)).
		Int("merged", len(merged)).
		Int("failed_indexers", len(warnings)).
		Msg("search aggregated")

	return &Result{Candidates: merged, Warnings: warnings, Match: match}, nil
}
