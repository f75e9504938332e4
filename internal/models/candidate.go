// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// SearchQuery is the caller-supplied search input. Value type, never mutated.
type SearchQuery struct {
	Term string
	// Year is an optional hint; 0 means no hint.
	Year int
}

// Indexer is one configured Torznab endpoint. Immutable after config load;
// SupportedParams is filled once by a caps probe.
type Indexer struct {
	Name            string
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	SupportedParams []string
}

// SupportsParam reports whether the indexer advertised support for the given
// search parameter. An unprobed indexer (no caps) is assumed to support the
// basic query parameters.
func (ix Indexer) SupportsParam(name string) bool {
	if len(ix.SupportedParams) == 0 {
		return name == "q" || name == "limit"
	}
	for _, p := range ix.SupportedParams {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

// ReleaseCandidate is one torrent search result. Immutable once created;
// two candidates with the same infohash describe the same release.
type ReleaseCandidate struct {
	Title     string
	Seeders   int
	Size      int64
	Link      string
	MagnetURI string
	// InfoHash is the lowercase hex infohash when the indexer reported one.
	InfoHash string
	// Indexers lists every indexer that reported this release.
	Indexers []string
	// MatchConfidence is the metadata title-match confidence in [0,1],
	// 0 when enrichment was unavailable or below threshold.
	MatchConfidence float64
}

// SourceURI returns a URI the torrent engine can consume: the magnet if
// present, a magnet built from the infohash, or the download link.
func (c ReleaseCandidate) SourceURI() string {
	if c.MagnetURI != "" {
		return c.MagnetURI
	}
	if strings.HasPrefix(c.Link, "magnet:") {
		return c.Link
	}
	if c.InfoHash != "" {
		return fmt.Sprintf("magnet:?xt=urn:btih:%s&dn=%s", c.InfoHash, url.QueryEscape(c.Title))
	}
	return c.Link
}

// Streamable reports whether the candidate carries anything the engine can
// open at all.
func (c ReleaseCandidate) Streamable() bool {
	return c.MagnetURI != "" || c.InfoHash != "" || c.Link != ""
}

// SizeHuman renders the size for display, "?" when the indexer omitted it.
func (c ReleaseCandidate) SizeHuman() string {
	const (
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case c.Size <= 0:
		return "?"
	case c.Size >= gb:
		return fmt.Sprintf("%.2f GB", float64(c.Size)/gb)
	default:
		return fmt.Sprintf("%.1f MB", float64(c.Size)/mb)
	}
}

// dedupKey identifies a release across indexers. The infohash is
// authoritative; results without one fall back to their download link so
// they never merge with each other by accident.
func (c ReleaseCandidate) dedupKey() string {
	if c.InfoHash != "" {
		return "ih:" + strings.ToLower(c.InfoHash)
	}
	return "link:" + c.Link
}

// MergeCandidates collapses results that describe the same release. The
// merged candidate keeps the maximum seeder count seen and the union of
// reporting indexers; the first-seen title, size and URIs win.
func MergeCandidates(in []ReleaseCandidate) []ReleaseCandidate {
	byKey := make(map[string]int, len(in))
	out := make([]ReleaseCandidate, 0, len(in))

	for _, c := range in {
		key := c.dedupKey()
		i, seen := byKey[key]
		if !seen {
			c.InfoHash = strings.ToLower(c.InfoHash)
			byKey[key] = len(out)
			out = append(out, c)
			continue
		}

		merged := &out[i]
		if c.Seeders > merged.Seeders {
			merged.Seeders = c.Seeders
		}
		if merged.Size == 0 {
			merged.Size = c.Size
		}
		if merged.MagnetURI == "" {
			merged.MagnetURI = c.MagnetURI
		}
		for _, name := range c.Indexers {
			if !containsFold(merged.Indexers, name) {
				merged.Indexers = append(merged.Indexers, name)
			}
		}
	}
	return out
}

// SortRanked orders candidates by descending seeders, then ascending size
// (smaller preferred on a seeder tie), then descending match confidence.
func SortRanked(cands []ReleaseCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Seeders != b.Seeders {
			return a.Seeders > b.Seeders
		}
		if a.Size != b.Size {
			if a.Size == 0 {
				return false
			}
			if b.Size == 0 {
				return true
			}
			return a.Size < b.Size
		}
		return a.MatchConfidence > b.MatchConfidence
	})
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
