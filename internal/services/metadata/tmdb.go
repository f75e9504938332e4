// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/moistari/rls"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/streamsel/streamsel/internal/buildinfo"
	"github.com/streamsel/streamsel/internal/models"
)

const defaultBaseURL = "https://api.themoviedb.org/3"

// Match is the canonical title resolved for a search term. Confidence is a
// 0..1 similarity between the canonical title and whatever it is compared
// against.
type Match struct {
	Title    string
	Year     int
	Overview string
}

// Service resolves search terms against TMDB. Lookup failures are reported
// but callers are expected to treat enrichment as best effort.
type Service struct {
	apiKey     string
	baseURL    string
	threshold  float64
	httpClient *http.Client
}

type Option func(*Service)

// WithBaseURL overrides the TMDB endpoint, used by tests.
func WithBaseURL(u string) Option {
	return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") }
}

func NewService(apiKey string, threshold float64, opts ...Option) *Service {
	s := &Service{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		threshold:  threshold,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether the service has credentials to do anything.
func (s *Service) Enabled() bool { return s.apiKey != "" }

type searchResponse struct {
	Results []struct {
		Title       string `json:"title"`
		ReleaseDate string `json:"release_date"`
		Overview    string `json:"overview"`
	} `json:"results"`
}

// Lookup resolves a query term to a canonical movie title. It returns
// (nil, nil) when TMDB has no result similar enough to trust; an error only
// means the API itself could not be reached.
func (s *Service) Lookup(ctx context.Context, q models.SearchQuery) (*Match, error) {
	if !s.Enabled() {
		return nil, nil
	}

	endpoint, err := url.Parse(s.baseURL + "/search/movie")
	if err != nil {
		return nil, errors.Wrap(err, "parse tmdb url")
	}
	query := endpoint.Query()
	query.Set("api_key", s.apiKey)
	query.Set("query", q.Term)
	if q.Year > 0 {
		query.Set("year", fmt.Sprintf("%d", q.Year))
	}
	endpoint.RawQuery = query.Encode()

	var resp searchResponse
	err = retry.Do(
		func() error { return s.doGET(ctx, endpoint.String(), &resp) },
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(250*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, "tmdb search")
	}

	match := s.pickResult(q.Term, resp)
	if match == nil {
		log.Debug().Str("term", q.Term).Msg("no tmdb result above similarity threshold")
	}
	return match, nil
}

func (s *Service) doGET(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tmdb status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// pickResult takes the first result whose title clears the similarity
// threshold against the query term. TMDB already orders by relevance, so
// first-acceptable beats best-overall here.
func (s *Service) pickResult(term string, resp searchResponse) *Match {
	for _, r := range resp.Results {
		if r.Title == "" {
			continue
		}
		if Similarity(term, r.Title) < s.threshold {
			continue
		}
		return &Match{
			Title:    r.Title,
			Year:     yearOf(r.ReleaseDate),
			Overview: r.Overview,
		}
	}
	return nil
}

func yearOf(releaseDate string) int {
	if len(releaseDate) < 4 {
		return 0
	}
	var y int
	if _, err := fmt.Sscanf(releaseDate[:4], "%d", &y); err != nil {
		return 0
	}
	return y
}

// Similarity computes a normalized Levenshtein similarity between two
// titles, 1.0 meaning identical after normalization.
func Similarity(a, b string) float64 {
	na, nb := normalizeTitle(a), normalizeTitle(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	dist := fuzzy.LevenshteinDistance(na, nb)
	longest := len(na)
	if len(nb) > longest {
		longest = len(nb)
	}
	return 1 - float64(dist)/float64(longest)
}

// Confidence scores a release candidate title against a canonical match
// title. Release names carry quality and group noise, so the candidate is
// parsed down to its bare title first.
func Confidence(match *Match, candidateTitle string) float64 {
	if match == nil {
		return 0
	}
	parsed := rls.ParseString(candidateTitle)
	title := parsed.Title
	if title == "" {
		title = candidateTitle
	}
	return Similarity(match.Title, title)
}

func normalizeTitle(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '.', r == '_', r == '-':
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
