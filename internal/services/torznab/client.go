// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/streamsel/streamsel/internal/buildinfo"
	"github.com/streamsel/streamsel/internal/models"
)

const maxResponseBytes int64 = 32 << 20 // safety limit for feed documents

// ErrorKind classifies an indexer failure so the aggregator can report it
// without inspecting error strings.
type ErrorKind string

const (
	KindTimeout ErrorKind = "timeout"
	KindAuth    ErrorKind = "auth"
	KindParse   ErrorKind = "parse"
	KindNetwork ErrorKind = "network"
)

// IndexerError wraps a failure from a single indexer.
type IndexerError struct {
	Indexer string
	Kind    ErrorKind
	Err     error
}

func (e *IndexerError) Error() string {
	return fmt.Sprintf("indexer %s: %s: %v", e.Indexer, e.Kind, e.Err)
}

func (e *IndexerError) Unwrap() error { return e.Err }

func (e *IndexerError) Is(target error) bool {
	_, ok := target.(*IndexerError)
	return ok
}

// Client issues Torznab API requests against individual indexer endpoints.
// It keeps no per-indexer state; the same client serves every configured
// indexer.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a Torznab client. The timeout is the default applied
// when an indexer has no timeout of its own.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}
}

// Search runs a single `t=search` query against one indexer and parses the
// feed into candidates. Malformed feed items are skipped, never fatal; a
// malformed document or transport failure returns an IndexerError.
func (c *Client) Search(ctx context.Context, ix models.Indexer, q models.SearchQuery, limit int) ([]models.ReleaseCandidate, error) {
	endpoint, err := c.buildSearchURL(ix, q, limit)
	if err != nil {
		return nil, &IndexerError{Indexer: ix.Name, Kind: KindNetwork, Err: err}
	}

	body, err := c.get(ctx, ix, endpoint)
	if err != nil {
		return nil, c.classify(ix.Name, err)
	}
	defer body.Close()

	cands, err := parseFeed(body, ix.Name)
	if err != nil {
		return nil, &IndexerError{Indexer: ix.Name, Kind: KindParse, Err: err}
	}

	log.Debug().
		Str("indexer", ix.Name).
		Str("query", q.Term).
		Int("results", len(cands)).
		Msg("indexer search complete")

	return cands, nil
}

// FetchCaps probes the `t=caps` endpoint and returns the supported search
// parameters for the indexer.
func (c *Client) FetchCaps(ctx context.Context, ix models.Indexer) (*Caps, error) {
	endpoint, err := url.Parse(strings.TrimRight(ix.BaseURL, "/") + "/api")
	if err != nil {
		return nil, &IndexerError{Indexer: ix.Name, Kind: KindNetwork, Err: err}
	}
	query := endpoint.Query()
	query.Set("t", "caps")
	if ix.APIKey != "" {
		query.Set("apikey", ix.APIKey)
	}
	endpoint.RawQuery = query.Encode()

	body, err := c.get(ctx, ix, endpoint.String())
	if err != nil {
		return nil, c.classify(ix.Name, err)
	}
	defer body.Close()

	caps, err := parseCaps(body)
	if err != nil {
		return nil, &IndexerError{Indexer: ix.Name, Kind: KindParse, Err: err}
	}
	return caps, nil
}

func (c *Client) buildSearchURL(ix models.Indexer, q models.SearchQuery, limit int) (string, error) {
	endpoint, err := url.Parse(strings.TrimRight(ix.BaseURL, "/") + "/api")
	if err != nil {
		return "", fmt.Errorf("parse indexer url: %w", err)
	}

	query := endpoint.Query()
	query.Set("t", "search")
	if ix.APIKey != "" {
		query.Set("apikey", ix.APIKey)
	}
	query.Set("q", q.Term)
	if limit > 0 && ix.SupportsParam("limit") {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	if q.Year > 0 && ix.SupportsParam("year") {
		query.Set("year", fmt.Sprintf("%d", q.Year))
	}
	endpoint.RawQuery = query.Encode()
	return endpoint.String(), nil
}

// statusError carries a non-2xx HTTP status to the classifier.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}

// get performs the request with a bounded retry for transient failures.
// Auth failures and 4xx responses are never retried.
func (c *Client) get(ctx context.Context, ix models.Indexer, endpoint string) (io.ReadCloser, error) {
	timeout := ix.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	var body io.ReadCloser
	err := retry.Do(
		func() error {
			reqCtx, cancel := context.WithTimeout(ctx, timeout)
			req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
			if err != nil {
				cancel()
				return err
			}
			req.Header.Set("User-Agent", buildinfo.UserAgent())

			resp, err := c.httpClient.Do(req)
			if err != nil {
				cancel()
				return err
			}

			if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
				resp.Body.Close()
				cancel()
				return &statusError{status: resp.StatusCode}
			}

			// The body outlives this attempt; tie the cancel to its Close.
			body = &limitedBody{r: io.LimitReader(resp.Body, maxResponseBytes), body: resp.Body, cancel: cancel}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(300*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

type limitedBody struct {
	r      io.Reader
	body   io.ReadCloser
	cancel context.CancelFunc
}

func (b *limitedBody) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *limitedBody) Close() error {
	err := b.body.Close()
	b.cancel()
	return err
}

// isTransient reports whether a failed attempt is worth retrying: network
// errors, timeouts, 429 and 5xx. Auth and other client errors are final.
func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= http.StatusInternalServerError
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func (c *Client) classify(indexer string, err error) *IndexerError {
	var se *statusError
	if errors.As(err, &se) {
		if se.status == http.StatusUnauthorized || se.status == http.StatusForbidden {
			return &IndexerError{Indexer: indexer, Kind: KindAuth, Err: err}
		}
		return &IndexerError{Indexer: indexer, Kind: KindNetwork, Err: err}
	}

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &IndexerError{Indexer: indexer, Kind: KindTimeout, Err: err}
	}
	return &IndexerError{Indexer: indexer, Kind: KindNetwork, Err: err}
}
