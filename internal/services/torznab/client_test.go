// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamsel/streamsel/internal/models"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
  <channel>
    <item>
      <title>Inception 2010 1080p BluRay x264</title>
      <link>http://indexer.example/dl/1</link>
      <torznab:attr name="seeders" value="142" />
      <torznab:attr name="size" value="9126805504" />
      <torznab:attr name="infohash" value="ABCDEF0123456789ABCDEF0123456789ABCDEF01" />
      <torznab:attr name="magneturl" value="magnet:?xt=urn:btih:abcdef0123456789abcdef0123456789abcdef01" />
    </item>
    <item>
      <title>Inception 2010 720p WEB-DL</title>
      <enclosure url="http://indexer.example/dl/2" length="4500000000" type="application/x-bittorrent" />
      <torznab:attr name="seeders" value="38" />
    </item>
    <item>
      <title></title>
      <link>http://indexer.example/dl/broken</link>
    </item>
    <item>
      <title>No Download Reference At All</title>
    </item>
  </channel>
</rss>`

func testIndexer(name, baseURL string) models.Indexer {
	return models.Indexer{
		Name:    name,
		BaseURL: baseURL,
		APIKey:  "key123",
		Timeout: 5 * time.Second,
	}
}

func TestSearch_ParsesFeedAndSkipsMalformedItems(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"t":      q.Get("t"),
			"apikey": q.Get("apikey"),
			"q":      q.Get("q"),
			"limit":  q.Get("limit"),
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	client := NewClient(10 * time.Second)
	cands, err := client.Search(context.Background(), testIndexer("prowlarr", srv.URL), models.SearchQuery{Term: "inception"}, 50)
	require.NoError(t, err)

	assert.Equal(t, "search", gotQuery["t"])
	assert.Equal(t, "key123", gotQuery["apikey"])
	assert.Equal(t, "inception", gotQuery["q"])
	assert.Equal(t, "50", gotQuery["limit"])

	require.Len(t, cands, 2, "malformed items should be dropped, not fail the search")

	first := cands[0]
	assert.Equal(t, "Inception 2010 1080p BluRay x264", first.Title)
	assert.Equal(t, 142, first.Seeders)
	assert.Equal(t, int64(9126805504), first.Size)
	assert.Equal(t, "abcdef0123456789abcdef0123456789abcdef01", first.InfoHash)
	assert.Equal(t, []string{"prowlarr"}, first.Indexers)

	second := cands[1]
	assert.Equal(t, "http://indexer.example/dl/2", second.Link, "enclosure url should backfill a missing link")
	assert.Equal(t, int64(4500000000), second.Size)
	assert.Empty(t, second.InfoHash)
}

func TestSearch_OmitsUnsupportedParams(t *testing.T) {
	var rawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`<rss><channel></channel></rss>`))
	}))
	defer srv.Close()

	ix := testIndexer("limited", srv.URL)
	ix.SupportedParams = []string{"q"}

	client := NewClient(10 * time.Second)
	_, err := client.Search(context.Background(), ix, models.SearchQuery{Term: "dune", Year: 2021}, 25)
	require.NoError(t, err)

	assert.NotContains(t, rawQuery, "limit=")
	assert.NotContains(t, rawQuery, "year=")
}

func TestSearch_AuthFailureIsNotRetried(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(10 * time.Second)
	_, err := client.Search(context.Background(), testIndexer("secured", srv.URL), models.SearchQuery{Term: "dune"}, 0)
	require.Error(t, err)

	var ixErr *IndexerError
	require.ErrorAs(t, err, &ixErr)
	assert.Equal(t, KindAuth, ixErr.Kind)
	assert.Equal(t, "secured", ixErr.Indexer)
	assert.Equal(t, 1, attempts)
}

func TestSearch_ServerErrorIsRetried(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`<rss><channel></channel></rss>`))
	}))
	defer srv.Close()

	client := NewClient(10 * time.Second)
	cands, err := client.Search(context.Background(), testIndexer("flaky", srv.URL), models.SearchQuery{Term: "dune"}, 0)
	require.NoError(t, err)
	assert.Empty(t, cands)
	assert.Equal(t, 3, attempts)
}

func TestSearch_TimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ix := testIndexer("slow", srv.URL)
	ix.Timeout = 50 * time.Millisecond

	client := NewClient(10 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := client.Search(ctx, ix, models.SearchQuery{Term: "dune"}, 0)
	require.Error(t, err)

	var ixErr *IndexerError
	require.ErrorAs(t, err, &ixErr)
	assert.Equal(t, KindTimeout, ixErr.Kind)
}

func TestSearch_MalformedDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`this is not xml at all <<<`))
	}))
	defer srv.Close()

	client := NewClient(10 * time.Second)
	_, err := client.Search(context.Background(), testIndexer("garbage", srv.URL), models.SearchQuery{Term: "dune"}, 0)
	require.Error(t, err)

	var ixErr *IndexerError
	require.ErrorAs(t, err, &ixErr)
	assert.Equal(t, KindParse, ixErr.Kind)
}

func TestFetchCaps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "caps", r.URL.Query().Get("t"))
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<caps>
  <searching>
    <search available="yes" supportedParams="q,limit,offset" />
    <movie-search available="yes" supportedParams="q,imdbid,year" />
    <tv-search available="no" supportedParams="q,season,ep" />
  </searching>
</caps>`))
	}))
	defer srv.Close()

	client := NewClient(10 * time.Second)
	caps, err := client.FetchCaps(context.Background(), testIndexer("capable", srv.URL))
	require.NoError(t, err)

	assert.True(t, caps.Supports("q"))
	assert.True(t, caps.Supports("limit"))
	assert.True(t, caps.Supports("year"))
	assert.False(t, caps.Supports("season"), "unavailable modes should not contribute params")
}

func TestIndexerErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &IndexerError{Indexer: "x", Kind: KindNetwork, Err: inner}
	assert.ErrorIs(t, err, inner)
}
