// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startStreamEnv(t *testing.T, content []byte) (*StreamServer, *Session) {
	t.Helper()

	h := &fakeHandle{
		infoHash: "deadbeef",
		files:    []FileInfo{{Index: 0, Path: "movie.mkv", Length: int64(len(content))}},
		content:  content,
	}
	m := newTestManager(h)
	s, err := m.Open(context.Background(), cand("Movie"))
	require.NoError(t, err)

	srv := NewStreamServer(m, "127.0.0.1", 0)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, s
}

func TestStreamServer_ServesFullContent(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	srv, s := startStreamEnv(t, content)

	resp, err := http.Get(srv.URL(s.ID(), 0))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, body)
}

func TestStreamServer_RangeRequest(t *testing.T) {
	content := []byte("0123456789abcdef")
	srv, s := startStreamEnv(t, content)

	req, err := http.NewRequest(http.MethodGet, srv.URL(s.ID(), 0), nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=4-7")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, fmt.Sprintf("bytes 4-7/%d", len(content)), resp.Header.Get("Content-Range"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("4567"), body)
}

func TestStreamServer_UnknownSession(t *testing.T) {
	srv, _ := startStreamEnv(t, []byte("x"))

	resp, err := http.Get(srv.URL("nosuchsession", 0))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamServer_StoppedSessionIsGone(t *testing.T) {
	srv, s := startStreamEnv(t, []byte("x"))
	require.NoError(t, s.Stop())

	resp, err := http.Get(srv.URL(s.ID(), 0))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestStreamServer_URLShape(t *testing.T) {
	srv, s := startStreamEnv(t, []byte("x"))
	url := srv.URL(s.ID(), 0)
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d/torrents/deadbeef/stream/0", srv.Port()), url)
	assert.Equal(t, "/torrents/deadbeef/stream/0", s.StreamURLPath())
}

func TestStreamServer_BadFileID(t *testing.T) {
	srv, s := startStreamEnv(t, []byte("x"))

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/torrents/%s/stream/notanumber", srv.Port(), s.ID()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
