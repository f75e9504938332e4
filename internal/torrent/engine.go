// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	anacrolix "github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/streamsel/streamsel/internal/buildinfo"
)

const maxTorrentFileBytes = 16 << 20

// FileInfo describes one file inside a torrent.
type FileInfo struct {
	Index  int
	Path   string
	Length int64
}

// Handle is one added torrent. The indirection exists so session logic can
// be tested without a live swarm.
type Handle interface {
	// WaitInfo blocks until torrent metadata is available or ctx expires.
	WaitInfo(ctx context.Context) error
	InfoHash() string
	Name() string
	Files() []FileInfo
	// Prioritize marks a file for download and front-loads its first
	// leadBytes so playback can start before the file completes.
	Prioritize(fileIndex int, leadBytes int64)
	// PrefixBytesComplete reports how many contiguous bytes from the start
	// of the file are already on disk.
	PrefixBytesComplete(fileIndex int) int64
	BytesCompleted() int64
	NewReader(fileIndex int) (io.ReadSeekCloser, error)
	// Drop removes the torrent from the client and deletes nothing; data
	// cleanup is the temp dir's problem.
	Drop()
}

// Engine adds torrents from magnet links or .torrent URLs.
type Engine interface {
	Add(ctx context.Context, src string) (Handle, error)
	Close() error
}

type anacrolixEngine struct {
	client     *anacrolix.Client
	httpClient *http.Client
}

// NewEngine creates a torrent engine storing data under dataDir. Seeding is
// off; sessions exist only to feed a local stream.
func NewEngine(dataDir string) (Engine, error) {
	cfg := anacrolix.NewDefaultClientConfig()
	cfg.DataDir = dataDir
	cfg.Seed = false
	cfg.NoUpload = false
	cfg.DisableUTP = true

	client, err := anacrolix.NewClient(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "torrent client")
	}
	return &anacrolixEngine{
		client:     client,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (e *anacrolixEngine) Add(ctx context.Context, src string) (Handle, error) {
	switch {
	case strings.HasPrefix(src, "magnet:"):
		t, err := e.client.AddMagnet(src)
		if err != nil {
			return nil, errors.Wrap(err, "add magnet")
		}
		return &anacrolixHandle{t: t}, nil
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return e.addFromURL(ctx, src)
	default:
		return nil, errors.Errorf("unsupported torrent source %q", src)
	}
}

// addFromURL downloads a .torrent document. Some indexers answer a download
// link with a redirect to a magnet URI instead; that redirect is followed
// into AddMagnet rather than treated as an error.
func (e *anacrolixEngine) addFromURL(ctx context.Context, src string) (Handle, error) {
	var magnetRedirect string
	httpClient := *e.httpClient
	httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if req.URL.Scheme == "magnet" {
			magnetRedirect = req.URL.String()
			return http.ErrUseLastResponse
		}
		if len(via) >= 10 {
			return errors.New("too many redirects")
		}
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build torrent request")
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := httpClient.Do(req)
	if err != nil {
		if magnetRedirect != "" {
			return e.Add(ctx, magnetRedirect)
		}
		return nil, errors.Wrap(err, "fetch torrent file")
	}
	defer resp.Body.Close()

	if magnetRedirect != "" {
		return e.Add(ctx, magnetRedirect)
	}
	if loc := resp.Header.Get("Location"); strings.HasPrefix(loc, "magnet:") {
		return e.Add(ctx, loc)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetch torrent file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTorrentFileBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read torrent file")
	}

	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "parse torrent file")
	}
	t, err := e.client.AddTorrent(mi)
	if err != nil {
		return nil, errors.Wrap(err, "add torrent")
	}
	return &anacrolixHandle{t: t}, nil
}

func (e *anacrolixEngine) Close() error {
	errs := e.client.Close()
	for _, err := range errs {
		log.Warn().Err(err).Msg("torrent client close")
	}
	return nil
}

type anacrolixHandle struct {
	t *anacrolix.Torrent
}

func (h *anacrolixHandle) WaitInfo(ctx context.Context) error {
	select {
	case <-h.t.GotInfo():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *anacrolixHandle) InfoHash() string { return h.t.InfoHash().HexString() }
func (h *anacrolixHandle) Name() string     { return h.t.Name() }

func (h *anacrolixHandle) Files() []FileInfo {
	files := h.t.Files()
	out := make([]FileInfo, 0, len(files))
	for i, f := range files {
		out = append(out, FileInfo{Index: i, Path: f.Path(), Length: f.Length()})
	}
	return out
}

func (h *anacrolixHandle) Prioritize(fileIndex int, leadBytes int64) {
	files := h.t.Files()
	if fileIndex < 0 || fileIndex >= len(files) {
		return
	}
	f := files[fileIndex]
	f.Download()

	info := h.t.Info()
	if info == nil || info.PieceLength <= 0 || leadBytes <= 0 {
		return
	}

	// Pieces covering the head of the file jump the queue so the stream
	// prefix fills before the rest.
	pieceLen := info.PieceLength
	startPiece := int(f.Offset() / pieceLen)
	endGlobal := f.Offset() + leadBytes
	if max := f.Offset() + f.Length(); endGlobal > max {
		endGlobal = max
	}
	endPiece := int((endGlobal - 1) / pieceLen)
	for p := startPiece; p <= endPiece && p < h.t.NumPieces(); p++ {
		h.t.Piece(p).SetPriority(anacrolix.PiecePriorityNow)
	}
}

// PrefixBytesComplete walks pieces from the file's start and stops at the
// first gap, so the count is contiguous, not total.
func (h *anacrolixHandle) PrefixBytesComplete(fileIndex int) int64 {
	files := h.t.Files()
	if fileIndex < 0 || fileIndex >= len(files) {
		return 0
	}
	f := files[fileIndex]

	info := h.t.Info()
	if info == nil || info.PieceLength <= 0 {
		return 0
	}
	pieceLen := info.PieceLength
	fileStart := f.Offset()
	fileEnd := f.Offset() + f.Length()

	startPiece := int(fileStart / pieceLen)
	pieceOff := fileStart % pieceLen

	if h.t.PieceBytesMissing(startPiece) != 0 {
		return 0
	}

	var done int64
	segEnd := (int64(startPiece) + 1) * pieceLen
	if segEnd > fileEnd {
		segEnd = fileEnd
	}
	done += segEnd - (int64(startPiece)*pieceLen + pieceOff)

	for p := startPiece + 1; int64(p)*pieceLen < fileEnd; p++ {
		if h.t.PieceBytesMissing(p) != 0 {
			break
		}
		ps := int64(p) * pieceLen
		pe := ps + pieceLen
		if pe > fileEnd {
			pe = fileEnd
		}
		done += pe - ps
	}
	return done
}

func (h *anacrolixHandle) BytesCompleted() int64 { return h.t.BytesCompleted() }

func (h *anacrolixHandle) NewReader(fileIndex int) (io.ReadSeekCloser, error) {
	files := h.t.Files()
	if fileIndex < 0 || fileIndex >= len(files) {
		return nil, errors.Errorf("file index %d out of range", fileIndex)
	}
	r := files[fileIndex].NewReader()
	r.SetResponsive()
	return r, nil
}

func (h *anacrolixHandle) Drop() { h.t.Drop() }
