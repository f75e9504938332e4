// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// SessionSource resolves stream URLs back to live sessions.
type SessionSource interface {
	Lookup(id string) (*Session, bool)
}

// StreamServer serves torrent file content over HTTP range requests so an
// external player can seek while pieces are still arriving.
type StreamServer struct {
	source SessionSource
	host   string
	port   int

	srv      *http.Server
	listener net.Listener
}

func NewStreamServer(source SessionSource, host string, port int) *StreamServer {
	return &StreamServer{source: source, host: host, port: port}
}

// Start binds the listener and begins serving in the background. Binding
// port 0 is supported; Port() reports the bound port afterwards.
func (s *StreamServer) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.host, s.port))
	if err != nil {
		return errors.Wrap(err, "stream listener")
	}
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
		AllowedHeaders: []string{"Range"},
		ExposedHeaders: []string{"Content-Range", "Accept-Ranges", "Content-Length"},
	}).Handler)
	r.Get("/torrents/{sessionID}/stream/{fileID}", s.handleStream)
	r.Head("/torrents/{sessionID}/stream/{fileID}", s.handleStream)

	s.srv = &http.Server{
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// No write timeout: a stream response lives as long as playback.
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("stream server stopped")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("stream server listening")
	return nil
}

func (s *StreamServer) Port() int { return s.port }

// URL builds the playback address for a session's file.
func (s *StreamServer) URL(sessionID string, fileID int) string {
	host := s.host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d/torrents/%s/stream/%d", host, s.port, sessionID, fileID)
}

func (s *StreamServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *StreamServer) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	fileID, err := strconv.Atoi(chi.URLParam(r, "fileID"))
	if err != nil {
		http.Error(w, "invalid file id", http.StatusBadRequest)
		return
	}

	sess, ok := s.source.Lookup(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if st := sess.State(); st.Terminal() {
		http.Error(w, "session "+st.String(), http.StatusGone)
		return
	}

	reader, err := sess.NewReader(fileID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer reader.Close()

	name := filepath.Base(sess.FilePath())
	w.Header().Set("Content-Type", contentTypeFor(name))

	log.Debug().
		Str("session", sessionID).
		Int("file", fileID).
		Str("range", r.Header.Get("Range")).
		Msg("stream request")

	http.ServeContent(w, r, name, time.Time{}, reader)
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
