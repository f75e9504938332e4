// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrent

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/streamsel/streamsel/internal/metrics"
	"github.com/streamsel/streamsel/internal/models"
)

// State is a session's position in its lifecycle. Transitions only move
// forward; Stopped and Failed are terminal.
type State int32

const (
	StatePending State = iota
	StateAdding
	StateFetching
	StateReady
	StateStreaming
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAdding:
		return "adding"
	case StateFetching:
		return "fetching"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool { return s == StateStopped || s == StateFailed }

var (
	// ErrNoPlayableFile means the torrent metadata arrived but contained no
	// file with a recognized video extension.
	ErrNoPlayableFile = errors.New("torrent contains no playable video file")

	// ErrNotReady means the stream prefix did not fill within the ready
	// timeout.
	ErrNotReady = errors.New("session did not become ready in time")
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
	".m4v":  true,
}

// chooseVideoFile picks the largest file carrying a video extension.
func chooseVideoFile(files []FileInfo) (FileInfo, bool) {
	var best FileInfo
	found := false
	for _, f := range files {
		if !videoExtensions[strings.ToLower(filepath.Ext(f.Path))] {
			continue
		}
		if !found || f.Length > best.Length {
			best = f
			found = true
		}
	}
	return best, found
}

// Session is one candidate being downloaded for streaming. The ID is the
// torrent infohash, which also keys the stream URL.
type Session struct {
	id        string
	candidate models.ReleaseCandidate
	handle    Handle
	fileIndex int
	filePath  string
	fileSize  int64

	state   atomic.Int32
	failErr atomic.Value
}

func (s *Session) ID() string { return s.id }

func (s *Session) Candidate() models.ReleaseCandidate { return s.candidate }

func (s *Session) FileIndex() int { return s.fileIndex }

func (s *Session) FilePath() string { return s.filePath }

func (s *Session) FileSize() int64 { return s.fileSize }

func (s *Session) State() State { return State(s.state.Load()) }

// transition moves from one specific state to another. It fails when the
// session has already moved on, which keeps concurrent stop/fail/promote
// paths from clobbering each other.
func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// PromoteStreaming claims the Ready session for playback. Exactly one
// caller can win; everyone else sees false.
func (s *Session) PromoteStreaming() bool {
	return s.transition(StateReady, StateStreaming)
}

// Stop ends the session and releases its torrent. Safe to call repeatedly
// and from any state; already-terminal sessions are left alone.
func (s *Session) Stop() error {
	for {
		cur := s.State()
		if cur.Terminal() {
			return nil
		}
		if s.transition(cur, StateStopped) {
			if s.handle != nil {
				s.handle.Drop()
			}
			log.Debug().Str("session", s.id).Msg("session stopped")
			return nil
		}
	}
}

// failure keeps failErr stores type-homogeneous for atomic.Value.
type failure struct{ err error }

func (s *Session) fail(err error) {
	for {
		cur := s.State()
		if cur.Terminal() {
			return
		}
		// The cause must be visible before the state flips, or a reader
		// could observe StateFailed with a nil Err.
		s.failErr.CompareAndSwap(nil, failure{err: err})
		if s.transition(cur, StateFailed) {
			if s.handle != nil {
				s.handle.Drop()
			}
			metrics.SessionsFailedTotal.Inc()
			return
		}
	}
}

// Err returns the failure cause when the session is in StateFailed.
func (s *Session) Err() error {
	if v := s.failErr.Load(); v != nil {
		return v.(failure).err
	}
	return nil
}

// PrefixBytes reports contiguous bytes downloaded at the head of the
// selected file.
func (s *Session) PrefixBytes() int64 {
	if s.handle == nil {
		return 0
	}
	return s.handle.PrefixBytesComplete(s.fileIndex)
}

// Progress is the session's total download progress for the torrent, 0..1.
func (s *Session) Progress() float64 {
	if s.handle == nil || s.fileSize == 0 {
		return 0
	}
	p := float64(s.handle.BytesCompleted()) / float64(s.fileSize)
	if p > 1 {
		p = 1
	}
	return p
}

// Manager opens and tracks sessions, and owns the readiness policy.
type Manager struct {
	engine       Engine
	readyPrefix  int64
	readyTimeout time.Duration
	pollInterval time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(engine Engine, readyPrefix int64, readyTimeout time.Duration) *Manager {
	if readyPrefix <= 0 {
		readyPrefix = 24 << 20
	}
	if readyTimeout <= 0 {
		readyTimeout = 60 * time.Second
	}
	return &Manager{
		engine:       engine,
		readyPrefix:  readyPrefix,
		readyTimeout: readyTimeout,
		pollInterval: 500 * time.Millisecond,
		sessions:     make(map[string]*Session),
	}
}

// Open adds the candidate's torrent, waits for metadata, and selects the
// file to stream. The returned session is in StateFetching with its stream
// prefix prioritized; it is not yet ready. The add and metadata phase runs
// under the manager's ready timeout so a dead magnet with no reachable
// peers cannot block the caller indefinitely.
func (m *Manager) Open(ctx context.Context, cand models.ReleaseCandidate) (*Session, error) {
	src := cand.SourceURI()
	if src == "" {
		return nil, errors.Errorf("candidate %q has no usable source", cand.Title)
	}

	openCtx, cancel := context.WithTimeout(ctx, m.readyTimeout)
	defer cancel()

	s := &Session{candidate: cand}
	s.state.Store(int32(StateAdding))

	handle, err := m.engine.Add(openCtx, src)
	if err != nil {
		s.fail(err)
		return nil, errors.Wrapf(err, "add %q", cand.Title)
	}
	s.handle = handle
	s.id = handle.InfoHash()
	s.state.Store(int32(StateFetching))

	if err := handle.WaitInfo(openCtx); err != nil {
		s.fail(err)
		return nil, errors.Wrapf(err, "metadata for %q", cand.Title)
	}

	file, ok := chooseVideoFile(handle.Files())
	if !ok {
		s.fail(ErrNoPlayableFile)
		return nil, errors.Wrapf(ErrNoPlayableFile, "%q", cand.Title)
	}
	s.fileIndex = file.Index
	s.filePath = file.Path
	s.fileSize = file.Length

	handle.Prioritize(file.Index, m.readyPrefix)

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	metrics.SessionsOpenedTotal.Inc()
	log.Info().
		Str("session", s.id).
		Str("title", cand.Title).
		Str("file", file.Path).
		Int64("size", file.Length).
		Msg("session opened")

	return s, nil
}

// AwaitReady blocks until the session's stream prefix is complete, then
// moves it to StateReady. A session stopped or failed elsewhere aborts the
// wait; running past the ready timeout fails the session with ErrNotReady.
// A cancelled context stops the session instead of failing it: cancellation
// means the wait was called off, usually because a race picked a winner.
func (m *Manager) AwaitReady(ctx context.Context, s *Session) error {
	deadline := time.NewTimer(m.readyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(m.pollInterval)
	defer tick.Stop()

	for {
		switch st := s.State(); st {
		case StateFetching:
			if s.PrefixBytes() >= m.readyPrefix {
				if s.transition(StateFetching, StateReady) {
					log.Debug().Str("session", s.id).Msg("session ready")
					return nil
				}
				continue
			}
		case StateReady, StateStreaming:
			return nil
		case StateFailed:
			return s.Err()
		case StateStopped:
			return errors.New("session stopped")
		default:
			return errors.Errorf("session in unexpected state %s", st)
		}

		select {
		case <-ctx.Done():
			_ = s.Stop()
			return ctx.Err()
		case <-deadline.C:
			s.fail(ErrNotReady)
			return errors.Wrapf(ErrNotReady, "session %s", s.id)
		case <-tick.C:
		}
	}
}

// Lookup returns a tracked session by ID.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Release stops one session and forgets it. Unknown IDs are a no-op.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		_ = s.Stop()
	}
}

// ReleaseAll stops every tracked session. Idempotent: a second call finds
// an empty table and does nothing.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.Stop()
	}
}

// StreamURLPath is the server-relative stream path for the selected file.
func (s *Session) StreamURLPath() string {
	return fmt.Sprintf("/torrents/%s/stream/%d", s.id, s.fileIndex)
}

// NewReader opens a stream reader over a file in the session's torrent.
func (s *Session) NewReader(fileIndex int) (io.ReadSeekCloser, error) {
	if s.handle == nil {
		return nil, errors.New("session has no torrent handle")
	}
	return s.handle.NewReader(fileIndex)
}
