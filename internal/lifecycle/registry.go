// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package lifecycle tracks everything that must be torn down when playback
// ends: player processes, torrent sessions, and temp directories.
package lifecycle

import (
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// Process is a supervised external process that can be told to go away.
type Process interface {
	Pid() int
	Terminate() error
}

// Session is a stoppable torrent session.
type Session interface {
	ID() string
	Stop() error
}

// Registry collects live resources and releases them in dependency order:
// processes first (nothing should read a stream we are tearing down), then
// sessions, then temp data.
type Registry struct {
	mu        sync.Mutex
	processes []Process
	sessions  []Session
	tempDirs  []string
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) RegisterProcess(p Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes = append(r.processes, p)
}

func (r *Registry) RegisterSession(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
}

func (r *Registry) RegisterTempDir(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tempDirs = append(r.tempDirs, path)
}

// ReleaseSession stops and forgets one session by ID. Unknown IDs are a
// no-op.
func (r *Registry) ReleaseSession(id string) {
	r.mu.Lock()
	var found Session
	kept := r.sessions[:0]
	for _, s := range r.sessions {
		if found == nil && s.ID() == id {
			found = s
			continue
		}
		kept = append(kept, s)
	}
	r.sessions = kept
	r.mu.Unlock()

	if found != nil {
		if err := found.Stop(); err != nil {
			log.Warn().Err(err).Str("session", id).Msg("session stop failed")
		}
	}
}

// ReleaseAll tears down every registered resource. Each call drains the
// registry before doing any work, so a second call, or a concurrent one,
// finds nothing left and returns immediately.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	processes := r.processes
	sessions := r.sessions
	tempDirs := r.tempDirs
	r.processes = nil
	r.sessions = nil
	r.tempDirs = nil
	r.mu.Unlock()

	for _, p := range processes {
		log.Debug().Int("pid", p.Pid()).Msg("terminating player process")
		if err := p.Terminate(); err != nil {
			log.Warn().Err(err).Int("pid", p.Pid()).Msg("process terminate failed")
		}
	}
	for _, s := range sessions {
		if err := s.Stop(); err != nil {
			log.Warn().Err(err).Str("session", s.ID()).Msg("session stop failed")
		}
	}
	for _, dir := range tempDirs {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("temp dir purge failed")
		}
	}

	if len(processes)+len(sessions)+len(tempDirs) > 0 {
		log.Info().
			Int("processes", len(processes)).
			Int("sessions", len(sessions)).
			Int("temp_dirs", len(tempDirs)).
			Msg("resources released")
	}
}
