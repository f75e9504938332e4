// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package race

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamsel/streamsel/internal/models"
)

type fakeSession struct {
	id        string
	streaming atomic.Bool
	stopped   atomic.Bool
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) PromoteStreaming() bool {
	if s.stopped.Load() {
		return false
	}
	return s.streaming.CompareAndSwap(false, true)
}

func (s *fakeSession) Stop() error {
	s.stopped.Store(true)
	return nil
}

// fakeOpener scripts one behavior per candidate title.
type fakeOpener struct {
	mu         sync.Mutex
	sessions   map[string]*fakeSession
	openErr    map[string]error
	readyAfter map[string]time.Duration
	neverReady map[string]bool
	opened     []string
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		sessions:   make(map[string]*fakeSession),
		openErr:    make(map[string]error),
		readyAfter: make(map[string]time.Duration),
		neverReady: make(map[string]bool),
	}
}

func (o *fakeOpener) Open(_ context.Context, cand models.ReleaseCandidate) (Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, cand.Title)
	if err, ok := o.openErr[cand.Title]; ok {
		return nil, err
	}
	s := &fakeSession{id: cand.Title}
	o.sessions[cand.Title] = s
	return s, nil
}

func (o *fakeOpener) AwaitReady(ctx context.Context, s Session) error {
	o.mu.Lock()
	delay := o.readyAfter[s.ID()]
	never := o.neverReady[s.ID()]
	o.mu.Unlock()

	if never {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *fakeOpener) session(id string) *fakeSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[id]
}

func candList(titles ...string) []models.ReleaseCandidate {
	out := make([]models.ReleaseCandidate, 0, len(titles))
	for _, t := range titles {
		out = append(out, models.ReleaseCandidate{Title: t, MagnetURI: "magnet:?xt=urn:btih:" + t})
	}
	return out
}

func TestRun_FirstReadyWins(t *testing.T) {
	opener := newFakeOpener()
	opener.readyAfter["slow"] = 80 * time.Millisecond
	opener.readyAfter["fast"] = 5 * time.Millisecond
	opener.readyAfter["medium"] = 40 * time.Millisecond

	sel := NewSelector(opener, 3)
	winner, err := sel.Run(context.Background(), candList("slow", "fast", "medium"))
	require.NoError(t, err)

	assert.Equal(t, "fast", winner.ID())
	assert.True(t, opener.session("fast").streaming.Load())

	for _, id := range []string{"slow", "medium"} {
		s := opener.session(id)
		if s != nil {
			assert.True(t, s.stopped.Load(), "loser %s must be stopped", id)
			assert.False(t, s.streaming.Load(), "loser %s must never stream", id)
		}
	}
}

func TestRun_WidthLimitsEntrants(t *testing.T) {
	opener := newFakeOpener()
	sel := NewSelector(opener, 2)

	winner, err := sel.Run(context.Background(), candList("a", "b", "c", "d"))
	require.NoError(t, err)
	require.NotNil(t, winner)

	assert.Len(t, opener.opened, 2, "only the top candidates should be raced")
	assert.ElementsMatch(t, []string{"a", "b"}, opener.opened)
}

func TestRun_SkipsFailedOpens(t *testing.T) {
	opener := newFakeOpener()
	opener.openErr["broken"] = errors.New("no playable file")
	opener.readyAfter["good"] = 5 * time.Millisecond

	sel := NewSelector(opener, 2)
	winner, err := sel.Run(context.Background(), candList("broken", "good"))
	require.NoError(t, err)
	assert.Equal(t, "good", winner.ID())
}

func TestRun_AllFailReturnsErrRaceExhausted(t *testing.T) {
	opener := newFakeOpener()
	opener.openErr["a"] = errors.New("boom")
	opener.openErr["b"] = errors.New("boom")

	sel := NewSelector(opener, 2)
	_, err := sel.Run(context.Background(), candList("a", "b"))
	assert.ErrorIs(t, err, ErrRaceExhausted)
}

func TestRun_WidthZeroRefusesToRace(t *testing.T) {
	opener := newFakeOpener()
	opener.readyAfter["a"] = time.Millisecond

	sel := NewSelector(opener, 0)
	winner, err := sel.Run(context.Background(), candList("a", "b", "c", "d", "e"))
	require.Error(t, err)
	assert.Nil(t, winner)
	assert.NotErrorIs(t, err, ErrRaceExhausted)
	assert.Empty(t, opener.opened, "a disabled race must not open any session")
}

func TestRun_EmptyCandidateList(t *testing.T) {
	sel := NewSelector(newFakeOpener(), 3)
	_, err := sel.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrRaceExhausted)
}

func TestRun_CancelledContext(t *testing.T) {
	opener := newFakeOpener()
	opener.neverReady["stuck"] = true

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	sel := NewSelector(opener, 1)
	_, err := sel.Run(ctx, candList("stuck"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_AtMostOneWinnerUnderContention(t *testing.T) {
	opener := newFakeOpener()
	titles := []string{"a", "b", "c", "d", "e"}
	// All become ready at essentially the same instant.
	for _, title := range titles {
		opener.readyAfter[title] = time.Millisecond
	}

	sel := NewSelector(opener, len(titles))
	winner, err := sel.Run(context.Background(), candList(titles...))
	require.NoError(t, err)

	streaming := 0
	for _, title := range titles {
		s := opener.session(title)
		require.NotNil(t, s)
		if s.streaming.Load() {
			streaming++
			assert.Equal(t, winner.ID(), s.ID())
		} else {
			assert.True(t, s.stopped.Load())
		}
	}
	assert.Equal(t, 1, streaming)
}
