// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package race starts several candidate sessions at once and streams from
// whichever becomes playable first.
package race

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/streamsel/streamsel/internal/metrics"
	"github.com/streamsel/streamsel/internal/models"
)

// ErrRaceExhausted means every raced candidate failed before any session
// became ready.
var ErrRaceExhausted = errors.New("no candidate became ready")

// Session is the slice of a torrent session the race cares about.
type Session interface {
	ID() string
	PromoteStreaming() bool
	Stop() error
}

// Opener creates sessions and drives them to readiness, satisfied by the
// torrent manager through a thin adapter.
type Opener interface {
	Open(ctx context.Context, cand models.ReleaseCandidate) (Session, error)
	AwaitReady(ctx context.Context, s Session) error
}

// Selector races the top candidates of a ranked list.
type Selector struct {
	opener Opener
	width  int
}

func NewSelector(opener Opener, width int) *Selector {
	return &Selector{opener: opener, width: width}
}

// Run opens up to width sessions concurrently and returns the first one to
// reach Ready, promoted to Streaming. Every other session is stopped before
// Run returns, whether it lost the promotion or never got that far. With no
// winner at all, Run returns ErrRaceExhausted. A width below one refuses to
// race at all; the caller decides what replaces the race in that case.
func (sel *Selector) Run(ctx context.Context, cands []models.ReleaseCandidate) (Session, error) {
	if sel.width <= 0 {
		return nil, errors.Errorf("racing disabled (width %d)", sel.width)
	}
	if len(cands) == 0 {
		return nil, errors.Wrap(ErrRaceExhausted, "no candidates to race")
	}

	entrants := cands
	if len(entrants) > sel.width {
		entrants = entrants[:sel.width]
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readyCh := make(chan Session, len(entrants))
	var wg sync.WaitGroup
	for _, cand := range entrants {
		wg.Add(1)
		go func(cand models.ReleaseCandidate) {
			defer wg.Done()

			s, err := sel.opener.Open(raceCtx, cand)
			if err != nil {
				log.Warn().Err(err).Str("title", cand.Title).Msg("race entrant failed to open")
				return
			}
			if err := sel.opener.AwaitReady(raceCtx, s); err != nil {
				log.Debug().Err(err).Str("session", s.ID()).Msg("race entrant never became ready")
				_ = s.Stop()
				return
			}
			readyCh <- s
		}(cand)
	}

	go func() {
		wg.Wait()
		close(readyCh)
	}()

	// First entrant to win the Ready->Streaming promotion takes the race;
	// cancellation then folds the rest. Late arrivals that were already
	// Ready when the winner was picked are stopped as they surface.
	var winner Session
	for s := range readyCh {
		if winner == nil && s.PromoteStreaming() {
			winner = s
			cancel()
			continue
		}
		_ = s.Stop()
	}

	if winner == nil {
		metrics.RacesExhaustedTotal.Inc()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.Wrapf(ErrRaceExhausted, "raced %d candidates", len(entrants))
	}

	metrics.RacesWonTotal.Inc()
	log.Info().Str("session", winner.ID()).Int("entrants", len(entrants)).Msg("race won")
	return winner, nil
}
