// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/term"

	"github.com/streamsel/streamsel/internal/models"
)

func candidates(titles ...string) []models.ReleaseCandidate {
	out := make([]models.ReleaseCandidate, 0, len(titles))
	for _, title := range titles {
		out = append(out, models.ReleaseCandidate{Title: title})
	}
	return out
}

func TestSplitRace(t *testing.T) {
	cands := candidates("a", "b", "c", "d", "e")

	raced, rest := splitRace(cands, 3)
	assert.Len(t, raced, 3)
	require.Len(t, rest, 2)
	assert.Equal(t, "d", rest[0].Title, "the rest must keep ranked order for the manual fallback")

	raced, rest = splitRace(cands, 10)
	assert.Len(t, raced, 5)
	assert.Empty(t, rest)

	raced, rest = splitRace(cands, 1)
	assert.Len(t, raced, 1)
	assert.Len(t, rest, 4)
}

func TestPromptPick_NonInteractiveTakesTop(t *testing.T) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		t.Skip("requires a non-interactive stdin")
	}

	chosen, err := promptPick(candidates("top", "second"))
	require.NoError(t, err)
	assert.Equal(t, "top", chosen.Title)
}
