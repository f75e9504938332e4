// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package doctor

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamsel/streamsel/internal/models"
	"github.com/streamsel/streamsel/internal/services/torznab"
)

type fakeProber struct {
	caps map[string]*torznab.Caps
	errs map[string]error
}

func (f *fakeProber) FetchCaps(_ context.Context, ix models.Indexer) (*torznab.Caps, error) {
	if err, ok := f.errs[ix.Name]; ok {
		return nil, err
	}
	if c, ok := f.caps[ix.Name]; ok {
		return c, nil
	}
	return &torznab.Caps{}, nil
}

type fakePlayer struct {
	err error
}

func (f *fakePlayer) Available() error { return f.err }
func (f *fakePlayer) Command() string  { return "mpv" }

func TestRun_AllHealthy(t *testing.T) {
	prober := &fakeProber{
		caps: map[string]*torznab.Caps{
			"good": {SupportedParams: []string{"q", "limit"}},
		},
	}
	d := New(prober, &fakePlayer{}, []models.Indexer{{Name: "good"}}, t.TempDir(),
		func(context.Context) error { return nil })

	results := d.Run(context.Background())
	require.Len(t, results, 4)
	assert.True(t, Healthy(results))

	assert.Equal(t, "indexer good", results[0].Name)
	assert.Contains(t, results[0].Detail, "q,limit")
}

func TestRun_FailuresAreIsolated(t *testing.T) {
	prober := &fakeProber{
		caps: map[string]*torznab.Caps{"good": {SupportedParams: []string{"q"}}},
		errs: map[string]error{"bad": errors.New("401 unauthorized")},
	}
	d := New(prober, &fakePlayer{err: errors.New("not found")},
		[]models.Indexer{{Name: "good"}, {Name: "bad"}}, t.TempDir(), nil)

	results := d.Run(context.Background())
	require.Len(t, results, 5)
	assert.False(t, Healthy(results))

	byName := map[string]CheckResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	assert.True(t, byName["indexer good"].OK)
	assert.False(t, byName["indexer bad"].OK)
	assert.Contains(t, byName["indexer bad"].Detail, "401")
	assert.False(t, byName["player mpv"].OK)
	assert.True(t, byName["tmdb"].OK, "missing tmdb key is a disabled feature, not a failure")
	assert.True(t, byName["temp dir"].OK)
}

func TestCheckTempDir_Unwritable(t *testing.T) {
	d := New(&fakeProber{}, &fakePlayer{}, nil, "", nil)
	results := d.Run(context.Background())

	byName := map[string]CheckResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	assert.False(t, byName["temp dir"].OK)
}
