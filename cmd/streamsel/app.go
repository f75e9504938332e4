// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/streamsel/streamsel/internal/buildinfo"
	"github.com/streamsel/streamsel/internal/config"
	"github.com/streamsel/streamsel/internal/dbinterface"
	"github.com/streamsel/streamsel/internal/lifecycle"
	"github.com/streamsel/streamsel/internal/metrics"
	"github.com/streamsel/streamsel/internal/models"
	"github.com/streamsel/streamsel/internal/player"
	"github.com/streamsel/streamsel/internal/services/doctor"
	"github.com/streamsel/streamsel/internal/services/metadata"
	"github.com/streamsel/streamsel/internal/services/race"
	"github.com/streamsel/streamsel/internal/services/search"
	"github.com/streamsel/streamsel/internal/services/torznab"
	"github.com/streamsel/streamsel/internal/torrent"
)

// Application wires the services behind every CLI command.
type Application struct {
	cfg      *config.AppConfig
	registry *lifecycle.Registry
	client   *torznab.Client
	meta     *metadata.Service
	agg      *search.Aggregator
	launcher *player.Launcher
	indexers []models.Indexer

	engine    torrent.Engine
	streamSrv *torrent.StreamServer
	db        *sql.DB
}

func NewApplication(flags commonFlags) (*Application, error) {
	cfg, err := config.New(flags.configDir, buildinfo.Version)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if flags.logPath != "" {
		cfg.Config.LogPath = flags.logPath
	}
	cfg.ApplyLogConfig()
	if flags.dataDir != "" {
		cfg.SetDataDir(flags.dataDir)
	}

	searchTimeout := time.Duration(cfg.Config.SearchTimeoutSeconds) * time.Second
	client := torznab.NewClient(searchTimeout)
	meta := metadata.NewService(cfg.Config.TMDBApiKey, cfg.Config.MatchThreshold)

	indexers := make([]models.Indexer, 0, len(cfg.Config.Indexers))
	for _, ix := range cfg.Config.Indexers {
		indexers = append(indexers, models.Indexer{
			Name:    ix.Name,
			BaseURL: ix.URL,
			APIKey:  ix.APIKey,
			Timeout: time.Duration(ix.TimeoutSeconds) * time.Second,
		})
	}

	app := &Application{
		cfg:      cfg,
		registry: lifecycle.NewRegistry(),
		client:   client,
		meta:     meta,
		agg:      search.NewAggregator(client, client, meta, indexers, cfg.Config.SearchLimit, searchTimeout),
		launcher: player.NewLauncher(cfg.Config.PlayerCommand, cfg.Config.PlayerArgs),
		indexers: indexers,
	}

	if cfg.Config.MetricsEnabled {
		go metrics.Serve(fmt.Sprintf("%s:%d", cfg.Config.MetricsHost, cfg.Config.MetricsPort))
	}

	return app, nil
}

// Shutdown releases everything the commands accumulated: player processes,
// sessions, temp data, the stream server, and the torrent client.
func (app *Application) Shutdown() {
	app.registry.ReleaseAll()

	if app.streamSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = app.streamSrv.Shutdown(ctx)
		cancel()
	}
	if app.engine != nil {
		_ = app.engine.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}

// Search runs the aggregated search and prints the ranked candidates.
func (app *Application) Search(ctx context.Context, term string, year int) error {
	res, err := app.agg.Search(ctx, models.SearchQuery{Term: term, Year: year})
	if err != nil {
		return err
	}

	printResult(res)
	return nil
}

// Watch runs the full pipeline: search, candidate selection, the readiness
// race, playback, and history.
func (app *Application) Watch(ctx context.Context, term string, year int, pick bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	query := models.SearchQuery{Term: term, Year: year}
	res, err := app.agg.Search(ctx, query)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	entrants := res.Candidates
	width := app.cfg.Config.RaceWidth
	// Race width zero turns racing off entirely; the user picks instead.
	manual := pick || width <= 0
	if manual {
		chosen, err := promptPick(res.Candidates)
		if err != nil {
			return err
		}
		entrants = []models.ReleaseCandidate{chosen}
		width = 1
	}

	manager, err := app.startStreaming()
	if err != nil {
		return err
	}

	raced, rest := splitRace(entrants, width)
	winner, err := race.NewSelector(&managerOpener{m: manager}, width).Run(ctx, raced)
	if err != nil && !manual && errors.Is(err, race.ErrRaceExhausted) && len(rest) > 0 {
		fmt.Fprintln(os.Stderr, "no raced candidate became ready, pick one to try directly")
		chosen, perr := promptPick(rest)
		if perr != nil {
			return perr
		}
		winner, err = race.NewSelector(&managerOpener{m: manager}, 1).
			Run(ctx, []models.ReleaseCandidate{chosen})
	}
	if err != nil {
		return err
	}
	session := winner.(*torrent.Session)
	app.registry.RegisterSession(session)

	streamURL := app.streamSrv.URL(session.ID(), session.FileIndex())
	fmt.Printf("Playing %s\n", session.Candidate().Title)

	if err := app.launcher.Available(); err != nil {
		return err
	}
	proc, err := app.launcher.Launch(streamURL)
	if err != nil {
		return err
	}
	app.registry.RegisterProcess(proc)

	started := time.Now()
	status, waitErr := proc.Wait(ctx)
	if waitErr != nil && ctx.Err() == nil {
		log.Warn().Err(waitErr).Int("code", status.Code).Msg("player exited with an error")
	}

	app.recordHistory(query, session, time.Since(started))
	return nil
}

// startStreaming creates the torrent engine over a fresh temp dir, a session
// manager around it, and the stream server. The temp dir is registered for
// purge on shutdown.
func (app *Application) startStreaming() (*torrent.Manager, error) {
	if err := os.MkdirAll(app.cfg.Config.TempDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create temp dir")
	}
	runDir, err := os.MkdirTemp(app.cfg.Config.TempDir, "run-")
	if err != nil {
		return nil, errors.Wrap(err, "create run dir")
	}
	app.registry.RegisterTempDir(runDir)

	engine, err := torrent.NewEngine(runDir)
	if err != nil {
		return nil, err
	}
	app.engine = engine

	manager := torrent.NewManager(
		engine,
		int64(app.cfg.Config.ReadyPrefixMB)<<20,
		time.Duration(app.cfg.Config.ReadyTimeoutSeconds)*time.Second,
	)

	srv := torrent.NewStreamServer(manager, app.cfg.Config.StreamHost, app.cfg.Config.StreamPort)
	if err := srv.Start(); err != nil {
		return nil, err
	}
	app.streamSrv = srv
	return manager, nil
}

func (app *Application) recordHistory(query models.SearchQuery, session *torrent.Session, duration time.Duration) {
	if !app.cfg.Config.HistoryEnabled {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := app.historyStore(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("history unavailable")
		return
	}

	cand := session.Candidate()
	err = store.Record(ctx, models.HistoryEntry{
		Query:        query.Term,
		Title:        cand.Title,
		InfoHash:     session.ID(),
		FilePath:     session.FilePath(),
		FileSize:     session.FileSize(),
		Seeders:      cand.Seeders,
		DurationSecs: int64(duration.Seconds()),
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to record history")
		return
	}

	if days := app.cfg.Config.HistoryDays; days > 0 {
		if _, err := store.Prune(ctx, time.Duration(days)*24*time.Hour); err != nil {
			log.Warn().Err(err).Msg("failed to prune history")
		}
	}
}

// Doctor checks the configured environment and prints one line per check.
func (app *Application) Doctor(ctx context.Context) error {
	var tmdbPing func(context.Context) error
	if app.meta.Enabled() {
		tmdbPing = func(ctx context.Context) error {
			_, err := app.meta.Lookup(ctx, models.SearchQuery{Term: "inception"})
			return err
		}
	}

	d := doctor.New(app.client, app.launcher, app.indexers, app.cfg.Config.TempDir, tmdbPing)
	results := d.Run(ctx)

	for _, r := range results {
		mark := "ok"
		if !r.OK {
			mark = "FAIL"
		}
		fmt.Printf("%-4s %-24s %s\n", mark, r.Name, r.Detail)
	}

	if !doctor.Healthy(results) {
		return errors.New("one or more checks failed")
	}
	return nil
}

// History prints recent playbacks.
func (app *Application) History(ctx context.Context, limit int) error {
	store, err := app.historyStore(ctx)
	if err != nil {
		return err
	}

	entries, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No watch history yet.")
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%s  %-40s  %s\n", e.WatchedAt.Local().Format("2006-01-02 15:04"), truncate(e.Title, 40), e.Query)
	}
	return nil
}

func (app *Application) historyStore(ctx context.Context) (*models.HistoryStore, error) {
	if app.db == nil {
		db, err := dbinterface.OpenSQLite(app.cfg.GetDatabasePath())
		if err != nil {
			return nil, err
		}
		app.db = db
	}
	return models.NewHistoryStore(ctx, app.db)
}

// managerOpener adapts the torrent manager to the race selector.
type managerOpener struct {
	m *torrent.Manager
}

func (o *managerOpener) Open(ctx context.Context, cand models.ReleaseCandidate) (race.Session, error) {
	s, err := o.m.Open(ctx, cand)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (o *managerOpener) AwaitReady(ctx context.Context, s race.Session) error {
	return o.m.AwaitReady(ctx, s.(*torrent.Session))
}

// splitRace bounds the raced field to width and keeps the rest of the
// ranked list available for a manual retry when the race comes up empty.
func splitRace(cands []models.ReleaseCandidate, width int) (raced, rest []models.ReleaseCandidate) {
	if width >= len(cands) {
		return cands, nil
	}
	return cands[:width], cands[width:]
}

func promptPick(cands []models.ReleaseCandidate) (models.ReleaseCandidate, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		// Non-interactive stdin: take the top-ranked candidate.
		return cands[0], nil
	}

	limit := len(cands)
	if limit > 10 {
		limit = 10
	}
	for i := 0; i < limit; i++ {
		c := cands[i]
		fmt.Printf("%2d) %4d seeders  %8s  %s\n", i+1, c.Seeders, c.SizeHuman(), c.Title)
	}
	fmt.Printf("Select release [1-%d]: ", limit)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return models.ReleaseCandidate{}, errors.Wrap(err, "read selection")
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 || n > limit {
		return models.ReleaseCandidate{}, errors.New("invalid selection")
	}
	return cands[n-1], nil
}

func printResult(res *search.Result) {
	if res.Match != nil {
		title := res.Match.Title
		if res.Match.Year > 0 {
			title = fmt.Sprintf("%s (%d)", title, res.Match.Year)
		}
		fmt.Printf("Matched: %s\n\n", title)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	fmt.Printf("%4s  %8s  %-20s  %s\n", "SEED", "SIZE", "INDEXERS", "TITLE")
	for _, c := range res.Candidates {
		fmt.Printf("%4d  %8s  %-20s  %s\n", c.Seeders, c.SizeHuman(), truncate(strings.Join(c.Indexers, ","), 20), c.Title)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
