// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// IndexerConfig describes one Torznab endpoint from the config file.
type IndexerConfig struct {
	Name           string `mapstructure:"name"`
	URL            string `mapstructure:"url"`
	APIKey         string `mapstructure:"apikey"`
	TimeoutSeconds int    `mapstructure:"timeout"`
}

type Config struct {
	Version string

	Indexers []IndexerConfig `mapstructure:"indexers"`

	// Search
	SearchLimit          int     `mapstructure:"searchLimit"`
	SearchTimeoutSeconds int     `mapstructure:"searchTimeout"`
	TMDBApiKey           string  `mapstructure:"tmdbApiKey"`
	MatchThreshold       float64 `mapstructure:"matchThreshold"`

	// Streaming
	TempDir             string `mapstructure:"tempDir"`
	StreamHost          string `mapstructure:"streamHost"`
	StreamPort          int    `mapstructure:"streamPort"`
	RaceWidth           int    `mapstructure:"raceWidth"`
	ReadyPrefixMB       int    `mapstructure:"readyPrefixMB"`
	ReadyTimeoutSeconds int    `mapstructure:"readyTimeout"`

	// Player
	PlayerCommand string   `mapstructure:"playerCommand"`
	PlayerArgs    []string `mapstructure:"playerArgs"`

	// History
	HistoryEnabled bool `mapstructure:"historyEnabled"`
	HistoryDays    int  `mapstructure:"historyDays"`

	// Data / logging
	DataDir       string `mapstructure:"dataDir"`
	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`

	// Metrics
	MetricsEnabled bool   `mapstructure:"metricsEnabled"`
	MetricsHost    string `mapstructure:"metricsHost"`
	MetricsPort    int    `mapstructure:"metricsPort"`
}
