// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/streamsel/streamsel/internal/domain"
)

var envPrefix = "STREAMSEL__"

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	c.resolveDataDir()
	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("searchLimit", 50)
	c.viper.SetDefault("searchTimeout", 30)
	c.viper.SetDefault("tmdbApiKey", "")
	c.viper.SetDefault("matchThreshold", 0.6)

	c.viper.SetDefault("tempDir", filepath.Join(os.TempDir(), "streamsel"))
	c.viper.SetDefault("streamHost", "127.0.0.1")
	c.viper.SetDefault("streamPort", 0)
	c.viper.SetDefault("raceWidth", 3)
	c.viper.SetDefault("readyPrefixMB", 24)
	c.viper.SetDefault("readyTimeout", 60)

	c.viper.SetDefault("playerCommand", "")
	c.viper.SetDefault("playerArgs", []string{})

	c.viper.SetDefault("historyEnabled", true)
	c.viper.SetDefault("historyDays", 90)

	c.viper.SetDefault("dataDir", "") // Empty means next to config file
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)

	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9074)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			// Create the file when it does not exist yet
			if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		return nil
	}

	// Search for config in standard locations
	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	if err := c.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
			if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
				return err
			}
			c.viper.SetConfigFile(defaultConfigPath)
			if err := c.viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read newly created config: %w", err)
			}
			c.dataDir = filepath.Dir(defaultConfigPath)
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	return nil
}

func (c *AppConfig) loadFromEnv() {
	// Explicit bindings only; AutomaticEnv would pick up unrelated vars.
	c.viper.BindEnv("searchLimit", envPrefix+"SEARCH_LIMIT")
	c.viper.BindEnv("searchTimeout", envPrefix+"SEARCH_TIMEOUT")
	c.bindOrReadFromFile("tmdbApiKey", envPrefix+"TMDB_API_KEY")
	c.viper.BindEnv("matchThreshold", envPrefix+"MATCH_THRESHOLD")

	c.viper.BindEnv("tempDir", envPrefix+"TEMP_DIR")
	c.viper.BindEnv("streamHost", envPrefix+"STREAM_HOST")
	c.viper.BindEnv("streamPort", envPrefix+"STREAM_PORT")
	c.viper.BindEnv("raceWidth", envPrefix+"RACE_WIDTH")
	c.viper.BindEnv("readyPrefixMB", envPrefix+"READY_PREFIX_MB")
	c.viper.BindEnv("readyTimeout", envPrefix+"READY_TIMEOUT")

	c.viper.BindEnv("playerCommand", envPrefix+"PLAYER_COMMAND")

	c.viper.BindEnv("historyEnabled", envPrefix+"HISTORY_ENABLED")
	c.viper.BindEnv("historyDays", envPrefix+"HISTORY_DAYS")

	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")

	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("metricsHost", envPrefix+"METRICS_HOST")
	c.viper.BindEnv("metricsPort", envPrefix+"METRICS_PORT")
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.applyDynamicChanges()
	})
}

func (c *AppConfig) applyDynamicChanges() {
	c.Config.Version = c.version
	c.ApplyLogConfig()
	c.notifyListeners()
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := *c.Config
	for _, listener := range listeners {
		listener(&copied)
	}
}

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	configTemplate := `# config.toml - Auto-generated on first run

# Torznab indexers to search. Add one block per indexer.
#[[indexers]]
#name = "prowlarr"
#url = "http://localhost:9696/1"
#apikey = "your-api-key"
# Per-indexer timeout in seconds (optional)
#timeout = 30

# Maximum results requested per indexer
# Default: {{ .searchLimit }}
#searchLimit = {{ .searchLimit }}

# Per-indexer search timeout in seconds
# Default: {{ .searchTimeout }}
#searchTimeout = {{ .searchTimeout }}

# TMDB API key for title matching
# Leave empty to disable metadata enrichment
#tmdbApiKey = ""

# Minimum title similarity (0..1) to accept a TMDB match
# Default: {{ .matchThreshold }}
#matchThreshold = {{ .matchThreshold }}

# Directory for in-flight torrent data, purged on exit
# Default: OS temp dir
#tempDir = "/tmp/streamsel"

# Stream server bind address and port (0 picks a free port)
#streamHost = "127.0.0.1"
#streamPort = 0

# How many top candidates to download simultaneously; the first one
# ready to play wins and the rest are dropped. Set to 0 to disable
# racing and pick a release manually.
# Default: {{ .raceWidth }}
#raceWidth = {{ .raceWidth }}

# Contiguous megabytes at the start of the file required before playback
# Default: {{ .readyPrefixMB }}
#readyPrefixMB = {{ .readyPrefixMB }}

# Seconds to wait for a candidate to become playable
# Default: {{ .readyTimeout }}
#readyTimeout = {{ .readyTimeout }}

# External player. Empty means mpv with streaming-friendly flags.
#playerCommand = "mpv"
#playerArgs = []

# Watch history (stored in streamsel.db in the data directory)
# Default: true
#historyEnabled = true

# Days of history to retain
# Default: {{ .historyDays }}
#historyDays = {{ .historyDays }}

# Data directory (default: next to config file)
#dataDir = "/var/db/streamsel"

# Log file path
# If not defined, logs to stderr
#logPath = "log/streamsel.log"

# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Prometheus metrics on a separate port
# Default: false
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9074
`

	data := map[string]any{
		"searchLimit":    c.viper.GetInt("searchLimit"),
		"searchTimeout":  c.viper.GetInt("searchTimeout"),
		"matchThreshold": c.viper.GetFloat64("matchThreshold"),
		"raceWidth":      c.viper.GetInt("raceWidth"),
		"readyPrefixMB":  c.viper.GetInt("readyPrefixMB"),
		"readyTimeout":   c.viper.GetInt("readyTimeout"),
		"historyDays":    c.viper.GetInt("historyDays"),
		"logLevel":       c.viper.GetString("logLevel"),
		"logMaxSize":     c.viper.GetInt("logMaxSize"),
		"logMaxBackups":  c.viper.GetInt("logMaxBackups"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// Helper functions

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	// XDG_CONFIG_HOME is set to /config in containers
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "streamsel")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "streamsel")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "streamsel")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "streamsel")
	}
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := c.baseLogWriter()

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		writer.FormatTimestamp = func(i any) string {
			if i == nil {
				return ""
			}
			return fmt.Sprint(i)
		}
		writer.FormatMessage = func(i any) string {
			if i == nil {
				return ""
			}
			msg := strings.TrimSpace(fmt.Sprint(i))
			if msg == "" {
				return ""
			}
			return msg
		}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// DefaultLogWriter returns the base log writer for the provided version.
func DefaultLogWriter(version string) io.Writer {
	return baseLogWriter(version)
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(DefaultLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

// resolveDataDir sets the data directory based on configuration
func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetDatabasePath returns the path to the database file
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, "streamsel.db")
}

// GetDataDir returns the resolved data directory path.
func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// GetConfigDir returns the directory containing the config file
func (c *AppConfig) GetConfigDir() string {
	if c.viper.ConfigFileUsed() != "" {
		return filepath.Dir(c.viper.ConfigFileUsed())
	}
	return GetDefaultConfigDir()
}

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}

// Sets viper variable if environment variable with _FILE suffix is present
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	envVarFile := envVar + "_FILE"
	if filePath := os.Getenv(envVarFile); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", filePath).Msg("Could not read " + envVarFile)
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
	} else {
		c.viper.BindEnv(viperVar, envVar)
	}
}
