// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/streamsel/streamsel/internal/buildinfo"
	"github.com/streamsel/streamsel/internal/config"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "streamsel",
		Short: "Search torrent indexers and stream the best release",
		Long: `streamsel - search Torznab indexers, pick the best release,
and stream it into an external player while it downloads.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunWatchCommand())
	rootCmd.AddCommand(RunSearchCommand())
	rootCmd.AddCommand(RunDoctorCommand())
	rootCmd.AddCommand(RunHistoryCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type commonFlags struct {
	configDir string
	dataDir   string
	logPath   string
}

func (f *commonFlags) register(command *cobra.Command) {
	command.Flags().StringVar(&f.configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/streamsel/). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&f.dataDir, "data-dir", "", "data directory for the history database (default is next to config file)")
	command.Flags().StringVar(&f.logPath, "log-path", "", "log file path (default is stderr)")
}

func RunWatchCommand() *cobra.Command {
	var (
		flags commonFlags
		year  int
		pick  bool
	)

	command := &cobra.Command{
		Use:   "watch <title>...",
		Short: "Search, race the best candidates, and play the winner",
		Args:  cobra.MinimumNArgs(1),
	}

	flags.register(command)
	command.Flags().IntVar(&year, "year", 0, "release year to narrow the search")
	command.Flags().BoolVar(&pick, "pick", false, "choose the release interactively instead of racing the top candidates")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		app, err := NewApplication(flags)
		if err != nil {
			return err
		}
		defer app.Shutdown()
		return app.Watch(cmd.Context(), strings.Join(args, " "), year, pick)
	}

	return command
}

func RunSearchCommand() *cobra.Command {
	var (
		flags commonFlags
		year  int
	)

	command := &cobra.Command{
		Use:   "search <title>...",
		Short: "Search indexers and print the ranked results",
		Args:  cobra.MinimumNArgs(1),
	}

	flags.register(command)
	command.Flags().IntVar(&year, "year", 0, "release year to narrow the search")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		app, err := NewApplication(flags)
		if err != nil {
			return err
		}
		defer app.Shutdown()
		return app.Search(cmd.Context(), strings.Join(args, " "), year)
	}

	return command
}

func RunDoctorCommand() *cobra.Command {
	var flags commonFlags

	command := &cobra.Command{
		Use:   "doctor",
		Short: "Check indexers, metadata, player, and disk setup",
	}

	flags.register(command)

	command.RunE = func(cmd *cobra.Command, args []string) error {
		app, err := NewApplication(flags)
		if err != nil {
			return err
		}
		defer app.Shutdown()
		return app.Doctor(cmd.Context())
	}

	return command
}

func RunHistoryCommand() *cobra.Command {
	var (
		flags commonFlags
		limit int
	)

	command := &cobra.Command{
		Use:   "history",
		Short: "Show recent playbacks",
	}

	flags.register(command)
	command.Flags().IntVar(&limit, "limit", 20, "number of entries to show")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		app, err := NewApplication(flags)
		if err != nil {
			return err
		}
		defer app.Shutdown()
		return app.History(cmd.Context(), limit)
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of streamsel",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting anything.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/streamsel/config.toml
- Windows: %APPDATA%\streamsel\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				configPath = filepath.Join(config.GetDefaultConfigDir(), "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return err
			}

			cmd.Printf("Configuration file generated at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or .toml file path")

	return command
}
