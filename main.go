// Package main provides huddle-recorder, a meeting recording client that
// joins a meeting's coordination channels, reports audio quality and records
// when the server elects this device.
//
// Usage:
//
//	huddle-recorder join [meeting-id] [--config path/to/config.json]
//	huddle-recorder devices
//	huddle-recorder doctor
//	huddle-recorder version [--check]
//
// If --config is not specified, config.json next to the binary is used.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/huddlehq/huddle-recorder/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// rootOptions are the flags shared by all commands.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "huddle-recorder",
		Short:         "Record meetings in coordination with other devices",
		Long:          "Joins a meeting, reports local audio quality, and records and uploads audio segments when the server elects this device as a recorder.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = displayVersion(Version)
	rootCmd.SetVersionTemplate(userAgent() + "\n")
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (default: config.json next to binary)")

	rootCmd.AddCommand(newJoinCmd(opts))
	rootCmd.AddCommand(newDevicesCmd())
	rootCmd.AddCommand(newDoctorCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadConfig resolves the config path, loads it and installs the logger.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		execPath, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		path = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	cfg := config.New(path)
	if err := cfg.Load(); err != nil {
		return nil, err
	}

	snap := cfg.Snapshot()
	setupLogging(snap.LogLevel, snap.LogFormat)
	slog.Info("using config file", "path", path)
	return cfg, nil
}

// setupLogging installs the default slog handler.
func setupLogging(level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
