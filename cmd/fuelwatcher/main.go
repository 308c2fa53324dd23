// Package main provides the entry point for the fuel price watcher CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/andygrunwald/fuel-price-watcher/internal/api/fuelcheck"
	"github.com/andygrunwald/fuel-price-watcher/internal/config"
	"github.com/andygrunwald/fuel-price-watcher/internal/notify"
	"github.com/andygrunwald/fuel-price-watcher/internal/reconciler"
	"github.com/andygrunwald/fuel-price-watcher/internal/registry"
	"github.com/andygrunwald/fuel-price-watcher/internal/tracker"
	"github.com/andygrunwald/fuel-price-watcher/internal/watcher"
)

var (
	// Version is set at build time.
	Version = "dev"
	// Commit is set at build time.
	Commit = "none"
	// BuildDate is set at build time.
	BuildDate = "unknown"
)

var cfg *config.Config

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg = config.DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "fuelwatcher",
		Short: "Fuel Price Watcher - Get told when fuel prices at your stations change",
		Long: `Fuel Price Watcher polls the NSW FuelCheck API for a whitelist of stations
and fuel types, tracks the previous and current price of each and notifies
you when prices move.

Features:
  - Full snapshot on start, incremental snapshots afterwards
  - Duplicate-free notifications by mail, MQTT and a database outbox
  - HTML price table and JSON state
  - Prometheus metrics endpoint
  - Status endpoint for operational visibility`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json, console)")
	rootCmd.PersistentFlags().StringVar(&cfg.FuelCheck.BaseURL, "base-url", cfg.FuelCheck.BaseURL, "FuelCheck API base URL")
	rootCmd.PersistentFlags().StringVar(&cfg.FuelCheck.ClientID, "client-id", cfg.FuelCheck.ClientID, "FuelCheck API key")
	rootCmd.PersistentFlags().StringVar(&cfg.FuelCheck.ClientSecret, "client-secret", cfg.FuelCheck.ClientSecret, "FuelCheck API secret")
	rootCmd.PersistentFlags().StringVar(&cfg.FuelCheck.CredentialsFile, "credentials-file", cfg.FuelCheck.CredentialsFile, "File to cache the access token in, empty disables caching")
	rootCmd.PersistentFlags().StringVar(&cfg.FuelCheck.Timezone, "timezone", cfg.FuelCheck.Timezone, "Timezone of the FuelCheck timestamps")
	rootCmd.PersistentFlags().IntSliceVar(&cfg.StationWhitelist, "stations", cfg.StationWhitelist, "Station codes to track")
	rootCmd.PersistentFlags().StringSliceVar(&cfg.FuelTypeWhitelist, "fuel-types", cfg.FuelTypeWhitelist, "Fuel types to track")
	rootCmd.PersistentFlags().StringVar(&cfg.DatabaseDSN, "database-dsn", cfg.DatabaseDSN, "Change outbox, postgres://... or sqlite:<path>")

	// Add subcommands
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(pollCmd())
	rootCmd.AddCommand(changesCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger() zerolog.Logger {
	var logger zerolog.Logger

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set log format
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	return logger
}

// newWatcher builds the poll pipeline: FuelCheck provider, registry, reconciler and tracker.
func newWatcher(logger zerolog.Logger, notifier notify.Notifier) (*watcher.Watcher, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	provider, err := fuelcheck.New(fuelcheck.Options{
		BaseURL:         cfg.FuelCheck.BaseURL,
		ClientID:        cfg.FuelCheck.ClientID,
		ClientSecret:    cfg.FuelCheck.ClientSecret,
		CredentialsFile: cfg.FuelCheck.CredentialsFile,
		Timeout:         cfg.FuelCheck.RequestTimeout,
		RetryMax:        cfg.FuelCheck.RetryMax,
		UserAgent:       "fuelwatcher/" + Version,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating FuelCheck provider: %w", err)
	}

	reg := registry.New()
	rec := reconciler.New(reg, cfg.StationWhitelist, cfg.FuelTypeWhitelist, loc, logger)

	return watcher.New(provider, rec, tracker.New(), notifier, reg, logger), nil
}
