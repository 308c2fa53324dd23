package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/andygrunwald/fuel-price-watcher/internal/database"
	"github.com/andygrunwald/fuel-price-watcher/internal/http"
	"github.com/andygrunwald/fuel-price-watcher/internal/notify"
	"github.com/andygrunwald/fuel-price-watcher/internal/notify/mail"
	"github.com/andygrunwald/fuel-price-watcher/internal/notify/mqtt"
	"github.com/andygrunwald/fuel-price-watcher/internal/scheduler"
	"github.com/andygrunwald/fuel-price-watcher/internal/views"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the continuous watcher service",
		Long:  "Starts the fuel price watcher with an internal scheduler that polls FuelCheck on a fixed interval and serves the price page, status and metrics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := views.LoadTemplates(); err != nil {
				return fmt.Errorf("loading templates: %w", err)
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			logger.Info().
				Str("version", Version).
				Str("commit", Commit).
				Str("buildDate", BuildDate).
				Str("httpAddr", cfg.HTTPAddr).
				Dur("interval", cfg.PollInterval).
				Ints("stations", cfg.StationWhitelist).
				Strs("fuelTypes", cfg.FuelTypeWhitelist).
				Msg("starting fuel price watcher")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Notifiers
			var notifiers []notify.Notifier

			var db *database.DB
			if cfg.DatabaseDSN != "" {
				db, err = database.New(cfg.DatabaseDSN, logger)
				if err != nil {
					return fmt.Errorf("connecting to database: %w", err)
				}
				defer db.Close()
				notifiers = append(notifiers, db)
			}

			if cfg.Mail.Enabled {
				m, err := mail.New(mail.Options{
					SendmailPath: cfg.Mail.SendmailPath,
					From:         cfg.Mail.From,
					To:           cfg.Mail.To,
					Subject:      cfg.Mail.Subject,
					FuelTypes:    cfg.FuelTypeWhitelist,
					Location:     loc,
				}, logger)
				if err != nil {
					return fmt.Errorf("creating mail notifier: %w", err)
				}
				notifiers = append(notifiers, m)
			}

			if cfg.MQTT.Broker != "" {
				mq := mqtt.New(mqtt.Options{
					Broker:      cfg.MQTT.Broker,
					Port:        cfg.MQTT.Port,
					ClientID:    cfg.MQTT.ClientID,
					TopicPrefix: cfg.MQTT.TopicPrefix,
				}, logger)
				connectMQTT(ctx, mq, logger)
				defer mq.Disconnect()
				notifiers = append(notifiers, mq)
			}

			if len(notifiers) == 0 {
				logger.Warn().Msg("no notifier configured, price changes are only logged")
			}
			multi := notify.NewMulti(logger, notifiers...)

			// Poll pipeline
			w, err := newWatcher(logger, multi)
			if err != nil {
				return err
			}
			sched := scheduler.New(w, cfg.PollInterval, logger)

			httpServer := http.NewServer(cfg.HTTPAddr, w, sched, db, http.PageOptions{
				FuelTypes: cfg.FuelTypeWhitelist,
				Location:  loc,
			}, logger)

			// Wire Prometheus metrics
			w.SetMetricsRecorder(httpServer.Metrics())
			multi.OnResult(httpServer.Metrics().RecordNotification)

			g, gctx := errgroup.WithContext(ctx)

			g.Go(httpServer.Start)

			g.Go(func() error {
				if err := sched.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("scheduler: %w", err)
				}
				return nil
			})

			g.Go(func() error {
				<-gctx.Done()
				logger.Info().Msg("shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				sched.Stop()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					logger.Error().Err(err).Msg("HTTP server shutdown error")
				}

				select {
				case <-sched.Done():
				case <-shutdownCtx.Done():
					logger.Warn().Msg("timed out waiting for the running poll")
				}
				return nil
			})

			if err := g.Wait(); err != nil {
				return err
			}

			logger.Info().Msg("shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP server address for /, /status, /metrics")
	cmd.Flags().DurationVar(&cfg.PollInterval, "interval", cfg.PollInterval, "Interval between incremental polls")
	cmd.Flags().BoolVar(&cfg.Mail.Enabled, "mail", cfg.Mail.Enabled, "Send change notifications with sendmail")
	cmd.Flags().StringSliceVar(&cfg.Mail.To, "mail-to", cfg.Mail.To, "Recipients of change notifications")
	cmd.Flags().StringVar(&cfg.MQTT.Broker, "mqtt-broker", cfg.MQTT.Broker, "MQTT broker host, empty disables MQTT")

	return cmd
}

// connectMQTT waits a short while for the broker. The client keeps retrying in the background.
func connectMQTT(ctx context.Context, mq *mqtt.Notifier, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mq.Connect(ctx); err != nil {
		logger.Warn().Err(err).Msg("MQTT broker not reachable yet, retrying in the background")
	}
}
