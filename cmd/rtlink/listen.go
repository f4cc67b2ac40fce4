package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/rtlink/internal/archive"
	"github.com/rickgao/rtlink/internal/config"
	"github.com/rickgao/rtlink/internal/connection"
	"github.com/rickgao/rtlink/internal/database"
	"github.com/rickgao/rtlink/internal/metrics"
	"github.com/rickgao/rtlink/internal/realtime"
	"github.com/rickgao/rtlink/internal/version"
)

const shutdownTimeout = 10 * time.Second

func listenCmd(opts *globalOptions) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect and print inbound messages as JSON lines",
		Long: `Listen keeps a connection open until interrupted, printing every inbound
message. With metrics.enabled it serves Prometheus metrics and /health; with
archive.enabled it writes every message to PostgreSQL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := newLogger(os.Stderr, cfg.Log.Level)
			slog.SetDefault(logger)

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			return runListen(ctx, cfg, logger, cmd, quiet)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print messages (useful with archive enabled)")
	return cmd
}

func runListen(ctx context.Context, cfg *config.Config, logger *slog.Logger, cmd *cobra.Command, quiet bool) error {
	logger.Info("starting rtlink listener",
		"version", version.Version,
		"commit", version.Commit,
		"base_url", cfg.Server.BaseURL,
	)

	var (
		collector *metrics.Collector
		reg       *prometheus.Registry
		opts      []realtime.Option
	)
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector = metrics.New(metrics.WithRegistry(reg))
		opts = append(opts, connection.WithObserver(collector))
	}

	client, err := realtime.NewFromConfig(cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// Subscribe everything before connecting so the first message is seen.
	sub := client.Subscribe()

	if cfg.Archive.Enabled {
		writer, closeDB, err := startArchive(gctx, cfg, client, collector, logger)
		if err != nil {
			return err
		}
		defer closeDB()

		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-writer.Done():
			}
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			return writer.Stop(stopCtx)
		})
	}

	if cfg.Metrics.Enabled {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           metrics.Handler(reg, cfg.Metrics.Path, client.State, client.SessionID),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("starting metrics server",
				"port", cfg.Metrics.Port,
				"path", cfg.Metrics.Path,
			)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if err := client.Connect(gctx); err != nil {
		cancel()
		g.Wait()
		return err
	}

	g.Go(func() error {
		out := cmd.OutOrStdout()
		if quiet {
			out = io.Discard
		}
		err := printEvents(gctx, out, sub)
		if err != nil {
			return err
		}
		// Interrupted: tear down so every other goroutine returns.
		client.Disconnect()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		client.Disconnect()
		return nil
	})

	err = g.Wait()
	logger.Info("rtlink listener stopped")
	return err
}

func startArchive(ctx context.Context, cfg *config.Config, client realtime.Client, collector *metrics.Collector, logger *slog.Logger) (*archive.Writer, func(), error) {
	pool, err := database.Connect(ctx, cfg.Archive.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect archive database: %w", err)
	}

	var recorder archive.Recorder
	if collector != nil {
		recorder = collector
	}

	writer := archive.NewWriter(archive.ConfigFrom(cfg.Archive), client, pool, recorder, logger)
	if err := writer.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := writer.Start(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return writer, pool.Close, nil
}
