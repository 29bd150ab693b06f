// Command streakd runs the streak engine: the HTTP API with its background
// jobs, one-off job runs, and schema migration.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-streak-engine/internal/config"
	httpapi "github.com/tbourn/go-streak-engine/internal/http"
	"github.com/tbourn/go-streak-engine/internal/jobs"
	"github.com/tbourn/go-streak-engine/internal/observability"
)

var version = "dev"

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("streakd failed")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "streakd",
		Short:         "Engagement streak engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newJobCommand("reconcile", "Run the daily reconciliation once", jobs.DailyReconcile))
	cmd.AddCommand(newJobCommand("expire-recoveries", "Expire overdue recovery attempts once", jobs.RecoveryExpiry))
	cmd.AddCommand(newMigrateCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, logCloser, err := bootstrap()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, a.db, a.svc, a.runner, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	hour, minute, err := config.ParseClock(cfg.Jobs.DailyAt)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Jobs.Enabled {
		sched := &jobs.Scheduler{}
		g.Go(func() error {
			sched.RunDaily(gctx, jobs.DailyReconcile, hour, minute, func(ctx context.Context) error {
				_, err := a.runner.Daily.Run(ctx)
				return err
			})
			return nil
		})
		g.Go(func() error {
			sched.RunEvery(gctx, jobs.RecoveryExpiry, cfg.Jobs.ExpiryInterval, func(ctx context.Context) error {
				_, err := a.runner.Expiry.Run(ctx)
				return err
			})
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func newJobCommand(use, short, job string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logCloser, err := bootstrap()
			if err != nil {
				return err
			}
			defer logCloser.Close()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			report, err := a.runner.Run(ctx, job)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logCloser, err := bootstrap()
			if err != nil {
				return err
			}
			defer logCloser.Close()

			// newApp migrates as part of start-up.
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			log.Info().Str("driver", cfg.Store.Driver).Msg("schema up to date")
			return a.close(context.Background())
		},
	}
}
