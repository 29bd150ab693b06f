package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-streak-engine/internal/calendar"
	"github.com/tbourn/go-streak-engine/internal/collab"
	"github.com/tbourn/go-streak-engine/internal/config"
	"github.com/tbourn/go-streak-engine/internal/jobs"
	"github.com/tbourn/go-streak-engine/internal/lock"
	"github.com/tbourn/go-streak-engine/internal/repo"
	"github.com/tbourn/go-streak-engine/internal/services"
	"github.com/tbourn/go-streak-engine/internal/sysutil"
)

// app is the wired process: store, engine, jobs and their teardown.
type app struct {
	cfg    config.Config
	db     *gorm.DB
	svc    *services.StreakService
	runner *jobs.Runner

	closers []func(context.Context) error
}

// bootstrap loads configuration and sets up logging. It is shared by every
// subcommand.
func bootstrap() (config.Config, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	sysutil.SetLogLevel(cfg.LogLevel)
	closer := sysutil.SetupLogger(sysutil.LogOptions{
		Level:      cfg.LogLevel,
		Pretty:     cfg.LogPretty,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	return cfg, closer, nil
}

// newApp opens the store and builds the engine from cfg.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	db, err := repo.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, db: db}
	a.closers = append(a.closers, func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	if err := repo.AutoMigrate(db); err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("migrate: %w", err)
	}

	locker, err := a.locker(ctx)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	opts := collab.Options{Timeout: cfg.Collab.Timeout, RetryMax: cfg.Collab.RetryMax}
	var health services.HealthSignal = collab.StaticSignal{Value: true}
	if cfg.Collab.HealthSignalURL != "" {
		health = collab.NewHealthClient(cfg.Collab.HealthSignalURL, opts)
	} else {
		log.Warn().Msg("HEALTH_SIGNAL_URL not set; every claim is treated as having engagement")
	}
	var billing services.Billing = collab.DisabledBilling{}
	if cfg.Collab.BillingURL != "" {
		billing = collab.NewBillingClient(cfg.Collab.BillingURL, opts)
	}

	a.svc = &services.StreakService{
		DB:       db,
		Calendar: calendar.NewResolver(time.Now, cfg.Engine.GracePeriod),
		Locks:    locker,
		Health:   health,
		Billing:  billing,
		Rules: services.Rules{
			RetroWindowDays:    cfg.Engine.RetroWindowDays,
			ShieldCap:          cfg.Engine.ShieldCap,
			RecoveryWindowDays: cfg.Engine.RecoveryWindowDays,
			MaxPauseDays:       cfg.Engine.MaxPauseDays,
		},
	}
	a.runner = &jobs.Runner{
		Daily:  &jobs.DailyReconciler{DB: db, Engine: a.svc, BatchSize: cfg.Jobs.BatchSize},
		Expiry: &jobs.RecoveryExpirer{DB: db, Engine: a.svc, BatchSize: cfg.Jobs.BatchSize},
	}
	return a, nil
}

func (a *app) locker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.Lock.Backend != "redis" {
		return lock.NewLocal(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Lock.RedisAddr,
		Password: a.cfg.Lock.RedisPassword,
		DB:       a.cfg.Lock.RedisDB,
	})
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })

	rl := lock.NewRedis(client, a.cfg.Lock.TTL)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rl.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("redis lock backend: %w", err)
	}
	log.Info().Str("addr", a.cfg.Lock.RedisAddr).Msg("using redis lock backend")
	return rl, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
