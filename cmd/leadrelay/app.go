package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/lead-relay/internal/analyzer"
	"github.com/LeventeLantos/lead-relay/internal/availability"
	"github.com/LeventeLantos/lead-relay/internal/cache"
	"github.com/LeventeLantos/lead-relay/internal/client"
	"github.com/LeventeLantos/lead-relay/internal/config"
	"github.com/LeventeLantos/lead-relay/internal/fallback"
	"github.com/LeventeLantos/lead-relay/internal/pipeline"
	"github.com/LeventeLantos/lead-relay/internal/recipients"
	"github.com/LeventeLantos/lead-relay/internal/repo"
	"github.com/LeventeLantos/lead-relay/internal/scheduler"
	"github.com/LeventeLantos/lead-relay/internal/service"
)

const purgeInterval = 24 * time.Hour

type app struct {
	cfg *config.Config

	db         *sqlx.DB
	rdb        *redis.Client
	store      *repo.SQLQueueStore
	gateway    *client.GatewayClient
	dispatcher *service.Dispatcher
	deliveries cache.DeliveryCache
	processor  *pipeline.Processor
	sched      *scheduler.Scheduler
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	driver, dsn := cfg.Queue.Driver()
	db, err := repo.Open(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	a.db = db

	a.store = repo.NewSQLQueueStore(db,
		repo.WithMaxAttempts(cfg.Queue.MaxAttempts),
		repo.WithBackupPath(cfg.Queue.BackupPath),
	)

	a.gateway = client.NewGatewayClient(cfg.Gateway.BaseURL, cfg.Gateway.Token,
		client.WithTimeout(cfg.Gateway.Timeout),
		client.WithCountryCode(cfg.Gateway.CountryCode),
	)
	prober := availability.NewProber(a.gateway, cfg.Gateway.ProbeTimeout)

	a.dispatcher = service.NewDispatcher(a.gateway, prober, a.store, service.Options{
		MaxRetries:   cfg.Queue.MaxAttempts,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		RetryDelay:   cfg.Queue.RetryDelay,
		DrainDelay:   cfg.Drain.Delay,
		MaxBodyRunes: cfg.Gateway.ContentMax,
	})

	if cfg.Redis.Enabled {
		a.connectRedis(ctx)
	}

	doc, err := config.LoadRecipients(cfg.RecipientsFile)
	if err != nil {
		a.close()
		return nil, err
	}
	resolver := recipients.New(doc, a.gateway, a.gateway.CountryCode())

	var an analyzer.Analyzer = analyzer.FieldAnalyzer{}
	if cfg.OpenAI.Enabled() {
		an = analyzer.NewOpenAIAnalyzer(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	} else {
		slog.Info("no OPENAI_API_KEY, leads are read field by field")
	}

	var notifier pipeline.Notifier
	if cfg.Email.Enabled() {
		notifier = fallback.NewEmailNotifier(cfg.Email)
	} else {
		slog.Warn("email fallback disabled, smtp settings incomplete")
	}
	a.processor = pipeline.New(an, resolver, a.dispatcher, notifier)

	a.sched, err = a.newScheduler()
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) connectRedis(ctx context.Context) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Address,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis unreachable, delivery cache disabled", "addr", a.cfg.Redis.Address, "err", err)
		_ = rdb.Close()
		return
	}

	a.rdb = rdb
	rc := cache.NewRedisCache(rdb, a.cfg.Redis.TTL)
	a.deliveries = rc
	cc := a.gateway.CountryCode()
	a.dispatcher.WithSentHook(func(ctx context.Context, recipient, messageID string) error {
		return rc.StoreSent(ctx, client.NormalizePhone(recipient, cc), messageID, time.Now())
	})
}

func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	interval := a.cfg.Drain.Interval
	if interval <= 0 {
		// still built so the API can start it on demand
		interval = 2 * time.Minute
	}
	batch := a.cfg.Drain.BatchSize
	days := a.cfg.Drain.PurgeAfterDays

	return scheduler.New(
		scheduler.Job{
			Name:     "drain",
			Interval: interval,
			Run: func(ctx context.Context) {
				if a.store.Stats(ctx).Pending == 0 {
					return
				}
				res, err := a.dispatcher.ProcessQueue(ctx, batch)
				if err != nil && !errors.Is(err, service.ErrDrainInProgress) {
					slog.Warn("scheduled drain stopped", "err", err)
					return
				}
				slog.Info("scheduled drain finished",
					"processed", res.Processed,
					"sent", res.Sent,
					"failed", res.Failed,
					"still_pending", res.StillPending,
				)
			},
		},
		scheduler.Job{
			Name:     "purge",
			Interval: purgeInterval,
			Run: func(ctx context.Context) {
				n, err := a.store.PurgeSent(ctx, days)
				if err != nil {
					slog.Error("purge failed", "err", err)
					return
				}
				slog.Info("purged sent messages", "deleted", n, "older_than_days", days)
			},
		},
	)
}

func (a *app) close() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
