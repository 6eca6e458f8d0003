// Package main is the entry point of the ClasseViva poller.
//
// The worker logs every configured account in to the ClasseViva portal,
// polls grades, absences, agenda, didactics and the noticeboard on a
// schedule, and turns new records into notifications. Optional sinks
// store didactics files, cache snapshots in Redis, fan notifications out
// over Redis pub/sub and record them in PostgreSQL. A small HTTP surface
// serves snapshots, the agenda as iCalendar and health probes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/classeviva-hub/classeviva-poller/config"
	"github.com/classeviva-hub/classeviva-poller/internal/application/notify"
	"github.com/classeviva-hub/classeviva-poller/internal/application/poll"
	"github.com/classeviva-hub/classeviva-poller/internal/domain/school"
	"github.com/classeviva-hub/classeviva-poller/internal/domain/shared"
	"github.com/classeviva-hub/classeviva-poller/internal/infrastructure/attachments"
	"github.com/classeviva-hub/classeviva-poller/internal/infrastructure/external/classeviva"
	"github.com/classeviva-hub/classeviva-poller/internal/infrastructure/messaging"
	"github.com/classeviva-hub/classeviva-poller/internal/infrastructure/metrics"
	"github.com/classeviva-hub/classeviva-poller/internal/infrastructure/persistence/postgres"
	"github.com/classeviva-hub/classeviva-poller/internal/infrastructure/persistence/redis"
	"github.com/classeviva-hub/classeviva-poller/internal/infrastructure/scheduler"
	"github.com/classeviva-hub/classeviva-poller/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/classeviva-hub/classeviva-poller/internal/interface/http"
	"github.com/classeviva-hub/classeviva-poller/internal/interface/http/handlers"
	"github.com/classeviva-hub/classeviva-poller/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FLAGS
// ══════════════════════════════════════════════════════════════════════════════

type flags struct {
	set        *pflag.FlagSet
	configFile string
	envFile    string
	once       bool
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{set: pflag.NewFlagSet("classeviva-poller", pflag.ContinueOnError)}

	f.set.StringVarP(&f.configFile, "config", "c", "", "path to config.yaml")
	f.set.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	f.set.BoolVar(&f.once, "once", false, "run one cycle per account and exit")
	f.set.String("log-level", "info", "log level: debug, info, warn, error")
	f.set.String("http-addr", ":8080", "HTTP listen address")

	if err := f.set.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	f, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.LoadOptions{File: f.configFile, EnvFile: f.envFile, Flags: f.set})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log, err := logger.New(logger.Options{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting classeviva poller",
		zap.String("version", cfg.App.Version),
		zap.String("env", string(cfg.App.Environment)),
		zap.String("timezone", cfg.App.Timezone),
		zap.Int("accounts", len(cfg.Accounts)),
	)

	pollMetrics := metrics.NewPollMetrics()
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (snapshot cache and pub/sub)
	// ─────────────────────────────────────────────────────────────────────────
	var cache *redis.Cache
	var snapshots *redis.SnapshotCache

	if cfg.Features.IsEnabled(config.FeatureSnapshotCache, nil) || cfg.Features.IsEnabled(config.FeatureRedisBus, nil) {
		log.Info("connecting to redis", zap.String("addr", fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)))
		cache, err = redis.NewCache(redisConfig(cfg.Redis))
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() {
			log.Info("closing redis connection")
			_ = cache.Close()
		}()
		health.AddCheck("redis", handlers.NewPingCheck(cache))

		if cfg.Features.IsEnabled(config.FeatureSnapshotCache, nil) {
			snapshots = redis.NewSnapshotCache(cache, cfg.Redis.SnapshotTTL)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log

	var bus interface {
		shared.EventBus
		Close() error
	}
	if cfg.Features.IsEnabled(config.FeatureRedisBus, nil) {
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewCachePubSub(cache),
			ChannelName:    "notifications",
			LocalBusConfig: busConfig,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to start redis event bus: %w", err)
		}
		bus = redisBus
	} else {
		bus = messaging.NewInMemoryEventBus(busConfig)
	}
	defer func() {
		log.Info("closing event bus")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. NOTIFICATION JOURNAL (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	var journal *postgres.NotificationJournal

	if cfg.Features.IsEnabled(config.FeatureJournal, nil) {
		log.Info("connecting to database")
		db, err := postgres.NewConnection(ctx, databaseConfig(cfg.Database))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() {
			log.Info("closing database connection")
			db.Close()
		}()

		if cfg.Database.MigrateOnStart {
			if err := postgres.NewMigrator(db).Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database schema is up to date")
		}

		journal = postgres.NewNotificationJournal(db, log)
		if err := bus.SubscribeAll(journal.Handler()); err != nil {
			return fmt.Errorf("failed to subscribe journal: %w", err)
		}
		health.AddCheck("database", db.Check)
	}

	emitter := notify.NewEmitter(bus, log, pollMetrics)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ACCOUNTS
	// ─────────────────────────────────────────────────────────────────────────
	registry := poll.NewRegistry()
	files := make(map[string]httpserver.FileOpener)
	var stores []*attachments.Store

	for _, account := range cfg.Accounts {
		alog := log.With(logger.Account(account.Name))

		clientConfig := clientConfig(cfg.Classeviva)
		clientConfig.Logger = alog
		clientConfig.Observer = pollMetrics
		client := classeviva.NewClient(clientConfig, classeviva.StaticCredentials{
			Identifier: account.Username,
			Secret:     account.Password,
		})

		pollConfig := poll.DefaultConfig(account.Name)
		pollConfig.StudentSurname = account.StudentSurname
		pollConfig.AgendaLookaheadDays = cfg.Poll.AgendaLookaheadDays
		pollConfig.FetchConcurrency = cfg.Poll.FetchConcurrency
		pollConfig.CycleTimeout = cfg.Poll.CycleTimeout

		opts := []poll.Option{
			poll.WithMetrics(pollMetrics),
			poll.WithLogger(alog),
		}
		if snapshots != nil {
			opts = append(opts, poll.WithSnapshotStore(snapshots))
		}
		if cfg.Features.ForAccount(config.FeatureAttachments, account.Name) {
			store, err := attachments.NewStore(attachments.Config{
				Root:        cfg.Attachments.Dir,
				URLPrefix:   httpserver.FilesURLPrefix(account.Name),
				Retention:   cfg.Attachments.Retention,
				MaxFileSize: cfg.Attachments.MaxFileSize,
			}, account.Name, client, alog)
			if err != nil {
				return fmt.Errorf("account %s: %w", account.Name, err)
			}
			opts = append(opts, poll.WithAttachmentSink(store))
			files[account.Name] = store
			stores = append(stores, store)
		}

		coordinator := poll.NewCoordinator(pollConfig, classeviva.NewPortal(client), emitter, opts...)
		if err := registry.Add(coordinator); err != nil {
			return err
		}

		if snapshots != nil {
			restoreSnapshot(ctx, snapshots, coordinator, alog)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ONE-SHOT MODE
	// ─────────────────────────────────────────────────────────────────────────
	if f.once {
		return runOnce(ctx, registry, log)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:        log,
		Timezone:      cfg.App.Location,
		TickInterval:  time.Second,
		EnableMetrics: true,
	})

	schedule, err := scheduler.ScheduleFor(cfg.Poll.Cron, cfg.Poll.Interval, cfg.App.Location)
	if err != nil {
		return fmt.Errorf("poll schedule: %w", err)
	}
	var registerOpts []scheduler.RegisterOption
	if cfg.Poll.RunOnStart {
		registerOpts = append(registerOpts, scheduler.RunImmediately())
	}
	for _, c := range registry.All() {
		if err := sched.Register(jobs.NewPollCycleJob(c, log), schedule, registerOpts...); err != nil {
			return err
		}
	}

	if cfg.Attachments.PruneCron != "" {
		pruneSchedule, err := scheduler.ParseCronSchedule(cfg.Attachments.PruneCron, cfg.App.Location)
		if err != nil {
			return fmt.Errorf("prune schedule: %w", err)
		}
		for _, store := range stores {
			job := jobs.NewPruneJob("attachments:"+store.Account(), store, store.Retention(), log)
			if err := sched.Register(job, pruneSchedule); err != nil {
				return err
			}
		}
		if journal != nil && cfg.Database.JournalRetention > 0 {
			job := jobs.NewPruneJob("journal", journal, cfg.Database.JournalRetention, log)
			if err := sched.Register(job, pruneSchedule); err != nil {
				return err
			}
		}
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		log.Info("stopping scheduler")
		_ = sched.Stop()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Features.IsEnabled(config.FeatureHTTPAPI, nil) {
		readers := make([]handlers.SnapshotReader, 0, len(cfg.Accounts))
		for _, c := range registry.All() {
			readers = append(readers, c)
		}
		health.AddCheck("snapshots", handlers.NewSnapshotFreshnessCheck(readers, staleAfter(cfg.Poll)))

		server, err := newServer(cfg, httpserver.Dependencies{
			Accounts:      httpserver.RegistryAccounts(registry),
			Files:         files,
			Metrics:       metricsFor(cfg, pollMetrics),
			HealthChecker: health,
			Logger:        log,
		}, journal)
		if err != nil {
			return err
		}

		g.Go(func() error {
			return server.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	log.Info("classeviva poller is running", zap.Int("jobs", len(sched.ListJobs())))

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-gctx.Done()
	log.Info("shutting down", zap.Duration("timeout", cfg.App.ShutdownTimeout))

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// runOnce polls every account once, concurrently, and fails when any
// cycle fails.
func runOnce(ctx context.Context, registry *poll.Registry, log *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range registry.All() {
		c := c
		g.Go(func() error {
			snapshot, err := c.RunCycle(gctx)
			if err != nil {
				return err
			}
			log.Info("cycle completed",
				logger.Account(c.Account()),
				zap.Int("records", recordCount(snapshot)),
				zap.Int("stale_categories", len(snapshot.StaleCategories())),
			)
			return nil
		})
	}
	return g.Wait()
}

func recordCount(s *school.Snapshot) int {
	n := 0
	for _, c := range school.Categories {
		n += s.Len(c)
	}
	return n
}

func restoreSnapshot(ctx context.Context, snapshots *redis.SnapshotCache, c *poll.Coordinator, log *zap.Logger) {
	snapshot, err := snapshots.Load(ctx, c.Account())
	switch {
	case errors.Is(err, shared.ErrNotFound):
		log.Info("no cached snapshot, the first cycle sets the baseline")
	case err != nil:
		log.Warn("failed to load cached snapshot", logger.Err(err))
	case c.Restore(snapshot):
		log.Info("restored cached snapshot",
			zap.Time("taken_at", snapshot.TakenAt),
			zap.Int("records", recordCount(snapshot)),
		)
	}
}

func newServer(cfg *config.Config, deps httpserver.Dependencies, journal *postgres.NotificationJournal) (*httpserver.Server, error) {
	host, port, err := cfg.HTTP.HostPort()
	if err != nil {
		return nil, fmt.Errorf("http.addr: %w", err)
	}

	serverConfig := httpserver.DefaultConfig()
	serverConfig.Host = host
	serverConfig.Port = port
	serverConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	serverConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	serverConfig.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	serverConfig.APIKeys = cfg.HTTP.APIKeys
	serverConfig.EnableMetrics = cfg.Metrics.Enabled
	serverConfig.Location = cfg.App.Location
	serverConfig.Version = cfg.App.Version
	serverConfig.EnableCalendar = cfg.Features.IsEnabled(config.FeatureCalendar, nil)

	// A nil *NotificationJournal in the interface would be routed.
	if journal != nil {
		deps.Journal = journal
	}
	return httpserver.NewServer(serverConfig, deps), nil
}

func metricsFor(cfg *config.Config, m *metrics.PollMetrics) *metrics.PollMetrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return m
}

// staleAfter is how old a snapshot may get before /ready fails. Cron
// schedules have no fixed period, so a day is allowed.
func staleAfter(p config.PollConfig) time.Duration {
	if p.Cron != "" {
		return 24 * time.Hour
	}
	return 3 * p.Interval
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = c.Host
	rc.Port = c.Port
	rc.Password = c.Password
	rc.DB = c.DB
	rc.KeyPrefix = c.KeyPrefix
	if c.PoolSize > 0 {
		rc.PoolSize = c.PoolSize
	}
	if c.DialTimeout > 0 {
		rc.DialTimeout = c.DialTimeout
	}
	if c.ReadTimeout > 0 {
		rc.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		rc.WriteTimeout = c.WriteTimeout
	}
	return rc
}

func databaseConfig(c config.DatabaseConfig) postgres.Config {
	dc := postgres.DefaultConfig()
	dc.URL = c.URL
	dc.Host = c.Host
	dc.Port = c.Port
	dc.User = c.User
	dc.Password = c.Password
	dc.Database = c.Name
	dc.SSLMode = c.SSLMode
	if c.MaxConns > 0 {
		dc.MaxConns = int32(c.MaxConns)
	}
	if c.ConnMaxLifetime > 0 {
		dc.MaxConnLifetime = c.ConnMaxLifetime
	}
	return dc
}

func clientConfig(c config.ClassevivaConfig) classeviva.ClientConfig {
	cc := classeviva.DefaultClientConfig()
	cc.BaseURL = c.BaseURL
	cc.APIKey = c.APIKey
	cc.UserAgent = c.UserAgent
	cc.Timeout = c.RequestTimeout
	cc.RateLimiterConfig.RequestsPerSecond = c.RateLimit
	cc.RateLimiterConfig.BurstSize = c.RateLimitBurst
	cc.CircuitBreakerConfig.FailureThreshold = c.CircuitBreakerThreshold
	cc.CircuitBreakerConfig.Timeout = c.CircuitBreakerTimeout
	return cc
}
