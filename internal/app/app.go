package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/sitewatch/internal/backend"
	"github.com/MrSnakeDoc/sitewatch/internal/config"
	"github.com/MrSnakeDoc/sitewatch/internal/domain"
	"github.com/MrSnakeDoc/sitewatch/internal/httpserver"
	"github.com/MrSnakeDoc/sitewatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/sitewatch/internal/index"
	"github.com/MrSnakeDoc/sitewatch/internal/logger"
	"github.com/MrSnakeDoc/sitewatch/internal/monitor"
	"github.com/MrSnakeDoc/sitewatch/internal/redis"
	"github.com/MrSnakeDoc/sitewatch/internal/scheduler"
	"github.com/MrSnakeDoc/sitewatch/internal/sources/seed"
	redisstore "github.com/MrSnakeDoc/sitewatch/internal/store/redis"
	"github.com/MrSnakeDoc/sitewatch/internal/utils"
	"github.com/MrSnakeDoc/sitewatch/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	monitor     *monitor.Monitor
	poller      *scheduler.Poller
	sweeper     *scheduler.StalenessSweeper
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.NewWithFile(cfg.LogLevel, cfg.PrettyLog, logger.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	})

	client, err := backend.New(backend.Options{
		BaseURL:   cfg.BackendURL,
		SitesPath: cfg.SitesPath,
		Token:     cfg.BackendToken,
		Timeout:   cfg.FetchTimeout,
	}, nil, loggerClient)
	if err != nil {
		loggerClient.Errorf("Invalid backend configuration: %v", err)
		os.Exit(1)
	}

	// Redis is optional: without it the dashboard starts blank after a restart
	var (
		redisClient *goredis.Client
		store       *redisstore.Store
		mirror      monitor.Mirror
		pinger      deps.Pinger
	)
	if cfg.RedisEnabled() {
		redisClient, store = connectRedis(cfg, loggerClient)
		if store != nil {
			mirror = store
			pinger = store
		}
	} else {
		loggerClient.Info("redis not configured, snapshot mirror disabled")
	}

	mon := monitor.New(
		index.NewSnapshotStore(),
		domain.NewStalenessTracker(cfg.PollInterval, cfg.MissedIntervals),
		domain.NewClassifier(cfg.WarningThreshold),
		client,
		mirror,
		loggerClient,
	)

	// Restore the last mirrored snapshot before the first tick
	if store != nil {
		syncer := scheduler.NewRedisSyncer(store, mon, loggerClient)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RedisConnectTimeout)
		if _, err := syncer.Sync(ctx); err != nil {
			loggerClient.Warn("failed to restore sites from redis, starting empty",
				logger.Error(err))
		}
		cancel()
	}

	if cfg.SeedFile != "" {
		if err := seedSites(cfg.SeedFile, mon, loggerClient); err != nil {
			loggerClient.Errorf("Failed to load seed file: %v", err)
			os.Exit(1)
		}
	}

	hub := monitor.NewHub(32)
	wireEvents(mon, hub)

	poller := scheduler.NewPoller(client.FetchSites, mon, loggerClient, cfg.PollInterval, cfg.FetchTimeout)
	sweeper := scheduler.NewStalenessSweeper(mon, loggerClient, cfg.PollInterval)

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:           loggerClient,
		StartTime:        time.Now(),
		Version:          version.Version,
		Commit:           version.Commit,
		BuildDate:        version.BuildDate,
		GoVersion:        version.GoVersion,
		TimeNow:          time.Now,
		AllowedCIDRS:     cfg.AllowedCIDRS,
		TrustProxy:       cfg.TrustProxy,
		CORSOrigins:      cfg.CORSOrigins,
		RateLimitBurst:   cfg.RateLimitBurst,
		RateLimitPerMin:  cfg.RateLimitPerMin,
		RateLimitMaxKeys: cfg.RateLimitMaxKeys,
		SSEHeartbeat:     cfg.SSEHeartbeat,
		BackendURL:       client.SitesURL(),
		Monitor:          mon,
		Poller:           poller,
		Events:           hub,
		Redis:            pinger,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		redisClient: redisClient,
		monitor:     mon,
		poller:      poller,
		sweeper:     sweeper,
	}
}

func connectRedis(cfg *config.Config, log logger.Logger) (*goredis.Client, *redisstore.Store) {
	log.Infof("Connecting to Redis at %s", cfg.RedisAddr)
	client, err := redis.Connect(context.Background(), redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, log)
	if err != nil {
		log.Warn("redis unavailable, continuing without snapshot mirror",
			logger.Error(err))
		return nil, nil
	}
	log.Info("Redis initialized successfully")
	return client, redisstore.NewStore(client, cfg.RedisSiteTTL)
}

// seedSites tracks the sites pinned in the seed file. Sites already restored
// from Redis are kept as they are.
func seedSites(path string, mon *monitor.Monitor, log logger.Logger) error {
	conf, err := seed.NewLoader(path).Load()
	if err != nil {
		return err
	}
	sites, skipped, err := conf.Entries()
	if err != nil {
		return fmt.Errorf("invalid seed file %s: %w", path, err)
	}
	if len(skipped) > 0 {
		log.Warn("seed entries without url skipped", logger.Strings("site_ids", skipped))
	}

	added := 0
	for _, s := range sites {
		if err := mon.Track(s.ID, s.URL); err != nil {
			if errors.Is(err, domain.ErrSiteExists) {
				continue
			}
			return err
		}
		added++
	}
	log.Info("seed sites loaded",
		logger.String("file", path),
		logger.Int("entries", len(sites)),
		logger.Int("added", added))
	return nil
}

// wireEvents forwards monitor notifications to UI subscribers.
func wireEvents(mon *monitor.Monitor, hub *monitor.Hub) {
	mon.OnUpdate(func(domain.Snapshot) {
		hub.Publish(monitor.Event{Type: monitor.EventUpdate, Data: mon.View()})
	})
	mon.OnError(func(fe *domain.FetchError) {
		info := monitor.FailureInfo{At: time.Now().UTC(), Kind: fe.Kind}
		if lf := mon.View().LastFailure; lf != nil {
			info = *lf
		}
		hub.Publish(monitor.Event{Type: monitor.EventError, Data: info})
	})
	mon.OnStale(func(ids []string) {
		hub.Publish(monitor.Event{Type: monitor.EventStale, Data: map[string][]string{"site_ids": ids}})
	})
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting sitewatch %s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Info(version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start poller (first tick fires immediately)
	if err := a.poller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}

	// Start staleness sweeper
	if err := a.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start staleness sweeper: %w", err)
	}
	a.logger.Info("staleness sweeper started",
		logger.Duration("interval", a.poller.Interval()),
		logger.Duration("stale_after", a.monitor.Window()))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
		a.logger.Error("http server failed, shutting down", logger.Error(runErr))
	}

	// No result is delivered after Stop returns
	a.poller.Stop()
	a.poller.Wait()

	a.sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to stop server: %w", err)
	}

	if a.redisClient != nil {
		utils.CloseLogged(a.redisClient, a.logger, "redis")
	}

	a.logger.Info("✅ sitewatch stopped cleanly")
	_ = a.logger.Sync()
	return runErr
}
