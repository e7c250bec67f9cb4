package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urbanserve/dispatch-core/internal/api"
	"github.com/urbanserve/dispatch-core/internal/booking"
	"github.com/urbanserve/dispatch-core/internal/config"
	"github.com/urbanserve/dispatch-core/internal/health"
	"github.com/urbanserve/dispatch-core/internal/httpclient"
	"github.com/urbanserve/dispatch-core/internal/journal"
	"github.com/urbanserve/dispatch-core/internal/journal/postgres"
	"github.com/urbanserve/dispatch-core/internal/kvstore"
	"github.com/urbanserve/dispatch-core/internal/kvstore/redisstore"
	"github.com/urbanserve/dispatch-core/internal/logger"
	"github.com/urbanserve/dispatch-core/internal/observability"
	"github.com/urbanserve/dispatch-core/internal/server"
	"github.com/urbanserve/dispatch-core/internal/zonecache"
	"github.com/urbanserve/dispatch-core/internal/zonefeed"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "dispatchd",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting dispatchd",
		"addr", cfg.Addr,
		"version", Version,
		"backend", cfg.BackendURL,
		"zones", cfg.ZonesPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store kvstore.Store
	if cfg.RedisAddr != "" {
		rs, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			appLog.Error("redis connect", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer rs.Close()
		store = rs
	} else {
		appLog.Warn("REDIS_ADDR not set; session state will not survive restarts")
		store = kvstore.NewMemory()
	}

	var jnl journal.Journal = journal.Nop{}
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			appLog.Error("postgres connect", "err", err)
			return 1
		}
		defer pg.Close()
		jnl = pg
	}

	backend, err := booking.NewClient(cfg.BackendURL, cfg.BackendToken, httpclient.NewOutbound(), appLog)
	if err != nil {
		appLog.Error("backend client", "err", err)
		return 1
	}

	h3res := -1
	if cfg.H3IndexOn {
		h3res = cfg.H3Res
	}
	zones, err := zonecache.New(zonecache.FileLoader{Dir: cfg.ZonesPath}, cfg.ZoneCacheSize, h3res)
	if err != nil {
		appLog.Error("zone cache", "err", err)
		return 1
	}

	feed := zonefeed.New(cfg.ZoneFeed, zones, appLog)
	if err := feed.Start(ctx); err != nil {
		appLog.Error("zone feed start", "err", err)
		return 1
	}
	defer feed.Stop()

	mgr := api.NewManager(backend, store, jnl, booking.Config{
		PollInterval: cfg.PollInterval,
		WaitDeadline: cfg.WaitDeadline,
		MaxRetries:   cfg.RetryMax,
	}, appLog)
	defer mgr.CloseAll()

	handler := api.NewHandler(zones, mgr, appLog)

	if err := server.Run(ctx, cfg, appLog, handler, health.Multi{feed}); err != nil {
		appLog.Error("server error", "err", err)
		return 1
	}
	appLog.Info("shutdown complete")
	return 0
}
