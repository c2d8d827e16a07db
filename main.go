package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fortgate/internal/audit"
	"fortgate/internal/check"
	"fortgate/internal/config"
	"fortgate/internal/crypto"
	"fortgate/internal/dataType"
	"fortgate/internal/geo"
	"fortgate/internal/rules"
	"fortgate/internal/server"
	"fortgate/internal/utils"
	"fortgate/internal/webhook"

	"go.uber.org/zap"
)

func main() {
	var basePath string
	flag.StringVar(&basePath, "prefix", "", "Config file base path")
	flag.Parse()

	cfg, err := config.LoadMainConfig(basePath)
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	rateLimitMax, rateLimitWindow, err := utils.ParseRate(cfg.RateLimit)
	if err != nil {
		log.Fatalf("Invalid rate_limit %q: %v", cfg.RateLimit, err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Init logger failed: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()

	logx := utils.NewManager(cfg.LogPath)

	repo := rules.NewCachedRepository(rules.NewFileRepository(cfg.RulePath),
		time.Duration(cfg.RuleCacheTTLSeconds)*time.Second)
	if err := repo.Watch(cfg.RulePath); err != nil {
		zapLogger.Warn("rule directory watch unavailable, relying on TTL refresh", zap.Error(err))
	}
	defer repo.Stop()

	var geoProvider geo.Provider
	if cfg.GeoIPDBPath != "" {
		maxmind, err := geo.Open(cfg.GeoIPDBPath)
		if err != nil {
			log.Fatalf("Open GeoIP database failed: %v", err)
		}
		defer func() { _ = maxmind.Close() }()
		geoProvider = maxmind
	}

	store, err := audit.OpenBoltStore(cfg.Audit.DBPath)
	if err != nil {
		log.Fatalf("Open audit store failed: %v", err)
	}
	auditPipeline := audit.NewPipeline(store, zapLogger, cfg.Audit.QueueSize, cfg.Audit.Workers)
	defer auditPipeline.Stop()

	events := webhook.NewPipeline(webhook.Config{
		Enabled:        cfg.Webhook.Enabled,
		Endpoints:      cfg.Webhook.URLs,
		Headers:        cfg.Webhook.Headers,
		Authorization:  cfg.Webhook.Authorization,
		Application:    cfg.Webhook.Application,
		FailureLogPath: cfg.Webhook.FailureLogPath,
		ThrottleWindow: time.Duration(cfg.Webhook.ThrottleWindowSeconds) * time.Second,
	}, zapLogger)
	defer events.Stop()

	tokenCache := dataType.NewTokenCache(time.Minute)
	defer tokenCache.Stop()

	requestTracker := dataType.NewRateTracker(0)
	failureTracker := dataType.NewRateTracker(0)
	gcStop := make(chan struct{})
	go dataType.StartTrackerGC(requestTracker, time.Minute, 2*rateLimitWindow, gcStop)
	go dataType.StartTrackerGC(failureTracker, time.Minute, 2*cfg.FailureWindowSeconds, gcStop)
	defer close(gcStop)

	clearance := check.NewClearance(tokenCache, crypto.NewSealer(), cfg.EncryptionKey,
		repo, failureTracker, cfg.FailureWindowSeconds, events, logx)

	deps := &server.Deps{
		Cfg:             cfg,
		Repo:            repo,
		Engine:          check.NewRuleEngine(repo, logx),
		Limiter:         check.NewRateLimiter(requestTracker),
		Clearance:       clearance,
		Audit:           auditPipeline,
		Events:          events,
		Geo:             geoProvider,
		Logx:            logx,
		RateLimitMax:    rateLimitMax,
		RateLimitWindow: rateLimitWindow,
	}

	log.Printf("Ready to start server on port %s", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.StartServer(ctx, deps); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Server stopped")
}
