package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/debatearena/arena-gateway/internal/config"
	"github.com/debatearena/arena-gateway/internal/httpserver"
	"github.com/debatearena/arena-gateway/internal/logging"
	"github.com/debatearena/arena-gateway/internal/metrics"
	"github.com/debatearena/arena-gateway/internal/pricing"
	"github.com/debatearena/arena-gateway/internal/provider"
	"github.com/debatearena/arena-gateway/internal/provider/loopback"
	provideropenai "github.com/debatearena/arena-gateway/internal/provider/openai"
	"github.com/debatearena/arena-gateway/internal/session"
	"github.com/debatearena/arena-gateway/internal/turn"
	"github.com/debatearena/arena-gateway/internal/turncontrol"
	"github.com/debatearena/arena-gateway/internal/turnstore"
	turnstorememory "github.com/debatearena/arena-gateway/internal/turnstore/memory"
	turnstorepostgres "github.com/debatearena/arena-gateway/internal/turnstore/postgres"
	turnstoresqlite "github.com/debatearena/arena-gateway/internal/turnstore/sqlite"
	"github.com/debatearena/arena-gateway/internal/version"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	logger, logCloser, err := logging.NewLogger("arenad", cfg.LogFile)
	if err != nil {
		log.Fatalf("init logging: %v", err)
	}
	defer logCloser.Close()
	logger.Printf("arenad starting %s env=%s", version.FullInfo(), cfg.Environment)

	store, err := openTurnStore(cfg)
	if err != nil {
		logger.Fatalf("open turn store: %v", err)
	}
	defer store.Close()
	logger.Printf("turn store ready driver=%s", cfg.TurnStoreDriver)

	prices := pricing.NewStore()
	if strings.TrimSpace(cfg.PricingPath) != "" {
		if n, err := prices.Load(cfg.PricingPath); err != nil {
			logger.Printf("pricing catalog unavailable (%v); costs default to provider-reported values", err)
		} else {
			logger.Printf("pricing catalog loaded models=%d path=%s", n, cfg.PricingPath)
		}
	}

	streamer, err := buildStreamer(cfg, prices)
	if err != nil {
		logger.Fatalf("init provider: %v", err)
	}
	logger.Printf("provider ready kind=%s", cfg.ProviderKind)

	registry := session.NewRegistry(session.WithTTL(cfg.SessionTTL))
	collector := metrics.NewCollector()
	controller := turncontrol.New(store, logger)

	srv := httpserver.New(httpserver.Config{
		Registry:          registry,
		Controller:        controller,
		Streamer:          streamer,
		Collector:         collector,
		StreamEnabled:     cfg.StreamEnabled,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            logger,
		LogLevel:          cfg.LogLevel,
	})

	httpSrv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.ListenPort),
		Handler:     srv.Router(),
		ReadTimeout: 15 * time.Second,
		// streaming responses outlive any write timeout by design of SSE
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("arena gateway listening on %s stream_enabled=%v", httpSrv.Addr, cfg.StreamEnabled)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs
	logger.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func openTurnStore(cfg config.ArenaConfig) (turnstore.Store, error) {
	switch cfg.TurnStoreDriver {
	case "memory":
		return turnstorememory.New(), nil
	case "postgres":
		return turnstorepostgres.New(cfg.PostgresDSN, cfg.PGMaxOpenConns, cfg.PGMaxIdleConns, 30)
	default:
		return turnstoresqlite.New(cfg.SQLitePath)
	}
}

func buildStreamer(cfg config.ArenaConfig, prices *pricing.Store) (provider.Streamer, error) {
	switch cfg.ProviderKind {
	case "openai":
		s := provideropenai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, nil, prices)
		if len(cfg.ModelAliases) == 0 {
			return s, nil
		}
		return &aliasStreamer{inner: s, aliases: cfg.ModelAliases}, nil
	default:
		return loopback.New(40 * time.Millisecond), nil
	}
}

// aliasStreamer rewrites friendly model names to provider model ids before
// dispatch.
type aliasStreamer struct {
	inner   provider.Streamer
	aliases map[string]string
}

func (a *aliasStreamer) StreamGenerate(ctx context.Context, req turn.Request, cb provider.Callbacks) error {
	if target, ok := a.aliases[req.Model]; ok {
		req.Model = target
	}
	return a.inner.StreamGenerate(ctx, req, cb)
}
