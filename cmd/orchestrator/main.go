package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/agentrun/internal/adapter/llm"
	"github.com/xiaot623/agentrun/internal/config"
	"github.com/xiaot623/agentrun/internal/logging"
	"github.com/xiaot623/agentrun/internal/observability"
	"github.com/xiaot623/agentrun/internal/policy"
	"github.com/xiaot623/agentrun/internal/pubsub"
	"github.com/xiaot623/agentrun/internal/repository"
	"github.com/xiaot623/agentrun/internal/secrets"
	"github.com/xiaot623/agentrun/internal/service"
	httpserver "github.com/xiaot623/agentrun/internal/transport/http"
	"github.com/xiaot623/agentrun/internal/transport/ws"
	"github.com/xiaot623/agentrun/internal/trigger"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("orchestrator failed", "error", err)
		os.Exit(1)
	}
	logger.Info("orchestrator stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting orchestrator",
		"http_port", cfg.HTTPPort,
		"database_driver", cfg.DatabaseDriver,
		"pubsub_backend", cfg.PubSubBackend,
		"llm_provider", cfg.LLMProvider,
	)

	file, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return err
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	// Initialize store
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Pub/sub
	var redisClient *redis.Client
	if cfg.PubSubBackend == "redis" || cfg.TriggerDedup == "redis" {
		redisClient, err = pubsub.OpenRedis(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}
	var broker pubsub.Broker
	switch cfg.PubSubBackend {
	case "redis":
		broker = pubsub.NewRedisBroker(redisClient, cfg.SubscriberBuffer, metrics, logger)
	case "memory", "":
		broker = pubsub.NewMemoryBroker(cfg.SubscriberBuffer, metrics, logger)
	default:
		return fmt.Errorf("unsupported PUBSUB_BACKEND %q", cfg.PubSubBackend)
	}
	defer broker.Close()
	transport := pubsub.NewTransport(broker, cfg.SubscriberPoll, logger)
	pool := pubsub.NewPool(transport, metrics, logger)
	defer pool.Close()

	// Model client and tool policy
	llmClient, err := llm.NewLLMClient(llm.Options{
		Provider:        cfg.LLMProvider,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		BaseURL:         cfg.LLMBaseURL,
		APIKey:          cfg.LLMAPIKey,
		Model:           cfg.DefaultModel,
		Timeout:         cfg.LLMTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize llm client: %w", err)
	}
	policyEngine, err := policy.LoadEngine(ctx, cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	// Initialize service
	svc := service.New(service.Deps{
		Store:     db,
		Transport: transport,
		LLM:       llmClient,
		Policy:    policyEngine,
		Config:    cfg,
		Metrics:   metrics,
		Tracer:    observability.NewTracer(),
		Logger:    logger,
	})
	if err := svc.SeedAgents(ctx, file.Agents); err != nil {
		return err
	}

	// Triggers
	triggers := make([]trigger.Trigger, 0, len(file.Triggers))
	for _, tc := range file.Triggers {
		t, err := trigger.New(tc, logger)
		if err != nil {
			return err
		}
		triggers = append(triggers, t)
	}
	var dedup trigger.Deduper = trigger.NewStoreDeduper(db)
	if cfg.TriggerDedup == "redis" {
		dedup = trigger.NewRedisDeduper(redisClient, 0)
	}
	dispatcher := trigger.NewDispatcher(triggers, dedup, svc, secrets.NewStaticResolver(file.Credentials), metrics, logger)

	// HTTP and websocket
	hub := ws.NewHub(pool, cfg.SubscriberGrace, logger)
	e := httpserver.NewServer(svc, httpserver.Options{
		Transport: transport,
		Gatherer:  reg,
		WS:        ws.NewServer(cfg, hub, svc, logger),
		Logger:    logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("http server listening", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down orchestrator")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown http server gracefully", "error", err)
		}
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.Warn("runs still executing at shutdown", "error", err)
		}
		return nil
	})
	return g.Wait()
}

func openStore(cfg *config.Config) (repository.Store, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		db, err := repository.NewPostgresStore(cfg.DatabaseURL, repository.DefaultPostgresConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		return db, nil
	case "sqlite", "":
		db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
}
