package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/replyflow/replyflow/internal/auth"
	"github.com/replyflow/replyflow/internal/channel"
	"github.com/replyflow/replyflow/internal/channel/adapters/evolution"
	"github.com/replyflow/replyflow/internal/channel/adapters/meta"
	"github.com/replyflow/replyflow/internal/config"
	"github.com/replyflow/replyflow/internal/db"
	"github.com/replyflow/replyflow/internal/gate"
	"github.com/replyflow/replyflow/internal/genai"
	"github.com/replyflow/replyflow/internal/handlers"
	"github.com/replyflow/replyflow/internal/healthcheck"
	"github.com/replyflow/replyflow/internal/knowledge"
	"github.com/replyflow/replyflow/internal/lead"
	"github.com/replyflow/replyflow/internal/logger"
	"github.com/replyflow/replyflow/internal/media"
	"github.com/replyflow/replyflow/internal/message"
	"github.com/replyflow/replyflow/internal/notify"
	"github.com/replyflow/replyflow/internal/orchestrator"
	"github.com/replyflow/replyflow/internal/prompt"
	"github.com/replyflow/replyflow/internal/ratelimit"
	"github.com/replyflow/replyflow/internal/server"
	"github.com/replyflow/replyflow/internal/tenant"
	"github.com/replyflow/replyflow/internal/training"
	"github.com/replyflow/replyflow/internal/usage"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBPool,
			provideQuerier,
			provideTenantService,
			provideLeadService,
			provideMessageService,
			provideRateLimiter,
			provideUsageMeter,
			provideTrainingService,
			provideGate,
			provideGenAIClient,
			provideKnowledgeStore,
			providePromptAssembler,
			provideNotifyService,
			provideOrchestrator,
			provideExtractor,
			provideMediaResolver,
			provideChannelRegistry,
			provideLogin,
			provideSweeper,
			handlers.NewPingHandler,
			handlers.NewAuthHandler,
			provideWebhookHandler,
			provideDispatchHandler,
			provideTrainingHandler,
			provideServer,
		),
		fx.Invoke(
			startKnowledgeStore,
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	log := logger.New(cfg.Log)
	slog.SetDefault(log)
	return log
}

func provideDBPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	dsn := cfg.Postgres.DSN()
	if err := db.Migrate(dsn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := db.Connect(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideQuerier(pool *pgxpool.Pool) db.Querier { return pool }

func provideTenantService(log *slog.Logger, q db.Querier) *tenant.Service {
	return tenant.NewService(log, q)
}

func provideLeadService(log *slog.Logger, q db.Querier, cfg config.Config) *lead.Service {
	return lead.NewService(log, q, cfg.Pipeline.ReuseClosedConversations)
}

func provideMessageService(log *slog.Logger, q db.Querier) *message.Service {
	return message.NewService(log, q)
}

func provideRateLimiter(log *slog.Logger, q db.Querier) *ratelimit.Limiter {
	return ratelimit.NewLimiter(log, q)
}

func provideUsageMeter(log *slog.Logger, q db.Querier, tenants *tenant.Service) *usage.Meter {
	return usage.NewMeter(log, q, tenants)
}

func provideTrainingService(log *slog.Logger, q db.Querier) *training.Service {
	return training.NewService(log, q)
}

func provideGate(log *slog.Logger, trainingSvc *training.Service) *gate.Gate {
	return gate.New(log, trainingSvc)
}

func provideGenAIClient(log *slog.Logger, cfg config.Config) *genai.Client {
	return genai.NewClient(log, cfg.GenAI)
}

func provideKnowledgeStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, client *genai.Client) (*knowledge.Store, error) {
	store, err := knowledge.NewStore(log, cfg.Qdrant, client)
	if err != nil {
		return nil, fmt.Errorf("qdrant init: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return store.Close() }})
	return store, nil
}

func providePromptAssembler(log *slog.Logger, store *knowledge.Store) *prompt.Assembler {
	return prompt.NewAssembler(log, store)
}

func provideNotifyService(log *slog.Logger, q db.Querier) *notify.Service {
	return notify.NewService(log, q)
}

func provideOrchestrator(
	log *slog.Logger,
	meter *usage.Meter,
	limiter *ratelimit.Limiter,
	aiGate *gate.Gate,
	assembler *prompt.Assembler,
	client *genai.Client,
	messages *message.Service,
	leads *lead.Service,
	notifier *notify.Service,
) *orchestrator.Orchestrator {
	return orchestrator.New(log, meter, limiter, aiGate, assembler, client, messages, leads, notifier)
}

func provideExtractor(log *slog.Logger, trainingSvc *training.Service, q db.Querier, client *genai.Client, store *knowledge.Store) *training.Extractor {
	return training.NewExtractor(log, trainingSvc, q, client, store)
}

func provideMediaResolver(log *slog.Logger, client *genai.Client) *media.Resolver {
	fetcher := media.NewHTTPFetcher(log)
	return media.NewResolver(log, fetcher, client, client)
}

func provideChannelRegistry(log *slog.Logger) *channel.Registry {
	registry := channel.NewRegistry()
	registry.Register(meta.NewNormalizer(log))
	registry.Register(evolution.NewNormalizer(log))
	return registry
}

func provideLogin(log *slog.Logger, tenants *tenant.Service, cfg config.Config) (*auth.Login, error) {
	expiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("parse jwt_expires_in: %w", err)
	}
	return auth.NewLogin(log, tenants, cfg.Auth.JWTSecret, expiresIn), nil
}

func provideSweeper(log *slog.Logger, tenants *tenant.Service, notifier *notify.Service, cfg config.Config) *healthcheck.Sweeper {
	return healthcheck.NewSweeper(log, tenants, healthcheck.NewHTTPProber(), notifier, cfg.Pipeline.HealthSweepSpec)
}

func provideWebhookHandler(
	log *slog.Logger,
	registry *channel.Registry,
	tenants *tenant.Service,
	leads *lead.Service,
	mediaResolver *media.Resolver,
	messages *message.Service,
	orch *orchestrator.Orchestrator,
	extractor *training.Extractor,
	cfg config.Config,
) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, registry, tenants, leads, mediaResolver, messages, orch, extractor, cfg.Webhook.VerifyToken)
}

func provideDispatchHandler(log *slog.Logger, orch *orchestrator.Orchestrator, tenants *tenant.Service) *handlers.DispatchHandler {
	return handlers.NewDispatchHandler(log, orch, tenants)
}

func provideTrainingHandler(log *slog.Logger, trainingSvc *training.Service) *handlers.TrainingHandler {
	return handlers.NewTrainingHandler(log, trainingSvc)
}

func provideServer(
	log *slog.Logger,
	cfg config.Config,
	ping *handlers.PingHandler,
	authHandler *handlers.AuthHandler,
	webhook *handlers.WebhookHandler,
	dispatch *handlers.DispatchHandler,
	trainingHandler *handlers.TrainingHandler,
) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, cfg.Auth.JWTSecret, ping, authHandler, webhook, dispatch, trainingHandler)
}

func startKnowledgeStore(lc fx.Lifecycle, log *slog.Logger, store *knowledge.Store) {
	lc.Append(fx.Hook{OnStart: func(ctx context.Context) error {
		if err := store.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("ensure knowledge collection: %w", err)
		}
		return nil
	}})
}

func startSweeper(lc fx.Lifecycle, sweeper *healthcheck.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return sweeper.Start() },
		OnStop:  func(ctx context.Context) error { sweeper.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
