package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/llmgateway/gateway/internal/analytics"
	"github.com/llmgateway/gateway/internal/auth"
	"github.com/llmgateway/gateway/internal/authcache"
	"github.com/llmgateway/gateway/internal/backend"
	"github.com/llmgateway/gateway/internal/cost"
	"github.com/llmgateway/gateway/internal/gatewayconfig"
	"github.com/llmgateway/gateway/internal/httpserver"
	"github.com/llmgateway/gateway/internal/obs/logging"
	"github.com/llmgateway/gateway/internal/pipeline"
	"github.com/llmgateway/gateway/internal/providers"
	"github.com/llmgateway/gateway/internal/ratelimit"
	"github.com/llmgateway/gateway/internal/registry"
	"github.com/llmgateway/gateway/internal/webhook"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP gateway (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := gatewayconfig.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	redisClient, err := connectRedis(cfg.Redis)
	if err != nil {
		logger.Fatal("redis is required to serve traffic (auth cache and rate limiter both depend on it)", zap.Error(err))
	}

	sink := buildAnalyticsSink(cfg, logger)

	authCache := authcache.New(redisClient, logger, 0)
	backendClient := backend.New(backend.Config{
		BaseURL:      cfg.Backend.URL,
		StaticToken:  cfg.Backend.Token,
		ClientID:     cfg.Backend.ClientID,
		ClientSecret: cfg.Backend.ClientSecret,
		TokenURL:     cfg.Backend.TokenURL,
		Timeout:      cfg.Backend.Timeout,
	}, logger)
	authenticator := auth.New(authCache, backendClient, logger)

	reg := registry.New(registry.DefaultEntries(), registry.DefaultAliases())
	calculator := cost.New(reg, cfg.CostConfig.MinimumCost)

	distributed := ratelimit.NewRedisStore(redisClient)
	local := ratelimit.NewLocalStore(0)
	// nil tier limits default to ratelimit.DefaultTierLimits(); per-tenant
	// overrides still apply on top via tenant.Tenant.RateLimitOverrides.
	limiter := ratelimit.New(distributed, local, nil, logger)

	driver := providers.NewDriver(logger)
	providerConfigs := providers.Registry()

	notifier := webhook.New(logger)

	p := pipeline.New(authenticator, limiter, calculator, driver, providerConfigs, backendClient, sink, notifier, logger, pipeline.Config{
		SharedProviderKeys: sharedProviderKeys(cfg.Providers),
		EncryptionKey:      cfg.Encryption.Key,
	})

	handler := httpserver.New(p, reg, &httpserver.HealthProbe{
		Distributed: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		Providers:   providerConfigs,
		Breakers:    driver.BreakerStates,
	}, logger, httpserver.Config{
		Version:        version,
		Environment:    cfg.Environment,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("gateway starting", zap.String("address", srv.Addr), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	return nil
}

func connectRedis(cfg gatewayconfig.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opts = &redis.Options{Addr: cfg.URL}
	}
	if cfg.Token != "" {
		opts.Password = cfg.Token
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}

// buildAnalyticsSink mirrors the teacher's lite-mode posture: a missing
// optional dependency narrows functionality instead of failing startup. A
// blank DSN, an unreachable database, or a migration failure all fall back
// to the no-op sink rather than aborting the process.
func buildAnalyticsSink(cfg *gatewayconfig.Config, logger *zap.Logger) analytics.Sink {
	if cfg.Analytics.DSN == "" {
		return analytics.NewNoopSink(logger)
	}

	db, err := gorm.Open(postgres.Open(cfg.Analytics.DSN), &gorm.Config{Logger: logging.NewGormAdapter(logger)})
	if err != nil {
		logger.Warn("analytics database unreachable, recording telemetry as a no-op", zap.Error(err))
		return analytics.NewNoopSink(logger)
	}
	sink, err := analytics.NewGormSink(db)
	if err != nil {
		logger.Warn("analytics sink migration failed, recording as a no-op", zap.Error(err))
		return analytics.NewNoopSink(logger)
	}
	return sink
}

func sharedProviderKeys(cfg gatewayconfig.ProvidersConfig) map[string]string {
	keys := map[string]string{}
	if cfg.OpenAIAPIKey != "" {
		keys["openai"] = cfg.OpenAIAPIKey
	}
	if cfg.AnthropicAPIKey != "" {
		keys["anthropic"] = cfg.AnthropicAPIKey
	}
	if cfg.GoogleAIAPIKey != "" {
		keys["google"] = cfg.GoogleAIAPIKey
	}
	if cfg.CohereAPIKey != "" {
		keys["cohere"] = cfg.CohereAPIKey
	}
	if cfg.MistralAPIKey != "" {
		keys["mistral"] = cfg.MistralAPIKey
	}
	return keys
}
