package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mohabh15/studio-sub000/internal/core/port"
	"github.com/mohabh15/studio-sub000/internal/event"
	"github.com/mohabh15/studio-sub000/internal/infra/config"
	"github.com/mohabh15/studio-sub000/internal/infra/database"
	kafkainfra "github.com/mohabh15/studio-sub000/internal/infra/kafka"
	"github.com/mohabh15/studio-sub000/internal/infra/logger"
	"github.com/mohabh15/studio-sub000/internal/infra/provider"
	redisinfra "github.com/mohabh15/studio-sub000/internal/infra/redis"
	"github.com/mohabh15/studio-sub000/internal/infra/telemetry"
	"github.com/mohabh15/studio-sub000/internal/repository/memory"
	postgresrepo "github.com/mohabh15/studio-sub000/internal/repository/postgres"
	redisrepo "github.com/mohabh15/studio-sub000/internal/repository/redis"
	"github.com/mohabh15/studio-sub000/internal/storage"
	"github.com/mohabh15/studio-sub000/internal/transport/http/middleware"
	"github.com/mohabh15/studio-sub000/internal/transport/http/routes"
	"github.com/mohabh15/studio-sub000/internal/usecase"
)

// Application wires configuration, storage backends, the identity provider,
// and the services into a runnable daemon.
type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	auth     *usecase.AuthService
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
}

// New assembles the daemon. The durable storage tier follows
// persistence.backend; with the default "memory" backend the process runs
// fully self-contained.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	var tracer *telemetry.TracerProvider
	if cfg.Telemetry.OTLPEndpoint != "" {
		tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	var (
		pool        *pgxpool.Pool
		redisClient *redisinfra.Client
		durable     port.KeyValueStore
		durableName string
	)

	closeBackends := func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		if pool != nil {
			pool.Close()
		}
	}

	switch cfg.Persistence.Backend {
	case "redis":
		redisClient, err = redisinfra.NewClient(cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		durable = redisrepo.NewStore(redisClient.Client(), cfg.Redis.KeyPrefix)
		durableName = "redis"
	case "postgres":
		pool, err = database.NewPostgresPool(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		store := postgresrepo.NewStore(pool)
		if err := store.Migrate(ctx); err != nil {
			closeBackends()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		durable = store
		durableName = "postgres"
	default:
		log.Info("durable tier backed by process memory",
			zap.String("backend", cfg.Persistence.Backend),
		)
		durable = memory.NewStore()
		durableName = "memory"
	}

	resolver := storage.NewResolver(
		storage.NewStore(durableName, durable, log).WithDegradationHook(metrics.DegradationHook()),
		storage.NewStore("ephemeral", memory.NewStore(), log).WithDegradationHook(metrics.DegradationHook()),
	)

	var idp port.IdentityProvider
	switch cfg.Provider.Kind {
	case "oidc":
		idp, err = provider.NewOIDCProvider(ctx, cfg.OIDC, log)
	default:
		idp, err = provider.NewLocalProvider(cfg.Local, cfg.Argon2, log)
	}
	if err != nil {
		closeBackends()
		return nil, fmt.Errorf("init identity provider: %w", err)
	}

	bus := event.NewBus(log)
	metrics.Observe(bus)

	sessions := usecase.NewSessionService(cfg.Session, resolver, bus, log)
	tokens := usecase.NewTokenService(cfg.Token, cfg.Cookie, memory.NewCookieJar(), resolver, idp, log)
	auth := usecase.NewAuthService(idp, sessions, tokens, bus, log)

	if err := prometheus.Register(telemetry.NewStatsCollector(auth.Stats)); err != nil {
		log.Warn("stats collector registration failed", zap.Error(err))
	}

	if err := auth.Initialize(ctx); err != nil {
		auth.Close()
		closeBackends()
		return nil, fmt.Errorf("restore auth state: %w", err)
	}

	var producer *kafkainfra.Producer
	var sink port.EventSink
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("kafka producer init failed, events will be logged", zap.Error(err))
			sink = kafkainfra.NewLogEventSink(log)
		} else {
			sink = kafkainfra.NewEventSink(producer, cfg.App, log)
			log.Info("kafka event sink initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, events will be logged")
		sink = kafkainfra.NewLogEventSink(log)
	}
	event.Forward(bus, sink, log)

	var rateLimiter *middleware.RateLimiter
	if redisClient != nil {
		window := cfg.RateLimit.WindowDuration
		if window <= 0 {
			window = time.Minute
		}
		store := redisrepo.NewRateLimitStore(
			redisClient.Client(),
			cfg.Redis.KeyPrefix+":rate-limit",
			window*2,
		)
		rateLimiter = middleware.NewRateLimiter(store, log)
	}

	deps := routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		Metrics:     metrics,
		RateLimiter: rateLimiter,
		Services: routes.ServiceSet{
			Auth:     auth,
			Sessions: sessions,
			Tokens:   tokens,
		},
	}
	if pool != nil {
		deps.Database = pool
	}
	if redisClient != nil {
		deps.Cache = redisClient
	}

	return &Application{
		cfg:      cfg,
		engine:   routes.Register(deps),
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		auth:     auth,
		producer: producer,
		tracer:   tracer,
	}, nil
}

// Run serves the control API until the context is cancelled, then shuts the
// server and every backend down in dependency order.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			_ = a.producer.Close()
		}
	}()
	defer func() {
		if a.tracer != nil {
			_ = a.tracer.Shutdown(context.Background())
		}
	}()
	defer a.auth.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting authd",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
