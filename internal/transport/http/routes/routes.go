package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mohabh15/studio-sub000/internal/infra/config"
	"github.com/mohabh15/studio-sub000/internal/infra/telemetry"
	"github.com/mohabh15/studio-sub000/internal/transport/http/handlers"
	"github.com/mohabh15/studio-sub000/internal/transport/http/middleware"
	"github.com/mohabh15/studio-sub000/internal/usecase"
)

// activityMinInterval collapses bursts of activity pings before they reach
// the session layer.
const activityMinInterval = time.Second

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth     *usecase.AuthService
	Sessions *usecase.SessionService
	Tokens   *usecase.TokenService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Metrics     *telemetry.Metrics
	RateLimiter *middleware.RateLimiter
	Services    ServiceSet
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config != nil && deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Tracing())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.Logger(deps.Logger))

	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
	}
	if deps.Config != nil && len(deps.Config.App.CORSOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.App.CORSOrigins))
	}

	guard := middleware.RequireSession(deps.Services.Tokens)

	healthOptions := make([]handlers.HealthOption, 0, 2)

	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}

	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		authHandler := handlers.NewAuthHandler(
			deps.Services.Auth,
			deps.Services.Tokens,
			cookieSettings(deps),
			deps.Logger,
		)
		passwordHandler := handlers.NewPasswordHandler(deps.Services.Auth)
		sessionHandler := handlers.NewSessionHandler(deps.Services.Auth, deps.Services.Sessions)

		limits := rateLimits(deps)

		authGroup := api.Group("/auth")

		authGroup.POST("/login",
			append(buildRateLimit(deps, "auth_login_ip", limits.LoginMaxAttempts, time.Minute), authHandler.Login)...)
		authGroup.POST("/signup",
			append(buildRateLimit(deps, "auth_signup_ip", limits.SignupMaxAttempts, time.Minute), authHandler.Signup)...)
		authGroup.POST("/login/federated",
			append(buildRateLimit(deps, "auth_federated_ip", limits.LoginMaxAttempts, time.Minute), authHandler.LoginFederated)...)
		authGroup.POST("/refresh",
			append(buildRateLimit(deps, "auth_refresh_ip", limits.RefreshMaxAttempts, time.Minute), guard, authHandler.Refresh)...)

		authGroup.POST("/logout", guard, authHandler.Logout)
		authGroup.POST("/reset", authHandler.Reset)
		authGroup.GET("/state", authHandler.State)
		authGroup.GET("/stats", authHandler.Stats)

		authGroup.POST("/verification-email", guard, passwordHandler.SendVerificationEmail)

		resetGroup := authGroup.Group("/password-reset")
		resetMiddlewares := buildRateLimit(deps, "password_reset_ip", limits.PasswordResetMaxAttempts, time.Hour)
		if len(resetMiddlewares) > 0 {
			resetGroup.Use(resetMiddlewares...)
		}
		resetGroup.POST("/request", passwordHandler.RequestReset)
		resetGroup.POST("/confirm", passwordHandler.ConfirmReset)

		sessionGroup := api.Group("/session")
		sessionGroup.Use(guard)
		sessionGroup.GET("", sessionHandler.Current)
		sessionGroup.POST("/activity", middleware.ActivityThrottle(activityMinInterval), sessionHandler.UpdateActivity)
		sessionGroup.POST("/extend", sessionHandler.Extend)
		sessionGroup.DELETE("", sessionHandler.Destroy)
	}

	return r
}

func cookieSettings(deps Dependencies) config.CookieSettings {
	if deps.Config == nil {
		return config.CookieSettings{Path: "/"}
	}
	return deps.Config.Cookie
}

func rateLimits(deps Dependencies) config.RateLimitSettings {
	if deps.Config == nil {
		return config.RateLimitSettings{}
	}
	return deps.Config.RateLimit
}

func buildRateLimit(deps Dependencies, name string, limit int, fallbackWindow time.Duration) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = fallbackWindow
	}

	rule := middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
