package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App         AppSettings         `mapstructure:"app"`
	Persistence PersistenceSettings `mapstructure:"persistence"`
	Session     SessionSettings     `mapstructure:"session"`
	Token       TokenSettings       `mapstructure:"token"`
	Cookie      CookieSettings      `mapstructure:"cookie"`
	Provider    ProviderSettings    `mapstructure:"provider"`
	Local       LocalSettings       `mapstructure:"local"`
	OIDC        OIDCSettings        `mapstructure:"oidc"`
	Argon2      Argon2Settings      `mapstructure:"argon2"`
	Postgres    PostgresSettings    `mapstructure:"postgres"`
	Redis       RedisSettings       `mapstructure:"redis"`
	Kafka       KafkaSettings       `mapstructure:"kafka"`
	RateLimit   RateLimitSettings   `mapstructure:"rate_limit"`
	Telemetry   TelemetrySettings   `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name        string   `mapstructure:"name"`
	Env         string   `mapstructure:"env"`
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// PersistenceSettings selects where credentials and session records live
// between restarts: durable, ephemeral, or none. Backend picks the store
// behind the durable tier; "memory" keeps the daemon self-contained.
type PersistenceSettings struct {
	Mode    string `mapstructure:"mode"`
	Backend string `mapstructure:"backend"`
}

// SessionSettings configures the two expiry clocks and the concurrency cap.
// A zero timeout disables that clock entirely.
type SessionSettings struct {
	InactivityTimeoutMinutes int           `mapstructure:"inactivity_timeout_minutes"`
	AbsoluteTimeoutDays      int           `mapstructure:"absolute_timeout_days"`
	WarningThresholdMinutes  int           `mapstructure:"warning_threshold_minutes"`
	MaxConcurrentSessions    int           `mapstructure:"max_concurrent_sessions"`
	AutoExtend               bool          `mapstructure:"auto_extend"`
	SweepInterval            time.Duration `mapstructure:"sweep_interval"`
}

func (s SessionSettings) InactivityTimeout() time.Duration {
	return time.Duration(s.InactivityTimeoutMinutes) * time.Minute
}

func (s SessionSettings) AbsoluteTimeout() time.Duration {
	return time.Duration(s.AbsoluteTimeoutDays) * 24 * time.Hour
}

func (s SessionSettings) WarningThreshold() time.Duration {
	return time.Duration(s.WarningThresholdMinutes) * time.Minute
}

// TokenSettings configures proactive refresh scheduling and the retry policy
// for refresh calls that fail on network errors.
type TokenSettings struct {
	RefreshThresholdMinutes      int           `mapstructure:"refresh_threshold_minutes"`
	ExpiringSoonThresholdMinutes int           `mapstructure:"expiring_soon_threshold_minutes"`
	RefreshMaxAttempts           int           `mapstructure:"refresh_max_attempts"`
	RefreshBackoffBase           time.Duration `mapstructure:"refresh_backoff_base"`
	RefreshBackoffMax            time.Duration `mapstructure:"refresh_backoff_max"`
}

func (t TokenSettings) RefreshThreshold() time.Duration {
	return time.Duration(t.RefreshThresholdMinutes) * time.Minute
}

func (t TokenSettings) ExpiringSoonThreshold() time.Duration {
	return time.Duration(t.ExpiringSoonThresholdMinutes) * time.Minute
}

// CookieSettings are applied to every credential cookie the service writes.
type CookieSettings struct {
	Path     string `mapstructure:"path"`
	Domain   string `mapstructure:"domain"`
	Secure   bool   `mapstructure:"secure"`
	SameSite string `mapstructure:"same_site"`
}

// SameSiteMode maps the configured string onto http.SameSite, defaulting
// to Strict for unrecognized values.
func (c CookieSettings) SameSiteMode() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// ProviderSettings selects the identity provider implementation.
type ProviderSettings struct {
	Kind string `mapstructure:"kind"`
}

// LocalSettings configures the built-in credential provider.
type LocalSettings struct {
	Issuer           string        `mapstructure:"issuer"`
	SigningSecret    string        `mapstructure:"signing_secret"`
	AccessTokenTTL   time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL  time.Duration `mapstructure:"refresh_token_ttl"`
	MinPasswordScore int           `mapstructure:"min_password_score"`
}

// OIDCSettings configures the federated provider.
type OIDCSettings struct {
	IssuerURL    string   `mapstructure:"issuer_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
}

// Argon2Settings configures Argon2id password hashing parameters.
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// KafkaSettings configures the auth event producer. An empty broker list
// keeps events on the log sink.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

// RateLimitSettings configures rate limiting windows and max attempts per endpoint
type RateLimitSettings struct {
	WindowDuration           time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts         int           `mapstructure:"login_max_attempts"`
	SignupMaxAttempts        int           `mapstructure:"signup_max_attempts"`
	RefreshMaxAttempts       int           `mapstructure:"refresh_max_attempts"`
	PasswordResetMaxAttempts int           `mapstructure:"password_reset_max_attempts"`
}

// TelemetrySettings configures the OTLP trace pipeline. An empty endpoint
// disables span export; /metrics always rides the main listener.
type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("AUTHD")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.cors_origins",
		"persistence.mode",
		"persistence.backend",
		"session.inactivity_timeout_minutes",
		"session.absolute_timeout_days",
		"session.warning_threshold_minutes",
		"session.max_concurrent_sessions",
		"session.auto_extend",
		"session.sweep_interval",
		"token.refresh_threshold_minutes",
		"token.expiring_soon_threshold_minutes",
		"token.refresh_max_attempts",
		"token.refresh_backoff_base",
		"token.refresh_backoff_max",
		"cookie.path",
		"cookie.domain",
		"cookie.secure",
		"cookie.same_site",
		"provider.kind",
		"local.issuer",
		"local.signing_secret",
		"local.access_token_ttl",
		"local.refresh_token_ttl",
		"local.min_password_score",
		"oidc.issuer_url",
		"oidc.client_id",
		"oidc.client_secret",
		"oidc.redirect_url",
		"oidc.scopes",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.key_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"rate_limit.signup_max_attempts",
		"rate_limit.refresh_max_attempts",
		"rate_limit.password_reset_max_attempts",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "authd")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "127.0.0.1")
	v.SetDefault("app.port", 8089)
	v.SetDefault("app.cors_origins", []string{})

	v.SetDefault("persistence.mode", "durable")
	v.SetDefault("persistence.backend", "memory")

	v.SetDefault("session.inactivity_timeout_minutes", 30)
	v.SetDefault("session.absolute_timeout_days", 7)
	v.SetDefault("session.warning_threshold_minutes", 5)
	v.SetDefault("session.max_concurrent_sessions", 5)
	v.SetDefault("session.auto_extend", false)
	v.SetDefault("session.sweep_interval", "1m")

	v.SetDefault("token.refresh_threshold_minutes", 5)
	v.SetDefault("token.expiring_soon_threshold_minutes", 5)
	v.SetDefault("token.refresh_max_attempts", 3)
	v.SetDefault("token.refresh_backoff_base", "1s")
	v.SetDefault("token.refresh_backoff_max", "30s")

	v.SetDefault("cookie.path", "/")
	v.SetDefault("cookie.domain", "")
	v.SetDefault("cookie.secure", true)
	v.SetDefault("cookie.same_site", "strict")

	v.SetDefault("provider.kind", "local")

	v.SetDefault("local.issuer", "authd")
	v.SetDefault("local.signing_secret", "")
	v.SetDefault("local.access_token_ttl", "15m")
	v.SetDefault("local.refresh_token_ttl", "168h")
	v.SetDefault("local.min_password_score", 2)

	v.SetDefault("oidc.issuer_url", "")
	v.SetDefault("oidc.client_id", "")
	v.SetDefault("oidc.client_secret", "")
	v.SetDefault("oidc.redirect_url", "")
	v.SetDefault("oidc.scopes", []string{"openid", "profile", "email"})

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "authd")
	v.SetDefault("postgres.password", "authd_password")
	v.SetDefault("postgres.database", "authd")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.key_prefix", "authd")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "authd")

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 5)
	v.SetDefault("rate_limit.signup_max_attempts", 3)
	v.SetDefault("rate_limit.refresh_max_attempts", 10)
	v.SetDefault("rate_limit.password_reset_max_attempts", 3)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "authd")
	v.SetDefault("telemetry.sampling_rate", 1.0)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "AUTHD_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
