// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes relay settings such
// as server timeouts, logging, database paths, rate limiting, bot lifecycle
// limits, dedup TTLs, upstream service URLs, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xhit/go-str2duration/v2"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "signal-relay")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// TelegramConfig holds the primary bot credential and the Bot API endpoint.
type TelegramConfig struct {
	Token        string // TELEGRAM_BOT_TOKEN, registered at startup when set
	APIEndpoint  string // TELEGRAM_API_ENDPOINT, format "https://host/bot%s/%s"
	DefaultBrand string // DEFAULT_BRAND
	AdminToken   string // BOT_ADMIN_TOKEN, bearer token for /bots and reports
	Proxy        string // TELEGRAM_PROXY, optional proxy for the primary bot
}

// BotsConfig bounds the bot lifecycle manager.
type BotsConfig struct {
	MaxBots           int
	IdleTimeout       time.Duration // 0 disables the idle watchdog
	IdleCheckInterval time.Duration
	HeartbeatInterval time.Duration
	PollTimeout       time.Duration
	SendRPS           float64 // per-bot outbound send rate
}

// DedupConfig configures the idempotency gate.
type DedupConfig struct {
	DerivedTTL    time.Duration
	ExternalTTL   time.Duration
	SweepInterval time.Duration
}

// DeliveryConfig tunes outbound calls made by the notification client.
type DeliveryConfig struct {
	SendTimeout    time.Duration
	LookupTimeout  time.Duration
	Retries        int
	RetryDelay     time.Duration
	LocaleCacheTTL time.Duration
	ImageDir       string
}

// UpstreamConfig lists external services the relay talks to.
type UpstreamConfig struct {
	SocialAPI      string // SOCIAL_API, destination directory
	SocialAdminURL string // SOCIAL_ADMIN_URL, base for socials/verify/welcome_msg
	SocialBrand    string // SOCIAL_BRAND
	LocaleAPI      string // LOCALE_API, per-chat language preference lookup

	PendingAPIURL     string // PENDING_API_URL
	PendingTargetChat int64  // PENDING_TARGET_CHAT
	PendingInterval   time.Duration

	MemberCountTTL time.Duration
}

// SinkConfig maps event kinds to secondary webhook sink URLs.
type SinkConfig struct {
	Copy         string // DISCORD_BOT_COPY
	Summary      string // DISCORD_BOT_SUMMARY
	Scalp        string // DISCORD_BOT_SCALP
	Holding      string // DISCORD_BOT_HOLDING
	Weekly       string // DISCORD_BOT_WEEKLY
	Announcement string // DISCORD_BOT_ANNOUNCEMENT
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Host              string
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for relay routes

	// App
	DBPath string // SQLite path
	NodeID int64  // snowflake node for report ids

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	Telegram TelegramConfig
	Bots     BotsConfig
	Dedup    DedupConfig
	Delivery DeliveryConfig
	Upstream UpstreamConfig
	Sinks    SinkConfig

	// Observability
	OTEL OTELConfig
}

// Addr returns the listen address.
func (c Config) Addr() string { return c.Host + ":" + c.Port }

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Host:              getenv("HOST", "0.0.0.0"),
		Port:              getenv("PORT", "5010"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/")),

		// App
		DBPath: getenv("DB_PATH", "relay.db"),
		NodeID: getint64("NODE_ID", 1),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		Telegram: TelegramConfig{
			Token:        getenv("TELEGRAM_BOT_TOKEN", ""),
			APIEndpoint:  getenv("TELEGRAM_API_ENDPOINT", "https://api.telegram.org/bot%s/%s"),
			DefaultBrand: getenv("DEFAULT_BRAND", "BYD"),
			AdminToken:   getenv("BOT_ADMIN_TOKEN", ""),
			Proxy:        getenv("TELEGRAM_PROXY", ""),
		},
		Bots: BotsConfig{
			MaxBots:           getint("MAX_BOTS", 10),
			IdleTimeout:       getdur("BOT_IDLE_TIMEOUT", 3*24*time.Hour),
			IdleCheckInterval: getdur("IDLE_CHECK_INTERVAL", time.Hour),
			HeartbeatInterval: getdur("HEARTBEAT_INTERVAL", 600*time.Second),
			PollTimeout:       getdur("POLL_TIMEOUT", 30*time.Second),
			SendRPS:           getfloat("SEND_RPS", 25),
		},
		Dedup: DedupConfig{
			DerivedTTL:    getdur("DEDUP_DERIVED_TTL", 60*time.Second),
			ExternalTTL:   getdur("DEDUP_EXTERNAL_TTL", 900*time.Second),
			SweepInterval: getdur("DEDUP_SWEEP_INTERVAL", 60*time.Second),
		},
		Delivery: DeliveryConfig{
			SendTimeout:    getdur("SEND_TIMEOUT", 15*time.Second),
			LookupTimeout:  getdur("LOOKUP_TIMEOUT", 3*time.Second),
			Retries:        getint("SEND_RETRIES", 2),
			RetryDelay:     getdur("SEND_RETRY_DELAY", time.Second),
			LocaleCacheTTL: getdur("LOCALE_CACHE_TTL", 10*time.Minute),
			ImageDir:       getenv("IMAGE_DIR", os.TempDir()),
		},
		Upstream: UpstreamConfig{
			SocialAPI:         getenv("SOCIAL_API", ""),
			SocialAdminURL:    strings.TrimRight(getenv("SOCIAL_ADMIN_URL", ""), "/"),
			SocialBrand:       getenv("SOCIAL_BRAND", "BYD"),
			LocaleAPI:         getenv("LOCALE_API", ""),
			PendingAPIURL:     getenv("PENDING_API_URL", ""),
			PendingTargetChat: getint64("PENDING_TARGET_CHAT", 0),
			PendingInterval:   getdur("PENDING_INTERVAL", 30*time.Second),
			MemberCountTTL:    getdur("MEMBER_COUNT_TTL", 5*time.Minute),
		},
		Sinks: SinkConfig{
			Copy:         getenv("DISCORD_BOT_COPY", ""),
			Summary:      getenv("DISCORD_BOT_SUMMARY", ""),
			Scalp:        getenv("DISCORD_BOT_SCALP", ""),
			Holding:      getenv("DISCORD_BOT_HOLDING", ""),
			Weekly:       getenv("DISCORD_BOT_WEEKLY", ""),
			Announcement: getenv("DISCORD_BOT_ANNOUNCEMENT", ""),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "signal-relay"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.Bots.IdleTimeout < 0 {
		cfg.Bots.IdleTimeout = 0
	}

	// --- validation: every problem is reported at once ---
	var errs []error
	switch cfg.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: trace, debug, info, warn, error, fatal, panic"))
	}
	if strings.TrimSpace(cfg.Port) == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive durations"))
	}
	if cfg.MaxHeaderBytes <= 0 {
		errs = append(errs, errors.New("MAX_HEADER_BYTES must be > 0"))
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		errs = append(errs, errors.New("DB_PATH must not be empty"))
	}
	if cfg.NodeID < 0 || cfg.NodeID > 1023 {
		errs = append(errs, errors.New("NODE_ID must be in [0,1023]"))
	}
	if cfg.RateRPS < 0 {
		errs = append(errs, errors.New("RATE_RPS must be >= 0"))
	}
	if cfg.RateBurst < 1 {
		errs = append(errs, errors.New("RATE_BURST must be >= 1"))
	}
	if cfg.Security.HSTSMaxAge < 0 {
		errs = append(errs, errors.New("HSTS_MAX_AGE must be >= 0"))
	}
	if !strings.Contains(cfg.Telegram.APIEndpoint, "%s") {
		errs = append(errs, errors.New("TELEGRAM_API_ENDPOINT must contain %s placeholders"))
	}
	if cfg.Bots.MaxBots < 1 {
		errs = append(errs, errors.New("MAX_BOTS must be >= 1"))
	}
	if cfg.Bots.IdleCheckInterval <= 0 || cfg.Bots.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("IDLE_CHECK_INTERVAL and HEARTBEAT_INTERVAL must be > 0"))
	}
	if cfg.Bots.PollTimeout < 0 {
		errs = append(errs, errors.New("POLL_TIMEOUT must be >= 0"))
	}
	if cfg.Bots.SendRPS <= 0 {
		errs = append(errs, errors.New("SEND_RPS must be > 0"))
	}
	if cfg.Dedup.DerivedTTL <= 0 || cfg.Dedup.ExternalTTL <= 0 || cfg.Dedup.SweepInterval <= 0 {
		errs = append(errs, errors.New("DEDUP_* durations must be > 0"))
	}
	if cfg.Delivery.SendTimeout <= 0 || cfg.Delivery.LookupTimeout <= 0 {
		errs = append(errs, errors.New("SEND_TIMEOUT and LOOKUP_TIMEOUT must be > 0"))
	}
	if cfg.Delivery.Retries < 0 {
		errs = append(errs, errors.New("SEND_RETRIES must be >= 0"))
	}
	if cfg.Delivery.RetryDelay <= 0 {
		errs = append(errs, errors.New("SEND_RETRY_DELAY must be > 0"))
	}
	if cfg.Upstream.PendingInterval <= 0 {
		errs = append(errs, errors.New("PENDING_INTERVAL must be > 0"))
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]"))
	}

	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, nil
}

// SinkFor returns the secondary sink URL for an event kind, or "".
func (s SinkConfig) SinkFor(kind string) string {
	switch kind {
	case "trade-open":
		return s.Copy
	case "trade-close":
		return s.Summary
	case "tp-sl-update":
		return s.Scalp
	case "holding-report":
		return s.Holding
	case "weekly-report":
		return s.Weekly
	case "announcement":
		return s.Announcement
	}
	return ""
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

// getdur accepts Go durations plus day/week units ("3d", "1w2d") and bare
// integers, which are read as seconds to match the legacy *_SECONDS variables.
func getdur(k string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(k)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := str2duration.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
