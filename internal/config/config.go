// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as marketplace endpoints, browser behavior, humanized timing bounds,
// scheduler cadence, quota limits, storage paths, and observability.
package config

import (
	"encoding/hex"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vintaloop/go-listing-backend/internal/sysutil"
)

// BrowserConfig defines how the controlled browser is launched and driven.
type BrowserConfig struct {
	Headless     bool          // BROWSER_HEADLESS
	CookieDomain string        // BROWSER_COOKIE_DOMAIN (e.g. ".marketplace.example")
	NavTimeout   time.Duration // per-navigation timeout
	StepTimeout  time.Duration // per-step timeout (fill, click, upload)
	NavRetries   int           // bounded retries for transient navigation errors
	Workers      int           // max concurrent browser contexts per instance
}

// HumanizeConfig bounds the randomized delays applied to browser actions.
// All sampled delays are clamped into [Min,Max] per action kind.
type HumanizeConfig struct {
	KeystrokeMin time.Duration
	KeystrokeMax time.Duration
	ClickMin     time.Duration
	ClickMax     time.Duration
	WaitMin      time.Duration
	WaitMax      time.Duration
}

// QuotaConfig holds the default per-day allowances enforced by the quota
// guard when the external ledger does not override them.
type QuotaConfig struct {
	PublishPerDay int64
	MessagePerDay int64
	FollowPerDay  int64
	BumpPerDay    int64
	AIPerDay      int64
}

// SchedulerConfig controls the automation tick loop.
type SchedulerConfig struct {
	Tick              time.Duration // evaluation interval
	LockTTL           time.Duration // lease TTL for per-rule locks
	ActionRPS         float64       // per-instance pacing of browser actions
	ActionBurst       int
	ReconcileInterval time.Duration // orphaned-publish sweep cadence
}

// HTTPConfig controls the operator API: the boundary surface for saving
// sessions, preparing and publishing drafts, and managing automation rules.
// The Prometheus endpoint is served on the same listener.
type HTTPConfig struct {
	Addr           string        // API_ADDR, empty disables the API server
	BasePath       string        // API_BASE_PATH (e.g. "/api/v1")
	AllowedOrigins []string      // CORS_ALLOWED_ORIGINS, comma-separated; empty allows all
	RateRPS        float64       // per-caller token bucket refill
	RateBurst      int
	EnableHSTS     bool          // only when traffic is HTTPS end-to-end
	HSTSMaxAge     time.Duration
}

// GenAIConfig wires the listing-copy suggester. Suggestions are disabled
// when no API key is present.
type GenAIConfig struct {
	APIKey string // OPENAI_API_KEY
	Model  string // OPENAI_MODEL
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Marketplace
	BaseURL string // MARKET_BASE_URL, root of the target marketplace

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Storage
	DBPath    string // SQLite path for rules/runs/listings
	DraftsDir string // local directory holding draft photos
	RedisAddr string // shared store for sessions, tokens, locks, cooldowns
	RedisDB   int

	// Session vault
	VaultKey   []byte        // 32-byte key, hex-encoded in VAULT_KEY
	SessionTTL time.Duration // how long a saved session stays valid

	// Confirm tokens / idempotency
	TokenTTL       time.Duration // confirm-token lifetime
	IdempotencyTTL time.Duration // must be >= TokenTTL

	Browser   BrowserConfig
	Humanize  HumanizeConfig
	Quota     QuotaConfig
	Scheduler SchedulerConfig
	HTTP      HTTPConfig
	GenAI     GenAIConfig
	OTEL      OTELConfig
}

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
		BaseURL: strings.TrimRight(getenv("MARKET_BASE_URL", "https://www.marketplace.example"), "/"),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		DBPath:    getenv("DB_PATH", "autopilot.db"),
		DraftsDir: getenv("DRAFTS_DIR", "drafts"),
		RedisAddr: getenv("REDIS_ADDRESS", "localhost:6379"),
		RedisDB:   getint("REDIS_DB", 0),

		SessionTTL: getdur("SESSION_TTL", 30*24*time.Hour),

		TokenTTL:       getdur("CONFIRM_TOKEN_TTL", 30*time.Minute),
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		Browser: BrowserConfig{
			Headless:     getbool("BROWSER_HEADLESS", true),
			CookieDomain: getenv("BROWSER_COOKIE_DOMAIN", ".marketplace.example"),
			NavTimeout:   getdur("BROWSER_NAV_TIMEOUT", 30*time.Second),
			StepTimeout:  getdur("BROWSER_STEP_TIMEOUT", 15*time.Second),
			NavRetries:   getint("BROWSER_NAV_RETRIES", 2),
			Workers:      getint("BROWSER_WORKERS", 4),
		},
		Humanize: HumanizeConfig{
			KeystrokeMin: getdur("HUMANIZE_KEYSTROKE_MIN", 40*time.Millisecond),
			KeystrokeMax: getdur("HUMANIZE_KEYSTROKE_MAX", 220*time.Millisecond),
			ClickMin:     getdur("HUMANIZE_CLICK_MIN", 120*time.Millisecond),
			ClickMax:     getdur("HUMANIZE_CLICK_MAX", 900*time.Millisecond),
			WaitMin:      getdur("HUMANIZE_WAIT_MIN", 400*time.Millisecond),
			WaitMax:      getdur("HUMANIZE_WAIT_MAX", 4*time.Second),
		},
		Quota: QuotaConfig{
			PublishPerDay: int64(getint("QUOTA_PUBLISH_PER_DAY", 20)),
			MessagePerDay: int64(getint("QUOTA_MESSAGE_PER_DAY", 50)),
			FollowPerDay:  int64(getint("QUOTA_FOLLOW_PER_DAY", 150)),
			BumpPerDay:    int64(getint("QUOTA_BUMP_PER_DAY", 30)),
			AIPerDay:      int64(getint("QUOTA_AI_PER_DAY", 100)),
		},
		Scheduler: SchedulerConfig{
			Tick:              getdur("SCHEDULER_TICK", time.Minute),
			LockTTL:           getdur("SCHEDULER_LOCK_TTL", 5*time.Minute),
			ActionRPS:         getfloat("SCHEDULER_ACTION_RPS", 0.5),
			ActionBurst:       getint("SCHEDULER_ACTION_BURST", 1),
			ReconcileInterval: getdur("RECONCILE_INTERVAL", 15*time.Minute),
		},
		HTTP: HTTPConfig{
			Addr:           getenv("API_ADDR", ":8080"),
			BasePath:       getenv("API_BASE_PATH", "/api/v1"),
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
			RateRPS:        getfloat("API_RATE_RPS", 10),
			RateBurst:      getint("API_RATE_BURST", 20),
			EnableHSTS:     getbool("API_ENABLE_HSTS", false),
			HSTSMaxAge:     getdur("API_HSTS_MAX_AGE", 180*24*time.Hour),
		},
		GenAI: GenAIConfig{
			APIKey: getenv("OPENAI_API_KEY", ""),
			Model:  getenv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-listing-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	// The vault key is secret material; it has no usable default.
	if raw := getenv("VAULT_KEY", ""); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return cfg, errors.New("VAULT_KEY must be hex-encoded")
		}
		cfg.VaultKey = key
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" || !strings.HasPrefix(cfg.BaseURL, "http") {
		return cfg, errors.New("MARKET_BASE_URL must be an absolute http(s) URL")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return cfg, errors.New("REDIS_ADDRESS must not be empty")
	}
	if len(cfg.VaultKey) != 32 {
		return cfg, errors.New("VAULT_KEY must decode to exactly 32 bytes")
	}
	if cfg.SessionTTL <= 0 || cfg.TokenTTL <= 0 {
		return cfg, errors.New("SESSION_TTL and CONFIRM_TOKEN_TTL must be positive durations")
	}
	if cfg.IdempotencyTTL < cfg.TokenTTL {
		return cfg, errors.New("IDEMPOTENCY_TTL must be >= CONFIRM_TOKEN_TTL")
	}
	if cfg.Browser.NavTimeout <= 0 || cfg.Browser.StepTimeout <= 0 {
		return cfg, errors.New("browser timeouts must be positive durations")
	}
	if cfg.Browser.NavRetries < 0 {
		return cfg, errors.New("BROWSER_NAV_RETRIES must be >= 0")
	}
	if cfg.Browser.Workers < 1 {
		return cfg, errors.New("BROWSER_WORKERS must be >= 1")
	}
	if err := validBounds(cfg.Humanize.KeystrokeMin, cfg.Humanize.KeystrokeMax); err != nil {
		return cfg, errors.New("HUMANIZE_KEYSTROKE bounds invalid: " + err.Error())
	}
	if err := validBounds(cfg.Humanize.ClickMin, cfg.Humanize.ClickMax); err != nil {
		return cfg, errors.New("HUMANIZE_CLICK bounds invalid: " + err.Error())
	}
	if err := validBounds(cfg.Humanize.WaitMin, cfg.Humanize.WaitMax); err != nil {
		return cfg, errors.New("HUMANIZE_WAIT bounds invalid: " + err.Error())
	}
	if cfg.Scheduler.Tick <= 0 || cfg.Scheduler.LockTTL <= 0 {
		return cfg, errors.New("SCHEDULER_TICK and SCHEDULER_LOCK_TTL must be positive durations")
	}
	if cfg.Scheduler.ActionRPS <= 0 {
		return cfg, errors.New("SCHEDULER_ACTION_RPS must be > 0")
	}
	if cfg.Scheduler.ActionBurst < 1 {
		return cfg, errors.New("SCHEDULER_ACTION_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	if cfg.HTTP.Addr != "" {
		if cfg.HTTP.RateRPS <= 0 {
			return cfg, errors.New("API_RATE_RPS must be > 0")
		}
		if cfg.HTTP.RateBurst < 1 {
			return cfg, errors.New("API_RATE_BURST must be >= 1")
		}
	}

	return cfg, nil
}

func validBounds(min, max time.Duration) error {
	if min <= 0 {
		return errors.New("min must be > 0")
	}
	if max < min {
		return errors.New("max must be >= min")
	}
	return nil
}

// ---- env helpers ----

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

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

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if sysutil.IsTruthy(v) {
			return true
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
