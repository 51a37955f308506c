package energygrid

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvConfig is the environment-driven client configuration. All variables
// carry the ENERGYGRID_ prefix; zero values mean "use the built-in default".
type EnvConfig struct {
	BaseURL           string        `env:"ENERGYGRID_BASE_URL"`
	Timeout           time.Duration `env:"ENERGYGRID_TIMEOUT" envDefault:"30s"`
	UserAgent         string        `env:"ENERGYGRID_USER_AGENT"`
	MaxRetries        int           `env:"ENERGYGRID_MAX_RETRIES" envDefault:"3"`
	InitialBackoff    time.Duration `env:"ENERGYGRID_INITIAL_BACKOFF" envDefault:"1s"`
	MaxBackoff        time.Duration `env:"ENERGYGRID_MAX_BACKOFF" envDefault:"10s"`
	BackoffJitter     float64       `env:"ENERGYGRID_BACKOFF_JITTER" envDefault:"0"`
	CacheEnabled      bool          `env:"ENERGYGRID_CACHE_ENABLED" envDefault:"true"`
	CacheTTL          time.Duration `env:"ENERGYGRID_CACHE_TTL" envDefault:"5m"`
	CacheStale        time.Duration `env:"ENERGYGRID_CACHE_STALE" envDefault:"1m"`
	MirrorDir         string        `env:"ENERGYGRID_MIRROR_DIR"`
	SessionFile       string        `env:"ENERGYGRID_SESSION_FILE"`
	RefreshPath       string        `env:"ENERGYGRID_REFRESH_PATH"`
	TokenExpiryBuffer time.Duration `env:"ENERGYGRID_TOKEN_EXPIRY_BUFFER" envDefault:"5m"`
	RateLimit         float64       `env:"ENERGYGRID_RATE_LIMIT"`
	RateBurst         int           `env:"ENERGYGRID_RATE_BURST" envDefault:"1"`
	MetricsEnabled    bool          `env:"ENERGYGRID_METRICS_ENABLED"`
	Debug             bool          `env:"ENERGYGRID_DEBUG"`
}

// ConfigFromEnv reads the configuration from the process environment.
func ConfigFromEnv() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Options expands the configuration into client options, in a fixed order so
// later explicit options can override them.
func (cfg *EnvConfig) Options() []Option {
	opts := []Option{
		WithTimeout(cfg.Timeout),
		WithMaxRetries(cfg.MaxRetries),
		WithInitialBackoff(cfg.InitialBackoff),
		WithMaxBackoff(cfg.MaxBackoff),
		WithBackoffJitter(cfg.BackoffJitter),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, WithUserAgent(cfg.UserAgent))
	}
	if cfg.CacheEnabled {
		opts = append(opts, WithCache(cfg.CacheTTL, cfg.CacheStale))
	}
	if cfg.MirrorDir != "" {
		opts = append(opts, WithMirror(cfg.MirrorDir))
	}
	// Session store goes before the buffer so replacing the store does not
	// discard the buffer override.
	if cfg.SessionFile != "" {
		opts = append(opts, WithSessionStore(NewFileSessionStore(cfg.SessionFile)))
	}
	opts = append(opts, WithTokenExpiryBuffer(cfg.TokenExpiryBuffer))
	if cfg.RefreshPath != "" {
		opts = append(opts, WithRefreshPath(cfg.RefreshPath))
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, WithRateLimit(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.MetricsEnabled {
		opts = append(opts, WithMetrics())
	}
	if cfg.Debug {
		opts = append(opts, WithDebug())
	}
	return opts
}

// NewFromEnv builds a client from the environment plus any extra options,
// which take precedence.
func NewFromEnv(extra ...Option) (*Client, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	client := New(append(cfg.Options(), extra...)...)
	if !client.IsValid() {
		return nil, client.ValidationError()
	}
	return client, nil
}
