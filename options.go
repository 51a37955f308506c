package energygrid

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Option configures the Client.
type Option func(*Client)

// WithBaseURL sets the backend base URL all paths are resolved against.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout sets the per-request timeout on the underlying http.Client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
		c.httpClient.Timeout = timeout
	}
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithMaxRetries bounds how many times a transient failure is retried.
func WithMaxRetries(maxRetries int) Option {
	return func(c *Client) {
		c.executor.MaxRetries = maxRetries
	}
}

// WithInitialBackoff sets the delay before the first retry.
func WithInitialBackoff(delay time.Duration) Option {
	return func(c *Client) {
		c.executor.InitialDelay = delay
	}
}

// WithMaxBackoff caps the backoff delay.
func WithMaxBackoff(delay time.Duration) Option {
	return func(c *Client) {
		c.executor.MaxDelay = delay
	}
}

// WithBackoffMultiplier sets the exponential growth factor.
func WithBackoffMultiplier(multiplier float64) Option {
	return func(c *Client) {
		c.executor.Multiplier = multiplier
	}
}

// WithBackoffJitter sets the random jitter fraction (0 to 1) applied to each
// backoff delay.
func WithBackoffJitter(jitter float64) Option {
	return func(c *Client) {
		c.executor.Jitter = jitter
	}
}

// WithRetryClassifier overrides the transient-failure decision.
func WithRetryClassifier(classify TransientClassifier) Option {
	return func(c *Client) {
		c.executor.Classify = classify
	}
}

// WithCache enables the in-memory response cache. ttl is the fresh window;
// staleFor is the additional window during which entries are served while a
// background revalidation runs.
func WithCache(ttl, staleFor time.Duration) Option {
	return func(c *Client) {
		c.cache = NewMemoryCache()
		c.cacheTTL = ttl
		c.cacheStale = staleFor
	}
}

// WithCustomCache installs a caller-supplied cache implementation.
func WithCustomCache(cache Cache, ttl, staleFor time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
		c.cacheStale = staleFor
	}
}

// WithMirror persists cached payloads to dir so reloads can serve a durable
// copy before the first network round trip.
func WithMirror(dir string) Option {
	return func(c *Client) {
		c.mirror = NewFileMirror(dir)
	}
}

// WithMirrorStore installs a caller-supplied durable mirror.
func WithMirrorStore(mirror MirrorStore) Option {
	return func(c *Client) {
		c.mirror = mirror
	}
}

// WithSessionStore sets where the credential triple is persisted.
func WithSessionStore(store SessionStore) Option {
	return func(c *Client) {
		c.session = NewSessionManager(store)
	}
}

// WithRefreshFunc installs a custom token refresh exchange.
func WithRefreshFunc(fn RefreshFunc) Option {
	return func(c *Client) {
		c.session.SetRefreshFunc(fn)
	}
}

// WithRefreshPath points token refresh at a backend endpoint, using the
// built-in refresh exchange.
func WithRefreshPath(path string) Option {
	return func(c *Client) {
		c.refreshPath = path
	}
}

// WithTokenExpiryBuffer sets how long before expiry a token counts as
// expiring and triggers a proactive refresh.
func WithTokenExpiryBuffer(buffer time.Duration) Option {
	return func(c *Client) {
		c.session.SetExpiryBuffer(buffer)
	}
}

// WithOnAuthFailure installs the hook fired exactly once when a terminal
// authentication failure clears the session.
func WithOnAuthFailure(fn func()) Option {
	return func(c *Client) {
		c.session.SetOnAuthFailure(fn)
	}
}

// WithKeyTransform toggles the snake_case/camelCase boundary rewriting.
// Enabled by default.
func WithKeyTransform(enabled bool) Option {
	return func(c *Client) {
		c.transformKeys = enabled
	}
}

// WithRateLimit throttles outgoing requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector installs a pre-built collector, e.g. one bound to a
// custom registry.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets the logger used by every layer.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables the built-in standard-library logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		c.logger = NewSimpleLogger()
	}
}

// WithDebug enables debug logging with the default configuration.
func WithDebug() Option {
	return func(c *Client) {
		c.debug = DefaultDebugConfig()
		c.debug.Enabled = true
		if c.logger == nil {
			c.logger = NewSimpleLogger()
		}
	}
}

// WithDebugConfig sets a custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
		if config != nil && config.Enabled && c.logger == nil {
			c.logger = NewSimpleLogger()
		}
	}
}

// WithRequestIDGenerator overrides how request IDs are minted for log
// correlation.
func WithRequestIDGenerator(fn func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = fn
	}
}

// ValidateConfiguration checks the assembled configuration for invalid or
// nonsensical values. New calls this automatically; construction never
// panics, so callers check IsValid / ValidationError.
func (c *Client) ValidateConfiguration() error {
	if err := c.validateConnection(); err != nil {
		return fmt.Errorf("connection configuration: %w", err)
	}
	if err := c.validateRetry(); err != nil {
		return fmt.Errorf("retry configuration: %w", err)
	}
	if err := c.validateCache(); err != nil {
		return fmt.Errorf("cache configuration: %w", err)
	}
	if err := c.validateSession(); err != nil {
		return fmt.Errorf("session configuration: %w", err)
	}
	return nil
}

func (c *Client) validateConnection() error {
	if c.httpClient == nil {
		return fmt.Errorf("HTTP client cannot be nil")
	}
	if c.timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %v", c.timeout)
	}
	if c.baseURL != "" {
		parsed, err := url.Parse(c.baseURL)
		if err != nil {
			return fmt.Errorf("invalid base URL %q: %w", c.baseURL, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("base URL scheme must be http or https, got %q", parsed.Scheme)
		}
	}
	return nil
}

func (c *Client) validateRetry() error {
	e := c.executor
	if e.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative, got %d", e.MaxRetries)
	}
	if e.MaxRetries > 50 {
		return fmt.Errorf("max retries too high (max 50), got %d", e.MaxRetries)
	}
	if e.InitialDelay <= 0 {
		return fmt.Errorf("initial backoff must be positive, got %v", e.InitialDelay)
	}
	if e.MaxDelay < e.InitialDelay {
		return fmt.Errorf("max backoff (%v) cannot be less than initial backoff (%v)", e.MaxDelay, e.InitialDelay)
	}
	if e.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier must be at least 1, got %v", e.Multiplier)
	}
	if e.Jitter < 0 || e.Jitter > 1 {
		return fmt.Errorf("backoff jitter must be between 0 and 1, got %v", e.Jitter)
	}
	return nil
}

func (c *Client) validateCache() error {
	if c.cache == nil {
		return nil
	}
	if c.cacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %v", c.cacheTTL)
	}
	if c.cacheStale < 0 {
		return fmt.Errorf("cache stale window cannot be negative, got %v", c.cacheStale)
	}
	return nil
}

func (c *Client) validateSession() error {
	if c.session == nil {
		return fmt.Errorf("session manager cannot be nil")
	}
	if c.refreshPath != "" && c.baseURL == "" {
		return fmt.Errorf("refresh path requires a base URL")
	}
	return nil
}
