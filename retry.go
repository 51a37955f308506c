package energygrid

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/Shaloh69/EnergyGridCSR-sub003/internal/backoff"
)

// TransientClassifier decides whether a failed call is worth retrying.
// err is non-nil only for network-level failures (no response at all).
type TransientClassifier func(resp *http.Response, err error) bool

// DefaultTransientClassifier treats network failures and 5xx responses as
// transient. Everything else is terminal, including 401, which the session
// layer handles separately.
func DefaultTransientClassifier(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return true
	}
	return resp.StatusCode >= 500 && resp.StatusCode < 600
}

// Executor wraps a single network call with bounded retries and exponential
// backoff. Attempt counters are per logical call to Do, reset on each fresh
// invocation, and independent of any caller-level retry count.
type Executor struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	Classify     TransientClassifier
	Strategy     backoff.Strategy

	logger  Logger
	debug   *DebugConfig
	metrics *MetricsCollector
}

// NewExecutor returns an executor with the default policy: 3 retries, delay
// min(initial * 2^attempt, cap) with initial=1s and cap=10s, no jitter.
func NewExecutor() *Executor {
	return &Executor{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0,
		Classify:     DefaultTransientClassifier,
		Strategy:     backoff.Exponential{},
	}
}

// Do issues call, retrying transient failures up to MaxRetries with backoff
// before each retry. The failed response body is drained and closed before a
// retry so connections can be reused. Context cancellation aborts the wait.
func (e *Executor) Do(ctx context.Context, method, endpoint string, call func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; ; attempt++ {
		resp, err = call(ctx)

		if !e.classify(resp, err) {
			return resp, err
		}
		if attempt >= e.MaxRetries {
			return resp, err
		}

		// Discard the doomed response before retrying.
		if resp != nil && resp.Body != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
		}

		delay := e.delay(attempt)

		if e.metrics != nil {
			e.metrics.RecordRetry(method, endpoint, attempt+1)
		}
		if e.debug != nil && e.debug.Enabled && e.debug.LogRetries && e.logger != nil {
			e.logger.Info("Scheduling retry", "method", method, "endpoint", endpoint,
				"attempt", attempt+1, "maxRetries", e.MaxRetries, "backoff", delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (e *Executor) classify(resp *http.Response, err error) bool {
	if e.Classify != nil {
		return e.Classify(resp, err)
	}
	return DefaultTransientClassifier(resp, err)
}

func (e *Executor) delay(attempt int) time.Duration {
	strategy := e.Strategy
	if strategy == nil {
		strategy = backoff.Exponential{}
	}
	return strategy.Delay(attempt, e.InitialDelay, e.MaxDelay, e.Multiplier, e.Jitter)
}
