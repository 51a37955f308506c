package energygrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// State is the typed request state published to subscribers. Data and Err
// are mutually exclusive terminal outcomes of one execution; a later
// execution may overwrite either. IsSuccess holds exactly when Data is
// non-nil and Err is empty.
type State struct {
	Data      any
	Page      *PageInfo
	Loading   bool
	Err       string
	IsError   bool
	IsSuccess bool
}

// Requester drives a single logical call through the cache/retry/normalize
// pipeline and publishes typed state: idle -> loading -> {success, error},
// with error re-entering loading via Retry. Safe for concurrent use.
type Requester struct {
	client   *Client
	key      string
	method   string
	path     string
	query    url.Values
	body     any
	ttl      time.Duration
	staleFor time.Duration
	useCache bool

	// generation guards against a stale in-flight call publishing after a
	// newer call for the same key: a publish whose generation is not the
	// latest issued is discarded.
	generation atomic.Uint64

	mu         sync.Mutex
	state      State
	everLoaded bool
	retryCount int
	onChange   func(State)

	autoMu   sync.Mutex
	autoStop chan struct{}
}

// RequesterOption configures a Requester.
type RequesterOption func(*Requester)

// RequesterWithQuery sets the query parameters sent on every execution.
func RequesterWithQuery(values url.Values) RequesterOption {
	return func(r *Requester) { r.query = values }
}

// RequesterWithBody sets the request body sent on every execution.
func RequesterWithBody(body any) RequesterOption {
	return func(r *Requester) { r.body = body }
}

// RequesterWithTTL overrides the client's cache windows for this requester.
func RequesterWithTTL(ttl, staleFor time.Duration) RequesterOption {
	return func(r *Requester) {
		r.ttl = ttl
		r.staleFor = staleFor
	}
}

// RequesterWithoutCache disables caching for this requester.
func RequesterWithoutCache() RequesterOption {
	return func(r *Requester) { r.useCache = false }
}

// RequesterOnChange subscribes to state publications.
func RequesterOnChange(fn func(State)) RequesterOption {
	return func(r *Requester) { r.onChange = fn }
}

// NewRequester builds a request state machine bound to this client. An empty
// key derives one from the method and path.
func (c *Client) NewRequester(key, method, path string, opts ...RequesterOption) *Requester {
	r := &Requester{
		client:   c,
		key:      key,
		method:   method,
		path:     path,
		ttl:      c.cacheTTL,
		staleFor: c.cacheStale,
		useCache: c.cache != nil,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.key == "" {
		r.key = method + ":" + path
	}
	if r.client.cache == nil {
		r.useCache = false
	}
	return r
}

// State returns a copy of the current state.
func (r *Requester) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RetryCount reports how many manual retries have been issued since the last
// successful execution. Independent of the executor's own attempt counter.
func (r *Requester) RetryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryCount
}

// Execute runs one call: fresh cache hit publishes immediately with no
// network; stale hit publishes the cached value and revalidates in the
// background; miss transitions to loading and fetches. Terminal failure
// publishes a human-readable error and keeps previous data unless this is
// the first-ever execution.
func (r *Requester) Execute(ctx context.Context) error {
	gen := r.generation.Add(1)
	endpoint := r.client.endpointLabel(r.path)

	if r.useCache {
		if entry, ok := r.client.cache.Get(r.key); ok {
			freshness := entry.Freshness(time.Now())
			r.publishSuccess(gen, entry.Data, entry.Page)

			if freshness == Fresh {
				r.client.metrics.RecordCacheHit(endpoint)
				if r.debugCache() {
					r.client.logger.Debug("Cache hit", "cacheKey", r.key)
				}
				return nil
			}

			// Stale window: the cached value is already published; refresh
			// behind the caller's back, deduped per key.
			r.client.metrics.RecordCacheStale(endpoint)
			if r.debugCache() {
				r.client.logger.Debug("Cache stale, revalidating", "cacheKey", r.key)
			}
			go r.revalidate(context.WithoutCancel(ctx), gen)
			return nil
		}

		r.client.metrics.RecordCacheMiss(endpoint)
		if r.debugCache() {
			r.client.logger.Debug("Cache miss", "cacheKey", r.key)
		}

		// Opportunistic mirror read: a durable copy is served like a stale
		// entry: published immediately, then revalidated.
		if entry, ok := r.mirrorRead(); ok {
			r.publishSuccess(gen, entry.Data, entry.Page)
			go r.revalidate(context.WithoutCancel(ctx), gen)
			return nil
		}
	}

	r.setLoading(gen)
	return r.fetch(ctx, gen)
}

// Retry re-runs a failed execution, bumping the manual retry counter.
func (r *Requester) Retry(ctx context.Context) error {
	r.mu.Lock()
	r.retryCount++
	r.mu.Unlock()
	return r.Execute(ctx)
}

// Refresh forcibly invalidates the cache and mirror, then executes.
func (r *Requester) Refresh(ctx context.Context) error {
	if r.useCache {
		r.client.cache.Delete(r.key)
		r.client.mirrorDelete(r.key)
	}
	return r.Execute(ctx)
}

// Reset clears all local state, invalidates any in-flight publication and
// cancels auto-refresh.
func (r *Requester) Reset() {
	r.generation.Add(1)
	r.StopAutoRefresh()

	r.mu.Lock()
	r.state = State{}
	r.everLoaded = false
	r.retryCount = 0
	fn := r.onChange
	snapshot := r.state
	r.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// StartAutoRefresh schedules Refresh on a fixed interval. It may only be
// attached once data is present; calling it again replaces the previous
// schedule. Stopped by StopAutoRefresh and Reset.
func (r *Requester) StartAutoRefresh(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("energygrid: auto-refresh interval must be positive")
	}
	r.mu.Lock()
	hasData := r.state.Data != nil
	r.mu.Unlock()
	if !hasData {
		return errors.New("energygrid: auto-refresh requires loaded data")
	}

	r.autoMu.Lock()
	defer r.autoMu.Unlock()
	if r.autoStop != nil {
		close(r.autoStop)
	}
	stop := make(chan struct{})
	r.autoStop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = r.Refresh(context.Background())
			}
		}
	}()
	return nil
}

// StopAutoRefresh cancels the auto-refresh schedule, if any.
func (r *Requester) StopAutoRefresh() {
	r.autoMu.Lock()
	defer r.autoMu.Unlock()
	if r.autoStop != nil {
		close(r.autoStop)
		r.autoStop = nil
	}
}

// fetch performs the network call and publishes the outcome under gen.
func (r *Requester) fetch(ctx context.Context, gen uint64) error {
	res, err := r.client.Call(ctx, r.method, r.path, r.query, r.body)
	if err != nil {
		r.publishError(gen, errorMessage(err))
		return err
	}

	now := time.Now()
	if r.useCache {
		r.client.cache.Set(&Entry{
			Key:       r.key,
			Data:      res.Payload,
			Page:      res.Page,
			Timestamp: now,
			TTL:       r.ttl,
			StaleFor:  r.staleFor,
		})
		r.client.mirrorPut(r.key, res.Payload, res.Page, now)
		r.client.metrics.RecordCacheSize("default", r.client.cache.Len())
	}

	r.publishSuccess(gen, res.Payload, res.Page)

	r.mu.Lock()
	r.retryCount = 0
	r.mu.Unlock()
	return nil
}

// revalidate runs a background fetch after a stale publish, deduped per key
// so concurrent stale hits trigger one refresh.
func (r *Requester) revalidate(ctx context.Context, gen uint64) {
	_, _, _ = r.client.flights.TryDo("revalidate:"+r.key, func() (any, error) {
		// Background failure keeps the already-published stale data.
		return nil, r.fetch(ctx, gen)
	})
}

// mirrorRead fetches the durable copy for this key, tolerating every failure.
func (r *Requester) mirrorRead() (*Entry, bool) {
	if r.client.mirror == nil {
		return nil, false
	}
	me, ok := r.client.mirror.Get(r.key)
	if !ok || me == nil {
		return nil, false
	}
	var data any
	if err := json.Unmarshal(me.Data, &data); err != nil {
		return nil, false
	}
	return &Entry{
		Key:       r.key,
		Data:      data,
		Page:      me.Page,
		Timestamp: me.Timestamp,
		TTL:       r.ttl,
		StaleFor:  r.staleFor,
	}, true
}

func (r *Requester) setLoading(gen uint64) {
	r.publish(gen, func(s *State) {
		s.Loading = true
		s.Err = ""
		s.IsError = false
	})
}

func (r *Requester) publishSuccess(gen uint64, data any, page *PageInfo) {
	r.publish(gen, func(s *State) {
		s.Data = data
		s.Page = page
		s.Loading = false
		s.Err = ""
		s.IsError = false
		s.IsSuccess = data != nil
	})
	r.mu.Lock()
	r.everLoaded = true
	r.mu.Unlock()
}

func (r *Requester) publishError(gen uint64, message string) {
	r.publish(gen, func(s *State) {
		s.Loading = false
		s.Err = message
		s.IsError = true
		s.IsSuccess = false
		// Stale-data-on-error: previous data stays visible, except on the
		// first-ever execution where there is nothing to show.
		if !r.everLoaded {
			s.Data = nil
			s.Page = nil
		}
	})
}

// publish applies mutate and notifies the subscriber, unless a newer
// execution has been issued since gen.
func (r *Requester) publish(gen uint64, mutate func(*State)) {
	if gen != r.generation.Load() {
		return
	}
	r.mu.Lock()
	if gen != r.generation.Load() {
		r.mu.Unlock()
		return
	}
	mutate(&r.state)
	fn := r.onChange
	snapshot := r.state
	r.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

func (r *Requester) debugCache() bool {
	return r.client.debug != nil && r.client.debug.Enabled && r.client.debug.LogCache && r.client.logger != nil
}
