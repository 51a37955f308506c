package energygrid

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stateRecorder collects every published state in order.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

func newTestClient(t *testing.T, serverURL string, extra ...Option) *Client {
	t.Helper()
	opts := append([]Option{
		WithBaseURL(serverURL),
		WithMaxRetries(0),
	}, extra...)
	c := New(opts...)
	if !c.IsValid() {
		t.Fatalf("invalid client configuration: %v", c.ValidationError())
	}
	return c
}

func TestRequesterLoadingThenSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":{"building_name":"Plant 4"}}`)
	}))
	defer server.Close()

	rec := &stateRecorder{}
	c := newTestClient(t, server.URL)
	req := c.NewRequester("", http.MethodGet, "/api/buildings/4", RequesterOnChange(rec.record))

	if err := req.Execute(context.Background()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	states := rec.all()
	if len(states) != 2 {
		t.Fatalf("Expected loading then success, got %d states", len(states))
	}
	if !states[0].Loading {
		t.Error("First publish must be loading")
	}
	final := states[1]
	if final.Loading || !final.IsSuccess || final.IsError {
		t.Errorf("Unexpected final state: %+v", final)
	}
	obj := final.Data.(map[string]any)
	if obj["buildingName"] != "Plant 4" {
		t.Errorf("Expected camelized payload, got %v", obj)
	}
}

func TestRequesterErrorState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"success":false,"message":"Building not found"}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	req := c.NewRequester("", http.MethodGet, "/api/buildings/999")

	if err := req.Execute(context.Background()); err == nil {
		t.Fatal("Expected error")
	}

	state := req.State()
	if !state.IsError || state.IsSuccess || state.Loading {
		t.Errorf("Unexpected state: %+v", state)
	}
	if state.Err != "Building not found" {
		t.Errorf("Expected server message, got %q", state.Err)
	}
	if state.Data != nil {
		t.Error("First-ever failure must leave Data nil")
	}
}

func TestRequesterKeepsStaleDataOnError(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"success":false,"message":"upstream gone"}`)
			return
		}
		fmt.Fprint(w, `{"success":true,"data":{"id":1}}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	req := c.NewRequester("", http.MethodGet, "/api/meters/1")

	if err := req.Execute(context.Background()); err != nil {
		t.Fatalf("First execute failed: %v", err)
	}
	fail.Store(true)
	if err := req.Execute(context.Background()); err == nil {
		t.Fatal("Expected error on second execute")
	}

	state := req.State()
	if !state.IsError {
		t.Error("Expected error state")
	}
	if state.Data == nil {
		t.Error("Previous data must remain visible after a later failure")
	}
}

func TestRequesterFreshCacheHitSkipsNetwork(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"success":true,"data":[{"id":1}]}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, WithCache(time.Minute, time.Minute))
	req := c.NewRequester("meters", http.MethodGet, "/api/meters")

	if err := req.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := req.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Fresh hit must not reach the network, got %d calls", got)
	}
	if req.State().Data == nil {
		t.Error("Cached data must be published")
	}
}

func TestRequesterStaleServeAndRevalidate(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"success":true,"data":{"version":2}}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, WithCache(time.Minute, time.Hour))
	req := c.NewRequester("report", http.MethodGet, "/api/report")

	// Seed the cache with an entry already past its TTL but inside the stale
	// window.
	c.cache.Set(&Entry{
		Key:       "report",
		Data:      map[string]any{"version": 1.0},
		Timestamp: time.Now().Add(-2 * time.Minute),
		TTL:       time.Minute,
		StaleFor:  time.Hour,
	})

	if err := req.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The stale value must be visible immediately, no waiting on the network.
	obj := req.State().Data.(map[string]any)
	if obj["version"] != 1.0 {
		t.Errorf("Expected stale value published first, got %v", obj)
	}

	// The background revalidation replaces it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		obj = req.State().Data.(map[string]any)
		if obj["version"] == 2.0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if obj["version"] != 2.0 {
		t.Errorf("Expected revalidated value, got %v", obj)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected exactly one revalidation call, got %d", got)
	}
}

func TestRequesterServesMirrorOnColdStart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":{"id":7}}`)
	}))
	defer server.Close()

	dir := t.TempDir()

	// First client populates cache and mirror.
	c1 := newTestClient(t, server.URL, WithCache(time.Minute, time.Minute), WithMirror(dir))
	r1 := c1.NewRequester("buildings", http.MethodGet, "/api/buildings")
	if err := r1.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Second client has a cold cache but the same mirror directory.
	c2 := newTestClient(t, server.URL, WithCache(time.Minute, time.Minute), WithMirror(dir))
	r2 := c2.NewRequester("buildings", http.MethodGet, "/api/buildings")
	if err := r2.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}

	state := r2.State()
	if state.Data == nil {
		t.Fatal("Expected mirrored data on cold start")
	}
	obj := state.Data.(map[string]any)
	if obj["id"] != 7.0 {
		t.Errorf("Unexpected mirrored payload: %v", obj)
	}
}

func TestRequesterRetryCountsAndResets(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"success":false,"message":"nope"}`)
			return
		}
		fmt.Fprint(w, `{"success":true,"data":{}}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	req := c.NewRequester("", http.MethodGet, "/api/x")

	_ = req.Execute(context.Background())
	_ = req.Retry(context.Background())
	_ = req.Retry(context.Background())
	if req.RetryCount() != 2 {
		t.Errorf("Expected 2 retries, got %d", req.RetryCount())
	}

	fail.Store(false)
	if err := req.Retry(context.Background()); err != nil {
		t.Fatalf("Expected success: %v", err)
	}
	if req.RetryCount() != 0 {
		t.Errorf("Success must reset the retry counter, got %d", req.RetryCount())
	}
}

func TestRequesterRefreshBypassesCache(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"success":true,"data":{}}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, WithCache(time.Minute, time.Minute))
	req := c.NewRequester("k", http.MethodGet, "/api/x")

	if err := req.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := req.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Refresh must bypass the cache, got %d calls", got)
	}
}

func TestRequesterReset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":{"id":1}}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	req := c.NewRequester("", http.MethodGet, "/api/x")
	if err := req.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}

	req.Reset()
	state := req.State()
	if state.Data != nil || state.IsSuccess || state.IsError || state.Loading {
		t.Errorf("Expected zero state after reset, got %+v", state)
	}
	if req.RetryCount() != 0 {
		t.Errorf("Expected retry counter reset, got %d", req.RetryCount())
	}
}

func TestRequesterAutoRefreshRequiresData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":{"id":1}}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	req := c.NewRequester("", http.MethodGet, "/api/x")

	if err := req.StartAutoRefresh(time.Minute); err == nil {
		t.Error("Auto-refresh before any data must fail")
	}
	if err := req.StartAutoRefresh(0); err == nil {
		t.Error("Non-positive interval must fail")
	}

	if err := req.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := req.StartAutoRefresh(time.Minute); err != nil {
		t.Errorf("Auto-refresh with data must succeed: %v", err)
	}
	req.StopAutoRefresh()
	// Stopping twice is safe.
	req.StopAutoRefresh()
}

func TestRequesterAutoRefreshFires(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"success":true,"data":{"id":1}}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	req := c.NewRequester("", http.MethodGet, "/api/x")
	if err := req.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := req.StartAutoRefresh(20 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	defer req.StopAutoRefresh()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&calls) >= 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Expected periodic refreshes, got %d calls", atomic.LoadInt32(&calls))
}

func TestRequesterDerivedKey(t *testing.T) {
	c := New(WithBaseURL("http://localhost:1"))
	req := c.NewRequester("", http.MethodGet, "/api/buildings")
	if req.key != "GET:/api/buildings" {
		t.Errorf("Expected derived key, got %q", req.key)
	}
}
