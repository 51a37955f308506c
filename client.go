package energygrid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Shaloh69/EnergyGridCSR-sub003/internal/singleflight"
)

// Client is the data-access entry point: it layers caching, retry, rate
// limiting, token lifecycle, normalization and key transformation around the
// standard net/http Client. It is safe for concurrent use.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	userAgent     string
	timeout       time.Duration
	transformKeys bool

	executor *Executor
	session  *SessionManager
	limiter  *rate.Limiter

	cache      Cache
	cacheTTL   time.Duration
	cacheStale time.Duration
	mirror     MirrorStore

	refreshPath string

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger
	flights *singleflight.Group

	validationError error
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		timeout:       30 * time.Second,
		userAgent:     defaultUserAgent(),
		transformKeys: true,
		executor:      NewExecutor(),
		session:       NewSessionManager(nil),
		cacheTTL:      5 * time.Minute,
		cacheStale:    time.Minute,
		debug:         DefaultDebugConfig(),
		flights:       singleflight.New(),
	}

	for _, option := range options {
		option(client)
	}

	client.executor.logger = client.logger
	client.executor.debug = client.debug
	client.executor.metrics = client.metrics
	client.session.logger = client.logger
	client.session.debug = client.debug
	client.session.metrics = client.metrics

	if client.refreshPath != "" && client.session.refreshFn == nil {
		client.session.SetRefreshFunc(client.defaultRefresh)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// Session exposes the token lifecycle manager.
func (c *Client) Session() *SessionManager {
	return c.session
}

// Get issues a GET and normalizes the response.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (Result, error) {
	return c.Call(ctx, http.MethodGet, path, query, nil)
}

// Post issues a POST with a JSON body (keys rewritten to server convention).
func (c *Client) Post(ctx context.Context, path string, body any) (Result, error) {
	return c.Call(ctx, http.MethodPost, path, nil, body)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (Result, error) {
	return c.Call(ctx, http.MethodPut, path, nil, body)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string) (Result, error) {
	return c.Call(ctx, http.MethodDelete, path, nil, nil)
}

// Call executes one backend call through the full pipeline: rate limit,
// token attach, retry, normalize, transform. The returned Result always has
// either a payload or a non-empty error message; the error return carries
// the rich ClientError for programmatic inspection.
func (c *Client) Call(ctx context.Context, method, path string, query url.Values, body any) (Result, error) {
	start := time.Now()
	endpoint := c.endpointLabel(path)

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}
	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("Starting request", "requestID", requestID, "method", method, "path", path)
	}

	c.metrics.RecordRequestStart(method, endpoint)
	defer c.metrics.RecordRequestEnd(method, endpoint)

	resp, raw, err := c.do(ctx, method, path, query, body)

	duration := time.Since(start)
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	c.metrics.RecordRequest(method, endpoint, statusCode, duration)

	if err != nil {
		errType := ErrorTypeNetwork
		message := "network request failed"
		if errors.Is(err, ErrRateLimited) {
			errType = ErrorTypeRateLimit
			message = "rate limit exceeded"
		}
		c.metrics.RecordError(errType, method, endpoint)
		cerr := c.newClientError(errType, message, err, requestID, method, path, 0, duration)
		return Result{ErrMessage: cerr.Message}, cerr
	}

	if statusCode == http.StatusUnauthorized {
		c.session.HandleAuthFailure()
		c.metrics.RecordError(ErrorTypeAuth, method, endpoint)
		cerr := c.newClientError(ErrorTypeAuth, "authentication required", nil, requestID, method, path, statusCode, duration)
		return Result{ErrMessage: cerr.Message}, cerr
	}

	contentType := resp.Header.Get("Content-Type")
	res := Normalize(raw, contentType)

	if res.Warning != "" {
		c.metrics.RecordNormalizeFallback(res.Shape)
		if c.logger != nil {
			c.logger.Warn("Structural warning", "requestID", requestID, "endpoint", endpoint, "warning", res.Warning)
		}
	}

	if statusCode >= 400 || res.IsError() {
		message := res.ErrMessage
		if message == "" {
			message = http.StatusText(statusCode)
			if message == "" {
				message = genericFailureMessage
			}
		}
		errType := ErrorTypeClient
		if statusCode >= 500 {
			errType = ErrorTypeServer
		}
		if statusCode < 400 && res.Shape == ShapeUnknown {
			// A success status with an undecodable body is a decode failure,
			// not a server-reported one.
			errType = ErrorTypeDecode
		}
		fields := fieldsFromBody(raw)
		if fields != nil {
			errType = ErrorTypeValidation
		}
		c.metrics.RecordError(errType, method, endpoint)
		cerr := c.newClientError(errType, message, nil, requestID, method, path, statusCode, duration)
		cerr.Fields = fields
		return Result{ErrMessage: message, Shape: res.Shape}, cerr
	}

	if c.transformKeys && res.Shape != ShapeBlob {
		res.Payload = ToClient(res.Payload)
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("Request complete", "requestID", requestID, "statusCode", statusCode, "shape", res.Shape.String(), "duration", duration)
	}

	return res, nil
}

// do performs the HTTP exchange: URL assembly, body marshaling, token
// attach, rate limiting and retry. The request is rebuilt per attempt so a
// consumed body never poisons a retry.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, []byte, error) {
	fullURL, err := c.buildURL(path, query)
	if err != nil {
		return nil, nil, err
	}

	var bodyBytes []byte
	if body != nil {
		payload := body
		if c.transformKeys {
			payload = ToServer(normalizeBody(body))
		}
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	endpoint := c.endpointLabel(path)
	resp, err := c.executor.Do(ctx, method, endpoint, func(ctx context.Context) (*http.Response, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, ErrRateLimited
			}
		}

		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token, ok := c.session.Token(ctx); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return resp, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp, raw, nil
}

// Blob is a raw binary download with best-effort metadata from the response
// headers. Blobs bypass normalization and key transformation entirely.
type Blob struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Download retrieves a raw binary resource (e.g. a generated report file).
func (c *Client) Download(ctx context.Context, path string, query url.Values) (*Blob, error) {
	fullURL, err := c.buildURL(path, query)
	if err != nil {
		return nil, err
	}

	endpoint := c.endpointLabel(path)
	resp, err := c.executor.Do(ctx, http.MethodGet, endpoint, func(ctx context.Context) (*http.Response, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, ErrRateLimited
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.userAgent)
		if token, ok := c.session.Token(ctx); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return c.httpClient.Do(req)
	})
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			return nil, c.newClientError(ErrorTypeRateLimit, "rate limit exceeded", err, "", http.MethodGet, path, 0, 0)
		}
		return nil, c.newClientError(ErrorTypeNetwork, "download failed", err, "", http.MethodGet, path, 0, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.session.HandleAuthFailure()
		return nil, c.newClientError(ErrorTypeAuth, "authentication required", nil, "", http.MethodGet, path, resp.StatusCode, 0)
	}
	if resp.StatusCode >= 400 {
		errType := ErrorTypeClient
		if resp.StatusCode >= 500 {
			errType = ErrorTypeServer
		}
		return nil, c.newClientError(errType, "download failed", nil, "", http.MethodGet, path, resp.StatusCode, 0)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.newClientError(ErrorTypeNetwork, "read download body", err, "", http.MethodGet, path, resp.StatusCode, 0)
	}

	blob := &Blob{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			blob.Filename = params["filename"]
		}
	}
	return blob, nil
}

// Login posts credentials, validates the returned token pair and stores the
// session. A response missing either token is a hard failure and leaves the
// session cleared.
func (c *Client) Login(ctx context.Context, path string, credentials any) (*Credential, error) {
	res, err := c.Post(ctx, path, credentials)
	if err != nil {
		return nil, err
	}
	cred, err := CredentialFromPayload(res.Payload)
	if err != nil {
		c.session.Clear()
		return nil, err
	}
	if cred.User == nil {
		c.session.Clear()
		return nil, fmt.Errorf("%w: login response missing user", ErrMissingTokens)
	}
	if err := c.session.Store(cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// Logout clears the session after a best-effort server notification.
func (c *Client) Logout(ctx context.Context, path string) {
	if path != "" {
		if _, err := c.Post(ctx, path, nil); err != nil && c.logger != nil {
			c.logger.Debug("Logout call failed", "error", err.Error())
		}
	}
	c.session.Clear()
}

// defaultRefresh is the refresh exchange wired from WithRefreshPath: it posts
// the refresh token and expects a fresh token pair in the payload.
func (c *Client) defaultRefresh(ctx context.Context, refreshToken string) (*Credential, error) {
	res, err := c.Call(ctx, http.MethodPost, c.refreshPath, nil, map[string]any{"refreshToken": refreshToken})
	if err != nil {
		return nil, err
	}
	return CredentialFromPayload(res.Payload)
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	base := strings.TrimRight(c.baseURL, "/")
	if base == "" {
		return "", fmt.Errorf("energygrid: base URL not configured")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	full := base + path
	if len(query) > 0 {
		if c.transformKeys {
			query = QueryToServer(query)
		}
		full += "?" + query.Encode()
	}
	return full, nil
}

func (c *Client) endpointLabel(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

func (c *Client) newClientError(errorType, message string, cause error, requestID, method, path string, statusCode int, duration time.Duration) *ClientError {
	return &ClientError{
		Type:       errorType,
		Message:    message,
		Cause:      cause,
		RequestID:  requestID,
		Method:     method,
		URL:        strings.TrimRight(c.baseURL, "/") + path,
		Endpoint:   c.endpointLabel(path),
		StatusCode: statusCode,
		Attempt:    0,
		MaxRetries: c.executor.MaxRetries,
		Timestamp:  time.Now(),
		Duration:   duration,
	}
}

// fieldsFromBody re-reads the raw body looking for a field-keyed validation
// error map. Nil when the body is not an envelope carrying one.
func fieldsFromBody(raw []byte) map[string]string {
	var env map[string]any
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}
	return extractFieldErrors(env)
}

// normalizeBody converts struct bodies to a generic map so key rewriting can
// recurse into them; maps and slices pass through.
func normalizeBody(body any) any {
	switch body.(type) {
	case map[string]any, []any, nil:
		return body
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return body
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return body
	}
	return generic
}
