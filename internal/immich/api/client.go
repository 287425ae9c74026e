package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Client provides a raw HTTP client for accessing the immich API. All requests
// will get rewritten to the API endpoint with authorization, so only the path
// is required for requests.
//
// Requests are serialized: the client never has more than one request in
// flight against the immich server, and transient failures are retried with
// exponential backoff before the error is returned.
//
// Example:
//
// ```
// client := NewClientFromEnv()
// md, err := client.GetAssetInfo(ctx, "some-id")
// ```
type Client struct {
	http     *http.Client
	retry    RetryConfig
	limiter  *rate.Limiter
	observe  func(Call)
	newTimer func() backoff.Timer

	// mu serializes outbound requests, including their retries.
	mu sync.Mutex
}

// Config holds configuration values for configuring the immich client.
//
// It is organized to take advantage of TOML parsing, however this package does
// not handle parsing and has no expectation on how it will be initialized.
type Config struct {
	// ImmichAPIEndpoint is the URL for accessing the immich API.
	ImmichAPIEndpoint string
	// ImmichAPIKey should ideally not be written to disk un-encrypted,
	// however, for ease of "deployment" I'm going to allow it.
	ImmichAPIKey string
	// Timeout bounds a single HTTP attempt. Defaults to 30s.
	Timeout time.Duration
	// RequestsPerSecond paces outbound requests. Zero means unlimited.
	RequestsPerSecond float64
	// Retry controls how transient failures are retried.
	Retry RetryConfig
}

// HydrateFromEnv overwrites any values in Config with their associated
// environment variable value. Environment variables take precedence.
func (c *Config) HydrateFromEnv() {
	if v, ok := os.LookupEnv("IMMICH_API_ENDPOINT"); ok {
		c.ImmichAPIEndpoint = v
	}
	if v, ok := os.LookupEnv("IMMICH_API_KEY"); ok {
		c.ImmichAPIKey = v
	}
}

// Call describes the outcome of one outbound request after retries.
type Call struct {
	Method     string
	Path       string
	StatusCode int
	Attempts   int
	Duration   time.Duration
	Err        error
}

// immichTransport is a custom http.RoundTripper that rewrites the http.Request
// via transformF before handing it to the persistent base transport.
type immichTransport struct {
	base       http.RoundTripper
	transformF func(*http.Request)
}

func (i immichTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	i.transformF(req)
	return i.base.RoundTrip(req)
}

// clientOpt is used for configuring the [Client].
type clientOpt func(*Client)

// WithObserver registers a function that is called once per request with its
// final outcome.
func WithObserver(f func(Call)) clientOpt {
	return func(c *Client) { c.observe = f }
}

// WithTimer replaces the timer used to wait between retries.
func WithTimer(f func() backoff.Timer) clientOpt {
	return func(c *Client) { c.newTimer = f }
}

// NewClientFromEnv initializes a Client using the IMMICH_API_ENDPOINT and
// IMMICH_API_KEY environment variables.
func NewClientFromEnv() *Client {
	conf := Config{}
	conf.HydrateFromEnv()
	return NewClient(conf)
}

// NewClient initializes a Client with the provided API endpoint and API key.
// Use [Client.IsConnected] to check if the Client was properly configured.
func NewClient(conf Config, opts ...clientOpt) *Client {
	// Canonicalize apiEndpoint.
	apiEndpointURI, err := url.Parse(conf.ImmichAPIEndpoint)
	if err != nil {
		apiEndpointURI = &url.URL{}
	}
	if apiEndpointURI.Path != "/api" {
		apiEndpointURI.Path = "/api"
	}

	// One keep-alive transport is shared by every request.
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.MaxIdleConnsPerHost = 2

	transport := immichTransport{
		base: base,
		transformF: func(r *http.Request) {
			// Add the API header credentials.
			r.Header.Set("X-API-Key", conf.ImmichAPIKey)
			// Prefix the API endpoint in the new URL.
			immichAPI := *apiEndpointURI
			immichAPI.Path = path.Join(immichAPI.Path, r.URL.Path)
			immichAPI.RawQuery = r.URL.RawQuery
			r.URL = &immichAPI
			r.Host = immichAPI.Host
		},
	}

	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if conf.RequestsPerSecond > 0 {
		limit = rate.Limit(conf.RequestsPerSecond)
	}
	c := &Client{
		http:    &http.Client{Transport: transport, Timeout: timeout},
		retry:   conf.Retry.withDefaults(),
		limiter: rate.NewLimiter(limit, 1),
		observe: func(Call) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsConnected performs a sanity check API request to /users/me to verify the
// Client is configured correctly and the immich server is responsive.
func (c *Client) IsConnected(ctx context.Context) error {
	var m map[string]any
	err := c.doJSON(ctx, http.MethodGet, "/users/me", nil, nil, &m)
	var uerr *url.Error
	if errors.As(err, &uerr) && strings.Contains(uerr.Error(), "unsupported protocol scheme") {
		return errors.New("misconfigured client: missing immich endpoint")
	}
	return err
}

// Response is a fully read immich response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// doJSON sends body (if any) as JSON and decodes the response into out (if
// any).
func (c *Client) doJSON(ctx context.Context, method, p string, query url.Values, body, out any) error {
	resp, err := c.do(ctx, method, p, query, body)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, p, err)
	}
	return nil
}

// do performs the request while holding the client lock, retrying transient
// failures per the configured RetryConfig.
func (c *Client) do(ctx context.Context, method, p string, query url.Values, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	log := slog.With("method", method, "path", p)
	start := time.Now()
	var (
		resp     *Response
		attempts int
	)
	attempt := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		var err error
		resp, err = c.roundTrip(ctx, method, p, query, payload)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		log.Debug("retrying immich request", "attempt", attempts, "delay", delay.String(), "error", err)
	}
	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(attempt, c.retry.NewBackOff(ctx), notify, timer)

	call := Call{
		Method:   method,
		Path:     p,
		Attempts: attempts,
		Duration: time.Since(start),
		Err:      err,
	}
	if resp != nil {
		call.StatusCode = resp.StatusCode
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		call.StatusCode = serr.StatusCode
	}
	c.observe(call)

	if err != nil {
		log.Debug("immich request failed", "attempts", attempts, "error", err)
		return nil, err
	}
	return resp, nil
}

// roundTrip performs a single attempt and reads the whole body.
func (c *Client) roundTrip(ctx context.Context, method, p string, query url.Values, payload []byte) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	u := &url.URL{Path: p}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "*/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := checkStatusCode(method, p, resp.StatusCode, data); err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// StatusError is returned when immich responds with a non-2xx status code.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.StatusCode == http.StatusUnauthorized {
		return "invalid immich token"
	}
	if e.Message != "" {
		return fmt.Sprintf("%s %s: unexpected status code %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: unexpected status code %d", e.Method, e.Path, e.StatusCode)
}

// IsNotFound reports whether immich said the resource does not exist. Immich
// answers missing assets with either 404 or a 400 "Not found" message.
func (e *StatusError) IsNotFound() bool {
	if e.StatusCode == http.StatusNotFound {
		return true
	}
	return e.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(e.Message), "not found")
}

// checkStatusCode is a helper function to check for a 2xx status code and
// return a descriptive error if not.
func checkStatusCode(method, p string, statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	serr := &StatusError{Method: method, Path: p, StatusCode: statusCode}
	var msg struct {
		Message any `json:"message"`
	}
	if json.Unmarshal(body, &msg) == nil && msg.Message != nil {
		serr.Message = fmt.Sprint(msg.Message)
	}
	return serr
}

// IsTransient reports whether err is worth retrying: timeouts, transport
// failures and 5xx responses. 4xx responses are never retried.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		return serr.StatusCode >= 500
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return !strings.Contains(uerr.Error(), "unsupported protocol scheme")
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
