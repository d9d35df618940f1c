package mql

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MQL protocol headers
const (
	RequestIDHeader  = "X-Request-Id"
	ClientInfoHeader = "X-MQL-Client-Info"

	DefaultClientInfo   = "mql-go"
	ContentEncodingGzip = "gzip"
	MaxRetryAttempts    = 10
	MaxRetryDelay       = 30 * time.Second
	DefaultRetryDelay   = time.Second
)

// RequestOption allows for functional overrides on individual requests
type RequestOption func(*http.Request)

// Client talks to the MQL server over HTTP. It is safe for concurrent use;
// its settings are read under a lock and no job state is kept on it.
type Client struct {
	httpClient *http.Client
	serverUrl  *url.URL
	apiKey     string
	userInfo   *url.Userinfo
	clientInfo string
	forceHTTPS bool
	retryDelay time.Duration
	options    []RequestOption

	mu sync.RWMutex
}

// --- Initialization ---

// NewClient creates a client for the server at serverUrl. apiKey is an
// optional variadic parameter sent as a Bearer token.
func NewClient(serverUrl string, apiKey ...string) (*Client, error) {
	parsedUrl, err := url.Parse(serverUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if parsedUrl.Scheme == "" || parsedUrl.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: scheme and host are required", serverUrl)
	}
	if !strings.HasSuffix(parsedUrl.Path, "/") {
		parsedUrl.Path += "/"
	}

	c := &Client{
		httpClient: &http.Client{},
		serverUrl:  parsedUrl,
		clientInfo: DefaultClientInfo,
		retryDelay: DefaultRetryDelay,
	}
	if len(apiKey) > 0 {
		c.apiKey = apiKey[0]
	}
	return c, nil
}

// --- Client Setters (Fluent API) ---

func (c *Client) APIKey(key string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
	return c
}

func (c *Client) UserPassword(user, password string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userInfo = url.UserPassword(user, password)
	return c
}

func (c *Client) ClientInfo(info string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientInfo = info
	return c
}

func (c *Client) ForceHTTPS(force bool) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceHTTPS = force
	return c
}

// HTTPClient replaces the underlying *http.Client, e.g. to set a transport
// level timeout or a custom TLS configuration.
func (c *Client) HTTPClient(hc *http.Client) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpClient = hc
	return c
}

// RetryDelay sets the first delay between retries of idempotent calls. It
// doubles per attempt up to MaxRetryDelay.
func (c *Client) RetryDelay(d time.Duration) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryDelay = d
	return c
}

// RequestOptions replaces the options applied to every request. Auth
// helpers such as mqlauth/oauth2 plug in here.
func (c *Client) RequestOptions(opts ...RequestOption) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.options = opts
	return c
}

// --- Request Lifecycle ---

// NewRequest builds an http.Request against the server URL. Per-call
// options run after the persistent ones and can override them.
func (c *Client) NewRequest(method, urlStr string, body any, options ...RequestOption) (*http.Request, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u, err := c.prepareURL(urlStr)
	if err != nil {
		return nil, err
	}

	bodyReader, contentType, err := prepareRequestBody(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(method, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	} else if c.userInfo != nil {
		pass, _ := c.userInfo.Password()
		req.SetBasicAuth(c.userInfo.Username(), pass)
	}
	if c.clientInfo != "" {
		req.Header.Set(ClientInfoHeader, c.clientInfo)
	}
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", ContentEncodingGzip)

	for _, opt := range c.options {
		opt(req)
	}
	for _, opt := range options {
		opt(req)
	}

	return req, nil
}

// Do executes the request and decodes a 200 response into v.
//
// Only idempotent requests (GET, HEAD) are retried, on 503 responses and
// transient network errors. A submission is sent at most once: replaying it
// could create a duplicate job.
func (c *Client) Do(ctx context.Context, req *http.Request, v any) (*http.Response, error) {
	req = req.WithContext(ctx)

	c.mu.RLock()
	httpClient := c.httpClient
	retryDelay := c.retryDelay
	c.mu.RUnlock()

	attempts := MaxRetryAttempts
	if !isIdempotent(req.Method) {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, retryDelay); err != nil {
				return nil, err
			}
			retryDelay *= 2
			if retryDelay > MaxRetryDelay {
				retryDelay = MaxRetryDelay
			}
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			if !isRetryableNetError(err) || attempt == attempts-1 {
				return nil, err
			}
			log.Debug().Err(err).Int("attempt", attempt+1).Str("url", req.URL.Path).Msg("retrying on connection error")
			continue
		}

		if resp.StatusCode == http.StatusOK {
			err = c.decodeResponseBody(resp, v)
			return resp, err
		}

		if resp.StatusCode == http.StatusServiceUnavailable && attempt < attempts-1 {
			if closeErr := resp.Body.Close(); closeErr != nil {
				log.Debug().Err(closeErr).Msg("failed to close response body")
			}
			log.Debug().Int("attempt", attempt+1).Str("url", req.URL.Path).Msg("retrying on service unavailable")
			continue
		}

		return resp, newErrorResponse(req, resp)
	}
	return nil, fmt.Errorf("max retries exceeded")
}

func isIdempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// isRetryableNetError returns true for transient network errors that warrant
// a retry (connection refused, DNS failures, connection reset, network timeouts).
// Context cancellation and deadline exceeded errors are NOT retried.
func isRetryableNetError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// newErrorResponse reads and closes the body of a failed response.
func newErrorResponse(req *http.Request, resp *http.Response) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		log.Debug().Err(err).Msg("failed to read error response body")
	}
	return &ErrorResponse{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		RequestID:  req.Header.Get(RequestIDHeader),
	}
}

// --- Client Networking Utilities ---

func (c *Client) prepareURL(urlStr string) (*url.URL, error) {
	u, err := c.serverUrl.Parse(urlStr)
	if err != nil {
		return nil, err
	}
	if c.forceHTTPS && u.Scheme == "http" {
		u.Scheme = "https"
	}
	return u, nil
}

func prepareRequestBody(body any) (io.Reader, string, error) {
	if body == nil {
		return nil, "", nil
	}
	jsonBuf := &bytes.Buffer{}
	if err := json.NewEncoder(jsonBuf).Encode(body); err != nil {
		return nil, "", err
	}
	return jsonBuf, "application/json", nil
}

func (c *Client) decodeResponseBody(resp *http.Response, v any) (err error) {
	defer func() {
		closeErr := resp.Body.Close()
		if err == nil {
			err = closeErr
		}
	}()

	if v == nil {
		return nil
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == ContentEncodingGzip {
		gz, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			return fmt.Errorf("failed to create gzip reader: %w", gzErr)
		}
		defer func() {
			if cErr := gz.Close(); cErr != nil {
				log.Debug().Err(cErr).Msg("failed to close gzip reader")
			}
		}()
		reader = gz
	}

	if err = json.NewDecoder(reader).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &Error{Kind: KindProtocol, Op: "decode response", Message: "empty response body"}
		}
		return &Error{Kind: KindProtocol, Op: "decode response", Err: err}
	}
	return nil
}
