package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultBaseURL is the API root used when none is configured.
const DefaultBaseURL = "https://api.parse.com/1"

// Default GET retry policy.
const (
	DefaultRetryMax     = 3
	DefaultRetryWaitMin = 200 * time.Millisecond
	DefaultRetryWaitMax = 2 * time.Second
)

// Header names understood by the server.
const (
	HeaderApplicationID = "X-Parse-Application-Id"
	HeaderRESTKey       = "X-Parse-REST-API-Key"
	HeaderMasterKey     = "X-Parse-Master-Key"
	HeaderSessionToken  = "X-Parse-Session-Token"
	HeaderRequestID     = "X-Parse-Request-Id"
)

// HTTPClient is the Transport over HTTP.
type HTTPClient struct {
	baseURL   string
	appID     string
	restKey   string
	masterKey string
	http      *http.Client
	timeout   time.Duration
	retry     *retryablehttp.Client // GET
	once      *retryablehttp.Client // everything else
	logger    *slog.Logger

	mu      sync.RWMutex
	session string
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithBaseURL sets the API root, e.g. "https://example.com/parse".
func WithBaseURL(u string) Option {
	return func(c *HTTPClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithRESTKey sets the REST API key.
func WithRESTKey(key string) Option {
	return func(c *HTTPClient) { c.restKey = key }
}

// WithMasterKey sets the master key. Ignored when a REST key is set.
func WithMasterKey(key string) Option {
	return func(c *HTTPClient) { c.masterKey = key }
}

// WithSessionToken sets the initial session token.
func WithSessionToken(token string) Option {
	return func(c *HTTPClient) { c.session = token }
}

// WithTimeout bounds each HTTP attempt. It applies to the client given
// by WithHTTPClient regardless of option order.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.timeout = d }
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.http = hc }
}

// WithRetry sets how often and how patiently GETs are retried.
func WithRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(c *HTTPClient) {
		c.retry.RetryMax = max
		c.retry.RetryWaitMin = waitMin
		c.retry.RetryWaitMax = waitMax
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *HTTPClient) { c.logger = logger }
}

// NewHTTPClient creates a client for the given application.
func NewHTTPClient(appID string, opts ...Option) *HTTPClient {
	retry := retryablehttp.NewClient()
	retry.RetryMax = DefaultRetryMax
	retry.RetryWaitMin = DefaultRetryWaitMin
	retry.RetryWaitMax = DefaultRetryWaitMax

	c := &HTTPClient{
		baseURL: DefaultBaseURL,
		appID:   appID,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   retry,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.http
		hc.Timeout = c.timeout
		c.http = &hc
	}

	c.once = retryablehttp.NewClient()
	c.once.RetryMax = 0
	logger := c.logger.With("component", "transport")
	for _, rc := range []*retryablehttp.Client{c.retry, c.once} {
		rc.HTTPClient = c.http
		rc.Logger = logger
		rc.CheckRetry = checkRetry
		// Hand the last response back so its error body can be decoded.
		rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	}
	return c
}

// checkRetry retries connection errors, 429 and 5xx, but never once the
// caller has given up.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// HTTP returns the underlying *http.Client.
func (c *HTTPClient) HTTP() *http.Client { return c.http }

// BaseURL returns the API root.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// SetSession changes the session token sent with every request.
// An empty token clears it.
func (c *HTTPClient) SetSession(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = token
}

// Session returns the current session token.
func (c *HTTPClient) Session() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == "" {
		return "", ErrSessionFailure
	}
	return c.session, nil
}

// Request implements Transport.
//
// GET and DELETE parameters are URL-encoded, with non-string values encoded
// as JSON. POST and PUT parameters form the JSON body.
func (c *HTTPClient) Request(ctx context.Context, method, path string, params map[string]any) (map[string]any, error) {
	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	var body []byte

	switch method {
	case http.MethodPost, http.MethodPut:
		payload := params
		if payload == nil {
			payload = map[string]any{}
		}
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
	default:
		q, err := encodeQuery(params)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		if q != "" {
			target += "?" + q
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, method, path)
}

// Upload implements Transport by POSTing raw bytes.
func (c *HTTPClient) Upload(ctx context.Context, path, contentType string, data []byte) (map[string]any, error) {
	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, target, data)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", path, err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req, http.MethodPost, path)
}

func (c *HTTPClient) do(req *retryablehttp.Request, method, path string) (map[string]any, error) {
	c.authenticate(req.Header)

	rc := c.once
	if method == http.MethodGet {
		rc = c.retry
	}

	started := time.Now()
	resp, err := rc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	c.logger.Debug("request done",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed", time.Since(started),
	)
	return decodeResponse(resp.StatusCode, raw)
}

func (c *HTTPClient) authenticate(h http.Header) {
	h.Set(HeaderApplicationID, c.appID)
	switch {
	case c.restKey != "":
		h.Set(HeaderRESTKey, c.restKey)
	case c.masterKey != "":
		h.Set(HeaderMasterKey, c.masterKey)
	}
	c.mu.RLock()
	if c.session != "" {
		h.Set(HeaderSessionToken, c.session)
	}
	c.mu.RUnlock()
	if id, err := uuid.NewV7(); err == nil {
		h.Set(HeaderRequestID, id.String())
	}
}

// decodeResponse turns a response into its JSON object or a *RemoteError.
func decodeResponse(status int, raw []byte) (map[string]any, error) {
	var object map[string]any
	decodeErr := json.Unmarshal(raw, &object)

	if decodeErr == nil && object != nil {
		if msg, hasMsg := object["error"]; hasMsg {
			if code, hasCode := object["code"]; hasCode {
				return nil, &RemoteError{Code: toCode(code), Message: fmt.Sprint(msg), Status: status}
			}
		}
	}
	if status >= http.StatusBadRequest {
		return nil, &RemoteError{
			Code:    ErrCodeOtherCause,
			Message: fmt.Sprintf("HTTP %d %s", status, http.StatusText(status)),
			Status:  status,
		}
	}
	if decodeErr != nil {
		return nil, &RemoteError{Code: ErrCodeInvalidJSON, Message: decodeErr.Error(), Status: status}
	}
	if object == nil {
		object = map[string]any{}
	}
	return object, nil
}

func toCode(x any) ErrorCode {
	switch n := x.(type) {
	case float64:
		return ErrorCode(int(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return ErrorCode(i)
		}
	}
	return ErrCodeOtherCause
}

// encodeQuery URL-encodes params in key order.
func encodeQuery(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		switch v := params[k].(type) {
		case string:
			values.Set(k, v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("encode param %q: %w", k, err)
			}
			values.Set(k, string(data))
		}
	}
	return values.Encode(), nil
}
