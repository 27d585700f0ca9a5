package huntflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public Huntflow API host.
const DefaultBaseURL = "https://api.huntflow.ru"

// FetchError reports a failed request to the remote API.
type FetchError struct {
	Path   string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("huntflow GET %s: status %d: %v", e.Path, e.Status, e.Err)
	}
	return fmt.Sprintf("huntflow GET %s: %v", e.Path, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Page is one decoded response of a list endpoint.
type Page struct {
	Items      []json.RawMessage `json:"items"`
	Total      *int              `json:"total,omitempty"`
	TotalPages *int              `json:"total_pages,omitempty"`
	Page       int               `json:"page,omitempty"`
}

// Getter issues GET requests against account-scoped endpoints.
type Getter interface {
	Get(ctx context.Context, path string, params url.Values) (Page, error)
}

// Client talks to the Huntflow v2 API for a single account.
type Client struct {
	baseURL    string
	accountID  int
	token      string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit bounds outgoing requests to perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a client for the given account.
func NewClient(baseURL string, accountID int, token string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountID:  accountID,
		token:      token,
		timeout:    30 * time.Second,
		httpClient: http.DefaultClient,
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AccountPath prefixes an account-relative path.
func (c *Client) AccountPath(path string) string {
	return fmt.Sprintf("/v2/accounts/%d/%s", c.accountID, strings.TrimLeft(path, "/"))
}

// Get requests an account-relative path and decodes the page envelope.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (Page, error) {
	fullPath := c.AccountPath(path)
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Page{}, &FetchError{Path: fullPath, Err: err}
		}
	}

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	target := c.baseURL + fullPath
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return Page{}, &FetchError{Path: fullPath, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, &FetchError{Path: fullPath, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, &FetchError{Path: fullPath, Status: resp.StatusCode, Err: err}
	}
	c.logger.Debug("huntflow request",
		slog.String("path", fullPath),
		slog.String("query", params.Encode()),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, &FetchError{Path: fullPath, Status: resp.StatusCode, Err: errors.New(snippet(body))}
	}

	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return Page{}, &FetchError{Path: fullPath, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return page, nil
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	if text == "" {
		return "empty response body"
	}
	return text
}
