// Package insights talks to the remark insights API over HTTP.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrThrottled reports an explicit HTTP 429 from the insights API.
var ErrThrottled = errors.New("insights API throttled the request")

// APIError reports a non-success status that is not a throttle.
type APIError struct {
	StatusCode int
	Status     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("insights API error: %s", e.Status)
}

// Header names the insights API uses for quota metadata.
const (
	headerRemaining = "X-RateLimit-Remaining"
	headerReset     = "X-RateLimit-Reset"
)

// Quota carries the rate-limit metadata the insights API attaches to
// every response, success or failure. The Has flags distinguish a parsed
// zero from an absent or unreadable header.
type Quota struct {
	Remaining    int
	HasRemaining bool
	ResetSeconds int
	HasReset     bool
}

// CategoryRecord is one remark category aggregate on the wire.
type CategoryRecord struct {
	Category  string `json:"category"`
	Count     int64  `json:"count"`
	Truncated bool   `json:"truncated"`
}

// SummaryPayload is the body of the remark summary endpoint. A null
// categories field means the API has no usable information about the
// handle; an empty list means it genuinely saw no activity.
type SummaryPayload struct {
	Handle     string           `json:"handle"`
	WindowDays int              `json:"window_days"`
	SampleSize int              `json:"sample_size"`
	Categories []CategoryRecord `json:"categories"`
}

// Client calls the insights API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the transport, timeout included.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		if ua := strings.TrimSpace(userAgent); ua != "" {
			c.userAgent = ua
		}
	}
}

// NewClient instantiates the insights client with sane defaults.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("insights base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse insights base URL: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  "go-annotation-service",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// FetchRemarkSummary retrieves the remark summary for one handle. The
// returned quota is parsed from the response headers whatever the status,
// so callers can honor the remote's pacing even across failures.
func (c *Client) FetchRemarkSummary(ctx context.Context, handle string, windowDays, sampleLimit int) (*SummaryPayload, Quota, error) {
	if c == nil || c.httpClient == nil {
		return nil, Quota{}, errors.New("insights client not configured")
	}
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, Quota{}, errors.New("handle is required")
	}

	query := url.Values{}
	query.Set("window_days", strconv.Itoa(windowDays))
	query.Set("limit", strconv.Itoa(sampleLimit))
	endpoint := fmt.Sprintf("%s/v1/profiles/%s/remarks?%s", c.baseURL, url.PathEscape(handle), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, Quota{}, fmt.Errorf("build insights request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Quota{}, fmt.Errorf("call insights API: %w", err)
	}
	defer resp.Body.Close()

	quota := parseQuota(resp.Header)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, quota, fmt.Errorf("%s: %w", resp.Status, ErrThrottled)
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		var payload SummaryPayload
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, quota, fmt.Errorf("decode insights response: %w", err)
		}
		return &payload, quota, nil
	default:
		return nil, quota, &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
}

func parseQuota(header http.Header) Quota {
	var q Quota
	if v := strings.TrimSpace(header.Get(headerRemaining)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Remaining = n
			q.HasRemaining = true
		}
	}
	if v := strings.TrimSpace(header.Get(headerReset)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			q.ResetSeconds = n
			q.HasReset = true
		}
	}
	return q
}
