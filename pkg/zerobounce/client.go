// Package zerobounce provides a client for the ZeroBounce email validation API.
package zerobounce

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/visitor-cli/internal/resilience"
)

const defaultBaseURL = "https://api.zerobounce.net/v2"

// Validation statuses returned by the API.
const (
	StatusValid     = "valid"
	StatusInvalid   = "invalid"
	StatusCatchAll  = "catch-all"
	StatusUnknown   = "unknown"
	StatusSpamtrap  = "spamtrap"
	StatusAbuse     = "abuse"
	StatusDoNotMail = "do_not_mail"
)

// Client validates a single email address.
type Client interface {
	Validate(ctx context.Context, email string) (*ValidateResponse, error)
}

// ValidateResponse is the response from GET /validate.
type ValidateResponse struct {
	Address   string `json:"address"`
	Status    string `json:"status"`
	SubStatus string `json:"sub_status"`
	MXFound   string `json:"mx_found"`
	Domain    string `json:"domain"`
	FreeEmail bool   `json:"free_email"`

	// Error is set instead of Status when the request was rejected, for
	// example with an invalid API key. The API still answers 200.
	Error string `json:"error,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second. Zero or negative
// disables the limiter.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a ZeroBounce client limited to 5 requests per second
// unless overridden.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Validate(ctx context.Context, email string) (*ValidateResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "zerobounce: rate limit wait")
		}
	}

	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("email", email)
	q.Set("ip_address", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/validate?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "zerobounce: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "zerobounce: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "zerobounce: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("zerobounce", resp.StatusCode, body)
	}

	var result ValidateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "zerobounce: unmarshal response")
	}
	if result.Error != "" {
		return nil, eris.Errorf("zerobounce: %s", result.Error)
	}
	if result.Status == "" {
		return nil, eris.New("zerobounce: response missing status")
	}

	return &result, nil
}
