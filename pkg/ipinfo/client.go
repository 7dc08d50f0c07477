// Package ipinfo provides a client for the IPinfo IP intelligence API.
package ipinfo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/visitor-cli/internal/resilience"
)

const defaultBaseURL = "https://ipinfo.io"

// Client looks up the organization behind an IP address.
type Client interface {
	Lookup(ctx context.Context, ip string) (*Response, error)
}

// Response is the subset of the IPinfo lookup payload the resolver uses.
// Company and ASN are only present on paid plans.
type Response struct {
	IP       string   `json:"ip"`
	Hostname string   `json:"hostname,omitempty"`
	City     string   `json:"city,omitempty"`
	Region   string   `json:"region,omitempty"`
	Country  string   `json:"country,omitempty"`
	Org      string   `json:"org,omitempty"` // "AS15169 Google LLC"
	Bogon    bool     `json:"bogon,omitempty"`
	Company  *Company `json:"company,omitempty"`
	ASN      *ASN     `json:"asn,omitempty"`
}

// Company is the organization that uses the IP range.
type Company struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Type   string `json:"type"` // business, isp, hosting, education, government
}

// ASN is the autonomous system that announces the IP range.
type ASN struct {
	ASN    string `json:"asn"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Type   string `json:"type"`
}

// OrgName returns the organization name from the legacy "org" field with
// the AS number prefix stripped.
func (r *Response) OrgName() string {
	org := strings.TrimSpace(r.Org)
	if len(org) > 2 && strings.HasPrefix(org, "AS") && org[2] >= '0' && org[2] <= '9' {
		if _, rest, ok := strings.Cut(org, " "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return org
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

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates an IPinfo client.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Lookup(ctx context.Context, ip string) (*Response, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return nil, eris.Wrapf(err, "ipinfo: invalid ip %q", ip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+addr.String()+"/json", nil)
	if err != nil {
		return nil, eris.Wrap(err, "ipinfo: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ipinfo: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ipinfo: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("ipinfo", resp.StatusCode, body)
	}

	var result Response
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "ipinfo: unmarshal response")
	}
	if result.IP == "" {
		return nil, eris.New("ipinfo: response missing ip")
	}

	return &result, nil
}
