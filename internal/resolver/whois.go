package resolver

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/likexian/whois"
	"github.com/rotisserie/eris"
)

// WhoisClient returns the raw WHOIS record for an IP address.
type WhoisClient interface {
	Whois(ctx context.Context, query string) (string, error)
}

type whoisClient struct {
	client *whois.Client
}

// NewWhois creates a WhoisClient that queries the regional registries
// directly.
func NewWhois(timeout time.Duration) WhoisClient {
	c := whois.NewClient()
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &whoisClient{client: c}
}

func (w *whoisClient) Whois(ctx context.Context, query string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "resolver: whois")
	}

	type result struct {
		raw string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		raw, err := w.client.Whois(query)
		ch <- result{raw: raw, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", eris.Wrap(ctx.Err(), "resolver: whois")
	case res := <-ch:
		if res.err != nil {
			return "", eris.Wrap(res.err, "resolver: whois")
		}
		return res.raw, nil
	}
}

// WhoisRecord holds the fields the resolver uses from a registry record.
type WhoisRecord struct {
	Name   string
	Domain string
}

var (
	orgKeys   = []string{"orgname", "org-name", "organization", "owner", "descr"}
	emailKeys = []string{"orgabuseemail", "orgtechemail", "abuse-mailbox", "e-mail", "rabuseemail", "orgnocemail"}

	emailRe  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@([A-Za-z0-9.\-]+\.[A-Za-z]{2,})`)
	handleRe = regexp.MustCompile(`\s*\([A-Z0-9\-]+\)\s*$`)
)

// Registry and abuse-desk domains that say nothing about the network owner.
var registryDomains = map[string]bool{
	"arin.net":    true,
	"ripe.net":    true,
	"apnic.net":   true,
	"lacnic.net":  true,
	"afrinic.net": true,
	"iana.org":    true,
}

// ParseWhois extracts the owning organization and a contact domain from a
// raw WHOIS record. The first matching key wins, in key priority order.
func ParseWhois(raw string) WhoisRecord {
	fields := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, seen := fields[k]; !seen {
			fields[k] = v
		}
	}

	var rec WhoisRecord
	for _, k := range orgKeys {
		if v, ok := fields[k]; ok {
			rec.Name = handleRe.ReplaceAllString(v, "")
			break
		}
	}
	for _, k := range emailKeys {
		v, ok := fields[k]
		if !ok {
			continue
		}
		m := emailRe.FindStringSubmatch(v)
		if m == nil {
			continue
		}
		d := strings.ToLower(m[1])
		if registryDomains[d] {
			continue
		}
		rec.Domain = d
		break
	}
	return rec
}
