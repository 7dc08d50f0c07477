// Package resolver maps a visitor IP address to the company that owns it.
package resolver

import (
	"context"
	"net/netip"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/pkg/ipinfo"
)

// Resolver classifies the organization behind an IP address. A nil company
// with a nil error means the IP is not attributable to a business.
type Resolver struct {
	ipinfo ipinfo.Client
	whois  WhoisClient
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithWhois enables the WHOIS fallback used when IPinfo has no company
// record for an address.
func WithWhois(w WhoisClient) Option {
	return func(r *Resolver) {
		r.whois = w
	}
}

// New creates a Resolver backed by IPinfo.
func New(client ipinfo.Client, opts ...Option) *Resolver {
	r := &Resolver{ipinfo: client}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the business that owns ip, or nil when the address is
// residential, hosting, private or otherwise unattributable. Only a failure
// to reach IPinfo is returned as an error.
func (r *Resolver) Resolve(ctx context.Context, ip string) (*model.Company, error) {
	log := zap.L().With(zap.String("ip", ip), zap.String("phase", "resolve"))

	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil || !addr.IsGlobalUnicast() || addr.IsPrivate() {
		log.Debug("resolver: address is not public")
		return nil, nil
	}

	resp, err := r.ipinfo.Lookup(ctx, addr.String())
	if err != nil {
		return nil, eris.Wrap(err, "resolver: ipinfo lookup")
	}
	if resp.Bogon {
		return nil, nil
	}

	if resp.Company != nil && strings.TrimSpace(resp.Company.Name) != "" {
		t := orgType(resp.Company.Type)
		if !t.IsBusiness() {
			log.Debug("resolver: non-business organization",
				zap.String("org", resp.Company.Name), zap.String("type", string(t)))
			return nil, nil
		}
		return companyFrom(resp, resp.Company.Name, resp.Company.Domain, t, "ipinfo"), nil
	}

	// No company block. The ASN type still rules out access and hosting networks.
	asnType := model.OrgType("")
	if resp.ASN != nil {
		asnType = orgType(resp.ASN.Type)
		if asnType == model.OrgTypeISP || asnType == model.OrgTypeHosting {
			return nil, nil
		}
	}

	if r.whois != nil {
		raw, err := r.whois.Whois(ctx, addr.String())
		if err != nil {
			log.Warn("resolver: whois lookup failed", zap.Error(err))
		} else if rec := ParseWhois(raw); rec.Name != "" && !looksLikeCarrier(rec.Name) {
			domain := rec.Domain
			if domain == "" && resp.ASN != nil {
				domain = resp.ASN.Domain
			}
			if domain != "" {
				return companyFrom(resp, rec.Name, domain, model.OrgTypeBusiness, "whois"), nil
			}
			log.Debug("resolver: whois record has no domain", zap.String("org", rec.Name))
		}
	}

	if resp.ASN != nil && asnType.IsBusiness() && resp.ASN.Domain != "" && !looksLikeCarrier(resp.ASN.Name) {
		return companyFrom(resp, resp.ASN.Name, resp.ASN.Domain, asnType, "ipinfo"), nil
	}

	return nil, nil
}

func companyFrom(resp *ipinfo.Response, name, domain string, t model.OrgType, source string) *model.Company {
	return &model.Company{
		Name:    strings.TrimSpace(name),
		Domain:  normalizeDomain(domain),
		City:    resp.City,
		Region:  resp.Region,
		Country: resp.Country,
		Type:    t,
		Source:  source,
	}
}

func orgType(s string) model.OrgType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "business":
		return model.OrgTypeBusiness
	case "isp":
		return model.OrgTypeISP
	case "hosting":
		return model.OrgTypeHosting
	case "education", "edu":
		return model.OrgTypeEducation
	case "government", "gov":
		return model.OrgTypeGovernment
	default:
		return model.OrgType(strings.ToLower(s))
	}
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	return d
}

var carrierWords = []string{
	"telecom", "broadband", "cable", "wireless", "mobile", "cellular",
	"internet service", "communications", "hosting", "datacenter", "data center",
	"cloud", "vpn", "colocation",
}

// looksLikeCarrier guesses from an organization name whether it is an
// access or hosting provider.
func looksLikeCarrier(name string) bool {
	lower := strings.ToLower(name)
	for _, w := range carrierWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
