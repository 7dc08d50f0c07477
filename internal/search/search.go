// Package search finds public professional profiles for people at a company
// and retrieves their page content.
package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/pkg/jina"
)

const (
	profileSite       = "linkedin.com"
	defaultMaxResults = 10
)

// Searcher runs candidate searches against Jina Search.
type Searcher struct {
	jina       jina.Client
	maxResults int
}

// NewSearcher creates a Searcher. maxResults <= 0 uses the default of 10.
func NewSearcher(client jina.Client, maxResults int) *Searcher {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &Searcher{jina: client, maxResults: maxResults}
}

// BuildQuery combines the role description and the quoted company name,
// restricted to personal profile pages.
func BuildQuery(companyName, role string) string {
	company := strings.ReplaceAll(strings.TrimSpace(companyName), `"`, "")
	return fmt.Sprintf(`site:%s/in %s "%s"`, profileSite, strings.TrimSpace(role), company)
}

// Search returns person-profile hits for role at companyName. No location
// filter is applied. An empty slice means nothing plausible was found.
func (s *Searcher) Search(ctx context.Context, companyName, role string) ([]model.CandidateContact, error) {
	if strings.TrimSpace(companyName) == "" {
		return nil, nil
	}
	query := BuildQuery(companyName, role)

	resp, err := s.jina.Search(ctx, query,
		jina.WithSiteFilter(profileSite),
		jina.WithCount(s.maxResults),
		jina.WithoutContent(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "search: jina search")
	}

	seen := make(map[string]bool)
	var out []model.CandidateContact
	for _, r := range resp.Data {
		profile, ok := ProfileURL(r.URL)
		if !ok || seen[profile] {
			continue
		}
		seen[profile] = true

		snippet := strings.TrimSpace(r.Description)
		if snippet == "" {
			snippet = truncate(strings.TrimSpace(r.Content), 500)
		}
		out = append(out, model.CandidateContact{
			ProfileURL: profile,
			Title:      strings.TrimSpace(r.Title),
			Snippet:    snippet,
		})
		if len(out) == s.maxResults {
			break
		}
	}

	zap.L().Debug("search: candidates found",
		zap.String("company", companyName),
		zap.Int("results", len(resp.Data)),
		zap.Int("profiles", len(out)),
	)
	return out, nil
}

// ProfileURL canonicalizes a personal profile URL. Company pages, posts
// and anything outside the profile site report false.
func ProfileURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host != profileSite && !strings.HasSuffix(host, "."+profileSite) {
		return "", false
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) < 2 || segs[0] != "in" || segs[1] == "" {
		return "", false
	}
	slug, err := url.PathUnescape(segs[1])
	if err != nil {
		slug = segs[1]
	}
	return "https://www." + profileSite + "/in/" + strings.ToLower(slug), true
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
