package search

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/pkg/firecrawl"
	"github.com/sells-group/visitor-cli/pkg/jina"
)

const (
	defaultFetchConcurrency = 4
	defaultPerURLTimeout    = 30 * time.Second
	minProfileLength        = 200
)

// Usage reports what a FetchAll call consumed, for cost attribution.
type Usage struct {
	Pages   int // pages returned with content
	Credits int // Firecrawl credits billed
	Tokens  int // Jina Reader tokens billed
}

// Fetcher retrieves profile content. With a Firecrawl client it submits one
// batch scrape; otherwise it reads each URL through Jina Reader with bounded
// concurrency.
type Fetcher struct {
	firecrawl   firecrawl.Client
	jina        jina.Client
	concurrency int
	perURL      time.Duration
	pollOpts    []firecrawl.PollOption
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithFirecrawl switches the fetcher to Firecrawl batch scraping.
func WithFirecrawl(c firecrawl.Client, pollOpts ...firecrawl.PollOption) FetcherOption {
	return func(f *Fetcher) {
		f.firecrawl = c
		f.pollOpts = pollOpts
	}
}

// WithConcurrency bounds parallel Jina reads.
func WithConcurrency(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithPerURLTimeout bounds each Jina read. A read that times out is dropped.
func WithPerURLTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.perURL = d
		}
	}
}

// NewFetcher creates a Fetcher that reads through Jina unless WithFirecrawl
// is given.
func NewFetcher(jinaClient jina.Client, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		jina:        jinaClient,
		concurrency: defaultFetchConcurrency,
		perURL:      defaultPerURLTimeout,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// FetchAll fills in Content for each candidate. Candidates whose page could
// not be fetched, or came back as a sign-in wall, are omitted. The order of
// the input is preserved. An error is returned only when the batch service
// itself fails.
func (f *Fetcher) FetchAll(ctx context.Context, cands []model.CandidateContact) ([]model.CandidateContact, Usage, error) {
	if len(cands) == 0 {
		return nil, Usage{}, nil
	}
	if f.firecrawl != nil {
		return f.fetchBatch(ctx, cands)
	}
	return f.fetchEach(ctx, cands)
}

func (f *Fetcher) fetchBatch(ctx context.Context, cands []model.CandidateContact) ([]model.CandidateContact, Usage, error) {
	urls := make([]string, len(cands))
	for i, c := range cands {
		urls[i] = c.ProfileURL
	}

	resp, err := firecrawl.ScrapeAll(ctx, f.firecrawl, urls, f.pollOpts...)
	if err != nil {
		return nil, Usage{}, eris.Wrap(err, "search: firecrawl batch")
	}

	pages := make(map[string]string, len(resp.Data))
	for _, p := range resp.Data {
		if !p.OK() {
			zap.L().Debug("search: page not scraped",
				zap.String("url", p.Source()), zap.String("error", p.Metadata.Error))
			continue
		}
		pages[urlKey(p.Source())] = p.Markdown
	}

	usage := Usage{Credits: resp.CreditsUsed}
	var out []model.CandidateContact
	for _, c := range cands {
		md, ok := pages[urlKey(c.ProfileURL)]
		if !ok || isAuthWall(md) {
			continue
		}
		c.Content = md
		out = append(out, c)
	}
	usage.Pages = len(out)
	return out, usage, nil
}

func (f *Fetcher) fetchEach(ctx context.Context, cands []model.CandidateContact) ([]model.CandidateContact, Usage, error) {
	contents := make([]string, len(cands))
	tokens := make([]int, len(cands))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, c := range cands {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, f.perURL)
			defer cancel()

			resp, err := f.jina.Read(rctx, c.ProfileURL)
			if err != nil {
				zap.L().Debug("search: read failed", zap.String("url", c.ProfileURL), zap.Error(err))
				return nil
			}
			tokens[i] = resp.Data.Usage.Tokens
			contents[i] = resp.Data.Content
			return nil
		})
	}
	_ = g.Wait()

	var usage Usage
	var out []model.CandidateContact
	for i, c := range cands {
		usage.Tokens += tokens[i]
		if isAuthWall(contents[i]) {
			continue
		}
		c.Content = contents[i]
		out = append(out, c)
	}
	usage.Pages = len(out)
	return out, usage, nil
}

func urlKey(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.TrimRight(u, "/")
}

var authWallMarkers = []string{
	"authwall",
	"login_required",
	"sign up to view",
	"join now to see",
	"please log in",
}

// isAuthWall reports whether content is missing, too short to be a profile
// or a sign-in interstitial.
func isAuthWall(content string) bool {
	if len(strings.TrimSpace(content)) < minProfileLength {
		return true
	}
	lower := strings.ToLower(content)
	for _, m := range authWallMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
