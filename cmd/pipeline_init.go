package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/config"
	"github.com/sells-group/visitor-cli/internal/cost"
	"github.com/sells-group/visitor-cli/internal/email"
	"github.com/sells-group/visitor-cli/internal/events"
	"github.com/sells-group/visitor-cli/internal/insight"
	"github.com/sells-group/visitor-cli/internal/monitoring"
	"github.com/sells-group/visitor-cli/internal/pipeline"
	"github.com/sells-group/visitor-cli/internal/resolver"
	"github.com/sells-group/visitor-cli/internal/scorer"
	"github.com/sells-group/visitor-cli/internal/search"
	"github.com/sells-group/visitor-cli/internal/store"
	anthropicpkg "github.com/sells-group/visitor-cli/pkg/anthropic"
	"github.com/sells-group/visitor-cli/pkg/firecrawl"
	"github.com/sells-group/visitor-cli/pkg/ipinfo"
	"github.com/sells-group/visitor-cli/pkg/jina"
	"github.com/sells-group/visitor-cli/pkg/perplexity"
	"github.com/sells-group/visitor-cli/pkg/zerobounce"
)

const whoisTimeout = 5 * time.Second

// pipelineEnv holds the store, the pipeline and the outcome sinks needed by
// the enrich/batch/serve/dlq commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Metrics  *monitoring.Metrics
	Events   *events.Publisher
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Events != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pe.Events.Close(ctx)
		cancel()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config for mode, opens the store, builds every API
// client and the Pipeline. reg may be nil when metrics are not exported.
// Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string, reg prometheus.Registerer) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	if err := scorer.ValidateWeights(cfg.Pipeline.Weights); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	pub, err := events.Connect(cfg.Events)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if pub.Enabled() {
		zap.L().Info("outcome events enabled", zap.String("prefix", cfg.Events.SubjectPrefix))
	}

	var metrics *monitoring.Metrics
	if reg != nil {
		metrics = monitoring.NewMetrics(reg)
	}

	deps := buildDeps(cfg)
	deps.Store = st
	if metrics != nil {
		deps.Observer = metrics
	}

	return &pipelineEnv{
		Store:    st,
		Pipeline: pipeline.New(cfg.Pipeline, deps),
		Metrics:  metrics,
		Events:   pub,
	}, nil
}

// buildDeps constructs the enrichment stages from config. Store and
// Observer are left for the caller.
func buildDeps(c *config.Config) pipeline.Deps {
	ipinfoClient := ipinfo.NewClient(c.IPInfo.Token, ipinfo.WithBaseURL(c.IPInfo.BaseURL))
	var resolverOpts []resolver.Option
	if c.IPInfo.WhoisEnabled {
		resolverOpts = append(resolverOpts, resolver.WithWhois(resolver.NewWhois(whoisTimeout)))
	}

	jinaOpts := []jina.Option{jina.WithBaseURL(c.Jina.BaseURL)}
	if c.Jina.SearchBaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(c.Jina.SearchBaseURL))
	}
	if c.Jina.ReadRPS > 0 {
		jinaOpts = append(jinaOpts, jina.WithReadRateLimit(c.Jina.ReadRPS))
	}
	jinaClient := jina.NewClient(c.Jina.Key, jinaOpts...)

	fetchTimeout := time.Duration(c.Pipeline.Timeouts.FetchSecs) * time.Second
	fetcherOpts := []search.FetcherOption{search.WithConcurrency(c.Pipeline.FetchConcurrency)}
	if c.Firecrawl.Key != "" {
		fc := firecrawl.NewClient(c.Firecrawl.Key, firecrawl.WithBaseURL(c.Firecrawl.BaseURL))
		fetcherOpts = append(fetcherOpts, search.WithFirecrawl(fc, firecrawl.WithPollTimeout(fetchTimeout)))
		zap.L().Debug("profile content via firecrawl batch scrape")
	}

	zbOpts := []zerobounce.Option{zerobounce.WithBaseURL(c.ZeroBounce.BaseURL)}
	if c.ZeroBounce.RPS > 0 {
		zbOpts = append(zbOpts, zerobounce.WithRateLimit(c.ZeroBounce.RPS))
	}
	var verifyOpts []email.VerifierOption
	if c.Pipeline.Timeouts.VerifySecs > 0 {
		verifyOpts = append(verifyOpts, email.WithPerCallTimeout(time.Duration(c.Pipeline.Timeouts.VerifySecs)*time.Second))
	}
	verifier := email.NewVerifier(zerobounce.NewClient(c.ZeroBounce.Key, zbOpts...), verifyOpts...)

	deps := pipeline.Deps{
		Resolver: resolver.New(ipinfoClient, resolverOpts...),
		Searcher: search.NewSearcher(jinaClient, c.Pipeline.MaxCandidates),
		Fetcher:  search.NewFetcher(jinaClient, fetcherOpts...),
		Scorer:   scorer.New(c.Pipeline.Weights, c.Pipeline.MinConfidence),
		Verifier: verifier,
		Costs:    cost.NewCalculator(costRates(c.Pricing)),
	}

	if c.Pipeline.DeepEnrich && c.Perplexity.Key != "" && c.Anthropic.Key != "" {
		pplx := perplexity.NewClient(c.Perplexity.Key,
			perplexity.WithBaseURL(c.Perplexity.BaseURL),
			perplexity.WithModel(c.Perplexity.Model),
		)
		ai := anthropicpkg.NewClient(c.Anthropic.Key)
		deps.Enricher = insight.New(pplx, ai, c.Anthropic.HaikuModel)
	}

	return deps
}

// costRates maps configured pricing onto calculator rates, keeping the
// built-in model table for models the config does not price.
func costRates(p config.PricingConfig) cost.Rates {
	rates := cost.DefaultRates()
	if p.IPInfoPerLookup > 0 {
		rates.IPInfoPerLookup = p.IPInfoPerLookup
	}
	if p.JinaPerSearch > 0 {
		rates.JinaPerSearch = p.JinaPerSearch
	}
	if p.JinaPerMTok > 0 {
		rates.JinaPerMTok = p.JinaPerMTok
	}
	if p.FirecrawlPerPage > 0 {
		rates.FirecrawlPerPage = p.FirecrawlPerPage
	}
	if p.ZeroBouncePerVerify > 0 {
		rates.ZeroBouncePerVerify = p.ZeroBouncePerVerify
	}
	if p.PerplexityPerQuery > 0 {
		rates.PerplexityPerQuery = p.PerplexityPerQuery
	}
	for model, mp := range p.Anthropic {
		rates.Anthropic[model] = cost.ModelRate{Input: mp.Input, Output: mp.Output}
	}
	return rates
}
