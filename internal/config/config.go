package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	IPInfo     IPInfoConfig     `yaml:"ipinfo" mapstructure:"ipinfo"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	ZeroBounce ZeroBounceConfig `yaml:"zerobounce" mapstructure:"zerobounce"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	DLQ        DLQConfig        `yaml:"dlq" mapstructure:"dlq"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// IPInfoConfig holds IPinfo API settings for company resolution.
type IPInfoConfig struct {
	Token        string `yaml:"token" mapstructure:"token"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	WhoisEnabled bool   `yaml:"whois_enabled" mapstructure:"whois_enabled"`
}

// JinaConfig holds Jina AI Reader and Search settings.
type JinaConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string  `yaml:"search_base_url" mapstructure:"search_base_url"`
	ReadRPS       float64 `yaml:"read_rps" mapstructure:"read_rps"`
}

// FirecrawlConfig holds Firecrawl API settings. When Key is empty, profile
// content is fetched through Jina Reader instead.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ZeroBounceConfig holds email verification API settings.
type ZeroBounceConfig struct {
	Key     string  `yaml:"key" mapstructure:"key"`
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	HaikuModel string `yaml:"haiku_model" mapstructure:"haiku_model"`
}

// PricingConfig holds per-call pricing used for cost attribution (USD).
type PricingConfig struct {
	IPInfoPerLookup     float64                 `yaml:"ipinfo_per_lookup" mapstructure:"ipinfo_per_lookup"`
	JinaPerSearch       float64                 `yaml:"jina_per_search" mapstructure:"jina_per_search"`
	JinaPerMTok         float64                 `yaml:"jina_per_mtok" mapstructure:"jina_per_mtok"`
	FirecrawlPerPage    float64                 `yaml:"firecrawl_per_page" mapstructure:"firecrawl_per_page"`
	ZeroBouncePerVerify float64                 `yaml:"zerobounce_per_verify" mapstructure:"zerobounce_per_verify"`
	PerplexityPerQuery  float64                 `yaml:"perplexity_per_query" mapstructure:"perplexity_per_query"`
	Anthropic           map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// ScoreWeights controls how sub-scores combine into a contact's confidence.
// Weights should sum to 1.
type ScoreWeights struct {
	TitleMatch float64 `yaml:"title_match" mapstructure:"title_match"`
	Company    float64 `yaml:"company" mapstructure:"company"`
	Location   float64 `yaml:"location" mapstructure:"location"`
	Recency    float64 `yaml:"recency" mapstructure:"recency"`
}

// TimeoutConfig holds the upper bound for each external stage, in seconds.
type TimeoutConfig struct {
	ResolveSecs int `yaml:"resolve_secs" mapstructure:"resolve_secs"`
	SearchSecs  int `yaml:"search_secs" mapstructure:"search_secs"`
	FetchSecs   int `yaml:"fetch_secs" mapstructure:"fetch_secs"`
	VerifySecs  int `yaml:"verify_secs" mapstructure:"verify_secs"` // per address; the email stage allows one per pattern
	InsightSecs int `yaml:"insight_secs" mapstructure:"insight_secs"`
	PersistSecs int `yaml:"persist_secs" mapstructure:"persist_secs"`
}

// PipelineConfig configures enrichment behavior.
type PipelineConfig struct {
	DefaultRole      string        `yaml:"default_role" mapstructure:"default_role"`
	MinConfidence    float64       `yaml:"min_confidence" mapstructure:"min_confidence"`
	MaxCandidates    int           `yaml:"max_candidates" mapstructure:"max_candidates"`
	FetchConcurrency int           `yaml:"fetch_concurrency" mapstructure:"fetch_concurrency"`
	DeepEnrich       bool          `yaml:"deep_enrich" mapstructure:"deep_enrich"`
	Weights          ScoreWeights  `yaml:"weights" mapstructure:"weights"`
	Timeouts         TimeoutConfig `yaml:"timeouts" mapstructure:"timeouts"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentVisits int `yaml:"max_concurrent_visits" mapstructure:"max_concurrent_visits"`
}

// DLQConfig configures the dead letter queue used by callers of the pipeline.
type DLQConfig struct {
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
	MaxRetries int  `yaml:"max_retries" mapstructure:"max_retries"`
}

// EventsConfig configures outcome notifications. Publishing is disabled
// when NATSURL is empty.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" mapstructure:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix"`
}

// MonitoringConfig configures the background alert checker run by serve.
type MonitoringConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	MinEnrichedRate     float64 `yaml:"min_enriched_rate" mapstructure:"min_enriched_rate"`
	DLQDepthThreshold   int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	CostThresholdUSD    float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the HTTP server. Requests must carry an HS256
// bearer token signed with JWTSecret.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	JWTSecret      string   `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VISITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("batch.max_concurrent_visits", 5)
	v.SetDefault("dlq.enabled", true)
	v.SetDefault("dlq.max_retries", 3)
	v.SetDefault("events.subject_prefix", "visitor.enrichment")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.min_enriched_rate", 0.05)
	v.SetDefault("monitoring.dlq_depth_threshold", 50)
	v.SetDefault("ipinfo.base_url", "https://ipinfo.io")
	v.SetDefault("ipinfo.whois_enabled", true)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("jina.read_rps", 5.0)
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("zerobounce.base_url", "https://api.zerobounce.net/v2")
	v.SetDefault("zerobounce.rps", 5.0)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("pipeline.default_role", "Senior executive or decision maker")
	v.SetDefault("pipeline.min_confidence", 0.3)
	v.SetDefault("pipeline.max_candidates", 10)
	v.SetDefault("pipeline.fetch_concurrency", 4)
	v.SetDefault("pipeline.deep_enrich", true)
	v.SetDefault("pipeline.weights.title_match", 0.5)
	v.SetDefault("pipeline.weights.company", 0.3)
	v.SetDefault("pipeline.weights.location", 0.1)
	v.SetDefault("pipeline.weights.recency", 0.1)
	v.SetDefault("pipeline.timeouts.resolve_secs", 10)
	v.SetDefault("pipeline.timeouts.search_secs", 20)
	v.SetDefault("pipeline.timeouts.fetch_secs", 90)
	v.SetDefault("pipeline.timeouts.verify_secs", 15)
	v.SetDefault("pipeline.timeouts.insight_secs", 60)
	v.SetDefault("pipeline.timeouts.persist_secs", 10)
	v.SetDefault("pricing.ipinfo_per_lookup", 0.001)
	v.SetDefault("pricing.jina_per_search", 0.002)
	v.SetDefault("pricing.jina_per_mtok", 0.02)
	v.SetDefault("pricing.firecrawl_per_page", 0.0063)
	v.SetDefault("pricing.zerobounce_per_verify", 0.008)
	v.SetDefault("pricing.perplexity_per_query", 0.005)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by a command are present.
// Mode is one of "enrich", "serve" or "store".
func (c *Config) Validate(mode string) error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch c.Store.Driver {
	case "postgres":
		require(c.Store.DatabaseURL != "", "store.database_url is required for postgres")
	case "sqlite":
	default:
		problems = append(problems, "store.driver must be postgres or sqlite")
	}

	if mode == "enrich" || mode == "serve" {
		require(c.IPInfo.Token != "", "ipinfo.token is required")
		require(c.Jina.Key != "", "jina.key is required")
		require(c.ZeroBounce.Key != "", "zerobounce.key is required")
		require(c.Pipeline.MinConfidence >= 0 && c.Pipeline.MinConfidence <= 1, "pipeline.min_confidence must be in [0,1]")
		t := c.Pipeline.Timeouts
		for _, st := range []struct {
			name string
			secs int
		}{
			{"resolve_secs", t.ResolveSecs},
			{"search_secs", t.SearchSecs},
			{"fetch_secs", t.FetchSecs},
			{"verify_secs", t.VerifySecs},
			{"insight_secs", t.InsightSecs},
			{"persist_secs", t.PersistSecs},
		} {
			require(st.secs > 0, "pipeline.timeouts."+st.name+" must be > 0")
		}
		w := c.Pipeline.Weights
		require(w.TitleMatch >= 0 && w.Company >= 0 && w.Location >= 0 && w.Recency >= 0, "pipeline.weights must be non-negative")
		if c.Pipeline.DeepEnrich {
			require(c.Perplexity.Key != "", "perplexity.key is required when pipeline.deep_enrich is set")
			require(c.Anthropic.Key != "", "anthropic.key is required when pipeline.deep_enrich is set")
		}
	}

	if mode == "serve" {
		require(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be between 1 and 65535")
		require(c.Server.JWTSecret != "", "server.jwt_secret is required")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
