package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/munivars/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Search    SearchConfig         `yaml:"search" mapstructure:"search"`
	LLM       LLMConfig            `yaml:"llm" mapstructure:"llm"`
	Fetch     FetchConfig          `yaml:"fetch" mapstructure:"fetch"`
	Crawl     CrawlConfig          `yaml:"crawl" mapstructure:"crawl"`
	Pipeline  PipelineConfig       `yaml:"pipeline" mapstructure:"pipeline"`
	FreeTier  model.FreeTierLimits `yaml:"free_tier" mapstructure:"free_tier"`
	Store     StoreConfig          `yaml:"store" mapstructure:"store"`
	Jina      JinaConfig           `yaml:"jina" mapstructure:"jina"`
	Firecrawl FirecrawlConfig      `yaml:"firecrawl" mapstructure:"firecrawl"`
	OCR       OCRConfig            `yaml:"ocr" mapstructure:"ocr"`
	Server    ServerConfig         `yaml:"server" mapstructure:"server"`
	Events    EventsConfig         `yaml:"events" mapstructure:"events"`
	Metrics   MetricsConfig        `yaml:"metrics" mapstructure:"metrics"`
	Log       LogConfig            `yaml:"log" mapstructure:"log"`
}

// SearchConfig selects and configures the search backends.
type SearchConfig struct {
	Provider     string       `yaml:"provider" mapstructure:"provider"`
	Fallback     string       `yaml:"fallback" mapstructure:"fallback"`
	Count        int          `yaml:"count" mapstructure:"count"`
	TimeoutSecs  int          `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries      int          `yaml:"retries" mapstructure:"retries"`
	CacheTTLMins int          `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	Brave        BraveConfig  `yaml:"brave" mapstructure:"brave"`
	Google       GoogleConfig `yaml:"google" mapstructure:"google"`
}

// BraveConfig holds Brave Search API settings.
type BraveConfig struct {
	Key     string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GoogleConfig holds Google Custom Search settings.
type GoogleConfig struct {
	Key     string `yaml:"api_key" mapstructure:"api_key"`
	CX      string `yaml:"cx" mapstructure:"cx"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// LLMConfig selects and configures the language model backend.
type LLMConfig struct {
	Provider    string          `yaml:"provider" mapstructure:"provider"`
	TimeoutSecs int             `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Gemini      GeminiConfig    `yaml:"gemini" mapstructure:"gemini"`
	Anthropic   AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	Key     string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// FetchConfig configures page fetching and the per-service fetch flow.
type FetchConfig struct {
	Concurrency         int    `yaml:"concurrency" mapstructure:"concurrency"`
	DelayMS             int    `yaml:"delay_ms" mapstructure:"delay_ms"`
	TimeoutSecs         int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CacheTTLMins        int    `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	UserAgent           string `yaml:"user_agent" mapstructure:"user_agent"`
	MaxPageChars        int    `yaml:"max_page_chars" mapstructure:"max_page_chars"`
	MaxPageFetches      int    `yaml:"max_page_fetches" mapstructure:"max_page_fetches"`
	MaxVariableSearches int    `yaml:"max_variable_searches" mapstructure:"max_variable_searches"`
	MaxPDFs             int    `yaml:"max_pdfs" mapstructure:"max_pdfs"`
	Suggestions         bool   `yaml:"suggestions" mapstructure:"suggestions"`
}

// CrawlConfig configures deep-search escalation.
type CrawlConfig struct {
	Enabled           bool     `yaml:"enabled" mapstructure:"enabled"`
	MaxPages          int      `yaml:"max_pages" mapstructure:"max_pages"`
	MaxLinksPerPage   int      `yaml:"max_links_per_page" mapstructure:"max_links_per_page"`
	TimeoutSecs       int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MinTextLength     int      `yaml:"min_text_length" mapstructure:"min_text_length"`
	MaxRefinedQueries int      `yaml:"max_refined_queries" mapstructure:"max_refined_queries"`
	RespectRobots     bool     `yaml:"respect_robots" mapstructure:"respect_robots"`
	ExcludePaths      []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// PipelineConfig configures the orchestrator defaults.
type PipelineConfig struct {
	AutoApprove       bool    `yaml:"auto_approve" mapstructure:"auto_approve"`
	Threshold         float64 `yaml:"threshold" mapstructure:"threshold"`
	ServiceDelayMS    int     `yaml:"service_delay_ms" mapstructure:"service_delay_ms"`
	FreeTierDelayMS   int     `yaml:"free_tier_delay_ms" mapstructure:"free_tier_delay_ms"`
	SignificantChange float64 `yaml:"significant_change" mapstructure:"significant_change"`
}

// StoreConfig configures document and run persistence.
type StoreConfig struct {
	DataDir           string `yaml:"data_dir" mapstructure:"data_dir"`
	Driver            string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL       string `yaml:"database_url" mapstructure:"database_url"`
	CountCacheTTLSecs int    `yaml:"count_cache_ttl_secs" mapstructure:"count_cache_ttl_secs"`
}

// SQLitePath is the run history database inside the data dir.
func (c StoreConfig) SQLitePath() string {
	return filepath.Join(c.DataDir, "munivars.db")
}

// JinaConfig holds Jina AI Reader settings (render fallback only).
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FirecrawlConfig holds Firecrawl API settings (render fallback only).
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OCRConfig selects the text extractor used for PDFs without a text layer.
// Provider is "none", "local" (pdftotext) or "mistral".
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_key" mapstructure:"mistral_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// ServerConfig configures the read API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// EventsConfig configures the optional NATS event sink.
type EventsConfig struct {
	NatsURL     string `yaml:"nats_url" mapstructure:"nats_url"`
	NatsSubject string `yaml:"nats_subject" mapstructure:"nats_subject"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultFreeTier are the published free-tier quotas of the search and LLM
// providers.
var DefaultFreeTier = model.FreeTierLimits{
	SearchQueries:      100,
	LLMPerMinute:       15,
	LLMPerDay:          1500,
	MaxPagesPerService: 2,
}

// ConservativeFreeTier is what the CLI uses with --free-tier.
var ConservativeFreeTier = model.FreeTierLimits{
	SearchQueries:      10,
	LLMPerMinute:       5,
	LLMPerDay:          50,
	MaxPagesPerService: 1,
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MUNIVARS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("search.provider", "auto")
	v.SetDefault("search.fallback", "auto")
	v.SetDefault("search.count", 5)
	v.SetDefault("search.timeout_secs", 15)
	v.SetDefault("search.retries", 2)
	v.SetDefault("search.cache_ttl_mins", 30)
	v.SetDefault("search.brave.api_key", "")
	v.SetDefault("search.brave.base_url", "https://api.search.brave.com/res/v1")
	v.SetDefault("search.google.api_key", "")
	v.SetDefault("search.google.cx", "")
	v.SetDefault("search.google.base_url", "https://www.googleapis.com/customsearch/v1")
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.timeout_secs", 60)
	v.SetDefault("llm.gemini.api_key", "")
	v.SetDefault("llm.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("llm.gemini.model", "gemini-2.0-flash")
	v.SetDefault("llm.anthropic.key", "")
	v.SetDefault("llm.anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("fetch.concurrency", 2)
	v.SetDefault("fetch.delay_ms", 500)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.cache_ttl_mins", 60)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; MunivarsBot/1.0)")
	v.SetDefault("fetch.max_page_chars", 15000)
	v.SetDefault("fetch.max_page_fetches", 3)
	v.SetDefault("fetch.max_variable_searches", 5)
	v.SetDefault("fetch.max_pdfs", 5)
	v.SetDefault("fetch.suggestions", true)
	v.SetDefault("crawl.enabled", true)
	v.SetDefault("crawl.max_pages", 3)
	v.SetDefault("crawl.max_links_per_page", 5)
	v.SetDefault("crawl.timeout_secs", 30)
	v.SetDefault("crawl.min_text_length", 100)
	v.SetDefault("crawl.max_refined_queries", 2)
	v.SetDefault("crawl.respect_robots", true)
	v.SetDefault("crawl.exclude_paths", []string{"/login*", "/signin*", "/register*", "/cart*", "/checkout*", "/admin*"})
	v.SetDefault("pipeline.auto_approve", false)
	v.SetDefault("pipeline.threshold", 0.8)
	v.SetDefault("pipeline.service_delay_ms", 1000)
	v.SetDefault("pipeline.free_tier_delay_ms", 2000)
	v.SetDefault("pipeline.significant_change", 0.5)
	v.SetDefault("free_tier.search_queries", DefaultFreeTier.SearchQueries)
	v.SetDefault("free_tier.llm_per_minute", DefaultFreeTier.LLMPerMinute)
	v.SetDefault("free_tier.llm_per_day", DefaultFreeTier.LLMPerDay)
	v.SetDefault("free_tier.max_pages_per_service", DefaultFreeTier.MaxPagesPerService)
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.count_cache_ttl_secs", 300)
	v.SetDefault("jina.key", "")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("firecrawl.key", "")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("ocr.provider", "none")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_key", "")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.nats_subject", "munivars.pipeline.events")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

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

// Validate checks the configuration for the given command mode. "fetch"
// requires a search backend and an LLM key; "store" only needs a data dir.
func (c *Config) Validate(mode string) error {
	if c.Store.DataDir == "" {
		return eris.New("config: store.data_dir is required")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required for postgres")
	}
	if mode != "fetch" {
		return nil
	}
	if c.Search.Brave.Key == "" && (c.Search.Google.Key == "" || c.Search.Google.CX == "") {
		return eris.New("config: no search backend configured (set search.brave.api_key or search.google.api_key + search.google.cx)")
	}
	switch c.LLM.Provider {
	case "gemini":
		if c.LLM.Gemini.Key == "" {
			return eris.New("config: llm.gemini.api_key is required")
		}
	case "anthropic":
		if c.LLM.Anthropic.Key == "" {
			return eris.New("config: llm.anthropic.key is required")
		}
	default:
		return eris.Errorf("config: unknown llm.provider %q", c.LLM.Provider)
	}
	if c.Pipeline.Threshold < 0 || c.Pipeline.Threshold > 1 {
		return eris.Errorf("config: pipeline.threshold must be within [0,1], got %v", c.Pipeline.Threshold)
	}
	switch c.OCR.Provider {
	case "", "none", "local":
	case "mistral":
		if c.OCR.MistralKey == "" {
			return eris.New("config: ocr.mistral_key is required for the mistral provider")
		}
	default:
		return eris.Errorf("config: unknown ocr.provider %q", c.OCR.Provider)
	}
	return nil
}

// Seconds converts an integer seconds setting to a duration, falling back
// to def when unset.
func Seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// Millis converts an integer milliseconds setting to a duration. Zero and
// negative values mean no delay.
func Millis(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Millisecond
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
