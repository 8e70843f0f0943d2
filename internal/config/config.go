package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Env  string `yaml:"env"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type CacheConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Mode      string `yaml:"mode"`
	RedisURL  string `yaml:"redisUrl"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	TTLSec    int    `yaml:"ttlSec"`
	KeyPrefix string `yaml:"keyPrefix"`
}

type ScraperConfig struct {
	UserAgent        string `yaml:"userAgent"`
	RotateUserAgents bool   `yaml:"rotateUserAgents"`
	HTTPTimeoutMs    int    `yaml:"httpTimeoutMs"`
	ReaderBaseURL    string `yaml:"readerBaseURL"`
	ReaderTimeoutMs  int    `yaml:"readerTimeoutMs"`
	BrowserTimeoutMs int    `yaml:"browserTimeoutMs"`
	AgentTimeoutMs   int    `yaml:"agentTimeoutMs"`
	ScrapeTimeoutMs  int    `yaml:"scrapeTimeoutMs"`
	MinContentLength int    `yaml:"minContentLength"`
	BrowserURL       string `yaml:"browserURL"`
	ScreenshotDir    string `yaml:"screenshotDir"`
}

type ProxyConfig struct {
	URLs                   []string `yaml:"urls"`
	RotationStrategy       string   `yaml:"rotationStrategy"`
	HealthCheckIntervalSec int      `yaml:"healthCheckIntervalSec"`
	HealthCheckTimeoutMs   int      `yaml:"healthCheckTimeoutMs"`
	MaxConsecutiveFailures int      `yaml:"maxConsecutiveFailures"`
}

type RateLimitConfig struct {
	Enabled     bool `yaml:"enabled"`
	WindowMs    int  `yaml:"windowMs"`
	MaxRequests int  `yaml:"maxRequests"`
}

type BreakerConfig struct {
	Enabled                  bool `yaml:"enabled"`
	TimeoutMs                int  `yaml:"timeoutMs"`
	ErrorThresholdPercentage int  `yaml:"errorThresholdPercentage"`
	ResetTimeoutMs           int  `yaml:"resetTimeoutMs"`
	MonitoringPeriodMs       int  `yaml:"monitoringPeriodMs"`
	MinimumRequests          int  `yaml:"minimumRequests"`
}

type ExtractionConfig struct {
	CosineThreshold        float64  `yaml:"cosineThreshold"`
	CosineMaxEntities      int      `yaml:"cosineMaxEntities"`
	CosineMinSegmentLength int      `yaml:"cosineMinSegmentLength"`
	RuleBasedConfidence    float64  `yaml:"ruleBasedConfidence"`
	RuleBasedStrictMode    bool     `yaml:"ruleBasedStrictMode"`
	PreferredStrategyOrder []string `yaml:"preferredStrategyOrder"`
}

type ValidationConfig struct {
	Strategy     string  `yaml:"strategy"`
	MinScore     float64 `yaml:"minScore"`
	MinLength    int     `yaml:"minLength"`
	CacheEnabled bool    `yaml:"cacheEnabled"`
}

type AgentConfig struct {
	MaxPages               int  `yaml:"maxPages"`
	MaxDepth               int  `yaml:"maxDepth"`
	MaxAjaxEndpoints       int  `yaml:"maxAjaxEndpoints"`
	FollowExternalLinks    bool `yaml:"followExternalLinks"`
	DelayBetweenRequestsMs int  `yaml:"delayBetweenRequestsMs"`
	RespectRobots          bool `yaml:"respectRobots"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type GoogleLLMConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type LLMConfig struct {
	DefaultProvider string          `yaml:"defaultProvider"`
	OpenAI          OpenAIConfig    `yaml:"openai"`
	Anthropic       AnthropicConfig `yaml:"anthropic"`
	Google          GoogleLLMConfig `yaml:"google"`
}

type WorkerConfig struct {
	MaxConcurrentScrapes int `yaml:"maxConcurrentScrapes"`
	MaxRetries           int `yaml:"maxRetries"`
	RetryBackoffBaseMs   int `yaml:"retryBackoffBaseMs"`
}

// RetentionConfig controls TTL-like deletion of old terminal jobs so
// that the database does not grow without bound over time.
type RetentionConfig struct {
	Enabled                bool `yaml:"enabled"`
	CleanupIntervalMinutes int  `yaml:"cleanupIntervalMinutes"`
	JobDays                int  `yaml:"jobDays"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Cache      CacheConfig      `yaml:"cache"`
	Scraper    ScraperConfig    `yaml:"scraper"`
	Proxy      ProxyConfig      `yaml:"proxy"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Validation ValidationConfig `yaml:"validation"`
	Agent      AgentConfig      `yaml:"agent"`
	LLM        LLMConfig        `yaml:"llm"`
	Worker     WorkerConfig     `yaml:"worker"`
	Retention  RetentionConfig  `yaml:"retention"`
}

// Default returns a config populated with the engine's baseline tuning.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 3000, Env: "development"},
		Cache: CacheConfig{
			Enabled:   true,
			Mode:      "enabled",
			RedisURL:  "redis://localhost:6379",
			TTLSec:    3600,
			KeyPrefix: "prowler:",
		},
		Scraper: ScraperConfig{
			UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			RotateUserAgents: true,
			HTTPTimeoutMs:    10000,
			ReaderBaseURL:    "https://r.jina.ai",
			ReaderTimeoutMs:  15000,
			BrowserTimeoutMs: 15000,
			AgentTimeoutMs:   120000,
			ScrapeTimeoutMs:  60000,
			MinContentLength: 200,
			ScreenshotDir:    "screenshots",
		},
		Proxy: ProxyConfig{
			RotationStrategy:       "round_robin",
			HealthCheckIntervalSec: 300,
			HealthCheckTimeoutMs:   10000,
			MaxConsecutiveFailures: 3,
		},
		RateLimit: RateLimitConfig{Enabled: true, WindowMs: 60000, MaxRequests: 100},
		Breaker: BreakerConfig{
			Enabled:                  true,
			TimeoutMs:                30000,
			ErrorThresholdPercentage: 50,
			ResetTimeoutMs:           30000,
			MonitoringPeriodMs:       60000,
			MinimumRequests:          5,
		},
		Extraction: ExtractionConfig{
			CosineThreshold:        0.3,
			CosineMaxEntities:      50,
			CosineMinSegmentLength: 20,
			RuleBasedConfidence:    0.7,
			PreferredStrategyOrder: []string{"llm", "rule_based", "cosine_similarity"},
		},
		Validation: ValidationConfig{
			Strategy:     "hybrid",
			MinScore:     0.5,
			MinLength:    200,
			CacheEnabled: true,
		},
		Agent: AgentConfig{
			MaxPages:               20,
			MaxDepth:               3,
			MaxAjaxEndpoints:       30,
			DelayBetweenRequestsMs: 500,
			RespectRobots:          true,
		},
		LLM:       LLMConfig{DefaultProvider: "google"},
		Worker:    WorkerConfig{MaxConcurrentScrapes: 5, MaxRetries: 3, RetryBackoffBaseMs: 1000},
		Retention: RetentionConfig{Enabled: true, CleanupIntervalMinutes: 60, JobDays: 7},
	}
}

// Load reads the yaml config at path, falling back to defaults when the
// file is absent, then applies environment overrides.
func Load(path string) *Config {
	cfg := Default()

	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			log.Fatalf("failed to decode config: %v", err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("failed to open config file: %v", err)
	}

	ApplyEnv(cfg)
	return cfg
}

// ApplyEnv overlays the canonical environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	envStr("NODE_ENV", &cfg.Server.Env)
	envInt("PORT", &cfg.Server.Port)

	envStr("MONGODB_URI", &cfg.Database.DSN)
	envStr("DATABASE_DSN", &cfg.Database.DSN)

	envStr("REDIS_URL", &cfg.Cache.RedisURL)
	envStr("REDIS_PASSWORD", &cfg.Cache.Password)
	envInt("REDIS_DB", &cfg.Cache.DB)
	envBool("CACHE_ENABLED", &cfg.Cache.Enabled)
	envInt("CACHE_TTL", &cfg.Cache.TTLSec)
	envStr("CACHE_MODE", &cfg.Cache.Mode)

	envInt("MAX_CONCURRENT_SCRAPES", &cfg.Worker.MaxConcurrentScrapes)
	envInt("MAX_RETRIES", &cfg.Worker.MaxRetries)
	envInt("RETRY_BACKOFF_BASE", &cfg.Worker.RetryBackoffBaseMs)

	envInt("SCRAPE_TIMEOUT", &cfg.Scraper.ScrapeTimeoutMs)
	envInt("HTTP_TIMEOUT", &cfg.Scraper.HTTPTimeoutMs)
	envInt("JINA_TIMEOUT", &cfg.Scraper.ReaderTimeoutMs)
	envInt("PLAYWRIGHT_TIMEOUT", &cfg.Scraper.BrowserTimeoutMs)
	envInt("AI_AGENT_TIMEOUT", &cfg.Scraper.AgentTimeoutMs)
	envInt("MIN_CONTENT_LENGTH", &cfg.Scraper.MinContentLength)
	envStr("USER_AGENT", &cfg.Scraper.UserAgent)
	envBool("ROTATE_USER_AGENTS", &cfg.Scraper.RotateUserAgents)
	envStr("JINA_READER_URL", &cfg.Scraper.ReaderBaseURL)

	if v := os.Getenv("PROXY_URLS"); v != "" {
		parts := strings.Split(v, ",")
		urls := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				urls = append(urls, p)
			}
		}
		cfg.Proxy.URLs = urls
	} else if v := os.Getenv("PROXY_URL"); v != "" {
		cfg.Proxy.URLs = []string{v}
	}
	envInt("PROXY_HEALTH_CHECK_INTERVAL", &cfg.Proxy.HealthCheckIntervalSec)
	envInt("PROXY_HEALTH_CHECK_TIMEOUT", &cfg.Proxy.HealthCheckTimeoutMs)
	envStr("PROXY_ROTATION_STRATEGY", &cfg.Proxy.RotationStrategy)

	envInt("RATE_LIMIT_WINDOW_MS", &cfg.RateLimit.WindowMs)
	envInt("RATE_LIMIT_MAX_REQUESTS", &cfg.RateLimit.MaxRequests)
	envBool("RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)

	envInt("CIRCUIT_BREAKER_TIMEOUT", &cfg.Breaker.TimeoutMs)
	envInt("CIRCUIT_BREAKER_ERROR_THRESHOLD", &cfg.Breaker.ErrorThresholdPercentage)
	envInt("CIRCUIT_BREAKER_RESET_TIMEOUT", &cfg.Breaker.ResetTimeoutMs)
	envInt("CIRCUIT_BREAKER_MIN_REQUESTS", &cfg.Breaker.MinimumRequests)

	envFloat("COSINE_SIMILARITY_THRESHOLD", &cfg.Extraction.CosineThreshold)
	envInt("COSINE_SIMILARITY_MAX_ENTITIES", &cfg.Extraction.CosineMaxEntities)
	envInt("COSINE_SIMILARITY_MIN_SEGMENT_LENGTH", &cfg.Extraction.CosineMinSegmentLength)
	envFloat("RULE_BASED_DEFAULT_CONFIDENCE", &cfg.Extraction.RuleBasedConfidence)
	envBool("RULE_BASED_STRICT_MODE", &cfg.Extraction.RuleBasedStrictMode)

	envStr("CONTENT_VALIDATION_STRATEGY", &cfg.Validation.Strategy)
	envFloat("CONTENT_VALIDATION_MIN_SCORE", &cfg.Validation.MinScore)
	envInt("CONTENT_VALIDATION_MIN_LENGTH", &cfg.Validation.MinLength)
	envBool("CONTENT_VALIDATION_CACHE_ENABLED", &cfg.Validation.CacheEnabled)

	envInt("AI_AGENT_MAX_PAGES", &cfg.Agent.MaxPages)
	envInt("AI_AGENT_MAX_DEPTH", &cfg.Agent.MaxDepth)
	envInt("AI_AGENT_MAX_AJAX_ENDPOINTS", &cfg.Agent.MaxAjaxEndpoints)
	envBool("AI_AGENT_FOLLOW_EXTERNAL_LINKS", &cfg.Agent.FollowExternalLinks)
	envInt("AI_AGENT_DELAY_BETWEEN_REQUESTS", &cfg.Agent.DelayBetweenRequestsMs)

	envStr("LLM_DEFAULT_PROVIDER", &cfg.LLM.DefaultProvider)
	envStr("OPENAI_API_KEY", &cfg.LLM.OpenAI.APIKey)
	envStr("OPENAI_BASE_URL", &cfg.LLM.OpenAI.BaseURL)
	envStr("OPENAI_MODEL", &cfg.LLM.OpenAI.Model)
	envStr("ANTHROPIC_API_KEY", &cfg.LLM.Anthropic.APIKey)
	envStr("ANTHROPIC_MODEL", &cfg.LLM.Anthropic.Model)
	envStr("GEMINI_API_KEY", &cfg.LLM.Google.APIKey)
	envStr("GEMINI_MODEL", &cfg.LLM.Google.Model)
}

func envStr(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}
}
