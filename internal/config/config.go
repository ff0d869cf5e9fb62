package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hpungsan/trove/internal/cost"
)

// Step cache backends.
const (
	StepCacheSQLite = "sqlite"
	StepCacheRedis  = "redis"
)

// Config holds application configuration.
type Config struct {
	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string `json:"log_level,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// MaxAttempts bounds whole-workflow retries before the terminal handler runs.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// RetryDelayMS is the initial backoff between workflow attempts.
	RetryDelayMS int `json:"retry_delay_ms,omitempty"`

	// WorkerConcurrency is how many items the worker processes at once.
	WorkerConcurrency int `json:"worker_concurrency,omitempty"`

	// WorkerPollSeconds is the worker's idle poll interval.
	WorkerPollSeconds int `json:"worker_poll_seconds,omitempty"`

	// Domains is the topic vocabulary the classifier may assign.
	// When set in a config file it replaces the default list.
	Domains []string `json:"domains,omitempty"`

	// DefaultDomain is the catch-all for unrecognized domains. Must be in Domains.
	DefaultDomain string `json:"default_domain,omitempty"`

	ClassifierModel string          `json:"classifier_model,omitempty"`
	ClassifierPrice cost.PriceTable `json:"classifier_price"`
	SocialModel     string          `json:"social_model,omitempty"`
	SocialPrice     cost.PriceTable `json:"social_price"`
	EmbeddingModel  string          `json:"embedding_model,omitempty"`

	// StepCache selects where memoized step results live: "sqlite" or "redis".
	StepCache         string `json:"step_cache,omitempty"`
	RedisAddress      string `json:"redis_address,omitempty"`
	StepCacheTTLHours int    `json:"step_cache_ttl_hours,omitempty"`

	// TranscriptURL is the base URL of the transcription service.
	TranscriptURL string `json:"transcript_url,omitempty"`

	// GitHubSearchRPS rate-limits code-host search requests.
	GitHubSearchRPS float64 `json:"github_search_rps,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// UserID owns items captured from the CLI and MCP server.
	UserID string `json:"user_id,omitempty"`

	// Secrets come from the environment only.
	GeminiAPIKey  string `json:"-"`
	GitHubToken   string `json:"-"`
	TelegramToken string `json:"-"`
	RedisPassword string `json:"-"`
}

// DefaultDomains is the built-in topic vocabulary.
var DefaultDomains = []string{
	"ai-ml", "software-engineering", "devops", "security", "data",
	"web", "mobile", "hardware", "science", "business", "design",
	"productivity", "other",
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:          "info",
		MaxAttempts:       3,
		RetryDelayMS:      500,
		WorkerConcurrency: 4,
		WorkerPollSeconds: 5,
		Domains:           append([]string(nil), DefaultDomains...),
		DefaultDomain:     "other",
		ClassifierModel:   "gemini-2.5-flash",
		ClassifierPrice:   cost.PriceTable{InputPerMillion: 0.30, OutputPerMillion: 2.50},
		SocialModel:       "gemini-2.5-pro",
		SocialPrice:       cost.PriceTable{InputPerMillion: 1.25, OutputPerMillion: 10.00},
		EmbeddingModel:    "gemini-embedding-001",
		StepCache:         StepCacheSQLite,
		StepCacheTTLHours: 72,
		GitHubSearchRPS:   0.5,
		UserID:            "local",
	}
}

// Load loads configuration from baseDir/config.json and the environment.
// .env files in baseDir and the working directory are loaded first; a
// missing file is not an error. Returns defaults if config.json doesn't exist.
func Load(baseDir string) (*Config, error) {
	if err := loadEnvFiles(baseDir); err != nil {
		return nil, err
	}
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles loads .env.local then .env; godotenv never overrides
// variables that are already set, so earlier files win.
func loadEnvFiles(baseDir string) error {
	candidates := []string{
		filepath.Join(baseDir, ".env.local"),
		filepath.Join(baseDir, ".env"),
		".env.local",
		".env",
	}
	for _, path := range candidates {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := firstEnv("TROVE_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := firstEnv("TROVE_GITHUB_TOKEN", "GITHUB_TOKEN"); v != "" {
		cfg.GitHubToken = v
	}
	if v := firstEnv("TROVE_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.TelegramToken = v
	}
	if v := os.Getenv("TROVE_REDIS_ADDRESS"); v != "" {
		cfg.RedisAddress = v
	}
	if v := os.Getenv("TROVE_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("TROVE_STEP_CACHE"); v != "" {
		cfg.StepCache = v
	}
	if v := os.Getenv("TROVE_TRANSCRIPT_URL"); v != "" {
		cfg.TranscriptURL = v
	}
	if v := os.Getenv("TROVE_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv("TROVE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TROVE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxAttempts = n
		}
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DefaultDomain) == "" {
		return errors.New("default_domain is required")
	}
	found := false
	for _, d := range c.Domains {
		if strings.EqualFold(strings.TrimSpace(d), c.DefaultDomain) {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("default_domain %q must be one of domains", c.DefaultDomain)
	}
	if c.StepCache != StepCacheSQLite && c.StepCache != StepCacheRedis {
		return fmt.Errorf("step_cache must be %q or %q, got %q", StepCacheSQLite, StepCacheRedis, c.StepCache)
	}
	if c.StepCache == StepCacheRedis && c.RedisAddress == "" {
		return errors.New("redis_address is required when step_cache is redis")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("user_id is required")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("max_attempts must be positive")
	}
	return nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; Domains is replaced when the
// overlay sets it; DisabledTools is merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := *base

	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)
	result.MaxAttempts = pickInt(overlay.MaxAttempts, base.MaxAttempts)
	result.RetryDelayMS = pickInt(overlay.RetryDelayMS, base.RetryDelayMS)
	result.WorkerConcurrency = pickInt(overlay.WorkerConcurrency, base.WorkerConcurrency)
	result.WorkerPollSeconds = pickInt(overlay.WorkerPollSeconds, base.WorkerPollSeconds)
	result.DefaultDomain = pickString(overlay.DefaultDomain, base.DefaultDomain)
	result.ClassifierModel = pickString(overlay.ClassifierModel, base.ClassifierModel)
	result.SocialModel = pickString(overlay.SocialModel, base.SocialModel)
	result.EmbeddingModel = pickString(overlay.EmbeddingModel, base.EmbeddingModel)
	result.StepCache = pickString(overlay.StepCache, base.StepCache)
	result.RedisAddress = pickString(overlay.RedisAddress, base.RedisAddress)
	result.StepCacheTTLHours = pickInt(overlay.StepCacheTTLHours, base.StepCacheTTLHours)
	result.TranscriptURL = pickString(overlay.TranscriptURL, base.TranscriptURL)
	result.UserID = pickString(overlay.UserID, base.UserID)
	if overlay.GitHubSearchRPS > 0 {
		result.GitHubSearchRPS = overlay.GitHubSearchRPS
	}

	if overlay.ClassifierPrice != (cost.PriceTable{}) {
		result.ClassifierPrice = overlay.ClassifierPrice
	}
	if overlay.SocialPrice != (cost.PriceTable{}) {
		result.SocialPrice = overlay.SocialPrice
	}

	if domains := cleanStringSlice(overlay.Domains); len(domains) > 0 {
		result.Domains = domains
	} else {
		result.Domains = cleanStringSlice(base.Domains)
	}
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return &result
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return strings.TrimSpace(overlay)
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func cleanStringSlice(a []string) []string {
	return mergeStringSlice(a, nil)
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string(nil), a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
