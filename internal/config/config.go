package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	BodyLimitMB int    `yaml:"bodyLimitMB"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
	MaxIdleConns int    `yaml:"maxIdleConns"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// SessionConfig controls the browser session cookie issued after a
// passkey login. An empty Secret falls back to AuthConfig.JWTSecret.
type SessionConfig struct {
	Secret     string `yaml:"secret"`
	CookieName string `yaml:"cookieName"`
	TTLMinutes int    `yaml:"ttlMinutes"`
	Insecure   bool   `yaml:"insecure"`
}

// AuthConfig holds the shared secret used by the hosted auth platform to
// sign bearer tokens.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwtSecret"`
	Issuer    string        `yaml:"issuer"`
	Session   SessionConfig `yaml:"session"`
}

type PasskeyConfig struct {
	RPID          string   `yaml:"rpID"`
	RPDisplayName string   `yaml:"rpDisplayName"`
	RPOrigins     []string `yaml:"rpOrigins"`
}

type RateLimitConfig struct {
	ClipPerMinute int `yaml:"clipPerMinute"`
}

type ScraperConfig struct {
	UserAgent    string `yaml:"userAgent"`
	TimeoutMs    int    `yaml:"timeoutMs"`
	MaxChars     int    `yaml:"maxChars"`
	MaxBodyBytes int64  `yaml:"maxBodyBytes"`
}

type RobotsConfig struct {
	Respect bool `yaml:"respect"`
}

type RodConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BrowserURL string `yaml:"browserURL"`
	TimeoutMs  int    `yaml:"timeoutMs"`
}

type YouTubeConfig struct {
	Languages []string `yaml:"languages"`
	TimeoutMs int      `yaml:"timeoutMs"`
}

type InstagramConfig struct {
	OEmbedURL     string `yaml:"oembedURL"`
	AccessToken   string `yaml:"accessToken"`
	MaxImageBytes int64  `yaml:"maxImageBytes"`
	TimeoutMs     int    `yaml:"timeoutMs"`
}

// LLMConfig selects the model provider and the ordered list of models tried
// by the normalizer. Later models are used only when earlier ones report
// overload.
type LLMConfig struct {
	Provider        string   `yaml:"provider"`
	Models          []string `yaml:"models"`
	SharedAPIKey    string   `yaml:"sharedAPIKey"`
	BaseURL         string   `yaml:"baseURL"`
	TimeoutMs       int      `yaml:"timeoutMs"`
	MaxOutputTokens int      `yaml:"maxOutputTokens"`
}

type UsageConfig struct {
	DailyLimit int `yaml:"dailyLimit"`
}

type BulkConfig struct {
	MaxURLs int `yaml:"maxURLs"`
	DelayMs int `yaml:"delayMs"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UsePathStyle    bool   `yaml:"usePathStyle"`
	PresignMinutes  int    `yaml:"presignMinutes"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

// Enabled reports whether uploaded images are persisted to object storage.
func (s StorageConfig) Enabled() bool {
	return s.S3.Bucket != ""
}

type WorkerConfig struct {
	MaxConcurrentJobs int `yaml:"maxConcurrentJobs"`
	PollIntervalMs    int `yaml:"pollIntervalMs"`
	// LeaseMinutes is how long a running job may go without a heartbeat
	// before it is requeued.
	LeaseMinutes int `yaml:"leaseMinutes"`
}

// RetentionConfig controls deletion of finished bulk jobs.
type RetentionConfig struct {
	Enabled                bool `yaml:"enabled"`
	CleanupIntervalMinutes int  `yaml:"cleanupIntervalMinutes"`
	JobDays                int  `yaml:"jobDays"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Passkey   PasskeyConfig   `yaml:"passkey"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Robots    RobotsConfig    `yaml:"robots"`
	Rod       RodConfig       `yaml:"rod"`
	YouTube   YouTubeConfig   `yaml:"youtube"`
	Instagram InstagramConfig `yaml:"instagram"`
	LLM       LLMConfig       `yaml:"llm"`
	Usage     UsageConfig     `yaml:"usage"`
	Bulk      BulkConfig      `yaml:"bulk"`
	Storage   StorageConfig   `yaml:"storage"`
	Worker    WorkerConfig    `yaml:"worker"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Load decodes the YAML file at path, applies .env and environment
// overrides, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&c.Database.DSN, "CLIPNOTE_DATABASE_DSN")
	override(&c.Redis.URL, "CLIPNOTE_REDIS_URL")
	override(&c.Auth.JWTSecret, "CLIPNOTE_JWT_SECRET")
	override(&c.LLM.SharedAPIKey, "GEMINI_API_KEY")
	override(&c.Storage.S3.AccessKeyID, "CLIPNOTE_S3_ACCESS_KEY_ID")
	override(&c.Storage.S3.SecretAccessKey, "CLIPNOTE_S3_SECRET_ACCESS_KEY")
	override(&c.Logging.Level, "CLIPNOTE_LOG_LEVEL")
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyLimitMB <= 0 {
		c.Server.BodyLimitMB = 25
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 10
	}

	if c.Auth.Session.Secret == "" {
		c.Auth.Session.Secret = c.Auth.JWTSecret
	}
	if c.Auth.Session.CookieName == "" {
		c.Auth.Session.CookieName = "clipnote_session"
	}
	if c.Auth.Session.TTLMinutes <= 0 {
		c.Auth.Session.TTLMinutes = 7 * 24 * 60
	}

	if c.Passkey.RPDisplayName == "" {
		c.Passkey.RPDisplayName = "clipnote"
	}

	if c.RateLimit.ClipPerMinute == 0 {
		c.RateLimit.ClipPerMinute = 20
	}

	if c.Scraper.UserAgent == "" {
		c.Scraper.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	}
	if c.Scraper.TimeoutMs <= 0 {
		c.Scraper.TimeoutMs = 10000
	}
	if c.Scraper.MaxChars <= 0 {
		c.Scraper.MaxChars = 8000
	}
	if c.Scraper.MaxBodyBytes <= 0 {
		c.Scraper.MaxBodyBytes = 5 << 20
	}
	if c.Rod.TimeoutMs <= 0 {
		c.Rod.TimeoutMs = 20000
	}

	if len(c.YouTube.Languages) == 0 {
		c.YouTube.Languages = []string{"ja", "en"}
	}
	if c.YouTube.TimeoutMs <= 0 {
		c.YouTube.TimeoutMs = 15000
	}

	if c.Instagram.OEmbedURL == "" {
		c.Instagram.OEmbedURL = "https://api.instagram.com/oembed"
	}
	if c.Instagram.MaxImageBytes <= 0 {
		c.Instagram.MaxImageBytes = 8 << 20
	}
	if c.Instagram.TimeoutMs <= 0 {
		c.Instagram.TimeoutMs = 10000
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "gemini"
	}
	if len(c.LLM.Models) == 0 {
		c.LLM.Models = []string{"gemini-2.5-flash", "gemini-2.0-flash"}
	}
	if c.LLM.TimeoutMs <= 0 {
		c.LLM.TimeoutMs = 60000
	}
	if c.LLM.MaxOutputTokens <= 0 {
		c.LLM.MaxOutputTokens = 4096
	}

	if c.Usage.DailyLimit <= 0 {
		c.Usage.DailyLimit = 10
	}

	if c.Bulk.MaxURLs <= 0 {
		c.Bulk.MaxURLs = 50
	}
	if c.Bulk.DelayMs <= 0 {
		c.Bulk.DelayMs = 500
	}

	if c.Storage.S3.Region == "" {
		c.Storage.S3.Region = "auto"
	}
	if c.Storage.S3.PresignMinutes <= 0 {
		c.Storage.S3.PresignMinutes = 15
	}

	if c.Worker.MaxConcurrentJobs <= 0 {
		c.Worker.MaxConcurrentJobs = 2
	}
	if c.Worker.PollIntervalMs <= 0 {
		c.Worker.PollIntervalMs = 2000
	}
	if c.Worker.LeaseMinutes <= 0 {
		c.Worker.LeaseMinutes = 10
	}
	if c.Retention.CleanupIntervalMinutes <= 0 {
		c.Retention.CleanupIntervalMinutes = 60
	}
	if c.Retention.JobDays <= 0 {
		c.Retention.JobDays = 7
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate returns an error describing the first invalid setting.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required (or CLIPNOTE_DATABASE_DSN)")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret is required (or CLIPNOTE_JWT_SECRET)")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.LLM.Provider {
	case "gemini", "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be gemini, openai or anthropic, got %q", c.LLM.Provider)
	}
	for _, m := range c.LLM.Models {
		if strings.TrimSpace(m) == "" {
			return errors.New("llm.models must not contain empty names")
		}
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	if c.Storage.Enabled() && (c.Storage.S3.AccessKeyID == "" || c.Storage.S3.SecretAccessKey == "") {
		return errors.New("storage.s3 credentials are required when a bucket is configured")
	}
	return nil
}

// RedactedSharedKey returns a masked form of the shared model key for logs.
func (c *Config) RedactedSharedKey() string {
	return MaskSecret(c.LLM.SharedAPIKey)
}

// MaskSecret keeps the first and last four characters of long secrets.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
