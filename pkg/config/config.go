package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath        = "config.yaml"
	defaultVideoPath         = "output/reel.mp4"
	defaultCaptionPath       = "output/krishna_line.txt"
	defaultTokenURL          = "https://oauth2.googleapis.com/token"
	defaultUploadEndpoint    = "https://www.googleapis.com/upload/youtube/v3/videos"
	defaultWatchURL          = "https://www.youtube.com/watch?v="
	defaultChunkSize         = 8 * 1024 * 1024
	defaultTimeout           = 60 * time.Second
	defaultMaxRetries        = 5
	defaultRetryInitialDelay = time.Second
	defaultRetryMaxDelay     = 30 * time.Second
	defaultVisibility        = "public"
	defaultMadeForKids       = true
	defaultCategory          = "22"
	defaultCacheDir          = "./.cache"
	defaultReceiptDir        = "output/uploads"
)

type Config struct {
	ClientID     string `yaml:"-"`
	ClientSecret string `yaml:"-"`
	RefreshToken string `yaml:"-"`
	GCPProject   string `yaml:"-"`

	Upload   UploadConfig   `yaml:"upload"`
	GCS      GCSConfig      `yaml:"gcs"`
	Secrets  SecretsConfig  `yaml:"secrets"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type UploadConfig struct {
	VideoPath         string        `yaml:"video_path"`
	CaptionPath       string        `yaml:"caption_path"`
	TokenURL          string        `yaml:"token_url"`
	Endpoint          string        `yaml:"endpoint"`
	WatchURL          string        `yaml:"watch_url"`
	ChunkSize         int64         `yaml:"chunk_size"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        *int          `yaml:"max_retries"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	Visibility        string        `yaml:"visibility"`
	MadeForKids       *bool         `yaml:"made_for_kids"`
	Category          string        `yaml:"category"`
	ReceiptDir        string        `yaml:"receipt_dir"`
}

// GCSConfig enables Cloud Storage as caption and video source when Bucket is
// set.
type GCSConfig struct {
	Bucket        string `yaml:"bucket"`
	CaptionObject string `yaml:"caption_object"`
	CacheDir      string `yaml:"cache_dir"`
	Endpoint      string `yaml:"endpoint"`
}

// SecretsConfig names Secret Manager secrets that back the OAuth settings
// when they are not set in the environment.
type SecretsConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
}

// TelegramConfig turns on upload notifications when both the bot token and
// the chat id are set.
type TelegramConfig struct {
	BotToken string `yaml:"-"`
	ChatID   int64  `yaml:"chat_id"`
	APIURL   string `yaml:"api_url"`
}

func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != 0
}

func (c *Config) GCSEnabled() bool {
	return c.GCS.Bucket != ""
}

// RetryBudget is the number of transient failures an upload may recover
// from. Zero disables retries.
func (u UploadConfig) RetryBudget() int {
	if u.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *u.MaxRetries
}

func (u UploadConfig) KidsContent() bool {
	if u.MadeForKids == nil {
		return defaultMadeForKids
	}
	return *u.MadeForKids
}

// ConfigError lists required settings that are missing or invalid.
type ConfigError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	cfg := &Config{}
	if err := loadYAMLConfig(cfg, getEnvOrDefault("REELCAST_CONFIG", defaultConfigPath)); err != nil {
		return nil, err
	}

	cfg.ClientID = getEnvAny("YT_CLIENT_ID", "CLIENT_ID")
	cfg.ClientSecret = getEnvAny("YT_CLIENT_SECRET", "CLIENT_SECRET")
	cfg.RefreshToken = getEnvAny("YT_REFRESH_TOKEN", "REFRESH_TOKEN")
	cfg.GCPProject = os.Getenv("GOOGLE_CLOUD_PROJECT")
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	resolveSecrets(ctx, cfg)

	return cfg, nil
}

func loadYAMLConfig(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("No config file found, using defaults", "path", path)
		return nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("YT_VIDEO_PATH"); v != "" {
		cfg.Upload.VideoPath = v
	}
	if v := os.Getenv("YT_CAPTION_PATH"); v != "" {
		cfg.Upload.CaptionPath = v
	}
	if v := os.Getenv("YT_TOKEN_URL"); v != "" {
		cfg.Upload.TokenURL = v
	}
	if v := os.Getenv("YT_UPLOAD_ENDPOINT"); v != "" {
		cfg.Upload.Endpoint = v
	}
	if v := os.Getenv("YT_VISIBILITY"); v != "" {
		cfg.Upload.Visibility = v
	}
	if v := os.Getenv("YT_CATEGORY"); v != "" {
		cfg.Upload.Category = v
	}
	if v := os.Getenv("GCS_BUCKET"); v != "" {
		cfg.GCS.Bucket = v
	}

	if v := os.Getenv("YT_CHUNK_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return &ConfigError{Invalid: []string{"YT_CHUNK_SIZE"}}
		}
		cfg.Upload.ChunkSize = n
	}
	if v := os.Getenv("YT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &ConfigError{Invalid: []string{"YT_TIMEOUT"}}
		}
		cfg.Upload.Timeout = d
	}
	if v := os.Getenv("YT_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Invalid: []string{"YT_MAX_RETRIES"}}
		}
		cfg.Upload.MaxRetries = &n
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return &ConfigError{Invalid: []string{"TELEGRAM_CHAT_ID"}}
		}
		cfg.Telegram.ChatID = id
	}
	if v := os.Getenv("YT_MADE_FOR_KIDS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigError{Invalid: []string{"YT_MADE_FOR_KIDS"}}
		}
		cfg.Upload.MadeForKids = &b
	}

	return nil
}

func applyDefaults(cfg *Config) {
	applyUploadDefaults(cfg)
	applyGCSDefaults(cfg)
}

func applyUploadDefaults(cfg *Config) {
	if cfg.Upload.VideoPath == "" {
		cfg.Upload.VideoPath = defaultVideoPath
	}
	if cfg.Upload.CaptionPath == "" {
		cfg.Upload.CaptionPath = defaultCaptionPath
	}
	if cfg.Upload.TokenURL == "" {
		cfg.Upload.TokenURL = defaultTokenURL
	}
	if cfg.Upload.Endpoint == "" {
		cfg.Upload.Endpoint = defaultUploadEndpoint
	}
	if cfg.Upload.WatchURL == "" {
		cfg.Upload.WatchURL = defaultWatchURL
	}
	if cfg.Upload.ChunkSize == 0 {
		cfg.Upload.ChunkSize = defaultChunkSize
	}
	if cfg.Upload.Timeout == 0 {
		cfg.Upload.Timeout = defaultTimeout
	}
	if cfg.Upload.MaxRetries == nil {
		retries := defaultMaxRetries
		cfg.Upload.MaxRetries = &retries
	}
	if cfg.Upload.RetryInitialDelay == 0 {
		cfg.Upload.RetryInitialDelay = defaultRetryInitialDelay
	}
	if cfg.Upload.RetryMaxDelay == 0 {
		cfg.Upload.RetryMaxDelay = defaultRetryMaxDelay
	}
	if cfg.Upload.Visibility == "" {
		cfg.Upload.Visibility = defaultVisibility
	}
	if cfg.Upload.MadeForKids == nil {
		kids := defaultMadeForKids
		cfg.Upload.MadeForKids = &kids
	}
	if cfg.Upload.Category == "" {
		cfg.Upload.Category = defaultCategory
	}
	if cfg.Upload.ReceiptDir == "" {
		cfg.Upload.ReceiptDir = defaultReceiptDir
	}
}

func applyGCSDefaults(cfg *Config) {
	if cfg.GCS.CacheDir == "" {
		cfg.GCS.CacheDir = defaultCacheDir
	}
}

// Validate reports every missing or malformed required setting at once.
func (c *Config) Validate() error {
	var cerr ConfigError

	if strings.TrimSpace(c.ClientID) == "" {
		cerr.Missing = append(cerr.Missing, "YT_CLIENT_ID")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		cerr.Missing = append(cerr.Missing, "YT_CLIENT_SECRET")
	}
	if strings.TrimSpace(c.RefreshToken) == "" {
		cerr.Missing = append(cerr.Missing, "YT_REFRESH_TOKEN")
	}

	if c.Upload.ChunkSize <= 0 {
		cerr.Invalid = append(cerr.Invalid, "upload.chunk_size")
	}
	if c.Upload.Timeout <= 0 {
		cerr.Invalid = append(cerr.Invalid, "upload.timeout")
	}
	if c.Upload.RetryBudget() < 0 {
		cerr.Invalid = append(cerr.Invalid, "upload.max_retries")
	}
	switch strings.ToLower(strings.TrimSpace(c.Upload.Visibility)) {
	case "public", "unlisted", "private":
	default:
		cerr.Invalid = append(cerr.Invalid, "upload.visibility")
	}

	if len(cerr.Missing) > 0 || len(cerr.Invalid) > 0 {
		return &cerr
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAny(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}
