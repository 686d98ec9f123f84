package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/xxxsen/common/logger"
)

// EnvPrefix marks environment overrides. Nested keys use a double
// underscore, e.g. MDECK_DATABASE__DSN or MDECK_IMPORT__TIMEOUT.
const EnvPrefix = "MDECK_"

type Config struct {
	Port        int              `json:"port" validate:"required,min=1,max=65535"`
	JWTSecret   string           `json:"jwt_secret" validate:"required"`
	CORSOrigins []string         `json:"cors_origins"`
	LogConfig   logger.LogConfig `json:"log_config"`
	Database    DatabaseConfig   `json:"database"`
	FileStore   FileStoreConfig  `json:"file_store"`
	Import      ImportConfig     `json:"import"`
}

type DatabaseConfig struct {
	Driver       string `json:"driver" validate:"oneof=sqlite postgres"`
	DSN          string `json:"dsn" validate:"required"`
	MaxOpenConns int    `json:"max_open_conns" validate:"min=0"`
}

type FileStoreConfig struct {
	Type string      `json:"type" validate:"oneof=local s3 gcs"`
	Data interface{} `json:"data"`
}

type ImportConfig struct {
	MaxUploadMB      int64         `json:"max_upload_mb" validate:"min=1"`
	DeckBatchSize    int           `json:"deck_batch_size" validate:"min=1"`
	CardBatchSize    int           `json:"card_batch_size" validate:"min=1,max=500"`
	BatchPause       time.Duration `json:"batch_pause" validate:"min=0"`
	Timeout          time.Duration `json:"timeout" validate:"min=1s"`
	Workers          int           `json:"workers" validate:"min=1"`
	QueueSize        int           `json:"queue_size" validate:"min=1"`
	MediaConcurrency int           `json:"media_concurrency" validate:"min=1"`
	MediaFeature     string        `json:"media_feature" validate:"required"`
	MediaCacheSize   int           `json:"media_cache_size" validate:"min=0"`
	MediaCacheTTL    time.Duration `json:"media_cache_ttl" validate:"min=0"`
	UploadDir        string        `json:"upload_dir"`
	UploadMaxAge     time.Duration `json:"upload_max_age" validate:"min=0"`
	ProgressIdle     time.Duration `json:"progress_idle" validate:"min=1s"`
	SweepSpec        string        `json:"sweep_spec" validate:"required"`
	UploadWindow     time.Duration `json:"upload_window" validate:"min=0"`
}

func (c ImportConfig) MaxUploadBytes() int64 {
	return c.MaxUploadMB * 1024 * 1024
}

// Load reads a yaml or json file (json is a yaml subset) and overlays
// MDECK_ prefixed environment variables on top of it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func applyDefaults(cfg *Config) {
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	imp := &cfg.Import
	if imp.MaxUploadMB == 0 {
		imp.MaxUploadMB = 1024
	}
	if imp.DeckBatchSize == 0 {
		imp.DeckBatchSize = 5
	}
	if imp.CardBatchSize == 0 {
		imp.CardBatchSize = 500
	}
	if imp.BatchPause == 0 {
		imp.BatchPause = 100 * time.Millisecond
	}
	if imp.Timeout == 0 {
		imp.Timeout = 15 * time.Minute
	}
	if imp.Workers == 0 {
		imp.Workers = 2
	}
	if imp.QueueSize == 0 {
		imp.QueueSize = 16
	}
	if imp.MediaConcurrency == 0 {
		imp.MediaConcurrency = 8
	}
	if imp.MediaFeature == "" {
		imp.MediaFeature = "flashcards"
	}
	if imp.MediaCacheSize == 0 {
		imp.MediaCacheSize = 4096
	}
	if imp.MediaCacheTTL == 0 {
		imp.MediaCacheTTL = 24 * time.Hour
	}
	if imp.UploadMaxAge == 0 {
		imp.UploadMaxAge = 6 * time.Hour
	}
	if imp.ProgressIdle == 0 {
		imp.ProgressIdle = 30 * time.Minute
	}
	if imp.SweepSpec == "" {
		imp.SweepSpec = "*/5 * * * *"
	}
	if imp.UploadWindow == 0 {
		imp.UploadWindow = 5 * time.Second
	}
}
