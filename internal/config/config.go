package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the layered application configuration: defaults, then an optional
// clipscout.{yaml,json,toml} file, then CLIPSCOUT_* environment variables.
type Config struct {
	CacheDir string `mapstructure:"cache_dir"`
	OutDir   string `mapstructure:"out_dir"`
	Verbose  bool   `mapstructure:"verbose"`

	Sampling   SamplingConfig   `mapstructure:"sampling"`
	Ranking    RankingConfig    `mapstructure:"ranking"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
	Whisper    WhisperConfig    `mapstructure:"whisper"`
	FFmpeg     FFmpegConfig     `mapstructure:"ffmpeg"`
	Server     ServerConfig     `mapstructure:"server"`
}

type SamplingConfig struct {
	BaseIntervalSec float64 `mapstructure:"base_interval_sec"`
	MaxFrames       int     `mapstructure:"max_frames"`
}

func (s SamplingConfig) Validate() error {
	if s.BaseIntervalSec < 0 || math.IsNaN(s.BaseIntervalSec) || math.IsInf(s.BaseIntervalSec, 0) {
		return errors.New("sampling.base_interval_sec must be a finite number >= 0")
	}
	if s.MaxFrames <= 0 {
		return errors.New("sampling.max_frames must be > 0")
	}
	return nil
}

type RankingConfig struct {
	OverlapBoost float64 `mapstructure:"overlap_boost"`
	Threshold    float64 `mapstructure:"threshold"`
}

func (r RankingConfig) Validate() error {
	if r.OverlapBoost < 0 {
		return errors.New("ranking.overlap_boost must be >= 0")
	}
	return nil
}

type EmbeddingConfig struct {
	Model       string        `mapstructure:"model"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// CachePath is a SQLite file for cached vectors; empty disables the cache.
	CachePath string `mapstructure:"cache_path"`
}

func (e EmbeddingConfig) Validate() error {
	if e.Concurrency <= 0 {
		return errors.New("embedding.concurrency must be > 0")
	}
	if e.Timeout <= 0 {
		return errors.New("embedding.timeout must be > 0")
	}
	return nil
}

type OpenRouterConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	BaseURL      string        `mapstructure:"base_url"`
	AllowedHosts []string      `mapstructure:"allowed_hosts"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type WhisperConfig struct {
	Bin   string `mapstructure:"bin"`
	Model string `mapstructure:"model"`
}

type FFmpegConfig struct {
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
}

type ServerConfig struct {
	Address        string `mapstructure:"address"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return errors.New("server.address is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache_dir", ".cache")
	v.SetDefault("out_dir", "out")
	v.SetDefault("verbose", false)

	v.SetDefault("sampling.base_interval_sec", 2.0)
	v.SetDefault("sampling.max_frames", 60)

	v.SetDefault("ranking.overlap_boost", 0.5)
	v.SetDefault("ranking.threshold", 0.3)

	v.SetDefault("embedding.model", "openai/text-embedding-3-small")
	v.SetDefault("embedding.concurrency", 8)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.cache_path", "")

	v.SetDefault("openrouter.api_key", "")
	v.SetDefault("openrouter.model", "google/gemini-2.0-flash-001")
	v.SetDefault("openrouter.base_url", "https://openrouter.ai")
	v.SetDefault("openrouter.allowed_hosts", []string{})
	v.SetDefault("openrouter.timeout", 90*time.Second)

	v.SetDefault("whisper.bin", ".cache/bin/whisper.cpp")
	v.SetDefault("whisper.model", ".cache/models/ggml-base.bin")

	v.SetDefault("ffmpeg.ffmpeg_path", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobe_path", "ffprobe")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.metrics_enabled", true)
}

// Load reads configuration. An empty path searches ./clipscout.* and
// ./config/clipscout.*; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("clipscout")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("CLIPSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The bare OPENROUTER_* names are what .env files usually carry.
	_ = v.BindEnv("openrouter.api_key", "CLIPSCOUT_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	_ = v.BindEnv("openrouter.model", "CLIPSCOUT_OPENROUTER_MODEL", "OPENROUTER_MODEL")
	_ = v.BindEnv("openrouter.base_url", "CLIPSCOUT_OPENROUTER_BASE_URL", "OPENROUTER_BASE_URL")
	_ = v.BindEnv("openrouter.allowed_hosts", "CLIPSCOUT_OPENROUTER_ALLOWED_HOSTS", "OPENROUTER_ALLOWED_HOSTS")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := c.Sampling.Validate(); err != nil {
		return err
	}
	if err := c.Ranking.Validate(); err != nil {
		return err
	}
	if err := c.Embedding.Validate(); err != nil {
		return err
	}
	return c.Server.Validate()
}
