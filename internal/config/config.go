// Package config loads the service configuration from a YAML file and NINEGAG_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/Fortunato28/ninegag2telegram"
	"github.com/Fortunato28/ninegag2telegram/fetch"
	"github.com/Fortunato28/ninegag2telegram/rewrite"
	"github.com/Fortunato28/ninegag2telegram/transcode"
)

// EnvPrefix is prepended to every environment variable, e.g. NINEGAG_FETCH_TIMEOUT.
const EnvPrefix = "ninegag"

type HistoryBackend string

const (
	HistoryNone   HistoryBackend = "none"
	HistoryBolt   HistoryBackend = "bolt"
	HistorySQLite HistoryBackend = "sqlite"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Transcode TranscodeConfig `yaml:"transcode"`
	Rewrite   RewriteConfig   `yaml:"rewrite"`
	History   HistoryConfig   `yaml:"history"`
	Debug     bool            `yaml:"debug"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
}

type StorageConfig struct {
	ScratchDir string `yaml:"scratch_dir" split_words:"true"`
	// NameFrom is "request" or "response".
	NameFrom string `yaml:"name_from" split_words:"true"`
}

type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent" split_words:"true"`
	MaxBytes  int64         `yaml:"max_bytes" split_words:"true"`
	// Attempts is how many times a network failure is tried in total.
	Attempts   uint          `yaml:"attempts"`
	RetryDelay time.Duration `yaml:"retry_delay" split_words:"true"`
}

type TranscodeConfig struct {
	FFmpegPath    string        `yaml:"ffmpeg_path" envconfig:"ffmpeg_path"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int64         `yaml:"max_concurrent" split_words:"true"`
}

type RewriteConfig struct {
	Policy       string `yaml:"policy"`
	FirstSegment string `yaml:"first_segment" split_words:"true"`
}

type HistoryConfig struct {
	Backend HistoryBackend `yaml:"backend"`
	Path    string         `yaml:"path"`
}

// Default is the configuration used when neither file nor environment say otherwise.
func Default() Config {
	pipeline := ninegag2telegram.DefaultConfig()
	fetchCfg := fetch.DefaultConfig()
	transcodeCfg := transcode.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8089,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			ScratchDir: pipeline.ScratchDir,
			NameFrom:   string(pipeline.NameFrom),
		},
		Fetch: FetchConfig{
			Timeout:    fetchCfg.Timeout,
			UserAgent:  fetchCfg.UserAgent,
			MaxBytes:   fetchCfg.MaxBytes,
			Attempts:   1,
			RetryDelay: 2 * time.Second,
		},
		Transcode: TranscodeConfig{
			FFmpegPath:    "ffmpeg",
			Timeout:       transcodeCfg.Timeout,
			MaxConcurrent: transcodeCfg.MaxConcurrent,
		},
		Rewrite: RewriteConfig{
			Policy:       string(pipeline.Rewrite.Policy),
			FirstSegment: pipeline.Rewrite.FirstSegment,
		},
		History: HistoryConfig{
			Backend: HistoryNone,
		},
	}
}

// Load reads configuration from file and environment variables, on top of Default. Environment variables override
// file values. An empty configPath skips the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that values are usable, reporting every problem at once.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Storage.ScratchDir == "" {
		problems = append(problems, "storage.scratch_dir is required")
	}
	if _, err := ninegag2telegram.ParseFilenameSource(c.Storage.NameFrom); err != nil {
		problems = append(problems, "storage.name_from: "+err.Error())
	}
	if c.Fetch.Timeout < 0 {
		problems = append(problems, "fetch.timeout must not be negative")
	}
	if c.Fetch.MaxBytes < 0 {
		problems = append(problems, "fetch.max_bytes must not be negative")
	}
	if c.Fetch.Attempts == 0 {
		problems = append(problems, "fetch.attempts must be at least 1")
	}
	if c.Transcode.FFmpegPath == "" {
		problems = append(problems, "transcode.ffmpeg_path is required")
	}
	if c.Transcode.Timeout < 0 {
		problems = append(problems, "transcode.timeout must not be negative")
	}
	if c.Transcode.MaxConcurrent < 0 {
		problems = append(problems, "transcode.max_concurrent must not be negative")
	}
	if _, err := rewrite.ParsePolicy(c.Rewrite.Policy); err != nil {
		problems = append(problems, "rewrite.policy: "+err.Error())
	}
	switch c.History.Backend {
	case "", HistoryNone:
	case HistoryBolt, HistorySQLite:
		if c.History.Path == "" {
			problems = append(problems, fmt.Sprintf("history.path is required for backend %q", c.History.Backend))
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown history.backend %q", c.History.Backend))
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Pipeline builds the pipeline configuration. Call after Validate.
func (c *Config) Pipeline() (ninegag2telegram.Config, error) {
	cfg := ninegag2telegram.DefaultConfig()
	cfg.ScratchDir = filepath.Clean(c.Storage.ScratchDir)
	var err error
	if cfg.NameFrom, err = ninegag2telegram.ParseFilenameSource(c.Storage.NameFrom); err != nil {
		return cfg, err
	}
	if cfg.Rewrite.Policy, err = rewrite.ParsePolicy(c.Rewrite.Policy); err != nil {
		return cfg, err
	}
	cfg.Rewrite.FirstSegment = c.Rewrite.FirstSegment
	return cfg, nil
}

func (c *FetchConfig) Config() fetch.Config {
	return fetch.Config{
		Timeout:   c.Timeout,
		UserAgent: c.UserAgent,
		MaxBytes:  c.MaxBytes,
	}
}

func (c *TranscodeConfig) Config() transcode.Config {
	return transcode.Config{
		Timeout:       c.Timeout,
		MaxConcurrent: c.MaxConcurrent,
	}
}
