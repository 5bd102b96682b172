package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "storypool.yaml"

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Generation GenerationConfig `yaml:"generation"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Loop       LoopConfig       `yaml:"loop"`
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type GenerationConfig struct {
	Provider          string        `yaml:"provider"`
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	Backoff           time.Duration `yaml:"backoff"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Models            ModelsConfig  `yaml:"models"`
}

type ModelsConfig struct {
	Premise    ModelConfig `yaml:"premise"`
	Chapter    ModelConfig `yaml:"chapter"`
	Evaluation ModelConfig `yaml:"evaluation"`
	Extraction ModelConfig `yaml:"extraction"`
	Cover      ModelConfig `yaml:"cover"`
}

type ModelConfig struct {
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type LoopConfig struct {
	TickInterval         time.Duration `yaml:"tick_interval"`
	Workers              int           `yaml:"workers"`
	Budget               time.Duration `yaml:"budget"`
	SafetyMargin         time.Duration `yaml:"safety_margin"`
	LeaseTTL             time.Duration `yaml:"lease_ttl"`
	BackfillBatch        int           `yaml:"backfill_batch"`
	RelationshipInterval time.Duration `yaml:"relationship_interval"`
	MinCooccurrences     int           `yaml:"min_cooccurrences"`
	ExtractionQueue      int           `yaml:"extraction_queue"`
}

type StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	PublicBaseURL   string `yaml:"public_base_url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type ServerConfig struct {
	Addr              string  `yaml:"addr"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration that runs against a local SQLite file.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "sqlite://./storypool.db",
		},
		Generation: GenerationConfig{
			Provider:          "openai",
			BaseURL:           "https://api.openai.com/v1",
			Timeout:           45 * time.Second,
			MaxAttempts:       3,
			Backoff:           time.Second,
			RequestsPerSecond: 2,
			Models: ModelsConfig{
				Premise:    ModelConfig{Model: "gpt-4o-mini", MaxTokens: 800, Temperature: 1.0},
				Chapter:    ModelConfig{Model: "gpt-4o-mini", MaxTokens: 2400, Temperature: 0.9},
				Evaluation: ModelConfig{Model: "gpt-4o-mini", MaxTokens: 800, Temperature: 0.2},
				Extraction: ModelConfig{Model: "gpt-4o-mini", MaxTokens: 600, Temperature: 0.1},
				Cover:      ModelConfig{Model: "dall-e-3"},
			},
		},
		Runtime: DefaultRuntime(),
		Loop: LoopConfig{
			TickInterval:         time.Minute,
			Workers:              4,
			Budget:               5 * time.Minute,
			SafetyMargin:         45 * time.Second,
			LeaseTTL:             10 * time.Minute,
			BackfillBatch:        5,
			RelationshipInterval: time.Hour,
			MinCooccurrences:     2,
			ExtractionQueue:      64,
		},
		Storage: StorageConfig{
			Region: "us-east-1",
			Prefix: "covers/",
		},
		Server: ServerConfig{
			Addr:              ":8080",
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Log: LogConfig{Level: "info"},
	}
}

// APIKey resolves the generation API key from the configured environment
// variable, falling back to the provider's conventional one.
func (g GenerationConfig) APIKey() string {
	name := g.APIKeyEnv
	if name == "" {
		switch g.Provider {
		case "gemini":
			name = "GEMINI_API_KEY"
		default:
			name = "OPENAI_API_KEY"
		}
	}
	return os.Getenv(name)
}

func validateConfig(cfg *Config) error {
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %q", cfg.Database.Driver)
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return fmt.Errorf("database dsn is required")
	}

	switch cfg.Generation.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unsupported generation provider: %q", cfg.Generation.Provider)
	}
	if cfg.Generation.Timeout <= 0 {
		return fmt.Errorf("generation timeout must be positive")
	}
	if cfg.Generation.MaxAttempts < 1 {
		return fmt.Errorf("generation max_attempts must be at least 1")
	}
	if cfg.Generation.Backoff < 0 {
		return fmt.Errorf("generation backoff must not be negative")
	}
	if cfg.Generation.RequestsPerSecond <= 0 {
		return fmt.Errorf("generation requests_per_second must be positive")
	}
	models := map[string]ModelConfig{
		"premise":    cfg.Generation.Models.Premise,
		"chapter":    cfg.Generation.Models.Chapter,
		"evaluation": cfg.Generation.Models.Evaluation,
		"extraction": cfg.Generation.Models.Extraction,
		"cover":      cfg.Generation.Models.Cover,
	}
	for name, m := range models {
		if strings.TrimSpace(m.Model) == "" {
			return fmt.Errorf("generation model for %s is required", name)
		}
	}

	if cfg.Loop.TickInterval <= 0 {
		return fmt.Errorf("loop tick_interval must be positive")
	}
	if cfg.Loop.Workers < 1 {
		return fmt.Errorf("loop workers must be at least 1")
	}
	if cfg.Loop.Budget <= cfg.Loop.SafetyMargin {
		return fmt.Errorf("loop budget (%s) must exceed safety_margin (%s)", cfg.Loop.Budget, cfg.Loop.SafetyMargin)
	}
	if cfg.Loop.LeaseTTL < cfg.Loop.Budget {
		return fmt.Errorf("loop lease_ttl (%s) must be at least the budget (%s)", cfg.Loop.LeaseTTL, cfg.Loop.Budget)
	}
	if cfg.Loop.BackfillBatch < 0 {
		return fmt.Errorf("loop backfill_batch must not be negative")
	}
	if cfg.Loop.MinCooccurrences < 1 {
		return fmt.Errorf("loop min_cooccurrences must be at least 1")
	}
	if cfg.Loop.ExtractionQueue < 1 {
		return fmt.Errorf("loop extraction_queue must be at least 1")
	}
	if cfg.Server.RequestsPerSecond <= 0 || cfg.Server.Burst < 1 {
		return fmt.Errorf("server requests_per_second and burst must be positive")
	}

	if err := cfg.Runtime.Validate(); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	return nil
}
