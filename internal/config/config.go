package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

// Duration accepts "500ms" / "10m" style strings in YAML, or a bare number
// of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs int64
	if err := n.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port        int      `yaml:"port"`
	APIKey      string   `yaml:"api_key"`      // bearer key for job routes
	AdminSecret string   `yaml:"admin_secret"` // HMAC secret for review session cookies
	SessionTTL  Duration `yaml:"session_ttl"`
	MetricsPort int      `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AIConfig struct {
	OpenAIKey    string            `yaml:"openai_key"`
	OpenAIBase   string            `yaml:"openai_base_url"`
	GeminiKey    string            `yaml:"gemini_key"`
	GeminiURL    string            `yaml:"gemini_url"`
	DefaultModel string            `yaml:"default_model"`
	ModelRouting map[string]string `yaml:"model_routing"` // model -> provider
	MaxOutput    int               `yaml:"max_output_tokens"`
}

type BlobConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

type PipelineConfig struct {
	Workers              int      `yaml:"workers"`
	PollInterval         Duration `yaml:"poll_interval"`
	DefaultThreshold     float64  `yaml:"default_confidence_threshold"`
	ExtractionRetries    int      `yaml:"extraction_retries"`
	ExtractionBackoff    Duration `yaml:"extraction_backoff"`
	EnqueueLimitPerMin   int      `yaml:"enqueue_limit_per_minute"`
	StaleJobTTL          Duration `yaml:"stale_job_ttl"` // no default: explicit policy decision
	StaleSweepInterval   Duration `yaml:"stale_sweep_interval"`
	ReconcilerEnabled    bool     `yaml:"reconciler_enabled"`
	BrokeredEventsEnable bool     `yaml:"brokered_events"` // mirror events over redis pub/sub
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AI       AIConfig       `yaml:"ai"`
	Blob     BlobConfig     `yaml:"blob"`
	Pipeline PipelineConfig `yaml:"pipeline"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Server.SessionTTL <= 0 {
		cfg.Server.SessionTTL = Duration(30 * time.Minute)
	}
	if cfg.Database.PoolSize <= 0 {
		cfg.Database.PoolSize = 10
	}
	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gpt-4o-mini"
	}
	if cfg.AI.MaxOutput <= 0 {
		cfg.AI.MaxOutput = 2048
	}
	if cfg.Blob.Timeout <= 0 {
		cfg.Blob.Timeout = Duration(15 * time.Second)
	}
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.PollInterval <= 0 {
		cfg.Pipeline.PollInterval = Duration(500 * time.Millisecond)
	}
	if cfg.Pipeline.DefaultThreshold <= 0 {
		cfg.Pipeline.DefaultThreshold = 0.8
	}
	if cfg.Pipeline.ExtractionRetries < 0 {
		cfg.Pipeline.ExtractionRetries = 0
	} else if cfg.Pipeline.ExtractionRetries == 0 {
		cfg.Pipeline.ExtractionRetries = 2
	}
	if cfg.Pipeline.ExtractionBackoff <= 0 {
		cfg.Pipeline.ExtractionBackoff = Duration(2 * time.Second)
	}
	if cfg.Pipeline.StaleSweepInterval <= 0 {
		cfg.Pipeline.StaleSweepInterval = Duration(time.Minute)
	}
	if cfg.Pipeline.EnqueueLimitPerMin <= 0 {
		cfg.Pipeline.EnqueueLimitPerMin = 30
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Pipeline.DefaultThreshold > 1 {
		return nil, errors.New("pipeline.default_confidence_threshold must be in (0,1]")
	}
	// The stale TTL is a policy decision; refuse to guess one.
	if cfg.Pipeline.ReconcilerEnabled && cfg.Pipeline.StaleJobTTL <= 0 {
		return nil, errors.New("pipeline.stale_job_ttl is required when the reconciler is enabled")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
