// Package config defines the configuration structures for MedPlan-Intelligence.
// Only plain data types and validation live here; loading is in loader.go.
package config

import (
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimitRPS is the per-client sustained rate on /api/v1; 0 disables.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"` // "json" | "console"
	OutputPaths []string `mapstructure:"output_paths"`
}

// DatabaseConfig holds PostgreSQL connection parameters for the drug-info
// repository. When Enabled is false the in-memory repository is used.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationPath   string        `mapstructure:"migration_path"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds Redis connection parameters. Used when cache.backend is
// "redis".
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds the plan-generated event producer settings.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
}

// LLMConfig configures the text-completion oracle.
type LLMConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	Temperature   float64       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Timeout       time.Duration `mapstructure:"timeout"`
	WarmupTimeout time.Duration `mapstructure:"warmup_timeout"`
}

// OCRConfig configures the image-to-text oracle.
type OCRConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Languages []string      `mapstructure:"languages"`
}

// OracleConfig groups the external oracle clients.
type OracleConfig struct {
	LLM LLMConfig `mapstructure:"llm"`
	OCR OCRConfig `mapstructure:"ocr"`
}

// ThresholdConfig is the confidence gate policy table.
type ThresholdConfig struct {
	OCRMinimum        float64 `mapstructure:"ocr_minimum"`
	OCRWarning        float64 `mapstructure:"ocr_warning"`
	DrugName          float64 `mapstructure:"drug_name"`
	Strength          float64 `mapstructure:"strength"`
	Frequency         float64 `mapstructure:"frequency"`
	Duration          float64 `mapstructure:"duration"`
	FoodInstruction   float64 `mapstructure:"food_instruction"`
	Missing           float64 `mapstructure:"missing"`
	NeedsConfirmation float64 `mapstructure:"needs_confirmation"`
}

// PipelineConfig holds extraction and orchestration tunables.
type PipelineConfig struct {
	BaseConfidence       float64         `mapstructure:"base_confidence"`
	Thresholds           ThresholdConfig `mapstructure:"thresholds"`
	MaxNudges            int             `mapstructure:"max_nudges"`
	UseLLM               bool            `mapstructure:"use_llm"`
	DrugInfoConcurrency  int             `mapstructure:"drug_info_concurrency"`
	InteractionTablePath string          `mapstructure:"interaction_table_path"`
	DrugInfoSeedPath     string          `mapstructure:"drug_info_seed_path"`
}

// CacheConfig configures the ask-path response cache.
type CacheConfig struct {
	Backend         string        `mapstructure:"backend"` // "memory" | "redis"
	TTL             time.Duration `mapstructure:"ttl"`
	MaxEntries      int           `mapstructure:"max_entries"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// MonitoringConfig configures the Prometheus endpoint.
type MonitoringConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of a fully-populated Config and
// returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		return fmt.Errorf("config: server rate limit must not be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("config: database.host is required")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("config: database.user is required")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("config: database.db_name is required")
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("config: kafka.topic is required")
		}
	}

	if c.Oracle.LLM.Timeout <= 0 || c.Oracle.OCR.Timeout <= 0 {
		return fmt.Errorf("config: oracle timeouts must be positive")
	}

	if err := c.Pipeline.validate(); err != nil {
		return err
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("config: cache.backend %q is invalid; expected memory|redis", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: cache.ttl must be positive")
	}

	return nil
}

func (p *PipelineConfig) validate() error {
	if p.BaseConfidence < 0 || p.BaseConfidence > 1 {
		return fmt.Errorf("config: pipeline.base_confidence %.2f is out of range [0, 1]", p.BaseConfidence)
	}
	t := p.Thresholds
	named := map[string]float64{
		"ocr_minimum":        t.OCRMinimum,
		"ocr_warning":        t.OCRWarning,
		"drug_name":          t.DrugName,
		"strength":           t.Strength,
		"frequency":          t.Frequency,
		"duration":           t.Duration,
		"food_instruction":   t.FoodInstruction,
		"missing":            t.Missing,
		"needs_confirmation": t.NeedsConfirmation,
	}
	for name, v := range named {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: pipeline.thresholds.%s %.2f is out of range [0, 1]", name, v)
		}
	}
	if t.OCRMinimum > t.OCRWarning {
		return fmt.Errorf("config: pipeline.thresholds.ocr_minimum must not exceed ocr_warning")
	}
	if p.MaxNudges < 1 || p.MaxNudges > 5 {
		return fmt.Errorf("config: pipeline.max_nudges must be in [1, 5], got %d", p.MaxNudges)
	}
	if p.DrugInfoConcurrency < 1 {
		return fmt.Errorf("config: pipeline.drug_info_concurrency must be ≥ 1, got %d", p.DrugInfoConcurrency)
	}
	return nil
}
