package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerHost     = "0.0.0.0"
	DefaultServerPort     = 8080
	DefaultServerMode     = "release"
	DefaultRequestTimeout = 200 * time.Second
	DefaultMaxBodySize    = 10 << 20

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBName     = "medplan"
	DefaultDBMaxConns = 10

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "medplan:"

	DefaultKafkaBroker = "localhost:9092"
	DefaultKafkaTopic  = "medplan.plan.generated"

	DefaultLLMBaseURL       = "http://localhost:11434/v1"
	DefaultLLMModel         = "llama3.1"
	DefaultLLMTemperature   = 0.1
	DefaultLLMMaxTokens     = 2048
	DefaultLLMTimeout       = 60 * time.Second
	DefaultLLMWarmupTimeout = 180 * time.Second
	DefaultOCRTimeout       = 120 * time.Second

	DefaultBaseConfidence      = 0.3
	DefaultMaxNudges           = 5
	DefaultDrugInfoConcurrency = 4

	DefaultOCRMinimum         = 0.50
	DefaultOCRWarning         = 0.65
	DefaultDrugNameThreshold  = 0.70
	DefaultStrengthThreshold  = 0.75
	DefaultFrequencyThreshold = 0.65
	DefaultDurationThreshold  = 0.60
	DefaultFoodThreshold      = 0.55
	DefaultMissingThreshold   = 0.30
	DefaultNeedsConfirmation  = 0.65

	DefaultCacheBackend    = "memory"
	DefaultCacheTTL        = 10 * time.Minute
	DefaultCacheMaxEntries = 1024

	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "medplan"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// NewDefaultConfig returns a Config populated entirely with defaults.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-value field in cfg with its default.
// Explicitly set values are left unchanged. Float thresholds use zero as
// "unset", so a threshold cannot be configured to exactly 0.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultServerHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultRequestTimeout + 10*time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.RateLimitBurst == 0 && cfg.Server.RateLimitRPS > 0 {
		cfg.Server.RateLimitBurst = int(cfg.Server.RateLimitRPS*2) + 1
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = cfg.Database.MaxConns / 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = 3 * time.Second
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = 3 * time.Second
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = DefaultKafkaTopic
	}
	if cfg.Kafka.BatchSize == 0 {
		cfg.Kafka.BatchSize = 100
	}
	if cfg.Kafka.BatchTimeout == 0 {
		cfg.Kafka.BatchTimeout = 100 * time.Millisecond
	}
	if cfg.Kafka.WriteTimeout == 0 {
		cfg.Kafka.WriteTimeout = 10 * time.Second
	}
	if cfg.Kafka.RequiredAcks == 0 {
		cfg.Kafka.RequiredAcks = 1
	}

	// ── Oracle ────────────────────────────────────────────────────────────────
	if cfg.Oracle.LLM.BaseURL == "" {
		cfg.Oracle.LLM.BaseURL = DefaultLLMBaseURL
	}
	if cfg.Oracle.LLM.Model == "" {
		cfg.Oracle.LLM.Model = DefaultLLMModel
	}
	if cfg.Oracle.LLM.Temperature == 0 {
		cfg.Oracle.LLM.Temperature = DefaultLLMTemperature
	}
	if cfg.Oracle.LLM.MaxTokens == 0 {
		cfg.Oracle.LLM.MaxTokens = DefaultLLMMaxTokens
	}
	if cfg.Oracle.LLM.Timeout == 0 {
		cfg.Oracle.LLM.Timeout = DefaultLLMTimeout
	}
	if cfg.Oracle.LLM.WarmupTimeout == 0 {
		cfg.Oracle.LLM.WarmupTimeout = DefaultLLMWarmupTimeout
	}
	if cfg.Oracle.OCR.Timeout == 0 {
		cfg.Oracle.OCR.Timeout = DefaultOCRTimeout
	}
	if len(cfg.Oracle.OCR.Languages) == 0 {
		cfg.Oracle.OCR.Languages = []string{"en"}
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	p := &cfg.Pipeline
	if p.BaseConfidence == 0 {
		p.BaseConfidence = DefaultBaseConfidence
	}
	if p.MaxNudges == 0 {
		p.MaxNudges = DefaultMaxNudges
	}
	if p.DrugInfoConcurrency == 0 {
		p.DrugInfoConcurrency = DefaultDrugInfoConcurrency
	}
	t := &p.Thresholds
	setFloat(&t.OCRMinimum, DefaultOCRMinimum)
	setFloat(&t.OCRWarning, DefaultOCRWarning)
	setFloat(&t.DrugName, DefaultDrugNameThreshold)
	setFloat(&t.Strength, DefaultStrengthThreshold)
	setFloat(&t.Frequency, DefaultFrequencyThreshold)
	setFloat(&t.Duration, DefaultDurationThreshold)
	setFloat(&t.FoodInstruction, DefaultFoodThreshold)
	setFloat(&t.Missing, DefaultMissingThreshold)
	setFloat(&t.NeedsConfirmation, DefaultNeedsConfirmation)

	// ── Cache ─────────────────────────────────────────────────────────────────
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = DefaultCacheBackend
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = DefaultCacheMaxEntries
	}
	if cfg.Cache.CleanupInterval == 0 {
		cfg.Cache.CleanupInterval = cfg.Cache.TTL
	}

	// ── Monitoring ────────────────────────────────────────────────────────────
	if cfg.Monitoring.Path == "" {
		cfg.Monitoring.Path = DefaultMetricsPath
	}
	if cfg.Monitoring.Namespace == "" {
		cfg.Monitoring.Namespace = DefaultMetricsNamespace
	}
}

func setFloat(dst *float64, def float64) {
	if *dst == 0 {
		*dst = def
	}
}
