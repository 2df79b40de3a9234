package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultServerMode, cfg.Server.Mode)
	assert.Equal(t, DefaultLLMTimeout, cfg.Oracle.LLM.Timeout)
	assert.Equal(t, DefaultLLMWarmupTimeout, cfg.Oracle.LLM.WarmupTimeout)
	assert.Equal(t, DefaultOCRTimeout, cfg.Oracle.OCR.Timeout)
	assert.Equal(t, 0.3, cfg.Pipeline.BaseConfidence)
	assert.Equal(t, 0.50, cfg.Pipeline.Thresholds.OCRMinimum)
	assert.Equal(t, 0.65, cfg.Pipeline.Thresholds.OCRWarning)
	assert.Equal(t, 0.70, cfg.Pipeline.Thresholds.DrugName)
	assert.Equal(t, 0.75, cfg.Pipeline.Thresholds.Strength)
	assert.Equal(t, 0.55, cfg.Pipeline.Thresholds.FoodInstruction)
	assert.Equal(t, 0.30, cfg.Pipeline.Thresholds.Missing)
	assert.Equal(t, 5, cfg.Pipeline.MaxNudges)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, DefaultKafkaTopic, cfg.Kafka.Topic)
}

func TestApplyDefaults_PreserveExistingValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 9999
	cfg.Pipeline.Thresholds.DrugName = 0.8
	cfg.Cache.Backend = "redis"
	ApplyDefaults(cfg)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 0.8, cfg.Pipeline.Thresholds.DrugName)
	assert.Equal(t, "redis", cfg.Cache.Backend)
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}

func TestNewDefaultConfig_Validates(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad mode", func(c *Config) { c.Server.Mode = "prod" }, "server.mode"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"threshold out of range", func(c *Config) { c.Pipeline.Thresholds.Strength = 1.5 }, "thresholds.strength"},
		{"ocr ordering", func(c *Config) { c.Pipeline.Thresholds.OCRMinimum = 0.9 }, "ocr_minimum"},
		{"too many nudges", func(c *Config) { c.Pipeline.MaxNudges = 6 }, "max_nudges"},
		{"bad cache backend", func(c *Config) { c.Cache.Backend = "memcached" }, "cache.backend"},
		{"redis addr", func(c *Config) { c.Cache.Backend = "redis"; c.Redis.Addr = "" }, "redis.addr"},
		{"db user", func(c *Config) { c.Database.Enabled = true; c.Database.User = "" }, "database.user"},
		{"kafka topic", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Topic = "" }, "kafka.topic"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Database.User = "medplan"
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestApplyDefaults_RateLimitBurst(t *testing.T) {
	cfg := &Config{}
	cfg.Server.RateLimitRPS = 4
	ApplyDefaults(cfg)
	assert.Equal(t, 9, cfg.Server.RateLimitBurst)

	off := NewDefaultConfig()
	assert.Zero(t, off.Server.RateLimitRPS)
	assert.Zero(t, off.Server.RateLimitBurst)
}
