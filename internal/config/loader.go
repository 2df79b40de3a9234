// Package config provides configuration loading, defaults, and validation for
// MedPlan-Intelligence.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all settings.
const envPrefix = "MEDPLAN"

// newViper builds a Viper instance with YAML type, the MEDPLAN_ env prefix,
// automatic env binding and a "." → "_" key replacer, so that
// "pipeline.thresholds.drug_name" resolves from
// MEDPLAN_PIPELINE_THRESHOLDS_DRUG_NAME.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvKeys(v)
	return v
}

// bindEnvKeys registers every leaf key so AutomaticEnv can see keys that are
// absent from the config file. Viper only consults the environment for keys
// it already knows about during Unmarshal.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
}

var envKeys = []string{
	"server.host", "server.port", "server.mode", "server.read_timeout", "server.write_timeout",
	"server.request_timeout", "server.max_body_size", "server.shutdown_timeout",
	"server.rate_limit_rps", "server.rate_limit_burst", "server.trust_proxy_headers",
	"log.level", "log.format",
	"database.enabled", "database.host", "database.port", "database.user", "database.password",
	"database.db_name", "database.ssl_mode", "database.max_conns", "database.migration_path",
	"database.auto_migrate",
	"redis.addr", "redis.password", "redis.db", "redis.key_prefix",
	"kafka.enabled", "kafka.brokers", "kafka.topic",
	"oracle.llm.base_url", "oracle.llm.api_key", "oracle.llm.model", "oracle.llm.temperature",
	"oracle.llm.timeout", "oracle.llm.warmup_timeout",
	"oracle.ocr.endpoint", "oracle.ocr.api_key", "oracle.ocr.timeout",
	"pipeline.base_confidence", "pipeline.max_nudges", "pipeline.use_llm",
	"pipeline.drug_info_concurrency", "pipeline.interaction_table_path", "pipeline.drug_info_seed_path",
	"pipeline.thresholds.ocr_minimum", "pipeline.thresholds.ocr_warning",
	"pipeline.thresholds.drug_name", "pipeline.thresholds.strength",
	"pipeline.thresholds.frequency", "pipeline.thresholds.duration",
	"pipeline.thresholds.food_instruction", "pipeline.thresholds.missing",
	"pipeline.thresholds.needs_confirmation",
	"cache.backend", "cache.ttl", "cache.max_entries",
	"monitoring.enabled", "monitoring.path",
}

// Load reads the YAML file at configPath, merges MEDPLAN_* environment
// overrides, applies defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromFile is an alias of Load used by the CLI.
func LoadFromFile(configPath string) (*Config, error) {
	return Load(configPath)
}

// LoadFromEnv builds a Config from MEDPLAN_* environment variables and
// defaults only.
//
//	MEDPLAN_<SECTION>_<FIELD>   e.g.  MEDPLAN_CACHE_BACKEND, MEDPLAN_ORACLE_LLM_MODEL
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Watch monitors configPath and invokes onChange with each newly parsed
// Config. Invalid revisions are reported to onError (if non-nil) and skipped.
// Non-blocking; viper owns the watcher goroutine.
func Watch(configPath string, onChange func(*Config), onError func(error)) {
	v := newViper()
	v.SetConfigFile(configPath)
	_ = v.ReadInConfig()

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// MustLoad wraps Load and panics on error. For main() only.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
