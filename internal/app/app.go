// Package app assembles the pipeline and its infrastructure from a Config.
// Both binaries build through here so the HTTP server and the CLI run the
// same wiring.
package app

import (
	"context"
	"os"
	"time"

	"github.com/turtacn/MedPlan-Intelligence/internal/application/prescription"
	"github.com/turtacn/MedPlan-Intelligence/internal/config"
	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/cache/memory"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/database/postgres"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/database/redis"
	kafkainfra "github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/oracle/ocr"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/oracle/openai"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/common"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/confidence_gate"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/explainability"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/interaction_checker"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/llm_parser"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/nudge"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/rx_extractor"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// HealthChecker reports the health of one dependency.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

type healthFunc struct {
	name  string
	check func(ctx context.Context) error
}

func (h healthFunc) Name() string                    { return h.name }
func (h healthFunc) Check(ctx context.Context) error { return h.check(ctx) }

// Options narrow what New builds.
type Options struct {
	// SkipMetrics leaves the Prometheus collector out; the CLI uses this.
	SkipMetrics bool
	// SkipEvents leaves the Kafka producer out even when enabled.
	SkipEvents bool
}

// App holds every long-lived component. Close releases them.
type App struct {
	Config *config.Config
	Logger logging.Logger

	Collector prometheus.MetricsCollector
	Metrics   *prometheus.AppMetrics

	Orchestrator prescription.Orchestrator
	Ask          prescription.AskService
	Checker      interaction_checker.Checker
	DrugInfo     medication.DrugInfoRepository

	DB       *postgres.Connection
	Redis    *redis.Client
	Producer *kafkainfra.Producer

	// Features records which optional stages were wired.
	Features map[string]bool

	closers []func() error
}

// HealthCheckers returns one checker per configured external dependency.
func (a *App) HealthCheckers() []HealthChecker {
	var out []HealthChecker
	if a.DB != nil {
		out = append(out, healthFunc{name: "postgres", check: a.DB.HealthCheck})
	}
	if a.Redis != nil {
		out = append(out, healthFunc{name: "redis", check: a.Redis.Ping})
	}
	return out
}

// Close releases resources in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close failed", logging.Err(err))
		}
	}
	a.closers = nil
}

// New builds the App. On failure everything built so far is closed.
func New(cfg *config.Config, logger logging.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	a := &App{Config: cfg, Logger: logger}

	if err := a.initMetrics(opts); err != nil {
		a.Close()
		return nil, err
	}
	pm := common.NewNoopPipelineMetrics()
	if a.Metrics != nil {
		pm = prometheus.NewPipelineMetrics(a.Metrics)
	}

	if err := a.initDrugInfo(); err != nil {
		a.Close()
		return nil, err
	}
	cache, err := a.initCache()
	if err != nil {
		a.Close()
		return nil, err
	}
	events, err := a.initEvents(opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	table, err := interaction_checker.LoadTableFile(cfg.Pipeline.InteractionTablePath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Checker = interaction_checker.NewChecker(table, logger)

	completer, recognizer, err := a.initOracles()
	if err != nil {
		a.Close()
		return nil, err
	}
	parser, err := llm_parser.NewParser(completer, llm_parser.ParserConfig{
		Timeout:       cfg.Oracle.LLM.Timeout,
		WarmupTimeout: cfg.Oracle.LLM.WarmupTimeout,
		Temperature:   cfg.Oracle.LLM.Temperature,
		MaxTokens:     cfg.Oracle.LLM.MaxTokens,
	}, pm, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Orchestrator = prescription.NewOrchestrator(prescription.OrchestratorConfig{
		UseLLM:              cfg.Pipeline.UseLLM,
		OCRTimeout:          cfg.Oracle.OCR.Timeout,
		LanguageHints:       cfg.Oracle.OCR.Languages,
		DrugInfoConcurrency: cfg.Pipeline.DrugInfoConcurrency,
	}, prescription.Components{
		Extractor: rx_extractor.NewExtractor(rx_extractor.ExtractorConfig{
			BaseConfidence: cfg.Pipeline.BaseConfidence,
			MaxLines:       rx_extractor.DefaultExtractorConfig().MaxLines,
		}, nil, logger),
		Gate:       confidence_gate.NewGate(confidence_gate.GateConfig{Thresholds: GateThresholds(cfg.Pipeline.Thresholds)}, logger),
		Checker:    a.Checker,
		Composer:   explainability.NewComposer(logger),
		Nudges:     nudge.NewGenerator(nudge.GeneratorConfig{MaxNudges: cfg.Pipeline.MaxNudges}, logger),
		Parser:     parser,
		Recognizer: recognizer,
		DrugInfo:   a.DrugInfo,
		Events:     events,
		Metrics:    pm,
	}, logger)

	a.Ask, err = prescription.NewAskService(prescription.AskConfig{
		TTL:     cfg.Cache.TTL,
		Timeout: cfg.Oracle.LLM.Timeout,
	}, completer, cache, pm, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Features = map[string]bool{
		"database":    a.DB != nil,
		"events":      events != nil,
		"llm_oracle":  completer != nil,
		"llm_parsing": cfg.Pipeline.UseLLM && completer != nil,
		"ocr":         recognizer != nil,
	}
	logger.Info("application initialised",
		logging.String("cache_backend", cfg.Cache.Backend),
		logging.Any("features", a.Features),
	)
	return a, nil
}

// GateThresholds converts the configured policy table.
func GateThresholds(t config.ThresholdConfig) confidence_gate.Thresholds {
	return confidence_gate.Thresholds{
		OCRMinimum:        t.OCRMinimum,
		OCRWarning:        t.OCRWarning,
		DrugName:          t.DrugName,
		Strength:          t.Strength,
		Frequency:         t.Frequency,
		Duration:          t.Duration,
		FoodInstruction:   t.FoodInstruction,
		Missing:           t.Missing,
		NeedsConfirmation: t.NeedsConfirmation,
	}
}

// PostgresConfig converts the configured database section.
func PostgresConfig(d config.DatabaseConfig) postgres.PostgresConfig {
	return postgres.PostgresConfig{
		Host:            d.Host,
		Port:            d.Port,
		Database:        d.DBName,
		Username:        d.User,
		Password:        d.Password,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	}
}

func (a *App) initMetrics(opts Options) error {
	if opts.SkipMetrics || !a.Config.Monitoring.Enabled {
		return nil
	}
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            a.Config.Monitoring.Namespace,
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, a.Logger)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "metrics collector")
	}
	a.Collector = collector
	a.Metrics = prometheus.NewAppMetrics(collector)
	return nil
}

func (a *App) initDrugInfo() error {
	cfg := a.Config
	if cfg.Database.Enabled {
		conn, err := postgres.NewConnection(PostgresConfig(cfg.Database), a.Logger)
		if err != nil {
			return err
		}
		a.DB = conn
		a.closers = append(a.closers, conn.Close)

		if cfg.Database.AutoMigrate {
			mg, err := postgres.NewMigrator(conn.DB(), cfg.Database.MigrationPath, a.Logger)
			if err != nil {
				return err
			}
			err = mg.Up()
			// Closing the migrator would close the shared pool.
			if err != nil {
				return err
			}
		}
		a.DrugInfo = repositories.NewPostgresDrugInfoRepo(conn, a.Logger)
		return nil
	}

	drugs := medication.DefaultDrugInfo()
	if path := cfg.Pipeline.DrugInfoSeedPath; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, errors.ErrCodeTableInvalid, "open drug info seed %s", path)
		}
		defer f.Close()
		if drugs, err = medication.DecodeDrugInfo(f); err != nil {
			return err
		}
	}
	a.DrugInfo = medication.NewMemoryDrugInfoRepository(drugs)
	return nil
}

func (a *App) initCache() (prescription.ResponseCache, error) {
	cfg := a.Config
	switch cfg.Cache.Backend {
	case "redis":
		client, err := redis.NewClient(&redis.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, a.Logger)
		if err != nil {
			return nil, err
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
		return redis.NewResponseCache(client, a.Logger,
			redis.WithPrefix(cfg.Redis.KeyPrefix+"ask:"),
			redis.WithDefaultTTL(cfg.Cache.TTL),
		), nil
	default:
		c := memory.NewResponseCache(memory.Config{
			TTL:             cfg.Cache.TTL,
			MaxEntries:      cfg.Cache.MaxEntries,
			CleanupInterval: cfg.Cache.CleanupInterval,
		}, a.Logger)
		return c, nil
	}
}

func (a *App) initEvents(opts Options) (prescription.EventPublisher, error) {
	cfg := a.Config.Kafka
	if opts.SkipEvents || !cfg.Enabled {
		return nil, nil
	}
	producer, err := kafkainfra.NewProducer(kafkainfra.ProducerConfig{
		Brokers:      cfg.Brokers,
		Acks:         acksName(cfg.RequiredAcks),
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	a.Producer = producer
	a.closers = append(a.closers, producer.Close)
	return kafkainfra.NewPlanEventPublisher(producer, cfg.Topic), nil
}

func acksName(n int) string {
	switch n {
	case 0:
		return "none"
	case 1:
		return "one"
	}
	return "all"
}

// initOracles builds the HTTP oracle clients. An empty endpoint leaves the
// oracle unset, which the pipeline reports as unavailable on use.
func (a *App) initOracles() (common.TextCompleter, common.TextRecognizer, error) {
	cfg := a.Config.Oracle
	var (
		completer  common.TextCompleter
		recognizer common.TextRecognizer
	)
	if cfg.LLM.BaseURL != "" {
		c, err := openai.NewClient(openai.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			HTTPTimeout: backstop(cfg.LLM.WarmupTimeout),
		}, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		completer = c
	}
	if cfg.OCR.Endpoint != "" {
		c, err := ocr.NewClient(ocr.Config{
			Endpoint:    cfg.OCR.Endpoint,
			APIKey:      cfg.OCR.APIKey,
			HTTPTimeout: backstop(cfg.OCR.Timeout),
		}, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		recognizer = c
	}
	return completer, recognizer, nil
}

// backstop leaves headroom over the per-call context deadline.
func backstop(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + 30*time.Second
}
