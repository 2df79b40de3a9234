// Package llm_parser parses prescriptions through a text-completion oracle.
// The oracle's JSON is never trusted: it is decoded into a loose shape first
// and then normalised with explicit defaults into MedicationRecords.
package llm_parser

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/common"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// OracleName labels LLM calls in metrics and errors.
const OracleName = "llm"

// ParserConfig bounds oracle calls.
type ParserConfig struct {
	// Timeout bounds each completion after the first.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// WarmupTimeout bounds the first completion, which may include model
	// load time.
	WarmupTimeout time.Duration `json:"warmup_timeout" yaml:"warmup_timeout"`
	Temperature   float64       `json:"temperature" yaml:"temperature"`
	MaxTokens     int           `json:"max_tokens" yaml:"max_tokens"`
	// MaxInputChars truncates the prescription text placed in the prompt.
	MaxInputChars int `json:"max_input_chars" yaml:"max_input_chars"`
}

// DefaultParserConfig returns the stock configuration.
func DefaultParserConfig() ParserConfig {
	return ParserConfig{
		Timeout:       60 * time.Second,
		WarmupTimeout: 180 * time.Second,
		Temperature:   0.1,
		MaxTokens:     2048,
		MaxInputChars: 8000,
	}
}

// Parser turns prescription text into a plan via the text oracle.
type Parser interface {
	Parse(ctx context.Context, text, languageHint string) (*medication.MedicationPlan, error)
}

type parserImpl struct {
	completer common.TextCompleter
	prompts   *PromptBuilder
	cfg       ParserConfig
	metrics   common.PipelineMetrics
	logger    logging.Logger
	warmed    atomic.Bool
}

// NewParser builds a Parser. completer may be nil, in which case every call
// fails with ErrCodeOracleUnavailable.
func NewParser(completer common.TextCompleter, cfg ParserConfig, metrics common.PipelineMetrics, logger logging.Logger) (Parser, error) {
	def := DefaultParserConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.WarmupTimeout < cfg.Timeout {
		cfg.WarmupTimeout = cfg.Timeout
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = def.MaxInputChars
	}
	if metrics == nil {
		metrics = common.NewNoopPipelineMetrics()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	prompts, err := NewPromptBuilder()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "build prompt templates")
	}
	return &parserImpl{
		completer: completer,
		prompts:   prompts,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.Named("llm_parser"),
	}, nil
}

func (p *parserImpl) Parse(ctx context.Context, text, languageHint string) (*medication.MedicationPlan, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New(errors.ErrCodeInputValidation, "prescription text is empty")
	}
	if p.completer == nil {
		return nil, errors.New(errors.ErrCodeOracleUnavailable, "text completion oracle is not configured")
	}

	user, err := p.prompts.Render(TemplateParsePrescription, ParsePromptData{
		Text:         text,
		LanguageHint: languageHint,
		MaxChars:     p.cfg.MaxInputChars,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "render parse prompt")
	}

	timeout := p.cfg.Timeout
	if !p.warmed.Load() {
		timeout = p.cfg.WarmupTimeout
	}

	start := time.Now()
	raw, err := common.WithTimeout(ctx, timeout, OracleName, func(ctx context.Context) (string, error) {
		return p.completer.Complete(ctx, PlanSystemPrompt, user, common.CompletionOptions{
			Temperature: p.cfg.Temperature,
			JSONMode:    true,
			MaxTokens:   p.cfg.MaxTokens,
		})
	})
	elapsed := time.Since(start)
	if err != nil {
		outcome := "error"
		if errors.IsCode(err, errors.ErrCodeOracleTimeout) {
			outcome = "timeout"
		} else if errors.GetCode(err) == errors.CodeUnknown {
			err = errors.Wrap(err, errors.ErrCodeOracleUnavailable, "text completion failed")
		}
		p.metrics.RecordOracleCall(ctx, OracleName, outcome, elapsed)
		p.logger.WithContext(ctx).Warn("llm parse failed", logging.Err(err), logging.Duration("elapsed", elapsed))
		return nil, err
	}
	p.warmed.Store(true)

	plan, err := DecodePlan(raw, languageHint)
	if err != nil {
		p.metrics.RecordOracleCall(ctx, OracleName, "invalid_output", elapsed)
		p.logger.WithContext(ctx).Warn("llm returned unusable output",
			logging.Err(err), logging.Int("output_bytes", len(raw)))
		return nil, err
	}
	p.metrics.RecordOracleCall(ctx, OracleName, "success", elapsed)
	p.logger.WithContext(ctx).Debug("llm parse complete",
		logging.Int("medications", len(plan.Medications)), logging.Duration("elapsed", elapsed))
	return plan, nil
}
