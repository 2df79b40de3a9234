// Package prescription sequences the extraction pipeline and serves the
// ask-about-a-medicine path.
package prescription

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/interaction"
	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
	kafkainfra "github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/common"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/confidence_gate"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/explainability"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/interaction_checker"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/llm_parser"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/nudge"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/rx_extractor"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// Stage names used in metrics and logs.
const (
	StageValidate     = "validate"
	StageOCR          = "ocr"
	StageQualityGate  = "quality_gate"
	StageParse        = "parse"
	StageFieldGate    = "field_gate"
	StageDrugInfo     = "drug_info"
	StageInteractions = "interactions"
	StageExplain      = "explainability"
	StageNudges       = "nudges"
)

// Request outcomes.
const (
	OutcomeSuccess           = "success"
	OutcomeNeedsConfirmation = "needs_confirmation"
	OutcomeInvalidInput      = "invalid_input"
	OutcomeTimeout           = "timeout"
	OutcomeError             = "error"
)

// OracleOCR labels image-to-text calls.
const OracleOCR = "ocr"

// ─────────────────────────────────────────────────────────────────────────────
// Request / Response
// ─────────────────────────────────────────────────────────────────────────────

// ParseRequest is the pipeline input. At least one of RawText or Image is
// required; Image wins when both are present.
type ParseRequest struct {
	RawText         string                      `json:"raw_text,omitempty"`
	Image           []byte                      `json:"-"`
	LanguageHint    string                      `json:"language_hint,omitempty"`
	UserPreferences *medication.UserPreferences `json:"user_preferences,omitempty"`
	Conditions      []string                    `json:"conditions,omitempty"`
	Allergies       []string                    `json:"allergies,omitempty"`
	// UseLLM overrides the configured parser choice when set.
	UseLLM *bool `json:"use_llm,omitempty"`
}

// Validate checks that some input was supplied.
func (r *ParseRequest) Validate() error {
	if strings.TrimSpace(r.RawText) == "" && len(r.Image) == 0 {
		return errors.New(errors.ErrCodeInputValidation, "raw_text or image is required")
	}
	return nil
}

// ErrorInfo is the terminal error carried on a Response.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// Response is the pipeline output. Error is set only for terminal failures;
// a plan that needs confirmation is not an error.
type Response struct {
	RequestID    string                     `json:"request_id"`
	Plan         *medication.MedicationPlan `json:"medication_plan,omitempty"`
	Cards        []explainability.Card      `json:"explainability_cards"`
	Interactions []interaction.Result       `json:"interaction_results"`
	Nudges       []nudge.Nudge              `json:"nudges"`
	Warnings     []string                   `json:"warnings"`
	Error        *ErrorInfo                 `json:"error,omitempty"`

	err error
}

// Err returns the terminal error, or nil.
func (r *Response) Err() error { return r.err }

func newResponse(requestID string) *Response {
	return &Response{
		RequestID:    requestID,
		Cards:        []explainability.Card{},
		Interactions: []interaction.Result{},
		Nudges:       []nudge.Nudge{},
		Warnings:     []string{},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Orchestrator
// ─────────────────────────────────────────────────────────────────────────────

// EventPublisher receives a summary of every completed plan.
type EventPublisher interface {
	PublishPlanGenerated(ctx context.Context, payload kafkainfra.PlanGeneratedPayload) error
}

// OrchestratorConfig tunes sequencing.
type OrchestratorConfig struct {
	// UseLLM selects the LLM parser over the rule-based extractor.
	UseLLM bool
	// OCRTimeout bounds each image-to-text call.
	OCRTimeout    time.Duration
	LanguageHints []string
	// DrugInfoConcurrency bounds the drug-info lookup fan-out.
	DrugInfoConcurrency int
}

// DefaultOrchestratorConfig returns the stock configuration.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		OCRTimeout:          120 * time.Second,
		LanguageHints:       []string{"en"},
		DrugInfoConcurrency: 4,
	}
}

// Components are the pipeline stages and collaborators. Extractor, Gate,
// Checker, Composer and Nudges default to stock instances when nil. Parser,
// Recognizer, DrugInfo and Events are optional.
type Components struct {
	Extractor  rx_extractor.Extractor
	Gate       confidence_gate.Gate
	Checker    interaction_checker.Checker
	Composer   explainability.Composer
	Nudges     nudge.Generator
	Parser     llm_parser.Parser
	Recognizer common.TextRecognizer
	DrugInfo   medication.DrugInfoRepository
	Events     EventPublisher
	Metrics    common.PipelineMetrics
}

// Orchestrator runs the linear pipeline for one request at a time; it holds
// no per-request state and is safe for concurrent use.
type Orchestrator interface {
	Process(ctx context.Context, req *ParseRequest) *Response
}

type orchestratorImpl struct {
	cfg    OrchestratorConfig
	c      Components
	logger logging.Logger
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig, c Components, logger logging.Logger) Orchestrator {
	def := DefaultOrchestratorConfig()
	if cfg.OCRTimeout <= 0 {
		cfg.OCRTimeout = def.OCRTimeout
	}
	if cfg.DrugInfoConcurrency <= 0 {
		cfg.DrugInfoConcurrency = def.DrugInfoConcurrency
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if c.Extractor == nil {
		c.Extractor = rx_extractor.NewExtractor(rx_extractor.DefaultExtractorConfig(), nil, logger)
	}
	if c.Gate == nil {
		c.Gate = confidence_gate.NewGate(confidence_gate.DefaultGateConfig(), logger)
	}
	if c.Checker == nil {
		c.Checker = interaction_checker.NewChecker(nil, logger)
	}
	if c.Composer == nil {
		c.Composer = explainability.NewComposer(logger)
	}
	if c.Nudges == nil {
		c.Nudges = nudge.NewGenerator(nudge.DefaultGeneratorConfig(), logger)
	}
	if c.Metrics == nil {
		c.Metrics = common.NewNoopPipelineMetrics()
	}
	return &orchestratorImpl{cfg: cfg, c: c, logger: logger.Named("orchestrator")}
}

func (o *orchestratorImpl) Process(ctx context.Context, req *ParseRequest) *Response {
	requestID := logging.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = logging.ContextWithRequestID(ctx, requestID)
	}
	resp := newResponse(requestID)
	log := o.logger.WithContext(ctx)

	start := time.Now()
	if req == nil {
		req = &ParseRequest{}
	}
	if err := req.Validate(); err != nil {
		return o.fail(ctx, resp, err)
	}
	o.stageDone(ctx, StageValidate, start)

	// OCR
	text := req.RawText
	var tokens []medication.OCRToken
	var ocrConfidence *float64
	if len(req.Image) > 0 {
		rec, err := o.recognize(ctx, req)
		if err != nil {
			return o.fail(ctx, resp, err)
		}
		text, tokens = rec.Text, rec.Tokens
		c := rec.OverallConfidence
		ocrConfidence = &c
	}

	// Quality gate
	if ocrConfidence != nil {
		start = time.Now()
		qr := o.c.Gate.CheckImageQuality(*ocrConfidence)
		o.stageDone(ctx, StageQualityGate, start)
		resp.Warnings = append(resp.Warnings, qr.Warnings...)
		if !qr.Passed {
			resp.Plan = &medication.MedicationPlan{
				Medications:            []medication.MedicationRecord{},
				ExtractedLanguage:      req.LanguageHint,
				NeedsConfirmation:      true,
				ClarificationQuestions: qr.Questions,
			}
			return o.needsConfirmation(ctx, resp)
		}
	}

	// Parse
	start = time.Now()
	plan, err := o.parse(ctx, req, text, tokens)
	if err != nil {
		return o.fail(ctx, resp, err)
	}
	o.stageDone(ctx, StageParse, start)

	// Field gate
	start = time.Now()
	gr := o.c.Gate.ApplyToPlan(plan, nil)
	o.stageDone(ctx, StageFieldGate, start)
	resp.Plan = plan
	resp.Warnings = append(resp.Warnings, gr.Warnings...)
	for _, q := range gr.Questions {
		o.c.Metrics.RecordClarification(ctx, string(q.Field))
	}
	if !gr.Passed {
		return o.needsConfirmation(ctx, resp)
	}

	// Drug info
	start = time.Now()
	infos, warnings, err := o.lookupDrugInfo(ctx, plan)
	if err != nil {
		return o.fail(ctx, resp, err)
	}
	resp.Warnings = append(resp.Warnings, warnings...)
	o.stageDone(ctx, StageDrugInfo, start)

	// Interactions
	start = time.Now()
	report := o.c.Checker.Check(plan.Names(), req.Conditions, req.Allergies)
	resp.Interactions = report.All()
	o.c.Metrics.RecordInteractions(ctx, string(interaction.KindDrugDrug), len(report.DrugDrug))
	o.c.Metrics.RecordInteractions(ctx, string(interaction.KindDrugCondition), len(report.DrugCondition))
	o.c.Metrics.RecordInteractions(ctx, string(interaction.KindDrugAllergy), len(report.DrugAllergy))
	o.stageDone(ctx, StageInteractions, start)

	// Explainability
	start = time.Now()
	resp.Cards = o.c.Composer.ComposeAll(plan, infos)
	o.stageDone(ctx, StageExplain, start)

	// Nudges
	start = time.Now()
	resp.Nudges = o.c.Nudges.Generate(plan.Medications, req.UserPreferences)
	o.stageDone(ctx, StageNudges, start)

	o.publish(ctx, resp, report.HasInteractions)

	outcome := OutcomeSuccess
	if plan.NeedsConfirmation {
		outcome = OutcomeNeedsConfirmation
	}
	o.c.Metrics.RecordRequest(ctx, outcome)
	log.Info("prescription processed",
		logging.String("outcome", outcome),
		logging.String("source", string(plan.Source)),
		logging.Int("medications", len(plan.Medications)),
		logging.Int("questions", len(plan.ClarificationQuestions)),
		logging.Int("interactions", len(resp.Interactions)),
		logging.Float64("overall_confidence", plan.OverallConfidence),
	)
	return resp
}

// ─────────────────────────────────────────────────────────────────────────────
// Stages
// ─────────────────────────────────────────────────────────────────────────────

func (o *orchestratorImpl) recognize(ctx context.Context, req *ParseRequest) (*common.RecognitionResult, error) {
	if o.c.Recognizer == nil {
		return nil, errors.New(errors.ErrCodeOracleUnavailable, "image-to-text oracle is not configured")
	}
	hints := o.cfg.LanguageHints
	if req.LanguageHint != "" {
		hints = []string{req.LanguageHint}
	}

	start := time.Now()
	res, err := common.WithTimeout(ctx, o.cfg.OCRTimeout, OracleOCR, func(ctx context.Context) (*common.RecognitionResult, error) {
		return o.c.Recognizer.Recognize(ctx, req.Image, hints)
	})
	elapsed := time.Since(start)
	if err != nil {
		outcome := "error"
		if errors.IsCode(err, errors.ErrCodeOracleTimeout) {
			outcome = "timeout"
		} else if errors.GetCode(err) == errors.CodeUnknown {
			err = errors.Wrap(err, errors.ErrCodeOracleUnavailable, "image recognition failed")
		}
		o.c.Metrics.RecordOracleCall(ctx, OracleOCR, outcome, elapsed)
		return nil, err
	}
	if res == nil {
		o.c.Metrics.RecordOracleCall(ctx, OracleOCR, "invalid_output", elapsed)
		return nil, errors.New(errors.ErrCodeOracleOutput, "image recognition returned no result")
	}
	o.c.Metrics.RecordOracleCall(ctx, OracleOCR, "success", elapsed)
	o.c.Metrics.RecordStage(ctx, StageOCR, elapsed)
	return res, nil
}

func (o *orchestratorImpl) useLLM(req *ParseRequest) bool {
	if req.UseLLM != nil {
		return *req.UseLLM
	}
	return o.cfg.UseLLM
}

func (o *orchestratorImpl) parse(ctx context.Context, req *ParseRequest, text string, tokens []medication.OCRToken) (*medication.MedicationPlan, error) {
	if o.useLLM(req) {
		if o.c.Parser == nil {
			return nil, errors.New(errors.ErrCodeOracleUnavailable, "text completion oracle is not configured")
		}
		plan, err := o.c.Parser.Parse(ctx, text, req.LanguageHint)
		if err != nil {
			return nil, err
		}
		plan.Source = medication.SourceLLM
		if plan.ExtractedLanguage == "" {
			plan.ExtractedLanguage = req.LanguageHint
		}
		return plan, nil
	}

	var (
		res *rx_extractor.ExtractionResult
		err error
	)
	if len(tokens) > 0 {
		res, err = o.c.Extractor.ExtractWithTokens(ctx, text, tokens)
	} else {
		res, err = o.c.Extractor.Extract(ctx, text)
	}
	if err != nil {
		return nil, err
	}
	return &medication.MedicationPlan{
		Medications:            res.Records,
		ExtractedLanguage:      req.LanguageHint,
		ClarificationQuestions: []medication.ClarificationQuestion{},
		Source:                 medication.SourceRules,
	}, nil
}

// lookupDrugInfo fetches drug info for every medication concurrently. Misses
// and repository failures become nil entries; only cancellation aborts.
func (o *orchestratorImpl) lookupDrugInfo(ctx context.Context, plan *medication.MedicationPlan) ([]*medication.DrugInfo, []string, error) {
	infos := make([]*medication.DrugInfo, len(plan.Medications))
	if o.c.DrugInfo == nil {
		return infos, nil, nil
	}
	failed := make([]bool, len(plan.Medications))
	log := o.logger.WithContext(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.DrugInfoConcurrency)
	for i := range plan.Medications {
		i := i
		name := plan.Medications[i].Name
		if strings.TrimSpace(name) == "" {
			continue
		}
		g.Go(func() error {
			info, err := o.c.DrugInfo.FindByName(gctx, name)
			switch {
			case err == nil:
				infos[i] = info
			case errors.IsNotFound(err):
				log.Warn("drug info not available", logging.String("drug", name))
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				failed[i] = true
				log.Warn("drug info lookup failed", logging.String("drug", name), logging.Err(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if common.IsDeadline(err) {
			return nil, nil, errors.Wrap(err, errors.ErrCodeTimeout, "drug info lookup timed out")
		}
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "drug info lookup aborted")
	}

	var warnings []string
	for i, f := range failed {
		if f {
			warnings = append(warnings, "Drug information could not be loaded for "+plan.Medications[i].Name+".")
		}
	}
	return infos, warnings, nil
}

func (o *orchestratorImpl) publish(ctx context.Context, resp *Response, hasInteractions bool) {
	if o.c.Events == nil {
		return
	}
	payload := kafkainfra.PlanGeneratedPayload{
		RequestID:         resp.RequestID,
		MedicationCount:   len(resp.Plan.Medications),
		NeedsConfirmation: resp.Plan.NeedsConfirmation,
		HasInteractions:   hasInteractions,
		OverallConfidence: resp.Plan.OverallConfidence,
		GeneratedAt:       time.Now().UTC(),
	}
	if err := o.c.Events.PublishPlanGenerated(ctx, payload); err != nil {
		o.logger.WithContext(ctx).Warn("plan event not published", logging.Err(err))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Outcomes
// ─────────────────────────────────────────────────────────────────────────────

func (o *orchestratorImpl) stageDone(ctx context.Context, stage string, start time.Time) {
	o.c.Metrics.RecordStage(ctx, stage, time.Since(start))
}

func (o *orchestratorImpl) needsConfirmation(ctx context.Context, resp *Response) *Response {
	resp.Plan.NeedsConfirmation = true
	o.c.Metrics.RecordRequest(ctx, OutcomeNeedsConfirmation)
	o.logger.WithContext(ctx).Info("prescription needs confirmation",
		logging.Int("questions", len(resp.Plan.ClarificationQuestions)))
	return resp
}

// fail ends the pipeline. No partial results from skipped stages are kept.
func (o *orchestratorImpl) fail(ctx context.Context, resp *Response, err error) *Response {
	code := errors.GetCode(err)
	if code == errors.CodeUnknown {
		err = errors.Wrap(err, errors.ErrCodeInternal, "prescription processing failed")
		code = errors.ErrCodeInternal
	}
	resp.Plan = nil
	resp.Cards = []explainability.Card{}
	resp.Interactions = []interaction.Result{}
	resp.Nudges = []nudge.Nudge{}
	resp.err = err
	resp.Error = &ErrorInfo{
		Code:    code.String(),
		Message: userMessage(code),
		Cause:   err.Error(),
	}

	outcome := OutcomeError
	switch code {
	case errors.ErrCodeInputValidation:
		outcome = OutcomeInvalidInput
	case errors.ErrCodeOracleTimeout, errors.ErrCodeTimeout:
		outcome = OutcomeTimeout
	}
	o.c.Metrics.RecordRequest(ctx, outcome)
	o.logger.WithContext(ctx).Warn("prescription processing failed",
		logging.String("code", code.String()), logging.Err(err))
	return resp
}

func userMessage(code errors.ErrorCode) string {
	switch code {
	case errors.ErrCodeInputValidation:
		return "Please provide the prescription text or a photo of it."
	case errors.ErrCodeOracleTimeout, errors.ErrCodeTimeout:
		return "Reading the prescription took too long. Please try again."
	case errors.ErrCodeOracleOutput:
		return "We could not process this prescription. Please try again or type it in."
	case errors.ErrCodeOracleUnavailable:
		return "The prescription reader is unavailable right now. Please try again later."
	}
	return "Something went wrong while processing the prescription."
}
