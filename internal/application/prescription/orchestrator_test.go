package prescription

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/interaction"
	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
	kafkainfra "github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/common"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/explainability"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

const twoDrugText = "Tab Aspirin 75mg OD\nTab Warfarin 5mg OD"

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishPlanGenerated(ctx context.Context, payload kafkainfra.PlanGeneratedPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

type parserFunc func(ctx context.Context, text, languageHint string) (*medication.MedicationPlan, error)

func (f parserFunc) Parse(ctx context.Context, text, languageHint string) (*medication.MedicationPlan, error) {
	return f(ctx, text, languageHint)
}

type failingRepo struct {
	medication.DrugInfoRepository
	err error
}

func (r failingRepo) FindByName(context.Context, string) (*medication.DrugInfo, error) {
	return nil, r.err
}

func newTestOrchestrator(cfg OrchestratorConfig, c Components) (Orchestrator, *common.InMemoryPipelineMetrics) {
	m := common.NewInMemoryPipelineMetrics()
	c.Metrics = m
	if c.DrugInfo == nil {
		c.DrugInfo = medication.NewMemoryDrugInfoRepository(medication.DefaultDrugInfo())
	}
	return NewOrchestrator(cfg, c, logging.NewNopLogger()), m
}

func boolPtr(b bool) *bool { return &b }

type countingComposer struct {
	explainability.Composer
	attach atomic.Int32
}

func (c *countingComposer) AttachQuestions(cards []explainability.Card, plan *medication.MedicationPlan) {
	c.attach.Add(1)
	c.Composer.AttachQuestions(cards, plan)
}

func TestProcess_CardsCarryQuestionsOnce(t *testing.T) {
	composer := &countingComposer{Composer: explainability.NewComposer(nil)}
	o, _ := newTestOrchestrator(DefaultOrchestratorConfig(), Components{Composer: composer})
	resp := o.Process(context.Background(), &ParseRequest{RawText: "Tab Amlodipine OD"})

	require.NoError(t, resp.Err())
	require.True(t, resp.Plan.NeedsConfirmation)
	require.Len(t, resp.Cards, 1)
	qs := resp.Cards[0].Uncertainty.ConfirmationQuestions
	require.NotEmpty(t, qs)
	assert.Equal(t, resp.Plan.QuestionsFor(0, resp.Cards[0].Uncertainty.UncertainFields), qs)
	assert.Zero(t, composer.attach.Load())
}

func TestProcess_TextSuccess(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("PublishPlanGenerated", mock.Anything, mock.MatchedBy(func(p kafkainfra.PlanGeneratedPayload) bool {
		return p.MedicationCount == 2 && p.HasInteractions
	})).Return(nil).Once()

	o, m := newTestOrchestrator(DefaultOrchestratorConfig(), Components{Events: pub})
	resp := o.Process(context.Background(), &ParseRequest{RawText: twoDrugText})

	require.Nil(t, resp.Error)
	require.NoError(t, resp.Err())
	assert.NotEmpty(t, resp.RequestID)
	require.NotNil(t, resp.Plan)
	assert.Equal(t, medication.SourceRules, resp.Plan.Source)
	require.Len(t, resp.Plan.Medications, 2)
	assert.Len(t, resp.Cards, 2)
	assert.True(t, resp.Cards[0].DrugDetails.Available)

	require.Len(t, resp.Interactions, 1)
	assert.Equal(t, interaction.KindDrugDrug, resp.Interactions[0].Kind)
	assert.Equal(t, interaction.SeverityModerate, resp.Interactions[0].Severity)

	assert.NotEmpty(t, resp.Nudges)
	assert.LessOrEqual(t, len(resp.Nudges), 5)

	assert.Equal(t, 1, m.Interactions[string(interaction.KindDrugDrug)])
	total := m.Requests[OutcomeSuccess] + m.Requests[OutcomeNeedsConfirmation]
	assert.Equal(t, 1, total)
	assert.Contains(t, m.StageList(), StageParse)
	assert.Contains(t, m.StageList(), StageNudges)
	pub.AssertExpectations(t)
}

func TestProcess_RequestIDFromContext(t *testing.T) {
	o, _ := newTestOrchestrator(DefaultOrchestratorConfig(), Components{})
	ctx := logging.ContextWithRequestID(context.Background(), "req-7")
	resp := o.Process(ctx, &ParseRequest{RawText: "Tab Metformin 500mg BD"})
	assert.Equal(t, "req-7", resp.RequestID)
}

func TestProcess_InputValidation(t *testing.T) {
	o, m := newTestOrchestrator(DefaultOrchestratorConfig(), Components{})

	for _, req := range []*ParseRequest{nil, {}, {RawText: "   "}} {
		resp := o.Process(context.Background(), req)
		require.NotNil(t, resp.Error)
		assert.Equal(t, errors.ErrCodeInputValidation.String(), resp.Error.Code)
		assert.NotEmpty(t, resp.Error.Message)
		assert.NotEmpty(t, resp.Error.Cause)
		assert.Nil(t, resp.Plan)
		assert.Empty(t, resp.Cards)
		assert.True(t, errors.IsCode(resp.Err(), errors.ErrCodeInputValidation))
	}
	assert.Equal(t, 3, m.Requests[OutcomeInvalidInput])
}

func TestProcess_LowImageQualityShortCircuits(t *testing.T) {
	rec := common.TextRecognizerFunc(func(ctx context.Context, image []byte, hints []string) (*common.RecognitionResult, error) {
		return &common.RecognitionResult{Text: twoDrugText, OverallConfidence: 0.40}, nil
	})
	var parsed atomic.Bool
	parser := parserFunc(func(context.Context, string, string) (*medication.MedicationPlan, error) {
		parsed.Store(true)
		return nil, nil
	})

	o, m := newTestOrchestrator(DefaultOrchestratorConfig(), Components{Recognizer: rec, Parser: parser})
	resp := o.Process(context.Background(), &ParseRequest{Image: []byte("img"), UseLLM: boolPtr(true)})

	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Plan)
	assert.True(t, resp.Plan.NeedsConfirmation)
	assert.Empty(t, resp.Plan.Medications)
	require.Len(t, resp.Plan.ClarificationQuestions, 1)
	assert.Equal(t, medication.FieldImageQuality, resp.Plan.ClarificationQuestions[0].Field)
	assert.Empty(t, resp.Cards)
	assert.Empty(t, resp.Nudges)
	assert.False(t, parsed.Load())
	assert.Equal(t, 1, m.Requests[OutcomeNeedsConfirmation])
	assert.Equal(t, 1, m.OracleCalls["ocr:success"])
}

func TestProcess_ImageUsesTokensAndHints(t *testing.T) {
	var gotHints []string
	rec := common.TextRecognizerFunc(func(ctx context.Context, image []byte, hints []string) (*common.RecognitionResult, error) {
		gotHints = hints
		return &common.RecognitionResult{
			Text:              "Tab Amlodipine 5mg OD",
			OverallConfidence: 0.9,
			Tokens: []medication.OCRToken{
				{Text: "Tab", Confidence: 0.95},
				{Text: "Amlodipine", Confidence: 0.95},
				{Text: "5mg", Confidence: 0.95},
				{Text: "OD", Confidence: 0.95},
			},
		}, nil
	})
	o, _ := newTestOrchestrator(DefaultOrchestratorConfig(), Components{Recognizer: rec})
	resp := o.Process(context.Background(), &ParseRequest{Image: []byte("img"), LanguageHint: "hi"})

	require.Nil(t, resp.Error)
	assert.Equal(t, []string{"hi"}, gotHints)
	require.Len(t, resp.Plan.Medications, 1)
	assert.Equal(t, "Amlodipine", resp.Plan.Medications[0].Name)
	assert.Equal(t, "hi", resp.Plan.ExtractedLanguage)
}

func TestProcess_MarginalImageWarns(t *testing.T) {
	rec := common.TextRecognizerFunc(func(ctx context.Context, image []byte, hints []string) (*common.RecognitionResult, error) {
		return &common.RecognitionResult{Text: "Tab Amlodipine 5mg OD", OverallConfidence: 0.6}, nil
	})
	o, _ := newTestOrchestrator(DefaultOrchestratorConfig(), Components{Recognizer: rec})
	resp := o.Process(context.Background(), &ParseRequest{Image: []byte("img")})
	require.Nil(t, resp.Error)
	require.NotEmpty(t, resp.Warnings)
	assert.Contains(t, resp.Warnings[0], "marginal")
}

func TestProcess_OCRTimeout(t *testing.T) {
	rec := common.TextRecognizerFunc(func(ctx context.Context, image []byte, hints []string) (*common.RecognitionResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := DefaultOrchestratorConfig()
	cfg.OCRTimeout = 20 * time.Millisecond

	o, m := newTestOrchestrator(cfg, Components{Recognizer: rec})
	resp := o.Process(context.Background(), &ParseRequest{Image: []byte("img")})

	require.NotNil(t, resp.Error)
	assert.Equal(t, errors.ErrCodeOracleTimeout.String(), resp.Error.Code)
	assert.Nil(t, resp.Plan)
	assert.Equal(t, 1, m.OracleCalls["ocr:timeout"])
	assert.Equal(t, 1, m.Requests[OutcomeTimeout])
}

func TestProcess_OCRNotConfigured(t *testing.T) {
	o, _ := newTestOrchestrator(DefaultOrchestratorConfig(), Components{})
	resp := o.Process(context.Background(), &ParseRequest{Image: []byte("img")})
	require.NotNil(t, resp.Error)
	assert.Equal(t, errors.ErrCodeOracleUnavailable.String(), resp.Error.Code)
}

func TestProcess_OCRTransportError(t *testing.T) {
	rec := common.TextRecognizerFunc(func(ctx context.Context, image []byte, hints []string) (*common.RecognitionResult, error) {
		return nil, assert.AnError
	})
	o, m := newTestOrchestrator(DefaultOrchestratorConfig(), Components{Recognizer: rec})
	resp := o.Process(context.Background(), &ParseRequest{Image: []byte("img")})
	require.NotNil(t, resp.Error)
	assert.Equal(t, errors.ErrCodeOracleUnavailable.String(), resp.Error.Code)
	assert.Contains(t, resp.Error.Cause, assert.AnError.Error())
	assert.Equal(t, 1, m.OracleCalls["ocr:error"])
}

func TestProcess_LLMPath(t *testing.T) {
	parser := parserFunc(func(ctx context.Context, text, hint string) (*medication.MedicationPlan, error) {
		return &medication.MedicationPlan{
			Medications: []medication.MedicationRecord{{
				Name:          "Metformin",
				Strength:      "500mg",
				FrequencyCode: "BD",
				Timing:        medication.TimingBuckets{Morning: 1, Night: 1},
				FieldConfidence: map[medication.Field]float64{
					medication.FieldDrugName:  0.9,
					medication.FieldStrength:  0.9,
					medication.FieldFrequency: 0.9,
				},
				Confidence: 0.9,
			}},
		}, nil
	})
	cfg := DefaultOrchestratorConfig()
	cfg.UseLLM = true

	o, _ := newTestOrchestrator(cfg, Components{Parser: parser})
	resp := o.Process(context.Background(), &ParseRequest{RawText: "metformin 500 bd", LanguageHint: "en"})

	require.Nil(t, resp.Error)
	assert.Equal(t, medication.SourceLLM, resp.Plan.Source)
	assert.Equal(t, "en", resp.Plan.ExtractedLanguage)
	assert.False(t, resp.Plan.NeedsConfirmation)
	assert.InDelta(t, 0.9, resp.Plan.OverallConfidence, 1e-9)
	require.Len(t, resp.Cards, 1)
}

func TestProcess_RequestOverridesParserChoice(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	cfg.UseLLM = true
	o, _ := newTestOrchestrator(cfg, Components{})

	resp := o.Process(context.Background(), &ParseRequest{RawText: "Tab Metformin 500mg BD", UseLLM: boolPtr(false)})
	require.Nil(t, resp.Error)
	assert.Equal(t, medication.SourceRules, resp.Plan.Source)

	resp = o.Process(context.Background(), &ParseRequest{RawText: "Tab Metformin 500mg BD"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, errors.ErrCodeOracleUnavailable.String(), resp.Error.Code)
}

func TestProcess_LLMInvalidOutputHasNoPartialPlan(t *testing.T) {
	parser := parserFunc(func(context.Context, string, string) (*medication.MedicationPlan, error) {
		return nil, errors.New(errors.ErrCodeOracleOutput, "no JSON object in output")
	})
	o, m := newTestOrchestrator(DefaultOrchestratorConfig(), Components{Parser: parser})
	resp := o.Process(context.Background(), &ParseRequest{RawText: twoDrugText, UseLLM: boolPtr(true)})

	require.NotNil(t, resp.Error)
	assert.Equal(t, errors.ErrCodeOracleOutput.String(), resp.Error.Code)
	assert.Nil(t, resp.Plan)
	assert.Empty(t, resp.Cards)
	assert.Empty(t, resp.Interactions)
	assert.Empty(t, resp.Nudges)
	assert.Equal(t, 1, m.Requests[OutcomeError])
}

func TestProcess_ZeroMedicationsNeedsConfirmation(t *testing.T) {
	o, m := newTestOrchestrator(DefaultOrchestratorConfig(), Components{})
	resp := o.Process(context.Background(), &ParseRequest{RawText: "Dr. Sharma Clinic\nPatient: R. Kumar"})

	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Plan)
	assert.True(t, resp.Plan.NeedsConfirmation)
	require.Len(t, resp.Plan.ClarificationQuestions, 1)
	assert.Equal(t, medication.FieldDrugName, resp.Plan.ClarificationQuestions[0].Field)
	assert.Empty(t, resp.Cards)
	assert.Equal(t, 1, m.Requests[OutcomeNeedsConfirmation])
	assert.Equal(t, 1, m.Clarifications[string(medication.FieldDrugName)])
}

func TestProcess_DrugInfoMissUsesPlaceholder(t *testing.T) {
	o, _ := newTestOrchestrator(DefaultOrchestratorConfig(), Components{
		DrugInfo: medication.NewMemoryDrugInfoRepository(nil),
	})
	resp := o.Process(context.Background(), &ParseRequest{RawText: "Tab Amlodipine 5mg OD"})

	require.Nil(t, resp.Error)
	require.Len(t, resp.Cards, 1)
	assert.False(t, resp.Cards[0].DrugDetails.Available)
	assert.Contains(t, resp.Cards[0].DrugDetails.Indications, "not available")
	assert.Empty(t, resp.Warnings)
}

func TestProcess_DrugInfoFailureWarns(t *testing.T) {
	o, _ := newTestOrchestrator(DefaultOrchestratorConfig(), Components{
		DrugInfo: failingRepo{err: errors.New(errors.ErrCodeDatabaseError, "connection refused")},
	})
	resp := o.Process(context.Background(), &ParseRequest{RawText: "Tab Amlodipine 5mg OD"})

	require.Nil(t, resp.Error)
	require.Len(t, resp.Cards, 1)
	assert.False(t, resp.Cards[0].DrugDetails.Available)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "Amlodipine")
}

func TestProcess_PublishFailureDoesNotFail(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("PublishPlanGenerated", mock.Anything, mock.Anything).Return(assert.AnError)

	o, _ := newTestOrchestrator(DefaultOrchestratorConfig(), Components{Events: pub})
	resp := o.Process(context.Background(), &ParseRequest{RawText: "Tab Amlodipine 5mg OD"})
	require.Nil(t, resp.Error)
	pub.AssertNumberOfCalls(t, "PublishPlanGenerated", 1)
}

func TestProcess_ConditionsAndAllergies(t *testing.T) {
	o, _ := newTestOrchestrator(DefaultOrchestratorConfig(), Components{})
	resp := o.Process(context.Background(), &ParseRequest{
		RawText:   "Tab Aspirin 75mg OD",
		Allergies: []string{"NSAID"},
	})
	require.Nil(t, resp.Error)

	var kinds []interaction.Kind
	for _, r := range resp.Interactions {
		kinds = append(kinds, r.Kind)
	}
	assert.Contains(t, kinds, interaction.KindDrugAllergy)
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, userMessage(errors.ErrCodeOracleTimeout), "too long")
	assert.Contains(t, userMessage(errors.ErrCodeInternal), "Something went wrong")
}
