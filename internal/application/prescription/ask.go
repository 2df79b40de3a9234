package prescription

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/common"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/llm_parser"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// ResponseCache is a TTL key-value store for ask answers. Backends: the
// in-process memory cache and redis.
type ResponseCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Answer sources.
const (
	SourceOracle = "llm"
	SourceCache  = "cache"
)

// maxQuestionLen bounds the question accepted by Ask.
const maxQuestionLen = 2000

// AskRequest is a free-form question about the user's medicines.
type AskRequest struct {
	Question    string   `json:"question"`
	Medications []string `json:"medications,omitempty"`
	Context     string   `json:"context,omitempty"`
}

// Validate checks the question is present and bounded.
func (r *AskRequest) Validate() error {
	q := strings.TrimSpace(r.Question)
	if q == "" {
		return errors.New(errors.ErrCodeInputValidation, "question is required")
	}
	if len(q) > maxQuestionLen {
		return errors.Newf(errors.ErrCodeInputValidation, "question exceeds %d characters", maxQuestionLen)
	}
	return nil
}

// AskResponse carries the answer and where it came from.
type AskResponse struct {
	Answer string `json:"answer"`
	Cached bool   `json:"cached"`
	Source string `json:"source"`
}

// AskConfig tunes the ask path.
type AskConfig struct {
	TTL         time.Duration
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// DefaultAskConfig returns the stock configuration.
func DefaultAskConfig() AskConfig {
	return AskConfig{
		TTL:         10 * time.Minute,
		Timeout:     60 * time.Second,
		Temperature: 0.3,
		MaxTokens:   512,
	}
}

// AskService answers medicine questions through the text oracle, caching
// answers by normalised question and context.
type AskService interface {
	Ask(ctx context.Context, req *AskRequest) (*AskResponse, error)
}

type askServiceImpl struct {
	cfg       AskConfig
	completer common.TextCompleter
	cache     ResponseCache
	prompts   *llm_parser.PromptBuilder
	metrics   common.PipelineMetrics
	logger    logging.Logger
	group     singleflight.Group
}

// NewAskService builds an AskService. cache may be nil to disable caching.
func NewAskService(cfg AskConfig, completer common.TextCompleter, cache ResponseCache, metrics common.PipelineMetrics, logger logging.Logger) (AskService, error) {
	def := DefaultAskConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if metrics == nil {
		metrics = common.NewNoopPipelineMetrics()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	prompts, err := llm_parser.NewPromptBuilder()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "build prompt templates")
	}
	return &askServiceImpl{
		cfg:       cfg,
		completer: completer,
		cache:     cache,
		prompts:   prompts,
		metrics:   metrics,
		logger:    logger.Named("ask"),
	}, nil
}

func (s *askServiceImpl) Ask(ctx context.Context, req *AskRequest) (*AskResponse, error) {
	if req == nil {
		req = &AskRequest{}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := s.logger.WithContext(ctx)
	key := CacheKey(req)

	if s.cache != nil {
		answer, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Warn("ask cache read failed", logging.Err(err))
		} else if ok {
			s.metrics.RecordAskCache(ctx, true)
			return &AskResponse{Answer: answer, Cached: true, Source: SourceCache}, nil
		}
		s.metrics.RecordAskCache(ctx, false)
	}

	// The shared call outlives any single caller; each caller waits on its
	// own ctx. The oracle call is still bounded by cfg.Timeout.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		answer, err := s.complete(shared, req)
		if err != nil {
			return "", err
		}
		if s.cache != nil {
			if err := s.cache.Set(shared, key, answer, s.cfg.TTL); err != nil {
				log.Warn("ask cache write failed", logging.Err(err))
			}
		}
		return answer, nil
	})

	select {
	case <-ctx.Done():
		return nil, callerDone(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return &AskResponse{Answer: res.Val.(string), Source: SourceOracle}, nil
	}
}

func callerDone(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrCodeOracleTimeout, "ask timed out")
	}
	return errors.Wrap(err, errors.ErrCodeOracleUnavailable, "ask cancelled")
}

func (s *askServiceImpl) complete(ctx context.Context, req *AskRequest) (string, error) {
	if s.completer == nil {
		return "", errors.New(errors.ErrCodeOracleUnavailable, "text completion oracle is not configured")
	}
	user, err := s.prompts.Render(llm_parser.TemplateAskMedicine, llm_parser.AskPromptData{
		Question:    strings.TrimSpace(req.Question),
		Medications: req.Medications,
		Context:     strings.TrimSpace(req.Context),
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "render ask prompt")
	}

	start := time.Now()
	answer, err := common.WithTimeout(ctx, s.cfg.Timeout, llm_parser.OracleName, func(ctx context.Context) (string, error) {
		return s.completer.Complete(ctx, llm_parser.AskSystemPrompt, user, common.CompletionOptions{
			Temperature: s.cfg.Temperature,
			MaxTokens:   s.cfg.MaxTokens,
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
		s.metrics.RecordOracleCall(ctx, llm_parser.OracleName, outcome, elapsed)
		s.logger.WithContext(ctx).Warn("ask failed", logging.Err(err))
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		s.metrics.RecordOracleCall(ctx, llm_parser.OracleName, "invalid_output", elapsed)
		return "", errors.New(errors.ErrCodeOracleOutput, "text completion returned an empty answer")
	}
	s.metrics.RecordOracleCall(ctx, llm_parser.OracleName, "success", elapsed)
	return answer, nil
}

// CacheKey fingerprints a request: the lower-cased, whitespace-collapsed
// question plus the sorted medication names and the context string.
func CacheKey(req *AskRequest) string {
	meds := make([]string, 0, len(req.Medications))
	for _, m := range req.Medications {
		if m = normalizeQuery(m); m != "" {
			meds = append(meds, m)
		}
	}
	sort.Strings(meds)

	h := sha256.New()
	h.Write([]byte(normalizeQuery(req.Question)))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(meds, ",")))
	h.Write([]byte{0})
	h.Write([]byte(normalizeQuery(req.Context)))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeQuery(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
