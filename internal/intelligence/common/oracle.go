// Package common holds the narrow contracts shared by the intelligence layer:
// the text-completion and image-to-text oracles, the bounded-call helper that
// turns deadline expiry into a distinguishable timeout error, and the pipeline
// metrics interface.
package common

import (
	"context"
	"errors"
	"time"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
	apperrors "github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// ---------------------------------------------------------------------------
// Text-completion oracle
// ---------------------------------------------------------------------------

// CompletionOptions tunes a single completion.
type CompletionOptions struct {
	Temperature float64
	// JSONMode asks the provider for a JSON object response.
	JSONMode  bool
	MaxTokens int
}

// TextCompleter is a provider-agnostic chat completion oracle.
type TextCompleter interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts CompletionOptions) (string, error)
}

// TextCompleterFunc adapts a function to TextCompleter.
type TextCompleterFunc func(ctx context.Context, systemPrompt, userPrompt string, opts CompletionOptions) (string, error)

// Complete implements TextCompleter.
func (f TextCompleterFunc) Complete(ctx context.Context, systemPrompt, userPrompt string, opts CompletionOptions) (string, error) {
	return f(ctx, systemPrompt, userPrompt, opts)
}

// ---------------------------------------------------------------------------
// Image-to-text oracle
// ---------------------------------------------------------------------------

// RecognitionResult is the output of one OCR call.
type RecognitionResult struct {
	Text              string                `json:"text"`
	OverallConfidence float64               `json:"overall_confidence"`
	Tokens            []medication.OCRToken `json:"tokens"`
	Lines             []string              `json:"lines"`
}

// TextRecognizer is a provider-agnostic OCR oracle.
type TextRecognizer interface {
	Recognize(ctx context.Context, image []byte, languageHints []string) (*RecognitionResult, error)
}

// TextRecognizerFunc adapts a function to TextRecognizer.
type TextRecognizerFunc func(ctx context.Context, image []byte, languageHints []string) (*RecognitionResult, error)

// Recognize implements TextRecognizer.
func (f TextRecognizerFunc) Recognize(ctx context.Context, image []byte, languageHints []string) (*RecognitionResult, error) {
	return f(ctx, image, languageHints)
}

// ---------------------------------------------------------------------------
// Bounded calls
// ---------------------------------------------------------------------------

// WithTimeout runs fn under a deadline of d. A deadline expiry (ours or the
// parent's) is reported as ErrCodeOracleTimeout so callers can tell it apart
// from every other oracle failure. No retry is attempted.
func WithTimeout[T any](ctx context.Context, d time.Duration, oracle string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	out, err := fn(ctx)
	if err == nil {
		return out, nil
	}
	if IsDeadline(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if apperrors.IsCode(err, apperrors.ErrCodeOracleTimeout) {
			return zero, err
		}
		return zero, apperrors.Wrapf(err, apperrors.ErrCodeOracleTimeout, "%s call exceeded %s", oracle, d)
	}
	return zero, err
}

// IsDeadline reports whether err stems from a context deadline or carries
// ErrCodeOracleTimeout.
func IsDeadline(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return true
	}
	return apperrors.IsCode(err, apperrors.ErrCodeOracleTimeout)
}
