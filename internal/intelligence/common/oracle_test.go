package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

func TestWithTimeout_Success(t *testing.T) {
	out, err := WithTimeout(context.Background(), time.Second, "llm", func(ctx context.Context) (string, error) {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestWithTimeout_DeadlineIsOracleTimeout(t *testing.T) {
	_, err := WithTimeout(context.Background(), 10*time.Millisecond, "ocr", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeOracleTimeout))
	assert.Contains(t, err.Error(), "ocr call exceeded")
}

func TestWithTimeout_OtherErrorsPassThrough(t *testing.T) {
	boom := apperrors.New(apperrors.ErrCodeOracleOutput, "bad json")
	_, err := WithTimeout(context.Background(), time.Second, "llm", func(ctx context.Context) (string, error) {
		return "", boom
	})
	assert.Same(t, boom, err)
	assert.False(t, apperrors.IsCode(err, apperrors.ErrCodeOracleTimeout))
}

func TestWithTimeout_ZeroDurationHasNoDeadline(t *testing.T) {
	hasDeadline, err := WithTimeout(context.Background(), 0, "llm", func(ctx context.Context) (bool, error) {
		_, ok := ctx.Deadline()
		return ok, nil
	})
	require.NoError(t, err)
	assert.False(t, hasDeadline)
}

func TestWithTimeout_AlreadyTimeoutNotRewrapped(t *testing.T) {
	inner := apperrors.Wrap(context.DeadlineExceeded, apperrors.ErrCodeOracleTimeout, "http client timeout")
	_, err := WithTimeout(context.Background(), time.Second, "llm", func(ctx context.Context) (string, error) {
		return "", inner
	})
	assert.Same(t, inner, err)
}

type netTimeout struct{}

func (netTimeout) Error() string { return "i/o timeout" }
func (netTimeout) Timeout() bool { return true }

func TestIsDeadline(t *testing.T) {
	assert.False(t, IsDeadline(nil))
	assert.True(t, IsDeadline(context.DeadlineExceeded))
	assert.True(t, IsDeadline(netTimeout{}))
	assert.True(t, IsDeadline(apperrors.New(apperrors.ErrCodeOracleTimeout, "x")))
	assert.False(t, IsDeadline(errors.New("connection refused")))
}

func TestFuncAdapters(t *testing.T) {
	var tc TextCompleter = TextCompleterFunc(func(_ context.Context, s, u string, o CompletionOptions) (string, error) {
		return s + "|" + u, nil
	})
	got, err := tc.Complete(context.Background(), "sys", "user", CompletionOptions{JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, "sys|user", got)

	var tr TextRecognizer = TextRecognizerFunc(func(_ context.Context, img []byte, hints []string) (*RecognitionResult, error) {
		return &RecognitionResult{Text: string(img), OverallConfidence: 0.9}, nil
	})
	res, err := tr.Recognize(context.Background(), []byte("Tab X"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Tab X", res.Text)
}

func TestInMemoryPipelineMetrics(t *testing.T) {
	m := NewInMemoryPipelineMetrics()
	ctx := context.Background()
	m.RecordRequest(ctx, "success")
	m.RecordStage(ctx, "extract", time.Millisecond)
	m.RecordOracleCall(ctx, "llm", "timeout", time.Second)
	m.RecordClarification(ctx, "strength")
	m.RecordAskCache(ctx, true)
	m.RecordAskCache(ctx, false)
	m.RecordInteractions(ctx, "drug_drug", 2)

	assert.Equal(t, 1, m.Requests["success"])
	assert.Equal(t, []string{"extract"}, m.StageList())
	assert.Equal(t, 1, m.OracleCalls["llm:timeout"])
	assert.Equal(t, 1, m.Clarifications["strength"])
	assert.Equal(t, 1, m.CacheHits)
	assert.Equal(t, 1, m.CacheMisses)
	assert.Equal(t, 2, m.Interactions["drug_drug"])

	assert.NotPanics(t, func() {
		n := NewNoopPipelineMetrics()
		n.RecordRequest(ctx, "x")
		n.RecordInteractions(ctx, "x", 1)
	})
}
