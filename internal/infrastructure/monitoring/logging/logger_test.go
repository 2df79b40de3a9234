package logging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(t *testing.T) (Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return NewLoggerFromCore(core), logs
}

func TestNewLogger_JSONFormat(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: LevelInfo, Format: "json", OutputPaths: []string{"stdout"}})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestNewLogger_ConsoleFormat(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: LevelDebug, Format: "console", OutputPaths: []string{"stdout"}})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestNewLogger_EmptyOutputPaths(t *testing.T) {
	l, err := NewLogger(LogConfig{OutputPaths: []string{}})
	assert.Error(t, err)
	assert.Nil(t, l)
}

func TestNewDefaultLogger_NotNil(t *testing.T) {
	assert.NotNil(t, NewDefaultLogger())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestZapLogger_FieldsAreTyped(t *testing.T) {
	l, logs := newObservedLogger(t)

	l.Info("stage done",
		String("stage", "extract"),
		Int("records", 3),
		Float64("confidence", 0.85),
		Bool("needs_confirmation", true),
		Duration("elapsed", 25*time.Millisecond),
		Strings("fields", []string{"drug_name"}),
		Err(errors.New("boom")),
	)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "extract", ctx["stage"])
	assert.Equal(t, int64(3), ctx["records"])
	assert.Equal(t, 0.85, ctx["confidence"])
	assert.Equal(t, true, ctx["needs_confirmation"])
	assert.Equal(t, 25*time.Millisecond, ctx["elapsed"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestZapLogger_Levels(t *testing.T) {
	l, logs := newObservedLogger(t)
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	require.Equal(t, 4, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[2].Level)
	assert.Equal(t, 1, logs.FilterMessage("e").Len())
}

func TestZapLogger_WithContextAddsRequestID(t *testing.T) {
	l, logs := newObservedLogger(t)
	ctx := ContextWithRequestID(context.Background(), "req-42")

	l.WithContext(ctx).Warn("drug info not available")
	l.WithContext(context.Background()).Info("no id")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "req-42", logs.All()[0].ContextMap()["request_id"])
	_, has := logs.All()[1].ContextMap()["request_id"]
	assert.False(t, has)
}

func TestZapLogger_WithAndNamed(t *testing.T) {
	l, logs := newObservedLogger(t)
	child := l.Named("pipeline").With(String("component", "gate"))
	child.Info("evaluated")

	entry := logs.All()[0]
	assert.Equal(t, "pipeline", entry.LoggerName)
	assert.Equal(t, "gate", entry.ContextMap()["component"])
}

func TestErr_Nil(t *testing.T) {
	f := Err(nil)
	assert.Equal(t, "error", f.Key)
	assert.Equal(t, "<nil>", f.Value)
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.Info("x")
		l.With(String("a", "b")).Named("n").WithContext(context.Background()).Error("y")
		_ = l.Sync()
	})
}

func TestDefaultLogger(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	l, _ := newObservedLogger(t)
	SetDefault(l)
	assert.Equal(t, l, Default())

	SetDefault(nil)
	assert.Equal(t, l, Default())
}

func TestRequestIDFromContext_Nil(t *testing.T) {
	//nolint:staticcheck
	assert.Equal(t, "", RequestIDFromContext(nil))
}

func TestSetLevel_SharedWithChildren(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: LevelWarn, OutputPaths: []string{"stdout"}})
	require.NoError(t, err)
	child := l.Named("http")

	zl := child.(*zapLogger)
	assert.False(t, zl.z.Core().Enabled(zapcore.DebugLevel))

	lv, ok := l.(Leveler)
	require.True(t, ok)
	lv.SetLevel(LevelDebug)
	assert.True(t, zl.z.Core().Enabled(zapcore.DebugLevel))
}

func TestSetLevel_ObservedCoreIsNoop(t *testing.T) {
	l, _ := newObservedLogger(t)
	assert.NotPanics(t, func() { l.(Leveler).SetLevel(LevelError) })
}
