package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  int
	}{
		{DebugLevel, 4},
		{InfoLevel, 3},
		{WarnLevel, 2},
		{ErrorLevel, 1},
		{LogLevel("bogus"), 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			l := New(tt.level, &buf)
			l.Debug("d")
			l.Info("i")
			l.Warn("w")
			l.Error("e")
			assert.Len(t, decodeLines(t, &buf), tt.want)
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(InfoLevel, &buf).WithField("service", "paramcheck").WithError(errors.New("boom"))
	l.Info("hello", map[string]interface{}{"n": 3})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "hello", lines[0]["message"])
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "paramcheck", lines[0]["service"])
	assert.Equal(t, "boom", lines[0]["error"])
	assert.Equal(t, 3.0, lines[0]["n"])
	assert.Contains(t, lines[0]["caller"], "logging/logging_test.go")
}

func TestLoggerFatalExits(t *testing.T) {
	var buf bytes.Buffer
	l := New(InfoLevel, &buf)
	code := -1
	l.exit = func(c int) { code = c }
	l.Fatal("bye")
	assert.Equal(t, 1, code)
	assert.Len(t, decodeLines(t, &buf), 1)
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(InfoLevel, &buf).WithFormat(TextFormat).WithField("b", 2).WithField("a", 1)
	l.Info("ready")
	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, " INFO ready ")
	assert.Less(t, strings.Index(line, "a=1"), strings.Index(line, "b=2"))
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	l, err := NewLogger(&Config{Level: "debug", Format: "text", Output: path})
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, l.level)
	assert.Equal(t, TextFormat, l.format)

	l, err = NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, l.level)
	assert.Equal(t, JSONFormat, l.format)

	_, err = NewLogger(&Config{Format: "xml", Output: "stderr"})
	assert.Error(t, err)
}

func TestZapLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(InfoLevel, &buf)
	zl := NewZapLogger(base).Named("gaussian_process").With(zap.String("model", "gpr"))

	zl.Debug("hidden")
	zl.Info("computed",
		zap.Float64("log_marginal_likelihood", -3.5),
		zap.Int("samples", 5),
		zap.Bool("ok", true),
		zap.Error(errors.New("none")),
		zap.Float64s("x", []float64{1, 2}),
	)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	got := lines[0]
	assert.Equal(t, "computed", got["message"])
	assert.Equal(t, "gaussian_process", got["logger"])
	assert.Equal(t, "gpr", got["model"])
	assert.Equal(t, -3.5, got["log_marginal_likelihood"])
	assert.Equal(t, 5.0, got["samples"])
	assert.Equal(t, true, got["ok"])
	assert.Equal(t, "none", got["error"])
	assert.Equal(t, []interface{}{1.0, 2.0}, got["x"])
	assert.Contains(t, got["caller"], "logging/logging_test.go")
}
