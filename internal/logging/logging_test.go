package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "info", "json").Info("hello", "manual", "typo3/cms-core")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), buf.String())
	assert.Contains(t, buf.String(), `"manual":"typo3/cms-core"`)

	buf.Reset()
	newLogger(&buf, "info", "text").Info("hello", "manual", "typo3/cms-core")
	assert.Contains(t, buf.String(), "manual=typo3/cms-core")

	buf.Reset()
	newLogger(&buf, "warn", "text").Info("suppressed")
	assert.Empty(t, buf.String())
}
