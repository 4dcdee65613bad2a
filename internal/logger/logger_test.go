package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)

	Debug("should not appear")
	Info("should not appear either")
	Warn("this one shows", KeyOp, "store")
	Error("and this one", KeyOp, "retrieve")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "this one shows")
	assert.Contains(t, out, "and this one")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "json", false)

	Info("manifest replaced", KeyFileID, "abc123", KeyBlockCount, 4)

	out := buf.String()
	require.True(t, strings.HasPrefix(strings.TrimSpace(out), "{"))
	assert.Contains(t, out, `"file_id":"abc123"`)
	assert.Contains(t, out, `"block_count":4`)
}

func TestSetLevelIgnoresInvalidInput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	SetLevel("NOT_A_LEVEL")
	Info("still logs at info")

	assert.Contains(t, buf.String(), "still logs at info")
}

func TestWithBindsAttributes(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text", false)

	l := With(KeyCacheDir, "/tmp/cache")
	l.Info("opened")

	assert.Contains(t, buf.String(), "cache_dir=/tmp/cache")
}
