package logger

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Output: &buf})

	zl := l.Component("keys")
	zl.Warn().Str("key", "Name").Msg("normalized")

	out := buf.String()
	assert.Contains(t, out, `"component":"keys"`)
	assert.Contains(t, out, `"key":"Name"`)
	assert.Contains(t, out, `"service":"odm"`)
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Output: &buf})

	l.LogDriverOperation("users", "find", time.Millisecond, nil)
	assert.Empty(t, buf.String())

	l.LogDriverOperation("users", "find", time.Millisecond, errors.New("boom"))
	assert.Contains(t, buf.String(), `"operation":"find"`)
	assert.Contains(t, buf.String(), "boom")
}
