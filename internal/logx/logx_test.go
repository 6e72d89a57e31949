package logx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "warn")
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}

func TestNewLoggerUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "chatty")
	log.Debug().Msg("debug")
	log.Info().Msg("info")

	require.NotContains(t, buf.String(), "debug")
	require.Contains(t, buf.String(), "info")
}

func TestWithRun(t *testing.T) {
	var buf bytes.Buffer
	log, id := WithRun(newLogger(&buf, "info"), "resolve")
	require.Len(t, id, 36)
	log.Info().Msg("started")
	require.Contains(t, buf.String(), id)

	_, id2 := WithRun(log, "resolve")
	require.NotEqual(t, id, id2)
}
