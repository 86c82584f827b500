package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanoutHandler_RespectsLevels(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	h := NewFanoutHandler(
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(h).With("component", "test")

	logger.Debug("dbg")
	logger.Warn("wrn")

	assert.Contains(t, debugBuf.String(), "msg=dbg")
	assert.Contains(t, debugBuf.String(), "msg=wrn")
	assert.NotContains(t, warnBuf.String(), "msg=dbg")
	assert.Contains(t, warnBuf.String(), "component=test")
}

func TestLineSequencer_PrefixesCompleteLines(t *testing.T) {
	var out bytes.Buffer
	seq := NewLineSequencer(&out)

	n, err := seq.Write([]byte("first\nsec"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))

	_, err = seq.Write([]byte("ond\n"))
	require.NoError(t, err)
	require.NoError(t, seq.Close())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "line=1 time="))
	assert.True(t, strings.HasSuffix(lines[0], "first"))
	assert.True(t, strings.HasPrefix(lines[1], "line=2 time="))
	assert.True(t, strings.HasSuffix(lines[1], "second"))
}

func TestLineSequencer_CloseFlushesPartial(t *testing.T) {
	var out bytes.Buffer
	seq := NewLineSequencer(&out)
	_, _ = seq.Write([]byte("tail"))
	assert.Empty(t, out.String())
	require.NoError(t, seq.Close())
	assert.Contains(t, out.String(), "tail")
}

func TestSetup_WritesFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logPath := filepath.Join(t.TempDir(), "logs", "mirror.log")
	var console bytes.Buffer
	closer, err := Setup(Options{Level: slog.LevelInfo, FilePath: logPath, Console: &console})
	require.NoError(t, err)

	slog.Info("sync", "type", "invoice", "inserted", 3)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "type=invoice")
	assert.Contains(t, console.String(), "sync")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
