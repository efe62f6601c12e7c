package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ccviz.log")
	log, sync, err := New(Options{Level: "warn", File: path})
	require.NoError(t, err)

	log.Info("quiet")
	log.Warn("table occupied", zap.String("session", "session-main"))
	require.NoError(t, sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1, "info is below the configured level")
	assert.Contains(t, lines[0], `"msg":"table occupied"`)
	assert.Contains(t, lines[0], `"session":"session-main"`)
}

func TestNew_Levels(t *testing.T) {
	for _, lvl := range []string{"", "debug", "info", "warn", "error"} {
		_, _, err := New(Options{Level: lvl})
		assert.NoError(t, err, lvl)
	}

	_, _, err := New(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestNew_Dev(t *testing.T) {
	log, sync, err := New(Options{Dev: true, Level: "debug"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.DebugLevel))
	assert.NoError(t, sync())
}

func TestNew_QuietWritesOnlyToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch.log")
	log, sync, err := New(Options{File: path, Quiet: true})
	require.NoError(t, err)

	log.Info("connected")
	require.NoError(t, sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"connected"`)
}
