package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("whatever"))
}

func TestNewLogger_WritesFileWhenDirConfigured(t *testing.T) {
	dir := t.TempDir()
	Configure(dir, ERROR)
	defer Configure("", INFO)

	l, err := NewLogger("storage")
	require.NoError(t, err)

	l.Debug("cube %d written", 7)
	require.NoError(t, l.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "storage_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DEBUG] cube 7 written")
}

func TestLoggerManager_ReturnsSameLogger(t *testing.T) {
	lm := &LoggerManager{loggers: make(map[string]*Logger)}

	a := lm.Component(ComponentPlacement)
	b := lm.Component(ComponentPlacement)
	assert.Same(t, a, b)
	assert.NotSame(t, a, lm.Component(ComponentStorage))

	require.NoError(t, lm.CloseAll())
	assert.NotSame(t, a, lm.Component(ComponentPlacement), "после CloseAll логгер создаётся заново")
}

func TestLoggerManager_FallsBackWhenFileUnavailable(t *testing.T) {
	// каталог логов указывает на обычный файл: MkdirAll не сможет его создать
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	Configure(blocker, INFO)
	defer Configure("", INFO)

	lm := &LoggerManager{loggers: make(map[string]*Logger)}
	assert.Same(t, current(), lm.Component(ComponentSession))
	assert.Empty(t, lm.loggers)
}
