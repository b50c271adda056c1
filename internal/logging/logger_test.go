package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/suphist/internal/config"
)

func TestNewLevelAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "suphist.log")
	l, err := New(config.LogConfig{Level: "debug", File: path, JSON: true})
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	l.WithField("repo", "demo").Info("Mining started")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"repo":"demo"`)
	assert.Contains(t, string(data), "Mining started")
}

func TestNewBadLevelFallsBackToInfo(t *testing.T) {
	l, err := New(config.LogConfig{Level: "loud"})
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "suphist.log")
	big := bytes.Repeat([]byte("x"), 1024*1024+1)
	require.NoError(t, os.WriteFile(path, big, 0644))
	require.NoError(t, os.WriteFile(path+".1", []byte("older"), 0644))

	l, err := New(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	rotated, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Len(t, rotated, len(big))

	older, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	assert.Equal(t, "older", string(older))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestIsTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, IsTerminal(f))
}
