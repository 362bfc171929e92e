package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanoutLevels(t *testing.T) {
	var warns, all []string
	fan := NewFanout(
		&FuncSink{Min: log.WarnLevel, Fn: func(e *log.Entry) error { warns = append(warns, e.Message); return nil }},
	)
	fan.Add(&FuncSink{Min: log.TraceLevel, Fn: func(e *log.Entry) error { all = append(all, e.Message); return nil }})

	logger := log.New()
	logger.SetOutput(&bytes.Buffer{})
	logger.SetLevel(log.TraceLevel)
	logger.AddHook(fan)

	logger.Info("fetched")
	logger.Warn("retrying")
	assert.Equal(t, []string{"retrying"}, warns)
	assert.Equal(t, []string{"fetched", "retrying"}, all)
}

func TestFanoutJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	called := false
	failing := &FuncSink{Min: log.InfoLevel, Fn: func(*log.Entry) error { return boom }}
	fan := NewFanout(
		failing,
		&FuncSink{Min: log.InfoLevel, Fn: func(*log.Entry) error { called = true; return nil }},
	)
	err := fan.Fire(&log.Entry{Level: log.InfoLevel})
	assert.ErrorIs(t, err, boom)
	assert.True(t, called)

	fan.Remove(failing)
	assert.NoError(t, fan.Fire(&log.Entry{Level: log.InfoLevel}))
}

func TestSetupWritesFile(t *testing.T) {
	dir := t.TempDir()
	closer, err := Setup("debug", dir)
	require.NoError(t, err)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
	})
	log.Debug("hello file")
	require.NoError(t, closer.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "xjtutoolbox-*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	content, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "hello file")

	_, err = Setup("chatty", dir)
	assert.Error(t, err)
}
