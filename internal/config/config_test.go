package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/notices"
)

func TestDefaultsWithoutFile(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Equal(t, "normal", m.Login.AttendanceMethod)
	assert.Equal(t, 3, m.HTTP.RetryMax)
	assert.Equal(t, 10*time.Minute, m.Hook.Score.Cooldown)
	assert.Equal(t, []string{"${payload}"}, m.Hook.Score.Args)
	assert.Equal(t, "info", m.Log.Level)
}

func TestFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"login": {"attendance_method": "webvpn"},
		"schedule": {"holidays": ["2024-10-01"]},
		"hook": {"score": {"cooldown": "30s"}}
	}`), 0o644))
	t.Setenv("XJTUTOOLBOX_LOG_LEVEL", "debug")

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "webvpn", m.Login.AttendanceMethod)
	assert.Equal(t, 30*time.Second, m.Hook.Score.Cooldown)
	assert.Equal(t, "debug", m.Log.Level)
	require.Len(t, m.Holidays(), 1)
	assert.Equal(t, time.October, m.Holidays()[0].Month())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, m.Set("account.encrypted", true))
	assert.True(t, m.Account.Encrypted)
	require.NoError(t, m.Save())

	again, err := Load(path)
	require.NoError(t, err)
	assert.True(t, again.Account.Encrypted)
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"background": {"score": {"times": ["25:99"]}}}`), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	m, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Error(t, m.Set("login.attendance_method", "carrier-pigeon"))
}

func TestNoticeSubscriptions(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Notice.Pages)
	require.Len(t, m.Notice.Subscriptions, 1)
	assert.Equal(t, notices.Dean, m.Notice.Subscriptions[0].Source)
	assert.Equal(t, []string{"08:00", "18:00"}, m.Background.Notice.Times)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"notice": {"subscriptions": [
		{"source": "gs", "rules": [[{"kind": "title_include", "value": "答辩"}]]}
	]}}`), 0o644))
	m, err = Load(path)
	require.NoError(t, err)
	sub := m.Notice.Subscriptions[0]
	assert.Equal(t, notices.Graduate, sub.Source)
	assert.Equal(t, []notices.Ruleset{{{Kind: notices.TitleIncludes, Value: "答辩"}}}, sub.Rules)

	for _, bad := range []string{
		`{"notice": {"subscriptions": [{"source": "bbs"}]}}`,
		`{"notice": {"subscriptions": [{"source": "jwc", "rules": [[{"kind": "title_include"}]]}]}}`,
		`{"notice": {"pages": 0}}`,
		`{"background": {"notice": {"times": ["8am"]}}}`,
	} {
		require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))
		_, err := Load(path)
		assert.Error(t, err, bad)
	}
}
