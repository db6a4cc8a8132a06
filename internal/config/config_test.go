package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/scenekit/internal/jobs"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenekit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimSpace(body)+"\n"), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.validate())
	require.Equal(t, BackendMemory, c.Store.Backend)
	require.Equal(t, 5*time.Second, c.Writer.OpTimeout)
	require.Equal(t, 30*time.Second, c.Telegram.PollTimeout)
	require.False(t, c.Telegram.Enabled())
	require.Equal(t, []jobs.Schedule{{Key: "reconcile", Cron: "*/5 * * * *"}}, c.Jobs)
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeConfig(t, `
scenes: defs/booking.yaml
default_scene: booking
timezone: Europe/Berlin
log:
  level: DEBUG
  format: json
store:
  backend: sqlite
  path: data/sessions.db
writer:
  shards: 2
bridge:
  enabled: true
  port: 9100
  read_timeout: 3s
jobs:
  - key: reconcile
    cron: "* * * * *"
refresh:
  - scene: booking
    page: when
    cron: "*/10 * * * *"
`)
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "defs/booking.yaml", c.Scenes)
	require.Equal(t, "booking", c.DefaultScene)
	require.Equal(t, "debug", c.Log.Level)
	require.Equal(t, BackendSQLite, c.Store.Backend)
	require.Equal(t, "data/sessions.db", c.Store.Path)
	require.Equal(t, 2, c.Writer.Shards)
	require.Equal(t, 256, c.Writer.QueueSize)
	require.True(t, c.Bridge.Enabled)
	require.Equal(t, 9100, c.Bridge.Port)
	require.Equal(t, 3*time.Second, c.Bridge.ReadTimeout)
	require.Equal(t, []jobs.Schedule{{Key: "reconcile", Cron: "* * * * *"}}, c.Jobs)
	require.Len(t, c.Refresh, 1)
	require.Equal(t, "refresh:booking:when", c.Refresh[0].JobKey())

	loc, err := c.Location()
	require.NoError(t, err)
	require.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadHonorsEnv(t *testing.T) {
	path := writeConfig(t, "bridge:\n  port: 9100\n")
	t.Setenv("SCENEKIT_BRIDGE_PORT", "9001")
	t.Setenv("SCENEKIT_BRIDGE_HOST", "0.0.0.0")
	t.Setenv("SCENEKIT_TELEGRAM_TOKEN", " 123:abc ")
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9001, c.Bridge.Port)
	require.Equal(t, "0.0.0.0", c.Bridge.Host)
	require.True(t, c.Telegram.Enabled())
	require.Equal(t, "123:abc", c.Telegram.Token)
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"backend":  "store:\n  backend: postgres\n",
		"timezone": "timezone: Mars/Olympus\n",
		"level":    "log:\n  level: loud\n",
		"refresh":  "refresh:\n  - scene: booking\n    cron: '* * * * *'\n",
		"shards":   "writer:\n  shards: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
