package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.True(t, s.Server.Enabled)
	assert.Equal(t, DefaultListen, s.Server.Listen)
	assert.Equal(t, DefaultBasePath, s.Server.BasePath)
	assert.Equal(t, "info", s.Log.Level)
	assert.True(t, s.Log.ShowTime)
	assert.True(t, s.Metrics.Enabled)
	assert.False(t, s.History.Enabled)
	assert.Equal(t, 5*time.Second, s.Metrics.UsageInterval)
	assert.False(t, s.Server.TLS.Enabled)
	assert.Equal(t, "1.3", s.Server.TLS.MinVersion)
}

func TestSettingsFromFileAndEnv(t *testing.T) {
	t.Setenv("KEEPR_SERVER_LISTEN", "0.0.0.0:7000")
	doc := `
server:
  listen: 127.0.0.1:1
  base_path: /keepr
log:
  level: debug
  format: json
metrics:
  usage_interval: 2s
history:
  enabled: true
  dsn: sqlite:///tmp/keepr.db
apps:
  - name: a
    cmd: a.py
`
	cfg, err := LoadBytes([]byte(doc), "yaml", t.TempDir())
	require.NoError(t, err)
	s := cfg.Settings
	assert.Equal(t, "0.0.0.0:7000", s.Server.Listen)
	assert.Equal(t, "/keepr", s.Server.BasePath)
	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, "json", s.Log.Format)
	assert.True(t, s.History.Enabled)
	assert.Equal(t, "sqlite:///tmp/keepr.db", s.History.DSN)
	assert.Equal(t, 2*time.Second, s.Metrics.UsageInterval)
	assert.Empty(t, cfg.Warnings)
}

func TestTLSPathsResolveAgainstConfigDir(t *testing.T) {
	dir := t.TempDir()
	doc := `
server:
  tls:
    enabled: true
    dir: certs
    auto_generate: true
    cert_file: /etc/keepr/api.crt
apps:
  - name: a
    cmd: a.py
`
	cfg, err := LoadBytes([]byte(doc), "yaml", dir)
	require.NoError(t, err)
	tls := cfg.Settings.Server.TLS
	assert.True(t, tls.Enabled)
	assert.True(t, tls.AutoGenerate)
	assert.Equal(t, filepath.Join(dir, "certs"), tls.Dir)
	assert.Equal(t, "/etc/keepr/api.crt", tls.CertFile)
	assert.Empty(t, tls.KeyFile)
	assert.Equal(t, []string{"localhost", "127.0.0.1"}, tls.Hosts)
}
