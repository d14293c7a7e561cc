package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/keepr/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cluelessYAML = `
apps:
  - name: clueless
    cmd: src/main.py
    autorestart: true
    watch: true
    ignore_watch: ["src/utils/database.db", "src/utils/database.db-journal"]
    interpreter: python3
deploy:
  production:
    key: SSH_KEY_PATH
    user: SSH_USERNAME
    host: SSH_HOSTMACHINE
    ref: origin/main
    repo: GIT_REPOSITORY
    path: DESTINATION_PATH
`

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func TestLoadEcosystemYAML(t *testing.T) {
	p := writeConfig(t, "ecosystem.yaml", cluelessYAML)
	cfg, err := Load(p)
	require.NoError(t, err)
	dir := filepath.Dir(p)

	require.Len(t, cfg.Apps, 1)
	d := cfg.Apps[0]
	assert.Equal(t, "clueless", d.Name)
	assert.Equal(t, "src/main.py", d.Command)
	assert.Equal(t, dir, d.WorkDir)
	assert.Equal(t, "python3", d.Interpreter)
	assert.True(t, d.AutoRestart)
	assert.True(t, d.Watch)
	assert.Equal(t, []string{dir}, d.WatchPaths)
	assert.Equal(t, []string{"src/utils/database.db", "src/utils/database.db-journal"}, d.IgnoreWatch)
	assert.Equal(t, process.DefaultMaxRestarts, d.MaxRestarts)
	assert.Equal(t, process.DefaultMinUptime, d.MinUptime)
	assert.Equal(t, process.DefaultRestartDelay, d.RestartDelay)
	assert.Equal(t, process.DefaultKillTimeout, d.KillTimeout)
	assert.Equal(t, process.DefaultWatchDelay, d.WatchDelay)
	assert.Nil(t, d.Env)

	tgt, err := cfg.Target("production")
	require.NoError(t, err)
	assert.Equal(t, []string{"SSH_HOSTMACHINE"}, tgt.Hosts)
	assert.Equal(t, "origin/main", tgt.Ref)
	assert.Equal(t, "SSH_KEY_PATH", tgt.Key)
	_, err = cfg.Target("staging")
	assert.ErrorIs(t, err, ErrNoTarget)

	assert.Equal(t, p, cfg.Path)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadJSONAndTOML(t *testing.T) {
	jsonDoc := `{"apps":[{"name":"web","cmd":"server.js","watch":["src","/abs/lib"],"min_uptime":2500,"kill_timeout":"3s","max_restarts":-1}]}`
	tomlDoc := `
[[apps]]
name = "web"
cmd = "server.js"
watch = ["src", "/abs/lib"]
min_uptime = 2500
kill_timeout = "3s"
max_restarts = -1
`
	for name, doc := range map[string]string{"c.json": jsonDoc, "c.toml": tomlDoc} {
		t.Run(name, func(t *testing.T) {
			p := writeConfig(t, name, doc)
			cfg, err := Load(p)
			require.NoError(t, err)
			d := cfg.Apps[0]
			assert.Equal(t, "node", d.Interpreter)
			assert.Equal(t, []string{filepath.Join(filepath.Dir(p), "src"), "/abs/lib"}, d.WatchPaths)
			assert.Equal(t, 2500*time.Millisecond, d.MinUptime)
			assert.Equal(t, 3*time.Second, d.KillTimeout)
			assert.Equal(t, -1, d.MaxRestarts)
		})
	}
}

func TestLoadTreeDefaultsAndOverrides(t *testing.T) {
	base := t.TempDir()
	tree := map[string]any{
		"env": map[string]any{"SHARED": "1", "PORT": 80},
		"apps": []any{
			map[string]any{
				"name":        "bot",
				"script":      "run.sh --fast",
				"args":        "-v --level 2",
				"cwd":         "svc",
				"interpreter": "none",
				"autorestart": false,
				"env":         map[string]any{"PORT": 8080, "Debug_Mode": true},
				"restart_delay": "20s",
			},
		},
	}
	cfg, err := LoadTree(tree, base)
	require.NoError(t, err)
	d := cfg.Apps[0]
	assert.Equal(t, "run.sh --fast", d.Command)
	assert.Equal(t, []string{"-v", "--level", "2"}, d.Args)
	assert.Equal(t, filepath.Join(base, "svc"), d.WorkDir)
	assert.Empty(t, d.Interpreter)
	assert.False(t, d.AutoRestart)
	assert.False(t, d.Watch)
	assert.Nil(t, d.WatchPaths)
	assert.Equal(t, map[string]string{"SHARED": "1", "PORT": "8080", "Debug_Mode": "true"}, d.Env)
	assert.Equal(t, 20*time.Second, d.RestartDelay)
	// max delay is raised to the base delay
	assert.Equal(t, 20*time.Second, d.MaxRestartDelay)
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TOKEN=abc\nexport MODE='prod'\n"), 0o644))
	p := filepath.Join(dir, "c.yaml")
	doc := `
env_files: .env
apps:
  - name: bot
    cmd: main.py
    env:
      MODE: dev
`
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o644))
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"TOKEN": "abc", "MODE": "dev"}, cfg.Apps[0].Env)
}

func TestLoadCollectsAllProblems(t *testing.T) {
	doc := `
env_files: [missing.env]
apps:
  - cmd: a.py
  - name: bad name!
    cmd: b.py
  - name: dup
    cmd: c.py
  - name: dup
    cmd: d.py
  - name: nocmd
  - name: glob
    cmd: e.py
    watch: true
    ignore_watch: ["[oops"]
  - name: neg
    cmd: f.py
    min_uptime: -1s
deploy:
  production:
    user: deploy
`
	p := writeConfig(t, "c.yaml", doc)
	_, err := Load(p)
	require.Error(t, err)

	errs := ConfigErrors(err)
	type key struct{ app, field string }
	got := map[key]bool{}
	for _, e := range errs {
		got[key{e.App, e.Field}] = true
	}
	for _, want := range []key{
		{"", "env_files[0]"},
		{"apps[0]", "name"},
		{"bad name!", "name"},
		{"dup", "name"},
		{"nocmd", "cmd"},
		{"glob", "ignore_watch"},
		{"neg", "min_uptime"},
		{"", "deploy.production.host"},
		{"", "deploy.production.repo"},
		{"", "deploy.production.path"},
		{"", "deploy.production.ref"},
	} {
		assert.True(t, got[want], "missing problem %+v in %v", want, err)
	}

	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestLoadRejectsEmptyAndUnsupported(t *testing.T) {
	_, err := LoadBytes([]byte(`{}`), "json", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no apps defined")

	_, err = LoadBytes([]byte(`{`), "json", t.TempDir())
	assert.Error(t, err)

	_, err = LoadBytes([]byte(`x`), "ini", t.TempDir())
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "ecosystem.config.js"))
	assert.Error(t, err)
}

func TestAbsoluteIgnorePattern(t *testing.T) {
	base := t.TempDir()
	tree := map[string]any{"apps": []any{map[string]any{
		"name":         "bot",
		"cmd":          "main.py",
		"watch":        true,
		"ignore_watch": []any{filepath.Join(base, "data", "x.db")},
	}}}
	cfg, err := LoadTree(tree, base)
	require.NoError(t, err)
	assert.Equal(t, []string{"data/x.db"}, cfg.Apps[0].IgnoreWatch)

	tree["apps"].([]any)[0].(map[string]any)["ignore_watch"] = []any{"/elsewhere/x.db"}
	_, err = LoadTree(tree, base)
	assert.Error(t, err)
}

func TestUnknownKeysWarn(t *testing.T) {
	cfg, err := LoadBytes([]byte(`{"apps":[{"name":"a","cmd":"a.py","instances":4}]}`), "json", t.TempDir())
	require.NoError(t, err)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "instances")
}

func TestInferInterpreter(t *testing.T) {
	assert.Equal(t, "python3", InferInterpreter("src/main.py"))
	assert.Equal(t, "node", InferInterpreter("index.mjs --flag"))
	assert.Equal(t, "bash", InferInterpreter("run.SH"))
	assert.Equal(t, "", InferInterpreter("sleep 10"))
	assert.Equal(t, "", InferInterpreter(""))
}

func TestEncodeRoundTrip(t *testing.T) {
	p := writeConfig(t, "c.yaml", cluelessYAML+`
  staging:
    user: u
    host: [h1, h2]
    ref: origin/dev
    repo: r
    path: /srv
    post-deploy: make
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	extra := process.Descriptor{
		Name:            "plain",
		Command:         "tool.py",
		Args:            []string{"a", "b"},
		WorkDir:         filepath.Dir(p),
		AutoRestart:     false,
		Env:             map[string]string{"K": "v"},
		MaxRestarts:     0,
		MinUptime:       0,
		RestartDelay:    250 * time.Millisecond,
		MaxRestartDelay: time.Second,
		KillTimeout:     1600 * time.Millisecond,
		WatchDelay:      time.Second,
	}
	apps := append(cfg.Apps, extra)

	tree, err := LoadTree(Encode(apps, cfg.Deploy), "/")
	require.NoError(t, err)
	assert.Equal(t, apps, tree.Apps)
	assert.Equal(t, cfg.Deploy, tree.Deploy)

	for _, format := range []string{"json", "yaml", "toml"} {
		t.Run(format, func(t *testing.T) {
			b, err := Marshal(apps, cfg.Deploy, format)
			require.NoError(t, err)
			back, err := LoadBytes(b, format, "/")
			require.NoError(t, err)
			require.Len(t, back.Apps, len(apps))
			for i := range apps {
				assert.True(t, apps[i].Equal(back.Apps[i]), "app %s differs: %+v", apps[i].Name, back.Apps[i])
			}
			for name, tgt := range cfg.Deploy {
				assert.True(t, tgt.Equal(back.Deploy[name]), name)
			}
		})
	}
}
