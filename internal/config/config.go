// Package config loads app lists in the shape of a pm2 ecosystem file
// (JSON, YAML or TOML) and resolves them into process descriptors.
package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/loykin/keepr/internal/env"
	"github.com/loykin/keepr/internal/process"
	"github.com/loykin/keepr/internal/watch"
)

// FileConfig represents the top-level document.
type FileConfig struct {
	Apps     []AppConfig             `mapstructure:"apps"`
	Deploy   map[string]DeployConfig `mapstructure:"deploy"`
	Env      map[string]any          `mapstructure:"env"`
	EnvFiles StringList              `mapstructure:"env_files"`

	// Daemon sections; see LoadSettings.
	Server  map[string]any `mapstructure:"server"`
	Log     map[string]any `mapstructure:"log"`
	History map[string]any `mapstructure:"history"`
	Metrics map[string]any `mapstructure:"metrics"`
}

// AppConfig is one entry of apps[] as written in the file. Pointer fields
// distinguish "unset" from an explicit zero.
type AppConfig struct {
	Name            string         `mapstructure:"name"`
	Cmd             string         `mapstructure:"cmd"`
	Script          string         `mapstructure:"script"` // pm2 alias for cmd
	Args            any            `mapstructure:"args"`   // string or list
	Cwd             string         `mapstructure:"cwd"`
	Interpreter     string         `mapstructure:"interpreter"`
	AutoRestart     *bool          `mapstructure:"autorestart"`
	Watch           any            `mapstructure:"watch"` // bool, string or list
	IgnoreWatch     StringList     `mapstructure:"ignore_watch"`
	Env             map[string]any `mapstructure:"env"`
	MaxRestarts     *int           `mapstructure:"max_restarts"`
	MinUptime       *time.Duration `mapstructure:"min_uptime"`
	RestartDelay    *time.Duration `mapstructure:"restart_delay"`
	MaxRestartDelay *time.Duration `mapstructure:"max_restart_delay"`
	KillTimeout     *time.Duration `mapstructure:"kill_timeout"`
	WatchDelay      *time.Duration `mapstructure:"watch_delay"`
}

// Config is a fully resolved and validated configuration.
type Config struct {
	Path     string // absolute source path; empty for in-memory sources
	Apps     []process.Descriptor
	Deploy   map[string]DeploymentTarget
	Settings Settings
	Warnings []string // unknown keys and similar non-fatal findings
}

// App returns the descriptor named name.
func (c *Config) App(name string) (process.Descriptor, bool) {
	for _, d := range c.Apps {
		if d.Name == name {
			return d, true
		}
	}
	return process.Descriptor{}, false
}

var validName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// interpreters maps script extensions to the interpreter used when an app
// does not name one.
var interpreters = map[string]string{
	".py":  "python3",
	".js":  "node",
	".mjs": "node",
	".cjs": "node",
	".sh":  "bash",
	".rb":  "ruby",
	".pl":  "perl",
	".php": "php",
}

// InferInterpreter returns the interpreter implied by the extension of the
// command's first word, or "" when it should be executed directly.
func InferInterpreter(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	return interpreters[strings.ToLower(filepath.Ext(fields[0]))]
}

// Load reads and resolves the config file at path. Relative paths inside
// the file resolve against the file's directory.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	format, err := FormatFromPath(abs)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Clean(abs))
	if err != nil {
		return nil, err
	}
	cfg, err := LoadBytes(data, format, filepath.Dir(abs))
	if err != nil {
		return nil, err
	}
	cfg.Path = abs
	return cfg, nil
}

// LoadBytes resolves a document given its format name (json, yaml, toml).
func LoadBytes(data []byte, format, baseDir string) (*Config, error) {
	f, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}
	tree, err := parseTree(data, f)
	if err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}
	return LoadTree(tree, baseDir)
}

// LoadTree resolves an in-memory document. An empty baseDir means the
// current working directory. Every validation problem is reported; the
// returned error joins one *ConfigError per problem.
func LoadTree(tree map[string]any, baseDir string) (*Config, error) {
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		baseDir = wd
	}
	baseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}

	fc, unused, err := decodeFile(tree)
	if err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}

	var p problems
	cfg := &Config{}
	for _, k := range unused {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("unknown key %q", k))
	}
	slices.Sort(cfg.Warnings)

	base := make(map[string]string)
	for i, f := range fc.EnvFiles {
		if !filepath.IsAbs(f) {
			f = filepath.Join(baseDir, f)
		}
		vars, err := env.LoadFile(f)
		if err != nil {
			p.add("", fmt.Sprintf("env_files[%d]", i), "%v", err)
			continue
		}
		maps.Copy(base, vars)
	}
	for k, v := range fc.Env {
		base[k] = stringify(v)
	}

	if len(fc.Apps) == 0 {
		p.add("", "apps", "no apps defined")
	}
	seen := make(map[string]bool, len(fc.Apps))
	for i, ac := range fc.Apps {
		d := resolveApp(i, ac, baseDir, base, &p)
		if d.Name == "" {
			continue
		}
		if seen[d.Name] {
			p.add(d.Name, "name", "duplicate app name")
			continue
		}
		seen[d.Name] = true
		cfg.Apps = append(cfg.Apps, d)
	}

	if len(fc.Deploy) > 0 {
		cfg.Deploy = make(map[string]DeploymentTarget, len(fc.Deploy))
		for _, name := range slices.Sorted(maps.Keys(fc.Deploy)) {
			t := fc.Deploy[name].target(name)
			if err := t.Validate(); err != nil {
				p.errs = append(p.errs, err)
				continue
			}
			cfg.Deploy[name] = t
		}
	}

	settings, err := LoadSettings(tree)
	if err != nil {
		p.add("", "settings", "%v", err)
	}
	settings.Server.TLS.resolve(baseDir)
	cfg.Settings = settings

	if err := p.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveApp(i int, ac AppConfig, baseDir string, baseEnv map[string]string, p *problems) process.Descriptor {
	label := ac.Name
	if label == "" {
		label = fmt.Sprintf("apps[%d]", i)
		p.add(label, "name", "required")
	} else if !validName.MatchString(ac.Name) {
		p.add(label, "name", "invalid characters in %q (allowed: letters, digits, '.', '_', '-')", ac.Name)
	}

	cmd := strings.TrimSpace(ac.Cmd)
	if cmd == "" {
		cmd = strings.TrimSpace(ac.Script)
	}
	if cmd == "" {
		p.add(label, "cmd", "required")
	}

	args, err := parseArgs(ac.Args)
	if err != nil {
		p.add(label, "args", "%v", err)
	}

	cwd := ac.Cwd
	switch {
	case cwd == "":
		cwd = baseDir
	case !filepath.IsAbs(cwd):
		cwd = filepath.Join(baseDir, cwd)
	}
	cwd = filepath.Clean(cwd)

	interp := strings.TrimSpace(ac.Interpreter)
	switch interp {
	case "none":
		interp = ""
	case "":
		interp = InferInterpreter(cmd)
	}

	d := process.Descriptor{
		Name:            ac.Name,
		Command:         cmd,
		Args:            args,
		WorkDir:         cwd,
		Interpreter:     interp,
		AutoRestart:     ac.AutoRestart == nil || *ac.AutoRestart,
		MaxRestarts:     process.DefaultMaxRestarts,
		MinUptime:       durationOr(p, label, "min_uptime", ac.MinUptime, process.DefaultMinUptime),
		RestartDelay:    durationOr(p, label, "restart_delay", ac.RestartDelay, process.DefaultRestartDelay),
		MaxRestartDelay: durationOr(p, label, "max_restart_delay", ac.MaxRestartDelay, process.DefaultMaxRestartDelay),
		KillTimeout:     durationOr(p, label, "kill_timeout", ac.KillTimeout, process.DefaultKillTimeout),
		WatchDelay:      durationOr(p, label, "watch_delay", ac.WatchDelay, process.DefaultWatchDelay),
	}
	if ac.MaxRestarts != nil {
		d.MaxRestarts = *ac.MaxRestarts
	}
	if d.MaxRestartDelay < d.RestartDelay {
		d.MaxRestartDelay = d.RestartDelay
	}

	roots, err := parseWatch(ac.Watch, cwd)
	if err != nil {
		p.add(label, "watch", "%v", err)
	}
	if len(roots) > 0 {
		d.Watch = true
		d.WatchPaths = roots
	}

	for _, pat := range ac.IgnoreWatch {
		pat = strings.TrimSpace(pat)
		if filepath.IsAbs(pat) {
			rel, err := filepath.Rel(cwd, pat)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				p.add(label, "ignore_watch", "absolute pattern %q is outside cwd", pat)
				continue
			}
			pat = filepath.ToSlash(rel)
		}
		if err := watch.ValidatePattern(pat); err != nil {
			p.add(label, "ignore_watch", "%v", err)
			continue
		}
		d.IgnoreWatch = append(d.IgnoreWatch, pat)
	}

	merged := maps.Clone(baseEnv)
	for k, v := range ac.Env {
		if k == "" {
			p.add(label, "env", "empty variable name")
			continue
		}
		merged[k] = stringify(v)
	}
	if len(merged) > 0 {
		d.Env = merged
	}
	return d
}

func durationOr(p *problems, app, field string, v *time.Duration, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	if *v < 0 {
		p.add(app, field, "must not be negative, got %s", *v)
		return def
	}
	return *v
}

func parseArgs(v any) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		f := strings.Fields(x)
		if len(f) == 0 {
			return nil, nil
		}
		return f, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, a := range x {
			switch a.(type) {
			case map[string]any, []any:
				return nil, fmt.Errorf("arguments must be scalars")
			}
			out = append(out, stringify(a))
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil
	case []string:
		if len(x) == 0 {
			return nil, nil
		}
		return slices.Clone(x), nil
	default:
		return nil, fmt.Errorf("want a string or list, got %T", v)
	}
}

// parseWatch resolves the watch field to absolute roots. true means cwd.
func parseWatch(v any, cwd string) ([]string, error) {
	resolve := func(s string) string {
		if filepath.IsAbs(s) {
			return filepath.Clean(s)
		}
		return filepath.Join(cwd, s)
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if x {
			return []string{cwd}, nil
		}
		return nil, nil
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, nil
		}
		return []string{resolve(x)}, nil
	case []any:
		var out []string
		for _, e := range x {
			s, ok := e.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return nil, fmt.Errorf("watch list entries must be non-empty strings")
			}
			out = append(out, resolve(s))
		}
		return out, nil
	case []string:
		var out []string
		for _, s := range x {
			out = append(out, resolve(s))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("want a bool or list of paths, got %T", v)
	}
}
