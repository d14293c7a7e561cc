package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/loykin/keepr/internal/process"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Encode renders descriptors and deploy targets back into a document tree
// that LoadTree resolves to the same values.
func Encode(apps []process.Descriptor, deploy map[string]DeploymentTarget) map[string]any {
	list := make([]any, 0, len(apps))
	for _, d := range apps {
		list = append(list, encodeApp(d))
	}
	tree := map[string]any{"apps": list}
	if len(deploy) > 0 {
		dm := make(map[string]any, len(deploy))
		for _, name := range slices.Sorted(maps.Keys(deploy)) {
			dm[name] = encodeTarget(deploy[name])
		}
		tree["deploy"] = dm
	}
	return tree
}

func encodeApp(d process.Descriptor) map[string]any {
	m := map[string]any{
		"name":              d.Name,
		"cmd":               d.Command,
		"cwd":               d.WorkDir,
		"autorestart":       d.AutoRestart,
		"max_restarts":      d.MaxRestarts,
		"min_uptime":        d.MinUptime.String(),
		"restart_delay":     d.RestartDelay.String(),
		"max_restart_delay": d.MaxRestartDelay.String(),
		"kill_timeout":      d.KillTimeout.String(),
		"watch_delay":       d.WatchDelay.String(),
	}
	switch {
	case d.Interpreter != "":
		m["interpreter"] = d.Interpreter
	case InferInterpreter(d.Command) != "":
		m["interpreter"] = "none"
	}
	if len(d.Args) > 0 {
		m["args"] = toAnyList(d.Args)
	}
	if d.Watch && len(d.WatchPaths) > 0 {
		m["watch"] = toAnyList(d.WatchPaths)
	} else {
		m["watch"] = false
	}
	if len(d.IgnoreWatch) > 0 {
		m["ignore_watch"] = toAnyList(d.IgnoreWatch)
	}
	if len(d.Env) > 0 {
		m["env"] = toAnyMap(d.Env)
	}
	return m
}

func encodeTarget(t DeploymentTarget) map[string]any {
	m := map[string]any{
		"user": t.User,
		"ref":  t.Ref,
		"repo": t.Repo,
		"path": t.Path,
	}
	if len(t.Hosts) == 1 {
		m["host"] = t.Hosts[0]
	} else {
		m["host"] = toAnyList(t.Hosts)
	}
	if t.Key != "" {
		m["key"] = t.Key
	}
	if t.PostDeploy != "" {
		m["post-deploy"] = t.PostDeploy
	}
	if len(t.Env) > 0 {
		m["env"] = toAnyMap(t.Env)
	}
	return m
}

func toAnyList(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Marshal encodes descriptors and deploy targets as a json, yaml or toml
// document.
func Marshal(apps []process.Descriptor, deploy map[string]DeploymentTarget, format string) ([]byte, error) {
	f, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}
	tree := Encode(apps, deploy)
	switch f {
	case FormatJSON:
		b, err := json.MarshalIndent(tree, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	case FormatYAML:
		return yaml.Marshal(tree)
	case FormatTOML:
		return toml.Marshal(tree)
	}
	return nil, fmt.Errorf("unsupported config format %q", format)
}
