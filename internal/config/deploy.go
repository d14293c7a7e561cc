package config

import (
	"errors"
	"maps"
	"slices"
	"strings"
)

// DeployConfig is one named entry of the deploy section.
type DeployConfig struct {
	Key        string         `mapstructure:"key"`
	User       string         `mapstructure:"user"`
	Host       StringList     `mapstructure:"host"`
	Ref        string         `mapstructure:"ref"`
	Repo       string         `mapstructure:"repo"`
	Path       string         `mapstructure:"path"`
	PostDeploy string         `mapstructure:"post-deploy"`
	Env        map[string]any `mapstructure:"env"`
}

// DeploymentTarget is a validated deploy entry. keepr only parses and hands
// these out; executing a deployment is left to external tooling.
type DeploymentTarget struct {
	Name       string            `json:"name"`
	Key        string            `json:"key,omitempty"` // path to the SSH key
	User       string            `json:"user"`
	Hosts      []string          `json:"hosts"`
	Ref        string            `json:"ref"`
	Repo       string            `json:"repo"`
	Path       string            `json:"path"`
	PostDeploy string            `json:"post_deploy,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

func (c DeployConfig) target(name string) DeploymentTarget {
	t := DeploymentTarget{
		Name:       name,
		Key:        strings.TrimSpace(c.Key),
		User:       strings.TrimSpace(c.User),
		Ref:        strings.TrimSpace(c.Ref),
		Repo:       strings.TrimSpace(c.Repo),
		Path:       strings.TrimSpace(c.Path),
		PostDeploy: strings.TrimSpace(c.PostDeploy),
	}
	for _, h := range c.Host {
		if h = strings.TrimSpace(h); h != "" {
			t.Hosts = append(t.Hosts, h)
		}
	}
	if len(c.Env) > 0 {
		t.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			t.Env[k] = stringify(v)
		}
	}
	return t
}

// Validate reports every missing required field.
func (t DeploymentTarget) Validate() error {
	var p problems
	field := func(f string) string { return "deploy." + t.Name + "." + f }
	if len(t.Hosts) == 0 {
		p.add("", field("host"), "required")
	}
	required := []struct{ name, val string }{
		{"user", t.User},
		{"repo", t.Repo},
		{"path", t.Path},
		{"ref", t.Ref},
	}
	for _, r := range required {
		if r.val == "" {
			p.add("", field(r.name), "required")
		}
	}
	return p.err()
}

// Equal reports whether two targets are identical.
func (t DeploymentTarget) Equal(o DeploymentTarget) bool {
	return t.Name == o.Name && t.Key == o.Key && t.User == o.User &&
		slices.Equal(t.Hosts, o.Hosts) && t.Ref == o.Ref && t.Repo == o.Repo &&
		t.Path == o.Path && t.PostDeploy == o.PostDeploy && maps.Equal(t.Env, o.Env)
}

// ErrNoTarget is returned by Target when the name is not configured.
var ErrNoTarget = errors.New("deploy target not found")

// Target looks up a deploy target by name.
func (c *Config) Target(name string) (DeploymentTarget, error) {
	t, ok := c.Deploy[name]
	if !ok {
		return DeploymentTarget{}, ErrNoTarget
	}
	return t, nil
}
