package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/subosito/gotenv"
)

type Var map[string]string

// Env composes the environment handed to managed apps.
// Order of precedence (last wins): OS environment, Var, per-app overrides.
// It is safe for concurrent use.
type Env struct {
	mu  sync.RWMutex
	Var Var // supervisor-wide variables (K->V); write through Set
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		k, v, ok := splitKV(kv)
		if !ok {
			continue
		}
		base[k] = v
	}
	e.mu.Lock()
	e.env = base
	e.mu.Unlock()
}

// SetBase replaces the cached base. Tests use it to run without the OS environment.
func (e *Env) SetBase(base Var) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.env = make(Var, len(base))
	for k, v := range base {
		e.env[k] = v
	}
}

// Set sets a supervisor-wide variable K=V.
func (e *Env) Set(k, v string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Merge returns the sorted "K=V" list for one app. ${VAR} references in values
// are expanded against the composed map (single pass, no recursion).
func (e *Env) Merge(overrides map[string]string) []string {
	e.mu.RLock()
	loaded := e.env != nil
	e.mu.RUnlock()
	if !loaded {
		e.FromOS()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	m := make(Var, len(e.env)+len(e.Var)+len(overrides))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for k, v := range overrides {
		if k == "" {
			continue
		}
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(key string) string {
		if v, ok := m[key]; ok {
			return v
		}
		return "${" + key + "}"
	})
}

// LoadFile parses a dotenv file. Quoted values, "export " prefixes and
// trailing # comments are understood; $VAR references resolve against
// earlier keys and the process environment. Malformed lines are an error.
func LoadFile(path string) (Var, error) {
	m, err := gotenv.Read(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("env file %s: %w", path, err)
	}
	return Var(m), nil
}

func splitKV(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}
