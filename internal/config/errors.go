package config

import (
	"errors"
	"fmt"
)

// ConfigError describes one invalid field. Loaders collect every problem and
// return them joined with errors.Join.
type ConfigError struct {
	App    string // app name or "apps[i]" when the name is missing
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	switch {
	case e.App != "" && e.Field != "":
		return fmt.Sprintf("config: %s: %s: %s", e.App, e.Field, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
	default:
		return "config: " + e.Reason
	}
}

// ConfigErrors unpacks the individual *ConfigError values in err.
func ConfigErrors(err error) []*ConfigError {
	var out []*ConfigError
	var walk func(error)
	walk = func(e error) {
		switch v := e.(type) {
		case nil:
		case *ConfigError:
			out = append(out, v)
		case interface{ Unwrap() []error }:
			for _, c := range v.Unwrap() {
				walk(c)
			}
		default:
			var ce *ConfigError
			if errors.As(e, &ce) {
				out = append(out, ce)
			}
		}
	}
	walk(err)
	return out
}

type problems struct {
	errs []error
}

func (p *problems) add(app, field, format string, args ...any) {
	p.errs = append(p.errs, &ConfigError{App: app, Field: field, Reason: fmt.Sprintf(format, args...)})
}

func (p *problems) err() error { return errors.Join(p.errs...) }
