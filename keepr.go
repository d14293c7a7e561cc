// Package keepr is the embeddable API of the keepr process supervisor.
package keepr

import (
	"context"
	"net/http"

	"github.com/loykin/keepr/internal/config"
	"github.com/loykin/keepr/internal/history"
	"github.com/loykin/keepr/internal/history/factory"
	"github.com/loykin/keepr/internal/metrics"
	"github.com/loykin/keepr/internal/process"
	"github.com/loykin/keepr/internal/server"
	"github.com/loykin/keepr/internal/state"
	"github.com/loykin/keepr/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Descriptor = process.Descriptor

type Record = state.Record

type Status = state.Status

type Transition = state.Transition

type Config = config.Config

type DeploymentTarget = config.DeploymentTarget

type Supervisor = supervisor.Supervisor

type Options = supervisor.Options

type HistorySink = history.Sink

type HistoryEvent = history.Event

type HistoryRecorder = history.Recorder

var (
	ErrUnknownApp     = supervisor.ErrUnknownApp
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrShuttingDown   = supervisor.ErrShuttingDown
)

// LoadConfig reads and validates an ecosystem file (.json, .yaml, .yml, .toml).
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// LoadConfigTree validates an in-memory config tree; relative paths resolve against baseDir.
func LoadConfigTree(tree map[string]any, baseDir string) (*Config, error) {
	return config.LoadTree(tree, baseDir)
}

func New(opts Options) *Supervisor { return supervisor.New(opts) }

// NewHTTPServer returns a server exposing the status API of s. The caller
// runs ListenAndServe.
func NewHTTPServer(addr, basePath string, s *Supervisor) *http.Server {
	return server.NewServer(addr, server.NewRouter(s, basePath).Handler())
}

// NewHistorySink opens a sink by DSN (sqlite, postgres, clickhouse, opensearch).
func NewHistorySink(ctx context.Context, dsn string) (HistorySink, error) {
	return factory.NewSinkFromDSN(ctx, dsn)
}

// AttachHistory records every transition of s into sinks. Close the returned
// recorder to flush it.
func AttachHistory(s *Supervisor, sinks ...HistorySink) *HistoryRecorder {
	rec := history.NewRecorder(nil, sinks...)
	s.Store().Observe(rec.Observe)
	return rec
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
