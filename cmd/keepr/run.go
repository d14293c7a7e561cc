package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/loykin/keepr/internal/config"
	"github.com/loykin/keepr/internal/history"
	"github.com/loykin/keepr/internal/history/factory"
	"github.com/loykin/keepr/internal/logger"
	"github.com/loykin/keepr/internal/metrics"
	"github.com/loykin/keepr/internal/process"
	"github.com/loykin/keepr/internal/server"
	"github.com/loykin/keepr/internal/state"
	"github.com/loykin/keepr/internal/supervisor"
	keeprtls "github.com/loykin/keepr/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

// daemon is one `keepr run` invocation: the supervisor plus everything the
// settings sections switch on around it.
type daemon struct {
	path            string
	pidFile         string
	shutdownTimeout time.Duration

	logger    *slog.Logger
	logCloser io.Closer
	sup       *supervisor.Supervisor
	recorder  *history.Recorder
	usage     *metrics.UsageCollector
	srv       *http.Server
	ln        net.Listener
	apps      []process.Descriptor
}

func newDaemon(ctx context.Context, f RunFlags, stdout, stderr io.Writer) (_ *daemon, err error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	settings := cfg.Settings
	if f.Listen != "" {
		settings.Server.Listen = f.Listen
	}

	d := &daemon{
		path:            cfg.Path,
		pidFile:         f.PIDFile,
		shutdownTimeout: f.ShutdownTimeout,
		apps:            cfg.Apps,
	}
	if d.shutdownTimeout <= 0 {
		d.shutdownTimeout = 30 * time.Second
	}
	d.logger, d.logCloser, err = logger.New(settings.Log, stderr)
	if err != nil {
		return nil, fmt.Errorf("log settings: %w", err)
	}
	defer func() {
		if err != nil {
			d.abort()
		}
	}()
	for _, w := range cfg.Warnings {
		d.logger.Warn("Config warning", "file", cfg.Path, "warning", w)
	}

	store := state.New()
	if settings.History.Enabled {
		if settings.History.DSN == "" {
			return nil, errors.New("history.enabled requires history.dsn")
		}
		sink, err := factory.NewSinkFromDSN(ctx, settings.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		d.recorder = history.NewRecorder(d.logger, sink)
		store.Observe(d.recorder.Observe)
	}

	d.sup = supervisor.New(supervisor.Options{
		Logger: d.logger,
		Store:  store,
		Stdout: stdout,
		Stderr: stderr,
	})

	if settings.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		if settings.Metrics.UsageInterval > 0 {
			if err := metrics.RegisterUsage(prometheus.DefaultRegisterer); err != nil {
				return nil, fmt.Errorf("usage metrics: %w", err)
			}
			d.usage = metrics.NewUsageCollector(settings.Metrics.UsageInterval, d.logger)
		}
	}

	if settings.Server.Enabled {
		r := server.NewRouter(d.sup, settings.Server.BasePath)
		r.SetLogger(d.logger)
		if d.usage != nil {
			r.SetUsage(d.usage)
		}
		if settings.Metrics.Enabled {
			r.SetMetricsHandler(metrics.Handler())
		}
		d.ln, err = net.Listen("tcp", settings.Server.Listen)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", settings.Server.Listen, err)
		}
		d.srv = server.NewServer(settings.Server.Listen, r.Handler())
		d.srv.TLSConfig, err = keeprtls.ServerConfig(settings.Server.TLS)
		if err != nil {
			return nil, fmt.Errorf("server.tls: %w", err)
		}
	}
	return d, nil
}

// Addr returns the address the status API listens on, or "" when disabled.
func (d *daemon) Addr() string {
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

// abort releases what a failed newDaemon already acquired.
func (d *daemon) abort() {
	if d.ln != nil {
		_ = d.ln.Close()
	}
	if d.recorder != nil {
		_ = d.recorder.Close(context.Background())
	}
	if d.logCloser != nil {
		_ = d.logCloser.Close()
	}
}

// run starts every app and blocks until ctx ends or a terminating signal
// arrives. SIGHUP reloads the config file.
func (d *daemon) run(ctx context.Context, signals <-chan os.Signal) error {
	if d.pidFile != "" {
		if err := writePidFile(d.pidFile, os.Getpid()); err != nil {
			d.abort()
			return fmt.Errorf("failed to write PID file: %w", err)
		}
	}
	if d.usage != nil {
		d.usage.Start(ctx, d.sup.PIDs)
	}
	if d.srv != nil {
		d.logger.Info("Status API listening", "addr", d.Addr(), "tls", d.srv.TLSConfig != nil)
		go func() {
			var err error
			if d.srv.TLSConfig != nil {
				err = d.srv.ServeTLS(d.ln, "", "")
			} else {
				err = d.srv.Serve(d.ln)
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.logger.Error("Status API stopped", "error", err)
			}
		}()
	}
	if err := d.sup.Apply(d.apps); err != nil {
		d.logger.Warn("Some apps failed to start", "error", err)
	}
	d.logger.Info("Supervising", "apps", len(d.apps), "config", d.path)

	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				d.reload()
				continue
			}
			d.logger.Info("Received signal", "signal", sig.String())
			return d.shutdown()
		}
	}
}

// reload re-reads the config file and applies its app list. A broken file
// is logged and the running set is kept. Settings sections are only read at
// startup.
func (d *daemon) reload() {
	cfg, err := config.Load(d.path)
	if err != nil {
		d.logger.Error("Reload failed, keeping current apps", "config", d.path, "error", err)
		return
	}
	for _, w := range cfg.Warnings {
		d.logger.Warn("Config warning", "file", cfg.Path, "warning", w)
	}
	d.apps = cfg.Apps
	if err := d.sup.Apply(cfg.Apps); err != nil {
		d.logger.Warn("Reload applied with errors", "error", err)
		return
	}
	d.logger.Info("Config reloaded", "apps", len(cfg.Apps))
}

func (d *daemon) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.shutdownTimeout)
	defer cancel()

	var errs []error
	if d.srv != nil {
		if err := d.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("status API: %w", err))
		}
	}
	if err := d.sup.ShutdownAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if d.usage != nil {
		d.usage.Stop()
	}
	if d.recorder != nil {
		if err := d.recorder.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("history: %w", err))
		}
		if n := d.recorder.Dropped(); n > 0 {
			d.logger.Warn("History events dropped", "count", n)
		}
	}
	if d.pidFile != "" {
		if err := removePidFile(d.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	d.logger.Info("Stopped")
	if err := d.logCloser.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func writePidFile(path string, pid int) error {
	// #nosec G306
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

func removePidFile(path string) error { return os.Remove(path) }
