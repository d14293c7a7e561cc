package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/keepr/internal/process"
	"github.com/loykin/keepr/internal/state"
	"github.com/loykin/keepr/internal/supervisor"
)

// Controller is the part of the supervisor the API drives.
type Controller interface {
	Start(name string) error
	Stop(name string) error
	Restart(name string) error
	Status(name string) (state.Record, error)
	StatusAll() []state.Record
}

// UsageSource reports the latest resource sample of a running app.
type UsageSource interface {
	Get(name string) (process.Usage, bool)
}

// Router provides embeddable HTTP handlers for the supervised apps.
// Endpoints:
//
//	GET  {basePath}/status
//	GET  {basePath}/status/:name
//	POST {basePath}/start/:name
//	POST {basePath}/stop/:name
//	POST {basePath}/restart/:name
//	GET  /metrics (only when a metrics handler is set)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctl      Controller
	basePath string
	usage    UsageSource
	metrics  http.Handler
	logger   *slog.Logger
	now      func() time.Time
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/start/:name, ...
func NewRouter(ctl Controller, basePath string) *Router {
	return &Router{
		ctl:      ctl,
		basePath: normalizeBase(basePath),
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// SetUsage enables cpu/memory fields in status responses.
func (r *Router) SetUsage(u UsageSource) { r.usage = u }

// SetMetricsHandler mounts h at /metrics.
func (r *Router) SetMetricsHandler(h http.Handler) { r.metrics = h }

func (r *Router) SetLogger(l *slog.Logger) {
	if l != nil {
		r.logger = l
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatusAll)
	group.GET("/status/:name", r.handleStatus)
	group.POST("/start/:name", r.handleAction("start", r.ctl.Start))
	group.POST("/stop/:name", r.handleAction("stop", r.ctl.Stop))
	group.POST("/restart/:name", r.handleAction("restart", r.ctl.Restart))
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer returns an http.Server for h with the daemon's timeouts. The
// caller runs ListenAndServe and Shutdown.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// appStatus is the wire form of one app's record.
type appStatus struct {
	Name          string       `json:"name"`
	Status        state.Status `json:"status"`
	PID           int          `json:"pid"`
	Restarts      int          `json:"restarts"`
	UptimeMS      int64        `json:"uptime_ms"`
	LastExitCode  int          `json:"last_exit_code"`
	LastError     string       `json:"last_error,omitempty"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	StoppedAt     *time.Time   `json:"stopped_at,omitempty"`
	LastRestartAt *time.Time   `json:"last_restart_at,omitempty"`
	Warnings      []string     `json:"warnings,omitempty"`
	CPUPercent    *float64     `json:"cpu_percent,omitempty"`
	MemoryRSS     *uint64      `json:"memory_rss_bytes,omitempty"`
}

func (r *Router) toStatus(rec state.Record) appStatus {
	out := appStatus{
		Name:          rec.Name,
		Status:        rec.Status,
		PID:           rec.PID,
		Restarts:      rec.Restarts,
		UptimeMS:      rec.Uptime(r.now()).Milliseconds(),
		LastExitCode:  rec.LastExitCode,
		LastError:     rec.LastError,
		StartedAt:     timePtr(rec.StartedAt),
		StoppedAt:     timePtr(rec.StoppedAt),
		LastRestartAt: timePtr(rec.LastRestartAt),
		Warnings:      rec.Warnings,
	}
	if r.usage != nil && rec.Status == state.StatusRunning {
		if u, ok := r.usage.Get(rec.Name); ok {
			cpu, rss := u.CPUPercent, u.RSSBytes
			out.CPUPercent = &cpu
			out.MemoryRSS = &rss
		}
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func (r *Router) handleStatusAll(c *gin.Context) {
	recs := r.ctl.StatusAll()
	out := make([]appStatus, 0, len(recs))
	for _, rec := range recs {
		out = append(out, r.toStatus(rec))
	}
	respond(c, http.StatusOK, out)
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Param("name")
	if !validName(name) {
		respond(c, http.StatusBadRequest, errorResp{Error: badNameMsg})
		return
	}
	rec, err := r.ctl.Status(name)
	if err != nil {
		respond(c, statusCode(err), errorResp{Error: err.Error()})
		return
	}
	respond(c, http.StatusOK, r.toStatus(rec))
}

func (r *Router) handleAction(verb string, fn func(string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if !validName(name) {
			respond(c, http.StatusBadRequest, errorResp{Error: badNameMsg})
			return
		}
		if err := fn(name); err != nil {
			r.logger.Warn("API request failed", "action", verb, "app", name, "error", err)
			respond(c, statusCode(err), errorResp{Error: err.Error()})
			return
		}
		r.logger.Info("API request", "action", verb, "app", name)
		respond(c, http.StatusOK, okResp{OK: true})
	}
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrUnknownApp):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case process.IsSpawnError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
