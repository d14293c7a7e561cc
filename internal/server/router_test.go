package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/keepr/internal/process"
	"github.com/loykin/keepr/internal/state"
	"github.com/loykin/keepr/internal/supervisor"
)

type fakeController struct {
	mu      sync.Mutex
	records map[string]state.Record
	calls   []string
	failure error
}

func newFake(names ...string) *fakeController {
	f := &fakeController{records: map[string]state.Record{}}
	for _, n := range names {
		f.records[n] = state.Record{Name: n, Status: state.StatusStopped}
	}
	return f
}

func (f *fakeController) act(verb, name string, to state.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, verb+":"+name)
	if f.failure != nil {
		return f.failure
	}
	r, ok := f.records[name]
	if !ok {
		return fmt.Errorf("%w: %s", supervisor.ErrUnknownApp, name)
	}
	r.Status = to
	f.records[name] = r
	return nil
}

func (f *fakeController) Start(name string) error {
	return f.act("start", name, state.StatusRunning)
}
func (f *fakeController) Stop(name string) error { return f.act("stop", name, state.StatusStopped) }
func (f *fakeController) Restart(name string) error {
	return f.act("restart", name, state.StatusRunning)
}

func (f *fakeController) Status(name string) (state.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[name]
	if !ok {
		return state.Record{}, fmt.Errorf("%w: %s", supervisor.ErrUnknownApp, name)
	}
	return r, nil
}

func (f *fakeController) StatusAll() []state.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []state.Record
	for _, n := range []string{"api", "bot"} {
		if r, ok := f.records[n]; ok {
			out = append(out, r)
		}
	}
	return out
}

type fakeUsage map[string]process.Usage

func (u fakeUsage) Get(name string) (process.Usage, bool) {
	v, ok := u[name]
	return v, ok
}

func setupRouter(t *testing.T, base string, ctl Controller) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(ctl, base)
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusAll(t *testing.T) {
	f := newFake("api", "bot")
	started := time.Now().Add(-3 * time.Second)
	f.records["bot"] = state.Record{Name: "bot", Status: state.StatusRunning, PID: 42, Restarts: 2, StartedAt: started}
	r := setupRouter(t, "/api", f)
	r.SetUsage(fakeUsage{"bot": {RSSBytes: 1024, CPUPercent: 12.5}})

	rec := doReq(t, r.Handler(), http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got []appStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 apps, got %d", len(got))
	}
	bot := got[1]
	if bot.Name != "bot" || bot.Status != state.StatusRunning || bot.PID != 42 || bot.Restarts != 2 {
		t.Fatalf("unexpected bot status: %+v", bot)
	}
	if bot.UptimeMS < 3000 {
		t.Fatalf("uptime too small: %d", bot.UptimeMS)
	}
	if bot.CPUPercent == nil || *bot.CPUPercent != 12.5 || bot.MemoryRSS == nil || *bot.MemoryRSS != 1024 {
		t.Fatalf("usage missing: %+v", bot)
	}
	if got[0].CPUPercent != nil || got[0].StartedAt != nil {
		t.Fatalf("stopped app must not carry usage or start time: %+v", got[0])
	}
}

func TestStatusOne(t *testing.T) {
	h := setupRouter(t, "", newFake("api")).Handler()

	rec := doReq(t, h, http.MethodGet, "/status/api")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"stopped"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}

	rec = doReq(t, h, http.MethodGet, "/status/unknown")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodGet, "/status/bad*name")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestActions(t *testing.T) {
	f := newFake("api")
	h := setupRouter(t, "/v1/", f).Handler()

	for _, verb := range []string{"start", "restart", "stop"} {
		rec := doReq(t, h, http.MethodPost, "/v1/"+verb+"/api")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", verb, rec.Code, rec.Body.String())
		}
	}
	if got := strings.Join(f.calls, ","); got != "start:api,restart:api,stop:api" {
		t.Fatalf("calls = %s", got)
	}

	rec := doReq(t, h, http.MethodPost, "/v1/start/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodGet, "/v1/start/api")
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET on action must not be routed, got %d", rec.Code)
	}
}

func TestActionErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{supervisor.ErrAlreadyRunning, http.StatusConflict},
		{supervisor.ErrShuttingDown, http.StatusServiceUnavailable},
		{&process.SpawnError{App: "api", Err: fmt.Errorf("not found")}, http.StatusUnprocessableEntity},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		f := newFake("api")
		f.failure = c.err
		h := setupRouter(t, "", f).Handler()
		rec := doReq(t, h, http.MethodPost, "/start/api")
		if rec.Code != c.want {
			t.Fatalf("%v: expected %d, got %d", c.err, c.want, rec.Code)
		}
		var e errorResp
		if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil || e.Error == "" {
			t.Fatalf("expected error body, got %s", rec.Body.String())
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := setupRouter(t, "/api", newFake())
	rec := doReq(t, r.Handler(), http.MethodGet, "/metrics")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("metrics must not be served without a handler, got %d", rec.Code)
	}

	r.SetMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("keepr_app_starts_total 1\n"))
	}))
	rec = doReq(t, r.Handler(), http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "keepr_app_starts_total") {
		t.Fatalf("unexpected metrics response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNewServerTimeouts(t *testing.T) {
	srv := NewServer("127.0.0.1:0", http.NotFoundHandler())
	if srv.ReadHeaderTimeout == 0 || srv.IdleTimeout == 0 {
		t.Fatalf("timeouts must be set: %+v", srv)
	}
}
