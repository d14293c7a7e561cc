package server

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeBase(t *testing.T) {
	for in, want := range map[string]string{
		"":          "",
		"/":         "",
		"api":       "/api",
		"/api/":     "/api",
		" /api ":    "/api",
		"/v1//api/": "/v1/api",
	} {
		assert.Equal(t, want, normalizeBase(in), "input %q", in)
	}
}

func TestValidName(t *testing.T) {
	for _, s := range []string{"bot", "clueless", "api.v2", "worker_1-b"} {
		assert.True(t, validName(s), s)
	}
	for _, s := range []string{"", "..", "a..b", "a/b", `a\b`, "bot*", "app name", "앱"} {
		assert.False(t, validName(s), s)
	}
}

func TestRespond(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ok", func(c *gin.Context) { respond(c, http.StatusCreated, okResp{OK: true}) })
	r.GET("/bad", func(c *gin.Context) { respond(c, http.StatusOK, math.Inf(1)) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bad", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"encode response"}`, rec.Body.String())
}
