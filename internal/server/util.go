package server

import (
	"encoding/json"
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// appName matches the names config accepts for apps.
var appName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

const badNameMsg = "invalid name: allowed [A-Za-z0-9._-] and no '..'"

// validName guards the :name path parameter.
func validName(s string) bool {
	return appName.MatchString(s) && !strings.Contains(s, "..")
}

// normalizeBase turns "api", "/api/" or " /api " into "/api". Empty and "/"
// mount the routes at the root.
func normalizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return path.Clean("/" + bp)
}

// respond writes v as a JSON body.
func respond(c *gin.Context, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		code, b = http.StatusInternalServerError, []byte(`{"error":"encode response"}`)
	}
	c.Data(code, "application/json", append(b, '\n'))
}
