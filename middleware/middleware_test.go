package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func serve(r *gin.Engine, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestManagerStopsOnAbort(t *testing.T) {
	m := NewManager()
	var order []string
	m.Add(func(c *gin.Context) { order = append(order, "a") })
	r := NewEngine(m)
	GET(r, "/x", func(c *gin.Context) { order = append(order, "h"); c.Status(http.StatusOK) }, RouteOpt{})

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/x", nil).Code)
	assert.Equal(t, []string{"a", "h"}, order)

	order = nil
	m.Add(func(c *gin.Context) { c.AbortWithStatus(http.StatusTeapot) })
	assert.Equal(t, http.StatusTeapot, serve(r, http.MethodGet, "/x", nil).Code)
	assert.Equal(t, []string{"a"}, order)
}

func TestHeaderSecret(t *testing.T) {
	assert.Nil(t, HeaderSecret("X-S", ""))

	r := NewEngine(nil)
	POST(r, "/p", func(c *gin.Context) { c.Status(http.StatusNoContent) }, RouteOpt{Auth: HeaderSecret("X-S", "s3")})
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/p", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/p", map[string]string{"X-S": "nope"}).Code)
	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodPost, "/p", map[string]string{"X-S": "s3"}).Code)
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	m := NewManager()
	m.Add(AccessLog(zap.New(core)))
	r := NewEngine(m)
	GET(r, "/ok", func(c *gin.Context) { c.Status(http.StatusAccepted) }, RouteOpt{})

	serve(r, http.MethodGet, "/ok", nil)
	entries := logs.All()
	if assert.Len(t, entries, 1) {
		f := entries[0].ContextMap()
		assert.Equal(t, "/ok", f["path"])
		assert.EqualValues(t, http.StatusAccepted, f["status"])
	}
}
