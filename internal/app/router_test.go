package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bazaar.dev/realtime/internal/app/modules"
	"bazaar.dev/realtime/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestBuildCORSConfig_DefaultsToAllowlistWhenOriginsEmpty(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins:        nil,
			AllowCredentials:      true,
			UnsafeAllowAllOrigins: false,
		},
	}

	got := buildCORSConfig(cfg)
	if got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want false", got.AllowAllOrigins)
	}
	if !got.AllowCredentials {
		t.Fatalf("AllowCredentials = %v, want true", got.AllowCredentials)
	}
	if len(got.AllowOrigins) != 2 {
		t.Fatalf("len(AllowOrigins) = %d, want 2", len(got.AllowOrigins))
	}
}

func TestBuildCORSConfig_StripsWildcardUnlessUnsafeFlagEnabled(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins:        []string{"*", "https://example.com"},
			AllowCredentials:      true,
			UnsafeAllowAllOrigins: false,
		},
	}

	got := buildCORSConfig(cfg)
	if got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want false", got.AllowAllOrigins)
	}
	if len(got.AllowOrigins) != 1 || got.AllowOrigins[0] != "https://example.com" {
		t.Fatalf("AllowOrigins = %#v, want []string{\"https://example.com\"}", got.AllowOrigins)
	}
}

func TestBuildCORSConfig_UnsafeAllowAllDisablesCredentials(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins:        []string{"*"},
			AllowCredentials:      true,
			UnsafeAllowAllOrigins: true,
		},
	}

	got := buildCORSConfig(cfg)
	if !got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want true", got.AllowAllOrigins)
	}
	if got.AllowCredentials {
		t.Fatalf("AllowCredentials = %v, want false", got.AllowCredentials)
	}
	if len(got.AllowOrigins) != 0 {
		t.Fatalf("AllowOrigins = %#v, want empty", got.AllowOrigins)
	}
}

// routeModule exposes a single route.
type routeModule struct{}

func (routeModule) Name() string                   { return "route" }
func (routeModule) RegisterWorkers(*river.Workers) {}
func (routeModule) Shutdown(context.Context) error { return nil }
func (routeModule) RegisterRoutes(r gin.IRouter) {
	r.GET("/ws", func(c *gin.Context) { c.String(http.StatusTeapot, "ws") })
}

func testRouter(checks map[string]healthCheck, mods ...modules.Module) *gin.Engine {
	cfg := &config.Config{Server: config.ServerConfig{AllowedOrigins: []string{"https://app.example"}}}
	return newRouter(cfg, checks, mods)
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Healthz(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		checks     map[string]healthCheck
		wantStatus int
		wantBody   string
	}{
		{"all healthy", map[string]healthCheck{"database": ok, "redis": ok},
			http.StatusOK, `{"status":"ok","checks":{"database":"ok","redis":"ok"}}`},
		{"redis down", map[string]healthCheck{"database": ok, "redis": down},
			http.StatusServiceUnavailable, `{"status":"degraded","checks":{"database":"ok","redis":"error"}}`},
		{"no checks", nil, http.StatusOK, `{"status":"ok","checks":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(testRouter(tt.checks), httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestRouter_ModuleRoutesAreMounted(t *testing.T) {
	r := testRouter(nil, routeModule{})

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRouter_LogLevel(t *testing.T) {
	r := testRouter(nil)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/log/level", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "level")

	rec = serve(r, httptest.NewRequest(http.MethodPut, "/log/level", strings.NewReader(`{"level":"error"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	r := testRouter(nil)

	req := httptest.NewRequest(http.MethodOptions, "/healthz", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := serve(r, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(r, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_WebSocketUpgradeBypassesCORS(t *testing.T) {
	r := testRouter(nil, routeModule{})

	tests := []struct {
		name       string
		upgrade    string
		connection string
		wantStatus int
	}{
		{"upgrade reaches gateway", "websocket", "Upgrade", http.StatusTeapot},
		{"mixed case connection tokens", "WebSocket", "keep-alive, upgrade", http.StatusTeapot},
		{"plain request still checked", "", "", http.StatusForbidden},
		{"upgrade header without connection token", "websocket", "keep-alive", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Header.Set("Origin", "https://app.bazaar.dev")
			if tt.upgrade != "" {
				req.Header.Set("Upgrade", tt.upgrade)
			}
			if tt.connection != "" {
				req.Header.Set("Connection", tt.connection)
			}
			rec := serve(r, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRouter_RequestID(t *testing.T) {
	r := testRouter(nil)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec = serve(r, req)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}
