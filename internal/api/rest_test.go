package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDMiddleware(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/health", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"), "no X-Request-ID header generated")
}

func TestRequestIDMiddleware_PreservesCallerID(t *testing.T) {
	ts := newTestServer(t)

	req, rec := ts.newRequest(http.MethodGet, "/api/health")
	req.Header.Set("X-Request-ID", "caller-42")
	ts.server.router.ServeHTTP(rec, req)

	assert.Equal(t, "caller-42", rec.Header().Get("X-Request-ID"))
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))

	assert.Equal(t, "healthy", health["status"])
	db, ok := health["database"].(map[string]interface{})
	require.True(t, ok, "database = %v", health["database"])
	assert.Equal(t, "connected", db["status"])
}

func TestSystemInfoEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/system/info", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info SystemInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))

	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.OS)

	// Secrets must never appear in system info
	assert.NotContains(t, rec.Body.String(), "test-secret")
	assert.NotContains(t, rec.Body.String(), "test-key")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP", "metrics response is not in exposition format")
}

func TestCORSPreflight(t *testing.T) {
	t.Setenv("DESUP_CORS_ORIGIN", "*")
	ts := newTestServer(t)

	req, rec := ts.newRequest(http.MethodOptions, "/api/scans")
	req.Header.Set("Origin", "http://localhost:5173")
	ts.server.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/nope", testBearer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
