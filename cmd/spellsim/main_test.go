package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/spellctl/internal/config"
	"github.com/danmuck/spellctl/internal/sim"
	"github.com/danmuck/spellctl/internal/testutil/testlog"
)

func TestRouterServesHealthContextsAndMetrics(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l, err := sim.Start(ctx, sim.DefaultConfig())
	require.NoError(t, err)
	defer l.Close()

	r := newRouter(l)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contexts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var states []sim.ContextState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	require.Len(t, states, 2)
	assert.Equal(t, "SAT-A", states[0].Spec.Name)
	assert.Equal(t, "AVAILABLE", states[0].Status)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "spellctl_http_requests_total"))
}

func TestInitConfigWritesTemplate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "client.toml")

	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"init-config", "--kind", "client", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "wrote client config")

	cfg, err := config.LoadClient(path)
	require.NoError(t, err)
	assert.Equal(t, "SAT-A", cfg.Context)
}
