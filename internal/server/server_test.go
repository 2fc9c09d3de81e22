package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/realsolve"
	"github.com/njchilds90/realsolve/internal/config"
	"github.com/njchilds90/realsolve/kernel"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Server.RateLimit.RPS = 0
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config, engine realsolve.Engine) *Server {
	t.Helper()
	if engine == nil {
		engine = kernel.New()
	}
	return New(cfg, realsolve.NewSolver(engine), nil)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

// brokenLaTeX fails to typeset every candidate.
type brokenLaTeX struct{ *kernel.Engine }

func (brokenLaTeX) ConvertToLaTeX(string) (string, error) { return "", errors.New("no typesetter") }

// ============================================================
// /solve
// ============================================================

func TestSolve_OK(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	w := do(t, s, http.MethodPost, "/solve", `{"equation":"x^2","variable":"x","target":4}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Solutions []struct {
			Exact   string  `json:"exact"`
			LaTeX   string  `json:"latex"`
			Numeric float64 `json:"numeric"`
		} `json:"solutions"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Solutions, 2)
	assert.Equal(t, "-2", resp.Solutions[0].Exact)
	assert.Equal(t, 2.0, resp.Solutions[1].Numeric)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestSolve_ZeroTargetIsAccepted(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	w := do(t, s, http.MethodPost, "/solve", `{"equation":"x - 1","variable":"x","target":0}`)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestSolve_NoRealSolutions(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	w := do(t, s, http.MethodPost, "/solve", `{"equation":"x^2","variable":"x","target":-1}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"solutions":[]}`, w.Body.String())
}

func TestSolve_BadRequests(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	for name, body := range map[string]string{
		"missing target":   `{"equation":"x","variable":"x"}`,
		"missing equation": `{"variable":"x","target":1}`,
		"not json":         `equation=x`,
	} {
		t.Run(name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/solve", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestSolve_EngineError(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	before := testutil.ToFloat64(solveErrors.WithLabelValues("solve"))

	w := do(t, s, http.MethodPost, "/solve", `{"equation":"x +","variable":"x","target":1}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body errorBody
	decode(t, w, &body)
	assert.Equal(t, "solve", body.Kind)
	assert.Contains(t, body.Error, "cannot parse")
	assert.Equal(t, before+1, testutil.ToFloat64(solveErrors.WithLabelValues("solve")))
}

func TestSolve_FormatError(t *testing.T) {
	s := newTestServer(t, testConfig(), brokenLaTeX{kernel.New()})
	w := do(t, s, http.MethodPost, "/solve", `{"equation":"x","variable":"x","target":1}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body errorBody
	decode(t, w, &body)
	assert.Equal(t, "format", body.Kind)
}

func TestSolve_BodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxBodyBytes = 16
	s := newTestServer(t, cfg, nil)
	w := do(t, s, http.MethodPost, "/solve", `{"equation":"x^2 + 2x + 1","variable":"x","target":0}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

// ============================================================
// /solve/batch
// ============================================================

func TestBatch(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	w := do(t, s, http.MethodPost, "/solve/batch", `{"requests":[
		{"equation":"x^2","variable":"x","target":9},
		{"equation":"x +","variable":"x","target":0}
	]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Results []batchItem `json:"results"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Results, 2)
	assert.Len(t, resp.Results[0].Solutions, 2)
	assert.Empty(t, resp.Results[0].Error)
	assert.Equal(t, "solve", resp.Results[1].Kind)
	assert.Equal(t, "x +", resp.Results[1].Request.Equation)
}

func TestBatch_Limits(t *testing.T) {
	cfg := testConfig()
	cfg.Solver.MaxBatch = 1
	s := newTestServer(t, cfg, nil)

	w := do(t, s, http.MethodPost, "/solve/batch", `{"requests":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/solve/batch", `{"requests":[{"equation":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/solve/batch", `{"requests":[
		{"equation":"x","variable":"x","target":1},
		{"equation":"x","variable":"x","target":2}
	]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

// ============================================================
// /group, /decompose
// ============================================================

func TestGroup(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	w := do(t, s, http.MethodPost, "/group", `{"expr":"(5x+3)(4x)"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"content":"5x+3","open":0,"close":5}`, w.Body.String())

	w = do(t, s, http.MethodPost, "/group", `{"expr":"x+1"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body errorBody
	decode(t, w, &body)
	assert.Equal(t, "malformed", body.Kind)
}

func TestDecompose(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	w := do(t, s, http.MethodPost, "/decompose", `{"expr":"(5x+3)/(4x)"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var raw struct {
		Children []struct {
			Text string `json:"text"`
			Kind string `json:"kind"`
		} `json:"children"`
	}
	decode(t, w, &raw)
	require.Len(t, raw.Children, 2)
	assert.Equal(t, "numerator", raw.Children[0].Kind)
	assert.Equal(t, "denominator", raw.Children[1].Kind)

	w = do(t, s, http.MethodPost, "/decompose", `{"expr":"(a"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

// ============================================================
// /tool, /schema, /health, /metrics
// ============================================================

func TestTool(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	w := do(t, s, http.MethodPost, "/tool", `{"tool":"solve","params":{"equation":"x^2","target":4}}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp realsolve.ToolResponse
	decode(t, w, &resp)
	assert.Equal(t, "-2, 2", resp.String)

	w = do(t, s, http.MethodPost, "/tool", `{"tool":"nope"}`)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.Equal(t, "unknown tool: nope", resp.Error)
}

func TestTool_BadJSON(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	for _, body := range []string{`{`, `{"tool":"solve","extra":1}`, `{"tool":"solve"} {}`} {
		w := do(t, s, http.MethodPost, "/tool", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestSchemaAndHealth(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	w := do(t, s, http.MethodGet, "/schema", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, realsolve.MCPToolSpec(), w.Body.String())

	w = do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	do(t, s, http.MethodGet, "/health", "")
	w := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "realsolve_requests_total")
}

// ============================================================
// Middleware
// ============================================================

func TestRequestID_Propagated(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimit = config.RateLimit{RPS: 0.001, Burst: 1}
	s := newTestServer(t, cfg, nil)

	w := do(t, s, http.MethodGet, "/schema", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, s, http.MethodGet, "/schema", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Health stays outside the limiter.
	w = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecovery(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	s.router.GET("/panic", func(*gin.Context) { panic("boom") })
	w := do(t, s, http.MethodGet, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"internal"`)
}

// ============================================================
// Lifecycle
// ============================================================

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
