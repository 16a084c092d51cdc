package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/varinspector/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/varinspector/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/varinspector/internal/inspector"
	"github.com/GriffinCanCode/varinspector/internal/kernel"
	"github.com/GriffinCanCode/varinspector/internal/kernel/gateway"
	"github.com/GriffinCanCode/varinspector/internal/kernel/launcher"
	"github.com/GriffinCanCode/varinspector/internal/languages"
)

type testAPI struct {
	router  *gin.Engine
	pool    *kernel.Pool
	manager *inspector.Manager
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics := monitoring.NewMetrics()
	pool := kernel.NewPool(nil)
	manager := inspector.NewManager(nil, metrics)
	tracker := inspector.NewTracker(inspector.TrackerOptions{Manager: manager, Metrics: metrics})
	t.Cleanup(func() {
		manager.Close()
		pool.CloseAll()
	})

	handlers := NewHandlers(Options{
		Pool:     pool,
		Launcher: launcher.New(pool, nil, launcher.Config{SandboxTimeout: 5 * time.Second}, nil),
		Tracker:  tracker,
		Metrics:  metrics,
		MaxRows:  50,
	})
	router := gin.New()
	handlers.Register(router)

	return &testAPI{router: router, pool: pool, manager: manager}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

// launch creates and focuses a JavaScript session.
func (a *testAPI) launch(t *testing.T) string {
	t.Helper()
	code, body := a.do(t, "POST", "/api/sessions", gin.H{"language": "javascript"})
	require.Equal(t, http.StatusCreated, code, body)
	id := body["session"].(map[string]any)["id"].(string)

	code, body = a.do(t, "POST", "/api/sessions/"+id+"/focus", nil)
	require.Equal(t, http.StatusOK, code, body)
	return id
}

func variableNames(body map[string]any) []string {
	var names []string
	vars, _ := body["variables"].([]any)
	for _, v := range vars {
		names = append(names, v.(map[string]any)["varName"].(string))
	}
	return names
}

func TestRootAndHealth(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.do(t, "GET", "/", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "online", body["status"])

	code, body = api.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 0, body["sessions"])
	assert.Nil(t, body["source"])
	assert.Equal(t, false, body["gateway"].(map[string]any)["enabled"])
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "varinspector_")
}

func TestLanguages(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.do(t, "GET", "/api/languages", nil)
	require.Equal(t, http.StatusOK, code)
	assert.ElementsMatch(t, []any{"go", "javascript"}, body["in_process"])
	assert.Contains(t, body["inspectable"], "python3")
	assert.Equal(t, false, body["gateway"])
}

func TestCreateSessionErrors(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"no target", gin.H{}, http.StatusBadRequest},
		{"two targets", gin.H{"language": "go", "kernel_name": "python3"}, http.StatusBadRequest},
		{"unknown language", gin.H{"language": "cobol"}, http.StatusBadRequest},
		{"gateway disabled", gin.H{"kernel_name": "python3"}, http.StatusNotImplemented},
		{"malformed", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := api.do(t, "POST", "/api/sessions", tt.body)
			assert.Equal(t, tt.want, code)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Empty(t, api.pool.List())
}

func TestSessionLifecycle(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.do(t, "POST", "/api/sessions", gin.H{"language": "go"})
	require.Equal(t, http.StatusCreated, code)
	session := body["session"].(map[string]any)
	id := session["id"].(string)
	assert.Equal(t, "go", session["language_name"])
	assert.Equal(t, true, session["ready"])
	assert.Equal(t, false, session["tracked"])

	code, body = api.do(t, "GET", "/api/sessions", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["count"])

	code, body = api.do(t, "POST", "/api/sessions/"+id+"/focus", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["session"].(map[string]any)["active"])
	assert.Equal(t, "ready", body["session"].(map[string]any)["state"])

	code, _ = api.do(t, "GET", "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, "DELETE", "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, "DELETE", "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = api.do(t, "GET", "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)

	// The handler follows its session
	assert.Eventually(t, func() bool { return api.manager.Source() == nil }, time.Second, 5*time.Millisecond)
}

func TestUnknownSession(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/focus", "/execute", "/restart"} {
		code, _ := api.do(t, "POST", "/api/sessions/missing"+path, gin.H{"code": "1"})
		assert.Equal(t, http.StatusNotFound, code, path)
	}
}

func TestExecuteRefreshesActiveSource(t *testing.T) {
	api := newTestAPI(t)
	id := api.launch(t)

	code, body := api.do(t, "GET", "/api/variables", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["source"])
	assert.Empty(t, variableNames(body))

	code, body = api.do(t, "POST", "/api/sessions/"+id+"/execute", gin.H{"code": "var answer = 42; answer"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	reply := body["reply"].(map[string]any)
	assert.Equal(t, "42", reply["data"].(map[string]any)["text/plain"])

	code, body = api.do(t, "GET", "/api/variables", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"answer"}, variableNames(body))
	assert.Equal(t, true, body["inspected"])
	assert.Equal(t, "javascript", body["info"].(map[string]any)["languageName"])
}

func TestExecuteReportsInterpreterErrors(t *testing.T) {
	api := newTestAPI(t)
	id := api.launch(t)

	code, body := api.do(t, "POST", "/api/sessions/"+id+"/execute", gin.H{"code": "throw new TypeError('nope')"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "error", body["reply"].(map[string]any)["status"])

	code, _ = api.do(t, "POST", "/api/sessions/"+id+"/execute", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMatrix(t *testing.T) {
	api := newTestAPI(t)
	id := api.launch(t)

	code, _ := api.do(t, "POST", "/api/sessions/"+id+"/execute", gin.H{
		"code": `var answer = 1; var rows = [{a: 1, b: "x"}, {a: 2, b: "y"}, {a: 3, b: "z"}]`,
	})
	require.Equal(t, http.StatusOK, code)

	code, body := api.do(t, "GET", "/api/variables/rows/matrix?max_rows=2", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 2, body["row_count"])
	assert.EqualValues(t, 2, body["column_count"])
	assert.EqualValues(t, 2, body["max_rows"])

	// Requests above the configured cap are clamped
	code, body = api.do(t, "GET", "/api/variables/rows/matrix?max_rows=1000", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 50, body["max_rows"])
	assert.EqualValues(t, 3, body["row_count"])

	tests := []struct {
		path string
		want int
	}{
		{"/api/variables/answer/matrix", http.StatusUnprocessableEntity},
		{"/api/variables/1bad/matrix", http.StatusBadRequest},
		{"/api/variables/rows/matrix?max_rows=abc", http.StatusBadRequest},
		{"/api/variables/rows/matrix?max_rows=0", http.StatusBadRequest},
		{"/api/variables/ghost/matrix", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		code, body := api.do(t, "GET", tt.path, nil)
		assert.Equal(t, tt.want, code, "%s: %v", tt.path, body)
	}
}

func TestNoSource(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.do(t, "GET", "/api/variables", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["source"])
	assert.Empty(t, body["variables"])

	code, _ = api.do(t, "POST", "/api/inspect", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = api.do(t, "GET", "/api/variables/x/matrix", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestInspectInline(t *testing.T) {
	api := newTestAPI(t)
	id := api.launch(t)

	session, ok := api.pool.Get(id)
	require.True(t, ok)
	reply, err := session.Execute(context.Background(), "var hidden = 'x'")
	require.NoError(t, err)
	require.NoError(t, reply.Err())

	code, body := api.do(t, "POST", "/api/inspect?wait=true", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"hidden"}, variableNames(body))
}

func TestRestart(t *testing.T) {
	api := newTestAPI(t)
	id := api.launch(t)

	code, _ := api.do(t, "POST", "/api/sessions/"+id+"/execute", gin.H{"code": "var before = 1"})
	require.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, "POST", "/api/sessions/"+id+"/restart", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := api.do(t, "POST", "/api/inspect?wait=true", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, variableNames(body))
	assert.Nil(t, body["error"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{launcher.ErrInvalidRequest, http.StatusBadRequest},
		{fmt.Errorf("x: %w", languages.ErrInvalidName), http.StatusBadRequest},
		{gateway.ErrKernelNotFound, http.StatusNotFound},
		{kernel.ErrNotReady, http.StatusConflict},
		{kernel.ErrDisposed, http.StatusGone},
		{inspector.ErrDisposed, http.StatusGone},
		{inspector.ErrNotMatrix, http.StatusUnprocessableEntity},
		{&kernel.ExecutionError{Name: "NameError"}, http.StatusUnprocessableEntity},
		{inspector.ErrNoLanguageSupport, http.StatusNotImplemented},
		{errNotRestartable, http.StatusNotImplemented},
		{resilience.ErrCircuitOpen, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&gateway.StatusError{Code: 500}, http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
