package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/taskyard/overseer/internal/guardian"
	"github.com/taskyard/overseer/internal/logbuf"
	"github.com/taskyard/overseer/internal/registry"
	"github.com/taskyard/overseer/internal/store"
	"github.com/taskyard/overseer/internal/supervisor"
)

func newTestRouter(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(dir, nil)
	require.NoError(t, err)
	reg := registry.New()
	sup := supervisor.New(st, reg, logbuf.NewRegistry(), dir, nil)
	g := guardian.New(st, reg, sup, nil)
	return NewRouter(st, sup, g, zerolog.Nop()), st
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndListProject(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/projects", map[string]any{
		"name": "svc", "start_command": "sleep 1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var created store.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	listRec := httptest.NewRecorder()
	r.ServeHTTP(listRec, httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	require.Equal(t, http.StatusOK, listRec.Code)

	var all []store.Task
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &all))
	require.Len(t, all, 1)
}

func TestCreateProjectRejectsNonStringEnv(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/projects", map[string]any{
		"name": "svc", "start_command": "sleep 1",
		"environment_variables": map[string]any{"PORT": 8080},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateProjectRejectsMissingStartCommand(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/projects", map[string]any{"name": "svc"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateUnknownProjectReturns404(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPut, "/api/projects/ghost", map[string]any{"name": "x"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

// A PUT body that renames a task without mentioning auto_restart must
// not silently disable it.
func TestUpdateProjectOmittingAutoRestartPreservesIt(t *testing.T) {
	r, st := newTestRouter(t)

	createRec := doJSON(t, r, http.MethodPost, "/api/projects", map[string]any{
		"name": "svc", "start_command": "sleep 1", "auto_restart": true,
	})
	require.Equal(t, http.StatusOK, createRec.Code)
	var created store.Task
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	require.True(t, created.AutoRestart)

	updateRec := doJSON(t, r, http.MethodPut, "/api/projects/"+created.ID, map[string]any{
		"name": "svc renamed",
	})
	require.Equal(t, http.StatusOK, updateRec.Code)
	var updated store.Task
	require.NoError(t, json.Unmarshal(updateRec.Body.Bytes(), &updated))
	require.Equal(t, "svc renamed", updated.Name)
	require.True(t, updated.AutoRestart, "auto_restart must survive a PUT that doesn't mention it")

	stored, ok := st.Get(created.ID)
	require.True(t, ok)
	require.True(t, stored.AutoRestart)
}

func TestDedupeEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/projects/dedupe", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["ok"])
}

func TestStartStopLifecycleOverHTTP(t *testing.T) {
	r, _ := newTestRouter(t)

	createRec := doJSON(t, r, http.MethodPost, "/api/projects", map[string]any{
		"id": "t1", "name": "t1", "start_command": "sleep 5",
	})
	require.Equal(t, http.StatusOK, createRec.Code)

	startRec := doJSON(t, r, http.MethodPost, "/api/projects/start", map[string]any{
		"id": "t1", "start_command": "sleep 5", "startup_timeout_ms": 200,
	})
	require.Equal(t, http.StatusOK, startRec.Code)

	var startBody map[string]any
	require.NoError(t, json.Unmarshal(startRec.Body.Bytes(), &startBody))
	require.Equal(t, true, startBody["ok"])
	require.Greater(t, startBody["pid"].(float64), float64(0))

	statusRec := httptest.NewRecorder()
	r.ServeHTTP(statusRec, httptest.NewRequest(http.MethodGet, "/api/projects/status/t1", nil))
	require.Equal(t, http.StatusOK, statusRec.Code)
	var statusBody map[string]any
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &statusBody))
	require.Equal(t, true, statusBody["running"])

	stopRec := doJSON(t, r, http.MethodPost, "/api/projects/stop", map[string]any{"id": "t1"})
	require.Equal(t, http.StatusOK, stopRec.Code)
}

func TestStartReportsFailureWithLogs(t *testing.T) {
	r, _ := newTestRouter(t)
	doJSON(t, r, http.MethodPost, "/api/projects", map[string]any{
		"id": "t2", "name": "t2", "start_command": "echo boom 1>&2; exit 2",
	})

	rec := doJSON(t, r, http.MethodPost, "/api/projects/start", map[string]any{
		"id": "t2", "start_command": "echo boom 1>&2; exit 2", "startup_timeout_ms": 500,
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, false, body["ok"])
	logs := body["logs"].(map[string]any)
	stderr := logs["stderr"].([]any)
	require.Contains(t, stderr, "boom")
}

func TestLogsEndpointReturnsEmptyArraysForUnknownTask(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects/logs/ghost", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []any{}, body["stdout"])
	require.Equal(t, []any{}, body["stderr"])
}

func TestListByPortRejectsInvalidPort(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/processes/by-port/notaport", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKillProcessRejectsInvalidPID(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/processes/kill", map[string]any{"pid": 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSHeadersArePermissive(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/projects", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
