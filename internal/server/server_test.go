package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friscapuff/alphaforge-brain/internal/artifacts"
	"github.com/friscapuff/alphaforge-brain/internal/audit"
	"github.com/friscapuff/alphaforge-brain/internal/dataset"
	"github.com/friscapuff/alphaforge-brain/internal/retention"
	"github.com/friscapuff/alphaforge-brain/internal/run"
	"github.com/friscapuff/alphaforge-brain/pkg/logger"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	log := logger.Nop()
	root := t.TempDir()
	registry := run.NewRegistry()
	writer := artifacts.NewWriter(root, log)
	engine := run.NewEngine(registry, run.EngineOptions{
		Datasets: dataset.NewCache(dataset.NewLoader(log), "", log),
		Writer:   writer,
	}, log)
	mgr := retention.NewManager(registry, root, audit.New(root, 0, log), nil, retention.DefaultConfig(), log)
	return New(Config{Port: 0, Engine: engine, Retention: mgr, Writer: writer, Log: log})
}

func submitPayload() []byte {
	payload := map[string]any{
		"symbol":    "TEST",
		"timeframe": "1m",
		"start":     "2024-01-02",
		"end":       "2024-01-03",
		"indicators": []map[string]any{
			{"name": "dual_sma", "params": map[string]any{"fast": 3, "slow": 8}},
		},
		"strategy":   map[string]any{"name": "dual_sma", "params": map[string]any{"fast": 3, "slow": 8}},
		"risk":       map[string]any{"model": "fixed_fraction", "params": map[string]any{"fraction": 0.5}},
		"execution":  map[string]any{"fee_bps": 0, "slippage_bps": 0},
		"validation": map[string]any{"permutation": map[string]any{"n": 20}},
		"seed":       42,
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func doJSON(t *testing.T, srv *Server, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestSubmitAndGetRun(t *testing.T) {
	srv := testServer(t)
	rec, body := doJSON(t, srv, http.MethodPost, "/runs", submitPayload())
	require.Equal(t, http.StatusCreated, rec.Code)
	runHash := body["run_hash"].(string)
	require.Len(t, runHash, 64)
	assert.Equal(t, true, body["created"])

	// Resubmission is deduplicated.
	rec, body = doJSON(t, srv, http.MethodPost, "/runs", submitPayload())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["created"])
	assert.Equal(t, runHash, body["run_hash"])

	rec, body = doJSON(t, srv, http.MethodGet, "/runs/"+runHash, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	record := body["record"].(map[string]any)
	assert.Equal(t, "COMPLETE", record["status"])
	index := body["artifact_index"].([]any)
	assert.NotEmpty(t, index)
}

func TestSubmit_ConfigErrorRejected(t *testing.T) {
	srv := testServer(t)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(submitPayload(), &payload))
	payload["strategy"] = map[string]any{"name": "dual_sma", "params": map[string]any{"fast": 9, "slow": 2}}
	raw, _ := json.Marshal(payload)
	rec, body := doJSON(t, srv, http.MethodPost, "/runs", raw)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, body["detail"], "fast must be < slow")
}

func TestGetRun_NotFound(t *testing.T) {
	srv := testServer(t)
	rec, _ := doJSON(t, srv, http.MethodGet, "/runs/deadbeef", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsEndpoint(t *testing.T) {
	srv := testServer(t)
	_, body := doJSON(t, srv, http.MethodPost, "/runs", submitPayload())
	runHash := body["run_hash"].(string)

	rec, body := doJSON(t, srv, http.MethodGet, "/runs/"+runHash+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["terminal"])
	events := body["events"].([]any)
	require.NotEmpty(t, events)
	lastID := int64(events[len(events)-1].(map[string]any)["id"].(float64))

	rec, body = doJSON(t, srv, http.MethodGet, "/runs/"+runHash+"/events?after_id="+jsonInt(lastID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["events"])
}

func TestHashesEndpoint(t *testing.T) {
	srv := testServer(t)
	_, body := doJSON(t, srv, http.MethodPost, "/runs", submitPayload())
	runHash := body["run_hash"].(string)

	rec, hashes := doJSON(t, srv, http.MethodGet, "/runs/"+runHash+"/hashes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, hashes["manifest_hash"])
	assert.NotEmpty(t, hashes["metrics_hash"])
	assert.NotEmpty(t, hashes["equity_curve_hash"])
	assert.NotEmpty(t, hashes["provenance_hash"])
}

func TestPinAndRetentionEndpoints(t *testing.T) {
	srv := testServer(t)
	_, body := doJSON(t, srv, http.MethodPost, "/runs", submitPayload())
	runHash := body["run_hash"].(string)

	rec, body := doJSON(t, srv, http.MethodPost, "/runs/"+runHash+"/pin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pinned", body["retention_state"])

	rec, body = doJSON(t, srv, http.MethodPost, "/runs/"+runHash+"/unpin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "full", body["retention_state"])

	rec, body = doJSON(t, srv, http.MethodPost, "/runs/retention/apply", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, body["kept"])

	rec, body = doJSON(t, srv, http.MethodPost, "/runs/"+runHash+"/rehydrate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["noop"])
}

func TestRetentionSettingsEndpoints(t *testing.T) {
	srv := testServer(t)
	rec, body := doJSON(t, srv, http.MethodGet, "/settings/retention", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(50), body["keep_last"])

	update, _ := json.Marshal(map[string]any{"keep_last": 10, "top_k_per_strategy": 2})
	rec, body = doJSON(t, srv, http.MethodPost, "/settings/retention", update)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(10), body["keep_last"])

	bad, _ := json.Marshal(map[string]any{"keep_last": 0})
	rec, _ = doJSON(t, srv, http.MethodPost, "/settings/retention", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSystemHealth(t *testing.T) {
	srv := testServer(t)
	rec, body := doJSON(t, srv, http.MethodGet, "/system/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func jsonInt(n int64) string {
	raw, _ := json.Marshal(n)
	return string(raw)
}
