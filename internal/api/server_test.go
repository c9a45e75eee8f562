package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stroke-trial-screener/internal/domain"
	"github.com/stroke-trial-screener/internal/engine"
	"github.com/stroke-trial-screener/internal/results"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	eng, err := engine.New(logger)
	require.NoError(t, err)

	store, err := results.NewSQLiteStore(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &domain.Config{}
	return NewServer(cfg, eng, store, logger)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func runRequestBody() RunRequest {
	admit := time.Date(2019, 3, 1, 8, 0, 0, 0, time.UTC)
	return RunRequest{
		Admissions: []domain.Admission{
			{
				SubjectID: "10", HadmID: "100", AdmitTime: admit,
				AdmissionType: "EMERGENCY", Age: 70,
				Diagnoses: []domain.DiagnosisCode{
					{System: domain.ICD10, Value: "I639", SeqNum: 1},
				},
			},
			{
				SubjectID: "11", HadmID: "101", AdmitTime: admit,
				AdmissionType: "EMERGENCY", Age: 95,
				Diagnoses: []domain.DiagnosisCode{
					{System: domain.ICD10, Value: "I639", SeqNum: 1},
				},
			},
		},
	}
}

func createRun(t *testing.T, s *Server) string {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/v1/runs", runRequestBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)
	return resp.RunID
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestCreateRunAndFetch(t *testing.T) {
	s := newTestServer(t)
	runID := createRun(t, s)

	w := doJSON(t, s, http.MethodGet, "/api/v1/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var run domain.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, runID, run.RunID)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 2, run.Summary.TotalEvaluated)
	assert.Equal(t, 1, run.Summary.TotalIncluded)
	require.Len(t, run.Ranking, 1)
	assert.Equal(t, "100", run.Ranking[0].HadmID)
}

func TestCreateRunWithStudyOverrides(t *testing.T) {
	s := newTestServer(t)
	body := runRequestBody()
	body.Study = map[string]interface{}{
		"age": map[string]interface{}{"max": 60.0},
	}

	w := doJSON(t, s, http.MethodPost, "/api/v1/runs", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Summary domain.RunSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	// Age 70 now exceeds the configured max of 60.
	assert.Equal(t, 0, resp.Summary.TotalIncluded)
}

func TestCreateRunRejectsInvalidCriteria(t *testing.T) {
	s := newTestServer(t)
	body := runRequestBody()
	body.Study = map[string]interface{}{
		"age": map[string]interface{}{"min": 100.0}, // exceeds the default max
	}

	w := doJSON(t, s, http.MethodPost, "/api/v1/runs", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_CONFIG")
}

func TestCreateRunRejectsMissingAdmissions(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/runs", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRankingWithLimit(t *testing.T) {
	s := newTestServer(t)
	runID := createRun(t, s)

	w := doJSON(t, s, http.MethodGet, "/api/v1/runs/"+runID+"/ranking?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Ranking []domain.RankingEntry `json:"ranking"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Ranking, 1)
}

func TestGetSummary(t *testing.T) {
	s := newTestServer(t)
	runID := createRun(t, s)

	w := doJSON(t, s, http.MethodGet, "/api/v1/runs/"+runID+"/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Summary domain.RunSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Summary.ReasonCounts[domain.AGE_HARD_EXCLUDED])
}

func TestGetTopK(t *testing.T) {
	s := newTestServer(t)
	runID := createRun(t, s)

	w := doJSON(t, s, http.MethodGet, "/api/v1/runs/"+runID+"/topk?k=25", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list domain.TopKList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 25, list.K)
	assert.Len(t, list.Entries, 1)

	w = doJSON(t, s, http.MethodGet, "/api/v1/runs/"+runID+"/topk", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/runs/no-such-run", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestDeleteRun(t *testing.T) {
	s := newTestServer(t)
	runID := createRun(t, s)

	w := doJSON(t, s, http.MethodDelete, "/api/v1/runs/"+runID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/runs/"+runID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRuns(t *testing.T) {
	s := newTestServer(t)
	createRun(t, s)
	createRun(t, s)

	w := doJSON(t, s, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Runs  []results.RunRecord `json:"runs"`
		Count int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestExportRun(t *testing.T) {
	s := newTestServer(t)
	runID := createRun(t, s)

	w := doJSON(t, s, http.MethodGet, "/api/v1/runs/"+runID+"/export", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var export results.RunExport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &export))
	assert.Equal(t, runID, export.Run.RunID)
	require.NotNil(t, export.Config)
}
