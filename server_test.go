package main

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papercast/common"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := common.DefaultConfig()
	cfg.OutputDir = t.TempDir()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	logger.SetOutput(io.Discard)

	// Zero workers: submitted jobs stay queued so handlers can be asserted
	// without racing the pipeline.
	s, err := NewPipelineServer(cfg, 0, filepath.Join(t.TempDir(), "jobs.db"), logger)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	return s
}

func uploadRequest(t *testing.T, target, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestServerHealth(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "ok", payload["status"])
}

func TestServerSubmitQueuesJob(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, uploadRequest(t, "/jobs", "pdf", "paper.pdf", []byte("%PDF-1.4 fake")))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["job_id"])
	assert.Equal(t, JobQueued, resp["status"])

	job, err := s.store.GetJob(resp["job_id"])
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobQueued, job.Status)
	assert.FileExists(t, job.PDFPath)
}

func TestServerSubmitModeOverride(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, uploadRequest(t, "/jobs?mode=slides", "pdf", "paper.pdf", []byte("%PDF")))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	job, err := s.store.GetJob(resp["job_id"])
	require.NoError(t, err)
	assert.Equal(t, "slides", job.Mode)
}

func TestServerSubmitRejectsBadMode(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, uploadRequest(t, "/jobs?mode=hologram", "pdf", "paper.pdf", []byte("%PDF")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerSubmitRejectsNonPDF(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, uploadRequest(t, "/jobs", "pdf", "paper.txt", []byte("plain text")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerSubmitRejectsMissingField(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, uploadRequest(t, "/jobs", "document", "paper.pdf", []byte("%PDF")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerStatusNotFound(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/unknown-id", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerListJobs(t *testing.T) {
	s := testServer(t)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, uploadRequest(t, "/jobs", "pdf", "paper.pdf", []byte("%PDF")))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []*JobRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 2)
}
