package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeak/studio/services/careers-service/internal/pipeline"
	"github.com/northpeak/studio/services/careers-service/internal/storage"
)

var applicationCols = []string{"id", "company", "role_title", "job_url", "job_description", "contact_name", "status",
	"documents_status", "cv_key", "cover_letter_key", "cover_letter_text", "documents_error", "notes",
	"applied_at", "created_at", "updated_at"}

func applicationRow(id, status, docs string) []any {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cv, cover := "", ""
	if docs == "ready" {
		cv, cover = "applications/"+id+"/cv.pdf", "applications/"+id+"/cover-letter.pdf"
	}
	return []any{id, "Acme", "Go engineer", "", "", "", status, docs, cv, cover, "", "", "", (*time.Time)(nil), now, now}
}

type fakeRequester struct {
	id    string
	useAI bool
	err   error
}

func (f *fakeRequester) Request(_ context.Context, id string, useAI bool) error {
	f.id, f.useAI = id, useAI
	return f.err
}

type fakePresigner struct {
	enabled bool
}

func (f fakePresigner) Enabled() bool { return f.enabled }
func (f fakePresigner) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "https://signed.example/" + key + "?ttl=" + ttl.String(), nil
}

type harness struct {
	mock      pgxmock.PgxPoolIface
	requester *fakeRequester
	mux       *http.ServeMux
}

func newHarness(t *testing.T, storeEnabled bool) *harness {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	req := &fakeRequester{}
	h := New(storage.NewRepository(mock), req, fakePresigner{enabled: storeEnabled}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	h.Register(mux)
	return &harness{mock: mock, requester: req, mux: mux}
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateApplication(t *testing.T) {
	h := newHarness(t, true)
	h.mock.ExpectQuery(`INSERT INTO job_applications`).
		WithArgs("Acme", "Go engineer", "https://acme.example/jobs/1", "", "", "draft", "").
		WillReturnRows(pgxmock.NewRows(applicationCols).AddRow(applicationRow("aaaaaaaa-0000-4000-8000-000000000001", "draft", "none")...))

	rec := h.do(http.MethodPost, "/api/v1/admin/applications",
		`{"company":" Acme ","role_title":"Go engineer","job_url":"https://acme.example/jobs/1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got applicationView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "aaaaaaaa-0000-4000-8000-000000000001", got.ID)
	assert.Equal(t, "none", got.DocumentsStatus)
	assert.Nil(t, got.AppliedAt)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestCreateApplicationValidation(t *testing.T) {
	h := newHarness(t, true)
	cases := map[string]string{
		"missing company": `{"role_title":"Go engineer"}`,
		"missing role":    `{"company":"Acme"}`,
		"bad status":      `{"company":"Acme","role_title":"Go engineer","status":"ghosted"}`,
		"unknown field":   `{"company":"Acme","role_title":"Go engineer","salary":1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/api/v1/admin/applications", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListApplicationsRejectsUnknownStatus(t *testing.T) {
	h := newHarness(t, true)
	rec := h.do(http.MethodGet, "/api/v1/admin/applications?status=ghosted", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchApplicationStatus(t *testing.T) {
	h := newHarness(t, true)
	h.mock.ExpectQuery(`UPDATE job_applications SET status = \$2, applied_at = COALESCE`).
		WithArgs("aaaaaaaa-0000-4000-8000-000000000001", "applied").
		WillReturnRows(pgxmock.NewRows(applicationCols).AddRow(applicationRow("aaaaaaaa-0000-4000-8000-000000000001", "applied", "none")...))

	rec := h.do(http.MethodPatch, "/api/v1/admin/applications/aaaaaaaa-0000-4000-8000-000000000001", `{"status":"applied"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestGetApplicationNotFound(t *testing.T) {
	h := newHarness(t, true)
	h.mock.ExpectQuery(`FROM job_applications WHERE id = \$1`).WithArgs("aaaaaaaa-0000-4000-8000-000000000404").WillReturnError(pgx.ErrNoRows)

	rec := h.do(http.MethodGet, "/api/v1/admin/applications/aaaaaaaa-0000-4000-8000-000000000404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedApplicationIDIsNotFound(t *testing.T) {
	h := newHarness(t, true)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/admin/applications/a1", "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/api/v1/admin/applications/a1/documents", "").Code)
	assert.Empty(t, h.requester.id)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestDeleteApplication(t *testing.T) {
	h := newHarness(t, true)
	h.mock.ExpectExec(`DELETE FROM job_applications`).WithArgs("aaaaaaaa-0000-4000-8000-000000000001").WillReturnResult(pgxmock.NewResult("DELETE", 1))

	rec := h.do(http.MethodDelete, "/api/v1/admin/applications/aaaaaaaa-0000-4000-8000-000000000001", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestDocuments(t *testing.T) {
	h := newHarness(t, true)
	rec := h.do(http.MethodPost, "/api/v1/admin/applications/aaaaaaaa-0000-4000-8000-000000000001/documents", `{"use_ai":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "aaaaaaaa-0000-4000-8000-000000000001", h.requester.id)
	assert.True(t, h.requester.useAI)
	assert.JSONEq(t, `{"documents_status":"pending"}`, rec.Body.String())
}

func TestRequestDocumentsErrors(t *testing.T) {
	h := newHarness(t, true)
	h.requester.err = pipeline.ErrAlreadyPending
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/api/v1/admin/applications/aaaaaaaa-0000-4000-8000-000000000001/documents", "").Code)

	h.requester.err = pgx.ErrNoRows
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/api/v1/admin/applications/aaaaaaaa-0000-4000-8000-000000000001/documents", "").Code)

	h.requester.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, h.do(http.MethodPost, "/api/v1/admin/applications/aaaaaaaa-0000-4000-8000-000000000001/documents", "").Code)
}

func TestRequestDocumentsWithoutStorage(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(http.MethodPost, "/api/v1/admin/applications/aaaaaaaa-0000-4000-8000-000000000001/documents", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, h.requester.id)
}

func TestGetDocumentsReturnsSignedURLs(t *testing.T) {
	h := newHarness(t, true)
	h.mock.ExpectQuery(`FROM job_applications WHERE id = \$1`).WithArgs("aaaaaaaa-0000-4000-8000-000000000001").
		WillReturnRows(pgxmock.NewRows(applicationCols).AddRow(applicationRow("aaaaaaaa-0000-4000-8000-000000000001", "applied", "ready")...))

	rec := h.do(http.MethodGet, "/api/v1/admin/applications/aaaaaaaa-0000-4000-8000-000000000001/documents", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got documentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ready", got.Status)
	assert.Equal(t, "https://signed.example/applications/aaaaaaaa-0000-4000-8000-000000000001/cv.pdf?ttl=15m0s", got.CVURL)
	assert.Equal(t, "https://signed.example/applications/aaaaaaaa-0000-4000-8000-000000000001/cover-letter.pdf?ttl=15m0s", got.CoverLetterURL)
	assert.Equal(t, int64(900), got.ExpiresIn)
}

func TestGetDocumentsPending(t *testing.T) {
	h := newHarness(t, true)
	h.mock.ExpectQuery(`FROM job_applications WHERE id = \$1`).WithArgs("aaaaaaaa-0000-4000-8000-000000000001").
		WillReturnRows(pgxmock.NewRows(applicationCols).AddRow(applicationRow("aaaaaaaa-0000-4000-8000-000000000001", "draft", "pending")...))

	rec := h.do(http.MethodGet, "/api/v1/admin/applications/aaaaaaaa-0000-4000-8000-000000000001/documents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"documents_status":"pending"}`, rec.Body.String())
}

func TestRouteLabel(t *testing.T) {
	for path, want := range map[string]string{
		"/api/v1/admin/applications":               "/api/v1/admin/applications",
		"/api/v1/admin/applications/abc":           "/api/v1/admin/applications/{id}",
		"/api/v1/admin/applications/abc/documents": "/api/v1/admin/applications/{id}/documents",
		"/api/v1/admin/applications/abc/zzz":       "other",
		"/wp-admin/setup.php":                      "other",
	} {
		assert.Equal(t, want, RouteLabel(httptest.NewRequest(http.MethodGet, path, nil)))
	}
}
