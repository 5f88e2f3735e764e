package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeak/studio/libs/mail"
	"github.com/northpeak/studio/libs/outbox"
	"github.com/northpeak/studio/services/content-service/internal/cms"
	"github.com/northpeak/studio/services/content-service/internal/storage"
)

var (
	testNow     = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	projectCols = []string{"id", "slug", "title", "summary", "body", "tech_stack", "project_url", "cover_image_key", "published", "sort_order", "created_at", "updated_at"}
)

type fakeCMS struct {
	services []cms.Service
	legal    map[string]cms.LegalPage
	err      error
}

func (f *fakeCMS) Services(context.Context) ([]cms.Service, error) { return f.services, f.err }
func (f *fakeCMS) Packages(context.Context) ([]cms.Package, error) { return []cms.Package{}, f.err }
func (f *fakeCMS) LegalPage(_ context.Context, slug string) (cms.LegalPage, error) {
	if f.err != nil {
		return cms.LegalPage{}, f.err
	}
	page, ok := f.legal[slug]
	if !ok {
		return cms.LegalPage{}, cms.ErrNotFound
	}
	return page, nil
}

type fakeStore struct {
	enabled bool
	puts    map[string]string
}

func (f *fakeStore) Enabled() bool { return f.enabled }
func (f *fakeStore) Put(_ context.Context, key, contentType string, _ []byte) error {
	f.puts[key] = contentType
	return nil
}
func (f *fakeStore) PublicURL(key string) string {
	if key == "" {
		return ""
	}
	return "https://cdn.example.com/" + key
}

type harness struct {
	mock   pgxmock.PgxPoolIface
	cms    *fakeCMS
	store  *fakeStore
	sender *mail.StubSender
	mux    *http.ServeMux
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hs := &harness{
		mock:   mock,
		cms:    &fakeCMS{legal: map[string]cms.LegalPage{}},
		store:  &fakeStore{enabled: true, puts: map[string]string{}},
		sender: mail.NewStubSender(logger),
		mux:    http.NewServeMux(),
	}
	h := New(Deps{
		Repo:          storage.NewRepository(mock),
		Outbox:        outbox.NewRepository(mock),
		CMS:           hs.cms,
		Store:         hs.store,
		Sender:        hs.sender,
		OperatorEmail: "studio@example.com",
		Logger:        logger,
	})
	h.now = func() time.Time { return testNow }
	h.Register(hs.mux)
	return hs
}

func (hs *harness) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	hs.mux.ServeHTTP(rec, req)
	return rec
}

func TestServicesFromCMS(t *testing.T) {
	hs := newHarness(t)
	hs.cms.services = []cms.Service{{ID: "s1", Title: "Web apps", Slug: "web-apps"}}

	rec := hs.do(http.MethodGet, "/api/v1/public/services", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []cms.Service
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, hs.cms.services, got)
}

func TestCMSFailureIsBadGateway(t *testing.T) {
	hs := newHarness(t)
	hs.cms.err = errors.New("cms down")

	assert.Equal(t, http.StatusBadGateway, hs.do(http.MethodGet, "/api/v1/public/packages", "").Code)
	assert.Equal(t, http.StatusBadGateway, hs.do(http.MethodGet, "/api/v1/public/legal/privacy", "").Code)
}

func TestLegalPageNotFound(t *testing.T) {
	hs := newHarness(t)
	hs.cms.legal["imprint"] = cms.LegalPage{Slug: "imprint", Title: "Imprint"}

	assert.Equal(t, http.StatusOK, hs.do(http.MethodGet, "/api/v1/public/legal/imprint", "").Code)
	assert.Equal(t, http.StatusNotFound, hs.do(http.MethodGet, "/api/v1/public/legal/terms", "").Code)
}

func TestPublicProjectsIncludeCoverURL(t *testing.T) {
	hs := newHarness(t)
	hs.mock.ExpectQuery(`WHERE published`).
		WillReturnRows(pgxmock.NewRows(projectCols).
			AddRow("bbbbbbbb-0000-4000-8000-000000000001", "shop", "Shop", "Online shop", "", []string{"go"}, "", "projects/bbbbbbbb-0000-4000-8000-000000000001/cover.png", true, 1, testNow, testNow))

	rec := hs.do(http.MethodGet, "/api/v1/public/projects", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []projectView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "https://cdn.example.com/projects/bbbbbbbb-0000-4000-8000-000000000001/cover.png", got[0].CoverURL)
	assert.Empty(t, got[0].CoverKey)
	require.NoError(t, hs.mock.ExpectationsWereMet())
}

func TestPublicProjectNotFound(t *testing.T) {
	hs := newHarness(t)
	hs.mock.ExpectQuery(`WHERE slug = \$1 AND published`).WithArgs("draft").WillReturnError(pgx.ErrNoRows)

	assert.Equal(t, http.StatusNotFound, hs.do(http.MethodGet, "/api/v1/public/projects/draft", "").Code)
}

func TestContactStoresMessageAndNotifies(t *testing.T) {
	hs := newHarness(t)
	hs.mock.ExpectBegin()
	hs.mock.ExpectQuery(`INSERT INTO contact_messages`).
		WithArgs("Ada Lovelace", "ada@example.com", "Analytical Ltd", "Let's talk").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow("c1", testNow))
	hs.mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs("contact_message", "c1", EventContactReceived, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	hs.mock.ExpectCommit()

	rec := hs.do(http.MethodPost, "/api/v1/public/contact",
		`{"name":" Ada Lovelace ","email":"ada@example.com","company":"Analytical Ltd","message":"Let's talk"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NoError(t, hs.mock.ExpectationsWereMet())

	sent := hs.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "studio@example.com", sent[0].To)
	assert.Equal(t, "ada@example.com", sent[0].ReplyTo)
	assert.Contains(t, sent[0].Text, "Analytical Ltd")
}

func TestContactValidation(t *testing.T) {
	hs := newHarness(t)
	for _, body := range []string{
		`{"name":"","email":"a@example.com","message":"hi"}`,
		`{"name":"A","email":"not-an-email","message":"hi"}`,
		`{"name":"A","email":"a@example.com","message":"   "}`,
		`{"name":"A","email":"a@example.com","message":"hi","phone":"1"}`,
	} {
		assert.Equal(t, http.StatusBadRequest, hs.do(http.MethodPost, "/api/v1/public/contact", body).Code, body)
	}
	assert.Equal(t, http.StatusMethodNotAllowed, hs.do(http.MethodGet, "/api/v1/public/contact", "").Code)
}

func TestCreateProjectSlugConflict(t *testing.T) {
	hs := newHarness(t)
	hs.mock.ExpectQuery(`INSERT INTO projects`).
		WithArgs("shop", "Shop", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "projects_slug_key"})

	rec := hs.do(http.MethodPost, "/api/v1/admin/projects", `{"slug":"shop","title":"Shop"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NoError(t, hs.mock.ExpectationsWereMet())

	rec = hs.do(http.MethodPost, "/api/v1/admin/projects", `{"slug":"Not A Slug","title":"Shop"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateProject(t *testing.T) {
	hs := newHarness(t)
	hs.mock.ExpectQuery(`UPDATE projects`).
		WithArgs("bbbbbbbb-0000-4000-8000-000000000001", "shop", "Shop v2", "", "", []string{"go", "htmx"}, "", true, 3).
		WillReturnRows(pgxmock.NewRows(projectCols).
			AddRow("bbbbbbbb-0000-4000-8000-000000000001", "shop", "Shop v2", "", "", []string{"go", "htmx"}, "", "", true, 3, testNow, testNow))

	rec := hs.do(http.MethodPut, "/api/v1/admin/projects/bbbbbbbb-0000-4000-8000-000000000001",
		`{"slug":"shop","title":"Shop v2","tech_stack":["go"," ","htmx"],"published":true,"sort_order":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, hs.mock.ExpectationsWereMet())
}

func TestUploadCover(t *testing.T) {
	hs := newHarness(t)
	hs.mock.ExpectQuery(`FROM projects WHERE id = \$1`).WithArgs("bbbbbbbb-0000-4000-8000-000000000001").
		WillReturnRows(pgxmock.NewRows(projectCols).
			AddRow("bbbbbbbb-0000-4000-8000-000000000001", "shop", "Shop", "", "", []string{}, "", "", false, 0, testNow, testNow))
	key := "projects/bbbbbbbb-0000-4000-8000-000000000001/cover-1704099600.png"
	hs.mock.ExpectQuery(`UPDATE projects SET cover_image_key`).WithArgs("bbbbbbbb-0000-4000-8000-000000000001", key).
		WillReturnRows(pgxmock.NewRows(projectCols).
			AddRow("bbbbbbbb-0000-4000-8000-000000000001", "shop", "Shop", "", "", []string{}, "", key, false, 0, testNow, testNow))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "cover.png")
	require.NoError(t, err)
	_, _ = part.Write([]byte("\x89PNG\r\n\x1a\n0000"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/projects/bbbbbbbb-0000-4000-8000-000000000001/cover", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	hs.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", hs.store.puts[key])
	require.NoError(t, hs.mock.ExpectationsWereMet())
}

func TestMalformedProjectIDIsNotFound(t *testing.T) {
	hs := newHarness(t)

	assert.Equal(t, http.StatusNotFound, hs.do(http.MethodGet, "/api/v1/admin/projects/p1", "").Code)
	assert.Equal(t, http.StatusNotFound, hs.do(http.MethodPost, "/api/v1/admin/projects/p1/cover", "").Code)
	require.NoError(t, hs.mock.ExpectationsWereMet())
}

func TestUploadCoverRequiresStore(t *testing.T) {
	hs := newHarness(t)
	hs.store.enabled = false
	rec := hs.do(http.MethodPost, "/api/v1/admin/projects/bbbbbbbb-0000-4000-8000-000000000001/cover", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouteLabel(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/projects/bbbbbbbb-0000-4000-8000-000000000001/cover", nil)
	assert.Equal(t, "/api/v1/admin/projects/{id}/cover", RouteLabel(req))
	req = httptest.NewRequest(http.MethodGet, "/api/v1/public/services", nil)
	assert.Equal(t, "/api/v1/public/services", RouteLabel(req))
	req = httptest.NewRequest(http.MethodGet, "/api/v1/public/projects/shop/zzz", nil)
	assert.Equal(t, "other", RouteLabel(req))
	req = httptest.NewRequest(http.MethodGet, "/wp-admin/setup.php", nil)
	assert.Equal(t, "other", RouteLabel(req))
}
