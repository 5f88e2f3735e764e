package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeak/studio/libs/auth"
)

func TestCreateUser(t *testing.T) {
	h := newHarness(t)
	admin := h.token(t, "11111111-1111-4111-8111-111111111111", auth.RoleAdmin)

	h.mock.ExpectBegin()
	h.mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("new@example.com", pgxmock.AnyArg(), auth.RoleEditor, "New Editor").
		WillReturnRows(userRow("u-3", "new@example.com", "hash", auth.RoleEditor))
	h.expectAudit("user.created")
	h.mock.ExpectCommit()

	rec := h.do(t, http.MethodPost, "/api/v1/admin/users",
		`{"email":"new@example.com","password":"long-enough-pass","display_name":"New Editor"}`, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view userView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "u-3", view.ID)
	assert.Equal(t, auth.RoleEditor, view.Role)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	h := newHarness(t)
	admin := h.token(t, "11111111-1111-4111-8111-111111111111", auth.RoleAdmin)

	h.mock.ExpectBegin()
	h.mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("dup@example.com", pgxmock.AnyArg(), auth.RoleAdmin, pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_uidx"})
	h.mock.ExpectRollback()

	rec := h.do(t, http.MethodPost, "/api/v1/admin/users",
		`{"email":"dup@example.com","password":"long-enough-pass","role":"admin"}`, admin)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestCreateUserValidation(t *testing.T) {
	h := newHarness(t)
	admin := h.token(t, "11111111-1111-4111-8111-111111111111", auth.RoleAdmin)

	cases := map[string]string{
		"short password": `{"email":"a@example.com","password":"short"}`,
		"bad email":      `{"email":"not-an-email","password":"long-enough-pass"}`,
		"bad role":       `{"email":"a@example.com","password":"long-enough-pass","role":"owner"}`,
		"unknown field":  `{"email":"a@example.com","password":"long-enough-pass","extra":true}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/v1/admin/users", body, admin)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestDemoteLastAdminIsRejected(t *testing.T) {
	h := newHarness(t)
	admin := h.token(t, "11111111-1111-4111-8111-111111111111", auth.RoleAdmin)

	h.mock.ExpectBegin()
	h.mock.ExpectQuery(`FROM users\s+WHERE id = \$1`).
		WithArgs("11111111-1111-4111-8111-111111111111").
		WillReturnRows(userRow("11111111-1111-4111-8111-111111111111", "owner@example.com", "hash", auth.RoleAdmin))
	h.mock.ExpectQuery(`SELECT id FROM users WHERE role = 'admin' FOR UPDATE`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("11111111-1111-4111-8111-111111111111"))
	h.mock.ExpectRollback()

	rec := h.do(t, http.MethodPatch, "/api/v1/admin/users/11111111-1111-4111-8111-111111111111", `{"role":"editor"}`, admin)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestUpdateUserDisplayName(t *testing.T) {
	h := newHarness(t)
	admin := h.token(t, "11111111-1111-4111-8111-111111111111", auth.RoleAdmin)

	h.mock.ExpectBegin()
	h.mock.ExpectQuery(`UPDATE users`).
		WithArgs("22222222-2222-4222-8222-222222222222", "", "Renamed").
		WillReturnRows(pgxmock.NewRows(userColumns).AddRow("22222222-2222-4222-8222-222222222222", "e@example.com", "hash", auth.RoleEditor, "Renamed", testNow, testNow))
	h.expectAudit("user.updated")
	h.mock.ExpectCommit()

	rec := h.do(t, http.MethodPatch, "/api/v1/admin/users/22222222-2222-4222-8222-222222222222", `{"display_name":"Renamed"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view userView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Renamed", view.DisplayName)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestDeleteUser(t *testing.T) {
	h := newHarness(t)
	admin := h.token(t, "11111111-1111-4111-8111-111111111111", auth.RoleAdmin)

	rec := h.do(t, http.MethodDelete, "/api/v1/admin/users/11111111-1111-4111-8111-111111111111", "", admin)
	assert.Equal(t, http.StatusConflict, rec.Code, "self delete")

	h.mock.ExpectBegin()
	h.mock.ExpectQuery(`FROM users\s+WHERE id = \$1`).
		WithArgs("22222222-2222-4222-8222-222222222222").
		WillReturnRows(userRow("22222222-2222-4222-8222-222222222222", "e@example.com", "hash", auth.RoleEditor))
	h.mock.ExpectExec(`DELETE FROM users`).
		WithArgs("22222222-2222-4222-8222-222222222222").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	h.expectAudit("user.deleted")
	h.mock.ExpectCommit()

	rec = h.do(t, http.MethodDelete, "/api/v1/admin/users/22222222-2222-4222-8222-222222222222", "", admin)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestDeleteMissingUser(t *testing.T) {
	h := newHarness(t)
	admin := h.token(t, "11111111-1111-4111-8111-111111111111", auth.RoleAdmin)

	h.mock.ExpectBegin()
	h.mock.ExpectQuery(`FROM users\s+WHERE id = \$1`).
		WithArgs("44444444-4444-4444-8444-444444444444").
		WillReturnError(pgx.ErrNoRows)
	h.mock.ExpectRollback()

	rec := h.do(t, http.MethodDelete, "/api/v1/admin/users/44444444-4444-4444-8444-444444444444", "", admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestMalformedUserIDIsNotFound(t *testing.T) {
	h := newHarness(t)
	admin := h.token(t, "11111111-1111-4111-8111-111111111111", auth.RoleAdmin)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v1/admin/users/u-1", "", admin).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, "/api/v1/admin/users/u-1", "", admin).Code)
	assert.Equal(t, http.StatusNotFound,
		h.do(t, http.MethodPost, "/api/v1/admin/users/u-1/password", `{"password":"a-brand-new-one"}`, admin).Code)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestResetPasswordRevokesSessions(t *testing.T) {
	h := newHarness(t)
	admin := h.token(t, "11111111-1111-4111-8111-111111111111", auth.RoleAdmin)

	h.mock.ExpectBegin()
	h.mock.ExpectExec(`UPDATE users SET password_hash`).
		WithArgs("22222222-2222-4222-8222-222222222222", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	h.mock.ExpectExec(`UPDATE refresh_tokens`).
		WithArgs("22222222-2222-4222-8222-222222222222").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	h.expectAudit("user.password_reset")
	h.mock.ExpectCommit()

	rec := h.do(t, http.MethodPost, "/api/v1/admin/users/22222222-2222-4222-8222-222222222222/password", `{"password":"a-brand-new-one"}`, admin)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NoError(t, h.mock.ExpectationsWereMet())

	rec = h.do(t, http.MethodPost, "/api/v1/admin/users/22222222-2222-4222-8222-222222222222/password", `{"password":"short"}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/api/v1/auth/login":               "/api/v1/auth/login",
		"/api/v1/admin/users":              "/api/v1/admin/users",
		"/api/v1/admin/users/abc":          "/api/v1/admin/users/{id}",
		"/api/v1/admin/users/abc/password": "/api/v1/admin/users/{id}/password",
		"/api/v1/admin/users/abc/x/y":      "other",
		"/api/v1/admin/users/a/b/password": "other",
		"/wp-admin/setup.php":              "other",
	}
	for path, want := range cases {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		assert.Equal(t, want, RouteLabel(req), path)
	}
}
