package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/northpeak/studio/libs/outbox"
	"github.com/northpeak/studio/services/auth-service/internal/audit"
	"github.com/northpeak/studio/services/auth-service/internal/storage"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestEnsureAdminSkipsWithoutEmail(t *testing.T) {
	mock := newMock(t)
	created, err := EnsureAdmin(context.Background(), storage.NewUserRepository(mock), nil, AdminConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil || created {
		t.Fatalf("expected no-op, got created=%v err=%v", created, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestEnsureAdminSkipsWhenUsersExist(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM users`).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	created, err := EnsureAdmin(context.Background(), storage.NewUserRepository(mock), nil,
		AdminConfig{Email: "owner@example.com", Password: "long-enough-pass"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil || created {
		t.Fatalf("expected no-op, got created=%v err=%v", created, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestEnsureAdminCreatesFirstAdmin(t *testing.T) {
	mock := newMock(t)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT count\(\*\) FROM users`).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("owner@example.com", pgxmock.AnyArg(), "admin", "Owner").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "password_hash", "role", "display_name", "created_at", "updated_at"}).
			AddRow("u-1", "owner@example.com", "hash", "admin", "Owner", now, now))
	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs("user.bootstrapped", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs("audit_event", "auth", audit.EventType, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	auditRepo := audit.NewRepository(mock, outbox.NewRepository(mock))
	created, err := EnsureAdmin(context.Background(), storage.NewUserRepository(mock), auditRepo,
		AdminConfig{Email: " owner@example.com ", Password: "long-enough-pass", DisplayName: "Owner"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if !created {
		t.Fatal("expected admin to be created")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
