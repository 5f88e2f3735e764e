package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeak/studio/libs/outbox"
)

func TestRecordMirrorsToOutbox(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRepository(mock, outbox.NewRepository(mock))
	repo.now = func() time.Time { return time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC) }

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs("user.deleted", "u-1", []byte(`{"user_id":"u-2"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs("audit_event", "auth", EventType,
			[]byte(`{"action":"user.deleted","actor_id":"u-1","metadata":{"user_id":"u-2"},"created_at":"2024-03-04T09:00:00Z"}`),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Record(context.Background(), "user.deleted", "u-1", map[string]any{"user_id": "u-2"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecentClampsLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	mock.ExpectQuery(`FROM audit_events`).
		WithArgs(defaultListLimit).
		WillReturnRows(pgxmock.NewRows([]string{"id", "event_type", "actor_id", "metadata", "created_at"}).
			AddRow(int64(3), "auth.login", "u-1", json.RawMessage(`{}`), at))

	entries, err := NewRepository(mock, nil).ListRecent(context.Background(), 10_000)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "auth.login", entries[0].EventType)
	assert.Equal(t, time.UTC, entries[0].CreatedAt.Location())
	assert.NoError(t, mock.ExpectationsWereMet())
}
