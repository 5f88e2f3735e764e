package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeak/studio/libs/kafkax"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

var outboxColumns = []string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at"}

func newTestPublisher(t *testing.T) (*Publisher, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPublisher(mock, NewRepository(mock), logger, PublisherConfig{Brokers: "kafka:9092", BatchSize: 10}), mock
}

func TestPublishBatchWritesAndMarks(t *testing.T) {
	p, mock := newTestPublisher(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows(outboxColumns).
			AddRow(int64(1), "evt-1", "appointment", "appt-1", "booking.appointment.booked.v1", []byte(`{"a":1}`), "", "", now).
			AddRow(int64(2), "evt-2", "appointment", "appt-2", "booking.appointment.cancelled.v1", []byte(`{"a":2}`), "", "", now))
	mock.ExpectExec("UPDATE outbox_events").
		WithArgs([]int64{1, 2}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	w := &fakeWriter{}
	n, err := p.PublishBatch(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "booking.appointment.booked.v1", w.msgs[0].Topic)
	assert.Equal(t, "appt-1", string(w.msgs[0].Key))
	assert.Equal(t, "evt-2", kafkax.HeaderValue(w.msgs[1].Headers, kafkax.HeaderEventID))
	assert.Equal(t, "appointment", kafkax.HeaderValue(w.msgs[0].Headers, kafkax.HeaderAggregateType))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishBatchEmptyRollsBack(t *testing.T) {
	p, mock := newTestPublisher(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(10).WillReturnRows(pgxmock.NewRows(outboxColumns))
	mock.ExpectRollback()

	w := &fakeWriter{}
	n, err := p.PublishBatch(context.Background(), w)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.msgs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishBatchLeavesRowsOnWriteFailure(t *testing.T) {
	p, mock := newTestPublisher(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows(outboxColumns).
			AddRow(int64(7), "evt-7", "contact_message", "c-1", "content.contact.received.v1", []byte(`{}`), "", "", time.Now()))
	mock.ExpectRollback()

	_, err := p.PublishBatch(context.Background(), &fakeWriter{err: errors.New("broker down")})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePublishedBefore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM outbox_events").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	n, err := NewRepository(mock).DeletePublishedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestNewEvent(t *testing.T) {
	evt, err := NewEvent("appointment", "appt-1", "booking.appointment.booked.v1", map[string]string{"date": "2024-01-02"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-01-02"}`, string(evt.Payload))
}
