package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/northpeak/studio/libs/db"
	otelx "github.com/northpeak/studio/libs/otel"
)

const (
	insertEventSQL = `
INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))`

	// Rows locked here stay invisible to other publisher replicas until the
	// claiming transaction ends.
	claimPendingSQL = `
SELECT id, event_id::text, aggregate_type, aggregate_id, event_type, payload,
       COALESCE(traceparent, ''), COALESCE(tracestate, ''), created_at
FROM outbox_events
WHERE published_at IS NULL
ORDER BY id
LIMIT $1
FOR UPDATE SKIP LOCKED`

	markPublishedSQL = `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`

	prunePublishedSQL = `DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < $1`
)

type Repository struct {
	db db.DBTX
}

func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// Insert stages evt inside tx together with the caller's trace context.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	parent, state := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, insertEventSQL, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, parent, state)
	return err
}

// Record is a pending outbox row. Field order follows claimPendingSQL.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

func (r *Repository) FetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, claimPendingSQL, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Record])
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, markPublishedSQL, ids)
	return err
}

// DeletePublishedBefore prunes rows published before cutoff.
func (r *Repository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, prunePublishedSQL, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
