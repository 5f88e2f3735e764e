package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/northpeak/studio/libs/db"
	"github.com/northpeak/studio/libs/outbox"
)

// EventType is the topic audit entries are mirrored to.
const EventType = "auth.audit.v1"

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Repository struct {
	db     db.DBTX
	outbox *outbox.Repository
	now    func() time.Time
}

// NewRepository mirrors every entry to the outbox unless outboxRepo is nil.
func NewRepository(conn db.DBTX, outboxRepo *outbox.Repository) *Repository {
	return &Repository{db: conn, outbox: outboxRepo, now: time.Now}
}

type published struct {
	Action    string         `json:"action"`
	ActorID   string         `json:"actor_id,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// RecordTx writes the entry in tx so it lands only with the change it describes.
func (r *Repository) RecordTx(ctx context.Context, tx pgx.Tx, action, actorID string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_events (event_type, actor_id, metadata) VALUES ($1, NULLIF($2, '')::uuid, $3)`,
		action, actorID, raw,
	); err != nil {
		return err
	}
	if r.outbox == nil {
		return nil
	}
	evt, err := outbox.NewEvent("audit_event", "auth", EventType, published{
		Action:    action,
		ActorID:   actorID,
		Metadata:  metadata,
		CreatedAt: r.now().UTC().Truncate(time.Second),
	})
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, evt)
}

// Record is RecordTx in a transaction of its own.
func (r *Repository) Record(ctx context.Context, action, actorID string, metadata map[string]any) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return r.RecordTx(ctx, tx, action, actorID, metadata)
	})
}

type Entry struct {
	ID        int64           `json:"id"`
	EventType string          `json:"event_type"`
	ActorID   string          `json:"actor_id,omitempty"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

// ListRecent returns the newest entries first. Out of range limits fall back
// to the default page size.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, event_type, COALESCE(actor_id::text, ''), metadata, created_at
		FROM audit_events
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Entry])
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].CreatedAt = entries[i].CreatedAt.UTC()
	}
	return entries, nil
}
