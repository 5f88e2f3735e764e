package jobs

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/northpeak/studio/libs/db"
)

// wallClock is the layout used for org-local timestamps compared against
// appointment_date + appointment_time.
const wallClock = "2006-01-02 15:04:05"

type Completed struct {
	ID               string
	Date             string
	Time             string
	PreferredContact string
	Sequence         int
}

type Reminder struct {
	ID               string
	Name             string
	Email            string
	Date             string
	Time             string
	PreferredContact string
}

type Repository struct {
	db db.DBTX
}

func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// CompleteEndedTx moves live appointments that ended at or before cutoff to completed.
func (r *Repository) CompleteEndedTx(ctx context.Context, tx pgx.Tx, cutoff string, limit int) ([]Completed, error) {
	rows, err := tx.Query(ctx, `
		UPDATE appointments
		SET status = 'completed', updated_at = now()
		WHERE id IN (
			SELECT id FROM appointments
			WHERE status IN ('scheduled', 'rescheduled')
				AND appointment_date + appointment_time + interval '30 minutes' <= $1::timestamp
			ORDER BY appointment_date, appointment_time
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id::text, appointment_date::text, to_char(appointment_time, 'HH24:MI'), preferred_contact, sequence
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Completed
	for rows.Next() {
		var c Completed
		if err := rows.Scan(&c.ID, &c.Date, &c.Time, &c.PreferredContact, &c.Sequence); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClaimReminders stamps reminder_sent_at on live appointments starting in
// (from, to] and returns them. A claimed appointment is never reminded twice.
func (r *Repository) ClaimReminders(ctx context.Context, from, to string, limit int) ([]Reminder, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE appointments
		SET reminder_sent_at = now(), updated_at = now()
		WHERE id IN (
			SELECT id FROM appointments
			WHERE status IN ('scheduled', 'rescheduled')
				AND reminder_sent_at IS NULL
				AND appointment_date + appointment_time > $1::timestamp
				AND appointment_date + appointment_time <= $2::timestamp
			ORDER BY appointment_date, appointment_time
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id::text, name, email, appointment_date::text, to_char(appointment_time, 'HH24:MI'), preferred_contact
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var rm Reminder
		if err := rows.Scan(&rm.ID, &rm.Name, &rm.Email, &rm.Date, &rm.Time, &rm.PreferredContact); err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	return out, rows.Err()
}

func (r *Repository) RecordNotification(ctx context.Context, appointmentID, kind, recipient, status, errMsg string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notification_log (appointment_id, kind, recipient, status, error)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`, appointmentID, kind, recipient, status, errMsg)
	return err
}
