package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/northpeak/studio/libs/db"
	"github.com/northpeak/studio/services/booking-service/internal/availability"
	"github.com/northpeak/studio/services/booking-service/internal/model"
)

// ActiveSlotIndex is the partial unique index guarding one live appointment per slot.
const ActiveSlotIndex = "appointments_active_slot_uidx"

type AppointmentRepository struct {
	db db.DBTX
}

type IdempotencyRecord struct {
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

type ListFilter struct {
	Status   model.Status
	FromDate string
	Limit    int
}

func NewAppointmentRepository(conn db.DBTX) *AppointmentRepository {
	return &AppointmentRepository{db: conn}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

const appointmentColumns = `
	id::text, name, email, COALESCE(mobile, ''), COALESCE(company, ''),
	appointment_date::text, appointment_time::text, status, preferred_contact, message,
	sequence, cancelled_at, COALESCE(cancellation_reason, ''), created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status, contact, clock string
	err := row.Scan(
		&appt.ID,
		&appt.Name,
		&appt.Email,
		&appt.Mobile,
		&appt.Company,
		&appt.Date,
		&clock,
		&status,
		&contact,
		&appt.Message,
		&appt.Sequence,
		&appt.CancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Time = hhmm(clock)
	appt.Status = model.Status(status)
	appt.PreferredContact = model.ContactMethod(contact)
	return appt, nil
}

// hhmm keeps the "HH:MM" prefix of a postgres time value.
func hhmm(clock string) string {
	if len(clock) >= 5 {
		return clock[:5]
	}
	return clock
}

// ListBookedSlotKeys returns the (date, HH:MM) pairs held by non-cancelled
// appointments on or after fromDate.
func (r *AppointmentRepository) ListBookedSlotKeys(ctx context.Context, fromDate string) ([]availability.BookedSlotKey, error) {
	rows, err := r.db.Query(ctx, `
		SELECT appointment_date::text, appointment_time::text
		FROM appointments
		WHERE status <> 'cancelled'
			AND appointment_date >= $1::date
		ORDER BY appointment_date, appointment_time
	`, fromDate)
	if err != nil {
		return nil, fmt.Errorf("list booked slots: %w", err)
	}
	defer rows.Close()

	var keys []availability.BookedSlotKey
	for rows.Next() {
		var date, clock string
		if err := rows.Scan(&date, &clock); err != nil {
			return nil, err
		}
		keys = append(keys, availability.BookedSlotKey{Date: date, Time: hhmm(clock)})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return keys, nil
}

func (r *AppointmentRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (idempotency_key)
		VALUES ($1)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *AppointmentRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, key, appointmentID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = NULLIF($2, '')::uuid,
			status_code = $3,
			response_payload = $4,
			updated_at = now()
		WHERE idempotency_key = $1
	`, key, appointmentID, statusCode, response)
	return err
}

func (r *AppointmentRepository) Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment, tokenHash string) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(name, email, mobile, company, appointment_date, appointment_time, status, preferred_contact, message, manage_token_hash)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5::date, $6::time, $7, $8, $9, $10)
		RETURNING id::text, sequence, created_at, updated_at
	`, appt.Name, appt.Email, appt.Mobile, appt.Company, appt.Date, appt.Time,
		string(appt.Status), string(appt.PreferredContact), appt.Message, tokenHash,
	).Scan(&appt.ID, &appt.Sequence, &appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	return scanAppointment(r.db.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
}

// GetForUpdate locks the row and also returns the manage token hash.
func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, string, error) {
	var tokenHash string
	row := tx.QueryRow(ctx, `SELECT `+appointmentColumns+`, manage_token_hash
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	appt, err := scanAppointment(rowWithTrailer{row: row, extra: &tokenHash})
	if err != nil {
		return model.Appointment{}, "", err
	}
	return appt, tokenHash, nil
}

// TokenHash returns the manage token hash without locking.
func (r *AppointmentRepository) TokenHash(ctx context.Context, id string) (string, error) {
	var hash string
	err := r.db.QueryRow(ctx, `SELECT manage_token_hash FROM appointments WHERE id = $1`, id).Scan(&hash)
	return hash, err
}

// Reschedule moves the appointment and bumps its sequence.
func (r *AppointmentRepository) Reschedule(ctx context.Context, tx pgx.Tx, id, date, clock string) (model.Appointment, error) {
	return scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_date = $2::date,
			appointment_time = $3::time,
			status = 'rescheduled',
			sequence = sequence + 1,
			reminder_sent_at = NULL,
			updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns, id, date, clock))
}

func (r *AppointmentRepository) Cancel(ctx context.Context, tx pgx.Tx, id, reason string) (model.Appointment, error) {
	return scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = NULLIF($2, ''),
			sequence = sequence + 1,
			updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns, id, reason))
}

func (r *AppointmentRepository) Complete(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	return scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'completed',
			updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns, id))
}

func (r *AppointmentRepository) List(ctx context.Context, f ListFilter) ([]model.Appointment, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.FromDate != "" {
		args = append(args, f.FromDate)
		where = append(where, fmt.Sprintf("appointment_date >= $%d::date", len(args)))
	}
	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY appointment_date DESC, appointment_time DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// IsConflict reports that the slot is already held by another live appointment.
func IsConflict(err error) bool {
	return db.IsUniqueViolationOn(err, ActiveSlotIndex)
}

func IsNotFound(err error) bool {
	return db.IsNotFound(err)
}

func (r *AppointmentRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE idempotency_key = $1
		FOR UPDATE
	`, key).Scan(
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}

// rowWithTrailer scans one extra trailing column after the appointment columns.
type rowWithTrailer struct {
	row   pgx.Row
	extra any
}

func (r rowWithTrailer) Scan(dest ...any) error {
	return r.row.Scan(append(dest, r.extra)...)
}
