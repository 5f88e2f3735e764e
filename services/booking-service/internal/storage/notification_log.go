package storage

import (
	"context"

	"github.com/northpeak/studio/libs/db"
)

type NotificationEntry struct {
	AppointmentID string
	Kind          string
	Recipient     string
	Status        string
	Error         string
}

type NotificationLog struct {
	db db.DBTX
}

func NewNotificationLog(conn db.DBTX) *NotificationLog {
	return &NotificationLog{db: conn}
}

func (l *NotificationLog) Record(ctx context.Context, n NotificationEntry) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO notification_log (appointment_id, kind, recipient, status, error)
		VALUES (NULLIF($1, '')::uuid, $2, $3, $4, NULLIF($5, ''))
	`, n.AppointmentID, n.Kind, n.Recipient, n.Status, n.Error)
	return err
}

type NotificationView struct {
	Kind      string `json:"kind"`
	Recipient string `json:"recipient"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
}

func (l *NotificationLog) ListForAppointment(ctx context.Context, appointmentID string) ([]NotificationView, error) {
	rows, err := l.db.Query(ctx, `
		SELECT kind, recipient, status, COALESCE(error, ''), to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"')
		FROM notification_log
		WHERE appointment_id = $1
		ORDER BY id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []NotificationView{}
	for rows.Next() {
		var v NotificationView
		if err := rows.Scan(&v.Kind, &v.Recipient, &v.Status, &v.Error, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
