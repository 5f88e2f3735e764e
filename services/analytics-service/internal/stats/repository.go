package stats

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/northpeak/studio/libs/db"
)

// Counter names the daily_booking_metrics column an event bumps.
type Counter string

const (
	Booked      Counter = "booked_count"
	Rescheduled Counter = "rescheduled_count"
	Cancelled   Counter = "cancelled_count"
	Completed   Counter = "completed_count"
	Contact     Counter = "contact_count"
)

func (c Counter) valid() bool {
	switch c {
	case Booked, Rescheduled, Cancelled, Completed, Contact:
		return true
	}
	return false
}

type Day struct {
	Day         string `json:"day"`
	Booked      int    `json:"booked"`
	Rescheduled int    `json:"rescheduled"`
	Cancelled   int    `json:"cancelled"`
	Completed   int    `json:"completed"`
	Contact     int    `json:"contact"`
}

func (d *Day) Add(o Day) {
	d.Booked += o.Booked
	d.Rescheduled += o.Rescheduled
	d.Cancelled += o.Cancelled
	d.Completed += o.Completed
	d.Contact += o.Contact
}

type Repository struct {
	db db.DBTX
}

func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// IncrementTx bumps counter for day (YYYY-MM-DD) by one.
func (r *Repository) IncrementTx(ctx context.Context, tx pgx.Tx, day string, counter Counter) error {
	if !counter.valid() {
		return fmt.Errorf("stats: unknown counter %q", counter)
	}
	col := string(counter)
	_, err := tx.Exec(ctx, `
		INSERT INTO daily_booking_metrics (day, `+col+`)
		VALUES ($1::date, 1)
		ON CONFLICT (day)
		DO UPDATE SET `+col+` = daily_booking_metrics.`+col+` + 1, updated_at = now()
	`, day)
	return err
}

// Range returns stored days in [from, to], oldest first. Days without activity are absent.
func (r *Repository) Range(ctx context.Context, from, to string) ([]Day, error) {
	rows, err := r.db.Query(ctx, `
		SELECT day::text, booked_count, rescheduled_count, cancelled_count, completed_count, contact_count
		FROM daily_booking_metrics
		WHERE day BETWEEN $1::date AND $2::date
		ORDER BY day
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Day
	for rows.Next() {
		var d Day
		if err := rows.Scan(&d.Day, &d.Booked, &d.Rescheduled, &d.Cancelled, &d.Completed, &d.Contact); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
