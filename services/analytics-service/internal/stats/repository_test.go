package stats

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementUpsertsColumn(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO daily_booking_metrics \(day, cancelled_count\).*cancelled_count = daily_booking_metrics.cancelled_count \+ 1`).
		WithArgs("2024-03-04").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewRepository(mock)
	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, repo.IncrementTx(context.Background(), tx, "2024-03-04", Cancelled))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementRejectsUnknownCounter(t *testing.T) {
	err := NewRepository(nil).IncrementTx(context.Background(), nil, "2024-03-04", Counter("id = 1; --"))
	assert.Error(t, err)
}

func TestRange(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM daily_booking_metrics`).
		WithArgs("2024-03-01", "2024-03-07").
		WillReturnRows(pgxmock.NewRows([]string{"day", "booked_count", "rescheduled_count", "cancelled_count", "completed_count", "contact_count"}).
			AddRow("2024-03-02", 3, 1, 0, 2, 1))

	days, err := NewRepository(mock).Range(context.Background(), "2024-03-01", "2024-03-07")
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, Day{Day: "2024-03-02", Booked: 3, Rescheduled: 1, Completed: 2, Contact: 1}, days[0])
}
