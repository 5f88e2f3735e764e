package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeak/studio/services/analytics-service/internal/stats"
)

type fakeStats struct {
	from, to string
	days     []stats.Day
	err      error
}

func (f *fakeStats) Range(_ context.Context, from, to string) ([]stats.Day, error) {
	f.from, f.to = from, to
	return f.days, f.err
}

func newHandler(reader StatsReader) *Handler {
	h := New(reader, time.UTC, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC) }
	return h
}

func TestStatsZeroFillsAndTotals(t *testing.T) {
	reader := &fakeStats{days: []stats.Day{
		{Day: "2024-03-05", Booked: 2, Contact: 1},
		{Day: "2024-03-09", Booked: 1, Cancelled: 1, Completed: 3},
	}}
	mux := http.NewServeMux()
	newHandler(reader).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats?days=7", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "2024-03-04", reader.from)
	assert.Equal(t, "2024-03-10", reader.to)
	require.Len(t, got.Days, 7)
	assert.Equal(t, "2024-03-04", got.Days[0].Day)
	assert.Equal(t, 2, got.Days[1].Booked)
	assert.Equal(t, "2024-03-10", got.Days[6].Day)
	assert.Equal(t, stats.Day{Booked: 3, Cancelled: 1, Completed: 3, Contact: 1}, got.Totals)
	assert.Equal(t, "UTC", got.Timezone)
}

func TestStatsDefaultsToThirtyDays(t *testing.T) {
	reader := &fakeStats{}
	rec := httptest.NewRecorder()
	newHandler(reader).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-02-10", reader.from)
}

func TestStatsValidation(t *testing.T) {
	for _, q := range []string{"0", "367", "abc"} {
		rec := httptest.NewRecorder()
		newHandler(&fakeStats{}).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats?days="+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestStatsStoreError(t *testing.T) {
	rec := httptest.NewRecorder()
	newHandler(&fakeStats{err: errors.New("db down")}).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
