package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/northpeak/studio/libs/httpx"
	"github.com/northpeak/studio/services/analytics-service/internal/stats"
)

const (
	defaultDays = 30
	maxDays     = 366
)

type StatsReader interface {
	Range(ctx context.Context, from, to string) ([]stats.Day, error)
}

type Handler struct {
	stats  StatsReader
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

func New(reader StatsReader, loc *time.Location, logger *slog.Logger) *Handler {
	return &Handler{stats: reader, loc: loc, now: time.Now, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/admin/stats", h.Stats)
}

type statsResponse struct {
	From     string      `json:"from"`
	To       string      `json:"to"`
	Timezone string      `json:"timezone"`
	Days     []stats.Day `json:"days"`
	Totals   stats.Day   `json:"totals"`
}

// Stats returns one entry per org-local day ending today, zero-filled, plus totals.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	days := defaultDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxDays {
			http.Error(w, "days must be between 1 and 366", http.StatusBadRequest)
			return
		}
		days = n
	}

	today := h.now().In(h.loc)
	end := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, h.loc)
	start := end.AddDate(0, 0, -(days - 1))
	from, to := start.Format(time.DateOnly), end.Format(time.DateOnly)

	stored, err := h.stats.Range(r.Context(), from, to)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "stats query failed", "err", err)
		http.Error(w, "failed to load stats", http.StatusInternalServerError)
		return
	}
	byDay := make(map[string]stats.Day, len(stored))
	for _, d := range stored {
		byDay[d.Day] = d
	}

	resp := statsResponse{From: from, To: to, Timezone: h.loc.String(), Days: make([]stats.Day, 0, days)}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		day, ok := byDay[key]
		if !ok {
			day = stats.Day{Day: key}
		}
		resp.Days = append(resp.Days, day)
		resp.Totals.Add(day)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
