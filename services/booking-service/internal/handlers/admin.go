package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/northpeak/studio/libs/httpx"
	"github.com/northpeak/studio/services/booking-service/internal/availability"
	"github.com/northpeak/studio/services/booking-service/internal/metrics"
	"github.com/northpeak/studio/services/booking-service/internal/model"
	"github.com/northpeak/studio/services/booking-service/internal/storage"
)

type adminUpdateRequest struct {
	Status string `json:"status"`
	SlotID string `json:"slot_id"`
	Reason string `json:"reason"`
}

type adminAppointmentResponse struct {
	appointmentView
	Notifications []storage.NotificationView `json:"notifications"`
}

// AdminList serves GET /api/v1/admin/appointments?status=&from=&limit=.
func (h *BookingHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	var filter storage.ListFilter
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := model.ParseStatus(raw)
		if err != nil {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		if _, err := time.Parse(availability.DateLayout, raw); err != nil {
			http.Error(w, "invalid from date", http.StatusBadRequest)
			return
		}
		filter.FromDate = raw
	}
	filter.Limit = 50
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			filter.Limit = n
		}
	}

	appts, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list appointments failed", "err", err)
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	items := make([]appointmentView, 0, len(appts))
	for _, appt := range appts {
		slot, err := availability.SlotAt(appt.Date, appt.Time, h.finder.Location())
		if err != nil {
			h.logger.WarnContext(r.Context(), "skipping appointment with invalid slot", "appointment_id", appt.ID, "err", err)
			continue
		}
		items = append(items, newAppointmentView(appt, slot))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

// AdminAppointment serves GET and PATCH on /api/v1/admin/appointments/{id}.
func (h *BookingHandler) AdminAppointment(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		http.Error(w, "appointment id required", http.StatusBadRequest)
		return
	}
	if !httpx.IsUUID(id) {
		writeError(w, errNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.adminGet(w, r, id)
	case http.MethodPatch:
		h.adminUpdate(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *BookingHandler) adminGet(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	appt, err := h.repo.Get(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			writeError(w, errNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}
	slot, err := availability.SlotAt(appt.Date, appt.Time, h.finder.Location())
	if err != nil {
		http.Error(w, "stored appointment time is invalid", http.StatusInternalServerError)
		return
	}
	notifications := []storage.NotificationView{}
	if h.notifications != nil {
		notifications, err = h.notifications.ListForAppointment(ctx, id)
		if err != nil {
			h.logger.WarnContext(ctx, "notification log unavailable", "appointment_id", id, "err", err)
			notifications = []storage.NotificationView{}
		}
	}
	httpx.WriteJSON(w, http.StatusOK, adminAppointmentResponse{
		appointmentView: newAppointmentView(appt, slot),
		Notifications:   notifications,
	})
}

func (h *BookingHandler) adminUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var req adminUpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Status = strings.TrimSpace(req.Status)
	req.SlotID = strings.TrimSpace(req.SlotID)
	if (req.Status == "") == (req.SlotID == "") {
		http.Error(w, "exactly one of status or slot_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	actor := "admin:" + strings.TrimSpace(r.Header.Get("X-User-Id"))

	var (
		appt model.Appointment
		err  error
	)
	if req.SlotID != "" {
		appt, err = h.reschedule(ctx, id, req.SlotID, nil)
	} else {
		status, perr := model.ParseStatus(req.Status)
		switch {
		case perr != nil:
			err = badRequest("invalid status")
		case status == model.StatusCancelled:
			appt, err = h.cancel(ctx, id, req.Reason, actor, nil)
		case status == model.StatusCompleted:
			appt, err = h.complete(ctx, id, actor)
		default:
			err = badRequest("status must be completed or cancelled")
		}
	}
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.writeAppointment(w, http.StatusOK, appt)
}

// complete marks an active appointment as held. Completing twice is a no-op.
func (h *BookingHandler) complete(ctx context.Context, id, actor string) (model.Appointment, error) {
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, _, err := h.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, errNotFound
		}
		return model.Appointment{}, err
	}
	if current.Status == model.StatusCompleted {
		return current, nil
	}
	if !current.Status.Active() {
		return model.Appointment{}, errNotChangeable
	}

	appt, err := h.repo.Complete(ctx, tx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := h.insertEvent(ctx, tx, EventCompleted, appt, map[string]any{"completed_by": actor}); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	h.observe(metrics.OutcomeCompleted)
	h.logger.InfoContext(ctx, "appointment completed", "appointment_id", id, "by", actor)
	return appt, nil
}
