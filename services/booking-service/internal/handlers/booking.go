package handlers

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/northpeak/studio/libs/httpx"
	"github.com/northpeak/studio/libs/outbox"
	"github.com/northpeak/studio/services/booking-service/internal/availability"
	"github.com/northpeak/studio/services/booking-service/internal/metrics"
	"github.com/northpeak/studio/services/booking-service/internal/model"
	"github.com/northpeak/studio/services/booking-service/internal/storage"
)

const (
	EventBooked      = "booking.appointment.booked.v1"
	EventRescheduled = "booking.appointment.rescheduled.v1"
	EventCancelled   = "booking.appointment.cancelled.v1"
	EventCompleted   = "booking.appointment.completed.v1"

	maxNameLen    = 200
	maxMessageLen = 5000
	maxReasonLen  = 1000
)

var (
	errStaleSlot     = &httpError{status: http.StatusConflict, msg: "selected slot is no longer available"}
	errSlotTaken     = &httpError{status: http.StatusConflict, msg: "time slot already booked"}
	errNotFound      = &httpError{status: http.StatusNotFound, msg: "appointment not found"}
	errNotChangeable = &httpError{status: http.StatusConflict, msg: "appointment can no longer be changed"}
)

// Notifier sends the post-commit emails for an appointment change.
type Notifier interface {
	Booked(ctx context.Context, appt model.Appointment, slot availability.Slot, manageToken string)
	Rescheduled(ctx context.Context, appt model.Appointment, slot availability.Slot, previous availability.BookedSlotKey)
	Cancelled(ctx context.Context, appt model.Appointment, slot availability.Slot)
}

type OutcomeObserver interface {
	ObserveOutcome(outcome string)
}

type BookingHandler struct {
	repo          *storage.AppointmentRepository
	outboxRepo    *outbox.Repository
	notifications *storage.NotificationLog
	finder        *availability.Finder
	notifier      Notifier
	observer      OutcomeObserver
	logger        *slog.Logger
}

func NewBookingHandler(repo *storage.AppointmentRepository, outboxRepo *outbox.Repository, notifications *storage.NotificationLog, finder *availability.Finder, notifier Notifier, observer OutcomeObserver, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		repo:          repo,
		outboxRepo:    outboxRepo,
		notifications: notifications,
		finder:        finder,
		notifier:      notifier,
		observer:      observer,
		logger:        logger,
	}
}

type createAppointmentRequest struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	Mobile           string `json:"mobile"`
	Company          string `json:"company"`
	SlotID           string `json:"slot_id"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	PreferredContact string `json:"preferred_contact"`
	Message          string `json:"message"`
}

type createAppointmentResponse struct {
	Appointment appointmentView   `json:"appointment"`
	Slot        availability.Slot `json:"slot"`
	ManageToken string            `json:"manage_token"`
}

type rescheduleRequest struct {
	Token  string `json:"token"`
	SlotID string `json:"slot_id"`
}

type cancelRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

type slotsResponse struct {
	Timezone string              `json:"timezone"`
	Degraded bool                `json:"degraded"`
	Slots    []availability.Slot `json:"slots"`
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res := h.finder.Find(r.Context())
	if date := strings.TrimSpace(r.URL.Query().Get("date")); date != "" {
		if _, err := time.Parse(availability.DateLayout, date); err != nil {
			http.Error(w, "invalid date", http.StatusBadRequest)
			return
		}
		res = res.OnDate(date)
	}

	httpx.WriteJSON(w, http.StatusOK, slotsResponse{
		Timezone: res.Timezone,
		Degraded: res.Degraded,
		Slots:    res.Slots,
	})
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createAppointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	appt, slotID, err := req.toAppointment()
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.StatusCode > 0 {
			h.observe(metrics.OutcomeReplayed)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	slot, ok := h.finder.Find(ctx).ByID(slotID)
	if !ok {
		h.observe(metrics.OutcomeStale)
		if idempotencyKey != "" && h.finalizeIdempotencyError(ctx, tx, idempotencyKey, errStaleSlot) {
			_ = tx.Commit(ctx)
		}
		writeError(w, errStaleSlot)
		return
	}
	appt.Date, appt.Time = slot.Date, slot.Time

	token, tokenHash, err := newManageToken()
	if err != nil {
		http.Error(w, "failed to create manage token", http.StatusInternalServerError)
		return
	}

	if err := h.repo.Create(ctx, tx, &appt, tokenHash); err != nil {
		if storage.IsConflict(err) {
			h.observe(metrics.OutcomeConflict)
			writeError(w, errSlotTaken)
			return
		}
		h.logger.ErrorContext(ctx, "create appointment failed", "err", err)
		http.Error(w, "failed to create appointment", http.StatusInternalServerError)
		return
	}

	if err := h.insertEvent(ctx, tx, EventBooked, appt, nil); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	respBody, err := json.Marshal(createAppointmentResponse{
		Appointment: newAppointmentView(appt, slot),
		Slot:        slot,
		ManageToken: token,
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, idempotencyKey, appt.ID, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if storage.IsConflict(err) {
			writeError(w, errSlotTaken)
			return
		}
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.observe(metrics.OutcomeBooked)
	h.logger.InfoContext(ctx, "appointment booked", "appointment_id", appt.ID, "slot_id", slot.ID)

	h.notifier.Booked(ctx, appt, slot, token)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

// Appointment serves GET /api/v1/public/appointments/{id} and the reschedule and
// cancel actions below it. Every call needs the manage token from the confirmation.
func (h *BookingHandler) Appointment(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		http.Error(w, "appointment id required", http.StatusBadRequest)
		return
	}
	if !httpx.IsUUID(id) {
		writeError(w, errNotFound)
		return
	}

	switch action := r.PathValue("action"); action {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.publicGet(w, r, id)
	case "reschedule", "cancel":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if action == "reschedule" {
			h.publicReschedule(w, r, id)
		} else {
			h.publicCancel(w, r, id)
		}
	default:
		http.NotFound(w, r)
	}
}

func (h *BookingHandler) publicGet(w http.ResponseWriter, r *http.Request, id string) {
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
	hash, err := h.repo.TokenHash(ctx, id)
	if err != nil || !tokenMatches(hash, r.URL.Query().Get("token")) {
		writeError(w, errNotFound)
		return
	}
	h.writeAppointment(w, http.StatusOK, appt)
}

func (h *BookingHandler) publicReschedule(w http.ResponseWriter, r *http.Request, id string) {
	var req rescheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	appt, err := h.reschedule(r.Context(), id, strings.TrimSpace(req.SlotID), func(hash string) bool {
		return tokenMatches(hash, req.Token)
	})
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.writeAppointment(w, http.StatusOK, appt)
}

func (h *BookingHandler) publicCancel(w http.ResponseWriter, r *http.Request, id string) {
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	appt, err := h.cancel(r.Context(), id, req.Reason, "requester", func(hash string) bool {
		return tokenMatches(hash, req.Token)
	})
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.writeAppointment(w, http.StatusOK, appt)
}

// reschedule moves an active appointment to slotID. authorize receives the stored
// manage token hash; admin callers pass nil.
func (h *BookingHandler) reschedule(ctx context.Context, id, slotID string, authorize func(string) bool) (model.Appointment, error) {
	if _, _, err := availability.ParseSlotID(slotID); err != nil {
		return model.Appointment{}, badRequest("invalid slot_id")
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, hash, err := h.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, errNotFound
		}
		return model.Appointment{}, err
	}
	if authorize != nil && !authorize(hash) {
		return model.Appointment{}, errNotFound
	}
	if !current.Status.Active() {
		return model.Appointment{}, errNotChangeable
	}
	previous := availability.BookedSlotKey{Date: current.Date, Time: current.Time}
	if hour, minute := hourMinute(current.Time); availability.SlotID(current.Date, hour, minute) == slotID {
		return model.Appointment{}, badRequest("appointment is already at that slot")
	}

	slot, ok := h.finder.Find(ctx).ByID(slotID)
	if !ok {
		h.observe(metrics.OutcomeStale)
		return model.Appointment{}, errStaleSlot
	}

	appt, err := h.repo.Reschedule(ctx, tx, id, slot.Date, slot.Time)
	if err != nil {
		if storage.IsConflict(err) {
			h.observe(metrics.OutcomeConflict)
			return model.Appointment{}, errSlotTaken
		}
		return model.Appointment{}, err
	}
	if err := h.insertEvent(ctx, tx, EventRescheduled, appt, map[string]any{
		"previous_date": previous.Date,
		"previous_time": previous.Time,
	}); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		if storage.IsConflict(err) {
			return model.Appointment{}, errSlotTaken
		}
		return model.Appointment{}, err
	}
	h.observe(metrics.OutcomeRescheduled)
	h.logger.InfoContext(ctx, "appointment rescheduled", "appointment_id", id, "slot_id", slot.ID)

	h.notifier.Rescheduled(ctx, appt, slot, previous)
	return appt, nil
}

// cancel is idempotent: an already cancelled appointment is returned unchanged.
func (h *BookingHandler) cancel(ctx context.Context, id, reason, actor string, authorize func(string) bool) (model.Appointment, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLen {
		return model.Appointment{}, badRequest("reason too long")
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, hash, err := h.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, errNotFound
		}
		return model.Appointment{}, err
	}
	if authorize != nil && !authorize(hash) {
		return model.Appointment{}, errNotFound
	}
	if current.Status == model.StatusCancelled {
		return current, nil
	}
	if !current.Status.Active() {
		return model.Appointment{}, errNotChangeable
	}

	appt, err := h.repo.Cancel(ctx, tx, id, reason)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := h.insertEvent(ctx, tx, EventCancelled, appt, map[string]any{
		"reason":       reason,
		"cancelled_by": actor,
	}); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	h.observe(metrics.OutcomeCancelled)
	h.logger.InfoContext(ctx, "appointment cancelled", "appointment_id", id, "by", actor)

	slot, err := availability.SlotAt(appt.Date, appt.Time, h.finder.Location())
	if err != nil {
		h.logger.ErrorContext(ctx, "cancelled appointment has invalid slot", "appointment_id", id, "err", err)
		return appt, nil
	}
	h.notifier.Cancelled(ctx, appt, slot)
	return appt, nil
}

func (h *BookingHandler) insertEvent(ctx context.Context, tx pgx.Tx, eventType string, appt model.Appointment, extra map[string]any) error {
	payload := map[string]any{
		"appointment_id":    appt.ID,
		"date":              appt.Date,
		"time":              appt.Time,
		"status":            string(appt.Status),
		"preferred_contact": string(appt.PreferredContact),
		"sequence":          appt.Sequence,
		"occurred_at":       h.finder.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		payload[k] = v
	}
	evt, err := outbox.NewEvent("appointment", appt.ID, eventType, payload)
	if err != nil {
		return err
	}
	if err := h.outboxRepo.Insert(ctx, tx, evt); err != nil {
		h.logger.ErrorContext(ctx, "outbox insert failed", "event_type", eventType, "err", err)
		return err
	}
	return nil
}

func (h *BookingHandler) finalizeIdempotencyError(ctx context.Context, tx pgx.Tx, key string, herr *httpError) bool {
	body, err := json.Marshal(map[string]string{"error": herr.msg})
	if err != nil {
		return false
	}
	if err := h.repo.FinalizeIdempotency(ctx, tx, key, "", herr.status, body); err != nil {
		h.logger.ErrorContext(ctx, "failed to finalize idempotency (error)", "err", err)
		return false
	}
	return true
}

func (h *BookingHandler) observe(outcome string) {
	if h.observer != nil {
		h.observer.ObserveOutcome(outcome)
	}
}

func (h *BookingHandler) writeAppointment(w http.ResponseWriter, status int, appt model.Appointment) {
	slot, err := availability.SlotAt(appt.Date, appt.Time, h.finder.Location())
	if err != nil {
		http.Error(w, "stored appointment time is invalid", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, status, newAppointmentView(appt, slot))
}

func (req createAppointmentRequest) toAppointment() (model.Appointment, string, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if name == "" || email == "" {
		return model.Appointment{}, "", badRequest("name and email are required")
	}
	if len(name) > maxNameLen {
		return model.Appointment{}, "", badRequest("name too long")
	}
	if err := model.ValidateEmail(email); err != nil {
		return model.Appointment{}, "", badRequest("invalid email")
	}
	message := strings.TrimSpace(req.Message)
	if len(message) > maxMessageLen {
		return model.Appointment{}, "", badRequest("message too long")
	}
	contact, err := model.ParseContactMethod(req.PreferredContact)
	if err != nil {
		return model.Appointment{}, "", badRequest("invalid preferred_contact")
	}

	slotID := strings.TrimSpace(req.SlotID)
	if slotID == "" {
		date, clock := strings.TrimSpace(req.Date), strings.TrimSpace(req.Time)
		if date == "" || clock == "" {
			return model.Appointment{}, "", badRequest("slot_id or date and time are required")
		}
		if _, err := time.Parse(availability.DateLayout, date); err != nil {
			return model.Appointment{}, "", badRequest("invalid date")
		}
		t, err := time.Parse(availability.TimeLayout, clock)
		if err != nil {
			return model.Appointment{}, "", badRequest("invalid time")
		}
		slotID = availability.SlotID(date, t.Hour(), t.Minute())
	} else if _, _, err := availability.ParseSlotID(slotID); err != nil {
		return model.Appointment{}, "", badRequest("invalid slot_id")
	}

	return model.Appointment{
		Name:             name,
		Email:            email,
		Mobile:           strings.TrimSpace(req.Mobile),
		Company:          strings.TrimSpace(req.Company),
		Status:           model.StatusScheduled,
		PreferredContact: contact,
		Message:          message,
	}, slotID, nil
}

// newManageToken returns a random URL-safe token and its stored sha256 hash.
func newManageToken() (string, string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func tokenMatches(storedHash, token string) bool {
	token = strings.TrimSpace(token)
	if storedHash == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(hashToken(token))) == 1
}

func hourMinute(clock string) (int, int) {
	t, err := time.Parse(availability.TimeLayout, clock)
	if err != nil {
		return -1, -1
	}
	return t.Hour(), t.Minute()
}

type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &httpError{status: http.StatusBadRequest, msg: msg}
}

func writeError(w http.ResponseWriter, err error) {
	var herr *httpError
	if errors.As(err, &herr) {
		http.Error(w, herr.msg, herr.status)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// fail logs unexpected errors before writing them.
func (h *BookingHandler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	var herr *httpError
	if !errors.As(err, &herr) {
		h.logger.ErrorContext(ctx, "appointment change failed", "err", err)
	}
	writeError(w, err)
}
