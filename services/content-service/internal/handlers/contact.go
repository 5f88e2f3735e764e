package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/northpeak/studio/libs/httpx"
	libmail "github.com/northpeak/studio/libs/mail"
	"github.com/northpeak/studio/libs/outbox"
	"github.com/northpeak/studio/services/content-service/internal/storage"
)

const EventContactReceived = "content.contact.received.v1"

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Message string `json:"message"`
}

func (req *contactRequest) normalize() string {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Company = strings.TrimSpace(req.Company)
	req.Message = strings.TrimSpace(req.Message)
	switch {
	case req.Name == "" || len(req.Name) > 200:
		return "name is required (max 200 characters)"
	case req.Email == "":
		return "email is required"
	case len(req.Company) > 200:
		return "company is too long"
	case req.Message == "" || len(req.Message) > 5000:
		return "message is required (max 5000 characters)"
	}
	if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email {
		return "invalid email"
	}
	return ""
}

// Contact stores the message with its outbox event, then emails the operator.
func (h *Handler) Contact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req contactRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if msg := req.normalize(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	msg, err := h.repo.CreateContactMessage(ctx, tx, storage.ContactMessage{
		Name:    req.Name,
		Email:   req.Email,
		Company: req.Company,
		Message: req.Message,
	})
	if err != nil {
		http.Error(w, "failed to store message", http.StatusInternalServerError)
		return
	}

	evt, err := outbox.NewEvent("contact_message", msg.ID, EventContactReceived, map[string]any{
		"contact_id":  msg.ID,
		"company":     msg.Company,
		"occurred_at": msg.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build event", http.StatusInternalServerError)
		return
	}
	if err := h.outbox.Insert(ctx, tx, evt); err != nil {
		http.Error(w, "failed to write outbox", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}

	h.notifyOperator(context.WithoutCancel(ctx), msg)
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"id": msg.ID, "status": "received"})
}

// notifyOperator never fails the request; the message is already stored.
func (h *Handler) notifyOperator(ctx context.Context, msg storage.ContactMessage) {
	if h.sender == nil || h.operator == "" {
		return
	}
	company := msg.Company
	if company == "" {
		company = "-"
	}
	err := h.sender.Send(ctx, libmail.Message{
		To:      h.operator,
		ReplyTo: msg.Email,
		Subject: fmt.Sprintf("New enquiry from %s", msg.Name),
		Text: fmt.Sprintf("Name: %s\nEmail: %s\nCompany: %s\n\n%s\n",
			msg.Name, msg.Email, company, msg.Message),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "contact notification failed", "contact_id", msg.ID, "err", err)
	}
}
