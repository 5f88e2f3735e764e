package model

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusRescheduled Status = "rescheduled"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
)

func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusScheduled, StatusRescheduled, StatusCompleted, StatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

// Active reports whether the appointment still occupies its slot.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusRescheduled
}

type ContactMethod string

const (
	ContactVideo    ContactMethod = "video"
	ContactPhone    ContactMethod = "phone"
	ContactEmail    ContactMethod = "email"
	ContactInPerson ContactMethod = "in_person"
)

func ParseContactMethod(raw string) (ContactMethod, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ContactVideo, nil
	}
	switch c := ContactMethod(raw); c {
	case ContactVideo, ContactPhone, ContactEmail, ContactInPerson:
		return c, nil
	default:
		return "", fmt.Errorf("unknown contact method %q", raw)
	}
}

func (c ContactMethod) Label() string {
	switch c {
	case ContactPhone:
		return "Phone call"
	case ContactEmail:
		return "Email"
	case ContactInPerson:
		return "In person"
	default:
		return "Video call"
	}
}

type Appointment struct {
	ID               string
	Name             string
	Email            string
	Mobile           string
	Company          string
	Date             string // YYYY-MM-DD
	Time             string // HH:MM
	Status           Status
	PreferredContact ContactMethod
	Message          string
	Sequence         int
	CancelledAt      *time.Time
	CancelReason     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ValidateEmail accepts a bare address.
func ValidateEmail(raw string) error {
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return fmt.Errorf("invalid email %q", raw)
	}
	return nil
}
