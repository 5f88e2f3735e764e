package mail

import (
	"context"
	"log/slog"
	"sync"
)

// StubSender logs instead of sending and keeps the messages for inspection.
type StubSender struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Message
}

func NewStubSender(logger *slog.Logger) *StubSender {
	return &StubSender{logger: logger}
}

func (s *StubSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	if s.logger != nil {
		s.logger.InfoContext(ctx, "stub email", "to", msg.To, "subject", msg.Subject, "attachments", len(msg.Attachments))
	}
	return nil
}

func (s *StubSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}
