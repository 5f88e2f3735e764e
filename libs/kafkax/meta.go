package kafkax

import (
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
	HeaderCreatedAt     = "created_at"
)

// EventMeta travels in message headers next to the JSON payload.
type EventMeta struct {
	EventID       string
	EventType     string
	AggregateType string
	CreatedAt     time.Time
}

// Headers renders m as Kafka headers, omitting empty fields.
func (m EventMeta) Headers() []kafka.Header {
	out := make([]kafka.Header, 0, 4)
	add := func(k, v string) {
		if v != "" {
			out = append(out, kafka.Header{Key: k, Value: []byte(v)})
		}
	}
	add(HeaderEventID, m.EventID)
	add(HeaderEventType, m.EventType)
	add(HeaderAggregateType, m.AggregateType)
	if !m.CreatedAt.IsZero() {
		add(HeaderCreatedAt, m.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	return out
}

// ExtractEventMeta reads the headers written by Headers. Messages from older
// producers fall back to the key as id and the topic as type.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	m := EventMeta{
		EventID:       HeaderValue(msg.Headers, HeaderEventID),
		EventType:     HeaderValue(msg.Headers, HeaderEventType),
		AggregateType: HeaderValue(msg.Headers, HeaderAggregateType),
	}
	if m.EventID == "" {
		m.EventID = string(msg.Key)
	}
	if m.EventType == "" {
		m.EventType = msg.Topic
	}
	if ts, err := time.Parse(time.RFC3339Nano, HeaderValue(msg.Headers, HeaderCreatedAt)); err == nil {
		m.CreatedAt = ts
	} else {
		m.CreatedAt = msg.Time
	}
	return m
}

// HeaderValue returns the last value set for key.
func HeaderValue(headers []kafka.Header, key string) string {
	for i := len(headers) - 1; i >= 0; i-- {
		if headers[i].Key == key {
			return string(headers[i].Value)
		}
	}
	return ""
}

// SplitBrokers parses a comma-separated KAFKA_BROKERS value.
func SplitBrokers(raw string) []string {
	var brokers []string
	for b := range strings.SplitSeq(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
