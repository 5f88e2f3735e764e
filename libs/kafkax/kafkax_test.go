package kafkax

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka:9092, ,kafka-2:9092 ")
	if len(got) != 2 || got[0] != "kafka:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
	if SplitBrokers("") != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestExtractEventMetaFallsBack(t *testing.T) {
	meta := ExtractEventMeta(kafka.Message{Topic: "booking.appointment.booked.v1", Key: []byte("appt-1")})
	if meta.EventID != "appt-1" || meta.EventType != "booking.appointment.booked.v1" {
		t.Fatalf("unexpected meta %+v", meta)
	}

	meta = ExtractEventMeta(kafka.Message{
		Topic:   "t",
		Key:     []byte("k"),
		Headers: []kafka.Header{{Key: "event_id", Value: []byte("e-1")}, {Key: "event_type", Value: []byte("x.v1")}},
	})
	if meta.EventID != "e-1" || meta.EventType != "x.v1" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestEventMetaHeaders(t *testing.T) {
	created := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	in := EventMeta{EventID: "e-2", EventType: "booking.appointment.booked.v1", AggregateType: "appointment", CreatedAt: created}

	headers := in.Headers()
	if len(headers) != 4 {
		t.Fatalf("expected 4 headers, got %v", headers)
	}
	out := ExtractEventMeta(kafka.Message{Topic: "ignored", Headers: headers})
	if out.EventID != in.EventID || out.EventType != in.EventType || out.AggregateType != "appointment" || !out.CreatedAt.Equal(created) {
		t.Fatalf("unexpected meta %+v", out)
	}

	if got := len(EventMeta{EventID: "e-3"}.Headers()); got != 1 {
		t.Fatalf("empty fields should be omitted, got %d headers", got)
	}
}

func TestReadyCheckWithoutBrokers(t *testing.T) {
	if err := ReadyCheck(" , ")(context.Background()); !errors.Is(err, ErrNoBrokers) {
		t.Fatalf("expected ErrNoBrokers, got %v", err)
	}
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	headers := InjectTraceHeaders(ctx, []kafka.Header{{Key: "event_id", Value: []byte("e-1")}})
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatalf("traceparent not injected: %v", headers)
	}

	extracted := ExtractTraceContext(context.Background(), kafka.Message{Headers: headers})
	got := trace.SpanContextFromContext(extracted)
	if got.TraceID() != span.SpanContext().TraceID() {
		t.Fatalf("trace id mismatch: %s vs %s", got.TraceID(), span.SpanContext().TraceID())
	}
}
