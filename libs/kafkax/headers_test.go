package kafkax

import (
	"context"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestInjectTraceHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, []kafka.Header{{Key: "event_id", Value: []byte("e1")}})
	tp := HeaderValue(headers, "traceparent")
	if !strings.Contains(tp, traceID.String()) {
		t.Fatalf("expected traceparent carrying %s, got %q", traceID, tp)
	}
	if HeaderValue(headers, "event_id") != "e1" {
		t.Fatalf("existing headers must be kept: %v", headers)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" a:9092, ,b:9092 ")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
	if SplitBrokers("") != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestSetHeaderReplaces(t *testing.T) {
	h := SetHeader(nil, "event_type", "a")
	h = SetHeader(h, "event_type", "b")
	if len(h) != 1 || HeaderValue(h, "event_type") != "b" {
		t.Fatalf("expected single replaced header, got %v", h)
	}
}
