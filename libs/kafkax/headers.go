// Package kafkax holds the small pieces shared by Kafka producers: header
// helpers, trace propagation and a broker readiness check.
package kafkax

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// HeaderValue returns the first value stored under key.
func HeaderValue(headers []kafka.Header, key string) string {
	if i := headerIndex(headers, key); i >= 0 {
		return string(headers[i].Value)
	}
	return ""
}

// SetHeader replaces key in place or appends it.
func SetHeader(headers []kafka.Header, key, value string) []kafka.Header {
	if i := headerIndex(headers, key); i >= 0 {
		headers[i].Value = []byte(value)
		return headers
	}
	return append(headers, kafka.Header{Key: key, Value: []byte(value)})
}

func headerIndex(headers []kafka.Header, key string) int {
	for i := range headers {
		if headers[i].Key == key {
			return i
		}
	}
	return -1
}

// InjectTraceHeaders writes the W3C trace context of ctx into headers.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	c := headerCarrier(headers)
	otel.GetTextMapPropagator().Inject(ctx, &c)
	return c
}

type headerCarrier []kafka.Header

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func (c *headerCarrier) Get(key string) string { return HeaderValue(*c, key) }

func (c *headerCarrier) Set(key, value string) { *c = SetHeader(*c, key, value) }

func (c *headerCarrier) Keys() []string {
	keys := make([]string, len(*c))
	for i, h := range *c {
		keys[i] = h.Key
	}
	return keys
}

// SplitBrokers parses a comma separated broker list. Empty input yields nil.
func SplitBrokers(raw string) []string {
	var out []string
	for _, b := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' }) {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
