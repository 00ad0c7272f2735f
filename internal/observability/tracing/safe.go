package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

const maxAttributeLength = 256

// ExtractContext resolves the remote span context from carrier headers.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops empty string values and truncates oversized ones so
// spans never carry unbounded payloads.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	safe := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if attr.Value.Type() == attribute.STRING {
			value := attr.Value.AsString()
			if value == "" {
				continue
			}
			if len(value) > maxAttributeLength {
				attr = attribute.String(string(attr.Key), value[:maxAttributeLength])
			}
		}
		safe = append(safe, attr)
	}
	return safe
}

// SafeError returns an error safe to record on a span. Raw SQL text from
// driver errors is stripped so statements never land in trace storage.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if containsSQL(msg) {
		return errors.New("database error")
	}
	if len(msg) > maxAttributeLength {
		return errors.New(msg[:maxAttributeLength])
	}
	return err
}

func containsSQL(msg string) bool {
	upper := strings.ToUpper(msg)
	for _, keyword := range []string{"SELECT ", "INSERT INTO ", "UPDATE ", "DELETE FROM "} {
		if strings.Contains(upper, keyword) {
			return true
		}
	}
	return false
}
