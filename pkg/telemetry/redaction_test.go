package telemetry

import (
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestRedactAttributesHonorsStrategies(t *testing.T) {
	redactions := []Redaction{
		{Attribute: "call.arg.email", Strategy: "mask"},
		{Attribute: "call.arg.customer", Strategy: "hash"},
		{Attribute: "call.arg.note"},
	}

	attrs := []attribute.KeyValue{
		attribute.String("call.arg.token", "Bearer secret"),
		attribute.String("call.arg.email", "person@example.com"),
		attribute.String("call.arg.customer", "cust-42"),
		attribute.String("call.arg.note", "leave at door"),
		attribute.String("method", "PlaceOrder"),
	}

	filtered := RedactAttributes(redactions, attrs)

	if len(filtered) != 3 {
		t.Fatalf("expected 3 attributes after redaction, got %d", len(filtered))
	}

	for _, kv := range filtered {
		switch kv.Key {
		case "call.arg.email":
			if got := kv.Value.AsString(); got != "pers***.com" {
				t.Fatalf("unexpected masked email %q", got)
			}
		case "call.arg.customer":
			if got := kv.Value.AsString(); !strings.HasPrefix(got, "[REDACTED:hash:") || strings.Contains(got, "cust-42") {
				t.Fatalf("unexpected hashed value %q", got)
			}
		case "method":
			if kv.Value.AsString() != "PlaceOrder" {
				t.Fatalf("unexpected method value %q", kv.Value.AsString())
			}
		default:
			t.Fatalf("unexpected attribute %q present after redaction", kv.Key)
		}
	}
}

func TestRedactAttributesHashIsDeterministic(t *testing.T) {
	redactions := []Redaction{{Attribute: "k", Strategy: "hash"}}
	a := RedactAttributes(redactions, []attribute.KeyValue{attribute.String("k", "value")})
	b := RedactAttributes(redactions, []attribute.KeyValue{attribute.String("k", "value")})
	if a[0].Value.AsString() != b[0].Value.AsString() {
		t.Fatalf("hash redaction is not deterministic: %q vs %q", a[0].Value.AsString(), b[0].Value.AsString())
	}
}

func TestRedactAttributesEmpty(t *testing.T) {
	if got := RedactAttributes(nil, nil); len(got) != 0 {
		t.Fatalf("expected no attributes, got %v", got)
	}
}
