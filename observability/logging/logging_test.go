package logging

import (
	"log/slog"
	"testing"
)

func TestRedactMasksSensitiveKeys(t *testing.T) {
	cases := []struct {
		key    string
		masked bool
	}{
		{"token", true},
		{"Authorization", true},
		{" api_token ", true},
		{"address", false},
		{"module", false},
		{"error", false},
	}
	for _, tc := range cases {
		attr := Redact(slog.String(tc.key, "value"))
		got := attr.Value.String()
		if tc.masked && got != RedactedValue {
			t.Fatalf("key %q should be redacted, got %q", tc.key, got)
		}
		if !tc.masked && got != "value" {
			t.Fatalf("key %q should pass through, got %q", tc.key, got)
		}
	}
}
