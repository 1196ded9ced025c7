package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key=secret , team=lending ,malformed, =nokey ")
	if len(headers) != 2 {
		t.Fatalf("expected 2 headers, got %d: %v", len(headers), headers)
	}
	if headers["api-key"] != "secret" {
		t.Fatalf("api-key = %q", headers["api-key"])
	}
	if headers["team"] != "lending" {
		t.Fatalf("team = %q", headers["team"])
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatal("missing service name should error")
	}
}
