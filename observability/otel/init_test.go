package otel

import (
	"context"
	"testing"
)

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "marketd", Environment: "test"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" authorization=Bearer abc , empty=, =skipped,novalue, x-tenant = market ")
	if len(got) != 3 {
		t.Fatalf("unexpected headers %v", got)
	}
	if got["authorization"] != "Bearer abc" || got["x-tenant"] != "market" || got["empty"] != "" {
		t.Fatalf("unexpected headers %v", got)
	}
}
