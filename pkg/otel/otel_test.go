package otel

import (
	"bytes"
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_InstallsGlobalProvider(t *testing.T) {
	t.Setenv("STATEHUB_VERSION", "test")

	shutdown, err := Init(t.Context(), Config{ServiceName: "statehub-test"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(context.Background(), "probe")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Fatal("expected a recording provider to produce a valid span context")
	}
}

func TestNewProvider_StdoutWriter(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewProvider(t.Context(), Config{UseStdout: true, Writer: &buf, Sync: true})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}

	_, span := tp.Tracer("test").Start(context.Background(), "Store.Dispatch")
	span.End()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if !bytes.Contains(buf.Bytes(), []byte(`"Name": "Store.Dispatch"`)) {
		t.Fatalf("span not exported: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("statehub")) {
		t.Fatalf("service name missing from resource: %s", buf.String())
	}
}
