package telemetry

import (
	"context"
	"testing"
)

func TestInitTracingWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "repodeploy-api", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingRequiresServiceName(t *testing.T) {
	if _, err := InitTracing(context.Background(), "", "http://collector:4318"); err == nil {
		t.Fatal("expected error for empty service name")
	}
}

func TestExporterOptions(t *testing.T) {
	cases := map[string]int{
		"http://collector:4318":           2,
		"https://collector:4318/v1/traces": 2,
		"collector:4318":                  2,
	}
	for endpoint, want := range cases {
		opts, err := exporterOptions(endpoint)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", endpoint, err)
		}
		if len(opts) != want {
			t.Fatalf("%s: expected %d options, got %d", endpoint, want, len(opts))
		}
	}
	if _, err := exporterOptions("http://"); err == nil {
		t.Fatal("expected error for endpoint without host")
	}
}
