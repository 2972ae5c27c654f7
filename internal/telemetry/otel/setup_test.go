package otel

import (
	"context"
	"testing"
)

func TestNewProviders_EmptyEndpointIsNoop(t *testing.T) {
	p, err := NewProviders(context.Background(), "", "bcp-test", false)
	if err != nil {
		t.Fatal(err)
	}
	if p.TracerProvider == nil || p.MeterProvider == nil || p.LoggerProvider == nil {
		t.Fatal("no-op providers missing")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("no-op shutdown: %v", err)
	}
}

func TestNewProviders_BadEndpoint(t *testing.T) {
	if _, err := NewProviders(context.Background(), "://", "bcp-test", false); err == nil {
		t.Error("malformed endpoint accepted")
	}
}

func TestNewEventEmitter_NilProviderIsNoop(t *testing.T) {
	emitter := NewEventEmitter(nil)
	if err := emitter.Emit(context.Background(), nil); err != nil {
		t.Errorf("noop emit: %v", err)
	}
}
