package audit

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for _, typ := range []string{"login_success", "login_failure", "lockout"} {
		d.Emit(context.Background(), Event{Type: typ})
	}
	d.Close()

	for _, want := range []string{"login_success", "login_failure", "lockout"} {
		select {
		case got := <-sink.Events():
			if got.Type != want {
				t.Fatalf("got %s, want %s", got.Type, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	if d.Emitted() != 3 {
		t.Fatalf("Emitted = %d", d.Emitted())
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, nil)
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{Type: "ignored"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherEmitAfterCloseIsIgnored(t *testing.T) {
	sink := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	d.Close()
	d.Emit(context.Background(), Event{Type: "late"})

	select {
	case e := <-sink.Events():
		t.Fatalf("unexpected event after close: %+v", e)
	default:
	}
}

func TestZapSinkWritesFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), Event{
		Type:     "otp_sent",
		TenantID: "acme",
		UserID:   "pub-1",
		Success:  true,
	})

	entries := logs.FilterMessage("otp_sent").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["tenant_id"] != "acme" || ctx["user_id"] != "pub-1" || ctx["success"] != true {
		t.Fatalf("unexpected fields: %v", ctx)
	}
	if entries[0].LoggerName != "audit" {
		t.Fatalf("logger name = %q", entries[0].LoggerName)
	}
}
