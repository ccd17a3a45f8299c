package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestJSONLoggerIncludesFieldsAndContextIDs(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf}).With(String("component", "radar"))

	ctx, reqID := EnsureRequestID(context.Background())
	ctx, cycleID := WithCycleID(ctx)
	log.Debug(ctx, "cycle complete", Int("visible", 3), Err(errors.New("boom")))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["component"] != "radar" {
		t.Fatalf("component = %v, want radar", entry["component"])
	}
	if entry["visible"] != float64(3) {
		t.Fatalf("visible = %v, want 3", entry["visible"])
	}
	if entry["error"] != "boom" {
		t.Fatalf("error = %v, want boom", entry["error"])
	}
	if entry["request_id"] != reqID || entry["cycle_id"] != cycleID {
		t.Fatalf("ids = %v/%v, want %s/%s", entry["request_id"], entry["cycle_id"], reqID, cycleID)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	log.Warn(context.Background(), "shown")
	if buf.Len() == 0 {
		t.Fatal("warn should be emitted at warn level")
	}
}

func TestEnsureRequestIDIsStable(t *testing.T) {
	ctx, first := EnsureRequestID(context.Background())
	_, second := EnsureRequestID(ctx)
	if first == "" || first != second {
		t.Fatalf("request ids = %q/%q, want stable non-empty id", first, second)
	}
	if OrNoop(nil) == nil {
		t.Fatal("OrNoop(nil) returned nil")
	}
}

func TestContextWithRequestIDIsKept(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "abc123")
	if _, id := EnsureRequestID(ctx); id != "abc123" {
		t.Fatalf("EnsureRequestID replaced inbound id: %q", id)
	}
	if got := CycleIDFromContext(ctx); got != "" {
		t.Fatalf("cycle id = %q, want empty", got)
	}
}
