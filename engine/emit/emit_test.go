package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNullEmitterDiscards(t *testing.T) {
	e := NewNullEmitter()
	e.Emit(Event{Msg: "x"})
	if err := e.EmitBatch(context.Background(), []Event{{Msg: "y"}}); err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestLogEmitterTextMode(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, false)
	e.Emit(Event{SessionID: "s1", StepID: "step1", Msg: "step_dispatch"})
	out := buf.String()
	if !strings.Contains(out, "[step_dispatch]") || !strings.Contains(out, "session=s1") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestLogEmitterJSONMode(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, true)
	e.Emit(Event{SessionID: "s1", Msg: "step_dispatch", Meta: map[string]interface{}{"x": 1.0}})

	var decoded Event
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SessionID != "s1" || decoded.Msg != "step_dispatch" {
		t.Errorf("decoded = %#v", decoded)
	}
}

func TestLogEmitterBatch(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, false)
	err := e.EmitBatch(context.Background(), []Event{{Msg: "a"}, {Msg: "b"}})
	if err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
	if strings.Count(buf.String(), "\n") != 2 {
		t.Errorf("expected 2 lines, got %q", buf.String())
	}
}

func TestBufferedEmitterHistoryAndClear(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{SessionID: "s1", Msg: "a"})
	b.Emit(Event{SessionID: "s1", Msg: "b"})
	b.Emit(Event{SessionID: "s2", Msg: "c"})

	hist := b.History("s1")
	if len(hist) != 2 {
		t.Fatalf("len(hist) = %d", len(hist))
	}
	if len(b.History("s2")) != 1 {
		t.Errorf("expected 1 event for s2")
	}

	b.Clear("s1")
	if len(b.History("s1")) != 0 {
		t.Errorf("expected cleared history")
	}
}

func TestBufferedEmitterHistoryIsACopy(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{SessionID: "s1", Msg: "a"})
	hist := b.History("s1")
	hist[0].Msg = "mutated"
	if b.History("s1")[0].Msg != "a" {
		t.Errorf("History should return an independent copy")
	}
}
