package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes events to a writer, either as human-readable text or
// as JSON lines.
type LogEmitter struct {
	w    io.Writer
	json bool
}

// NewLogEmitter returns a LogEmitter writing to w (os.Stdout if nil) in
// text or JSON-lines mode.
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &LogEmitter{w: w, json: jsonMode}
}

// Emit writes one event.
func (l *LogEmitter) Emit(event Event) {
	if l.json {
		l.writeJSON(event)
		return
	}
	l.writeText(event)
}

func (l *LogEmitter) writeJSON(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		_, _ = fmt.Fprintf(l.w, `{"error":"marshal event: %v"}`+"\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.w, "%s\n", data)
}

func (l *LogEmitter) writeText(event Event) {
	_, _ = fmt.Fprintf(l.w, "[%s] session=%s step=%s", event.Msg, event.SessionID, event.StepID)
	if len(event.Meta) > 0 {
		if meta, err := json.Marshal(event.Meta); err == nil {
			_, _ = fmt.Fprintf(l.w, " meta=%s", meta)
		}
	}
	_, _ = fmt.Fprint(l.w, "\n")
}

// EmitBatch writes every event in order.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		l.Emit(e)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously.
func (l *LogEmitter) Flush(context.Context) error { return nil }
