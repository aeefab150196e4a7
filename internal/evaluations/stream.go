package evaluations

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"designscore-backend/internal/shared/telemetry"
)

// Progress event kinds as they appear on the wire.
const (
	EventStatus   = "status"
	EventChunk    = "chunk"
	EventComplete = "complete"
	EventError    = "error"
)

// Emitter serializes progress events for one evaluation onto an SSE
// connection: a named event line, a JSON data line, a blank line.
// Events go out in call order; once a terminal complete or error event
// has been written every later emit is a no-op. Write failures are
// remembered but never propagate; the pipeline keeps running for the
// poll endpoint even when the client is gone.
type Emitter struct {
	mu       sync.Mutex
	w        io.Writer
	flush    func()
	terminal bool
	dead     bool
}

// NewEmitter prepares the response for event streaming and returns the
// emitter. Returns an error when the writer cannot flush.
func NewEmitter(w http.ResponseWriter) (*Emitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	flusher.Flush()
	return &Emitter{w: w, flush: flusher.Flush}, nil
}

// NewWriterEmitter wraps a plain writer, for tests and the CLI.
func NewWriterEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w, flush: func() {}}
}

// statusPayload is the data line of a status event. EvaluationID is
// set on the first event so the client can fall back to polling.
type statusPayload struct {
	Phase        string `json:"phase"`
	Message      string `json:"message"`
	EvaluationID string `json:"evaluationId,omitempty"`
}

type chunkPayload struct {
	Phase string `json:"phase"`
	Text  string `json:"text"`
}

type completePayload struct {
	EvaluationID string         `json:"evaluationId"`
	Result       map[string]any `json:"result"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Status announces a phase transition.
func (e *Emitter) Status(phase, message, evaluationID string) {
	e.write(EventStatus, statusPayload{Phase: phase, Message: message, EvaluationID: evaluationID})
}

// Chunk carries a best-effort partial text preview.
func (e *Emitter) Chunk(phase, text string) {
	e.write(EventChunk, chunkPayload{Phase: phase, Text: text})
}

// Complete emits the terminal success event.
func (e *Emitter) Complete(evaluationID string, result map[string]any) {
	e.writeTerminal(EventComplete, completePayload{EvaluationID: evaluationID, Result: result})
}

// Error emits the terminal failure event.
func (e *Emitter) Error(code, message string) {
	e.writeTerminal(EventError, errorPayload{Code: code, Message: message})
}

// Heartbeat writes a comment line so intermediaries keep the
// connection open. Carries no payload; consumers only reset their
// stall timer on it.
func (e *Emitter) Heartbeat() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal || e.dead {
		return
	}
	if _, err := io.WriteString(e.w, ": ping\n\n"); err != nil {
		e.dead = true
		return
	}
	e.flush()
}

// Terminal reports whether a terminal event has been emitted.
func (e *Emitter) Terminal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminal
}

func (e *Emitter) write(event string, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeLocked(event, data)
}

func (e *Emitter) writeTerminal(event string, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal {
		return
	}
	e.writeLocked(event, data)
	e.terminal = true
}

func (e *Emitter) writeLocked(event string, data any) {
	if e.terminal || e.dead {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		telemetry.Error("stream.marshal_failed", map[string]any{"event": event, "error": err.Error()})
		return
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		e.dead = true
		return
	}
	e.flush()
}
