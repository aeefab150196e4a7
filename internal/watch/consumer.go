// Package watch consumes a design evaluation progress stream. It
// renders phase transitions into display percentages, detects stream
// stalls with a watchdog, and falls back to polling the job's status
// endpoint when the stream goes quiet or closes before a terminal
// event. The server keeps working after an intermediary drops the
// connection, so a stalled stream is a detour, not a failure.
package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"
)

// Connection states of the consumer.
const (
	ConnStreaming = "streaming"
	ConnPolling   = "polling"
	ConnDone      = "done"
	ConnFailed    = "failed"
)

// Internal event kinds feeding the state machine, beyond the wire
// kinds status/chunk/complete/error.
const (
	eventStall = "stall"
	eventTick  = "tick"
	eventPoll  = "poll"
)

const previewRenderLimit = 400

var (
	// ErrWaitBudgetExceeded means polling ran out of patience after a
	// stalled stream.
	ErrWaitBudgetExceeded = errors.New("timed out waiting for the evaluation to finish")
	// ErrStreamEndedEarly means the stream closed before any status
	// event carried the evaluation id, so polling is impossible.
	ErrStreamEndedEarly = errors.New("stream ended before the evaluation id arrived")
)

// Snapshot is the externally visible consumer state. All mutation
// happens inside apply; timers, poll results and stream events are
// just event sources feeding it.
type Snapshot struct {
	EvaluationID string
	ConnState    string
	Phase        string
	Percent      int
	Message      string
	Preview      string
	Result       map[string]any
	ErrorCode    string
	ErrorMessage string
}

// event is one input to the state machine.
type event struct {
	Kind         string
	Phase        string
	Message      string
	EvaluationID string
	Text         string
	Code         string
	Result       map[string]any
	PollStatus   string
}

// SubmitRequest describes one evaluation submission.
type SubmitRequest struct {
	Image         []byte
	ImageName     string
	MediaType     string
	PreviousImage []byte
	Tier          string
	EvaluationID  string
}

// Consumer submits an evaluation and follows it to a terminal state.
type Consumer struct {
	BaseURL    string
	HTTPClient *http.Client
	// GuestID identifies the caller to the API.
	GuestID string

	// StallTimeout arms the watchdog; any received line, heartbeats
	// included, resets it.
	StallTimeout time.Duration
	PollInterval time.Duration
	PollBudget   time.Duration
	TickInterval time.Duration

	// OnUpdate, if set, observes every state change.
	OnUpdate func(Snapshot)

	mu    sync.Mutex
	state Snapshot
}

func (c *Consumer) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Consumer) stallTimeout() time.Duration {
	if c.StallTimeout > 0 {
		return c.StallTimeout
	}
	return 65 * time.Second
}

func (c *Consumer) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 2500 * time.Millisecond
}

func (c *Consumer) pollBudget() time.Duration {
	if c.PollBudget > 0 {
		return c.PollBudget
	}
	return 5 * time.Minute
}

func (c *Consumer) tickInterval() time.Duration {
	if c.TickInterval > 0 {
		return c.TickInterval
	}
	return 2 * time.Second
}

// Snapshot returns a copy of the current state.
func (c *Consumer) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run submits the evaluation and consumes the stream until a terminal
// state is reached, the polling fallback resolves it, or the wait
// budget runs out.
func (c *Consumer) Run(ctx context.Context, req SubmitRequest) (Snapshot, error) {
	c.mu.Lock()
	c.state = Snapshot{ConnState: ConnStreaming, EvaluationID: req.EvaluationID}
	c.mu.Unlock()

	resp, err := c.submit(ctx, req)
	if err != nil {
		return c.Snapshot(), err
	}
	defer resp.Body.Close()

	final, err := c.consumeStream(ctx, resp.Body)
	if err != nil {
		return final, err
	}
	if final.ConnState == ConnPolling {
		return c.poll(ctx)
	}
	return final, nil
}

// submit posts the multipart form and returns the streaming response.
func (c *Consumer) submit(ctx context.Context, req SubmitRequest) (*http.Response, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := writeImagePart(mw, "image", req.ImageName, req.MediaType, req.Image); err != nil {
		return nil, err
	}
	if len(req.PreviousImage) > 0 {
		if err := writeImagePart(mw, "previousImage", "previous-"+req.ImageName, req.MediaType, req.PreviousImage); err != nil {
			return nil, err
		}
	}
	if req.Tier != "" {
		if err := mw.WriteField("tier", req.Tier); err != nil {
			return nil, err
		}
	}
	if req.EvaluationID != "" {
		if err := mw.WriteField("evaluationId", req.EvaluationID); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/evaluations", &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.GuestID != "" {
		httpReq.Header.Set("X-Guest-Id", c.GuestID)
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submit evaluation: %w", err)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("submit evaluation: HTTP %d: %s", resp.StatusCode, apiErrorMessage(raw))
	}
	return resp, nil
}

// consumeStream reads SSE lines until a terminal event, a watchdog
// fire, or end of stream. A stall or early close leaves the state in
// ConnPolling for the caller to resolve.
func (c *Consumer) consumeStream(ctx context.Context, body io.ReadCloser) (Snapshot, error) {
	lines := make(chan string, 64)
	go readLines(body, lines)

	watchdog := time.NewTimer(c.stallTimeout())
	defer watchdog.Stop()
	ticker := time.NewTicker(c.tickInterval())
	defer ticker.Stop()

	var eventName, eventData string
	for {
		select {
		case <-ctx.Done():
			body.Close()
			return c.Snapshot(), ctx.Err()

		case <-watchdog.C:
			// Silence past the threshold. The server may still be
			// working; cancel only our read and switch to polling.
			body.Close()
			return c.apply(event{Kind: eventStall}), nil

		case <-ticker.C:
			c.apply(event{Kind: eventTick})

		case line, ok := <-lines:
			if !ok {
				// Stream closed without a terminal event: the
				// connection was likely dropped mid-run.
				return c.apply(event{Kind: eventStall}), nil
			}
			resetTimer(watchdog, c.stallTimeout())

			line = strings.TrimSuffix(line, "\r")
			switch {
			case line == "":
				if eventName != "" {
					snap := c.apply(decodeWireEvent(eventName, eventData))
					if snap.ConnState == ConnDone || snap.ConnState == ConnFailed {
						body.Close()
						return snap, nil
					}
				}
				eventName, eventData = "", ""
			case strings.HasPrefix(line, ":"):
				// Heartbeat comment; only the watchdog cares.
			case strings.HasPrefix(line, "event:"):
				eventName = strings.TrimSpace(line[len("event:"):])
			case strings.HasPrefix(line, "data:"):
				eventData = strings.TrimSpace(line[len("data:"):])
			}
		}
	}
}

// poll fetches the job status on a fixed interval until it turns
// terminal or the wait budget elapses.
func (c *Consumer) poll(ctx context.Context) (Snapshot, error) {
	snap := c.Snapshot()
	if snap.EvaluationID == "" {
		return snap, ErrStreamEndedEarly
	}

	deadline := time.Now().Add(c.pollBudget())
	ticker := time.NewTicker(c.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return c.Snapshot(), ErrWaitBudgetExceeded
			}
			ev, err := c.fetchStatus(ctx, snap.EvaluationID)
			if err != nil {
				// Transient poll errors just wait for the next tick.
				continue
			}
			next := c.apply(ev)
			if next.ConnState == ConnDone || next.ConnState == ConnFailed {
				return next, nil
			}
		}
	}
}

func (c *Consumer) fetchStatus(ctx context.Context, evaluationID string) (event, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/v1/evaluations/"+evaluationID, nil)
	if err != nil {
		return event{}, err
	}
	if c.GuestID != "" {
		httpReq.Header.Set("X-Guest-Id", c.GuestID)
	}
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return event{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return event{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return event{}, fmt.Errorf("poll: HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Status       string         `json:"status"`
		Phase        string         `json:"phase"`
		Result       map[string]any `json:"result"`
		ErrorCode    string         `json:"errorCode"`
		ErrorMessage string         `json:"errorMessage"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return event{}, err
	}
	return event{
		Kind:       eventPoll,
		PollStatus: payload.Status,
		Phase:      payload.Phase,
		Result:     payload.Result,
		Code:       payload.ErrorCode,
		Message:    payload.ErrorMessage,
	}, nil
}

// apply is the single transition function: every state change in the
// consumer funnels through here.
func (c *Consumer) apply(ev event) Snapshot {
	c.mu.Lock()
	s := &c.state

	switch ev.Kind {
	case "status":
		if ev.EvaluationID != "" {
			s.EvaluationID = ev.EvaluationID
		}
		s.Phase = ev.Phase
		s.Message = ev.Message
		s.Percent = percentFor(ev.Phase)

	case "chunk":
		s.Preview += ev.Text
		if len(s.Preview) > previewRenderLimit {
			s.Preview = s.Preview[len(s.Preview)-previewRenderLimit:]
		}

	case "complete":
		if ev.EvaluationID != "" {
			s.EvaluationID = ev.EvaluationID
		}
		s.ConnState = ConnDone
		s.Phase = "complete"
		s.Percent = 100
		s.Result = ev.Result

	case "error":
		s.ConnState = ConnFailed
		s.ErrorCode = ev.Code
		s.ErrorMessage = ev.Message

	case eventStall:
		if s.ConnState == ConnStreaming {
			s.ConnState = ConnPolling
		}

	case eventTick:
		// Synthetic progress only while streaming inside the scoring
		// phase; real events overwrite it immediately.
		if s.ConnState == ConnStreaming && s.Phase == "scoring" {
			s.Percent = interpolate(s.Percent)
		}

	case eventPoll:
		switch ev.PollStatus {
		case "completed":
			s.ConnState = ConnDone
			s.Phase = "complete"
			s.Percent = 100
			s.Result = ev.Result
		case "failed":
			s.ConnState = ConnFailed
			s.ErrorCode = ev.Code
			s.ErrorMessage = ev.Message
		default:
			if ev.Phase != "" {
				s.Phase = ev.Phase
				s.Percent = percentFor(ev.Phase)
			}
		}
	}

	snap := *s
	c.mu.Unlock()
	if c.OnUpdate != nil {
		c.OnUpdate(snap)
	}
	return snap
}

// decodeWireEvent turns a raw event name + JSON data line into a state
// machine event. Unknown names decode to a no-op.
func decodeWireEvent(name, data string) event {
	ev := event{Kind: name}
	switch name {
	case "status":
		var payload struct {
			Phase        string `json:"phase"`
			Message      string `json:"message"`
			EvaluationID string `json:"evaluationId"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err == nil {
			ev.Phase = payload.Phase
			ev.Message = payload.Message
			ev.EvaluationID = payload.EvaluationID
		}
	case "chunk":
		var payload struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err == nil {
			ev.Text = payload.Text
		}
	case "complete":
		var payload struct {
			EvaluationID string         `json:"evaluationId"`
			Result       map[string]any `json:"result"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err == nil {
			ev.EvaluationID = payload.EvaluationID
			ev.Result = payload.Result
		}
	case "error":
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err == nil {
			ev.Code = payload.Code
			ev.Message = payload.Message
		}
	}
	return ev
}

// readLines reads the stream in chunks, splits on newlines and keeps
// the pending partial line until its terminator arrives.
func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	buf := make([]byte, 4096)
	var pending string
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending += string(buf[:n])
			for {
				idx := strings.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				lines <- pending[:idx]
				pending = pending[idx+1:]
			}
		}
		if err != nil {
			return
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func writeImagePart(mw *multipart.Writer, field, name, mediaType string, data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	h.Set("Content-Type", mediaType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

func apiErrorMessage(raw []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
