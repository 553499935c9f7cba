package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/navi/internal/processor"
	"github.com/ent0n29/navi/internal/reliability"
)

const (
	httpEngineAttempts    = 3
	httpEngineBackoffBase = 250 * time.Millisecond
	httpEngineBackoffCap  = 2 * time.Second
)

// HTTPEngine drives a remote browser-automation engine that streams its run
// as newline-delimited JSON (or SSE data: lines). Each line carries one event:
//
//	{"kind":"thought","text":"Step 1/3: open the page"}
//	{"kind":"final_result","result":"Done.","has_failed_steps":false}
type HTTPEngine struct {
	url    string
	client *http.Client
}

func NewHTTPEngine(url string) *HTTPEngine {
	return &HTTPEngine{
		url: strings.TrimSpace(url),
		client: &http.Client{
			// Streaming responses stay open for the whole task; the per-task
			// timeout on ctx bounds the run instead.
			Timeout: 0,
		},
	}
}

type wireEvent struct {
	Kind           string         `json:"kind"`
	Type           string         `json:"type"`
	Text           string         `json:"text"`
	Result         string         `json:"result"`
	HasFailedSteps bool           `json:"has_failed_steps"`
	Code           string         `json:"code"`
	Data           map[string]any `json:"data"`
}

// Process runs one task against the remote engine. The initial request is
// retried on retryable statuses; once the stream has started, errors surface
// to the caller unretried so events are never replayed.
func (e *HTTPEngine) Process(ctx context.Context, req processor.Request, emit processor.EmitFunc) error {
	payload, err := json.Marshal(map[string]string{
		"task_id":    req.TaskID,
		"session_id": req.SessionID,
		"user_id":    req.UserID,
		"command":    req.Command,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var res *http.Response
	for attempt := 0; attempt < httpEngineAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt, httpEngineBackoffBase, httpEngineBackoffCap)):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		res, err = e.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < httpEngineAttempts-1 {
				continue
			}
			return fmt.Errorf("send request: %w", err)
		}
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			break
		}

		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		if reliability.IsRetryableHTTPStatus(res.StatusCode) && attempt < httpEngineAttempts-1 {
			res = nil
			continue
		}
		return fmt.Errorf("engine http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	defer res.Body.Close()

	return e.consumeStream(ctx, res.Body, emit)
}

func (e *HTTPEngine) consumeStream(ctx context.Context, body io.Reader, emit processor.EmitFunc) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}

		var wire wireEvent
		if err := json.Unmarshal([]byte(line), &wire); err != nil {
			// Plain-text lines are narration too.
			if err := emit(processor.Event{Kind: processor.KindThought, Text: line}); err != nil {
				return err
			}
			continue
		}

		kind := wire.Kind
		if kind == "" {
			kind = wire.Type
		}
		switch kind {
		case "final_result":
			return emit(processor.Event{
				Kind:           processor.KindFinalResult,
				Result:         wire.Result,
				HasFailedSteps: wire.HasFailedSteps,
				Data:           wire.Data,
			})
		case "error":
			return fmt.Errorf("engine error %s: %s", wire.Code, wire.Text)
		default:
			if wire.Text == "" {
				continue
			}
			if err := emit(processor.Event{
				Kind: processor.KindThought,
				Text: wire.Text,
				Data: wire.Data,
			}); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	return nil
}
