// Package processor decorates a streaming browser-automation engine so that
// its thought narration drives the task registry without altering the event
// sequence the caller observes.
package processor

import "context"

// Kind identifies engine event variants. Kinds other than the two named here
// are passed through untouched.
type Kind string

const (
	KindThought     Kind = "thought"
	KindFinalResult Kind = "final_result"
)

// Event is one element of the engine's ordered output stream.
type Event struct {
	Kind           Kind           `json:"kind"`
	Text           string         `json:"text,omitempty"`
	Result         string         `json:"result,omitempty"`
	HasFailedSteps bool           `json:"has_failed_steps,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// Request identifies one task execution.
type Request struct {
	TaskID    string
	SessionID string
	UserID    string
	Command   string
}

// EmitFunc receives stream events in order. Returning an error aborts the
// producing engine.
type EmitFunc func(Event) error

// ProcessFunc produces a task's event stream: a lazy, ordered, single-pass
// sequence delivered through emit. The function returns once the stream is
// exhausted or on the first failure.
type ProcessFunc func(ctx context.Context, req Request, emit EmitFunc) error
