// Package plan wraps externally supplied task-plan objects so that step
// creation and execution flow through the task registry's override queues and
// emit lifecycle events.
package plan

import (
	"context"
	"time"
)

const (
	StepTypeAction = "action"
	StepTypeQuery  = "query"
)

// Plan is the capability surface a task-plan object must expose. The adapter
// wraps these operations in an explicit decorator rather than mutating the
// plan instance.
type Plan interface {
	TaskID() string
	UserID() string
	Prompt() string
	StepCount() int
	CurrentStepIndex() int

	CreateStep(ctx context.Context, stepType, instruction string, args map[string]any) (int, error)
	ExecuteBrowserAction(ctx context.Context, args map[string]any, stepIndex int) (any, error)
	ExecuteBrowserQuery(ctx context.Context, args map[string]any, stepIndex int) (any, error)
	Log(message string, metadata map[string]any)
}

// Info is an introspection snapshot of one registered plan.
type Info struct {
	TaskID           string    `json:"task_id"`
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	Prompt           string    `json:"prompt"`
	OriginalPrompt   string    `json:"original_prompt"`
	CurrentStepIndex int       `json:"current_step_index"`
	StepCount        int       `json:"step_count"`
	RegisteredAt     time.Time `json:"registered_at"`
}

type EventType string

const (
	EventPlanRegistered       EventType = "plan:registered"
	EventPlanLog              EventType = "plan:log"
	EventStepCreated          EventType = "plan:stepCreated"
	EventStepExecutionStarted EventType = "plan:stepExecutionStarted"
	EventStepExecutionDone    EventType = "plan:stepExecutionCompleted"
	EventStepExecutionFailed  EventType = "plan:stepExecutionFailed"
	EventStepUpdateQueued     EventType = "plan:stepUpdateQueued"
	EventCommandUpdated       EventType = "plan:commandUpdated"
	EventPlanUnregistered     EventType = "plan:unregistered"
)

type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	TaskID    string         `json:"task_id"`
	StepIndex int            `json:"step_index,omitempty"`
	StepType  string         `json:"step_type,omitempty"`
	Command   string         `json:"command,omitempty"`
	Message   string         `json:"message,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Result    any            `json:"result,omitempty"`
	Success   bool           `json:"success,omitempty"`
	Error     string         `json:"error,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	At        time.Time      `json:"at"`
}
