package tasks

import "time"

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

type Task struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	UserID       string     `json:"user_id"`
	Command      string     `json:"command"`
	Status       TaskStatus `json:"status"`
	Steps        []TaskStep `json:"steps"`
	Result       string     `json:"result,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type TaskStep struct {
	TaskID      string     `json:"task_id"`
	Index       int        `json:"index"`
	Description string     `json:"description"`
	Command     string     `json:"command"`
	Status      StepStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StepUpdate is an operator-supplied command override queued against a single
// step. At most one pending update per (task, step index); a later queue call
// replaces an earlier one.
type StepUpdate struct {
	TaskID     string    `json:"task_id"`
	StepIndex  int       `json:"step_index"`
	NewCommand string    `json:"new_command"`
	QueuedAt   time.Time `json:"queued_at"`
}

// CommandUpdate is a task-level override consumed by the next step creation,
// whatever its index.
type CommandUpdate struct {
	TaskID     string    `json:"task_id"`
	NewCommand string    `json:"new_command"`
	Reason     string    `json:"reason,omitempty"`
	QueuedAt   time.Time `json:"queued_at"`
}

type EventType string

const (
	EventTaskRegistered     EventType = "task:registered"
	EventTaskStarted        EventType = "task:started"
	EventStepAdded          EventType = "step:added"
	EventStepStarted        EventType = "step:started"
	EventStepCompleted      EventType = "step:completed"
	EventStepFailed         EventType = "step:failed"
	EventStepLog            EventType = "step:log"
	EventTaskCompleted      EventType = "task:completed"
	EventTaskFailed         EventType = "task:failed"
	EventStepUpdateQueued   EventType = "task:stepUpdateQueued"
	EventTaskCommandUpdated EventType = "task:commandUpdated"
	EventTaskUnregistered   EventType = "task:unregistered"
)

type Event struct {
	Type        EventType  `json:"type"`
	SessionID   string     `json:"session_id"`
	TaskID      string     `json:"task_id"`
	StepIndex   int        `json:"step_index,omitempty"`
	Description string     `json:"description,omitempty"`
	Command     string     `json:"command,omitempty"`
	Status      TaskStatus `json:"status,omitempty"`
	StepStatus  StepStatus `json:"step_status,omitempty"`
	Result      string     `json:"result,omitempty"`
	Detail      string     `json:"detail,omitempty"`
	At          time.Time  `json:"at"`
}

func (t Task) Clone() Task {
	out := t
	if t.Steps != nil {
		out.Steps = make([]TaskStep, len(t.Steps))
		copy(out.Steps, t.Steps)
	}
	return out
}

func (t Task) Terminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

func (s TaskStep) Terminal() bool {
	switch s.Status {
	case StepStatusCompleted, StepStatusFailed:
		return true
	default:
		return false
	}
}
