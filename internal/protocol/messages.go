// Package protocol defines the websocket payloads exchanged with clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ent0n29/navi/internal/plan"
	"github.com/ent0n29/navi/internal/tasks"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeStartTask         MessageType = "start_task"
	TypeCancelTask        MessageType = "cancel_task"
	TypeUpdateStepCommand MessageType = "update_step_command"
	TypeUpdateTaskCommand MessageType = "update_task_command"

	TypeTaskEvent  MessageType = "task_event"
	TypePlanEvent  MessageType = "plan_event"
	TypeAck        MessageType = "ack"
	TypeErrorEvent MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// StartTask asks the server to run a new browser-automation command.
type StartTask struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	UserID    string      `json:"user_id,omitempty"`
	TaskID    string      `json:"task_id,omitempty"`
	Command   string      `json:"command"`
}

type CancelTask struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TaskID    string      `json:"task_id"`
	Reason    string      `json:"reason,omitempty"`
}

// UpdateStepCommand queues a replacement command for one specific upcoming
// step of a running task.
type UpdateStepCommand struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	TaskID     string      `json:"task_id"`
	StepIndex  *int        `json:"step_index"`
	NewCommand string      `json:"new_command"`
}

// UpdateTaskCommand queues a replacement command consumed by the task's next
// step creation.
type UpdateTaskCommand struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	TaskID     string      `json:"task_id"`
	NewCommand string      `json:"new_command"`
	Reason     string      `json:"reason,omitempty"`
}

// TaskEvent wraps a registry event for the wire.
type TaskEvent struct {
	Type  MessageType `json:"type"`
	Event tasks.Event `json:"event"`
}

// PlanEvent wraps a plan coordinator event for the wire.
type PlanEvent struct {
	Type  MessageType `json:"type"`
	Event plan.Event  `json:"event"`
}

// Ack confirms an inbound command. OK is false when the server rejected it.
type Ack struct {
	Type   MessageType `json:"type"`
	Op     MessageType `json:"op"`
	TaskID string      `json:"task_id,omitempty"`
	OK     bool        `json:"ok"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail"`
}

func NewTaskEvent(evt tasks.Event) TaskEvent {
	return TaskEvent{Type: TypeTaskEvent, Event: evt}
}

func NewPlanEvent(evt plan.Event) PlanEvent {
	return PlanEvent{Type: TypePlanEvent, Event: evt}
}

func NewAck(op MessageType, taskID string, ok bool, detail string) Ack {
	return Ack{Type: TypeAck, Op: op, TaskID: taskID, OK: ok, Detail: detail}
}

func NewError(sessionID, code, detail string) ErrorEvent {
	return ErrorEvent{Type: TypeErrorEvent, SessionID: sessionID, Code: code, Detail: detail}
}

// ParseClientMessage decodes and validates one inbound message. The concrete
// struct is returned as any; unknown types yield ErrUnsupportedType.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeStartTask:
		var msg StartTask
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Command == "" {
			return nil, errors.New("invalid start_task")
		}
		return msg, nil
	case TypeCancelTask:
		var msg CancelTask
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.TaskID == "" {
			return nil, errors.New("invalid cancel_task")
		}
		return msg, nil
	case TypeUpdateStepCommand:
		var msg UpdateStepCommand
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.TaskID == "" || msg.NewCommand == "" {
			return nil, errors.New("invalid update_step_command")
		}
		if msg.StepIndex == nil || *msg.StepIndex < 0 {
			return nil, errors.New("invalid update_step_command: step_index missing or negative")
		}
		return msg, nil
	case TypeUpdateTaskCommand:
		var msg UpdateTaskCommand
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.TaskID == "" || msg.NewCommand == "" {
			return nil, errors.New("invalid update_task_command")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
