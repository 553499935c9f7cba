package plan

import (
	"context"
	"time"

	"github.com/ent0n29/navi/internal/command"
)

// WrappedPlan decorates a Plan: step creation consumes task-level overrides,
// executions consume step-specific overrides, and every operation is bracketed
// by plan events. It implements Plan itself, so callers swap it in wherever
// the bare plan was used.
type WrappedPlan struct {
	inner       Plan
	coordinator *Coordinator
	sessionID   string
}

func (w *WrappedPlan) TaskID() string        { return w.inner.TaskID() }
func (w *WrappedPlan) UserID() string        { return w.inner.UserID() }
func (w *WrappedPlan) Prompt() string        { return w.inner.Prompt() }
func (w *WrappedPlan) StepCount() int        { return w.inner.StepCount() }
func (w *WrappedPlan) CurrentStepIndex() int { return w.inner.CurrentStepIndex() }

// Log emits a plan:log event, then delegates unchanged.
func (w *WrappedPlan) Log(message string, metadata map[string]any) {
	w.coordinator.publish(w.sessionID, Event{
		Type:      EventPlanLog,
		SessionID: w.sessionID,
		TaskID:    w.inner.TaskID(),
		Message:   message,
		Metadata:  metadata,
		At:        time.Now().UTC(),
	})
	w.inner.Log(message, metadata)
}

// CreateStep applies any pending task-level command override to the step
// arguments before delegating. For action steps the instruction is replaced;
// for query steps the query argument is.
func (w *WrappedPlan) CreateStep(ctx context.Context, stepType, instruction string, args map[string]any) (int, error) {
	taskID := w.inner.TaskID()

	if upd, ok := w.coordinator.registry.TakeCommandUpdate(taskID); ok {
		cmd := command.Optimize(upd.NewCommand)
		if args == nil {
			args = make(map[string]any, 1)
		}
		if stepType == StepTypeQuery {
			args["query"] = cmd
		} else {
			instruction = cmd
			args["instruction"] = cmd
		}
	}

	index, err := w.inner.CreateStep(ctx, stepType, instruction, args)
	if err != nil {
		return index, err
	}

	w.coordinator.publish(w.sessionID, Event{
		Type:      EventStepCreated,
		SessionID: w.sessionID,
		TaskID:    taskID,
		StepIndex: index,
		StepType:  stepType,
		Command:   instruction,
		At:        time.Now().UTC(),
	})
	return index, nil
}

func (w *WrappedPlan) ExecuteBrowserAction(ctx context.Context, args map[string]any, stepIndex int) (any, error) {
	return w.execute(ctx, args, stepIndex, w.inner.ExecuteBrowserAction)
}

func (w *WrappedPlan) ExecuteBrowserQuery(ctx context.Context, args map[string]any, stepIndex int) (any, error) {
	return w.execute(ctx, args, stepIndex, w.inner.ExecuteBrowserQuery)
}

// execute injects a pending step-specific override into the argument map,
// emits the execution lifecycle events around the call and re-raises any
// execution error untouched. The override is cleared only after it has been
// applied to the arguments.
func (w *WrappedPlan) execute(
	ctx context.Context,
	args map[string]any,
	stepIndex int,
	fn func(context.Context, map[string]any, int) (any, error),
) (any, error) {
	taskID := w.inner.TaskID()

	if upd, ok := w.coordinator.registry.StepUpdate(taskID, stepIndex); ok {
		cmd := command.Optimize(upd.NewCommand)
		if args == nil {
			args = make(map[string]any, 1)
		}
		if _, has := args["instruction"]; has {
			args["instruction"] = cmd
		} else if _, has := args["query"]; has {
			args["query"] = cmd
		} else {
			args["instruction"] = cmd
			args["query"] = cmd
		}
		w.coordinator.registry.ClearStepUpdate(taskID, stepIndex)
	}

	w.coordinator.publish(w.sessionID, Event{
		Type:      EventStepExecutionStarted,
		SessionID: w.sessionID,
		TaskID:    taskID,
		StepIndex: stepIndex,
		At:        time.Now().UTC(),
	})

	result, err := fn(ctx, args, stepIndex)
	if err != nil {
		w.coordinator.publish(w.sessionID, Event{
			Type:      EventStepExecutionFailed,
			SessionID: w.sessionID,
			TaskID:    taskID,
			StepIndex: stepIndex,
			Error:     err.Error(),
			At:        time.Now().UTC(),
		})
		return nil, err
	}

	w.coordinator.publish(w.sessionID, Event{
		Type:      EventStepExecutionDone,
		SessionID: w.sessionID,
		TaskID:    taskID,
		StepIndex: stepIndex,
		Result:    result,
		Success:   true,
		At:        time.Now().UTC(),
	})
	return result, nil
}
