package tasks

import (
	"log"
	"strings"
	"time"
)

// UpdateStepCommand queues a command override against one step of a running
// task. A second update for the same (task, index) replaces the first;
// duplicate pending entries for one step would make it ambiguous which
// correction the operator actually wants applied. Unknown tasks are rejected
// before any queue mutation.
func (r *Registry) UpdateStepCommand(taskID string, stepIndex int, newCommand string) bool {
	newCommand = strings.TrimSpace(newCommand)
	if newCommand == "" {
		log.Printf("tasks: UpdateStepCommand rejected: empty command for task %s", taskID)
		return false
	}
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		log.Printf("tasks: UpdateStepCommand rejected: unknown task %s", taskID)
		return false
	}

	if _, ok := r.stepUpdates[taskID]; !ok {
		r.stepUpdates[taskID] = make(map[int]StepUpdate)
	}
	r.stepUpdates[taskID][stepIndex] = StepUpdate{
		TaskID:     taskID,
		StepIndex:  stepIndex,
		NewCommand: newCommand,
		QueuedAt:   now,
	}

	r.publishLocked(task.SessionID, Event{
		Type:      EventStepUpdateQueued,
		SessionID: task.SessionID,
		TaskID:    taskID,
		StepIndex: stepIndex,
		Command:   newCommand,
		At:        now,
	})
	return true
}

// UpdateTaskCommand queues a task-level override consumed by the next step
// creation regardless of index. One pending override per task.
func (r *Registry) UpdateTaskCommand(taskID, newCommand, reason string) bool {
	newCommand = strings.TrimSpace(newCommand)
	if newCommand == "" {
		log.Printf("tasks: UpdateTaskCommand rejected: empty command for task %s", taskID)
		return false
	}
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		log.Printf("tasks: UpdateTaskCommand rejected: unknown task %s", taskID)
		return false
	}

	r.commandUpdates[taskID] = CommandUpdate{
		TaskID:     taskID,
		NewCommand: newCommand,
		Reason:     strings.TrimSpace(reason),
		QueuedAt:   now,
	}

	r.publishLocked(task.SessionID, Event{
		Type:      EventTaskCommandUpdated,
		SessionID: task.SessionID,
		TaskID:    taskID,
		Command:   newCommand,
		Detail:    strings.TrimSpace(reason),
		At:        now,
	})
	return true
}

// StepUpdate peeks at the pending override for (taskID, stepIndex). The
// consuming adapter clears it with ClearStepUpdate once the override has been
// applied, so an update is not lost if application fails midway.
func (r *Registry) StepUpdate(taskID string, stepIndex int) (StepUpdate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	upd, ok := r.stepUpdates[taskID][stepIndex]
	return upd, ok
}

// ClearStepUpdate removes a consumed step override.
func (r *Registry) ClearStepUpdate(taskID string, stepIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byIndex, ok := r.stepUpdates[taskID]
	if !ok {
		return
	}
	delete(byIndex, stepIndex)
	if len(byIndex) == 0 {
		delete(r.stepUpdates, taskID)
	}
}

// StepUpdates returns a snapshot of all pending step overrides for a task.
func (r *Registry) StepUpdates(taskID string) []StepUpdate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byIndex := r.stepUpdates[taskID]
	if len(byIndex) == 0 {
		return nil
	}
	out := make([]StepUpdate, 0, len(byIndex))
	for _, upd := range byIndex {
		out = append(out, upd)
	}
	return out
}

// TakeCommandUpdate consumes the pending task-level override, if any.
func (r *Registry) TakeCommandUpdate(taskID string) (CommandUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	upd, ok := r.commandUpdates[taskID]
	if ok {
		delete(r.commandUpdates, taskID)
	}
	return upd, ok
}

// ClearUpdates drops all pending overrides for a task without touching the
// task record itself.
func (r *Registry) ClearUpdates(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stepUpdates, taskID)
	delete(r.commandUpdates, taskID)
}
