package tasks

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"
)

var ErrTaskNotFound = errors.New("task not found")

const (
	defaultEventHistoryLimit = 512
	defaultMaxSubscribers    = 100
)

// Registry is the in-memory store of task and step records. All mutation goes
// through its methods; every mutating operation emits a correspondingly typed
// Event to the task's session subscribers. Bookkeeping failures (unknown task,
// duplicate registration, redundant terminal transitions) are reported through
// the returned bool and a warning log, never a panic or an error value.
type Registry struct {
	mu sync.RWMutex

	store Store

	tasks          map[string]*Task
	tasksBySession map[string][]string
	stepUpdates    map[string]map[int]StepUpdate
	commandUpdates map[string]CommandUpdate
	eventsByTask   map[string][]Event

	eventHistoryMax int
	maxSubscribers  int

	subscribers map[string]map[int]chan Event
	nextSubID   int
	subCount    int
}

func NewRegistry() *Registry {
	return &Registry{
		tasks:           make(map[string]*Task),
		tasksBySession:  make(map[string][]string),
		stepUpdates:     make(map[string]map[int]StepUpdate),
		commandUpdates:  make(map[string]CommandUpdate),
		eventsByTask:    make(map[string][]Event),
		eventHistoryMax: defaultEventHistoryLimit,
		maxSubscribers:  defaultMaxSubscribers,
		subscribers:     make(map[string]map[int]chan Event),
	}
}

func (r *Registry) SetStore(store Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store = store
}

func (r *Registry) SetEventHistoryLimit(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventHistoryMax = n
}

func (r *Registry) SetMaxSubscribers(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxSubscribers = n
}

// Subscribe returns a channel of events for one session and a cancel func.
// Delivery is non-blocking; slow consumers miss events rather than stalling
// the registry. A saturated registry (too many live subscribers) returns a
// closed channel.
func (r *Registry) Subscribe(sessionID string) (<-chan Event, func()) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	r.mu.Lock()
	if r.subCount >= r.maxSubscribers {
		r.mu.Unlock()
		log.Printf("tasks: subscriber limit (%d) reached, rejecting subscription for session %s", r.maxSubscribers, sessionID)
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	ch := make(chan Event, 256)
	r.nextSubID++
	id := r.nextSubID
	if _, ok := r.subscribers[sessionID]; !ok {
		r.subscribers[sessionID] = make(map[int]chan Event)
	}
	r.subscribers[sessionID][id] = ch
	r.subCount++
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		subs := r.subscribers[sessionID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
			r.subCount--
		}
		if len(subs) == 0 {
			delete(r.subscribers, sessionID)
		}
	}
}

// Register creates a new task record in pending status with an empty step
// list. Re-registration of an existing task ID is rejected, not merged.
func (r *Registry) Register(taskID, userID, command, sessionID string) bool {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		log.Printf("tasks: Register rejected: empty task id")
		return false
	}
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[taskID]; exists {
		log.Printf("tasks: Register rejected: task %s already registered", taskID)
		return false
	}

	task := &Task{
		ID:           taskID,
		SessionID:    strings.TrimSpace(sessionID),
		UserID:       strings.TrimSpace(userID),
		Command:      strings.TrimSpace(command),
		Status:       TaskStatusPending,
		Steps:        []TaskStep{},
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	r.tasks[taskID] = task
	r.tasksBySession[task.SessionID] = append(r.tasksBySession[task.SessionID], taskID)

	r.publishLocked(task.SessionID, Event{
		Type:      EventTaskRegistered,
		SessionID: task.SessionID,
		TaskID:    taskID,
		Command:   task.Command,
		Status:    task.Status,
		At:        now,
	})
	r.persistTask(task.Clone())
	return true
}

// Start transitions the task from pending to running.
func (r *Registry) Start(taskID string) bool {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		log.Printf("tasks: Start rejected: unknown task %s", taskID)
		return false
	}
	if task.Status != TaskStatusPending {
		log.Printf("tasks: Start ignored: task %s is %s", taskID, task.Status)
		return false
	}
	task.Status = TaskStatusRunning
	task.StartedAt = &now
	task.UpdatedAt = now

	r.publishLocked(task.SessionID, Event{
		Type:      EventTaskStarted,
		SessionID: task.SessionID,
		TaskID:    taskID,
		Status:    task.Status,
		At:        now,
	})
	r.persistTask(task.Clone())
	return true
}

// AddStep appends a step record with the next sequential index in pending
// status and returns that index.
func (r *Registry) AddStep(taskID, description, command string) (int, bool) {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		log.Printf("tasks: AddStep rejected: unknown task %s", taskID)
		return 0, false
	}

	index := len(task.Steps)
	task.Steps = append(task.Steps, TaskStep{
		TaskID:      taskID,
		Index:       index,
		Description: strings.TrimSpace(description),
		Command:     strings.TrimSpace(command),
		Status:      StepStatusPending,
		CreatedAt:   now,
	})
	task.UpdatedAt = now

	r.publishLocked(task.SessionID, Event{
		Type:        EventStepAdded,
		SessionID:   task.SessionID,
		TaskID:      taskID,
		StepIndex:   index,
		Description: strings.TrimSpace(description),
		Command:     strings.TrimSpace(command),
		StepStatus:  StepStatusPending,
		At:          now,
	})
	return index, true
}

// StartStep transitions the identified step to running.
func (r *Registry) StartStep(taskID string, index int) bool {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	task, step, ok := r.stepLocked(taskID, index, "StartStep")
	if !ok {
		return false
	}
	if step.Terminal() {
		log.Printf("tasks: StartStep ignored: step %d of task %s is %s", index, taskID, step.Status)
		return false
	}
	step.Status = StepStatusRunning
	step.StartedAt = &now
	task.UpdatedAt = now

	r.publishLocked(task.SessionID, Event{
		Type:        EventStepStarted,
		SessionID:   task.SessionID,
		TaskID:      taskID,
		StepIndex:   index,
		Description: step.Description,
		StepStatus:  step.Status,
		At:          now,
	})
	return true
}

// CompleteStep transitions the step to completed and stores the result text.
func (r *Registry) CompleteStep(taskID string, index int, result string) bool {
	return r.finishStep(taskID, index, StepStatusCompleted, result)
}

// FailStep transitions the step to failed and stores the error text.
func (r *Registry) FailStep(taskID string, index int, errText string) bool {
	return r.finishStep(taskID, index, StepStatusFailed, errText)
}

func (r *Registry) finishStep(taskID string, index int, status StepStatus, text string) bool {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	task, step, ok := r.stepLocked(taskID, index, "finishStep")
	if !ok {
		return false
	}
	if step.Terminal() {
		log.Printf("tasks: step %d of task %s already %s, ignoring %s", index, taskID, step.Status, status)
		return false
	}
	step.Status = status
	step.CompletedAt = &now
	task.UpdatedAt = now

	evType := EventStepCompleted
	if status == StepStatusCompleted {
		step.Result = strings.TrimSpace(text)
	} else {
		step.Error = strings.TrimSpace(text)
		evType = EventStepFailed
	}

	r.publishLocked(task.SessionID, Event{
		Type:        evType,
		SessionID:   task.SessionID,
		TaskID:      taskID,
		StepIndex:   index,
		Description: step.Description,
		StepStatus:  step.Status,
		Result:      strings.TrimSpace(text),
		At:          now,
	})
	return true
}

// AppendStepLog records streamed output against the most recent running step
// and publishes it as a step:log event. Terminal tasks ignore late output.
func (r *Registry) AppendStepLog(taskID, delta string) bool {
	delta = strings.TrimSpace(delta)
	if delta == "" {
		return true
	}
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		log.Printf("tasks: AppendStepLog rejected: unknown task %s", taskID)
		return false
	}
	if task.Terminal() {
		return true
	}

	index := -1
	for i := len(task.Steps) - 1; i >= 0; i-- {
		if task.Steps[i].Status == StepStatusRunning {
			index = i
			break
		}
	}
	if index >= 0 {
		step := &task.Steps[index]
		if step.Result == "" {
			step.Result = delta
		} else {
			step.Result += "\n" + delta
		}
	}
	task.UpdatedAt = now

	r.publishLocked(task.SessionID, Event{
		Type:      EventStepLog,
		SessionID: task.SessionID,
		TaskID:    taskID,
		StepIndex: index,
		Detail:    delta,
		Status:    task.Status,
		At:        now,
	})
	return true
}

// Complete records the task's terminal outcome. A second call on an already
// terminal task is a no-op with a warning; the first outcome wins.
func (r *Registry) Complete(taskID string, success bool, result string) bool {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		log.Printf("tasks: Complete rejected: unknown task %s", taskID)
		return false
	}
	if task.Terminal() {
		log.Printf("tasks: Complete ignored: task %s already %s", taskID, task.Status)
		return false
	}

	if success {
		task.Status = TaskStatusCompleted
	} else {
		task.Status = TaskStatusFailed
	}
	task.Result = strings.TrimSpace(result)
	task.CompletedAt = &now
	task.UpdatedAt = now

	evType := EventTaskCompleted
	if !success {
		evType = EventTaskFailed
	}
	r.publishLocked(task.SessionID, Event{
		Type:      evType,
		SessionID: task.SessionID,
		TaskID:    taskID,
		Status:    task.Status,
		Result:    task.Result,
		At:        now,
	})
	r.persistTask(task.Clone())
	return true
}

// Status returns a snapshot of the task, falling back to the snapshot store
// on a cache miss and re-caching the persisted record.
func (r *Registry) Status(taskID string) (Task, bool) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return Task{}, false
	}

	r.mu.RLock()
	task, ok := r.tasks[taskID]
	var snapshot Task
	if ok && task != nil {
		snapshot = task.Clone()
	}
	store := r.store
	r.mu.RUnlock()
	if ok {
		return snapshot, true
	}
	if store == nil {
		return Task{}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	persisted, err := store.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, false
	}

	r.mu.Lock()
	if _, exists := r.tasks[persisted.ID]; !exists {
		cached := persisted.Clone()
		r.tasks[persisted.ID] = &cached
		r.tasksBySession[persisted.SessionID] = append(r.tasksBySession[persisted.SessionID], persisted.ID)
	}
	r.mu.Unlock()
	return persisted.Clone(), true
}

// Steps returns the ordered step list for a task.
func (r *Registry) Steps(taskID string) ([]TaskStep, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return nil, false
	}
	out := make([]TaskStep, len(task.Steps))
	copy(out, task.Steps)
	return out, true
}

// ListBySession returns session task snapshots, newest first.
func (r *Registry) ListBySession(sessionID string, limit int) []Task {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.tasksBySession[sessionID]
	out := make([]Task, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if t, ok := r.tasks[ids[i]]; ok && t != nil {
			out = append(out, t.Clone())
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// ListEvents returns up to limit of the most recent events for a task.
func (r *Registry) ListEvents(taskID string, limit int) ([]Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.tasks[taskID]; !ok {
		return nil, false
	}
	events := r.eventsByTask[taskID]
	start := 0
	if limit > 0 && limit < len(events) {
		start = len(events) - limit
	}
	out := make([]Event, len(events)-start)
	copy(out, events[start:])
	return out, true
}

// Unregister removes the task, its steps and all pending updates.
func (r *Registry) Unregister(taskID string) bool {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return false
	}
	sessionID := task.SessionID

	delete(r.tasks, taskID)
	delete(r.stepUpdates, taskID)
	delete(r.commandUpdates, taskID)
	delete(r.eventsByTask, taskID)

	ids := r.tasksBySession[sessionID]
	out := ids[:0]
	for _, id := range ids {
		if id != taskID {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		delete(r.tasksBySession, sessionID)
	} else {
		r.tasksBySession[sessionID] = out
	}

	r.publishLocked(sessionID, Event{
		Type:      EventTaskUnregistered,
		SessionID: sessionID,
		TaskID:    taskID,
		At:        now,
	})
	return true
}

func (r *Registry) stepLocked(taskID string, index int, op string) (*Task, *TaskStep, bool) {
	task, ok := r.tasks[taskID]
	if !ok {
		log.Printf("tasks: %s rejected: unknown task %s", op, taskID)
		return nil, nil, false
	}
	if index < 0 || index >= len(task.Steps) {
		log.Printf("tasks: %s rejected: task %s has no step %d", op, taskID, index)
		return nil, nil, false
	}
	return task, &task.Steps[index], true
}

func (r *Registry) persistTask(task Task) {
	store := r.store
	if store == nil {
		return
	}
	go func(snapshot Task) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = store.SaveTask(ctx, snapshot)
	}(task)
}

func (r *Registry) publishLocked(sessionID string, evt Event) {
	if taskID := strings.TrimSpace(evt.TaskID); taskID != "" && evt.Type != EventTaskUnregistered {
		r.eventsByTask[taskID] = append(r.eventsByTask[taskID], evt)
		if max := r.eventHistoryMax; max > 0 && len(r.eventsByTask[taskID]) > max {
			trimFrom := len(r.eventsByTask[taskID]) - max
			r.eventsByTask[taskID] = append([]Event(nil), r.eventsByTask[taskID][trimFrom:]...)
		}
	}

	subs := r.subscribers[sessionID]
	if len(subs) == 0 {
		return
	}
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
