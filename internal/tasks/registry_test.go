package tasks

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	if !r.Register("t1", "u1", "open the dashboard", "s1") {
		t.Fatalf("Register() = false, want true")
	}
	if !r.Start("t1") {
		t.Fatalf("Start() = false, want true")
	}

	for i, desc := range []string{"open page", "click login", "verify title"} {
		idx, ok := r.AddStep("t1", desc, desc)
		if !ok {
			t.Fatalf("AddStep(%q) failed", desc)
		}
		if idx != i {
			t.Fatalf("AddStep(%q) index = %d, want %d", desc, idx, i)
		}
		if !r.StartStep("t1", idx) {
			t.Fatalf("StartStep(%d) failed", idx)
		}
		if !r.CompleteStep("t1", idx, "done") {
			t.Fatalf("CompleteStep(%d) failed", idx)
		}
	}
	if !r.Complete("t1", true, "all good") {
		t.Fatalf("Complete() = false, want true")
	}

	task, ok := r.Status("t1")
	if !ok {
		t.Fatalf("Status() not found")
	}
	if task.Status != TaskStatusCompleted {
		t.Fatalf("task.Status = %q, want %q", task.Status, TaskStatusCompleted)
	}

	steps, ok := r.Steps("t1")
	if !ok {
		t.Fatalf("Steps() not found")
	}
	if len(steps) != 3 {
		t.Fatalf("len(steps) = %d, want 3", len(steps))
	}
	for i, step := range steps {
		if step.Index != i {
			t.Fatalf("steps[%d].Index = %d, want %d", i, step.Index, i)
		}
		if step.Status != StepStatusCompleted {
			t.Fatalf("steps[%d].Status = %q, want %q", i, step.Status, StepStatusCompleted)
		}
	}
}

func TestRegistryRejectsDuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	if !r.Register("t1", "u1", "cmd", "s1") {
		t.Fatalf("first Register() = false")
	}
	if r.Register("t1", "u2", "other", "s2") {
		t.Fatalf("duplicate Register() = true, want false")
	}
	task, _ := r.Status("t1")
	if task.UserID != "u1" {
		t.Fatalf("task.UserID = %q, duplicate registration must not merge", task.UserID)
	}
}

func TestRegistryTerminalStateSticks(t *testing.T) {
	r := NewRegistry()
	r.Register("t1", "u1", "cmd", "s1")
	r.Start("t1")
	if !r.Complete("t1", true, "first") {
		t.Fatalf("first Complete() = false")
	}
	if r.Complete("t1", false, "second") {
		t.Fatalf("second Complete() = true, want no-op")
	}
	task, _ := r.Status("t1")
	if task.Status != TaskStatusCompleted {
		t.Fatalf("task.Status = %q, terminal state was overwritten", task.Status)
	}
	if task.Result != "first" {
		t.Fatalf("task.Result = %q, want %q", task.Result, "first")
	}
}

func TestRegistryUpdateStepCommandUnknownTask(t *testing.T) {
	r := NewRegistry()
	if r.UpdateStepCommand("nope", 0, "click submit") {
		t.Fatalf("UpdateStepCommand(unknown) = true, want false")
	}
	if got := r.StepUpdates("nope"); len(got) != 0 {
		t.Fatalf("StepUpdates(unknown) len = %d, want 0", len(got))
	}
	if r.UpdateTaskCommand("nope", "new command", "fix") {
		t.Fatalf("UpdateTaskCommand(unknown) = true, want false")
	}
	if _, ok := r.TakeCommandUpdate("nope"); ok {
		t.Fatalf("TakeCommandUpdate(unknown) found an entry")
	}
}

func TestRegistryStepUpdateReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register("t1", "u1", "cmd", "s1")
	if !r.UpdateStepCommand("t1", 1, "first override") {
		t.Fatalf("UpdateStepCommand(first) = false")
	}
	if !r.UpdateStepCommand("t1", 1, "second override") {
		t.Fatalf("UpdateStepCommand(second) = false")
	}

	all := r.StepUpdates("t1")
	if len(all) != 1 {
		t.Fatalf("StepUpdates len = %d, want 1 (replace policy)", len(all))
	}
	upd, ok := r.StepUpdate("t1", 1)
	if !ok {
		t.Fatalf("StepUpdate() not found")
	}
	if upd.NewCommand != "second override" {
		t.Fatalf("upd.NewCommand = %q, want %q", upd.NewCommand, "second override")
	}

	// Peek must not consume.
	if _, ok := r.StepUpdate("t1", 1); !ok {
		t.Fatalf("StepUpdate() consumed by peek")
	}
	r.ClearStepUpdate("t1", 1)
	if _, ok := r.StepUpdate("t1", 1); ok {
		t.Fatalf("StepUpdate() still present after ClearStepUpdate")
	}
}

func TestRegistryUnregisterRemovesAllState(t *testing.T) {
	r := NewRegistry()
	r.Register("t1", "u1", "cmd", "s1")
	r.AddStep("t1", "step", "cmd")
	r.UpdateStepCommand("t1", 0, "override")
	r.UpdateTaskCommand("t1", "new command", "reason")

	if !r.Unregister("t1") {
		t.Fatalf("Unregister() = false")
	}
	if r.Unregister("t1") {
		t.Fatalf("second Unregister() = true, want false")
	}
	if _, ok := r.Status("t1"); ok {
		t.Fatalf("Status() still finds unregistered task")
	}
	if got := r.StepUpdates("t1"); len(got) != 0 {
		t.Fatalf("step updates survive Unregister")
	}
	if _, ok := r.TakeCommandUpdate("t1"); ok {
		t.Fatalf("command update survives Unregister")
	}
}

func TestRegistrySubscribeReceivesLifecycleEvents(t *testing.T) {
	r := NewRegistry()
	ch, cancel := r.Subscribe("s1")
	defer cancel()

	r.Register("t1", "u1", "cmd", "s1")
	r.Start("t1")
	r.AddStep("t1", "step", "cmd")
	r.StartStep("t1", 0)
	r.CompleteStep("t1", 0, "ok")
	r.Complete("t1", true, "done")

	want := []EventType{
		EventTaskRegistered,
		EventTaskStarted,
		EventStepAdded,
		EventStepStarted,
		EventStepCompleted,
		EventTaskCompleted,
	}
	for i, wantType := range want {
		select {
		case evt := <-ch:
			if evt.Type != wantType {
				t.Fatalf("event[%d].Type = %q, want %q", i, evt.Type, wantType)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d (%q)", i, wantType)
		}
	}
}

func TestRegistrySubscriberLimit(t *testing.T) {
	r := NewRegistry()
	r.SetMaxSubscribers(2)

	_, c1 := r.Subscribe("s1")
	defer c1()
	_, c2 := r.Subscribe("s1")
	defer c2()

	ch, c3 := r.Subscribe("s1")
	defer c3()
	if _, open := <-ch; open {
		t.Fatalf("third subscription channel open, want closed (limit 2)")
	}

	// Releasing a slot makes room again.
	c1()
	ch4, c4 := r.Subscribe("s1")
	defer c4()
	r.Register("t1", "u1", "cmd", "s1")
	select {
	case evt := <-ch4:
		if evt.Type != EventTaskRegistered {
			t.Fatalf("evt.Type = %q, want %q", evt.Type, EventTaskRegistered)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber added after release received nothing")
	}
}

func TestRegistryListEventsRespectsLimit(t *testing.T) {
	r := NewRegistry()
	r.Register("t1", "u1", "cmd", "s1")
	r.Start("t1")
	r.AddStep("t1", "step", "cmd")
	r.StartStep("t1", 0)
	r.CompleteStep("t1", 0, "ok")

	events, ok := r.ListEvents("t1", 2)
	if !ok {
		t.Fatalf("ListEvents() not found")
	}
	if len(events) != 2 {
		t.Fatalf("ListEvents len = %d, want 2", len(events))
	}
	if events[0].Type != EventStepStarted {
		t.Fatalf("events[0].Type = %q, want %q", events[0].Type, EventStepStarted)
	}
	if events[1].Type != EventStepCompleted {
		t.Fatalf("events[1].Type = %q, want %q", events[1].Type, EventStepCompleted)
	}
}

func TestRegistryStatusFallsBackToStore(t *testing.T) {
	now := time.Now().UTC()
	persisted := Task{
		ID:           "task-store-1",
		SessionID:    "s1",
		UserID:       "u1",
		Command:      "from store",
		Status:       TaskStatusCompleted,
		RegisteredAt: now,
		UpdatedAt:    now,
		Steps: []TaskStep{
			{
				TaskID:      "task-store-1",
				Index:       0,
				Description: "from store",
				Status:      StepStatusCompleted,
				CreatedAt:   now,
			},
		},
	}

	store := newFakeTaskStore([]Task{persisted})
	r := NewRegistry()
	r.SetStore(store)

	got, ok := r.Status(persisted.ID)
	if !ok {
		t.Fatalf("Status() from store not found")
	}
	if got.Command != "from store" {
		t.Fatalf("got.Command = %q", got.Command)
	}

	store.delete(persisted.ID)
	cached, ok := r.Status(persisted.ID)
	if !ok {
		t.Fatalf("Status() from cache not found")
	}
	if cached.ID != persisted.ID {
		t.Fatalf("cached.ID = %q, want %q", cached.ID, persisted.ID)
	}
}

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[string]Task
}

func newFakeTaskStore(seed []Task) *fakeTaskStore {
	out := &fakeTaskStore{
		tasks: make(map[string]Task, len(seed)),
	}
	for _, task := range seed {
		out.tasks[task.ID] = task.Clone()
	}
	return out
}

func (s *fakeTaskStore) SaveTask(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *fakeTaskStore) GetTask(_ context.Context, taskID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrStoreNotFound
	}
	return task.Clone(), nil
}

func (s *fakeTaskStore) ListTasksBySession(_ context.Context, sessionID string, limit int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if task.SessionID == sessionID {
			out = append(out, task.Clone())
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeTaskStore) Close() error {
	return nil
}

func (s *fakeTaskStore) delete(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
}
