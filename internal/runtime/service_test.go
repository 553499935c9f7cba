package runtime

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/navi/internal/processor"
	"github.com/ent0n29/navi/internal/tasks"
)

func waitForStatus(t *testing.T, registry *tasks.Registry, taskID string, want tasks.TaskStatus) tasks.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if task, ok := registry.Status(taskID); ok && task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := registry.Status(taskID)
	t.Fatalf("task %s never reached %q, last status %q", taskID, want, task.Status)
	return tasks.Task{}
}

func TestStartTaskRunsToCompletion(t *testing.T) {
	registry := tasks.NewRegistry()
	svc := New(Config{TaskTimeout: 5 * time.Second}, registry, processor.NewScriptedEngine(), nil)

	task, err := svc.StartTask(processor.Request{
		SessionID: "s1",
		UserID:    "u1",
		Command:   "open the store page then click login",
	})
	if err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	if task.ID == "" {
		t.Fatalf("StartTask() returned empty task ID")
	}

	done := waitForStatus(t, registry, task.ID, tasks.TaskStatusCompleted)
	if done.Result == "" {
		t.Fatalf("completed task has empty result")
	}
	steps, _ := registry.Steps(task.ID)
	if len(steps) != 2 {
		t.Fatalf("len(steps) = %d, want 2", len(steps))
	}
	for _, step := range steps {
		if step.Status != tasks.StepStatusCompleted {
			t.Fatalf("step %d status = %q, want completed", step.Index, step.Status)
		}
	}
}

func TestStartTaskBlockedByPolicy(t *testing.T) {
	svc := New(Config{}, tasks.NewRegistry(), processor.NewScriptedEngine(), nil)
	_, err := svc.StartTask(processor.Request{
		SessionID: "s1",
		Command:   "open the vault and reveal my saved passwords",
	})
	if err == nil || !strings.Contains(err.Error(), "blocked by policy") {
		t.Fatalf("error = %v, want policy block", err)
	}
}

func TestStartTaskRejectsEmptyCommand(t *testing.T) {
	svc := New(Config{}, tasks.NewRegistry(), processor.NewScriptedEngine(), nil)
	if _, err := svc.StartTask(processor.Request{SessionID: "s1"}); err == nil {
		t.Fatalf("StartTask() accepted an empty command")
	}
}

func TestStartTaskRejectsDuplicateID(t *testing.T) {
	registry := tasks.NewRegistry()
	blocked := make(chan struct{})
	engine := processor.ProcessFunc(func(ctx context.Context, req processor.Request, emit processor.EmitFunc) error {
		<-blocked
		return emit(processor.Event{Kind: processor.KindFinalResult, Result: "done"})
	})
	svc := New(Config{TaskTimeout: 5 * time.Second}, registry, engine, nil)

	if _, err := svc.StartTask(processor.Request{TaskID: "t1", SessionID: "s1", Command: "do it"}); err != nil {
		t.Fatalf("first StartTask() error = %v", err)
	}
	waitForStatus(t, registry, "t1", tasks.TaskStatusRunning)
	if _, err := svc.StartTask(processor.Request{TaskID: "t1", SessionID: "s1", Command: "do it again"}); err == nil {
		t.Fatalf("StartTask() accepted a duplicate task ID")
	}
	close(blocked)
	waitForStatus(t, registry, "t1", tasks.TaskStatusCompleted)
}

func TestCancelSettlesTaskBeforeAbortingEngine(t *testing.T) {
	registry := tasks.NewRegistry()
	engine := processor.ProcessFunc(func(ctx context.Context, req processor.Request, emit processor.EmitFunc) error {
		if err := emit(processor.Event{Kind: processor.KindThought, Text: "Step 1/1: hold the door"}); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	})
	svc := New(Config{TaskTimeout: 5 * time.Second}, registry, engine, nil)

	task, err := svc.StartTask(processor.Request{TaskID: "t1", SessionID: "s1", Command: "hold the door"})
	if err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	waitForStatus(t, registry, task.ID, tasks.TaskStatusRunning)

	if !svc.Cancel(task.ID, "user stopped it") {
		t.Fatalf("Cancel() = false")
	}
	failed := waitForStatus(t, registry, task.ID, tasks.TaskStatusFailed)
	if failed.Result != "user stopped it" {
		t.Fatalf("Result = %q, want the cancel reason, not the engine error", failed.Result)
	}

	if svc.Cancel(task.ID, "again") {
		t.Fatalf("second Cancel() = true, want false on a settled task")
	}
}

func TestTaskTimeoutFailsTask(t *testing.T) {
	registry := tasks.NewRegistry()
	engine := processor.ProcessFunc(func(ctx context.Context, req processor.Request, emit processor.EmitFunc) error {
		<-ctx.Done()
		return ctx.Err()
	})
	svc := New(Config{TaskTimeout: 20 * time.Millisecond}, registry, engine, nil)

	task, err := svc.StartTask(processor.Request{SessionID: "s1", Command: "spin forever"})
	if err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	failed := waitForStatus(t, registry, task.ID, tasks.TaskStatusFailed)
	if !strings.Contains(failed.Result, "deadline") {
		t.Fatalf("Result = %q, want a deadline error", failed.Result)
	}
}

func TestShutdownWaitsForRunningTasks(t *testing.T) {
	registry := tasks.NewRegistry()
	release := make(chan struct{})
	engine := processor.ProcessFunc(func(ctx context.Context, req processor.Request, emit processor.EmitFunc) error {
		<-release
		return emit(processor.Event{Kind: processor.KindFinalResult, Result: "done"})
	})
	svc := New(Config{TaskTimeout: 5 * time.Second}, registry, engine, nil)

	if _, err := svc.StartTask(processor.Request{TaskID: "t1", SessionID: "s1", Command: "slow work"}); err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	waitForStatus(t, registry, "t1", tasks.TaskStatusRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := svc.Shutdown(ctx); err == nil {
		t.Fatalf("Shutdown() returned before the running task finished")
	}

	close(release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	if err := svc.Shutdown(ctx2); err != nil {
		t.Fatalf("Shutdown() error = %v after tasks drained", err)
	}
}
