package processor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ent0n29/navi/internal/tasks"
)

func scripted(events []Event, finalErr error) ProcessFunc {
	return func(ctx context.Context, req Request, emit EmitFunc) error {
		for _, ev := range events {
			if err := emit(ev); err != nil {
				return err
			}
		}
		return finalErr
	}
}

func collect(t *testing.T, fn ProcessFunc, req Request) ([]Event, error) {
	t.Helper()
	var out []Event
	err := fn(context.Background(), req, func(ev Event) error {
		out = append(out, ev)
		return nil
	})
	return out, err
}

func TestEnhanceHappyPath(t *testing.T) {
	registry := tasks.NewRegistry()
	adapter := NewAdapter(registry)

	upstream := []Event{
		{Kind: KindThought, Text: "Step 1: open page"},
		{Kind: KindThought, Text: "✅ Completed step 1: done"},
		{Kind: KindFinalResult, Result: "ok"},
	}
	req := Request{TaskID: "t1", SessionID: "s1", UserID: "u1", Command: "open the page"}

	got, err := collect(t, adapter.Enhance(scripted(upstream, nil)), req)
	if err != nil {
		t.Fatalf("enhanced fn error = %v", err)
	}
	if len(got) != len(upstream) {
		t.Fatalf("len(events) = %d, want %d (no synthetic events expected)", len(got), len(upstream))
	}
	for i := range upstream {
		if got[i].Kind != upstream[i].Kind || got[i].Text != upstream[i].Text {
			t.Fatalf("event[%d] = %+v, want %+v (original order must be preserved)", i, got[i], upstream[i])
		}
	}

	task, ok := registry.Status("t1")
	if !ok {
		t.Fatalf("task not registered")
	}
	if task.Status != tasks.TaskStatusCompleted {
		t.Fatalf("task.Status = %q, want %q", task.Status, tasks.TaskStatusCompleted)
	}
	steps, _ := registry.Steps("t1")
	if len(steps) != 1 {
		t.Fatalf("len(steps) = %d, want 1", len(steps))
	}
	if steps[0].Status != tasks.StepStatusCompleted {
		t.Fatalf("steps[0].Status = %q, want %q", steps[0].Status, tasks.StepStatusCompleted)
	}
	if steps[0].Result != "done" {
		t.Fatalf("steps[0].Result = %q, want %q (announcement prefix stripped)", steps[0].Result, "done")
	}
}

func TestEnhancePropagatesEngineError(t *testing.T) {
	registry := tasks.NewRegistry()
	adapter := NewAdapter(registry)

	boom := errors.New("browser crashed")
	upstream := []Event{
		{Kind: KindThought, Text: "Step 1: open page"},
	}
	req := Request{TaskID: "t1", SessionID: "s1", Command: "open the page"}

	_, err := collect(t, adapter.Enhance(scripted(upstream, boom)), req)
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want the engine's own error", err)
	}

	task, _ := registry.Status("t1")
	if task.Status != tasks.TaskStatusFailed {
		t.Fatalf("task.Status = %q, want %q", task.Status, tasks.TaskStatusFailed)
	}
	if task.Result != "browser crashed" {
		t.Fatalf("task.Result = %q, want error message", task.Result)
	}
	steps, _ := registry.Steps("t1")
	if len(steps) != 1 || steps[0].Status != tasks.StepStatusFailed {
		t.Fatalf("step not marked failed: %+v", steps)
	}
}

func TestEnhanceFailureMarkerFailsStep(t *testing.T) {
	registry := tasks.NewRegistry()
	adapter := NewAdapter(registry)

	upstream := []Event{
		{Kind: KindThought, Text: "Step 1: click the button"},
		{Kind: KindThought, Text: "❌ Failed step 1: element not found"},
		{Kind: KindFinalResult, Result: "gave up", HasFailedSteps: true},
	}
	req := Request{TaskID: "t1", SessionID: "s1", Command: "click the button"}

	if _, err := collect(t, adapter.Enhance(scripted(upstream, nil)), req); err != nil {
		t.Fatalf("enhanced fn error = %v", err)
	}

	task, _ := registry.Status("t1")
	if task.Status != tasks.TaskStatusFailed {
		t.Fatalf("task.Status = %q, want %q", task.Status, tasks.TaskStatusFailed)
	}
	steps, _ := registry.Steps("t1")
	if steps[0].Status != tasks.StepStatusFailed {
		t.Fatalf("steps[0].Status = %q, want %q", steps[0].Status, tasks.StepStatusFailed)
	}
	if steps[0].Error != "element not found" {
		t.Fatalf("steps[0].Error = %q", steps[0].Error)
	}
}

func TestEnhanceFallbackCompletionOnExhaustion(t *testing.T) {
	registry := tasks.NewRegistry()
	adapter := NewAdapter(registry)

	upstream := []Event{
		{Kind: KindThought, Text: "Step 1: open page"},
		{Kind: KindThought, Text: "✅ Completed step 1: done"},
	}
	req := Request{TaskID: "t1", SessionID: "s1", Command: "open the page"}

	if _, err := collect(t, adapter.Enhance(scripted(upstream, nil)), req); err != nil {
		t.Fatalf("enhanced fn error = %v", err)
	}
	task, _ := registry.Status("t1")
	if task.Status != tasks.TaskStatusCompleted {
		t.Fatalf("task.Status = %q, want fallback completion", task.Status)
	}
}

func TestEnhanceAppliesQueuedStepUpdate(t *testing.T) {
	registry := tasks.NewRegistry()
	adapter := NewAdapter(registry)

	req := Request{TaskID: "t1", SessionID: "s1", Command: "open the page then click submit"}

	// Queue before execution: the override targets step index 1.
	registry.Register(req.TaskID, req.UserID, req.Command, req.SessionID)
	if !registry.UpdateStepCommand("t1", 1, "please click the checkout button") {
		t.Fatalf("UpdateStepCommand() = false")
	}

	upstream := []Event{
		{Kind: KindThought, Text: "Step 1: open page"},
		{Kind: KindThought, Text: "✅ Completed step 1: done"},
		{Kind: KindThought, Text: "Step 2: click submit"},
		{Kind: KindThought, Text: "✅ Completed step 2: clicked"},
		{Kind: KindFinalResult, Result: "ok"},
	}
	got, err := collect(t, adapter.Enhance(scripted(upstream, nil)), req)
	if err != nil {
		t.Fatalf("enhanced fn error = %v", err)
	}

	if len(got) != len(upstream)+1 {
		t.Fatalf("len(events) = %d, want %d (one synthetic notification)", len(got), len(upstream)+1)
	}
	synthetic := got[2]
	if synthetic.Kind != KindThought || !strings.Contains(synthetic.Text, "Command updated for step 2") {
		t.Fatalf("synthetic event = %+v, want command-update notification after step 1 completion", synthetic)
	}
	if !strings.Contains(synthetic.Text, "click the checkout button") {
		t.Fatalf("synthetic text %q missing the optimized command", synthetic.Text)
	}

	if _, ok := registry.StepUpdate("t1", 1); ok {
		t.Fatalf("step update still queued after application")
	}

	steps, _ := registry.Steps("t1")
	if len(steps) != 2 {
		t.Fatalf("len(steps) = %d, want 2", len(steps))
	}
	if steps[1].Command != "click the checkout button" {
		t.Fatalf("steps[1].Command = %q, want the optimized override", steps[1].Command)
	}
}

func TestScriptedEngineDrivesFullPipeline(t *testing.T) {
	registry := tasks.NewRegistry()
	adapter := NewAdapter(registry)
	engine := adapter.Enhance(NewScriptedEngine())

	req := Request{TaskID: "t1", SessionID: "s1", Command: "open the store page then click login then type credentials"}
	if _, err := collect(t, engine, req); err != nil {
		t.Fatalf("engine error = %v", err)
	}

	task, _ := registry.Status("t1")
	if task.Status != tasks.TaskStatusCompleted {
		t.Fatalf("task.Status = %q, want %q", task.Status, tasks.TaskStatusCompleted)
	}
	steps, _ := registry.Steps("t1")
	if len(steps) != 3 {
		t.Fatalf("len(steps) = %d, want 3", len(steps))
	}
	for i, step := range steps {
		if step.Index != i {
			t.Fatalf("steps[%d].Index = %d, want contiguous ascending order", i, step.Index)
		}
		if step.Status != tasks.StepStatusCompleted {
			t.Fatalf("steps[%d].Status = %q", i, step.Status)
		}
	}
}
