package processor

import (
	"context"
	"fmt"

	"github.com/ent0n29/navi/internal/command"
	"github.com/ent0n29/navi/internal/tasks"
)

// Adapter decorates an engine ProcessFunc so that every step boundary,
// completion and failure observed in the stream is mirrored into the task
// registry, and queued operator overrides are injected at step boundaries.
type Adapter struct {
	registry *tasks.Registry
}

func NewAdapter(registry *tasks.Registry) *Adapter {
	return &Adapter{registry: registry}
}

// Enhance returns a ProcessFunc with the same observable event sequence as fn,
// interleaved with zero or more synthetic thought events, plus the side effect
// of driving the registry through the task's full lifecycle. The scan is a
// single forward pass: no buffering, no reordering, and synthetic events are
// emitted only after their originating upstream event.
func (a *Adapter) Enhance(fn ProcessFunc) ProcessFunc {
	return func(ctx context.Context, req Request, emit EmitFunc) error {
		a.registry.Register(req.TaskID, req.UserID, req.Command, req.SessionID)
		a.registry.Start(req.TaskID)

		st := &scanState{currentStep: -1, currentCommand: req.Command}

		err := fn(ctx, req, func(ev Event) error {
			if err := emit(ev); err != nil {
				return err
			}
			return a.observe(req, st, ev, emit)
		})
		if err != nil {
			if st.stepRunning {
				a.registry.FailStep(req.TaskID, st.currentStep, err.Error())
			}
			a.registry.Complete(req.TaskID, false, err.Error())
			return err
		}
		if !st.terminal {
			// The engine went silent without a final_result. Treat exhaustion
			// as completion so no task is left running forever.
			a.registry.Complete(req.TaskID, true, "")
		}
		return nil
	}
}

type scanState struct {
	currentStep    int
	stepRunning    bool
	terminal       bool
	currentCommand string
}

func (a *Adapter) observe(req Request, st *scanState, ev Event, emit EmitFunc) error {
	switch ev.Kind {
	case KindThought:
		return a.observeThought(req, st, ev.Text, emit)
	case KindFinalResult:
		st.terminal = true
		if st.stepRunning {
			st.stepRunning = false
			if ev.HasFailedSteps {
				a.registry.FailStep(req.TaskID, st.currentStep, "step did not finish")
			} else {
				a.registry.CompleteStep(req.TaskID, st.currentStep, "")
			}
		}
		a.registry.Complete(req.TaskID, !ev.HasFailedSteps, ev.Result)
	}
	return nil
}

func (a *Adapter) observeThought(req Request, st *scanState, text string, emit EmitFunc) error {
	if index, description, ok := parseStepAnnouncement(text); ok {
		steps, _ := a.registry.Steps(req.TaskID)
		for len(steps) <= index {
			idx, ok := a.registry.AddStep(req.TaskID, description, st.currentCommand)
			if !ok {
				break
			}
			steps = append(steps, tasks.TaskStep{Index: idx})
		}
		a.registry.StartStep(req.TaskID, index)
		st.currentStep = index
		st.stepRunning = true
		return nil
	}

	if !st.stepRunning {
		return nil
	}

	if isSuccessMarker(text) {
		a.registry.CompleteStep(req.TaskID, st.currentStep, cleanMarkerText(text))
		st.stepRunning = false
		return a.applyPendingUpdate(req, st, st.currentStep+1, emit)
	}

	if isFailureMarker(text) {
		a.registry.FailStep(req.TaskID, st.currentStep, cleanMarkerText(text))
		st.stepRunning = false
	}
	return nil
}

// applyPendingUpdate injects a queued operator override for the upcoming step
// into the in-flight command state and tells the stream consumer about it.
func (a *Adapter) applyPendingUpdate(req Request, st *scanState, nextIndex int, emit EmitFunc) error {
	upd, ok := a.registry.StepUpdate(req.TaskID, nextIndex)
	if !ok {
		return nil
	}
	st.currentCommand = command.Optimize(upd.NewCommand)
	a.registry.ClearStepUpdate(req.TaskID, nextIndex)
	return emit(Event{
		Kind: KindThought,
		Text: fmt.Sprintf("Command updated for step %d: %s", nextIndex+1, st.currentCommand),
	})
}
