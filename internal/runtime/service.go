// Package runtime owns task executions: it launches the enhanced engine for
// each accepted command, enforces the per-task timeout and exposes
// cancellation and read access on top of the registry.
package runtime

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/navi/internal/observability"
	"github.com/ent0n29/navi/internal/policy"
	"github.com/ent0n29/navi/internal/processor"
	"github.com/ent0n29/navi/internal/tasks"
)

type Config struct {
	TaskTimeout time.Duration
}

// Service runs tasks through an engine ProcessFunc that has been wrapped by
// the processor adapter, so lifecycle bookkeeping happens as a side effect of
// the stream itself.
type Service struct {
	registry    *tasks.Registry
	engine      processor.ProcessFunc
	metrics     *observability.Metrics
	taskTimeout time.Duration

	mu             sync.Mutex
	runningCancels map[string]context.CancelFunc
	wg             sync.WaitGroup
}

func New(cfg Config, registry *tasks.Registry, engine processor.ProcessFunc, metrics *observability.Metrics) *Service {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 20 * time.Minute
	}
	enhanced := processor.NewAdapter(registry).Enhance(engine)
	return &Service{
		registry:       registry,
		engine:         enhanced,
		metrics:        metrics,
		taskTimeout:    cfg.TaskTimeout,
		runningCancels: make(map[string]context.CancelFunc),
	}
}

func (s *Service) Subscribe(sessionID string) (<-chan tasks.Event, func()) {
	if s == nil {
		ch := make(chan tasks.Event)
		close(ch)
		return ch, func() {}
	}
	return s.registry.Subscribe(sessionID)
}

// StartTask accepts a command and launches its execution in the background.
// A missing task ID is filled in with a fresh one; the returned snapshot
// reflects the task right after registration.
func (s *Service) StartTask(req processor.Request) (tasks.Task, error) {
	if s == nil {
		return tasks.Task{}, errors.New("task runtime unavailable")
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		return tasks.Task{}, errors.New("command must not be empty")
	}
	if decision := policy.DecideCommand(req.Command); decision.Blocked {
		s.metrics.ObserveTaskEvent("blocked")
		return tasks.Task{}, errors.New("blocked by policy: " + decision.Reason)
	}
	if strings.TrimSpace(req.TaskID) == "" {
		req.TaskID = uuid.NewString()
	}
	if _, exists := s.registry.Status(req.TaskID); exists {
		return tasks.Task{}, errors.New("task already exists: " + req.TaskID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.taskTimeout)
	s.setRunningCancel(req.TaskID, cancel)
	s.metrics.ObserveTaskEvent("started")

	startedAt := time.Now()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer s.clearRunningCancel(req.TaskID)

		var firstEvent time.Time
		runErr := s.engine(ctx, req, func(ev processor.Event) error {
			if firstEvent.IsZero() {
				firstEvent = time.Now()
				s.metrics.ObserveStepLatency("first_event", firstEvent.Sub(startedAt))
			}
			s.observeStream(req.TaskID, ev)
			return nil
		})
		if !firstEvent.IsZero() {
			s.metrics.ObserveStepLatency("stream", time.Since(firstEvent))
		}
		s.metrics.ObserveTaskDuration(time.Since(startedAt))
		switch {
		case runErr == nil:
			s.metrics.ObserveTaskEvent("completed")
		case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
			s.metrics.ObserveTaskEvent("cancelled")
		default:
			s.metrics.ObserveTaskEvent("failed")
			log.Printf("runtime: task %s failed: %v", req.TaskID, runErr)
		}
	}()

	task, ok := s.registry.Status(req.TaskID)
	if !ok {
		// Registration happens inside the enhanced func; it may not have run
		// yet on this goroutine's schedule.
		task = tasks.Task{ID: req.TaskID, SessionID: req.SessionID, UserID: req.UserID, Command: req.Command, Status: tasks.TaskStatusPending}
	}
	return task, nil
}

// Cancel marks the task failed with the given reason and then aborts its
// engine context. The terminal state is set first so the engine's own failure
// path, racing in on the cancelled context, lands on an already-settled task.
func (s *Service) Cancel(taskID, reason string) bool {
	if s == nil {
		return false
	}
	if strings.TrimSpace(reason) == "" {
		reason = "Task cancelled."
	}
	task, ok := s.registry.Status(taskID)
	if !ok || task.Terminal() {
		return false
	}
	s.registry.Complete(taskID, false, reason)
	if cancel := s.getRunningCancel(taskID); cancel != nil {
		cancel()
	}
	s.metrics.ObserveTaskEvent("cancelled")
	return true
}

func (s *Service) GetTask(taskID string) (tasks.Task, bool) {
	if s == nil {
		return tasks.Task{}, false
	}
	return s.registry.Status(taskID)
}

func (s *Service) ListTasks(sessionID string, limit int) []tasks.Task {
	if s == nil {
		return nil
	}
	return s.registry.ListBySession(sessionID, limit)
}

func (s *Service) ListTaskEvents(taskID string, limit int) ([]tasks.Event, bool) {
	if s == nil {
		return nil, false
	}
	return s.registry.ListEvents(taskID, limit)
}

func (s *Service) TaskSteps(taskID string) ([]tasks.TaskStep, bool) {
	if s == nil {
		return nil, false
	}
	return s.registry.Steps(taskID)
}

// Shutdown waits for in-flight tasks to drain, up to the context deadline.
func (s *Service) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// observeStream turns engine narration into step log lines and counters. The
// adapter already mirrors lifecycle transitions; this only records texture.
func (s *Service) observeStream(taskID string, ev processor.Event) {
	switch ev.Kind {
	case processor.KindThought:
		if text := strings.TrimSpace(ev.Text); text != "" {
			text, _ = policy.RedactPII(text)
			s.registry.AppendStepLog(taskID, text)
		}
		s.metrics.ObserveTaskEvent("thought")
	case processor.KindFinalResult:
		s.metrics.ObserveTaskEvent("final_result")
	}
}

func (s *Service) setRunningCancel(taskID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runningCancels[taskID] = cancel
}

func (s *Service) getRunningCancel(taskID string) context.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningCancels[taskID]
}

func (s *Service) clearRunningCancel(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runningCancels, taskID)
}
