package plan

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/navi/internal/tasks"
)

const defaultMaxSubscribers = 100

type activePlan struct {
	wrapped        *WrappedPlan
	sessionID      string
	originalPrompt string
	registeredAt   time.Time
}

// Coordinator tracks active wrapped plans and publishes plan lifecycle events.
// Override queues live in the task registry; the coordinator is the operator
// entry point that feeds them and the bookkeeping owner for active plans.
type Coordinator struct {
	mu sync.RWMutex

	registry *tasks.Registry
	active   map[string]*activePlan

	maxSubscribers int
	subscribers    map[string]map[int]chan Event
	nextSubID      int
	subCount       int
}

func NewCoordinator(registry *tasks.Registry) *Coordinator {
	return &Coordinator{
		registry:       registry,
		active:         make(map[string]*activePlan),
		maxSubscribers: defaultMaxSubscribers,
		subscribers:    make(map[string]map[int]chan Event),
	}
}

func (c *Coordinator) SetMaxSubscribers(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSubscribers = n
}

// Subscribe returns plan events for one session. Same delivery contract as the
// registry: buffered, non-blocking, capped subscriber count.
func (c *Coordinator) Subscribe(sessionID string) (<-chan Event, func()) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	c.mu.Lock()
	if c.subCount >= c.maxSubscribers {
		c.mu.Unlock()
		log.Printf("plan: subscriber limit (%d) reached, rejecting subscription for session %s", c.maxSubscribers, sessionID)
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	ch := make(chan Event, 256)
	c.nextSubID++
	id := c.nextSubID
	if _, ok := c.subscribers[sessionID]; !ok {
		c.subscribers[sessionID] = make(map[int]chan Event)
	}
	c.subscribers[sessionID][id] = ch
	c.subCount++
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.subscribers[sessionID]
		if subs == nil {
			return
		}
		if s, ok := subs[id]; ok {
			delete(subs, id)
			close(s)
			c.subCount--
		}
		if len(subs) == 0 {
			delete(c.subscribers, sessionID)
		}
	}
}

// Register wraps the plan and starts tracking it. Registration fails when the
// plan carries no task ID or when the task ID is already registered; it is
// installed exactly once.
func (c *Coordinator) Register(p Plan, sessionID string) (*WrappedPlan, bool) {
	taskID := strings.TrimSpace(p.TaskID())
	if taskID == "" {
		log.Printf("plan: registration rejected: plan has no task id")
		return nil, false
	}
	now := time.Now().UTC()
	sessionID = strings.TrimSpace(sessionID)

	c.mu.Lock()
	if _, exists := c.active[taskID]; exists {
		c.mu.Unlock()
		log.Printf("plan: registration rejected: task %s already has an active plan", taskID)
		return nil, false
	}
	wrapped := &WrappedPlan{
		inner:       p,
		coordinator: c,
		sessionID:   sessionID,
	}
	c.active[taskID] = &activePlan{
		wrapped:        wrapped,
		sessionID:      sessionID,
		originalPrompt: p.Prompt(),
		registeredAt:   now,
	}
	c.mu.Unlock()

	// Make sure the override queues have a task to hang off. Already-registered
	// tasks (e.g. when the processor adapter got there first) are fine.
	c.registry.Register(taskID, p.UserID(), p.Prompt(), sessionID)

	c.publish(sessionID, Event{
		Type:      EventPlanRegistered,
		SessionID: sessionID,
		TaskID:    taskID,
		Message:   p.Prompt(),
		At:        now,
	})
	return wrapped, true
}

// Unregister drops the active plan and every pending override for its task.
func (c *Coordinator) Unregister(taskID string) bool {
	c.mu.Lock()
	entry, ok := c.active[taskID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.active, taskID)
	c.mu.Unlock()

	c.registry.ClearUpdates(taskID)
	c.publish(entry.sessionID, Event{
		Type:      EventPlanUnregistered,
		SessionID: entry.sessionID,
		TaskID:    taskID,
		At:        time.Now().UTC(),
	})
	return true
}

// Plans returns a snapshot of every active plan, ordered by registration time.
func (c *Coordinator) Plans() []Info {
	c.mu.RLock()
	out := make([]Info, 0, len(c.active))
	for taskID, entry := range c.active {
		p := entry.wrapped.inner
		out = append(out, Info{
			TaskID:           taskID,
			SessionID:        entry.sessionID,
			UserID:           p.UserID(),
			Prompt:           p.Prompt(),
			OriginalPrompt:   entry.originalPrompt,
			CurrentStepIndex: p.CurrentStepIndex(),
			StepCount:        p.StepCount(),
			RegisteredAt:     entry.registeredAt,
		})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

// UpdateStepCommand queues a step-specific override via the registry and
// announces it on the plan event stream.
func (c *Coordinator) UpdateStepCommand(taskID string, stepIndex int, newCommand string) bool {
	sessionID, ok := c.sessionFor(taskID)
	if !ok {
		log.Printf("plan: UpdateStepCommand rejected: no active plan for task %s", taskID)
		return false
	}
	if !c.registry.UpdateStepCommand(taskID, stepIndex, newCommand) {
		return false
	}
	c.publish(sessionID, Event{
		Type:      EventStepUpdateQueued,
		SessionID: sessionID,
		TaskID:    taskID,
		StepIndex: stepIndex,
		Command:   strings.TrimSpace(newCommand),
		At:        time.Now().UTC(),
	})
	return true
}

// UpdateTaskCommand queues a task-level override consumed by the next step
// creation.
func (c *Coordinator) UpdateTaskCommand(taskID, newCommand, reason string) bool {
	sessionID, ok := c.sessionFor(taskID)
	if !ok {
		log.Printf("plan: UpdateTaskCommand rejected: no active plan for task %s", taskID)
		return false
	}
	if !c.registry.UpdateTaskCommand(taskID, newCommand, reason) {
		return false
	}
	c.publish(sessionID, Event{
		Type:      EventCommandUpdated,
		SessionID: sessionID,
		TaskID:    taskID,
		Command:   strings.TrimSpace(newCommand),
		Detail:    strings.TrimSpace(reason),
		At:        time.Now().UTC(),
	})
	return true
}

func (c *Coordinator) sessionFor(taskID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.active[taskID]
	if !ok {
		return "", false
	}
	return entry.sessionID, true
}

func (c *Coordinator) publish(sessionID string, evt Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	subs := c.subscribers[sessionID]
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
