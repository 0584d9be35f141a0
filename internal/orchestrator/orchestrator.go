package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/example/query-router-agent/internal/models"
	"github.com/example/query-router-agent/internal/telemetry"
	"github.com/example/query-router-agent/internal/tools"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskStarted  = errors.New("task already started")
)

// NewTaskID returns a random task identifier.
func NewTaskID() string { return uuid.NewString() }

// Orchestrator keeps submitted tasks in memory and runs them through the
// Controller, publishing progress on its Hub.
type Orchestrator struct {
	Controller *Controller
	Log        telemetry.Logger
	// MaxIterations applies to tasks submitted without their own limit.
	MaxIterations int

	tasksMu sync.RWMutex
	tasks   map[string]*models.Task

	hub *Hub
}

func New(controller *Controller) *Orchestrator {
	return &Orchestrator{
		Controller: controller,
		Log:        controller.Telemetry.Log,
		tasks:      map[string]*models.Task{},
		hub:        NewHub(),
	}
}

// CreateTask stores a pending task. maxIterations <= 0 uses the orchestrator
// default.
func (o *Orchestrator) CreateTask(query string, maxIterations int, verbose bool) (*models.Task, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if maxIterations <= 0 {
		maxIterations = o.MaxIterations
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	now := time.Now()
	t := &models.Task{
		ID:            NewTaskID(),
		Input:         query,
		MaxIterations: maxIterations,
		Verbose:       verbose,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.tasksMu.Lock()
	o.tasks[t.ID] = t
	o.tasksMu.Unlock()
	o.publishStatus(t.ID, models.StatusPending, "")
	return snapshot(t), nil
}

// GetTask returns a copy of the task.
func (o *Orchestrator) GetTask(id string) (*models.Task, bool) {
	o.tasksMu.RLock()
	defer o.tasksMu.RUnlock()
	t, ok := o.tasks[id]
	if !ok {
		return nil, false
	}
	return snapshot(t), true
}

// ListTasks returns copies of every task, oldest first.
func (o *Orchestrator) ListTasks() []*models.Task {
	o.tasksMu.RLock()
	out := make([]*models.Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		out = append(out, snapshot(t))
	}
	o.tasksMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Start runs a pending task to completion and returns its outcome.
func (o *Orchestrator) Start(ctx context.Context, id string) (*Outcome, error) {
	t, err := o.claim(id)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, t)
}

// Launch claims a pending task and runs it in the background. It fails fast
// with ErrTaskNotFound or ErrTaskStarted, so of several concurrent callers for
// the same task exactly one succeeds.
func (o *Orchestrator) Launch(ctx context.Context, id string) error {
	t, err := o.claim(id)
	if err != nil {
		return err
	}
	go o.execute(ctx, t)
	return nil
}

// claim moves a pending task to RUNNING under the task lock.
func (o *Orchestrator) claim(id string) (*models.Task, error) {
	o.tasksMu.Lock()
	t, ok := o.tasks[id]
	if !ok {
		o.tasksMu.Unlock()
		return nil, ErrTaskNotFound
	}
	if t.Status != models.StatusPending {
		o.tasksMu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrTaskStarted, id, t.Status)
	}
	t.Status = models.StatusRunning
	t.UpdatedAt = time.Now()
	o.tasksMu.Unlock()
	o.publishStatus(id, models.StatusRunning, "")
	return t, nil
}

// execute runs a claimed task and records its outcome. Failures are logged.
func (o *Orchestrator) execute(ctx context.Context, t *models.Task) (*Outcome, error) {
	id := t.ID
	o.tasksMu.RLock()
	input, maxIter, verbose := t.Input, t.MaxIterations, t.Verbose
	o.tasksMu.RUnlock()

	appender := o.hub.TokenAppender(id)
	var stepIdx atomic.Int64
	ctx = tools.WithTokenCallback(ctx, func(chunk string) {
		appender(fmt.Sprintf("step%d", stepIdx.Load()), chunk)
	})
	opts := Options{
		MaxIterations: maxIter,
		Verbose:       verbose,
		OnStep: func(rec *models.StepRecord) {
			stepIdx.Store(int64(rec.Index + 1))
			o.tasksMu.Lock()
			t.Steps = append(t.Steps, rec)
			if rec.Evaluation != nil && rec.Evaluation.HasError {
				t.Iterations++
			}
			t.UpdatedAt = time.Now()
			o.tasksMu.Unlock()
			o.hub.Publish(id, Event{Event: "step", TaskID: id, Payload: rec})
		},
	}

	out, err := o.Controller.Run(ctx, input, opts)
	o.hub.StopTokenAppender(id)

	o.tasksMu.Lock()
	t.UpdatedAt = time.Now()
	switch {
	case out != nil:
		t.Status = out.Status
		t.Response = out.Response
		t.Iterations = out.Iterations
		t.Steps = out.Records
	default:
		t.Status = models.StatusFailed
	}
	if err != nil {
		t.Error = err.Error()
	}
	status, errText := t.Status, t.Error
	o.tasksMu.Unlock()

	if err != nil {
		o.Log.Error(ctx, err, "task failed", "task_id", id)
	}
	o.publishStatus(id, status, errText)
	return out, err
}

// Run creates a task for query and executes it synchronously.
func (o *Orchestrator) Run(ctx context.Context, query string, maxIterations int, verbose bool) (*models.Task, *Outcome, error) {
	t, err := o.CreateTask(query, maxIterations, verbose)
	if err != nil {
		return nil, nil, err
	}
	out, err := o.Start(ctx, t.ID)
	final, _ := o.GetTask(t.ID)
	return final, out, err
}

// Subscribe returns a channel carrying JSON-encoded events for taskID. The
// caller must call the returned func when done.
func (o *Orchestrator) Subscribe(taskID string) (<-chan []byte, func()) {
	return o.hub.Subscribe(taskID)
}

func (o *Orchestrator) publishStatus(id string, status models.Status, errText string) {
	payload := map[string]any{"status": status}
	if errText != "" {
		payload["error"] = errText
	}
	o.hub.Publish(id, Event{Event: statusEvent, TaskID: id, Payload: payload})
}

func snapshot(t *models.Task) *models.Task {
	c := *t
	c.Steps = append([]*models.StepRecord(nil), t.Steps...)
	return &c
}
