package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/example/query-router-agent/internal/agents"
	"github.com/example/query-router-agent/internal/models"
	"github.com/example/query-router-agent/internal/telemetry"
)

// DefaultMaxIterations bounds a run when Options.MaxIterations is not positive.
const DefaultMaxIterations = 10

var (
	ErrEmptyQuery = errors.New("query is empty")
	// ErrEvaluation wraps evaluator failures; they end the run.
	ErrEvaluation = errors.New("response evaluation failed")
	ErrLoopDone   = errors.New("retry loop already finished")
)

// RetryState is the mutable state of one run. It is created by
// Agent.Initialize and must not be shared between runs.
type RetryState struct {
	Input         string
	CurrentQuery  string
	History       []models.Turn
	Iterations    int
	Steps         int
	MaxIterations int
	LastResponse  string
	Done          bool
	State         models.LoopState
	Records       []*models.StepRecord
	Err           error
}

// Outcome is the result of a run.
type Outcome struct {
	Response   string               `json:"response"`
	Status     models.Status        `json:"status"`
	Iterations int                  `json:"iterations"`
	Steps      int                  `json:"steps"`
	History    []models.Turn        `json:"history"`
	Records    []*models.StepRecord `json:"records,omitempty"`
	Error      string               `json:"error,omitempty"`
}

type Options struct {
	MaxIterations int
	Verbose       bool
	// OnStep, when set, receives every completed step record.
	OnStep func(*models.StepRecord)
}

// Agent is a step-wise agent the Controller can drive.
type Agent interface {
	Initialize(input string) *RetryState
	Step(ctx context.Context, st *RetryState) (*models.StepRecord, error)
	Finalize(st *RetryState) *Outcome
}

// RetryAgent routes the current query to a tool, asks the evaluator whether the
// response is erroneous and, if so, retries with the evaluator's replacement
// query.
type RetryAgent struct {
	Router    agents.Router
	Evaluator agents.Evaluator
	Telemetry *telemetry.Telemetry
}

func NewRetryAgent(router agents.Router, evaluator agents.Evaluator, tel *telemetry.Telemetry) *RetryAgent {
	if tel == nil {
		tel = telemetry.New(nil)
	}
	return &RetryAgent{Router: router, Evaluator: evaluator, Telemetry: tel}
}

func (a *RetryAgent) Initialize(input string) *RetryState {
	return &RetryState{
		Input:         input,
		CurrentQuery:  input,
		MaxIterations: DefaultMaxIterations,
		State:         models.LoopRunning,
	}
}

func (a *RetryAgent) Step(ctx context.Context, st *RetryState) (*models.StepRecord, error) {
	if st.Done {
		return nil, ErrLoopDone
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := time.Now()
	query := st.CurrentQuery
	rec := &models.StepRecord{Index: st.Steps, Query: query}

	sel, err := a.Router.SelectAndRun(ctx, query)
	response := sel.Response
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// the failure text stands in for the response so the evaluator can
		// still propose a better query
		response = "Error: " + err.Error()
		rec.ToolError = err.Error()
		a.Telemetry.CountToolFailure(ctx, sel.Tool)
		a.Telemetry.Log.Warn(ctx, "tool invocation failed", "query", query, "tool", sel.Tool, "err", err.Error())
	}
	rec.Tool = sel.Tool
	rec.Response = response

	st.History = append(st.History,
		models.Turn{Role: models.RoleUser, Text: query},
		models.Turn{Role: models.RoleAssistant, Text: response},
	)
	st.Steps++
	st.LastResponse = response
	st.Records = append(st.Records, rec)

	history := make([]models.Turn, len(st.History))
	copy(history, st.History)
	ev, err := a.Evaluator.Judge(ctx, st.Input, response, history)
	rec.Duration = time.Since(started).String()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rec, ctxErr
		}
		st.Done = true
		st.State = models.LoopFailed
		st.Err = fmt.Errorf("%w: %w", ErrEvaluation, err)
		return rec, st.Err
	}
	rec.Evaluation = &ev

	switch {
	case !ev.HasError:
		st.Done = true
		st.State = models.LoopDone
	case strings.TrimSpace(ev.ReplacementQuery) == "":
		// nothing left to try
		st.Done = true
		st.State = models.LoopDone
	default:
		st.CurrentQuery = ev.ReplacementQuery
		st.Iterations++
		if st.Iterations >= st.MaxIterations {
			st.Done = true
			st.State = models.LoopExhausted
		}
	}
	return rec, nil
}

func (a *RetryAgent) Finalize(st *RetryState) *Outcome {
	out := &Outcome{
		Response:   st.LastResponse,
		Iterations: st.Iterations,
		Steps:      st.Steps,
		History:    append([]models.Turn(nil), st.History...),
		Records:    append([]*models.StepRecord(nil), st.Records...),
	}
	switch st.State {
	case models.LoopExhausted:
		out.Status = models.StatusExhausted
	case models.LoopFailed:
		out.Status = models.StatusFailed
	default:
		out.Status = models.StatusCompleted
	}
	if st.Err != nil {
		out.Error = st.Err.Error()
	}
	return out
}

// Controller drives an Agent until it is done or out of iterations.
type Controller struct {
	Agent     Agent
	Telemetry *telemetry.Telemetry
}

func NewController(agent Agent, tel *telemetry.Telemetry) *Controller {
	if tel == nil {
		tel = telemetry.New(nil)
	}
	return &Controller{Agent: agent, Telemetry: tel}
}

// Run answers input. COMPLETED and EXHAUSTED outcomes are returned with a nil
// error. An evaluator failure returns a FAILED outcome together with an error
// wrapping ErrEvaluation. Context cancellation returns no outcome.
func (c *Controller) Run(ctx context.Context, input string, opts Options) (out *Outcome, err error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyQuery
	}
	limit := opts.MaxIterations
	if limit <= 0 {
		limit = DefaultMaxIterations
	}
	tel := c.Telemetry
	ctx, span := tel.StartSpan(ctx, "retry_agent.run", attribute.Int("max_iterations", limit))
	defer func() { telemetry.EndSpan(span, err) }()

	st := c.Agent.Initialize(input)
	st.MaxIterations = limit
	for !st.Done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stepCtx, stepSpan := tel.StartSpan(ctx, "retry_agent.step", attribute.Int("step", st.Steps), attribute.String("query", st.CurrentQuery))
		rec, err := c.Agent.Step(stepCtx, st)
		telemetry.EndSpan(stepSpan, err)
		if rec != nil {
			c.traceStep(ctx, rec, opts)
		}
		if err != nil {
			if errors.Is(err, ErrEvaluation) {
				out := c.Agent.Finalize(st)
				tel.CountOutcome(ctx, string(out.Status))
				tel.Log.Error(ctx, err, "evaluation failed", "steps", out.Steps)
				return out, err
			}
			return nil, err
		}
	}
	out = c.Agent.Finalize(st)
	tel.CountOutcome(ctx, string(out.Status))
	tel.Log.Info(ctx, "run finished", "status", string(out.Status), "steps", out.Steps, "iterations", out.Iterations)
	return out, nil
}

func (c *Controller) traceStep(ctx context.Context, rec *models.StepRecord, opts Options) {
	hasError := rec.Evaluation != nil && rec.Evaluation.HasError
	c.Telemetry.CountStep(ctx, rec.Tool, hasError)
	kv := []any{"step", rec.Index, "query", rec.Query, "tool", rec.Tool, "response", rec.Response}
	if rec.Evaluation != nil {
		kv = append(kv, "has_error", rec.Evaluation.HasError, "replacement_query", rec.Evaluation.ReplacementQuery, "explanation", rec.Evaluation.Explanation)
	}
	if opts.Verbose {
		c.Telemetry.Log.Info(ctx, "step", kv...)
	} else {
		c.Telemetry.Log.Debug(ctx, "step", kv...)
	}
	if opts.OnStep != nil {
		opts.OnStep(rec)
	}
}
