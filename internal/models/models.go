package models

import (
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusExhausted Status = "EXHAUSTED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further work will happen for a task in this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExhausted || s == StatusFailed
}

// LoopState is the state of one retry loop.
type LoopState string

const (
	LoopRunning   LoopState = "RUNNING"
	LoopDone      LoopState = "DONE"
	LoopExhausted LoopState = "EXHAUSTED"
	LoopFailed    LoopState = "FAILED"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the reasoning transcript.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Evaluation is the verdict on a single response.
type Evaluation struct {
	HasError         bool   `json:"has_error"`
	ReplacementQuery string `json:"replacement_query"`
	Explanation      string `json:"explanation"`
}

type StepRecord struct {
	Index      int         `json:"index"`
	Query      string      `json:"query"`
	Tool       string      `json:"tool,omitempty"`
	Response   string      `json:"response"`
	ToolError  string      `json:"tool_error,omitempty"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
	Duration   string      `json:"duration"`
}

type Task struct {
	ID            string        `json:"id"`
	Input         string        `json:"input"`
	MaxIterations int           `json:"max_iterations"`
	Verbose       bool          `json:"verbose,omitempty"`
	Status        Status        `json:"status"`
	Response      string        `json:"response,omitempty"`
	Iterations    int           `json:"iterations"`
	Steps         []*StepRecord `json:"steps,omitempty"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
