package model

import "time"

// JobKind identifies a scheduled batch job.
type JobKind string

const (
	JobCollect     JobKind = "collect"
	JobConsolidate JobKind = "consolidate"
)

// RunStatus represents the current state of a job run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one execution of a job against a window.
type Run struct {
	ID        string     `json:"id"`
	Job       JobKind    `json:"job"`
	WindowID  string     `json:"window_id"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Day         *DayReport           `json:"day,omitempty"`
	Report      *ConsolidationReport `json:"report,omitempty"`
	TotalTokens int                  `json:"total_tokens"`
	TotalCost   float64              `json:"total_cost"`
	Phases      []PhaseResult        `json:"phases"`
	Error       string               `json:"error,omitempty"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Job      JobKind
	WindowID string
	Limit    int
}

// PhaseStatus represents the outcome of a job phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult records one phase of a job.
type PhaseResult struct {
	Name       string         `json:"name"`
	Status     PhaseStatus    `json:"status"`
	Duration   int64          `json:"duration_ms"`
	TokenUsage TokenUsage     `json:"token_usage"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TokenUsage tracks capability token consumption.
type TokenUsage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	Cost                float64 `json:"cost"`
}

// Add accumulates another usage into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.Cost += other.Cost
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}
