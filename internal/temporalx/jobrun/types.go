package jobrun

import "time"

const (
	WorkflowName    = "job_run"
	ActivityExecute = "job_run_execute"
)

// Params carries the retry policy the workflow applies to its single activity.
type Params struct {
	MaxAttempts     int32         `json:"max_attempts"`
	InitialInterval time.Duration `json:"initial_interval"`
	MaximumInterval time.Duration `json:"maximum_interval"`
}

type Result struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Attempts int    `json:"attempts"`
}
