package verify

import "time"

// Status is the outcome of a whole run.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StepPassed  StepStatus = "passed"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepKind groups steps by what they do to the browser.
type StepKind string

const (
	KindSession    StepKind = "session"
	KindContext    StepKind = "context"
	KindNavigation StepKind = "navigation"
	KindExpect     StepKind = "expect"
	KindScreenshot StepKind = "screenshot"
	KindDialog     StepKind = "dialog"
	KindClick      StepKind = "click"
)

// StepResult records one executed or skipped step.
type StepResult struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Kind     StepKind      `json:"kind"`
	Status   StepStatus    `json:"status"`
	Duration time.Duration `json:"duration_ns"`
	Message  string        `json:"message,omitempty"`
}

// Report is the result of one run. It is returned even when the run fails.
type Report struct {
	RunID        string       `json:"run_id"`
	TargetURL    string       `json:"target_url"`
	Driver       string       `json:"driver"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	Steps        []StepResult `json:"steps"`
	Screenshots  []string     `json:"screenshots"`
	Status       Status       `json:"status"`
	FailureClass Class        `json:"failure_class,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// Passed reports whether every step succeeded.
func (r *Report) Passed() bool { return r.Status == StatusPassed }

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// FailedStep returns the first failed step, or nil.
func (r *Report) FailedStep() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Status == StepFailed {
			return &r.Steps[i]
		}
	}
	return nil
}

// Count returns how many steps ended with status s.
func (r *Report) Count(s StepStatus) int {
	n := 0
	for _, step := range r.Steps {
		if step.Status == s {
			n++
		}
	}
	return n
}
