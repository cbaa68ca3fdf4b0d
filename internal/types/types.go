package types

import "time"

// Outcome is the terminal state of a renewal run
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeFailure     Outcome = "failure"
	OutcomeConfigError Outcome = "config_error"
)

// Message is a single outcome notification
type Message struct {
	Outcome    Outcome `json:"outcome"`
	Text       string  `json:"text"`
	Screenshot string  `json:"screenshot,omitempty"` // Path to a PNG, empty when none was captured
}

// Run records one pass of the renewal workflow
type Run struct {
	ID         int64     `json:"id"`
	Target     string    `json:"target"`
	Outcome    Outcome   `json:"outcome"`
	Matcher    string    `json:"matcher,omitempty"` // Label variant that located the control
	Message    string    `json:"message"`
	Screenshot string    `json:"screenshot,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns how long the run took
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
