package benefits

import "time"

// Sweep kinds.
const (
	SweepKindRecompute = "recompute"
	SweepKindReset     = "reset"
)

// SweepFailure is one cardholder a sweep could not process.
type SweepFailure struct {
	CardholderID string `json:"cardholder_id"`
	Error        string `json:"error"`
}

// SweepSummary describes one batch pass over the cardholder population.
type SweepSummary struct {
	Kind       string         `json:"kind"`
	DryRun     bool           `json:"dry_run"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Processed  int            `json:"processed"`
	Updated    int            `json:"updated"`
	Failures   []SweepFailure `json:"failures"`
}

// Failed is the number of cardholders that failed.
func (summary SweepSummary) Failed() int {
	return len(summary.Failures)
}
