package harness

import (
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/fiducial.report/internal/monitoring"
)

// Report describes one harness run.
type Report struct {
	RunID    string
	Mode     string
	Trials   int
	Failures int
	Started  time.Time
	Duration time.Duration
}

func newReport(mode string, trials int) *Report {
	r := &Report{
		RunID:   uuid.New().String(),
		Mode:    mode,
		Trials:  trials,
		Started: time.Now(),
	}
	monitoring.Logf("[harness] %s run %s: %d trials", mode, r.RunID, trials)
	return r
}

func (r *Report) finish(failures int) {
	r.Failures = failures
	r.Duration = time.Since(r.Started)
	monitoring.Logf("[harness] %s run %s finished in %v (%d/%d failed)",
		r.Mode, r.RunID, r.Duration.Round(time.Millisecond), failures, r.Trials)
}

// Completed returns the number of trials that contributed to the aggregates.
func (r *Report) Completed() int { return r.Trials - r.Failures }
