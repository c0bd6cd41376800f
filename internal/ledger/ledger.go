// Package ledger persists a record of fetch runs and the outcome of every
// period they attempted, so a later invocation can re-run exactly the periods
// that did not produce an artifact.
package ledger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ontime-cli/internal/bulkfetch"
)

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusAborted  RunStatus = "aborted"
	RunStatusFailed   RunStatus = "failed"
)

// RunSpec describes a run about to start.
type RunSpec struct {
	Command string // "fetch" or "retry"
	Label   string // e.g. "2024-01..2024-03"
	Planned int
}

// Run is one recorded invocation of the engine.
type Run struct {
	ID                 string     `json:"id"`
	Command            string     `json:"command"`
	Label              string     `json:"label"`
	Status             RunStatus  `json:"status"`
	Planned            int        `json:"planned"`
	Total              int        `json:"total"`
	AlreadySatisfied   int        `json:"already_satisfied"`
	Succeeded          int        `json:"succeeded"`
	SkippedUnavailable int        `json:"skipped_unavailable"`
	Failed             int        `json:"failed"`
	Bytes              int64      `json:"bytes"`
	Error              string     `json:"error,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// PeriodOutcome is the recorded result for one period of a run.
type PeriodOutcome struct {
	RunID      string           `json:"run_id"`
	Period     bulkfetch.Period `json:"period"`
	Kind       bulkfetch.Kind   `json:"kind"`
	StatusCode int              `json:"status_code,omitempty"`
	Size       int64            `json:"size,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	Transient  bool             `json:"transient"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// Store defines the persistence interface for the run ledger.
type Store interface {
	StartRun(ctx context.Context, rs RunSpec) (*Run, error)
	RecordOutcome(ctx context.Context, runID string, o bulkfetch.Outcome) error
	CompleteRun(ctx context.Context, runID string, summary *bulkfetch.Summary, runErr error) error

	GetRun(ctx context.Context, runID string) (*Run, error)
	// LatestRun returns the most recently started run that is no longer
	// running, or nil if there is none.
	LatestRun(ctx context.Context) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Outcomes(ctx context.Context, runID string) ([]PeriodOutcome, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the ledger for driver ("sqlite" or "postgres") and applies
// migrations.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "sqlite":
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, dsn)
	default:
		return nil, eris.Errorf("ledger: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// FailedPeriods returns the periods of runID that left no artifact, in
// chronological order. With transientOnly set, only Failed outcomes whose
// cause looked transient are returned.
func FailedPeriods(ctx context.Context, s Store, runID string, transientOnly bool) ([]bulkfetch.Period, error) {
	outcomes, err := s.Outcomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	var periods []bulkfetch.Period
	for _, o := range outcomes {
		switch {
		case o.Kind == bulkfetch.AlreadySatisfied, o.Kind == bulkfetch.Succeeded:
			continue
		case transientOnly && (o.Kind != bulkfetch.Failed || !o.Transient):
			continue
		}
		periods = append(periods, o.Period)
	}
	return periods, nil
}

// statusFor derives the terminal status of a run.
func statusFor(summary *bulkfetch.Summary, runErr error) RunStatus {
	switch {
	case summary != nil && summary.Aborted:
		return RunStatusAborted
	case runErr != nil:
		return RunStatusFailed
	default:
		return RunStatusComplete
	}
}

// outcomeRecord flattens o into the columns both backends store.
func outcomeRecord(o bulkfetch.Outcome) (period, kind string, status int, size int64, reason string, transient bool) {
	f, failed := bulkfetch.NewFailure(o)
	if failed {
		reason, transient = f.Reason, f.Transient
	}
	return o.Period().String(), o.Kind.String(), o.StatusCode, o.Size, reason, transient
}

func parseOutcome(runID, period, kind string) (PeriodOutcome, error) {
	p, err := bulkfetch.ParsePeriod(period)
	if err != nil {
		return PeriodOutcome{}, eris.Wrapf(err, "ledger: run %s", runID)
	}
	k, err := bulkfetch.ParseKind(kind)
	if err != nil {
		return PeriodOutcome{}, eris.Wrapf(err, "ledger: run %s", runID)
	}
	return PeriodOutcome{RunID: runID, Period: p, Kind: k}, nil
}
