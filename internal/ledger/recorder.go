package ledger

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/ontime-cli/internal/bulkfetch"
)

// Recorder is a bulkfetch.Observer that writes each outcome to the ledger as
// it is reported. Write errors are logged and do not interrupt the run.
type Recorder struct {
	ctx   context.Context
	store Store
	runID string

	mu       sync.Mutex
	firstErr error
	errs     int
}

// NewRecorder creates a Recorder for runID.
func NewRecorder(ctx context.Context, store Store, runID string) *Recorder {
	return &Recorder{ctx: ctx, store: store, runID: runID}
}

// Observe implements bulkfetch.Observer.
func (r *Recorder) Observe(o bulkfetch.Outcome) {
	// Outcomes are still recorded while a cancelled run drains.
	ctx := context.WithoutCancel(r.ctx)
	if err := r.store.RecordOutcome(ctx, r.runID, o); err != nil {
		zap.L().Warn("ledger: record outcome",
			zap.String("run_id", r.runID),
			zap.String("period", o.Period().String()),
			zap.Error(err),
		)
		r.mu.Lock()
		if r.firstErr == nil {
			r.firstErr = err
		}
		r.errs++
		r.mu.Unlock()
	}
}

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstErr
}

// Dropped returns how many outcomes could not be written.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs
}
