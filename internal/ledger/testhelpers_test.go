package ledger

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sells-group/ontime-cli/internal/bulkfetch"
)

var planner = bulkfetch.NewPlanner(bulkfetch.DefaultBaseURL, "data")

func period(year int, month time.Month) bulkfetch.Period {
	return bulkfetch.NewPeriod(year, month)
}

func outcomeOf(kind bulkfetch.Kind, p bulkfetch.Period) bulkfetch.Outcome {
	task := planner.Task(p)
	switch kind {
	case bulkfetch.Succeeded:
		return bulkfetch.Outcome{Kind: kind, Task: task, Size: 2048, StatusCode: 200}
	case bulkfetch.AlreadySatisfied:
		return bulkfetch.Outcome{Kind: kind, Task: task, Size: 1024}
	case bulkfetch.SkippedUnavailable:
		return bulkfetch.Outcome{Kind: kind, Task: task, StatusCode: 404,
			Err: &bulkfetch.UnavailableError{Period: p, StatusCode: 404}}
	default:
		return bulkfetch.Outcome{Kind: bulkfetch.Failed, Task: task,
			Err: &bulkfetch.TransferError{Period: p, Err: io.ErrUnexpectedEOF}}
	}
}

func cancelledOutcome(p bulkfetch.Period) bulkfetch.Outcome {
	return bulkfetch.Outcome{Kind: bulkfetch.Failed, Task: planner.Task(p),
		Err: &bulkfetch.TransferError{Period: p, Err: context.Canceled}}
}

// failingStore records nothing and fails every write.
type failingStore struct {
	Store
	calls int
}

func (f *failingStore) RecordOutcome(context.Context, string, bulkfetch.Outcome) error {
	f.calls++
	return errors.New("disk full")
}
