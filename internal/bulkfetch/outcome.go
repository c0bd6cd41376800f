package bulkfetch

import (
	"time"

	"github.com/rotisserie/eris"
)

// Kind tags the variant of an Outcome.
type Kind int

const (
	AlreadySatisfied   Kind = iota + 1 // prior artifact found, nothing fetched
	Succeeded                          // fetched and committed
	SkippedUnavailable                 // origin answered with a non-200 status
	Failed                             // network or I/O error, nothing committed
)

var kindNames = map[Kind]string{
	AlreadySatisfied:   "already_satisfied",
	Succeeded:          "succeeded",
	SkippedUnavailable: "skipped_unavailable",
	Failed:             "failed",
}

// Kinds lists every outcome kind in reporting order.
var Kinds = []Kind{AlreadySatisfied, Succeeded, SkippedUnavailable, Failed}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, eris.Errorf("bulkfetch: unknown outcome kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Outcome is the result of attempting one Task. Exactly one is produced per
// task. Which fields are set depends on Kind:
//
//	AlreadySatisfied    Size
//	Succeeded           Size, StatusCode
//	SkippedUnavailable  StatusCode, Err (*UnavailableError)
//	Failed              Err (*TransferError)
type Outcome struct {
	Kind       Kind
	Task       Task
	Size       int64
	StatusCode int
	Err        error
	Elapsed    time.Duration
}

// Period returns the period the outcome belongs to.
func (o Outcome) Period() Period {
	return o.Task.Period
}

// OK reports whether an artifact exists at the task's LocalPath.
func (o Outcome) OK() bool {
	return o.Kind == AlreadySatisfied || o.Kind == Succeeded
}

func satisfied(task Task, size int64) Outcome {
	return Outcome{Kind: AlreadySatisfied, Task: task, Size: size}
}

func succeeded(task Task, size int64, elapsed time.Duration) Outcome {
	return Outcome{Kind: Succeeded, Task: task, Size: size, StatusCode: 200, Elapsed: elapsed}
}

func unavailable(task Task, status int, elapsed time.Duration) Outcome {
	return Outcome{
		Kind:       SkippedUnavailable,
		Task:       task,
		StatusCode: status,
		Err:        &UnavailableError{Period: task.Period, StatusCode: status},
		Elapsed:    elapsed,
	}
}

func failed(task Task, cause error, elapsed time.Duration) Outcome {
	return Outcome{
		Kind:    Failed,
		Task:    task,
		Err:     &TransferError{Period: task.Period, Err: cause},
		Elapsed: elapsed,
	}
}
