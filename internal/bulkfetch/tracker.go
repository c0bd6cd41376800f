package bulkfetch

import (
	"errors"

	"github.com/sells-group/ontime-cli/internal/resilience"
)

// Failure identifies a period that did not produce an artifact, with enough
// detail for the caller to decide whether to try it again.
type Failure struct {
	Period     Period `json:"period" yaml:"period"`
	Kind       Kind   `json:"kind" yaml:"kind"`
	StatusCode int    `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Reason     string `json:"reason" yaml:"reason"`
	Transient  bool   `json:"transient" yaml:"transient"`
}

// FailureTracker accumulates failures in the order they are reported.
type FailureTracker struct {
	failures []Failure
}

// NewFailure describes o as a Failure. It reports false for outcomes that
// left an artifact behind.
func NewFailure(o Outcome) (Failure, bool) {
	f := Failure{
		Period:     o.Period(),
		Kind:       o.Kind,
		StatusCode: o.StatusCode,
		Reason:     reason(o.Err),
	}
	switch o.Kind {
	case SkippedUnavailable:
		f.Transient = resilience.IsTransientHTTPStatus(o.StatusCode)
	case Failed:
		f.Transient = resilience.IsTransient(o.Err)
	default:
		return Failure{}, false
	}
	return f, true
}

// Track records o if it is a SkippedUnavailable or Failed outcome and reports
// whether it did.
func (t *FailureTracker) Track(o Outcome) bool {
	f, ok := NewFailure(o)
	if ok {
		t.failures = append(t.failures, f)
	}
	return ok
}

// Failures returns a copy of the tracked failures in encounter order.
func (t *FailureTracker) Failures() []Failure {
	out := make([]Failure, len(t.failures))
	copy(out, t.failures)
	return out
}

// reason strips the TransferError prefix so the stored text names the cause.
func reason(err error) string {
	if err == nil {
		return ""
	}
	var te *TransferError
	if errors.As(err, &te) && te.Err != nil {
		return te.Err.Error()
	}
	return err.Error()
}
