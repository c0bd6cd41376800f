package bulkfetch

import (
	"slices"
	"time"

	"go.uber.org/zap"
)

// Observer receives every outcome as the Reporter counts it. Observers are
// called from a single goroutine, one outcome at a time.
type Observer interface {
	Observe(o Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(o Outcome)

// Observe calls f(o).
func (f ObserverFunc) Observe(o Outcome) { f(o) }

// Artifact is a file present at the end of a run.
type Artifact struct {
	Period Period `json:"period" yaml:"period"`
	Path   string `json:"path" yaml:"path"`
	Size   int64  `json:"size" yaml:"size"`
	// Fresh is true when the artifact was fetched by this run.
	Fresh bool `json:"fresh" yaml:"fresh"`
}

// Summary aggregates all outcomes of one run. It is owned by the caller once
// returned and is not modified afterwards.
type Summary struct {
	Total              int        `json:"total" yaml:"total"`
	AlreadySatisfied   int        `json:"already_satisfied" yaml:"already_satisfied"`
	Succeeded          int        `json:"succeeded" yaml:"succeeded"`
	SkippedUnavailable int        `json:"skipped_unavailable" yaml:"skipped_unavailable"`
	Failed             int        `json:"failed" yaml:"failed"`
	Bytes              int64      `json:"bytes" yaml:"bytes"`
	Failures           []Failure  `json:"failures" yaml:"failures"`
	Artifacts          []Artifact `json:"artifacts" yaml:"artifacts"`
	Aborted            bool       `json:"aborted" yaml:"aborted"`
	StartedAt          time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt         time.Time  `json:"finished_at" yaml:"finished_at"`
}

// Count returns the number of outcomes of kind k.
func (s *Summary) Count(k Kind) int {
	switch k {
	case AlreadySatisfied:
		return s.AlreadySatisfied
	case Succeeded:
		return s.Succeeded
	case SkippedUnavailable:
		return s.SkippedUnavailable
	case Failed:
		return s.Failed
	default:
		return 0
	}
}

// FailedPeriods returns the failed and unavailable periods, sorted and
// de-duplicated, ready to be passed back to Engine.RunPeriods.
func (s *Summary) FailedPeriods() []Period {
	return s.periods(func(Failure) bool { return true })
}

// TransientPeriods returns the Failed periods whose cause looked transient.
func (s *Summary) TransientPeriods() []Period {
	return s.periods(func(f Failure) bool { return f.Kind == Failed && f.Transient })
}

func (s *Summary) periods(keep func(Failure) bool) []Period {
	var out []Period
	for _, f := range s.Failures {
		if keep(f) {
			out = append(out, f.Period)
		}
	}
	slices.SortFunc(out, Period.Compare)
	return slices.Compact(out)
}

// Elapsed returns the wall-clock duration of the run.
func (s *Summary) Elapsed() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Merge returns a new summary in which the outcomes of next, a re-invocation
// over some of s's periods, replace the earlier outcomes for those periods.
// Neither input is modified.
func (s *Summary) Merge(next *Summary) *Summary {
	if next == nil {
		out := *s
		return &out
	}
	replaced := make(map[Period]bool, next.Total)
	for _, f := range next.Failures {
		replaced[f.Period] = true
	}
	for _, a := range next.Artifacts {
		replaced[a.Period] = true
	}

	out := *s
	out.Failures = nil
	for _, f := range s.Failures {
		if replaced[f.Period] {
			out.add(f.Kind, -1)
			continue
		}
		out.Failures = append(out.Failures, f)
	}
	out.Artifacts = nil
	for _, a := range s.Artifacts {
		if !replaced[a.Period] {
			out.Artifacts = append(out.Artifacts, a)
			continue
		}
		if a.Fresh {
			out.add(Succeeded, -1)
			out.Bytes -= a.Size
		} else {
			out.add(AlreadySatisfied, -1)
		}
	}

	for _, k := range Kinds {
		out.add(k, next.Count(k))
	}
	out.Bytes += next.Bytes
	out.Failures = append(out.Failures, next.Failures...)
	out.Artifacts = append(out.Artifacts, next.Artifacts...)
	slices.SortFunc(out.Artifacts, func(a, b Artifact) int { return a.Period.Compare(b.Period) })
	out.Total = out.AlreadySatisfied + out.Succeeded + out.SkippedUnavailable + out.Failed
	out.Aborted = next.Aborted
	out.FinishedAt = next.FinishedAt
	return &out
}

func (s *Summary) add(k Kind, delta int) {
	switch k {
	case AlreadySatisfied:
		s.AlreadySatisfied += delta
	case Succeeded:
		s.Succeeded += delta
	case SkippedUnavailable:
		s.SkippedUnavailable += delta
	case Failed:
		s.Failed += delta
	}
}

// Reporter folds outcomes, in whatever order they complete, into a Summary.
// It is not safe for concurrent use; the engine feeds it from one goroutine.
type Reporter struct {
	planned   int
	seen      map[Period]Kind
	summary   Summary
	tracker   FailureTracker
	observers []Observer
	log       *zap.Logger
}

// NewReporter creates a reporter for a run of planned tasks.
func NewReporter(planned int, observers ...Observer) *Reporter {
	return &Reporter{
		planned:   planned,
		seen:      make(map[Period]Kind, planned),
		summary:   Summary{StartedAt: time.Now().UTC()},
		observers: observers,
		log:       zap.L().With(zap.String("component", "bulkfetch.reporter")),
	}
}

// Add counts one outcome. A second outcome for a period already counted is
// dropped.
func (r *Reporter) Add(o Outcome) {
	p := o.Period()
	if prev, dup := r.seen[p]; dup {
		r.log.Error("duplicate outcome for period, ignoring",
			zap.String("period", p.String()),
			zap.Stringer("first", prev),
			zap.Stringer("second", o.Kind),
		)
		return
	}
	r.seen[p] = o.Kind
	r.summary.Total++

	fields := []zap.Field{
		zap.Int("done", r.summary.Total),
		zap.Int("total", r.planned),
		zap.String("period", p.String()),
		zap.String("file", o.Task.RemoteName),
		zap.Stringer("outcome", o.Kind),
	}

	switch o.Kind {
	case AlreadySatisfied:
		r.summary.AlreadySatisfied++
		r.addArtifact(o, false)
		r.log.Info("already exists", append(fields, zap.Int64("bytes", o.Size))...)
	case Succeeded:
		r.summary.Succeeded++
		r.summary.Bytes += o.Size
		r.addArtifact(o, true)
		r.log.Info("downloaded",
			append(fields,
				zap.Int64("bytes", o.Size),
				zap.Float64("mb", float64(o.Size)/(1024*1024)),
				zap.Duration("elapsed", o.Elapsed),
			)...,
		)
	case SkippedUnavailable:
		r.summary.SkippedUnavailable++
		r.tracker.Track(o)
		r.log.Warn("not available", append(fields, zap.Int("status", o.StatusCode))...)
	case Failed:
		r.summary.Failed++
		r.tracker.Track(o)
		r.log.Error("download failed", append(fields, zap.Error(o.Err))...)
	}

	for _, obs := range r.observers {
		obs.Observe(o)
	}
}

func (r *Reporter) addArtifact(o Outcome, fresh bool) {
	r.summary.Artifacts = append(r.summary.Artifacts, Artifact{
		Period: o.Period(),
		Path:   o.Task.LocalPath,
		Size:   o.Size,
		Fresh:  fresh,
	})
}

// Finish seals the summary and returns it.
func (r *Reporter) Finish(aborted bool) *Summary {
	s := r.summary
	s.Aborted = aborted
	s.FinishedAt = time.Now().UTC()
	s.Failures = r.tracker.Failures()
	s.Artifacts = slices.Clone(r.summary.Artifacts)
	slices.SortFunc(s.Artifacts, func(a, b Artifact) int { return a.Period.Compare(b.Period) })

	if s.Total != r.planned {
		r.log.Error("outcome count does not match plan",
			zap.Int("planned", r.planned),
			zap.Int("reported", s.Total),
		)
	}

	r.log.Info("download summary",
		zap.Int("total", s.Total),
		zap.Int("already_satisfied", s.AlreadySatisfied),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("skipped_unavailable", s.SkippedUnavailable),
		zap.Int("failed", s.Failed),
		zap.Int64("bytes", s.Bytes),
		zap.Stringers("failed_periods", s.FailedPeriods()),
		zap.Bool("aborted", s.Aborted),
		zap.Duration("elapsed", s.Elapsed()),
	)
	return &s
}
