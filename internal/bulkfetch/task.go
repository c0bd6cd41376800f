package bulkfetch

import (
	"fmt"
	"iter"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultBaseURL is the BTS pre-zipped download area.
const DefaultBaseURL = "https://transtats.bts.gov/PREZIP/"

const remoteNameFormat = "On_Time_Reporting_Carrier_On_Time_Performance_(1987_present)_%d_%d.zip"

// RemoteName returns the archive filename the origin publishes for p.
// The month is not zero-padded.
func RemoteName(p Period) string {
	return fmt.Sprintf(remoteNameFormat, p.Year, int(p.Month))
}

// Task is the planned unit of work for one period.
type Task struct {
	Period     Period
	RemoteName string
	RemoteURL  string
	LocalPath  string
}

// Planner turns periods into tasks against one origin and output directory.
type Planner struct {
	baseURL   string
	outputDir string
}

// NewPlanner creates a planner. A missing trailing slash on baseURL is added.
func NewPlanner(baseURL, outputDir string) *Planner {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Planner{baseURL: baseURL, outputDir: outputDir}
}

// Task derives the task for p. LocalPath depends only on p.
func (pl *Planner) Task(p Period) Task {
	name := RemoteName(p)
	return Task{
		Period:     p,
		RemoteName: name,
		RemoteURL:  pl.baseURL + name,
		LocalPath:  filepath.Join(pl.outputDir, name),
	}
}

// Plan returns the chronological plan for the inclusive range [start, end].
func (pl *Planner) Plan(start, end Period) (*Plan, error) {
	switch {
	case !start.Valid():
		return nil, &InvalidRangeError{Start: start, End: end, Reason: "invalid start period"}
	case !end.Valid():
		return nil, &InvalidRangeError{Start: start, End: end, Reason: "invalid end period"}
	case end.Before(start):
		return nil, &InvalidRangeError{Start: start, End: end, Reason: "start is after end"}
	}
	return &Plan{planner: pl, start: start, end: end}, nil
}

// PlanPeriods returns a plan over an explicit set of periods, sorted and
// de-duplicated. Used to re-invoke a run for previously failed periods.
func (pl *Planner) PlanPeriods(periods []Period) (*Plan, error) {
	list := slices.Clone(periods)
	for _, p := range list {
		if !p.Valid() {
			return nil, &InvalidRangeError{Start: p, End: p, Reason: "invalid period"}
		}
	}
	slices.SortFunc(list, Period.Compare)
	list = slices.Compact(list)
	return &Plan{planner: pl, list: list, explicit: true}, nil
}

// Plan is a finite, restartable sequence of tasks.
type Plan struct {
	planner    *Planner
	start, end Period
	list       []Period
	explicit   bool
}

// Len returns the number of tasks in the plan.
func (p *Plan) Len() int {
	if p.explicit {
		return len(p.list)
	}
	return MonthsBetween(p.start, p.end)
}

// Periods yields the planned periods in chronological order.
func (p *Plan) Periods() iter.Seq[Period] {
	return func(yield func(Period) bool) {
		if p.explicit {
			for _, period := range p.list {
				if !yield(period) {
					return
				}
			}
			return
		}
		for period := p.start; !p.end.Before(period); period = period.Next() {
			if !yield(period) {
				return
			}
		}
	}
}

// Tasks yields the planned tasks lazily. Each call starts from the beginning.
func (p *Plan) Tasks() iter.Seq[Task] {
	return func(yield func(Task) bool) {
		for period := range p.Periods() {
			if !yield(p.planner.Task(period)) {
				return
			}
		}
	}
}
