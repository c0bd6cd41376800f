// Package bulkfetch retrieves one archive per month from a single HTTP origin
// into a local directory. Runs are idempotent: a month whose archive is
// already on disk is not fetched again, and an archive is only ever visible at
// its final path once it has been received in full.
package bulkfetch

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ontime-cli/internal/fetcher"
)

const (
	defaultConcurrency    = 4
	defaultChunkSize      = 8 << 10
	defaultRequestTimeout = 300 * time.Second

	// StagingDirName is the subdirectory of the output directory that holds
	// in-flight downloads. Each run stages under its own run-* directory.
	StagingDirName = ".staging"

	// minStaleAge is the least idle time before another run's staging entries
	// are swept.
	minStaleAge = time.Hour
)

// Options configures an Engine.
type Options struct {
	BaseURL            string
	MinRequestInterval time.Duration
	RequestTimeout     time.Duration
	Concurrency        int
	ChunkSize          int
	VerifyExisting     bool
}

// DefaultOptions mirrors the pacing the BTS origin tolerates.
func DefaultOptions() Options {
	return Options{
		BaseURL:            DefaultBaseURL,
		MinRequestInterval: time.Second,
		RequestTimeout:     defaultRequestTimeout,
		Concurrency:        defaultConcurrency,
		ChunkSize:          defaultChunkSize,
	}
}

// Engine orchestrates fetch runs.
type Engine struct {
	fetcher   fetcher.Fetcher
	opts      Options
	observers []Observer
}

// NewEngine creates an engine. Zero-valued options other than
// MinRequestInterval take their defaults; a zero interval disables pacing.
func NewEngine(f fetcher.Fetcher, opts Options, observers ...Observer) *Engine {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	return &Engine{fetcher: f, opts: opts, observers: observers}
}

// Run fetches every month in [start, end] into outputDir.
//
// Per-period failures are reported in the summary and never abort the run.
// An invalid range (*InvalidRangeError) or an unusable output directory
// (*StorageError) is returned before any request is made. If ctx is
// cancelled, the complete summary is returned together with the context error.
func (e *Engine) Run(ctx context.Context, start, end Period, outputDir string) (*Summary, error) {
	plan, err := NewPlanner(e.opts.BaseURL, outputDir).Plan(start, end)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, plan, outputDir)
}

// RunPeriods is Run over an explicit list of periods, typically the
// FailedPeriods of an earlier summary.
func (e *Engine) RunPeriods(ctx context.Context, periods []Period, outputDir string) (*Summary, error) {
	plan, err := NewPlanner(e.opts.BaseURL, outputDir).PlanPeriods(periods)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, plan, outputDir)
}

func (e *Engine) execute(ctx context.Context, plan *Plan, outputDir string) (*Summary, error) {
	log := zap.L().With(zap.String("component", "bulkfetch.engine"))

	runDir, err := prepareStorage(outputDir, e.staleAge())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(runDir); err != nil {
			log.Warn("remove staging directory", zap.String("path", runDir), zap.Error(err))
		}
		// Fails while other runs still stage here.
		_ = os.Remove(filepath.Dir(runDir))
	}()

	log.Info("starting download",
		zap.Int("tasks", plan.Len()),
		zap.String("output_dir", outputDir),
		zap.Int("concurrency", e.opts.Concurrency),
		zap.Duration("min_request_interval", e.opts.MinRequestInterval),
	)

	w := &worker{
		gate:      NewGate(e.opts.VerifyExisting),
		limiter:   fetcher.NewAdaptiveLimiter(e.opts.MinRequestInterval),
		retriever: NewRetriever(e.fetcher, runDir, e.opts.RequestTimeout, e.opts.ChunkSize),
	}
	reporter := NewReporter(plan.Len(), e.observers...)

	outcomes := make(chan Outcome, e.opts.Concurrency)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for o := range outcomes {
			reporter.Add(o)
		}
	}()

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for task := range plan.Tasks() {
		g.Go(func() error {
			outcomes <- w.process(ctx, task)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
	close(outcomes)
	<-collected

	aborted := ctx.Err() != nil
	summary := reporter.Finish(aborted)
	if aborted {
		return summary, eris.Wrap(ctx.Err(), "bulkfetch: run aborted")
	}
	return summary, nil
}

// worker holds the per-run components shared by every task.
type worker struct {
	gate      *Gate
	limiter   *fetcher.AdaptiveLimiter
	retriever *Retriever
}

// process runs one task through gate, limiter and retriever.
func (w *worker) process(ctx context.Context, task Task) Outcome {
	if o, ok := w.gate.Check(task); ok {
		return o
	}
	if err := ctx.Err(); err != nil {
		return failed(task, err, 0)
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return failed(task, eris.Wrap(err, "bulkfetch: rate limiter wait"), 0)
	}

	o := w.retriever.Retrieve(ctx, task)
	switch {
	case o.Kind == Succeeded:
		w.limiter.OnSuccess()
	case o.StatusCode == http.StatusTooManyRequests, o.StatusCode == http.StatusServiceUnavailable:
		w.limiter.OnRateLimit()
	}
	return o
}

// staleAge is how long a staging entry must sit untouched before a new run
// treats it as abandoned. An active run touches its directory at least once
// per request timeout plus the widest limiter spacing.
func (e *Engine) staleAge() time.Duration {
	busiest := e.opts.RequestTimeout + e.opts.MinRequestInterval*fetcher.MaxBackoffFactor
	return max(minStaleAge, 2*busiest)
}

// prepareStorage creates the output directory and a private staging directory
// for this run, sweeps staging entries abandoned by interrupted processes, and
// checks the run directory is writable.
func prepareStorage(outputDir string, staleAfter time.Duration) (string, error) {
	if outputDir == "" {
		return "", &StorageError{Path: outputDir, Err: eris.New("output directory not set")}
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", &StorageError{Path: outputDir, Err: err}
	}
	stagingDir := filepath.Join(outputDir, StagingDirName)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return "", &StorageError{Path: stagingDir, Err: err}
	}

	swept, err := sweepStaging(stagingDir, time.Now().Add(-staleAfter))
	if err != nil {
		return "", err
	}
	if swept > 0 {
		zap.L().Info("removed stale staging entries", zap.Int("count", swept))
	}

	runDir, err := os.MkdirTemp(stagingDir, "run-*")
	if err != nil {
		return "", &StorageError{Path: stagingDir, Err: err}
	}
	probe, err := os.CreateTemp(runDir, "probe-*.tmp")
	if err != nil {
		_ = os.RemoveAll(runDir)
		return "", &StorageError{Path: runDir, Err: err}
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		_ = os.RemoveAll(runDir)
		return "", &StorageError{Path: probe.Name(), Err: err}
	}
	return runDir, nil
}

// sweepStaging removes entries of stagingDir last modified before cutoff. A
// run directory counts as modified when any file directly inside it is.
func sweepStaging(stagingDir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		return 0, &StorageError{Path: stagingDir, Err: err}
	}
	swept := 0
	for _, entry := range entries {
		path := filepath.Join(stagingDir, entry.Name())
		if lastModified(path).After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return swept, &StorageError{Path: path, Err: err}
		}
		swept++
	}
	return swept, nil
}

// lastModified returns the newest modification time of path and, for a
// directory, of its immediate children. Entries that vanish mid-scan count as
// recent so a finishing run is left alone.
func lastModified(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Now()
	}
	latest := info.ModTime()
	if !info.IsDir() {
		return latest
	}
	children, err := os.ReadDir(path)
	if err != nil {
		return time.Now()
	}
	for _, child := range children {
		ci, err := child.Info()
		if err != nil {
			return time.Now()
		}
		if ci.ModTime().After(latest) {
			latest = ci.ModTime()
		}
	}
	return latest
}
