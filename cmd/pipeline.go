package main

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ontime-cli/internal/bulkfetch"
	"github.com/sells-group/ontime-cli/internal/fetcher"
	"github.com/sells-group/ontime-cli/internal/ledger"
	"github.com/sells-group/ontime-cli/internal/metrics"
	"github.com/sells-group/ontime-cli/internal/monitoring"
	"github.com/sells-group/ontime-cli/internal/resilience"
)

// fetchJob is one CLI-driven engine invocation, including its retry rounds.
type fetchJob struct {
	command   string
	label     string
	planned   int
	outputDir string
	opts      bulkfetch.Options
	retry     resilience.RetryConfig
	report    string

	// first runs the initial round; later rounds re-run the transient
	// failures through RunPeriods.
	first func(ctx context.Context, e *bulkfetch.Engine) (*bulkfetch.Summary, error)
}

// fetchResult is what a finished job leaves behind.
type fetchResult struct {
	RunID   string
	Rounds  int
	Summary *bulkfetch.Summary
}

// engineOptions maps the fetch config onto engine options.
func engineOptions() bulkfetch.Options {
	return bulkfetch.Options{
		BaseURL:            cfg.Fetch.BaseURL,
		MinRequestInterval: cfg.Fetch.MinRequestInterval,
		RequestTimeout:     cfg.Fetch.RequestTimeout,
		Concurrency:        cfg.Fetch.Concurrency,
		ChunkSize:          cfg.Fetch.ChunkSize,
		VerifyExisting:     cfg.Fetch.VerifyExisting,
	}
}

// newFetcher builds the origin transport from the fetch config.
func newFetcher() fetcher.Fetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.Fetch.RequestTimeout,
	})
}

// retryConfig maps the retry config onto resilience settings.
func retryConfig(rounds int) resilience.RetryConfig {
	return resilience.FromRounds(rounds, cfg.Retry.InitialBackoff, cfg.Retry.MaxBackoff)
}

// runFetchJob executes job against f: it opens a ledger run, drives the
// engine with metrics and ledger observers attached, re-runs transient
// failures for the configured rounds, then exports metrics, raises alerts,
// writes the optional report and prints the summary to out.
//
// A nil result is returned only when the engine refused to start.
func runFetchJob(ctx context.Context, job fetchJob, f fetcher.Fetcher, out io.Writer) (*fetchResult, error) {
	log := zap.L().With(zap.String("command", job.command))

	store, err := openLedger(ctx)
	if err != nil {
		return nil, err
	}
	if store != nil {
		defer store.Close() //nolint:errcheck
	}

	res := &fetchResult{RunID: uuid.NewString()}
	collector := metrics.NewCollector()
	observers := []bulkfetch.Observer{collector}

	var recorder *ledger.Recorder
	if store != nil {
		run, err := store.StartRun(ctx, ledger.RunSpec{
			Command: job.command,
			Label:   job.label,
			Planned: job.planned,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "%s: start ledger run", job.command)
		}
		res.RunID = run.ID
		recorder = ledger.NewRecorder(ctx, store, run.ID)
		observers = append(observers, recorder)
	}
	log = log.With(zap.String("run_id", res.RunID))

	log.Info("starting fetch",
		zap.String("range", job.label),
		zap.Int("planned", job.planned),
		zap.String("output_dir", job.outputDir),
		zap.Int("concurrency", job.opts.Concurrency),
		zap.Duration("min_request_interval", job.opts.MinRequestInterval),
		zap.Int("retry_attempts", job.retry.MaxAttempts),
	)

	engine := bulkfetch.NewEngine(f, job.opts, observers...)
	summary, rounds, runErr := runRounds(ctx, engine, job)
	res.Summary, res.Rounds = summary, rounds

	// Bookkeeping outlives a cancelled run.
	bg := context.WithoutCancel(ctx)
	if store != nil {
		if err := store.CompleteRun(bg, res.RunID, summary, runErr); err != nil {
			log.Error("ledger: complete run", zap.Error(err))
		}
		if n := recorder.Dropped(); n > 0 {
			log.Warn("ledger: outcomes not recorded", zap.Int("dropped", n), zap.Error(recorder.Err()))
		}
	}

	if summary == nil {
		return nil, runErr
	}

	collector.RecordRun(summary)
	if cfg.Metrics.Textfile != "" {
		if err := collector.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Error("metrics export failed", zap.Error(err))
		}
	}

	alerter := monitoring.NewAlerter(cfg.Monitoring)
	if alerts := alerter.Evaluate(res.RunID, summary); len(alerts) > 0 {
		sent := alerter.SendAlerts(bg, alerts)
		log.Info("alerts raised", zap.Int("alerts", len(alerts)), zap.Int("sent", sent))
	}

	if job.report != "" {
		if err := writeReport(job.report, newRunReport(job, res)); err != nil {
			return res, err
		}
		log.Info("report written", zap.String("path", job.report))
	}

	printSummary(out, res)
	return res, runErr
}

// errTransientLeft marks a round that left transient failures behind.
var errTransientLeft = errors.New("transient failures remain")

// runRounds runs the first round and then re-invokes the engine on the
// transient failures while the retry budget allows. Each round's outcomes
// replace the earlier ones for the same periods. It returns the merged
// summary, the number of rounds run and the engine error of the last round.
func runRounds(ctx context.Context, engine *bulkfetch.Engine, job fetchJob) (*bulkfetch.Summary, int, error) {
	var (
		summary *bulkfetch.Summary
		runErr  error
		rounds  int
	)

	rc := job.retry
	rc.OnRetry = resilience.RetryLogger(job.command + " round")
	rc.ShouldRetry = func(err error) bool { return errors.Is(err, errTransientLeft) }

	_ = resilience.Do(ctx, rc, func(ctx context.Context) error {
		var s *bulkfetch.Summary
		if summary == nil {
			s, runErr = job.first(ctx, engine)
		} else {
			s, runErr = engine.RunPeriods(ctx, summary.TransientPeriods(), job.outputDir)
		}
		rounds++
		switch {
		case s == nil:
		case summary == nil:
			summary = s
		default:
			summary = summary.Merge(s)
		}
		if runErr != nil {
			return runErr
		}
		if n := len(summary.TransientPeriods()); n > 0 {
			return resilience.NewTransientError(eris.Wrapf(errTransientLeft, "%d periods", n), 0)
		}
		return nil
	})
	return summary, rounds, runErr
}
