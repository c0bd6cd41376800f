//go:build !integration

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sells-group/ontime-cli/internal/bulkfetch"
	"github.com/sells-group/ontime-cli/internal/config"
)

// testOrigin serves archives by remote name. A name listed in truncate has
// its first responses cut off mid-body.
type testOrigin struct {
	mu       sync.Mutex
	archives map[string][]byte
	truncate map[string]int
	requests map[string]int
	srv      *httptest.Server
}

func newTestOrigin(t *testing.T) *testOrigin {
	t.Helper()
	o := &testOrigin{
		archives: make(map[string][]byte),
		truncate: make(map[string]int),
		requests: make(map[string]int),
	}
	o.srv = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *testOrigin) serve(w http.ResponseWriter, r *http.Request) {
	name := path.Base(r.URL.Path)

	o.mu.Lock()
	o.requests[name]++
	body, ok := o.archives[name]
	cut := o.truncate[name] > 0
	if cut {
		o.truncate[name]--
	}
	o.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if cut {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		w.Write(body[:len(body)/4]) //nolint:errcheck
		w.(http.Flusher).Flush()
		if conn, _, err := w.(http.Hijacker).Hijack(); err == nil {
			conn.Close() //nolint:errcheck
		}
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(body) //nolint:errcheck
}

func (o *testOrigin) serveArchive(p bulkfetch.Period) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.archives[bulkfetch.RemoteName(p)] = bytes.Repeat([]byte(p.String()+";"), 1024)
}

func (o *testOrigin) truncateFirst(p bulkfetch.Period, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.truncate[bulkfetch.RemoteName(p)] = n
}

func (o *testOrigin) requestsFor(p bulkfetch.Period) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requests[bulkfetch.RemoteName(p)]
}

// useTestConfig installs a config pointing at baseURL with every file under
// a temp dir, and restores the previous config when the test ends.
func useTestConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	prev := cfg
	cfg = &config.Config{
		Fetch: config.FetchConfig{
			BaseURL:        baseURL,
			OutputDir:      filepath.Join(dir, "data"),
			RequestTimeout: 5 * time.Second,
			Concurrency:    2,
			ChunkSize:      1024,
			UserAgent:      "test-agent",
		},
		Retry: config.RetryConfig{
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
		Ledger: config.LedgerConfig{
			Driver:      config.LedgerSQLite,
			DatabaseURL: filepath.Join(dir, "ledger.db"),
		},
		Log:     config.LogConfig{Level: "info", Format: "json"},
		Metrics: config.MetricsConfig{Textfile: filepath.Join(dir, "ontime.prom")},
		Monitoring: config.MonitoringConfig{
			FailureRateThreshold: 0.25,
		},
	}
	t.Cleanup(func() { cfg = prev })
	return dir
}

// rangeJob builds the job the fetch command would run for [start, end].
func rangeJob(start, end bulkfetch.Period, rounds int) fetchJob {
	outputDir := cfg.Fetch.OutputDir
	return fetchJob{
		command:   "fetch",
		label:     start.String() + ".." + end.String(),
		planned:   bulkfetch.MonthsBetween(start, end),
		outputDir: outputDir,
		opts:      engineOptions(),
		retry:     retryConfig(rounds),
		first: func(ctx context.Context, e *bulkfetch.Engine) (*bulkfetch.Summary, error) {
			return e.Run(ctx, start, end, outputDir)
		},
	}
}

func p(year int, month time.Month) bulkfetch.Period {
	return bulkfetch.NewPeriod(year, month)
}
