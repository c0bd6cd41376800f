//go:build !integration

package main

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ontime-cli/internal/bulkfetch"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name       string
		from, to   string
		start, end bulkfetch.Period
		wantErr    bool
	}{
		{name: "months", from: "2024-01", to: "2024-03", start: p(2024, time.January), end: p(2024, time.March)},
		{name: "years", from: "2020", to: "2024", start: p(2020, time.January), end: p(2024, time.December)},
		{name: "mixed", from: "2023", to: "2023-06", start: p(2023, time.January), end: p(2023, time.June)},
		{name: "whitespace", from: " 2024-02 ", to: "2024-02", start: p(2024, time.February), end: p(2024, time.February)},
		{name: "bad from", from: "Jan", to: "2024", wantErr: true},
		{name: "bad to month", from: "2024-01", to: "2024-13", wantErr: true},
		{name: "zero year", from: "0", to: "2024", wantErr: true},
		{name: "empty", from: "", to: "2024", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := parseRange(tt.from, tt.to)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}
}

func TestParseRange_ReversedIsLeftToPlanner(t *testing.T) {
	start, end, err := parseRange("2024-05", "2024-01")
	require.NoError(t, err)

	_, err = bulkfetch.NewPlanner("", "out").Plan(start, end)
	var ire *bulkfetch.InvalidRangeError
	assert.ErrorAs(t, err, &ire)
}

func newFetchFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("fetch", pflag.ContinueOnError)
	addFetchFlags(fs)
	return fs
}

func TestApplyFetchFlags_OverridesOnlyChanged(t *testing.T) {
	useTestConfig(t, "http://127.0.0.1:1/")
	cfg.Retry.Rounds = 2
	origOut := cfg.Fetch.OutputDir

	fs := newFetchFlagSet()
	require.NoError(t, fs.Parse([]string{"--concurrency", "8", "--interval", "250ms", "--report", "run.yaml", "--strict"}))

	rf := applyFetchFlags(fs)
	assert.Equal(t, origOut, cfg.Fetch.OutputDir)
	assert.Equal(t, 8, cfg.Fetch.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Fetch.MinRequestInterval)
	assert.False(t, cfg.Fetch.VerifyExisting)
	assert.Equal(t, 2, rf.rounds)
	assert.Equal(t, "run.yaml", rf.report)
	assert.True(t, rf.strict)
}

func TestApplyFetchFlags_RetryRoundsAndOut(t *testing.T) {
	useTestConfig(t, "http://127.0.0.1:1/")

	fs := newFetchFlagSet()
	require.NoError(t, fs.Parse([]string{"--out", "/tmp/ontime", "--retry-rounds", "3", "--verify-existing"}))

	rf := applyFetchFlags(fs)
	assert.Equal(t, "/tmp/ontime", cfg.Fetch.OutputDir)
	assert.True(t, cfg.Fetch.VerifyExisting)
	assert.Equal(t, 3, cfg.Retry.Rounds)
	assert.Equal(t, 3, rf.rounds)
	assert.False(t, rf.strict)

	opts := engineOptions()
	assert.True(t, opts.VerifyExisting)
	assert.Equal(t, 4, retryConfig(rf.rounds).MaxAttempts)
}

func TestRunFlags_Check(t *testing.T) {
	failed := &fetchResult{Summary: &bulkfetch.Summary{
		Total:  2,
		Failed: 1,
		Failures: []bulkfetch.Failure{
			{Period: p(2024, time.March), Kind: bulkfetch.Failed},
		},
	}}
	clean := &fetchResult{Summary: &bulkfetch.Summary{Total: 2, Succeeded: 2}}

	assert.NoError(t, runFlags{}.check(failed))
	assert.NoError(t, runFlags{strict: true}.check(clean))

	err := runFlags{strict: true}.check(failed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2024-03")
}
