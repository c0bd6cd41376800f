package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ontime-cli/internal/bulkfetch"
)

// runReport is the machine-readable record written by --report.
type runReport struct {
	RunID     string            `json:"run_id" yaml:"run_id"`
	Command   string            `json:"command" yaml:"command"`
	Range     string            `json:"range" yaml:"range"`
	OutputDir string            `json:"output_dir" yaml:"output_dir"`
	Rounds    int               `json:"rounds" yaml:"rounds"`
	Summary   bulkfetch.Summary `json:"summary" yaml:"summary"`
}

func newRunReport(job fetchJob, res *fetchResult) runReport {
	return runReport{
		RunID:     res.RunID,
		Command:   job.command,
		Range:     job.label,
		OutputDir: job.outputDir,
		Rounds:    res.Rounds,
		Summary:   *res.Summary,
	}
}

// writeReport encodes r as YAML or JSON, chosen by the extension of path.
func writeReport(path string, r runReport) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(r)
	case ".json":
		data, err = json.MarshalIndent(r, "", "  ")
		data = append(data, '\n')
	default:
		return eris.Errorf("report: unsupported extension %q (use .json, .yaml or .yml)", filepath.Ext(path))
	}
	if err != nil {
		return eris.Wrap(err, "report: encode")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "report: create dir %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "report: write %s", path)
	}
	return nil
}

// printSummary writes the human-readable end-of-run summary.
func printSummary(out io.Writer, res *fetchResult) {
	s := res.Summary
	p := message.NewPrinter(language.English)

	_, _ = p.Fprintf(out, "Run %s finished in %s", res.RunID, s.Elapsed().Round(time.Millisecond))
	if res.Rounds > 1 {
		_, _ = p.Fprintf(out, " (%d rounds)", res.Rounds)
	}
	_, _ = p.Fprintln(out)
	_, _ = p.Fprintf(out, "  total:               %d\n", s.Total)
	_, _ = p.Fprintf(out, "  already present:     %d\n", s.AlreadySatisfied)
	_, _ = p.Fprintf(out, "  downloaded:          %d\n", s.Succeeded)
	_, _ = p.Fprintf(out, "  not available:       %d\n", s.SkippedUnavailable)
	_, _ = p.Fprintf(out, "  failed:              %d\n", s.Failed)
	_, _ = p.Fprintf(out, "  bytes downloaded:    %d (%.1f MB)\n", s.Bytes, float64(s.Bytes)/(1024*1024))
	if s.Aborted {
		_, _ = p.Fprintln(out, "  run was interrupted; start it again to resume")
	}
	if failed := s.FailedPeriods(); len(failed) > 0 {
		_, _ = p.Fprintf(out, "  missing periods:     %s\n", joinPeriods(failed))
	}
}

func joinPeriods(periods []bulkfetch.Period) string {
	parts := make([]string, len(periods))
	for i, p := range periods {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}
