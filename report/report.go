// Package report holds the terminal artifacts of benchmark scenarios and
// formats them for humans and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/guestbench/guestbench/compare"
	"github.com/guestbench/guestbench/metrics"
)

type ScenarioReport struct {
	Name  string
	Input map[string]any

	// Which stage failed: "setup", "host run", "guest run", "compare".
	// Empty when the scenario ran to completion.
	FailedStage string
	Error       string // non-empty iff the scenario failed

	Host       metrics.Record
	Guest      metrics.Record
	Comparison *compare.Result
}

// Passed reports whether the scenario completed and met its target ratio.
func (r *ScenarioReport) Passed() bool {
	return r.Error == "" && r.Comparison != nil && r.Comparison.Pass
}

type Report struct {
	Scenarios []*ScenarioReport
}

// Passed reports whether every scenario passed.
func (r *Report) Passed() bool {
	for _, s := range r.Scenarios {
		if !s.Passed() {
			return false
		}
	}
	return len(r.Scenarios) > 0
}

// WriteJSON writes the full report, raw records included, as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteSummary writes a markdown comparison table.
func WriteSummary(w io.Writer, r *Report) error {
	if len(r.Scenarios) == 0 {
		return fmt.Errorf("no scenarios to report")
	}

	fmt.Fprintln(w, "## Benchmark Results")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Scenario | Metric | Host | Guest | Ratio | Target | Verdict |")
	fmt.Fprintln(w, "|----------|--------|------|-------|-------|--------|---------|")

	for _, s := range r.Scenarios {
		if s.Error != "" {
			fmt.Fprintf(w, "| %s | - | - | - | - | - | ERROR (%s) |\n", s.Name, s.FailedStage)
			continue
		}
		for _, mc := range s.Comparison.Metrics {
			fmt.Fprintf(w, "| %s | %s | %.4g | %.4g | %.4f | %.2f | %s |\n",
				s.Name, mc.Key, mc.Host, mc.Guest, mc.Ratio,
				s.Comparison.TargetRatio, verdict(s, mc))
		}
	}

	failed := false
	for _, s := range r.Scenarios {
		if s.Error != "" {
			failed = true
			fmt.Fprintln(w)
			fmt.Fprintf(w, "### %s failed during %s\n", s.Name, s.FailedStage)
			fmt.Fprintln(w)
			fmt.Fprintf(w, "```\n%s\n```\n", s.Error)
		}
	}
	if !failed {
		fmt.Fprintln(w)
		if r.Passed() {
			fmt.Fprintln(w, "Overall: **PASS**")
		} else {
			fmt.Fprintln(w, "Overall: **FAIL**")
		}
	}
	return nil
}

func verdict(s *ScenarioReport, mc compare.MetricComparison) string {
	if h := s.Comparison.Headline; h != nil && mc.Key != *h {
		return "info"
	}
	if mc.Pass {
		return "PASS"
	}
	return "FAIL"
}
