package scenario

import (
	"context"

	"github.com/alitto/pond"

	"github.com/guestbench/guestbench/benchmark"
	"github.com/guestbench/guestbench/report"
)

// A Suite runs a set of benchmark scenarios against one host/guest pair.
// Concurrency defaults to 1, which keeps every scenario fully sequential;
// each run uses its own output artifact paths, so raising it is safe when
// the workloads themselves do not contend.
type Suite struct {
	benchmarks  []benchmark.Benchmark
	concurrency int
}

func NewSuite(concurrency int) *Suite {
	return &Suite{concurrency: max(concurrency, 1)}
}

func (s *Suite) Add(b benchmark.Benchmark) {
	s.benchmarks = append(s.benchmarks, b)
}

// Run executes every scenario and collects the reports in insertion order.
// onDone, if non-nil, is called after each scenario completes.
func (s *Suite) Run(ctx context.Context, cfg *Config, onDone func(*report.ScenarioReport)) *report.Report {
	results := make([]*report.ScenarioReport, len(s.benchmarks))

	pool := pond.New(s.concurrency, 0, pond.MinWorkers(s.concurrency))
	for i, b := range s.benchmarks {
		i, b := i, b
		pool.Submit(func() {
			results[i] = Run(ctx, b, cfg)
			if onDone != nil {
				onDone(results[i])
			}
		})
	}
	pool.StopAndWait()

	return &report.Report{Scenarios: results}
}
