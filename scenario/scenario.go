// Package scenario runs one benchmark on both execution targets and
// evaluates the guest/host comparison.
package scenario

import (
	"context"
	"log/slog"
	"time"

	"github.com/guestbench/guestbench/benchmark"
	"github.com/guestbench/guestbench/compare"
	"github.com/guestbench/guestbench/metrics"
	"github.com/guestbench/guestbench/report"
	"github.com/guestbench/guestbench/target"
)

type Config struct {
	Host  target.Target
	Guest target.Target

	// Local scratch directory for compiled binaries and artifacts.
	WorkDir string

	// Applied to each individual command execution.
	Timeout time.Duration

	// How many times each workload runs per target; observations are
	// averaged before comparison. 1 by default.
	Runs int
}

// Run executes the benchmark on the host, then on the guest, then compares.
// The host run completes fully, including artifact retrieval, before the
// guest run begins. Failures are terminal: the report names the failing
// stage and carries the error, and nothing is retried.
func Run(ctx context.Context, b benchmark.Benchmark, cfg *Config) *report.ScenarioReport {
	slog.Info("starting scenario", slog.String("name", b.Name()))
	rep := &report.ScenarioReport{Name: b.Name(), Input: b.Input()}

	bc := &benchmark.BenchmarkContext{Host: cfg.Host, Guest: cfg.Guest, WorkDir: cfg.WorkDir}
	if err := b.SetUp(ctx, bc); err != nil {
		return fail(rep, "setup", err)
	}
	defer func() {
		if err := b.TearDown(ctx); err != nil {
			slog.Warn("scenario teardown failed", slog.String("name", b.Name()), slog.String("error", err.Error()))
		}
	}()

	runner := &benchmark.Runner{Timeout: cfg.Timeout}

	hostRecord, err := runSide(ctx, runner, cfg.Host, b, cfg.Runs)
	if err != nil {
		return fail(rep, "host run", err)
	}
	rep.Host = hostRecord

	guestRecord, err := runSide(ctx, runner, cfg.Guest, b, cfg.Runs)
	if err != nil {
		return fail(rep, "guest run", err)
	}
	rep.Guest = guestRecord

	cmp, err := compare.Evaluate(hostRecord, guestRecord, b.TargetRatio(), b.Headline(), b.LowerIsBetter())
	if err != nil {
		return fail(rep, "compare", err)
	}
	rep.Comparison = cmp

	slog.Info("finished scenario", slog.String("name", b.Name()), slog.Bool("pass", cmp.Pass))
	return rep
}

func runSide(ctx context.Context, r *benchmark.Runner, t target.Target, b benchmark.Benchmark, runs int) (metrics.Record, error) {
	ds, err := b.Descriptors(t.Kind())
	if err != nil {
		return nil, err
	}
	return r.RunAll(ctx, t, ds, runs)
}

func fail(rep *report.ScenarioReport, stage string, err error) *report.ScenarioReport {
	slog.Error("scenario failed",
		slog.String("name", rep.Name),
		slog.String("stage", stage),
		slog.String("error", err.Error()))
	rep.FailedStage = stage
	rep.Error = err.Error()
	return rep
}
