package benchmark

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/guestbench/guestbench/metrics"
	"github.com/guestbench/guestbench/target"
)

// The unparsed output of one workload execution on one target. Transient;
// discarded after parsing.
type RawRunResult struct {
	Stdout []byte
	Stderr []byte

	// Content of the retrieved output artifact. This is what gets parsed.
	Output []byte
}

// Runner executes one descriptor on one target using the two-step protocol:
// run the workload and validate its success marker, then separately retrieve
// the output artifact. The split exists because a workload's own streams may
// be noisy or conflated, so correctness of the run is validated
// independently from the retrieval of machine-readable results. The artifact
// is removed after reading so repeated runs stay idempotent.
type Runner struct {
	// Applied to each execution. The remote session offers no inherent
	// cancellation, so an unbounded run would hang the whole scenario.
	Timeout time.Duration
}

func (r *Runner) Run(ctx context.Context, t target.Target, d *Descriptor) (*RawRunResult, error) {
	slog.Debug("running workload",
		slog.String("benchmark", d.Name),
		slog.String("target", string(t.Kind())),
		slog.String("command", d.Command))

	stdout, stderr, err := r.runStep(ctx, t, d.Command, d.Env)
	if err != nil {
		return nil, fmt.Errorf("running workload failed: %w", err)
	}

	marked := stdout
	if d.MarkerStream == OnStderr {
		marked = stderr
	}
	if !bytes.Contains(marked, []byte(d.SuccessMarker)) {
		return nil, &RunFailedError{Benchmark: d.Name, Marker: d.SuccessMarker, Stdout: stdout, Stderr: stderr}
	}

	res := &RawRunResult{Stdout: stdout, Stderr: stderr}

	if d.OutputPath == "" {
		res.Output = stdout
		return res, nil
	}

	collectCmd := fmt.Sprintf("cat %s && rm %s", d.OutputPath, d.OutputPath)
	out, errOut, err := r.runStep(ctx, t, collectCmd, nil)
	if err != nil {
		return nil, fmt.Errorf("collecting results failed: %w", err)
	}
	if len(bytes.TrimSpace(errOut)) > 0 {
		return nil, &CollectError{Benchmark: d.Name, Stderr: errOut}
	}

	res.Output = out
	slog.Debug("collected workload results",
		slog.String("benchmark", d.Name),
		slog.String("target", string(t.Kind())),
		slog.Int("bytes", len(out)))
	return res, nil
}

// RunAll executes every descriptor Runs times and merges the parsed records
// into one Record for the target, averaging repeated observations.
func (r *Runner) RunAll(ctx context.Context, t target.Target, descriptors []*Descriptor, runs int) (metrics.Record, error) {
	record := metrics.Record{}
	for _, d := range descriptors {
		var reps []metrics.Record
		for i := 0; i < max(runs, 1); i++ {
			raw, err := r.Run(ctx, t, d)
			if err != nil {
				return nil, err
			}
			rec, err := d.Parse(raw.Output)
			if err != nil {
				return nil, err
			}
			reps = append(reps, rec)
		}

		rec, err := metrics.Mean(reps)
		if err != nil {
			return nil, err
		}
		if err := record.Merge(rec); err != nil {
			return nil, err
		}
	}
	return record, nil
}

func (r *Runner) runStep(ctx context.Context, t target.Target, cmd string, env map[string]string) ([]byte, []byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	return t.RunCommand(ctx, cmd, env)
}
