// Package stressng benchmarks CPU emulation by running the same stress-ng
// job files pinned on the host and inside the guest, comparing
// bogo-ops-per-second throughput.
package stressng

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"

	goversion "github.com/hashicorp/go-version"
	"github.com/mitchellh/mapstructure"

	"github.com/guestbench/guestbench/benchmark"
	"github.com/guestbench/guestbench/compare"
	"github.com/guestbench/guestbench/metrics"
	"github.com/guestbench/guestbench/target"
	"github.com/guestbench/guestbench/util"
)

// stress-ng prints this on stderr when a job completes; its stdout is
// multiplexed into stderr, so stderr is the stream to validate.
const successMsg = "successful run completed"

const targetMetric = "bogo-ops-per-second-real-time"

// First release whose --yaml output carries per-stressor metrics.
const minStressNGVersion = "0.09.50"

var versionRe = regexp.MustCompile(`\d+\.\d+\.\d+`)

type StressNGBenchmarkInput struct {
	Name string

	// Directory of stress-ng job files; each file becomes one compared metric.
	JobsDir string

	// Where job files are staged on the guest. Defaults to /tmp.
	RemoteDir string

	// CPUs the workload is pinned to with taskset.
	HostCPU  int
	GuestCPU int

	// Defaults to 0.95.
	TargetRatio float64
}

type bmark struct {
	input     *StressNGBenchmarkInput
	bc        *benchmark.BenchmarkContext
	jobs      []string
	remoteDir string
}

func init() {
	benchmark.RegisterBenchmark("stress-ng", func(a map[string]any) (benchmark.Benchmark, error) {
		input := &StressNGBenchmarkInput{}
		err := mapstructure.Decode(a, input)
		if err != nil {
			return nil, fmt.Errorf("can't convert input to StressNGBenchmarkInput: %w", err)
		}
		return NewStressNGBenchmark(input), nil
	})
}

func NewStressNGBenchmark(input *StressNGBenchmarkInput) benchmark.Benchmark {
	if input.RemoteDir == "" {
		input.RemoteDir = "/tmp"
	}
	if input.TargetRatio == 0 {
		input.TargetRatio = 0.95
	}
	return &bmark{input: input}
}

func (b *bmark) SetUp(ctx context.Context, bc *benchmark.BenchmarkContext) error {
	b.bc = bc

	for _, t := range []target.Target{bc.Host, bc.Guest} {
		if err := checkVersion(ctx, t); err != nil {
			return err
		}
	}

	entries, err := os.ReadDir(b.input.JobsDir)
	if err != nil {
		return fmt.Errorf("reading job dir failed: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("job dir %s contains no job files", b.input.JobsDir)
	}

	b.remoteDir = path.Join(b.input.RemoteDir, "configs-"+util.Randstring(8))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f, err := os.Open(filepath.Join(b.input.JobsDir, entry.Name()))
		if err != nil {
			return err
		}
		err = bc.Guest.CopyFileTo(ctx, f, path.Join(b.remoteDir, entry.Name()))
		f.Close()
		if err != nil {
			return fmt.Errorf("copying job %s to guest failed: %w", entry.Name(), err)
		}
		b.jobs = append(b.jobs, entry.Name())
	}

	slog.Info("staged stress-ng jobs on guest",
		slog.String("benchmark", b.input.Name),
		slog.Int("jobs", len(b.jobs)),
		slog.String("remoteDir", b.remoteDir))
	return nil
}

func (b *bmark) Descriptors(kind target.Kind) ([]*benchmark.Descriptor, error) {
	if len(b.jobs) == 0 {
		return nil, fmt.Errorf("benchmark %s was not set up", b.input.Name)
	}

	cpu := b.input.HostCPU
	jobDir := b.input.JobsDir
	join := filepath.Join
	if kind == target.Guest {
		cpu = b.input.GuestCPU
		jobDir = b.remoteDir
		join = path.Join
	}

	var ds []*benchmark.Descriptor
	for _, job := range b.jobs {
		out := fmt.Sprintf("out-%s.yaml", util.Randstring(8))
		ds = append(ds, &benchmark.Descriptor{
			Name:          job,
			Command:       fmt.Sprintf("taskset -c %d stress-ng --job %s --yaml %s", cpu, join(jobDir, job), out),
			SuccessMarker: successMsg,
			MarkerStream:  benchmark.OnStderr,
			OutputPath:    out,
			Parse:         parseJob(job),
		})
	}
	return ds, nil
}

func (b *bmark) TearDown(ctx context.Context) error {
	if b.remoteDir == "" {
		return nil
	}
	_, _, err := b.bc.Guest.RunCommand(ctx, fmt.Sprintf("rm -rf %s", b.remoteDir), nil)
	return err
}

func (b *bmark) Name() string {
	return b.input.Name
}

func (b *bmark) TargetRatio() float64 {
	return b.input.TargetRatio
}

// Every job's metric gates the verdict.
func (b *bmark) Headline() *compare.Key {
	return nil
}

func (b *bmark) LowerIsBetter() bool {
	return false
}

func (b *bmark) Input() map[string]any {
	return util.StructMap(b.input)
}

// The --yaml artifact has a metrics list with one entry per stressor; a job
// file runs a single stressor, so the first entry holds the result.
type yamlOutput struct {
	Metrics []map[string]any `yaml:"metrics"`
}

func parseJob(job string) func(raw []byte) (metrics.Record, error) {
	return func(raw []byte) (metrics.Record, error) {
		out := yamlOutput{}
		if err := metrics.DecodeStructured(raw, &out); err != nil {
			return nil, err
		}
		if len(out.Metrics) == 0 {
			return nil, &metrics.ParseError{Reason: "no metrics in stress-ng output", Raw: raw}
		}

		v, err := toFloat(out.Metrics[0][targetMetric])
		if err != nil {
			return nil, &metrics.ParseError{Reason: fmt.Sprintf("metric %q: %v", targetMetric, err), Raw: raw}
		}

		record := metrics.Record{}
		record.Set(job, targetMetric, v)
		return record, nil
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case nil:
		return 0, fmt.Errorf("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func checkVersion(ctx context.Context, t target.Target) error {
	stdout, _, err := t.RunCommand(ctx, "stress-ng --version", nil)
	if err != nil {
		return fmt.Errorf("stress-ng not usable on %s: %w", t.Kind(), err)
	}

	raw := versionRe.FindString(util.LastNonEmptyLine(stdout))
	if raw == "" {
		return fmt.Errorf("can't find stress-ng version on %s in %q", t.Kind(), stdout)
	}

	v, err := goversion.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("parsing stress-ng version on %s failed: %w", t.Kind(), err)
	}
	min := goversion.Must(goversion.NewVersion(minStressNGVersion))
	if v.LessThan(min) {
		return fmt.Errorf("stress-ng %s on %s is too old for --yaml output, need at least %s", v, t.Kind(), min)
	}
	return nil
}
