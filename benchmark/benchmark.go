package benchmark

import (
	"context"
	"fmt"

	"github.com/guestbench/guestbench/compare"
	"github.com/guestbench/guestbench/metrics"
	"github.com/guestbench/guestbench/target"
)

// BenchmarkContext carries the two execution targets a benchmark compares.
// The guest target wraps a session the caller has already established; this
// package never boots VMs or configures networking.
type BenchmarkContext struct {
	Host  target.Target
	Guest target.Target

	// Local scratch directory for compiled binaries and retrieved artifacts.
	WorkDir string
}

// Which captured stream the success marker is expected on. Some tools
// multiplex their stdout into stderr (stress-ng), so the run step's
// correctness is validated on the stream the tool actually reports on.
type MarkerStream string

const (
	OnStdout MarkerStream = "stdout"
	OnStderr MarkerStream = "stderr"
)

// A Descriptor is one concrete workload invocation on one target: the
// command, how to tell it succeeded, where it leaves its output artifact,
// and how to parse that artifact. Descriptors are built per target because
// paths and CPU pinning differ between host and guest.
type Descriptor struct {
	// Names the metrics this run contributes (e.g. the job file name).
	Name string

	Command string
	Env     map[string]string

	SuccessMarker string
	MarkerStream  MarkerStream

	// Remote path of the output artifact, retrieved and then removed in the
	// separate collection step.
	OutputPath string

	Parse func(raw []byte) (metrics.Record, error)
}

type Benchmark interface {
	// Set up the benchmark. May involve compiling binaries or copying files
	// onto the guest.
	SetUp(ctx context.Context, bc *BenchmarkContext) error

	// The workload invocations for one side of the comparison. Called once
	// per target; each descriptor gets its own output artifact path.
	Descriptors(kind target.Kind) ([]*Descriptor, error)

	// Remove anything SetUp left on the guest.
	TearDown(ctx context.Context) error

	// A human-friendly name. Only used for reports and logging.
	Name() string

	// Minimum acceptable guest/host score for a PASS verdict.
	TargetRatio() float64

	// Non-nil when a single metric gates the verdict.
	Headline() *compare.Key

	// True for metrics where a smaller value is the better one (latencies).
	LowerIsBetter() bool

	// Any input given to this benchmark by the user. Included in the report.
	Input() map[string]any
}

type benchmarkType string

type benchmarkFactory func(map[string]any) (Benchmark, error)

var benchmarks map[benchmarkType]benchmarkFactory

// All benchmarks must register themselves at module load time so that
// deserialization can create a benchmark of that type.
func RegisterBenchmark(btype string, f benchmarkFactory) {
	if benchmarks == nil {
		benchmarks = map[benchmarkType]benchmarkFactory{}
	}
	benchmarks[benchmarkType(btype)] = f
}

type SerializedBenchmark struct {
	Type  benchmarkType
	Input map[string]any
}

type BenchmarkFile []SerializedBenchmark

func DeserializeBenchmark(sb *SerializedBenchmark) (Benchmark, error) {
	f, ok := benchmarks[sb.Type]
	if !ok {
		return nil, fmt.Errorf("unknown benchmark type: %s", sb.Type)
	}
	return f(sb.Input)
}
