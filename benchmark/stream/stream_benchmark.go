// Package stream benchmarks memory emulation with the STREAM kernels
// (Copy, Scale, Add, Triad), compiled locally and run on both targets with
// thread affinity passed as per-invocation environment.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/mitchellh/mapstructure"

	"github.com/guestbench/guestbench/benchmark"
	"github.com/guestbench/guestbench/compare"
	"github.com/guestbench/guestbench/metrics"
	"github.com/guestbench/guestbench/target"
	"github.com/guestbench/guestbench/util"
)

const (
	binaryName = "stream_mpi"

	// OpenMP runtime the binary links against; copied to the same path on
	// the guest.
	defaultLibPath = "/usr/lib/x86_64-linux-gnu/libgomp.so.1"

	compileCmd = "gcc -ffreestanding -fopenmp -mcmodel=medium -O3 -march=znver1" +
		" -DSTREAM_ARRAY_SIZE=%d -DNTIMES=%d -DOFFSET=%d %s -o %s"

	ntimes      = 100
	arrayOffset = 512

	validateMsg = "Solution Validates"
)

// The result table sits at a fixed distance from the end of the output;
// counting from the end tolerates the variable-length configuration banner.
var kernelRows = []metrics.RowRule{
	{Metric: "Copy", LineOffset: -8},
	{Metric: "Scale", LineOffset: -7},
	{Metric: "Add", LineOffset: -6},
	{Metric: "Triad", LineOffset: -5},
}

var resultColumns = []metrics.ColumnRule{
	{Value: "Best Rate MB/s", Column: 1},
	{Value: "Avg time", Column: 2},
	{Value: "Min time", Column: 3},
	{Value: "Max time", Column: 4},
}

// Only the headline rate gates the verdict; the time columns are
// informational (a time ratio has inverted semantics).
var headline = compare.Key{Metric: "Triad", Value: "Best Rate MB/s"}

var l3CacheRe = regexp.MustCompile(`\d+K`)

type StreamBenchmarkInput struct {
	Name string

	// Path to stream.c, compiled during SetUp.
	SourcePath string

	// Threads the benchmark runs with. Defaults to 1.
	Vcpus int

	// Elements per array. Defaults to 5120000 per vCPU, which keeps the
	// working set well past any L3 cache so main memory is what gets tested.
	ArraySize int

	// Where the binary is staged on the guest. Defaults to /root.
	RemoteDir string

	// OpenMP runtime location. Defaults to the x86_64 glibc path.
	LibPath string

	// Defaults to 0.95.
	TargetRatio float64
}

type bmark struct {
	input   *StreamBenchmarkInput
	bc      *benchmark.BenchmarkContext
	binPath string
}

func init() {
	benchmark.RegisterBenchmark("stream", func(a map[string]any) (benchmark.Benchmark, error) {
		input := &StreamBenchmarkInput{}
		err := mapstructure.Decode(a, input)
		if err != nil {
			return nil, fmt.Errorf("can't convert input to StreamBenchmarkInput: %w", err)
		}
		return NewStreamBenchmark(input), nil
	})
}

func NewStreamBenchmark(input *StreamBenchmarkInput) benchmark.Benchmark {
	if input.Vcpus == 0 {
		input.Vcpus = 1
	}
	if input.ArraySize == 0 {
		input.ArraySize = 5120000 * input.Vcpus
	}
	if input.RemoteDir == "" {
		input.RemoteDir = "/root"
	}
	if input.LibPath == "" {
		input.LibPath = defaultLibPath
	}
	if input.TargetRatio == 0 {
		input.TargetRatio = 0.95
	}
	return &bmark{input: input}
}

func (b *bmark) SetUp(ctx context.Context, bc *benchmark.BenchmarkContext) error {
	b.bc = bc
	b.binPath = filepath.Join(bc.WorkDir, binaryName)

	cmd := fmt.Sprintf(compileCmd, b.input.ArraySize, ntimes, arrayOffset, b.input.SourcePath, b.binPath)
	_, stderr, err := bc.Host.RunCommand(ctx, cmd, nil)
	if err != nil {
		return fmt.Errorf("compiling STREAM failed: %w (stderr: %s)", err, stderr)
	}

	b.warnIfArrayFitsCache(ctx)

	bin, err := os.Open(b.binPath)
	if err != nil {
		return err
	}
	err = bc.Guest.CopyFileTo(ctx, bin, b.remoteBinPath())
	bin.Close()
	if err != nil {
		return fmt.Errorf("copying STREAM binary to guest failed: %w", err)
	}

	lib, err := os.Open(b.input.LibPath)
	if err != nil {
		return fmt.Errorf("opening OpenMP runtime failed: %w", err)
	}
	err = bc.Guest.CopyFileTo(ctx, lib, b.input.LibPath)
	lib.Close()
	if err != nil {
		return fmt.Errorf("copying OpenMP runtime to guest failed: %w", err)
	}

	_, _, err = bc.Guest.RunCommand(ctx, fmt.Sprintf("chmod +x %s", b.remoteBinPath()), nil)
	if err != nil {
		return fmt.Errorf("making STREAM binary executable on guest failed: %w", err)
	}
	return nil
}

func (b *bmark) Descriptors(kind target.Kind) ([]*benchmark.Descriptor, error) {
	if b.binPath == "" {
		return nil, fmt.Errorf("benchmark %s was not set up", b.input.Name)
	}

	var bin, out string
	if kind == target.Guest {
		bin = b.remoteBinPath()
		out = path.Join(b.input.RemoteDir, fmt.Sprintf("stream-%s.out", util.Randstring(8)))
	} else {
		bin = b.binPath
		out = filepath.Join(b.bc.WorkDir, fmt.Sprintf("stream-%s.out", util.Randstring(8)))
	}

	return []*benchmark.Descriptor{{
		Name: b.input.Name,
		// The results arrive on stdout, so tee them through the artifact to
		// keep the collect step uniform with the other benchmarks.
		Command:       fmt.Sprintf("%s | tee %s", bin, out),
		Env:           b.ompEnv(),
		SuccessMarker: fmt.Sprintf("Number of Threads requested = %d", b.input.Vcpus),
		MarkerStream:  benchmark.OnStdout,
		OutputPath:    out,
		Parse:         parseOutput,
	}}, nil
}

func (b *bmark) TearDown(ctx context.Context) error {
	if b.bc == nil {
		return nil
	}
	_, _, err := b.bc.Guest.RunCommand(ctx, fmt.Sprintf("rm -f %s", b.remoteBinPath()), nil)
	return err
}

func (b *bmark) Name() string {
	return b.input.Name
}

func (b *bmark) TargetRatio() float64 {
	return b.input.TargetRatio
}

func (b *bmark) Headline() *compare.Key {
	k := headline
	return &k
}

func (b *bmark) LowerIsBetter() bool {
	return false
}

func (b *bmark) Input() map[string]any {
	return util.StructMap(b.input)
}

func (b *bmark) remoteBinPath() string {
	return path.Join(b.input.RemoteDir, binaryName)
}

func (b *bmark) ompEnv() map[string]string {
	return map[string]string{
		"OMP_NUM_THREADS": strconv.Itoa(b.input.Vcpus),
		"OMP_PROC_BIND":   "SPREAD",
		"KMP_AFFINITY":    "compact",
	}
}

// The array must be several times larger than the total L3 cache or the
// kernels measure cache bandwidth instead of main memory.
func (b *bmark) warnIfArrayFitsCache(ctx context.Context) {
	stdout, _, err := b.bc.Host.RunCommand(ctx, `lscpu | grep "L3 cache"`, nil)
	if err != nil {
		return
	}
	raw := l3CacheRe.FindString(string(stdout))
	if raw == "" {
		return
	}
	l3KB, err := strconv.Atoi(raw[:len(raw)-1])
	if err != nil {
		return
	}

	arrayBytes := b.input.ArraySize * 8
	if arrayBytes < 4*b.input.Vcpus*l3KB*1024 {
		slog.Warn("STREAM array may fit in cache, results will overstate memory bandwidth",
			slog.String("benchmark", b.input.Name),
			slog.Int("arrayBytes", arrayBytes),
			slog.Int("l3KB", l3KB))
	}
}

func parseOutput(raw []byte) (metrics.Record, error) {
	return metrics.ScrapeTable(raw, metrics.TableSpec{
		Marker:       validateMsg,
		MarkerOffset: -3,
		Rows:         kernelRows,
		Columns:      resultColumns,
	})
}
