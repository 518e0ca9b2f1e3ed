// Package pinglat benchmarks guest network latency: the guest pings the host
// end of its link while the host pings the guest end, and the round-trip
// statistics are compared. A slower guest network stack shows up as a
// guest/host RTT ratio above 1.
package pinglat

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/guestbench/guestbench/benchmark"
	"github.com/guestbench/guestbench/compare"
	"github.com/guestbench/guestbench/metrics"
	"github.com/guestbench/guestbench/stats"
	"github.com/guestbench/guestbench/target"
	"github.com/guestbench/guestbench/util"
)

var (
	floatRe = regexp.MustCompile(`[+-]?[0-9]+\.[0-9]+`)
	timeRe  = regexp.MustCompile(`time=([0-9]+\.?[0-9]*) ms`)
	lossRe  = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)% packet loss`)
)

var rttStats = []string{"min", "avg", "max", "mdev"}

var headline = compare.Key{Metric: "rtt", Value: "avg"}

type PingLatencyBenchmarkInput struct {
	Name string

	// Address the guest pings (the host end of the guest's link).
	HostAddr string

	// Address the host pings (the guest end of the same link).
	GuestAddr string

	// Number of requests. Defaults to 1000.
	Requests int

	// Seconds between requests. Defaults to 0.2.
	Interval float64

	// Defaults to 0.95.
	TargetRatio float64
}

type bmark struct {
	input *PingLatencyBenchmarkInput
	bc    *benchmark.BenchmarkContext
}

func init() {
	benchmark.RegisterBenchmark("ping-latency", func(a map[string]any) (benchmark.Benchmark, error) {
		input := &PingLatencyBenchmarkInput{}
		err := mapstructure.Decode(a, input)
		if err != nil {
			return nil, fmt.Errorf("can't convert input to PingLatencyBenchmarkInput: %w", err)
		}
		return NewPingLatencyBenchmark(input), nil
	})
}

func NewPingLatencyBenchmark(input *PingLatencyBenchmarkInput) benchmark.Benchmark {
	if input.Requests == 0 {
		input.Requests = 1000
	}
	if input.Interval == 0 {
		input.Interval = 0.2
	}
	if input.TargetRatio == 0 {
		input.TargetRatio = 0.95
	}
	return &bmark{input: input}
}

func (b *bmark) SetUp(_ context.Context, bc *benchmark.BenchmarkContext) error {
	b.bc = bc
	if b.input.HostAddr == "" || b.input.GuestAddr == "" {
		return fmt.Errorf("benchmark %s needs both HostAddr and GuestAddr", b.input.Name)
	}
	return nil
}

func (b *bmark) Descriptors(kind target.Kind) ([]*benchmark.Descriptor, error) {
	addr := b.input.GuestAddr
	if kind == target.Guest {
		addr = b.input.HostAddr
	}

	out := fmt.Sprintf("/tmp/ping-%s.out", util.Randstring(8))
	requests := b.input.Requests
	return []*benchmark.Descriptor{{
		Name:          b.input.Name,
		Command:       fmt.Sprintf("ping -c %d -i %g %s | tee %s", requests, b.input.Interval, addr, out),
		SuccessMarker: "packets transmitted",
		MarkerStream:  benchmark.OnStdout,
		OutputPath:    out,
		Parse: func(raw []byte) (metrics.Record, error) {
			return parseOutput(raw, requests)
		},
	}}, nil
}

func (b *bmark) TearDown(context.Context) error {
	return nil
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
	return true
}

func (b *bmark) Input() map[string]any {
	return util.StructMap(b.input)
}

// parseOutput scrapes a ping run: the min/avg/max/mdev summary, plus
// percentiles computed from the per-request times. A run with any packet
// loss yields no record at all; lost packets would skew every latency
// figure.
func parseOutput(raw []byte, requests int) (metrics.Record, error) {
	lines := strings.Split(string(raw), "\n")
	if len(lines) < 4 {
		return nil, &metrics.ParseError{Reason: "ping output too short", Raw: raw}
	}

	lossLine := lines[len(lines)-3]
	m := lossRe.FindStringSubmatch(lossLine)
	if m == nil {
		return nil, &metrics.ParseError{Reason: "no packet loss figure in ping summary", Raw: raw}
	}
	loss, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, &metrics.ParseError{Reason: fmt.Sprintf("packet loss: %v", err), Raw: raw}
	}
	if loss != 0 {
		return nil, &metrics.ParseError{Reason: fmt.Sprintf("run lost %.1f%% of packets", loss), Raw: raw}
	}

	rttLine := lines[len(lines)-2]
	values := floatRe.FindAllString(rttLine, -1)
	if len(values) < len(rttStats) {
		return nil, &metrics.ParseError{Reason: "no rtt summary in ping output", Raw: raw}
	}

	record := metrics.Record{}
	for i, name := range rttStats {
		v, err := strconv.ParseFloat(values[i], 64)
		if err != nil {
			return nil, &metrics.ParseError{Reason: fmt.Sprintf("rtt %s: %v", name, err), Raw: raw}
		}
		record.Set("rtt", name, v)
	}

	var times []float64
	for _, m := range timeRe.FindAllStringSubmatch(string(raw), -1) {
		t, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil, &metrics.ParseError{Reason: fmt.Sprintf("request time: %v", err), Raw: raw}
		}
		times = append(times, t)
	}
	if len(times) != requests {
		return nil, &metrics.ParseError{
			Reason: fmt.Sprintf("found %d request times, want %d", len(times), requests),
			Raw:    raw,
		}
	}
	sort.Float64s(times)

	record.Set("rtt", "p50", stats.Percentile(times, 0.5))
	record.Set("rtt", "p90", stats.Percentile(times, 0.9))
	record.Set("rtt", "p99", stats.Percentile(times, 0.99))
	return record, nil
}
