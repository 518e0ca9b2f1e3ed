// Package iperf benchmarks guest network throughput with iperf3. The host
// runs a server; the guest drives traffic across its link while the host
// drives the same load over loopback, both capped at the same bandwidth so
// the ratio reflects virtualization overhead rather than loopback speed.
package iperf

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/guestbench/guestbench/benchmark"
	"github.com/guestbench/guestbench/compare"
	"github.com/guestbench/guestbench/metrics"
	"github.com/guestbench/guestbench/target"
	"github.com/guestbench/guestbench/util"
)

// bits/s to MB/s.
const bitsPerMegabyte = 8e6

var headline = compare.Key{Metric: "throughput", Value: "recv MB/s"}

type IperfBenchmarkInput struct {
	Name string

	// Address of the host's iperf3 server as seen from the guest.
	HostAddr string

	// "tcp" or "udp". Defaults to tcp.
	Protocol string

	// Seconds per run. Defaults to 10.
	Duration int

	// Bandwidth cap in Mbit/s applied to both targets. Defaults to 1000.
	BandwidthMbps int

	// Reverse the flow (server sends, client receives).
	Reverse bool

	// Parallel client streams. Defaults to 1.
	Streams int

	// CPU the client is pinned to.
	PinnedCPU int

	// Defaults to 0.95.
	TargetRatio float64
}

type bmark struct {
	input *IperfBenchmarkInput
	bc    *benchmark.BenchmarkContext
}

func init() {
	benchmark.RegisterBenchmark("iperf", func(a map[string]any) (benchmark.Benchmark, error) {
		input := &IperfBenchmarkInput{}
		err := mapstructure.Decode(a, input)
		if err != nil {
			return nil, fmt.Errorf("can't convert input to IperfBenchmarkInput: %w", err)
		}
		return NewIperfBenchmark(input), nil
	})
}

func NewIperfBenchmark(input *IperfBenchmarkInput) benchmark.Benchmark {
	if input.Protocol == "" {
		input.Protocol = "tcp"
	}
	if input.Duration == 0 {
		input.Duration = 10
	}
	if input.BandwidthMbps == 0 {
		input.BandwidthMbps = 1000
	}
	if input.Streams == 0 {
		input.Streams = 1
	}
	if input.TargetRatio == 0 {
		input.TargetRatio = 0.95
	}
	return &bmark{input: input}
}

func (b *bmark) SetUp(ctx context.Context, bc *benchmark.BenchmarkContext) error {
	b.bc = bc
	if b.input.HostAddr == "" {
		return fmt.Errorf("benchmark %s needs HostAddr", b.input.Name)
	}
	if p := b.input.Protocol; p != "tcp" && p != "udp" {
		return fmt.Errorf("benchmark %s: unknown protocol %q", b.input.Name, p)
	}

	_, stderr, err := bc.Host.RunCommand(ctx, "iperf3 -s -D", nil)
	if err != nil {
		return fmt.Errorf("starting iperf3 server failed: %w (stderr: %s)", err, stderr)
	}
	return nil
}

func (b *bmark) Descriptors(kind target.Kind) ([]*benchmark.Descriptor, error) {
	addr := "127.0.0.1"
	if kind == target.Guest {
		addr = b.input.HostAddr
	}

	var flags []string
	if b.input.Protocol == "udp" {
		flags = append(flags, "-u")
	}
	if b.input.Reverse {
		flags = append(flags, "-R")
	}
	flags = append(flags, fmt.Sprintf("-b %dM", b.input.BandwidthMbps))
	flags = append(flags, fmt.Sprintf("-A %d", b.input.PinnedCPU))
	flags = append(flags, fmt.Sprintf("-P %d", b.input.Streams))

	out := fmt.Sprintf("/tmp/iperf-%s.json", util.Randstring(8))
	return []*benchmark.Descriptor{{
		Name: b.input.Name,
		Command: fmt.Sprintf("iperf3 -c %s -t %d -f MBytes -J %s | tee %s",
			addr, b.input.Duration, strings.Join(flags, " "), out),
		SuccessMarker: `"end"`,
		MarkerStream:  benchmark.OnStdout,
		OutputPath:    out,
		Parse:         b.parseOutput,
	}}, nil
}

func (b *bmark) TearDown(ctx context.Context) error {
	if b.bc == nil {
		return nil
	}
	_, _, err := b.bc.Host.RunCommand(ctx, "pkill -f 'iperf3 -s' || true", nil)
	return err
}

func (b *bmark) Name() string {
	return b.input.Name
}

func (b *bmark) TargetRatio() float64 {
	return b.input.TargetRatio
}

// Throughput gates the verdict; jitter and loss are informational.
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

type iperfSum struct {
	BitsPerSecond float64 `yaml:"bits_per_second"`
	JitterMs      float64 `yaml:"jitter_ms"`
	LostPackets   float64 `yaml:"lost_packets"`
	Packets       float64 `yaml:"packets"`
}

type iperfOutput struct {
	End struct {
		SumSent     *iperfSum `yaml:"sum_sent"`
		SumReceived *iperfSum `yaml:"sum_received"`
		Sum         *iperfSum `yaml:"sum"`
	} `yaml:"end"`
	Error string `yaml:"error"`
}

func (b *bmark) parseOutput(raw []byte) (metrics.Record, error) {
	out := iperfOutput{}
	if err := metrics.DecodeStructured(raw, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, &metrics.ParseError{Reason: fmt.Sprintf("iperf3 reported: %s", out.Error), Raw: raw}
	}

	record := metrics.Record{}
	switch b.input.Protocol {
	case "udp":
		if out.End.Sum == nil {
			return nil, &metrics.ParseError{Reason: "no udp summary in iperf3 output", Raw: raw}
		}
		record.Set("throughput", "recv MB/s", out.End.Sum.BitsPerSecond/bitsPerMegabyte)
		record.Set("udp", "jitter ms", out.End.Sum.JitterMs)
		record.Set("udp", "lost packets", out.End.Sum.LostPackets)
		record.Set("udp", "packets", out.End.Sum.Packets)
	default:
		if out.End.SumReceived == nil || out.End.SumSent == nil {
			return nil, &metrics.ParseError{Reason: "no tcp summary in iperf3 output", Raw: raw}
		}
		record.Set("throughput", "recv MB/s", out.End.SumReceived.BitsPerSecond/bitsPerMegabyte)
		record.Set("throughput", "send MB/s", out.End.SumSent.BitsPerSecond/bitsPerMegabyte)
	}
	return record, nil
}
