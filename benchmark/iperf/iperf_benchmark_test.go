package iperf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guestbench/guestbench/metrics"
	"github.com/guestbench/guestbench/target"
)

const tcpFixture = `{
  "start": {"version": "iperf 3.12"},
  "end": {
    "sum_sent": {"bits_per_second": 8.0e8, "bytes": 1000000000},
    "sum_received": {"bits_per_second": 7.9e8, "bytes": 987500000}
  }
}`

const udpFixture = `{
  "start": {"version": "iperf 3.12"},
  "end": {
    "sum": {
      "bits_per_second": 1.0e8,
      "jitter_ms": 0.023,
      "lost_packets": 12,
      "packets": 86580
    }
  }
}`

func TestParseOutputTCP(t *testing.T) {
	b := NewIperfBenchmark(&IperfBenchmarkInput{Name: "net-tput", HostAddr: "192.168.241.1"})
	record, err := b.(*bmark).parseOutput([]byte(tcpFixture))
	require.NoError(t, err)

	assert.Equal(t, 98.75, record["throughput"]["recv MB/s"])
	assert.Equal(t, 100.0, record["throughput"]["send MB/s"])
}

func TestParseOutputUDP(t *testing.T) {
	b := NewIperfBenchmark(&IperfBenchmarkInput{Name: "net-tput", HostAddr: "x", Protocol: "udp"})
	record, err := b.(*bmark).parseOutput([]byte(udpFixture))
	require.NoError(t, err)

	assert.Equal(t, 12.5, record["throughput"]["recv MB/s"])
	assert.Equal(t, 0.023, record["udp"]["jitter ms"])
	assert.Equal(t, 12.0, record["udp"]["lost packets"])
}

func TestParseOutputServerError(t *testing.T) {
	b := NewIperfBenchmark(&IperfBenchmarkInput{Name: "net-tput", HostAddr: "x"})
	_, err := b.(*bmark).parseOutput([]byte(`{"error": "unable to connect to server"}`))

	var perr *metrics.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Reason, "unable to connect")
}

func TestParseOutputMissingSummary(t *testing.T) {
	b := NewIperfBenchmark(&IperfBenchmarkInput{Name: "net-tput", HostAddr: "x"})
	_, err := b.(*bmark).parseOutput([]byte(`{"end": {}}`))

	var perr *metrics.ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestDescriptorsLoopbackBaseline(t *testing.T) {
	b := NewIperfBenchmark(&IperfBenchmarkInput{
		Name:          "net-tput",
		HostAddr:      "192.168.241.1",
		Protocol:      "udp",
		BandwidthMbps: 100,
		Reverse:       true,
		PinnedCPU:     1,
	})

	hostDs, err := b.Descriptors(target.Host)
	require.NoError(t, err)
	assert.Contains(t, hostDs[0].Command, "iperf3 -c 127.0.0.1")
	assert.Contains(t, hostDs[0].Command, "-u")
	assert.Contains(t, hostDs[0].Command, "-b 100M")
	assert.Contains(t, hostDs[0].Command, "-R")
	assert.Contains(t, hostDs[0].Command, "-A 1")

	guestDs, err := b.Descriptors(target.Guest)
	require.NoError(t, err)
	assert.Contains(t, guestDs[0].Command, "iperf3 -c 192.168.241.1")
}

func TestDefaults(t *testing.T) {
	b := NewIperfBenchmark(&IperfBenchmarkInput{Name: "net-tput", HostAddr: "x"})
	assert.Equal(t, 0.95, b.TargetRatio())
	assert.False(t, b.LowerIsBetter())

	h := b.Headline()
	require.NotNil(t, h)
	assert.Equal(t, "throughput", h.Metric)
}
