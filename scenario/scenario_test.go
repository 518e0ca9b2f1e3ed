package scenario

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guestbench/guestbench/benchmark"
	"github.com/guestbench/guestbench/compare"
	"github.com/guestbench/guestbench/metrics"
	"github.com/guestbench/guestbench/report"
	"github.com/guestbench/guestbench/target"
)

type fakeTarget struct {
	kind     target.Kind
	stdout   map[string]string
	commands []string
}

func (t *fakeTarget) Kind() target.Kind {
	return t.kind
}

func (t *fakeTarget) RunCommand(_ context.Context, cmd string, _ map[string]string) ([]byte, []byte, error) {
	t.commands = append(t.commands, cmd)
	out, ok := t.stdout[cmd]
	if !ok {
		return nil, nil, &target.ExecutionError{TargetKind: t.kind, Cmd: cmd, Err: fmt.Errorf("unexpected command")}
	}
	return []byte(out), nil, nil
}

func (t *fakeTarget) CopyFileTo(context.Context, io.Reader, string) error {
	return nil
}

func (t *fakeTarget) CopyFileFrom(context.Context, string, io.Writer) error {
	return nil
}

// fakeBenchmark reports a fixed rate per target and tracks lifecycle calls.
type fakeBenchmark struct {
	name        string
	setUpErr    error
	toreDown    bool
	targetRatio float64
}

func (b *fakeBenchmark) SetUp(context.Context, *benchmark.BenchmarkContext) error {
	return b.setUpErr
}

func (b *fakeBenchmark) Descriptors(kind target.Kind) ([]*benchmark.Descriptor, error) {
	return []*benchmark.Descriptor{{
		Name:          b.name,
		Command:       fmt.Sprintf("bench --target %s", kind),
		SuccessMarker: "done",
		MarkerStream:  benchmark.OnStdout,
		OutputPath:    fmt.Sprintf("out-%s.txt", kind),
		Parse: func(raw []byte) (metrics.Record, error) {
			r := metrics.Record{}
			var v float64
			if _, err := fmt.Sscanf(string(raw), "%f", &v); err != nil {
				return nil, &metrics.ParseError{Reason: err.Error(), Raw: raw}
			}
			r.Set(b.name, "rate", v)
			return r, nil
		},
	}}, nil
}

func (b *fakeBenchmark) TearDown(context.Context) error {
	b.toreDown = true
	return nil
}

func (b *fakeBenchmark) Name() string {
	return b.name
}

func (b *fakeBenchmark) TargetRatio() float64 {
	if b.targetRatio == 0 {
		return 0.95
	}
	return b.targetRatio
}

func (b *fakeBenchmark) Headline() *compare.Key {
	return nil
}

func (b *fakeBenchmark) LowerIsBetter() bool {
	return false
}

func (b *fakeBenchmark) Input() map[string]any {
	return map[string]any{"name": b.name}
}

func targetsWithRates(hostRate, guestRate string) (*fakeTarget, *fakeTarget) {
	host := &fakeTarget{kind: target.Host, stdout: map[string]string{
		"bench --target host":              "done",
		"cat out-host.txt && rm out-host.txt": hostRate,
	}}
	guest := &fakeTarget{kind: target.Guest, stdout: map[string]string{
		"bench --target guest":                "done",
		"cat out-guest.txt && rm out-guest.txt": guestRate,
	}}
	return host, guest
}

func TestRunPass(t *testing.T) {
	host, guest := targetsWithRates("12000.0", "11800.0")
	b := &fakeBenchmark{name: "fake"}

	rep := Run(context.Background(), b, &Config{Host: host, Guest: guest})

	require.Empty(t, rep.Error)
	assert.True(t, rep.Passed())
	assert.Equal(t, 12000.0, rep.Host["fake"]["rate"])
	assert.Equal(t, 11800.0, rep.Guest["fake"]["rate"])
	assert.True(t, b.toreDown)
}

func TestRunFailsThreshold(t *testing.T) {
	host, guest := targetsWithRates("12000.0", "11000.0")
	b := &fakeBenchmark{name: "fake"}

	rep := Run(context.Background(), b, &Config{Host: host, Guest: guest})

	require.Empty(t, rep.Error)
	assert.False(t, rep.Passed())
	require.NotNil(t, rep.Comparison)
	assert.InDelta(t, 0.9167, rep.Comparison.Metrics[0].Ratio, 1e-4)
}

func TestRunHostCompletesBeforeGuest(t *testing.T) {
	host, guest := targetsWithRates("1.0", "1.0")
	b := &fakeBenchmark{name: "fake"}

	Run(context.Background(), b, &Config{Host: host, Guest: guest})

	// The host's collect step happens before anything runs on the guest.
	require.Len(t, host.commands, 2)
	require.Len(t, guest.commands, 2)
	assert.Contains(t, host.commands[1], "rm out-host.txt")
}

func TestRunSetUpFailure(t *testing.T) {
	host, guest := targetsWithRates("1.0", "1.0")
	b := &fakeBenchmark{name: "fake", setUpErr: fmt.Errorf("no such job dir")}

	rep := Run(context.Background(), b, &Config{Host: host, Guest: guest})

	assert.Equal(t, "setup", rep.FailedStage)
	assert.Contains(t, rep.Error, "no such job dir")
	assert.Empty(t, host.commands)
}

func TestRunGuestFailureNamesStage(t *testing.T) {
	host, _ := targetsWithRates("1.0", "1.0")
	guest := &fakeTarget{kind: target.Guest, stdout: map[string]string{
		"bench --target guest": "exploded",
	}}
	b := &fakeBenchmark{name: "fake"}

	rep := Run(context.Background(), b, &Config{Host: host, Guest: guest})

	assert.Equal(t, "guest run", rep.FailedStage)
	assert.Contains(t, rep.Error, "done")
	assert.True(t, b.toreDown)
}

func TestSuiteCollectsInOrder(t *testing.T) {
	host, guest := targetsWithRates("1.0", "1.0")

	suite := NewSuite(1)
	suite.Add(&fakeBenchmark{name: "fake"})
	suite.Add(&fakeBenchmark{name: "fake"})

	done := 0
	rep := suite.Run(context.Background(), &Config{Host: host, Guest: guest}, func(*report.ScenarioReport) { done++ })

	require.Len(t, rep.Scenarios, 2)
	assert.Equal(t, 2, done)
	assert.True(t, rep.Passed())
}
