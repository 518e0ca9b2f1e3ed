// Package compare evaluates guest/host metric ratios against a target.
package compare

import (
	"fmt"
	"strings"

	"github.com/guestbench/guestbench/metrics"
	"github.com/samber/lo"
)

// A Key names one metric value inside a Record, e.g. {"Triad", "Best Rate MB/s"}.
type Key struct {
	Metric string
	Value  string
}

func (k Key) String() string {
	return k.Metric + "/" + k.Value
}

type MetricComparison struct {
	Key   Key
	Host  float64
	Guest float64
	// Guest divided by host, always.
	Ratio float64
	Pass  bool
}

// A Result is the terminal artifact of one benchmark scenario: both records,
// the per-metric ratios, and the overall verdict.
type Result struct {
	TargetRatio float64
	// Non-nil when a single headline metric gates the verdict; the other
	// metrics are then informational only.
	Headline *Key
	Metrics  []MetricComparison
	Pass     bool
}

// A MismatchError means the host and guest records do not describe the same
// metrics, so their ratio would be meaningless. Records produced by the same
// benchmark descriptor always have aligned key sets.
type MismatchError struct {
	HostOnly  []string
	GuestOnly []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("host and guest metrics diverge (host only: %s; guest only: %s)",
		strings.Join(e.HostOnly, ", "), strings.Join(e.GuestOnly, ", "))
}

// Evaluate computes guest/host ratios for every metric present in both
// records and derives the verdict. A metric passes when its score is at
// least targetRatio. Score is the guest/host ratio for rate-like metrics;
// when lowerIsBetter is set (latencies) the inverse ratio is scored so that
// a slower guest still fails. When headline is non-nil, that metric alone
// gates the overall verdict; otherwise every metric must pass.
func Evaluate(host, guest metrics.Record, targetRatio float64, headline *Key, lowerIsBetter bool) (*Result, error) {
	hostOnly, guestOnly := lo.Difference(host.Keys(), guest.Keys())
	if len(hostOnly) > 0 || len(guestOnly) > 0 {
		return nil, &MismatchError{HostOnly: hostOnly, GuestOnly: guestOnly}
	}

	res := &Result{TargetRatio: targetRatio, Headline: headline, Pass: true}
	headlineSeen := false

	for _, flat := range host.Keys() {
		metric, value, _ := strings.Cut(flat, "/")
		key := Key{Metric: metric, Value: value}

		h := host[metric][value]
		g := guest[metric][value]

		mc := MetricComparison{Key: key, Host: h, Guest: g}
		if h != 0 {
			mc.Ratio = g / h
		}

		score := mc.Ratio
		if lowerIsBetter && g != 0 {
			score = h / g
		}
		mc.Pass = score >= targetRatio

		if headline == nil {
			res.Pass = res.Pass && mc.Pass
		} else if key == *headline {
			headlineSeen = true
			res.Pass = mc.Pass
		}

		res.Metrics = append(res.Metrics, mc)
	}

	if headline != nil && !headlineSeen {
		return nil, &MismatchError{HostOnly: []string{headline.String()}}
	}
	return res, nil
}
