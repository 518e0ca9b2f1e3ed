// Package metrics turns raw benchmark output into structured numeric records.
package metrics

import (
	"fmt"
	"sort"

	"github.com/guestbench/guestbench/stats"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// A Record maps a metric name (a benchmark kernel such as "Triad", or a job
// name) to its named values (e.g. "Best Rate MB/s" -> 12345.6). A record
// belongs to exactly one execution target and is never modified after
// parsing.
type Record map[string]map[string]float64

// Set stores one value, allocating the inner map as needed.
func (r Record) Set(metric, value string, v float64) {
	if r[metric] == nil {
		r[metric] = map[string]float64{}
	}
	r[metric][value] = v
}

// Keys returns every metric/value pair as "metric/value" strings, sorted.
func (r Record) Keys() []string {
	var keys []string
	for metric, values := range r {
		for _, value := range lo.Keys(values) {
			keys = append(keys, metric+"/"+value)
		}
	}
	sort.Strings(keys)
	return keys
}

// Merge folds other into r. Metric names must not collide; a collision means
// two benchmark runs were configured with the same name.
func (r Record) Merge(other Record) error {
	for metric, values := range other {
		if _, ok := r[metric]; ok {
			return fmt.Errorf("duplicate metric %q", metric)
		}
		r[metric] = values
	}
	return nil
}

// A ParseError means the captured output could not be decoded into a Record.
// Raw carries the offending text so a failed scenario can be diagnosed from
// the report alone.
type ParseError struct {
	Reason string
	Raw    []byte
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing benchmark output failed: %s", e.Reason)
}

// DecodeStructured decodes a machine-readable (YAML) artifact into v.
// JSON is a subset of YAML, so both artifact formats go through here.
func DecodeStructured(raw []byte, v any) error {
	if err := yaml.Unmarshal(raw, v); err != nil {
		return &ParseError{Reason: err.Error(), Raw: raw}
	}
	return nil
}

// Mean averages a set of records from repeated runs of the same benchmark on
// the same target. All records must have identical key sets.
func Mean(records []Record) (Record, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to aggregate")
	}

	first := records[0].Keys()
	for _, r := range records[1:] {
		left, right := lo.Difference(first, r.Keys())
		if len(left) > 0 || len(right) > 0 {
			return nil, fmt.Errorf("records from repeated runs disagree on metrics: %v vs %v", left, right)
		}
	}

	out := Record{}
	for metric, values := range records[0] {
		for value := range values {
			samples := make([]float64, 0, len(records))
			for _, r := range records {
				samples = append(samples, r[metric][value])
			}
			out.Set(metric, value, stats.Summarize(samples).Mean)
		}
	}
	return out, nil
}
