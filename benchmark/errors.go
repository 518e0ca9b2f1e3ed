package benchmark

import "fmt"

// A RunFailedError means the workload executed but did not complete as
// expected: its success marker never appeared in the captured output. The
// raw output is attached so the report shows what the tool actually said.
type RunFailedError struct {
	Benchmark string
	Marker    string
	Stdout    []byte
	Stderr    []byte
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("benchmark %s: success marker %q not found in output", e.Benchmark, e.Marker)
}

// A CollectError means retrieving the output artifact produced unexpected
// stderr. The run itself already validated clean, so anything on stderr here
// points at a truncated or missing artifact.
type CollectError struct {
	Benchmark string
	Stderr    []byte
}

func (e *CollectError) Error() string {
	return fmt.Sprintf("benchmark %s: collecting results produced stderr: %s", e.Benchmark, e.Stderr)
}
