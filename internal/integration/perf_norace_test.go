//go:build !race

package integration

import "time"

// perfP99Threshold is the maximum acceptable p99 latency without the
// race detector. The measured path includes the Starlark interpreter
// and a SQLite metric write, so the bar sits well above pure in-memory
// evaluation.
var perfP99Threshold = 75 * time.Millisecond

// perfP50Threshold is the maximum acceptable p50 latency without the race detector.
var perfP50Threshold = 20 * time.Millisecond
