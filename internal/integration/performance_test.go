package integration

import (
	"context"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/toolchest-labs/toolchest/internal/domain/workflow"
)

// --- Helpers for performance benchmarks ---

// buildPerfStack creates the full execution stack over a throwaway
// database with one registered tool.
func buildPerfStack(t testing.TB) *stack {
	t.Helper()
	s := buildStack(t, filepath.Join(t.TempDir(), "toolchest.db"))
	if err := s.registry.AddTool(context.Background(), greetTool("greet")); err != nil {
		t.Fatalf("AddTool: %v", err)
	}
	return s
}

// --- Benchmarks ---

// BenchmarkExecuteTool measures the full execution pipeline (input
// validation, sandbox run, output validation, metric persistence)
// under single-threaded load.
func BenchmarkExecuteTool(b *testing.B) {
	s := buildPerfStack(b)
	ctx := context.Background()

	b.ResetTimer()
	for b.Loop() {
		_ = s.registry.ExecuteTool(ctx, "greet", map[string]any{"name": "Ada"})
	}
}

// BenchmarkExecuteToolParallel measures the pipeline under parallel
// load with GOMAXPROCS goroutines. Metric updates for a single tool
// serialize on its name lock, so this shows the hot-tool ceiling.
func BenchmarkExecuteToolParallel(b *testing.B) {
	s := buildPerfStack(b)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			_ = s.registry.ExecuteTool(ctx, "greet", map[string]any{"name": "Ada"})
		}
	})
}

// BenchmarkWorkflowExecute measures a two-step workflow run end to end,
// including input mapping, history persistence, and run metadata.
func BenchmarkWorkflowExecute(b *testing.B) {
	s := buildPerfStack(b)
	ctx := context.Background()

	if err := s.registry.AddTool(ctx, shoutTool("shout")); err != nil {
		b.Fatalf("AddTool: %v", err)
	}
	wf, err := s.workflows.SaveWorkflow(ctx, &workflow.Workflow{
		Name: "bench pipeline",
		Steps: []workflow.Step{
			{
				ID:       "greet",
				ToolName: "greet",
				Input:    workflow.StepInput{Static: map[string]any{"name": "Ada"}},
			},
			{
				ID:       "shout",
				ToolName: "shout",
				Input: workflow.StepInput{
					Mappings: map[string]workflow.Mapping{
						"text": {StepID: "greet", OutputPath: "greeting"},
					},
				},
			},
		},
	})
	if err != nil {
		b.Fatalf("SaveWorkflow: %v", err)
	}

	b.ResetTimer()
	for b.Loop() {
		if _, err := s.workflows.ExecuteWorkflow(ctx, wf.ID, nil); err != nil {
			b.Fatalf("ExecuteWorkflow: %v", err)
		}
	}
}

// --- P99 latency test ---

// TestToolExecutionP99UnderThreshold runs several hundred executions of
// one tool under parallel load and asserts p99 and p50 stay under the
// build-tagged thresholds. The measured path is the real pipeline: the
// Starlark interpreter, both schema gates, and the SQLite metric write.
func TestToolExecutionP99UnderThreshold(t *testing.T) {
	s := buildPerfStack(t)
	ctx := context.Background()

	numGoroutines := runtime.GOMAXPROCS(0)
	if numGoroutines < 2 {
		numGoroutines = 2
	}
	iterationsPerGoroutine := 500 / numGoroutines
	if iterationsPerGoroutine < 50 {
		iterationsPerGoroutine = 50
	}
	totalExpected := numGoroutines * iterationsPerGoroutine

	var mu sync.Mutex
	latencies := make([]time.Duration, 0, totalExpected)

	// Warm up: first runs pay one-time costs (page cache, interner).
	for i := 0; i < 10; i++ {
		if res := s.registry.ExecuteTool(ctx, "greet", map[string]any{"name": "Ada"}); !res.Success {
			t.Fatalf("warmup execution failed: %s", res.Error)
		}
	}

	var wg sync.WaitGroup
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			localLatencies := make([]time.Duration, 0, iterationsPerGoroutine)
			for i := 0; i < iterationsPerGoroutine; i++ {
				start := time.Now()
				res := s.registry.ExecuteTool(ctx, "greet", map[string]any{"name": "Ada"})
				elapsed := time.Since(start)
				if !res.Success {
					t.Errorf("ExecuteTool failed: %s", res.Error)
					return
				}
				localLatencies = append(localLatencies, elapsed)
			}
			mu.Lock()
			latencies = append(latencies, localLatencies...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(latencies) == 0 {
		t.Fatal("no latencies collected")
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	p50Idx := len(latencies) * 50 / 100
	p99Idx := len(latencies) * 99 / 100
	if p99Idx >= len(latencies) {
		p99Idx = len(latencies) - 1
	}

	p50 := latencies[p50Idx]
	p99 := latencies[p99Idx]
	pMax := latencies[len(latencies)-1]

	t.Logf("Tool execution latency (n=%d, goroutines=%d):", len(latencies), numGoroutines)
	t.Logf("  p50:  %v", p50)
	t.Logf("  p99:  %v", p99)
	t.Logf("  max:  %v", pMax)
	t.Logf("  p99 threshold: %v", perfP99Threshold)
	t.Logf("  p50 threshold: %v", perfP50Threshold)

	if p99 > perfP99Threshold {
		t.Errorf("p99 latency %v exceeds threshold %v", p99, perfP99Threshold)
	}
	if p50 > perfP50Threshold {
		t.Errorf("p50 latency %v exceeds threshold %v", p50, perfP50Threshold)
	}
}
