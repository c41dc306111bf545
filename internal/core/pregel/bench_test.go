package pregel

import (
	"context"
	"fmt"
	"testing"

	"github.com/flowgraph/pregelflow/internal/core/graph"
)

func BenchmarkSchedulerThroughput(b *testing.B) {
	s, err := newScheduler(4)
	if err != nil {
		b.Fatal(err)
	}
	defer s.close()
	tasks := make([]task, 8)
	for i := range tasks {
		tasks[i] = func() error { return nil }
	}

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		s.run(context.Background(), tasks)
	}
}

func BenchmarkExecutorInvoke(b *testing.B) {
	branches := map[string]graph.Runnable{}
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		branches[id] = publish(id)
	}
	e := newExecutor(b, fanoutGraph(b, branches, ids...), nil)

	b.ReportAllocs()
	b.ResetTimer()
	i := 0
	for b.Loop() {
		if _, err := e.Invoke(context.Background(), thread(fmt.Sprintf("bench-%d", i)), nil); err != nil {
			b.Fatal(err)
		}
		i++
	}
}
