// Package loadtest drives concurrent readers and writers against an entity
// store and reports latency. Writers create tasks in the shared collection,
// so a final count below the expected total means a lost update.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/flowsync/internal/sync/entity"
	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

// Options tunes a run.
type Options struct {
	// Workers is the number of concurrent clients.
	Workers int
	// OpsPerWorker is how many operations each client performs.
	OpsPerWorker int
	// WriteRatio is the fraction of operations that write, in [0, 1].
	WriteRatio float64
	// Seed makes the read/write mix reproducible.
	Seed int64
}

// LatencyStats captures per-operation latency for one operation class.
type LatencyStats struct {
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Count int
}

// Report is the outcome of a run.
type Report struct {
	Reads    LatencyStats
	Writes   LatencyStats
	Errors   int
	Elapsed  time.Duration
	Expected int
	Final    int
}

// LostUpdates is how many created tasks are missing from the collection.
func (r *Report) LostUpdates() int {
	return r.Expected - r.Final
}

// Populate creates n tasks spread over a handful of projects.
func Populate(ctx context.Context, store *entity.Store, n int) error {
	projectIDs := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		p, err := store.Projects().Create(ctx, schema.Project{Name: fmt.Sprintf("Load %d", i)})
		if err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}
		projectIDs = append(projectIDs, p.ID)
	}

	base := time.Now().Add(-30 * 24 * time.Hour)
	for i := 0; i < n; i++ {
		due := base.Add(time.Duration(i) * time.Hour)
		t := schema.Task{
			Title:     fmt.Sprintf("Seed task %d", i),
			Important: i%7 == 0,
			MyDay:     i%5 == 0,
			DueDate:   &due,
			Tags:      []string{"loadtest", fmt.Sprintf("batch-%d", i/100)},
		}
		if i%3 != 0 {
			t.ProjectID = &projectIDs[i%len(projectIDs)]
		}
		if _, err := store.Tasks().Create(ctx, t); err != nil {
			return fmt.Errorf("failed to create task %d: %w", i, err)
		}
	}
	return nil
}

// Run executes the workload and returns the report. Per-operation failures
// are counted, not returned.
func Run(ctx context.Context, store *entity.Store, opts Options) (*Report, error) {
	if opts.Workers <= 0 || opts.OpsPerWorker <= 0 {
		return nil, fmt.Errorf("workers and ops per worker must be positive")
	}
	before := len(store.Tasks().List(ctx, entity.TaskFilter{}))

	type result struct {
		reads, writes []time.Duration
		errors        int
	}
	results := make(chan result, opts.Workers)

	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(opts.Seed + int64(worker)))
			var r result
			for i := 0; i < opts.OpsPerWorker; i++ {
				if ctx.Err() != nil {
					break
				}
				began := time.Now()
				if rng.Float64() < opts.WriteRatio {
					_, err := store.Tasks().Create(ctx, schema.Task{
						Title: fmt.Sprintf("Worker %d op %d", worker, i),
						Tags:  []string{"loadtest"},
					})
					r.writes = append(r.writes, time.Since(began))
					if err != nil {
						r.errors++
					}
					continue
				}
				important := true
				_ = store.Tasks().List(ctx, entity.TaskFilter{Important: &important, Tag: "loadtest"})
				r.reads = append(r.reads, time.Since(began))
			}
			results <- r
		}(w)
	}
	wg.Wait()
	close(results)

	rep := &Report{Elapsed: time.Since(start)}
	var reads, writes []time.Duration
	for r := range results {
		reads = append(reads, r.reads...)
		writes = append(writes, r.writes...)
		rep.Errors += r.errors
	}
	rep.Reads = computeLatencyStats(reads)
	rep.Writes = computeLatencyStats(writes)
	rep.Expected = before + len(writes) - rep.Errors
	rep.Final = len(store.Tasks().List(ctx, entity.TaskFilter{}))
	return rep, ctx.Err()
}

func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Count: len(sorted),
	}
}

// Print writes a plain-text summary.
func (r *Report) Print(w io.Writer) {
	row := func(name string, s LatencyStats) {
		fmt.Fprintf(w, "  %-6s n=%-6d min=%-10v p50=%-10v p95=%-10v p99=%-10v max=%v\n",
			name, s.Count, s.Min, s.P50, s.P95, s.P99, s.Max)
	}
	fmt.Fprintf(w, "Elapsed: %v  Errors: %d\n", r.Elapsed.Round(time.Millisecond), r.Errors)
	row("reads", r.Reads)
	row("writes", r.Writes)
	fmt.Fprintf(w, "Tasks: %d expected, %d stored\n", r.Expected, r.Final)
}
