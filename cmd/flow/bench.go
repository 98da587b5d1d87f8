package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/flowsync/internal/sync/cache"
	"github.com/mschirtzinger/flowsync/internal/sync/entity"
	"github.com/mschirtzinger/flowsync/internal/sync/events"
	"github.com/mschirtzinger/flowsync/internal/sync/loadtest"
)

var (
	benchWorkers    int
	benchOps        int
	benchSeedTasks  int
	benchWriteRatio float64
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "advanced",
	Short:   "Load test the local cache with concurrent clients",
	Long: `Run concurrent readers and writers against a scratch cache and report
latency percentiles. Your data is not touched.

A non-zero lost-update count means concurrent writes to one collection
overwrote each other.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		dir, err := os.MkdirTemp("", "flow-bench-*")
		if err != nil {
			return fmt.Errorf("failed to create scratch dir: %w", err)
		}
		defer os.RemoveAll(dir)

		c, err := cache.OpenContext(ctx, filepath.Join(dir, "bench.db"))
		if err != nil {
			return err
		}
		defer c.Close()
		store := entity.NewStore(c, events.New(), zerolog.Nop())

		fmt.Printf("%s Seeding %d tasks...\n", renderAccent("▶"), benchSeedTasks)
		if err := loadtest.Populate(ctx, store, benchSeedTasks); err != nil {
			return err
		}
		fmt.Printf("%s Running %d workers × %d ops (%.0f%% writes)...\n\n",
			renderAccent("▶"), benchWorkers, benchOps, benchWriteRatio*100)
		rep, err := loadtest.Run(ctx, store, loadtest.Options{
			Workers:      benchWorkers,
			OpsPerWorker: benchOps,
			WriteRatio:   benchWriteRatio,
			Seed:         42,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(rep)
		}
		rep.Print(os.Stdout)
		if lost := rep.LostUpdates(); lost != 0 {
			return fmt.Errorf("%d lost updates", lost)
		}
		fmt.Printf("\n%s No lost updates\n", renderPass("✓"))
		return nil
	},
}

func init() {
	benchCmd.Flags().IntVar(&benchWorkers, "workers", 20, "Concurrent clients")
	benchCmd.Flags().IntVar(&benchOps, "ops", 50, "Operations per client")
	benchCmd.Flags().IntVar(&benchSeedTasks, "tasks", 500, "Tasks to seed")
	benchCmd.Flags().Float64Var(&benchWriteRatio, "write-ratio", 0.2, "Fraction of operations that write")
	rootCmd.AddCommand(benchCmd)
}
