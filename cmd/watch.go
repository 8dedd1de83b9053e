// This file implements the watch command: foreground staleness tracking for
// an indexed corpus.
package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/loupe/core/corpus"
	"github.com/adalundhe/loupe/core/watch"
)

// =============================================================================
// Watch Command Flags
// =============================================================================

var (
	watchRoot     string
	watchExcludes []string
	watchInterval time.Duration
)

// =============================================================================
// Watch Command
// =============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Track source drift against the indexed corpus",
	Long: `Watch the source tree and report files that drifted from the state
they were indexed in.

The baseline is every file path in the published snapshot. A modified
file is reported once it stays changed past the debounce window; a file
rewritten to identical content clears again. Queries served while any
watched file is stale carry the watch_state_missing coverage gap.

Runs until interrupted.

Examples:
  loupe watch --root .
  loupe watch --root . --exclude 'vendor/**' --exclude '**/*_test.go'`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchRoot, "root", "r", ".", "Source tree to watch")
	watchCmd.Flags().StringSliceVarP(&watchExcludes, "exclude", "E", nil, "Glob patterns to ignore")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "Staleness report interval")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, cfg, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	snap := e.Snapshot()
	if snap == nil {
		return fmt.Errorf("no corpus indexed; run 'loupe index' first")
	}

	watcher, err := watch.New(watch.Config{
		Root:            watchRoot,
		ExcludePatterns: watchExcludes,
		Debounce:        cfg.Watch.Debounce(),
	}, newLogger())
	if err != nil {
		return err
	}

	paths := snapshotPaths(snap)
	watcher.SetBaseline(paths)
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s%sWatching%s %s  %s%d tracked files, Ctrl+C to stop%s\n",
		colorBold, colorCyan, colorReset, watchRoot, colorGray, watcher.TrackedCount(), colorReset)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	var lastReport []string
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nStopped.")
			return nil
		case <-ticker.C:
			stale := watcher.StalePaths()
			if equalStrings(stale, lastReport) {
				continue
			}
			lastReport = stale

			timestamp := time.Now().Format("15:04:05")
			if len(stale) == 0 {
				fmt.Fprintf(out, "%s %sclean%s\n", timestamp, colorGreen, colorReset)
				continue
			}
			fmt.Fprintf(out, "%s %s%d stale%s\n", timestamp, colorYellow, len(stale), colorReset)
			for _, p := range stale {
				fmt.Fprintf(out, "  %s%s%s\n", colorYellow, p, colorReset)
			}
		}
	}
}

// snapshotPaths returns the snapshot's distinct entity paths, sorted.
func snapshotPaths(snap *corpus.Snapshot) []string {
	seen := make(map[string]struct{})
	snap.ForEachEntity(func(e *corpus.Entity) {
		if e.Path != "" {
			seen[e.Path] = struct{}{}
		}
	})
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
