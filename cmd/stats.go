// This file implements the stats command: a snapshot of engine state.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/adalundhe/loupe/core/engine"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show engine statistics",
	Long: `Show the published epoch, corpus composition, ledger counters and
learned-weight version.

Examples:
  loupe stats
  loupe stats --json`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, _, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	st, err := e.Stats(ctx)
	if err != nil {
		return err
	}
	return outputStats(cmd.OutOrStdout(), st)
}

func outputStats(w io.Writer, st engine.Stats) error {
	if rootJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Fprintf(w, "%s%sEngine%s\n", colorBold, colorCyan, colorReset)
	if st.Corpus == nil {
		fmt.Fprintf(w, "%sNo corpus indexed. Run 'loupe index' first.%s\n", colorYellow, colorReset)
	} else {
		fmt.Fprintf(w, "%sEpoch:%s     %d\n", colorGray, colorReset, st.Epoch)
		fmt.Fprintf(w, "%sEntities:%s  %d\n", colorGray, colorReset, st.Corpus.Entities)
		fmt.Fprintf(w, "%sEdges:%s     %d\n", colorGray, colorReset, st.Corpus.Edges)
		printCountMap(w, "By kind", st.Corpus.EntitiesByKind)
		printCountMap(w, "By edge", st.Corpus.EdgesByType)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%sLedger%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%sEntries:%s   %d\n", colorGray, colorReset, st.Ledger.Entries)
	fmt.Fprintf(w, "%sTokens:%s    %d\n", colorGray, colorReset, st.Ledger.Tokens)
	fmt.Fprintf(w, "%sTracked:%s   %d entities\n", colorGray, colorReset, st.Ledger.TrackedEntity)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%sWeights version:%s %d  %sEmbedder:%s %s", colorGray, colorReset,
		st.WeightVersion, colorGray, colorReset, st.Embedder)
	if st.Degraded {
		fmt.Fprintf(w, " %s(degraded)%s", colorYellow, colorReset)
	}
	fmt.Fprintln(w)
	return nil
}

func printCountMap(w io.Writer, label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "%s%s:%s   ", colorGray, label, colorReset)
	for i, k := range keys {
		if i > 0 {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprintf(w, "%s %d", k, counts[k])
	}
	fmt.Fprintln(w)
}
