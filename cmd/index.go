// This file implements the index command: corpus ingest and epoch publication.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/loupe/core/engine"
)

// =============================================================================
// Index Command Flags
// =============================================================================

var (
	indexCorpusDir string
	indexRepoPath  string
)

// =============================================================================
// Index Command
// =============================================================================

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Ingest a corpus and publish a new epoch",
	Long: `Ingest pre-extracted corpus records, enrich them with git history,
embed every entity, and publish the result as a new epoch.

The corpus directory must contain entities.jsonl and edges.jsonl. When
--repo points at a git repository, churn statistics and co-change edges
are folded in; a missing repository degrades rather than fails.

Examples:
  loupe index --corpus .loupe/corpus              # Ingest without history
  loupe index --corpus .loupe/corpus --repo .     # Ingest with git history`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.Flags().StringVarP(&indexCorpusDir, "corpus", "c", "", "Corpus directory holding entities.jsonl and edges.jsonl")
	indexCmd.Flags().StringVarP(&indexRepoPath, "repo", "r", "", "Git repository for history enrichment")
	_ = indexCmd.MarkFlagRequired("corpus")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if info, err := os.Stat(indexCorpusDir); err != nil || !info.IsDir() {
		return fmt.Errorf("corpus directory not found: %s", indexCorpusDir)
	}

	e, _, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if !rootJSON {
		fmt.Fprintf(cmd.OutOrStdout(), "%s%sIndexing Corpus%s\n", colorBold, colorCyan, colorReset)
		fmt.Fprintf(cmd.OutOrStdout(), "%sCorpus:%s %s\n", colorGray, colorReset, indexCorpusDir)
		if indexRepoPath != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%sRepo:%s   %s\n", colorGray, colorReset, indexRepoPath)
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}

	report, err := e.Ingest(ctx, engine.IngestOptions{
		CorpusDir: indexCorpusDir,
		RepoPath:  indexRepoPath,
	})
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	return outputIngestReport(cmd.OutOrStdout(), report)
}

func outputIngestReport(w io.Writer, report *engine.IngestReport) error {
	if rootJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(w, "%s%sIngest Complete%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%sEpoch:%s          %d\n", colorGray, colorReset, report.Epoch)
	fmt.Fprintf(w, "%sEntities:%s       %s%d%s\n", colorGray, colorReset, colorGreen, report.Entities, colorReset)
	fmt.Fprintf(w, "%sEdges:%s          %d\n", colorGray, colorReset, report.Edges)
	if report.CoChangeEdges > 0 {
		fmt.Fprintf(w, "%sCo-change:%s      %d\n", colorGray, colorReset, report.CoChangeEdges)
	}
	fmt.Fprintf(w, "%sEmbedded:%s       %d\n", colorGray, colorReset, report.Embedded)
	if report.HistoryCommits > 0 {
		fmt.Fprintf(w, "%sCommits:%s        %d\n", colorGray, colorReset, report.HistoryCommits)
	}
	if report.SkippedRecords > 0 {
		fmt.Fprintf(w, "%sSkipped:%s        %s%d%s\n", colorGray, colorReset, colorYellow, report.SkippedRecords, colorReset)
	}
	fmt.Fprintf(w, "%sDuration:%s       %v\n", colorGray, colorReset, report.Elapsed.Round(time.Millisecond))
	return nil
}

// signalContext returns a context canceled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
