// This file implements the query command: one retrieval request end to end.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adalundhe/loupe/core/engine"
	"github.com/adalundhe/loupe/core/retriever"
)

// =============================================================================
// Query Command Flags
// =============================================================================

var (
	queryMode       string
	queryDepth      string
	queryLimit      int
	queryDomain     string
	queryPathPrefix string
	queryDeadlineMS int64
	queryExplain    bool
)

// =============================================================================
// Query Command
// =============================================================================

var queryCmd = &cobra.Command{
	Use:   "query <intent>",
	Short: "Retrieve the code most relevant to an intent",
	Long: `Retrieve the entities most relevant to a natural-language intent.

Each result carries the raw signals that fired for it, the fused
confidence, and an explanation of how the score was assembled. A result
set produced without any real channel match is flagged as a fallback
and capped in confidence.

Examples:
  loupe query "where are user sessions invalidated"
  loupe query "retry logic for webhook delivery" --depth L2
  loupe query "token refresh" --mode lexical --domain auth
  loupe query "parse config" --path 'internal/**' --limit 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringVarP(&queryMode, "mode", "m", "", "Retrieval mode: lexical, semantic, graph, hybrid")
	queryCmd.Flags().StringVarP(&queryDepth, "depth", "d", "", "Retrieval depth: L1, L2, L3")
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", 0, "Maximum results")
	queryCmd.Flags().StringVar(&queryDomain, "domain", "", "Keep only entities tagged with this domain")
	queryCmd.Flags().StringVar(&queryPathPrefix, "path", "", "Keep only entities under this path prefix or glob")
	queryCmd.Flags().Int64Var(&queryDeadlineMS, "deadline-ms", 0, "Request deadline in milliseconds")
	queryCmd.Flags().BoolVar(&queryExplain, "explain", false, "Show per-signal scoring evidence")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, _, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	resp, err := e.Query(ctx, retriever.Request{
		Intent:     strings.Join(args, " "),
		Mode:       retriever.Mode(queryMode),
		Depth:      retriever.Depth(queryDepth),
		MaxResults: queryLimit,
		DeadlineMS: queryDeadlineMS,
		Filters: retriever.Filters{
			Domain:     queryDomain,
			PathPrefix: queryPathPrefix,
		},
	})
	if err != nil {
		return err
	}

	return outputQueryResponse(cmd.OutOrStdout(), resp)
}

func outputQueryResponse(w io.Writer, resp *engine.Response) error {
	if rootJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if resp.Fallback {
		fmt.Fprintf(w, "%sNo channel matched the intent; showing the general authority set.%s\n\n",
			colorYellow, colorReset)
	}

	for i, pack := range resp.Packs {
		v, _ := pack.Combined.Numeric()
		fmt.Fprintf(w, "%s%2d.%s %s%s%s  %s%s:%d%s  %s(%.2f)%s\n",
			colorGray, i+1, colorReset,
			colorBold, pack.Name, colorReset,
			colorGray, pack.Path, pack.Line, colorReset,
			confidenceColor(v), v, colorReset)

		if len(pack.GraphPath) > 1 {
			fmt.Fprintf(w, "    %svia %s%s\n", colorGray, strings.Join(pack.GraphPath, " -> "), colorReset)
		}
		if queryExplain {
			for _, line := range pack.Explanation {
				fmt.Fprintf(w, "    %s- %s%s\n", colorGray, line, colorReset)
			}
		}
	}

	if len(resp.Packs) == 0 {
		fmt.Fprintf(w, "%sNo results.%s\n", colorGray, colorReset)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%sConfidence:%s %.2f  %sLatency:%s %dms  %sEpoch:%s %d\n",
		colorGray, colorReset, resp.Confidence,
		colorGray, colorReset, resp.LatencyMS,
		colorGray, colorReset, resp.Epoch)

	if len(resp.CoverageGaps) > 0 {
		fmt.Fprintf(w, "%sCoverage gaps:%s %s\n", colorYellow, colorReset, strings.Join(resp.CoverageGaps, ", "))
	}
	if resp.FeedbackToken != "" {
		fmt.Fprintf(w, "%sFeedback token:%s %s\n", colorGray, colorReset, resp.FeedbackToken)
	}
	return nil
}

// confidenceColor maps a confidence value to a terminal color band.
func confidenceColor(v float64) string {
	switch {
	case v >= 0.75:
		return colorGreen
	case v >= 0.45:
		return colorYellow
	default:
		return colorRed
	}
}
