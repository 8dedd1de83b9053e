// This file implements the feedback command: rating served results back into
// the confidence model.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adalundhe/loupe/core/feedback"
)

// =============================================================================
// Feedback Command Flags
// =============================================================================

var (
	feedbackToken      string
	feedbackRelevant   []string
	feedbackIrrelevant []string
	feedbackMissing    []string
	feedbackUsefulness float64
)

// =============================================================================
// Feedback Command
// =============================================================================

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Rate a previously served result set",
	Long: `Rate the results of a previous query using its feedback token.

Each token applies exactly once: replaying a consumed token or
submitting after expiry is rejected without touching any confidence.
Entities the token does not cover are skipped, not errors.

Examples:
  loupe feedback --token <t> --relevant fn:auth/login.go:login
  loupe feedback --token <t> --irrelevant fn:util/misc.go:formatBytes
  loupe feedback --token <t> --relevant <id> --missing fn:auth/oauth.go:refresh`,
	RunE: runFeedback,
}

func init() {
	rootCmd.AddCommand(feedbackCmd)

	feedbackCmd.Flags().StringVarP(&feedbackToken, "token", "t", "", "Feedback token from the query response")
	feedbackCmd.Flags().StringSliceVar(&feedbackRelevant, "relevant", nil, "Entity ids that helped")
	feedbackCmd.Flags().StringSliceVar(&feedbackIrrelevant, "irrelevant", nil, "Entity ids that did not help")
	feedbackCmd.Flags().StringSliceVar(&feedbackMissing, "missing", nil, "Entity ids expected but absent from the results")
	feedbackCmd.Flags().Float64Var(&feedbackUsefulness, "usefulness", 1.0, "Strength of positive ratings in [0,1]")
	_ = feedbackCmd.MarkFlagRequired("token")
}

func runFeedback(cmd *cobra.Command, args []string) error {
	if len(feedbackRelevant) == 0 && len(feedbackIrrelevant) == 0 && len(feedbackMissing) == 0 {
		return fmt.Errorf("nothing to submit: pass --relevant, --irrelevant or --missing")
	}

	ctx, cancel := signalContext()
	defer cancel()

	e, _, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	sub := feedback.Submission{
		Token:              feedbackToken,
		ExpectedButMissing: feedbackMissing,
	}
	for _, id := range feedbackRelevant {
		sub.Ratings = append(sub.Ratings, feedback.Rating{
			EntityID:   id,
			Relevant:   true,
			Usefulness: feedbackUsefulness,
		})
	}
	for _, id := range feedbackIrrelevant {
		sub.Ratings = append(sub.Ratings, feedback.Rating{EntityID: id})
	}

	receipt, err := e.Feedback(ctx, sub)
	if err != nil {
		return err
	}
	return outputReceipt(cmd.OutOrStdout(), receipt)
}

func outputReceipt(w io.Writer, receipt *feedback.Receipt) error {
	if rootJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(receipt)
	}

	if !receipt.Accepted {
		fmt.Fprintf(w, "%sRejected:%s %s\n", colorRed, colorReset, receipt.Reason)
		return nil
	}

	fmt.Fprintf(w, "%sAccepted.%s\n", colorGreen, colorReset)
	fmt.Fprintf(w, "%sApplied:%s  %d\n", colorGray, colorReset, receipt.Applied)
	if len(receipt.Skipped) > 0 {
		fmt.Fprintf(w, "%sSkipped:%s  %s\n", colorGray, colorReset, strings.Join(receipt.Skipped, ", "))
	}
	if receipt.MissingRecorded > 0 {
		fmt.Fprintf(w, "%sMissing:%s  %d recorded\n", colorGray, colorReset, receipt.MissingRecorded)
	}
	if len(receipt.NudgedSignals) > 0 {
		fmt.Fprintf(w, "%sNudged:%s   %s\n", colorGray, colorReset, strings.Join(receipt.NudgedSignals, ", "))
	}
	return nil
}
