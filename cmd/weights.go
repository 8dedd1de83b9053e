// This file implements the weights command: inspecting the learned signal
// weights.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Show the learned signal weights",
	Long: `Show the current learned signal weights and their version.

Weights start from the configured initial values and drift in bounded
steps as feedback accumulates. The version increments on every nudge,
so two outputs with the same version are identical.`,
	RunE: runWeights,
}

var weightsReset bool

func init() {
	rootCmd.AddCommand(weightsCmd)
	weightsCmd.Flags().BoolVar(&weightsReset, "reset", false, "Reset weights to the configured initial values")
}

// weightsOutput is the JSON shape for the weights command.
type weightsOutput struct {
	Version       uint64             `json:"version"`
	FeedbackCount int                `json:"feedback_count"`
	Calibration   string             `json:"calibration"`
	Weights       map[string]float64 `json:"weights"`
}

func runWeights(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, cfg, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if weightsReset {
		e.Weights().Reset(cfg.Signals.InitialWeights)
		if err := e.Weights().Flush(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%sWeights reset.%s\n", colorYellow, colorReset)
	}

	snap := e.Weights().Snapshot()
	out := weightsOutput{
		Version:       snap.Version,
		FeedbackCount: snap.FeedbackCount,
		Calibration:   string(snap.Status()),
		Weights:       snap.Map(),
	}
	return outputWeights(cmd.OutOrStdout(), out)
}

func outputWeights(w io.Writer, out weightsOutput) error {
	if rootJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "%s%sSignal Weights%s  %sversion %d, %d feedback events, %s%s\n",
		colorBold, colorCyan, colorReset,
		colorGray, out.Version, out.FeedbackCount, out.Calibration, colorReset)
	fmt.Fprintln(w)

	names := make([]string, 0, len(out.Weights))
	for name := range out.Weights {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if out.Weights[names[i]] != out.Weights[names[j]] {
			return out.Weights[names[i]] > out.Weights[names[j]]
		}
		return names[i] < names[j]
	})

	for _, name := range names {
		weight := out.Weights[name]
		bar := int(weight * 100)
		fmt.Fprintf(w, "  %-22s %.4f %s%s%s\n",
			name, weight, colorBlue, barString(bar), colorReset)
	}
	return nil
}

// barString renders a proportional bar, one character per two percent.
func barString(percent int) string {
	n := percent / 2
	if n < 0 {
		n = 0
	}
	if n > 50 {
		n = 50
	}
	bar := make([]byte, n)
	for i := range bar {
		bar[i] = '#'
	}
	return string(bar)
}
