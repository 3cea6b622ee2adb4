package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/prompt-compliance/internal/replay"
)

// #region replay
func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <fixture.json>...",
		Short: "Replay verdict fixtures offline",
		Long: `Replay one or more JSON fixtures through retrieval, evaluation and scoring
with scripted reasoner output, and report which expectations held. Runs
entirely in memory with the hashing embedder; no provider is contacted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var failed, total int
			for _, path := range args {
				f, err := replay.LoadFixture(path)
				if err != nil {
					return err
				}
				results, err := replay.Replay(cmd.Context(), f)
				if err != nil {
					return fmt.Errorf("replay %s: %w", path, err)
				}
				s := replay.Summarize(results)
				printReplay(out, path, f.Description, results, s)
				failed += s.Failed
				total += s.Total
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d replay cases failed", failed, total)
			}
			return nil
		},
	}
}

func printReplay(w io.Writer, path, description string, results []replay.CaseResult, s replay.Summary) {
	fmt.Fprintf(w, "=== %s", path)
	if description != "" {
		fmt.Fprintf(w, " (%s)", description)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range results {
		mark := "PASS"
		if !r.Passed {
			mark = "FAIL"
		}
		outcome := string(r.Status)
		if r.Err != nil {
			outcome = string(r.ErrorKind)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\tcalls=%d\t%s\n", mark, r.ID, outcome, r.Score, r.ReasoningCalls, r.Reason)
	}
	tw.Flush()
	fmt.Fprintf(w, "--- %d/%d passed | compliant=%d non_compliant=%d uncertain=%d errors=%d\n",
		s.Passed, s.Total, s.Compliant, s.NonCompliant, s.Uncertain, s.Errors)
}

// #endregion replay
