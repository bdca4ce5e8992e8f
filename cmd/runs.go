package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/finscreen/internal/ingest"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent ingest runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("runs"); err != nil {
			return err
		}
		ctx := cmd.Context()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		symbol, _ := cmd.Flags().GetString("symbol")
		asJSON, _ := cmd.Flags().GetBool("json")

		entries, err := ingest.NewRunLog(pool).Recent(ctx, symbol, limit)
		if err != nil {
			return eris.Wrap(err, "runs")
		}

		return printRuns(cmd.OutOrStdout(), cmd.ErrOrStderr(), entries, asJSON)
	},
}

func init() {
	f := runsCmd.Flags()
	f.Int("limit", 20, "maximum entries to show")
	f.String("symbol", "", "only show this symbol")
	f.Bool("json", false, "print JSON instead of a table")
	rootCmd.AddCommand(runsCmd)
}

func printRuns(out, errOut io.Writer, entries []ingest.RunEntry, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(errOut, "No runs found.")
		return nil
	}
	formatRuns(out, entries)
	return nil
}

func formatRuns(out io.Writer, entries []ingest.RunEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tSYMBOL\tSTATUS\tSTAGE\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "---\t------\t------\t-----\t-------\t--------\t-----")

	for _, e := range entries {
		dur := ""
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
		}
		msg := truncate(e.Error, 60)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.RunID.String()[:8],
			e.Symbol,
			e.Status,
			e.Stage,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			msg,
		)
	}
	_ = w.Flush()
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
