package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gocarina/gocsv"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/finscreen/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [SYMBOL...]",
	Short: "Fetch, normalize, and store market data for symbols",
	Long: `Fetches each symbol from the market-data provider, normalizes the record,
and upserts it into Postgres in one transaction per symbol. A failing symbol
is reported and never stops the others. Symbols are matched case-insensitively
and reported under the spelling given.

Examples:
  ingest AAPL MSFT
  ingest --file symbols.yaml --output csv`,
	RunE: runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.String("file", "", "YAML file listing symbols")
	f.String("output", "json", "report format: json or csv")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("ingest"); err != nil {
		return err
	}

	file, _ := cmd.Flags().GetString("file")
	output, _ := cmd.Flags().GetString("output")
	if output != "json" && output != "csv" {
		return eris.Errorf("ingest: unknown output format %q", output)
	}

	symbols := append([]string(nil), args...)
	if file != "" {
		fromFile, err := readSymbolsFile(file)
		if err != nil {
			return err
		}
		symbols = append(symbols, fromFile...)
	}
	if len(symbols) == 0 {
		return eris.New("ingest: no symbols given")
	}

	pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	report := newOrchestrator(pool, newProvider()).RunBatch(ctx, symbols)
	return writeReport(cmd.OutOrStdout(), report, output)
}

// readSymbolsFile accepts either a bare YAML list or a mapping with a
// "symbols" key.
func readSymbolsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var doc struct {
		Symbols []string `yaml:"symbols"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "ingest: parse %s", path)
	}
	return doc.Symbols, nil
}

// reportRow is one CSV line of a batch report.
type reportRow struct {
	Symbol           string `csv:"symbol"`
	Status           string `csv:"status"`
	Stage            string `csv:"stage"`
	Message          string `csv:"message"`
	CompanyID        int64  `csv:"company_id"`
	Officers         int    `csv:"officers"`
	BalanceSheetRows int    `csv:"balance_sheet_rows"`
	Warnings         int    `csv:"warnings"`
}

func reportRows(report ingest.Report) []*reportRow {
	rows := make([]*reportRow, 0, len(report))
	for _, sym := range report.Symbols() {
		o := report[sym]
		row := &reportRow{
			Symbol:  sym,
			Status:  string(o.Status),
			Stage:   string(o.Stage),
			Message: o.Message,
		}
		if o.Result != nil {
			row.CompanyID = o.Result.CompanyID
			row.Officers = o.Result.Officers
			row.BalanceSheetRows = o.Result.BalanceSheetRows
			row.Warnings = len(o.Result.Warnings)
		}
		rows = append(rows, row)
	}
	return rows
}

func writeReport(w io.Writer, report ingest.Report, format string) error {
	if format == "csv" {
		if err := gocsv.Marshal(reportRows(report), w); err != nil {
			return eris.Wrap(err, "ingest: write csv report")
		}
		return nil
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return eris.Wrap(err, "ingest: write json report")
	}
	return nil
}
