package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sells-group/finscreen/internal/scoring"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Compute composite scores from sub-scores",
	Long: `Combines pre-computed sub-scores into a recommendation.

Examples:
  score fundamental --profitability 0.8 --growth 0.4 --valuation 0.1 --financial-health 0.5 --efficiency 0.2
  score technical --rsi 0.5 --ma 1 --macd 0.5 --adx 0 --bollinger -0.5 --volume 0.5
  score raw --rsi 28 --ma50 120 --ma200 110 --macd bullish --adx 30 --bollinger below --volume-state above_average`,
}

var scoreFundamentalCmd = &cobra.Command{
	Use:   "fundamental",
	Short: "Fundamental health score",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := cmd.Flags()
		in := scoring.FundamentalInputs{}
		in.Profitability, _ = f.GetFloat64("profitability")
		in.Growth, _ = f.GetFloat64("growth")
		in.Valuation, _ = f.GetFloat64("valuation")
		in.FinancialHealth, _ = f.GetFloat64("financial-health")
		in.Efficiency, _ = f.GetFloat64("efficiency")

		printScore(cmd.OutOrStdout(), scoring.FundamentalHealth(in))
		return nil
	},
}

var scoreTechnicalCmd = &cobra.Command{
	Use:   "technical",
	Short: "Technical trend score",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := cmd.Flags()
		in := scoring.TechnicalInputs{}
		in.RSI, _ = f.GetFloat64("rsi")
		in.MA, _ = f.GetFloat64("ma")
		in.MACD, _ = f.GetFloat64("macd")
		in.ADX, _ = f.GetFloat64("adx")
		in.Bollinger, _ = f.GetFloat64("bollinger")
		in.Volume, _ = f.GetFloat64("volume")

		printScore(cmd.OutOrStdout(), scoring.TechnicalTrend(in))
		return nil
	},
}

var scoreRawCmd = &cobra.Command{
	Use:   "raw",
	Short: "Point-based technical score from indicator readings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := cmd.Flags()
		s := scoring.TechnicalSignals{}
		s.RSI, _ = f.GetFloat64("rsi")
		s.MA50, _ = f.GetFloat64("ma50")
		s.MA200, _ = f.GetFloat64("ma200")
		s.MACD, _ = f.GetString("macd")
		s.ADX, _ = f.GetFloat64("adx")
		s.Bollinger, _ = f.GetString("bollinger")
		s.Volume, _ = f.GetString("volume-state")

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "score: %d\n", scoring.RawTechnical(s))
		return nil
	},
}

func init() {
	f := scoreFundamentalCmd.Flags()
	f.Float64("profitability", 0, "profitability sub-score")
	f.Float64("growth", 0, "growth sub-score")
	f.Float64("valuation", 0, "valuation sub-score")
	f.Float64("financial-health", 0, "financial health sub-score")
	f.Float64("efficiency", 0, "efficiency sub-score")

	f = scoreTechnicalCmd.Flags()
	f.Float64("rsi", 0, "RSI sub-score")
	f.Float64("ma", 0, "moving-average sub-score")
	f.Float64("macd", 0, "MACD sub-score")
	f.Float64("adx", 0, "ADX sub-score")
	f.Float64("bollinger", 0, "Bollinger sub-score")
	f.Float64("volume", 0, "volume sub-score")

	// Neutral defaults: RSI between the bands, ADX between 20 and 25.
	f = scoreRawCmd.Flags()
	f.Float64("rsi", 50, "RSI reading")
	f.Float64("ma50", 0, "50-day moving average")
	f.Float64("ma200", 0, "200-day moving average")
	f.String("macd", "", "MACD state: bullish or bearish")
	f.Float64("adx", 22.5, "ADX reading")
	f.String("bollinger", "", "Bollinger position: below or above")
	f.String("volume-state", "", "volume: above_average or below_average")

	scoreCmd.AddCommand(scoreFundamentalCmd, scoreTechnicalCmd, scoreRawCmd)
	rootCmd.AddCommand(scoreCmd)
}

func printScore(w io.Writer, s scoring.Score) {
	_, _ = fmt.Fprintf(w, "score: %.4f\nrecommendation: %s\n", s.Value, s.Recommendation)
}
