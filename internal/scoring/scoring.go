// Package scoring combines fundamental and technical sub-scores into a
// single buy/sell recommendation. Everything here is pure.
package scoring

import "math"

// Recommendation is the categorical label for a composite score.
type Recommendation string

const (
	StrongBuy  Recommendation = "Strong Buy"
	Buy        Recommendation = "Buy"
	Hold       Recommendation = "Hold"
	Sell       Recommendation = "Sell"
	StrongSell Recommendation = "Strong Sell"
)

// Score is a weighted composite and its label.
type Score struct {
	Value          float64        `json:"score"`
	Recommendation Recommendation `json:"recommendation"`
}

// Classify maps a composite value onto a recommendation.
//
//	v > 0.5           Strong Buy
//	0.2 < v <= 0.5    Buy
//	-0.2 <= v <= 0.2  Hold
//	-0.5 <= v < -0.2  Sell
//	otherwise         Strong Sell
func Classify(v float64) Recommendation {
	switch {
	case v > 0.5:
		return StrongBuy
	case v > 0.2:
		return Buy
	case v >= -0.2:
		return Hold
	case v >= -0.5:
		return Sell
	default:
		return StrongSell
	}
}

// FundamentalInputs are pre-normalized fundamental sub-scores.
type FundamentalInputs struct {
	Profitability   float64 `json:"profitability"`
	Growth          float64 `json:"growth"`
	Valuation       float64 `json:"valuation"`
	FinancialHealth float64 `json:"financial_health"`
	Efficiency      float64 `json:"efficiency"`
}

// FundamentalWeights are the fixed weights for FundamentalHealth.
var FundamentalWeights = FundamentalInputs{
	Profitability:   0.25,
	Growth:          0.25,
	Valuation:       0.20,
	FinancialHealth: 0.20,
	Efficiency:      0.10,
}

// TechnicalInputs are pre-normalized technical sub-scores.
type TechnicalInputs struct {
	RSI       float64 `json:"rsi"`
	MA        float64 `json:"ma"`
	MACD      float64 `json:"macd"`
	ADX       float64 `json:"adx"`
	Bollinger float64 `json:"bollinger"`
	Volume    float64 `json:"volume"`
}

// TechnicalWeights are the fixed weights for TechnicalTrend.
var TechnicalWeights = TechnicalInputs{
	RSI:       0.20,
	MA:        0.25,
	MACD:      0.15,
	ADX:       0.10,
	Bollinger: 0.10,
	Volume:    0.20,
}

func (in FundamentalInputs) dot(w FundamentalInputs) float64 {
	return in.Profitability*w.Profitability +
		in.Growth*w.Growth +
		in.Valuation*w.Valuation +
		in.FinancialHealth*w.FinancialHealth +
		in.Efficiency*w.Efficiency
}

func (in TechnicalInputs) dot(w TechnicalInputs) float64 {
	return in.RSI*w.RSI +
		in.MA*w.MA +
		in.MACD*w.MACD +
		in.ADX*w.ADX +
		in.Bollinger*w.Bollinger +
		in.Volume*w.Volume
}

// FundamentalHealth returns the weighted fundamental score.
func FundamentalHealth(in FundamentalInputs) Score {
	return newScore(in.dot(FundamentalWeights))
}

// TechnicalTrend returns the weighted technical score.
func TechnicalTrend(in TechnicalInputs) Score {
	return newScore(in.dot(TechnicalWeights))
}

// FundamentalWeightSum returns the sum of FundamentalWeights.
func FundamentalWeightSum() float64 {
	return FundamentalInputs{1, 1, 1, 1, 1}.dot(FundamentalWeights)
}

// TechnicalWeightSum returns the sum of TechnicalWeights.
func TechnicalWeightSum() float64 {
	return TechnicalInputs{1, 1, 1, 1, 1, 1}.dot(TechnicalWeights)
}

// newScore rounds away float noise so boundary values classify exactly.
func newScore(v float64) Score {
	v = math.Round(v*1e9) / 1e9
	return Score{Value: v, Recommendation: Classify(v)}
}
