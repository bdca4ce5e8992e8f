package scoring

// Signal states for RawTechnical.
const (
	MACDBullish = "bullish"
	MACDBearish = "bearish"

	BandBelow = "below"
	BandAbove = "above"

	VolumeAboveAverage = "above_average"
	VolumeBelowAverage = "below_average"
)

// TechnicalSignals are the raw indicator readings for RawTechnical.
type TechnicalSignals struct {
	RSI       float64 `json:"rsi"`
	MA50      float64 `json:"ma50"`
	MA200     float64 `json:"ma200"`
	MACD      string  `json:"macd"`
	ADX       float64 `json:"adx"`
	Bollinger string  `json:"bollinger"`
	Volume    string  `json:"volume"`
}

// RawTechnical accumulates integer points from the signals. Every
// comparison is strict: a reading exactly on a threshold adds nothing, and
// unrecognized states add nothing.
func RawTechnical(s TechnicalSignals) int {
	score := 0

	switch {
	case s.RSI < 30:
		score += 2
	case s.RSI > 70:
		score -= 2
	}

	switch {
	case s.MA50 > s.MA200:
		score += 2
	case s.MA50 < s.MA200:
		score -= 2
	}

	switch s.MACD {
	case MACDBullish:
		score++
	case MACDBearish:
		score--
	}

	switch {
	case s.ADX > 25:
		score++
	case s.ADX < 20:
		score--
	}

	switch s.Bollinger {
	case BandBelow:
		score++
	case BandAbove:
		score--
	}

	switch s.Volume {
	case VolumeAboveAverage:
		score++
	case VolumeBelowAverage:
		score--
	}

	return score
}
