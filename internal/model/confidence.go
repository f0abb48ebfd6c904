package model

import "strconv"

type Tier string

const (
	TierHigh     Tier = "high"
	TierModerate Tier = "moderate"
	TierLow      Tier = "low"
)

const (
	highConfidenceMin     = 90.0
	moderateConfidenceMin = 70.0
)

// TierFor bands a 0..100 confidence into high (>=90), moderate (>=70) or low.
func TierFor(confidence float64) Tier {
	switch {
	case confidence >= highConfidenceMin:
		return TierHigh
	case confidence >= moderateConfidenceMin:
		return TierModerate
	default:
		return TierLow
	}
}

func (t Tier) Label() string {
	switch t {
	case TierHigh:
		return "High Confidence"
	case TierModerate:
		return "Good Confidence"
	default:
		return "Low Confidence"
	}
}

func (t Tier) Advice() string {
	switch t {
	case TierHigh:
		return "Excellent prediction accuracy. The model is highly confident in this classification."
	case TierModerate:
		return "Good prediction accuracy. The model shows reasonable confidence in this result."
	default:
		return "Lower prediction accuracy. Consider using a different model or capturing a clearer image."
	}
}

// Presentation is everything the result panel renders for a prediction.
type Presentation struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Percent    string  `json:"percent"`
	BarWidth   float64 `json:"bar_width"`
	Tier       Tier    `json:"tier"`
	TierLabel  string  `json:"tier_label"`
	Advice     string  `json:"advice"`
	ModelID    string  `json:"model"`
	ModelLabel string  `json:"model_label"`
}

func Present(result PredictionResult, choice ModelChoice) Presentation {
	tier := TierFor(result.Confidence)
	return Presentation{
		Label:      result.Label,
		Confidence: result.Confidence,
		Percent:    FormatPercent(result.Confidence),
		BarWidth:   clampPercent(result.Confidence),
		Tier:       tier,
		TierLabel:  tier.Label(),
		Advice:     tier.Advice(),
		ModelID:    choice.ID,
		ModelLabel: choice.Label,
	}
}

// FormatPercent renders a confidence with one decimal, e.g. "92.5%".
func FormatPercent(confidence float64) string {
	return strconv.FormatFloat(confidence, 'f', 1, 64) + "%"
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
