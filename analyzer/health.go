package analyzer

import (
	"strings"

	"github.com/parklens/parklens/api/types"
)

// Vegetation health composite weights.
const (
	healthWeightColor    = 0.45
	healthWeightCoverage = 0.35
	healthWeightLabel    = 0.20
)

// greenRatioTarget is the dominant-color green share that maps to a full
// color score.
const greenRatioTarget = 0.4

// coverageTarget is the vegetation coverage pct that maps to a full
// coverage score.
const coverageTarget = 30.0

// vegetationHealth scores vegetation condition from color evidence,
// coverage, and healthy-label confidence.
func vegetationHealth(labels []types.Label, colors []types.ColorInfo, vegetationCoverage float64) *types.VegetationHealth {
	greenRatio := greenColorRatio(colors)
	colorScore := 100 * minf(1, greenRatio/greenRatioTarget)
	coverageScore := 100 * minf(1, vegetationCoverage/coverageTarget)

	labelMax := 0.0
	for _, l := range labels {
		name := strings.ToLower(l.Name)
		for _, kw := range healthyKeywords {
			if strings.Contains(name, kw) {
				if l.Confidence > labelMax {
					labelMax = l.Confidence
				}
				break
			}
		}
	}
	labelScore := 100 * minf(1, labelMax)

	overall := healthWeightColor*colorScore + healthWeightCoverage*coverageScore + healthWeightLabel*labelScore
	return &types.VegetationHealth{
		OverallScore:    round2(overall),
		ColorScore:      round2(colorScore),
		CoverageScore:   round2(coverageScore),
		LabelScore:      round2(labelScore),
		GreenRatio:      round2(greenRatio),
		Status:          healthStatus(overall),
		Recommendations: healthRecommendations(overall, coverageScore, colorScore, labelScore),
	}
}

// greenColorRatio is the share of dominant-color mass that reads as
// vegetation green: G > R, G > B, G >= 80. Shares are weighted by each
// color's percentage when available, otherwise by count.
func greenColorRatio(colors []types.ColorInfo) float64 {
	if len(colors) == 0 {
		return 0
	}
	totalPct, greenPct := 0.0, 0.0
	greenCount := 0
	for _, c := range colors {
		green := c.Green > c.Red && c.Green > c.Blue && c.Green >= 80
		totalPct += c.Pct
		if green {
			greenPct += c.Pct
			greenCount++
		}
	}
	if totalPct > 0 {
		return greenPct / totalPct
	}
	return float64(greenCount) / float64(len(colors))
}

func healthStatus(overall float64) string {
	switch {
	case overall >= 70:
		return "healthy"
	case overall >= 40:
		return "moderate"
	case overall >= 15:
		return "poor"
	default:
		return "unknown"
	}
}

func healthRecommendations(overall, coverageScore, colorScore, labelScore float64) []string {
	recs := []string{}
	if overall < 50 {
		recs = append(recs, "Vegetation health appears to need attention")
	}
	if coverageScore < 40 {
		recs = append(recs, "Low vegetation coverage detected - consider increasing plant density")
	}
	if colorScore < 40 {
		recs = append(recs, "Color analysis suggests vegetation may be stressed - check watering and nutrients")
	}
	if labelScore < 40 {
		recs = append(recs, "Labels indicate potential vegetation health issues")
	}
	if overall >= 75 {
		recs = append(recs, "Vegetation appears healthy and thriving")
	}
	return recs
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
