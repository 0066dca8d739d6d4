// Package analyzer turns raw vision primitives into quantitative ecology
// artifacts: per-category coverage, vegetation health, seasonal inference,
// and color analysis. The analyzer is pure: equal input bundles produce
// equal artifacts, which is what makes fingerprint-keyed caching sound.
package analyzer

import (
	"math"
	"sort"
	"strings"

	"github.com/parklens/parklens/api/types"
	"github.com/parklens/parklens/vision"
)

// attributedLabel is one label's contribution to a single category. A
// label matching m categories contributes confidence/m to each.
type attributedLabel struct {
	name       string
	confidence float64
	share      float64
}

// Analyze computes a NatureArtifact from the bundle's labels and dominant
// colors.
func Analyze(bundle *vision.Bundle, params types.NatureParams) *types.NatureArtifact {
	threshold := params.ConfidenceThreshold
	if threshold <= 0 {
		threshold = types.DefaultNatureParams().ConfidenceThreshold
	}

	var kept []types.Label
	for _, l := range bundle.Labels {
		if l.Confidence >= threshold {
			kept = append(kept, l)
		}
	}

	attributed, totalConfidence := categorize(kept)
	coverage := coveragePercentages(attributed, totalConfidence)

	art := &types.NatureArtifact{
		VegetationCoverage: coverage[CategoryVegetation],
		SkyCoverage:        coverage[CategorySky],
		WaterCoverage:      coverage[CategoryWater],
		TerrainCoverage:    coverage[CategoryTerrain],
		BuiltCoverage:      coverage[CategoryBuilt],
		Categories:         elementCategories(attributed, coverage),
		LabelsAnalyzed:     len(kept),
		DominantColors:     []types.ColorInfo{},
	}

	comprehensive := params.Depth != types.DepthBasic
	if comprehensive && params.IncludeColor {
		art.DominantColors = enrichColors(bundle.Colors)
		art.ColorDiversity = colorDiversity(bundle.Colors)
	}
	if comprehensive && params.IncludeHealth {
		art.VegetationHealth = vegetationHealth(kept, bundle.Colors, coverage[CategoryVegetation])
	}
	if comprehensive && params.IncludeSeasonal {
		art.Seasonal = seasonalAnalysis(kept)
	}

	art.OverallAssessment = overallAssessment(coverage, art.VegetationHealth)
	art.Recommendations = recommendations(coverage, art.VegetationHealth, art.Seasonal)
	return art
}

// categorize attributes each kept label to its matching categories. The
// second return is the summed confidence of all kept labels, matched or
// not, which is the coverage denominator.
func categorize(labels []types.Label) (map[Category][]attributedLabel, float64) {
	attributed := make(map[Category][]attributedLabel)
	total := 0.0
	for _, l := range labels {
		total += l.Confidence
		name := strings.ToLower(l.Name)
		var matched []Category
		for _, cat := range categories {
			for _, kw := range categoryKeywords[cat] {
				if strings.Contains(name, kw) {
					matched = append(matched, cat)
					break
				}
			}
		}
		if len(matched) == 0 {
			continue
		}
		share := l.Confidence / float64(len(matched))
		for _, cat := range matched {
			attributed[cat] = append(attributed[cat], attributedLabel{
				name:       name,
				confidence: l.Confidence,
				share:      share,
			})
		}
	}
	return attributed, total
}

// coveragePercentages converts attributed confidence mass into dampened
// per-category percentages, rescaled so the total never exceeds 100.
func coveragePercentages(attributed map[Category][]attributedLabel, totalConfidence float64) map[Category]float64 {
	coverage := make(map[Category]float64, len(categories))
	if totalConfidence <= 0 {
		for _, cat := range categories {
			coverage[cat] = 0
		}
		return coverage
	}
	sum := 0.0
	for _, cat := range categories {
		raw := 0.0
		for _, al := range attributed[cat] {
			raw += al.share * categoryAlpha[cat]
		}
		pct := clamp(raw/totalConfidence, 0, 1) * 100
		coverage[cat] = pct
		sum += pct
	}
	if sum > 100 {
		scale := 100 / sum
		for _, cat := range categories {
			coverage[cat] *= scale
		}
	}
	return coverage
}

func elementCategories(attributed map[Category][]attributedLabel, coverage map[Category]float64) []types.ElementCategory {
	out := make([]types.ElementCategory, 0, len(categories))
	for _, cat := range categories {
		labels := attributed[cat]
		ec := types.ElementCategory{
			Name:         string(cat),
			CoveragePct:  round2(coverage[cat]),
			ElementCount: len(labels),
			Labels:       make([]string, 0, len(labels)),
		}
		if len(labels) > 0 {
			sum := 0.0
			for _, al := range labels {
				sum += al.confidence
				ec.Labels = append(ec.Labels, al.name)
			}
			sort.Strings(ec.Labels)
			ec.MeanConfidence = round2(sum / float64(len(labels)))
		}
		out = append(out, ec)
	}
	return out
}

func overallAssessment(coverage map[Category]float64, health *types.VegetationHealth) string {
	veg := coverage[CategoryVegetation]
	built := coverage[CategoryBuilt]
	water := coverage[CategoryWater]
	switch {
	case veg > 60:
		if health != nil && health.OverallScore > 75 {
			return "thriving_natural_environment"
		}
		return "nature_dominant"
	case veg > 30:
		if water > 20 {
			return "balanced_environment_with_water"
		}
		return "balanced_environment"
	case built > 50:
		return "urban_environment"
	case water > 40:
		return "water_dominant_environment"
	default:
		return "mixed_landscape"
	}
}

func recommendations(coverage map[Category]float64, health *types.VegetationHealth, seasonal *types.SeasonalAnalysis) []string {
	recs := []string{}
	veg := coverage[CategoryVegetation]
	if veg < 20 {
		recs = append(recs, "Consider increasing vegetation coverage for better environmental balance")
	} else if veg > 80 {
		recs = append(recs, "Excellent vegetation coverage - maintain current green space management")
	}
	if health != nil {
		if health.OverallScore < 50 {
			recs = append(recs, "Vegetation health needs attention - consider soil and water management")
		} else if health.OverallScore > 80 {
			recs = append(recs, "Vegetation appears very healthy - continue current maintenance practices")
		}
	}
	if coverage[CategoryWater] > 30 {
		recs = append(recs, "Significant water features detected - monitor water quality and ecosystem health")
	}
	if seasonal != nil {
		switch seasonal.PrimarySeason {
		case "winter":
			recs = append(recs, "Winter conditions detected - consider seasonal maintenance needs")
		case "spring":
			recs = append(recs, "Spring growth period - optimal time for planting and maintenance")
		case "summer":
			recs = append(recs, "Summer conditions - ensure adequate watering and shade")
		case "autumn":
			recs = append(recs, "Autumn season - prepare for seasonal changes and leaf management")
		}
	}
	if coverage[CategoryBuilt] > 60 {
		recs = append(recs, "High built environment coverage - consider adding more green spaces")
	}
	return recs
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
