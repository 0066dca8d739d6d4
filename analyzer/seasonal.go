package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/parklens/parklens/api/types"
)

// seasonalAnalysis sums label confidence per season. The primary season is
// the highest scorer at or above the detection threshold; ties break by
// greater matching-label count, then alphabetically.
func seasonalAnalysis(labels []types.Label) *types.SeasonalAnalysis {
	scores := make(map[string]float64, len(seasons))
	counts := make(map[string]int, len(seasons))
	featureSet := make(map[string]struct{})
	for _, s := range seasons {
		scores[s] = 0
	}

	for _, l := range labels {
		name := strings.ToLower(l.Name)
		for _, season := range seasons {
			for _, kw := range seasonalKeywords[season] {
				if strings.Contains(name, kw) {
					scores[season] += l.Confidence
					counts[season]++
					featureSet[fmt.Sprintf("%s: %s", season, name)] = struct{}{}
					break
				}
			}
		}
	}

	var detected []string
	for _, season := range seasons {
		if scores[season] >= seasonalScoreThreshold {
			detected = append(detected, season)
		}
	}
	sort.Strings(detected)

	primary := "unknown"
	for _, season := range seasons {
		if scores[season] < seasonalScoreThreshold {
			continue
		}
		if primary == "unknown" || beats(season, primary, scores, counts) {
			primary = season
		}
	}

	features := make([]string, 0, len(featureSet))
	for f := range featureSet {
		features = append(features, f)
	}
	sort.Strings(features)
	if len(features) == 0 {
		features = []string{"General outdoor environment"}
	}

	roundedScores := make(map[string]float64, len(scores))
	for s, v := range scores {
		roundedScores[s] = round2(v)
	}
	return &types.SeasonalAnalysis{
		PrimarySeason:   primary,
		Confidences:     roundedScores,
		DetectedSeasons: detected,
		Features:        features,
	}
}

// beats reports whether candidate outranks current: higher score, then
// greater label count, then alphabetical order.
func beats(candidate, current string, scores map[string]float64, counts map[string]int) bool {
	if scores[candidate] != scores[current] {
		return scores[candidate] > scores[current]
	}
	if counts[candidate] != counts[current] {
		return counts[candidate] > counts[current]
	}
	return candidate < current
}
