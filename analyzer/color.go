package analyzer

import (
	"fmt"
	"math"

	"github.com/parklens/parklens/api/types"
)

// enrichColors fills in hex codes and descriptive names for the provider's
// dominant colors.
func enrichColors(colors []types.ColorInfo) []types.ColorInfo {
	out := make([]types.ColorInfo, len(colors))
	for i, c := range colors {
		c.HexCode = fmt.Sprintf("#%02X%02X%02X", int(c.Red), int(c.Green), int(c.Blue))
		c.ColorName = colorName(c.Red, c.Green, c.Blue)
		out[i] = c
	}
	return out
}

// colorName buckets a color by its dominant channel and intensity.
func colorName(r, g, b float64) string {
	switch {
	case g > r && g > b:
		return intensityName(g, "Green")
	case r > g && r > b:
		return intensityName(r, "Red")
	case b > r && b > g:
		return intensityName(b, "Blue")
	}
	brightness := (r + g + b) / 3
	switch {
	case brightness > 200:
		return "Light"
	case brightness > 100:
		return "Medium"
	default:
		return "Dark"
	}
}

func intensityName(channel float64, base string) string {
	switch {
	case channel > 150:
		return "Bright " + base
	case channel > 100:
		return base
	default:
		return "Dark " + base
	}
}

// colorDiversity is the normalized Shannon entropy of the dominant-color
// percentage distribution, scaled to [0,100].
func colorDiversity(colors []types.ColorInfo) float64 {
	if len(colors) < 2 {
		return 0
	}
	total := 0.0
	for _, c := range colors {
		if c.Pct > 0 {
			total += c.Pct
		}
	}
	if total == 0 {
		return 0
	}
	entropy := 0.0
	for _, c := range colors {
		if c.Pct <= 0 {
			continue
		}
		p := c.Pct / total
		entropy -= p * math.Log2(p)
	}
	return round2(100 * entropy / math.Log2(float64(len(colors))))
}
