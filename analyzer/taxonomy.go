package analyzer

// Category names the five natural-element families.
type Category string

const (
	CategoryVegetation Category = "vegetation"
	CategorySky        Category = "sky"
	CategoryWater      Category = "water"
	CategoryTerrain    Category = "terrain"
	CategoryBuilt      Category = "built_environment"
)

// categories is the fixed evaluation order.
var categories = []Category{CategoryVegetation, CategorySky, CategoryWater, CategoryTerrain, CategoryBuilt}

// categoryKeywords maps each category to its curated keyword list. A label
// matches a category when any keyword is a substring of the lowercased
// label.
var categoryKeywords = map[Category][]string{
	CategoryVegetation: {
		"tree", "plant", "grass", "flower", "leaf", "vegetation", "forest",
		"garden", "shrub", "bush", "fern", "moss", "vine", "branch", "trunk",
		"foliage", "greenery", "flora", "botanical", "herb", "weed", "bamboo",
	},
	CategorySky: {
		"sky", "cloud", "atmosphere", "horizon", "sunset", "sunrise",
		"weather", "overcast", "cumulus", "cirrus",
	},
	CategoryWater: {
		"water", "lake", "river", "pond", "stream", "fountain", "pool",
		"waterfall", "creek", "brook", "canal", "reservoir", "wetland", "sea",
	},
	CategoryTerrain: {
		"ground", "soil", "rock", "stone", "path", "trail", "dirt", "sand",
		"gravel", "earth", "mud", "cliff", "hill",
	},
	CategoryBuilt: {
		"building", "structure", "bench", "fence", "road", "pavement",
		"sidewalk", "bridge", "wall", "gate", "pavilion", "gazebo",
		"playground", "statue", "monument", "sign", "lamp", "post",
	},
}

// categoryAlpha dampens overcounting for verbose categories during
// coverage estimation.
var categoryAlpha = map[Category]float64{
	CategoryVegetation: 1.0,
	CategorySky:        0.8,
	CategoryWater:      0.7,
	CategoryTerrain:    0.5,
	CategoryBuilt:      0.6,
}

// seasonalKeywords maps seasons to their indicator keywords. Matching stops
// at the first keyword per season so one label scores a season once.
var seasonalKeywords = map[string][]string{
	"spring": {"blossom", "bloom", "sprout", "bud", "fresh", "new growth"},
	"summer": {"lush", "verdant", "sunflower", "dense", "vibrant", "bright green"},
	"autumn": {"foliage", "red leaf", "red leaves", "orange", "pumpkin", "fall", "yellow", "colorful", "changing"},
	"winter": {"snow", "frost", "bare branch", "bare", "dormant", "leafless", "brown"},
}

// seasons in deterministic iteration order.
var seasons = []string{"autumn", "spring", "summer", "winter"}

// healthyKeywords signal thriving vegetation in label text.
var healthyKeywords = []string{"lush", "verdant", "healthy", "green", "thriving"}

// seasonalScoreThreshold is the minimum summed confidence for a season to
// count as detected.
const seasonalScoreThreshold = 0.4
