package types

// Artifact is the tagged union over analysis result kinds. Exactly one of
// the pointer fields matching Kind is populated. Artifact bodies are
// immutable once returned; callers must not mutate them.
type Artifact struct {
	Kind      Kind                    `json:"kind"`
	Detection *DetectionArtifact      `json:"detection,omitempty"`
	Faces     *FaceArtifact           `json:"faces,omitempty"`
	Nature    *NatureArtifact         `json:"nature,omitempty"`
	Annotated *AnnotatedImageArtifact `json:"annotated,omitempty"`
}

// BBox is a bounding box in normalized [0,1] image coordinates.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a normalized coordinate pair.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is one localized object.
type Detection struct {
	ObjectID   string  `json:"object_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bounding_box"`
	Center     Point   `json:"center_point"`
	AreaPct    float64 `json:"area_percentage"`
}

// DetectionArtifact is the result of the detect kind: localized objects
// ordered by descending confidence.
type DetectionArtifact struct {
	Objects []Detection `json:"objects"`
	Labels  []Label     `json:"labels,omitempty"`
}

// Label is one classification label from the vision provider.
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Topicality float64 `json:"topicality,omitempty"`
}

// Likelihood mirrors the provider's coarse probability buckets.
type Likelihood string

const (
	LikelihoodUnknown      Likelihood = "UNKNOWN"
	LikelihoodVeryUnlikely Likelihood = "VERY_UNLIKELY"
	LikelihoodUnlikely     Likelihood = "UNLIKELY"
	LikelihoodPossible     Likelihood = "POSSIBLE"
	LikelihoodLikely       Likelihood = "LIKELY"
	LikelihoodVeryLikely   Likelihood = "VERY_LIKELY"
)

// Face is one detected face with emotion likelihoods.
type Face struct {
	FaceID     string     `json:"face_id"`
	Confidence float64    `json:"confidence"`
	BBox       BBox       `json:"bounding_box"`
	Center     Point      `json:"center_point"`
	Landmarks  []Point    `json:"landmarks,omitempty"`
	Anger      Likelihood `json:"anger_likelihood"`
	Joy        Likelihood `json:"joy_likelihood"`
	Sorrow     Likelihood `json:"sorrow_likelihood"`
	Surprise   Likelihood `json:"surprise_likelihood"`
	Blurred    bool       `json:"blurred"`
	Headwear   bool       `json:"headwear"`
}

// FaceArtifact is the result of the faces kind.
type FaceArtifact struct {
	Faces []Face `json:"faces"`
}

// ColorInfo describes one dominant color.
type ColorInfo struct {
	Red       float64 `json:"red"`
	Green     float64 `json:"green"`
	Blue      float64 `json:"blue"`
	HexCode   string  `json:"hex_code"`
	ColorName string  `json:"color_name,omitempty"`
	Pct       float64 `json:"percentage"`
}

// VegetationHealth carries the composite health score and its components.
type VegetationHealth struct {
	OverallScore    float64  `json:"overall_score"`
	ColorScore      float64  `json:"color_score"`
	CoverageScore   float64  `json:"coverage_score"`
	LabelScore      float64  `json:"label_score"`
	GreenRatio      float64  `json:"green_ratio"`
	Status          string   `json:"health_status"`
	Recommendations []string `json:"recommendations"`
}

// SeasonalAnalysis reports the inferred season and the evidence behind it.
type SeasonalAnalysis struct {
	PrimarySeason   string             `json:"primary_season"`
	Confidences     map[string]float64 `json:"confidence_scores"`
	DetectedSeasons []string           `json:"detected_seasons"`
	Features        []string           `json:"seasonal_features"`
}

// ElementCategory is the per-category label breakdown.
type ElementCategory struct {
	Name           string   `json:"category_name"`
	CoveragePct    float64  `json:"coverage_percentage"`
	MeanConfidence float64  `json:"confidence_score"`
	Labels         []string `json:"detected_labels"`
	ElementCount   int      `json:"element_count"`
}

// NatureArtifact is the result of the nature kind: quantitative ecology
// metrics derived from labels and image properties.
type NatureArtifact struct {
	VegetationCoverage float64           `json:"vegetation_coverage"`
	SkyCoverage        float64           `json:"sky_coverage"`
	WaterCoverage      float64           `json:"water_coverage"`
	TerrainCoverage    float64           `json:"terrain_coverage"`
	BuiltCoverage      float64           `json:"built_environment_coverage"`
	VegetationHealth   *VegetationHealth `json:"vegetation_health,omitempty"`
	Seasonal           *SeasonalAnalysis `json:"seasonal_analysis,omitempty"`
	DominantColors     []ColorInfo       `json:"dominant_colors"`
	ColorDiversity     float64           `json:"color_diversity_score"`
	Categories         []ElementCategory `json:"element_categories"`
	LabelsAnalyzed     int               `json:"total_labels_analyzed"`
	OverallAssessment  string            `json:"overall_assessment"`
	Recommendations    []string          `json:"recommendations"`
}

// ConfidenceStats summarizes detection confidences on an annotated render.
type ConfidenceStats struct {
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	High   int     `json:"high"`   // confidence >= 0.8
	Medium int     `json:"medium"` // 0.5 <= confidence < 0.8
	Low    int     `json:"low"`    // confidence < 0.5
}

// AnnotationStats summarizes what was drawn on an annotated render.
type AnnotationStats struct {
	TotalObjects   int             `json:"total_objects"`
	TotalFaces     int             `json:"total_faces"`
	ClassHistogram map[string]int  `json:"class_histogram"`
	Confidence     ConfidenceStats `json:"confidence_stats"`
}

// AnnotatedImageArtifact is the result of the annotate kind.
type AnnotatedImageArtifact struct {
	BlobURL   string          `json:"annotated_blob_url"`
	Format    string          `json:"format"`
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	SizeBytes int             `json:"size_bytes"`
	Stats     AnnotationStats `json:"stats"`
}
