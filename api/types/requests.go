package types

// AnalyzeParams are the caller-visible knobs of the detect and faces kinds.
// Every field participates in the cache key fingerprint.
type AnalyzeParams struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	IncludeFaces        bool    `json:"include_faces"`
	IncludeLabels       bool    `json:"include_labels"`
	MaxResults          int     `json:"max_results"`
}

// DefaultAnalyzeParams returns the documented parameter defaults.
func DefaultAnalyzeParams() AnalyzeParams {
	return AnalyzeParams{
		ConfidenceThreshold: 0.5,
		IncludeFaces:        true,
		IncludeLabels:       true,
		MaxResults:          50,
	}
}

// AnalyzeRequest asks for one analysis of one image.
type AnalyzeRequest struct {
	ImageHash    string        `json:"image_hash"`
	Kind         Kind          `json:"kind"`
	Params       AnalyzeParams `json:"params"`
	ForceRefresh bool          `json:"force_refresh,omitempty"`
}

// AnalysisDepth selects how much of the nature pipeline runs.
type AnalysisDepth string

const (
	DepthBasic         AnalysisDepth = "basic"
	DepthComprehensive AnalysisDepth = "comprehensive"
)

// NatureParams are the caller-visible knobs of the nature kind.
type NatureParams struct {
	Depth               AnalysisDepth `json:"depth"`
	IncludeHealth       bool          `json:"include_health"`
	IncludeSeasonal     bool          `json:"include_seasonal"`
	IncludeColor        bool          `json:"include_color"`
	ConfidenceThreshold float64       `json:"confidence_threshold"`
}

// DefaultNatureParams returns the documented parameter defaults.
func DefaultNatureParams() NatureParams {
	return NatureParams{
		Depth:               DepthComprehensive,
		IncludeHealth:       true,
		IncludeSeasonal:     true,
		IncludeColor:        true,
		ConfidenceThreshold: 0.3,
	}
}

// NatureRequest asks for a natural-element analysis of one image.
type NatureRequest struct {
	ImageHash    string       `json:"image_hash"`
	Params       NatureParams `json:"params"`
	ForceRefresh bool         `json:"force_refresh,omitempty"`
}

// RenderStyle controls how annotations are drawn.
type RenderStyle struct {
	FaceMarkerColor  string  `json:"face_marker_color"`
	FaceMarkerRadius int     `json:"face_marker_radius"`
	BoxColor         string  `json:"box_color"`
	BoxThickness     int     `json:"box_thickness"`
	LabelColor       string  `json:"label_color"`
	LabelFontPx      int     `json:"label_font_px"`
	ConnectorColor   string  `json:"connector_color"`
	TextBackground   string  `json:"text_bg"`
	TextAlpha        float64 `json:"text_alpha"`
}

// DefaultRenderStyle returns the documented drawing defaults: yellow face
// dots, white boxes, blue labels and connectors.
func DefaultRenderStyle() RenderStyle {
	return RenderStyle{
		FaceMarkerColor:  "#FFD700",
		FaceMarkerRadius: 8,
		BoxColor:         "#FFFFFF",
		BoxThickness:     2,
		LabelColor:       "#0066CC",
		LabelFontPx:      13,
		ConnectorColor:   "#0066CC",
		TextBackground:   "#000000",
		TextAlpha:        0.4,
	}
}

// RenderRequest describes one annotated render. The full request, style
// included, participates in the annotate cache key.
type RenderRequest struct {
	IncludeFaces        bool        `json:"include_faces"`
	IncludeBoxes        bool        `json:"include_boxes"`
	IncludeLabels       bool        `json:"include_labels"`
	Format              string      `json:"format"`
	Quality             int         `json:"quality"`
	Style               RenderStyle `json:"style"`
	ConfidenceThreshold float64     `json:"confidence_threshold"`
	MaxObjects          int         `json:"max_objects"`
}

// DefaultRenderRequest returns the documented render defaults.
func DefaultRenderRequest() RenderRequest {
	return RenderRequest{
		IncludeFaces:        true,
		IncludeBoxes:        true,
		IncludeLabels:       true,
		Format:              "png",
		Quality:             95,
		Style:               DefaultRenderStyle(),
		ConfidenceThreshold: 0.5,
		MaxObjects:          50,
	}
}

// ListImagesOptions pages and filters the image index.
type ListImagesOptions struct {
	Limit          int    `json:"limit"`
	Offset         int    `json:"offset"`
	FilenameFilter string `json:"filename_filter,omitempty"`
}
