// Package render draws analysis annotations onto the original pixels and
// re-encodes the result. Rendering is deterministic: the same pixels and
// the same request produce byte-identical output, which is what allows
// annotated renders to be cached by fingerprint.
package render

import (
	"bytes"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"sort"

	"github.com/HugoSmits86/nativewebp"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/parklens/parklens/api/types"
	"github.com/parklens/parklens/errdefs"
)

// Result is one finished render.
type Result struct {
	Data   []byte
	Format string
	Width  int
	Height int
	Stats  types.AnnotationStats
}

// Confidence bucket boundaries for annotation stats.
const (
	highConfidence   = 0.8
	mediumConfidence = 0.5
)

// Render decodes data, draws the requested annotations, and re-encodes to
// the requested format.
func Render(data []byte, detections []types.Detection, faces []types.Face, req types.RenderRequest) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errdefs.Validation(errors.Wrap(err, "decoding image for annotation"))
	}
	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	drawn := selectDetections(detections, req.ConfidenceThreshold, req.MaxObjects)

	if req.IncludeBoxes {
		for _, det := range drawn {
			drawBox(canvas, pixelRect(det.BBox, bounds), parseHex(req.Style.BoxColor), req.Style.BoxThickness)
		}
	}
	if req.IncludeFaces {
		for _, f := range faces {
			cx := bounds.Min.X + int(f.Center.X*float64(bounds.Dx()))
			cy := bounds.Min.Y + int(f.Center.Y*float64(bounds.Dy()))
			drawDot(canvas, cx, cy, req.Style.FaceMarkerRadius, parseHex(req.Style.FaceMarkerColor))
		}
	}
	if req.IncludeLabels {
		for _, det := range drawn {
			drawConnectedLabel(canvas, det, bounds, req.Style)
		}
	}

	encoded, err := encode(canvas, req.Format, req.Quality)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:   encoded,
		Format: req.Format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Stats:  annotationStats(drawn, faces),
	}, nil
}

func validateRequest(req types.RenderRequest) error {
	switch req.Format {
	case "png", "jpg", "webp":
	default:
		return errdefs.Validation(errors.Errorf("unsupported render format %q", req.Format))
	}
	if req.Quality < 1 || req.Quality > 100 {
		return errdefs.Validation(errors.Errorf("quality %d out of range 1..100", req.Quality))
	}
	if req.ConfidenceThreshold < 0 || req.ConfidenceThreshold > 1 {
		return errdefs.Validation(errors.Errorf("confidence threshold %v out of range 0..1", req.ConfidenceThreshold))
	}
	return nil
}

// selectDetections keeps the top maxObjects detections at or above the
// threshold, ordered by descending confidence. Ties order by object ID so
// the draw order is stable.
func selectDetections(detections []types.Detection, threshold float64, maxObjects int) []types.Detection {
	kept := make([]types.Detection, 0, len(detections))
	for _, d := range detections {
		if d.Confidence >= threshold {
			kept = append(kept, d)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Confidence != kept[j].Confidence {
			return kept[i].Confidence > kept[j].Confidence
		}
		return kept[i].ObjectID < kept[j].ObjectID
	})
	if maxObjects > 0 && len(kept) > maxObjects {
		kept = kept[:maxObjects]
	}
	return kept
}

func encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	case "jpg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	case "webp":
		err = nativewebp.Encode(&buf, img, nil)
	}
	if err != nil {
		return nil, errdefs.Processing(errors.Wrapf(err, "encoding %s render", format), "render")
	}
	return buf.Bytes(), nil
}

func annotationStats(detections []types.Detection, faces []types.Face) types.AnnotationStats {
	stats := types.AnnotationStats{
		TotalObjects:   len(detections),
		TotalFaces:     len(faces),
		ClassHistogram: make(map[string]int),
	}
	if len(detections) == 0 {
		return stats
	}
	cs := types.ConfidenceStats{Min: detections[0].Confidence, Max: detections[0].Confidence}
	sum := 0.0
	for _, d := range detections {
		stats.ClassHistogram[d.ClassName]++
		sum += d.Confidence
		if d.Confidence < cs.Min {
			cs.Min = d.Confidence
		}
		if d.Confidence > cs.Max {
			cs.Max = d.Confidence
		}
		switch {
		case d.Confidence >= highConfidence:
			cs.High++
		case d.Confidence >= mediumConfidence:
			cs.Medium++
		default:
			cs.Low++
		}
	}
	cs.Mean = sum / float64(len(detections))
	stats.Confidence = cs
	return stats
}
