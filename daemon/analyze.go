package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/parklens/parklens/analyzer"
	"github.com/parklens/parklens/api/types"
	"github.com/parklens/parklens/blobstore"
	"github.com/parklens/parklens/cache"
	"github.com/parklens/parklens/errdefs"
	"github.com/parklens/parklens/image"
	"github.com/parklens/parklens/pkg/fingerprint"
	"github.com/parklens/parklens/render"
	"github.com/parklens/parklens/vision"
)

func validationErrf(format string, args ...interface{}) error {
	return errdefs.Validation(errors.Errorf(format, args...))
}

func logCacheDegraded(ctx context.Context, err error, imageHash string) {
	log.G(ctx).WithError(err).WithField("image_hash", imageHash).Warn("cache degraded, continuing uncached")
}

// analyzeKinds are the kinds served by Analyze; nature and annotate have
// their own operations with richer parameters.
func analyzeKind(kind types.Kind) bool {
	switch kind {
	case types.KindDetect, types.KindSegment, types.KindExtract, types.KindFaces:
		return true
	}
	return false
}

// featuresFor selects the vision features one analyze kind needs.
func featuresFor(kind types.Kind, params types.AnalyzeParams) []vision.Feature {
	switch kind {
	case types.KindDetect:
		features := []vision.Feature{vision.FeatureObjects}
		if params.IncludeLabels {
			features = append(features, vision.FeatureLabels)
		}
		return features
	case types.KindSegment:
		return []vision.Feature{vision.FeatureObjects}
	case types.KindExtract:
		return []vision.Feature{vision.FeatureLabels}
	case types.KindFaces:
		return []vision.Feature{vision.FeatureFaces}
	}
	return nil
}

// primaryFeature is the feature whose per-feature failure fails the kind.
func primaryFeature(kind types.Kind) vision.Feature {
	switch kind {
	case types.KindExtract:
		return vision.FeatureLabels
	case types.KindFaces:
		return vision.FeatureFaces
	default:
		return vision.FeatureObjects
	}
}

// Analyze serves the detect, segment, extract, and faces kinds.
func (d *Daemon) Analyze(ctx context.Context, req types.AnalyzeRequest) *types.Envelope {
	start := time.Now()
	d.usage.requests.Add(1)

	if !analyzeKind(req.Kind) {
		return d.envelope(start, nil, false, validationErrf("kind %q is not servable by analyze", req.Kind))
	}
	if !image.ValidContentHash(req.ImageHash) {
		return d.envelope(start, nil, false, validationErrf("invalid image hash %q", req.ImageHash))
	}
	if err := validateAnalyzeParams(req.Params); err != nil {
		return d.envelope(start, nil, false, err)
	}

	artifact, fromCache, err := d.analyzeArtifact(ctx, req.ImageHash, req.Kind, req.Params, req.ForceRefresh)
	return d.envelope(start, artifact, fromCache, err)
}

// analyzeArtifact runs one analyze-kind computation through the cache.
func (d *Daemon) analyzeArtifact(ctx context.Context, imageHash string, kind types.Kind, params types.AnalyzeParams, forceRefresh bool) (*types.Artifact, bool, error) {
	fp, err := fingerprint.Of(params)
	if err != nil {
		return nil, false, errdefs.Processing(err, "fingerprint")
	}
	compute := func(ctx context.Context) ([]byte, error) {
		artifact, err := d.computeAnalysis(ctx, imageHash, kind, params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(artifact)
	}
	return d.throughCache(ctx, kind, imageHash, fp, forceRefresh, compute)
}

// throughCache runs compute through GetOrCompute, or recomputes and
// overwrites the entry when the caller forces a refresh.
func (d *Daemon) throughCache(ctx context.Context, kind types.Kind, imageHash, fp string, forceRefresh bool, compute cache.ComputeFunc) (*types.Artifact, bool, error) {
	var payload []byte
	var fromCache bool
	var err error
	if forceRefresh {
		payload, err = compute(ctx)
		if err == nil {
			d.cache.Put(ctx, kind, imageHash, fp, payload)
		}
	} else {
		payload, fromCache, err = d.cache.GetOrCompute(ctx, kind, imageHash, fp, compute)
	}
	if err != nil {
		return nil, false, err
	}
	var artifact types.Artifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, false, errdefs.Processing(err, "decode cached artifact")
	}
	return &artifact, fromCache, nil
}

// computeAnalysis fetches pixels, calls the vision provider, and shapes
// the artifact for one analyze kind.
func (d *Daemon) computeAnalysis(ctx context.Context, imageHash string, kind types.Kind, params types.AnalyzeParams) (*types.Artifact, error) {
	data, _, err := d.images.Bytes(ctx, imageHash)
	if err != nil {
		return nil, err
	}
	d.usage.visionCalls.Add(1)
	bundle, err := d.vision.Annotate(ctx, data, featuresFor(kind, params))
	if err != nil {
		return nil, err
	}
	if ferr := bundle.FeatureErr(primaryFeature(kind)); ferr != nil {
		return nil, errdefs.VisionService(errors.Wrapf(ferr, "%s feature failed", primaryFeature(kind)), true)
	}

	switch kind {
	case types.KindDetect, types.KindSegment:
		det := &types.DetectionArtifact{
			Objects: selectObjects(bundle.Objects, params.ConfidenceThreshold, params.MaxResults),
		}
		if kind == types.KindDetect && params.IncludeLabels {
			det.Labels = selectLabels(bundle.Labels, params.ConfidenceThreshold)
		}
		return &types.Artifact{Kind: kind, Detection: det}, nil
	case types.KindExtract:
		return &types.Artifact{Kind: kind, Detection: &types.DetectionArtifact{
			Objects: []types.Detection{},
			Labels:  selectLabels(bundle.Labels, params.ConfidenceThreshold),
		}}, nil
	case types.KindFaces:
		faces := bundle.Faces
		if faces == nil {
			faces = []types.Face{}
		}
		return &types.Artifact{Kind: kind, Faces: &types.FaceArtifact{Faces: faces}}, nil
	}
	return nil, errdefs.Processing(errors.Errorf("unhandled kind %s", kind), "analyze")
}

// selectObjects filters by confidence, orders by descending confidence
// with object ID tie-break, and applies the result limit.
func selectObjects(objects []types.Detection, threshold float64, limit int) []types.Detection {
	kept := make([]types.Detection, 0, len(objects))
	for _, o := range objects {
		if o.Confidence >= threshold {
			kept = append(kept, o)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Confidence != kept[j].Confidence {
			return kept[i].Confidence > kept[j].Confidence
		}
		return kept[i].ObjectID < kept[j].ObjectID
	})
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

func selectLabels(labels []types.Label, threshold float64) []types.Label {
	kept := make([]types.Label, 0, len(labels))
	for _, l := range labels {
		if l.Confidence >= threshold {
			kept = append(kept, l)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Confidence != kept[j].Confidence {
			return kept[i].Confidence > kept[j].Confidence
		}
		return kept[i].Name < kept[j].Name
	})
	return kept
}

// AnalyzeNature serves the nature kind.
func (d *Daemon) AnalyzeNature(ctx context.Context, req types.NatureRequest) *types.Envelope {
	start := time.Now()
	d.usage.requests.Add(1)

	if !image.ValidContentHash(req.ImageHash) {
		return d.envelope(start, nil, false, validationErrf("invalid image hash %q", req.ImageHash))
	}
	params := d.natureParams(req.Params)
	if params.ConfidenceThreshold < 0 || params.ConfidenceThreshold > 1 {
		return d.envelope(start, nil, false, validationErrf("confidence threshold %v out of range 0..1", params.ConfidenceThreshold))
	}
	if params.Depth != types.DepthBasic && params.Depth != types.DepthComprehensive {
		return d.envelope(start, nil, false, validationErrf("unknown analysis depth %q", params.Depth))
	}

	fp, err := fingerprint.Of(params)
	if err != nil {
		return d.envelope(start, nil, false, errdefs.Processing(err, "fingerprint"))
	}
	compute := func(ctx context.Context) ([]byte, error) {
		artifact, err := d.computeNature(ctx, req.ImageHash, params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(artifact)
	}
	artifact, fromCache, err := d.throughCache(ctx, types.KindNature, req.ImageHash, fp, req.ForceRefresh, compute)
	return d.envelope(start, artifact, fromCache, err)
}

// natureParams fills unset request fields with configured defaults.
func (d *Daemon) natureParams(p types.NatureParams) types.NatureParams {
	if p.Depth == "" {
		p.Depth = types.DepthComprehensive
	}
	if p.ConfidenceThreshold == 0 {
		p.ConfidenceThreshold = d.config.Analyzer.ConfidenceThreshold
	}
	return p
}

func (d *Daemon) computeNature(ctx context.Context, imageHash string, params types.NatureParams) (*types.Artifact, error) {
	data, _, err := d.images.Bytes(ctx, imageHash)
	if err != nil {
		return nil, err
	}
	features := []vision.Feature{vision.FeatureLabels}
	if params.Depth != types.DepthBasic && (params.IncludeColor || params.IncludeHealth) {
		features = append(features, vision.FeatureProperties)
	}
	d.usage.visionCalls.Add(1)
	bundle, err := d.vision.Annotate(ctx, data, features)
	if err != nil {
		return nil, err
	}
	if ferr := bundle.FeatureErr(vision.FeatureLabels); ferr != nil {
		return nil, errdefs.VisionService(errors.Wrap(ferr, "label feature failed"), true)
	}
	art := analyzer.Analyze(bundle, params)
	return &types.Artifact{Kind: types.KindNature, Nature: art}, nil
}

// DownloadAnnotated renders annotations onto the original image, stores
// the result as a blob, and returns its location and stats. Renders are
// cached under the annotate kind with the full request, style included, in
// the fingerprint.
func (d *Daemon) DownloadAnnotated(ctx context.Context, imageHash string, req types.RenderRequest) *types.Envelope {
	start := time.Now()
	d.usage.requests.Add(1)

	if !image.ValidContentHash(imageHash) {
		return d.envelope(start, nil, false, validationErrf("invalid image hash %q", imageHash))
	}
	fp, err := fingerprint.Of(req)
	if err != nil {
		return d.envelope(start, nil, false, errdefs.Processing(err, "fingerprint"))
	}
	compute := func(ctx context.Context) ([]byte, error) {
		artifact, err := d.computeAnnotated(ctx, imageHash, fp, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(artifact)
	}
	artifact, fromCache, err := d.throughCache(ctx, types.KindAnnotate, imageHash, fp, false, compute)
	return d.envelope(start, artifact, fromCache, err)
}

func (d *Daemon) computeAnnotated(ctx context.Context, imageHash, fp string, req types.RenderRequest) (*types.Artifact, error) {
	data, _, err := d.images.Bytes(ctx, imageHash)
	if err != nil {
		return nil, err
	}

	features := []vision.Feature{}
	if req.IncludeBoxes || req.IncludeLabels {
		features = append(features, vision.FeatureObjects)
	}
	if req.IncludeFaces {
		features = append(features, vision.FeatureFaces)
	}
	var detections []types.Detection
	var faces []types.Face
	if len(features) > 0 {
		d.usage.visionCalls.Add(1)
		bundle, err := d.vision.Annotate(ctx, data, features)
		if err != nil {
			return nil, err
		}
		detections = bundle.Objects
		faces = bundle.Faces
	}

	result, err := render.Render(data, detections, faces, req)
	if err != nil {
		return nil, err
	}
	d.usage.renders.Add(1)

	// the blob key is derived from the cache identity so re-renders land on
	// the same object
	key := blobstore.AnnotatedKey(fmt.Sprintf("%s-%s", imageHash, fp), result.Format)
	url, err := d.blobs.Put(ctx, key, result.Data, mimeForFormat(result.Format))
	if err != nil {
		return nil, err
	}
	return &types.Artifact{Kind: types.KindAnnotate, Annotated: &types.AnnotatedImageArtifact{
		BlobURL:   url,
		Format:    result.Format,
		Width:     result.Width,
		Height:    result.Height,
		SizeBytes: len(result.Data),
		Stats:     result.Stats,
	}}, nil
}

func mimeForFormat(format string) string {
	switch format {
	case "jpg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// BatchAnalyze fans the request out across images and kinds.
func (d *Daemon) BatchAnalyze(ctx context.Context, req types.BatchRequest) (*types.BatchResult, error) {
	if len(req.ImageHashes) == 0 {
		return nil, validationErrf("image_hashes must not be empty")
	}
	if len(req.Kinds) == 0 {
		return nil, validationErrf("kinds must not be empty")
	}
	for _, kind := range req.Kinds {
		if !analyzeKind(kind) && kind != types.KindNature {
			return nil, validationErrf("kind %q is not servable in a batch", kind)
		}
	}
	if err := validateAnalyzeParams(req.Params); err != nil {
		return nil, err
	}
	d.usage.batchJobs.Add(1)
	return d.batch.Run(ctx, req), nil
}

// GetBatch returns a previously run batch by ID.
func (d *Daemon) GetBatch(batchID string) (*types.BatchResult, error) {
	res, ok := d.batch.Lookup(batchID)
	if !ok {
		return nil, errdefs.NotFound(errors.Errorf("batch %s not found", batchID))
	}
	return res, nil
}

// executeBatchItem is the batch orchestrator's per-item executor.
func (d *Daemon) executeBatchItem(ctx context.Context, imageHash string, kind types.Kind, params types.AnalyzeParams) (*types.Artifact, bool, error) {
	if !image.ValidContentHash(imageHash) {
		return nil, false, validationErrf("invalid image hash %q", imageHash)
	}
	if kind == types.KindNature {
		natureParams := d.natureParams(types.DefaultNatureParams())
		fp, err := fingerprint.Of(natureParams)
		if err != nil {
			return nil, false, errdefs.Processing(err, "fingerprint")
		}
		return d.throughCache(ctx, types.KindNature, imageHash, fp, false, func(ctx context.Context) ([]byte, error) {
			artifact, err := d.computeNature(ctx, imageHash, natureParams)
			if err != nil {
				return nil, err
			}
			return json.Marshal(artifact)
		})
	}
	return d.analyzeArtifact(ctx, imageHash, kind, params, false)
}

// computePlan builds the default-parameter fingerprint and compute
// function for one (hash, kind) warm target.
func (d *Daemon) computePlan(imageHash string, kind types.Kind) (string, cache.ComputeFunc, error) {
	switch {
	case analyzeKind(kind):
		params := types.DefaultAnalyzeParams()
		fp, err := fingerprint.Of(params)
		if err != nil {
			return "", nil, errdefs.Processing(err, "fingerprint")
		}
		return fp, func(ctx context.Context) ([]byte, error) {
			artifact, err := d.computeAnalysis(ctx, imageHash, kind, params)
			if err != nil {
				return nil, err
			}
			return json.Marshal(artifact)
		}, nil
	case kind == types.KindNature:
		params := d.natureParams(types.DefaultNatureParams())
		fp, err := fingerprint.Of(params)
		if err != nil {
			return "", nil, errdefs.Processing(err, "fingerprint")
		}
		return fp, func(ctx context.Context) ([]byte, error) {
			artifact, err := d.computeNature(ctx, imageHash, params)
			if err != nil {
				return nil, err
			}
			return json.Marshal(artifact)
		}, nil
	}
	return "", nil, validationErrf("kind %q cannot be warmed", kind)
}
