package daemon

import (
	"bytes"
	"context"
	stdimage "image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/parklens/parklens/api/types"
	"github.com/parklens/parklens/blobstore"
	"github.com/parklens/parklens/cache"
	"github.com/parklens/parklens/daemon/config"
	"github.com/parklens/parklens/errdefs"
	"github.com/parklens/parklens/image"
	"github.com/parklens/parklens/pkg/retry"
	"github.com/parklens/parklens/vision"
)

type testDaemon struct {
	*Daemon
	fake  *vision.FakeClient
	blobs *blobstore.MemoryStore
	mini  *miniredis.Miniredis
}

func fastGuardOpts() vision.GuardOptions {
	return vision.GuardOptions{
		Retry: retry.Policy{
			MaxAttempts: 1,
			Base:        time.Millisecond,
			Factor:      2,
			Max:         time.Millisecond,
		},
	}
}

func newTestDaemon(t *testing.T, fake *vision.FakeClient, guardOpts vision.GuardOptions) *testDaemon {
	t.Helper()
	mini := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { rdb.Close() })

	resultCache, err := cache.New(context.Background(), rdb, cache.Config{})
	assert.NilError(t, err)

	blobs := blobstore.NewMemoryStore("")
	images, err := image.NewStore(filepath.Join(t.TempDir(), "images.db"), blobs, image.StoreConfig{})
	assert.NilError(t, err)
	t.Cleanup(func() { images.Close() })

	d := New(config.New(), images, blobs, vision.NewGuard(fake, guardOpts), resultCache)
	return &testDaemon{Daemon: d, fake: fake, blobs: blobs, mini: mini}
}

func solidImage(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	assert.NilError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func mustUpload(t *testing.T, d *testDaemon, c color.Color, filename string) string {
	t.Helper()
	res, err := d.UploadImage(context.Background(), solidImage(t, c), filename)
	assert.NilError(t, err)
	return res.ImageHash
}

func parkBundle() *vision.Bundle {
	return &vision.Bundle{
		Objects: []types.Detection{
			{ObjectID: "obj-1", ClassName: "Tree", Confidence: 0.92, BBox: types.BBox{X: 0.1, Y: 0.1, Width: 0.3, Height: 0.5}},
			{ObjectID: "obj-2", ClassName: "Bench", Confidence: 0.61, BBox: types.BBox{X: 0.5, Y: 0.6, Width: 0.2, Height: 0.2}},
			{ObjectID: "obj-3", ClassName: "Bird", Confidence: 0.31, BBox: types.BBox{X: 0.7, Y: 0.2, Width: 0.1, Height: 0.1}},
		},
		Labels: []types.Label{
			{Name: "Tree", Confidence: 0.95},
			{Name: "Park", Confidence: 0.88},
			{Name: "Grass", Confidence: 0.42},
		},
		Faces: []types.Face{
			{FaceID: "face-1", Confidence: 0.9, Center: types.Point{X: 0.5, Y: 0.5}},
		},
		Colors: []types.ColorInfo{
			{Red: 40, Green: 120, Blue: 30, Pct: 70},
			{Red: 120, Green: 160, Blue: 220, Pct: 30},
		},
	}
}

func TestAnalyzeComputesThenServesFromCache(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient().Respond(parkBundle()), fastGuardOpts())
	hash := mustUpload(t, d, color.RGBA{20, 120, 30, 255}, "park.png")

	req := types.AnalyzeRequest{ImageHash: hash, Kind: types.KindDetect, Params: types.DefaultAnalyzeParams()}
	env := d.Analyze(context.Background(), req)
	assert.Assert(t, env.Success, "error: %+v", env.Error)
	assert.Check(t, !env.FromCache)
	assert.Check(t, env.Enabled)
	assert.Assert(t, env.Result != nil)
	assert.Assert(t, env.Result.Detection != nil)
	// the 0.31 detection falls below the 0.5 default threshold
	assert.Assert(t, cmp.Len(env.Result.Detection.Objects, 2))
	assert.Check(t, cmp.Equal(env.Result.Detection.Objects[0].ClassName, "Tree"))
	assert.Check(t, len(env.Result.Detection.Labels) > 0)

	env = d.Analyze(context.Background(), req)
	assert.Assert(t, env.Success)
	assert.Check(t, env.FromCache)
	assert.Check(t, cmp.Equal(d.fake.Calls(), 1))
}

func TestAnalyzeRejectsInvalidInput(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient(), fastGuardOpts())

	env := d.Analyze(context.Background(), types.AnalyzeRequest{ImageHash: "nonsense", Kind: types.KindDetect})
	assert.Assert(t, !env.Success)
	assert.Check(t, cmp.Equal(env.Error.Code, "VALIDATION_ERROR"))

	hash := mustUpload(t, d, color.RGBA{10, 10, 10, 255}, "x.png")
	env = d.Analyze(context.Background(), types.AnalyzeRequest{ImageHash: hash, Kind: types.KindNature})
	assert.Assert(t, !env.Success)
	assert.Check(t, cmp.Equal(env.Error.Code, "VALIDATION_ERROR"))

	env = d.Analyze(context.Background(), types.AnalyzeRequest{
		ImageHash: hash,
		Kind:      types.KindDetect,
		Params:    types.AnalyzeParams{ConfidenceThreshold: 1.5},
	})
	assert.Assert(t, !env.Success)
	assert.Check(t, cmp.Equal(env.Error.Code, "VALIDATION_ERROR"))
	assert.Check(t, cmp.Equal(d.fake.Calls(), 0))
}

func TestAnalyzeUnknownImage(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient(), fastGuardOpts())

	env := d.Analyze(context.Background(), types.AnalyzeRequest{
		ImageHash: "0123456789abcdef0123456789abcdef",
		Kind:      types.KindDetect,
		Params:    types.DefaultAnalyzeParams(),
	})
	assert.Assert(t, !env.Success)
	assert.Check(t, cmp.Equal(env.Error.Code, "IMAGE_NOT_FOUND"))
	assert.Check(t, cmp.Equal(d.fake.Calls(), 0))
}

func TestAnalyzeForceRefreshRecomputes(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient().Respond(parkBundle()), fastGuardOpts())
	hash := mustUpload(t, d, color.RGBA{20, 120, 30, 255}, "park.png")

	req := types.AnalyzeRequest{ImageHash: hash, Kind: types.KindDetect, Params: types.DefaultAnalyzeParams()}
	env := d.Analyze(context.Background(), req)
	assert.Assert(t, env.Success)

	req.ForceRefresh = true
	env = d.Analyze(context.Background(), req)
	assert.Assert(t, env.Success)
	assert.Check(t, !env.FromCache)
	assert.Check(t, cmp.Equal(d.fake.Calls(), 2))

	// the forced result overwrites the cached entry
	req.ForceRefresh = false
	env = d.Analyze(context.Background(), req)
	assert.Check(t, env.FromCache)
	assert.Check(t, cmp.Equal(d.fake.Calls(), 2))
}

func TestAnalyzeCircuitOpenDisablesResponse(t *testing.T) {
	fake := vision.NewFakeClient().Fail(errdefs.VisionService(errors.New("provider down"), true))
	opts := fastGuardOpts()
	opts.FailureThreshold = 1
	d := newTestDaemon(t, fake, opts)
	hash := mustUpload(t, d, color.RGBA{20, 120, 30, 255}, "park.png")

	req := types.AnalyzeRequest{ImageHash: hash, Kind: types.KindDetect, Params: types.DefaultAnalyzeParams()}
	env := d.Analyze(context.Background(), req)
	assert.Assert(t, !env.Success)
	assert.Check(t, cmp.Equal(env.Error.Code, "VISION_SERVICE_ERROR"))
	assert.Check(t, env.Enabled)

	// breaker is open now, the request fails fast without a provider call
	env = d.Analyze(context.Background(), req)
	assert.Assert(t, !env.Success)
	assert.Check(t, cmp.Equal(env.Error.Code, "SERVICE_UNAVAILABLE"))
	assert.Check(t, !env.Enabled)
	assert.Check(t, env.Error.RetryAfterSeconds > 0)
	assert.Check(t, cmp.Equal(fake.Calls(), 1))
}

func TestAnalyzeErrorsAreNotCached(t *testing.T) {
	fake := vision.NewFakeClient().
		Fail(errdefs.VisionService(errors.New("blip"), true)).
		Respond(parkBundle())
	d := newTestDaemon(t, fake, fastGuardOpts())
	hash := mustUpload(t, d, color.RGBA{20, 120, 30, 255}, "park.png")

	req := types.AnalyzeRequest{ImageHash: hash, Kind: types.KindDetect, Params: types.DefaultAnalyzeParams()}
	env := d.Analyze(context.Background(), req)
	assert.Assert(t, !env.Success)

	env = d.Analyze(context.Background(), req)
	assert.Assert(t, env.Success)
	assert.Check(t, !env.FromCache)
	assert.Check(t, cmp.Equal(fake.Calls(), 2))
}

func TestAnalyzeNature(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient().Respond(parkBundle()), fastGuardOpts())
	hash := mustUpload(t, d, color.RGBA{20, 120, 30, 255}, "park.png")

	env := d.AnalyzeNature(context.Background(), types.NatureRequest{ImageHash: hash})
	assert.Assert(t, env.Success, "error: %+v", env.Error)
	assert.Assert(t, env.Result != nil)
	assert.Assert(t, env.Result.Nature != nil)
	nature := env.Result.Nature
	assert.Check(t, nature.VegetationCoverage > 0)
	assert.Check(t, nature.VegetationHealth != nil)
	assert.Check(t, nature.Seasonal != nil)
	assert.Check(t, len(nature.DominantColors) == 2)
	assert.Check(t, nature.OverallAssessment != "")

	env = d.AnalyzeNature(context.Background(), types.NatureRequest{ImageHash: hash})
	assert.Check(t, env.FromCache)
	assert.Check(t, cmp.Equal(d.fake.Calls(), 1))
}

func TestAnalyzeNatureBasicDepth(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient().Respond(parkBundle()), fastGuardOpts())
	hash := mustUpload(t, d, color.RGBA{20, 120, 30, 255}, "park.png")

	env := d.AnalyzeNature(context.Background(), types.NatureRequest{
		ImageHash: hash,
		Params:    types.NatureParams{Depth: types.DepthBasic},
	})
	assert.Assert(t, env.Success)
	assert.Check(t, env.Result.Nature.VegetationHealth == nil)
	assert.Check(t, env.Result.Nature.Seasonal == nil)
}

func TestDownloadAnnotated(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient().Respond(parkBundle()), fastGuardOpts())
	hash := mustUpload(t, d, color.RGBA{20, 120, 30, 255}, "park.png")

	env := d.DownloadAnnotated(context.Background(), hash, types.DefaultRenderRequest())
	assert.Assert(t, env.Success, "error: %+v", env.Error)
	assert.Assert(t, env.Result != nil)
	assert.Assert(t, env.Result.Annotated != nil)
	ann := env.Result.Annotated
	assert.Check(t, cmp.Equal(ann.Format, "png"))
	assert.Check(t, cmp.Equal(ann.Width, 64))
	assert.Check(t, cmp.Equal(ann.Height, 64))
	assert.Check(t, ann.SizeBytes > 0)
	assert.Check(t, ann.BlobURL != "")
	assert.Check(t, cmp.Equal(ann.Stats.TotalObjects, 2))
	assert.Check(t, cmp.Equal(ann.Stats.TotalFaces, 1))

	// second render of the same request is served from cache
	env = d.DownloadAnnotated(context.Background(), hash, types.DefaultRenderRequest())
	assert.Check(t, env.FromCache)
	assert.Check(t, cmp.Equal(d.fake.Calls(), 1))
}

func TestDownloadAnnotatedRejectsBadFormat(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient().Respond(parkBundle()), fastGuardOpts())
	hash := mustUpload(t, d, color.RGBA{20, 120, 30, 255}, "park.png")

	req := types.DefaultRenderRequest()
	req.Format = "tiff"
	env := d.DownloadAnnotated(context.Background(), hash, req)
	assert.Assert(t, !env.Success)
	assert.Check(t, cmp.Equal(env.Error.Code, "VALIDATION_ERROR"))
}

func TestBatchAnalyze(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient().Respond(parkBundle()), fastGuardOpts())
	h1 := mustUpload(t, d, color.RGBA{20, 120, 30, 255}, "a.png")
	h2 := mustUpload(t, d, color.RGBA{120, 20, 30, 255}, "b.png")

	res, err := d.BatchAnalyze(context.Background(), types.BatchRequest{
		ImageHashes: []string{h1, h2},
		Kinds:       []types.Kind{types.KindDetect},
		Params:      types.DefaultAnalyzeParams(),
	})
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(res.Status, types.BatchCompleted))
	assert.Assert(t, cmp.Len(res.Items, 2))
	assert.Check(t, cmp.Equal(res.Summary.Success, 2))

	found, err := d.GetBatch(res.BatchID)
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(found.BatchID, res.BatchID))

	_, err = d.GetBatch("missing")
	assert.Check(t, errdefs.IsNotFound(err))
}

func TestBatchAnalyzeValidation(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient(), fastGuardOpts())

	_, err := d.BatchAnalyze(context.Background(), types.BatchRequest{Kinds: []types.Kind{types.KindDetect}})
	assert.Check(t, errdefs.IsValidation(err))

	_, err = d.BatchAnalyze(context.Background(), types.BatchRequest{
		ImageHashes: []string{"0123456789abcdef0123456789abcdef"},
		Kinds:       []types.Kind{types.KindAnnotate},
	})
	assert.Check(t, errdefs.IsValidation(err))
}

func TestUploadAndDuplicateCheck(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient(), fastGuardOpts())
	data := solidImage(t, color.RGBA{20, 120, 30, 255})

	res, err := d.UploadImage(context.Background(), data, "park.png")
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(res.Status, types.UploadStored))
	assert.Check(t, !res.IsDuplicate)

	res, err = d.UploadImage(context.Background(), data, "copy.png")
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(res.Status, types.UploadDuplicate))
	assert.Check(t, res.IsDuplicate)

	check, err := d.CheckDuplicate(context.Background(), data)
	assert.NilError(t, err)
	assert.Check(t, check.IsDuplicate)
	assert.Assert(t, cmp.Len(check.ExactMatches, 1))

	stats := d.Stats(context.Background())
	assert.Check(t, cmp.Equal(stats.Analysis.Ingested, int64(1)))
	assert.Check(t, cmp.Equal(stats.Analysis.Deduplicated, int64(1)))
	assert.Check(t, cmp.Equal(stats.Storage.TotalImages, int64(1)))
}

func TestUploadRejectsDisallowedContentType(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient(), fastGuardOpts())

	_, err := d.UploadImage(context.Background(), []byte("%PDF-1.4 definitely not an image"), "doc.pdf")
	assert.Check(t, errdefs.IsValidation(err))
}

func TestDeleteImageClearsCachedResults(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient().Respond(parkBundle()), fastGuardOpts())
	data := solidImage(t, color.RGBA{20, 120, 30, 255})
	res, err := d.UploadImage(context.Background(), data, "park.png")
	assert.NilError(t, err)
	hash := res.ImageHash

	req := types.AnalyzeRequest{ImageHash: hash, Kind: types.KindDetect, Params: types.DefaultAnalyzeParams()}
	env := d.Analyze(context.Background(), req)
	assert.Assert(t, env.Success)

	assert.NilError(t, d.DeleteImage(context.Background(), hash))

	_, err = d.GetImageInfo(context.Background(), hash)
	assert.Check(t, errdefs.IsNotFound(err))

	// re-upload and re-analyze, the stale cached entry is gone
	_, err = d.UploadImage(context.Background(), data, "park.png")
	assert.NilError(t, err)
	env = d.Analyze(context.Background(), req)
	assert.Assert(t, env.Success)
	assert.Check(t, !env.FromCache)
	assert.Check(t, cmp.Equal(d.fake.Calls(), 2))
}

func TestInvalidateVersionForcesRecompute(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient().Respond(parkBundle()), fastGuardOpts())
	hash := mustUpload(t, d, color.RGBA{20, 120, 30, 255}, "park.png")

	req := types.AnalyzeRequest{ImageHash: hash, Kind: types.KindDetect, Params: types.DefaultAnalyzeParams()}
	env := d.Analyze(context.Background(), req)
	assert.Assert(t, env.Success)

	v, err := d.InvalidateVersion(context.Background(), types.KindDetect)
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(v, int64(2)))

	env = d.Analyze(context.Background(), req)
	assert.Assert(t, env.Success)
	assert.Check(t, !env.FromCache)
	assert.Check(t, cmp.Equal(d.fake.Calls(), 2))

	_, err = d.InvalidateVersion(context.Background(), types.Kind("bogus"))
	assert.Check(t, errdefs.IsValidation(err))
}

func TestWarmCachePrecomputesDefaults(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient().Respond(parkBundle()), fastGuardOpts())
	hash := mustUpload(t, d, color.RGBA{20, 120, 30, 255}, "park.png")

	n, err := d.WarmCache(context.Background(), []string{hash}, []types.Kind{types.KindDetect, types.KindNature})
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(n, 2))

	// a default-parameter request hits the warmed entry
	env := d.Analyze(context.Background(), types.AnalyzeRequest{
		ImageHash: hash, Kind: types.KindDetect, Params: types.DefaultAnalyzeParams(),
	})
	assert.Assert(t, env.Success)
	assert.Check(t, env.FromCache)
	assert.Check(t, cmp.Equal(d.fake.Calls(), 2))

	_, err = d.WarmCache(context.Background(), []string{hash}, []types.Kind{types.KindAnnotate})
	assert.Check(t, errdefs.IsValidation(err))
}

func TestStatsCounters(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient().Respond(parkBundle()), fastGuardOpts())
	hash := mustUpload(t, d, color.RGBA{20, 120, 30, 255}, "park.png")

	d.Analyze(context.Background(), types.AnalyzeRequest{
		ImageHash: hash, Kind: types.KindDetect, Params: types.DefaultAnalyzeParams(),
	})
	d.Analyze(context.Background(), types.AnalyzeRequest{ImageHash: "bad", Kind: types.KindDetect})

	stats := d.Stats(context.Background())
	// upload + two analyze calls
	assert.Check(t, cmp.Equal(stats.Analysis.Requests, int64(3)))
	assert.Check(t, cmp.Equal(stats.Analysis.VisionCalls, int64(1)))
	assert.Check(t, cmp.Equal(stats.Analysis.Failures, int64(1)))
	assert.Check(t, stats.Storage.TotalBytes > 0)
}

func TestListImages(t *testing.T) {
	d := newTestDaemon(t, vision.NewFakeClient(), fastGuardOpts())
	mustUpload(t, d, color.RGBA{20, 120, 30, 255}, "meadow.png")
	mustUpload(t, d, color.RGBA{120, 20, 30, 255}, "lake.png")

	page, total, err := d.ListImages(context.Background(), types.ListImagesOptions{})
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(total, 2))
	assert.Assert(t, cmp.Len(page, 2))

	page, total, err = d.ListImages(context.Background(), types.ListImagesOptions{FilenameFilter: "lake"})
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(total, 1))
	assert.Check(t, cmp.Equal(page[0].Filename, "lake.png"))

	_, _, err = d.ListImages(context.Background(), types.ListImagesOptions{Limit: -1})
	assert.Check(t, errdefs.IsValidation(err))
}
