package image

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/parklens/parklens/blobstore"
	"github.com/parklens/parklens/errdefs"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	assert.NilError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// solidPNG renders a uniform image. All uniform images share the same
// perceptual hash, which makes them convenient near-duplicate fixtures.
func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	return encodePNG(t, img)
}

// checkerPNG renders a high-frequency pattern whose perceptual hash is far
// from any uniform image.
func checkerPNG(t *testing.T, cell int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return encodePNG(t, img)
}

func newTestStore(t *testing.T) (*Store, *blobstore.MemoryStore) {
	t.Helper()
	blobs := blobstore.NewMemoryStore("")
	s, err := NewStore(filepath.Join(t.TempDir(), "images.db"), blobs, StoreConfig{})
	assert.NilError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, blobs
}

func TestIngestStoresNewImage(t *testing.T) {
	ctx := context.Background()
	s, blobs := newTestStore(t)

	data := checkerPNG(t, 8)
	res, err := s.Ingest(ctx, data, "pattern.png")
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(res.Status, IngestStored))
	assert.Check(t, cmp.Equal(res.Record.ImageHash, ContentHash(data)))
	assert.Check(t, cmp.Len(res.Record.PerceptualHash, 16))
	assert.Check(t, cmp.Equal(res.Record.Width, 64))
	assert.Check(t, cmp.Equal(res.Record.Height, 64))
	assert.Check(t, cmp.Equal(res.Record.MimeType, "image/png"))
	assert.Check(t, cmp.Equal(blobs.Len(), 1))
	assert.Check(t, cmp.Equal(s.Count(), 1))
	assert.Check(t, cmp.Equal(s.TotalBytes(), int64(len(data))))
}

func TestIngestExactDuplicate(t *testing.T) {
	ctx := context.Background()
	s, blobs := newTestStore(t)

	data := checkerPNG(t, 8)
	first, err := s.Ingest(ctx, data, "pattern.png")
	assert.NilError(t, err)

	second, err := s.Ingest(ctx, data, "renamed.png")
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(second.Status, IngestDuplicate))
	assert.Check(t, cmp.Equal(second.Record.ImageHash, first.Record.ImageHash))
	// the original filename wins; nothing is rewritten
	assert.Check(t, cmp.Equal(second.Record.Filename, "pattern.png"))
	assert.Check(t, cmp.Equal(blobs.Len(), 1))
	assert.Check(t, cmp.Equal(s.Count(), 1))
}

func TestConcurrentIngestOfSameBytes(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	data := checkerPNG(t, 8)
	const uploaders = 8
	var wg sync.WaitGroup
	results := make([]*IngestResult, uploaders)
	errs := make([]error, uploaders)
	for i := 0; i < uploaders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Ingest(ctx, data, "pattern.png")
		}(i)
	}
	wg.Wait()

	// exactly one upload stores; the rest observe a duplicate, and the
	// byte count reflects a single copy
	stored := 0
	for i := 0; i < uploaders; i++ {
		assert.NilError(t, errs[i])
		if results[i].Status != IngestDuplicate {
			stored++
		}
	}
	assert.Check(t, cmp.Equal(stored, 1))
	assert.Check(t, cmp.Equal(s.Count(), 1))
	assert.Check(t, cmp.Equal(s.TotalBytes(), int64(len(data))))
}

func TestIngestSimilarImage(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Ingest(ctx, solidPNG(t, color.RGBA{R: 200, A: 255}), "red.png")
	assert.NilError(t, err)

	res, err := s.Ingest(ctx, solidPNG(t, color.RGBA{B: 200, A: 255}), "blue.png")
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(res.Status, IngestSimilar))
	assert.Assert(t, cmp.Len(res.Similar, 1))
	assert.Check(t, cmp.Equal(res.Similar[0].Record.Filename, "red.png"))
	assert.Check(t, res.Similar[0].Distance <= DefaultSimilarityThreshold)
	// both images are stored regardless of similarity
	assert.Check(t, cmp.Equal(s.Count(), 2))
}

func TestIngestRejectsInvalidPayloads(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Ingest(ctx, nil, "empty.png")
	assert.Check(t, errdefs.IsValidation(err))

	_, err = s.Ingest(ctx, []byte("not an image"), "garbage.png")
	assert.Check(t, errdefs.IsValidation(err))

	big := make([]byte, DefaultMaxUploadBytes+1)
	_, err = s.Ingest(ctx, big, "huge.png")
	assert.Check(t, errdefs.IsValidation(err))
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	data := checkerPNG(t, 8)
	res, err := s.Ingest(ctx, data, "pattern.png")
	assert.NilError(t, err)

	rec, err := s.Lookup(res.Record.ImageHash)
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(rec.Filename, "pattern.png"))

	_, err = s.Lookup("0123456789abcdef0123456789abcdef")
	assert.Check(t, errdefs.IsNotFound(err))
	assert.Check(t, cmp.Equal(errdefs.Code(err), "IMAGE_NOT_FOUND"))

	_, err = s.Lookup("not-a-hash")
	assert.Check(t, errdefs.IsValidation(err))
}

func TestBytesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	data := checkerPNG(t, 8)
	res, err := s.Ingest(ctx, data, "pattern.png")
	assert.NilError(t, err)

	got, rec, err := s.Bytes(ctx, res.Record.ImageHash)
	assert.NilError(t, err)
	assert.Check(t, cmp.DeepEqual(got, data))
	assert.Check(t, cmp.Equal(rec.ImageHash, res.Record.ImageHash))
}

func TestCheckDuplicate(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	red := solidPNG(t, color.RGBA{R: 200, A: 255})
	_, err := s.Ingest(ctx, red, "red.png")
	assert.NilError(t, err)

	exact, similar, err := s.CheckDuplicate(ctx, red)
	assert.NilError(t, err)
	assert.Assert(t, exact != nil)
	assert.Check(t, cmp.Equal(exact.Filename, "red.png"))
	// the exact match is excluded from the similar list
	assert.Check(t, cmp.Len(similar, 0))

	blue := solidPNG(t, color.RGBA{B: 200, A: 255})
	exact, similar, err = s.CheckDuplicate(ctx, blue)
	assert.NilError(t, err)
	assert.Check(t, exact == nil)
	assert.Assert(t, cmp.Len(similar, 1))
	assert.Check(t, cmp.Equal(similar[0].Record.Filename, "red.png"))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s, blobs := newTestStore(t)

	data := checkerPNG(t, 8)
	res, err := s.Ingest(ctx, data, "pattern.png")
	assert.NilError(t, err)

	assert.NilError(t, s.Delete(ctx, res.Record.ImageHash))
	assert.Check(t, cmp.Equal(s.Count(), 0))
	assert.Check(t, cmp.Equal(s.TotalBytes(), int64(0)))
	assert.Check(t, cmp.Equal(blobs.Len(), 0))

	err = s.Delete(ctx, res.Record.ImageHash)
	assert.Check(t, errdefs.IsNotFound(err))
}

func TestListPagination(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Ingest(ctx, checkerPNG(t, 4), "parks-a.png")
	assert.NilError(t, err)
	_, err = s.Ingest(ctx, checkerPNG(t, 8), "parks-b.png")
	assert.NilError(t, err)
	_, err = s.Ingest(ctx, checkerPNG(t, 16), "garden.png")
	assert.NilError(t, err)

	page, total := s.List(2, 0, "")
	assert.Check(t, cmp.Equal(total, 3))
	assert.Check(t, cmp.Len(page, 2))

	page, total = s.List(2, 2, "")
	assert.Check(t, cmp.Equal(total, 3))
	assert.Check(t, cmp.Len(page, 1))

	page, total = s.List(10, 0, "PARKS")
	assert.Check(t, cmp.Equal(total, 2))
	assert.Check(t, cmp.Len(page, 2))

	page, total = s.List(10, 99, "")
	assert.Check(t, cmp.Equal(total, 3))
	assert.Check(t, cmp.Len(page, 0))
}

func TestIndexRestoredAfterReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "images.db")
	blobs := blobstore.NewMemoryStore("")

	s, err := NewStore(dbPath, blobs, StoreConfig{})
	assert.NilError(t, err)
	data := checkerPNG(t, 8)
	res, err := s.Ingest(ctx, data, "pattern.png")
	assert.NilError(t, err)
	assert.NilError(t, s.Close())

	reopened, err := NewStore(dbPath, blobs, StoreConfig{})
	assert.NilError(t, err)
	defer reopened.Close()

	rec, err := reopened.Lookup(res.Record.ImageHash)
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(rec.Filename, "pattern.png"))
	assert.Check(t, cmp.Equal(reopened.TotalBytes(), int64(len(data))))

	// the perceptual index survives too
	dup, err := reopened.Ingest(ctx, data, "again.png")
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(dup.Status, IngestDuplicate))
}

func TestHashHelpers(t *testing.T) {
	assert.Check(t, ValidContentHash("0123456789abcdef0123456789abcdef"))
	assert.Check(t, !ValidContentHash("0123456789ABCDEF0123456789ABCDEF"))
	assert.Check(t, !ValidContentHash("short"))

	h, err := ParsePerceptualHash("00000000000000ff")
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(FormatPerceptualHash(h), "00000000000000ff"))
	assert.Check(t, cmp.Equal(HammingDistance(0, h), 8))

	_, err = ParsePerceptualHash("zz")
	assert.Check(t, err != nil)
}
