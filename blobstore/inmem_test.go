package blobstore

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/parklens/parklens/errdefs"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("")

	url, err := s.Put(ctx, ImageKey("abc", "png"), []byte("payload"), "image/png")
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(url, "memory://images/abc.png"))

	data, err := s.Get(ctx, "images/abc.png")
	assert.NilError(t, err)
	assert.Check(t, cmp.DeepEqual(data, []byte("payload")))
}

func TestMemoryStorePutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("")

	_, err := s.Put(ctx, "images/abc.png", []byte("payload"), "image/png")
	assert.NilError(t, err)
	_, err = s.Put(ctx, "images/abc.png", []byte("payload"), "image/png")
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(s.Len(), 1))
}

func TestMemoryStoreMissingKey(t *testing.T) {
	s := NewMemoryStore("")
	_, err := s.Get(context.Background(), "images/missing.png")
	assert.Check(t, errdefs.IsNotFound(err))
}

func TestMemoryStoreDeleteMissingKey(t *testing.T) {
	s := NewMemoryStore("")
	assert.NilError(t, s.Delete(context.Background(), "images/missing.png"))
}

func TestBlobKeys(t *testing.T) {
	assert.Check(t, cmp.Equal(ImageKey("deadbeef", "jpg"), "images/deadbeef.jpg"))
	assert.Check(t, cmp.Equal(AnnotatedKey("render-1", "webp"), "annotated/render-1.webp"))
}
