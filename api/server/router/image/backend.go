package image

import (
	"context"

	"github.com/parklens/parklens/api/types"
	"github.com/parklens/parklens/image"
)

// Backend is the set of image-store operations the router needs.
type Backend interface {
	UploadImage(ctx context.Context, data []byte, filename string) (*types.UploadResult, error)
	CheckDuplicate(ctx context.Context, data []byte) (*types.DuplicateCheck, error)
	GetImageInfo(ctx context.Context, hash string) (*image.Record, error)
	ImageBytes(ctx context.Context, hash string) ([]byte, string, error)
	ListImages(ctx context.Context, opts types.ListImagesOptions) ([]*image.Record, int, error)
	DeleteImage(ctx context.Context, hash string) error
}
