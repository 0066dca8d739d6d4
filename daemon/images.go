package daemon

import (
	"context"
	"net/http"
	"slices"

	"github.com/parklens/parklens/api/types"
	"github.com/parklens/parklens/image"
)

// checkMimeType sniffs data and rejects content types outside the
// configured allow list.
func (d *Daemon) checkMimeType(data []byte) error {
	if len(d.config.AllowedMimeTypes) == 0 || len(data) == 0 {
		return nil
	}
	detected := http.DetectContentType(data)
	if !slices.Contains(d.config.AllowedMimeTypes, detected) {
		return validationErrf("content type %s is not allowed", detected)
	}
	return nil
}

func similarToWire(matches []image.Similar) []types.SimilarImage {
	out := make([]types.SimilarImage, 0, len(matches))
	for _, m := range matches {
		out = append(out, types.SimilarImage{
			ImageHash:       m.Record.ImageHash,
			PerceptualHash:  m.Record.PerceptualHash,
			Filename:        m.Record.Filename,
			HammingDistance: m.Distance,
		})
	}
	return out
}

// UploadImage ingests one image: exact duplicates are rejected without
// writes, perceptual near-duplicates are stored and reported.
func (d *Daemon) UploadImage(ctx context.Context, data []byte, filename string) (*types.UploadResult, error) {
	d.usage.requests.Add(1)
	if err := d.checkMimeType(data); err != nil {
		d.usage.failures.Add(1)
		return nil, err
	}
	res, err := d.images.Ingest(ctx, data, filename)
	if err != nil {
		d.usage.failures.Add(1)
		return nil, err
	}
	switch res.Status {
	case image.IngestDuplicate:
		d.usage.deduplicated.Add(1)
	default:
		d.usage.ingested.Add(1)
	}
	return &types.UploadResult{
		ImageHash:      res.Record.ImageHash,
		PerceptualHash: res.Record.PerceptualHash,
		Status:         types.UploadStatus(res.Status),
		IsDuplicate:    res.Status == image.IngestDuplicate,
		BlobURL:        res.Record.BlobURL,
		SimilarImages:  similarToWire(res.Similar),
	}, nil
}

// CheckDuplicate reports exact and perceptual matches for data without
// storing anything.
func (d *Daemon) CheckDuplicate(ctx context.Context, data []byte) (*types.DuplicateCheck, error) {
	d.usage.requests.Add(1)
	exact, similar, err := d.images.CheckDuplicate(ctx, data)
	if err != nil {
		d.usage.failures.Add(1)
		return nil, err
	}
	check := &types.DuplicateCheck{
		IsDuplicate:   exact != nil,
		ExactMatches:  []string{},
		SimilarImages: similarToWire(similar),
	}
	if exact != nil {
		check.ExactMatches = append(check.ExactMatches, exact.ImageHash)
	}
	return check, nil
}

// GetImageInfo returns the stored metadata record for hash.
func (d *Daemon) GetImageInfo(ctx context.Context, hash string) (*image.Record, error) {
	return d.images.Lookup(hash)
}

// ImageBytes returns the original bytes and MIME type for hash.
func (d *Daemon) ImageBytes(ctx context.Context, hash string) ([]byte, string, error) {
	data, rec, err := d.images.Bytes(ctx, hash)
	if err != nil {
		return nil, "", err
	}
	return data, rec.MimeType, nil
}

// ListImages pages through stored records.
func (d *Daemon) ListImages(ctx context.Context, opts types.ListImagesOptions) ([]*image.Record, int, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, 0, validationErrf("limit and offset must not be negative")
	}
	if opts.Limit == 0 {
		opts.Limit = 50
	}
	page, total := d.images.List(opts.Limit, opts.Offset, opts.FilenameFilter)
	return page, total, nil
}

// DeleteImage removes the image's blob, metadata record, and every cache
// entry under its hash.
func (d *Daemon) DeleteImage(ctx context.Context, hash string) error {
	if err := d.images.Delete(ctx, hash); err != nil {
		return err
	}
	// cache errors degrade, never fail the delete
	if _, err := d.cache.Clear(ctx, hash); err != nil {
		logCacheDegraded(ctx, err, hash)
	}
	return nil
}
