// Package image implements the content-addressed image store. Images are
// keyed by the MD5 of their raw bytes and carry a 64-bit DCT perceptual
// hash for near-duplicate detection.
package image

import (
	"time"
)

// Record is the persisted metadata of one stored image.
type Record struct {
	ImageHash      string    `json:"image_hash"`
	PerceptualHash string    `json:"perceptual_hash"`
	Filename       string    `json:"filename"`
	SizeBytes      int64     `json:"size_bytes"`
	MimeType       string    `json:"mime_type"`
	BlobURL        string    `json:"blob_url"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	UploadTime     time.Time `json:"upload_time"`
}

// IngestStatus discriminates the outcome of Ingest.
type IngestStatus string

const (
	// IngestStored means the image was new and is now persisted.
	IngestStored IngestStatus = "stored"
	// IngestDuplicate means an image with identical bytes already exists;
	// nothing was written.
	IngestDuplicate IngestStatus = "duplicate"
	// IngestSimilar means the image was stored but perceptually close
	// records exist.
	IngestSimilar IngestStatus = "similar"
)

// Similar pairs an existing record with its hash distance to a probe image.
type Similar struct {
	Record   *Record
	Distance int
}

// IngestResult is the outcome of one Ingest call. Record points at the
// stored record, or at the pre-existing one when Status is IngestDuplicate.
type IngestResult struct {
	Record  *Record
	Status  IngestStatus
	Similar []Similar
}

// extensions maps decoded format names to blob key extensions.
var extensions = map[string]string{
	"jpeg": "jpg",
	"png":  "png",
	"gif":  "gif",
	"webp": "webp",
	"bmp":  "bmp",
}

// mimeTypes maps decoded format names to their MIME types.
var mimeTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
}

// ExtensionFor returns the blob key extension for a decoded format name.
func ExtensionFor(format string) string {
	if ext, ok := extensions[format]; ok {
		return ext
	}
	return "bin"
}

// MimeTypeFor returns the MIME type for a decoded format name.
func MimeTypeFor(format string) string {
	if mt, ok := mimeTypes[format]; ok {
		return mt
	}
	return "application/octet-stream"
}
