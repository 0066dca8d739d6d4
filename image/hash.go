package image

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"
	"strconv"

	"github.com/corona10/goimagehash"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ContentHash returns the lowercase hex MD5 of the raw image bytes. It is
// the primary key of the image store.
func ContentHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ValidContentHash reports whether s looks like a ContentHash value.
func ValidContentHash(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// decodeAndFingerprint decodes the image and computes its 64-bit DCT
// perceptual hash. The format name comes from the registered decoder.
func decodeAndFingerprint(data []byte) (img image.Image, format string, phash uint64, err error) {
	img, format, err = image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, errors.Wrap(err, "decoding image")
	}
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return nil, "", 0, errors.Wrap(err, "computing perceptual hash")
	}
	return img, format, h.GetHash(), nil
}

// FormatPerceptualHash renders a perceptual hash as 16 lowercase hex digits.
func FormatPerceptualHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}

// ParsePerceptualHash is the inverse of FormatPerceptualHash.
func ParsePerceptualHash(s string) (uint64, error) {
	if len(s) != 16 {
		return 0, errors.Errorf("invalid perceptual hash %q: want 16 hex digits", s)
	}
	h, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid perceptual hash %q", s)
	}
	return h, nil
}

// HammingDistance counts differing bits between two perceptual hashes.
// Hashes within a small distance describe visually similar images.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
