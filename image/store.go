package image

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/containerd/log"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/parklens/parklens/blobstore"
	"github.com/parklens/parklens/errdefs"
)

const (
	// DefaultSimilarityThreshold is the Hamming distance at or below which
	// two perceptual hashes count as near-duplicates.
	DefaultSimilarityThreshold = 5

	// DefaultMaxUploadBytes bounds a single ingested image.
	DefaultMaxUploadBytes = 10 * 1024 * 1024
)

var bucketImages = []byte("images")

// StoreConfig tunes a Store.
type StoreConfig struct {
	// SimilarityThreshold is the max Hamming distance for near-duplicate
	// matches. Zero selects DefaultSimilarityThreshold.
	SimilarityThreshold int
	// MaxUploadBytes bounds ingested image size. Zero selects
	// DefaultMaxUploadBytes.
	MaxUploadBytes int64
}

// Store is the content-addressed image store. Metadata lives in a bolt
// database with a full in-memory index rebuilt at open; image bytes live in
// the blob store.
type Store struct {
	mu     sync.RWMutex
	db     *bolt.DB
	blobs  blobstore.Store
	config StoreConfig

	records    map[string]*Record
	phashes    map[string]uint64
	totalBytes int64
}

// NewStore opens or creates the metadata database at dbPath and restores
// the in-memory index from it.
func NewStore(dbPath string, blobs blobstore.Store, config StoreConfig) (*Store, error) {
	if config.SimilarityThreshold == 0 {
		config.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if config.MaxUploadBytes == 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, errdefs.Storage(errors.Wrapf(err, "opening image database %s", dbPath), false)
	}
	s := &Store{
		db:      db,
		blobs:   blobs,
		config:  config,
		records: make(map[string]*Record),
		phashes: make(map[string]uint64),
	}
	if err := s.restore(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) restore() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketImages)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				log.L.WithError(err).WithField("key", string(k)).Warn("skipping corrupt image record")
				return nil
			}
			ph, err := ParsePerceptualHash(rec.PerceptualHash)
			if err != nil {
				log.L.WithError(err).WithField("key", string(k)).Warn("skipping image record with bad perceptual hash")
				return nil
			}
			s.records[rec.ImageHash] = &rec
			s.phashes[rec.ImageHash] = ph
			s.totalBytes += rec.SizeBytes
			return nil
		})
	})
	if err != nil {
		return errdefs.Storage(errors.Wrap(err, "restoring image index"), false)
	}
	log.L.WithField("images", len(s.records)).Info("image index restored")
	return nil
}

// Close closes the metadata database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ingest validates, deduplicates, and stores one image. Byte-identical
// uploads return the existing record without writing anything. Perceptually
// similar images are stored anyway, with the matches reported.
func (s *Store) Ingest(ctx context.Context, data []byte, filename string) (*IngestResult, error) {
	if len(data) == 0 {
		return nil, errdefs.Validation(errors.New("empty image payload"))
	}
	if int64(len(data)) > s.config.MaxUploadBytes {
		return nil, errdefs.Validation(errors.Errorf("image of %d bytes exceeds the %d byte limit", len(data), s.config.MaxUploadBytes))
	}

	hash := ContentHash(data)

	s.mu.RLock()
	existing := s.records[hash]
	s.mu.RUnlock()
	if existing != nil {
		log.G(ctx).WithField("image_hash", hash).Debug("duplicate upload")
		return &IngestResult{Record: existing, Status: IngestDuplicate}, nil
	}

	img, format, phash, err := decodeAndFingerprint(data)
	if err != nil {
		return nil, errdefs.Validation(err)
	}
	bounds := img.Bounds()

	similar := s.FindSimilar(phash, s.config.SimilarityThreshold)

	blobURL, err := s.blobs.Put(ctx, blobstore.ImageKey(hash, ExtensionFor(format)), data, MimeTypeFor(format))
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ImageHash:      hash,
		PerceptualHash: FormatPerceptualHash(phash),
		Filename:       filename,
		SizeBytes:      int64(len(data)),
		MimeType:       MimeTypeFor(format),
		BlobURL:        blobURL,
		Width:          bounds.Dx(),
		Height:         bounds.Dy(),
		UploadTime:     time.Now().UTC(),
	}
	stored, err := s.commit(rec, phash)
	if err != nil {
		return nil, err
	}
	if stored != rec {
		// a concurrent ingest of the same bytes won the race
		log.G(ctx).WithField("image_hash", hash).Debug("duplicate upload")
		return &IngestResult{Record: stored, Status: IngestDuplicate}, nil
	}

	status := IngestStored
	if len(similar) > 0 {
		status = IngestSimilar
	}
	log.G(ctx).WithFields(log.Fields{
		"image_hash": hash,
		"filename":   filename,
		"status":     status,
		"similar":    len(similar),
	}).Info("image ingested")
	return &IngestResult{Record: rec, Status: status, Similar: similar}, nil
}

// commit persists rec and installs it in the index. It returns the record
// now stored under the hash: when a concurrent ingest of the same bytes
// got there first, the earlier record wins and the byte count is not
// added twice.
func (s *Store) commit(rec *Record, phash uint64) (*Record, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, errdefs.Storage(errors.Wrap(err, "encoding image record"), false)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketImages).Put([]byte(rec.ImageHash), payload)
	})
	if err != nil {
		return nil, errdefs.Storage(errors.Wrapf(err, "persisting image %s", rec.ImageHash), true)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior := s.records[rec.ImageHash]; prior != nil {
		return prior, nil
	}
	s.records[rec.ImageHash] = rec
	s.phashes[rec.ImageHash] = phash
	s.totalBytes += rec.SizeBytes
	return rec, nil
}

// Lookup returns the record stored under hash.
func (s *Store) Lookup(hash string) (*Record, error) {
	if !ValidContentHash(hash) {
		return nil, errdefs.Validation(errors.Errorf("invalid image hash %q", hash))
	}
	s.mu.RLock()
	rec := s.records[hash]
	s.mu.RUnlock()
	if rec == nil {
		return nil, errdefs.ImageNotFound(errors.Errorf("image %s not found", hash))
	}
	return rec, nil
}

// Bytes fetches the original image bytes from the blob store.
func (s *Store) Bytes(ctx context.Context, hash string) ([]byte, *Record, error) {
	rec, err := s.Lookup(hash)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.blobs.Get(ctx, blobstore.ImageKey(rec.ImageHash, extForMime(rec.MimeType)))
	if err != nil {
		return nil, nil, err
	}
	return data, rec, nil
}

// FindSimilar returns all stored records whose perceptual hash is within
// maxDistance of phash, nearest first.
func (s *Store) FindSimilar(phash uint64, maxDistance int) []Similar {
	s.mu.RLock()
	var matches []Similar
	for hash, ph := range s.phashes {
		if d := HammingDistance(phash, ph); d <= maxDistance {
			matches = append(matches, Similar{Record: s.records[hash], Distance: d})
		}
	}
	s.mu.RUnlock()
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Record.ImageHash < matches[j].Record.ImageHash
	})
	return matches
}

// CheckDuplicate reports whether data exactly or perceptually matches stored
// images, without storing anything.
func (s *Store) CheckDuplicate(ctx context.Context, data []byte) (exact *Record, similar []Similar, err error) {
	if len(data) == 0 {
		return nil, nil, errdefs.Validation(errors.New("empty image payload"))
	}
	hash := ContentHash(data)
	s.mu.RLock()
	exact = s.records[hash]
	s.mu.RUnlock()

	_, _, phash, err := decodeAndFingerprint(data)
	if err != nil {
		return nil, nil, errdefs.Validation(err)
	}
	similar = s.FindSimilar(phash, s.config.SimilarityThreshold)
	if exact != nil {
		// the exact match also matches perceptually; drop it from the
		// similar list
		filtered := similar[:0]
		for _, m := range similar {
			if m.Record.ImageHash != hash {
				filtered = append(filtered, m)
			}
		}
		similar = filtered
	}
	return exact, similar, nil
}

// Delete removes an image's metadata and blob.
func (s *Store) Delete(ctx context.Context, hash string) error {
	rec, err := s.Lookup(hash)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketImages).Delete([]byte(hash))
	})
	if err != nil {
		return errdefs.Storage(errors.Wrapf(err, "deleting image %s", hash), true)
	}
	s.mu.Lock()
	delete(s.records, hash)
	delete(s.phashes, hash)
	s.totalBytes -= rec.SizeBytes
	s.mu.Unlock()

	if err := s.blobs.Delete(ctx, blobstore.ImageKey(hash, extForMime(rec.MimeType))); err != nil {
		log.G(ctx).WithError(err).WithField("image_hash", hash).Warn("failed to delete image blob")
	}
	log.G(ctx).WithField("image_hash", hash).Info("image deleted")
	return nil
}

// List pages through stored records, most recent upload first. It returns
// the page and the total match count.
func (s *Store) List(limit, offset int, filenameFilter string) ([]*Record, int) {
	s.mu.RLock()
	all := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		if filenameFilter != "" && !strings.Contains(strings.ToLower(rec.Filename), strings.ToLower(filenameFilter)) {
			continue
		}
		all = append(all, rec)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UploadTime.Equal(all[j].UploadTime) {
			return all[i].UploadTime.After(all[j].UploadTime)
		}
		return all[i].ImageHash < all[j].ImageHash
	})

	total := len(all)
	if offset >= total {
		return []*Record{}, total
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total
}

// Count reports the number of stored images.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// TotalBytes reports the cumulative size of stored originals.
func (s *Store) TotalBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalBytes
}

func extForMime(mime string) string {
	for format, mt := range mimeTypes {
		if mt == mime {
			return extensions[format]
		}
	}
	return "bin"
}
