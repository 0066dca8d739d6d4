package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/parklens/parklens/errdefs"
	"github.com/parklens/parklens/pkg/retry"
)

// S3Options configures the S3-backed store.
type S3Options struct {
	Bucket string
	Region string
	// Endpoint overrides the AWS endpoint for S3-compatible backends
	// (MinIO and the like). Empty means real AWS.
	Endpoint string
	// PublicBaseURL is the URL prefix under which blobs are served. Empty
	// falls back to the virtual-hosted AWS URL.
	PublicBaseURL string
	Retry         retry.Policy
}

// S3Store stores blobs in an S3 bucket. All operations retry transient
// backend failures with exponential backoff.
type S3Store struct {
	client  *s3.Client
	bucket  string
	region  string
	baseURL string
	policy  retry.Policy
}

// NewS3Store builds an S3Store from ambient AWS credentials.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errdefs.Validation(errors.New("blob bucket name is required"))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, errdefs.Storage(errors.Wrap(err, "loading aws config"), false)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	policy = policy.WithRetryable(retryableS3)
	return &S3Store{
		client:  client,
		bucket:  opts.Bucket,
		region:  opts.Region,
		baseURL: strings.TrimSuffix(opts.PublicBaseURL, "/"),
		policy:  policy,
	}, nil
}

func retryableS3(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return false
	}
	if errdefs.IsValidation(err) {
		return false
	}
	return true
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	err := s.policy.Run(ctx, "blob put", func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
		return err
	})
	if err != nil {
		return "", errdefs.Storage(errors.Wrapf(err, "putting blob %s", key), true)
	}
	log.G(ctx).WithFields(log.Fields{
		"key":   key,
		"bytes": len(data),
	}).Debug("blob stored")
	return s.URL(key), nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.policy.Run(ctx, "blob get", func(ctx context.Context) error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		data, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, errdefs.NotFound(errors.Errorf("blob %s not found", key))
		}
		return nil, errdefs.Storage(errors.Wrapf(err, "getting blob %s", key), true)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	err := s.policy.Run(ctx, "blob delete", func(ctx context.Context) error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return errdefs.Storage(errors.Wrapf(err, "deleting blob %s", key), true)
	}
	return nil
}

func (s *S3Store) URL(key string) string {
	if s.baseURL != "" {
		return s.baseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
