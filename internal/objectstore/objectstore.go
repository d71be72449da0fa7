package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/nudgelabs/nudgesync/internal/config"
)

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// s3API is the subset of the S3 client the store uses. Narrowing the
// dependency keeps the pagination and polling logic testable against a fake.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store wraps the S3 client with the blob-store operations the pipeline
// consumes.
type Store struct {
	api    s3API
	region string
}

// NewStore creates a store from static credentials. A non-empty endpoint
// switches to path-style addressing for S3-compatible object stores.
func NewStore(cfg config.ObjectStoreConfig) *Store {
	opts := s3.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}

	return &Store{
		api:    s3.New(opts),
		region: cfg.Region,
	}
}

// PutObject uploads an object.
func (s *Store) PutObject(ctx context.Context, bucket, key string, body []byte, contentType string, metadata map[string]string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	}
	if len(metadata) > 0 {
		input.Metadata = metadata
	}

	if _, err := s.api.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// GetObject downloads an object. Returns ErrObjectNotFound when the key
// does not exist.
func (s *Store) GetObject(ctx context.Context, bucket, key string) ([]byte, time.Time, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, time.Time{}, ErrObjectNotFound
		}
		return nil, time.Time{}, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
	}

	lastModified := time.Time{}
	if out.LastModified != nil {
		lastModified = *out.LastModified
	}
	return data, lastModified, nil
}

// HeadObject reports whether an object exists. A missing key is not an
// error.
func (s *Store) HeadObject(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head s3://%s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// ListObjects lists every object under a prefix, following continuation
// tokens to exhaustion. An empty or missing prefix yields an empty slice.
func (s *Store) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	for {
		page, err := s.api.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, err)
		}

		for _, obj := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key)}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			objects = append(objects, info)
		}

		if page.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = page.NextContinuationToken
	}

	return objects, nil
}

// HasObjectsNewerThan reports whether any object under the prefix was
// modified at or after the reference time. It short-circuits on the first
// match but otherwise pages through the full listing; an empty prefix is
// false, not an error.
func (s *Store) HasObjectsNewerThan(ctx context.Context, bucket, prefix string, since time.Time) (bool, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	for {
		page, err := s.api.ListObjectsV2(ctx, input)
		if err != nil {
			return false, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, err)
		}

		for _, obj := range page.Contents {
			if obj.LastModified != nil && !obj.LastModified.Before(since) {
				return true, nil
			}
		}

		if page.NextContinuationToken == nil {
			return false, nil
		}
		input.ContinuationToken = page.NextContinuationToken
	}
}

// PublicURL builds the virtual-hosted HTTPS URL for an object.
func (s *Store) PublicURL(bucket, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.region, key)
}

// isNotFound matches the not-found shapes S3 returns: typed NoSuchKey /
// NotFound errors, plus the generic API error codes some S3-compatible
// stores use.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
