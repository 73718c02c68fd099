// Package s3 implements content storage on S3-compatible object stores,
// including MinIO via a custom endpoint.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/Jdombrowski/photools/internal/logging"
	"github.com/Jdombrowski/photools/internal/metrics"
	"github.com/Jdombrowski/photools/internal/storage"
)

// Config holds S3 backend settings. Endpoint is optional and switches the
// client into path-style addressing for MinIO and friends.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Layout    storage.Layout
}

// Backend implements storage.Backend on an S3 bucket.
type Backend struct {
	client *s3.Client
	bucket string
	layout storage.Layout
}

// New builds the client and verifies the bucket, creating it if missing.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}
	if cfg.Layout == (storage.Layout{}) {
		cfg.Layout = storage.DefaultLayout()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	b := &Backend{client: client, bucket: cfg.Bucket, layout: cfg.Layout}
	if err := b.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.String("bucket", cfg.Bucket), zap.Error(err))
	}
	return b, nil
}

func (b *Backend) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}
	if _, createErr := b.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}); createErr != nil {
		metrics.RecordStorageOperation("s3", "create_bucket", time.Since(start), false)
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket, createErr)
	}
	metrics.RecordStorageOperation("s3", "create_bucket", time.Since(start), true)
	logging.Info("created S3 bucket", zap.String("bucket", b.bucket))
	return nil
}

func (b *Backend) indexKey(fileHash string) string {
	return storage.HashIndexPrefix + "/" + fileHash + ".txt"
}

// Store implements storage.Backend.
func (b *Backend) Store(ctx context.Context, content []byte, filename string, takenAt time.Time) (*storage.StoreResult, error) {
	start := time.Now()
	fileHash := storage.HashContent(content)

	if existing, found, _ := b.CheckDuplicate(ctx, fileHash); found {
		metrics.RecordDuplicateDetected()
		metrics.RecordStorageOperation("s3", "store", time.Since(start), true)
		return &storage.StoreResult{
			StoragePath: existing,
			FileHash:    fileHash,
			Size:        int64(len(content)),
			Duplicate:   true,
		}, nil
	}

	key := b.layout.PathFor(filename, fileHash, takenAt)
	if err := b.Put(ctx, key, bytes.NewReader(content), int64(len(content))); err != nil {
		metrics.RecordStorageOperation("s3", "store", time.Since(start), false)
		return nil, err
	}

	if err := b.Put(ctx, b.indexKey(fileHash), strings.NewReader(key), int64(len(key))); err != nil {
		logging.Debug("hash index write failed", zap.String("hash", fileHash), zap.Error(err))
	}

	metrics.RecordStorageOperation("s3", "store", time.Since(start), true)
	return &storage.StoreResult{
		StoragePath: key,
		FileHash:    fileHash,
		Size:        int64(len(content)),
	}, nil
}

// Put implements storage.Backend.
func (b *Backend) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	start := time.Now()
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		metrics.RecordStorageOperation("s3", "put", time.Since(start), false)
		return fmt.Errorf("put object %s: %w", key, err)
	}
	metrics.RecordStorageOperation("s3", "put", time.Since(start), true)
	metrics.RecordStorageBytesWritten(size)
	logging.Debug("s3 put object", zap.String("key", key), zap.Int64("size", size))
	return nil
}

// Open implements storage.Backend.
func (b *Backend) Open(ctx context.Context, storagePath string) (io.ReadCloser, int64, error) {
	start := time.Now()
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(storagePath),
	})
	if err != nil {
		metrics.RecordStorageOperation("s3", "open", time.Since(start), false)
		return nil, 0, fmt.Errorf("get object %s: %w", storagePath, err)
	}
	metrics.RecordStorageOperation("s3", "open", time.Since(start), true)
	return result.Body, aws.ToInt64(result.ContentLength), nil
}

// Delete implements storage.Backend. The duplicate index is not scanned
// here; a stale entry is dropped the next time CheckDuplicate sees it.
func (b *Backend) Delete(ctx context.Context, storagePath string) error {
	start := time.Now()
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(storagePath),
	})
	if err != nil {
		metrics.RecordStorageOperation("s3", "delete", time.Since(start), false)
		return fmt.Errorf("delete object %s: %w", storagePath, err)
	}
	metrics.RecordStorageOperation("s3", "delete", time.Since(start), true)
	return nil
}

// Exists implements storage.Backend.
func (b *Backend) Exists(ctx context.Context, storagePath string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(storagePath),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// List implements storage.Backend.
func (b *Backend) List(ctx context.Context, prefix string, limit int) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	for {
		page, err := b.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if hiddenKey(key) {
				continue
			}
			out = append(out, storage.ObjectInfo{
				StoragePath: key,
				Name:        path.Base(key),
				Size:        aws.ToInt64(obj.Size),
				ModifiedAt:  aws.ToTime(obj.LastModified),
			})
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if !aws.ToBool(page.IsTruncated) {
			return out, nil
		}
		input.ContinuationToken = page.NextContinuationToken
	}
}

// CheckDuplicate implements storage.Backend.
func (b *Backend) CheckDuplicate(ctx context.Context, fileHash string) (string, bool, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.indexKey(fileHash)),
	})
	if err != nil {
		return "", false, nil
	}
	defer result.Body.Close()

	content, err := io.ReadAll(result.Body)
	if err != nil {
		return "", false, fmt.Errorf("read hash index %s: %w", fileHash, err)
	}
	storagePath := strings.TrimSpace(string(content))

	exists, err := b.Exists(ctx, storagePath)
	if err != nil {
		return "", false, err
	}
	if !exists {
		_ = b.Delete(ctx, b.indexKey(fileHash))
		return "", false, nil
	}
	return storagePath, true, nil
}

// Stats implements storage.Backend. Object stores report no free space.
func (b *Backend) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{BackendType: "s3"}
	input := &s3.ListObjectsV2Input{Bucket: aws.String(b.bucket)}
	for {
		page, err := b.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if hiddenKey(aws.ToString(obj.Key)) {
				continue
			}
			stats.TotalFiles++
			stats.TotalSizeBytes += aws.ToInt64(obj.Size)
		}
		if !aws.ToBool(page.IsTruncated) {
			return stats, nil
		}
		input.ContinuationToken = page.NextContinuationToken
	}
}

// Type returns "s3".
func (b *Backend) Type() string { return "s3" }

// Close is a no-op for S3 backends.
func (b *Backend) Close() error { return nil }

// hiddenKey reports whether any path segment starts with a dot, which keeps
// the hash index and temp objects out of listings.
func hiddenKey(key string) bool {
	for _, segment := range strings.Split(key, "/") {
		if strings.HasPrefix(segment, ".") {
			return true
		}
	}
	return false
}
