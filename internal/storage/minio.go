package storage

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/bidhouse/apiserver/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	minioNoSuchKey          = "NoSuchKey"
	minioBucketAlreadyOwned = "BucketAlreadyOwnedByYou"
)

// MinioClient stores images in an S3-compatible bucket.
type MinioClient struct {
	client *minio.Client
	bucket string
	region string
}

func NewMinioClient(cfg config.MinioConfig) (*MinioClient, error) {
	switch {
	case strings.TrimSpace(cfg.Endpoint) == "":
		return nil, errors.New("minio endpoint is required")
	case strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "":
		return nil, errors.New("minio access key and secret key are required")
	case strings.TrimSpace(cfg.Bucket) == "":
		return nil, errors.New("minio bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return &MinioClient{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// EnsureBucket creates the bucket when it is missing. Losing a creation race
// to another replica is not an error.
func (m *MinioClient) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil || exists {
		return err
	}

	err = m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region})
	if minio.ToErrorResponse(err).Code == minioBucketAlreadyOwned {
		return nil
	}
	return err
}

func (m *MinioClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: imageCacheControl,
	})
	return err
}

// Get stats the object before returning it because GetObject is lazy and
// would otherwise report a missing key on the first Read.
func (m *MinioClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinioError(err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, translateMinioError(err)
	}
	return obj, nil
}

// Delete reports ErrObjectNotFound for a missing key. RemoveObject itself
// succeeds on missing keys, so the object is stat'ed first.
func (m *MinioClient) Delete(ctx context.Context, key string) error {
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		return translateMinioError(err)
	}
	return translateMinioError(m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}))
}

func (m *MinioClient) Bucket() string {
	return m.bucket
}

func translateMinioError(err error) error {
	if err == nil {
		return nil
	}
	if minio.ToErrorResponse(err).Code == minioNoSuchKey {
		return ErrObjectNotFound
	}
	return err
}
