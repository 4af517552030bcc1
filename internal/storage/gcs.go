package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/bidhouse/apiserver/config"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSClient stores images in a Google Cloud Storage bucket.
type GCSClient struct {
	client    *storage.Client
	bucket    string
	projectID string
}

func gcsOptions(cfg config.GCSConfig) []option.ClientOption {
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		return []option.ClientOption{option.WithEndpoint(endpoint), option.WithoutAuthentication()}
	}
	if file := strings.TrimSpace(cfg.CredentialsFile); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

func NewGCSClient(ctx context.Context, cfg config.GCSConfig) (*GCSClient, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs bucket is required")
	}

	client, err := storage.NewClient(ctx, gcsOptions(cfg)...)
	if err != nil {
		return nil, err
	}
	return &GCSClient{client: client, bucket: cfg.Bucket, projectID: cfg.ProjectID}, nil
}

func (g *GCSClient) handle() *storage.BucketHandle {
	return g.client.Bucket(g.bucket)
}

// EnsureBucket creates the bucket when it is missing. Creating requires a
// project id.
func (g *GCSClient) EnsureBucket(ctx context.Context) error {
	_, err := g.handle().Attrs(ctx)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, storage.ErrBucketNotExist):
		return err
	case strings.TrimSpace(g.projectID) == "":
		return errors.New("gcs project id is required to create bucket")
	}

	err = g.handle().Create(ctx, g.projectID, nil)
	if isGoogleAPIStatus(err, http.StatusConflict) {
		return nil
	}
	return err
}

// Put writes a new object. Keys are never reused, so the write fails if the
// object already exists.
func (g *GCSClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	obj := g.handle().Object(key).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.CacheControl = imageCacheControl
	writer.ContentType = contentType
	if size > 0 && size < int64(writer.ChunkSize) {
		writer.ChunkSize = 0
	}

	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

func (g *GCSClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := g.handle().Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	return reader, err
}

func (g *GCSClient) Delete(ctx context.Context, key string) error {
	err := g.handle().Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrObjectNotFound
	}
	return err
}

func (g *GCSClient) Bucket() string {
	return g.bucket
}

func isGoogleAPIStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
