package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/bidhouse/apiserver/internal/storage"
	"github.com/google/uuid"
)

// UploadsPrefix is the public path under which stored images are served.
const UploadsPrefix = "/uploads/"

// Upload domains. Each maps to a key prefix in object storage.
const (
	DomainUsers    = "users"
	DomainAuctions = "auctions"
)

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ObjectStore is the subset of storage.Storage used for images.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// UploadService stores images under generated names and resolves the
// public "/uploads/<domain>/<name>" paths back to stored objects.
type UploadService struct {
	store   ObjectStore
	newName func() string
}

func NewUploadService(store ObjectStore) *UploadService {
	return &UploadService{store: store, newName: uuid.NewString}
}

// SaveImage stores r and returns its public path. The stored name is a
// fresh UUID carrying the original file extension.
func (s *UploadService) SaveImage(ctx context.Context, domain, filename string, r io.Reader, size int64) (string, error) {
	if !validDomain(domain) {
		return "", fmt.Errorf("unknown upload domain %q", domain)
	}

	ext := strings.ToLower(path.Ext(filename))
	contentType, ok := imageExtensions[ext]
	if !ok {
		return "", newError(ErrBadInput, "unsupported image type %q", ext)
	}

	key := domain + "/" + s.newName() + ext
	if err := s.store.Put(ctx, key, r, size, contentType); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return UploadsPrefix + key, nil
}

// Open returns a reader for the image at publicPath and its content type.
func (s *UploadService) Open(ctx context.Context, publicPath string) (io.ReadCloser, string, error) {
	key, err := objectKey(publicPath)
	if err != nil {
		return nil, "", err
	}

	reader, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, "", newError(ErrNotFound, "image not found")
		}
		return nil, "", err
	}

	contentType, ok := imageExtensions[path.Ext(key)]
	if !ok {
		contentType = mime.TypeByExtension(path.Ext(key))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return reader, contentType, nil
}

// Remove deletes the image at publicPath. Missing images are not an error.
func (s *UploadService) Remove(ctx context.Context, publicPath string) error {
	key, err := objectKey(publicPath)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return err
	}
	return nil
}

func validDomain(domain string) bool {
	return domain == DomainUsers || domain == DomainAuctions
}

func objectKey(publicPath string) (string, error) {
	rest, ok := strings.CutPrefix(publicPath, UploadsPrefix)
	if !ok {
		return "", newError(ErrNotFound, "image not found")
	}
	domain, name, ok := strings.Cut(rest, "/")
	if !ok || !validDomain(domain) || name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", newError(ErrNotFound, "image not found")
	}
	return domain + "/" + name, nil
}
