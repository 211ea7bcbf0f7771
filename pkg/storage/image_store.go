package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"doctrack/pkg/domain"
)

// ImageStore hosts uploaded document images. Delete is idempotent:
// removing an unknown external id is not an error.
type ImageStore interface {
	Upload(ctx context.Context, r io.Reader, size int64, contentType string) (domain.Image, error)
	Delete(ctx context.Context, externalID string) error
}

// MinioImageStore implements ImageStore for MinIO/S3 compatible storage.
// The object key doubles as the external id.
type MinioImageStore struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
	presignExpiry time.Duration
}

// MinioConfig holds connection settings for the image bucket.
type MinioConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

// NewMinioImageStore connects to MinIO and ensures the bucket exists.
func NewMinioImageStore(cfg MinioConfig) (*MinioImageStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioImageStore{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		presignExpiry: 7 * 24 * time.Hour,
	}, nil
}

// Upload stores the image and returns its URL and external id.
func (m *MinioImageStore) Upload(ctx context.Context, r io.Reader, size int64, contentType string) (domain.Image, error) {
	key := "documents/" + uuid.NewString() + extensionFor(contentType)
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return domain.Image{}, fmt.Errorf("put object: %w", err)
	}
	url, err := m.urlFor(ctx, key)
	if err != nil {
		return domain.Image{}, err
	}
	return domain.Image{URL: url, ExternalID: key}, nil
}

// Delete removes the image object. Unknown keys are not an error.
func (m *MinioImageStore) Delete(ctx context.Context, externalID string) error {
	if strings.TrimSpace(externalID) == "" {
		return nil
	}
	if err := m.client.RemoveObject(ctx, m.bucket, externalID, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (m *MinioImageStore) urlFor(ctx context.Context, key string) (string, error) {
	if m.publicBaseURL != "" {
		return m.publicBaseURL + "/" + key, nil
	}
	url, err := m.client.PresignedGetObject(ctx, m.bucket, key, m.presignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return url.String(), nil
}

func extensionFor(contentType string) string {
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
