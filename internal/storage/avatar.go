// Package storage uploads user avatars to S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrInvalidObjectName = errors.New("invalid object name")

// publicReadPolicy lets browsers load avatars straight from the bucket
const publicReadPolicy = `{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Principal": {"AWS": ["*"]},
    "Action": ["s3:GetObject"],
    "Resource": ["arn:aws:s3:::%s/*"]
  }]
}`

// AvatarStorage stores avatar images and returns their public URL
type AvatarStorage interface {
	Upload(ctx context.Context, username, filename string, r io.Reader, size int64, contentType string) (string, error)
}

// minioAPI is the part of *minio.Client used here
type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	SetBucketPolicy(ctx context.Context, bucketName, policy string) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Config holds configuration for MinioStorage
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// PublicURL is the base used to build object URLs (defaults to the endpoint)
	PublicURL string
	UseSSL    bool
}

// MinioStorage implements AvatarStorage on MinIO
type MinioStorage struct {
	api       minioAPI
	bucket    string
	publicURL string
}

// NewMinioStorage connects to MinIO and ensures the bucket exists
func NewMinioStorage(ctx context.Context, cfg *Config) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + cfg.Endpoint
	}
	return newWithAPI(ctx, client, cfg.Bucket, publicURL)
}

func newWithAPI(ctx context.Context, api minioAPI, bucket, publicURL string) (*MinioStorage, error) {
	s := &MinioStorage{
		api:       api,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStorage) ensureBucket(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.api.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	if err := s.api.SetBucketPolicy(ctx, s.bucket, fmt.Sprintf(publicReadPolicy, s.bucket)); err != nil {
		return fmt.Errorf("failed to set bucket policy: %w", err)
	}
	return nil
}

// Upload stores the file under <username>/<filename>, replacing any previous object
func (s *MinioStorage) Upload(ctx context.Context, username, filename string, r io.Reader, size int64, contentType string) (string, error) {
	objectName, err := ObjectName(username, filename)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = s.api.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload avatar: %w", err)
	}

	return s.publicURL + "/" + url.PathEscape(s.bucket) + "/" + escapePath(objectName), nil
}

// ObjectName builds <username>/<basename> and rejects names that escape the user's prefix
func ObjectName(username, filename string) (string, error) {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if username == "" || strings.Contains(username, "/") || base == "." || base == "/" || base == ".." {
		return "", ErrInvalidObjectName
	}
	return username + "/" + base, nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
