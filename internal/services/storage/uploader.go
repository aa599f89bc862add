package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader copies evidence files into object storage
type Uploader interface {
	Upload(ctx context.Context, objectName, filePath string) (string, error)
}

type MinioUploader struct {
	client *minio.Client
	bucket string
	ready  bool
}

func NewMinioUploader(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioUploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &MinioUploader{client: client, bucket: bucket}, nil
}

func (u *MinioUploader) ensureBucket(ctx context.Context) error {
	if u.ready {
		return nil
	}
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
			return err
		}
	}
	u.ready = true
	return nil
}

// Upload stores a local file and returns its object URL
func (u *MinioUploader) Upload(ctx context.Context, objectName, filePath string) (string, error) {
	if err := u.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("bucket error: %w", err)
	}

	_, err := u.client.FPutObject(ctx, u.bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: contentType(filePath),
	})
	if err != nil {
		return "", fmt.Errorf("upload error: %w", err)
	}

	return fmt.Sprintf("%s/%s/%s", u.client.EndpointURL().String(), u.bucket, objectName), nil
}

// ObjectName is the key an evidence file is stored under
func ObjectName(cameraID, sessionID, filePath string) string {
	return path.Join(cameraID, sessionID, filepath.Base(filePath))
}

func contentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".avi":
		return "video/x-msvideo"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
