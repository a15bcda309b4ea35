package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/trellis/backend/internal/config"
	"github.com/trellis/backend/pkg/logger"
)

type MinIOClient struct {
	client        *minio.Client
	presignClient *minio.Client // signs URLs against the endpoint browsers reach
	bucket        string
}

func NewMinIOClient(cfg config.MinIOConfig) (*MinIOClient, error) {
	var creds *credentials.Credentials

	// Empty access key means we are running inside AWS with an
	// instance profile.
	if cfg.AccessKey == "" {
		creds = credentials.NewIAM("")
	} else {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	// The host is part of the presigned signature, so URLs handed to
	// browsers must be signed against the public endpoint when it
	// differs from the in-cluster one.
	presignClient := client
	if cfg.PublicEndpoint != "" && cfg.PublicEndpoint != cfg.Endpoint {
		presignClient, err = minio.New(cfg.PublicEndpoint, &minio.Options{
			Creds:  creds,
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
	}

	return &MinIOClient{
		client:        client,
		presignClient: presignClient,
		bucket:        cfg.Bucket,
	}, nil
}

func (m *MinIOClient) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		logger.Error("minio_upload_failed", err, map[string]interface{}{
			"object_name":  objectName,
			"size":         size,
			"content_type": contentType,
			"bucket":       m.bucket,
		})
	} else {
		logger.Info("minio_upload_success", map[string]interface{}{
			"object_name":  objectName,
			"size":         size,
			"content_type": contentType,
			"bucket":       m.bucket,
		})
	}
	return err
}

func (m *MinIOClient) Delete(ctx context.Context, objectName string) error {
	err := m.client.RemoveObject(ctx, m.bucket, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		logger.Error("minio_delete_failed", err, map[string]interface{}{
			"object_name": objectName,
			"bucket":      m.bucket,
		})
	}
	return err
}

// PresignedGetURLWithResponse overrides the content type and
// disposition the object is served with, so attachments download under
// their original filename rather than the storage key.
func (m *MinIOClient) PresignedGetURLWithResponse(ctx context.Context, objectName string, expiry time.Duration, contentType string, contentDisposition string) (string, error) {
	query := make(url.Values)
	if contentType != "" {
		query.Set("response-content-type", contentType)
	}
	if contentDisposition != "" {
		query.Set("response-content-disposition", contentDisposition)
	}

	urlValue, err := m.presignClient.PresignedGetObject(ctx, m.bucket, objectName, expiry, query)
	if err != nil {
		return "", err
	}
	return urlValue.String(), nil
}

func (m *MinIOClient) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed creating bucket %s: %w", m.bucket, err)
	}
	return nil
}
