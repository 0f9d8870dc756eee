package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// Uploader stores a local file in durable object storage and returns an
// addressable URI for it.
type Uploader interface {
	Upload(ctx context.Context, localPath, objectPath string) (string, error)
}

// GCSUploader uploads normalized audio to a Google Cloud Storage bucket
// and addresses it as gs://bucket/path.
type GCSUploader struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

func NewGCSUploader(ctx context.Context, bucket string, logger *zap.Logger) (*GCSUploader, error) {
	if bucket == "" {
		return nil, errors.New("bucket name required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSUploader{client: client, bucket: bucket, logger: logger}, nil
}

func (g *GCSUploader) Upload(ctx context.Context, localPath, objectPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	uploadCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(objectPath).NewWriter(uploadCtx)
	w.ContentType = "audio/wav"
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("write gs://%s/%s: %w", g.bucket, objectPath, err)
	}
	// Close finalizes the upload; its error is the real success signal.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", g.bucket, objectPath, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", g.bucket, objectPath)
	g.logger.Info("audio uploaded", zap.String("uri", uri))
	return uri, nil
}
