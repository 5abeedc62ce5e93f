package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Client is the subset of *minio.Client the exporter uses.
type Client interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

// EnsureBucket creates the snapshot bucket when it is missing.
func EnsureBucket(ctx context.Context, client Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", cfg.Bucket, err)
	}
	return nil
}

// SnapshotKey is the object key of a snapshot. The hash in the key makes
// uploads content addressed, so re-exporting the same snapshot overwrites
// an identical object.
func SnapshotKey(cfg Config, runID string, seq int64, hash string) string {
	return path.Join(cfg.Prefix, runID, fmt.Sprintf("%08d-%s.json", seq, hash))
}

// ExportSnapshot uploads a canonical snapshot body and returns its key.
func ExportSnapshot(ctx context.Context, client Client, cfg Config, runID string, seq int64, hash string, body []byte) (string, error) {
	key := SnapshotKey(cfg, runID, seq, hash)
	_, err := client.PutObject(
		ctx,
		cfg.Bucket,
		key,
		bytes.NewReader(body),
		int64(len(body)),
		minio.PutObjectOptions{
			ContentType:  "application/json",
			UserMetadata: map[string]string{"run-id": runID, "snapshot-hash": hash},
		},
	)
	if err != nil {
		return "", fmt.Errorf("upload snapshot %s: %w", key, err)
	}
	slog.Info("snapshot exported", "bucket", cfg.Bucket, "key", key, "bytes", len(body))
	return key, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
