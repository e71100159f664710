package export

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectPutter is the subset of *minio.Client used to upload tables.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioConfig holds S3-compatible connection settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioSink uploads each table as one object keyed "<folder>/<name>.csv".
type MinioSink struct {
	client ObjectPutter
	bucket string
}

// NewMinioSink wraps an existing client.
func NewMinioSink(client ObjectPutter, bucket string) *MinioSink {
	return &MinioSink{client: client, bucket: bucket}
}

// DialMinio connects to the object store and creates the bucket if needed.
func DialMinio(ctx context.Context, cfg MinioConfig) (*MinioSink, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return NewMinioSink(cli, cfg.Bucket), nil
}

// Export implements Sink.
func (s *MinioSink) Export(ctx context.Context, table Table) error {
	if err := table.Validate(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, table); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, table.Key(), bytes.NewReader(buf.Bytes()), int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "text/csv"})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", table.Key(), err)
	}
	return nil
}
