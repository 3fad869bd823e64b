package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"intelreport/internal/report"
)

// ArchiveConfig locates the report bucket.
type ArchiveConfig struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Secure    bool
}

type objectWriter interface {
	putObject(ctx context.Context, bucket, name string, body []byte) error
}

type minioWriter struct {
	client *minio.Client
}

func (w minioWriter) putObject(ctx context.Context, bucket, name string, body []byte) error {
	_, err := w.client.PutObject(ctx, bucket, name, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

// S3Archiver stores each report as one JSON object.
type S3Archiver struct {
	bucket string
	prefix string
	writer objectWriter
}

var _ report.Archiver = (*S3Archiver)(nil)

// NewS3Archiver connects to the endpoint and checks the bucket exists.
func NewS3Archiver(ctx context.Context, cfg ArchiveConfig) (*S3Archiver, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("archive endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	found, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !found {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}
	return &S3Archiver{bucket: cfg.Bucket, prefix: cfg.Prefix, writer: minioWriter{client: client}}, nil
}

type archivedReport struct {
	Version   int              `json:"version"`
	Report    *report.Report   `json:"report"`
	Narrative report.Narrative `json:"narrative"`
}

// ObjectName is the key a report is archived under:
// <prefix>/<period>/<first day>.json.
func ObjectName(prefix string, r *report.Report) string {
	day := r.Meta.From.Format("2006-01-02")
	return path.Join(strings.Trim(prefix, "/"), string(r.Meta.Period), day+".json")
}

// Archive implements report.Archiver and returns the s3:// location.
func (a *S3Archiver) Archive(ctx context.Context, r *report.Report, n report.Narrative) (string, error) {
	body, err := json.Marshal(archivedReport{Version: 1, Report: r, Narrative: n})
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	name := ObjectName(a.prefix, r)
	if err := a.writer.putObject(ctx, a.bucket, name, body); err != nil {
		return "", fmt.Errorf("write s3://%s/%s: %w", a.bucket, name, err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, name), nil
}
