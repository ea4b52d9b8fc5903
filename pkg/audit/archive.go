package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// S3ArchiveConfig configures the cold-storage destination for swept
// records. Endpoint and path style exist for MinIO-compatible stores.
type S3ArchiveConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool

	// Prefix is prepended to every object key, e.g. "audit-archive".
	Prefix string
}

// S3Archiver writes expired record batches to S3 as gzipped NDJSON
// before the sweeper deletes them.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver builds an archiver from config, using static credentials
// when provided and the default credential chain otherwise.
func NewS3Archiver(ctx context.Context, cfg S3ArchiveConfig) (*S3Archiver, error) {
	var awsConfig aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
	})

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "audit-archive"
	}

	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// Archive writes one batch as a single gzipped NDJSON object. The key
// embeds the batch's id range so objects sort chronologically and a
// re-run of a failed sweep overwrites rather than duplicates.
func (a *S3Archiver) Archive(ctx context.Context, records []*AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	key := fmt.Sprintf("%s/%s/%d-%d.ndjson.gz",
		a.prefix,
		records[0].Timestamp.UTC().Format("2006/01/02"),
		records[0].ID,
		records[len(records)-1].ID,
	)

	ctx, span := tracer.Start(ctx, "S3Archiver.Archive",
		trace.WithAttributes(
			attribute.String("s3.bucket", a.bucket),
			attribute.String("s3.key", key),
			attribute.Int("batch.size", len(records)),
		),
	)
	defer span.End()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to encode record")
			return fmt.Errorf("failed to encode record %d: %w", rec.ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to compress batch")
		return fmt.Errorf("failed to compress batch: %w", err)
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload archive")
		return fmt.Errorf("failed to upload archive %s: %w", key, err)
	}
	return nil
}
