// Package storage archives finished install attempt logs to S3 compatible
// object storage.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/security"
)

// Options configures the archive client.
type Options struct {
	Bucket string
	Region string
	// Prefix is prepended to every archive key.
	Prefix string
	// Endpoint points the client at a non-AWS store (minio, garage) using
	// path-style addressing.
	Endpoint string
	// Anonymous skips request signing.
	Anonymous bool
}

// Client provides S3 storage operations
type Client struct {
	s3Client  *s3.Client
	bucket    string
	prefix    string
	validator *security.Validator
}

// NewClient creates a new S3 client
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	slog.Info("s3_client_init", "bucket", opts.Bucket, "region", opts.Region, "endpoint", opts.Endpoint)

	if opts.Bucket == "" {
		return nil, errors.New("bucket cannot be empty")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.Anonymous {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	slog.Info("s3_client_created", "bucket", opts.Bucket)

	return &Client{
		s3Client:  s3Client,
		bucket:    opts.Bucket,
		prefix:    opts.Prefix,
		validator: security.NewValidator(security.DefaultMaxPayloadBytes, security.DefaultMaxMessageLength),
	}, nil
}

// ArchiveKey returns the object key for an attempt's log.
func (c *Client) ArchiveKey(attemptID string) string {
	return path.Join(c.prefix, "attempts", attemptID+".json")
}

// Upload stores body under key and returns its SHA256.
func (c *Client) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if err := c.validator.ValidateObjectKey(key); err != nil {
		slog.Error("s3_key_rejected", "s3_key", key, "error", err)
		return "", errors.Wrap(err, "invalid object key")
	}

	slog.Info("s3_upload_start", "bucket", c.bucket, "s3_key", key, "size", len(body))

	sum := sha256.Sum256(body)
	checksum := hex.EncodeToString(sum[:])

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
		Metadata:      map[string]string{"sha256": checksum},
	})
	if err != nil {
		slog.Error("s3_put_object_failed", "s3_key", key, "error", err)
		return "", errors.Wrap(err, "failed to put object to S3")
	}

	slog.Info("s3_upload_complete", "s3_key", key, "sha256", checksum[:16]+"...")
	return checksum, nil
}

// DownloadResult contains download metadata
type DownloadResult struct {
	LocalPath string
	SHA256    string
	Size      int64
}

// Download downloads an object from S3 and computes SHA256
func (c *Client) Download(ctx context.Context, key, localPath string) (*DownloadResult, error) {
	if err := c.validator.ValidateObjectKey(key); err != nil {
		return nil, errors.Wrap(err, "invalid object key")
	}

	slog.Info("s3_download_start", "bucket", c.bucket, "s3_key", key)

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		slog.Error("local_file_creation_failed", "path", localPath, "error", err)
		return nil, errors.Wrap(err, "failed to create local file")
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), result.Body)
	if err != nil {
		slog.Error("s3_download_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to download file")
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	slog.Info("s3_download_complete", "s3_key", key, "size", size, "local_path", localPath)

	return &DownloadResult{
		LocalPath: localPath,
		SHA256:    checksum,
		Size:      size,
	}, nil
}

// ListObjects lists all objects in the bucket below the client prefix
func (c *Client) ListObjects(ctx context.Context) ([]string, error) {
	slog.Info("s3_list_start", "bucket", c.bucket, "prefix", c.prefix)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
	}
	if c.prefix != "" {
		input.Prefix = aws.String(c.prefix + "/")
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("s3_list_failed", "prefix", c.prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list objects")
		}

		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	slog.Info("s3_list_complete", "prefix", c.prefix, "object_count", len(keys))
	return keys, nil
}

// Exists checks if an object exists in S3
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			slog.Info("s3_object_not_found", "s3_key", key)
			return false, nil
		}
		slog.Error("s3_head_object_failed", "s3_key", key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}

	return true, nil
}

// Delete removes an object. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.validator.ValidateObjectKey(key); err != nil {
		return errors.Wrap(err, "invalid object key")
	}

	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_delete_object_failed", "s3_key", key, "error", err)
		return errors.Wrap(err, "failed to delete object")
	}

	slog.Info("s3_object_deleted", "s3_key", key)
	return nil
}
