package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fetchvault/api/internal/config"
)

// Availability is the result of a single-file storage check.
type Availability struct {
	Available bool
	Key       string
	Size      int64
}

// Storage defines the object storage operations the download pipeline needs.
type Storage interface {
	CheckAvailability(ctx context.Context, fileID int64) (Availability, error)
	PresignDownload(ctx context.Context, key string) (string, error)
	Health(ctx context.Context) bool
}

// S3Client implements Storage against any S3-compatible store. When no
// bucket is configured it runs in mock mode: every seventh file id is
// "available" with a pseudo-random size, which keeps local development and
// e2e tests working without object storage.
type S3Client struct {
	s3Client      *s3.Client
	presigner     *s3.PresignClient
	bucket        string
	presignExpiry time.Duration
}

// NewS3Client creates an S3 storage client.
func NewS3Client(cfg *config.S3Config) (*S3Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: endpoint}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3Client{
		s3Client:      s3Client,
		presigner:     s3.NewPresignClient(s3Client),
		bucket:        cfg.Bucket,
		presignExpiry: time.Duration(cfg.PresignExpiry) * time.Second,
	}, nil
}

// ObjectKey maps a file id to its object key. File ids are bounds-checked at
// the API edge, so the key cannot traverse outside the downloads prefix.
func ObjectKey(fileID int64) string {
	if fileID < 0 {
		fileID = -fileID
	}
	return fmt.Sprintf("downloads/%d.zip", fileID)
}

// CheckAvailability checks whether a file exists and returns its size.
// Errors from the store are reported to the caller, which treats the file
// as unavailable; the check is not retried.
func (c *S3Client) CheckAvailability(ctx context.Context, fileID int64) (Availability, error) {
	key := ObjectKey(fileID)

	if c.bucket == "" {
		if fileID%7 != 0 {
			return Availability{}, nil
		}
		return Availability{
			Available: true,
			Key:       key,
			Size:      rand.Int63n(10_000_000) + 1000,
		}, nil
	}

	out, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Availability{}, err
	}

	var size int64
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return Availability{Available: true, Key: key, Size: size}, nil
}

// PresignDownload generates a time-limited URL for direct download.
func (c *S3Client) PresignDownload(ctx context.Context, key string) (string, error) {
	if c.bucket == "" {
		// Mock mode: a stable fake URL so completed jobs are still clickable.
		return fmt.Sprintf("https://mock-storage.local/%s?expires=%d", key, int(c.presignExpiry.Seconds())), nil
	}

	presignedReq, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.presignExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return presignedReq.URL, nil
}

// Health probes the bucket. A NotFound on the marker object still means the
// bucket is reachable.
func (c *S3Client) Health(ctx context.Context) bool {
	if c.bucket == "" {
		return true // mock mode
	}
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String("__health_check_marker__"),
	})
	if err != nil {
		var apiErr interface{ ErrorCode() string }
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
			return true
		}
		return false
	}
	return true
}
