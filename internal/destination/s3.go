package destination

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/config"
)

// S3 uploads artifacts to an S3 (or S3-compatible) bucket.
// Location handles have the form "s3://bucket/key".
//
// Options: bucket (required), region, prefix, endpoint (for MinIO and
// friends; enables path-style addressing and static credentials from the
// standard AWS environment variables), timeout.
type S3 struct {
	name     string
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	timeout  time.Duration
}

func newS3(dest config.Destination, logger *zap.Logger) (*S3, error) {
	bucket := dest.Options["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("destination %q: s3 requires a \"bucket\" option", dest.Name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var opts []func(*awsconfig.LoadOptions) error
	if region := dest.Options["region"]; region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	opts = append(opts,
		awsconfig.WithRetryMaxAttempts(3),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
	)

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("destination %q: loading AWS config: %w", dest.Name, err)
	}

	endpoint := dest.Options["endpoint"]
	if endpoint != "" {
		if ak, sk := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); ak != "" && sk != "" {
			cfg.Credentials = credentials.NewStaticCredentialsProvider(ak, sk, "")
		}
	}

	var client *s3.Client
	if endpoint != "" {
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
		logger.Info("s3 destination using custom endpoint",
			zap.String("destination", dest.Name),
			zap.String("endpoint", endpoint),
		)
	} else {
		client = s3.NewFromConfig(cfg)
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 16 * 1024 * 1024
	})

	return &S3{
		name:     dest.Name,
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		prefix:   dest.Options["prefix"],
		timeout:  opTimeout(dest.Options),
	}, nil
}

func (s *S3) Name() string { return s.name }
func (s *S3) Kind() string { return KindS3 }

func (s *S3) Upload(ctx context.Context, jobID string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := artifactKey(s.prefix, jobID)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("s3: uploading %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3) Fetch(ctx context.Context, location string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	bucket, key, err := splitLocation(location, "s3")
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: fetching %s: %w", location, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: reading %s: %w", location, err)
	}
	return data, nil
}

func (s *S3) Stat(ctx context.Context, location string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	bucket, key, err := splitLocation(location, "s3")
	if err != nil {
		return 0, err
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("s3: stat %s: %w", location, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (s *S3) Delete(ctx context.Context, location string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	bucket, key, err := splitLocation(location, "s3")
	if err != nil {
		return err
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("s3: deleting %s: %w", location, err)
	}
	return nil
}

// splitLocation splits "<scheme>://bucket/key" into bucket and key.
func splitLocation(location, scheme string) (string, string, error) {
	rest, ok := strings.CutPrefix(location, scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("destination: %q is not a %s location", location, scheme)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("destination: malformed location %q", location)
	}
	return bucket, key, nil
}
