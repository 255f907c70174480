package destination

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"

	"github.com/lifeboat-sh/lifeboat/internal/config"
)

// GCS uploads artifacts to a Google Cloud Storage bucket using Application
// Default Credentials. Location handles have the form "gs://bucket/key".
//
// Options: bucket (required), prefix, timeout.
type GCS struct {
	name    string
	client  *storage.Client
	bucket  string
	prefix  string
	timeout time.Duration
}

func newGCS(dest config.Destination) (*GCS, error) {
	bucket := dest.Options["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("destination %q: gcs requires a \"bucket\" option", dest.Name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("destination %q: creating GCS client: %w", dest.Name, err)
	}

	return &GCS{
		name:    dest.Name,
		client:  client,
		bucket:  bucket,
		prefix:  dest.Options["prefix"],
		timeout: opTimeout(dest.Options),
	}, nil
}

func (g *GCS) Name() string { return g.name }
func (g *GCS) Kind() string { return KindGCS }

func (g *GCS) Upload(ctx context.Context, jobID string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	key := artifactKey(g.prefix, jobID)
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs: writing %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs: finalising %s: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", g.bucket, key), nil
}

func (g *GCS) Fetch(ctx context.Context, location string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	bucket, key, err := splitLocation(location, "gs")
	if err != nil {
		return nil, err
	}

	r, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs: opening %s: %w", location, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs: reading %s: %w", location, err)
	}
	return data, nil
}

func (g *GCS) Stat(ctx context.Context, location string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	bucket, key, err := splitLocation(location, "gs")
	if err != nil {
		return 0, err
	}

	attrs, err := g.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		return 0, fmt.Errorf("gcs: stat %s: %w", location, err)
	}
	return attrs.Size, nil
}

func (g *GCS) Delete(ctx context.Context, location string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	bucket, key, err := splitLocation(location, "gs")
	if err != nil {
		return err
	}

	if err := g.client.Bucket(bucket).Object(key).Delete(ctx); err != nil && err != storage.ErrObjectNotExist {
		return fmt.Errorf("gcs: deleting %s: %w", location, err)
	}
	return nil
}
