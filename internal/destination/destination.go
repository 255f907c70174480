// Package destination implements the polymorphic upload sinks that persist
// backup artifacts: local filesystem, S3, Google Cloud Storage, Azure Blob
// Storage, and FTP. Each sink returns a URI-style location handle
// ("s3://bucket/key", "gs://bucket/key", "azure://container/key",
// "ftp://host/path", or a plain filesystem path for local).
//
// All remote operations are bounded by an explicit timeout on top of the
// caller's context; a hung provider call is a failure, never "pending
// forever".
package destination

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/config"
)

// Destination kinds.
const (
	KindLocal = "local"
	KindS3    = "s3"
	KindGCS   = "gcs"
	KindAzure = "azure"
	KindFTP   = "ftp"
)

// ErrUnknownKind is returned by New for a destination kind it does not
// recognise. This is a fail-fast validation error; never defaulted.
var ErrUnknownKind = errors.New("destination: unknown kind")

// defaultOpTimeout bounds a single remote operation when the destination
// options do not override it.
const defaultOpTimeout = 2 * time.Minute

// Uploader is one backup sink. Implementations must be safe for concurrent
// use: the fan-out uploads to all destinations of a job in parallel.
type Uploader interface {
	// Name is the operator-assigned destination name from the config.
	Name() string

	// Kind is one of the Kind* constants.
	Kind() string

	// Upload persists the artifact under a key derived from jobID and
	// returns its location handle.
	Upload(ctx context.Context, jobID string, data []byte) (string, error)

	// Fetch retrieves the artifact at a location previously returned by
	// Upload on this destination.
	Fetch(ctx context.Context, location string) ([]byte, error)

	// Stat returns the stored size in bytes of the artifact at location.
	Stat(ctx context.Context, location string) (int64, error)

	// Delete removes the artifact at location. Used by retention
	// enforcement; deleting an absent artifact is not an error.
	Delete(ctx context.Context, location string) error
}

// New builds an Uploader for the given destination config.
func New(dest config.Destination, logger *zap.Logger) (Uploader, error) {
	switch dest.Kind {
	case KindLocal:
		return newLocal(dest)
	case KindS3:
		return newS3(dest, logger)
	case KindGCS:
		return newGCS(dest)
	case KindAzure:
		return newAzure(dest)
	case KindFTP:
		return newFTP(dest)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, dest.Kind)
	}
}

// artifactKey derives the object key for a job's artifact.
func artifactKey(prefix, jobID string) string {
	key := jobID + ".lba"
	if prefix != "" {
		key = strings.TrimSuffix(prefix, "/") + "/" + key
	}
	return key
}

// opTimeout reads the per-operation timeout from the options map, falling
// back to the package default.
func opTimeout(opts map[string]string) time.Duration {
	if raw, ok := opts["timeout"]; ok {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return defaultOpTimeout
}

// Checksum returns the lowercase BLAKE3 hex digest of data. Recorded with
// every upload so later verification can spot silent corruption.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// -----------------------------------------------------------------------------
// Fleet
// -----------------------------------------------------------------------------

// Result is the outcome of one destination upload within a fan-out.
type Result struct {
	Destination string
	Kind        string
	Location    string
	SizeBytes   int64
	Checksum    string
	Duration    time.Duration
	Err         error
}

// Fleet holds the uploaders of one backup config and routes location handles
// back to the uploader that understands them.
type Fleet struct {
	uploaders []Uploader
	logger    *zap.Logger
}

// NewFleet builds uploaders for all enabled destinations of a backup config.
// A config whose destinations are all disabled yields an empty fleet; the
// orchestrator rejects backup runs against it.
func NewFleet(dests []config.Destination, logger *zap.Logger) (*Fleet, error) {
	f := &Fleet{logger: logger.Named("destination")}
	for _, d := range dests {
		if !d.Enabled {
			continue
		}
		u, err := New(d, logger)
		if err != nil {
			return nil, fmt.Errorf("destination %q: %w", d.Name, err)
		}
		f.uploaders = append(f.uploaders, u)
	}
	return f, nil
}

// Size returns the number of enabled uploaders.
func (f *Fleet) Size() int { return len(f.uploaders) }

// Upload fans the artifact out to every uploader concurrently and returns
// one Result per destination, in destination order. Individual failures are
// recorded in their Result; they never abort the siblings. The checksum is
// computed once and stamped on every successful result.
func (f *Fleet) Upload(ctx context.Context, jobID string, data []byte) []Result {
	sum := Checksum(data)
	results := make([]Result, len(f.uploaders))

	var wg sync.WaitGroup
	for i, u := range f.uploaders {
		wg.Add(1)
		go func(i int, u Uploader) {
			defer wg.Done()
			start := time.Now()

			location, err := u.Upload(ctx, jobID, data)
			results[i] = Result{
				Destination: u.Name(),
				Kind:        u.Kind(),
				Location:    location,
				Duration:    time.Since(start),
				Err:         err,
			}
			if err == nil {
				results[i].SizeBytes = int64(len(data))
				results[i].Checksum = sum
				return
			}

			f.logger.Warn("upload failed",
				zap.String("job_id", jobID),
				zap.String("destination", u.Name()),
				zap.String("kind", u.Kind()),
				zap.Error(err),
			)
		}(i, u)
	}
	wg.Wait()

	return results
}

// Resolve returns the uploader able to serve the given location handle,
// matching by URI scheme. Handles without a scheme belong to local
// destinations.
func (f *Fleet) Resolve(location string) (Uploader, error) {
	kind := KindLocal
	if idx := strings.Index(location, "://"); idx >= 0 {
		switch location[:idx] {
		case "s3":
			kind = KindS3
		case "gs":
			kind = KindGCS
		case "azure":
			kind = KindAzure
		case "ftp":
			kind = KindFTP
		default:
			return nil, fmt.Errorf("destination: unrecognised location scheme in %q", location)
		}
	}

	for _, u := range f.uploaders {
		if u.Kind() == kind {
			return u, nil
		}
	}
	return nil, fmt.Errorf("destination: no %s uploader configured for location %q", kind, location)
}
