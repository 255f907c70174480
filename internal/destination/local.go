package destination

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lifeboat-sh/lifeboat/internal/config"
)

// Local writes artifacts to a directory on the local filesystem.
// Location handles are plain absolute paths.
type Local struct {
	name string
	dir  string
}

func newLocal(dest config.Destination) (*Local, error) {
	dir := dest.Options["path"]
	if dir == "" {
		return nil, fmt.Errorf("destination %q: local requires a \"path\" option", dest.Name)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("destination %q: resolving path: %w", dest.Name, err)
	}
	return &Local{name: dest.Name, dir: abs}, nil
}

func (l *Local) Name() string { return l.name }
func (l *Local) Kind() string { return KindLocal }

// Upload ensures the directory exists and writes the artifact with a
// temp-then-rename so a crash mid-write never leaves a half artifact
// under the final name.
func (l *Local) Upload(ctx context.Context, jobID string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		return "", fmt.Errorf("local: creating %s: %w", l.dir, err)
	}

	path := filepath.Join(l.dir, jobID+".lba")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return "", fmt.Errorf("local: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("local: renaming into place: %w", err)
	}
	return path, nil
}

func (l *Local) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("local: reading %s: %w", location, err)
	}
	return data, nil
}

func (l *Local) Stat(ctx context.Context, location string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := os.Stat(location)
	if err != nil {
		return 0, fmt.Errorf("local: stat %s: %w", location, err)
	}
	return info.Size(), nil
}

func (l *Local) Delete(ctx context.Context, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(location); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("local: removing %s: %w", location, err)
	}
	return nil
}
