package destination

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/config"
)

func localDest(t *testing.T, name string) config.Destination {
	t.Helper()
	return config.Destination{
		Name:    name,
		Kind:    KindLocal,
		Enabled: true,
		Options: map[string]string{"path": t.TempDir()},
	}
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New(config.Destination{Name: "x", Kind: "tape"}, zap.NewNop())
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestLocalRequiresPath(t *testing.T) {
	_, err := New(config.Destination{Name: "x", Kind: KindLocal}, zap.NewNop())
	assert.Error(t, err)
}

func TestLocalRoundTrip(t *testing.T) {
	up, err := New(localDest(t, "primary"), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte("backup artifact bytes")

	location, err := up.Upload(ctx, "job-1", data)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(location))

	got, err := up.Fetch(ctx, location)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	size, err := up.Stat(ctx, location)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)

	require.NoError(t, up.Delete(ctx, location))
	_, err = up.Stat(ctx, location)
	assert.Error(t, err)

	// Deleting an absent artifact is not an error.
	assert.NoError(t, up.Delete(ctx, location))
}

func TestChecksumStable(t *testing.T) {
	a := Checksum([]byte("same bytes"))
	b := Checksum([]byte("same bytes"))
	c := Checksum([]byte("other bytes"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64) // 32-byte digest, hex encoded
}

func TestFleetSkipsDisabled(t *testing.T) {
	dests := []config.Destination{
		localDest(t, "on"),
		{Name: "off", Kind: KindLocal, Enabled: false},
	}
	fleet, err := NewFleet(dests, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, fleet.Size())
}

func TestFleetUploadPartialFailure(t *testing.T) {
	// The second destination points inside a regular file, so MkdirAll fails.
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	dests := []config.Destination{
		localDest(t, "good"),
		{
			Name:    "bad",
			Kind:    KindLocal,
			Enabled: true,
			Options: map[string]string{"path": filepath.Join(blocker, "sub")},
		},
	}
	fleet, err := NewFleet(dests, zap.NewNop())
	require.NoError(t, err)

	data := []byte("payload")
	results := fleet.Upload(context.Background(), "job-2", data)
	require.Len(t, results, 2)

	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Destination] = r
	}

	good := byName["good"]
	require.NoError(t, good.Err)
	assert.Equal(t, int64(len(data)), good.SizeBytes)
	assert.Equal(t, Checksum(data), good.Checksum)
	assert.NotEmpty(t, good.Location)

	bad := byName["bad"]
	assert.Error(t, bad.Err)
	assert.Empty(t, bad.Checksum)
}

func TestFleetResolve(t *testing.T) {
	fleet, err := NewFleet([]config.Destination{localDest(t, "primary")}, zap.NewNop())
	require.NoError(t, err)

	up, err := fleet.Resolve("/var/lib/lifeboat/backups/job.lba")
	require.NoError(t, err)
	assert.Equal(t, KindLocal, up.Kind())

	_, err = fleet.Resolve("s3://bucket/key.lba")
	assert.Error(t, err)

	_, err = fleet.Resolve("carrier-pigeon://nest/key")
	assert.Error(t, err)
}
