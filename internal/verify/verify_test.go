package verify

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/config"
	"github.com/lifeboat-sh/lifeboat/internal/db"
	"github.com/lifeboat-sh/lifeboat/internal/destination"
	"github.com/lifeboat-sh/lifeboat/internal/pipeline"
	"github.com/lifeboat-sh/lifeboat/internal/snapshot"
)

type fixture struct {
	verifier *Verifier
	fleet    *destination.Fleet
	codec    *pipeline.Codec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	codec, err := pipeline.New(key)
	require.NoError(t, err)

	fleet, err := destination.NewFleet([]config.Destination{{
		Name:    "primary",
		Kind:    "local",
		Enabled: true,
		Options: map[string]string{"path": t.TempDir()},
	}}, zap.NewNop())
	require.NoError(t, err)

	return &fixture{
		verifier: New(fleet, codec, zap.NewNop()),
		fleet:    fleet,
		codec:    codec,
	}
}

// store encodes a snapshot document and uploads it, returning a matching
// restore point.
func (f *fixture) store(t *testing.T, compress, encrypt bool) *db.RestorePoint {
	t.Helper()

	doc := snapshot.Document{
		Version:   snapshot.DocumentVersion,
		CreatedAt: time.Now().UTC(),
		Collections: map[string][]snapshot.Record{
			"settings": {{"key": "smtp.host", "value": "mail.example.com"}},
		},
		TableCount:  1,
		RecordCount: 1,
	}
	plain, err := json.Marshal(doc)
	require.NoError(t, err)

	artifact, err := f.codec.Encode(plain, compress, encrypt)
	require.NoError(t, err)

	results := f.fleet.Upload(context.Background(), "job-verify", artifact)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	return &db.RestorePoint{
		ConfigID:   "nightly",
		Location:   results[0].Location,
		SizeBytes:  int64(len(artifact)),
		Compressed: compress,
		Encrypted:  encrypt,
	}
}

func checkByName(t *testing.T, report Report, name string) Check {
	t.Helper()
	for _, c := range report.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not in report", name)
	return Check{}
}

func TestVerifyAllChecksPass(t *testing.T) {
	f := newFixture(t)
	point := f.store(t, true, true)

	report := f.verifier.Verify(context.Background(), point)

	assert.True(t, report.Valid)
	require.Len(t, report.Checks, 4)
	for _, c := range report.Checks {
		assert.Equal(t, StatusPassed, c.Status, c.Name)
	}
}

func TestVerifyMissingArtifactShortCircuits(t *testing.T) {
	f := newFixture(t)
	point := f.store(t, false, false)
	require.NoError(t, os.Remove(point.Location))

	report := f.verifier.Verify(context.Background(), point)

	assert.False(t, report.Valid)
	require.Len(t, report.Checks, 1)
	assert.Equal(t, CheckExistence, report.Checks[0].Name)
	assert.Equal(t, StatusFailed, report.Checks[0].Status)
}

func TestVerifyUnresolvableLocation(t *testing.T) {
	f := newFixture(t)
	point := &db.RestorePoint{Location: "s3://bucket/gone.lba"}

	report := f.verifier.Verify(context.Background(), point)

	assert.False(t, report.Valid)
	require.Len(t, report.Checks, 1)
	assert.Equal(t, CheckExistence, report.Checks[0].Name)
}

func TestVerifySizeDeviation(t *testing.T) {
	f := newFixture(t)
	point := f.store(t, false, false)

	// Within 10 percent passes.
	point.SizeBytes = point.SizeBytes + point.SizeBytes/20
	report := f.verifier.Verify(context.Background(), point)
	assert.Equal(t, StatusPassed, checkByName(t, report, CheckSize).Status)

	// Beyond 10 percent fails, but the remaining checks still run.
	point.SizeBytes *= 2
	report = f.verifier.Verify(context.Background(), point)
	assert.False(t, report.Valid)
	assert.Equal(t, StatusFailed, checkByName(t, report, CheckSize).Status)
	assert.Equal(t, StatusPassed, checkByName(t, report, CheckStructure).Status)
}

func TestVerifyZeroRecordedSizePasses(t *testing.T) {
	f := newFixture(t)
	point := f.store(t, false, false)
	point.SizeBytes = 0

	report := f.verifier.Verify(context.Background(), point)
	assert.Equal(t, StatusPassed, checkByName(t, report, CheckSize).Status)
}

func TestVerifyUnencryptedSkipsDecrypt(t *testing.T) {
	f := newFixture(t)
	point := f.store(t, true, false)

	report := f.verifier.Verify(context.Background(), point)

	assert.True(t, report.Valid)
	assert.Equal(t, StatusSkipped, checkByName(t, report, CheckDecrypt).Status)
}

func TestVerifyTamperedArtifact(t *testing.T) {
	f := newFixture(t)
	point := f.store(t, false, true)

	data, err := os.ReadFile(point.Location)
	require.NoError(t, err)
	data[len(data)-1] ^= 0x01
	require.NoError(t, os.WriteFile(point.Location, data, 0o640))

	report := f.verifier.Verify(context.Background(), point)

	assert.False(t, report.Valid)
	assert.Equal(t, StatusFailed, checkByName(t, report, CheckDecrypt).Status)
	assert.Equal(t, StatusFailed, checkByName(t, report, CheckStructure).Status)
}

func TestVerifyGarbageStructure(t *testing.T) {
	f := newFixture(t)
	point := f.store(t, false, false)

	// Replace the payload with a valid artifact wrapping non-document JSON.
	artifact, err := f.codec.Encode([]byte(`"just a string"`), false, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(point.Location, artifact, 0o640))
	point.SizeBytes = 0

	report := f.verifier.Verify(context.Background(), point)

	assert.False(t, report.Valid)
	assert.Equal(t, StatusFailed, checkByName(t, report, CheckStructure).Status)
}
