package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lifeboat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
server:
  http_addr: ":8080"
backups:
  - name: nightly-db
    kind: database
    schedule: "30 2 * * *"
    compress: true
    encrypt: true
    enabled: true
    retention:
      daily: 7
      weekly: 4
    destinations:
      - name: primary
        kind: local
        enabled: true
        options:
          path: /var/lib/lifeboat/backups
plans:
  - name: db-outage
    priority: critical
    rto_minutes: 30
    rpo_minutes: 60
    enabled: true
    triggers:
      - database_unhealthy
    steps:
      - id: restart
        name: Restart the database
        mode: automatic
        command: systemctl restart postgres
        retries: 2
      - id: verify
        name: Verify connectivity
        mode: automatic
        command: pg_isready
        depends_on: [restart]
    contacts:
      - name: On-call DBA
        email: dba@example.com
        priority: 1
`

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Backups, 1)
	b := cfg.Backups[0]
	assert.Equal(t, "nightly-db", b.Name)
	assert.Equal(t, KindDatabase, b.Kind)
	assert.True(t, b.Compress)
	assert.True(t, b.Encrypt)
	assert.Equal(t, 7, b.Retention.Daily)

	require.Len(t, cfg.Plans, 1)
	assert.Equal(t, "critical", cfg.Plans[0].Priority)
	require.Len(t, cfg.Plans[0].Steps, 2)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server: {}\n"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "lifeboat", cfg.Auth.Issuer)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval())
	assert.Equal(t, 5*time.Second, cfg.Health.ProbeTimeout())
}

func TestInvalidSchedule(t *testing.T) {
	content := `
backups:
  - name: broken
    kind: database
    schedule: "every day"
    destinations:
      - name: primary
        kind: local
`
	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}

func TestDuplicateBackupNames(t *testing.T) {
	content := `
backups:
  - name: same
    kind: database
    schedule: "0 1 * * *"
    destinations:
      - name: a
        kind: local
  - name: same
    kind: files
    schedule: "0 2 * * *"
    destinations:
      - name: b
        kind: local
`
	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate backup config name")
}

func TestUnknownDestinationKind(t *testing.T) {
	content := `
backups:
  - name: tape
    kind: database
    schedule: "0 1 * * *"
    destinations:
      - name: vault
        kind: tape
`
	_, err := Load(writeConfig(t, content))
	assert.Error(t, err)
}

func planConfig(steps string) string {
	return `
plans:
  - name: p
    priority: high
    triggers: [any_unhealthy]
    steps:
` + steps
}

func TestPlanStepValidation(t *testing.T) {
	t.Run("duplicate step id", func(t *testing.T) {
		_, err := Load(writeConfig(t, planConfig(`
      - id: a
        name: first
        mode: automatic
      - id: a
        name: second
        mode: automatic
`)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate step id")
	})

	t.Run("unknown dependency", func(t *testing.T) {
		_, err := Load(writeConfig(t, planConfig(`
      - id: a
        name: step
        mode: automatic
        depends_on: [ghost]
`)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown step")
	})

	t.Run("dependency cycle", func(t *testing.T) {
		_, err := Load(writeConfig(t, planConfig(`
      - id: a
        name: first
        mode: automatic
        depends_on: [b]
      - id: b
        name: second
        mode: automatic
        depends_on: [a]
`)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle")
	})
}

func TestStepTimeoutDefault(t *testing.T) {
	assert.Equal(t, 60*time.Second, Step{}.Timeout())
	assert.Equal(t, 5*time.Minute, Step{TimeoutSeconds: 300}.Timeout())
}

func TestFindBackup(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.NotNil(t, cfg.FindBackup("nightly-db"))
	assert.Nil(t, cfg.FindBackup("absent"))
}
