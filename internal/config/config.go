// Package config loads and validates the service configuration file.
//
// Backup configs, destinations, disaster-recovery plans and contacts are
// registered statically here; they are operator-managed infrastructure,
// changed by editing the file and restarting, not by API calls. Runtime
// state (jobs, restore points) lives in the catalog database instead.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lifeboat-sh/lifeboat/internal/cron"
)

// Backup kinds accepted in BackupConfig.Kind.
const (
	KindDatabase = "database"
	KindFiles    = "files"
	KindCache    = "cache"
	KindFull     = "full"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Server  Server         `yaml:"server"`
	Auth    Auth           `yaml:"auth"`
	Backups []BackupConfig `yaml:"backups" validate:"dive"`
	Plans   []Plan         `yaml:"plans" validate:"dive"`
	Health  Health         `yaml:"health"`
}

// Server holds the HTTP listener settings.
type Server struct {
	HTTPAddr string `yaml:"http_addr"`

	// Secure controls whether auth cookies carry the Secure flag.
	// Enable in production behind HTTPS.
	Secure bool `yaml:"secure"`
}

// Auth holds the local admin credentials for the REST API.
// AdminPasswordHash is an Argon2id hash in "saltHex:hashHex" form, produced
// by the hash-password CLI command. Never a plaintext password.
//
// When the JWT key files are unset the server generates an ephemeral RSA
// key pair at startup; tokens are then invalidated on restart, which is
// acceptable for single-instance deployments.
type Auth struct {
	AdminEmail        string `yaml:"admin_email" validate:"omitempty,email"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
	Issuer            string `yaml:"issuer"`
	JWTPrivateKeyFile string `yaml:"jwt_private_key_file" validate:"omitempty,file"`
	JWTPublicKeyFile  string `yaml:"jwt_public_key_file" validate:"omitempty,file"`
}

// Health configures the monitor sweep.
type Health struct {
	IntervalSeconds     int `yaml:"interval_seconds"`
	ProbeTimeoutSeconds int `yaml:"probe_timeout_seconds"`
}

// BackupConfig describes one scheduled backup: what to snapshot, when, how
// to transform it, and where to put it. Never deleted at runtime; disable
// instead.
type BackupConfig struct {
	Name         string        `yaml:"name" validate:"required"`
	Kind         string        `yaml:"kind" validate:"required,oneof=database files cache full"`
	Schedule     string        `yaml:"schedule" validate:"required"` // cron expression
	Retention    Retention     `yaml:"retention"`
	Compress     bool          `yaml:"compress"`
	Encrypt      bool          `yaml:"encrypt"`
	Enabled      bool          `yaml:"enabled"`
	Destinations []Destination `yaml:"destinations" validate:"required,min=1,dive"`
}

// Retention holds per-tier keep counts, mirroring common 3-2-1 rotation
// schemes. Zero means the tier is not kept.
type Retention struct {
	Daily   int `yaml:"daily"`
	Weekly  int `yaml:"weekly"`
	Monthly int `yaml:"monthly"`
	Yearly  int `yaml:"yearly"`
}

// Destination is one sink a backup's bytes are written to. Options is the
// kind-specific settings map (bucket, region, path, host...). Secrets inside
// Options (access keys, passwords) should be provided via environment
// references where the provider SDK supports them.
type Destination struct {
	Name    string            `yaml:"name" validate:"required"`
	Kind    string            `yaml:"kind" validate:"required,oneof=local s3 gcs azure ftp"`
	Enabled bool              `yaml:"enabled"`
	Options map[string]string `yaml:"options"`
}

// Plan is a disaster-recovery plan: trigger predicates over health state,
// ordered remediation steps, and the humans to call.
type Plan struct {
	Name            string    `yaml:"name" validate:"required"`
	Description     string    `yaml:"description"`
	Priority        string    `yaml:"priority" validate:"required,oneof=critical high medium low"`
	RTOMinutes      int       `yaml:"rto_minutes" validate:"gte=0"`
	RPOMinutes      int       `yaml:"rpo_minutes" validate:"gte=0"`
	Triggers        []string  `yaml:"triggers" validate:"required,min=1"`
	Steps           []Step    `yaml:"steps" validate:"required,min=1,dive"`
	Contacts        []Contact `yaml:"contacts" validate:"dive"`
	Enabled         bool      `yaml:"enabled"`
	CooldownMinutes int       `yaml:"cooldown_minutes"`
}

// Step is one remediation action within a plan. Automatic steps run Command
// through the shell executor; manual steps are logged as requiring operator
// action and never executed. DependsOn lists step IDs that must succeed
// before this step runs; a dependent of a failed step is skipped.
type Step struct {
	ID             string   `yaml:"id" validate:"required"`
	Name           string   `yaml:"name" validate:"required"`
	Mode           string   `yaml:"mode" validate:"required,oneof=automatic manual"`
	Description    string   `yaml:"description"`
	Command        string   `yaml:"command"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	DependsOn      []string `yaml:"depends_on"`
	Retries        int      `yaml:"retries" validate:"gte=0"`
}

// Contact is a human to notify when a plan fires. Lower priority rank is
// contacted first.
type Contact struct {
	Name     string `yaml:"name" validate:"required"`
	Role     string `yaml:"role"`
	Email    string `yaml:"email" validate:"omitempty,email"`
	Phone    string `yaml:"phone"`
	Priority int    `yaml:"priority" validate:"gte=1"`
}

// Timeout returns the step timeout as a duration, defaulting to 60s.
func (s Step) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Interval returns the health sweep interval, defaulting to 30s.
func (h Health) Interval() time.Duration {
	if h.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(h.IntervalSeconds) * time.Second
}

// ProbeTimeout returns the per-probe deadline, defaulting to 5s.
func (h Health) ProbeTimeout() time.Duration {
	if h.ProbeTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(h.ProbeTimeoutSeconds) * time.Second
}

// Load reads, parses and validates the configuration file at path.
// Validation failures are fatal: a config the operator mistyped must never
// be silently defaulted into something else.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in the fields that have sensible defaults.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "lifeboat"
	}
}

// Validate checks field constraints, cron expressions, duplicate names and
// plan step references. Returns the first error encountered.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	seen := make(map[string]bool, len(c.Backups))
	for i := range c.Backups {
		b := &c.Backups[i]
		if seen[b.Name] {
			return fmt.Errorf("config: duplicate backup config name %q", b.Name)
		}
		seen[b.Name] = true

		if _, err := cron.Parse(b.Schedule); err != nil {
			return fmt.Errorf("config: backup %q: invalid schedule %q: %w", b.Name, b.Schedule, err)
		}
	}

	for i := range c.Plans {
		if err := c.Plans[i].validateSteps(); err != nil {
			return err
		}
	}
	return nil
}

// validateSteps checks that step IDs are unique, dependency references exist,
// and the dependency graph contains no cycles. Cycle detection runs a plain
// DFS with a three-colour mark per step.
func (p *Plan) validateSteps() error {
	byID := make(map[string]*Step, len(p.Steps))
	for i := range p.Steps {
		s := &p.Steps[i]
		if _, dup := byID[s.ID]; dup {
			return fmt.Errorf("config: plan %q: duplicate step id %q", p.Name, s.ID)
		}
		byID[s.ID] = s
	}

	for i := range p.Steps {
		for _, dep := range p.Steps[i].DependsOn {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("config: plan %q: step %q depends on unknown step %q",
					p.Name, p.Steps[i].ID, dep)
			}
		}
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	colour := make(map[string]int, len(p.Steps))

	var visit func(id string) error
	visit = func(id string) error {
		switch colour[id] {
		case grey:
			return fmt.Errorf("config: plan %q: dependency cycle through step %q", p.Name, id)
		case black:
			return nil
		}
		colour[id] = grey
		for _, dep := range byID[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		colour[id] = black
		return nil
	}

	for i := range p.Steps {
		if err := visit(p.Steps[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// FindBackup returns the backup config with the given name, or nil.
func (c *Config) FindBackup(name string) *BackupConfig {
	for i := range c.Backups {
		if c.Backups[i].Name == name {
			return &c.Backups[i]
		}
	}
	return nil
}
