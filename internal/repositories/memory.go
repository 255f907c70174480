package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lifeboat-sh/lifeboat/internal/db"
)

// The Memory* types implement the repository interfaces over plain maps.
// They are exported so tests in other packages can use them as fixtures
// without a database.

// MemoryJobRepository is an in-memory JobRepository.
type MemoryJobRepository struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]db.BackupJob
	uploads map[uuid.UUID][]db.JobUpload
}

// NewMemoryJobRepository creates an empty MemoryJobRepository.
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{
		jobs:    make(map[uuid.UUID]db.BackupJob),
		uploads: make(map[uuid.UUID][]db.JobUpload),
	}
}

func (m *MemoryJobRepository) Create(_ context.Context, job *db.BackupJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		job.ID = id
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *MemoryJobRepository) GetByID(_ context.Context, id uuid.UUID) (*db.BackupJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

func (m *MemoryJobRepository) GetByIDWithUploads(ctx context.Context, id uuid.UUID) (*db.BackupJob, []db.JobUpload, error) {
	job, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	uploads, err := m.ListUploadsByJob(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return job, uploads, nil
}

func (m *MemoryJobRepository) Update(_ context.Context, job *db.BackupJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *MemoryJobRepository) UpdateStatus(_ context.Context, id uuid.UUID, status string, endedAt *time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Status = status
	job.EndedAt = endedAt
	job.Error = errMsg
	m.jobs[id] = job
	return nil
}

// sorted returns all jobs most recent first, matching the GORM
// implementation's UUIDv7 descending order.
func (m *MemoryJobRepository) sorted() []db.BackupJob {
	out := make([]db.BackupJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].ID.String(), out[j].ID.String()) > 0
	})
	return out
}

func paginate[T any](items []T, opts ListOptions) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func (m *MemoryJobRepository) List(_ context.Context, opts ListOptions) ([]db.BackupJob, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted()
	return paginate(all, opts), int64(len(all)), nil
}

func (m *MemoryJobRepository) ListByConfig(_ context.Context, configID string, opts ListOptions) ([]db.BackupJob, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []db.BackupJob
	for _, job := range m.sorted() {
		if job.ConfigID == configID {
			all = append(all, job)
		}
	}
	return paginate(all, opts), int64(len(all)), nil
}

func (m *MemoryJobRepository) ListRunning(_ context.Context) ([]db.BackupJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.BackupJob
	for _, job := range m.sorted() {
		if job.Status == db.JobStatusPending || job.Status == db.JobStatusRunning {
			out = append(out, job)
		}
	}
	return out, nil
}

func (m *MemoryJobRepository) DeleteOlderThanRank(_ context.Context, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted()
	for i := keep; i < len(all); i++ {
		delete(m.jobs, all[i].ID)
		delete(m.uploads, all[i].ID)
	}
	return nil
}

func (m *MemoryJobRepository) CreateUpload(_ context.Context, upload *db.JobUpload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if upload.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		upload.ID = id
	}
	m.uploads[upload.JobID] = append(m.uploads[upload.JobID], *upload)
	return nil
}

func (m *MemoryJobRepository) ListUploadsByJob(_ context.Context, jobID uuid.UUID) ([]db.JobUpload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.JobUpload(nil), m.uploads[jobID]...), nil
}

func (m *MemoryJobRepository) UploadTotals(_ context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	totals := make(map[string]int64)
	for _, uploads := range m.uploads {
		for _, up := range uploads {
			if up.Status == db.JobStatusCompleted {
				totals[up.DestinationName] += up.SizeBytes
			}
		}
	}
	return totals, nil
}

// Len reports the number of stored jobs.
func (m *MemoryJobRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// MemoryRestorePointRepository is an in-memory RestorePointRepository.
type MemoryRestorePointRepository struct {
	mu     sync.Mutex
	points map[uuid.UUID]db.RestorePoint
}

// NewMemoryRestorePointRepository creates an empty MemoryRestorePointRepository.
func NewMemoryRestorePointRepository() *MemoryRestorePointRepository {
	return &MemoryRestorePointRepository{points: make(map[uuid.UUID]db.RestorePoint)}
}

func (m *MemoryRestorePointRepository) Create(_ context.Context, point *db.RestorePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if point.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		point.ID = id
	}
	if point.Timestamp.IsZero() {
		point.Timestamp = time.Now()
	}
	m.points[point.ID] = *point
	return nil
}

func (m *MemoryRestorePointRepository) GetByID(_ context.Context, id uuid.UUID) (*db.RestorePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	point, ok := m.points[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &point, nil
}

func (m *MemoryRestorePointRepository) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, id)
	return nil
}

func (m *MemoryRestorePointRepository) sorted() []db.RestorePoint {
	out := make([]db.RestorePoint, 0, len(m.points))
	for _, p := range m.points {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].ID.String(), out[j].ID.String()) > 0
	})
	return out
}

func (m *MemoryRestorePointRepository) List(_ context.Context, opts ListOptions) ([]db.RestorePoint, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted()
	return paginate(all, opts), int64(len(all)), nil
}

func (m *MemoryRestorePointRepository) ListByConfig(_ context.Context, configID string, opts ListOptions) ([]db.RestorePoint, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []db.RestorePoint
	for _, p := range m.sorted() {
		if p.ConfigID == configID {
			all = append(all, p)
		}
	}
	return paginate(all, opts), int64(len(all)), nil
}

func (m *MemoryRestorePointRepository) MarkVerified(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	point, ok := m.points[id]
	if !ok {
		return ErrNotFound
	}
	point.Verified = true
	m.points[id] = point
	return nil
}

// MemorySettingsRepository is an in-memory SettingsRepository.
type MemorySettingsRepository struct {
	mu       sync.Mutex
	settings map[string]db.Setting
}

// NewMemorySettingsRepository creates an empty MemorySettingsRepository.
func NewMemorySettingsRepository() *MemorySettingsRepository {
	return &MemorySettingsRepository{settings: make(map[string]db.Setting)}
}

func (m *MemorySettingsRepository) Get(_ context.Context, key string) (*db.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemorySettingsRepository) Set(_ context.Context, key string, value db.EncryptedString) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = db.Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	return nil
}

func (m *MemorySettingsRepository) GetMany(_ context.Context, prefix string) ([]db.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Setting
	for key, s := range m.settings {
		if strings.HasPrefix(key, prefix) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemorySettingsRepository) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.settings, key)
	return nil
}
