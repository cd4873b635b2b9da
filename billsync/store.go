package billsync

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/itembills_sync/config"
	"github.com/mmdatafocus/itembills_sync/models"
	"gorm.io/gorm"
)

var ErrRunNotFound = errors.New("bill sync run not found")

// RunResult is what a finished run writes back to its history row.
type RunResult struct {
	Status       string
	StatsJSON    []byte
	RecordsTotal int
	ErrorCount   int
	ErrorMessage string
	ReportURL    string
	FinishedAt   time.Time
	DurationMs   int64
}

// RunStore persists run history.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.BillSyncRun) error
	GetRun(ctx context.Context, id uint) (*models.BillSyncRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.BillSyncRun, error)
	MarkRunning(ctx context.Context, id uint, startedAt time.Time) error
	FinishRun(ctx context.Context, id uint, result RunResult) error
	SaveEntries(ctx context.Context, entries []models.BillSyncEntry) error
	ListEntries(ctx context.Context, runId uint) ([]models.BillSyncEntry, error)
}

// GormRunStore keeps run history in MySQL. A nil DB means the global connection,
// which lets the service build its routes before the database is reachable.
type GormRunStore struct {
	DB *gorm.DB
}

func NewGormRunStore(db *gorm.DB) *GormRunStore {
	return &GormRunStore{DB: db}
}

func (s *GormRunStore) db(ctx context.Context) *gorm.DB {
	if s.DB != nil {
		return s.DB.WithContext(ctx)
	}
	return config.GetDB().WithContext(ctx)
}

func (s *GormRunStore) CreateRun(ctx context.Context, run *models.BillSyncRun) error {
	return s.db(ctx).Create(run).Error
}

func (s *GormRunStore) GetRun(ctx context.Context, id uint) (*models.BillSyncRun, error) {
	var run models.BillSyncRun
	if err := s.db(ctx).Where("id = ?", id).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

func (s *GormRunStore) ListRuns(ctx context.Context, limit int) ([]models.BillSyncRun, error) {
	var runs []models.BillSyncRun
	err := s.db(ctx).Order("id desc").Limit(limit).Find(&runs).Error
	return runs, err
}

func (s *GormRunStore) MarkRunning(ctx context.Context, id uint, startedAt time.Time) error {
	return s.db(ctx).Model(&models.BillSyncRun{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error
}

func (s *GormRunStore) FinishRun(ctx context.Context, id uint, result RunResult) error {
	return s.db(ctx).Model(&models.BillSyncRun{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        result.Status,
		"stats_json":    result.StatsJSON,
		"records_total": result.RecordsTotal,
		"error_count":   result.ErrorCount,
		"error_message": result.ErrorMessage,
		"report_url":    result.ReportURL,
		"finished_at":   result.FinishedAt,
		"duration_ms":   result.DurationMs,
	}).Error
}

func (s *GormRunStore) SaveEntries(ctx context.Context, entries []models.BillSyncEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db(ctx).CreateInBatches(&entries, 200).Error
}

func (s *GormRunStore) ListEntries(ctx context.Context, runId uint) ([]models.BillSyncEntry, error) {
	var entries []models.BillSyncEntry
	err := s.db(ctx).Where("sync_run_id = ?", runId).Order("id asc").Find(&entries).Error
	return entries, err
}

func isTerminal(status string) bool {
	return status == models.SyncRunStatusSuccess || status == models.SyncRunStatusFailed || status == models.SyncRunStatusPartial
}
