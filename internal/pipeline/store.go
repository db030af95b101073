package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/EmpoweredVote/hexpulse/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// StageRun is one stage execution. Stages of the same invocation share RunID.
type StageRun struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey;column:id"`
	RunID      uuid.UUID  `gorm:"type:uuid;not null;index;column:run_id"`
	Stage      string     `gorm:"not null;index:pipeline_runs_stage_started,priority:1;column:stage"`
	StartedAt  time.Time  `gorm:"type:timestamp;not null;index:pipeline_runs_stage_started,priority:2;column:started_at"`
	FinishedAt *time.Time `gorm:"type:timestamp;column:finished_at"`
	Status     string     `gorm:"not null;column:status"`
	Fetched    int64      `gorm:"not null;default:0;column:fetched"`
	Written    int64      `gorm:"not null;default:0;column:written"`
	Rejected   int64      `gorm:"not null;default:0;column:rejected"`
	Error      string     `gorm:"column:error"`
}

func (StageRun) TableName() string { return db.Table("pipeline_runs") }

func AutoMigrate(d *gorm.DB) error {
	if err := db.EnsureSchema(d, db.Schema); err != nil {
		return err
	}
	return d.AutoMigrate(&StageRun{})
}

type GormStore struct {
	db *gorm.DB
}

func NewStore(d *gorm.DB) *GormStore { return &GormStore{db: d} }

func (s *GormStore) Start(ctx context.Context, r *StageRun) error {
	return s.db.WithContext(ctx).Create(r).Error
}

// Finish saves the final state; a row that was never started is inserted.
func (s *GormStore) Finish(ctx context.Context, r *StageRun) error {
	return s.db.WithContext(ctx).Save(r).Error
}

// LastSuccess returns when stage last finished successfully.
func (s *GormStore) LastSuccess(ctx context.Context, stage string) (time.Time, bool, error) {
	var run StageRun
	err := s.db.WithContext(ctx).
		Where("stage = ? AND status = ?", stage, StatusSucceeded).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	if run.FinishedAt != nil {
		return *run.FinishedAt, true, nil
	}
	return run.StartedAt, true, nil
}

// Recent lists the latest stage runs, newest first.
func (s *GormStore) Recent(ctx context.Context, limit int) ([]StageRun, error) {
	var runs []StageRun
	err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}
