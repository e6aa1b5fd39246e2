package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DQYXACML/chaintrace/trace"
)

// TraceJob statuses. COMPLETED and FAILED are terminal.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// FlagCancelled is the failure flag recorded on cancelled jobs.
const FlagCancelled = "cancelled"

var ErrJobNotFound = errors.New("trace job not found")

type TraceJob struct {
	GUID         uuid.UUID     `gorm:"primaryKey" json:"guid"`
	Seed         string        `json:"seed"`
	Chain        string        `json:"chain"`
	MaxDepth     int           `json:"max_depth"`
	Status       string        `gorm:"default:PENDING;index" json:"status"`
	Requester    string        `json:"requester"`
	Attempts     int           `json:"attempts"`
	Cancelled    bool          `json:"cancelled"`
	Result       *trace.Result `gorm:"serializer:json" json:"result,omitempty"`
	FailureFlags []string      `gorm:"serializer:textarray" json:"failure_flags,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (TraceJob) TableName() string {
	return "trace_job"
}

func (j *TraceJob) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

type TraceJobView interface {
	// GetTraceJob returns ErrJobNotFound for unknown ids.
	GetTraceJob(ctx context.Context, guid uuid.UUID) (*TraceJob, error)
	ListTraceJobs(ctx context.Context, status string, limit int) ([]TraceJob, error)
}

// TraceJobModifier performs lifecycle transitions. Every conditional
// transition reports whether it applied, so callers can detect that another
// actor got there first.
type TraceJobModifier interface {
	CreateTraceJob(ctx context.Context, job *TraceJob) error
	// ClaimNextPending atomically moves the oldest PENDING job to PROCESSING.
	// It returns nil when there is nothing to claim.
	ClaimNextPending(ctx context.Context) (*TraceJob, error)
	// CompleteTraceJob applies only to PROCESSING jobs.
	CompleteTraceJob(ctx context.Context, guid uuid.UUID, result *trace.Result) (bool, error)
	// FailTraceJob applies only to PROCESSING jobs.
	FailTraceJob(ctx context.Context, guid uuid.UUID, flags []string) (bool, error)
	// RequeueTraceJob moves a PROCESSING job back to PENDING.
	RequeueTraceJob(ctx context.Context, guid uuid.UUID, flags []string) (bool, error)
	// CancelTraceJob fails a PENDING or PROCESSING job as cancelled.
	CancelTraceJob(ctx context.Context, guid uuid.UUID) (bool, error)
}

type TraceJobDB interface {
	TraceJobView
	TraceJobModifier
}

type traceJobDB struct {
	db *gorm.DB
}

func NewTraceJobDB(db *gorm.DB) TraceJobDB {
	return &traceJobDB{db: db}
}

func (t *traceJobDB) GetTraceJob(ctx context.Context, guid uuid.UUID) (*TraceJob, error) {
	var job TraceJob
	err := t.db.WithContext(ctx).Where("guid = ?", guid).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	} else if err != nil {
		return nil, err
	}
	return &job, nil
}

func (t *traceJobDB) ListTraceJobs(ctx context.Context, status string, limit int) ([]TraceJob, error) {
	var jobs []TraceJob
	query := t.db.WithContext(ctx).Model(&TraceJob{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Order("created_at DESC").Find(&jobs).Error
	return jobs, err
}

func (t *traceJobDB) CreateTraceJob(ctx context.Context, job *TraceJob) error {
	if job.GUID == uuid.Nil {
		job.GUID = uuid.New()
	}
	job.Status = StatusPending
	return t.db.WithContext(ctx).Create(job).Error
}

func (t *traceJobDB) ClaimNextPending(ctx context.Context) (*TraceJob, error) {
	var claimed *TraceJob
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job TraceJob
		result := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", StatusPending).
			Order("created_at ASC").
			Limit(1).
			Find(&job)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		now := time.Now()
		job.Status = StatusProcessing
		job.StartedAt = &now
		job.Attempts++
		err := tx.Model(&TraceJob{}).
			Where("guid = ?", job.GUID).
			Select("status", "started_at", "attempts").
			Updates(&TraceJob{Status: job.Status, StartedAt: job.StartedAt, Attempts: job.Attempts}).Error
		if err != nil {
			return err
		}
		claimed = &job
		return nil
	})
	return claimed, err
}

func (t *traceJobDB) CompleteTraceJob(ctx context.Context, guid uuid.UUID, result *trace.Result) (bool, error) {
	now := time.Now()
	return t.transition(ctx, guid, []string{StatusProcessing},
		&TraceJob{Status: StatusCompleted, Result: result, CompletedAt: &now},
		"status", "result", "completed_at")
}

func (t *traceJobDB) FailTraceJob(ctx context.Context, guid uuid.UUID, flags []string) (bool, error) {
	now := time.Now()
	return t.transition(ctx, guid, []string{StatusProcessing},
		&TraceJob{Status: StatusFailed, FailureFlags: flags, CompletedAt: &now},
		"status", "failure_flags", "completed_at")
}

func (t *traceJobDB) RequeueTraceJob(ctx context.Context, guid uuid.UUID, flags []string) (bool, error) {
	return t.transition(ctx, guid, []string{StatusProcessing},
		&TraceJob{Status: StatusPending, FailureFlags: flags},
		"status", "failure_flags", "started_at")
}

func (t *traceJobDB) CancelTraceJob(ctx context.Context, guid uuid.UUID) (bool, error) {
	now := time.Now()
	return t.transition(ctx, guid, []string{StatusPending, StatusProcessing},
		&TraceJob{Status: StatusFailed, Cancelled: true, FailureFlags: []string{FlagCancelled}, CompletedAt: &now},
		"status", "cancelled", "failure_flags", "completed_at")
}

// transition applies update to guid only while its status is one of from.
func (t *traceJobDB) transition(ctx context.Context, guid uuid.UUID, from []string, update *TraceJob, columns ...string) (bool, error) {
	result := t.db.WithContext(ctx).Model(&TraceJob{}).
		Where("guid = ? AND status IN ?", guid, from).
		Select(columns).
		Updates(update)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
