package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/config"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/orders"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/pkg/metrics"
)

// Runner executes a claimed job. Process returns nil when the job is
// settled (including permanent failures recorded as terminal status) and
// an error only for transient faults worth retrying.
type Runner interface {
	Process(ctx context.Context, job *Job) error
	ForceFail(ctx context.Context, orderID uuid.UUID, reason string)
}

// Queue is a durable, rate-limited job queue backed by the jobs table.
// Jobs survive restarts; a worker claims a job via an optimistic state
// update so each job runs on exactly one worker at a time.
type Queue struct {
	db        *gorm.DB
	logger    *zap.Logger
	cfg       config.QueueConfig
	limiter   *TokenBucket
	processor Runner

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a queue over db with the given worker settings
func NewQueue(logger *zap.Logger, db *gorm.DB, cfg config.QueueConfig, processor Runner) *Queue {
	rate := float64(cfg.RatePerMinute) / 60.0
	return &Queue{
		db:        db,
		logger:    logger.Named("queue"),
		cfg:       cfg,
		limiter:   NewTokenBucket(cfg.RatePerMinute, rate),
		processor: processor,
		wake:      make(chan struct{}, 1),
	}
}

// Migrate creates the jobs table
func (q *Queue) Migrate() error {
	return q.db.AutoMigrate(&Job{})
}

// Enqueue schedules processing for a newly created order. Returns
// ErrJobExists when a job for the order is already present.
func (q *Queue) Enqueue(ctx context.Context, ord *orders.Order) error {
	now := time.Now()
	job := &Job{
		OrderID:     ord.ID,
		TokenIn:     ord.TokenIn,
		TokenOut:    ord.TokenOut,
		Amount:      ord.Amount,
		SlippageBps: ord.SlippageBps,
		MaxAttempts: q.cfg.MaxAttempts,
		State:       JobQueued,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.db.WithContext(ctx).Create(job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrJobExists
		}
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	q.notify()
	return nil
}

// Start recovers jobs orphaned by a previous crash and launches the
// worker pool
func (q *Queue) Start() error {
	res := q.db.Model(&Job{}).
		Where("state = ?", JobRunning).
		Updates(map[string]any{"state": JobQueued, "next_run_at": time.Now(), "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to requeue orphaned jobs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		q.logger.Info("requeued jobs orphaned by previous shutdown", zap.Int64("count", res.RowsAffected))
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.logger.Info("queue started",
		zap.Int("workers", q.cfg.Concurrency),
		zap.Int("rate_per_minute", q.cfg.RatePerMinute))
	return nil
}

// Stop signals workers to finish their current job and waits for them.
// Jobs already claimed run to completion; queued jobs remain in the
// table for the next start.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	q.logger.Info("queue stopped")
}

// notify wakes one idle worker without blocking
func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	log := q.logger.With(zap.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !q.hasDueJob(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			case <-time.After(q.cfg.PollInterval):
			}
			continue
		}

		if err := q.limiter.Wait(ctx); err != nil {
			return
		}

		job, err := q.claim(ctx)
		if err != nil {
			log.Error("failed to claim job", zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}
		q.run(ctx, log, job)
	}
}

// hasDueJob reports whether any queued job is runnable now
func (q *Queue) hasDueJob(ctx context.Context) bool {
	var count int64
	err := q.db.WithContext(ctx).Model(&Job{}).
		Where("state = ? AND next_run_at <= ?", JobQueued, time.Now()).
		Count(&count).Error
	if err != nil {
		return false
	}
	return count > 0
}

// claim picks the oldest due job and transitions it queued -> running.
// Returns nil when another worker won the race.
func (q *Queue) claim(ctx context.Context) (*Job, error) {
	var job Job
	err := q.db.WithContext(ctx).
		Where("state = ? AND next_run_at <= ?", JobQueued, time.Now()).
		Order("next_run_at ASC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to select job: %w", err)
	}

	res := q.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND state = ?", job.ID, JobQueued).
		Updates(map[string]any{
			"state":      JobRunning,
			"attempt":    gorm.Expr("attempt + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to claim job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	job.State = JobRunning
	job.Attempt++
	return &job, nil
}

// run executes one attempt and settles the job row. The claimed job
// always runs to completion: shutdown cancels the claim loop, not the
// attempt in flight.
func (q *Queue) run(ctx context.Context, log *zap.Logger, job *Job) {
	start := time.Now()
	err := q.processor.Process(context.Background(), job)
	if err == nil {
		metrics.JobAttempts.WithLabelValues("ok").Inc()
		metrics.OrderLatency.Observe(time.Since(start).Seconds())
		if derr := q.db.Delete(&Job{}, job.ID).Error; derr != nil {
			log.Error("failed to delete completed job", zap.Uint("job_id", job.ID), zap.Error(derr))
		}
		return
	}

	msg := err.Error()
	if job.Attempt < job.MaxAttempts {
		delay := q.backoff(job.Attempt)
		metrics.JobAttempts.WithLabelValues("transient").Inc()
		metrics.JobRetries.Inc()
		log.Info("job attempt failed, rescheduling",
			zap.String("order_id", job.OrderID.String()),
			zap.Int("attempt", job.Attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		uerr := q.db.Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]any{
			"state":       JobQueued,
			"next_run_at": time.Now().Add(delay),
			"last_error":  msg,
			"updated_at":  time.Now(),
		}).Error
		if uerr != nil {
			log.Error("failed to reschedule job", zap.Uint("job_id", job.ID), zap.Error(uerr))
		}
		return
	}

	metrics.JobAttempts.WithLabelValues("fatal").Inc()
	metrics.OrderLatency.Observe(time.Since(start).Seconds())
	log.Warn("job exhausted retry budget",
		zap.String("order_id", job.OrderID.String()),
		zap.Int("attempts", job.Attempt),
		zap.Error(err))
	uerr := q.db.Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]any{
		"state":      JobFailed,
		"last_error": msg,
		"updated_at": time.Now(),
	}).Error
	if uerr != nil {
		log.Error("failed to mark job failed", zap.Uint("job_id", job.ID), zap.Error(uerr))
	}
	q.processor.ForceFail(context.Background(), job.OrderID,
		fmt.Sprintf("failed after %d attempts: %s", job.Attempt, msg))
}

// backoff returns the delay before the next attempt: base doubled per
// completed attempt (base, 2*base, 4*base, ...)
func (q *Queue) backoff(attempt int) time.Duration {
	delay := q.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
