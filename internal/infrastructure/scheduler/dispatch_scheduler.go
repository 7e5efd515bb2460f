package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Dispatch Job Types
// ---------------------------------------------------------------------------

// DispatchJobStatus represents the queue-level status of a dispatch job
type DispatchJobStatus string

const (
	DispatchJobStatusPending   DispatchJobStatus = "PENDING"
	DispatchJobStatusRunning   DispatchJobStatus = "RUNNING"
	DispatchJobStatusCompleted DispatchJobStatus = "COMPLETED"
	DispatchJobStatusDeferred  DispatchJobStatus = "DEFERRED"
	DispatchJobStatusFailed    DispatchJobStatus = "FAILED"
)

// DispatchJob carries one order through the dispatch queue. Attempt
// accounting lives on the order itself; the job only tracks queue state and
// the not-before time produced by the engine's backoff.
type DispatchJob struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	Status      DispatchJobStatus
	Error       string
	EnqueuedAt  time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	NotBefore   *time.Time
	Requeues    int
}

// NewDispatchJob creates a new dispatch job for an order
func NewDispatchJob(orderID uuid.UUID) *DispatchJob {
	return &DispatchJob{
		ID:         uuid.New(),
		OrderID:    orderID,
		Status:     DispatchJobStatusPending,
		EnqueuedAt: time.Now(),
	}
}

// Start marks the job as running
func (j *DispatchJob) Start() {
	now := time.Now()
	j.Status = DispatchJobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete marks the job as done with no further attempts needed
func (j *DispatchJob) Complete() {
	now := time.Now()
	j.Status = DispatchJobStatusCompleted
	j.CompletedAt = &now
}

// Defer re-queues the job to run no earlier than the given delay
func (j *DispatchJob) Defer(after time.Duration) {
	notBefore := time.Now().Add(after)
	j.Status = DispatchJobStatusDeferred
	j.NotBefore = &notBefore
	j.Requeues++
}

// Fail marks the job as failed at the queue level (executor error)
func (j *DispatchJob) Fail(err string) {
	now := time.Now()
	j.Status = DispatchJobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// Ready returns true when the job's not-before time has passed
func (j *DispatchJob) Ready() bool {
	return j.NotBefore == nil || !time.Now().Before(*j.NotBefore)
}

// ---------------------------------------------------------------------------
// DispatchExecutor Interface
// ---------------------------------------------------------------------------

// DispatchExecutor runs one dispatch attempt for an order. retry=true with a
// delay re-queues the job; err marks the job failed at the queue level.
type DispatchExecutor interface {
	Execute(ctx context.Context, orderID uuid.UUID) (retry bool, after time.Duration, err error)
}

// ---------------------------------------------------------------------------
// DispatchSchedulerConfig
// ---------------------------------------------------------------------------

// DispatchSchedulerConfig holds configuration for the dispatch scheduler
type DispatchSchedulerConfig struct {
	// Enabled indicates if the scheduler is enabled
	Enabled bool
	// Workers is the number of concurrent dispatch workers
	Workers int
	// QueueSize bounds the pending job queue
	QueueSize int
	// JobTimeout is the maximum time one dispatch attempt can run
	JobTimeout time.Duration
	// PollInterval is how long a worker sleeps before re-checking a
	// deferred job that is not ready yet
	PollInterval time.Duration
}

// DefaultDispatchSchedulerConfig returns default configuration
func DefaultDispatchSchedulerConfig() DispatchSchedulerConfig {
	return DispatchSchedulerConfig{
		Enabled:      true,
		Workers:      5,
		QueueSize:    1000,
		JobTimeout:   time.Minute,
		PollInterval: time.Second,
	}
}

// Validate validates the configuration
func (c *DispatchSchedulerConfig) Validate() error {
	if c.Workers <= 0 {
		return ErrInvalidConfig
	}
	if c.QueueSize <= 0 {
		return ErrInvalidConfig
	}
	if c.JobTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.PollInterval <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// DispatchScheduler
// ---------------------------------------------------------------------------

// DispatchScheduler runs dispatch attempts on a bounded worker pool. Per-order
// serialization is the engine's job; the scheduler only guarantees bounded
// concurrency, job timeouts and backoff re-queueing.
type DispatchScheduler struct {
	config   DispatchSchedulerConfig
	executor DispatchExecutor
	logger   *zap.Logger

	jobs      chan *DispatchJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// Job history for monitoring (in-memory, limited size)
	historyMu  sync.RWMutex
	history    []*DispatchJob
	maxHistory int
}

// NewDispatchScheduler creates a new dispatch scheduler
func NewDispatchScheduler(config DispatchSchedulerConfig, executor DispatchExecutor, logger *zap.Logger) (*DispatchScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &DispatchScheduler{
		config:     config,
		executor:   executor,
		logger:     logger,
		jobs:       make(chan *DispatchJob, config.QueueSize),
		history:    make([]*DispatchJob, 0, 100),
		maxHistory: 100,
	}, nil
}

// Start starts the worker pool
func (s *DispatchScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("dispatch scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop gracefully stops the scheduler
func (s *DispatchScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	close(s.jobs)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("dispatch scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("dispatch scheduler stop timed out")
		return ctx.Err()
	}
}

// Enqueue submits an order for dispatch
func (s *DispatchScheduler) Enqueue(orderID uuid.UUID) error {
	return s.submit(NewDispatchJob(orderID))
}

func (s *DispatchScheduler) submit(job *DispatchJob) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.mu.Unlock()

	select {
	case s.jobs <- job:
		s.logger.Debug("dispatch job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("order_id", job.OrderID.String()),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

// worker processes jobs from the queue
func (s *DispatchScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-s.jobs:
			if !ok {
				return
			}
			s.processJob(ctx, job, workerID)
		}
	}
}

// processJob executes a single dispatch attempt
func (s *DispatchScheduler) processJob(ctx context.Context, job *DispatchJob, workerID int) {
	if !job.Ready() {
		// Not due yet: wait out the poll interval, then put it back
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.config.PollInterval):
		}
		select {
		case s.jobs <- job:
		default:
			s.logger.Warn("failed to re-queue deferred dispatch job",
				zap.String("job_id", job.ID.String()))
		}
		return
	}

	job.Start()
	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	retry, after, err := s.executor.Execute(jobCtx, job.OrderID)
	if err != nil {
		job.Fail(err.Error())
		s.logger.Error("dispatch job failed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.String("order_id", job.OrderID.String()),
			zap.Error(err),
		)
		s.addToHistory(job)
		return
	}

	if retry {
		job.Defer(after)
		s.logger.Info("dispatch job deferred for retry",
			zap.Int("worker_id", workerID),
			zap.String("order_id", job.OrderID.String()),
			zap.Duration("after", after),
			zap.Int("requeues", job.Requeues),
		)
		select {
		case s.jobs <- job:
		default:
			s.logger.Warn("failed to re-queue dispatch job for retry",
				zap.String("job_id", job.ID.String()))
		}
		return
	}

	job.Complete()
	s.logger.Info("dispatch job completed",
		zap.Int("worker_id", workerID),
		zap.String("order_id", job.OrderID.String()),
	)
	s.addToHistory(job)
}

// addToHistory adds a finished job to history
func (s *DispatchScheduler) addToHistory(job *DispatchJob) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append([]*DispatchJob{job}, s.history...)
	if len(s.history) > s.maxHistory {
		s.history = s.history[:s.maxHistory]
	}
}

// GetJobHistory returns recent finished jobs
func (s *DispatchScheduler) GetJobHistory(limit int) []*DispatchJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]*DispatchJob, limit)
	copy(result, s.history[:limit])
	return result
}
