package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Store is the persistent task queue.
type Store interface {
	ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]models.OutboxTask, error)
	ClaimTasks(ctx context.Context, ids []int64) ([]models.OutboxTask, error)
	CompleteTask(ctx context.Context, id int64) error
	RetryTask(ctx context.Context, id int64, lastErr string, next time.Time) error
	FailTask(ctx context.Context, id int64, lastErr string) error
	CountPendingTasks(ctx context.Context) (int64, error)
	DeleteFinishedTasks(ctx context.Context, cutoff time.Time) (int64, error)
}

// Handler performs one task type.
type Handler interface {
	Handle(ctx context.Context, task models.OutboxTask) error
}

type HandlerFunc func(ctx context.Context, task models.OutboxTask) error

func (f HandlerFunc) Handle(ctx context.Context, task models.OutboxTask) error {
	return f(ctx, task)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type Config struct {
	PollInterval  time.Duration
	BatchSize     int
	MaxAttempts   int
	RetryDelays   []time.Duration
	RatePerSecond float64
	Burst         int
	MaxConcurrent int
	// Retention is how long finished tasks are kept.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:  15 * time.Second,
		BatchSize:     50,
		MaxAttempts:   5,
		RetryDelays:   []time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute, time.Hour},
		RatePerSecond: 10,
		Burst:         20,
		MaxConcurrent: 4,
		Retention:     7 * 24 * time.Hour,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = def.RetryDelays
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = def.RatePerSecond
	}
	if c.Burst <= 0 {
		c.Burst = def.Burst
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
}

// Dispatcher runs side-effect tasks after the booking write has committed.
// Flush runs fresh tasks inline; the background loop picks up everything
// that is due, including retries.
type Dispatcher struct {
	store    Store
	config   Config
	handlers map[string]Handler
	limiter  *rate.Limiter
	metrics  *Metrics
	logger   *zerolog.Logger
	now      func() time.Time

	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
	lastCleanup time.Time
}

func NewDispatcher(store Store, cfg Config, metrics *Metrics, logger *zerolog.Logger) *Dispatcher {
	cfg.applyDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Dispatcher{
		store:    store,
		config:   cfg,
		handlers: make(map[string]Handler),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Register binds a handler to a task type. It must be called before Start.
func (d *Dispatcher) Register(taskType string, h Handler) {
	d.handlers[taskType] = h
}

// Flush runs the given tasks now and returns one warning per failed task.
// Failed tasks stay queued for the background loop.
func (d *Dispatcher) Flush(ctx context.Context, ids []int64) []domain.SyncWarning {
	if len(ids) == 0 {
		return nil
	}

	tasks, err := d.store.ClaimTasks(ctx, ids)
	if err != nil {
		d.logger.Error().Err(err).Ints64("task_ids", ids).Msg("Failed to claim tasks for flush")
		return []domain.SyncWarning{{Effect: "outbox", Message: "side effects queued for retry: " + err.Error()}}
	}

	results := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i := range tasks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.process(ctx, tasks[i])
		}(i)
	}
	wg.Wait()

	var warnings []domain.SyncWarning
	for i, err := range results {
		if err != nil {
			warnings = append(warnings, domain.SyncWarning{
				Effect:  tasks[i].TaskType,
				TaskID:  tasks[i].ID,
				Message: err.Error(),
			})
		}
	}
	return warnings
}

// Start begins the polling loop.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop()

	d.logger.Info().
		Dur("poll_interval", d.config.PollInterval).
		Int("max_attempts", d.config.MaxAttempts).
		Msg("Outbox dispatcher started")
}

// Stop waits for the in-flight batch to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()

	d.logger.Info().Msg("Outbox dispatcher stopped")
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-d.stopCh
		cancel()
	}()

	d.ProcessDue(ctx)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.ProcessDue(ctx)
		}
	}
}

// ProcessDue claims and runs one batch of due tasks. It returns the number
// of tasks that completed.
func (d *Dispatcher) ProcessDue(ctx context.Context) int {
	tasks, err := d.store.ClaimDueTasks(ctx, d.now(), d.config.BatchSize)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to claim due tasks")
		return 0
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	sem := make(chan struct{}, d.config.MaxConcurrent)

	for _, task := range tasks {
		wg.Add(1)
		sem <- struct{}{}

		go func(t models.OutboxTask) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := d.process(ctx, t); err == nil {
				mu.Lock()
				done++
				mu.Unlock()
			}
		}(task)
	}
	wg.Wait()

	if n, err := d.store.CountPendingTasks(ctx); err == nil {
		d.metrics.setQueueSize(n)
	}
	d.cleanup(ctx)

	if len(tasks) > 0 {
		d.logger.Debug().Int("claimed", len(tasks)).Int("done", done).Msg("Outbox batch processed")
	}
	return done
}

func (d *Dispatcher) cleanup(ctx context.Context) {
	now := d.now()
	if now.Sub(d.lastCleanup) < time.Hour {
		return
	}
	d.lastCleanup = now

	n, err := d.store.DeleteFinishedTasks(ctx, now.Add(-d.config.Retention))
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to clean up finished tasks")
		return
	}
	if n > 0 {
		d.metrics.incCleanedUp(n)
		d.logger.Info().Int64("count", n).Msg("Finished tasks cleaned up")
	}
}

// process runs a claimed task and records the outcome.
func (d *Dispatcher) process(ctx context.Context, task models.OutboxTask) error {
	log := d.logger.With().
		Int64("task_id", task.ID).
		Str("task_type", task.TaskType).
		Int64("booking_id", task.BookingID).
		Logger()

	err := d.run(ctx, task)

	// Bookkeeping must land even when the caller's deadline has passed.
	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err == nil {
		if cerr := d.store.CompleteTask(bookCtx, task.ID); cerr != nil {
			log.Error().Err(cerr).Msg("Failed to mark task done")
		}
		d.metrics.incProcessed(task.TaskType, "success")
		log.Debug().Msg("Task done")
		return nil
	}

	attempts := task.Attempts + 1
	if IsPermanent(err) || attempts >= d.config.MaxAttempts {
		if ferr := d.store.FailTask(bookCtx, task.ID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Msg("Failed to mark task failed")
		}
		d.metrics.incProcessed(task.TaskType, "failed")
		log.Error().Err(err).Int("attempts", attempts).Msg("Task failed permanently")
		return err
	}

	next := d.now().Add(d.retryDelay(attempts))
	if rerr := d.store.RetryTask(bookCtx, task.ID, err.Error(), next); rerr != nil {
		log.Error().Err(rerr).Msg("Failed to reschedule task")
	}
	d.metrics.incProcessed(task.TaskType, "retry")
	d.metrics.incRetries(task.TaskType)
	log.Warn().Err(err).Int("attempts", attempts).Time("next_attempt", next).Msg("Task failed, will retry")
	return err
}

func (d *Dispatcher) run(ctx context.Context, task models.OutboxTask) error {
	h, ok := d.handlers[task.TaskType]
	if !ok {
		return Permanent(fmt.Errorf("no handler for task type %q", task.TaskType))
	}

	if d.limiter.Tokens() < 1 {
		d.metrics.incRateLimitWaits()
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	err := h.Handle(ctx, task)
	d.metrics.observeDuration(task.TaskType, time.Since(start).Seconds())
	return err
}

func (d *Dispatcher) retryDelay(attempts int) time.Duration {
	idx := attempts - 1
	if idx >= len(d.config.RetryDelays) {
		idx = len(d.config.RetryDelays) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return d.config.RetryDelays[idx]
}
