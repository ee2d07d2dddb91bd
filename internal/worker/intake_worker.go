package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/intake-service/internal/observability"
	"github.com/spec-kit/intake-service/internal/queue"
	"github.com/spec-kit/intake-service/internal/service"
)

// IntakeWorker drains one lane, one job at a time, so jobs of an address are
// applied in arrival order.
type IntakeWorker struct {
	consumer Consumer
	handler  JobHandler
	metrics  *observability.Metrics
	logger   *zap.Logger
	idle     time.Duration

	reclaimer *Reclaimer

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewIntakeWorker creates a lane worker.
func NewIntakeWorker(consumer Consumer, handler JobHandler, metrics *observability.Metrics, logger *zap.Logger) *IntakeWorker {
	return &IntakeWorker{
		consumer:  consumer,
		handler:   handler,
		metrics:   metrics,
		logger:    logger.Named("intake_worker"),
		idle:      time.Second,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// WithReclaimer makes the worker recover stale entries of its lane between
// reads, in the same goroutine that processes new jobs.
func (w *IntakeWorker) WithReclaimer(r *Reclaimer) *IntakeWorker {
	w.reclaimer = r
	return w
}

// Run reads and processes jobs until ctx is cancelled or Stop is called.
func (w *IntakeWorker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)
	w.logger.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			w.logger.Info("worker stopping")
			return nil
		default:
		}

		if err := w.processOneBatch(ctx); err != nil {
			w.logger.Error("batch processing error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-w.stopCh:
			case <-time.After(w.idle):
			}
		}
	}
}

// Stop signals the loop to exit and waits for the in-flight job.
func (w *IntakeWorker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *IntakeWorker) processOneBatch(ctx context.Context) error {
	if w.reclaimer != nil {
		if _, err := w.reclaimer.ReclaimIfDue(ctx); err != nil {
			w.logger.Error("reclaim cycle error", zap.Error(err))
		}
	}

	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}
	for _, msg := range messages {
		if err := w.Process(ctx, msg); err != nil {
			w.logger.Error("job settlement failed", zap.String("entry_id", msg.ID), zap.Error(err))
		}
	}
	return nil
}

// Process handles one message and settles it: ack on success, retry or
// dead-letter on failure. It returns only settlement errors; the entry then
// stays pending for the reclaimer.
func (w *IntakeWorker) Process(ctx context.Context, msg queue.Message) error {
	start := time.Now()
	logger := w.logger.With(
		zap.String("entry_id", msg.ID),
		zap.Int64("job_id", msg.Job.ID),
		zap.String("token", msg.Job.Token),
		zap.Int("attempt", msg.Attempt))

	result, err := w.handleSafe(ctx, msg)
	if err != nil {
		logger.Warn("job failed", zap.Error(err))
		deadLettered, failErr := w.consumer.Fail(ctx, msg, err)
		if failErr != nil {
			return fmt.Errorf("settle failed job: %w", failErr)
		}
		outcome := "retried"
		if deadLettered {
			outcome = "dead_lettered"
		}
		w.metrics.RecordJob(outcome, time.Since(start))
		return nil
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		return err
	}
	outcome := "processed"
	if result.Duplicate {
		outcome = "skipped"
		logger.Debug("duplicate job skipped")
	}
	w.metrics.RecordJob(outcome, time.Since(start))
	logger.Info("job processed",
		zap.String("identity_id", result.IdentityID),
		zap.String("ticket_id", result.TicketID),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (w *IntakeWorker) handleSafe(ctx context.Context, msg queue.Message) (result service.IntakeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic recovered in job processing",
				zap.Any("panic", r),
				zap.String("entry_id", msg.ID))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.handler.Handle(ctx, msg.Job)
}
