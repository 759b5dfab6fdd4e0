/**
 * @description
 * The queue worker is the single consumer of the durable delivery queue. It
 * polls for due jobs, resolves each job's target descriptor into gateway room
 * addresses and emits the event envelope to every room, with bounded
 * concurrency across jobs.
 *
 * Failure handling follows the queue's retry policy: an emit error marks the
 * attempt failed and schedules a delayed retry; once the attempt budget is
 * exhausted the job is parked as failed and logged. Nothing is ever re-raised
 * to the operation that produced the event. Jobs for the same target can be
 * reordered by retries, so delivered events are snapshots, not ordered deltas.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/refundly/refund-service/internal/domain"
	"github.com/refundly/refund-service/internal/store"
)

const (
	defaultWorkerConcurrency   = 5
	defaultWorkerBatchSize     = 50
	defaultWorkerPollInterval  = 500 * time.Millisecond
	defaultWorkerMaxAttempts   = 3
	defaultStaleProcessingSecs = 120
	defaultCompletedRetention  = time.Hour
	defaultPruneSchedule       = "@every 1m"
	maxRetryDelaySeconds       = 300
)

// WorkerOptions tune the delivery worker. Zero values fall back to defaults.
type WorkerOptions struct {
	Concurrency            int
	BatchSize              int
	PollInterval           time.Duration
	MaxAttempts            int
	StaleProcessingSeconds int
	CompletedRetention     time.Duration
	PruneSchedule          string
}

// Worker drains the durable queue and delivers envelopes to the gateway.
type Worker struct {
	queue   store.QueueRepository
	emitter Emitter
	opts    WorkerOptions
}

// NewWorker creates a delivery worker. The emitter is an explicit dependency
// passed in at construction time, never a process-wide global.
func NewWorker(queue store.QueueRepository, emitter Emitter, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultWorkerConcurrency
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultWorkerBatchSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultWorkerPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultWorkerMaxAttempts
	}
	if opts.StaleProcessingSeconds <= 0 {
		opts.StaleProcessingSeconds = defaultStaleProcessingSecs
	}
	if opts.CompletedRetention <= 0 {
		opts.CompletedRetention = defaultCompletedRetention
	}
	if opts.PruneSchedule == "" {
		opts.PruneSchedule = defaultPruneSchedule
	}
	return &Worker{queue: queue, emitter: emitter, opts: opts}
}

// Run polls until the context ends. It is a long-lived background process,
// independent of request handling. Completed-job pruning runs on its own cron
// schedule so retention hygiene is decoupled from the poll cadence.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	scheduler := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default()))))
	if _, err := scheduler.AddFunc(w.opts.PruneSchedule, func() { w.pruneCompleted(ctx) }); err != nil {
		log.Printf("level=error component=queue_worker msg=\"prune schedule rejected\" schedule=%q err=%v", w.opts.PruneSchedule, err)
	} else {
		scheduler.Start()
		defer scheduler.Stop()
	}

	sem := make(chan struct{}, w.opts.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.drainOnce(ctx, sem); err != nil {
				log.Printf("level=error component=queue_worker msg=\"claim failed\" err=%v", err)
			}
		}
	}
}

// pruneCompleted drops completed jobs past the retention bound.
func (w *Worker) pruneCompleted(ctx context.Context) {
	if pruned, err := w.queue.PruneCompletedJobs(ctx, w.opts.CompletedRetention); err != nil {
		log.Printf("level=warn component=queue_worker msg=\"prune failed\" err=%v", err)
	} else if pruned > 0 {
		log.Printf("level=info component=queue_worker msg=\"pruned completed jobs\" count=%d", pruned)
	}
}

func (w *Worker) drainOnce(ctx context.Context, sem chan struct{}) error {
	jobs, err := w.queue.ClaimJobs(ctx, w.opts.BatchSize, w.opts.StaleProcessingSeconds)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		job := job
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		go func() {
			defer func() { <-sem }()
			w.processJob(ctx, job)
		}()
	}
	return nil
}

// processJob delivers one claimed job and settles its queue state.
func (w *Worker) processJob(ctx context.Context, job store.Job) {
	if err := w.deliver(job); err != nil {
		if job.Attempts >= w.opts.MaxAttempts {
			// Terminal: DeliveryFailed is logged, parked, and silent to the
			// business operation that produced the event.
			log.Printf("level=error component=queue_worker msg=\"delivery failed; job parked\" job_key=%s type=%s target=%s attempts=%d err=%v",
				job.JobKey, job.EventType, job.Target, job.Attempts, err)
			if markErr := w.queue.MarkJobFailed(ctx, job.ID, err.Error()); markErr != nil {
				log.Printf("level=error component=queue_worker msg=\"park failed\" job_key=%s err=%v", job.JobKey, markErr)
			}
			return
		}
		delay := retryDelaySeconds(job.Attempts)
		log.Printf("level=warn component=queue_worker msg=\"delivery attempt failed; retrying\" job_key=%s attempts=%d retry_in_s=%d err=%v",
			job.JobKey, job.Attempts, delay, err)
		if markErr := w.queue.MarkJobRetry(ctx, job.ID, delay, err.Error()); markErr != nil {
			log.Printf("level=error component=queue_worker msg=\"retry mark failed\" job_key=%s err=%v", job.JobKey, markErr)
		}
		return
	}

	if err := w.queue.MarkJobCompleted(ctx, job.ID); err != nil {
		log.Printf("level=warn component=queue_worker msg=\"complete mark failed\" job_key=%s err=%v", job.JobKey, err)
	}
}

// deliver resolves the target descriptor to rooms and emits to each.
func (w *Worker) deliver(job store.Job) error {
	target, err := domain.ParseTarget(job.Target)
	if err != nil {
		return err
	}
	for _, room := range target.Rooms() {
		if err := w.emitter.Emit(room, job.EventType, job.Payload); err != nil {
			return err
		}
	}
	return nil
}

// retryDelaySeconds backs off exponentially from one second: 1s after the
// first failed attempt, 2s after the second, capped for safety.
func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	shift := attempt - 1
	if shift > 8 {
		shift = 8
	}
	delay := 1 << shift
	if delay > maxRetryDelaySeconds {
		return maxRetryDelaySeconds
	}
	return delay
}
