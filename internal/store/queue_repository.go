/**
 * @description
 * PostgreSQL implementation of the durable delivery queue. Jobs live in the
 * `delivery_jobs` table; the worker claims due jobs with FOR UPDATE SKIP
 * LOCKED so concurrent workers never double-claim, and stuck `processing` rows
 * are reclaimed after a stale bound. Retries are scheduled through
 * `next_attempt_at`; exhausted jobs are parked as `failed` and kept for
 * inspection while `completed` rows are pruned on a retention bound.
 */

package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresQueueRepository is the pgx-backed QueueRepository.
type PostgresQueueRepository struct {
	db *pgxpool.Pool
}

// NewPostgresQueueRepository creates a new PostgresQueueRepository.
func NewPostgresQueueRepository(db *pgxpool.Pool) *PostgresQueueRepository {
	return &PostgresQueueRepository{db: db}
}

// EnqueueJob persists a pending delivery job. Single INSERT; the request path
// never waits on delivery.
func (r *PostgresQueueRepository) EnqueueJob(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO delivery_jobs (job_key, event_type, payload, target)
		VALUES ($1, $2, $3::jsonb, $4)
		RETURNING id
	`
	return r.db.QueryRow(ctx, query, job.JobKey, job.EventType, string(job.Payload), job.Target).Scan(&job.ID)
}

// ClaimJobs atomically moves up to limit due jobs to processing and increments
// their attempt counters. Rows stuck in processing longer than
// staleAfterSeconds are reclaimed as well.
func (r *PostgresQueueRepository) ClaimJobs(ctx context.Context, limit int, staleAfterSeconds int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = 120
	}

	query := `
		WITH candidates AS (
			SELECT id
			FROM delivery_jobs
			WHERE (
				(status = 'pending' AND next_attempt_at <= NOW())
				OR (status = 'processing' AND processing_started_at < NOW() - ($2 * INTERVAL '1 second'))
			)
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE delivery_jobs AS j
		SET status = 'processing',
			processing_started_at = NOW(),
			attempts = j.attempts + 1
		FROM candidates
		WHERE j.id = candidates.id
		RETURNING j.id, j.job_key, j.event_type, j.payload::text, j.target, j.attempts
	`

	rows, err := r.db.Query(ctx, query, limit, staleAfterSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]Job, 0, limit)
	for rows.Next() {
		var (
			job         Job
			payloadText string
		)
		if err := rows.Scan(&job.ID, &job.JobKey, &job.EventType, &payloadText, &job.Target, &job.Attempts); err != nil {
			return nil, err
		}
		job.Payload = []byte(payloadText)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkJobCompleted finalizes a delivered job.
func (r *PostgresQueueRepository) MarkJobCompleted(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE delivery_jobs
		SET status = 'completed',
			completed_at = NOW(),
			processing_started_at = NULL,
			last_error = NULL
		WHERE id = $1
	`, id)
	return err
}

// MarkJobRetry returns the job to pending with a delayed next attempt.
func (r *PostgresQueueRepository) MarkJobRetry(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	if len(reason) > 2000 {
		reason = reason[:2000]
	}
	_, err := r.db.Exec(ctx, `
		UPDATE delivery_jobs
		SET status = 'pending',
			next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
			processing_started_at = NULL,
			last_error = $3
		WHERE id = $1
	`, id, retryAfterSeconds, reason)
	return err
}

// MarkJobFailed parks the job terminally. Failed jobs are retained longer than
// completed ones so operators can inspect what never got delivered.
func (r *PostgresQueueRepository) MarkJobFailed(ctx context.Context, id int64, reason string) error {
	if len(reason) > 2000 {
		reason = reason[:2000]
	}
	_, err := r.db.Exec(ctx, `
		UPDATE delivery_jobs
		SET status = 'failed',
			processing_started_at = NULL,
			last_error = $2
		WHERE id = $1
	`, id, reason)
	return err
}

// PruneCompletedJobs deletes completed jobs older than the retention bound.
func (r *PostgresQueueRepository) PruneCompletedJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	seconds := int(olderThan.Seconds())
	if seconds <= 0 {
		seconds = 3600
	}
	tag, err := r.db.Exec(ctx, `
		DELETE FROM delivery_jobs
		WHERE status = 'completed' AND completed_at < NOW() - ($1 * INTERVAL '1 second')
	`, seconds)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
