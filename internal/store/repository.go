/**
 * @description
 * This file defines the `Repository` and `QueueRepository` interfaces, the
 * contracts for all data access required by the refund-service. Interfaces
 * decouple the business logic from the PostgreSQL implementation and let tests
 * stub exactly the methods they exercise.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/refundly/refund-service/internal/domain"
)

// Repository defines the set of methods for interacting with refund data.
//
// Status transitions are compare-and-swap updates: the expected current status
// is part of the WHERE clause, so a concurrent transition makes the update
// match zero rows and the caller reports ErrInvalidTransition instead of
// clobbering newer state. Receipt mutations recompute the cached total from
// the receipt rows inside the same transaction.
type Repository interface {
	// Refund request methods
	CreateRefundRequest(ctx context.Context, req *domain.RefundRequest) error
	GetRefundRequest(ctx context.Context, id uuid.UUID) (*domain.RefundRequest, error)
	ListRefundRequestsByOwner(ctx context.Context, ownerID uuid.UUID, opts domain.RefundListOptions) ([]domain.RefundRequest, error)
	ListRefundRequests(ctx context.Context, opts domain.RefundListOptions) ([]domain.RefundRequest, error)

	// TransitionStatus moves a request from one status to another if and only
	// if it is still in the expected status. reason and finalAmount are
	// recorded when non-nil. Returns the updated request, or
	// domain.ErrInvalidTransition when the expected status no longer matches.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, reason *string, finalAmount *int64) (*domain.RefundRequest, error)

	// Receipt methods
	AddReceiptAndRecompute(ctx context.Context, receipt *domain.Receipt, from, to domain.Status) (*domain.RefundRequest, error)
	UpdateReceiptAmountAndRecompute(ctx context.Context, requestID, receiptID uuid.UUID, amount int64) (*domain.RefundRequest, error)
	DeleteReceiptsAndRecompute(ctx context.Context, requestID uuid.UUID, from, to domain.Status, reason *string) (*domain.RefundRequest, error)
	ListReceipts(ctx context.Context, requestID uuid.UUID) ([]domain.Receipt, error)
	SumReceiptAmounts(ctx context.Context, requestID uuid.UUID) (int64, error)

	// Notification methods. A notification with a nil UserID addresses the
	// staff group; includeStaff controls whether those rows are listed.
	CreateNotification(ctx context.Context, n *domain.Notification) error
	ListNotificationsForUser(ctx context.Context, userID uuid.UUID, includeStaff bool, opts domain.NotificationListOptions) ([]domain.Notification, error)
}

// Job is one delivery unit persisted in the durable queue.
type Job struct {
	ID        int64
	JobKey    uuid.UUID
	EventType string
	Payload   []byte
	Target    string
	Attempts  int
}

// QueueRepository is the at-least-once job store mediating between event
// production and realtime delivery.
type QueueRepository interface {
	// EnqueueJob persists a pending job. It is the only queue call on the
	// request path and must stay cheap (a single INSERT).
	EnqueueJob(ctx context.Context, job *Job) error

	// ClaimJobs atomically moves up to limit due jobs to processing,
	// incrementing their attempt counter. Jobs stuck in processing longer
	// than staleAfterSeconds are reclaimed.
	ClaimJobs(ctx context.Context, limit int, staleAfterSeconds int) ([]Job, error)

	MarkJobCompleted(ctx context.Context, id int64) error

	// MarkJobRetry returns the job to pending with a delayed next attempt.
	MarkJobRetry(ctx context.Context, id int64, retryAfterSeconds int, reason string) error

	// MarkJobFailed parks the job terminally after retries are exhausted.
	// Failed jobs are retained for inspection and never re-raised.
	MarkJobFailed(ctx context.Context, id int64, reason string) error

	// PruneCompletedJobs deletes completed jobs older than the retention
	// bound. Operational hygiene, not correctness.
	PruneCompletedJobs(ctx context.Context, olderThan time.Duration) (int64, error)
}
