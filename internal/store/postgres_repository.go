/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed for refund requests, receipts and
 * in-app notifications.
 *
 * The receipt-total invariant (`total_amount == SUM(receipts.amount)`) is kept
 * by recomputing the cached sum from the receipt rows inside the same
 * transaction as the receipt mutation, after taking a row lock on the parent
 * request. Concurrent receipt edits on the same request therefore serialize on
 * the row lock and can never write a stale sum.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/refundly/refund-service/internal/domain"
)

var (
	ErrReceiptNotFound = errors.New("receipt not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const refundColumns = `id, owner_id, status, title, amount_estimate, total_amount, final_amount, decision_reason, certificate_ref, created_at, updated_at`

func scanRefund(row pgx.Row) (*domain.RefundRequest, error) {
	var req domain.RefundRequest
	err := row.Scan(
		&req.ID,
		&req.OwnerID,
		&req.Status,
		&req.Title,
		&req.AmountEstimate,
		&req.TotalAmount,
		&req.FinalAmount,
		&req.DecisionReason,
		&req.CertificateRef,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// CreateRefundRequest inserts a new refund request row.
func (r *PostgresRepository) CreateRefundRequest(ctx context.Context, req *domain.RefundRequest) error {
	query := `
		INSERT INTO refund_requests (id, owner_id, status, title, amount_estimate, total_amount, certificate_ref)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		req.ID,
		req.OwnerID,
		req.Status,
		req.Title,
		req.AmountEstimate,
		req.CertificateRef,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
}

// GetRefundRequest retrieves one refund request by id.
func (r *PostgresRepository) GetRefundRequest(ctx context.Context, id uuid.UUID) (*domain.RefundRequest, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_requests WHERE id = $1`
	return scanRefund(r.db.QueryRow(ctx, query, id))
}

// ListRefundRequestsByOwner returns the owner's refund requests, newest first.
func (r *PostgresRepository) ListRefundRequestsByOwner(ctx context.Context, ownerID uuid.UUID, opts domain.RefundListOptions) ([]domain.RefundRequest, error) {
	clampListOptions(&opts)
	query := `SELECT ` + refundColumns + ` FROM refund_requests
		WHERE owner_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.db.Query(ctx, query, ownerID, string(opts.Status), opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRefunds(rows, opts.Limit)
}

// ListRefundRequests returns all refund requests, newest first (staff view).
func (r *PostgresRepository) ListRefundRequests(ctx context.Context, opts domain.RefundListOptions) ([]domain.RefundRequest, error) {
	clampListOptions(&opts)
	query := `SELECT ` + refundColumns + ` FROM refund_requests
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, string(opts.Status), opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRefunds(rows, opts.Limit)
}

func clampListOptions(opts *domain.RefundListOptions) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
}

func collectRefunds(rows pgx.Rows, capacity int) ([]domain.RefundRequest, error) {
	requests := make([]domain.RefundRequest, 0, capacity)
	for rows.Next() {
		req, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// TransitionStatus performs a compare-and-swap status update. The expected
// status is part of the WHERE clause: a request that moved concurrently makes
// the update match nothing and the caller gets ErrInvalidTransition.
func (r *PostgresRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, reason *string, finalAmount *int64) (*domain.RefundRequest, error) {
	query := `
		UPDATE refund_requests
		SET status = $3,
			decision_reason = COALESCE($4, decision_reason),
			final_amount = COALESCE($5, final_amount),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + refundColumns
	req, err := scanRefund(r.db.QueryRow(ctx, query, id, from, to, reason, finalAmount))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, r.classifyMissingUpdate(ctx, id)
		}
		return nil, err
	}
	return req, nil
}

// classifyMissingUpdate distinguishes "request gone" from "status changed
// under us" after a CAS update matched zero rows.
func (r *PostgresRepository) classifyMissingUpdate(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM refund_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidTransition
}

// AddReceiptAndRecompute appends a receipt, transitions the request status and
// recomputes the cached total, all in one transaction under a row lock.
func (r *PostgresRepository) AddReceiptAndRecompute(ctx context.Context, receipt *domain.Receipt, from, to domain.Status) (*domain.RefundRequest, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := lockRefundRow(ctx, tx, receipt.RefundRequestID); err != nil {
		return nil, err
	}

	insert := `
		INSERT INTO receipts (id, refund_request_id, url, amount)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	if err := tx.QueryRow(ctx, insert, receipt.ID, receipt.RefundRequestID, receipt.URL, receipt.Amount).Scan(&receipt.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert receipt: %w", err)
	}

	req, err := transitionAndRecomputeTx(ctx, tx, receipt.RefundRequestID, &from, &to)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return req, nil
}

// UpdateReceiptAmountAndRecompute sets one receipt amount and refreshes the
// cached total. The request status is left unchanged, but it is re-checked
// under the row lock: a request that reached a state where receipts are no
// longer in play (for example a concurrent pay committed first) rejects the
// edit instead of rewriting the total of a settled request.
func (r *PostgresRepository) UpdateReceiptAmountAndRecompute(ctx context.Context, requestID, receiptID uuid.UUID, amount int64) (*domain.RefundRequest, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	status, err := lockRefundRow(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if !receiptsEditable(status) {
		return nil, domain.ErrInvalidTransition
	}

	tag, err := tx.Exec(ctx, `UPDATE receipts SET amount = $3 WHERE id = $2 AND refund_request_id = $1`, requestID, receiptID, amount)
	if err != nil {
		return nil, fmt.Errorf("update receipt amount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrReceiptNotFound
	}

	req, err := transitionAndRecomputeTx(ctx, tx, requestID, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return req, nil
}

// DeleteReceiptsAndRecompute bulk-deletes every receipt of the request,
// resets the cached total to zero and applies the status transition. Deleting
// zero receipts is not an error.
func (r *PostgresRepository) DeleteReceiptsAndRecompute(ctx context.Context, requestID uuid.UUID, from, to domain.Status, reason *string) (*domain.RefundRequest, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := lockRefundRow(ctx, tx, requestID); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM receipts WHERE refund_request_id = $1`, requestID); err != nil {
		return nil, fmt.Errorf("delete receipts: %w", err)
	}

	query := `
		UPDATE refund_requests
		SET status = $3,
			total_amount = 0,
			decision_reason = COALESCE($4, decision_reason),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + refundColumns
	req, err := scanRefund(tx.QueryRow(ctx, query, requestID, from, to, reason))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidTransition
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return req, nil
}

// ListReceipts returns the receipts of a request, oldest first.
func (r *PostgresRepository) ListReceipts(ctx context.Context, requestID uuid.UUID) ([]domain.Receipt, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, refund_request_id, url, amount, created_at
		FROM receipts
		WHERE refund_request_id = $1
		ORDER BY created_at
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receipts := make([]domain.Receipt, 0)
	for rows.Next() {
		var receipt domain.Receipt
		if err := rows.Scan(&receipt.ID, &receipt.RefundRequestID, &receipt.URL, &receipt.Amount, &receipt.CreatedAt); err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, rows.Err()
}

// SumReceiptAmounts returns the live sum of receipt amounts for a request.
func (r *PostgresRepository) SumReceiptAmounts(ctx context.Context, requestID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM receipts WHERE refund_request_id = $1`, requestID).Scan(&sum)
	return sum, err
}

// CreateNotification persists an in-app notification. A nil UserID addresses
// the staff group.
func (r *PostgresRepository) CreateNotification(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, title, message, type, refund_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query, n.ID, n.UserID, n.Title, n.Message, n.Type, n.RefundID).Scan(&n.CreatedAt)
}

// ListNotificationsForUser returns the user's notifications, newest first.
// Staff callers additionally see the staff-group rows (NULL user_id).
func (r *PostgresRepository) ListNotificationsForUser(ctx context.Context, userID uuid.UUID, includeStaff bool, opts domain.NotificationListOptions) ([]domain.Notification, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, title, message, type, refund_id, created_at
		FROM notifications
		WHERE user_id = $1 OR ($2 AND user_id IS NULL)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, userID, includeStaff, opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]domain.Notification, 0, opts.Limit)
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.RefundID, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// lockRefundRow takes the row lock and returns the status observed under it,
// so callers can re-check state that an unlocked pre-read may have seen stale.
func lockRefundRow(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) (domain.Status, error) {
	var status domain.Status
	err := tx.QueryRow(ctx, `SELECT status FROM refund_requests WHERE id = $1 FOR UPDATE`, requestID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return status, nil
}

// receiptsEditable reports whether receipt rows of a request in the given
// status may still be mutated. Terminal and pre-approval states are frozen.
func receiptsEditable(status domain.Status) bool {
	return status == domain.StatusPendingReceipts || status == domain.StatusVerifiedReady
}

// transitionAndRecomputeTx refreshes total_amount from the receipt rows and
// optionally applies a CAS status change, returning the updated request.
func transitionAndRecomputeTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, from, to *domain.Status) (*domain.RefundRequest, error) {
	var req *domain.RefundRequest
	var err error
	if from != nil && to != nil {
		query := `
			UPDATE refund_requests
			SET status = $3,
				total_amount = (SELECT COALESCE(SUM(amount), 0) FROM receipts WHERE refund_request_id = $1),
				updated_at = NOW()
			WHERE id = $1 AND status = $2
			RETURNING ` + refundColumns
		req, err = scanRefund(tx.QueryRow(ctx, query, requestID, *from, *to))
		if err != nil && errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidTransition
		}
	} else {
		query := `
			UPDATE refund_requests
			SET total_amount = (SELECT COALESCE(SUM(amount), 0) FROM receipts WHERE refund_request_id = $1),
				updated_at = NOW()
			WHERE id = $1
			RETURNING ` + refundColumns
		req, err = scanRefund(tx.QueryRow(ctx, query, requestID))
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}
