/**
 * @description
 * This file defines the core domain models for the refund-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents), which
 *   avoids floating-point inaccuracies with financial data.
 * - `TotalAmount` is a cached aggregate: it must always equal the sum of the
 *   amounts of the request's receipts. The store recomputes it from the receipt
 *   rows inside the same transaction as any receipt mutation.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a refund request.
type Status string

const (
	StatusEstimated       Status = "ESTIMATED"
	StatusPendingReceipts Status = "PENDING_RECEIPTS"
	StatusVerifiedReady   Status = "VERIFIED_READY"
	StatusPaid            Status = "PAID"
	StatusDeclined        Status = "DECLINED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusDeclined
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusEstimated, StatusPendingReceipts, StatusVerifiedReady, StatusPaid, StatusDeclined:
		return true
	}
	return false
}

// Role identifies the privilege level of an actor.
type Role string

const (
	RoleMember Role = "member"
	RoleStaff  Role = "staff"
)

// Actor is the authenticated principal invoking an operation.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

// IsStaff reports whether the actor holds the elevated staff role.
func (a Actor) IsStaff() bool {
	return a.Role == RoleStaff
}

// RefundRequest is the unit of work tracked through the approval lifecycle.
// This struct maps directly to the `refund_requests` table.
type RefundRequest struct {
	ID             uuid.UUID  `json:"id"`
	OwnerID        uuid.UUID  `json:"owner_id"`
	Status         Status     `json:"status"`
	Title          string     `json:"title"`
	AmountEstimate int64      `json:"amount_estimate"` // in cents
	TotalAmount    int64      `json:"total_amount"`    // in cents, cached sum of receipt amounts
	FinalAmount    *int64     `json:"final_amount,omitempty"`
	DecisionReason *string    `json:"decision_reason,omitempty"`
	CertificateRef *string    `json:"certificate_ref,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Receipt is a proof-of-expense record attached to a refund request.
// A receipt cannot outlive its request; all receipts of a request are
// bulk-deleted when staff reject them.
type Receipt struct {
	ID              uuid.UUID `json:"id"`
	RefundRequestID uuid.UUID `json:"refund_request_id"`
	URL             string    `json:"url"`
	Amount          int64     `json:"amount"` // in cents, staff-assigned, defaults to 0
	CreatedAt       time.Time `json:"created_at"`
}

// Notification is a persisted in-app notification. A nil UserID addresses the
// staff group rather than a single user.
type Notification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Type      string     `json:"type"`
	RefundID  *uuid.UUID `json:"refund_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateEstimateRequest is the DTO for creating a new refund request.
type CreateEstimateRequest struct {
	Title          string  `json:"title"`
	AmountEstimate int64   `json:"amount_estimate"` // in cents
	CertificateRef *string `json:"certificate_ref,omitempty"`
}

// SubmitReceiptRequest is the DTO for attaching an uploaded receipt. The URL
// comes from the upload service; the core only stores it.
type SubmitReceiptRequest struct {
	URL string `json:"url"`
}

// ReasonRequest carries a staff-supplied reason for decline, receipt rejection
// or a request for more receipts.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// VerifyAndPayRequest optionally overrides the final amount; when nil the
// cached receipt total is paid.
type VerifyAndPayRequest struct {
	FinalAmount *int64 `json:"final_amount,omitempty"` // in cents
}

// UpdateReceiptAmountRequest is the DTO for a staff edit of one receipt amount.
type UpdateReceiptAmountRequest struct {
	Amount int64 `json:"amount"` // in cents
}

// RefundListOptions controls pagination for refund listings.
type RefundListOptions struct {
	Limit  int
	Offset int
	Status Status
}

// NotificationListOptions controls pagination for notification listings.
type NotificationListOptions struct {
	Limit  int
	Offset int
}
