/**
 * @description
 * This file contains the core business logic for the refund-service. The
 * `Service` struct enforces the refund-request status state machine and keeps
 * the cached receipt total consistent, coordinating between the database
 * repository and the realtime event sink.
 *
 * Key features:
 * - The transition table is the single source of truth: any (status, operation,
 *   role) combination outside it fails with a typed error instead of silently
 *   no-opping.
 * - Business mutations commit before any event is published. Delivery failures
 *   never roll back or surface to the caller.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/refundly/refund-service/internal/domain"
	"github.com/refundly/refund-service/internal/store"
)

// Notification types used for persisted in-app notifications.
const (
	NotificationTypeApproved  = "refund_approved"
	NotificationTypeRejected  = "refund_rejected"
	NotificationTypePaid      = "refund_paid"
	NotificationTypeMoreInfo  = "refund_more_receipts"
	NotificationTypeSubmitted = "refund_submitted"
)

// Service provides the core business logic for refund requests.
type Service struct {
	repo store.Repository
	sink EventSink
}

// NewService creates a new refund service instance. The sink is an explicit
// dependency: there is no ambient global gateway handle.
func NewService(repo store.Repository, sink EventSink) *Service {
	return &Service{repo: repo, sink: sink}
}

// CreateEstimate opens a new refund request owned by the actor. Member-created
// requests start in ESTIMATED; staff-created ones skip straight to
// VERIFIED_READY. The cached receipt total always starts at zero.
func (s *Service) CreateEstimate(ctx context.Context, actor domain.Actor, req domain.CreateEstimateRequest) (*domain.RefundRequest, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, domain.ErrInvalidTransition
	}
	if req.AmountEstimate < 0 {
		return nil, domain.ErrInvalidTransition
	}

	status := domain.StatusEstimated
	if actor.IsStaff() {
		status = domain.StatusVerifiedReady
	}

	refund := &domain.RefundRequest{
		ID:             uuid.New(),
		OwnerID:        actor.UserID,
		Status:         status,
		Title:          title,
		AmountEstimate: req.AmountEstimate,
		CertificateRef: req.CertificateRef,
	}
	if err := s.repo.CreateRefundRequest(ctx, refund); err != nil {
		return nil, err
	}

	s.notifyStaffGroup(ctx, refund, NotificationTypeSubmitted, "New Refund Request",
		"A new refund request was submitted: "+refund.Title)
	s.publish(ctx, domain.EventRefundNew, domain.RefundNewPayload{
		ID:        refund.ID,
		UserID:    refund.OwnerID,
		Title:     refund.Title,
		Type:      "refund_request",
		AmountEst: refund.AmountEstimate,
		Status:    refund.Status,
		CreatedAt: refund.CreatedAt,
	}, domain.Target{Kind: domain.TargetStaff})

	return refund, nil
}

// Approve moves an ESTIMATED request to PENDING_RECEIPTS. Staff only.
func (s *Service) Approve(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.RefundRequest, error) {
	if !actor.IsStaff() {
		return nil, domain.ErrForbidden
	}
	refund, err := s.guardStatus(ctx, id, domain.StatusEstimated)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.TransitionStatus(ctx, refund.ID, domain.StatusEstimated, domain.StatusPendingReceipts, nil, nil)
	if err != nil {
		return nil, err
	}

	s.notifyOwner(ctx, updated, NotificationTypeApproved, "Request Approved",
		"Your refund request was approved. Upload your receipts to continue.")
	s.publishRefundUpdated(ctx, updated, false)
	return updated, nil
}

// Decline moves an ESTIMATED request to the terminal DECLINED state, recording
// the staff-supplied reason.
func (s *Service) Decline(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (*domain.RefundRequest, error) {
	if !actor.IsStaff() {
		return nil, domain.ErrForbidden
	}
	refund, err := s.guardStatus(ctx, id, domain.StatusEstimated)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(reason)
	updated, err := s.repo.TransitionStatus(ctx, refund.ID, domain.StatusEstimated, domain.StatusDeclined, &trimmed, nil)
	if err != nil {
		return nil, err
	}

	s.notifyOwner(ctx, updated, NotificationTypeRejected, "Request Declined",
		"Your refund request was declined: "+trimmed)
	s.publishRefundUpdated(ctx, updated, false)
	return updated, nil
}

// SubmitReceipt attaches an uploaded receipt to a PENDING_RECEIPTS request
// owned by the actor and moves it to VERIFIED_READY. The receipt amount
// defaults to zero until staff assign it; the cached total is recomputed in
// the same transaction.
func (s *Service) SubmitReceipt(ctx context.Context, actor domain.Actor, id uuid.UUID, req domain.SubmitReceiptRequest) (*domain.RefundRequest, *domain.Receipt, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return nil, nil, domain.ErrInvalidTransition
	}

	refund, err := s.repo.GetRefundRequest(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if refund.OwnerID != actor.UserID {
		return nil, nil, domain.ErrForbidden
	}
	if refund.Status != domain.StatusPendingReceipts {
		return nil, nil, domain.ErrInvalidTransition
	}

	receipt := &domain.Receipt{
		ID:              uuid.New(),
		RefundRequestID: refund.ID,
		URL:             url,
		Amount:          0,
	}
	updated, err := s.repo.AddReceiptAndRecompute(ctx, receipt, domain.StatusPendingReceipts, domain.StatusVerifiedReady)
	if err != nil {
		return nil, nil, err
	}

	s.notifyStaffGroup(ctx, updated, NotificationTypeSubmitted, "Receipt Uploaded",
		"A receipt was uploaded for: "+updated.Title)
	s.publish(ctx, domain.EventRefundReceipt, domain.RefundReceiptPayload{
		RefundID: updated.ID,
		UserID:   updated.OwnerID,
		Title:    updated.Title,
	}, domain.Target{Kind: domain.TargetStaff})

	return updated, receipt, nil
}

// RejectReceipts deletes every receipt of a VERIFIED_READY request, zeroes the
// cached total and returns the request to PENDING_RECEIPTS. Rejecting a
// request with zero receipts is valid and still transitions.
func (s *Service) RejectReceipts(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (*domain.RefundRequest, error) {
	if !actor.IsStaff() {
		return nil, domain.ErrForbidden
	}
	if _, err := s.guardStatus(ctx, id, domain.StatusVerifiedReady); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(reason)
	updated, err := s.repo.DeleteReceiptsAndRecompute(ctx, id, domain.StatusVerifiedReady, domain.StatusPendingReceipts, &trimmed)
	if err != nil {
		return nil, err
	}

	s.notifyOwner(ctx, updated, NotificationTypeRejected, "Receipts Rejected",
		"Your receipts were rejected: "+trimmed+". Please upload new ones.")
	s.publishRefundUpdated(ctx, updated, true)
	return updated, nil
}

// RequestMoreReceipts asks the owner for additional receipts. Valid from
// VERIFIED_READY and PENDING_RECEIPTS; either way the request ends in
// PENDING_RECEIPTS with the reason recorded.
func (s *Service) RequestMoreReceipts(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (*domain.RefundRequest, error) {
	if !actor.IsStaff() {
		return nil, domain.ErrForbidden
	}
	refund, err := s.guardStatus(ctx, id, domain.StatusVerifiedReady, domain.StatusPendingReceipts)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(reason)
	updated, err := s.repo.TransitionStatus(ctx, refund.ID, refund.Status, domain.StatusPendingReceipts, &trimmed, nil)
	if err != nil {
		return nil, err
	}

	s.notifyOwner(ctx, updated, NotificationTypeMoreInfo, "More Receipts Requested",
		"Staff requested additional receipts: "+trimmed)
	return updated, nil
}

// VerifyAndPay finalizes a VERIFIED_READY request as PAID. The final amount is
// the staff-supplied override or, absent one, the cached receipt total.
func (s *Service) VerifyAndPay(ctx context.Context, actor domain.Actor, id uuid.UUID, req domain.VerifyAndPayRequest) (*domain.RefundRequest, error) {
	if !actor.IsStaff() {
		return nil, domain.ErrForbidden
	}
	refund, err := s.guardStatus(ctx, id, domain.StatusVerifiedReady)
	if err != nil {
		return nil, err
	}

	finalAmount := refund.TotalAmount
	if req.FinalAmount != nil {
		if *req.FinalAmount < 0 {
			return nil, domain.ErrInvalidTransition
		}
		finalAmount = *req.FinalAmount
	}

	updated, err := s.repo.TransitionStatus(ctx, refund.ID, domain.StatusVerifiedReady, domain.StatusPaid, nil, &finalAmount)
	if err != nil {
		return nil, err
	}

	s.notifyOwner(ctx, updated, NotificationTypePaid, "Refund Paid",
		"Your refund request has been verified and paid.")
	s.publishRefundUpdated(ctx, updated, true)
	return updated, nil
}

// UpdateReceiptAmount sets the staff-assigned amount of one receipt and
// recomputes the cached total in the same transaction. The request status is
// unchanged; the operation is only valid while receipts are still in play.
func (s *Service) UpdateReceiptAmount(ctx context.Context, actor domain.Actor, id, receiptID uuid.UUID, amount int64) (*domain.RefundRequest, error) {
	if !actor.IsStaff() {
		return nil, domain.ErrForbidden
	}
	if amount < 0 {
		return nil, domain.ErrInvalidTransition
	}
	if _, err := s.guardStatus(ctx, id, domain.StatusPendingReceipts, domain.StatusVerifiedReady); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateReceiptAmountAndRecompute(ctx, id, receiptID, amount)
	if err != nil {
		return nil, err
	}

	s.publishRefundUpdated(ctx, updated, true)
	return updated, nil
}

// GetRefund returns one refund request. Members only see their own; staff see
// everything.
func (s *Service) GetRefund(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.RefundRequest, error) {
	refund, err := s.repo.GetRefundRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() && refund.OwnerID != actor.UserID {
		return nil, domain.ErrForbidden
	}
	return refund, nil
}

// ListRefunds returns the actor's refund requests, or every request when a
// staff actor asks for the full view.
func (s *Service) ListRefunds(ctx context.Context, actor domain.Actor, all bool, opts domain.RefundListOptions) ([]domain.RefundRequest, error) {
	if all {
		if !actor.IsStaff() {
			return nil, domain.ErrForbidden
		}
		return s.repo.ListRefundRequests(ctx, opts)
	}
	return s.repo.ListRefundRequestsByOwner(ctx, actor.UserID, opts)
}

// ListReceipts returns the receipts of a request the actor may see.
func (s *Service) ListReceipts(ctx context.Context, actor domain.Actor, id uuid.UUID) ([]domain.Receipt, error) {
	if _, err := s.GetRefund(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.ListReceipts(ctx, id)
}

// ListNotifications returns the actor's persisted notifications. Staff actors
// additionally see the staff-group ones.
func (s *Service) ListNotifications(ctx context.Context, actor domain.Actor, opts domain.NotificationListOptions) ([]domain.Notification, error) {
	return s.repo.ListNotificationsForUser(ctx, actor.UserID, actor.IsStaff(), opts)
}

// guardStatus loads the request and checks it is in one of the allowed states.
// Terminal or mismatched states fail with ErrInvalidTransition so callers can
// never silently re-run an operation on a finished request.
func (s *Service) guardStatus(ctx context.Context, id uuid.UUID, allowed ...domain.Status) (*domain.RefundRequest, error) {
	refund, err := s.repo.GetRefundRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, status := range allowed {
		if refund.Status == status {
			return refund, nil
		}
	}
	return nil, domain.ErrInvalidTransition
}

// notifyOwner persists an in-app notification for the request owner and
// publishes the matching notification:new event. Persistence failures degrade
// to delivery-only: the business mutation already committed.
func (s *Service) notifyOwner(ctx context.Context, refund *domain.RefundRequest, notifType, title, message string) {
	ownerID := refund.OwnerID
	refundID := refund.ID
	notification := &domain.Notification{
		ID:       uuid.New(),
		UserID:   &ownerID,
		Title:    title,
		Message:  message,
		Type:     notifType,
		RefundID: &refundID,
	}
	if err := s.repo.CreateNotification(ctx, notification); err != nil {
		log.Printf("level=warn component=status_engine msg=\"notification persist failed\" refund_id=%s err=%v", refund.ID, err)
	}

	s.publish(ctx, domain.EventNotificationNew, domain.NotificationNewPayload{
		ID:        notification.ID,
		Title:     notification.Title,
		Message:   notification.Message,
		Type:      notification.Type,
		RefundID:  notification.RefundID,
		CreatedAt: notification.CreatedAt,
	}, domain.Target{Kind: domain.TargetUser, UserID: ownerID})
}

// notifyStaffGroup persists a staff-group notification (nil UserID) and
// publishes the matching notification:new event to the staff room. Same
// degradation rule as notifyOwner.
func (s *Service) notifyStaffGroup(ctx context.Context, refund *domain.RefundRequest, notifType, title, message string) {
	refundID := refund.ID
	notification := &domain.Notification{
		ID:       uuid.New(),
		UserID:   nil,
		Title:    title,
		Message:  message,
		Type:     notifType,
		RefundID: &refundID,
	}
	if err := s.repo.CreateNotification(ctx, notification); err != nil {
		log.Printf("level=warn component=status_engine msg=\"staff notification persist failed\" refund_id=%s err=%v", refund.ID, err)
	}

	s.publish(ctx, domain.EventNotificationNew, domain.NotificationNewPayload{
		ID:        notification.ID,
		Title:     notification.Title,
		Message:   notification.Message,
		Type:      notification.Type,
		RefundID:  notification.RefundID,
		CreatedAt: notification.CreatedAt,
	}, domain.Target{Kind: domain.TargetStaff})
}

// publishRefundUpdated emits the refund:updated snapshot to the owner's room
// and the staff room. includeTotal controls whether the cached total rides
// along (it does whenever receipts were touched).
func (s *Service) publishRefundUpdated(ctx context.Context, refund *domain.RefundRequest, includeTotal bool) {
	payload := domain.RefundUpdatedPayload{
		RefundID: refund.ID,
		Status:   refund.Status,
	}
	if includeTotal {
		total := refund.TotalAmount
		payload.TotalAmount = &total
	}
	s.publish(ctx, domain.EventRefundUpdated, payload, domain.Target{Kind: domain.TargetUserAndStaff, UserID: refund.OwnerID})
}

// publish hands a validated event to the sink. The sink never blocks the
// business operation and its errors are logged, not returned: a status change
// is never rolled back because a notification failed to send.
func (s *Service) publish(ctx context.Context, eventType domain.EventType, payload interface{}, target domain.Target) {
	if s.sink == nil {
		return
	}
	event, err := domain.NewEvent(eventType, payload, target)
	if err != nil {
		log.Printf("level=error component=status_engine msg=\"event build failed\" type=%s err=%v", eventType, err)
		return
	}
	if err := s.sink.Publish(ctx, event); err != nil {
		log.Printf("level=warn component=status_engine msg=\"event publish failed\" type=%s target=%s err=%v", eventType, target.Descriptor(), err)
	}
}
