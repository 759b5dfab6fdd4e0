/**
 * @description
 * This file defines the HTTP handlers for the refund-service's API endpoints.
 * Handlers parse requests, call the appropriate service method, and translate
 * typed domain errors into HTTP status codes.
 *
 * @dependencies
 * - Standard Go libraries for HTTP, JSON, etc.
 * - Chi router for URL parameter handling.
 * - The service's internal packages for app logic and domain models.
 */
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/refundly/refund-service/internal/app"
	"github.com/refundly/refund-service/internal/domain"
)

// RefundHandler holds the dependencies for refund-related handlers.
type RefundHandler struct {
	service *app.Service
}

// NewRefundHandler creates a new RefundHandler.
func NewRefundHandler(service *app.Service) *RefundHandler {
	return &RefundHandler{service: service}
}

// CreateEstimate handles POST /refunds.
func (h *RefundHandler) CreateEstimate(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req domain.CreateEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	refund, err := h.service.CreateEstimate(r.Context(), actor, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, refund)
}

// ListRefunds handles GET /refunds. Staff can pass ?all=true for the full view.
func (h *RefundHandler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	all := r.URL.Query().Get("all") == "true"
	opts := domain.RefundListOptions{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
		Status: domain.Status(r.URL.Query().Get("status")),
	}

	refunds, err := h.service.ListRefunds(r.Context(), actor, all, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refunds)
}

// GetRefund handles GET /refunds/{id}.
func (h *RefundHandler) GetRefund(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	refund, err := h.service.GetRefund(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

// Approve handles POST /refunds/{id}/approve.
func (h *RefundHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	refund, err := h.service.Approve(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

// Decline handles POST /refunds/{id}/decline.
func (h *RefundHandler) Decline(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req domain.ReasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	refund, err := h.service.Decline(r.Context(), actor, id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

// SubmitReceipt handles POST /refunds/{id}/receipts.
func (h *RefundHandler) SubmitReceipt(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req domain.SubmitReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	refund, receipt, err := h.service.SubmitReceipt(r.Context(), actor, id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"refund":  refund,
		"receipt": receipt,
	})
}

// ListReceipts handles GET /refunds/{id}/receipts.
func (h *RefundHandler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	receipts, err := h.service.ListReceipts(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// UpdateReceiptAmount handles PATCH /refunds/{id}/receipts/{receiptId}.
func (h *RefundHandler) UpdateReceiptAmount(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	receiptID, err := uuid.Parse(chi.URLParam(r, "receiptId"))
	if err != nil {
		http.Error(w, "Invalid receipt id", http.StatusBadRequest)
		return
	}
	var req domain.UpdateReceiptAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	refund, err := h.service.UpdateReceiptAmount(r.Context(), actor, id, receiptID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

// RejectReceipts handles POST /refunds/{id}/receipts/reject.
func (h *RefundHandler) RejectReceipts(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req domain.ReasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	refund, err := h.service.RejectReceipts(r.Context(), actor, id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

// RequestMoreReceipts handles POST /refunds/{id}/receipts/request-more.
func (h *RefundHandler) RequestMoreReceipts(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req domain.ReasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	refund, err := h.service.RequestMoreReceipts(r.Context(), actor, id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

// VerifyAndPay handles POST /refunds/{id}/verify-and-pay.
func (h *RefundHandler) VerifyAndPay(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req domain.VerifyAndPayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	refund, err := h.service.VerifyAndPay(r.Context(), actor, id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

// ListNotifications handles GET /notifications.
func (h *RefundHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	opts := domain.NotificationListOptions{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
	notifications, err := h.service.ListNotifications(r.Context(), actor, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

// actorAndID extracts the authenticated actor and the {id} URL parameter,
// writing the error response itself when either is missing.
func (h *RefundHandler) actorAndID(w http.ResponseWriter, r *http.Request) (domain.Actor, uuid.UUID, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return domain.Actor{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid refund id", http.StatusBadRequest)
		return domain.Actor{}, uuid.Nil, false
	}
	return actor, id, true
}

func queryInt(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}

// writeError maps typed domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("level=error component=api msg=\"request failed\" err=%v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}
