/**
 * @description
 * This file defines the typed domain events produced by refund workflow
 * transitions and delivered to clients over the realtime gateway. Event kinds
 * form a closed tagged union validated at the publish boundary, so the queue
 * worker and the gateway can match on them exhaustively instead of trusting ad
 * hoc strings.
 */

package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType is the wire discriminator of a domain event envelope.
type EventType string

const (
	EventNotificationNew EventType = "notification:new"
	EventRefundNew       EventType = "refund:new"
	EventRefundUpdated   EventType = "refund:updated"
	EventRefundReceipt   EventType = "refund:receipt"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventNotificationNew, EventRefundNew, EventRefundUpdated, EventRefundReceipt:
		return true
	}
	return false
}

// Room addresses understood by the realtime gateway.
const (
	RoomStaff     = "staff"
	RoomBroadcast = "*"
)

// UserRoom returns the private room address for a user.
func UserRoom(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// TargetKind discriminates the delivery target of an event.
type TargetKind string

const (
	TargetUser         TargetKind = "user"
	TargetStaff        TargetKind = "staff"
	TargetBroadcast    TargetKind = "broadcast"
	TargetUserAndStaff TargetKind = "user+staff"
)

// Target describes who an event is delivered to. UserID is required for the
// user and user+staff kinds.
type Target struct {
	Kind   TargetKind
	UserID uuid.UUID
}

// Rooms resolves the target into concrete gateway room addresses.
func (t Target) Rooms() []string {
	switch t.Kind {
	case TargetUser:
		return []string{UserRoom(t.UserID)}
	case TargetStaff:
		return []string{RoomStaff}
	case TargetBroadcast:
		return []string{RoomBroadcast}
	case TargetUserAndStaff:
		return []string{UserRoom(t.UserID), RoomStaff}
	}
	return nil
}

// Descriptor renders the target as the compact string stored on queue jobs.
func (t Target) Descriptor() string {
	switch t.Kind {
	case TargetUser:
		return "user:" + t.UserID.String()
	case TargetStaff:
		return "staff"
	case TargetBroadcast:
		return "broadcast"
	case TargetUserAndStaff:
		return "user+staff:" + t.UserID.String()
	}
	return ""
}

// ParseTarget is the inverse of Descriptor.
func ParseTarget(descriptor string) (Target, error) {
	descriptor = strings.TrimSpace(descriptor)
	switch {
	case descriptor == "staff":
		return Target{Kind: TargetStaff}, nil
	case descriptor == "broadcast":
		return Target{Kind: TargetBroadcast}, nil
	case strings.HasPrefix(descriptor, "user+staff:"):
		id, err := uuid.Parse(strings.TrimPrefix(descriptor, "user+staff:"))
		if err != nil {
			return Target{}, fmt.Errorf("invalid user+staff target %q: %w", descriptor, err)
		}
		return Target{Kind: TargetUserAndStaff, UserID: id}, nil
	case strings.HasPrefix(descriptor, "user:"):
		id, err := uuid.Parse(strings.TrimPrefix(descriptor, "user:"))
		if err != nil {
			return Target{}, fmt.Errorf("invalid user target %q: %w", descriptor, err)
		}
		return Target{Kind: TargetUser, UserID: id}, nil
	}
	return Target{}, fmt.Errorf("unknown target descriptor %q", descriptor)
}

// Payload structs serialize with camelCase field names; clients parse the
// envelope as-is, so the tags here are the wire contract.

// NotificationNewPayload is the envelope payload for notification:new.
type NotificationNewPayload struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Type      string     `json:"type"`
	RefundID  *uuid.UUID `json:"refundId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// RefundNewPayload is the envelope payload for refund:new.
type RefundNewPayload struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	AmountEst int64     `json:"amountEst"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// RefundUpdatedPayload is the envelope payload for refund:updated. It carries
// a snapshot, never a delta: clients that need current truth re-fetch it.
type RefundUpdatedPayload struct {
	RefundID    uuid.UUID `json:"refundId"`
	Status      Status    `json:"status"`
	TotalAmount *int64    `json:"totalAmount,omitempty"`
}

// RefundReceiptPayload is the envelope payload for refund:receipt.
type RefundReceiptPayload struct {
	RefundID uuid.UUID `json:"refundId"`
	UserID   uuid.UUID `json:"userId"`
	Title    string    `json:"title"`
}

// Event is a typed fact about a state transition, destined for realtime
// delivery. It is transient: produced by the publisher, consumed by the
// delivery pipeline, and not retained after acknowledgment.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Target  Target          `json:"-"`
}

// NewEvent marshals payload and builds a validated event.
func NewEvent(eventType EventType, payload interface{}, target Target) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	event := Event{Type: eventType, Payload: body, Target: target}
	if err := event.Validate(); err != nil {
		return Event{}, err
	}
	return event, nil
}

// Validate enforces the closed union at the publish boundary.
func (e Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has empty payload", e.Type)
	}
	switch e.Target.Kind {
	case TargetStaff, TargetBroadcast:
		return nil
	case TargetUser, TargetUserAndStaff:
		if e.Target.UserID == uuid.Nil {
			return fmt.Errorf("event %s has %s target without user id", e.Type, e.Target.Kind)
		}
		return nil
	}
	return fmt.Errorf("event %s has unknown target kind %q", e.Type, e.Target.Kind)
}
