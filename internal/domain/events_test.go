package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTargetDescriptorRoundTrip(t *testing.T) {
	userID := uuid.New()
	targets := []Target{
		{Kind: TargetUser, UserID: userID},
		{Kind: TargetStaff},
		{Kind: TargetBroadcast},
		{Kind: TargetUserAndStaff, UserID: userID},
	}

	for _, target := range targets {
		parsed, err := ParseTarget(target.Descriptor())
		if err != nil {
			t.Fatalf("ParseTarget(%q) returned error: %v", target.Descriptor(), err)
		}
		if parsed != target {
			t.Fatalf("round trip mismatch: %+v != %+v", parsed, target)
		}
	}
}

func TestParseTarget_RejectsUnknownDescriptors(t *testing.T) {
	for _, descriptor := range []string{"", "room:staff", "user:not-a-uuid", "user+staff:nope", "everyone"} {
		if _, err := ParseTarget(descriptor); err == nil {
			t.Fatalf("expected error for descriptor %q", descriptor)
		}
	}
}

func TestTargetRooms(t *testing.T) {
	userID := uuid.New()

	rooms := Target{Kind: TargetUserAndStaff, UserID: userID}.Rooms()
	if len(rooms) != 2 || rooms[0] != UserRoom(userID) || rooms[1] != RoomStaff {
		t.Fatalf("unexpected user+staff rooms: %v", rooms)
	}

	rooms = Target{Kind: TargetBroadcast}.Rooms()
	if len(rooms) != 1 || rooms[0] != RoomBroadcast {
		t.Fatalf("unexpected broadcast rooms: %v", rooms)
	}
}

func TestNewEvent_ValidatesClosedUnion(t *testing.T) {
	userID := uuid.New()

	if _, err := NewEvent(EventRefundUpdated, RefundUpdatedPayload{RefundID: uuid.New(), Status: StatusPaid}, Target{Kind: TargetUserAndStaff, UserID: userID}); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}

	if _, err := NewEvent("refund:exploded", map[string]string{}, Target{Kind: TargetStaff}); err == nil {
		t.Fatal("expected rejection of unknown event type")
	}

	if _, err := NewEvent(EventNotificationNew, NotificationNewPayload{}, Target{Kind: TargetUser}); err == nil {
		t.Fatal("expected rejection of user target without user id")
	}

	if _, err := NewEvent(EventRefundNew, RefundNewPayload{}, Target{Kind: "group"}); err == nil {
		t.Fatal("expected rejection of unknown target kind")
	}
}

func TestPayloads_SerializeCamelCaseFieldNames(t *testing.T) {
	refundID := uuid.New()
	userID := uuid.New()
	total := int64(4550)

	cases := []struct {
		name    string
		payload interface{}
		want    []string
	}{
		{
			name:    "notification:new",
			payload: NotificationNewPayload{ID: uuid.New(), Title: "t", Message: "m", Type: "x", RefundID: &refundID, CreatedAt: time.Now()},
			want:    []string{`"refundId"`, `"createdAt"`},
		},
		{
			name:    "refund:new",
			payload: RefundNewPayload{ID: refundID, UserID: userID, Title: "t", Type: "x", AmountEst: 120, Status: StatusEstimated, CreatedAt: time.Now()},
			want:    []string{`"userId"`, `"amountEst"`, `"createdAt"`},
		},
		{
			name:    "refund:updated",
			payload: RefundUpdatedPayload{RefundID: refundID, Status: StatusPaid, TotalAmount: &total},
			want:    []string{`"refundId"`, `"totalAmount"`},
		},
		{
			name:    "refund:receipt",
			payload: RefundReceiptPayload{RefundID: refundID, UserID: userID, Title: "t"},
			want:    []string{`"refundId"`, `"userId"`},
		},
	}

	for _, tc := range cases {
		body, err := json.Marshal(tc.payload)
		if err != nil {
			t.Fatalf("marshal %s: %v", tc.name, err)
		}
		for _, field := range tc.want {
			if !strings.Contains(string(body), field) {
				t.Fatalf("%s payload missing field %s: %s", tc.name, field, body)
			}
		}
		if strings.Contains(string(body), "_") {
			t.Fatalf("%s payload carries a snake_case field: %s", tc.name, body)
		}
	}
}

func TestEventValidate_RequiresPayload(t *testing.T) {
	event := Event{Type: EventRefundNew, Target: Target{Kind: TargetStaff}}
	if err := event.Validate(); err == nil {
		t.Fatal("expected empty payload to be rejected")
	}
}

func TestStatusTerminal(t *testing.T) {
	for status, terminal := range map[Status]bool{
		StatusEstimated:       false,
		StatusPendingReceipts: false,
		StatusVerifiedReady:   false,
		StatusPaid:            true,
		StatusDeclined:        true,
	} {
		if status.Terminal() != terminal {
			t.Fatalf("Terminal(%s) = %v, want %v", status, status.Terminal(), terminal)
		}
	}
	if Status("REOPENED").Valid() {
		t.Fatal("unknown status must not validate")
	}
}
