package store

import (
	"testing"

	"github.com/refundly/refund-service/internal/domain"
)

func TestClampListOptions(t *testing.T) {
	tests := []struct {
		name       string
		in         domain.RefundListOptions
		wantLimit  int
		wantOffset int
	}{
		{
			name:       "zero values get defaults",
			in:         domain.RefundListOptions{},
			wantLimit:  50,
			wantOffset: 0,
		},
		{
			name:       "negative offset reset",
			in:         domain.RefundListOptions{Limit: 10, Offset: -5},
			wantLimit:  10,
			wantOffset: 0,
		},
		{
			name:       "oversized limit clamped",
			in:         domain.RefundListOptions{Limit: 5000, Offset: 20},
			wantLimit:  50,
			wantOffset: 20,
		},
		{
			name:       "valid options untouched",
			in:         domain.RefundListOptions{Limit: 100, Offset: 200},
			wantLimit:  100,
			wantOffset: 200,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := tc.in
			clampListOptions(&opts)
			if opts.Limit != tc.wantLimit || opts.Offset != tc.wantOffset {
				t.Fatalf("clampListOptions(%+v) = limit %d offset %d, want %d/%d", tc.in, opts.Limit, opts.Offset, tc.wantLimit, tc.wantOffset)
			}
		})
	}
}

// Receipt edits run behind this guard inside the update transaction, so a
// request a concurrent pay moved to PAID rejects the edit instead of
// rewriting the total of a settled request.
func TestReceiptsEditable(t *testing.T) {
	cases := map[domain.Status]bool{
		domain.StatusEstimated:       false,
		domain.StatusPendingReceipts: true,
		domain.StatusVerifiedReady:   true,
		domain.StatusPaid:            false,
		domain.StatusDeclined:        false,
	}
	for status, want := range cases {
		if got := receiptsEditable(status); got != want {
			t.Fatalf("receiptsEditable(%s) = %v, want %v", status, got, want)
		}
	}
}
