package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/refundly/refund-service/internal/app"
	"github.com/refundly/refund-service/internal/auth"
	"github.com/refundly/refund-service/internal/domain"
	"github.com/refundly/refund-service/internal/store"
)

// apiRepoStub serves one refund request.
type apiRepoStub struct {
	store.Repository

	refund *domain.RefundRequest
}

func (s *apiRepoStub) GetRefundRequest(ctx context.Context, id uuid.UUID) (*domain.RefundRequest, error) {
	if s.refund == nil || s.refund.ID != id {
		return nil, domain.ErrNotFound
	}
	copied := *s.refund
	return &copied, nil
}

func (s *apiRepoStub) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, reason *string, finalAmount *int64) (*domain.RefundRequest, error) {
	if s.refund == nil || s.refund.ID != id {
		return nil, domain.ErrNotFound
	}
	if s.refund.Status != from {
		return nil, domain.ErrInvalidTransition
	}
	s.refund.Status = to
	copied := *s.refund
	return &copied, nil
}

func (s *apiRepoStub) CreateNotification(ctx context.Context, n *domain.Notification) error {
	return nil
}

// tokenResolver admits two fixed tokens.
type tokenResolver struct {
	member auth.Session
	staff  auth.Session
}

func (r *tokenResolver) ResolveSession(_ context.Context, token string) (*auth.Session, error) {
	switch token {
	case "member-token":
		copied := r.member
		return &copied, nil
	case "staff-token":
		copied := r.staff
		return &copied, nil
	}
	return nil, auth.ErrSessionInvalid
}

type noopSink struct{}

func (noopSink) Publish(ctx context.Context, event domain.Event) error { return nil }

func newTestServer(t *testing.T, refund *domain.RefundRequest, ownerID uuid.UUID) *httptest.Server {
	t.Helper()
	resolver := &tokenResolver{
		member: auth.Session{UserID: ownerID, Role: domain.RoleMember, ExpiresAt: time.Now().Add(time.Hour)},
		staff:  auth.Session{UserID: uuid.New(), Role: domain.RoleStaff, ExpiresAt: time.Now().Add(time.Hour)},
	}
	service := app.NewService(&apiRepoStub{refund: refund}, noopSink{})
	srv := httptest.NewServer(NewRouter(service, resolver, nil))
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRouter_MissingTokenIs401(t *testing.T) {
	srv := newTestServer(t, nil, uuid.New())

	resp := doRequest(t, http.MethodGet, srv.URL+"/refunds", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRouter_InvalidTokenIs401(t *testing.T) {
	srv := newTestServer(t, nil, uuid.New())

	resp := doRequest(t, http.MethodGet, srv.URL+"/refunds", "forged", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRouter_UnknownRefundIs404(t *testing.T) {
	srv := newTestServer(t, nil, uuid.New())

	resp := doRequest(t, http.MethodGet, srv.URL+"/refunds/"+uuid.NewString(), "staff-token", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRouter_MalformedIDIs400(t *testing.T) {
	srv := newTestServer(t, nil, uuid.New())

	resp := doRequest(t, http.MethodGet, srv.URL+"/refunds/not-a-uuid", "staff-token", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRouter_MemberApproveIs403(t *testing.T) {
	ownerID := uuid.New()
	refund := &domain.RefundRequest{ID: uuid.New(), OwnerID: ownerID, Status: domain.StatusEstimated}
	srv := newTestServer(t, refund, ownerID)

	resp := doRequest(t, http.MethodPost, srv.URL+"/refunds/"+refund.ID.String()+"/approve", "member-token", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestRouter_InvalidTransitionIs409(t *testing.T) {
	ownerID := uuid.New()
	refund := &domain.RefundRequest{ID: uuid.New(), OwnerID: ownerID, Status: domain.StatusPaid}
	srv := newTestServer(t, refund, ownerID)

	resp := doRequest(t, http.MethodPost, srv.URL+"/refunds/"+refund.ID.String()+"/approve", "staff-token", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestRouter_StaffApproveSucceeds(t *testing.T) {
	ownerID := uuid.New()
	refund := &domain.RefundRequest{ID: uuid.New(), OwnerID: ownerID, Status: domain.StatusEstimated, Title: "Hotel"}
	srv := newTestServer(t, refund, ownerID)

	resp := doRequest(t, http.MethodPost, srv.URL+"/refunds/"+refund.ID.String()+"/approve", "staff-token", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRouter_ForeignRefundReadIs403ForMember(t *testing.T) {
	refund := &domain.RefundRequest{ID: uuid.New(), OwnerID: uuid.New(), Status: domain.StatusEstimated}
	srv := newTestServer(t, refund, uuid.New())

	resp := doRequest(t, http.MethodGet, srv.URL+"/refunds/"+refund.ID.String(), "member-token", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestRouter_CORSPreflightAllowsBrowserClients(t *testing.T) {
	srv := newTestServer(t, nil, uuid.New())

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/refunds", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Authorization")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 preflight, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatal("expected Access-Control-Allow-Origin on preflight response")
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "POST" {
		t.Fatalf("expected POST allowed, got %q", got)
	}
}

func TestRouter_HealthIsPublic(t *testing.T) {
	srv := newTestServer(t, nil, uuid.New())

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
