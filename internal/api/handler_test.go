package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/slotshare/warranty/internal/domain"
	"github.com/slotshare/warranty/internal/transport/channel"
)

type fakeStore struct {
	mu           sync.Mutex
	tokens       map[string]domain.APIToken
	owners       map[uuid.UUID]uuid.UUID
	tokenErr     error
	ownerErr     error
	propOrders   int64
	propAccounts int64
	propErr      error
	propCalls    []PropagateRequest
}

func (s *fakeStore) GetToken(ctx context.Context, token string) (domain.APIToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenErr != nil {
		return domain.APIToken{}, s.tokenErr
	}
	tok, ok := s.tokens[token]
	if !ok {
		return domain.APIToken{}, sql.ErrNoRows
	}
	return tok, nil
}

func (s *fakeStore) GetOrderOwner(ctx context.Context, orderID uuid.UUID) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownerErr != nil {
		return uuid.Nil, s.ownerErr
	}
	owner, ok := s.owners[orderID]
	if !ok {
		return uuid.Nil, sql.ErrNoRows
	}
	return owner, nil
}

func (s *fakeStore) UpdateCredentialsByLogin(ctx context.Context, login, secret, session string) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.propErr != nil {
		return 0, 0, s.propErr
	}
	s.propCalls = append(s.propCalls, PropagateRequest{Login: login, Secret: secret, Session: session})
	return s.propOrders, s.propAccounts, nil
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []uuid.UUID
	run   func(ctx context.Context, orderID uuid.UUID) domain.RunOutcome
}

func (r *fakeRunner) Run(ctx context.Context, orderID uuid.UUID) domain.RunOutcome {
	r.mu.Lock()
	r.calls = append(r.calls, orderID)
	run := r.run
	r.mu.Unlock()
	if run != nil {
		return run(ctx, orderID)
	}
	return domain.OutcomeStillAlive
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

const (
	customerToken = "cust-token"
	adminToken    = "admin-token"
)

func newTestHandler(t *testing.T) (*Handler, *fakeStore, *fakeRunner, *channel.Registry, uuid.UUID) {
	t.Helper()
	customerID := uuid.New()
	orderID := uuid.New()
	store := &fakeStore{
		tokens: map[string]domain.APIToken{
			customerToken: {Token: customerToken, CustomerID: customerID},
			adminToken:    {Token: adminToken, CustomerID: uuid.New(), Admin: true},
		},
		owners: map[uuid.UUID]uuid.UUID{orderID: customerID},
	}
	runner := &fakeRunner{}
	registry := channel.NewRegistry()
	h := NewHandler(store, runner, registry)
	return h, store, runner, registry, orderID
}

func TestHandler_UnknownRouteReturns404(t *testing.T) {
	h, _, _, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandler_HealthSimple(t *testing.T) {
	h, _, _, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}

func TestHandler_HealthVerbose(t *testing.T) {
	h, _, _, _, _ := newTestHandler(t)
	h.WithHealthCheck("database", HealthCheckFunc(func(ctx context.Context) error { return nil })).
		WithHealthCheck("redis", HealthCheckFunc(func(ctx context.Context) error { return context.DeadlineExceeded }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Components["database"] != "healthy" {
		t.Errorf("database = %q, want healthy", resp.Components["database"])
	}
	if !strings.HasPrefix(resp.Components["redis"], "unhealthy") {
		t.Errorf("redis = %q, want unhealthy prefix", resp.Components["redis"])
	}
}

func TestHandler_StreamAuth(t *testing.T) {
	h, _, runner, _, orderID := newTestHandler(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"missing token", "/orders/" + orderID.String() + "/warranty/stream", http.StatusUnauthorized},
		{"unknown token", "/orders/" + orderID.String() + "/warranty/stream?token=bogus", http.StatusUnauthorized},
		{"invalid order id", "/orders/not-a-uuid/warranty/stream?token=" + customerToken, http.StatusBadRequest},
		{"unknown order", "/orders/" + uuid.NewString() + "/warranty/stream?token=" + customerToken, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}

	if runner.callCount() != 0 {
		t.Errorf("runner started %d runs on rejected requests, want 0", runner.callCount())
	}
}

func TestHandler_StreamRejectsForeignCustomer(t *testing.T) {
	h, store, runner, _, orderID := newTestHandler(t)
	store.tokens["other"] = domain.APIToken{Token: "other", CustomerID: uuid.New()}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/orders/"+orderID.String()+"/warranty/stream?token=other", nil))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if runner.callCount() != 0 {
		t.Error("runner must not start for a forbidden request")
	}
}

func TestHandler_BearerHeaderAccepted(t *testing.T) {
	h, store, _, _, _ := newTestHandler(t)
	store.propOrders = 1

	body := `{"login":"a@b.com","secret":"pw","session":"[{\"name\":\"x\"}]"}`
	req := httptest.NewRequest(http.MethodPost, "/accounts/propagate", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+adminToken)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_PropagateRequiresAdmin(t *testing.T) {
	h, store, _, _, _ := newTestHandler(t)

	body := `{"login":"a@b.com","secret":"pw","session":"[{\"name\":\"x\"}]"}`
	req := httptest.NewRequest(http.MethodPost, "/accounts/propagate?token="+customerToken, strings.NewReader(body))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.propCalls) != 0 {
		t.Error("store must not be touched for a forbidden request")
	}
}

func TestHandler_PropagateHappyPath(t *testing.T) {
	h, store, _, _, _ := newTestHandler(t)
	store.propOrders = 3
	store.propAccounts = 2

	body := `{"login":"seller@example.com","secret":"newpw","session":"[{\"name\":\"id\",\"value\":\"v\"}]"}`
	req := httptest.NewRequest(http.MethodPost, "/accounts/propagate?token="+adminToken, strings.NewReader(body))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp PropagateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.OrdersUpdated != 3 || resp.AccountsUpdated != 2 {
		t.Errorf("updated = (%d, %d), want (3, 2)", resp.OrdersUpdated, resp.AccountsUpdated)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.propCalls) != 1 || store.propCalls[0].Login != "seller@example.com" {
		t.Errorf("store calls = %+v", store.propCalls)
	}
}

func TestHandler_PropagateRejectsInvalidBody(t *testing.T) {
	h, _, _, _, _ := newTestHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{{{"},
		{"missing login", `{"secret":"pw","session":"[{}]"}`},
		{"session not a cookie array", `{"login":"a@b.com","secret":"pw","session":"oops"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/accounts/propagate?token="+adminToken,
				bytes.NewReader([]byte(tt.body)))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandler_StartRunDeduplicates(t *testing.T) {
	h, _, runner, _, orderID := newTestHandler(t)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	runner.run = func(ctx context.Context, id uuid.UUID) domain.RunOutcome {
		started <- struct{}{}
		<-release
		return domain.OutcomeStillAlive
	}

	h.startRun(orderID)
	<-started
	h.startRun(orderID)

	select {
	case <-started:
		t.Fatal("second run started while the first was active")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	// After the first run drains, a new run may start again. The guard is
	// released asynchronously, so retry until it lets one through.
	deadline := time.Now().Add(time.Second)
	for {
		h.startRun(orderID)
		select {
		case <-started:
			return
		case <-time.After(10 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("run did not restart after the previous one finished")
		}
	}
}
