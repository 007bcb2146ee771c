package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/custodia-labs/callbridge/internal/core/domain"
	"github.com/custodia-labs/callbridge/internal/core/ports/driving"
)

// Mock services for testing

type mockAuthService struct {
	validateTokenFn func(ctx context.Context, token string) (*domain.AuthContext, error)
}

func (m *mockAuthService) ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error) {
	if m.validateTokenFn != nil {
		return m.validateTokenFn(ctx, token)
	}
	switch token {
	case "admin-token":
		return &domain.AuthContext{UserID: "admin-1", Role: domain.RoleAdmin}, nil
	case "member-token":
		return &domain.AuthContext{UserID: "user-1", Role: domain.RoleMember}, nil
	}
	return nil, domain.ErrTokenInvalid
}

type mockConnectionService struct {
	initiateFn   func(ctx context.Context, userID string) (*driving.ConnectResponse, error)
	callbackFn   func(ctx context.Context, req driving.CallbackRequest) *domain.CallbackResult
	statusFn     func(ctx context.Context, userID string) (*domain.ConnectionStatus, error)
	hasValidFn   func(ctx context.Context, userID string) (bool, error)
	disconnectFn func(ctx context.Context, userID string) (*domain.DisconnectResult, error)
	resetFn      func(ctx context.Context) (*driving.ResetResponse, error)
}

func (m *mockConnectionService) InitiateConnect(ctx context.Context, userID string) (*driving.ConnectResponse, error) {
	if m.initiateFn != nil {
		return m.initiateFn(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockConnectionService) HandleCallback(ctx context.Context, req driving.CallbackRequest) *domain.CallbackResult {
	if m.callbackFn != nil {
		return m.callbackFn(ctx, req)
	}
	return domain.Failed(domain.ReasonInvalidState)
}

func (m *mockConnectionService) GetConnectionStatus(ctx context.Context, userID string) (*domain.ConnectionStatus, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockConnectionService) HasValidToken(ctx context.Context, userID string) (bool, error) {
	if m.hasValidFn != nil {
		return m.hasValidFn(ctx, userID)
	}
	return false, nil
}

func (m *mockConnectionService) Disconnect(ctx context.Context, userID string) (*domain.DisconnectResult, error) {
	if m.disconnectFn != nil {
		return m.disconnectFn(ctx, userID)
	}
	return &domain.DisconnectResult{}, nil
}

func (m *mockConnectionService) ResetAll(ctx context.Context) (*driving.ResetResponse, error) {
	if m.resetFn != nil {
		return m.resetFn(ctx)
	}
	return &driving.ResetResponse{}, nil
}

type mockCallDataService struct {
	reportFn func(ctx context.Context, userID string, day time.Time) (*domain.ReportSummaries, error)
	queuesFn func(ctx context.Context, userID, accountKey string) (*domain.CallQueues, error)
	linesFn  func(ctx context.Context, userID string) (json.RawMessage, error)
}

func (m *mockCallDataService) ReportSummaries(ctx context.Context, userID string, day time.Time) (*domain.ReportSummaries, error) {
	if m.reportFn != nil {
		return m.reportFn(ctx, userID, day)
	}
	return nil, errors.New("not implemented")
}

func (m *mockCallDataService) CallQueues(ctx context.Context, userID, accountKey string) (*domain.CallQueues, error) {
	if m.queuesFn != nil {
		return m.queuesFn(ctx, userID, accountKey)
	}
	return nil, errors.New("not implemented")
}

func (m *mockCallDataService) UserLines(ctx context.Context, userID string) (json.RawMessage, error) {
	if m.linesFn != nil {
		return m.linesFn(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.err
}

type testDeps struct {
	conn  *mockConnectionService
	data  *mockCallDataService
	db    *mockPinger
	redis Pinger
}

func newTestServer(deps *testDeps) http.Handler {
	if deps.conn == nil {
		deps.conn = &mockConnectionService{}
	}
	if deps.data == nil {
		deps.data = &mockCallDataService{}
	}
	if deps.db == nil {
		deps.db = &mockPinger{}
	}
	cfg := DefaultConfig()
	cfg.Version = "1.2.3"
	cfg.FrontendURL = "https://app.example.com/"
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	s := NewServer(cfg, Services{
		Auth:       &mockAuthService{},
		Connection: deps.conn,
		CallData:   deps.data,
	}, deps.db, deps.redis)
	return s.Handler()
}

func do(h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestServer(&testDeps{})

	if rr := do(h, "GET", "/health", ""); rr.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", rr.Code)
	}

	rr := do(h, "GET", "/version", "")
	if v := decode[VersionResponse](t, rr); v.Version != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %q", v.Version)
	}
}

func TestHandleReady(t *testing.T) {
	tests := []struct {
		name       string
		db         error
		redis      Pinger
		wantStatus int
	}{
		{"all healthy", nil, &mockPinger{}, http.StatusOK},
		{"no redis configured", nil, nil, http.StatusOK},
		{"database down", errors.New("conn refused"), nil, http.StatusServiceUnavailable},
		{"redis down", nil, &mockPinger{err: errors.New("timeout")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&testDeps{db: &mockPinger{err: tt.db}, redis: tt.redis})
			if rr := do(h, "GET", "/ready", ""); rr.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
		})
	}
}

func TestHandleConnect(t *testing.T) {
	expires := time.Date(2026, 1, 1, 12, 10, 0, 0, time.UTC)
	conn := &mockConnectionService{
		initiateFn: func(ctx context.Context, userID string) (*driving.ConnectResponse, error) {
			if userID != "user-1" {
				t.Errorf("expected user-1, got %s", userID)
			}
			return &driving.ConnectResponse{AuthURL: "https://auth.example/authorize?state=s1", State: "s1", ExpiresAt: expires}, nil
		},
	}
	h := newTestServer(&testDeps{conn: conn})

	if rr := do(h, "POST", "/api/v1/goto/connect", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rr.Code)
	}

	rr := do(h, "POST", "/api/v1/goto/connect", "member-token")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decode[map[string]any](t, rr)
	if body["authUrl"] != "https://auth.example/authorize?state=s1" || body["state"] != "s1" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHandleConnect_NotConfigured(t *testing.T) {
	conn := &mockConnectionService{
		initiateFn: func(ctx context.Context, userID string) (*driving.ConnectResponse, error) {
			return nil, domain.ErrNotConfigured
		},
	}
	h := newTestServer(&testDeps{conn: conn})

	if rr := do(h, "POST", "/api/v1/goto/connect", "member-token"); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}

func TestHandleCallback(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		result   *domain.CallbackResult
		wantLoc  string
		wantCode string
	}{
		{
			name:     "connected",
			query:    "code=abc123&state=s1",
			result:   domain.Connected("user-1"),
			wantLoc:  "https://app.example.com/dashboard?success=goto_connected",
			wantCode: "abc123",
		},
		{
			name:    "unknown state",
			query:   "code=abc123&state=xyz",
			result:  domain.Failed(domain.ReasonInvalidState),
			wantLoc: "https://app.example.com/dashboard?error=invalid_state",
		},
		{
			name:    "provider denied",
			query:   "error=access_denied&state=s1",
			result:  domain.Failed(domain.ReasonProviderDenied),
			wantLoc: "https://app.example.com/dashboard?error=oauth_failed",
		},
		{
			name:    "expired state",
			query:   "code=c&state=old",
			result:  domain.Failed(domain.ReasonStateExpired),
			wantLoc: "https://app.example.com/dashboard?error=state_expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got driving.CallbackRequest
			conn := &mockConnectionService{
				callbackFn: func(ctx context.Context, req driving.CallbackRequest) *domain.CallbackResult {
					got = req
					return tt.result
				},
			}
			h := newTestServer(&testDeps{conn: conn})

			rr := do(h, "GET", "/api/v1/goto/callback?"+tt.query, "")
			if rr.Code != http.StatusFound {
				t.Fatalf("expected 302, got %d", rr.Code)
			}
			if loc := rr.Header().Get("Location"); loc != tt.wantLoc {
				t.Errorf("expected redirect %q, got %q", tt.wantLoc, loc)
			}

			q, _ := url.ParseQuery(tt.query)
			if got.State != q.Get("state") || got.Code != q.Get("code") || got.Error != q.Get("error") {
				t.Errorf("callback request not passed through: %+v", got)
			}
		})
	}
}

func TestHandleStatus(t *testing.T) {
	conn := &mockConnectionService{
		statusFn: func(ctx context.Context, userID string) (*domain.ConnectionStatus, error) {
			return &domain.ConnectionStatus{Connected: true, Configured: true, Provider: domain.ProviderGoTo}, nil
		},
	}
	h := newTestServer(&testDeps{conn: conn})

	rr := do(h, "GET", "/api/v1/goto/status", "member-token")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decode[map[string]any](t, rr)
	if body["connected"] != true || body["provider"] != "goto" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHandleDisconnect(t *testing.T) {
	for _, revoked := range []bool{true, false} {
		t.Run(fmt.Sprintf("revoked=%v", revoked), func(t *testing.T) {
			conn := &mockConnectionService{
				disconnectFn: func(ctx context.Context, userID string) (*domain.DisconnectResult, error) {
					return &domain.DisconnectResult{TokenRevoked: revoked}, nil
				},
			}
			h := newTestServer(&testDeps{conn: conn})

			rr := do(h, "POST", "/api/v1/goto/disconnect", "member-token")
			resp := decode[DisconnectResponse](t, rr)
			if !resp.Success || resp.TokenRevoked != revoked {
				t.Errorf("unexpected response %+v", resp)
			}
		})
	}
}

func TestHandleTokenCheck(t *testing.T) {
	tests := []struct {
		name       string
		ok         bool
		err        error
		wantStatus int
		wantValid  bool
	}{
		{"valid", true, nil, http.StatusOK, true},
		{"needs reconnect", false, nil, http.StatusOK, false},
		{"provider down", false, fmt.Errorf("refresh: %w", domain.ErrProviderUnavailable), http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &mockConnectionService{
				hasValidFn: func(ctx context.Context, userID string) (bool, error) { return tt.ok, tt.err },
			}
			h := newTestServer(&testDeps{conn: conn})

			rr := do(h, "GET", "/api/v1/goto/token", "member-token")
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
			if rr.Code == http.StatusOK {
				if got := decode[TokenCheckResponse](t, rr); got.HasValidToken != tt.wantValid {
					t.Errorf("expected hasValidToken=%v", tt.wantValid)
				}
				if strings.Contains(rr.Body.String(), "access") {
					t.Errorf("token must not be returned: %s", rr.Body.String())
				}
			} else if rr.Header().Get("Retry-After") == "" {
				t.Error("expected Retry-After header")
			}
		})
	}
}

func TestHandleReportSummaries(t *testing.T) {
	var gotDay time.Time
	data := &mockCallDataService{
		reportFn: func(ctx context.Context, userID string, day time.Time) (*domain.ReportSummaries, error) {
			gotDay = day
			if userID == "admin-1" {
				return nil, fmt.Errorf("load: %w", domain.ErrNotConnected)
			}
			return &domain.ReportSummaries{Principal: "ana@example.com", Data: json.RawMessage(`{"items":[]}`)}, nil
		},
	}
	h := newTestServer(&testDeps{data: data})

	rr := do(h, "GET", "/api/v1/goto/call-events/report-summaries?date=2026-02-03", "member-token")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !gotDay.Equal(time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected day %v", gotDay)
	}

	if rr := do(h, "GET", "/api/v1/goto/call-events/report-summaries?date=03/02/2026", "member-token"); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad date, got %d", rr.Code)
	}

	rr = do(h, "GET", "/api/v1/goto/call-events/report-summaries", "admin-token")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reconnect, got %d", rr.Code)
	}
	if body := decode[ErrorResponse](t, rr); body.Code != "reconnect_required" {
		t.Errorf("expected reconnect_required code, got %+v", body)
	}
}

func TestHandleCallQueues(t *testing.T) {
	data := &mockCallDataService{
		queuesFn: func(ctx context.Context, userID, accountKey string) (*domain.CallQueues, error) {
			switch accountKey {
			case "":
				return nil, fmt.Errorf("could not resolve account key: %w", domain.ErrInvalidInput)
			case "acc-1":
				return &domain.CallQueues{AccountKey: accountKey, Strategy: "accounts", PagesFetched: 1}, nil
			case "acc-missing":
				res := &domain.CallQueues{AccountKey: accountKey, Attempts: []domain.EndpointAttempt{{Strategy: "accounts", Status: 404}}}
				return res, fmt.Errorf("no endpoint: %w", domain.ErrNotFound)
			default:
				return nil, &domain.ResourceError{Status: 500, Path: "/voice-admin/v1/call-queues"}
			}
		},
	}
	h := newTestServer(&testDeps{data: data})

	if rr := do(h, "GET", "/api/v1/goto/call-queues", "member-token"); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 when the account key cannot be resolved, got %d", rr.Code)
	}

	rr := do(h, "GET", "/api/v1/goto/call-queues?accountKey=acc-1", "member-token")
	if got := decode[domain.CallQueues](t, rr); rr.Code != http.StatusOK || got.Strategy != "accounts" {
		t.Errorf("unexpected %d %+v", rr.Code, got)
	}

	rr = do(h, "GET", "/api/v1/goto/call-queues?accountKey=acc-missing", "member-token")
	if got := decode[domain.CallQueues](t, rr); rr.Code != http.StatusNotFound || len(got.Attempts) != 1 {
		t.Errorf("expected 404 with attempts, got %d %+v", rr.Code, got)
	}

	if rr := do(h, "GET", "/api/v1/goto/call-queues?accountKey=acc-broken", "member-token"); rr.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rr.Code)
	}
}

func TestHandleLines(t *testing.T) {
	data := &mockCallDataService{
		linesFn: func(ctx context.Context, userID string) (json.RawMessage, error) {
			return json.RawMessage(`{"items":[{"number":"+15551234"}]}`), nil
		},
	}
	h := newTestServer(&testDeps{data: data})

	rr := do(h, "GET", "/api/v1/goto/lines", "member-token")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "+15551234") {
		t.Errorf("unexpected %d %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected json content type, got %q", ct)
	}
}

func TestHandleReset(t *testing.T) {
	called := false
	conn := &mockConnectionService{
		resetFn: func(ctx context.Context) (*driving.ResetResponse, error) {
			called = true
			return &driving.ResetResponse{TokensDeleted: 3, StatesDeleted: 1}, nil
		},
	}
	h := newTestServer(&testDeps{conn: conn})

	if rr := do(h, "POST", "/api/v1/admin/goto/reset", "member-token"); rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 for member, got %d", rr.Code)
	}
	if called {
		t.Fatal("reset must not run for non-admins")
	}

	rr := do(h, "POST", "/api/v1/admin/goto/reset", "admin-token")
	if got := decode[driving.ResetResponse](t, rr); got.TokensDeleted != 3 {
		t.Errorf("unexpected %+v", got)
	}
}

func TestWriteServiceError_Storage(t *testing.T) {
	conn := &mockConnectionService{
		statusFn: func(ctx context.Context, userID string) (*domain.ConnectionStatus, error) {
			return nil, domain.StorageError("get token", errors.New("connection reset"))
		},
	}
	h := newTestServer(&testDeps{conn: conn})

	rr := do(h, "GET", "/api/v1/goto/status", "member-token")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "connection reset") {
		t.Errorf("internal error detail leaked: %s", rr.Body.String())
	}
}
