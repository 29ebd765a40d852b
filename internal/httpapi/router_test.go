package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"settlement-engine/internal/accrual"
	"settlement-engine/internal/api"
	"settlement-engine/internal/audit"
	"settlement-engine/internal/database"
	"settlement-engine/internal/deposits"
	"settlement-engine/internal/jobs"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/metrics"
	"settlement-engine/internal/models"
	"settlement-engine/internal/provider"
	"settlement-engine/internal/store"
	"settlement-engine/internal/testutil"
	"settlement-engine/internal/withdrawals"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

type testServer struct {
	store    *database.Service
	recorder *audit.Recorder
	health   *metrics.HealthChecker
	router   http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := testutil.NewStore(t)
	rec := audit.NewRecorder(st)
	led := ledger.New(rec)
	disp := jobs.NewDispatcher(st, jobs.Config{})
	catalog := testutil.Catalog()
	oracle := &testutil.FakeOracle{Rates: map[string]decimal.Decimal{"BTC": decimal.RequireFromString("5000000")}}

	depositSvc := deposits.NewService(deposits.Deps{
		Store: st, Ledger: led, Recorder: rec, Outbox: disp, Charges: &testutil.FakeProvider{}, Rates: oracle,
		Catalog: catalog, WebhookSecret: secret,
	})
	svc := api.NewService(api.Deps{
		Store:    st,
		Deposits: depositSvc,
		Withdrawals: withdrawals.NewService(withdrawals.Deps{
			Store: st, Ledger: led, Recorder: rec, Outbox: disp, Payouts: &testutil.FakePayout{}, Rates: oracle,
			Catalog: catalog,
		}),
		Accrual: accrual.NewEngine(accrual.Deps{Store: st, Ledger: led, Jobs: disp}),
		Catalog: catalog,
	})

	health := metrics.NewHealthChecker()
	return &testServer{
		store:    st,
		recorder: rec,
		health:   health,
		router:   NewHandler(svc, depositSvc, health).Router(),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, models.Envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "router-test")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	var env models.Envelope
	if rr.Body.Len() > 0 && rr.Header().Get("Content-Type") == "application/json" {
		_ = json.Unmarshal(rr.Body.Bytes(), &env)
	}
	return rr, env
}

func webhookRequest(body []byte, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	req.Header.Set(provider.SignatureHeader, signature)
	return req
}

func TestProviderWebhook_Responses(t *testing.T) {
	s := newTestServer(t)

	event := func(eventType, chargeId string) []byte {
		return []byte(fmt.Sprintf(`{"event":{"id":"ev-1","type":%q,"data":{"id":%q,"code":"X"}}}`, eventType, chargeId))
	}

	tests := []struct {
		name      string
		body      []byte
		signature string
		want      int
		emptyBody bool
	}{
		{
			name:      "bad signature",
			body:      event(provider.EventConfirmed, "charge-1"),
			signature: "deadbeef",
			want:      http.StatusUnauthorized,
			emptyBody: true,
		},
		{
			name:      "missing signature",
			body:      event(provider.EventConfirmed, "charge-1"),
			want:      http.StatusUnauthorized,
			emptyBody: true,
		},
		{
			name: "unknown charge",
			body: event(provider.EventConfirmed, "charge-unknown"),
			want: http.StatusOK,
		},
		{
			name: "ignored event type",
			body: event("charge:delayed", "charge-unknown"),
			want: http.StatusOK,
		},
		{
			name: "malformed event",
			body: []byte(`{"event":`),
			want: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := tt.signature
			if sig == "" && !tt.emptyBody {
				sig = provider.Sign(secret, tt.body)
			}
			rr := httptest.NewRecorder()
			s.router.ServeHTTP(rr, webhookRequest(tt.body, sig))

			assert.Equal(t, tt.want, rr.Code)
			if tt.emptyBody {
				assert.Zero(t, rr.Body.Len())
			}
		})
	}
}

type failingWebhooks struct{ err error }

func (f failingWebhooks) HandleProviderEvent(ctx context.Context, body []byte, signature string) error {
	return f.err
}

func TestProviderWebhook_InternalErrorIsRetried(t *testing.T) {
	handler := NewHandler(nil, failingWebhooks{err: errors.New("database is locked")}, metrics.NewHealthChecker())

	rr := httptest.NewRecorder()
	handler.Router().ServeHTTP(rr, webhookRequest([]byte(`{}`), "sig"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "database is locked")
}

func TestDepositRoutes(t *testing.T) {
	s := newTestServer(t)

	rr, env := s.do(t, http.MethodPost, "/v1/users/user1/deposits", map[string]any{"amount": "0.015", "currency": "BTC"}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.True(t, env.Success)

	created, err := s.store.ListDeposits(context.Background(), "user1", 10, 0)
	require.NoError(t, err)
	require.Len(t, created, 1)

	entries, err := s.recorder.ListForEntity(context.Background(), models.EntityDeposit, created[0].Id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "router-test", entries[0].UserAgent)
	assert.NotEmpty(t, entries[0].IPAddress)

	rr, env = s.do(t, http.MethodGet, "/v1/users/user1/deposits?limit=5", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, env.Data, 1)

	rr, env = s.do(t, http.MethodPost, "/v1/users/user1/deposits", map[string]any{"amount": "1", "currency": "DOGE"}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, store.KindValidation, env.ErrorKind)

	rr, _ = s.do(t, http.MethodPost, "/v1/users/user1/deposits", map[string]any{"amount": "1", "colour": "red"}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWithdrawalRoutes(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	testutil.Credit(t, s.store, "user1", "2000")
	require.NoError(t, s.store.RecordVerification(ctx, "user1", database.VerificationApproved))
	admin := map[string]string{AdminHeader: "ops1"}

	rr, env := s.do(t, http.MethodPost, "/v1/users/user1/withdrawals", map[string]any{"amount": "5000", "currency": "INR"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, store.KindInsufficientFund, env.ErrorKind)

	rr, env = s.do(t, http.MethodPost, "/v1/users/user1/withdrawals", map[string]any{"amount": 1000, "currency": "INR"}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	data := env.Data.(map[string]any)
	id := data["id"].(string)

	rr, env = s.do(t, http.MethodGet, "/v1/users/user1/balance", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "950", env.Data.(map[string]any)["balance"])

	rr, env = s.do(t, http.MethodGet, "/v1/admin/withdrawals?status=pending", nil, admin)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, env.Data, 1)

	rr, _ = s.do(t, http.MethodPost, "/v1/admin/withdrawals/"+id+"/reject", map[string]any{"reason": "address mismatch"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, env = s.do(t, http.MethodPost, "/v1/admin/withdrawals/"+id+"/reject", map[string]any{"reason": "address mismatch"}, admin)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, env.Success)

	rr, env = s.do(t, http.MethodPost, "/v1/admin/withdrawals/"+id+"/approve", nil, admin)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, store.KindInvalidState, env.ErrorKind)

	rr, _ = s.do(t, http.MethodPost, "/v1/admin/withdrawals/missing/approve", nil, admin)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, env = s.do(t, http.MethodGet, "/v1/users/user1/balance", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2000", env.Data.(map[string]any)["balance"])
}

func TestTriggerAccrualRoute(t *testing.T) {
	s := newTestServer(t)
	admin := map[string]string{AdminHeader: "ops1"}

	rr, env := s.do(t, http.MethodPost, "/v1/admin/accruals/2026-03-05", nil, admin)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.Equal(t, "2026-03-05", env.Data.(map[string]any)["date"])

	rr, env = s.do(t, http.MethodPost, "/v1/admin/accruals/not-a-date", nil, admin)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, store.KindValidation, env.ErrorKind)
}

func TestHealthRoutes(t *testing.T) {
	s := newTestServer(t)

	rr, _ := s.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = s.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	s.health.SetReady(true)
	rr, env := s.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, env.Success)

	rr, _ = s.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "settlement_http_requests_total")
}

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		store.KindValidation:       http.StatusBadRequest,
		store.KindInsufficientFund: http.StatusUnprocessableEntity,
		store.KindInvalidState:     http.StatusConflict,
		store.KindNotFound:         http.StatusNotFound,
		store.KindExternalService:  http.StatusBadGateway,
		store.KindInternal:         http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, StatusFor(kind), kind)
	}
}
