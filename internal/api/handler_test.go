package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wagerproto/wager-engine/internal/api"
	"github.com/wagerproto/wager-engine/internal/model"
	"github.com/wagerproto/wager-engine/internal/store"
	"github.com/wagerproto/wager-engine/internal/wager"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	router chi.Router
	now    time.Time
}

func newTestEnv(t *testing.T, cfg api.RouterConfig) *testEnv {
	t.Helper()
	e := &testEnv{now: epoch}
	svc := wager.NewService(store.NewMemoryStore(), "dev", wager.WithClock(func() time.Time { return e.now }))
	e.router = api.NewRouter(api.NewHandler(svc, api.WithFaucet(true)), cfg)
	return e
}

func (e *testEnv) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(api.CallerHeader, caller)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

type errResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// setup initializes the protocol, funds alice and bob, and opens market 0.
func (e *testEnv) setup(t *testing.T) {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/protocol", "admin", wager.ProtocolParams{
		FeeRecipient:   "treasury",
		ProtocolFeeBps: 50,
	})
	expectStatus(t, w, http.StatusCreated)

	for _, u := range []string{"alice", "bob"} {
		w = e.do(t, "POST", "/api/v1/accounts/"+u+"/faucet", u, api.FaucetRequest{Amount: 10_000})
		expectStatus(t, w, http.StatusOK)
	}

	w = e.do(t, "POST", "/api/v1/markets", "alice", map[string]any{
		"question": "Will the bridge reopen by June?",
		"outcomes": []string{"Yes", "No"},
		"end_time": epoch.Add(24 * time.Hour),
	})
	expectStatus(t, w, http.StatusCreated)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, api.RouterConfig{})
	w := e.do(t, "GET", "/health", "", nil)
	expectStatus(t, w, http.StatusOK)
}

func TestLifecycle(t *testing.T) {
	e := newTestEnv(t, api.RouterConfig{})
	e.setup(t)

	w := e.do(t, "POST", "/api/v1/markets/0/bets", "alice", api.BetRequest{Outcome: 0, Amount: 1000})
	expectStatus(t, w, http.StatusCreated)
	w = e.do(t, "POST", "/api/v1/markets/0/bets", "bob", api.BetRequest{Outcome: 1, Amount: 500})
	expectStatus(t, w, http.StatusCreated)

	m := decodeBody[model.Market](t, e.do(t, "GET", "/api/v1/markets/0", "", nil))
	if m.OutcomePools != [2]uint64{1000, 500} || m.TotalVolume != 1500 {
		t.Fatalf("unexpected market: %+v", m)
	}

	e.now = epoch.Add(24 * time.Hour)
	winner := uint8(0)
	w = e.do(t, "POST", "/api/v1/markets/0/resolve", "alice", api.ResolveRequest{WinningOutcome: &winner})
	expectStatus(t, w, http.StatusOK)

	quote := decodeBody[map[string]uint64](t, e.do(t, "GET", "/api/v1/markets/0/positions/alice/0/quote/claim", "", nil))
	if quote["net_payout"] != 1493 {
		t.Errorf("expected quoted net 1493, got %v", quote)
	}

	w = e.do(t, "POST", "/api/v1/markets/0/positions/alice/0/claim", "alice", nil)
	expectStatus(t, w, http.StatusOK)
	res := decodeBody[wager.ClaimResult](t, w)
	if res.Claim.NetPayout != 1493 || !res.Position.Claimed {
		t.Errorf("unexpected claim: %+v", res)
	}

	bal := decodeBody[api.BalanceResponse](t, e.do(t, "GET", "/api/v1/accounts/alice/balance", "", nil))
	if bal.Balance != 9000+1493 {
		t.Errorf("expected alice=%d, got %d", 9000+1493, bal.Balance)
	}
	escrow := decodeBody[api.BalanceResponse](t, e.do(t, "GET", "/api/v1/accounts/escrow%2F0/balance", "", nil))
	if escrow.Account != "escrow/0" || escrow.Balance != 0 {
		t.Errorf("expected drained escrow/0, got %+v", escrow)
	}

	w = e.do(t, "POST", "/api/v1/markets/0/positions/alice/0/claim", "alice", nil)
	expectStatus(t, w, http.StatusConflict)
	if body := decodeBody[errResp](t, w); body.Code != "idempotency" {
		t.Errorf("expected idempotency code, got %+v", body)
	}
}

func TestWithdrawAndQuote(t *testing.T) {
	e := newTestEnv(t, api.RouterConfig{})
	e.setup(t)
	e.do(t, "POST", "/api/v1/markets/0/bets", "alice", api.BetRequest{Outcome: 0, Amount: 1000})
	e.do(t, "POST", "/api/v1/markets/0/bets", "bob", api.BetRequest{Outcome: 1, Amount: 500})

	q := decodeBody[map[string]any](t, e.do(t, "GET", "/api/v1/markets/0/positions/alice/0/quote/exit?amount=100", "", nil))
	if q["net_payout"] != float64(55) {
		t.Errorf("expected quoted net 55, got %v", q["net_payout"])
	}

	w := e.do(t, "POST", "/api/v1/markets/0/positions/alice/0/withdraw", "alice", api.WithdrawRequest{Amount: 100, MinPayout: 56})
	expectStatus(t, w, http.StatusConflict)
	if body := decodeBody[errResp](t, w); body.Code != "economic" {
		t.Errorf("expected economic code for slippage, got %+v", body)
	}

	w = e.do(t, "POST", "/api/v1/markets/0/positions/alice/0/withdraw", "alice", api.WithdrawRequest{Amount: 100, MinPayout: 55})
	expectStatus(t, w, http.StatusOK)
	res := decodeBody[wager.ExitResult](t, w)
	if res.Market.OutcomePools != [2]uint64{900, 555} || res.Position.Amount != 900 {
		t.Errorf("unexpected exit: market=%+v position=%+v", res.Market, res.Position)
	}

	w = e.do(t, "POST", "/api/v1/markets/0/positions/alice/0/withdraw", "alice", api.WithdrawRequest{Amount: 901})
	expectStatus(t, w, http.StatusConflict)
}

func TestErrorMapping(t *testing.T) {
	e := newTestEnv(t, api.RouterConfig{})
	e.setup(t)
	e.do(t, "POST", "/api/v1/markets/0/bets", "alice", api.BetRequest{Outcome: 0, Amount: 100})

	tests := []struct {
		name   string
		method string
		path   string
		caller string
		body   any
		status int
		code   string
	}{
		{"missing caller", "POST", "/api/v1/markets/0/bets", "", api.BetRequest{Outcome: 0, Amount: 1}, 400, "validation"},
		{"zero amount", "POST", "/api/v1/markets/0/bets", "bob", api.BetRequest{Outcome: 0}, 400, "validation"},
		{"bad market id", "GET", "/api/v1/markets/abc", "", nil, 400, "validation"},
		{"unknown market", "GET", "/api/v1/markets/7", "", nil, 404, "not_found"},
		{"unknown position", "GET", "/api/v1/markets/0/positions/bob/0", "", nil, 404, "not_found"},
		{"foreign position", "POST", "/api/v1/markets/0/positions/alice/0/increase", "bob", api.IncreaseRequest{Amount: 1}, 403, "unauthorized"},
		{"non-creator resolve", "POST", "/api/v1/markets/0/resolve", "bob", map[string]int{"winning_outcome": 0}, 403, "unauthorized"},
		{"resolve before end", "POST", "/api/v1/markets/0/resolve", "alice", map[string]int{"winning_outcome": 0}, 409, "state"},
		{"resolve without outcome", "POST", "/api/v1/markets/0/resolve", "alice", map[string]any{}, 400, "validation"},
		{"second initialize", "POST", "/api/v1/protocol", "admin", wager.ProtocolParams{FeeRecipient: "t"}, 409, "state"},
		{"unknown field", "POST", "/api/v1/markets/0/bets", "bob", map[string]any{"outcome": 0, "amount": 1, "side": "yes"}, 400, "validation"},
		{"insufficient balance", "POST", "/api/v1/markets/0/bets", "bob", api.BetRequest{Outcome: 1, Amount: 50_000}, 409, "economic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, tt.method, tt.path, tt.caller, tt.body)
			expectStatus(t, w, tt.status)
			if body := decodeBody[errResp](t, w); body.Code != tt.code || body.Error == "" {
				t.Errorf("expected code %q, got %+v", tt.code, body)
			}
		})
	}
}

func TestListings(t *testing.T) {
	e := newTestEnv(t, api.RouterConfig{})
	e.setup(t)
	e.do(t, "POST", "/api/v1/markets/0/bets", "alice", api.BetRequest{Outcome: 0, Amount: 10})
	e.do(t, "POST", "/api/v1/markets/0/bets", "alice", api.BetRequest{Outcome: 1, Amount: 20})

	positions := decodeBody[[]model.Position](t, e.do(t, "GET", "/api/v1/users/alice/positions", "", nil))
	if len(positions) != 2 {
		t.Errorf("expected 2 positions, got %d", len(positions))
	}
	empty := decodeBody[[]model.Position](t, e.do(t, "GET", "/api/v1/users/carol/positions", "", nil))
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty list, got %v", empty)
	}
	markets := decodeBody[[]model.Market](t, e.do(t, "GET", "/api/v1/markets", "", nil))
	if len(markets) != 1 {
		t.Errorf("expected 1 market, got %d", len(markets))
	}
	transfers := decodeBody[[]map[string]any](t, e.do(t, "GET", "/api/v1/accounts/alice/transfers", "", nil))
	if len(transfers) != 3 {
		t.Errorf("expected deposit plus two stakes, got %d", len(transfers))
	}
}

func TestFaucetDisabled(t *testing.T) {
	svc := wager.NewService(store.NewMemoryStore(), "dev")
	router := api.NewRouter(api.NewHandler(svc), api.RouterConfig{})

	req := httptest.NewRequest("POST", "/api/v1/accounts/alice/faucet", bytes.NewBufferString(`{"amount":1}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusOK {
		t.Fatal("faucet must not be routed unless enabled")
	}
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, api.RouterConfig{RateLimit: 1, RateBurst: 2})

	for i := 0; i < 2; i++ {
		expectStatus(t, e.do(t, "GET", "/api/v1/markets", "alice", nil), http.StatusOK)
	}
	w := e.do(t, "GET", "/api/v1/markets", "alice", nil)
	expectStatus(t, w, http.StatusTooManyRequests)
	if body := decodeBody[errResp](t, w); body.Code != "rate_limited" {
		t.Errorf("unexpected body: %+v", body)
	}

	// Buckets are per caller.
	expectStatus(t, e.do(t, "GET", "/api/v1/markets", "bob", nil), http.StatusOK)
	// Health is outside the limited group.
	expectStatus(t, e.do(t, "GET", "/health", "alice", nil), http.StatusOK)
}
