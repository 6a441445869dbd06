// Package api exposes the wager engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wagerproto/wager-engine/internal/contract"
	"github.com/wagerproto/wager-engine/internal/events"
	"github.com/wagerproto/wager-engine/internal/metrics"
	"github.com/wagerproto/wager-engine/internal/model"
	"github.com/wagerproto/wager-engine/internal/wager"
)

// Handler serves the wager API.
type Handler struct {
	svc    *wager.Service
	faucet bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithFaucet exposes the dev-only account faucet.
func WithFaucet(enabled bool) Option {
	return func(h *Handler) { h.faucet = enabled }
}

// NewHandler creates a handler over svc.
func NewHandler(svc *wager.Service, opts ...Option) *Handler {
	h := &Handler{svc: svc}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RouterConfig holds the transport settings of NewRouter.
type RouterConfig struct {
	RequestTimeout time.Duration
	RateLimit      float64 // per caller, requests per second; 0 disables
	RateBurst      int
	Hub            *events.WSHub // optional
}

// NewRouter builds the full HTTP surface: health, metrics, WebSocket feed
// and the versioned API.
func NewRouter(h *Handler, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "wager-engine"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Hub != nil {
			r.Get("/ws", cfg.Hub.HandleWS)
		}
		r.Group(func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(middleware.Timeout(cfg.RequestTimeout))
			}
			if cfg.RateLimit > 0 {
				r.Use(NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Middleware)
			}
			h.Routes(r)
		})
	})
	return r
}

// Routes mounts the API endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/protocol", h.GetProtocol)
	r.Post("/protocol", h.InitializeProtocol)

	r.Get("/markets", h.ListMarkets)
	r.Post("/markets", h.CreateMarket)
	r.Route("/markets/{marketID}", func(r chi.Router) {
		r.Get("/", h.GetMarket)
		r.Post("/bets", h.PlaceBet)
		r.Post("/resolve", h.ResolveMarket)
		r.Get("/positions", h.ListMarketPositions)
		r.Route("/positions/{user}/{positionID}", func(r chi.Router) {
			r.Get("/", h.GetPosition)
			r.Post("/increase", h.IncreasePosition)
			r.Post("/withdraw", h.Withdraw)
			r.Post("/cancel", h.Cancel)
			r.Post("/claim", h.Claim)
			r.Get("/quote/exit", h.QuoteExit)
			r.Get("/quote/claim", h.QuoteClaim)
		})
	})

	r.Get("/users/{user}/positions", h.ListUserPositions)

	r.Get("/accounts/{account}/balance", h.GetBalance)
	r.Get("/accounts/{account}/transfers", h.ListTransfers)
	if h.faucet {
		r.Post("/accounts/{account}/faucet", h.Faucet)
	}
}

// --- Request types ---

// CreateMarketRequest is the JSON body for POST /markets.
type CreateMarketRequest = contract.Terms

// BetRequest is the JSON body for POST /markets/{marketID}/bets.
type BetRequest struct {
	Outcome uint8  `json:"outcome"`
	Amount  uint64 `json:"amount"`
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	WinningOutcome *uint8 `json:"winning_outcome"`
}

// IncreaseRequest is the JSON body for POST .../increase.
type IncreaseRequest struct {
	Amount uint64 `json:"amount"`
}

// WithdrawRequest is the JSON body for POST .../withdraw.
type WithdrawRequest struct {
	Amount    uint64 `json:"amount"`
	MinPayout uint64 `json:"min_payout"`
}

// CancelRequest is the optional JSON body for POST .../cancel.
type CancelRequest struct {
	MinPayout uint64 `json:"min_payout"`
}

// FaucetRequest is the JSON body for POST /accounts/{account}/faucet.
type FaucetRequest struct {
	Amount uint64 `json:"amount"`
}

// BalanceResponse is returned from GET /accounts/{account}/balance.
type BalanceResponse struct {
	Account model.Account `json:"account"`
	Balance uint64        `json:"balance"`
}

// --- Protocol ---

// GetProtocol handles GET /api/v1/protocol
func (h *Handler) GetProtocol(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Protocol(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// InitializeProtocol handles POST /api/v1/protocol
func (h *Handler) InitializeProtocol(w http.ResponseWriter, r *http.Request) {
	var req wager.ProtocolParams
	if !decode(w, r, &req, false) {
		return
	}
	cfg, err := h.svc.InitializeProtocol(r.Context(), caller(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// --- Markets ---

// ListMarkets handles GET /api/v1/markets
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.svc.Markets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markets)
}

// CreateMarket handles POST /api/v1/markets
func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if !decode(w, r, &req, false) {
		return
	}
	m, err := h.svc.CreateMarket(r.Context(), caller(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "marketID")
	if !ok {
		return
	}
	m, err := h.svc.Market(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// PlaceBet handles POST /api/v1/markets/{marketID}/bets
func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "marketID")
	if !ok {
		return
	}
	var req BetRequest
	if !decode(w, r, &req, false) {
		return
	}
	pos, err := h.svc.PlaceBet(r.Context(), caller(r), id, req.Outcome, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve
func (h *Handler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "marketID")
	if !ok {
		return
	}
	var req ResolveRequest
	if !decode(w, r, &req, false) {
		return
	}
	if req.WinningOutcome == nil {
		writeError(w, fmt.Errorf("%w: winning_outcome is required", model.ErrInvalidOutcome))
		return
	}
	m, err := h.svc.ResolveMarket(r.Context(), caller(r), id, *req.WinningOutcome)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListMarketPositions handles GET /api/v1/markets/{marketID}/positions
func (h *Handler) ListMarketPositions(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "marketID")
	if !ok {
		return
	}
	positions, err := h.svc.MarketPositions(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(positions))
}

// --- Positions ---

// GetPosition handles GET /api/v1/markets/{marketID}/positions/{user}/{positionID}
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	key, ok := positionKey(w, r)
	if !ok {
		return
	}
	pos, err := h.svc.Position(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// IncreasePosition handles POST .../positions/{user}/{positionID}/increase
func (h *Handler) IncreasePosition(w http.ResponseWriter, r *http.Request) {
	key, ok := positionKey(w, r)
	if !ok {
		return
	}
	var req IncreaseRequest
	if !decode(w, r, &req, false) {
		return
	}
	pos, err := h.svc.IncreasePosition(r.Context(), caller(r), key, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Withdraw handles POST .../positions/{user}/{positionID}/withdraw
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	key, ok := positionKey(w, r)
	if !ok {
		return
	}
	var req WithdrawRequest
	if !decode(w, r, &req, false) {
		return
	}
	res, err := h.svc.WithdrawFromPosition(r.Context(), caller(r), key, req.Amount, req.MinPayout)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Cancel handles POST .../positions/{user}/{positionID}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	key, ok := positionKey(w, r)
	if !ok {
		return
	}
	var req CancelRequest
	if !decode(w, r, &req, true) {
		return
	}
	res, err := h.svc.CancelPosition(r.Context(), caller(r), key, req.MinPayout)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Claim handles POST .../positions/{user}/{positionID}/claim
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	key, ok := positionKey(w, r)
	if !ok {
		return
	}
	res, err := h.svc.ClaimWinnings(r.Context(), caller(r), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// QuoteExit handles GET .../positions/{user}/{positionID}/quote/exit?amount=N
func (h *Handler) QuoteExit(w http.ResponseWriter, r *http.Request) {
	key, ok := positionKey(w, r)
	if !ok {
		return
	}
	var amount uint64
	if raw := r.URL.Query().Get("amount"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: amount %q", model.ErrInvalidAmount, raw))
			return
		}
		amount = n
	}
	q, err := h.svc.QuoteExit(r.Context(), key, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// QuoteClaim handles GET .../positions/{user}/{positionID}/quote/claim
func (h *Handler) QuoteClaim(w http.ResponseWriter, r *http.Request) {
	key, ok := positionKey(w, r)
	if !ok {
		return
	}
	c, err := h.svc.QuoteClaim(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListUserPositions handles GET /api/v1/users/{user}/positions
func (h *Handler) ListUserPositions(w http.ResponseWriter, r *http.Request) {
	user, ok := textParam(w, r, "user")
	if !ok {
		return
	}
	positions, err := h.svc.UserPositions(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(positions))
}

// --- Accounts ---

// GetBalance handles GET /api/v1/accounts/{account}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	acct, ok := textParam(w, r, "account")
	if !ok {
		return
	}
	bal, err := h.svc.Balance(r.Context(), model.Account(acct))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Account: model.Account(acct), Balance: bal})
}

// ListTransfers handles GET /api/v1/accounts/{account}/transfers
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	acct, ok := textParam(w, r, "account")
	if !ok {
		return
	}
	transfers, err := h.svc.Transfers(r.Context(), model.Account(acct))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(transfers))
}

// Faucet handles POST /api/v1/accounts/{account}/faucet
func (h *Handler) Faucet(w http.ResponseWriter, r *http.Request) {
	acct, ok := textParam(w, r, "account")
	if !ok {
		return
	}
	var req FaucetRequest
	if !decode(w, r, &req, false) {
		return
	}
	if err := h.svc.Fund(r.Context(), acct, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	bal, err := h.svc.Balance(r.Context(), model.Account(acct))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Account: model.Account(acct), Balance: bal})
}

// --- Helpers ---

// decode reads a JSON body into v. With optional set, an empty body is
// accepted and leaves v at its zero value.
func decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeStatus(w, http.StatusBadRequest, "validation", "invalid request body")
		return false
	}
	return true
}

func uintParam(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	raw := chi.URLParam(r, name)
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "validation", fmt.Sprintf("invalid %s %q", name, raw))
		return 0, false
	}
	return n, true
}

// textParam returns a path-unescaped parameter, so escrow accounts can be
// addressed as escrow%2F0.
func textParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil || v == "" {
		writeStatus(w, http.StatusBadRequest, "validation", "invalid "+name)
		return "", false
	}
	return v, true
}

func positionKey(w http.ResponseWriter, r *http.Request) (model.PositionKey, bool) {
	marketID, ok := uintParam(w, r, "marketID")
	if !ok {
		return model.PositionKey{}, false
	}
	user, ok := textParam(w, r, "user")
	if !ok {
		return model.PositionKey{}, false
	}
	id, ok := uintParam(w, r, "positionID")
	if !ok {
		return model.PositionKey{}, false
	}
	return model.PositionKey{User: user, MarketID: marketID, ID: id}, true
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
