package trade

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-sim/internal/httpapi"
	"github.com/atmx/trading-sim/internal/model"
)

// Handler exposes Service over HTTP.
type Handler struct {
	svc *Service
	log zerolog.Logger
}

// NewHandler creates the account/trade HTTP handlers.
func NewHandler(svc *Service, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// --- Request types ---

// FundsRequest is the JSON body for POST /accounts/{accountID}/funds.
type FundsRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// TradeRequest is the JSON body for POST /accounts/{accountID}/trades.
type TradeRequest struct {
	AssetID  string          `json:"asset_id" validate:"required"`
	Kind     string          `json:"kind" validate:"required"` // BUY or SELL, any case
	Quantity decimal.Decimal `json:"quantity"`                 // must be positive
}

// HoldingsRequest is the JSON body for POST /accounts/{accountID}/holdings.
type HoldingsRequest struct {
	AssetID  string          `json:"asset_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

// --- HTTP Handlers ---

// ListAccounts handles GET /api/v1/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.ListAccounts(r.Context())
	if err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, accounts)
}

// CreateAccount handles POST /api/v1/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.svc.CreateAccount(r.Context())
	if err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, acct)
}

// GetAccount handles GET /api/v1/accounts/{accountID}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.svc.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, acct)
}

// DeleteAccount handles DELETE /api/v1/accounts/{accountID}
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAccount(r.Context(), chi.URLParam(r, "accountID")); err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreditHoldings handles POST /api/v1/accounts/{accountID}/holdings
func (h *Handler) CreditHoldings(w http.ResponseWriter, r *http.Request) {
	var req HoldingsRequest
	if err := httpapi.DecodeAndValidate(r, &req); err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	items, err := h.svc.CreditHoldings(r.Context(), chi.URLParam(r, "accountID"), req.AssetID, req.Quantity)
	if err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, items)
}

// AddFunds handles POST /api/v1/accounts/{accountID}/funds
func (h *Handler) AddFunds(w http.ResponseWriter, r *http.Request) {
	var req FundsRequest
	if err := httpapi.DecodeAndValidate(r, &req); err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	acct, err := h.svc.AddFunds(r.Context(), chi.URLParam(r, "accountID"), req.Amount)
	if err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, model.Balance{CashBalance: acct.CashBalance, Profit: acct.Profit})
}

// ExecuteTrade handles POST /api/v1/accounts/{accountID}/trades
func (h *Handler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := httpapi.DecodeAndValidate(r, &req); err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	kind, ok := model.ParseTradeKind(req.Kind)
	if !ok {
		httpapi.WriteError(w, "kind must be BUY or SELL", http.StatusBadRequest)
		return
	}

	res, err := h.svc.ExecuteTrade(r.Context(), chi.URLParam(r, "accountID"), kind, req.AssetID, req.Quantity)
	if err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, res)
}

// GetWallet handles GET /api/v1/accounts/{accountID}/wallet
// Returns holdings plus cash balance and profit.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := chi.URLParam(r, "accountID")

	balance, err := h.svc.GetProfitAndBalance(ctx, accountID)
	if err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	items, err := h.svc.GetWalletDetails(ctx, accountID)
	if err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"cash_balance": balance.CashBalance,
		"profit":       balance.Profit,
		"holdings":     items,
	})
}

// GetTransactions handles GET /api/v1/accounts/{accountID}/transactions
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.svc.GetTransactionHistory(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		httpapi.WriteServiceError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, txs)
}

// Routes mounts the handlers on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/accounts", h.ListAccounts)
	r.Post("/accounts", h.CreateAccount)
	r.Get("/accounts/{accountID}", h.GetAccount)
	r.Delete("/accounts/{accountID}", h.DeleteAccount)
	r.Post("/accounts/{accountID}/holdings", h.CreditHoldings)
	r.Post("/accounts/{accountID}/funds", h.AddFunds)
	r.Post("/accounts/{accountID}/trades", h.ExecuteTrade)
	r.Get("/accounts/{accountID}/wallet", h.GetWallet)
	r.Get("/accounts/{accountID}/transactions", h.GetTransactions)
}
