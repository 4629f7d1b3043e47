package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sheikh-saqib/coin-tip-ledger/internal/ledger"
	"github.com/sheikh-saqib/coin-tip-ledger/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the part of the settlement engine the HTTP API exposes.
type Ledger interface {
	GetBalance(ctx context.Context, account string) (ledger.Balance, error)
	GetOrIssueAddress(ctx context.Context, account string) (models.AddressBinding, error)
	Addresses(ctx context.Context, account string) ([]models.AddressBinding, error)
	Move(ctx context.Context, from, to, amountSpec string) (decimal.Decimal, error)
	RequestWithdrawal(ctx context.Context, account, address, amountSpec string) (models.WithdrawalRequest, error)
	NotifyTransaction(ctx context.Context, txid string) (ledger.AttributionResult, error)
	Sweep(ctx context.Context) (ledger.SweepResult, error)
	ExecuteWithdrawals(ctx context.Context) (ledger.BatchResult, error)
	StaleWithdrawals(ctx context.Context) ([]models.WithdrawalRequest, error)
}

type Handler struct {
	ledger Ledger
	logger *zap.Logger
}

func NewHandler(l Ledger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ledger: l, logger: logger}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)

	mux.HandleFunc("GET /accounts/{id}/balance", h.balance)
	mux.HandleFunc("GET /accounts/{id}/address", h.address)
	mux.HandleFunc("GET /accounts/{id}/addresses", h.addresses)
	mux.HandleFunc("POST /transfers", h.transfer)
	mux.HandleFunc("POST /withdrawals", h.withdraw)

	// deposit event source, e.g. walletnotify=curl -X POST .../notify/%s
	mux.HandleFunc("POST /notify/{txid}", h.notify)

	mux.HandleFunc("POST /admin/sweep", h.sweep)
	mux.HandleFunc("POST /admin/withdrawals/execute", h.executeWithdrawals)
	mux.HandleFunc("GET /admin/withdrawals/stale", h.staleWithdrawals)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type balanceResponse struct {
	AccountID  string          `json:"account_id"`
	Balance    decimal.Decimal `json:"balance"`
	Confirming decimal.Decimal `json:"confirming"`
	Display    string          `json:"display"`
}

// accountID reads the account from the path. An optional namespace query
// parameter prefixes it, e.g. /accounts/42/balance?namespace=twitter.
func accountID(r *http.Request) string {
	id := r.PathValue("id")
	if ns := r.URL.Query().Get("namespace"); ns != "" {
		return models.AccountKey(ns, id)
	}
	return id
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	account := accountID(r)

	b, err := h.ledger.GetBalance(r.Context(), account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	display := models.FormatAmount(b.Settled)
	if !b.Confirming.IsZero() {
		display += " (+" + models.FormatAmount(b.Confirming) + " confirming)"
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		AccountID:  account,
		Balance:    b.Settled,
		Confirming: b.Confirming,
		Display:    display,
	})
}

type addressResponse struct {
	AccountID string    `json:"account_id"`
	Address   string    `json:"address"`
	IssuedAt  time.Time `json:"issued_at"`
}

func (h *Handler) address(w http.ResponseWriter, r *http.Request) {
	binding, err := h.ledger.GetOrIssueAddress(r.Context(), accountID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addressResponse{
		AccountID: binding.Account,
		Address:   binding.Address,
		IssuedAt:  binding.IssuedAt,
	})
}

func (h *Handler) addresses(w http.ResponseWriter, r *http.Request) {
	bindings, err := h.ledger.Addresses(r.Context(), accountID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]addressResponse, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, addressResponse{AccountID: b.Account, Address: b.Address, IssuedAt: b.IssuedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

type transferRequest struct {
	FromAccount string `json:"from_account"`
	ToAccount   string `json:"to_account"`
	Amount      string `json:"amount"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.FromAccount == "" || req.ToAccount == "" {
		http.Error(w, "from_account and to_account are mandatory fields", http.StatusBadRequest)
		return
	}

	amount, err := h.ledger.Move(r.Context(), req.FromAccount, req.ToAccount, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"from_account": req.FromAccount,
		"to_account":   req.ToAccount,
		"amount":       amount,
		"display":      models.FormatAmount(amount),
	})
}

type withdrawalRequest struct {
	Account string `json:"account"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type withdrawalResponse struct {
	ID          string          `json:"id"`
	Account     string          `json:"account"`
	Address     string          `json:"address"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	PaymentTxID string          `json:"payment_txid,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toWithdrawalResponse(w models.WithdrawalRequest) withdrawalResponse {
	return withdrawalResponse{
		ID:          w.ID.String(),
		Account:     w.Account,
		Address:     w.Address,
		Amount:      w.Amount,
		Status:      w.Status.String(),
		PaymentTxID: w.PaymentTxID,
		CreatedAt:   w.CreatedAt,
	}
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" || req.Address == "" {
		http.Error(w, "account and address are mandatory fields", http.StatusBadRequest)
		return
	}

	wr, err := h.ledger.RequestWithdrawal(r.Context(), req.Account, req.Address, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawalResponse(wr))
}

func (h *Handler) notify(w http.ResponseWriter, r *http.Request) {
	result, err := h.ledger.NotifyTransaction(r.Context(), r.PathValue("txid"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"txid":      result.TxID,
		"duplicate": result.Duplicate,
		"state":     result.State.String(),
		"matches":   result.Matches,
	})
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.ledger.Sweep(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checked":  result.Checked,
		"waiting":  result.Waiting,
		"settled":  result.Settled,
		"errored":  result.Errored,
		"credited": result.Credited,
	})
}

func (h *Handler) executeWithdrawals(w http.ResponseWriter, r *http.Request) {
	result, err := h.ledger.ExecuteWithdrawals(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body := map[string]any{
		"batch_id":     result.BatchID.String(),
		"outcome":      result.Outcome,
		"requests":     result.Requests,
		"payouts":      result.Payouts,
		"payment_txid": result.PaymentTxID,
	}
	if result.PaymentErr != nil {
		body["payment_error"] = result.PaymentErr.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) staleWithdrawals(w http.ResponseWriter, r *http.Request) {
	stale, err := h.ledger.StaleWithdrawals(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]withdrawalResponse, 0, len(stale))
	for _, s := range stale {
		out = append(out, toWithdrawalResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusFor maps a ledger error kind to an HTTP status code.
func StatusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindInvalidAmount, models.KindBelowMinimum, models.KindSelfTransfer, models.KindInvalidAddress:
		return http.StatusBadRequest
	case models.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case models.KindExternalCallFailure:
		return http.StatusBadGateway
	case models.KindStoreContention:
		return http.StatusServiceUnavailable
	case models.KindInvariantViolation, models.KindUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := models.KindOf(err)
	status := StatusFor(kind)
	if errors.Is(err, context.Canceled) {
		status = http.StatusRequestTimeout
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.String("kind", kind.String()), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: kind.String(), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
