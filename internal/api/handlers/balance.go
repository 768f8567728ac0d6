package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/baharkarakas/balance-ledger/internal/api/httpx"
	"github.com/baharkarakas/balance-ledger/internal/api/validate"
	"github.com/baharkarakas/balance-ledger/internal/middleware"
	"github.com/baharkarakas/balance-ledger/internal/models"
	"github.com/baharkarakas/balance-ledger/internal/services"
)

const (
	amountScale  = 18
	amountDigits = 18
)

type BalanceHandler struct {
	Txns     *services.TransactionService
	Balances *services.BalanceService
}

func NewBalanceHandler(ts *services.TransactionService, bs *services.BalanceService) *BalanceHandler {
	return &BalanceHandler{Txns: ts, Balances: bs}
}

func (h *BalanceHandler) IssueTransactions(w http.ResponseWriter, r *http.Request) {
	var req models.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed body", nil)
		return
	}
	var errs validate.Errs
	if len(req.Transactions) == 0 {
		errs.Add(&validate.ErrField{Field: "transactions", Msg: "required"})
	}
	for i, e := range req.Transactions {
		errs.Add(validate.Required(fmt.Sprintf("transactions[%d].user_id", i), e.UserID))
		field := fmt.Sprintf("transactions[%d].amount", i)
		errs.Add(validate.MaxExp(field, e.Amount, amountScale))
		errs.Add(validate.MaxDigits(field, e.Amount, amountDigits))
	}
	if len(errs) > 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "validation failed", errs)
		return
	}

	if err := h.Txns.IssueTransactions(r.Context(), middleware.Actor(r.Context()), req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.Envelope{Success: true})
}

func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.Balances.GetBalance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteOK(w, bal)
}

func (h *BalanceHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset := 50, 0
	var errs validate.Errs
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			n = -1
		}
		errs.Add(validate.MinInt("limit", int64(n), 1))
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			n = -1
		}
		errs.Add(validate.MinInt("offset", int64(n), 0))
		offset = n
	}
	if len(errs) > 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "validation failed", errs)
		return
	}

	txns, err := h.Balances.ListTransactions(r.Context(), chi.URLParam(r, "userID"), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if txns == nil {
		txns = []models.BalanceTransaction{}
	}
	httpx.WriteOK(w, txns)
}

func (h *BalanceHandler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Balances.VerifyLedger(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteOK(w, rep)
}
