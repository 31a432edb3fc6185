/*
handlers.go - HTTP API handlers for the finance engine

PURPOSE:
  Exposes the ledger, settlement, debt and position engines via REST.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                    List accounts
    POST   /api/accounts                    Create account
    GET    /api/accounts/{id}/balance       Derived balance
    GET    /api/accounts/{id}/movements     Movement history

  Ledger:
    POST   /api/movements                   Append a movement

  Settlement:
    POST   /api/payments/{id}/pay           Mark customer payment paid
    POST   /api/operator-payments/{id}/pay  Mark operator payment paid
    POST   /api/expenses/{id}/pay           Mark expense paid

  Debt:
    GET    /api/operations/{id}/debt        Per-operation outstanding
    GET    /api/operations/{id}/movements   Per-operation audit trail
    GET    /api/debtors                     Receivables rollup
    GET    /api/creditors                   Payables rollup

  Position:
    GET    /api/position/{year}/{month}     Monthly financial position

  FX:
    GET    /api/fx/{date}                   Resolved rate for a date
    POST   /api/fx                          Record an official rate

  Reconciliation:
    POST   /api/reconciliation/run          Trigger consistency sweep

  Scenarios:
    GET    /api/scenarios                   List demo scenarios
    POST   /api/scenarios/load              Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (already paid, duplicate idempotency key)
  - 422: Insufficient data (no exchange rate recorded at all)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. The engine is meant to
  sit behind the CRM backend, not face the public internet.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/altiplano/finance-engine/ledger"
	"github.com/altiplano/finance-engine/payments"
	"github.com/altiplano/finance-engine/position"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store payments.Store
	Rates ledger.RateStore

	Ledger     *ledger.Ledger
	Balances   *ledger.BalanceCalculator
	FX         *ledger.Resolver
	Settlement *payments.SettlementService
	Debt       *payments.Aggregator
	Reconciler *payments.Reconciler
	Position   *position.Compiler

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires the domain services around one store.
func NewHandler(store payments.Store, rates ledger.RateStore, capital decimal.Decimal, fxTimeout time.Duration) *Handler {
	fx := &ledger.Resolver{Rates: rates, Timeout: fxTimeout}
	return &Handler{
		Store:      store,
		Rates:      rates,
		Ledger:     ledger.New(store),
		Balances:   &ledger.BalanceCalculator{Store: store},
		FX:         fx,
		Settlement: &payments.SettlementService{Store: store, FX: fx},
		Debt:       &payments.Aggregator{Store: store},
		Reconciler: &payments.Reconciler{Store: store},
		Position:   &position.Compiler{Store: store, FX: fx, Capital: capital},
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts, optionally scoped to one agency.
// GET /api/accounts?agency=
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.Accounts(r.Context(), r.URL.Query().Get("agency"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAccount creates a financial account.
// POST /api/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	initial := decimal.Zero
	if req.InitialBalance != "" {
		var err error
		initial, err = decimal.NewFromString(req.InitialBalance)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid initial_balance", err)
			return
		}
	}

	id := ledger.AccountID(req.ID)
	if id == "" {
		id = ledger.AccountID(uuid.NewString())
	}

	account, err := ledger.NewAccount(id, req.Name, ledger.AccountType(req.Type), initial, req.AgencyID)
	if err != nil {
		writeDomainError(w, "Failed to create account", err)
		return
	}
	if err := h.Store.SaveAccount(r.Context(), account); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

// GetBalance returns the derived balance of one account.
// GET /api/accounts/{id}/balance?as_of=2025-06-30
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.AccountID(chi.URLParam(r, "id"))

	account, err := h.Store.Account(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to load account", err)
		return
	}

	dto := BalanceDTO{AccountID: string(id), Currency: string(account.Currency)}

	if asOf := r.URL.Query().Get("as_of"); asOf != "" {
		cutoff, err := parseDate(asOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
			return
		}
		balance, err := h.Balances.BalanceAsOf(ctx, id, endOfDay(cutoff))
		if err != nil {
			writeDomainError(w, "Failed to calculate balance", err)
			return
		}
		dto.Balance = balance.String()
		dto.AsOf = asOf
		writeJSON(w, http.StatusOK, dto)
		return
	}

	balance, err := h.Balances.Balance(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to calculate balance", err)
		return
	}
	dto.Balance = balance.String()
	writeJSON(w, http.StatusOK, dto)
}

// GetMovements returns an account's movement history, oldest first.
// GET /api/accounts/{id}/movements
func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	if _, err := h.Store.Account(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to load account", err)
		return
	}
	movements, err := h.Store.Movements(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list movements", err)
		return
	}

	dtos := make([]MovementDTO, len(movements))
	for i, m := range movements {
		dtos[i] = toMovementDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// AppendMovement records a movement in the ledger.
// POST /api/movements
func (h *Handler) AppendMovement(w http.ResponseWriter, r *http.Request) {
	var req AppendMovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	m, err := movementFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid movement", err)
		return
	}

	id, err := h.Ledger.Append(r.Context(), m)
	if err != nil {
		writeDomainError(w, "Failed to append movement", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"movement_id": string(id)})
}

func movementFromRequest(req AppendMovementRequest) (ledger.Movement, error) {
	amount, err := decimal.NewFromString(req.AmountOriginal)
	if err != nil {
		return ledger.Movement{}, fmt.Errorf("invalid amount_original: %w", err)
	}

	var rate *decimal.Decimal
	if req.ExchangeRate != "" {
		r, err := decimal.NewFromString(req.ExchangeRate)
		if err != nil {
			return ledger.Movement{}, fmt.Errorf("invalid exchange_rate: %w", err)
		}
		rate = &r
	}

	var arsEquivalent decimal.Decimal
	switch {
	case req.AmountARSEquivalent != "":
		arsEquivalent, err = decimal.NewFromString(req.AmountARSEquivalent)
		if err != nil {
			return ledger.Movement{}, fmt.Errorf("invalid amount_ars_equivalent: %w", err)
		}
	case req.Currency == string(ledger.ARS):
		arsEquivalent = amount
	case rate != nil:
		arsEquivalent = ledger.RoundMoney(amount.Mul(*rate))
	}

	return ledger.Movement{
		ID:                  ledger.MovementID(uuid.NewString()),
		Type:                ledger.MovementType(req.Type),
		Concept:             req.Concept,
		Currency:            ledger.Currency(req.Currency),
		AmountOriginal:      amount,
		ExchangeRate:        rate,
		AmountARSEquivalent: arsEquivalent,
		AccountID:           ledger.AccountID(req.AccountID),
		OperationID:         ledger.OperationID(req.OperationID),
		LeadID:              req.LeadID,
		SellerID:            req.SellerID,
		OperatorID:          req.OperatorID,
		CreatedBy:           req.CreatedBy,
		CreatedAt:           time.Now().UTC(),
		ReceiptNumber:       req.ReceiptNumber,
		IdempotencyKey:      req.IdempotencyKey,
	}, nil
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// MarkPaymentPaid settles a customer payment.
// POST /api/payments/{id}/pay
func (h *Handler) MarkPaymentPaid(w http.ResponseWriter, r *http.Request) {
	h.markPaid(w, r, h.Settlement.MarkPaymentPaid)
}

// MarkOperatorPaymentPaid settles a payable to an operator.
// POST /api/operator-payments/{id}/pay
func (h *Handler) MarkOperatorPaymentPaid(w http.ResponseWriter, r *http.Request) {
	h.markPaid(w, r, h.Settlement.MarkOperatorPaymentPaid)
}

// MarkExpensePaid settles a non-operator expense obligation.
// POST /api/expenses/{id}/pay
func (h *Handler) MarkExpensePaid(w http.ResponseWriter, r *http.Request) {
	h.markPaid(w, r, h.Settlement.MarkExpensePaid)
}

type settleFunc func(ctx context.Context, id string, accountID ledger.AccountID, actor string) (ledger.MovementID, error)

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request, settle settleFunc) {
	var req MarkPaidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required", nil)
		return
	}

	movementID, err := settle(r.Context(), chi.URLParam(r, "id"), ledger.AccountID(req.AccountID), req.Actor)
	if err != nil {
		writeDomainError(w, "Failed to settle", err)
		return
	}
	writeJSON(w, http.StatusOK, MarkPaidResponse{
		Status:     string(payments.StatusPaid),
		MovementID: string(movementID),
	})
}

// =============================================================================
// DEBT HANDLERS
// =============================================================================

// GetOperationDebt returns the outstanding receivable and payable for
// one operation.
// GET /api/operations/{id}/debt
func (h *Handler) GetOperationDebt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.OperationID(chi.URLParam(r, "id"))

	op, err := h.Store.Operation(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to load operation", err)
		return
	}

	receivable, err := h.Debt.Debt(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to calculate debt", err)
		return
	}
	payable, err := h.Debt.PayableDebt(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to calculate payable", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"operation_id":     string(id),
		"sale_currency":    string(op.SaleCurrency),
		"receivable_debt":  receivable.String(),
		"payable_currency": string(op.OperatorCostCurrency),
		"payable_debt":     payable.String(),
	})
}

// ListOperationMovements returns the audit trail for one operation:
// every ledger movement referencing it, across accounts, oldest first.
// GET /api/operations/{id}/movements
func (h *Handler) ListOperationMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.OperationID(chi.URLParam(r, "id"))

	if _, err := h.Store.Operation(ctx, id); err != nil {
		writeDomainError(w, "Failed to load operation", err)
		return
	}

	movements, err := h.Store.MovementsByOperation(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to load movements", err)
		return
	}

	dtos := make([]MovementDTO, len(movements))
	for i, m := range movements {
		dtos[i] = toMovementDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListDebtors returns customers with outstanding receivables.
// GET /api/debtors?from&to&seller&currency&q&agency
func (h *Handler) ListDebtors(w http.ResponseWriter, r *http.Request) {
	filters, err := filtersFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filters", err)
		return
	}

	debtors, err := h.Debt.Debtors(r.Context(), filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list debtors", err)
		return
	}

	dtos := make([]DebtorDTO, len(debtors))
	for i, d := range debtors {
		dtos[i] = DebtorDTO{
			CustomerID:   d.Customer.ID,
			CustomerName: d.Customer.Name,
			TotalARS:     d.TotalARS.String(),
			TotalUSD:     d.TotalUSD.String(),
			Operations:   toOperationDebtDTOs(d.Operations),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListCreditors returns operators the agency owes.
// GET /api/creditors?from&to&seller&currency&agency
func (h *Handler) ListCreditors(w http.ResponseWriter, r *http.Request) {
	filters, err := filtersFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filters", err)
		return
	}

	creditors, err := h.Debt.Creditors(r.Context(), filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list creditors", err)
		return
	}

	dtos := make([]CreditorDTO, len(creditors))
	for i, c := range creditors {
		dtos[i] = CreditorDTO{
			OperatorID: c.OperatorID,
			TotalARS:   c.TotalARS.String(),
			TotalUSD:   c.TotalUSD.String(),
			Operations: toOperationDebtDTOs(c.Operations),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func filtersFromQuery(r *http.Request) (payments.Filters, error) {
	q := r.URL.Query()
	f := payments.Filters{
		SellerID:      q.Get("seller"),
		CustomerQuery: q.Get("q"),
		AgencyID:      q.Get("agency"),
	}
	if c := q.Get("currency"); c != "" {
		currency, err := ledger.ParseCurrency(c)
		if err != nil {
			return f, err
		}
		f.Currency = currency
	}
	if from := q.Get("from"); from != "" {
		t, err := parseDate(from)
		if err != nil {
			return f, fmt.Errorf("invalid from date: %w", err)
		}
		f.From = &t
	}
	if to := q.Get("to"); to != "" {
		t, err := parseDate(to)
		if err != nil {
			return f, fmt.Errorf("invalid to date: %w", err)
		}
		end := endOfDay(t)
		f.To = &end
	}
	return f, nil
}

// =============================================================================
// POSITION HANDLERS
// =============================================================================

// GetPosition compiles the monthly financial position.
// GET /api/position/{year}/{month}?agency=&rate=
// The optional rate parameter overrides the resolved reference rate for
// what-if reporting; stored rates are never touched.
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 2000 || year > 2200 {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}

	compiler := h.Position
	if override := r.URL.Query().Get("rate"); override != "" {
		rate, err := decimal.NewFromString(override)
		if err != nil || rate.LessThanOrEqual(decimal.Zero) {
			writeError(w, http.StatusBadRequest, "Invalid rate override", err)
			return
		}
		c := *h.Position
		c.FX = h.FX.WithOverride(rate)
		compiler = &c
	}

	pos, err := compiler.Compile(r.Context(), ledger.MonthPeriod(year, time.Month(month)), r.URL.Query().Get("agency"))
	if err != nil {
		writeDomainError(w, "Failed to compile position", err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionDTO(pos))
}

// =============================================================================
// FX HANDLERS
// =============================================================================

// GetRate returns the rate the resolver would use for a date.
// GET /api/fx/{date}
func (h *Handler) GetRate(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	rate, err := h.FX.RateFor(r.Context(), date)
	if err != nil {
		writeDomainError(w, "Failed to resolve rate", err)
		return
	}
	writeJSON(w, http.StatusOK, RateDTO{
		Date: date.Format("2006-01-02"),
		Rate: rate.String(),
	})
}

// SaveRate records the official rate for a date.
// POST /api/fx
func (h *Handler) SaveRate(w http.ResponseWriter, r *http.Request) {
	var req SaveRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil || rate.LessThanOrEqual(decimal.Zero) {
		writeError(w, http.StatusBadRequest, "Invalid rate", err)
		return
	}

	if err := h.Rates.SaveRate(r.Context(), date, rate); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rate", err)
		return
	}
	writeJSON(w, http.StatusCreated, RateDTO{
		Date: date.Format("2006-01-02"),
		Rate: rate.String(),
	})
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// RunReconciliation triggers a consistency sweep and returns the report.
// POST /api/reconciliation/run
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reconciler.Sweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to run sweep", err)
		return
	}

	dto := ReconciliationReportDTO{
		RanAt:            report.RanAt.Format(time.RFC3339),
		CheckedMovements: report.CheckedMovements,
		CheckedPayments:  report.CheckedPayments,
		Clean:            report.Clean(),
		Orphans:          []OrphanDTO{},
		Dangling:         []DanglingDTO{},
	}
	for _, o := range report.Orphans {
		dto.Orphans = append(dto.Orphans, OrphanDTO{
			MovementID:  string(o.MovementID),
			OperationID: string(o.OperationID),
			Amount:      o.Amount.String(),
			Currency:    string(o.Currency),
		})
	}
	for _, d := range report.Dangling {
		dto.Dangling = append(dto.Dangling, DanglingDTO{
			PaymentID:  d.PaymentID,
			MovementID: string(d.MovementID),
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func toAccountDTO(a ledger.FinancialAccount) AccountDTO {
	return AccountDTO{
		ID:             string(a.ID),
		Name:           a.Name,
		Type:           string(a.Type),
		Currency:       string(a.Currency),
		InitialBalance: a.InitialBalance.String(),
		IsActive:       a.IsActive,
		AgencyID:       a.AgencyID,
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
	}
}

func toMovementDTO(m ledger.Movement) MovementDTO {
	dto := MovementDTO{
		ID:                  string(m.ID),
		Type:                string(m.Type),
		Concept:             m.Concept,
		Currency:            string(m.Currency),
		AmountOriginal:      m.AmountOriginal.String(),
		AmountARSEquivalent: m.AmountARSEquivalent.String(),
		AccountID:           string(m.AccountID),
		OperationID:         string(m.OperationID),
		SellerID:            m.SellerID,
		OperatorID:          m.OperatorID,
		CreatedBy:           m.CreatedBy,
		CreatedAt:           m.CreatedAt.Format(time.RFC3339),
		ReceiptNumber:       m.ReceiptNumber,
	}
	if m.ExchangeRate != nil {
		dto.ExchangeRate = m.ExchangeRate.String()
	}
	return dto
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, time.UTC)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientData):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case errors.Is(err, ledger.ErrFxUnavailable):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
