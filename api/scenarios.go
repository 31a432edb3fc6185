/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates accounts, operations,
	payments, and movements that demonstrate specific features.

AVAILABLE SCENARIOS:

	ars-cash-month:  ARS-only month: incomes, expenses, a clean position
	usd-operation:   USD sale collected in installments, operator unpaid
	cross-currency:  ARS collection settling into a USD account

HOW SCENARIOS WORK:
 1. Seed exchange rates
 2. Create accounts
 3. Create operations with their payment plans
 4. Settle some payments through the real settlement path

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "usd-operation"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios are additive and assume a fresh database. Only use in
	development/demo environments.

SEE ALSO:
  - handlers.go: writeJSON/writeError plumbing
  - server.go: /api/scenarios routes
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/altiplano/finance-engine/ledger"
	"github.com/altiplano/finance-engine/payments"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "ars-cash-month",
		Name:        "ARS Cash Month",
		Description: "Single-currency month with incomes, expenses and a balanced position",
	},
	{
		ID:          "usd-operation",
		Name:        "USD Operation",
		Description: "USD sale collected in installments, operator still unpaid",
	},
	{
		ID:          "cross-currency",
		Name:        "Cross-Currency Settlement",
		Description: "ARS collection settling into a USD account at the daily rate",
	},
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	var err error
	switch req.ScenarioID {
	case "ars-cash-month":
		err = h.loadARSCashMonthScenario(ctx)
	case "usd-operation":
		err = h.loadUSDOperationScenario(ctx)
	case "cross-currency":
		err = h.loadCrossCurrencyScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "loaded",
		"scenario_id": req.ScenarioID,
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadARSCashMonthScenario(ctx context.Context) error {
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	if err := h.Rates.SaveRate(ctx, monthStart, decimal.NewFromInt(1000)); err != nil {
		return err
	}

	caja, err := ledger.NewAccount("demo-caja-ars", "Caja ARS", ledger.AccountCashARS,
		ledger.MustDecimal("500000"), "demo")
	if err != nil {
		return err
	}
	if err := h.Store.SaveAccount(ctx, caja); err != nil {
		return err
	}

	seed := []struct {
		id      string
		typ     ledger.MovementType
		concept string
		amount  string
	}{
		{"demo-mv-1", ledger.MovementIncome, "Seña paquete Bariloche", "350000"},
		{"demo-mv-2", ledger.MovementIncome, "Saldo paquete Mendoza", "820000"},
		{"demo-mv-3", ledger.MovementExpense, "Alquiler oficina", "400000"},
		{"demo-mv-4", ledger.MovementCommission, "Comisión vendedor", "95000"},
	}
	for i, s := range seed {
		amount := ledger.MustDecimal(s.amount)
		_, err := h.Ledger.Append(ctx, ledger.Movement{
			ID:                  ledger.MovementID(s.id),
			Type:                s.typ,
			Concept:             s.concept,
			Currency:            ledger.ARS,
			AmountOriginal:      amount,
			AmountARSEquivalent: amount,
			AccountID:           caja.ID,
			CreatedBy:           "demo",
			CreatedAt:           monthStart.AddDate(0, 0, 2+i),
			IdempotencyKey:      "scenario-" + s.id,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadUSDOperationScenario(ctx context.Context) error {
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	if err := h.Rates.SaveRate(ctx, monthStart, decimal.NewFromInt(1050)); err != nil {
		return err
	}

	banco, err := ledger.NewAccount("demo-banco-usd", "Banco USD", ledger.AccountCheckingUSD,
		ledger.MustDecimal("10000"), "demo")
	if err != nil {
		return err
	}
	if err := h.Store.SaveAccount(ctx, banco); err != nil {
		return err
	}

	op := payments.Operation{
		ID:                   "demo-op-cancun",
		FileCode:             "FILE-2031",
		Destination:          "Cancún",
		SaleAmountTotal:      ledger.MustDecimal("4800"),
		SaleCurrency:         ledger.USD,
		OperatorCost:         ledger.MustDecimal("3600"),
		OperatorCostCurrency: ledger.USD,
		OperatorID:           "operator-caribe",
		SellerID:             "seller-lucia",
		AgencyID:             "demo",
		Customers:            []payments.Customer{{ID: "cust-perez", Name: "Familia Pérez"}},
		CreatedAt:            monthStart,
	}
	if err := h.Store.SaveOperation(ctx, op); err != nil {
		return err
	}

	installments := []payments.Payment{
		{
			ID: "demo-pay-1", OperationID: op.ID,
			PayerType: payments.PayerCustomer, Direction: payments.DirectionInbound,
			Method: payments.MethodTransfer,
			Amount: ledger.MustDecimal("2400"), Currency: ledger.USD,
			DateDue: monthStart.AddDate(0, 0, 5), Status: payments.StatusPending,
			CreatedAt: monthStart,
		},
		{
			ID: "demo-pay-2", OperationID: op.ID,
			PayerType: payments.PayerCustomer, Direction: payments.DirectionInbound,
			Method: payments.MethodTransfer,
			Amount: ledger.MustDecimal("2400"), Currency: ledger.USD,
			DateDue: monthStart.AddDate(0, 1, 5), Status: payments.StatusPending,
			CreatedAt: monthStart,
		},
	}
	for _, p := range installments {
		if err := h.Store.SavePayment(ctx, p); err != nil {
			return err
		}
	}

	// First installment collected; the second stays pending so debtors
	// and the position report have something to show.
	if _, err := h.Settlement.MarkPaymentPaid(ctx, "demo-pay-1", banco.ID, "demo"); err != nil {
		return err
	}

	return h.Store.SaveOperatorPayment(ctx, payments.OperatorPayment{
		ID:          "demo-oppay-1",
		OperatorID:  op.OperatorID,
		OperationID: op.ID,
		Amount:      op.OperatorCost,
		Currency:    ledger.USD,
		DateDue:     monthStart.AddDate(0, 1, 0),
		Status:      payments.StatusPending,
		PaidAmount:  decimal.Zero,
		CreatedAt:   monthStart,
	})
}

func (h *Handler) loadCrossCurrencyScenario(ctx context.Context) error {
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	if err := h.Rates.SaveRate(ctx, monthStart, decimal.NewFromInt(1200)); err != nil {
		return err
	}

	banco, err := ledger.NewAccount("demo-banco-mixto", "Banco USD Mixto", ledger.AccountCheckingUSD,
		ledger.MustDecimal("5000"), "demo")
	if err != nil {
		return err
	}
	if err := h.Store.SaveAccount(ctx, banco); err != nil {
		return err
	}

	op := payments.Operation{
		ID:                   "demo-op-brasil",
		FileCode:             "FILE-2032",
		Destination:          "Florianópolis",
		SaleAmountTotal:      ledger.MustDecimal("1800000"),
		SaleCurrency:         ledger.ARS,
		OperatorCost:         ledger.MustDecimal("1100"),
		OperatorCostCurrency: ledger.USD,
		OperatorID:           "operator-brasil",
		SellerID:             "seller-marcos",
		AgencyID:             "demo",
		Customers:            []payments.Customer{{ID: "cust-gomez", Name: "Gómez Viajes Grupo"}},
		CreatedAt:            monthStart,
	}
	if err := h.Store.SaveOperation(ctx, op); err != nil {
		return err
	}

	if err := h.Store.SavePayment(ctx, payments.Payment{
		ID: "demo-pay-ars", OperationID: op.ID,
		PayerType: payments.PayerCustomer, Direction: payments.DirectionInbound,
		Method: payments.MethodCash,
		Amount: ledger.MustDecimal("1800000"), Currency: ledger.ARS,
		DateDue: monthStart.AddDate(0, 0, 3), Status: payments.StatusPending,
		CreatedAt: monthStart,
	}); err != nil {
		return err
	}

	// An ARS collection settling into a USD account: the settlement
	// captures the daily rate so the USD leg stays derivable.
	if _, err := h.Settlement.MarkPaymentPaid(ctx, "demo-pay-ars", banco.ID, "demo"); err != nil {
		return err
	}

	return h.Store.SaveExpense(ctx, payments.ExpenseObligation{
		ID:        "demo-exp-1",
		Concept:   "Publicidad temporada",
		Amount:    ledger.MustDecimal("250000"),
		Currency:  ledger.ARS,
		DateDue:   monthStart.AddDate(0, 0, 20),
		Status:    payments.StatusPending,
		AgencyID:  "demo",
		CreatedAt: monthStart,
	})
}
