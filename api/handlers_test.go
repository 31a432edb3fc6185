/*
handlers_test.go - HTTP-level tests for the API

Tests run against the full router with the in-memory store, exercising
the same paths a browser client would hit: account creation, manual
movements, settlement, the monthly position and the FX endpoints.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/altiplano/finance-engine/ledger"
	"github.com/altiplano/finance-engine/ledger/store"
	"github.com/altiplano/finance-engine/payments"
	"github.com/shopspring/decimal"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	h := NewHandler(s, s, decimal.Zero, 2*time.Second)
	server := httptest.NewServer(NewRouter(h, nil))
	t.Cleanup(server.Close)
	return server, s
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d", want, resp.StatusCode)
	}
}

// =============================================================================
// ACCOUNTS AND MOVEMENTS
// =============================================================================

func TestCreateAccount_AppendMovement_Balance(t *testing.T) {
	// GIVEN: A fresh ARS cash account with an initial balance
	// WHEN: Appending an income movement and reading the balance
	// THEN: Balance = initial + movement

	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/accounts", CreateAccountRequest{
		ID:             "caja",
		Name:           "Caja Pesos",
		Type:           "CASH_ARS",
		InitialBalance: "10000",
		AgencyID:       "agency-1",
	})
	expectStatus(t, resp, http.StatusCreated)
	var account AccountDTO
	decodeBody(t, resp, &account)
	if account.Currency != "ARS" {
		t.Errorf("expected ARS currency derived from type, got %s", account.Currency)
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/api/movements", AppendMovementRequest{
		Type:           "INCOME",
		Concept:        "Cobro cuota",
		Currency:       "ARS",
		AmountOriginal: "5000",
		AccountID:      "caja",
		CreatedBy:      "maria",
	})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, server.URL+"/api/accounts/caja/balance", nil)
	expectStatus(t, resp, http.StatusOK)
	var balance BalanceDTO
	decodeBody(t, resp, &balance)
	if balance.Balance != "15000" {
		t.Errorf("expected balance 15000, got %s", balance.Balance)
	}
}

func TestAppendMovement_InvalidType_Rejected(t *testing.T) {
	server, _ := newTestServer(t)

	doJSON(t, http.MethodPost, server.URL+"/api/accounts", CreateAccountRequest{
		ID: "caja", Name: "Caja", Type: "CASH_ARS",
	}).Body.Close()

	resp := doJSON(t, http.MethodPost, server.URL+"/api/movements", AppendMovementRequest{
		Type:           "TRANSFER",
		Currency:       "ARS",
		AmountOriginal: "5000",
		AccountID:      "caja",
	})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestGetBalance_UnknownAccount_NotFound(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/accounts/nope/balance", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestMarkPaymentPaid_SecondCallConflicts(t *testing.T) {
	// GIVEN: A pending payment seeded in the store
	// WHEN: Paying it twice through the API
	// THEN: First call returns the movement, second returns 409

	server, s := newTestServer(t)
	ctx := context.Background()

	account, err := ledger.NewAccount("caja", "Caja", ledger.AccountCashARS, decimal.Zero, "agency-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SaveAccount(ctx, account); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := payments.Payment{
		ID:          "pay-1",
		OperationID: "op-1",
		PayerType:   payments.PayerCustomer,
		Direction:   payments.DirectionInbound,
		Method:      payments.MethodTransfer,
		Amount:      ledger.MustDecimal("350000"),
		Currency:    ledger.ARS,
		DateDue:     time.Now().UTC(),
		Status:      payments.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.SavePayment(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp := doJSON(t, http.MethodPost, server.URL+"/api/payments/pay-1/pay", MarkPaidRequest{
		AccountID: "caja", Actor: "maria",
	})
	expectStatus(t, resp, http.StatusOK)
	var paid MarkPaidResponse
	decodeBody(t, resp, &paid)
	if paid.MovementID == "" {
		t.Error("expected a movement id in the settlement response")
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/api/payments/pay-1/pay", MarkPaidRequest{
		AccountID: "caja", Actor: "maria",
	})
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

func TestMarkPaymentPaid_MissingAccountID_Rejected(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/payments/pay-1/pay", MarkPaidRequest{})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestMarkPaymentPaid_NoRateForUSD_Unprocessable(t *testing.T) {
	// A USD settlement with no recorded rate cannot compute the ARS
	// equivalent and must come back as 422, leaving the payment pending.

	server, s := newTestServer(t)
	ctx := context.Background()

	account, _ := ledger.NewAccount("banco-usd", "Banco USD", ledger.AccountCheckingUSD, decimal.Zero, "agency-1")
	s.SaveAccount(ctx, account)
	s.SavePayment(ctx, payments.Payment{
		ID:          "pay-usd",
		OperationID: "op-1",
		PayerType:   payments.PayerCustomer,
		Direction:   payments.DirectionInbound,
		Method:      payments.MethodTransfer,
		Amount:      ledger.MustDecimal("2400"),
		Currency:    ledger.USD,
		DateDue:     time.Now().UTC(),
		Status:      payments.StatusPending,
		CreatedAt:   time.Now().UTC(),
	})

	resp := doJSON(t, http.MethodPost, server.URL+"/api/payments/pay-usd/pay", MarkPaidRequest{
		AccountID: "banco-usd", Actor: "maria",
	})
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	resp.Body.Close()

	stored, err := s.Payment(ctx, "pay-usd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status != payments.StatusPending {
		t.Errorf("expected payment to stay PENDING, got %s", stored.Status)
	}
}

// =============================================================================
// FX
// =============================================================================

func TestFxEndpoints_SaveAndResolveWithFallback(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/fx", SaveRateRequest{
		Date: "2025-06-06", Rate: "1200",
	})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	// Exact date.
	resp = doJSON(t, http.MethodGet, server.URL+"/api/fx/2025-06-06", nil)
	expectStatus(t, resp, http.StatusOK)
	var rate RateDTO
	decodeBody(t, resp, &rate)
	if rate.Rate != "1200" {
		t.Errorf("expected rate 1200, got %s", rate.Rate)
	}

	// Weekend falls back to the latest prior rate.
	resp = doJSON(t, http.MethodGet, server.URL+"/api/fx/2025-06-08", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &rate)
	if rate.Rate != "1200" {
		t.Errorf("expected fallback to 1200, got %s", rate.Rate)
	}

	// Nothing recorded on or before the requested date.
	resp = doJSON(t, http.MethodGet, server.URL+"/api/fx/2025-06-01", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestSaveRate_NonPositive_Rejected(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/fx", SaveRateRequest{
		Date: "2025-06-06", Rate: "0",
	})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

// =============================================================================
// POSITION
// =============================================================================

func TestGetPosition_CompilesAndVerifies(t *testing.T) {
	// GIVEN: A recorded ARS income in June at rate 1000
	// WHEN: Requesting June's position
	// THEN: The identity holds and the reference rate is reported

	server, s := newTestServer(t)
	ctx := context.Background()

	s.SaveRate(ctx, time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC), ledger.MustDecimal("1000"))
	account, _ := ledger.NewAccount("caja", "Caja", ledger.AccountCashARS, decimal.Zero, "agency-1")
	s.SaveAccount(ctx, account)
	s.Append(ctx, ledger.Movement{
		ID:                  "mv-1",
		AccountID:           "caja",
		Type:                ledger.MovementIncome,
		Currency:            ledger.ARS,
		AmountOriginal:      ledger.MustDecimal("1000000"),
		AmountARSEquivalent: ledger.MustDecimal("1000000"),
		Concept:             "Venta",
		CreatedBy:           "maria",
		CreatedAt:           time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC),
	})

	resp := doJSON(t, http.MethodGet, server.URL+"/api/position/2025/6", nil)
	expectStatus(t, resp, http.StatusOK)
	var pos PositionDTO
	decodeBody(t, resp, &pos)

	if pos.ReferenceRate != "1000" {
		t.Errorf("expected reference rate 1000, got %s", pos.ReferenceRate)
	}
	if pos.Activo.Total != "1000" {
		t.Errorf("expected activo 1000, got %s", pos.Activo.Total)
	}
	if !pos.VerificacionContable {
		t.Error("expected the accounting identity to hold")
	}
}

func TestGetPosition_RateOverride_DoesNotTouchStoredRates(t *testing.T) {
	server, s := newTestServer(t)
	ctx := context.Background()

	s.SaveRate(ctx, time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC), ledger.MustDecimal("1000"))
	account, _ := ledger.NewAccount("caja", "Caja", ledger.AccountCashARS, decimal.Zero, "agency-1")
	s.SaveAccount(ctx, account)
	s.Append(ctx, ledger.Movement{
		ID:                  "mv-1",
		AccountID:           "caja",
		Type:                ledger.MovementIncome,
		Currency:            ledger.ARS,
		AmountOriginal:      ledger.MustDecimal("1000000"),
		AmountARSEquivalent: ledger.MustDecimal("1000000"),
		Concept:             "Venta",
		CreatedBy:           "maria",
		CreatedAt:           time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC),
	})

	resp := doJSON(t, http.MethodGet, server.URL+"/api/position/2025/6?rate=2000", nil)
	expectStatus(t, resp, http.StatusOK)
	var pos PositionDTO
	decodeBody(t, resp, &pos)
	if pos.Activo.Total != "500" {
		t.Errorf("expected activo 500 at override rate 2000, got %s", pos.Activo.Total)
	}

	// Stored rates are untouched by the what-if view.
	stored, ok, err := s.RateOn(ctx, time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || !stored.Equal(ledger.MustDecimal("1000")) {
		t.Errorf("expected stored rate 1000, got %v (found=%t)", stored, ok)
	}
}

func TestGetPosition_InvalidMonth_Rejected(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/position/2025/13", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

// =============================================================================
// DEBT AND RECONCILIATION
// =============================================================================

func TestGetOperationDebt(t *testing.T) {
	server, s := newTestServer(t)
	ctx := context.Background()

	op := payments.Operation{
		ID:                   "op-1",
		FileCode:             "FILE-001",
		SaleAmountTotal:      ledger.MustDecimal("4800"),
		SaleCurrency:         ledger.USD,
		OperatorCost:         ledger.MustDecimal("3600"),
		OperatorCostCurrency: ledger.USD,
		OperatorID:           "operator-caribe",
		AgencyID:             "agency-1",
		CreatedAt:            time.Now().UTC(),
	}
	if err := s.SaveOperation(ctx, op); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp := doJSON(t, http.MethodGet, server.URL+"/api/operations/op-1/debt", nil)
	expectStatus(t, resp, http.StatusOK)
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["receivable_debt"] != "4800" {
		t.Errorf("expected receivable 4800, got %s", body["receivable_debt"])
	}
	if body["payable_debt"] != "3600" {
		t.Errorf("expected payable 3600, got %s", body["payable_debt"])
	}
}

func TestListOperationMovements(t *testing.T) {
	server, s := newTestServer(t)
	ctx := context.Background()

	op := payments.Operation{
		ID:              "op-1",
		FileCode:        "FILE-001",
		SaleAmountTotal: ledger.MustDecimal("500000"),
		SaleCurrency:    ledger.ARS,
		AgencyID:        "agency-1",
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.SaveOperation(ctx, op); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	account, err := ledger.NewAccount("caja", "Caja", ledger.AccountCashARS, ledger.MustDecimal("0"), "agency-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SaveAccount(ctx, account); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, amount := range []string{"200000", "300000"} {
		m := ledger.Movement{
			ID:                  ledger.MovementID(fmt.Sprintf("mv-%d", i+1)),
			AccountID:           account.ID,
			OperationID:         "op-1",
			Type:                ledger.MovementIncome,
			Currency:            ledger.ARS,
			AmountOriginal:      ledger.MustDecimal(amount),
			AmountARSEquivalent: ledger.MustDecimal(amount),
			Concept:             "Cobro cuota",
			CreatedBy:           "maria",
			CreatedAt:           time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := s.Append(ctx, m); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	resp := doJSON(t, http.MethodGet, server.URL+"/api/operations/op-1/movements", nil)
	expectStatus(t, resp, http.StatusOK)
	var body []MovementDTO
	decodeBody(t, resp, &body)
	if len(body) != 2 {
		t.Fatalf("expected 2 movements, got %d", len(body))
	}
	if body[0].ID != "mv-1" || body[1].ID != "mv-2" {
		t.Errorf("expected mv-1 then mv-2, got %s / %s", body[0].ID, body[1].ID)
	}

	resp = doJSON(t, http.MethodGet, server.URL+"/api/operations/op-missing/movements", nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestRunReconciliation_CleanStore(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/reconciliation/run", nil)
	expectStatus(t, resp, http.StatusOK)
	var report ReconciliationReportDTO
	decodeBody(t, resp, &report)
	if !report.Clean {
		t.Error("expected a clean report on an empty store")
	}
}
