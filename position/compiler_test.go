package position_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/altiplano/finance-engine/ledger"
	"github.com/altiplano/finance-engine/ledger/store"
	"github.com/altiplano/finance-engine/payments"
	"github.com/altiplano/finance-engine/position"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testClock = time.Date(2025, time.June, 10, 15, 0, 0, 0, time.UTC)

func newCompiler(s *store.Memory, capitalUSD string) *position.Compiler {
	return &position.Compiler{
		Store:   s,
		FX:      &ledger.Resolver{Rates: s},
		Capital: ledger.MustDecimal(capitalUSD),
	}
}

func newSettlement(s *store.Memory) *payments.SettlementService {
	return &payments.SettlementService{
		Store: s,
		FX:    &ledger.Resolver{Rates: s},
		Now:   func() time.Time { return testClock },
	}
}

func saveAccount(t *testing.T, s *store.Memory, id ledger.AccountID, typ ledger.AccountType) ledger.FinancialAccount {
	t.Helper()
	account, err := ledger.NewAccount(id, string(id), typ, ledger.MustDecimal("0"), "agency-1")
	if err != nil {
		t.Fatalf("failed to build account: %v", err)
	}
	if err := s.SaveAccount(context.Background(), account); err != nil {
		t.Fatalf("failed to save account: %v", err)
	}
	return account
}

func equal(t *testing.T, name, want string, got decimal.Decimal) {
	t.Helper()
	if !got.Equal(ledger.MustDecimal(want)) {
		t.Errorf("%s: expected %s, got %s", name, want, got.String())
	}
}

// =============================================================================
// ACCOUNTING IDENTITY
// =============================================================================

func TestCompile_FullySettledMonth_IdentityHolds(t *testing.T) {
	// GIVEN: A 1000000 ARS sale fully collected in June at rate 1000
	// WHEN: Compiling June's position
	// THEN: Activo = Pasivo + PN and the verification flag is true

	ctx := context.Background()
	s := store.NewMemory()
	s.SaveRate(ctx, testClock, ledger.MustDecimal("1000"))
	account := saveAccount(t, s, "caja", ledger.AccountCashARS)

	op := payments.Operation{
		ID:              "op-1",
		SaleAmountTotal: ledger.MustDecimal("1000000"),
		SaleCurrency:    ledger.ARS,
		AgencyID:        "agency-1",
		Customers:       []payments.Customer{{ID: "c1", Name: "Pérez"}},
		CreatedAt:       testClock.AddDate(0, 0, -5),
	}
	if err := s.SaveOperation(ctx, op); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := payments.Payment{
		ID:          "pay-1",
		OperationID: "op-1",
		PayerType:   payments.PayerCustomer,
		Direction:   payments.DirectionInbound,
		Method:      payments.MethodTransfer,
		Amount:      ledger.MustDecimal("1000000"),
		Currency:    ledger.ARS,
		DateDue:     testClock,
		Status:      payments.StatusPending,
		CreatedAt:   testClock.AddDate(0, 0, -5),
	}
	if err := s.SavePayment(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := newSettlement(s).MarkPaymentPaid(ctx, "pay-1", account.ID, "maria"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := newCompiler(s, "0")
	pos, err := c.Compile(ctx, ledger.MonthPeriod(2025, time.June), "agency-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pos.DataIncomplete {
		t.Fatalf("expected complete data, notes: %v", pos.Notes)
	}
	equal(t, "caja ARS", "1000000", pos.Activo.CajaYBancos.SaldoARS)
	equal(t, "caja total USD", "1000", pos.Activo.CajaYBancos.TotalUSD)
	equal(t, "cuentas por cobrar", "0", pos.Activo.CuentasPorCobrar.TotalUSD)
	equal(t, "activo", "1000", pos.Activo.Total)
	equal(t, "pasivo", "0", pos.Pasivo.Total)
	equal(t, "ingresos", "1000", pos.ResultadoDelMes.IngresosTotal)
	equal(t, "resultado", "1000", pos.ResultadoDelMes.Resultado)
	equal(t, "margen bruto", "100", pos.ResultadoDelMes.MargenBrutoPct)
	equal(t, "patrimonio neto", "1000", pos.PatrimonioNeto.Total)
	if !pos.VerificacionContable {
		t.Error("expected the accounting identity to hold")
	}
}

func TestCompile_OutstandingReceivable_FlagsIdentity(t *testing.T) {
	// An uncollected sale shows up as CxC with no matching equity leg,
	// so the verification flag must flip to false.

	ctx := context.Background()
	s := store.NewMemory()
	s.SaveRate(ctx, testClock, ledger.MustDecimal("1000"))
	saveAccount(t, s, "caja", ledger.AccountCashARS)

	op := payments.Operation{
		ID:              "op-1",
		SaleAmountTotal: ledger.MustDecimal("1000000"),
		SaleCurrency:    ledger.ARS,
		AgencyID:        "agency-1",
		Customers:       []payments.Customer{{ID: "c1", Name: "Pérez"}},
		CreatedAt:       testClock.AddDate(0, 0, -5),
	}
	if err := s.SaveOperation(ctx, op); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := newCompiler(s, "0")
	pos, err := c.Compile(ctx, ledger.MonthPeriod(2025, time.June), "agency-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	equal(t, "cuentas por cobrar", "1000", pos.Activo.CuentasPorCobrar.TotalUSD)
	if pos.Activo.CuentasPorCobrar.Deudores != 1 {
		t.Errorf("expected 1 debtor, got %d", pos.Activo.CuentasPorCobrar.Deudores)
	}
	equal(t, "resultado", "0", pos.ResultadoDelMes.Resultado)
	if pos.VerificacionContable {
		t.Error("expected the identity check to fail with an open receivable")
	}
}

// =============================================================================
// RESULTADO DEL MES
// =============================================================================

func TestCompile_ResultadoSplitsIncomeAndCosts(t *testing.T) {
	// GIVEN: A USD sale of 4800 collected and its 3600 operator cost paid
	// WHEN: Compiling the month
	// THEN: Ingresos 4800, costos 3600, resultado 1200, margen 25%

	ctx := context.Background()
	s := store.NewMemory()
	s.SaveRate(ctx, testClock, ledger.MustDecimal("1000"))
	account := saveAccount(t, s, "banco-usd", ledger.AccountCheckingUSD)

	op := payments.Operation{
		ID:                   "op-1",
		SaleAmountTotal:      ledger.MustDecimal("4800"),
		SaleCurrency:         ledger.USD,
		OperatorCost:         ledger.MustDecimal("3600"),
		OperatorCostCurrency: ledger.USD,
		OperatorID:           "operator-caribe",
		AgencyID:             "agency-1",
		Customers:            []payments.Customer{{ID: "c1", Name: "Pérez"}},
		CreatedAt:            testClock.AddDate(0, 0, -5),
	}
	if err := s.SaveOperation(ctx, op); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := payments.Payment{
		ID:          "pay-1",
		OperationID: "op-1",
		PayerType:   payments.PayerCustomer,
		Direction:   payments.DirectionInbound,
		Method:      payments.MethodTransfer,
		Amount:      ledger.MustDecimal("4800"),
		Currency:    ledger.USD,
		DateDue:     testClock,
		Status:      payments.StatusPending,
		CreatedAt:   testClock.AddDate(0, 0, -5),
	}
	if err := s.SavePayment(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	opPay := payments.OperatorPayment{
		ID:          "oppay-1",
		OperatorID:  "operator-caribe",
		OperationID: "op-1",
		Amount:      ledger.MustDecimal("3600"),
		Currency:    ledger.USD,
		DateDue:     testClock,
		Status:      payments.StatusPending,
		CreatedAt:   testClock.AddDate(0, 0, -5),
	}
	if err := s.SaveOperatorPayment(ctx, opPay); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	svc := newSettlement(s)
	if _, err := svc.MarkPaymentPaid(ctx, "pay-1", account.ID, "maria"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.MarkOperatorPaymentPaid(ctx, "oppay-1", account.ID, "maria"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := newCompiler(s, "0")
	pos, err := c.Compile(ctx, ledger.MonthPeriod(2025, time.June), "agency-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	equal(t, "ingresos USD", "4800", pos.ResultadoDelMes.IngresosUSD)
	equal(t, "costos USD", "3600", pos.ResultadoDelMes.CostosUSD)
	equal(t, "resultado", "1200", pos.ResultadoDelMes.Resultado)
	equal(t, "margen bruto", "25", pos.ResultadoDelMes.MargenBrutoPct)
	equal(t, "caja USD", "1200", pos.Activo.CajaYBancos.SaldoUSD)
	equal(t, "cuentas por pagar", "0", pos.Pasivo.CuentasPorPagar.TotalUSD)
	if !pos.VerificacionContable {
		t.Error("expected the accounting identity to hold")
	}
}

func TestCompile_PriorMonthMovements_AccumulateNotCurrent(t *testing.T) {
	// Movements before the period feed resultados acumulados, never the
	// current month's income statement.

	ctx := context.Background()
	s := store.NewMemory()
	s.SaveRate(ctx, testClock, ledger.MustDecimal("1000"))
	account := saveAccount(t, s, "caja", ledger.AccountCashARS)

	may := ledger.Movement{
		ID:                  "mv-may",
		AccountID:           account.ID,
		Type:                ledger.MovementIncome,
		Currency:            ledger.ARS,
		AmountOriginal:      ledger.MustDecimal("500000"),
		AmountARSEquivalent: ledger.MustDecimal("500000"),
		Concept:             "Venta mayo",
		CreatedBy:           "maria",
		CreatedAt:           time.Date(2025, time.May, 20, 12, 0, 0, 0, time.UTC),
	}
	if err := s.Append(ctx, may); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := newCompiler(s, "0")
	pos, err := c.Compile(ctx, ledger.MonthPeriod(2025, time.June), "agency-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	equal(t, "ingresos", "0", pos.ResultadoDelMes.IngresosTotal)
	equal(t, "resultados acumulados", "500", pos.PatrimonioNeto.ResultadosAcumulados)
	equal(t, "caja total USD", "500", pos.Activo.CajaYBancos.TotalUSD)
	if !pos.VerificacionContable {
		t.Error("expected the accounting identity to hold")
	}
}

// =============================================================================
// DEGRADATION
// =============================================================================

func TestCompile_NoRatesRecorded_MarksDataIncomplete(t *testing.T) {
	// With no reference rate the report still compiles but the ARS legs
	// are excluded from USD totals and the flag is raised.

	ctx := context.Background()
	s := store.NewMemory()
	account := saveAccount(t, s, "caja", ledger.AccountCashARS)

	june := ledger.Movement{
		ID:                  "mv-june",
		AccountID:           account.ID,
		Type:                ledger.MovementIncome,
		Currency:            ledger.ARS,
		AmountOriginal:      ledger.MustDecimal("300000"),
		AmountARSEquivalent: ledger.MustDecimal("300000"),
		Concept:             "Venta",
		CreatedBy:           "maria",
		CreatedAt:           testClock,
	}
	if err := s.Append(ctx, june); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := newCompiler(s, "0")
	pos, err := c.Compile(ctx, ledger.MonthPeriod(2025, time.June), "agency-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !pos.DataIncomplete {
		t.Fatal("expected the report to be flagged incomplete")
	}
	if !pos.ReferenceRate.IsZero() {
		t.Errorf("expected zero reference rate, got %v", pos.ReferenceRate)
	}
	equal(t, "caja ARS", "300000", pos.Activo.CajaYBancos.SaldoARS)
	equal(t, "caja total USD", "0", pos.Activo.CajaYBancos.TotalUSD)
	if len(pos.Notes) == 0 {
		t.Error("expected a note explaining the missing rate")
	}
}

func TestCompile_Capital_ContributesToPatrimonioNeto(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	s.SaveRate(ctx, testClock, ledger.MustDecimal("1000"))
	saveAccount(t, s, "caja", ledger.AccountCashARS)

	c := newCompiler(s, "50000")
	pos, err := c.Compile(ctx, ledger.MonthPeriod(2025, time.June), "agency-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	equal(t, "capital", "50000", pos.PatrimonioNeto.Capital)
	equal(t, "patrimonio neto", "50000", pos.PatrimonioNeto.Total)
	if pos.VerificacionContable {
		t.Error("expected the identity check to fail when capital has no asset backing")
	}
}
